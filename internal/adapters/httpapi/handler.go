// Package httpapi exposes the custody ledger over HTTP. Writes go through the
// single-writer command processor; reads go straight to the service.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"custodyledger/internal/adapters/exports"
	"custodyledger/internal/core"
	"custodyledger/pkg/domain"
)

// ExportScheduler queues custody exports and reports their status.
type ExportScheduler interface {
	Enqueue(ctx context.Context, in exports.Input) (exports.Record, error)
	Get(id string) (exports.Record, bool)
}

// Handler serves the ledger API.
type Handler struct {
	svc       *core.Service
	proc      *core.Processor
	exports   ExportScheduler
	logger    *slog.Logger
	requests  RequestObserver
	metrics   http.Handler
	maxBodyKB int64
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger used for access logs and failed requests.
func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithRequestObserver reports every request to obs.
func WithRequestObserver(obs RequestObserver) Option { return func(h *Handler) { h.requests = obs } }

// WithMetricsHandler mounts m at /metrics.
func WithMetricsHandler(m http.Handler) Option { return func(h *Handler) { h.metrics = m } }

// WithExports enables the export endpoints.
func WithExports(s ExportScheduler) Option { return func(h *Handler) { h.exports = s } }

// New builds a handler. svc serves reads; proc executes every mutation.
func New(svc *core.Service, proc *core.Processor, opts ...Option) *Handler {
	h := &Handler{svc: svc, proc: proc, logger: slog.Default(), maxBodyKB: 64}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the complete router.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID, callerIdentity, accessLog(h.logger, h.requests))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if h.metrics != nil {
		r.Method(http.MethodGet, "/metrics", h.metrics)
	}
	r.Route("/v1", h.Register)
	return r
}

// Register mounts the versioned API on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/products", func(r chi.Router) {
		r.Post("/", h.createProduct)
		r.Get("/", h.listProducts)
		r.Get("/count", h.productCount)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.getProduct)
			r.Patch("/", h.updateDetails)
			r.Get("/history", h.productHistory)
			r.Get("/transactions", h.productTransactions)
			for _, action := range core.Actions() {
				r.Post("/"+string(action), h.transition(action))
			}
			r.Post("/exports", h.enqueueExport)
		})
	})
	r.Get("/stages/{status}", h.stage)
	r.Get("/users/{identity}/products", h.userProducts)
	r.Get("/roles", h.getRoles)
	r.Put("/roles", h.setAddresses)
	r.Put("/roles/owner", h.transferOwnership)
	r.Get("/roles/{role}/{identity}", h.hasRole)
	r.Get("/exports/{id}", h.getExport)
}

type detailsRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
}

func (d detailsRequest) details() domain.Details {
	return domain.Details{Name: d.Name, Description: d.Description, Price: d.Price}
}

type addressesRequest struct {
	Manufacturer string `json:"manufacturer"`
	Distributor  string `json:"distributor"`
	Retailer     string `json:"retailer"`
}

type ownerRequest struct {
	Owner string `json:"owner"`
}

type exportRequest struct {
	Formats []exports.Format `json:"formats"`
}

type idsResponse struct {
	IDs []uint64 `json:"ids"`
}

func (h *Handler) createProduct(w http.ResponseWriter, r *http.Request) {
	var req detailsRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	p, err := core.Do[domain.Product](r.Context(), h.proc, core.CreateProductCommand{
		Caller:  Caller(r.Context()),
		Details: req.details(),
	})
	if err != nil {
		h.fail(w, r, "create product", err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *Handler) updateDetails(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(w, r)
	if !ok {
		return
	}
	var req detailsRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	p, err := core.Do[domain.Product](r.Context(), h.proc, core.UpdateDetailsCommand{
		Caller:    Caller(r.Context()),
		ProductID: id,
		Details:   req.details(),
	})
	if err != nil {
		h.fail(w, r, "update product details", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) transition(action core.Action) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := productID(w, r)
		if !ok {
			return
		}
		p, err := core.Do[domain.Product](r.Context(), h.proc, core.TransitionCommand{
			Caller:    Caller(r.Context()),
			Action:    action,
			ProductID: id,
		})
		if err != nil {
			h.fail(w, r, string(action), err)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

// listProducts serves ?status= and ?from=&to= lookups.
func (h *Handler) listProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var (
		ids []uint64
		err error
	)
	switch {
	case q.Has("status"):
		var status domain.ProductStatus
		status, err = domain.ParseStatus(q.Get("status"))
		if err == nil {
			ids, err = h.svc.GetProductsByStatus(r.Context(), status)
		}
	case q.Has("from") || q.Has("to"):
		var from, to time.Time
		from, err = parseInstant("from", q.Get("from"))
		if err == nil {
			to, err = parseInstant("to", q.Get("to"))
		}
		if err == nil {
			ids, err = h.svc.GetProductsByDateRange(r.Context(), from, to)
		}
	default:
		err = fmt.Errorf("%w: status or from/to query required", domain.ErrInvalidArgument)
	}
	if err != nil {
		h.fail(w, r, "list products", err)
		return
	}
	writeJSON(w, http.StatusOK, idsResponse{IDs: ids})
}

func (h *Handler) productCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.GetProductCount(r.Context())
	if err != nil {
		h.fail(w, r, "product count", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"count": n})
}

func (h *Handler) getProduct(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(w, r)
	if !ok {
		return
	}
	p, err := h.svc.GetProduct(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get product", err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) productHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(w, r)
	if !ok {
		return
	}
	hist, err := h.svc.GetProductHistory(r.Context(), id)
	if err != nil {
		h.fail(w, r, "product history", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]domain.History{"history": hist})
}

func (h *Handler) productTransactions(w http.ResponseWriter, r *http.Request) {
	id, ok := productID(w, r)
	if !ok {
		return
	}
	txs, err := h.svc.GetProductTransactions(r.Context(), id)
	if err != nil {
		h.fail(w, r, "product transactions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]domain.Transaction{"transactions": txs})
}

// stage lists the products in one status bucket. The retailer bucket hides
// products with a pending return.
func (h *Handler) stage(w http.ResponseWriter, r *http.Request) {
	status, err := domain.ParseStatus(chi.URLParam(r, "status"))
	if err != nil {
		h.fail(w, r, "stage", err)
		return
	}
	var products []domain.Product
	if status == domain.StatusReceivedByRetailer {
		products, err = h.svc.GetProductsReceivedByRetailer(r.Context())
	} else {
		products, err = h.svc.GetProductsInStage(r.Context(), status)
	}
	if err != nil {
		h.fail(w, r, "stage", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]domain.Product{"products": products})
}

func (h *Handler) userProducts(w http.ResponseWriter, r *http.Request) {
	ids, err := h.svc.GetUserProducts(r.Context(), domain.NormalizeIdentity(chi.URLParam(r, "identity")))
	if err != nil {
		h.fail(w, r, "user products", err)
		return
	}
	writeJSON(w, http.StatusOK, idsResponse{IDs: ids})
}

func (h *Handler) getRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.svc.Roles(r.Context())
	if err != nil {
		h.fail(w, r, "roles", err)
		return
	}
	writeJSON(w, http.StatusOK, roles)
}

type roleMembership struct {
	Role     domain.Role     `json:"role"`
	Identity domain.Identity `json:"identity"`
	Holds    bool            `json:"holds"`
}

func (h *Handler) hasRole(w http.ResponseWriter, r *http.Request) {
	role, err := domain.ParseRole(chi.URLParam(r, "role"))
	if err != nil {
		h.fail(w, r, "has role", err)
		return
	}
	identity := domain.NormalizeIdentity(chi.URLParam(r, "identity"))
	holds, err := h.svc.HasRole(r.Context(), identity, role)
	if err != nil {
		h.fail(w, r, "has role", err)
		return
	}
	writeJSON(w, http.StatusOK, roleMembership{Role: role, Identity: identity, Holds: holds})
}

func (h *Handler) setAddresses(w http.ResponseWriter, r *http.Request) {
	var req addressesRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	roles, err := core.Do[domain.Roles](r.Context(), h.proc, core.SetAddressesCommand{
		Caller:       Caller(r.Context()),
		Manufacturer: domain.NormalizeIdentity(req.Manufacturer),
		Distributor:  domain.NormalizeIdentity(req.Distributor),
		Retailer:     domain.NormalizeIdentity(req.Retailer),
	})
	if err != nil {
		h.fail(w, r, "set addresses", err)
		return
	}
	writeJSON(w, http.StatusOK, roles)
}

func (h *Handler) transferOwnership(w http.ResponseWriter, r *http.Request) {
	var req ownerRequest
	if !h.decode(w, r, &req, false) {
		return
	}
	roles, err := core.Do[domain.Roles](r.Context(), h.proc, core.TransferOwnershipCommand{
		Caller:   Caller(r.Context()),
		NewOwner: domain.NormalizeIdentity(req.Owner),
	})
	if err != nil {
		h.fail(w, r, "transfer ownership", err)
		return
	}
	writeJSON(w, http.StatusOK, roles)
}

func (h *Handler) enqueueExport(w http.ResponseWriter, r *http.Request) {
	if h.exports == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "exports are disabled", Code: "not_found"})
		return
	}
	id, ok := productID(w, r)
	if !ok {
		return
	}
	var req exportRequest
	if !h.decode(w, r, &req, true) {
		return
	}
	rec, err := h.exports.Enqueue(r.Context(), exports.Input{
		ProductID:   id,
		Formats:     req.Formats,
		RequestedBy: Caller(r.Context()),
		RequestID:   RequestID(r.Context()),
	})
	if err != nil {
		h.fail(w, r, "enqueue export", err)
		return
	}
	w.Header().Set("Location", "/v1/exports/"+rec.ID)
	writeJSON(w, http.StatusAccepted, rec)
}

func (h *Handler) getExport(w http.ResponseWriter, r *http.Request) {
	if h.exports == nil {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "exports are disabled", Code: "not_found"})
		return
	}
	rec, ok := h.exports.Get(chi.URLParam(r, "id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "export not found", Code: "not_found"})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// decode reads a JSON body into dst. An empty body is accepted only when
// optional is set.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any, optional bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, h.maxBodyKB<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		writeError(w, fmt.Errorf("%w: decode body: %v", domain.ErrInvalidArgument, err))
		return false
	}
	return true
}

// fail logs rejected and failed operations and writes the error response.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	status, _ := statusFor(err)
	attrs := []any{"request_id", RequestID(r.Context()), "operation", op, "error", err}
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed", attrs...)
	} else {
		h.logger.InfoContext(r.Context(), "request rejected", attrs...)
	}
	writeError(w, err)
}

func productID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	raw := chi.URLParam(r, "id")
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		writeError(w, fmt.Errorf("%w: product id %q", domain.ErrInvalidArgument, raw))
		return 0, false
	}
	return id, true
}

// parseInstant accepts unix seconds or RFC 3339.
func parseInstant(name, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, fmt.Errorf("%w: %s is required", domain.ErrInvalidArgument, name)
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s must be unix seconds or RFC 3339", domain.ErrInvalidArgument, name)
	}
	return t, nil
}
