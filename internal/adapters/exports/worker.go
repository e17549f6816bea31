// Package exports renders custody reports for single products and stores
// them as JSON and CSV objects in blob storage. Jobs run asynchronously on
// one worker goroutine; their status is kept in memory.
package exports

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"custodyledger/internal/blob"
	"custodyledger/internal/core"
	"custodyledger/pkg/domain"
)

// Status is the lifecycle stage of an export job.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// Format is an artifact encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// ErrQueueFull is returned when the worker cannot accept another job.
var ErrQueueFull = errors.New("export queue full")

// ErrStopped is returned by Enqueue after Stop.
var ErrStopped = errors.New("export worker stopped")

// Artifact is one stored rendering of a custody report.
type Artifact struct {
	Key         string    `json:"key"`
	Format      Format    `json:"format"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	URL         string    `json:"url,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Record tracks one export job.
type Record struct {
	ID          string          `json:"id"`
	ProductID   uint64          `json:"product_id"`
	Formats     []Format        `json:"formats"`
	Status      Status          `json:"status"`
	Error       string          `json:"error,omitempty"`
	Artifacts   []Artifact      `json:"artifacts,omitempty"`
	RequestedBy domain.Identity `json:"requested_by,omitempty"`
	RequestID   string          `json:"request_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

func (r Record) clone() Record {
	dup := r
	dup.Formats = append([]Format(nil), r.Formats...)
	if len(r.Artifacts) > 0 {
		dup.Artifacts = append([]Artifact(nil), r.Artifacts...)
	}
	return dup
}

// Input is an export request.
type Input struct {
	ProductID   uint64
	Formats     []Format
	RequestedBy domain.Identity
	// RequestID correlates the job's log records with the request that
	// scheduled it.
	RequestID string
}

// Source reads the custody record of a product.
type Source interface {
	GetCustodyRecord(ctx context.Context, id uint64) (core.CustodyRecord, error)
}

// Observer receives job status changes.
type Observer interface {
	ObserveExport(status string)
}

// Option configures a Worker.
type Option func(*Worker)

// WithQueueSize bounds the number of jobs waiting to run.
func WithQueueSize(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.queueSize = n
		}
	}
}

// WithPrefix sets the key prefix; objects land at <prefix>/<product>/<id>.<format>.
func WithPrefix(prefix string) Option {
	return func(w *Worker) {
		if prefix != "" {
			w.prefix = prefix
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Worker) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithObserver reports every job status change to o.
func WithObserver(o Observer) Option { return func(w *Worker) { w.observer = o } }

// WithClock overrides the job timestamp source.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) {
		if now != nil {
			w.nowFn = now
		}
	}
}

// WithURLTTL sets the lifetime of artifact download links.
func WithURLTTL(ttl time.Duration) Option { return func(w *Worker) { w.urlTTL = ttl } }

// Worker executes custody exports one at a time.
type Worker struct {
	source    Source
	store     blob.Store
	logger    *slog.Logger
	observer  Observer
	nowFn     func() time.Time
	prefix    string
	queueSize int
	urlTTL    time.Duration

	queue chan string

	mu      sync.RWMutex
	jobs    map[string]*Record
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWorker constructs a worker reading from source and writing to store.
func NewWorker(source Source, store blob.Store, opts ...Option) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	w := &Worker{
		source:    source,
		store:     store,
		logger:    slog.Default(),
		nowFn:     func() time.Time { return time.Now().UTC() },
		prefix:    "custody",
		queueSize: 16,
		jobs:      make(map[string]*Record),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.queue = make(chan string, w.queueSize)
	return w
}

// Start launches the processing goroutine.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.loop()
}

// Stop halts the worker. Jobs still queued are marked failed.
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	w.stopped = true
	w.mu.Unlock()
	w.cancel()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	for {
		select {
		case id := <-w.queue:
			w.finish(id, nil, errors.New("worker stopped before the job ran"))
		default:
			return nil
		}
	}
}

func (w *Worker) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.ctx.Done():
			return
		case id := <-w.queue:
			w.process(id)
		}
	}
}

// Enqueue validates in, checks the product exists and schedules the job.
func (w *Worker) Enqueue(ctx context.Context, in Input) (Record, error) {
	formats, err := normalizeFormats(in.Formats)
	if err != nil {
		return Record{}, err
	}
	if _, err := w.source.GetCustodyRecord(ctx, in.ProductID); err != nil {
		return Record{}, err
	}

	now := w.nowFn()
	rec := &Record{
		ID:          uuid.NewString(),
		ProductID:   in.ProductID,
		Formats:     formats,
		Status:      StatusQueued,
		RequestedBy: in.RequestedBy,
		RequestID:   in.RequestID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return Record{}, ErrStopped
	}
	select {
	case w.queue <- rec.ID:
	default:
		return Record{}, ErrQueueFull
	}
	w.jobs[rec.ID] = rec
	w.observe(StatusQueued)
	w.logger.InfoContext(ctx, "export queued", "request_id", rec.RequestID, "export_id", rec.ID, "product_id", rec.ProductID)
	return rec.clone(), nil
}

// Get returns a snapshot of job id.
func (w *Worker) Get(id string) (Record, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	rec, ok := w.jobs[id]
	if !ok {
		return Record{}, false
	}
	return rec.clone(), true
}

func (w *Worker) process(id string) {
	rec, ok := w.Get(id)
	if !ok {
		return
	}
	w.setRunning(id)

	custody, err := w.source.GetCustodyRecord(w.ctx, rec.ProductID)
	if err != nil {
		w.finish(id, nil, fmt.Errorf("read custody record: %w", err))
		return
	}

	artifacts := make([]Artifact, 0, len(rec.Formats))
	for _, format := range rec.Formats {
		art, err := w.write(rec, format, custody)
		if err != nil {
			w.finish(id, nil, err)
			return
		}
		artifacts = append(artifacts, art)
	}
	w.finish(id, artifacts, nil)
}

func (w *Worker) write(rec Record, format Format, custody core.CustodyRecord) (Artifact, error) {
	payload, contentType, err := render(format, custody)
	if err != nil {
		return Artifact{}, fmt.Errorf("render %s: %w", format, err)
	}
	key := fmt.Sprintf("%s/%d/%s.%s", w.prefix, rec.ProductID, rec.ID, format)
	obj, err := w.store.Put(w.ctx, key, bytes.NewReader(payload), blob.PutOptions{
		ContentType: contentType,
		Metadata: map[string]string{
			"export_id":  rec.ID,
			"product_id": strconv.FormatUint(rec.ProductID, 10),
			"status":     custody.Product.Status.String(),
		},
	})
	if err != nil {
		return Artifact{}, fmt.Errorf("store %s: %w", key, err)
	}
	art := Artifact{
		Key:         obj.Key,
		Format:      format,
		ContentType: contentType,
		SizeBytes:   obj.Size,
		CreatedAt:   w.nowFn(),
	}
	if u, err := w.store.SignedURL(w.ctx, obj.Key, w.urlTTL); err == nil {
		art.URL = u
	} else {
		w.logger.WarnContext(w.ctx, "export link unavailable", "request_id", rec.RequestID, "export_id", rec.ID, "key", obj.Key, "error", err)
	}
	return art, nil
}

func (w *Worker) setRunning(id string) {
	w.mu.Lock()
	if rec, ok := w.jobs[id]; ok {
		rec.Status = StatusRunning
		rec.UpdatedAt = w.nowFn()
	}
	w.mu.Unlock()
	w.observe(StatusRunning)
}

func (w *Worker) finish(id string, artifacts []Artifact, cause error) {
	now := w.nowFn()
	status := StatusSucceeded
	w.mu.Lock()
	rec, ok := w.jobs[id]
	if ok {
		rec.UpdatedAt = now
		rec.CompletedAt = &now
		if cause != nil {
			status = StatusFailed
			rec.Error = cause.Error()
		} else {
			rec.Artifacts = artifacts
		}
		rec.Status = status
	}
	var requestID string
	if ok {
		requestID = rec.RequestID
	}
	w.mu.Unlock()
	if !ok {
		return
	}
	w.observe(status)
	if cause != nil {
		w.logger.ErrorContext(w.ctx, "export failed", "request_id", requestID, "export_id", id, "error", cause)
		return
	}
	w.logger.InfoContext(w.ctx, "export succeeded", "request_id", requestID, "export_id", id, "artifacts", len(artifacts))
}

func (w *Worker) observe(status Status) {
	if w.observer != nil {
		w.observer.ObserveExport(string(status))
	}
}

func normalizeFormats(in []Format) ([]Format, error) {
	if len(in) == 0 {
		return []Format{FormatJSON, FormatCSV}, nil
	}
	out := make([]Format, 0, len(in))
	seen := make(map[Format]struct{}, len(in))
	for _, f := range in {
		if f != FormatJSON && f != FormatCSV {
			return nil, fmt.Errorf("%w: unsupported export format %q", domain.ErrInvalidArgument, f)
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out, nil
}
