package exports

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custodyledger/internal/blob"
	"custodyledger/internal/core"
	"custodyledger/pkg/domain"
)

const (
	manufacturer domain.Identity = "0x00000000000000000000000000000000000000b1"
	distributor  domain.Identity = "0x00000000000000000000000000000000000000c2"
)

var t0 = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

type stubSource struct {
	records map[uint64]core.CustodyRecord
}

func (s stubSource) GetCustodyRecord(_ context.Context, id uint64) (core.CustodyRecord, error) {
	rec, ok := s.records[id]
	if !ok {
		return core.CustodyRecord{}, fmt.Errorf("product %d: %w", id, domain.ErrUnknownProduct)
	}
	return rec, nil
}

func sentProduct() core.CustodyRecord {
	p := domain.Product{
		ID:          4,
		Name:        "Pallet",
		Price:       decimal.NewFromInt(12),
		Status:      domain.StatusReceivedByDistributor,
		CreatedAt:   t0,
		Description: "crate, wooden",
	}
	p.Stamp(domain.StatusSentByManufacturer, t0.Add(time.Hour))
	p.Stamp(domain.StatusReceivedByDistributor, t0.Add(2*time.Hour))
	return core.CustodyRecord{
		Product: p,
		History: p.History(),
		Transactions: []domain.Transaction{
			{ProductID: 4, Type: domain.LabelProductCreated, Performer: manufacturer, Timestamp: t0},
			{ProductID: 4, Type: domain.LabelSentByManufacturer, Performer: manufacturer, Timestamp: t0.Add(time.Hour)},
			{ProductID: 4, Type: domain.LabelReceivedByDistributor, Performer: distributor, Timestamp: t0.Add(2 * time.Hour)},
		},
	}
}

type statusCounter struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *statusCounter) ObserveExport(status string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[status]++
}

func (c *statusCounter) get(status Status) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[string(status)]
}

func startWorker(t *testing.T, src Source, store blob.Store, opts ...Option) *Worker {
	t.Helper()
	w := NewWorker(src, store, opts...)
	w.Start()
	t.Cleanup(func() { _ = w.Stop(context.Background()) })
	return w
}

func waitDone(t *testing.T, w *Worker, id string) Record {
	t.Helper()
	var rec Record
	require.Eventually(t, func() bool {
		var ok bool
		rec, ok = w.Get(id)
		return ok && (rec.Status == StatusSucceeded || rec.Status == StatusFailed)
	}, 2*time.Second, 5*time.Millisecond)
	return rec
}

func readObject(t *testing.T, store blob.Store, key string) string {
	t.Helper()
	_, rc, err := store.Get(context.Background(), key)
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(b)
}

func TestExportWritesJSONAndCSV(t *testing.T) {
	store, err := blob.Open(context.Background(), blob.Options{Driver: blob.DriverMemory})
	require.NoError(t, err)
	obs := &statusCounter{}
	w := startWorker(t, stubSource{records: map[uint64]core.CustodyRecord{4: sentProduct()}}, store,
		WithObserver(obs), WithPrefix("reports"), WithClock(func() time.Time { return t0 }))

	queued, err := w.Enqueue(context.Background(), Input{ProductID: 4, RequestedBy: manufacturer})
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, queued.Status)
	assert.Equal(t, []Format{FormatJSON, FormatCSV}, queued.Formats)

	done := waitDone(t, w, queued.ID)
	require.Equal(t, StatusSucceeded, done.Status, done.Error)
	require.Len(t, done.Artifacts, 2)
	require.NotNil(t, done.CompletedAt)

	jsonKey := "reports/4/" + queued.ID + ".json"
	csvKey := "reports/4/" + queued.ID + ".csv"
	assert.Equal(t, jsonKey, done.Artifacts[0].Key)
	assert.Equal(t, csvKey, done.Artifacts[1].Key)
	assert.Equal(t, "text/csv", done.Artifacts[1].ContentType)
	assert.True(t, strings.HasPrefix(done.Artifacts[0].URL, "memory://"))

	var doc struct {
		Product      domain.Product       `json:"product"`
		History      map[string]time.Time `json:"history"`
		Transactions []domain.Transaction `json:"transactions"`
	}
	require.NoError(t, json.Unmarshal([]byte(readObject(t, store, jsonKey)), &doc))
	assert.Equal(t, uint64(4), doc.Product.ID)
	assert.Equal(t, domain.StatusReceivedByDistributor, doc.Product.Status)
	assert.Len(t, doc.History, 3, "unreached stages are omitted")
	assert.Equal(t, t0.Add(time.Hour), doc.History["sent_by_manufacturer"].UTC())
	assert.Len(t, doc.Transactions, 3)

	rows, err := csv.NewReader(strings.NewReader(readObject(t, store, csvKey))).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 4)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, []string{"3", "4", "Received by Distributor", string(distributor), "2024-06-01T10:00:00Z"}, rows[3])

	obj, err := store.Head(context.Background(), csvKey)
	require.NoError(t, err)
	assert.Equal(t, queued.ID, obj.Metadata["export_id"])
	assert.Equal(t, "received_by_distributor", obj.Metadata["status"])

	assert.Equal(t, 1, obs.get(StatusQueued))
	assert.Equal(t, 1, obs.get(StatusRunning))
	assert.Equal(t, 1, obs.get(StatusSucceeded))
}

func TestEnqueueValidation(t *testing.T) {
	store, err := blob.Open(context.Background(), blob.Options{Driver: blob.DriverMemory})
	require.NoError(t, err)
	w := NewWorker(stubSource{records: map[uint64]core.CustodyRecord{4: sentProduct()}}, store)

	_, err = w.Enqueue(context.Background(), Input{ProductID: 9})
	assert.ErrorIs(t, err, domain.ErrUnknownProduct)

	_, err = w.Enqueue(context.Background(), Input{ProductID: 4, Formats: []Format{"xlsx"}})
	assert.ErrorIs(t, err, domain.ErrInvalidArgument)

	rec, err := w.Enqueue(context.Background(), Input{ProductID: 4, Formats: []Format{FormatCSV, FormatCSV}})
	require.NoError(t, err)
	assert.Equal(t, []Format{FormatCSV}, rec.Formats)
}

func TestQueueFullAndStop(t *testing.T) {
	store, err := blob.Open(context.Background(), blob.Options{Driver: blob.DriverMemory})
	require.NoError(t, err)
	w := NewWorker(stubSource{records: map[uint64]core.CustodyRecord{4: sentProduct()}}, store, WithQueueSize(1))
	ctx := context.Background()

	first, err := w.Enqueue(ctx, Input{ProductID: 4})
	require.NoError(t, err)
	_, err = w.Enqueue(ctx, Input{ProductID: 4})
	assert.ErrorIs(t, err, ErrQueueFull)

	require.NoError(t, w.Stop(ctx))
	rec, ok := w.Get(first.ID)
	require.True(t, ok)
	assert.Equal(t, StatusFailed, rec.Status)
	assert.Contains(t, rec.Error, "stopped")

	_, err = w.Enqueue(ctx, Input{ProductID: 4})
	assert.ErrorIs(t, err, ErrStopped)

	list, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, list)
}

type rejectingStore struct{ blob.Store }

func (rejectingStore) Put(context.Context, string, io.Reader, blob.PutOptions) (blob.Object, error) {
	return blob.Object{}, errors.New("bucket is read-only")
}

func TestStoreFailureMarksJobFailed(t *testing.T) {
	mem, err := blob.Open(context.Background(), blob.Options{Driver: blob.DriverMemory})
	require.NoError(t, err)
	obs := &statusCounter{}
	w := startWorker(t, stubSource{records: map[uint64]core.CustodyRecord{4: sentProduct()}}, rejectingStore{mem}, WithObserver(obs))

	rec, err := w.Enqueue(context.Background(), Input{ProductID: 4, Formats: []Format{FormatJSON}})
	require.NoError(t, err)
	done := waitDone(t, w, rec.ID)
	assert.Equal(t, StatusFailed, done.Status)
	assert.Contains(t, done.Error, "read-only")
	assert.Empty(t, done.Artifacts)
	assert.Equal(t, 1, obs.get(StatusFailed))
}

func TestGetUnknownExport(t *testing.T) {
	w := NewWorker(stubSource{}, nil)
	_, ok := w.Get("nope")
	assert.False(t, ok)
}

type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Split(strings.TrimSpace(b.buf.String()), "\n")
}

func TestExportLogsCarryRequestID(t *testing.T) {
	store, err := blob.Open(context.Background(), blob.Options{Driver: blob.DriverMemory})
	require.NoError(t, err)
	logs := &lockedBuffer{}
	w := startWorker(t, stubSource{records: map[uint64]core.CustodyRecord{4: sentProduct()}}, store,
		WithLogger(slog.New(slog.NewJSONHandler(logs, nil))))

	rec, err := w.Enqueue(context.Background(), Input{ProductID: 4, Formats: []Format{FormatJSON}, RequestID: "req-7"})
	require.NoError(t, err)
	assert.Equal(t, "req-7", rec.RequestID)
	done := waitDone(t, w, rec.ID)
	require.Equal(t, StatusSucceeded, done.Status)

	var messages []string
	require.Eventually(t, func() bool {
		messages = messages[:0]
		for _, line := range logs.lines() {
			var entry map[string]any
			if json.Unmarshal([]byte(line), &entry) != nil {
				continue
			}
			if entry["export_id"] == rec.ID && entry["request_id"] == "req-7" {
				messages = append(messages, entry["msg"].(string))
			}
		}
		return len(messages) == 2
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"export queued", "export succeeded"}, messages)
}
