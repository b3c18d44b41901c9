package archive

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Ark-Ntech/Tiger-ID-sub004/internal/realtime"
)

// Writer persists notification records to the notifications table. It
// implements realtime.NotificationSink: Notify enqueues without blocking the
// transport read path, and a background goroutine batches rows to Postgres.
type Writer struct {
	cfg    WriterConfig
	logger *slog.Logger

	// Input from the realtime message router
	input chan realtime.Notification

	// Database
	db *pgxpool.Pool

	// Batching
	batch       []notificationRow
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	metrics WriterMetrics
}

// WriterConfig configures the notification archive writer.
type WriterConfig struct {
	BatchSize     int           // rows per insert batch
	FlushInterval time.Duration // max time a row waits in the batch
	BufferSize    int           // Notify queue depth
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     100,
		FlushInterval: 1 * time.Second,
		BufferSize:    1000,
	}
}

// WriterMetrics holds runtime counters.
type WriterMetrics struct {
	Inserts   int64
	Conflicts int64
	Flushes   int64
	Dropped   int64
	Errors    int64
}

// notificationRow is the database representation of a notification record.
type notificationRow struct {
	ID         string
	ReceivedAt int64 // microseconds since epoch
	Payload    []byte
}

// NewWriter creates a notification archive writer.
func NewWriter(cfg WriterConfig, db *pgxpool.Pool, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		cfg:    cfg,
		db:     db,
		logger: logger,
		input:  make(chan realtime.Notification, cfg.BufferSize),
		batch:  make([]notificationRow, 0, cfg.BatchSize),
	}
}

// Notify enqueues a notification for archival. When the queue is full the
// record is dropped: the archive is best-effort and must never stall the
// realtime channel.
func (w *Writer) Notify(n realtime.Notification) {
	select {
	case w.input <- n:
	default:
		w.batchMu.Lock()
		w.metrics.Dropped++
		w.batchMu.Unlock()
		w.logger.Warn("archive queue full, dropping notification", "id", n.ID)
	}
}

// Start begins consuming notifications and writing to the database.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	// Consumer goroutine
	w.wg.Add(1)
	go w.consumeLoop()

	// Flush ticker goroutine
	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("notification archive started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop gracefully shuts down the writer.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping notification archive")

	if w.cancel != nil {
		w.cancel()
	}

	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	// Wait for goroutines
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("notification archive stopped")
	case <-ctx.Done():
		w.logger.Warn("notification archive stop timed out")
	}

	// Final flush. The internal context is already cancelled, so drain what
	// is still queued and write under the caller's context.
	w.drainQueue()
	w.flush(ctx)

	return nil
}

// drainQueue moves queued notifications into the current batch without
// flushing.
func (w *Writer) drainQueue() {
	for {
		select {
		case n := <-w.input:
			row := w.transform(n)
			w.batchMu.Lock()
			w.batch = append(w.batch, row)
			w.batchMu.Unlock()
		default:
			return
		}
	}
}

// Stats returns current metrics.
func (w *Writer) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

// consumeLoop reads from the input queue and accumulates batches.
func (w *Writer) consumeLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case n := <-w.input:
			w.handleNotification(n)
		}
	}
}

// flushLoop periodically flushes the batch.
func (w *Writer) flushLoop() {
	defer w.wg.Done()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-w.flushTicker.C:
			w.flush(w.ctx)
		}
	}
}

// handleNotification transforms and adds a record to the batch.
func (w *Writer) handleNotification(n realtime.Notification) {
	row := w.transform(n)

	w.batchMu.Lock()
	w.batch = append(w.batch, row)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush(w.ctx)
	}
}

// transform converts a Notification to a notificationRow.
func (w *Writer) transform(n realtime.Notification) notificationRow {
	return notificationRow{
		ID:         n.ID,
		ReceivedAt: n.ReceivedAt.UnixMicro(),
		Payload:    n.Data,
	}
}

// flush writes the current batch to the database.
func (w *Writer) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]notificationRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(ctx, batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed notifications",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows using pgx.Batch with ON CONFLICT DO NOTHING.
func (w *Writer) batchInsert(ctx context.Context, rows []notificationRow) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO notifications (id, received_at, payload)
			VALUES ($1, $2, $3)
			ON CONFLICT (id) DO NOTHING
		`, r.ID, r.ReceivedAt, r.Payload)
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
