package writer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	cbigquery "cloud.google.com/go/bigquery"

	"github.com/quickbuyer/quickbuyer-backend/internal/analytics/types"
	pkgbigquery "github.com/quickbuyer/quickbuyer-backend/pkg/bigquery"
	"github.com/quickbuyer/quickbuyer-backend/pkg/enums"
)

const (
	defaultBatchSize      = 1
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 250 * time.Millisecond
	defaultMaximumBackoff = 2 * time.Second
)

// Config controls where rows land and how inserts are retried.
type Config struct {
	Tables      pkgbigquery.Tables
	BatchSize   int
	RetryPolicy RetryPolicy
}

// RetryPolicy controls how many times BigQuery inserts are retried.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaximumBackoff time.Duration
}

// TableInserter is the streaming insert surface of pkg/bigquery.Client.
type TableInserter interface {
	InsertRows(ctx context.Context, table string, rows []any) error
}

// BigQueryWriter buffers marketplace rows per table and streams them with the
// event ID as insert ID, so a redelivered Pub/Sub message does not double count
// revenue or downloads. Safe for concurrent use.
type BigQueryWriter struct {
	client    TableInserter
	tables    pkgbigquery.Tables
	batchSize int
	retry     RetryPolicy

	mu      sync.Mutex
	pending map[string][]types.MarketplaceEventRow
	queued  map[string]map[string]struct{}
}

// New builds a writer on top of the shared BigQuery client.
func New(client TableInserter, cfg Config) (*BigQueryWriter, error) {
	if client == nil {
		return nil, errors.New("bigquery client required")
	}
	if cfg.Tables.Marketplace == "" {
		return nil, errors.New("marketplace table is required")
	}

	retry := cfg.RetryPolicy
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = defaultMaxAttempts
	}
	if retry.InitialBackoff <= 0 {
		retry.InitialBackoff = defaultInitialBackoff
	}
	if retry.MaximumBackoff <= 0 {
		retry.MaximumBackoff = defaultMaximumBackoff
	}
	retry.MaximumBackoff = max(retry.MaximumBackoff, retry.InitialBackoff)

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	return &BigQueryWriter{
		client:    client,
		tables:    cfg.Tables,
		batchSize: batchSize,
		retry:     retry,
		pending:   make(map[string][]types.MarketplaceEventRow),
		queued:    make(map[string]map[string]struct{}),
	}, nil
}

// Insert queues row for every table it belongs to and flushes the tables that
// reached the batch size.
func (w *BigQueryWriter) Insert(ctx context.Context, row types.MarketplaceEventRow) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var errs []error
	for _, table := range w.tablesFor(row) {
		if !w.enqueue(table, row) {
			continue
		}
		if len(w.pending[table]) >= w.batchSize {
			errs = append(errs, w.flushTable(ctx, table))
		}
	}
	return errors.Join(errs...)
}

// Flush writes every buffered row immediately.
func (w *BigQueryWriter) Flush(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var errs []error
	for _, table := range w.tables.Names() {
		errs = append(errs, w.flushTable(ctx, table))
	}
	return errors.Join(errs...)
}

// Pending reports how many rows are buffered for table.
func (w *BigQueryWriter) Pending(table string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending[table])
}

// tablesFor lists the marketplace table plus the fact table for purchase and
// download rows when one is configured.
func (w *BigQueryWriter) tablesFor(row types.MarketplaceEventRow) []string {
	tables := []string{w.tables.Marketplace}
	var fact string
	switch enums.OutboxEventType(row.EventType) {
	case enums.EventPurchaseCompleted:
		fact = w.tables.Purchases
	case enums.EventDownloadRecorded:
		fact = w.tables.Downloads
	}
	if fact != "" && fact != w.tables.Marketplace {
		tables = append(tables, fact)
	}
	return tables
}

// enqueue drops a row whose event is already waiting for the same table.
func (w *BigQueryWriter) enqueue(table string, row types.MarketplaceEventRow) bool {
	ids, ok := w.queued[table]
	if !ok {
		ids = make(map[string]struct{})
		w.queued[table] = ids
	}
	if row.EventID != "" {
		if _, dup := ids[row.EventID]; dup {
			return false
		}
		ids[row.EventID] = struct{}{}
	}
	w.pending[table] = append(w.pending[table], row)
	return true
}

func (w *BigQueryWriter) flushTable(ctx context.Context, table string) error {
	buffered := w.pending[table]
	if len(buffered) == 0 {
		return nil
	}
	rows := make([]any, len(buffered))
	for i := range buffered {
		rows[i] = &cbigquery.StructSaver{Struct: &buffered[i], InsertID: buffered[i].EventID}
	}

	if err := w.insertWithRetry(ctx, table, rows); err != nil {
		return err
	}
	w.pending[table] = buffered[:0]
	delete(w.queued, table)
	return nil
}

func (w *BigQueryWriter) insertWithRetry(ctx context.Context, table string, rows []any) error {
	backoff := w.retry.InitialBackoff
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := w.client.InsertRows(ctx, table, rows)
		if err == nil {
			return nil
		}
		if attempt >= w.retry.MaxAttempts || !pkgbigquery.IsRetryable(err) {
			return fmt.Errorf("insert %d rows into %s: %w", len(rows), table, err)
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		backoff = min(backoff*2, w.retry.MaximumBackoff)
	}
}
