package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/quickbuyer/quickbuyer-backend/pkg/config"
	"github.com/quickbuyer/quickbuyer-backend/pkg/logger"
)

const metadataCheckTimeout = 10 * time.Second

var (
	errProjectIDRequired    = errors.New("gcp project id is required")
	errDatasetRequired      = errors.New("bigquery dataset is required")
	errTableNameRequired    = errors.New("bigquery table name is required")
	errClientNotInitialized = errors.New("bigquery client not initialized")
	// ErrUnknownTable is returned for inserts into a table the worker was not configured with.
	ErrUnknownTable = errors.New("bigquery table not configured")
)

// Tables names the analytics tables in the dataset. Purchases and Downloads
// are optional copies of the marketplace stream.
type Tables struct {
	Marketplace string
	Purchases   string
	Downloads   string
}

// TablesFromConfig trims the configured names.
func TablesFromConfig(cfg config.BigQueryConfig) Tables {
	return Tables{
		Marketplace: strings.TrimSpace(cfg.MarketplaceEventsTable),
		Purchases:   strings.TrimSpace(cfg.PurchasesTable),
		Downloads:   strings.TrimSpace(cfg.DownloadsTable),
	}
}

// Names lists the configured tables once each, marketplace first.
func (t Tables) Names() []string {
	names := []string{}
	seen := map[string]bool{}
	for _, name := range []string{t.Marketplace, t.Purchases, t.Downloads} {
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}
	return names
}

// Client streams marketplace analytics rows into one dataset.
type Client struct {
	client  *bigquery.Client
	dataset *bigquery.Dataset
	tables  Tables

	mu        sync.Mutex
	inserters map[string]*bigquery.Inserter
}

// NewClient creates a BigQuery client and verifies the dataset and every configured table.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.BigQueryConfig, logg *logger.Logger) (*Client, error) {
	projectID := strings.TrimSpace(gcp.ProjectID)
	if projectID == "" {
		return nil, errProjectIDRequired
	}
	datasetID := strings.TrimSpace(cfg.Dataset)
	if datasetID == "" {
		return nil, errDatasetRequired
	}
	tables := TablesFromConfig(cfg)
	if tables.Marketplace == "" {
		return nil, errTableNameRequired
	}

	bqClient, err := bigquery.NewClient(ctx, projectID, clientOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("creating bigquery client: %w", err)
	}

	client := &Client{
		client:    bqClient,
		dataset:   bqClient.Dataset(datasetID),
		tables:    tables,
		inserters: make(map[string]*bigquery.Inserter),
	}
	if err := client.ensureDatasetAndTables(ctx); err != nil {
		_ = bqClient.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(logg.WithFields(ctx, map[string]any{
			"dataset": datasetID,
			"tables":  tables.Names(),
		}), "bigquery client initialized")
	}
	return client, nil
}

func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	var opts []option.ClientOption
	switch {
	case strings.TrimSpace(gcp.CredentialsJSON) != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(gcp.CredentialsJSON)))
	case strings.TrimSpace(gcp.ApplicationCredentials) != "":
		opts = append(opts, option.WithCredentialsFile(gcp.ApplicationCredentials))
	}
	return opts
}

func (c *Client) ensureDatasetAndTables(ctx context.Context) error {
	if c == nil || c.dataset == nil {
		return errClientNotInitialized
	}

	ctx, cancel := context.WithTimeout(ctx, metadataCheckTimeout)
	defer cancel()

	if _, err := c.dataset.Metadata(ctx); err != nil {
		if isNotFound(err) {
			return fmt.Errorf("dataset %q does not exist", c.dataset.DatasetID)
		}
		return fmt.Errorf("checking dataset %q: %w", c.dataset.DatasetID, err)
	}
	for _, name := range c.tables.Names() {
		if _, err := c.dataset.Table(name).Metadata(ctx); err != nil {
			if isNotFound(err) {
				return fmt.Errorf("table %q does not exist", name)
			}
			return fmt.Errorf("checking table %q: %w", name, err)
		}
	}
	return nil
}

// Ping verifies the dataset and tables are still reachable.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil {
		return errClientNotInitialized
	}
	return c.ensureDatasetAndTables(ctx)
}

// Tables returns the configured table names.
func (c *Client) Tables() Tables {
	if c == nil {
		return Tables{}
	}
	return c.tables
}

// InsertRows streams rows into table. Rows may be structs or bigquery.ValueSaver
// values carrying an insert ID.
func (c *Client) InsertRows(ctx context.Context, table string, rows []any) error {
	if c == nil || c.client == nil {
		return errClientNotInitialized
	}
	inserter, err := c.inserter(table)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}
	return inserter.Put(ctx, rows)
}

func (c *Client) inserter(table string) (*bigquery.Inserter, error) {
	name := strings.TrimSpace(table)
	if name == "" {
		return nil, errTableNameRequired
	}
	if !c.tables.has(name) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, name)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if ins, ok := c.inserters[name]; ok {
		return ins, nil
	}
	if c.inserters == nil {
		c.inserters = make(map[string]*bigquery.Inserter)
	}
	ins := c.dataset.Table(name).Inserter()
	c.inserters[name] = ins
	return ins, nil
}

func (t Tables) has(name string) bool {
	for _, candidate := range t.Names() {
		if candidate == name {
			return true
		}
	}
	return false
}

// Close releases the BigQuery client.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Close()
}

func isNotFound(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr != nil {
		return apiErr.Code == http.StatusNotFound
	}
	return false
}

// IsRetryable reports whether a streaming insert is worth repeating. Row
// rejections are retryable only when every row failed for a transient reason;
// a schema mismatch fails the same way every time.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, ErrUnknownTable) {
		return false
	}

	var multi bigquery.MultiError
	if errors.As(err, &multi) {
		return allRetryable(multi)
	}
	var rows bigquery.PutMultiError
	if errors.As(err, &rows) {
		if len(rows) == 0 {
			return false
		}
		for _, rowErr := range rows {
			if !allRetryable(rowErr.Errors) {
				return false
			}
		}
		return true
	}

	var rowReason *bigquery.Error
	if errors.As(err, &rowReason) && rowReason != nil {
		return retryableReason(rowReason.Reason)
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr != nil {
		return retryableHTTPCode(apiErr.Code)
	}
	if st, ok := status.FromError(err); ok && st.Code() != codes.Unknown {
		return retryableGRPCCode(st.Code())
	}
	// deadlines and transport failures (resets, DNS) carry no status
	return true
}

func allRetryable(errs bigquery.MultiError) bool {
	if len(errs) == 0 {
		return false
	}
	for _, inner := range errs {
		if !IsRetryable(inner) {
			return false
		}
	}
	return true
}

// retryableReason covers the per-row reasons BigQuery reports. "stopped" marks
// rows that were valid but skipped because a sibling row failed.
func retryableReason(reason string) bool {
	switch reason {
	case "backendError", "internalError", "rateLimitExceeded", "timeout", "stopped":
		return true
	default:
		return false
	}
}

func retryableHTTPCode(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusRequestTimeout,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

func retryableGRPCCode(code codes.Code) bool {
	switch code {
	case codes.Aborted,
		codes.DeadlineExceeded,
		codes.Internal,
		codes.ResourceExhausted,
		codes.Unavailable:
		return true
	default:
		return false
	}
}
