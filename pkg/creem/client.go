package creem

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/quickbuyer/quickbuyer-backend/pkg/config"
	pkgerrors "github.com/quickbuyer/quickbuyer-backend/pkg/errors"
	"github.com/quickbuyer/quickbuyer-backend/pkg/logger"
)

const (
	TestBaseURL = "https://test-api.creem.io"
	LiveBaseURL = "https://api.creem.io"

	testKeyMarker   = "test"
	checkoutsPath   = "/v1/checkouts"
	maxErrorBody    = 64 << 10
	defaultTimeout  = 15 * time.Second
	apiKeyHeader    = "x-api-key"
	contentTypeJSON = "application/json"
)

var errAPIKeyRequired = errors.New("creem api key is required")

// CheckoutRequest is the body of POST /v1/checkouts.
type CheckoutRequest struct {
	ProductID  string         `json:"product_id"`
	RequestID  string         `json:"request_id,omitempty"`
	Units      int            `json:"units,omitempty"`
	SuccessURL string         `json:"success_url,omitempty"`
	Customer   *Customer      `json:"customer,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type Customer struct {
	Email string `json:"email,omitempty"`
}

// CheckoutSession is the subset of the processor's checkout object we rely on.
type CheckoutSession struct {
	ID          string `json:"id"`
	CheckoutURL string `json:"checkout_url"`
	RequestID   string `json:"request_id"`
	Status      string `json:"status"`
}

type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	logg       *logger.Logger
}

// NewClient builds a client whose endpoint is chosen from the key unless the config
// overrides it.
func NewClient(ctx context.Context, cfg config.CreemConfig, logg *logger.Logger) (*Client, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = BaseURLForKey(apiKey)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	client := &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		apiKey:     apiKey,
		logg:       logg,
	}

	if logg != nil {
		logg.Info(logg.WithField(ctx, "base_url", baseURL), fmt.Sprintf("creem client initialized (%s)", client.Mode()))
	}
	return client, nil
}

// BaseURLForKey selects the sandbox API for keys carrying the test marker.
func BaseURLForKey(apiKey string) string {
	if strings.Contains(apiKey, testKeyMarker) {
		return TestBaseURL
	}
	return LiveBaseURL
}

func (c *Client) Mode() string {
	if c == nil || c.baseURL == LiveBaseURL {
		return "live"
	}
	return "test"
}

// CreateCheckout opens a hosted checkout session. Processor failures are translated into
// typed errors the API can show to callers.
func (c *Client) CreateCheckout(ctx context.Context, in CheckoutRequest) (*CheckoutSession, error) {
	if c == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "payment processor not configured")
	}
	if strings.TrimSpace(in.ProductID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "product id is required")
	}

	payload, err := json.Marshal(in)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode checkout request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+checkoutsPath, bytes.NewReader(payload))
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build checkout request")
	}
	req.Header.Set(apiKeyHeader, c.apiKey)
	req.Header.Set("Content-Type", contentTypeJSON)
	req.Header.Set("Accept", contentTypeJSON)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "payment processor unavailable")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if c.logg != nil {
			logCtx := c.logg.WithFields(ctx, map[string]any{
				"status":     resp.StatusCode,
				"product_id": in.ProductID,
				"request_id": in.RequestID,
			})
			c.logg.Warn(logCtx, "creem.checkout.rejected")
		}
		return nil, translateStatus(resp.StatusCode, body)
	}

	var session CheckoutSession
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "invalid response from payment processor")
	}
	if strings.TrimSpace(session.CheckoutURL) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "invalid response from payment processor")
	}
	if session.RequestID == "" {
		session.RequestID = in.RequestID
	}
	return &session, nil
}

func translateStatus(status int, body []byte) error {
	switch status {
	case http.StatusForbidden:
		return pkgerrors.New(pkgerrors.CodeDependency, "payment processor rejected credentials or product")
	case http.StatusNotFound:
		return pkgerrors.New(pkgerrors.CodeNotFound, "product not found")
	case http.StatusBadRequest:
		msg := errorMessage(body)
		if msg == "" {
			msg = "payment processor rejected the request"
		}
		return pkgerrors.New(pkgerrors.CodeValidation, msg)
	default:
		return pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("payment processor error (status %d)", status))
	}
}

// errorMessage reads "message" (string or list of strings) or "error" from an error body.
func errorMessage(body []byte) string {
	var envelope struct {
		Message json.RawMessage `json:"message"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return strings.TrimSpace(string(body))
	}
	if len(envelope.Message) > 0 {
		var single string
		if err := json.Unmarshal(envelope.Message, &single); err == nil && single != "" {
			return single
		}
		var many []string
		if err := json.Unmarshal(envelope.Message, &many); err == nil && len(many) > 0 {
			return strings.Join(many, "; ")
		}
	}
	return strings.TrimSpace(envelope.Error)
}
