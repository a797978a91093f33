package ipfs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/quickbuyer/quickbuyer-backend/pkg/config"
	"github.com/quickbuyer/quickbuyer-backend/pkg/logger"
)

const (
	defaultUploadTimeout = 10 * time.Minute
	defaultGateway       = "https://ipfs.io/ipfs"
	formField            = "file"
	maxErrorBody         = 4 << 10
)

var ErrNoFiles = errors.New("no files to upload")

// File is one part of a pinning request. Reader is consumed exactly once.
type File struct {
	Name        string
	ContentType string
	Size        int64
	Reader      io.Reader
}

type PinnedFile struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

// Result describes a completed pin. URL points at the configured gateway.
type Result struct {
	CID   string       `json:"cid"`
	URL   string       `json:"url"`
	Files []PinnedFile `json:"files"`
}

// Client relays multipart uploads to a pinning endpoint without buffering them.
type Client struct {
	httpClient *http.Client
	uploadURL  string
	gatewayURL string
	token      string
	logg       *logger.Logger
}

func NewClient(cfg config.IPFSConfig, logg *logger.Logger) (*Client, error) {
	uploadURL := strings.TrimSpace(cfg.UploadURL)
	if uploadURL == "" {
		return nil, errors.New("ipfs upload url is required")
	}
	timeout := cfg.UploadTimeout
	if timeout <= 0 {
		timeout = defaultUploadTimeout
	}
	gateway := strings.TrimRight(strings.TrimSpace(cfg.GatewayURL), "/")
	if gateway == "" {
		gateway = defaultGateway
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		uploadURL:  uploadURL,
		gatewayURL: gateway,
		token:      strings.TrimSpace(cfg.Token),
		logg:       logg,
	}, nil
}

func (c *Client) GatewayURL(cid string) string {
	return c.gatewayURL + "/" + cid
}

// Pin streams files to the pinning endpoint and returns the root CID.
func (c *Client) Pin(ctx context.Context, files []File) (*Result, error) {
	if c == nil {
		return nil, errors.New("ipfs client not initialized")
	}
	if len(files) == 0 {
		return nil, ErrNoFiles
	}

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)

	go func() {
		pw.CloseWithError(writeParts(form, files))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.uploadURL, pr)
	if err != nil {
		_ = pr.CloseWithError(err)
		return nil, err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		_ = pr.CloseWithError(err)
		return nil, fmt.Errorf("ipfs upload: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if len(b) > 0 {
			return nil, fmt.Errorf("ipfs upload failed: %s: %s", resp.Status, strings.TrimSpace(string(b)))
		}
		return nil, fmt.Errorf("ipfs upload failed: %s", resp.Status)
	}

	cid, err := decodeCID(resp.Body)
	if err != nil {
		return nil, err
	}

	result := &Result{CID: cid, URL: c.GatewayURL(cid)}
	for _, f := range files {
		result.Files = append(result.Files, PinnedFile{Name: f.Name, Size: f.Size})
	}

	if c.logg != nil {
		logCtx := c.logg.WithFields(ctx, map[string]any{
			"cid":         cid,
			"files":       len(files),
			"duration_ms": time.Since(start).Milliseconds(),
		})
		c.logg.Info(logCtx, "ipfs.pin.complete")
	}
	return result, nil
}

func writeParts(form *multipart.Writer, files []File) error {
	for _, f := range files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, formField, f.Name))
		contentType := f.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		header.Set("Content-Type", contentType)

		part, err := form.CreatePart(header)
		if err != nil {
			return err
		}
		if _, err := io.Copy(part, f.Reader); err != nil {
			return fmt.Errorf("copy %s: %w", f.Name, err)
		}
	}
	return form.Close()
}

// decodeCID accepts a single JSON object or a newline-delimited stream (one object per
// added file plus the wrapping directory last). The last CID wins.
func decodeCID(body io.Reader) (string, error) {
	dec := json.NewDecoder(body)
	var cid string
	for {
		var entry struct {
			CID      string `json:"cid"`
			IpfsHash string `json:"IpfsHash"`
			Hash     string `json:"Hash"`
			Value    *struct {
				CID string `json:"cid"`
			} `json:"value"`
		}
		err := dec.Decode(&entry)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("decode ipfs response: %w", err)
		}
		switch {
		case entry.CID != "":
			cid = entry.CID
		case entry.IpfsHash != "":
			cid = entry.IpfsHash
		case entry.Hash != "":
			cid = entry.Hash
		case entry.Value != nil && entry.Value.CID != "":
			cid = entry.Value.CID
		}
	}
	if cid == "" {
		return "", errors.New("ipfs response missing cid")
	}
	return cid, nil
}
