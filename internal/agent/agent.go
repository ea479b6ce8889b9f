// Package agent talks to the external conversion agent that renders HL7
// messages as XML, JSON and PDF.
package agent

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

	"github.com/minasoft/hl7-liteboard/internal/db"
)

// ErrFormatUnavailable covers every per-format failure: non-200 replies,
// timeouts, transport errors and empty payloads.
var ErrFormatUnavailable = errors.New("dönüşüm formatı alınamadı")

// Default configuration values.
const (
	DefaultEndpoint = "http://localhost:3001"
	DefaultTimeout  = 300 * time.Second
	DefaultName     = "mastra"
)

// Result carries the payload of one successful conversion. Exactly one of
// the fields is set, matching the requested format.
type Result struct {
	XML  *string
	JSON json.RawMessage
	PDF  []byte
}

// Converter produces one derived format per call. Calls for different
// formats are independent and may run concurrently.
type Converter interface {
	Name() string
	Convert(ctx context.Context, format db.Format, raw string) (Result, error)
	Health(ctx context.Context) error
}

// Config holds configuration for the HTTP agent client.
type Config struct {
	// Endpoint is the agent base URL.
	Endpoint string

	// Timeout is the fixed budget for a single conversion call.
	Timeout time.Duration
}

var _ Converter = (*Client)(nil)

// Client calls the agent's HTTP API.
type Client struct {
	http     *http.Client
	endpoint string
	timeout  time.Duration
}

type structuredRequest struct {
	HL7Content    string   `json:"hl7_content"`
	OutputFormats []string `json:"output_formats"`
}

type structuredResponse struct {
	XML  *string         `json:"xml"`
	JSON json.RawMessage `json:"json"`
}

type pdfRequest struct {
	HL7Content string `json:"hl7_content"`
	Format     string `json:"format"`
}

func NewClient(cfg Config) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Client{
		http:     &http.Client{},
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		timeout:  cfg.Timeout,
	}
}

func (c *Client) Name() string { return DefaultName }

func (c *Client) Convert(ctx context.Context, format db.Format, raw string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	switch format {
	case db.FormatXML, db.FormatJSON:
		return c.structured(ctx, format, raw)
	case db.FormatPDF:
		return c.pdf(ctx, raw)
	default:
		return Result{}, fmt.Errorf("%w: bilinmeyen format %q", ErrFormatUnavailable, format)
	}
}

func (c *Client) structured(ctx context.Context, format db.Format, raw string) (Result, error) {
	body, err := c.post(ctx, "/agents/hl7-to-structured", structuredRequest{
		HL7Content:    raw,
		OutputFormats: []string{string(format)},
	})
	if err != nil {
		return Result{}, err
	}

	var resp structuredResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Result{}, fmt.Errorf("%w: yanıt çözümlenemedi: %v", ErrFormatUnavailable, err)
	}

	switch format {
	case db.FormatXML:
		if resp.XML == nil || strings.TrimSpace(*resp.XML) == "" {
			return Result{}, fmt.Errorf("%w: yanıtta xml yok", ErrFormatUnavailable)
		}
		return Result{XML: resp.XML}, nil
	default:
		trimmed := bytes.TrimSpace(resp.JSON)
		if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
			return Result{}, fmt.Errorf("%w: yanıtta json yok", ErrFormatUnavailable)
		}
		return Result{JSON: json.RawMessage(trimmed)}, nil
	}
}

func (c *Client) pdf(ctx context.Context, raw string) (Result, error) {
	body, err := c.post(ctx, "/agents/hl7-to-pdf", pdfRequest{HL7Content: raw, Format: "latex"})
	if err != nil {
		return Result{}, err
	}
	if len(body) == 0 {
		return Result{}, fmt.Errorf("%w: boş pdf yanıtı", ErrFormatUnavailable)
	}
	return Result{PDF: body}, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("istek oluşturulamadı: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+path, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("istek oluşturulamadı: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFormatUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: yanıt okunamadı: %v", ErrFormatUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrFormatUnavailable, resp.StatusCode, truncate(string(body), 200))
	}
	return body, nil
}

// Health checks the agent's /health endpoint.
func (c *Client) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("agent sağlık kontrolü başarısız: HTTP %d", resp.StatusCode)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
