package documents

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"
)

// ErrUnsupportedFormat is returned for anything that is not a PDF filing.
var ErrUnsupportedFormat = errors.New("unsupported document format")

// ParseServiceError reports a failed call to the external parsing service:
// unreachable, timed out, or malformed output. Ingestion treats it as
// per-file and skips the offending file.
type ParseServiceError struct {
	File string
	Err  error
}

func (e *ParseServiceError) Error() string {
	return fmt.Sprintf("parse service failed for %s: %v", e.File, e.Err)
}

func (e *ParseServiceError) Unwrap() error { return e.Err }

// Parser converts a raw file into page-level parsed units.
type Parser interface {
	Parse(ctx context.Context, path string) ([]ParsedUnit, error)
}

// ServiceParser parses PDFs through a managed parsing service. The service
// receives the document bytes and returns markdown text per page, so calls
// are slow, non-idempotent network operations and are retried with backoff.
type ServiceParser struct {
	baseURL    string
	apiKey     string
	maxRetries uint
	httpClient *http.Client
	logger     *zap.Logger
}

// ServiceParserConfig configures the parsing service client.
type ServiceParserConfig struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries uint
}

// NewServiceParser creates a parsing service client.
func NewServiceParser(cfg ServiceParserConfig, logger *zap.Logger) *ServiceParser {
	if cfg.Timeout == 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ServiceParser{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		maxRetries: cfg.MaxRetries,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// parsedPage is the wire format of one page returned by the service.
type parsedPage struct {
	Page int    `json:"page"`
	Text string `json:"text"`
	MD   string `json:"md"`
}

type parseResponse struct {
	Pages []parsedPage `json:"pages"`
}

// Parse uploads the file and returns one ParsedUnit per page. Non-PDF input
// fails with ErrUnsupportedFormat before anything is transmitted.
func (p *ServiceParser) Parse(ctx context.Context, path string) ([]ParsedUnit, error) {
	if !strings.EqualFold(filepath.Ext(path), ".pdf") {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(path))
	}

	fileName := filepath.Base(path)
	var pages []parsedPage
	err := retry.Do(
		func() error {
			var err error
			pages, err = p.parseOnce(ctx, path)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(p.maxRetries),
		retry.Delay(500*time.Millisecond),
		retry.MaxDelay(10*time.Second),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			p.logger.Warn("retrying parse service call",
				zap.String("file", fileName),
				zap.Uint("attempt", n+1),
				zap.Error(err))
		}),
	)
	if err != nil {
		return nil, &ParseServiceError{File: fileName, Err: err}
	}

	units := make([]ParsedUnit, 0, len(pages))
	for _, page := range pages {
		text := page.MD
		if text == "" {
			text = page.Text
		}
		units = append(units, ParsedUnit{
			Text:       text,
			PageLabel:  strconv.Itoa(page.Page),
			SourceFile: fileName,
		})
	}
	return units, nil
}

// parseOnce performs a single upload-and-parse round trip.
func (p *ServiceParser) parseOnce(ctx context.Context, path string) ([]parsedPage, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return nil, fmt.Errorf("failed to build upload: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize upload: %w", err)
	}

	url := fmt.Sprintf("%s/parse", p.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to reach parse service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("parse service returned %d: %s", resp.StatusCode, string(msg))
	}

	var parsed parseResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode parse response: %w", err)
	}
	if len(parsed.Pages) == 0 {
		return nil, fmt.Errorf("parse service returned no pages")
	}
	return parsed.Pages, nil
}
