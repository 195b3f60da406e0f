package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"skytrack/internal/metrics"
)

// OCRResult is the text extracted from a document.
type OCRResult struct {
	Text  string
	Pages int
}

type OCRClient interface {
	Extract(ctx context.Context, documentURL string) (*OCRResult, error)
}

// OCRStatusError is a non-2xx answer from the OCR backend.
type OCRStatusError struct {
	Status int
	Body   string
}

func (e *OCRStatusError) Error() string {
	return fmt.Sprintf("ocr backend returned %d: %s", e.Status, e.Body)
}

// Permanent reports whether retrying the same request cannot succeed.
func (e *OCRStatusError) Permanent() bool {
	return e.Status >= 400 && e.Status < 500 &&
		e.Status != http.StatusRequestTimeout && e.Status != http.StatusTooManyRequests
}

type mistralOCR struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
}

// NewOCRClient targets the Mistral OCR API. timeout bounds every call.
func NewOCRClient(baseURL, apiKey, model string, timeout time.Duration) (OCRClient, error) {
	if apiKey == "" {
		return nil, ErrOCRNotConfigured
	}
	return &mistralOCR{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		model:   model,
		http:    &http.Client{Timeout: timeout},
	}, nil
}

type ocrRequest struct {
	Model    string      `json:"model"`
	Document ocrDocument `json:"document"`
}

type ocrDocument struct {
	Type        string `json:"type"`
	DocumentURL string `json:"document_url"`
}

type ocrResponse struct {
	Pages []struct {
		Index    int    `json:"index"`
		Markdown string `json:"markdown"`
	} `json:"pages"`
}

func (c *mistralOCR) Extract(ctx context.Context, documentURL string) (*OCRResult, error) {
	start := time.Now()
	res, err := c.extract(ctx, documentURL)
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	metrics.OCRRequests.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	return res, err
}

func (c *mistralOCR) extract(ctx context.Context, documentURL string) (*OCRResult, error) {
	body, err := json.Marshal(ocrRequest{
		Model:    c.model,
		Document: ocrDocument{Type: "document_url", DocumentURL: documentURL},
	})
	if err != nil {
		return nil, fmt.Errorf("encode ocr request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/ocr", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build ocr request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ocr request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, &OCRStatusError{Status: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	var out ocrResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode ocr response: %w", err)
	}
	parts := make([]string, 0, len(out.Pages))
	for _, p := range out.Pages {
		parts = append(parts, p.Markdown)
	}
	return &OCRResult{Text: strings.Join(parts, "\n\n"), Pages: len(out.Pages)}, nil
}
