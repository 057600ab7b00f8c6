package converter

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
	"unicode/utf8"

	"github.com/docflow/docflow-backend/internal/wizard/domain"
	"github.com/docflow/docflow-backend/pkg/logger"
)

const maxResponseSize = 32 << 20 // 32MB

// HTTPConverter calls a remote conversion endpoint
type HTTPConverter struct {
	name   string
	url    string
	client *http.Client
	log    *logger.Logger
}

// NewHTTPConverter creates a converter for the endpoint at url.
// timeout bounds every call.
func NewHTTPConverter(name, url string, timeout time.Duration, log *logger.Logger) *HTTPConverter {
	return &HTTPConverter{
		name:   name,
		url:    url,
		client: &http.Client{Timeout: timeout},
		log:    log,
	}
}

func (c *HTTPConverter) Name() string { return c.name }

// CanConvert accepts every document type; the endpoint handles images too
func (c *HTTPConverter) CanConvert(_ domain.DocumentType) bool { return c.url != "" }

func (c *HTTPConverter) Convert(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("%s: failed to marshal request: %w", c.name, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%s: failed to create request: %w", c.name, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("%s: request failed: %w", c.name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("%s: failed to read response: %w", c.name, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("%s: conversion service returned %d: %s", c.name, resp.StatusCode, truncate(string(respBody), 200))
	}

	c.log.Debug().
		Str("endpoint", c.url).
		Str("file_name", req.FileName).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("conversion response received")

	return DecodeResponse(respBody, req.FileName), nil
}

type convertResponse struct {
	Status string `json:"status"`
	Files  []struct {
		Data string `json:"data"`
	} `json:"files"`
	Message string `json:"message"`
}

// DecodeResponse extracts the Markdown from a successful response body.
// A body without a usable file yields a labelled placeholder. File data
// that is not valid base64 UTF-8 is returned verbatim.
func DecodeResponse(body []byte, fileName string) string {
	var resp convertResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return Placeholder(fileName, "the conversion service returned an unreadable response")
	}

	if resp.Status != "success" || len(resp.Files) == 0 || resp.Files[0].Data == "" {
		detail := "the conversion service returned no file"
		if resp.Message != "" {
			detail = resp.Message
		}
		return Placeholder(fileName, detail)
	}

	data := resp.Files[0].Data
	decoded, err := base64.StdEncoding.DecodeString(data)
	if err != nil || !utf8.Valid(decoded) {
		return data
	}
	return string(decoded)
}

// PlaceholderHeading starts every placeholder result
const PlaceholderHeading = "# Conversion unavailable"

// Placeholder returns the fallback Markdown stored when the service
// answered without content
func Placeholder(fileName, detail string) string {
	return fmt.Sprintf("%s\n\nNo Markdown could be produced for `%s`: %s.\n", PlaceholderHeading, fileName, detail)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
