// Package generator submits converted Markdown to the test-case generation
// service and normalizes its responses to CSV.
package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/docflow/docflow-backend/internal/wizard/domain"
	"github.com/docflow/docflow-backend/pkg/logger"
)

const maxResponseSize = 64 << 20 // 64MB

// ValidationRequest asks for the test cases of a single document
type ValidationRequest struct {
	Content  string `json:"content"`
	FileName string `json:"fileName"`
	FileType string `json:"fileType"`
	Stream   string `json:"stream"`
	FileID   string `json:"fileId"`
}

// NewValidationRequest builds the request for doc
func NewValidationRequest(doc domain.Document) ValidationRequest {
	return ValidationRequest{
		Content:  doc.ConvertedContent,
		FileName: doc.Name,
		FileType: string(doc.DocumentType),
		Stream:   string(domain.WorkflowValidation),
		FileID:   doc.ID,
	}
}

// BusinessRequest asks for the test cases of the combined business documents
type BusinessRequest struct {
	Business       string `json:"business"`
	DetailAPI      string `json:"detailApi"`
	APIIntegration string `json:"apiIntegration"`
}

// NewBusinessRequest builds the combined request from in
func NewBusinessRequest(in domain.BusinessInput) BusinessRequest {
	return BusinessRequest{
		Business:       in.Business,
		DetailAPI:      in.DetailAPI,
		APIIntegration: in.APIIntegration,
	}
}

// Generator produces CSV test cases
type Generator interface {
	GenerateValidation(ctx context.Context, req ValidationRequest) (string, error)
	GenerateBusiness(ctx context.Context, req BusinessRequest) (string, error)
}

// Client calls the two generation endpoints
type Client struct {
	validationURL string
	businessURL   string
	client        *http.Client
	log           *logger.Logger
}

// NewClient creates a generation client; timeout bounds every call
func NewClient(validationURL, businessURL string, timeout time.Duration, log *logger.Logger) *Client {
	return &Client{
		validationURL: validationURL,
		businessURL:   businessURL,
		client:        &http.Client{Timeout: timeout},
		log:           log.WithComponent("generator"),
	}
}

// GenerateValidation generates the test cases of one validation document
func (c *Client) GenerateValidation(ctx context.Context, req ValidationRequest) (string, error) {
	return c.generate(ctx, c.validationURL, req)
}

// GenerateBusiness generates the test cases of the combined business documents
func (c *Client) GenerateBusiness(ctx context.Context, req BusinessRequest) (string, error) {
	return c.generate(ctx, c.businessURL, req)
}

func (c *Client) generate(ctx context.Context, url string, payload interface{}) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("generator: failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("generator: failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("generator: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return "", fmt.Errorf("generator: failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := string(respBody)
		if len(msg) > 200 {
			msg = msg[:200] + "..."
		}
		return "", fmt.Errorf("generator: service returned %d: %s", resp.StatusCode, msg)
	}

	classified := Classify(respBody)
	c.log.Info().
		Str("endpoint", url).
		Str("variant", string(classified.Variant)).
		Int64("duration_ms", time.Since(start).Milliseconds()).
		Msg("generation response received")

	return classified.CSV(), nil
}
