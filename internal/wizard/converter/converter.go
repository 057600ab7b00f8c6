// Package converter turns uploaded HTML documents into Markdown.
package converter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/docflow/docflow-backend/internal/wizard/domain"
	"github.com/docflow/docflow-backend/pkg/logger"
)

// Request is the payload sent to the conversion endpoint
type Request struct {
	Content  string `json:"content"`
	FileName string `json:"fileName"`
	FileType string `json:"fileType"`
	Stream   string `json:"stream"`
}

// NewRequest builds the conversion request for doc in workflow w
func NewRequest(doc domain.Document, w domain.Workflow) Request {
	return Request{
		Content:  doc.RawContent,
		FileName: doc.Name,
		FileType: string(doc.DocumentType),
		Stream:   string(w),
	}
}

// Converter converts one document to Markdown
type Converter interface {
	// Name returns the converter identifier used in logs
	Name() string

	// CanConvert returns true if this converter handles the given document type
	CanConvert(docType domain.DocumentType) bool

	// Convert returns the Markdown rendition of the request content
	Convert(ctx context.Context, req Request) (string, error)
}

// Chain tries converters in registration order until one succeeds
type Chain struct {
	converters  []Converter
	callTimeout time.Duration
	log         *logger.Logger
}

// NewChain creates a chain; the first converter is the primary one
func NewChain(log *logger.Logger, converters ...Converter) *Chain {
	return &Chain{converters: converters, log: log.WithComponent("converter_chain")}
}

// Register appends a converter to the end of the chain
func (c *Chain) Register(conv Converter) {
	c.converters = append(c.converters, conv)
}

// SetCallTimeout bounds every converter call of the chain. A call that runs
// out of time counts as a failure and the next converter is tried.
func (c *Chain) SetCallTimeout(d time.Duration) {
	c.callTimeout = d
}

// Budget returns the longest a conversion through the whole chain can
// take, or zero when calls are unbounded
func (c *Chain) Budget() time.Duration {
	return c.callTimeout * time.Duration(len(c.converters))
}

// FindConverters returns every converter able to handle docType, in order
func (c *Chain) FindConverters(docType domain.DocumentType) []Converter {
	var matches []Converter
	for _, conv := range c.converters {
		if conv.CanConvert(docType) {
			matches = append(matches, conv)
		}
	}
	return matches
}

// Convert runs the request through the chain. The error of the last
// converter is returned when all of them fail. A cancelled context stops
// the chain immediately.
func (c *Chain) Convert(ctx context.Context, req Request) (string, error) {
	converters := c.FindConverters(domain.DocumentType(req.FileType))
	if len(converters) == 0 {
		return "", fmt.Errorf("no converter available for document type: %s", req.FileType)
	}

	var lastErr error
	for attempt, conv := range converters {
		c.log.Debug().
			Str("converter", conv.Name()).
			Str("file_name", req.FileName).
			Int("attempt", attempt+1).
			Msg("trying conversion")

		result, err := c.call(ctx, conv, req)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return "", err
		}

		lastErr = err
		c.log.Warn().Err(err).
			Str("converter", conv.Name()).
			Str("file_name", req.FileName).
			Msg("converter failed, trying next")
	}

	return "", lastErr
}

func (c *Chain) call(ctx context.Context, conv Converter, req Request) (string, error) {
	if c.callTimeout <= 0 {
		return conv.Convert(ctx, req)
	}
	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	result, err := conv.Convert(callCtx, req)
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return "", fmt.Errorf("%s: timed out after %s: %w", conv.Name(), c.callTimeout, err)
	}
	return result, err
}
