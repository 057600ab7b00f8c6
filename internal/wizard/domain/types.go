package domain

import (
	"path/filepath"
	"strings"
	"time"
)

// Workflow is one of the two processing modes of the wizard
type Workflow string

const (
	WorkflowBusiness   Workflow = "business"
	WorkflowValidation Workflow = "validation"
)

// Valid reports whether w is a known workflow
func (w Workflow) Valid() bool {
	return w == WorkflowBusiness || w == WorkflowValidation
}

// AllowedTypes returns the document types that can be uploaded into w
func (w Workflow) AllowedTypes() []DocumentType {
	switch w {
	case WorkflowBusiness:
		return []DocumentType{DocumentTypeBusiness, DocumentTypeDetailAPI, DocumentTypeAPIIntegration, DocumentTypeUMLImage}
	case WorkflowValidation:
		return []DocumentType{DocumentTypeValidation}
	}
	return nil
}

// Accepts reports whether documents of type t belong in w
func (w Workflow) Accepts(t DocumentType) bool {
	for _, allowed := range w.AllowedTypes() {
		if allowed == t {
			return true
		}
	}
	return false
}

// DocumentType classifies an uploaded document
type DocumentType string

const (
	DocumentTypeBusiness       DocumentType = "business"
	DocumentTypeDetailAPI      DocumentType = "detail-api"
	DocumentTypeAPIIntegration DocumentType = "api-integration"
	DocumentTypeValidation     DocumentType = "validation"
	DocumentTypeUMLImage       DocumentType = "uml-image"
	DocumentTypeError          DocumentType = "error"
)

// Valid reports whether t is part of the closed set of document types
func (t DocumentType) Valid() bool {
	switch t {
	case DocumentTypeBusiness, DocumentTypeDetailAPI, DocumentTypeAPIIntegration,
		DocumentTypeValidation, DocumentTypeUMLImage, DocumentTypeError:
		return true
	}
	return false
}

// Repeatable reports whether a workflow may hold several documents of type t
func (t DocumentType) Repeatable() bool {
	return t == DocumentTypeAPIIntegration
}

// Document is an uploaded source document.
// RawContent is HTML text, or a base64 data URL for images.
type Document struct {
	ID               string       `json:"id"`
	Name             string       `json:"name"`
	DocumentType     DocumentType `json:"documentType"`
	RawContent       string       `json:"rawContent"`
	ConvertedContent string       `json:"convertedContent,omitempty"`
}

// HasContent reports whether the document carries raw content to convert
func (d Document) HasContent() bool {
	return strings.TrimSpace(d.RawContent) != ""
}

// Converted reports whether the document carries Markdown
func (d Document) Converted() bool {
	return strings.TrimSpace(d.ConvertedContent) != ""
}

// Wizard steps
const (
	StepWorkflow = iota
	StepUpload
	StepConversion
	StepGeneration
)

// MaxStep is the index of the final wizard step
const MaxStep = StepGeneration

// ValidStep reports whether step is inside the four-step wizard
func ValidStep(step int) bool {
	return step >= StepWorkflow && step <= MaxStep
}

// HistoryEntry is an immutable Markdown artifact kept for reuse
type HistoryEntry struct {
	ID           string       `json:"id"`
	FileName     string       `json:"fileName"`
	Content      string       `json:"content"`
	Timestamp    time.Time    `json:"timestamp"`
	DocumentType DocumentType `json:"documentType"`
}

// MarkdownFileName replaces the extension of name with .md
func MarkdownFileName(name string) string {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	if base == "" {
		base = "document"
	}
	return base + ".md"
}

// BaseName returns name without its extension
func BaseName(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}
