package domain

import (
	"errors"
	"strings"
)

// Placement errors
var (
	ErrWorkflowNotSelected = errors.New("no workflow selected")
	ErrTypeNotAllowed      = errors.New("document type not allowed in workflow")
)

// PlaceDocument adds doc to docs under the rules of workflow w.
// The validation workflow holds a single document; the business workflow
// holds one document per type except api-integration, which is appended.
// A second upload of a singleton type replaces the earlier one in place.
// The returned slice is a copy; docs is not modified.
func PlaceDocument(w Workflow, docs []Document, doc Document) ([]Document, error) {
	if !w.Valid() {
		return nil, ErrWorkflowNotSelected
	}
	if !w.Accepts(doc.DocumentType) {
		return nil, ErrTypeNotAllowed
	}

	if w == WorkflowValidation {
		return []Document{doc}, nil
	}

	out := make([]Document, 0, len(docs)+1)
	replaced := false
	for _, existing := range docs {
		if !doc.DocumentType.Repeatable() && existing.DocumentType == doc.DocumentType {
			if !replaced {
				out = append(out, doc)
				replaced = true
			}
			continue
		}
		out = append(out, existing)
	}
	if !replaced {
		out = append(out, doc)
	}
	return out, nil
}

// RemoveDocument returns docs without the document identified by id
func RemoveDocument(docs []Document, id string) ([]Document, bool) {
	out := make([]Document, 0, len(docs))
	found := false
	for _, d := range docs {
		if d.ID == id {
			found = true
			continue
		}
		out = append(out, d)
	}
	return out, found
}

// FindDocument returns the document with id
func FindDocument(docs []Document, id string) (Document, bool) {
	for _, d := range docs {
		if d.ID == id {
			return d, true
		}
	}
	return Document{}, false
}

// DocumentsOfType returns the documents of type t in upload order
func DocumentsOfType(docs []Document, t DocumentType) []Document {
	var out []Document
	for _, d := range docs {
		if d.DocumentType == t {
			out = append(out, d)
		}
	}
	return out
}

// BusinessInput is the combined request material of the business workflow
type BusinessInput struct {
	Business       string
	DetailAPI      string
	APIIntegration string
}

// ErrBusinessSourcesMissing is returned when the business or detail-api
// document has no converted content
var ErrBusinessSourcesMissing = errors.New("business and detail-api documents must be converted")

// CombineBusiness gathers the converted business, detail-api and
// api-integration content. The api-integration documents are joined in
// upload order with a blank line between them.
func CombineBusiness(docs []Document) (BusinessInput, error) {
	var in BusinessInput
	var integrations []string

	for _, d := range docs {
		switch d.DocumentType {
		case DocumentTypeBusiness:
			if in.Business == "" {
				in.Business = d.ConvertedContent
			}
		case DocumentTypeDetailAPI:
			if in.DetailAPI == "" {
				in.DetailAPI = d.ConvertedContent
			}
		case DocumentTypeAPIIntegration:
			if d.Converted() {
				integrations = append(integrations, d.ConvertedContent)
			}
		}
	}

	if strings.TrimSpace(in.Business) == "" || strings.TrimSpace(in.DetailAPI) == "" {
		return BusinessInput{}, ErrBusinessSourcesMissing
	}

	in.APIIntegration = strings.Join(integrations, "\n\n")
	return in, nil
}
