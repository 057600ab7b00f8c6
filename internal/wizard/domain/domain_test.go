package domain_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docflow/docflow-backend/internal/wizard/domain"
)

func TestConversionStatus_Lifecycle(t *testing.T) {
	s := domain.PendingStatus("d1")

	require.NoError(t, s.Start())
	assert.Equal(t, domain.ConversionConverting, s.State)

	require.NoError(t, s.Complete("# Hello"))
	assert.Equal(t, "# Hello", s.Result)
	assert.Empty(t, s.ErrorMessage)

	require.NoError(t, s.Start())
	assert.Empty(t, s.Result)

	require.NoError(t, s.Fail("timeout"))
	assert.Equal(t, domain.ConversionError, s.State)
	assert.Equal(t, "timeout", s.ErrorMessage)
}

func TestConversionStatus_InvalidTransitions(t *testing.T) {
	tests := []struct {
		name string
		from domain.ConversionState
		op   func(*domain.ConversionStatus) error
	}{
		{"complete from pending", domain.ConversionPending, func(s *domain.ConversionStatus) error { return s.Complete("x") }},
		{"fail from pending", domain.ConversionPending, func(s *domain.ConversionStatus) error { return s.Fail("x") }},
		{"rollback from completed", domain.ConversionCompleted, (*domain.ConversionStatus).Rollback},
		{"rollback from error", domain.ConversionError, (*domain.ConversionStatus).Rollback},
		{"start while converting", domain.ConversionConverting, (*domain.ConversionStatus).Start},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := domain.ConversionStatus{DocumentID: "d1", State: tt.from}
			err := tt.op(&s)
			assert.ErrorIs(t, err, domain.ErrInvalidTransition)
			assert.Equal(t, tt.from, s.State)
		})
	}
}

func TestConversionStatus_RollbackClearsResult(t *testing.T) {
	s := domain.PendingStatus("d1")
	require.NoError(t, s.Start())
	require.NoError(t, s.Rollback())
	assert.Equal(t, domain.PendingStatus("d1"), s)
}

func TestGenerationResult_Cancel(t *testing.T) {
	open := domain.GenerationResult{SourceID: "a", State: domain.GenerationGenerating}
	open.Cancel()
	assert.Equal(t, domain.GenerationError, open.State)
	assert.Equal(t, domain.CancelledMessage, open.ErrorMessage)
	assert.True(t, open.Cancelled)

	done := domain.GenerationResult{SourceID: "b", State: domain.GenerationCompleted, TabularData: "A\n"}
	done.Cancel()
	assert.Equal(t, domain.GenerationCompleted, done.State)
	assert.False(t, done.Cancelled)
}

func TestPlaceDocument_Validation(t *testing.T) {
	first := domain.Document{ID: "1", DocumentType: domain.DocumentTypeValidation}
	second := domain.Document{ID: "2", DocumentType: domain.DocumentTypeValidation}

	docs, err := domain.PlaceDocument(domain.WorkflowValidation, nil, first)
	require.NoError(t, err)
	docs, err = domain.PlaceDocument(domain.WorkflowValidation, docs, second)
	require.NoError(t, err)

	require.Len(t, docs, 1)
	assert.Equal(t, "2", docs[0].ID)

	_, err = domain.PlaceDocument(domain.WorkflowValidation, docs, domain.Document{DocumentType: domain.DocumentTypeBusiness})
	assert.ErrorIs(t, err, domain.ErrTypeNotAllowed)
}

func TestPlaceDocument_Business(t *testing.T) {
	var docs []domain.Document
	add := func(id string, typ domain.DocumentType) {
		var err error
		docs, err = domain.PlaceDocument(domain.WorkflowBusiness, docs, domain.Document{ID: id, DocumentType: typ})
		require.NoError(t, err)
	}

	add("b1", domain.DocumentTypeBusiness)
	add("i1", domain.DocumentTypeAPIIntegration)
	add("d1", domain.DocumentTypeDetailAPI)
	add("i2", domain.DocumentTypeAPIIntegration)
	add("b2", domain.DocumentTypeBusiness)

	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	assert.Equal(t, []string{"b2", "i1", "d1", "i2"}, ids)
}

func TestPlaceDocument_Errors(t *testing.T) {
	_, err := domain.PlaceDocument("", nil, domain.Document{DocumentType: domain.DocumentTypeBusiness})
	assert.ErrorIs(t, err, domain.ErrWorkflowNotSelected)

	_, err = domain.PlaceDocument(domain.WorkflowBusiness, nil, domain.Document{DocumentType: domain.DocumentTypeError})
	assert.ErrorIs(t, err, domain.ErrTypeNotAllowed)
}

func TestPlaceDocument_DoesNotModifyInput(t *testing.T) {
	docs := []domain.Document{{ID: "b1", DocumentType: domain.DocumentTypeBusiness}}
	_, err := domain.PlaceDocument(domain.WorkflowBusiness, docs, domain.Document{ID: "b2", DocumentType: domain.DocumentTypeBusiness})
	require.NoError(t, err)
	assert.Equal(t, "b1", docs[0].ID)
}

func TestCombineBusiness(t *testing.T) {
	docs := []domain.Document{
		{ID: "i1", DocumentType: domain.DocumentTypeAPIIntegration, ConvertedContent: "first"},
		{ID: "b", DocumentType: domain.DocumentTypeBusiness, ConvertedContent: "business"},
		{ID: "d", DocumentType: domain.DocumentTypeDetailAPI, ConvertedContent: "detail"},
		{ID: "i2", DocumentType: domain.DocumentTypeAPIIntegration, ConvertedContent: "second"},
		{ID: "u", DocumentType: domain.DocumentTypeUMLImage, ConvertedContent: "diagram"},
	}

	in, err := domain.CombineBusiness(docs)
	require.NoError(t, err)
	assert.Equal(t, "business", in.Business)
	assert.Equal(t, "detail", in.DetailAPI)
	assert.Equal(t, "first\n\nsecond", in.APIIntegration)
}

func TestCombineBusiness_MissingDetailAPI(t *testing.T) {
	docs := []domain.Document{
		{ID: "b", DocumentType: domain.DocumentTypeBusiness, ConvertedContent: "business"},
		{ID: "d", DocumentType: domain.DocumentTypeDetailAPI, ConvertedContent: "  "},
	}
	_, err := domain.CombineBusiness(docs)
	assert.ErrorIs(t, err, domain.ErrBusinessSourcesMissing)
}

func TestMarkdownFileName(t *testing.T) {
	assert.Equal(t, "spec.md", domain.MarkdownFileName("spec.html"))
	assert.Equal(t, "spec.md", domain.MarkdownFileName("spec"))
	assert.Equal(t, "archive.tar.md", domain.MarkdownFileName("archive.tar.gz"))
	assert.Equal(t, "document.md", domain.MarkdownFileName(".html"))
}

func TestRemoveAndFindDocument(t *testing.T) {
	docs := []domain.Document{{ID: "a"}, {ID: "b"}, {ID: "c"}}

	rest, ok := domain.RemoveDocument(docs, "b")
	assert.True(t, ok)
	assert.Len(t, rest, 2)

	_, ok = domain.RemoveDocument(docs, "zzz")
	assert.False(t, ok)

	d, ok := domain.FindDocument(docs, "c")
	assert.True(t, ok)
	assert.Equal(t, "c", d.ID)
}
