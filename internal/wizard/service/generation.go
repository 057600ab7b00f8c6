package service

import (
	"context"
	"strings"

	"github.com/docflow/docflow-backend/internal/wizard/domain"
	"github.com/docflow/docflow-backend/internal/wizard/tablecsv"
	apperrors "github.com/docflow/docflow-backend/pkg/errors"
)

// Export formats
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

// AllResults selects the combined export of every completed result
const AllResults = "all"

// GenerationView is the progress of the generation step
type GenerationView struct {
	Results         []domain.GenerationResult `json:"results"`
	Running         bool                      `json:"running"`
	CurrentSourceID string                    `json:"currentSourceId,omitempty"`
}

// Export is a downloadable file
type Export struct {
	FileName    string
	ContentType string
	Data        []byte
}

// Generation returns the generation progress
func (s *Session) Generation() GenerationView {
	results := s.generation.Results()
	if results == nil {
		results = []domain.GenerationResult{}
	}
	return GenerationView{
		Results:         results,
		Running:         s.generation.Running(),
		CurrentSourceID: s.generation.Current(),
	}
}

// StartGeneration launches test case generation for the converted
// documents. Preconditions are checked before any request is sent.
func (s *Session) StartGeneration(ctx context.Context) (GenerationView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conversion.Running() {
		return GenerationView{}, errConversionRunning()
	}
	if _, err := s.generation.Start(s.workflow, s.documents()); err != nil {
		return GenerationView{}, mapError(err, errGenerationRunning)
	}
	return s.Generation(), nil
}

// CancelGeneration aborts the running generation once the user confirmed
func (s *Session) CancelGeneration(ctx context.Context, confirmed bool) (GenerationView, error) {
	if !confirmed {
		return GenerationView{}, apperrors.BadRequest("cancellation not confirmed").
			WithKey("wizard.cancel_confirmation_required", nil)
	}
	return s.StopGeneration(ctx), nil
}

// StopGeneration aborts the running generation without confirmation
func (s *Session) StopGeneration(ctx context.Context) GenerationView {
	if t := s.generation.Cancel(); t != nil {
		s.log.Info().Msg("generation cancelled by user")
	}
	return s.Generation()
}

// RegenerateResult resubmits one result
func (s *Session) RegenerateResult(ctx context.Context, sourceID string) (GenerationView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conversion.Running() {
		return GenerationView{}, errConversionRunning()
	}
	if _, err := s.generation.Regenerate(s.workflow, sourceID, s.documents()); err != nil {
		return GenerationView{}, mapError(err, errGenerationRunning)
	}
	return s.Generation(), nil
}

// Export renders one result, or all of them, as CSV or Excel
func (s *Session) Export(ctx context.Context, sourceID, format string) (*Export, error) {
	format = strings.ToLower(format)
	if format == "" {
		format = FormatCSV
	}
	if format != FormatCSV && format != FormatXLSX {
		return nil, apperrors.Validation(map[string]string{"format": "must be csv or xlsx"})
	}

	var name, text string
	if sourceID == AllResults {
		var parts []tablecsv.Part
		for _, r := range s.generation.Results() {
			if r.State == domain.GenerationCompleted {
				parts = append(parts, tablecsv.Part{Source: r.FileName, CSV: r.TabularData})
			}
		}
		if len(parts) == 0 {
			return nil, errResultNotReady(AllResults)
		}
		combined, err := tablecsv.Combine(parts)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		workflow := s.workflow
		s.mu.Unlock()
		name, text = tablecsv.CombinedFileName(string(workflow), s.m.now()), combined
	} else {
		r, ok := s.generation.Result(sourceID)
		if !ok {
			return nil, apperrors.NotFoundWithKey("generation_result")
		}
		if r.State != domain.GenerationCompleted {
			return nil, errResultNotReady(r.FileName)
		}
		name, text = tablecsv.ResultFileName(r.FileName), r.TabularData
	}

	if format == FormatCSV {
		return &Export{FileName: name, ContentType: tablecsv.ContentTypeCSV, Data: []byte(text)}, nil
	}

	if text == tablecsv.NoTableMessage {
		return nil, errResultNotReady(sourceID)
	}
	data, err := tablecsv.ToXLSX(text, domain.BaseName(name))
	if err != nil {
		return nil, err
	}
	return &Export{FileName: tablecsv.XLSXName(name), ContentType: tablecsv.ContentTypeXLSX, Data: data}, nil
}
