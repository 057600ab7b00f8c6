package domain

import (
	"errors"
	"fmt"
)

// ConversionState is the per-document conversion state
type ConversionState string

const (
	ConversionPending    ConversionState = "pending"
	ConversionConverting ConversionState = "converting"
	ConversionCompleted  ConversionState = "completed"
	ConversionError      ConversionState = "error"
)

// ErrInvalidTransition is returned when a state change is not allowed
var ErrInvalidTransition = errors.New("invalid state transition")

var conversionTransitions = map[ConversionState][]ConversionState{
	ConversionPending:    {ConversionConverting},
	ConversionConverting: {ConversionCompleted, ConversionError, ConversionPending},
	ConversionError:      {ConversionConverting},
	ConversionCompleted:  {ConversionConverting},
}

// CanTransition reports whether from -> to is an edge of the conversion state machine
func (from ConversionState) CanTransition(to ConversionState) bool {
	for _, next := range conversionTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ConversionStatus tracks the conversion of one document.
// ErrorMessage is set only in the error state, Result only when completed.
type ConversionStatus struct {
	DocumentID   string          `json:"documentId"`
	State        ConversionState `json:"state"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	Result       string          `json:"result,omitempty"`
}

// PendingStatus returns a fresh status for documentID
func PendingStatus(documentID string) ConversionStatus {
	return ConversionStatus{DocumentID: documentID, State: ConversionPending}
}

func (s *ConversionStatus) transition(to ConversionState) error {
	if !s.State.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.State, to)
	}
	s.State = to
	s.ErrorMessage = ""
	s.Result = ""
	return nil
}

// Start marks the document as being converted
func (s *ConversionStatus) Start() error {
	return s.transition(ConversionConverting)
}

// Complete stores the conversion result
func (s *ConversionStatus) Complete(result string) error {
	if err := s.transition(ConversionCompleted); err != nil {
		return err
	}
	s.Result = result
	return nil
}

// Fail records a readable failure message
func (s *ConversionStatus) Fail(message string) error {
	if err := s.transition(ConversionError); err != nil {
		return err
	}
	s.ErrorMessage = message
	return nil
}

// Rollback returns an interrupted conversion to pending
func (s *ConversionStatus) Rollback() error {
	return s.transition(ConversionPending)
}

// Reset puts the status back to pending regardless of its state
func (s *ConversionStatus) Reset() {
	*s = PendingStatus(s.DocumentID)
}

// GenerationState is the state of one generation result
type GenerationState string

const (
	GenerationPending    GenerationState = "pending"
	GenerationGenerating GenerationState = "generating"
	GenerationCompleted  GenerationState = "completed"
	GenerationError      GenerationState = "error"
)

// CombinedSourceID identifies the single result of the business workflow
const CombinedSourceID = "business-combined"

// CancelledMessage is the error message of results aborted by the user
const CancelledMessage = "Generation cancelled by user"

// GenerationResult holds the tabular output for one source.
// It lives in memory only.
type GenerationResult struct {
	SourceID     string          `json:"sourceId"`
	FileName     string          `json:"fileName"`
	State        GenerationState `json:"state"`
	TabularData  string          `json:"tabularData,omitempty"`
	ErrorMessage string          `json:"errorMessage,omitempty"`
	Cancelled    bool            `json:"cancelled,omitempty"`
}

// Open reports whether the result has not reached a terminal state
func (r GenerationResult) Open() bool {
	return r.State == GenerationPending || r.State == GenerationGenerating
}

// Cancel marks an open result as cancelled by the user
func (r *GenerationResult) Cancel() {
	if !r.Open() {
		return
	}
	r.State = GenerationError
	r.ErrorMessage = CancelledMessage
	r.Cancelled = true
	r.TabularData = ""
}
