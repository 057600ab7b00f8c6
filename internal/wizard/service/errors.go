package service

import (
	"errors"
	"strconv"

	"github.com/docflow/docflow-backend/internal/wizard/domain"
	"github.com/docflow/docflow-backend/internal/wizard/history"
	"github.com/docflow/docflow-backend/internal/wizard/orchestrator"
	apperrors "github.com/docflow/docflow-backend/pkg/errors"
)

func errWorkflowNotSelected() *apperrors.AppError {
	return apperrors.PreconditionFailed("workflow not selected").WithKey("wizard.workflow_not_selected", nil)
}

func errInvalidWorkflow(w domain.Workflow) *apperrors.AppError {
	return apperrors.BadRequest("unknown workflow " + string(w)).
		WithKey("wizard.invalid_workflow", map[string]string{"workflow": string(w)})
}

func errInvalidStep(step int) *apperrors.AppError {
	return apperrors.BadRequest("step out of range").
		WithKey("wizard.invalid_step", map[string]string{"step": strconv.Itoa(step)})
}

func errInvalidDocumentType(t domain.DocumentType, w domain.Workflow) *apperrors.AppError {
	return apperrors.BadRequest("document type not allowed").
		WithKey("wizard.invalid_document_type", map[string]string{"type": string(t), "workflow": string(w)})
}

func errDocumentEmpty(name string) *apperrors.AppError {
	return apperrors.PreconditionFailed("document has no content").
		WithKey("wizard.document_empty", map[string]string{"name": name})
}

func errConversionRunning() *apperrors.AppError {
	return apperrors.Conflict("conversion running").WithKey("wizard.conversion_running", nil)
}

func errGenerationRunning() *apperrors.AppError {
	return apperrors.Conflict("generation running").WithKey("wizard.generation_running", nil)
}

func errResultNotReady(source string) *apperrors.AppError {
	return apperrors.PreconditionFailed("result not ready").
		WithKey("wizard.result_not_ready", map[string]string{"source": source})
}

// mapError turns domain and orchestrator errors into API errors. running
// is the error reported for orchestrator.ErrTaskRunning. Unknown errors
// are returned as is.
func mapError(err error, running func() *apperrors.AppError) error {
	var appErr *apperrors.AppError
	switch {
	case err == nil:
		return nil
	case errors.As(err, &appErr):
		return appErr
	case errors.Is(err, orchestrator.ErrTaskRunning):
		return running()
	case errors.Is(err, domain.ErrWorkflowNotSelected):
		return errWorkflowNotSelected()
	case errors.Is(err, orchestrator.ErrNoDocuments):
		return apperrors.PreconditionFailed("no documents").WithKey("wizard.no_documents", nil)
	case errors.Is(err, orchestrator.ErrNothingToGenerate):
		return apperrors.PreconditionFailed("nothing to generate").WithKey("wizard.nothing_to_generate", nil)
	case errors.Is(err, domain.ErrBusinessSourcesMissing):
		return apperrors.PreconditionFailed("business sources missing").WithKey("wizard.business_sources_missing", nil)
	case errors.Is(err, orchestrator.ErrUnknownSource):
		return apperrors.NotFoundWithKey("generation_result")
	case errors.Is(err, orchestrator.ErrWorkflowNotAllowed):
		return apperrors.BadRequest(err.Error())
	case errors.Is(err, history.ErrEntryNotFound):
		return apperrors.NotFoundWithKey("history_entry")
	case errors.Is(err, history.ErrEmptyEntry):
		return apperrors.BadRequest(err.Error())
	}
	return err
}
