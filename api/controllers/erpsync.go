package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pdvjgm/pos-backend/api/middleware"
	"github.com/pdvjgm/pos-backend/api/responses"
	"github.com/pdvjgm/pos-backend/api/validators"
	"github.com/pdvjgm/pos-backend/internal/dlq"
	"github.com/pdvjgm/pos-backend/internal/erpsync"
	pkgerrors "github.com/pdvjgm/pos-backend/pkg/errors"
	"github.com/pdvjgm/pos-backend/pkg/logger"
)

// TriggerSync kicks off a full ERP catalog sync cycle. The fetch runs
// inline; the per-record reconciliation happens on the queue worker.
func TriggerSync(svc erpsync.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "sync service unavailable"))
			return
		}

		summary, err := svc.TriggerFullSync(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, summary)
	}
}

// DLQList returns the failed jobs awaiting operator attention.
func DLQList(svc dlq.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "dlq service unavailable"))
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", 0, 1, 500)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		failed, err := svc.ListFailed(r.Context(), limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, failed)
	}
}

// DLQRetry requeues one dead-lettered job on behalf of the operator named
// in X-Actor-Id.
func DLQRetry(svc dlq.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "dlq service unavailable"))
			return
		}

		jobID, err := uuid.Parse(chi.URLParam(r, "jobId"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid job id"))
			return
		}

		actorID := middleware.ActorIDFromContext(r.Context())
		job, err := svc.Retry(r.Context(), jobID, actorID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, job)
	}
}
