package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/angelmondragon/keydrop-backend/api/responses"
	"github.com/angelmondragon/keydrop-backend/internal/fulfillment"
	pkgerrors "github.com/angelmondragon/keydrop-backend/pkg/errors"
	"github.com/angelmondragon/keydrop-backend/pkg/logger"
)

type jobProcessor interface {
	ProcessBatch(ctx context.Context) ([]fulfillment.JobResult, error)
	ProcessJob(ctx context.Context, id uuid.UUID) ([]fulfillment.JobResult, error)
}

type runRequest struct {
	JobID *uuid.UUID `json:"job_id,omitempty"`
}

type runResponse struct {
	Success   bool                    `json:"success"`
	Processed int                     `json:"processed"`
	Results   []fulfillment.JobResult `json:"results"`
}

// RunFulfillment drains one batch of due jobs, or a single job when job_id is
// given. An empty body is a batch run.
func RunFulfillment(svc jobProcessor, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var payload runRequest
		if err := decodeOptionalBody(r, &payload); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var (
			results []fulfillment.JobResult
			err     error
		)
		if payload.JobID != nil {
			results, err = svc.ProcessJob(ctx, *payload.JobID)
		} else {
			results, err = svc.ProcessBatch(ctx)
		}
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if results == nil {
			results = []fulfillment.JobResult{}
		}
		responses.WriteJSON(w, http.StatusOK, runResponse{
			Success:   true,
			Processed: len(results),
			Results:   results,
		})
	}
}

func decodeOptionalBody(r *http.Request, dest any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	err := json.NewDecoder(r.Body).Decode(dest)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid request body")
}
