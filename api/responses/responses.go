package responses

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	pkgerrors "github.com/angelmondragon/keydrop-backend/pkg/errors"
	"github.com/angelmondragon/keydrop-backend/pkg/logger"
	"github.com/angelmondragon/keydrop-backend/pkg/types"
)

func WriteSuccess(w http.ResponseWriter, data any) {
	WriteSuccessStatus(w, http.StatusOK, data)
}

func WriteSuccessStatus(w http.ResponseWriter, status int, data any) {
	WriteJSON(w, status, types.SuccessEnvelope{Data: data})
}

// publicMessage lists codes whose own message is safe to show callers.
var publicMessage = map[pkgerrors.Code]bool{
	pkgerrors.CodeValidation:        true,
	pkgerrors.CodeForbidden:         true,
	pkgerrors.CodeUnauthorized:      true,
	pkgerrors.CodeNotFound:          true,
	pkgerrors.CodeConflict:          true,
	pkgerrors.CodeStateConflict:     true,
	pkgerrors.CodeIdempotency:       true,
	pkgerrors.CodeRateLimit:         true,
	pkgerrors.CodeReferential:       true,
	pkgerrors.CodeInsufficientFunds: true,
}

// WriteError maps err to its HTTP status and error envelope. 5xx responses
// are logged at error level with pg details; client errors at warn.
func WriteError(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if err == nil {
		err = errors.New("unknown error")
	}

	typed := pkgerrors.As(err)
	if typed == nil {
		typed = pkgerrors.Wrap(pkgerrors.CodeInternal, err, "unexpected error")
	}
	meta := pkgerrors.MetadataFor(typed.Code())

	msg := meta.PublicMessage
	if publicMessage[typed.Code()] {
		if m := typed.Message(); m != "" {
			msg = m
		}
	}

	payload := types.ErrorEnvelope{
		Error: types.APIError{
			Code:    string(typed.Code()),
			Message: msg,
		},
	}
	if meta.DetailsAllowed {
		if details := typed.Details(); details != nil {
			payload.Error.Details = details
		}
	}

	if logg != nil {
		dump := pkgerrors.Dump(err)
		fields := map[string]any{
			"error":       dump.TopMessage,
			"error_code":  dump.Code,
			"error_chain": dump.Chain,
			"http_status": meta.HTTPStatus,
		}
		if dump.PGCode != "" {
			fields["pg_code"] = dump.PGCode
			fields["pg_detail"] = dump.PGDetail
			fields["pg_message"] = dump.PGMessage
			fields["pg_table"] = dump.PGTable
			fields["pg_column"] = dump.PGColumn
			fields["pg_constraint"] = dump.PGConstraint
		}
		logCtx := logg.WithFields(ctx, fields)
		if meta.HTTPStatus >= http.StatusInternalServerError {
			logg.Error(logCtx, "request.error", err)
		} else {
			logg.Warn(logCtx, "request.rejected")
		}
	}

	WriteJSON(w, meta.HTTPStatus, payload)
}

// WriteJSON writes payload without an envelope.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf(`{"level":"error","msg":"failed to encode response","err":"%v"}`, err)
	}
}
