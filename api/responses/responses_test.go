package responses

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	pkgerrors "github.com/angelmondragon/keydrop-backend/pkg/errors"
	"github.com/angelmondragon/keydrop-backend/pkg/logger"
	"github.com/angelmondragon/keydrop-backend/pkg/types"
)

func TestWriteSuccess(t *testing.T) {
	w := httptest.NewRecorder()
	WriteSuccessStatus(w, http.StatusCreated, map[string]string{"hello": "world"})

	if got := w.Code; got != http.StatusCreated {
		t.Fatalf("expected status 201 but got %d", got)
	}
	var body types.SuccessEnvelope
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode success envelope: %v", err)
	}
	if body.Data.(map[string]any)["hello"] != "world" {
		t.Fatalf("unexpected payload %v", body.Data)
	}
}

func TestWriteErrorMapsTypedError(t *testing.T) {
	w := httptest.NewRecorder()
	err := pkgerrors.New(pkgerrors.CodeValidation, "bad input").
		WithDetails(map[string]string{"field": "demo"})
	WriteError(context.Background(), logger.Nop(), w, err)

	if got := w.Code; got != http.StatusBadRequest {
		t.Fatalf("expected status 400 but got %d", got)
	}
	var body types.ErrorEnvelope
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error envelope: %v", err)
	}
	if body.Error.Code != string(pkgerrors.CodeValidation) || body.Error.Message != "bad input" {
		t.Fatalf("unexpected error %+v", body.Error)
	}
	if body.Error.Details == nil {
		t.Fatalf("expected details in public payload")
	}
}

func TestWriteErrorStatusPerCode(t *testing.T) {
	cases := map[pkgerrors.Code]int{
		pkgerrors.CodeInsufficientFunds: http.StatusPaymentRequired,
		pkgerrors.CodeReferential:       http.StatusUnprocessableEntity,
		pkgerrors.CodeContention:        http.StatusConflict,
		pkgerrors.CodeIntegrity:         http.StatusBadRequest,
		pkgerrors.CodeDependency:        http.StatusServiceUnavailable,
	}
	for code, status := range cases {
		w := httptest.NewRecorder()
		WriteError(context.Background(), nil, w, fmt.Errorf("wrapped: %w", pkgerrors.New(code, "x")))
		if w.Code != status {
			t.Fatalf("%s: expected %d got %d", code, status, w.Code)
		}
	}
}

func TestWriteErrorDefaultsToInternalForUntypedErrors(t *testing.T) {
	w := httptest.NewRecorder()
	WriteError(context.Background(), nil, w, errors.New("boom"))

	if got := w.Code; got != http.StatusInternalServerError {
		t.Fatalf("expected status 500 but got %d", got)
	}
	var body types.ErrorEnvelope
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error envelope: %v", err)
	}
	if body.Error.Code != string(pkgerrors.CodeInternal) {
		t.Fatalf("unexpected code %s", body.Error.Code)
	}
	if body.Error.Message != "internal server error" || body.Error.Details != nil {
		t.Fatalf("internal errors must not leak: %+v", body.Error)
	}
}
