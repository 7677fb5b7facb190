package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
	"testing"
)

func TestMetadataForKnownCodes(t *testing.T) {
	tests := []struct {
		code      Code
		status    int
		publicMsg string
		retryable bool
		detailsOK bool
	}{
		{code: CodeValidation, status: http.StatusBadRequest, publicMsg: "validation failed", detailsOK: true},
		{code: CodeUnauthorized, status: http.StatusUnauthorized, publicMsg: "authentication required"},
		{code: CodeForbidden, status: http.StatusForbidden, publicMsg: "access denied"},
		{code: CodeNotFound, status: http.StatusNotFound, publicMsg: "resource not found"},
		{code: CodeConflict, status: http.StatusConflict, publicMsg: "conflict detected"},
		{code: CodeStateConflict, status: http.StatusUnprocessableEntity, publicMsg: "state transition disallowed", detailsOK: true},
		{code: CodeInternal, status: http.StatusInternalServerError, publicMsg: "internal server error", retryable: true},
		{code: CodeDependency, status: http.StatusServiceUnavailable, publicMsg: "dependency unavailable", retryable: true, detailsOK: true},
		{code: CodeContention, status: http.StatusConflict, publicMsg: "resource temporarily unavailable", retryable: true, detailsOK: true},
		{code: CodeIntegrity, status: http.StatusBadRequest, publicMsg: "integrity check failed"},
		{code: CodeReferential, status: http.StatusUnprocessableEntity, publicMsg: "referenced record missing"},
		{code: CodeInsufficientFunds, status: http.StatusPaymentRequired, publicMsg: "insufficient wallet balance", detailsOK: true},
	}

	for _, tt := range tests {
		meta := MetadataFor(tt.code)
		if meta.HTTPStatus != tt.status {
			t.Fatalf("code %s expected status %d got %d", tt.code, tt.status, meta.HTTPStatus)
		}
		if meta.PublicMessage != tt.publicMsg {
			t.Fatalf("code %s expected public message %q got %q", tt.code, tt.publicMsg, meta.PublicMessage)
		}
		if meta.Retryable != tt.retryable {
			t.Fatalf("code %s expected retryable %v got %v", tt.code, tt.retryable, meta.Retryable)
		}
		if meta.DetailsAllowed != tt.detailsOK {
			t.Fatalf("code %s expected details allowed %v got %v", tt.code, tt.detailsOK, meta.DetailsAllowed)
		}
	}
}

func TestMetadataForUnknownCodeDefaultsToInternal(t *testing.T) {
	meta := MetadataFor("SOMETHING_UNKNOWN")
	if meta.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("expected internal status, got %d", meta.HTTPStatus)
	}
}

func TestErrorConstructors(t *testing.T) {
	base := New(CodeValidation, "missing foo")
	if base.Code() != CodeValidation {
		t.Fatalf("expected validation code, got %s", base.Code())
	}
	if base.Message() != "missing foo" {
		t.Fatalf("unexpected message %q", base.Message())
	}
	if base.Details() != nil {
		t.Fatalf("details should be nil by default")
	}

	detail := map[string]any{"field": "foo"}
	base.WithDetails(detail)
	if base.Details() == nil {
		t.Fatalf("details should be preserved")
	}

	cause := stdErrors.New("boom")
	wrapped := Wrap(CodeConflict, cause, "ctx")
	if !stdErrors.Is(wrapped, cause) {
		t.Fatalf("Wrap did not preserve cause")
	}
	if wrapped.Code() != CodeConflict {
		t.Fatalf("unexpected code %s", wrapped.Code())
	}
}

func TestAsReturnsTypedError(t *testing.T) {
	err := New(CodeForbidden, "no entry")
	if got := As(err); got == nil || got.Code() != CodeForbidden {
		t.Fatalf("As failed to return typed error")
	}
	if As(nil) != nil {
		t.Fatalf("As(nil) should return nil")
	}
}

func TestIsRetryableFollowsTaxonomy(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "untyped", err: stdErrors.New("connection reset"), want: true},
		{name: "contention", err: New(CodeContention, "insufficient stock"), want: true},
		{name: "dependency", err: New(CodeDependency, "provider 503"), want: true},
		{name: "validation", err: New(CodeValidation, "missing email"), want: false},
		{name: "referential", err: New(CodeReferential, "order item missing"), want: false},
		{name: "wrapped validation", err: fmt.Errorf("dispatch: %w", New(CodeValidation, "bad")), want: false},
	}
	for _, tc := range cases {
		if got := IsRetryable(tc.err); got != tc.want {
			t.Fatalf("%s: expected retryable=%v got %v", tc.name, tc.want, got)
		}
	}
}

func TestIsCodeWalksChain(t *testing.T) {
	inner := New(CodeContention, "no accounts")
	outer := Wrap(CodeDependency, inner, "dispatch")
	if !IsCode(outer, CodeContention) {
		t.Fatalf("expected contention code in chain")
	}
	if IsCode(outer, CodeValidation) {
		t.Fatalf("did not expect validation code")
	}
	if CodeOf(outer) != CodeDependency {
		t.Fatalf("expected outer code, got %s", CodeOf(outer))
	}
}

func TestErrorStringIncludesCause(t *testing.T) {
	err := Wrap(CodeDependency, stdErrors.New("503 from provider"), "invite failed")
	if err.Error() != "DEPENDENCY_ERROR: invite failed: 503 from provider" {
		t.Fatalf("unexpected error string %q", err.Error())
	}
}
