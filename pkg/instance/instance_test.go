package instance

import (
	"strings"
	"testing"
)

func TestGetIDPrefersEnv(t *testing.T) {
	t.Setenv("KEYDROP_INSTANCE_ID", "fulfillment-7")
	if got := GetID(); got != "fulfillment-7" {
		t.Fatalf("expected env id, got %q", got)
	}
}

func TestGetIDFallsBackToHostPID(t *testing.T) {
	t.Setenv("KEYDROP_INSTANCE_ID", "")
	if got := GetID(); !strings.Contains(got, "-") {
		t.Fatalf("expected host-pid id, got %q", got)
	}
}
