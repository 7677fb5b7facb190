package auth

import (
	"strings"
	"testing"
	"time"

	"github.com/angelmondragon/keydrop-backend/pkg/config"
)

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{
		Secret:            "secret",
		Issuer:            "keydrop",
		ExpirationMinutes: 30,
	}
}

func TestMintAndParseAdminToken(t *testing.T) {
	cfg := testJWTConfig()
	now := time.Now().UTC()

	token, err := MintAdminToken(cfg, now, AdminTokenPayload{Subject: "ops@keydrop", Role: RoleAdmin})
	if err != nil {
		t.Fatalf("mint admin token: %v", err)
	}

	claims, err := ParseAdminToken(cfg, token)
	if err != nil {
		t.Fatalf("parse admin token: %v", err)
	}
	if !claims.IsAdmin() {
		t.Fatalf("expected admin role, got %q", claims.Role)
	}
	if claims.Subject != "ops@keydrop" {
		t.Fatalf("unexpected subject %q", claims.Subject)
	}
	if claims.Issuer != cfg.Issuer {
		t.Fatalf("unexpected issuer %q", claims.Issuer)
	}
	if claims.ID == "" {
		t.Fatalf("expected jti to be generated")
	}
}

func TestParseAdminTokenRejectsExpired(t *testing.T) {
	cfg := testJWTConfig()
	token, err := MintAdminToken(cfg, time.Now().Add(-2*time.Hour), AdminTokenPayload{Subject: "ops", Role: RoleAdmin})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := ParseAdminToken(cfg, token); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestParseAdminTokenRejectsWrongSecret(t *testing.T) {
	cfg := testJWTConfig()
	token, err := MintAdminToken(cfg, time.Now(), AdminTokenPayload{Subject: "ops", Role: RoleAdmin})
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	other := cfg
	other.Secret = "other"
	if _, err := ParseAdminToken(other, token); err == nil {
		t.Fatalf("expected signature mismatch")
	}
}

func TestMintAdminTokenValidatesConfig(t *testing.T) {
	cfg := testJWTConfig()
	cfg.Issuer = ""
	if _, err := MintAdminToken(cfg, time.Now(), AdminTokenPayload{Subject: "ops"}); err == nil || !strings.Contains(err.Error(), "issuer") {
		t.Fatalf("expected issuer error, got %v", err)
	}
	if _, err := MintAdminToken(testJWTConfig(), time.Now(), AdminTokenPayload{}); err == nil {
		t.Fatalf("expected subject error")
	}
}

func TestNonAdminRole(t *testing.T) {
	claims := &AdminClaims{Role: "support"}
	if claims.IsAdmin() {
		t.Fatalf("support must not be admin")
	}
}
