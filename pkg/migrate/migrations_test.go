package migrate_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/angelmondragon/keydrop-backend/pkg/migrate"
)

func TestMigrationsDirIsValid(t *testing.T) {
	if err := migrate.ValidateDir("migrations"); err != nil {
		t.Fatalf("validate migrations: %v", err)
	}
}

func TestMigrationsCarryIntegrityConstraints(t *testing.T) {
	cases := []struct {
		pattern string
		checks  []string
	}{
		{
			pattern: "*_create_orders_and_payments.sql",
			checks: []string{
				"CHECK (total = subtotal - discount_amount - points_discount)",
				"ref_id          TEXT NOT NULL UNIQUE",
				"CHECK (fee IS NULL OR net_amount IS NULL OR fee = amount - net_amount)",
			},
		},
		{
			pattern: "*_create_fulfillment_and_stock.sql",
			checks: []string{
				"CHECK (attempts >= 0 AND attempts <= max_attempts)",
				"order_item_id       UUID UNIQUE",
				"CONSTRAINT ux_stock_items_product_secret UNIQUE (product_id, secret)",
				"trg_stock_items_freeze_sold",
			},
		},
		{
			pattern: "*_create_ledgers.sql",
			checks: []string{
				"CONSTRAINT ux_wallet_transactions_seq UNIQUE (wallet_id, seq)",
				"trg_wallet_transactions_append_only",
				"trg_points_transactions_append_only",
			},
		},
		{
			pattern: "*_create_webhook_logs_and_effects.sql",
			checks: []string{
				"CONSTRAINT ux_payment_effects_key UNIQUE (idempotency_key)",
				"trg_webhook_logs_append_only",
			},
		},
		{
			pattern: "*_create_outbox.sql",
			checks: []string{
				"CONSTRAINT ux_outbox_events_event_aggregate UNIQUE (event_type, aggregate_id)",
			},
		},
		{
			pattern: "*_create_catalog_and_resellers.sql",
			checks: []string{
				"CHECK (capacity IS NULL OR current_usage <= capacity)",
				"('cashback_rate_percent', '100')",
			},
		},
	}

	for _, tc := range cases {
		matches, err := filepath.Glob(filepath.Join("migrations", tc.pattern))
		if err != nil {
			t.Fatalf("glob migrations: %v", err)
		}
		if len(matches) != 1 {
			t.Fatalf("expected one migration for %s, got %d", tc.pattern, len(matches))
		}
		data, err := os.ReadFile(matches[0])
		if err != nil {
			t.Fatalf("read migration file: %v", err)
		}
		for _, sub := range tc.checks {
			if !strings.Contains(string(data), sub) {
				t.Errorf("%s: missing expected statement %q", matches[0], sub)
			}
		}
	}
}

func TestCreateSQLMigrationWritesGooseTemplate(t *testing.T) {
	dir := t.TempDir()
	path, err := migrate.CreateSQLMigration(dir, "Add Provider Notes")
	if err != nil {
		t.Fatalf("create migration: %v", err)
	}
	if !strings.HasSuffix(path, "_add_provider_notes.sql") {
		t.Fatalf("unexpected path %s", path)
	}
	if err := migrate.ValidateDir(dir); err != nil {
		t.Fatalf("created migration should validate: %v", err)
	}
}

func TestValidateDirRejectsBadNames(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "create_things.sql"), []byte("-- +goose Up\n-- +goose Down\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := migrate.ValidateDir(dir); err == nil {
		t.Fatal("expected invalid filename to fail validation")
	}
}

func TestEmbeddedMigrationsMatchDisk(t *testing.T) {
	onDisk, err := filepath.Glob(filepath.Join("migrations", "*.sql"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	embedded, err := migrate.Migrations.ReadDir("migrations")
	if err != nil {
		t.Fatalf("read embedded: %v", err)
	}
	if len(embedded) != len(onDisk) {
		t.Fatalf("expected %d embedded migrations, got %d", len(onDisk), len(embedded))
	}
}
