package db

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type testModel struct {
	ID   int
	Name string `gorm:"uniqueIndex"`
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:db_client_%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(&testModel{}); err != nil {
		t.Fatalf("failed to migrate sqlite: %v", err)
	}
	return conn
}

func TestWithTx_CommitsAndRollbacks(t *testing.T) {
	db := newTestDB(t)
	client := FromConn(db)

	ctx := context.Background()
	if err := client.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.Create(&testModel{Name: "committed"}).Error
	}); err != nil {
		t.Fatalf("WithTx commit failed: %v", err)
	}

	var count int64
	if err := db.Model(&testModel{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 record, got %d", count)
	}

	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := tx.Create(&testModel{Name: "rolled"}).Error; err != nil {
			return err
		}
		return errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected WithTx to return an error")
	}
	if err := db.Model(&testModel{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed after rollback: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected rollback to leave 1 record, got %d", count)
	}
}

func TestWithTx_RollsBackOnPanic(t *testing.T) {
	db := newTestDB(t)
	client := FromConn(db)

	func() {
		defer func() {
			if recover() == nil {
				t.Fatal("expected panic to propagate")
			}
		}()
		_ = client.WithTx(context.Background(), func(tx *gorm.DB) error {
			if err := tx.Create(&testModel{Name: "panicked"}).Error; err != nil {
				return err
			}
			panic("boom")
		})
	}()

	var count int64
	if err := db.Model(&testModel{}).Count(&count).Error; err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected panic rollback, got %d rows", count)
	}
}

func TestPing(t *testing.T) {
	client := FromConn(newTestDB(t))
	if err := client.Ping(context.Background()); err != nil {
		t.Fatalf("unexpected ping error: %v", err)
	}
}

func TestIsUniqueViolation(t *testing.T) {
	db := newTestDB(t)
	if err := db.Create(&testModel{Name: "dup"}).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}
	err := db.Create(&testModel{Name: "dup"}).Error
	if !IsUniqueViolation(err, "") {
		t.Fatalf("expected sqlite unique violation, got %v", err)
	}

	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "ux_payment_effects_key"}
	wrapped := fmt.Errorf("insert: %w", pgErr)
	if !IsUniqueViolation(wrapped, "ux_payment_effects_key") {
		t.Fatal("expected pg unique violation to match constraint")
	}
	if IsUniqueViolation(wrapped, "other_constraint") {
		t.Fatal("expected constraint mismatch to be false")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}, "") {
		t.Fatal("foreign key violation is not a unique violation")
	}
	if IsUniqueViolation(nil, "") {
		t.Fatal("nil is never a violation")
	}
}
