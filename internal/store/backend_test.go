package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"

	"github.com/mesh-intelligence/depot/internal/dialect"
	"github.com/mesh-intelligence/depot/pkg/types"
)

func TestBackend_Attach(t *testing.T) {
	tmpDir := t.TempDir()

	b := NewBackend()
	config := types.Config{
		Driver:  types.DriverSQLite,
		DataDir: tmpDir,
	}

	if err := b.Attach(config); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	defer b.Detach()

	// Verify database file created
	if _, err := os.Stat(filepath.Join(tmpDir, DatabaseFile)); os.IsNotExist(err) {
		t.Errorf("%s not created", DatabaseFile)
	}

	// Verify double attach fails
	if err := b.Attach(config); err != types.ErrAlreadyAttached {
		t.Errorf("expected ErrAlreadyAttached, got %v", err)
	}

	db, err := b.DB()
	if err != nil {
		t.Fatalf("DB failed: %v", err)
	}
	if db.Dialect().Product != dialect.SQLite {
		t.Errorf("expected sqlite dialect, got %s", db.Dialect().Product)
	}

	ctx := context.Background()
	for _, table := range append(append([]string{}, types.KeyedTableNames...), types.LinkTableNames...) {
		ok, err := db.Dialect().TableExists(ctx, db.Pool(), table)
		if err != nil {
			t.Fatalf("TableExists(%s): %v", table, err)
		}
		if !ok {
			t.Errorf("table %s not created", table)
		}
	}
}

func TestBackend_Detach(t *testing.T) {
	b := NewBackend()
	config := types.Config{
		Driver:  types.DriverSQLite,
		DataDir: t.TempDir(),
	}
	if err := b.Attach(config); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}

	if err := b.Detach(); err != nil {
		t.Fatalf("Detach failed: %v", err)
	}

	// Verify idempotent
	if err := b.Detach(); err != nil {
		t.Errorf("second Detach should not error, got %v", err)
	}

	// Verify operations fail after detach
	if _, err := b.DB(); err != types.ErrDepotDetached {
		t.Errorf("expected ErrDepotDetached, got %v", err)
	}
}

func TestBackend_ReattachKeepsData(t *testing.T) {
	tmpDir := t.TempDir()
	config := types.Config{Driver: types.DriverSQLite, DataDir: tmpDir}
	ctx := context.Background()

	b := NewBackend()
	if err := b.Attach(config); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	db, _ := b.DB()
	if _, err := db.Pool().ExecContext(ctx, "INSERT INTO args (name, value) VALUES ('a', 'b')"); err != nil {
		t.Fatalf("insert: %v", err)
	}
	b.Detach()

	b = NewBackend()
	if err := b.Attach(config); err != nil {
		t.Fatalf("re-Attach failed: %v", err)
	}
	defer b.Detach()
	db, _ = b.DB()

	var n int
	if err := db.Pool().QueryRowContext(ctx, "SELECT COUNT(*) FROM args").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 arg after reattach, got %d", n)
	}
}

func TestBackend_SequenceStrategy(t *testing.T) {
	b := NewBackend()
	config := types.Config{
		Driver:      types.DriverSQLite,
		DataDir:     t.TempDir(),
		KeyStrategy: types.KeyStrategySequence,
	}
	if err := b.Attach(config); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	defer b.Detach()

	db, _ := b.DB()
	if db.Dialect().GeneratedKeys() {
		t.Fatal("expected sequence key strategy")
	}
	next, err := db.Dialect().NextValue(context.Background(), db.Pool(), types.SuitesTable)
	if err != nil {
		t.Fatalf("NextValue: %v", err)
	}
	if next != 1 {
		t.Errorf("expected first sequence value 1, got %d", next)
	}
}

func TestBackend_InvalidConfig(t *testing.T) {
	b := NewBackend()
	if err := b.Attach(types.Config{}); err == nil {
		t.Error("expected error for empty driver")
	}
	if err := b.Attach(types.Config{Driver: types.DriverMySQL}); err == nil {
		t.Error("expected error for mysql without dsn")
	}
}

func TestBackend_BadDSNKeepsDriverError(t *testing.T) {
	b := NewBackend()
	err := b.Attach(types.Config{Driver: types.DriverMySQL, DSN: "user:pw@tcp(db:3306)/depot?timeout=soon"})
	if err == nil {
		t.Fatal("expected error for malformed mysql dsn")
	}
	if !strings.HasPrefix(err.Error(), "parsing mysql dsn: ") {
		t.Errorf("unexpected message %q", err.Error())
	}
	if errors.Cause(err) == err {
		t.Error("expected the driver error to be wrapped")
	}
	if _, parsed := mysql.ParseDSN("user:pw@tcp(db:3306)/depot?timeout=soon"); errors.Cause(err).Error() != parsed.Error() {
		t.Errorf("cause %v, want %v", errors.Cause(err), parsed)
	}
}
