// Package dbtest opens throwaway databases for tests.
package dbtest

import (
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicialibros/loyalty/internal/migration"
	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Open returns an in-memory sqlite database with the full schema. Each test
// gets its own database named after the test. The pool holds one connection,
// so transactions run one after another.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	conn := open(t, fmt.Sprintf("file:%s?mode=memory&cache=shared", name), 1)
	if err := conn.Exec("PRAGMA busy_timeout = 5000").Error; err != nil {
		t.Fatalf("busy_timeout: %v", err)
	}
	migrate(t, conn)
	return conn
}

// OpenFile returns a WAL-mode sqlite database in a temp dir with a pool of
// maxConns connections, so transactions from different goroutines overlap.
func OpenFile(t *testing.T, maxConns int) *gorm.DB {
	t.Helper()

	if maxConns < 2 {
		maxConns = 2
	}
	path := filepath.Join(t.TempDir(), "loyalty.db")
	conn := open(t, path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", maxConns)
	migrate(t, conn)
	return conn
}

func open(t *testing.T, dsn string, maxConns int) *gorm.DB {
	t.Helper()

	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(maxConns)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return conn
}

func migrate(t *testing.T, conn *gorm.DB) {
	t.Helper()
	if err := migration.Run(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}
