// Package testdb opens isolated sqlite databases carrying the sync schema.
// It is only imported from tests.
package testdb

import (
	"strings"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var schema = []string{
	`CREATE TABLE members (
		id TEXT PRIMARY KEY,
		ssn TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		birthday DATE,
		gender INTEGER NOT NULL DEFAULT 0,
		housing_situation INTEGER NOT NULL DEFAULT 0,
		email TEXT,
		phone TEXT,
		street_address TEXT,
		postal_code TEXT,
		city TEXT,
		reachable BOOLEAN NOT NULL,
		groupable BOOLEAN NOT NULL,
		date_joined DATETIME NOT NULL,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
	`CREATE TABLE member_sync_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		record_key TEXT NOT NULL,
		action TEXT NOT NULL,
		changed_fields TEXT NOT NULL,
		fields_version INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at DATETIME NOT NULL,
		synced_at DATETIME,
		error_message TEXT,
		retry_count INTEGER NOT NULL DEFAULT 0,
		retryable BOOLEAN NOT NULL,
		claim_token TEXT,
		claimed_at DATETIME,
		last_attempt_at DATETIME
	)`,
	`CREATE INDEX member_sync_queue_status_created_idx ON member_sync_queue (status, created_at, id)`,
	`CREATE TABLE sync_audit_log (
		id TEXT PRIMARY KEY,
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		processed INTEGER NOT NULL DEFAULT 0,
		succeeded INTEGER NOT NULL DEFAULT 0,
		failed INTEGER NOT NULL DEFAULT 0,
		conflicts INTEGER NOT NULL DEFAULT 0,
		detail TEXT,
		started_at DATETIME NOT NULL,
		completed_at DATETIME,
		created_at DATETIME NOT NULL
	)`,
	`CREATE TABLE sync_clients (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		secret_hash TEXT NOT NULL,
		role TEXT NOT NULL,
		last_used_at DATETIME,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	)`,
}

// Open returns a private in-memory database named after the test, with every
// table created.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	conn, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return conn
}
