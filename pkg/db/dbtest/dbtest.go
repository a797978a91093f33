// Package dbtest opens throwaway sqlite databases carrying the marketplace schema.
package dbtest

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/quickbuyer/quickbuyer-backend/pkg/db"
)

// Schema mirrors pkg/migrate/migrations using sqlite types.
var Schema = []string{
	`CREATE TABLE users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		name TEXT,
		avatar_url TEXT,
		role TEXT NOT NULL DEFAULT 'user',
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE projects (
		id TEXT PRIMARY KEY,
		slug TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL,
		description TEXT NOT NULL,
		long_description TEXT,
		price NUMERIC NOT NULL,
		category TEXT NOT NULL,
		thumbnail_url TEXT,
		download_url TEXT NOT NULL,
		docs_url TEXT,
		demo_url TEXT,
		user_id TEXT NOT NULL,
		author_name TEXT,
		author_avatar TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		download_count INTEGER NOT NULL DEFAULT 0,
		rating NUMERIC NOT NULL DEFAULT 0,
		review_count INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE purchases (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		user_id TEXT,
		customer_email TEXT,
		checkout_id TEXT NOT NULL,
		amount NUMERIC NOT NULL,
		currency TEXT NOT NULL DEFAULT 'USD',
		status TEXT NOT NULL DEFAULT 'completed',
		download_count INTEGER NOT NULL DEFAULT 0,
		last_downloaded_at DATETIME,
		created_at DATETIME,
		UNIQUE (checkout_id, project_id)
	)`,
	`CREATE TABLE subscriptions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL UNIQUE,
		plan_name TEXT NOT NULL,
		billing_cycle TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		current_period_start DATETIME NOT NULL,
		current_period_end DATETIME NOT NULL,
		external_subscription_id TEXT,
		external_customer_id TEXT,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE ipfs_uploads (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		cid TEXT NOT NULL,
		filename TEXT NOT NULL,
		size INTEGER NOT NULL,
		url TEXT NOT NULL,
		created_at DATETIME
	)`,
	`CREATE TABLE webhook_events (
		id TEXT PRIMARY KEY,
		provider TEXT NOT NULL,
		provider_event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		payload BLOB NOT NULL,
		status TEXT NOT NULL,
		processing_error TEXT,
		processed_at DATETIME NOT NULL,
		created_at DATETIME,
		UNIQUE (provider, provider_event_id)
	)`,
	`CREATE TABLE outbox_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload BLOB NOT NULL,
		created_at DATETIME,
		published_at DATETIME,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT
	)`,
	`CREATE TABLE outbox_dlq (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload_json BLOB NOT NULL,
		error_reason TEXT NOT NULL,
		error_message TEXT,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		failed_at DATETIME
	)`,
}

// Open returns a private in-memory database with the schema applied. The
// connection is closed when the test ends.
func Open(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{SkipDefaultTransaction: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range Schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return conn
}

// OpenClient wraps Open in a db.Client.
func OpenClient(t testing.TB) *db.Client {
	t.Helper()
	return db.FromGorm(Open(t))
}
