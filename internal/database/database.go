package database

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/mixelka/mailsync/internal/crypto"
)

// DB wraps sqlx.DB and seals account secrets on the way in and out
type DB struct {
	*sqlx.DB
	box *crypto.SecretBox
}

// New creates a new database connection
func New(path string, box *crypto.SecretBox) (*DB, error) {
	inMemory := path == ":memory:" || strings.HasPrefix(path, "file::memory:")

	if !inMemory {
		// Ensure directory exists
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// Connect with WAL mode and foreign keys enabled
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", path)
	if inMemory {
		dsn = fmt.Sprintf("%s?_foreign_keys=on", path)
	}

	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Every connection to :memory: is a separate database
	if inMemory {
		db.SetMaxOpenConns(1)
	}

	return &DB{DB: db, box: box}, nil
}

// Migrate runs database migrations
func (db *DB) Migrate(ctx context.Context) error {
	_, err := db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}
