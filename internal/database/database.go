package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"wacompose/internal/constants"
	"wacompose/internal/migrations"
	"wacompose/internal/models"
	"wacompose/internal/retry"
	"wacompose/internal/security"

	_ "github.com/mattn/go-sqlite3"
)

// Database is the SQLite-backed history store and upload cache
type Database struct {
	db        *sql.DB
	encryptor *encryptor
	backoff   *retry.Backoff
}

// New opens (creating if needed) the database at cfg.Path and applies
// pending migrations
func New(ctx context.Context, cfg models.DatabaseConfig) (*Database, error) {
	if err := security.ValidateFilePath(cfg.Path); err != nil {
		return nil, fmt.Errorf("invalid database path: %w", err)
	}

	file, err := os.OpenFile(cfg.Path, os.O_RDWR|os.O_CREATE, constants.DefaultFilePermissions)
	if err != nil {
		return nil, fmt.Errorf("failed to create database file: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("failed to close database file: %w", err)
	}

	enc, err := newEncryptor(cfg.Encrypt, cfg.EncryptionSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize encryptor: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.Path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to ping database: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := migrations.Apply(ctx, db); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("failed to initialize schema: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Database{db: db, encryptor: enc, backoff: newDBBackoff()}, nil
}

func (d *Database) Close() error {
	return d.db.Close()
}

// Ping reports whether the database is reachable
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}
