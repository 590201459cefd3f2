package database

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"wacompose/internal/errors"
	"wacompose/internal/models"
	"wacompose/pkg/whatsapp/types"
)

// UploadCache persists upload results in the upload_cache table so
// deduplication survives restarts
type UploadCache struct {
	db  *Database
	ttl time.Duration
	now func() time.Time
}

func NewUploadCache(db *Database, ttl time.Duration) *UploadCache {
	return &UploadCache{db: db, ttl: ttl, now: time.Now}
}

// Get returns errors.ErrCacheMiss when key is absent or expired
func (c *UploadCache) Get(ctx context.Context, key string) (*types.UploadResult, error) {
	var result types.UploadResult
	var found bool
	err := c.db.withRetry(ctx, "select upload", func() error {
		scanErr := c.db.db.QueryRowContext(ctx, SelectUploadQuery, key, c.now().Unix()).
			Scan(&result.MediaURL, &result.DirectPath)
		if stderrors.Is(scanErr, sql.ErrNoRows) {
			return nil
		}
		if scanErr == nil {
			found = true
		}
		return scanErr
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, errors.ErrCacheMiss
	}
	return &result, nil
}

func (c *UploadCache) Set(ctx context.Context, key string, result *types.UploadResult) error {
	expires := c.now().Add(c.ttl).Unix()
	return c.db.withRetry(ctx, "upsert upload", func() error {
		_, execErr := c.db.db.ExecContext(ctx, UpsertUploadQuery, key, result.MediaURL, result.DirectPath, expires)
		return execErr
	})
}

// PurgeExpired deletes expired entries and returns how many were removed
func (c *UploadCache) PurgeExpired(ctx context.Context) (int64, error) {
	var n int64
	err := c.db.withRetry(ctx, "purge uploads", func() error {
		res, execErr := c.db.db.ExecContext(ctx, DeleteExpiredUploadsQuery, c.now().Unix())
		if execErr != nil {
			return execErr
		}
		n, execErr = res.RowsAffected()
		return execErr
	})
	return n, err
}

func (c *UploadCache) Name() string { return models.UploadCacheSQLite }
