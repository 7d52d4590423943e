package service

import (
	"context"
	"time"

	"trackgate/internal/ratelimit/models"
)

// BucketStore counts admissions per key. Keys are built with models.NewKey.
type BucketStore interface {
	// Allow checks if a request is allowed and increments the counter.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.Result, error)
}
