package repository

import (
	"context"
	"time"
)

// SessionRepository stores the encoded playback snapshot of each room.
// Values are opaque to the repository.
type SessionRepository interface {
	// Save overwrites the snapshot of roomID.
	Save(ctx context.Context, roomID string, data []byte) error

	// Load returns ErrSessionNotFound when nothing is stored for roomID.
	Load(ctx context.Context, roomID string) ([]byte, error)

	// Delete drops the snapshot of roomID.
	Delete(ctx context.Context, roomID string) error
}

// RateLimiter counts requests per key in a fixed window.
type RateLimiter interface {
	// CheckRateLimit increments the counter of key and reports whether it
	// is now above limit.
	CheckRateLimit(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
