package storage

import (
	"context"
	"errors"
	"time"

	"github.com/johnwmail/nshare/models"
)

var (
	// ErrNotFound is returned when a key is absent
	ErrNotFound = errors.New("not found")

	// ErrCodeTaken is returned by an insert whose key is already present
	ErrCodeTaken = errors.New("key already in use")
)

// PasteStore defines the interface for paste storage backends.
// Stores do not judge liveness with a clock of their own beyond native TTL
// support; callers check ExpiresAt on every read.
type PasteStore interface {
	// Create inserts a paste if its code is free, otherwise ErrCodeTaken
	Create(ctx context.Context, paste *models.Paste) error

	// Get retrieves a paste by code or ErrNotFound
	Get(ctx context.Context, code string) (*models.Paste, error)

	// UpdateContent overwrites the content of an existing paste
	UpdateContent(ctx context.Context, code, content string) error

	// IncrementDownloadCount adds one to the download counter and returns the new value
	IncrementDownloadCount(ctx context.Context, code string) (int64, error)

	// Delete removes a paste; deleting a missing code is not an error
	Delete(ctx context.Context, code string) error

	// Sweep removes pastes that expired before now
	Sweep(ctx context.Context, now time.Time) (int, error)

	// Close releases backend resources
	Close() error
}

// UploadStore defines the interface for chunked upload session backends
type UploadStore interface {
	// CreateSession inserts a session if its id is free, otherwise ErrCodeTaken
	CreateSession(ctx context.Context, session *models.UploadSession) error

	// GetSession retrieves a session together with its chunks or ErrNotFound
	GetSession(ctx context.Context, uploadID string) (*models.UploadSession, error)

	// GetSessionMeta retrieves a session and its chunk count without chunk
	// data, or ErrNotFound
	GetSessionMeta(ctx context.Context, uploadID string) (*models.UploadSession, error)

	// PutChunk stores chunk data at index, overwriting a previous submission,
	// and returns the number of distinct indices received so far
	PutChunk(ctx context.Context, uploadID string, index int, data string) (int, error)

	// DeleteSession removes a session and its chunks
	DeleteSession(ctx context.Context, uploadID string) error

	// SweepSessions removes sessions that expired before now
	SweepSessions(ctx context.Context, now time.Time) (int, error)

	// Close releases backend resources
	Close() error
}

// Locker serializes work on one key across concurrent requests
type Locker interface {
	// Lock blocks until the key is held or ctx ends and returns the release func
	Lock(ctx context.Context, key string) (func(), error)
}
