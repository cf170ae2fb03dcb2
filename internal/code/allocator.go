package code

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

const (
	// Length is the number of digits in a paste code
	Length = 4

	// DefaultMaxAttempts bounds random draws before giving up on the code space
	DefaultMaxAttempts = 10

	space = 10000
)

// ErrCodeSpaceExhausted is returned when every attempt drew a code that is in use
var ErrCodeSpaceExhausted = errors.New("code space exhausted")

// InUseFunc reports whether an identifier is currently held by a live entry
type InUseFunc func(ctx context.Context, id string) (bool, error)

// Allocator hands out paste codes and upload ids with collision checks.
// It does not reserve what it returns; stores insert-if-absent and callers
// retry on a lost race.
type Allocator struct {
	maxAttempts int
	intn        func(n int64) (int64, error)
	newID       func() string
}

// New creates an allocator backed by crypto/rand
func New() *Allocator {
	return &Allocator{
		maxAttempts: DefaultMaxAttempts,
		intn:        cryptoIntn,
		newID:       uuid.NewString,
	}
}

// WithMaxAttempts returns a copy of the allocator with a different attempt bound
func (a *Allocator) WithMaxAttempts(n int) *Allocator {
	if n < 1 {
		n = 1
	}
	cp := *a
	cp.maxAttempts = n
	return &cp
}

// Random draws one code without any collision check
func (a *Allocator) Random() (string, error) {
	n, err := a.intn(space)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", Length, n), nil
}

// Code draws codes until one is not in use, up to the attempt bound
func (a *Allocator) Code(ctx context.Context, inUse InUseFunc) (string, error) {
	for attempt := 0; attempt < a.maxAttempts; attempt++ {
		c, err := a.Random()
		if err != nil {
			return "", fmt.Errorf("failed to draw code: %w", err)
		}
		taken, err := inUse(ctx, c)
		if err != nil {
			return "", err
		}
		if !taken {
			return c, nil
		}
	}
	return "", ErrCodeSpaceExhausted
}

// UploadID returns a fresh upload session id. Collisions are practically
// impossible with random UUIDs but an existing session is never reused.
func (a *Allocator) UploadID(ctx context.Context, inUse InUseFunc) (string, error) {
	for attempt := 0; attempt < a.maxAttempts; attempt++ {
		id := a.newID()
		taken, err := inUse(ctx, id)
		if err != nil {
			return "", err
		}
		if !taken {
			return id, nil
		}
	}
	return "", fmt.Errorf("failed to allocate upload id after %d attempts", a.maxAttempts)
}

// IsValidCode checks that s is exactly four ASCII digits
func IsValidCode(s string) bool {
	if len(s) != Length {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func cryptoIntn(n int64) (int64, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(n))
	if err != nil {
		return 0, err
	}
	return v.Int64(), nil
}
