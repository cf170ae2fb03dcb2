package expiry

import (
	"time"
)

// DefaultOption is used when a request names no expiration or an unknown one
const DefaultOption = "30min"

// DefaultTTL is the duration of DefaultOption
const DefaultTTL = 30 * time.Minute

var options = []struct {
	key string
	ttl time.Duration
}{
	{"5min", 5 * time.Minute},
	{"30min", 30 * time.Minute},
	{"1hour", time.Hour},
	{"6hours", 6 * time.Hour},
	{"12hours", 12 * time.Hour},
	{"1day", 24 * time.Hour},
	{"3days", 3 * 24 * time.Hour},
	{"7days", 7 * 24 * time.Hour},
	{"30days", 30 * 24 * time.Hour},
}

// Options returns the expiration option keys in ascending duration order
func Options() []string {
	keys := make([]string, len(options))
	for i, o := range options {
		keys[i] = o.key
	}
	return keys
}

// Lookup returns the duration for an option key
func Lookup(option string) (time.Duration, bool) {
	for _, o := range options {
		if o.key == option {
			return o.ttl, true
		}
	}
	return 0, false
}

// Policy resolves expiration options against a configurable default
type Policy struct {
	Default time.Duration
}

// NewPolicy creates a policy; a non-positive default falls back to DefaultTTL
func NewPolicy(def time.Duration) Policy {
	if def <= 0 {
		def = DefaultTTL
	}
	return Policy{Default: def}
}

// ResolveTTL maps an option key to its duration, or the policy default
func (p Policy) ResolveTTL(option string) time.Duration {
	if ttl, ok := Lookup(option); ok {
		return ttl
	}
	if p.Default <= 0 {
		return DefaultTTL
	}
	return p.Default
}

// ResolveTTL resolves an option key with the package default
func ResolveTTL(option string) time.Duration {
	return Policy{Default: DefaultTTL}.ResolveTTL(option)
}

// IsLive reports whether an entry expiring at expiresAt (epoch ms) is still live at now
func IsLive(expiresAt int64, now time.Time) bool {
	return now.UnixMilli() <= expiresAt
}

// ExpiresAt stamps the absolute expiry (epoch ms) for an entry created at now
func ExpiresAt(now time.Time, ttl time.Duration) int64 {
	return now.UnixMilli() + ttl.Milliseconds()
}

// Remaining returns the milliseconds left before expiresAt, never negative
func Remaining(expiresAt int64, now time.Time) int64 {
	if left := expiresAt - now.UnixMilli(); left > 0 {
		return left
	}
	return 0
}
