package services

import (
	"encoding/base64"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/johnwmail/nshare/config"
	"github.com/johnwmail/nshare/internal/expiry"
	"github.com/johnwmail/nshare/storage"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type testEnv struct {
	cfg     *config.Config
	store   *storage.MemoryStore
	clock   *fakeClock
	sweeper *expiry.Sweeper
	pastes  *PasteService
	uploads *UploadService
}

// newTestEnv wires both services on one memory store with a fake clock.
// mutate adjusts the config before the services are built.
func newTestEnv(t *testing.T, mutate func(*config.Config)) *testEnv {
	t.Helper()
	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}

	store := storage.NewMemoryStore()
	clock := newFakeClock()
	sweeper := expiry.NewSweeper(clock.Now, 0, nil)
	sweeper.Register("pastes", store.Sweep)
	sweeper.Register("uploads", store.SweepSessions)

	deps := Deps{Sweeper: sweeper, Now: clock.Now}
	pastes := NewPasteService(store, cfg, deps)
	uploads := NewUploadService(store, storage.NewKeyedLocker(), pastes, cfg, deps)

	return &testEnv{
		cfg:     cfg,
		store:   store,
		clock:   clock,
		sweeper: sweeper,
		pastes:  pastes,
		uploads: uploads,
	}
}

func dataURI(mimeType string, raw []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(raw)
}

func bytesOf(n int) []byte {
	return []byte(strings.Repeat("x", n))
}
