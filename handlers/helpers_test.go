package handlers

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/johnwmail/nshare/config"
	"github.com/johnwmail/nshare/internal/expiry"
	"github.com/johnwmail/nshare/internal/services"
	"github.com/johnwmail/nshare/storage"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
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

type testServer struct {
	router *gin.Engine
	clock  *fakeClock
	store  *storage.MemoryStore
}

// newTestServer mounts the paste and upload handlers on a memory store
func newTestServer(t *testing.T, mutate func(*config.Config)) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := config.DefaultConfig()
	if mutate != nil {
		mutate(cfg)
	}

	store := storage.NewMemoryStore()
	clock := &fakeClock{t: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
	sweeper := expiry.NewSweeper(clock.Now, 0, nil)
	sweeper.Register("pastes", store.Sweep)
	sweeper.Register("upload_sessions", store.SweepSessions)

	deps := services.Deps{Sweeper: sweeper, Now: clock.Now}
	pastes := services.NewPasteService(store, cfg, deps)
	uploads := services.NewUploadService(store, storage.NewKeyedLocker(), pastes, cfg, deps)

	ph := NewPasteHandler(pastes, nil)
	uh := NewUploadHandler(uploads, nil)

	r := gin.New()
	r.POST("/paste", ph.Create)
	r.GET("/paste/:code", ph.Get)
	r.PUT("/paste", ph.Update)
	r.POST("/upload/start", uh.Start)
	r.POST("/upload/chunk", uh.Chunk)
	r.POST("/upload/complete", uh.Complete)

	return &testServer{router: r, clock: clock, store: store}
}

// do sends body as JSON (a string is sent raw) and decodes the response
func (s *testServer) do(t *testing.T, method, path string, body interface{}) (int, map[string]interface{}) {
	t.Helper()

	var raw []byte
	switch b := body.(type) {
	case nil:
	case string:
		raw = []byte(b)
	default:
		var err error
		raw, err = json.Marshal(b)
		if err != nil {
			t.Fatalf("Failed to marshal request: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to unmarshal response %q: %v", w.Body.String(), err)
	}
	return w.Code, resp
}

func b64(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}
