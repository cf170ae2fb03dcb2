package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/johnwmail/nshare/config"
	"github.com/johnwmail/nshare/internal/code"
	"github.com/johnwmail/nshare/internal/expiry"
	"github.com/johnwmail/nshare/models"
	"github.com/johnwmail/nshare/storage"
)

func TestCreateAndGet_RoundTrip(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	inputs := []string{"hello", "  leading and trailing  ", "multi\nline\ncontent", "ünïcødé ✓"}
	for _, in := range inputs {
		res, err := env.pastes.Create(ctx, CreatePasteRequest{Content: in})
		if err != nil {
			t.Fatalf("Create(%q) failed: %v", in, err)
		}
		if !code.IsValidCode(res.Code) {
			t.Errorf("Create returned malformed code %q", res.Code)
		}
		got, err := env.pastes.Get(ctx, res.Code)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Content != in {
			t.Errorf("round trip: got %q, want %q", got.Content, in)
		}
	}
}

func TestCreate_FiveMinuteScenario(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	res, err := env.pastes.Create(ctx, CreatePasteRequest{Content: "hello", ExpirationOption: "5min"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if res.ExpiresAt-res.CreatedAt != 300000 {
		t.Errorf("expiresAt - createdAt = %d, want 300000", res.ExpiresAt-res.CreatedAt)
	}

	env.clock.Advance(4*time.Minute + 59*time.Second)
	got, err := env.pastes.Get(ctx, res.Code)
	if err != nil {
		t.Fatalf("Get before expiry failed: %v", err)
	}
	if got.Content != "hello" {
		t.Errorf("content = %q, want hello", got.Content)
	}

	env.clock.Advance(2 * time.Second)
	if _, err := env.pastes.Get(ctx, res.Code); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after expiry error = %v, want ErrNotFound", err)
	}
}

func TestGet_ExpiredWithoutSweep(t *testing.T) {
	store := storage.NewMemoryStore()
	clock := newFakeClock()
	// A sweeper with no registered collections never removes anything
	deps := Deps{Sweeper: expiry.NewSweeper(clock.Now, 0, nil), Now: clock.Now}
	svc := NewPasteService(store, config.DefaultConfig(), deps)
	ctx := context.Background()

	res, err := svc.Create(ctx, CreatePasteRequest{Content: "short lived", ExpirationOption: "5min"})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Exactly at expiresAt the paste is still live
	clock.Advance(5 * time.Minute)
	if _, err := svc.Get(ctx, res.Code); err != nil {
		t.Fatalf("Get at expiresAt failed: %v", err)
	}

	clock.Advance(time.Millisecond)
	if _, err := svc.Get(ctx, res.Code); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get past expiry error = %v, want ErrNotFound", err)
	}
	if n, _ := store.Len(); n != 0 {
		t.Errorf("expired paste should be removed on read, %d left", n)
	}
}

func TestCreate_DefaultTTL(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, option := range []string{"", "bogus"} {
		res, err := env.pastes.Create(context.Background(), CreatePasteRequest{Content: "x", ExpirationOption: option})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if got := time.Duration(res.ExpiresAt-res.CreatedAt) * time.Millisecond; got != 30*time.Minute {
			t.Errorf("option %q: ttl = %v, want 30m", option, got)
		}
	}
}

func TestCreate_Validation(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		c.MaxFileSize = 30
		c.MaxTotalSize = 50
		c.MaxFiles = 3
	})

	file := func(name string, n int) models.File {
		return models.File{Name: name, Type: "text/plain", Content: dataURI("text/plain", bytesOf(n))}
	}

	tests := []struct {
		name string
		req  CreatePasteRequest
		want error
	}{
		{"empty text", CreatePasteRequest{Content: ""}, ErrValidation},
		{"blank text", CreatePasteRequest{Content: " \n\t"}, ErrValidation},
		{"text over limit", CreatePasteRequest{Content: string(bytesOf(31))}, ErrPayloadTooLarge},
		{"file without name", CreatePasteRequest{IsFile: true, Content: dataURI("text/plain", bytesOf(3))}, ErrValidation},
		{"file not a data URI", CreatePasteRequest{IsFile: true, FileName: "a.txt", Content: "plain"}, ErrValidation},
		{"file at limit", CreatePasteRequest{IsFile: true, FileName: "a.txt", Content: dataURI("text/plain", bytesOf(30))}, nil},
		{"file one byte over", CreatePasteRequest{IsFile: true, FileName: "a.txt", Content: dataURI("text/plain", bytesOf(31))}, ErrPayloadTooLarge},
		{"batch empty", CreatePasteRequest{IsMultiFile: true}, ErrValidation},
		{"batch too many files", CreatePasteRequest{IsMultiFile: true, Files: []models.File{file("a", 1), file("b", 1), file("c", 1), file("d", 1)}}, ErrPayloadTooLarge},
		{"batch file too large", CreatePasteRequest{IsMultiFile: true, Files: []models.File{file("a", 33)}}, ErrPayloadTooLarge},
		{"batch aggregate too large", CreatePasteRequest{IsMultiFile: true, Files: []models.File{file("a", 27), file("b", 27)}}, ErrPayloadTooLarge},
		{"batch file without name", CreatePasteRequest{IsMultiFile: true, Files: []models.File{file("", 3)}}, ErrValidation},
		{"batch within limits", CreatePasteRequest{IsMultiFile: true, Files: []models.File{file("a", 24), file("b", 24)}}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.pastes.Create(context.Background(), tt.req)
			if tt.want == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}

	if pastes, _ := env.store.Len(); pastes != 2 {
		t.Errorf("only valid requests may be stored; have %d pastes", pastes)
	}
}

func TestCreate_FilesAreNeverEditable(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	single, err := env.pastes.Create(ctx, CreatePasteRequest{
		IsFile:       true,
		FileName:     "a.png",
		Content:      dataURI("image/png", []byte{1, 2, 3}),
		AllowEditing: true,
	})
	if err != nil {
		t.Fatalf("Create file failed: %v", err)
	}
	batch, err := env.pastes.Create(ctx, CreatePasteRequest{
		IsMultiFile:  true,
		Files:        []models.File{{Name: "a.txt", Content: dataURI("text/plain", []byte("a"))}},
		AllowEditing: true,
	})
	if err != nil {
		t.Fatalf("Create batch failed: %v", err)
	}

	p, _ := env.pastes.Get(ctx, single.Code)
	if p.AllowEditing || p.FileType != "image/png" {
		t.Errorf("file paste = %+v, want allowEditing=false and type from data URI", p)
	}
	b, _ := env.pastes.Get(ctx, batch.Code)
	if b.AllowEditing || b.Files[0].Type != "text/plain" {
		t.Errorf("batch paste = %+v", b)
	}

	for _, c := range []string{single.Code, batch.Code} {
		if err := env.pastes.Update(ctx, c, "new"); !errors.Is(err, ErrForbidden) {
			t.Errorf("Update(%s) error = %v, want ErrForbidden", c, err)
		}
	}
}

func TestUpdate(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.MaxFileSize = 1024 })
	ctx := context.Background()

	editable, _ := env.pastes.Create(ctx, CreatePasteRequest{Content: "v1", AllowEditing: true})
	locked, _ := env.pastes.Create(ctx, CreatePasteRequest{Content: "v1"})

	if err := env.pastes.Update(ctx, editable.Code, "v2"); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	got, _ := env.pastes.Get(ctx, editable.Code)
	if got.Content != "v2" {
		t.Errorf("content = %q, want v2", got.Content)
	}
	if got.ExpiresAt != editable.ExpiresAt {
		t.Error("editing must not change expiry")
	}

	if err := env.pastes.Update(ctx, editable.Code, string(bytesOf(int(env.cfg.MaxFileSize)+1))); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("Update oversized error = %v, want ErrPayloadTooLarge", err)
	}

	if err := env.pastes.Update(ctx, locked.Code, "v2"); !errors.Is(err, ErrForbidden) {
		t.Errorf("Update non-editable error = %v, want ErrForbidden", err)
	}

	missing := "0000"
	if missing == editable.Code || missing == locked.Code {
		missing = "0001"
	}
	if err := env.pastes.Update(ctx, missing, "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update missing error = %v, want ErrNotFound", err)
	}
	if err := env.pastes.Update(ctx, "12a4", "x"); !errors.Is(err, ErrValidation) {
		t.Errorf("Update bad code error = %v, want ErrValidation", err)
	}

	env.clock.Advance(31 * time.Minute)
	if err := env.pastes.Update(ctx, editable.Code, "v3"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update expired error = %v, want ErrNotFound", err)
	}
}

func TestRetrieve_DownloadCount(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	res, _ := env.pastes.Create(ctx, CreatePasteRequest{Content: "count me", ExpirationOption: "5min"})
	for want := int64(1); want <= 3; want++ {
		p, err := env.pastes.Retrieve(ctx, res.Code)
		if err != nil {
			t.Fatalf("Retrieve failed: %v", err)
		}
		if p.DownloadCount != want {
			t.Errorf("downloadCount = %d, want %d", p.DownloadCount, want)
		}
	}

	// Plain Get does not count
	p, _ := env.pastes.Get(ctx, res.Code)
	if p.DownloadCount != 3 {
		t.Errorf("Get changed downloadCount to %d", p.DownloadCount)
	}

	if _, err := env.pastes.Retrieve(ctx, "abcd"); !errors.Is(err, ErrValidation) {
		t.Errorf("Retrieve bad code error = %v, want ErrValidation", err)
	}

	env.clock.Advance(6 * time.Minute)
	if _, err := env.pastes.RecordAccess(ctx, res.Code); !errors.Is(err, ErrNotFound) {
		t.Errorf("RecordAccess expired error = %v, want ErrNotFound", err)
	}
}

func TestRecordAccess_Concurrent(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	res, _ := env.pastes.Create(ctx, CreatePasteRequest{Content: "busy"})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := env.pastes.RecordAccess(ctx, res.Code); err != nil {
				t.Errorf("RecordAccess failed: %v", err)
			}
		}()
	}
	wg.Wait()

	p, _ := env.pastes.Get(ctx, res.Code)
	if p.DownloadCount != 50 {
		t.Errorf("downloadCount = %d, want 50", p.DownloadCount)
	}
}

func TestCreate_DistinctCodes(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 500; i++ {
		res, err := env.pastes.Create(ctx, CreatePasteRequest{Content: "x"})
		if err != nil {
			t.Fatalf("Create %d failed: %v", i, err)
		}
		if seen[res.Code] {
			t.Fatalf("code %s issued twice", res.Code)
		}
		seen[res.Code] = true
	}
}

func TestCreate_ConcurrentDistinctCodes(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		codes = make(map[string]int)
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := env.pastes.Create(ctx, CreatePasteRequest{Content: "x"})
			if err != nil {
				t.Errorf("Create failed: %v", err)
				return
			}
			mu.Lock()
			codes[res.Code]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if pastes, _ := env.store.Len(); pastes != len(codes) {
		t.Errorf("stored %d pastes for %d distinct codes", pastes, len(codes))
	}
	for c, n := range codes {
		if n > 1 {
			t.Errorf("code %s issued %d times", c, n)
		}
	}
}

func TestCreate_CodeSpaceExhaustion(t *testing.T) {
	store := storage.NewMemoryStore()
	clock := newFakeClock()
	deps := Deps{Sweeper: expiry.NewSweeper(clock.Now, 0, nil), Now: clock.Now}
	svc := NewPasteService(store, config.DefaultConfig(), deps)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i <= 10000; i++ {
		res, err := svc.Create(ctx, CreatePasteRequest{Content: "fill"})
		if err != nil {
			if !errors.Is(err, code.ErrCodeSpaceExhausted) {
				t.Fatalf("error = %v, want ErrCodeSpaceExhausted", err)
			}
			if len(seen) == 0 {
				t.Fatal("exhausted before any code was issued")
			}
			return
		}
		if seen[res.Code] {
			t.Fatalf("code %s issued twice", res.Code)
		}
		seen[res.Code] = true
	}
	t.Fatal("expected exhaustion before 10001 live pastes")
}

func TestCreate_ReusesExpiredCodes(t *testing.T) {
	store := storage.NewMemoryStore()
	clock := newFakeClock()
	deps := Deps{
		Allocator: code.New().WithMaxAttempts(200),
		Sweeper:   expiry.NewSweeper(clock.Now, 0, nil),
		Now:       clock.Now,
	}
	svc := NewPasteService(store, config.DefaultConfig(), deps)
	ctx := context.Background()

	// Occupy most of the code space with pastes that then expire
	for i := 0; i < 9000; i++ {
		if _, err := svc.Create(ctx, CreatePasteRequest{Content: "old", ExpirationOption: "5min"}); err != nil {
			t.Fatalf("Create %d failed: %v", i, err)
		}
	}
	clock.Advance(10 * time.Minute)

	for i := 0; i < 100; i++ {
		if _, err := svc.Create(ctx, CreatePasteRequest{Content: "new"}); err != nil {
			t.Fatalf("Create over expired codes failed: %v", err)
		}
	}
}

func TestDelete_Idempotent(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	res, _ := env.pastes.Create(ctx, CreatePasteRequest{Content: "bye"})

	for i := 0; i < 2; i++ {
		if err := env.pastes.Delete(ctx, res.Code); err != nil {
			t.Fatalf("Delete %d failed: %v", i, err)
		}
	}
	if _, err := env.pastes.Get(ctx, res.Code); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete error = %v, want ErrNotFound", err)
	}
}

func TestOpportunisticSweepRemovesExpired(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if _, err := env.pastes.Create(ctx, CreatePasteRequest{Content: "old", ExpirationOption: "5min"}); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}
	env.clock.Advance(6 * time.Minute)

	if _, err := env.pastes.Create(ctx, CreatePasteRequest{Content: "new"}); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if pastes, _ := env.store.Len(); pastes != 1 {
		t.Errorf("expired pastes not swept: %d remain", pastes)
	}
}
