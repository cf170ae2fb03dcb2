package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/johnwmail/nshare/models"
)

func newTestPaste(code string, ttl time.Duration) *models.Paste {
	now := time.Now()
	return &models.Paste{
		Code:         code,
		Content:      "hello world",
		CreatedAt:    now.UnixMilli(),
		ExpiresAt:    now.Add(ttl).UnixMilli(),
		AllowEditing: true,
	}
}

// testPasteStore exercises the behaviour every PasteStore must share
func testPasteStore(t *testing.T, store PasteStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		p := newTestPaste("1001", time.Hour)
		if err := store.Create(ctx, p); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		got, err := store.Get(ctx, "1001")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Content != p.Content || got.ExpiresAt != p.ExpiresAt || !got.AllowEditing {
			t.Errorf("Get returned %+v, want %+v", got, p)
		}
	})

	t.Run("create does not overwrite", func(t *testing.T) {
		first := newTestPaste("1002", time.Hour)
		first.Content = "first"
		second := newTestPaste("1002", time.Hour)
		second.Content = "second"

		if err := store.Create(ctx, first); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if err := store.Create(ctx, second); !errors.Is(err, ErrCodeTaken) {
			t.Fatalf("second Create error = %v, want ErrCodeTaken", err)
		}
		got, err := store.Get(ctx, "1002")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Content != "first" {
			t.Errorf("code collision overwrote content: got %q", got.Content)
		}
	})

	t.Run("multi-file round trip", func(t *testing.T) {
		p := newTestPaste("1003", time.Hour)
		p.Content = ""
		p.IsMultiFile = true
		p.AllowEditing = false
		p.Files = []models.File{
			{Name: "a.txt", Type: "text/plain", Content: "data:text/plain;base64,YQ=="},
			{Name: "b.png", Type: "image/png", Content: "data:image/png;base64,Yg=="},
		}
		if err := store.Create(ctx, p); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		got, err := store.Get(ctx, "1003")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !got.IsMultiFile || len(got.Files) != 2 || got.Files[1].Name != "b.png" {
			t.Errorf("multi-file paste not preserved: %+v", got)
		}
	})

	t.Run("get missing", func(t *testing.T) {
		if _, err := store.Get(ctx, "9999"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get missing error = %v, want ErrNotFound", err)
		}
	})

	t.Run("update content keeps expiry", func(t *testing.T) {
		p := newTestPaste("1004", time.Hour)
		if err := store.Create(ctx, p); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if err := store.UpdateContent(ctx, "1004", "updated"); err != nil {
			t.Fatalf("UpdateContent failed: %v", err)
		}
		got, err := store.Get(ctx, "1004")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.Content != "updated" || got.ExpiresAt != p.ExpiresAt {
			t.Errorf("after update got content %q expiresAt %d", got.Content, got.ExpiresAt)
		}
		if err := store.UpdateContent(ctx, "9998", "x"); !errors.Is(err, ErrNotFound) {
			t.Errorf("UpdateContent missing error = %v, want ErrNotFound", err)
		}
	})

	t.Run("increment download count", func(t *testing.T) {
		if err := store.Create(ctx, newTestPaste("1005", time.Hour)); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		for want := int64(1); want <= 3; want++ {
			got, err := store.IncrementDownloadCount(ctx, "1005")
			if err != nil {
				t.Fatalf("IncrementDownloadCount failed: %v", err)
			}
			if got != want {
				t.Errorf("count = %d, want %d", got, want)
			}
		}
		if _, err := store.IncrementDownloadCount(ctx, "9997"); !errors.Is(err, ErrNotFound) {
			t.Errorf("increment missing error = %v, want ErrNotFound", err)
		}
	})

	t.Run("concurrent increments are not lost", func(t *testing.T) {
		if err := store.Create(ctx, newTestPaste("1006", time.Hour)); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := store.IncrementDownloadCount(ctx, "1006"); err != nil {
					t.Errorf("IncrementDownloadCount failed: %v", err)
				}
			}()
		}
		wg.Wait()
		got, err := store.Get(ctx, "1006")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if got.DownloadCount != 20 {
			t.Errorf("DownloadCount = %d, want 20", got.DownloadCount)
		}
	})

	t.Run("delete", func(t *testing.T) {
		if err := store.Create(ctx, newTestPaste("1007", time.Hour)); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if err := store.Delete(ctx, "1007"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := store.Get(ctx, "1007"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get after delete error = %v, want ErrNotFound", err)
		}
		if err := store.Delete(ctx, "1007"); err != nil {
			t.Errorf("deleting a missing code should not fail: %v", err)
		}
	})
}

// testUploadStore exercises the behaviour every UploadStore must share
func testUploadStore(t *testing.T, store UploadStore) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()

	newSession := func(id string) *models.UploadSession {
		return &models.UploadSession{
			UploadID:    id,
			FileName:    "big.bin",
			FileType:    "application/octet-stream",
			TotalSize:   9,
			TotalChunks: 3,
			CreatedAt:   now.UnixMilli(),
			ExpiresAt:   now.Add(time.Hour).UnixMilli(),
		}
	}

	t.Run("create and get", func(t *testing.T) {
		if err := store.CreateSession(ctx, newSession("u-1")); err != nil {
			t.Fatalf("CreateSession failed: %v", err)
		}
		got, err := store.GetSession(ctx, "u-1")
		if err != nil {
			t.Fatalf("GetSession failed: %v", err)
		}
		if got.FileName != "big.bin" || got.TotalChunks != 3 || got.UploadedChunks != 0 {
			t.Errorf("GetSession returned %+v", got)
		}
		if err := store.CreateSession(ctx, newSession("u-1")); !errors.Is(err, ErrCodeTaken) {
			t.Errorf("duplicate CreateSession error = %v, want ErrCodeTaken", err)
		}
	})

	t.Run("chunks count distinct indices", func(t *testing.T) {
		if err := store.CreateSession(ctx, newSession("u-2")); err != nil {
			t.Fatalf("CreateSession failed: %v", err)
		}
		steps := []struct {
			index int
			data  string
			want  int
		}{
			{1, "BBBB", 1},
			{0, "AAAA", 2},
			{1, "bbbb", 2},
			{2, "CCCC", 3},
		}
		for _, s := range steps {
			got, err := store.PutChunk(ctx, "u-2", s.index, s.data)
			if err != nil {
				t.Fatalf("PutChunk(%d) failed: %v", s.index, err)
			}
			if got != s.want {
				t.Errorf("PutChunk(%d) count = %d, want %d", s.index, got, s.want)
			}
		}

		session, err := store.GetSession(ctx, "u-2")
		if err != nil {
			t.Fatalf("GetSession failed: %v", err)
		}
		if session.UploadedChunks != 3 || !session.IsComplete() {
			t.Errorf("session not complete: %+v", session)
		}
		if session.Chunks[1] != "bbbb" {
			t.Errorf("resubmitted chunk not replaced: %q", session.Chunks[1])
		}

		meta, err := store.GetSessionMeta(ctx, "u-2")
		if err != nil {
			t.Fatalf("GetSessionMeta failed: %v", err)
		}
		if meta.UploadedChunks != 3 || meta.TotalChunks != 3 || meta.FileName != "big.bin" {
			t.Errorf("GetSessionMeta returned %+v", meta)
		}
		if len(meta.Chunks) != 0 {
			t.Errorf("GetSessionMeta returned %d chunk bodies", len(meta.Chunks))
		}
	})

	t.Run("meta of missing session", func(t *testing.T) {
		if _, err := store.GetSessionMeta(ctx, "u-missing"); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetSessionMeta missing error = %v, want ErrNotFound", err)
		}
	})

	t.Run("put chunk on missing session", func(t *testing.T) {
		if _, err := store.PutChunk(ctx, "u-missing", 0, "AAAA"); !errors.Is(err, ErrNotFound) {
			t.Errorf("PutChunk missing error = %v, want ErrNotFound", err)
		}
	})

	t.Run("delete session", func(t *testing.T) {
		if err := store.CreateSession(ctx, newSession("u-3")); err != nil {
			t.Fatalf("CreateSession failed: %v", err)
		}
		if _, err := store.PutChunk(ctx, "u-3", 0, "AAAA"); err != nil {
			t.Fatalf("PutChunk failed: %v", err)
		}
		if err := store.DeleteSession(ctx, "u-3"); err != nil {
			t.Fatalf("DeleteSession failed: %v", err)
		}
		if _, err := store.GetSession(ctx, "u-3"); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetSession after delete error = %v, want ErrNotFound", err)
		}
	})
}
