package models

import (
	"time"

	"github.com/johnwmail/nshare/internal/expiry"
)

// UploadSession stages a large file that arrives in numbered chunks.
// Chunks holds base64 text keyed by zero-based index.
type UploadSession struct {
	UploadID       string         `json:"uploadId"`
	FileName       string         `json:"fileName"`
	FileType       string         `json:"fileType"`
	TotalSize      int64          `json:"totalSize"`
	TotalChunks    int            `json:"totalChunks"`
	UploadedChunks int            `json:"uploadedChunks"`
	CreatedAt      int64          `json:"createdAt"`
	ExpiresAt      int64          `json:"expiresAt"`
	Chunks         map[int]string `json:"-"`
}

// IsExpired checks the session against now
func (s *UploadSession) IsExpired(now time.Time) bool {
	return !expiry.IsLive(s.ExpiresAt, now)
}

// IsComplete reports whether every chunk has been received
func (s *UploadSession) IsComplete() bool {
	return s.UploadedChunks == s.TotalChunks
}

// Progress returns the share of received chunks as a rounded percentage
func (s *UploadSession) Progress() int {
	if s.TotalChunks <= 0 {
		return 0
	}
	return (s.UploadedChunks*100 + s.TotalChunks/2) / s.TotalChunks
}

// FirstMissing returns the lowest index in [0, TotalChunks) without data
func (s *UploadSession) FirstMissing() (int, bool) {
	for i := 0; i < s.TotalChunks; i++ {
		if _, ok := s.Chunks[i]; !ok {
			return i, true
		}
	}
	return 0, false
}
