package models

import (
	"time"

	"github.com/johnwmail/nshare/internal/expiry"
)

// Kind identifies which representation of a paste is active
type Kind string

const (
	KindText      Kind = "text"
	KindFile      Kind = "file"
	KindMultiFile Kind = "multi-file"
)

// File is one entry of a multi-file paste. Content is a data URI.
type File struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Content string `json:"content"`
}

// Paste is a shareable record addressed by a four-digit code.
// Timestamps are epoch milliseconds.
type Paste struct {
	Code          string `json:"code"`
	Content       string `json:"content"`
	CreatedAt     int64  `json:"createdAt"`
	ExpiresAt     int64  `json:"expiresAt"`
	FileName      string `json:"fileName,omitempty"`
	FileType      string `json:"fileType,omitempty"`
	IsFile        bool   `json:"isFile"`
	Files         []File `json:"files,omitempty"`
	IsMultiFile   bool   `json:"isMultiFile"`
	AllowEditing  bool   `json:"allowEditing"`
	DownloadCount int64  `json:"downloadCount"`
}

// Kind returns the active representation; multi-file wins over single file
func (p *Paste) Kind() Kind {
	switch {
	case p.IsMultiFile:
		return KindMultiFile
	case p.IsFile:
		return KindFile
	default:
		return KindText
	}
}

// Editable reports whether the content may be overwritten in place.
// Only text pastes created with editing allowed qualify.
func (p *Paste) Editable() bool {
	return p.AllowEditing && p.Kind() == KindText
}

// IsExpired checks the paste against now
func (p *Paste) IsExpired(now time.Time) bool {
	return !expiry.IsLive(p.ExpiresAt, now)
}

// Clone returns a deep copy so callers cannot mutate stored state
func (p *Paste) Clone() *Paste {
	cp := *p
	if p.Files != nil {
		cp.Files = append([]File(nil), p.Files...)
	}
	return &cp
}
