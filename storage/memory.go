package storage

import (
	"context"
	"sync"
	"time"

	"github.com/johnwmail/nshare/internal/expiry"
	"github.com/johnwmail/nshare/models"
)

// MemoryStore implements PasteStore and UploadStore with process-local maps.
// Contents do not survive a restart.
type MemoryStore struct {
	mu       sync.RWMutex
	pastes   map[string]*models.Paste
	sessions map[string]*models.UploadSession
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pastes:   make(map[string]*models.Paste),
		sessions: make(map[string]*models.UploadSession),
	}
}

// Create saves a paste unless its code is already present
func (m *MemoryStore) Create(_ context.Context, paste *models.Paste) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.pastes[paste.Code]; exists {
		return ErrCodeTaken
	}
	m.pastes[paste.Code] = paste.Clone()
	return nil
}

// Get retrieves a copy of a paste
func (m *MemoryStore) Get(_ context.Context, code string) (*models.Paste, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	paste, ok := m.pastes[code]
	if !ok {
		return nil, ErrNotFound
	}
	return paste.Clone(), nil
}

// UpdateContent overwrites the content of a paste
func (m *MemoryStore) UpdateContent(_ context.Context, code, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	paste, ok := m.pastes[code]
	if !ok {
		return ErrNotFound
	}
	paste.Content = content
	return nil
}

// IncrementDownloadCount bumps the download counter
func (m *MemoryStore) IncrementDownloadCount(_ context.Context, code string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	paste, ok := m.pastes[code]
	if !ok {
		return 0, ErrNotFound
	}
	paste.DownloadCount++
	return paste.DownloadCount, nil
}

// Delete removes a paste
func (m *MemoryStore) Delete(_ context.Context, code string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.pastes, code)
	return nil
}

// Sweep removes expired pastes
func (m *MemoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for code, paste := range m.pastes {
		if !expiry.IsLive(paste.ExpiresAt, now) {
			delete(m.pastes, code)
			removed++
		}
	}
	return removed, nil
}

// CreateSession saves an upload session unless its id is already present
func (m *MemoryStore) CreateSession(_ context.Context, session *models.UploadSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[session.UploadID]; exists {
		return ErrCodeTaken
	}
	cp := *session
	cp.Chunks = make(map[int]string, session.TotalChunks)
	for i, c := range session.Chunks {
		cp.Chunks[i] = c
	}
	cp.UploadedChunks = len(cp.Chunks)
	m.sessions[session.UploadID] = &cp
	return nil
}

// GetSession retrieves a copy of an upload session and its chunks
func (m *MemoryStore) GetSession(_ context.Context, uploadID string) (*models.UploadSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[uploadID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *session
	cp.Chunks = make(map[int]string, len(session.Chunks))
	for i, c := range session.Chunks {
		cp.Chunks[i] = c
	}
	return &cp, nil
}

// GetSessionMeta retrieves a copy of an upload session without its chunks
func (m *MemoryStore) GetSessionMeta(_ context.Context, uploadID string) (*models.UploadSession, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, ok := m.sessions[uploadID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *session
	cp.Chunks = nil
	return &cp, nil
}

// PutChunk stores one chunk; resubmitting an index does not change the count
func (m *MemoryStore) PutChunk(_ context.Context, uploadID string, index int, data string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[uploadID]
	if !ok {
		return 0, ErrNotFound
	}
	if _, seen := session.Chunks[index]; !seen {
		session.UploadedChunks++
	}
	session.Chunks[index] = data
	return session.UploadedChunks, nil
}

// DeleteSession removes an upload session
func (m *MemoryStore) DeleteSession(_ context.Context, uploadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, uploadID)
	return nil
}

// SweepSessions removes expired upload sessions
func (m *MemoryStore) SweepSessions(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, session := range m.sessions {
		if !expiry.IsLive(session.ExpiresAt, now) {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of stored pastes and sessions
func (m *MemoryStore) Len() (pastes, sessions int) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pastes), len(m.sessions)
}

// Close is a no-op for the memory store
func (m *MemoryStore) Close() error {
	return nil
}
