package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/johnwmail/nshare/config"
	"github.com/johnwmail/nshare/internal/code"
	"github.com/johnwmail/nshare/internal/expiry"
	"github.com/johnwmail/nshare/internal/metrics"
	"github.com/johnwmail/nshare/models"
	"github.com/johnwmail/nshare/storage"
)

const defaultFileType = "application/octet-stream"

// UploadService stages large files as chunks and turns a complete upload
// into a file paste.
type UploadService struct {
	store  storage.UploadStore
	locker storage.Locker
	pastes *PasteService

	maxFileSize int64
	chunkSize   int64
	maxChunks   int
	sessionTTL  time.Duration

	alloc   *code.Allocator
	sweeper *expiry.Sweeper
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewUploadService creates a new upload service; completed uploads are
// stored through pastes.
func NewUploadService(store storage.UploadStore, locker storage.Locker, pastes *PasteService, cfg *config.Config, deps Deps) *UploadService {
	deps = deps.withDefaults()
	if locker == nil {
		locker = storage.NewKeyedLocker()
	}
	return &UploadService{
		store:       store,
		locker:      locker,
		pastes:      pastes,
		maxFileSize: cfg.MaxFileSize,
		chunkSize:   cfg.ChunkSize,
		maxChunks:   cfg.MaxChunks(),
		sessionTTL:  cfg.UploadTTL,
		alloc:       deps.Allocator,
		sweeper:     deps.Sweeper,
		metrics:     deps.Metrics,
		logger:      deps.Logger,
		now:         deps.Now,
	}
}

// StartUploadRequest describes the file about to be uploaded
type StartUploadRequest struct {
	FileName    string
	FileType    string
	FileSize    int64
	TotalChunks int
}

// StartUploadResult is the new session id and the negotiated chunking
type StartUploadResult struct {
	UploadID  string
	ChunkSize int64
	MaxChunks int
}

// ChunkProgress reports a session's state after a chunk was stored
type ChunkProgress struct {
	Progress       int
	UploadedChunks int
	TotalChunks    int
	IsComplete     bool
}

// CompleteUploadResult describes the paste produced by a finished upload
type CompleteUploadResult struct {
	Code      string
	ExpiresAt int64
	FileName  string
	FileSize  int64
}

// ChunkSize returns the chunk size clients must use
func (s *UploadService) ChunkSize() int64 {
	return s.chunkSize
}

// Start opens an upload session with a fixed lifetime
func (s *UploadService) Start(ctx context.Context, req StartUploadRequest) (*StartUploadResult, error) {
	if strings.TrimSpace(req.FileName) == "" {
		return nil, newError(ErrValidation, "fileName is required")
	}
	if req.FileSize <= 0 {
		return nil, newError(ErrValidation, "fileSize must be positive")
	}
	if req.TotalChunks <= 0 {
		return nil, newError(ErrValidation, "totalChunks must be positive")
	}
	if req.FileSize > s.maxFileSize {
		return nil, newError(ErrPayloadTooLarge,
			fmt.Sprintf("file exceeds maximum size of %d bytes", s.maxFileSize))
	}
	if req.TotalChunks > s.maxChunks {
		return nil, newError(ErrValidation,
			fmt.Sprintf("too many chunks: maximum is %d", s.maxChunks))
	}

	s.sweeper.Opportunistic(ctx)

	fileType := req.FileType
	if fileType == "" {
		fileType = defaultFileType
	}

	for attempt := 0; attempt < maxInsertAttempts; attempt++ {
		id, err := s.alloc.UploadID(ctx, s.sessionInUse)
		if err != nil {
			return nil, fmt.Errorf("failed to allocate upload id: %w", err)
		}

		now := s.now()
		session := &models.UploadSession{
			UploadID:    id,
			FileName:    req.FileName,
			FileType:    fileType,
			TotalSize:   req.FileSize,
			TotalChunks: req.TotalChunks,
			CreatedAt:   now.UnixMilli(),
			ExpiresAt:   expiry.ExpiresAt(now, s.sessionTTL),
		}
		err = s.store.CreateSession(ctx, session)
		if err == nil {
			s.metrics.UploadStarted()
			s.logger.Debug("Upload started", "upload_id", id, "file_name", req.FileName,
				"file_size", req.FileSize, "total_chunks", req.TotalChunks)
			return &StartUploadResult{UploadID: id, ChunkSize: s.chunkSize, MaxChunks: req.TotalChunks}, nil
		}
		if !errors.Is(err, storage.ErrCodeTaken) {
			return nil, fmt.Errorf("failed to create upload session: %w", err)
		}
	}
	return nil, fmt.Errorf("failed to create upload session after %d attempts", maxInsertAttempts)
}

func (s *UploadService) sessionInUse(ctx context.Context, id string) (bool, error) {
	session, err := s.store.GetSessionMeta(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if session.IsExpired(s.now()) {
		return false, s.store.DeleteSession(ctx, id)
	}
	return true, nil
}

// lockedSession takes the per-upload lock and loads the live session
// without chunk data. An expired session is removed and reported as
// ErrSessionExpired.
func (s *UploadService) lockedSession(ctx context.Context, id string) (*models.UploadSession, func(), error) {
	if strings.TrimSpace(id) == "" {
		return nil, nil, newError(ErrValidation, "uploadId is required")
	}

	unlock, err := s.locker.Lock(ctx, "upload:"+id)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to lock upload %s: %w", id, err)
	}

	session, err := s.store.GetSessionMeta(ctx, id)
	if err != nil {
		unlock()
		if errors.Is(err, storage.ErrNotFound) {
			return nil, nil, newError(ErrNotFound, "upload session not found")
		}
		return nil, nil, fmt.Errorf("failed to get upload session %s: %w", id, err)
	}
	if session.IsExpired(s.now()) {
		if err := s.store.DeleteSession(ctx, id); err != nil {
			s.logger.Warn("Failed to delete expired upload session", "upload_id", id, "error", err)
		}
		unlock()
		return nil, nil, newError(ErrSessionExpired, "upload session expired")
	}
	return session, unlock, nil
}

// SubmitChunk stores one chunk. Chunks may arrive in any order and a
// resubmitted index replaces the earlier data without being counted twice.
func (s *UploadService) SubmitChunk(ctx context.Context, id string, index int, data string) (*ChunkProgress, error) {
	if data == "" {
		return nil, newError(ErrValidation, "chunkData is required")
	}
	if strings.HasPrefix(data, "data:") {
		_, body, err := models.ParseDataURI(data)
		if err != nil {
			return nil, newError(ErrValidation, err.Error())
		}
		data = body
	}

	session, unlock, err := s.lockedSession(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if index < 0 || index >= session.TotalChunks {
		return nil, newError(ErrInvalidIndex,
			fmt.Sprintf("invalid chunk index %d: expected 0 to %d", index, session.TotalChunks-1))
	}
	if models.DecodedSize(data) > s.chunkSize {
		return nil, newError(ErrPayloadTooLarge,
			fmt.Sprintf("chunk exceeds chunk size of %d bytes", s.chunkSize))
	}

	uploaded, err := s.store.PutChunk(ctx, id, index, data)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, newError(ErrNotFound, "upload session not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to store chunk %d of %s: %w", index, id, err)
	}
	s.metrics.ChunkReceived()

	session.UploadedChunks = uploaded
	progress := &ChunkProgress{
		Progress:       session.Progress(),
		UploadedChunks: uploaded,
		TotalChunks:    session.TotalChunks,
		IsComplete:     session.IsComplete(),
	}

	// Sweep after the lookup so an expired session is reported as such
	s.sweeper.Opportunistic(ctx)

	return progress, nil
}

// Complete reassembles the chunks in index order into a file paste and
// removes the session. A failed completion keeps the session so the client
// can resubmit missing chunks.
func (s *UploadService) Complete(ctx context.Context, id, expirationOption string) (*CompleteUploadResult, error) {
	session, unlock, err := s.lockedSession(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if session.UploadedChunks != session.TotalChunks {
		return nil, newError(ErrIncomplete,
			fmt.Sprintf("upload incomplete: %d of %d chunks received", session.UploadedChunks, session.TotalChunks))
	}

	session, err = s.store.GetSession(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, newError(ErrNotFound, "upload session not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks of %s: %w", id, err)
	}
	if idx, missing := session.FirstMissing(); missing {
		return nil, newError(ErrMissingChunk, fmt.Sprintf("missing chunk %d", idx))
	}

	var body strings.Builder
	for i := 0; i < session.TotalChunks; i++ {
		body.WriteString(session.Chunks[i])
	}
	if size := models.DecodedSize(body.String()); size > s.maxFileSize {
		return nil, newError(ErrPayloadTooLarge,
			fmt.Sprintf("file exceeds maximum size of %d bytes", s.maxFileSize))
	}

	s.sweeper.Opportunistic(ctx)

	paste := &models.Paste{
		Content:  models.BuildDataURI(session.FileType, body.String()),
		IsFile:   true,
		FileName: session.FileName,
		FileType: session.FileType,
	}
	created, err := s.pastes.insert(ctx, paste, s.pastes.ResolveTTL(expirationOption))
	if err != nil {
		return nil, err
	}

	if err := s.store.DeleteSession(ctx, id); err != nil {
		s.logger.Warn("Failed to delete completed upload session", "upload_id", id, "error", err)
	}
	s.metrics.UploadCompleted()
	s.logger.Info("Upload completed", "upload_id", id, "code", created.Code, "file_name", session.FileName)

	return &CompleteUploadResult{
		Code:      created.Code,
		ExpiresAt: created.ExpiresAt,
		FileName:  session.FileName,
		FileSize:  session.TotalSize,
	}, nil
}

// ExpectedChunks returns how many chunks a file of size bytes needs
func (s *UploadService) ExpectedChunks(size int64) int {
	return int(math.Ceil(float64(size) / float64(s.chunkSize)))
}
