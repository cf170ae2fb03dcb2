package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/johnwmail/nshare/config"
	"github.com/johnwmail/nshare/internal/code"
	"github.com/johnwmail/nshare/internal/expiry"
	"github.com/johnwmail/nshare/internal/metrics"
	"github.com/johnwmail/nshare/models"
	"github.com/johnwmail/nshare/storage"
)

// maxInsertAttempts bounds how often a lost insert race is retried
const maxInsertAttempts = 3

// Deps are the collaborators shared by the services. Zero values are replaced
// with working defaults.
type Deps struct {
	Allocator *code.Allocator
	Sweeper   *expiry.Sweeper
	Metrics   *metrics.Metrics
	Logger    *slog.Logger
	Now       func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Allocator == nil {
		d.Allocator = code.New()
	}
	if d.Sweeper == nil {
		d.Sweeper = expiry.NewSweeper(d.Now, 0, d.Logger)
	}
	return d
}

// PasteService handles paste business logic
type PasteService struct {
	store   storage.PasteStore
	policy  expiry.Policy
	limits  Limits
	alloc   *code.Allocator
	sweeper *expiry.Sweeper
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// Limits are the size ceilings enforced on create
type Limits struct {
	MaxFileSize  int64
	MaxTotalSize int64
	MaxFiles     int
}

// NewPasteService creates a new paste service
func NewPasteService(store storage.PasteStore, cfg *config.Config, deps Deps) *PasteService {
	deps = deps.withDefaults()
	return &PasteService{
		store:  store,
		policy: expiry.NewPolicy(cfg.DefaultTTL),
		limits: Limits{
			MaxFileSize:  cfg.MaxFileSize,
			MaxTotalSize: cfg.MaxTotalSize,
			MaxFiles:     cfg.MaxFiles,
		},
		alloc:   deps.Allocator,
		sweeper: deps.Sweeper,
		metrics: deps.Metrics,
		logger:  deps.Logger,
		now:     deps.Now,
	}
}

// CreatePasteRequest represents a request to create a paste
type CreatePasteRequest struct {
	Content          string
	IsFile           bool
	FileName         string
	FileType         string
	IsMultiFile      bool
	Files            []models.File
	ExpirationOption string
	AllowEditing     bool
}

// CreatePasteResult is the code and lifetime of a new paste
type CreatePasteResult struct {
	Code      string
	CreatedAt int64
	ExpiresAt int64
}

// Limits returns the size ceilings enforced on create
func (s *PasteService) Limits() Limits {
	return s.limits
}

// Now returns the service clock
func (s *PasteService) Now() time.Time {
	return s.now()
}

// Create validates the request, allocates a code and stores the paste
func (s *PasteService) Create(ctx context.Context, req CreatePasteRequest) (*CreatePasteResult, error) {
	paste, err := s.build(req)
	if err != nil {
		return nil, err
	}

	s.sweeper.Opportunistic(ctx)

	return s.insert(ctx, paste, s.policy.ResolveTTL(req.ExpirationOption))
}

// build turns a request into an unsaved paste, enforcing the size limits
func (s *PasteService) build(req CreatePasteRequest) (*models.Paste, error) {
	switch {
	case req.IsMultiFile:
		files, err := s.validateFiles(req.Files)
		if err != nil {
			return nil, err
		}
		return &models.Paste{IsMultiFile: true, Files: files}, nil

	case req.IsFile:
		if strings.TrimSpace(req.FileName) == "" {
			return nil, newError(ErrValidation, "fileName is required for file pastes")
		}
		mimeType, body, err := models.ParseDataURI(req.Content)
		if err != nil {
			return nil, newError(ErrValidation, err.Error())
		}
		if size := models.DecodedSize(body); size > s.limits.MaxFileSize {
			return nil, newError(ErrPayloadTooLarge,
				fmt.Sprintf("file exceeds maximum size of %d bytes", s.limits.MaxFileSize))
		}
		fileType := req.FileType
		if fileType == "" {
			fileType = mimeType
		}
		return &models.Paste{
			Content:  req.Content,
			IsFile:   true,
			FileName: req.FileName,
			FileType: fileType,
		}, nil

	default:
		if strings.TrimSpace(req.Content) == "" {
			return nil, newError(ErrValidation, "content is required")
		}
		if int64(len(req.Content)) > s.limits.MaxFileSize {
			return nil, newError(ErrPayloadTooLarge,
				fmt.Sprintf("content exceeds maximum size of %d bytes", s.limits.MaxFileSize))
		}
		return &models.Paste{Content: req.Content, AllowEditing: req.AllowEditing}, nil
	}
}

func (s *PasteService) validateFiles(files []models.File) ([]models.File, error) {
	if len(files) == 0 {
		return nil, newError(ErrValidation, "files are required for multi-file pastes")
	}
	if len(files) > s.limits.MaxFiles {
		return nil, newError(ErrPayloadTooLarge,
			fmt.Sprintf("too many files: maximum is %d", s.limits.MaxFiles))
	}

	out := make([]models.File, 0, len(files))
	var total int64
	for i, f := range files {
		if strings.TrimSpace(f.Name) == "" {
			return nil, newError(ErrValidation, fmt.Sprintf("file %d: name is required", i))
		}
		mimeType, body, err := models.ParseDataURI(f.Content)
		if err != nil {
			return nil, newError(ErrValidation, fmt.Sprintf("file %q: %v", f.Name, err))
		}
		size := models.DecodedSize(body)
		if size > s.limits.MaxFileSize {
			return nil, newError(ErrPayloadTooLarge,
				fmt.Sprintf("file %q exceeds maximum size of %d bytes", f.Name, s.limits.MaxFileSize))
		}
		total += size
		if total > s.limits.MaxTotalSize {
			return nil, newError(ErrPayloadTooLarge,
				fmt.Sprintf("total size exceeds maximum of %d bytes", s.limits.MaxTotalSize))
		}
		if f.Type == "" {
			f.Type = mimeType
		}
		out = append(out, f)
	}
	return out, nil
}

// insert stamps the paste and stores it under a fresh code. Stores insert
// only if absent, so a code taken between allocation and insert is retried.
func (s *PasteService) insert(ctx context.Context, paste *models.Paste, ttl time.Duration) (*CreatePasteResult, error) {
	for attempt := 0; attempt < maxInsertAttempts; attempt++ {
		c, err := s.alloc.Code(ctx, s.codeInUse)
		if err != nil {
			if errors.Is(err, code.ErrCodeSpaceExhausted) {
				return nil, err
			}
			return nil, fmt.Errorf("failed to allocate code: %w", err)
		}

		now := s.now()
		paste.Code = c
		paste.CreatedAt = now.UnixMilli()
		paste.ExpiresAt = expiry.ExpiresAt(now, ttl)

		err = s.store.Create(ctx, paste)
		if err == nil {
			s.metrics.PasteCreated(string(paste.Kind()))
			s.logger.Debug("Paste created", "code", c, "kind", paste.Kind(), "expires_at", paste.ExpiresAt)
			return &CreatePasteResult{Code: c, CreatedAt: paste.CreatedAt, ExpiresAt: paste.ExpiresAt}, nil
		}
		if !errors.Is(err, storage.ErrCodeTaken) {
			return nil, fmt.Errorf("failed to store paste: %w", err)
		}
		s.metrics.CodeCollision()
	}
	return nil, code.ErrCodeSpaceExhausted
}

// codeInUse reports whether a live paste holds c; an expired holder is removed
func (s *PasteService) codeInUse(ctx context.Context, c string) (bool, error) {
	p, err := s.store.Get(ctx, c)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check code %s: %w", c, err)
	}
	if p.IsExpired(s.now()) {
		if err := s.store.Delete(ctx, c); err != nil {
			return false, fmt.Errorf("failed to delete expired paste %s: %w", c, err)
		}
		return false, nil
	}
	return true, nil
}

// Get returns the live paste for c without recording an access
func (s *PasteService) Get(ctx context.Context, c string) (*models.Paste, error) {
	if !code.IsValidCode(c) {
		return nil, newError(ErrValidation, "invalid code format: expected 4 digits")
	}

	s.sweeper.Opportunistic(ctx)

	return s.live(ctx, c)
}

func (s *PasteService) live(ctx context.Context, c string) (*models.Paste, error) {
	p, err := s.store.Get(ctx, c)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, newError(ErrNotFound, "paste not found or expired")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get paste %s: %w", c, err)
	}
	if p.IsExpired(s.now()) {
		if err := s.store.Delete(ctx, c); err != nil {
			s.logger.Warn("Failed to delete expired paste", "code", c, "error", err)
		}
		return nil, newError(ErrNotFound, "paste not found or expired")
	}
	return p, nil
}

// RecordAccess increments the download count of a live paste
func (s *PasteService) RecordAccess(ctx context.Context, c string) (int64, error) {
	if _, err := s.live(ctx, c); err != nil {
		return 0, err
	}
	return s.increment(ctx, c)
}

func (s *PasteService) increment(ctx context.Context, c string) (int64, error) {
	count, err := s.store.IncrementDownloadCount(ctx, c)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, newError(ErrNotFound, "paste not found or expired")
	}
	if err != nil {
		return 0, fmt.Errorf("failed to record access for %s: %w", c, err)
	}
	return count, nil
}

// Retrieve returns the live paste and records one access
func (s *PasteService) Retrieve(ctx context.Context, c string) (*models.Paste, error) {
	p, err := s.Get(ctx, c)
	if err != nil {
		return nil, err
	}
	count, err := s.increment(ctx, c)
	if err != nil {
		return nil, err
	}
	p.DownloadCount = count
	s.metrics.PasteRead()
	return p, nil
}

// Update overwrites the content of an editable text paste
func (s *PasteService) Update(ctx context.Context, c, content string) error {
	p, err := s.Get(ctx, c)
	if err != nil {
		return err
	}
	if p.Kind() != models.KindText {
		return newError(ErrForbidden, "file pastes cannot be edited")
	}
	if !p.Editable() {
		return newError(ErrForbidden, "editing is not allowed for this paste")
	}
	if int64(len(content)) > s.limits.MaxFileSize {
		return newError(ErrPayloadTooLarge,
			fmt.Sprintf("content exceeds maximum size of %d bytes", s.limits.MaxFileSize))
	}

	err = s.store.UpdateContent(ctx, c, content)
	if errors.Is(err, storage.ErrNotFound) {
		return newError(ErrNotFound, "paste not found or expired")
	}
	if err != nil {
		return fmt.Errorf("failed to update paste %s: %w", c, err)
	}
	s.metrics.PasteUpdated()
	return nil
}

// Delete removes a paste; deleting a missing code is not an error
func (s *PasteService) Delete(ctx context.Context, c string) error {
	if err := s.store.Delete(ctx, c); err != nil {
		return fmt.Errorf("failed to delete paste %s: %w", c, err)
	}
	return nil
}

// ResolveTTL maps an expiration option to a duration under the configured default
func (s *PasteService) ResolveTTL(option string) time.Duration {
	return s.policy.ResolveTTL(option)
}
