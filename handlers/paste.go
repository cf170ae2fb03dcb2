package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/johnwmail/nshare/internal/expiry"
	"github.com/johnwmail/nshare/internal/services"
	"github.com/johnwmail/nshare/models"
)

// PasteHandler serves the paste create, read and edit endpoints
type PasteHandler struct {
	pastes *services.PasteService
	logger *slog.Logger
}

// NewPasteHandler creates a new paste handler
func NewPasteHandler(pastes *services.PasteService, logger *slog.Logger) *PasteHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PasteHandler{pastes: pastes, logger: logger}
}

// CreatePasteRequest is the body of POST /paste
type CreatePasteRequest struct {
	Content          string        `json:"content"`
	IsFile           bool          `json:"isFile"`
	FileName         string        `json:"fileName"`
	FileType         string        `json:"fileType"`
	IsMultiFile      bool          `json:"isMultiFile"`
	Files            []models.File `json:"files"`
	ExpirationOption string        `json:"expirationOption"`
	AllowEditing     bool          `json:"allowEditing"`
}

// UpdatePasteRequest is the body of PUT /paste. Content is a pointer so an
// empty string can be told apart from a missing field.
type UpdatePasteRequest struct {
	Code    string  `json:"code"`
	Content *string `json:"content"`
}

// PasteResponse is the body of GET /paste/:code
type PasteResponse struct {
	Content       string        `json:"content"`
	CreatedAt     int64         `json:"createdAt"`
	ExpiresAt     int64         `json:"expiresAt"`
	TimeRemaining int64         `json:"timeRemaining"`
	FileName      string        `json:"fileName,omitempty"`
	FileType      string        `json:"fileType,omitempty"`
	IsFile        bool          `json:"isFile"`
	Files         []models.File `json:"files"`
	IsMultiFile   bool          `json:"isMultiFile"`
	AllowEditing  bool          `json:"allowEditing"`
	DownloadCount int64         `json:"downloadCount"`
}

// Create handles POST /paste
func (h *PasteHandler) Create(c *gin.Context) {
	var req CreatePasteRequest
	if !bindJSON(c, pasteBodyLimit(h.pastes.Limits()), &req) {
		return
	}

	res, err := h.pastes.Create(c.Request.Context(), services.CreatePasteRequest{
		Content:          req.Content,
		IsFile:           req.IsFile,
		FileName:         req.FileName,
		FileType:         req.FileType,
		IsMultiFile:      req.IsMultiFile,
		Files:            req.Files,
		ExpirationOption: req.ExpirationOption,
		AllowEditing:     req.AllowEditing,
	})
	if err != nil {
		respondError(c, h.logger, err, "Failed to create paste")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":      res.Code,
		"createdAt": res.CreatedAt,
		"expiresAt": res.ExpiresAt,
	})
}

// Get handles GET /paste/:code and records one access
func (h *PasteHandler) Get(c *gin.Context) {
	p, err := h.pastes.Retrieve(c.Request.Context(), c.Param("code"))
	if err != nil {
		respondError(c, h.logger, err, "Failed to retrieve paste")
		return
	}

	files := p.Files
	if files == nil {
		files = []models.File{}
	}

	c.JSON(http.StatusOK, PasteResponse{
		Content:       p.Content,
		CreatedAt:     p.CreatedAt,
		ExpiresAt:     p.ExpiresAt,
		TimeRemaining: expiry.Remaining(p.ExpiresAt, h.pastes.Now()),
		FileName:      p.FileName,
		FileType:      p.FileType,
		IsFile:        p.IsFile,
		Files:         files,
		IsMultiFile:   p.IsMultiFile,
		AllowEditing:  p.AllowEditing,
		DownloadCount: p.DownloadCount,
	})
}

// Update handles PUT /paste
func (h *PasteHandler) Update(c *gin.Context) {
	var req UpdatePasteRequest
	if !bindJSON(c, pasteBodyLimit(h.pastes.Limits()), &req) {
		return
	}
	if req.Code == "" || req.Content == nil {
		badRequest(c, "Code and content are required")
		return
	}

	if err := h.pastes.Update(c.Request.Context(), req.Code, *req.Content); err != nil {
		respondError(c, h.logger, err, "Failed to update paste")
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}
