package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/johnwmail/nshare/internal/services"
)

// UploadHandler serves the chunked upload endpoints
type UploadHandler struct {
	uploads *services.UploadService
	logger  *slog.Logger
}

// NewUploadHandler creates a new upload handler
func NewUploadHandler(uploads *services.UploadService, logger *slog.Logger) *UploadHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &UploadHandler{uploads: uploads, logger: logger}
}

// StartUploadRequest is the body of POST /upload/start
type StartUploadRequest struct {
	FileName    string `json:"fileName"`
	FileType    string `json:"fileType"`
	FileSize    int64  `json:"fileSize"`
	TotalChunks int    `json:"totalChunks"`
}

// ChunkRequest is the body of POST /upload/chunk. ChunkIndex is a pointer
// because zero is a valid index.
type ChunkRequest struct {
	UploadID   string `json:"uploadId"`
	ChunkIndex *int   `json:"chunkIndex"`
	ChunkData  string `json:"chunkData"`
}

// CompleteUploadRequest is the body of POST /upload/complete. AllowEditing is
// accepted for compatibility; uploaded files are never editable.
type CompleteUploadRequest struct {
	UploadID         string `json:"uploadId"`
	ExpirationOption string `json:"expirationOption"`
	AllowEditing     bool   `json:"allowEditing"`
}

// Start handles POST /upload/start
func (h *UploadHandler) Start(c *gin.Context) {
	var req StartUploadRequest
	if !bindJSON(c, smallBodyLimit, &req) {
		return
	}

	res, err := h.uploads.Start(c.Request.Context(), services.StartUploadRequest{
		FileName:    req.FileName,
		FileType:    req.FileType,
		FileSize:    req.FileSize,
		TotalChunks: req.TotalChunks,
	})
	if err != nil {
		respondError(c, h.logger, err, "Failed to initialize upload")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"uploadId":  res.UploadID,
		"chunkSize": res.ChunkSize,
		"maxChunks": res.MaxChunks,
	})
}

// Chunk handles POST /upload/chunk
func (h *UploadHandler) Chunk(c *gin.Context) {
	var req ChunkRequest
	if !bindJSON(c, chunkBodyLimit(h.uploads.ChunkSize()), &req) {
		return
	}
	if req.UploadID == "" || req.ChunkIndex == nil || req.ChunkData == "" {
		badRequest(c, "Missing required fields")
		return
	}

	progress, err := h.uploads.SubmitChunk(c.Request.Context(), req.UploadID, *req.ChunkIndex, req.ChunkData)
	if err != nil {
		respondError(c, h.logger, err, "Failed to upload chunk")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":        true,
		"progress":       progress.Progress,
		"uploadedChunks": progress.UploadedChunks,
		"totalChunks":    progress.TotalChunks,
		"isComplete":     progress.IsComplete,
	})
}

// Complete handles POST /upload/complete
func (h *UploadHandler) Complete(c *gin.Context) {
	var req CompleteUploadRequest
	if !bindJSON(c, smallBodyLimit, &req) {
		return
	}
	if req.UploadID == "" {
		badRequest(c, "Upload ID is required")
		return
	}

	res, err := h.uploads.Complete(c.Request.Context(), req.UploadID, req.ExpirationOption)
	if err != nil {
		respondError(c, h.logger, err, "Failed to complete upload")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"code":      res.Code,
		"expiresAt": res.ExpiresAt,
		"fileName":  res.FileName,
		"fileSize":  res.FileSize,
	})
}
