package handlers

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/johnwmail/nshare/internal/code"
	"github.com/johnwmail/nshare/internal/services"
)

// statusFor maps a service error to its HTTP status
func statusFor(err error) int {
	switch {
	case errors.Is(err, services.ErrValidation),
		errors.Is(err, services.ErrPayloadTooLarge),
		errors.Is(err, services.ErrInvalidIndex),
		errors.Is(err, services.ErrIncomplete),
		errors.Is(err, services.ErrMissingChunk):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrSessionExpired):
		return http.StatusGone
	case errors.Is(err, code.ErrCodeSpaceExhausted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes err as a JSON error body. Unexpected failures are
// logged and the caller only sees the generic message.
func respondError(c *gin.Context, logger *slog.Logger, err error, generic string) {
	status := statusFor(err)
	msg := err.Error()

	switch status {
	case http.StatusInternalServerError:
		logger.Error(generic, "path", c.Request.URL.Path, "error", err)
		msg = generic
	case http.StatusServiceUnavailable:
		logger.Warn("Code space exhausted", "path", c.Request.URL.Path)
		msg = "No codes available, please try again later"
	}

	_ = c.Error(err)
	c.JSON(status, gin.H{"error": msg})
}

// badRequest answers 400 for a malformed request body
func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

// bodyEnvelope covers the JSON fields around the payload of a request body
const bodyEnvelope = 1 << 20

// smallBodyLimit bounds requests that carry no payload
const smallBodyLimit = 64 << 10

// base64Len is the encoded length of n raw bytes
func base64Len(n int64) int64 {
	return (n + 2) / 3 * 4
}

// pasteBodyLimit bounds POST and PUT /paste. Text is stored raw but JSON
// escaping can double it, so the larger limit is allowed twice.
func pasteBodyLimit(l services.Limits) int64 {
	return 2*max(l.MaxFileSize, l.MaxTotalSize) + bodyEnvelope
}

// chunkBodyLimit bounds POST /upload/chunk to one encoded chunk
func chunkBodyLimit(chunkSize int64) int64 {
	return base64Len(chunkSize) + bodyEnvelope
}

// bindJSON decodes the request body into dst, refusing bodies over limit.
// It answers 400 itself and reports false when the body is unusable.
func bindJSON(c *gin.Context, limit int64, dst interface{}) bool {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	if err := c.ShouldBindJSON(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			badRequest(c, fmt.Sprintf("request body exceeds maximum size of %d bytes", limit))
			return false
		}
		badRequest(c, "Invalid request body")
		return false
	}
	return true
}
