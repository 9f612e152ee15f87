package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/skypro1111/voicememo-service/internal/capture"
	"github.com/skypro1111/voicememo-service/internal/engine"
	"github.com/skypro1111/voicememo-service/internal/session"
	"github.com/skypro1111/voicememo-service/internal/store"
)

func respond(c *gin.Context, code int, data any) {
	c.JSON(code, gin.H{
		"success": true,
		"data":    data,
	})
}

func respondError(c *gin.Context, code int, msg string) {
	c.JSON(code, gin.H{
		"success": false,
		"error":   msg,
	})
}

// statusFor maps a domain error to an HTTP status code
func statusFor(err error) int {
	var engineErr *engine.EngineError
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, session.ErrSessionNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrAlreadyRecording),
		errors.Is(err, session.ErrInvalidTransition),
		errors.Is(err, session.ErrNoSource):
		return http.StatusConflict
	case errors.Is(err, session.ErrUnsupportedLanguage), errors.Is(err, store.ErrImport):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrEngineNotReady), errors.Is(err, capture.ErrCapture):
		return http.StatusServiceUnavailable
	case errors.Is(err, store.ErrDecode):
		return http.StatusUnprocessableEntity
	case errors.As(err, &engineErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *HTTPServer) fail(c *gin.Context, err error) {
	code := statusFor(err)
	if code >= 500 {
		h.logger.Error("Request failed",
			slog.String("method", c.Request.Method),
			slog.String("path", c.FullPath()),
			slog.String("error", err.Error()),
		)
	}
	respondError(c, code, err.Error())
}
