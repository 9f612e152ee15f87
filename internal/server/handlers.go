package server

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/skypro1111/voicememo-service/internal/session"
	"github.com/skypro1111/voicememo-service/internal/store"
)

type transcribeRequest struct {
	Language string `json:"language"`
}

type artifactView struct {
	Name string `json:"name"`
	store.Artifact
	Pinned bool `json:"pinned"`
}

func (h *HTTPServer) handleCreateSession(c *gin.Context) {
	respond(c, http.StatusCreated, h.coord.NewSession())
}

func (h *HTTPServer) handleListSessions(c *gin.Context) {
	sessions := h.coord.List()
	if state := c.Query("state"); state != "" {
		filtered := sessions[:0]
		for _, s := range sessions {
			if string(s.State) == state {
				filtered = append(filtered, s)
			}
		}
		sessions = filtered
	}

	respond(c, http.StatusOK, gin.H{
		"total":    len(sessions),
		"sessions": sessions,
	})
}

func (h *HTTPServer) handleGetSession(c *gin.Context) {
	s, err := h.coord.Get(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, s)
}

func (h *HTTPServer) handleDeleteSession(c *gin.Context) {
	if err := h.coord.Delete(c.Param("id")); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *HTTPServer) handleRecord(c *gin.Context) {
	s, err := h.coord.BeginRecording(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, s)
}

func (h *HTTPServer) handleStop(c *gin.Context) {
	s, err := h.coord.Stop(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, s)
}

// handleImport accepts either a multipart form with a "file" field or a raw
// WAV body named by the "name" query parameter.
func (h *HTTPServer) handleImport(c *gin.Context) {
	id := c.Param("id")
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.config.Storage.MaxImportBytes)

	var (
		src  io.Reader
		name string
	)
	mediaType, _, _ := mime.ParseMediaType(c.GetHeader("Content-Type"))
	if mediaType == "multipart/form-data" {
		header, err := c.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				h.fail(c, err)
				return
			}
			respondError(c, http.StatusBadRequest, "multipart field 'file' is required")
			return
		}
		f, err := header.Open()
		if err != nil {
			respondError(c, http.StatusBadRequest, "failed to open uploaded file")
			return
		}
		defer f.Close()
		src, name = f, header.Filename
	} else {
		src, name = c.Request.Body, c.DefaultQuery("name", "upload.wav")
	}

	s, err := h.coord.Import(c.Request.Context(), id, src, name)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, s)
}

func (h *HTTPServer) handleTranscribe(c *gin.Context) {
	var req transcribeRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			respondError(c, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	s, err := h.coord.Transcribe(c.Request.Context(), c.Param("id"), req.Language)
	if err != nil {
		if s.ID == "" {
			h.fail(c, err)
			return
		}
		// The attempt ran and failed; the session is now Failed.
		c.JSON(statusFor(err), gin.H{
			"success": false,
			"error":   err.Error(),
			"data":    s,
		})
		return
	}
	respond(c, http.StatusOK, s)
}

func (h *HTTPServer) handleSave(c *gin.Context) {
	s, err := h.coord.Save(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, s)
}

func (h *HTTPServer) handleReset(c *gin.Context) {
	s, err := h.coord.Reset(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, s)
}

// handleExport serves a saved transcription as a text attachment
func (h *HTTPServer) handleExport(c *gin.Context) {
	s, err := h.coord.Get(c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	if s.State != session.StateSaved || s.Source == nil {
		respondError(c, http.StatusConflict, "session has no saved transcription")
		return
	}

	h.sendTranscription(c, s.Source.Artifact)
}

func (h *HTTPServer) handleListArtifacts(c *gin.Context) {
	artifacts := h.store.List()
	views := make([]artifactView, 0, len(artifacts))
	for _, a := range artifacts {
		views = append(views, artifactView{
			Name:     a.Name(),
			Artifact: a,
			Pinned:   h.store.Pinned(a.ID),
		})
	}

	respond(c, http.StatusOK, gin.H{
		"total":     len(views),
		"artifacts": views,
	})
}

func (h *HTTPServer) handleArtifactTranscription(c *gin.Context) {
	a, ok := h.store.Lookup(c.Param("name"))
	if !ok {
		respondError(c, http.StatusNotFound, "artifact not found")
		return
	}
	h.sendTranscription(c, *a)
}

func (h *HTTPServer) sendTranscription(c *gin.Context, a store.Artifact) {
	text, err := h.store.ReadTranscription(a.ID)
	if err != nil {
		h.fail(c, err)
		return
	}

	filename := strings.TrimSuffix(a.Name(), ".wav") + ".txt"
	c.Header("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": filename}))
	c.Data(http.StatusOK, "text/plain; charset=utf-8", []byte(text))
}

// handleSweep runs the retention sweep now. The window defaults to the
// configured retention window and can be overridden with ?window=.
func (h *HTTPServer) handleSweep(c *gin.Context) {
	window := h.config.Storage.RetentionWindow
	if raw := c.Query("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			respondError(c, http.StatusBadRequest, "window must be a positive duration")
			return
		}
		window = d
	}

	report, err := h.store.Sweep(c.Request.Context(), time.Now(), window)
	if err != nil {
		h.fail(c, err)
		return
	}
	respond(c, http.StatusOK, report)
}
