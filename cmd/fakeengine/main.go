// Command fakeengine serves the multipart transcription API the http engine
// speaks, answering with canned text. It is meant for running the service
// locally without a real speech recognition backend.
package main

import (
	"flag"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/skypro1111/voicememo-service/internal/audio"
)

var phrases = map[string]string{
	"en": "This is a test transcription.",
	"ru": "Это тестовая транскрипция.",
	"zh": "这是一个测试转录。",
	"fr": "Ceci est une transcription de test.",
	"de": "Dies ist eine Testtranskription.",
}

type transcriptionResponse struct {
	Text        string           `json:"text"`
	Language    string           `json:"language,omitempty"`
	Duration    float64          `json:"duration"`
	Levels      audio.LevelStats `json:"levels"`
	ProcessedAt time.Time        `json:"processed_at"`
	Error       string           `json:"error,omitempty"`
}

func newRouter(logger *slog.Logger, delay time.Duration) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.POST("/transcribe", func(c *gin.Context) {
		header, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, transcriptionResponse{Error: "multipart field 'file' is required"})
			return
		}
		f, err := header.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, transcriptionResponse{Error: "cannot open uploaded file"})
			return
		}
		defer f.Close()

		data, err := io.ReadAll(f)
		if err != nil {
			c.JSON(http.StatusBadRequest, transcriptionResponse{Error: "cannot read uploaded file"})
			return
		}

		samples, rate, err := audio.DecodeWAV(data)
		if err != nil {
			c.JSON(http.StatusUnprocessableEntity, transcriptionResponse{Error: err.Error()})
			return
		}

		language := c.PostForm("language")
		levels := audio.AnalyzeLevels(samples, audio.DefaultLevelWindow, audio.DefaultVoiceThreshold)

		logger.Info("Transcription request received",
			slog.String("filename", header.Filename),
			slog.Int("bytes", len(data)),
			slog.String("language", language),
			slog.String("model", c.PostForm("model")),
			slog.Float64("voiced_ratio", levels.VoicedRatio),
		)

		if delay > 0 {
			time.Sleep(delay)
		}

		text := ""
		if levels.VoicedRatio > 0 {
			text = phrases[language]
			if text == "" {
				text = phrases["en"]
			}
		}

		c.JSON(http.StatusOK, transcriptionResponse{
			Text:        text,
			Language:    language,
			Duration:    audio.Duration(len(samples), rate),
			Levels:      levels,
			ProcessedAt: time.Now().UTC(),
		})
	})
	return r
}

func main() {
	addr := flag.String("addr", "127.0.0.1:9000", "Listen address")
	delay := flag.Duration("delay", 200*time.Millisecond, "Simulated processing time")
	flag.Parse()

	gin.SetMode(gin.ReleaseMode)
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	logger.Info("Fake transcription engine starting",
		slog.String("endpoint", "http://"+*addr+"/transcribe"),
	)
	if err := http.ListenAndServe(*addr, newRouter(logger, *delay)); err != nil {
		logger.Error("Server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
