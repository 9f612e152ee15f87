package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sashabaranov/go-openai"

	"github.com/skypro1111/voicememo-service/internal/audio"
)

// OpenAIConfig configures the Whisper engine.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string // optional, for compatible servers
	Model   string // defaults to whisper-1
}

// OpenAI transcribes through the OpenAI audio transcription API.
type OpenAI struct {
	client *openai.Client
	model  string

	mu     sync.RWMutex
	closed bool
}

// NewOpenAI creates the engine. A missing API key leaves the engine
// constructed but not ready.
func NewOpenAI(config OpenAIConfig) *OpenAI {
	cfg := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		cfg.BaseURL = config.BaseURL
	}

	model := config.Model
	if model == "" {
		model = openai.Whisper1
	}

	e := &OpenAI{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
	if config.APIKey == "" {
		e.closed = true
	}
	return e
}

func (e *OpenAI) IsReady() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.closed
}

func (e *OpenAI) Transcribe(ctx context.Context, samples []float32, language string) (string, error) {
	if !e.IsReady() {
		return "", engineError("openai engine not configured", ErrNotReady)
	}
	if len(samples) == 0 {
		return "", nil
	}

	wav, err := audio.EncodeFloat32WAV(samples, SampleRate)
	if err != nil {
		return "", engineError("failed to encode audio", err)
	}

	resp, err := e.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    e.model,
		FilePath: "audio.wav",
		Reader:   bytes.NewReader(wav),
		Language: language,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", engineError(fmt.Sprintf("openai API error %d", apiErr.HTTPStatusCode), err)
		}
		return "", engineError("openai request failed", err)
	}

	return resp.Text, nil
}

func (e *OpenAI) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
