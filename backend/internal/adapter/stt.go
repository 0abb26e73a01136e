package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"ora-bot/backend/internal/voice"
	pkgerrors "ora-bot/backend/pkg/errors"
	"ora-bot/backend/pkg/logger"
)

// WhisperClient transcribes PCM audio through a Whisper HTTP service.
// It implements voice.Transcriber.
type WhisperClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewWhisperClient creates a transcription client for the given service URL.
func NewWhisperClient(baseURL string) *WhisperClient {
	return &WhisperClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		logger: logger.Get(),
	}
}

// Transcribe downmixes the PCM to mono, wraps it in a WAV container and
// posts it to the service. Empty input yields empty text without touching
// the backend.
func (c *WhisperClient) Transcribe(ctx context.Context, pcm []byte, sampleRate, channels int) (string, error) {
	if len(pcm) == 0 {
		return "", nil
	}

	mono := voice.DownmixToMono(pcm, channels)
	wav := voice.PCMToWAV(mono, sampleRate, 1)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("audio", "audio.wav")
	if err != nil {
		return "", pkgerrors.NewTranscriptionFailed(0, err)
	}
	if _, err := part.Write(wav); err != nil {
		return "", pkgerrors.NewTranscriptionFailed(0, err)
	}
	if err := writer.Close(); err != nil {
		return "", pkgerrors.NewTranscriptionFailed(0, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transcribe", body)
	if err != nil {
		return "", pkgerrors.NewTranscriptionFailed(0, err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", pkgerrors.NewTranscriptionFailed(0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return "", pkgerrors.NewTranscriptionFailed(resp.StatusCode,
			fmt.Errorf("STT service returned status %d: %s", resp.StatusCode, string(respBody)))
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", pkgerrors.NewTranscriptionFailed(resp.StatusCode, err)
	}

	text := strings.TrimSpace(result.Text)
	c.logger.Debug("Transcription completed",
		zap.Int("pcm_bytes", len(pcm)),
		zap.Int("text_length", len(text)),
	)
	return text, nil
}
