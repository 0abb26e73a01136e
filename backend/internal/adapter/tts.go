package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	pkgerrors "ora-bot/backend/pkg/errors"
	"ora-bot/backend/pkg/logger"
)

// VoiceVoxClient synthesizes WAV audio from text through a VOICEVOX engine.
// Synthesis is a two-step flow: /audio_query builds the phoneme query,
// /synthesis renders it. The client implements voice.Synthesizer.
type VoiceVoxClient struct {
	baseURL    string
	speakerID  int
	httpClient *http.Client
	logger     *zap.Logger
}

// NewVoiceVoxClient creates a synthesis client for the given engine URL and
// speaker.
func NewVoiceVoxClient(baseURL string, speakerID int) *VoiceVoxClient {
	return &VoiceVoxClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		speakerID: speakerID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.Get(),
	}
}

// Synthesize renders text into a self-contained WAV clip.
func (c *VoiceVoxClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, pkgerrors.ErrEmptySpeechText
	}

	params := url.Values{}
	params.Set("text", text)
	params.Set("speaker", strconv.Itoa(c.speakerID))

	queryURL := fmt.Sprintf("%s/audio_query?%s", c.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, queryURL, nil)
	if err != nil {
		return nil, pkgerrors.NewSynthesisFailed(0, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.NewSynthesisFailed(0, err)
	}
	query, err := readOK(resp, "audio_query")
	if err != nil {
		return nil, err
	}

	// The query JSON goes back verbatim as the synthesis request body.
	if !json.Valid(query) {
		return nil, pkgerrors.NewSynthesisFailed(resp.StatusCode, fmt.Errorf("audio_query returned invalid JSON"))
	}

	synthParams := url.Values{}
	synthParams.Set("speaker", strconv.Itoa(c.speakerID))
	synthURL := fmt.Sprintf("%s/synthesis?%s", c.baseURL, synthParams.Encode())
	req, err = http.NewRequestWithContext(ctx, http.MethodPost, synthURL, bytes.NewReader(query))
	if err != nil {
		return nil, pkgerrors.NewSynthesisFailed(0, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err = c.httpClient.Do(req)
	if err != nil {
		return nil, pkgerrors.NewSynthesisFailed(0, err)
	}
	audio, err := readOK(resp, "synthesis")
	if err != nil {
		return nil, err
	}

	c.logger.Debug("VOICEVOX synthesis completed",
		zap.Int("speaker", c.speakerID),
		zap.Int("bytes", len(audio)),
	)
	return audio, nil
}

func readOK(resp *http.Response, step string) ([]byte, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, pkgerrors.NewSynthesisFailed(resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, pkgerrors.NewSynthesisFailed(resp.StatusCode,
			fmt.Errorf("VOICEVOX %s failed: %d %s", step, resp.StatusCode, string(body)))
	}
	return body, nil
}
