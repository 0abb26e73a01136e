package adapter

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"ora-bot/backend/pkg/logger"
)

const linkCodeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// LinkClient issues single-use account-link codes, either through the ORA
// backend API or locally when no backend is configured.
type LinkClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewLinkClient creates a link client. baseURL may be empty.
func NewLinkClient(baseURL string) *LinkClient {
	return &LinkClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 5 * time.Second,
		},
		logger: logger.Get(),
	}
}

// RequestLinkCode returns a single-use link code for the given user.
func (c *LinkClient) RequestLinkCode(ctx context.Context, userID string) (string, error) {
	if c.baseURL == "" {
		code, err := localLinkCode(8)
		if err != nil {
			return "", err
		}
		c.logger.Debug("Generated local link code", zap.String("user_id", userID))
		return code, nil
	}

	payload, err := json.Marshal(map[string]string{"user_id": userID})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/link/init", bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ORA API request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("ORA API returned status %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("invalid ORA API response: %w", err)
	}
	if result.Code == "" {
		return "", fmt.Errorf("ORA API response missing code")
	}

	c.logger.Info("Link code issued", zap.String("user_id", userID))
	return result.Code, nil
}

func localLinkCode(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, length)
	for i, b := range buf {
		out[i] = linkCodeAlphabet[int(b)%len(linkCodeAlphabet)]
	}
	return string(out), nil
}
