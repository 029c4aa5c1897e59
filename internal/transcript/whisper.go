// Package transcript adapts HTTP speech-to-text services to the
// controller's Transcriber contract.
package transcript

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

	"github.com/chadiek/phone-agent/internal/audio"
)

const defaultBaseURL = "https://api.groq.com/openai/v1"

// WhisperClient transcribes complete utterances through an
// OpenAI-compatible /audio/transcriptions endpoint.
type WhisperClient struct {
	HTTPClient *http.Client
	APIKey     string
	BaseURL    string
	Model      string
}

func NewWhisperClient(apiKey, model string) *WhisperClient {
	if model == "" {
		model = "whisper-large-v3-turbo"
	}
	return &WhisperClient{
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		APIKey:     apiKey,
		BaseURL:    defaultBaseURL,
		Model:      model,
	}
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// Transcribe ships the utterance as a WAV upload and returns the text.
// An empty result means no speech was detected and is not an error.
func (c *WhisperClient) Transcribe(ctx context.Context, samples []float32, sampleRate int) (string, error) {
	if c.APIKey == "" {
		return "", fmt.Errorf("whisper: api key missing")
	}
	if len(samples) == 0 {
		return "", nil
	}

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(audio.WAVBytes(samples, sampleRate)); err != nil {
		return "", err
	}
	_ = w.WriteField("model", c.Model)
	_ = w.WriteField("response_format", "json")
	_ = w.WriteField("temperature", "0")
	if err := w.Close(); err != nil {
		return "", err
	}

	endpoint := strings.TrimRight(c.BaseURL, "/") + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("whisper: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return "", fmt.Errorf("whisper: status=%d body=%s", resp.StatusCode, string(b))
	}
	var tr transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return "", fmt.Errorf("whisper: decode response: %w", err)
	}
	return strings.TrimSpace(tr.Text), nil
}
