package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/saybook/saybook/pkg/types"
)

// HTTPTTSProvider implements TTSProvider against a reference-audio
// synthesis engine (Index-TTS style HTTP API)
type HTTPTTSProvider struct {
	name       string
	baseURL    string
	config     types.TTSProviderConfig
	httpClient *http.Client
}

// NewHTTPTTSProvider creates a new HTTP TTS provider
func NewHTTPTTSProvider(config types.TTSProviderConfig) (*HTTPTTSProvider, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required for HTTP TTS provider")
	}

	timeout := 120 * time.Second
	if config.TimeoutSec > 0 {
		timeout = time.Duration(config.TimeoutSec) * time.Second
	}

	return &HTTPTTSProvider{
		name:    config.Name,
		baseURL: strings.TrimRight(config.Endpoint, "/"),
		config:  config,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

func (h *HTTPTTSProvider) Name() string {
	return h.name
}

// ReferenceExists checks whether the engine already holds the reference clip
func (h *HTTPTTSProvider) ReferenceExists(ctx context.Context, referencePath string) (bool, error) {
	endpoint := fmt.Sprintf("%s/v1/check/audio?%s", h.baseURL,
		url.Values{"file_name": {referencePath}}.Encode())

	httpReq, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := h.httpClient.Do(httpReq)
	if err != nil {
		return false, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return false, fmt.Errorf("check audio failed with status %d: %s", resp.StatusCode, truncateForLog(string(body), 200))
	}

	var result struct {
		Exists bool `json:"exists"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return false, fmt.Errorf("failed to parse response: %w", err)
	}
	return result.Exists, nil
}

// UploadReference pushes a reference clip to the engine as multipart form data
func (h *HTTPTTSProvider) UploadReference(ctx context.Context, referencePath string, data []byte) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("audio", path.Base(referencePath))
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("failed to write form file: %w", err)
	}
	if err := writer.WriteField("full_path", referencePath); err != nil {
		return fmt.Errorf("failed to write form field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close form writer: %w", err)
	}

	endpoint := h.baseURL + "/v1/upload_audio"
	log.Printf("[TTS-%s] Uploading reference %s (%d bytes)", h.name, referencePath, len(data))

	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint, &buf)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := h.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("upload failed with status %d: %s", resp.StatusCode, truncateForLog(string(body), 200))
	}
	return nil
}

type synthesizePayload struct {
	Text      string    `json:"text"`
	AudioPath string    `json:"audio_path"`
	EmoVector []float64 `json:"emo_vector,omitempty"`
}

// Synthesize calls the engine's synthesis endpoint and returns WAV bytes
func (h *HTTPTTSProvider) Synthesize(ctx context.Context, req SynthesizeRequest) ([]byte, error) {
	payload := synthesizePayload{
		Text:      req.Text,
		AudioPath: req.ReferencePath,
		EmoVector: req.EmotionVector,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := h.baseURL + "/v2/synthesize"
	log.Printf("[TTS-%s] Request: POST %s (text_length=%d, reference=%s)", h.name, endpoint, len(req.Text), req.ReferencePath)

	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if h.config.APIKey != "" {
		httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", h.config.APIKey))
	}

	startTime := time.Now()
	resp, err := h.httpClient.Do(httpReq)
	duration := time.Since(startTime)
	if err != nil {
		log.Printf("[TTS-%s] Request failed after %v: %v", h.name, duration, err)
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	log.Printf("[TTS-%s] Response: %d %s (took %v)", h.name, resp.StatusCode, resp.Status, duration)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("synthesis failed with status %d: %s", resp.StatusCode, truncateForLog(string(body), 200))
	}

	if err := validateWAV(body); err != nil {
		return nil, err
	}
	return body, nil
}

func (h *HTTPTTSProvider) Close() error {
	h.httpClient.CloseIdleConnections()
	return nil
}

// validateWAV rejects responses that are not RIFF/WAVE audio, typically
// an error page served with status 200
func validateWAV(data []byte) error {
	if len(data) < 12 || !bytes.HasPrefix(data, []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WAVE")) {
		return fmt.Errorf("synthesis returned non-WAV payload (%d bytes): %s", len(data), truncateForLog(string(data), 100))
	}
	return nil
}
