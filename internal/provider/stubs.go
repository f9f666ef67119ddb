package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/saybook/saybook/pkg/types"
)

// StubLLMProvider is a stub implementation of LLMProvider for testing
type StubLLMProvider struct {
	name   string
	config types.LLMProviderConfig
}

// NewStubLLMProvider creates a new stub LLM provider
func NewStubLLMProvider(config types.LLMProviderConfig) *StubLLMProvider {
	return &StubLLMProvider{
		name:   config.Name,
		config: config,
	}
}

func (s *StubLLMProvider) Name() string {
	return s.name
}

func (s *StubLLMProvider) Generate(ctx context.Context, prompt string) (string, error) {
	// Stub implementation - echoes a single narrator line
	return `[{"role": "旁白", "text": "stub", "emotion": "平静", "strength": "中等"}]`, nil
}

func (s *StubLLMProvider) GenerateJSON(ctx context.Context, prompt string, out any) error {
	content, err := s.Generate(ctx, prompt)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(ExtractJSONPayload(content)), out)
}

func (s *StubLLMProvider) Close() error {
	return nil
}

// StubTTSProvider is a stub implementation of TTSProvider for testing.
// It remembers uploaded references so exists/upload round-trips behave
// like a real engine.
type StubTTSProvider struct {
	name   string
	config types.TTSProviderConfig

	mu       sync.Mutex
	uploaded map[string]bool
}

// NewStubTTSProvider creates a new stub TTS provider
func NewStubTTSProvider(config types.TTSProviderConfig) *StubTTSProvider {
	return &StubTTSProvider{
		name:     config.Name,
		config:   config,
		uploaded: make(map[string]bool),
	}
}

func (s *StubTTSProvider) Name() string {
	return s.name
}

func (s *StubTTSProvider) ReferenceExists(ctx context.Context, referencePath string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.uploaded[referencePath], nil
}

func (s *StubTTSProvider) UploadReference(ctx context.Context, referencePath string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploaded[referencePath] = true
	return nil
}

func (s *StubTTSProvider) Synthesize(ctx context.Context, req SynthesizeRequest) ([]byte, error) {
	// Minimal RIFF header so callers that validate WAV accept it
	textPreview := req.Text
	if len(textPreview) > 10 {
		textPreview = textPreview[:10]
	}
	return fmt.Appendf([]byte("RIFF\x00\x00\x00\x00WAVE"), "STUB_%s", textPreview), nil
}

func (s *StubTTSProvider) Close() error {
	return nil
}
