package provider

import (
	"context"
)

// LLMProvider defines the interface for LLM providers
type LLMProvider interface {
	// Name returns the provider name
	Name() string

	// Generate sends a prompt and returns the raw completion text
	Generate(ctx context.Context, prompt string) (string, error)

	// GenerateJSON sends a prompt expecting structured output and
	// unmarshals it into out. Malformed output is sent back to the
	// model for repair a bounded number of times before failing.
	GenerateJSON(ctx context.Context, prompt string, out any) error

	// Close cleans up resources
	Close() error
}

// TTSProvider defines the interface for reference-audio TTS providers
type TTSProvider interface {
	// Name returns the provider name
	Name() string

	// ReferenceExists reports whether the engine already holds the
	// reference clip
	ReferenceExists(ctx context.Context, referencePath string) (bool, error)

	// UploadReference pushes a reference clip to the engine
	UploadReference(ctx context.Context, referencePath string, data []byte) error

	// Synthesize converts text to speech cloned from the reference
	Synthesize(ctx context.Context, req SynthesizeRequest) ([]byte, error)

	// Close cleans up resources
	Close() error
}

// SynthesizeRequest contains the text and delivery settings for synthesis
type SynthesizeRequest struct {
	Text          string    // Text to synthesize
	ReferencePath string    // Reference clip identifying the target timbre
	EmotionVector []float64 // 8-dim delivery feature vector
}
