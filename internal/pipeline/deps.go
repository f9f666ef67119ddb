// Package pipeline implements the autopilot orchestration core: the
// concurrent LLM-parse producer, the serial TTS consumer, the
// voice-match checkpoint gate, and the pause/resume/cancel protocol
// tying them together.
package pipeline

import (
	"context"

	"github.com/saybook/saybook/internal/provider"
	"github.com/saybook/saybook/pkg/types"
)

// Store is the persistence surface the pipeline needs. *store.Store
// satisfies it; tests substitute an in-memory fake.
type Store interface {
	GetProject(ctx context.Context, id int64) (*types.Project, error)
	GetChapter(ctx context.Context, id int64) (*types.Chapter, error)
	ListChapters(ctx context.Context, projectID int64) ([]types.Chapter, error)

	CreateLine(ctx context.Context, line *types.Line) (*types.Line, error)
	GetLine(ctx context.Context, id int64) (*types.Line, error)
	ListLines(ctx context.Context, chapterID int64) ([]types.Line, error)
	CountLines(ctx context.Context, chapterID int64) (int, error)
	DeleteLinesForChapter(ctx context.Context, chapterID int64) error
	SetLineAudioPath(ctx context.Context, lineID int64, audioPath string) error
	SetLineStatus(ctx context.Context, lineID int64, status string) error

	CreateRole(ctx context.Context, projectID int64, name string) (*types.Role, error)
	GetRole(ctx context.Context, id int64) (*types.Role, error)
	GetRoleByName(ctx context.Context, projectID int64, name string) (*types.Role, error)
	ListRoles(ctx context.Context, projectID int64) ([]types.Role, error)
	SetRoleVoice(ctx context.Context, roleID, voiceID int64) error

	GetVoice(ctx context.Context, id int64) (*types.Voice, error)
	ListVoices(ctx context.Context) ([]types.Voice, error)
	ListEmotions(ctx context.Context) ([]types.Emotion, error)
	ListStrengths(ctx context.Context) ([]types.Strength, error)
}

// LLM is the text-generation surface used for parsing and voice matching.
type LLM interface {
	Generate(ctx context.Context, prompt string) (string, error)
	GenerateJSON(ctx context.Context, prompt string, out any) error
}

// TTS synthesizes one line of audio from a cloned reference voice.
type TTS interface {
	ReferenceExists(ctx context.Context, referencePath string) (bool, error)
	UploadReference(ctx context.Context, referencePath string, data []byte) error
	Synthesize(ctx context.Context, req provider.SynthesizeRequest) ([]byte, error)
}

// SpeedProcessor re-encodes a local audio file at a playback speed
// multiplier. Implemented by the ffmpeg-backed audio.Processor.
type SpeedProcessor interface {
	ApplySpeed(ctx context.Context, path string, speed float64) error
}
