package types

import "time"

// Line status values.
const (
	LineStatusPending    = "pending"
	LineStatusProcessing = "processing"
	LineStatusDone       = "done"
	LineStatusFailed     = "failed"
)

// Default emotion/strength applied when the model output fails validation.
const (
	DefaultEmotion  = "平静"
	DefaultStrength = "中等"
)

// NarratorRole is exempt from emotion repair prompting (but not from the
// final defaulting pass).
const NarratorRole = "旁白"

// Project represents a novel being produced into an audiobook
type Project struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Chapter represents one chapter of a project's source text
type Chapter struct {
	ID        int64  `json:"id"`
	ProjectID int64  `json:"project_id"`
	Number    int    `json:"number"`
	Title     string `json:"title"`
	Text      string `json:"text"`
}

// Line represents one unit of dialogue/narration within a chapter,
// attributed to a role and backed by one audio file
type Line struct {
	ID        int64  `json:"id"`
	ChapterID int64  `json:"chapter_id"`
	Order     int    `json:"line_order"` // 1-based within the chapter
	RoleID    int64  `json:"role_id"`    // 0 means unattributed
	Text      string `json:"text"`
	Emotion   string `json:"emotion"`
	Strength  string `json:"strength"`
	AudioPath string `json:"audio_path"`
	Status    string `json:"status"` // "pending", "processing", "done", "failed"
}

// ParsedLine is a line as returned by the LLM, before persistence
type ParsedLine struct {
	Role     string `json:"role"`
	Text     string `json:"text"`
	Emotion  string `json:"emotion"`
	Strength string `json:"strength"`
}

// Role represents a named speaker within a project
type Role struct {
	ID        int64  `json:"id"`
	ProjectID int64  `json:"project_id"`
	Name      string `json:"name"`
	VoiceID   int64  `json:"voice_id"` // 0 means no bound voice
}

// Voice represents a reference audio used to clone a speaker's timbre
type Voice struct {
	ID            int64  `json:"id"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	ReferencePath string `json:"reference_path"`
}

// Emotion is one entry of the controlled emotion vocabulary
type Emotion struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Strength is one entry of the controlled strength vocabulary
type Strength struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}
