package storage

import (
	"fmt"
	"path"
)

// LineAudioKey returns the storage key for one line's synthesized audio.
// The id_<lineID>.wav name is stable across re-synthesis so a re-run
// overwrites rather than accumulates.
func LineAudioKey(projectID, chapterID, lineID int64) string {
	return path.Join(
		fmt.Sprintf("projects/%d", projectID),
		fmt.Sprintf("chapters/%d", chapterID),
		"audio",
		fmt.Sprintf("id_%d.wav", lineID),
	)
}

// ChapterAudioPrefix returns the key prefix covering all of a chapter's audio
func ChapterAudioPrefix(projectID, chapterID int64) string {
	return path.Join(
		fmt.Sprintf("projects/%d", projectID),
		fmt.Sprintf("chapters/%d", chapterID),
		"audio",
	) + "/"
}

// ReferenceKey returns the storage key for a voice reference clip
func ReferenceKey(name string) string {
	return path.Join("references", name)
}

// PreviewKey returns the storage key for a one-off voice preview clip
func PreviewKey(name string) string {
	return path.Join("previews", name)
}

// DebugKey returns the storage key for a voice debug clip
func DebugKey(name string) string {
	return path.Join("debug", name)
}
