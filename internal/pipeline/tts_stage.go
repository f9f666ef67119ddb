package pipeline

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"sync"

	"github.com/saybook/saybook/internal/emotion"
	"github.com/saybook/saybook/internal/events"
	"github.com/saybook/saybook/internal/provider"
	"github.com/saybook/saybook/internal/storage"
	"github.com/saybook/saybook/pkg/types"
)

// keyedMutex hands out one mutex per key so reference uploads for the
// same clip never race while distinct clips proceed in parallel.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) get(key string) *sync.Mutex {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	return m
}

// Synthesizer voices every role-bound line of a chapter, one line at a
// time, isolating per-line failures.
type Synthesizer struct {
	store   Store
	tts     TTS
	blobs   storage.Adapter
	speeder SpeedProcessor
	sink    events.Sink
	tempDir string

	uploads keyedMutex
}

func NewSynthesizer(st Store, tts TTS, blobs storage.Adapter, speeder SpeedProcessor, sink events.Sink, tempDir string) *Synthesizer {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Synthesizer{store: st, tts: tts, blobs: blobs, speeder: speeder, sink: sink, tempDir: tempDir}
}

// SynthesizeChapter voices one chapter. Returns true when no line
// failed; the flag is informational and never aborts later chapters.
// Cancellation is checked before each line.
func (s *Synthesizer) SynthesizeChapter(ctx context.Context, projectID, chapterID int64, speed float64, token *Token, eventPrefix string) bool {
	lines, err := s.store.ListLines(ctx, chapterID)
	if err != nil {
		s.sink.Broadcast(events.Event{
			Event:     eventPrefix + "_log",
			ProjectID: projectID,
			ChapterID: chapterID,
			Log:       fmt.Sprintf("❌ 章节 %d 配音异常: %v", chapterID, err),
		})
		return false
	}

	var valid []types.Line
	for _, line := range lines {
		if line.RoleID != 0 {
			valid = append(valid, line)
		}
	}

	s.sink.Broadcast(events.Event{
		Event:     eventPrefix + "_chapter_start",
		ProjectID: projectID,
		ChapterID: chapterID,
		LineCount: len(valid),
		Log:       fmt.Sprintf("🎙️ 章节 %d 开始配音，共 %d 条台词", chapterID, len(valid)),
	})

	doneCount := 0
	hasFailure := false
	for idx, line := range valid {
		if token.Cancelled() {
			return false
		}

		if err := s.synthesizeLine(ctx, projectID, chapterID, line, idx, len(valid), speed, eventPrefix); err != nil {
			hasFailure = true
			doneCount++
			log.Printf("[pipeline] line %d synthesis failed: %v", line.ID, err)
			if serr := s.store.SetLineStatus(ctx, line.ID, types.LineStatusFailed); serr != nil {
				log.Printf("[pipeline] mark line %d failed: %v", line.ID, serr)
			}
			s.sink.Broadcast(events.Event{
				Event:     eventPrefix + "_log",
				ProjectID: projectID,
				ChapterID: chapterID,
				Log:       fmt.Sprintf("❌ 台词 %d 配音失败: %v", line.ID, err),
			})
			continue
		}
		doneCount++
	}

	s.sink.Broadcast(events.Event{
		Event:     eventPrefix + "_chapter_done",
		ProjectID: projectID,
		ChapterID: chapterID,
		Log:       fmt.Sprintf("✅ 章节 %d 配音完成 (%d/%d)", chapterID, doneCount, len(valid)),
	})
	return !hasFailure
}

func (s *Synthesizer) synthesizeLine(ctx context.Context, projectID, chapterID int64, line types.Line, idx, total int, speed float64, eventPrefix string) error {
	role, err := s.store.GetRole(ctx, line.RoleID)
	if err != nil || role.VoiceID == 0 {
		// unbound role is a skip, not a failure
		s.sink.Broadcast(events.Event{
			Event:     eventPrefix + "_log",
			ProjectID: projectID,
			ChapterID: chapterID,
			Log:       fmt.Sprintf("⚠️ 台词 %d 角色未绑定音色，跳过", line.ID),
		})
		return nil
	}

	if err := s.store.SetLineStatus(ctx, line.ID, types.LineStatusProcessing); err != nil {
		log.Printf("[pipeline] mark line %d processing: %v", line.ID, err)
	}

	voice, err := s.store.GetVoice(ctx, role.VoiceID)
	if err != nil {
		return fmt.Errorf("load voice %d: %w", role.VoiceID, err)
	}

	emo := line.Emotion
	if emo == "" {
		emo = types.DefaultEmotion
	}
	stg := line.Strength
	if stg == "" {
		stg = types.DefaultStrength
	}
	vector := emotion.Vector(emo, stg)

	s.sink.Broadcast(events.Event{
		Event:     eventPrefix + "_line",
		ProjectID: projectID,
		ChapterID: chapterID,
		LineIndex: idx + 1,
		LineTotal: total,
		Log:       fmt.Sprintf("🔊 [%d/%d] %s...", idx+1, total, truncateRunes(line.Text, 30)),
	})

	if err := s.ensureReference(ctx, voice.ReferencePath); err != nil {
		return fmt.Errorf("reference %s: %w", voice.ReferencePath, err)
	}

	audio, err := s.tts.Synthesize(ctx, provider.SynthesizeRequest{
		Text:          line.Text,
		ReferencePath: voice.ReferencePath,
		EmotionVector: vector,
	})
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(s.tempDir, "line-*.wav")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	if _, err := tmp.Write(audio); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if speed != 1.0 {
		if err := s.speeder.ApplySpeed(ctx, tmpPath, speed); err != nil {
			return fmt.Errorf("apply speed: %w", err)
		}
	}

	if err := storage.PutFile(ctx, s.blobs, line.AudioPath, tmpPath); err != nil {
		return fmt.Errorf("store audio: %w", err)
	}
	return s.store.SetLineStatus(ctx, line.ID, types.LineStatusDone)
}

// ensureReference uploads the reference clip to the TTS engine if it is
// not already there, serialized per clip path.
func (s *Synthesizer) ensureReference(ctx context.Context, referencePath string) error {
	mu := s.uploads.get(referencePath)
	mu.Lock()
	defer mu.Unlock()

	exists, err := s.tts.ReferenceExists(ctx, referencePath)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	r, err := s.blobs.Get(ctx, referencePath)
	if err != nil {
		return fmt.Errorf("read reference clip: %w", err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	return s.tts.UploadReference(ctx, referencePath, data)
}
