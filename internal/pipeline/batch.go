package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/saybook/saybook/internal/audio"
	"github.com/saybook/saybook/internal/emotion"
	"github.com/saybook/saybook/internal/events"
	"github.com/saybook/saybook/internal/provider"
	"github.com/saybook/saybook/internal/storage"
	"github.com/saybook/saybook/pkg/types"
)

// ErrBatchAlreadyRunning is returned by StartBatchLLM when a batch
// parse is active for the project.
var ErrBatchAlreadyRunning = errors.New("batch parse already running for project")

// Batch runs the standalone (non-autopilot) operations: bulk LLM
// parsing, bulk TTS, one-off voice previews, and speed adjustment.
type Batch struct {
	store   Store
	llm     LLM
	tts     TTS
	blobs   storage.Adapter
	speeder SpeedProcessor
	sink    events.Sink

	maxSegmentChars   int
	maxSegmentRetries int
	tempDir           string

	mu   sync.Mutex
	runs map[int64]*Token
}

func NewBatch(st Store, llm LLM, tts TTS, blobs storage.Adapter, speeder SpeedProcessor, sink events.Sink, maxSegmentChars, maxSegmentRetries int, tempDir string) *Batch {
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	return &Batch{
		store:             st,
		llm:               llm,
		tts:               tts,
		blobs:             blobs,
		speeder:           speeder,
		sink:              sink,
		maxSegmentChars:   maxSegmentChars,
		maxSegmentRetries: maxSegmentRetries,
		tempDir:           tempDir,
		runs:              make(map[int64]*Token),
	}
}

// StartBatchLLM parses the chapters concurrently in the background.
// At most one batch parse runs per project.
func (b *Batch) StartBatchLLM(ctx context.Context, projectID int64, chapterIDs []int64, concurrency int, skipParsed bool) error {
	if len(chapterIDs) == 0 {
		return errors.New("no chapters selected")
	}
	if concurrency < MinLLMConcurrency {
		concurrency = MinLLMConcurrency
	}
	if concurrency > MaxLLMConcurrency {
		concurrency = MaxLLMConcurrency
	}

	b.mu.Lock()
	if _, exists := b.runs[projectID]; exists {
		b.mu.Unlock()
		return ErrBatchAlreadyRunning
	}
	token := NewToken()
	b.runs[projectID] = token
	b.mu.Unlock()

	go func() {
		defer func() {
			b.mu.Lock()
			delete(b.runs, projectID)
			b.mu.Unlock()
		}()
		b.runBatchLLM(ctx, projectID, chapterIDs, concurrency, skipParsed, token)
	}()
	return nil
}

// BatchLLMRunning reports whether a batch parse is active for a project.
func (b *Batch) BatchLLMRunning(projectID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.runs[projectID]
	return ok
}

// CancelBatchLLM signals the active batch parse to stop.
func (b *Batch) CancelBatchLLM(projectID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	token, ok := b.runs[projectID]
	if !ok {
		return ErrNotRunning
	}
	token.Cancel()
	return nil
}

func (b *Batch) runBatchLLM(ctx context.Context, projectID int64, chapterIDs []int64, concurrency int, skipParsed bool, token *Token) {
	total := len(chapterIDs)
	parser := NewChapterParser(b.store, b.llm, b.sink, b.maxSegmentChars, b.maxSegmentRetries)
	sem := make(chan struct{}, concurrency)
	var done atomic.Int64

	var wg sync.WaitGroup
	for _, chapterID := range chapterIDs {
		wg.Add(1)
		go func(chID int64) {
			defer wg.Done()
			// queued chapters exit on cancel without taking a slot
			if token.Cancelled() {
				return
			}
			select {
			case sem <- struct{}{}:
			case <-token.CancelCh():
				return
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()
			if token.Cancelled() {
				return
			}
			parser.ParseChapter(ctx, projectID, chID, token, &done, total, skipParsed, "batch_llm")
		}(chapterID)
	}
	wg.Wait()

	if token.Cancelled() {
		b.sink.Broadcast(events.Event{
			Event:     "batch_llm_complete",
			ProjectID: projectID,
			Total:     total,
			Cancelled: true,
			Log:       fmt.Sprintf("⏹️ 批量LLM解析已取消！已完成 %d/%d 个章节", done.Load(), total),
		})
		return
	}
	b.sink.Broadcast(events.Event{
		Event:     "batch_llm_complete",
		ProjectID: projectID,
		Total:     total,
		Log:       fmt.Sprintf("🎉 批量LLM解析全部完成！共处理 %d 个章节", total),
	})
}

// BatchTTS voices the chapters serially. Blocking; callers that want
// fire-and-forget run it in a goroutine.
func (b *Batch) BatchTTS(ctx context.Context, projectID int64, chapterIDs []int64, speed float64) {
	if speed == 0 {
		speed = 1.0
	}
	speed = audio.ClampSpeed(speed)
	token := NewToken()
	synth := NewSynthesizer(b.store, b.tts, b.blobs, b.speeder, b.sink, b.tempDir)

	totalLines := 0
	for _, chID := range chapterIDs {
		lines, err := b.store.ListLines(ctx, chID)
		if err != nil {
			continue
		}
		for _, l := range lines {
			if l.RoleID != 0 {
				totalLines++
			}
		}
	}

	b.sink.Broadcast(events.Event{
		Event:     "batch_tts_start",
		ProjectID: projectID,
		Total:     len(chapterIDs),
		LineCount: totalLines,
		Log:       fmt.Sprintf("🎙️ 开始批量配音：共 %d 章, %d 条台词", len(chapterIDs), totalLines),
	})

	voicedLines := 0
	for _, chID := range chapterIDs {
		synth.SynthesizeChapter(ctx, projectID, chID, speed, token, "batch_tts")
		lines, err := b.store.ListLines(ctx, chID)
		if err != nil {
			continue
		}
		for _, l := range lines {
			if l.Status == types.LineStatusDone {
				voicedLines++
			}
		}
	}

	b.sink.Broadcast(events.Event{
		Event:     "batch_tts_complete",
		ProjectID: projectID,
		Total:     len(chapterIDs),
		LineCount: voicedLines,
		Log:       fmt.Sprintf("🎉 批量配音全部完成！共处理 %d 章, %d 条台词", len(chapterIDs), voicedLines),
	})
}

// PreviewRequest describes a one-off synthesis not tied to any line.
type PreviewRequest struct {
	VoiceID  int64   `json:"voice_id"`
	Text     string  `json:"text"`
	Emotion  string  `json:"emotion"`
	Strength string  `json:"strength"`
	Speed    float64 `json:"speed"`
}

// VoicePreview synthesizes a throwaway clip and stores it under a
// preview key. Returns the storage key of the clip.
func (b *Batch) VoicePreview(ctx context.Context, req PreviewRequest) (string, error) {
	name := fmt.Sprintf("preview_%s.wav", uuid.NewString())
	return b.oneOffClip(ctx, req, storage.PreviewKey(name))
}

// VoiceDebug is VoicePreview for the standalone debug page; clips land
// under the debug prefix instead.
func (b *Batch) VoiceDebug(ctx context.Context, req PreviewRequest) (string, error) {
	name := fmt.Sprintf("debug_%s.wav", uuid.NewString())
	return b.oneOffClip(ctx, req, storage.DebugKey(name))
}

func (b *Batch) oneOffClip(ctx context.Context, req PreviewRequest, key string) (string, error) {
	voice, err := b.store.GetVoice(ctx, req.VoiceID)
	if err != nil {
		return "", fmt.Errorf("voice %d: %w", req.VoiceID, err)
	}

	emo := req.Emotion
	if emo == "" {
		emo = types.DefaultEmotion
	}
	stg := req.Strength
	if stg == "" {
		stg = types.DefaultStrength
	}

	data, err := b.tts.Synthesize(ctx, provider.SynthesizeRequest{
		Text:          req.Text,
		ReferencePath: voice.ReferencePath,
		EmotionVector: emotion.Vector(emo, stg),
	})
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(b.tempDir, "clip-*.wav")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}

	if req.Speed != 0 && req.Speed != 1.0 {
		if err := b.speeder.ApplySpeed(ctx, tmpPath, audio.ClampSpeed(req.Speed)); err != nil {
			return "", fmt.Errorf("apply speed: %w", err)
		}
	}

	if err := storage.PutFile(ctx, b.blobs, key, tmpPath); err != nil {
		return "", err
	}
	return key, nil
}

// AdjustLineSpeed re-encodes one line's stored audio at a new speed.
func (b *Batch) AdjustLineSpeed(ctx context.Context, lineID int64, speed float64) error {
	line, err := b.store.GetLine(ctx, lineID)
	if err != nil {
		return err
	}
	if line.AudioPath == "" {
		return fmt.Errorf("line %d has no audio", lineID)
	}
	return b.adjustStoredAudio(ctx, line.AudioPath, speed)
}

// AdjustChapterSpeed re-encodes every voiced line of a chapter. Returns
// the number of lines adjusted.
func (b *Batch) AdjustChapterSpeed(ctx context.Context, chapterID int64, speed float64) (int, error) {
	lines, err := b.store.ListLines(ctx, chapterID)
	if err != nil {
		return 0, err
	}
	adjusted := 0
	for _, line := range lines {
		if line.AudioPath == "" {
			continue
		}
		if exists, err := b.blobs.Exists(ctx, line.AudioPath); err != nil || !exists {
			continue
		}
		if err := b.adjustStoredAudio(ctx, line.AudioPath, speed); err != nil {
			return adjusted, err
		}
		adjusted++
	}
	return adjusted, nil
}

func (b *Batch) adjustStoredAudio(ctx context.Context, key string, speed float64) error {
	exists, err := b.blobs.Exists(ctx, key)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("audio %s not found", key)
	}

	tmp, err := os.CreateTemp(b.tempDir, "adjust-*.wav")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpPath)

	if err := storage.GetToFile(ctx, b.blobs, key, tmpPath); err != nil {
		return err
	}
	if err := b.speeder.ApplySpeed(ctx, tmpPath, audio.ClampSpeed(speed)); err != nil {
		return err
	}
	return storage.PutFile(ctx, b.blobs, key, tmpPath)
}
