package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"

	"github.com/saybook/saybook/internal/audio"
	"github.com/saybook/saybook/internal/events"
	"github.com/saybook/saybook/internal/storage"
)

// Producer concurrency bounds for one run.
const (
	MinLLMConcurrency = 1
	MaxLLMConcurrency = 10
)

var (
	// ErrAlreadyRunning is returned by Start when the project has an
	// active run.
	ErrAlreadyRunning = errors.New("autopilot already running for project")
	// ErrNotRunning is returned by pause/resume/cancel when no run
	// exists for the project.
	ErrNotRunning = errors.New("no autopilot run for project")
)

// RunConfig describes one autopilot run.
type RunConfig struct {
	ProjectID          int64
	ChapterIDs         []int64
	Concurrency        int
	Speed              float64
	VoiceMatchInterval int
	ManualVoiceAssign  bool
	SkipParsed         bool
}

// StartResult acknowledges an accepted run.
type StartResult struct {
	ChapterCount       int `json:"chapter_count"`
	Concurrency        int `json:"concurrency"`
	VoiceMatchInterval int `json:"voice_match_interval"`
}

// Status is a point-in-time run snapshot.
type Status struct {
	Running   bool `json:"running"`
	Paused    bool `json:"paused"`
	Cancelled bool `json:"cancelled"`
}

type runHandle struct {
	token   *Token
	done    chan struct{}
	llmDone atomic.Int64
	ttsDone atomic.Int64
}

type queueItem struct {
	chapterID int64
	parsed    bool
}

// Autopilot owns the LLM-parse producer pool and the serial TTS
// consumer for every active run, keyed by project id.
type Autopilot struct {
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
	runs map[int64]*runHandle
}

func NewAutopilot(st Store, llm LLM, tts TTS, blobs storage.Adapter, speeder SpeedProcessor, sink events.Sink, maxSegmentChars, maxSegmentRetries int, tempDir string) *Autopilot {
	return &Autopilot{
		store:             st,
		llm:               llm,
		tts:               tts,
		blobs:             blobs,
		speeder:           speeder,
		sink:              sink,
		maxSegmentChars:   maxSegmentChars,
		maxSegmentRetries: maxSegmentRetries,
		tempDir:           tempDir,
		runs:              make(map[int64]*runHandle),
	}
}

// Start launches a run and returns immediately. At most one run per
// project is active; a second Start returns ErrAlreadyRunning.
func (a *Autopilot) Start(ctx context.Context, cfg RunConfig) (*StartResult, error) {
	if len(cfg.ChapterIDs) == 0 {
		return nil, errors.New("no chapters selected")
	}
	if cfg.Concurrency < MinLLMConcurrency {
		cfg.Concurrency = MinLLMConcurrency
	}
	if cfg.Concurrency > MaxLLMConcurrency {
		cfg.Concurrency = MaxLLMConcurrency
	}
	if cfg.VoiceMatchInterval < 1 {
		cfg.VoiceMatchInterval = 1
	}
	if cfg.Speed == 0 {
		cfg.Speed = 1.0
	}
	cfg.Speed = audio.ClampSpeed(cfg.Speed)

	a.mu.Lock()
	if _, exists := a.runs[cfg.ProjectID]; exists {
		a.mu.Unlock()
		return nil, ErrAlreadyRunning
	}
	h := &runHandle{token: NewToken(), done: make(chan struct{})}
	a.runs[cfg.ProjectID] = h
	a.mu.Unlock()

	go func() {
		defer func() {
			a.mu.Lock()
			delete(a.runs, cfg.ProjectID)
			a.mu.Unlock()
			close(h.done)
		}()
		a.run(ctx, cfg, h)
	}()

	return &StartResult{
		ChapterCount:       len(cfg.ChapterIDs),
		Concurrency:        cfg.Concurrency,
		VoiceMatchInterval: cfg.VoiceMatchInterval,
	}, nil
}

// Status reports the run snapshot for a project.
func (a *Autopilot) Status(projectID int64) Status {
	a.mu.Lock()
	h, ok := a.runs[projectID]
	a.mu.Unlock()
	if !ok {
		return Status{}
	}
	return Status{Running: true, Paused: h.token.Paused(), Cancelled: h.token.Cancelled()}
}

// Pause sets the pause signal; the current unit of work finishes first.
func (a *Autopilot) Pause(projectID int64) error {
	h, err := a.handle(projectID)
	if err != nil {
		return err
	}
	h.token.Pause()
	return nil
}

// Resume wakes a paused run.
func (a *Autopilot) Resume(projectID int64) error {
	h, err := a.handle(projectID)
	if err != nil {
		return err
	}
	h.token.Resume()
	return nil
}

// Cancel stops the run after in-flight units finish. It also signals
// resume so pause waiters can observe the cancellation.
func (a *Autopilot) Cancel(projectID int64) error {
	h, err := a.handle(projectID)
	if err != nil {
		return err
	}
	h.token.Cancel()
	return nil
}

// Shutdown cancels every active run and waits for them to drain.
func (a *Autopilot) Shutdown() {
	a.mu.Lock()
	var waits []chan struct{}
	for _, h := range a.runs {
		h.token.Cancel()
		waits = append(waits, h.done)
	}
	a.mu.Unlock()
	for _, done := range waits {
		<-done
	}
}

func (a *Autopilot) handle(projectID int64) (*runHandle, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	h, ok := a.runs[projectID]
	if !ok {
		return nil, ErrNotRunning
	}
	return h, nil
}

// run drives one project's pipeline to completion.
func (a *Autopilot) run(ctx context.Context, cfg RunConfig, h *runHandle) {
	total := len(cfg.ChapterIDs)
	token := h.token

	a.sink.Broadcast(events.Event{
		Event:     "autopilot_start",
		ProjectID: cfg.ProjectID,
		Total:     total,
		Log: fmt.Sprintf("🚀 一键挂机已启动（并行流水线）：共 %d 章，LLM并发数 %d，每 %d 章匹配音色",
			total, cfg.Concurrency, cfg.VoiceMatchInterval),
	})

	parser := NewChapterParser(a.store, a.llm, a.sink, a.maxSegmentChars, a.maxSegmentRetries)
	gate := NewVoiceMatchGate(a.store, a.llm, a.sink, cfg.VoiceMatchInterval, cfg.ManualVoiceAssign)
	synth := NewSynthesizer(a.store, a.tts, a.blobs, a.speeder, a.sink, a.tempDir)

	// Consumer keeps up with the producer in typical operation, so
	// capacity == total makes the queue effectively unbounded.
	queue := make(chan queueItem, total)
	sem := make(chan struct{}, cfg.Concurrency)

	var producers sync.WaitGroup
	for idx, chapterID := range cfg.ChapterIDs {
		producers.Add(1)
		go func(chIdx int, chID int64) {
			defer producers.Done()
			a.llmWorker(ctx, cfg, h, parser, gate, queue, sem, chIdx, chID)
		}(idx, chapterID)
	}

	var consumer sync.WaitGroup
	consumer.Add(1)
	go func() {
		defer consumer.Done()
		a.ttsConsumer(ctx, cfg, h, synth, queue)
	}()

	producers.Wait()
	close(queue) // end-of-work sentinel for the consumer
	consumer.Wait()

	llmDone := int(h.llmDone.Load())
	ttsDone := int(h.ttsDone.Load())
	if token.Cancelled() {
		a.sink.Broadcast(events.Event{
			Event:     "autopilot_complete",
			ProjectID: cfg.ProjectID,
			Cancelled: true,
			LLMDone:   llmDone,
			TTSDone:   ttsDone,
			Total:     total,
			Log:       fmt.Sprintf("⏹️ 一键挂机已取消！LLM完成 %d/%d，TTS完成 %d/%d", llmDone, total, ttsDone, total),
		})
		return
	}
	a.sink.Broadcast(events.Event{
		Event:     "autopilot_complete",
		ProjectID: cfg.ProjectID,
		LLMDone:   llmDone,
		TTSDone:   ttsDone,
		Total:     total,
		Log:       fmt.Sprintf("🎉 一键挂机全部完成！LLM完成 %d/%d，TTS完成 %d/%d", llmDone, total, ttsDone, total),
	})
}

// llmWorker parses one chapter under the concurrency semaphore and
// forwards the outcome to the TTS queue.
func (a *Autopilot) llmWorker(ctx context.Context, cfg RunConfig, h *runHandle, parser *ChapterParser, gate *VoiceMatchGate, queue chan<- queueItem, sem chan struct{}, chIdx int, chapterID int64) {
	token := h.token
	total := len(cfg.ChapterIDs)

	if !waitResume(ctx, cfg.ProjectID, token, a.sink) {
		return
	}

	// a cancel observed while queued for a slot aborts without starting
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

	a.progress(cfg.ProjectID, chapterID, "llm", h, total,
		fmt.Sprintf("📖 [%d/%d] 章节 %d 开始 LLM 解析", chIdx+1, total, chapterID))

	parsed := parser.ParseChapter(ctx, cfg.ProjectID, chapterID, token, &h.llmDone, total, cfg.SkipParsed, "autopilot_llm")

	if token.Cancelled() {
		return
	}

	if parsed {
		a.progress(cfg.ProjectID, chapterID, "llm_done", h, total,
			fmt.Sprintf("✅ [%d/%d] 章节 %d LLM 解析完成", h.llmDone.Load(), total, chapterID))

		if !gate.CheckAfterParse(ctx, cfg.ProjectID, chapterID, token) {
			return
		}
		queue <- queueItem{chapterID: chapterID, parsed: true}
		return
	}

	a.progress(cfg.ProjectID, chapterID, "llm_error", h, total,
		fmt.Sprintf("❌ 章节 %d LLM 解析失败，跳过该章TTS", chapterID))
	queue <- queueItem{chapterID: chapterID, parsed: false}
}

// ttsConsumer drains the queue serially, voicing each parsed chapter.
func (a *Autopilot) ttsConsumer(ctx context.Context, cfg RunConfig, h *runHandle, synth *Synthesizer, queue <-chan queueItem) {
	token := h.token
	total := len(cfg.ChapterIDs)

	for item := range queue {
		if token.Cancelled() {
			return
		}

		if !item.parsed {
			h.ttsDone.Add(1)
			a.progress(cfg.ProjectID, item.chapterID, "tts_error", h, total,
				fmt.Sprintf("⏭️ 章节 %d LLM失败，跳过配音", item.chapterID))
			continue
		}

		if !waitResume(ctx, cfg.ProjectID, token, a.sink) {
			return
		}

		unbound, err := chapterUnboundRoles(ctx, a.store, item.chapterID)
		if err != nil {
			log.Printf("[pipeline] unbound role scan failed for chapter %d: %v", item.chapterID, err)
		}
		if len(unbound) > 0 {
			a.sink.Broadcast(events.Event{
				Event:        "autopilot_log",
				ProjectID:    cfg.ProjectID,
				ChapterID:    item.chapterID,
				UnboundRoles: unbound,
				Log:          fmt.Sprintf("⚠️ 章节 %d 有 %d 个角色未绑定音色，跳过配音", item.chapterID, len(unbound)),
			})
			h.ttsDone.Add(1)
			a.progress(cfg.ProjectID, item.chapterID, "tts_error", h, total,
				fmt.Sprintf("⏭️ 章节 %d 角色未绑定音色，已跳过", item.chapterID))
			continue
		}

		a.progress(cfg.ProjectID, item.chapterID, "tts", h, total,
			fmt.Sprintf("🎙️ 章节 %d 开始 TTS 配音", item.chapterID))

		ok := synth.SynthesizeChapter(ctx, cfg.ProjectID, item.chapterID, cfg.Speed, token, "autopilot_tts")
		h.ttsDone.Add(1)

		if ok {
			a.progress(cfg.ProjectID, item.chapterID, "tts_done", h, total,
				fmt.Sprintf("✅ 章节 %d 配音完成", item.chapterID))
		} else {
			a.progress(cfg.ProjectID, item.chapterID, "tts_error", h, total,
				fmt.Sprintf("⚠️ 章节 %d 配音有失败项", item.chapterID))
		}
	}
}

func (a *Autopilot) progress(projectID, chapterID int64, phase string, h *runHandle, total int, logMsg string) {
	a.sink.Broadcast(events.Event{
		Event:     "autopilot_progress",
		ProjectID: projectID,
		ChapterID: chapterID,
		Phase:     phase,
		LLMDone:   int(h.llmDone.Load()),
		TTSDone:   int(h.ttsDone.Load()),
		Total:     total,
		Log:       logMsg,
	})
}
