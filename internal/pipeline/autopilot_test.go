package pipeline

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/saybook/saybook/internal/events"
	"github.com/saybook/saybook/internal/storage"
	"github.com/saybook/saybook/pkg/types"
)

func newTestAutopilot(t *testing.T, st Store, llm LLM, tts TTS) (*Autopilot, *events.MemorySink) {
	t.Helper()
	blobs, err := storage.NewLocalAdapter(t.TempDir())
	require.NoError(t, err)
	sink := events.NewMemorySink()
	return NewAutopilot(st, llm, tts, blobs, &fakeSpeeder{}, sink, 0, 0, t.TempDir()), sink
}

// scriptedLLM answers parse, repair, and voice-match prompts.
type scriptedLLM struct {
	fakeLLM
}

func newScriptedLLM(parse func(prompt string, out any) error, match func(out any) error) *scriptedLLM {
	s := &scriptedLLM{}
	s.respond = func(call int, prompt string, out any) error {
		switch {
		case strings.Contains(prompt, "不合法的条目"):
			dst := out.(*[]emotionFix)
			*dst = nil
			return nil
		case strings.Contains(prompt, "可用音色列表"):
			if match == nil {
				dst := out.(*[]events.VoiceMatch)
				*dst = nil
				return nil
			}
			return match(out)
		default:
			return parse(prompt, out)
		}
	}
	return s
}

func waitComplete(t *testing.T, sink *events.MemorySink) events.Event {
	t.Helper()
	var ev events.Event
	require.Eventually(t, func() bool {
		evs := sink.ByName("autopilot_complete")
		if len(evs) == 0 {
			return false
		}
		ev = evs[0]
		return true
	}, 5*time.Second, 10*time.Millisecond)
	return ev
}

func TestAutopilotEndToEnd(t *testing.T) {
	st := newFakeStore()
	st.addProject(1, "长夜")
	st.addChapter(10, 1, 1, "林远推门而入。")
	st.addChapter(11, 1, 2, "苏湄抬起头。")
	st.addVoice(7, "青年男声", "清亮", "refs/male.wav")
	st.addVoice(8, "少女声", "柔和", "refs/girl.wav")

	llm := newScriptedLLM(
		func(prompt string, out any) error {
			if strings.Contains(prompt, "林远推门而入") {
				return parsedAnswer(out,
					types.ParsedLine{Role: "旁白", Text: "林远推门而入。", Emotion: "平静", Strength: "中等"},
					types.ParsedLine{Role: "林远", Text: "我回来了。", Emotion: "高兴", Strength: "中等"},
				)
			}
			return parsedAnswer(out,
				types.ParsedLine{Role: "苏湄", Text: "你回来了。", Emotion: "惊喜", Strength: "稍弱"},
			)
		},
		func(out any) error {
			dst := out.(*[]events.VoiceMatch)
			*dst = []events.VoiceMatch{
				{RoleName: "旁白", VoiceName: "青年男声"},
				{RoleName: "林远", VoiceName: "青年男声"},
				{RoleName: "苏湄", VoiceName: "少女声"},
			}
			return nil
		},
	)
	tts := newFakeTTS()
	tts.uploaded["refs/male.wav"] = true
	tts.uploaded["refs/girl.wav"] = true
	ap, sink := newTestAutopilot(t, st, llm, tts)

	res, err := ap.Start(context.Background(), RunConfig{
		ProjectID:          1,
		ChapterIDs:         []int64{10, 11},
		Concurrency:        2,
		Speed:              1.0,
		VoiceMatchInterval: 1,
	})
	require.NoError(t, err)
	require.Equal(t, 2, res.ChapterCount)

	final := waitComplete(t, sink)
	require.False(t, final.Cancelled)
	require.Equal(t, 2, final.LLMDone)
	require.Equal(t, 2, final.TTSDone)

	for _, chID := range []int64{10, 11} {
		lines, err := st.ListLines(context.Background(), chID)
		require.NoError(t, err)
		require.NotEmpty(t, lines)
		for _, l := range lines {
			require.Equal(t, types.LineStatusDone, l.Status)
		}
	}

	require.False(t, ap.Status(1).Running, "run removed from registry after completion")
}

func TestAutopilotSecondStartRejected(t *testing.T) {
	st := newFakeStore()
	st.addProject(1, "p")
	st.addChapter(10, 1, 1, "正文。")

	release := make(chan struct{})
	llm := &fakeLLM{respond: func(call int, prompt string, out any) error {
		<-release
		return parsedAnswer(out, types.ParsedLine{Role: "旁白", Text: "好。", Emotion: "平静", Strength: "中等"})
	}}
	ap, sink := newTestAutopilot(t, st, llm, newFakeTTS())

	_, err := ap.Start(context.Background(), RunConfig{ProjectID: 1, ChapterIDs: []int64{10}, Concurrency: 1, VoiceMatchInterval: 5})
	require.NoError(t, err)

	_, err = ap.Start(context.Background(), RunConfig{ProjectID: 1, ChapterIDs: []int64{10}, Concurrency: 1, VoiceMatchInterval: 5})
	require.ErrorIs(t, err, ErrAlreadyRunning)

	close(release)
	waitComplete(t, sink)

	// completed run frees the slot
	_, err = ap.Start(context.Background(), RunConfig{ProjectID: 1, ChapterIDs: []int64{10}, Concurrency: 1, VoiceMatchInterval: 5})
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return len(sink.ByName("autopilot_complete")) == 2
	}, 5*time.Second, 10*time.Millisecond)
}

func TestAutopilotControlsRequireActiveRun(t *testing.T) {
	st := newFakeStore()
	ap, _ := newTestAutopilot(t, st, &fakeLLM{}, newFakeTTS())

	require.ErrorIs(t, ap.Pause(42), ErrNotRunning)
	require.ErrorIs(t, ap.Resume(42), ErrNotRunning)
	require.ErrorIs(t, ap.Cancel(42), ErrNotRunning)
	require.False(t, ap.Status(42).Running)
}

func TestAutopilotPauseResumeSnapshot(t *testing.T) {
	st := newFakeStore()
	st.addProject(1, "p")
	st.addChapter(10, 1, 1, "正文。")

	release := make(chan struct{})
	llm := &fakeLLM{respond: func(call int, prompt string, out any) error {
		<-release
		return parsedAnswer(out, types.ParsedLine{Role: "旁白", Text: "好。", Emotion: "平静", Strength: "中等"})
	}}
	ap, sink := newTestAutopilot(t, st, llm, newFakeTTS())

	_, err := ap.Start(context.Background(), RunConfig{ProjectID: 1, ChapterIDs: []int64{10}, Concurrency: 1, VoiceMatchInterval: 5})
	require.NoError(t, err)

	require.NoError(t, ap.Pause(1))
	require.True(t, ap.Status(1).Paused)
	require.NoError(t, ap.Resume(1))
	require.False(t, ap.Status(1).Paused)

	close(release)
	waitComplete(t, sink)
}

func TestAutopilotCancelSkipsQueuedChapters(t *testing.T) {
	st := newFakeStore()
	st.addProject(1, "p")
	for i := int64(0); i < 5; i++ {
		st.addChapter(10+i, 1, int(i)+1, "正文。")
	}

	started := make(chan int64, 5)
	release := make(chan struct{})
	llm := &fakeLLM{respond: func(call int, prompt string, out any) error {
		if strings.Contains(prompt, "不合法的条目") {
			dst := out.(*[]emotionFix)
			*dst = nil
			return nil
		}
		started <- 1
		<-release
		return parsedAnswer(out, types.ParsedLine{Role: "旁白", Text: "好。", Emotion: "平静", Strength: "中等"})
	}}
	ap, sink := newTestAutopilot(t, st, llm, newFakeTTS())

	_, err := ap.Start(context.Background(), RunConfig{ProjectID: 1, ChapterIDs: []int64{10, 11, 12, 13, 14}, Concurrency: 1, VoiceMatchInterval: 99})
	require.NoError(t, err)

	// first chapter is mid-parse; cancel, then let it finish
	<-started
	require.NoError(t, ap.Cancel(1))
	close(release)

	final := waitComplete(t, sink)
	require.True(t, final.Cancelled)

	// no chapter after the in-flight one started a parse
	require.LessOrEqual(t, len(started), 1)
	require.Zero(t, final.TTSDone)
}

func TestAutopilotVoiceGateFiresBeforeChapterTTS(t *testing.T) {
	st := newFakeStore()
	st.addProject(1, "p")
	st.addChapter(10, 1, 1, "正文一。")
	st.addChapter(11, 1, 2, "正文二。")
	st.addVoice(7, "青年男声", "", "refs/male.wav")

	llm := newScriptedLLM(
		func(prompt string, out any) error {
			return parsedAnswer(out, types.ParsedLine{Role: "林远", Text: "台词。", Emotion: "平静", Strength: "中等"})
		},
		func(out any) error {
			dst := out.(*[]events.VoiceMatch)
			*dst = []events.VoiceMatch{{RoleName: "林远", VoiceName: "青年男声"}}
			return nil
		},
	)
	tts := newFakeTTS()
	tts.uploaded["refs/male.wav"] = true
	ap, sink := newTestAutopilot(t, st, llm, tts)

	_, err := ap.Start(context.Background(), RunConfig{ProjectID: 1, ChapterIDs: []int64{10, 11}, Concurrency: 1, VoiceMatchInterval: 1})
	require.NoError(t, err)
	waitComplete(t, sink)

	all := sink.Events()
	matchedIdx, ttsIdx := -1, -1
	for i, ev := range all {
		if ev.Event == "autopilot_voice_matched" && matchedIdx == -1 {
			matchedIdx = i
		}
		if ev.Event == "autopilot_tts_chapter_start" && ttsIdx == -1 {
			ttsIdx = i
		}
	}
	require.NotEqual(t, -1, matchedIdx, "voice match must run")
	require.NotEqual(t, -1, ttsIdx, "tts must run")
	require.Less(t, matchedIdx, ttsIdx, "voice match event precedes the first chapter's TTS")
}

func TestAutopilotTTSFollowsParseCompletionOrder(t *testing.T) {
	st := newFakeStore()
	st.addProject(1, "p")
	st.addChapter(10, 1, 1, "第一章正文。")
	st.addChapter(11, 1, 2, "第二章正文。")
	st.addVoice(7, "v", "", "refs/v.wav")
	st.addRole(1, 1, "旁白", 7)

	// chapter 10 is submitted first but its parse is held until the
	// consumer has started voicing chapter 11; the consumer must not
	// sit waiting for the submission-order head
	var sink *events.MemorySink
	llm := newScriptedLLM(
		func(prompt string, out any) error {
			if strings.Contains(prompt, "第一章正文") {
				deadline := time.After(4 * time.Second)
				for len(sink.ByName("autopilot_tts_chapter_start")) == 0 {
					select {
					case <-deadline:
						return context.DeadlineExceeded
					case <-time.After(5 * time.Millisecond):
					}
				}
				return parsedAnswer(out, types.ParsedLine{Role: "旁白", Text: "第一章。", Emotion: "平静", Strength: "中等"})
			}
			return parsedAnswer(out, types.ParsedLine{Role: "旁白", Text: "第二章。", Emotion: "平静", Strength: "中等"})
		},
		nil,
	)
	tts := newFakeTTS()
	tts.uploaded["refs/v.wav"] = true
	ap, apSink := newTestAutopilot(t, st, llm, tts)
	sink = apSink

	_, err := ap.Start(context.Background(), RunConfig{ProjectID: 1, ChapterIDs: []int64{10, 11}, Concurrency: 2, VoiceMatchInterval: 99})
	require.NoError(t, err)

	final := waitComplete(t, sink)
	require.False(t, final.Cancelled)
	require.Equal(t, 2, final.TTSDone)

	starts := sink.ByName("autopilot_tts_chapter_start")
	require.Len(t, starts, 2)
	require.EqualValues(t, 11, starts[0].ChapterID, "chapter finishing its parse first is voiced first")
	require.EqualValues(t, 10, starts[1].ChapterID)
}

func TestAutopilotFailedChapterSkippedByConsumer(t *testing.T) {
	st := newFakeStore()
	st.addProject(1, "p")
	st.addChapter(10, 1, 1, "好章节。")
	st.addChapter(11, 1, 2, "坏章节。")
	st.addVoice(7, "v", "", "refs/v.wav")
	st.addRole(1, 1, "旁白", 7)

	llm := newScriptedLLM(
		func(prompt string, out any) error {
			if strings.Contains(prompt, "坏章节") {
				return context.DeadlineExceeded
			}
			return parsedAnswer(out, types.ParsedLine{Role: "旁白", Text: "好。", Emotion: "平静", Strength: "中等"})
		},
		nil,
	)
	tts := newFakeTTS()
	tts.uploaded["refs/v.wav"] = true
	ap, sink := newTestAutopilot(t, st, llm, tts)

	_, err := ap.Start(context.Background(), RunConfig{ProjectID: 1, ChapterIDs: []int64{10, 11}, Concurrency: 1, VoiceMatchInterval: 99})
	require.NoError(t, err)

	final := waitComplete(t, sink)
	require.Equal(t, 2, final.LLMDone, "failed chapters still count toward progress")
	require.Equal(t, 2, final.TTSDone)

	lines, err := st.ListLines(context.Background(), 11)
	require.NoError(t, err)
	require.Empty(t, lines, "failed chapter persisted nothing")
	require.Equal(t, 1, tts.requestCount(), "only the good chapter was voiced")
}
