package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/saybook/saybook/internal/events"
	"github.com/saybook/saybook/pkg/types"
)

func seedChapterLines(t *testing.T, st *fakeStore, chapterID int64, roleIDs ...int64) {
	t.Helper()
	for i, rid := range roleIDs {
		_, err := st.CreateLine(context.Background(), &types.Line{
			ChapterID: chapterID, Order: i + 1, RoleID: rid, Text: "台词",
			Emotion: "平静", Strength: "中等", Status: types.LineStatusPending,
		})
		require.NoError(t, err)
	}
}

func TestGateNoOpBelowInterval(t *testing.T) {
	st := newFakeStore()
	st.addProject(1, "p")
	st.addChapter(10, 1, 1, "正文。")
	st.addRole(1, 1, "林远", 0)
	seedChapterLines(t, st, 10, 1)

	llm := &fakeLLM{}
	gate := NewVoiceMatchGate(st, llm, events.NewMemorySink(), 3, false)

	require.True(t, gate.CheckAfterParse(context.Background(), 1, 10, NewToken()))
	require.Zero(t, llm.callCount(), "interval not reached, no matching")
}

func TestGateNoOpWhenAllRolesBound(t *testing.T) {
	st := newFakeStore()
	st.addProject(1, "p")
	st.addChapter(10, 1, 1, "正文。")
	st.addVoice(7, "青年男声", "清亮", "ref/male.wav")
	st.addRole(1, 1, "林远", 7)
	seedChapterLines(t, st, 10, 1)

	llm := &fakeLLM{}
	gate := NewVoiceMatchGate(st, llm, events.NewMemorySink(), 1, false)

	require.True(t, gate.CheckAfterParse(context.Background(), 1, 10, NewToken()))
	require.Zero(t, llm.callCount())
}

func TestGateAutoMatchBindsVoices(t *testing.T) {
	st := newFakeStore()
	st.addProject(1, "p")
	st.addChapter(10, 1, 1, "林远是个年轻人。")
	st.addVoice(7, "青年男声", "清亮", "ref/male.wav")
	st.addVoice(8, "老年男声", "沙哑", "ref/old.wav")
	st.addRole(1, 1, "林远", 0)
	seedChapterLines(t, st, 10, 1)

	llm := &fakeLLM{respond: func(call int, prompt string, out any) error {
		dst := out.(*[]events.VoiceMatch)
		*dst = []events.VoiceMatch{{RoleName: "林远", VoiceName: "青年男声"}}
		return nil
	}}
	sink := events.NewMemorySink()
	gate := NewVoiceMatchGate(st, llm, sink, 1, false)

	require.True(t, gate.CheckAfterParse(context.Background(), 1, 10, NewToken()))

	role, err := st.GetRole(context.Background(), 1)
	require.NoError(t, err)
	require.EqualValues(t, 7, role.VoiceID)

	matchedEvs := sink.ByName("autopilot_voice_matched")
	require.Len(t, matchedEvs, 1)
	require.Equal(t, "林远", matchedEvs[0].Matched[0].RoleName)
	require.Empty(t, sink.ByName("autopilot_voice_needed"))
}

func TestGateUnknownVoiceNameFallsBackToPause(t *testing.T) {
	st := newFakeStore()
	st.addProject(1, "p")
	st.addChapter(10, 1, 1, "正文。")
	st.addVoice(7, "青年男声", "", "ref/male.wav")
	st.addRole(1, 1, "林远", 0)
	seedChapterLines(t, st, 10, 1)

	llm := &fakeLLM{respond: func(call int, prompt string, out any) error {
		dst := out.(*[]events.VoiceMatch)
		*dst = []events.VoiceMatch{{RoleName: "林远", VoiceName: "不存在的音色"}}
		return nil
	}}
	sink := events.NewMemorySink()
	gate := NewVoiceMatchGate(st, llm, sink, 1, false)
	tok := NewToken()

	done := make(chan bool, 1)
	go func() {
		done <- gate.CheckAfterParse(context.Background(), 1, 10, tok)
	}()

	require.Eventually(t, func() bool {
		return len(sink.ByName("autopilot_voice_needed")) == 1
	}, time.Second, 5*time.Millisecond)
	require.True(t, tok.Paused())

	tok.Resume()
	select {
	case ok := <-done:
		require.True(t, ok)
	case <-time.After(time.Second):
		t.Fatal("gate did not return after resume")
	}

	needed := sink.ByName("autopilot_voice_needed")
	require.Equal(t, []string{"林远"}, needed[0].UnboundRoles)
}

func TestGateManualModePausesImmediately(t *testing.T) {
	st := newFakeStore()
	st.addProject(1, "p")
	st.addChapter(10, 1, 1, "正文。")
	st.addRole(1, 1, "林远", 0)
	seedChapterLines(t, st, 10, 1)

	llm := &fakeLLM{}
	sink := events.NewMemorySink()
	gate := NewVoiceMatchGate(st, llm, sink, 99, true)
	tok := NewToken()

	done := make(chan bool, 1)
	go func() {
		done <- gate.CheckAfterParse(context.Background(), 1, 10, tok)
	}()

	require.Eventually(t, func() bool { return tok.Paused() }, time.Second, 5*time.Millisecond)
	require.Zero(t, llm.callCount(), "manual mode never calls the LLM")

	tok.Resume()
	require.True(t, <-done)
}

func TestGateCancelDuringPauseReturnsFalse(t *testing.T) {
	st := newFakeStore()
	st.addProject(1, "p")
	st.addChapter(10, 1, 1, "正文。")
	st.addRole(1, 1, "林远", 0)
	seedChapterLines(t, st, 10, 1)

	sink := events.NewMemorySink()
	gate := NewVoiceMatchGate(st, &fakeLLM{}, sink, 99, true)
	tok := NewToken()

	done := make(chan bool, 1)
	go func() {
		done <- gate.CheckAfterParse(context.Background(), 1, 10, tok)
	}()

	require.Eventually(t, func() bool { return tok.Paused() }, time.Second, 5*time.Millisecond)
	tok.Cancel()

	select {
	case ok := <-done:
		require.False(t, ok, "cancel during pause must report cannot-continue")
	case <-time.After(time.Second):
		t.Fatal("gate did not observe cancel")
	}
	require.Empty(t, sink.ByName("autopilot_resumed"))
}

func TestGateIntervalCounterResetsOnIntervalTrigger(t *testing.T) {
	st := newFakeStore()
	st.addProject(1, "p")
	st.addChapter(10, 1, 1, "正文。")
	st.addChapter(11, 1, 2, "正文。")
	st.addChapter(12, 1, 3, "正文。")
	st.addVoice(7, "青年男声", "", "ref/male.wav")
	st.addRole(1, 1, "林远", 0)
	seedChapterLines(t, st, 10, 1)
	seedChapterLines(t, st, 11, 1)
	seedChapterLines(t, st, 12, 1)

	llm := &fakeLLM{respond: func(call int, prompt string, out any) error {
		return errors.New("match unavailable")
	}}
	sink := events.NewMemorySink()
	gate := NewVoiceMatchGate(st, llm, sink, 2, false)
	tok := NewToken()

	// chapter 1: below interval
	require.True(t, gate.CheckAfterParse(context.Background(), 1, 10, tok))
	require.Zero(t, llm.callCount())

	// chapter 2: interval hit, LLM fails, gate pauses; resume ahead of time
	tok.Resume()
	go func() {
		time.Sleep(20 * time.Millisecond)
		tok.Resume()
	}()
	require.True(t, gate.CheckAfterParse(context.Background(), 1, 10, tok))
	require.Equal(t, 1, llm.callCount())

	// chapter 3: counter was reset, below interval again
	require.True(t, gate.CheckAfterParse(context.Background(), 1, 12, tok))
	require.Equal(t, 1, llm.callCount())
}
