package pipeline

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/saybook/saybook/internal/events"
)

// Bounds on the early-chapter text gathered as voice-match LLM context.
const (
	voiceMatchContextChapters = 5
	voiceMatchChapterChars    = 500
	voiceMatchContextChars    = 2000
)

// VoiceMatchGate blocks chapters from reaching TTS while roles lack a
// bound voice. It fires every interval successfully parsed chapters, or
// on every chapter in manual-assignment mode, and either auto-assigns
// voices via the LLM or pauses the run for the operator.
type VoiceMatchGate struct {
	store Store
	llm   LLM
	sink  events.Sink

	interval int
	manual   bool

	// one evaluation at a time across all producer workers
	mu    sync.Mutex
	since int
}

func NewVoiceMatchGate(st Store, llm LLM, sink events.Sink, interval int, manual bool) *VoiceMatchGate {
	if interval < 1 {
		interval = 1
	}
	return &VoiceMatchGate{store: st, llm: llm, sink: sink, interval: interval, manual: manual}
}

// CheckAfterParse runs the gate for one just-parsed chapter. Returns
// false only when the run was cancelled while the gate was paused.
func (g *VoiceMatchGate) CheckAfterParse(ctx context.Context, projectID, chapterID int64, token *Token) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.since++
	intervalHit := g.since >= g.interval
	if intervalHit {
		// counter resets on the interval trigger only; manual mode
		// fires every chapter without touching it
		defer func() { g.since = 0 }()
	}
	if !intervalHit && !g.manual {
		return true
	}

	unbound, err := chapterUnboundRoles(ctx, g.store, chapterID)
	if err != nil {
		log.Printf("[pipeline] unbound role scan failed for chapter %d: %v", chapterID, err)
		return true
	}
	if len(unbound) == 0 {
		return true
	}

	if g.manual {
		return g.pauseForManual(ctx, projectID, chapterID, unbound, token)
	}

	g.sink.Broadcast(events.Event{
		Event:     "autopilot_log",
		ProjectID: projectID,
		Log:       fmt.Sprintf("🤖 检测到 %d 个新角色未绑定音色，开始智能匹配...", len(unbound)),
	})

	matched, unmatched := g.smartMatch(ctx, projectID)
	if len(matched) > 0 {
		var pairs []string
		for _, m := range matched {
			pairs = append(pairs, m.RoleName+"→"+m.VoiceName)
		}
		g.sink.Broadcast(events.Event{
			Event:     "autopilot_voice_matched",
			ProjectID: projectID,
			Matched:   matched,
			Log:       fmt.Sprintf("✅ 智能匹配成功: %s", strings.Join(pairs, ", ")),
		})
	}
	if len(unmatched) > 0 {
		return g.pauseForManual(ctx, projectID, chapterID, unmatched, token)
	}
	return true
}

// pauseForManual emits the voice-needed event, pauses the run, and parks
// until the operator resumes or the run is cancelled.
func (g *VoiceMatchGate) pauseForManual(ctx context.Context, projectID, chapterID int64, unbound []string, token *Token) bool {
	g.sink.Broadcast(events.Event{
		Event:        "autopilot_voice_needed",
		ProjectID:    projectID,
		ChapterID:    chapterID,
		UnboundRoles: unbound,
		Log:          fmt.Sprintf("⏸️ 发现 %d 个角色未绑定音色: %s，请手动分配后继续", len(unbound), strings.Join(unbound, ", ")),
	})
	token.Pause()
	return waitResume(ctx, projectID, token, g.sink)
}

// chapterUnboundRoles lists role names used by the chapter's lines that
// have no bound voice, in first-appearance order.
func chapterUnboundRoles(ctx context.Context, st Store, chapterID int64) ([]string, error) {
	lines, err := st.ListLines(ctx, chapterID)
	if err != nil {
		return nil, err
	}
	seen := make(map[int64]bool)
	var unbound []string
	for _, line := range lines {
		if line.RoleID == 0 || seen[line.RoleID] {
			continue
		}
		seen[line.RoleID] = true
		role, err := st.GetRole(ctx, line.RoleID)
		if err != nil {
			continue
		}
		if role.VoiceID == 0 {
			unbound = append(unbound, role.Name)
		}
	}
	return unbound, nil
}

// smartMatch asks the LLM to assign voices to every unbound role in the
// project and applies the mappings whose voice name exists. Returns the
// applied matches and the role names still unbound afterwards.
func (g *VoiceMatchGate) smartMatch(ctx context.Context, projectID int64) (matched []events.VoiceMatch, unmatched []string) {
	roles, err := g.store.ListRoles(ctx, projectID)
	if err != nil {
		log.Printf("[pipeline] voice match: list roles: %v", err)
		return nil, nil
	}
	var unboundNames []string
	roleByName := make(map[string]int64)
	for _, r := range roles {
		if r.VoiceID == 0 {
			unboundNames = append(unboundNames, r.Name)
			roleByName[r.Name] = r.ID
		}
	}
	if len(unboundNames) == 0 {
		return nil, nil
	}

	voices, err := g.store.ListVoices(ctx)
	if err != nil || len(voices) == 0 {
		return nil, unboundNames
	}
	voiceByName := make(map[string]int64, len(voices))
	for _, v := range voices {
		voiceByName[v.Name] = v.ID
	}

	contextText, err := g.gatherContext(ctx, projectID)
	if err != nil {
		log.Printf("[pipeline] voice match: gather context: %v", err)
	}

	var mappings []events.VoiceMatch
	prompt := buildVoiceMatchPrompt(contextText, unboundNames, voices)
	if err := g.llm.GenerateJSON(ctx, prompt, &mappings); err != nil {
		log.Printf("[pipeline] voice match LLM call failed: %v", err)
		return nil, unboundNames
	}

	stillUnbound := make(map[string]bool, len(unboundNames))
	for _, n := range unboundNames {
		stillUnbound[n] = true
	}
	for _, m := range mappings {
		roleID, okRole := roleByName[m.RoleName]
		voiceID, okVoice := voiceByName[m.VoiceName]
		if !okRole || !okVoice {
			continue
		}
		if err := g.store.SetRoleVoice(ctx, roleID, voiceID); err != nil {
			log.Printf("[pipeline] voice match: bind %s: %v", m.RoleName, err)
			continue
		}
		matched = append(matched, events.VoiceMatch{RoleName: m.RoleName, VoiceName: m.VoiceName})
		delete(stillUnbound, m.RoleName)
	}
	for _, n := range unboundNames {
		if stillUnbound[n] {
			unmatched = append(unmatched, n)
		}
	}
	return matched, unmatched
}

// gatherContext samples the opening of the project's earliest chapters.
func (g *VoiceMatchGate) gatherContext(ctx context.Context, projectID int64) (string, error) {
	chapters, err := g.store.ListChapters(ctx, projectID)
	if err != nil {
		return "", err
	}
	sort.Slice(chapters, func(i, j int) bool { return chapters[i].Number < chapters[j].Number })
	if len(chapters) > voiceMatchContextChapters {
		chapters = chapters[:voiceMatchContextChapters]
	}

	var sb strings.Builder
	for _, ch := range chapters {
		if ch.Text == "" {
			continue
		}
		sb.WriteString(truncateRunes(ch.Text, voiceMatchChapterChars))
		sb.WriteString("\n")
		if len([]rune(sb.String())) > voiceMatchContextChars {
			break
		}
	}
	return sb.String(), nil
}

// waitResume parks the caller while the run is paused, emitting the
// paused/resumed events. Returns false when the run was cancelled.
func waitResume(ctx context.Context, projectID int64, token *Token, sink events.Sink) bool {
	if token.Cancelled() {
		return false
	}
	if !token.Paused() {
		return true
	}
	sink.Broadcast(events.Event{
		Event:     "autopilot_paused",
		ProjectID: projectID,
		Log:       "⏸️ 任务已暂停，等待用户继续...",
	})
	if err := token.WaitResume(ctx); err != nil {
		return false
	}
	sink.Broadcast(events.Event{
		Event:     "autopilot_resumed",
		ProjectID: projectID,
		Log:       "▶️ 任务已恢复",
	})
	return true
}
