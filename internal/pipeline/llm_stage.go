package pipeline

import (
	"context"
	"fmt"
	"log"
	"math"
	"runtime/debug"
	"strings"
	"sync/atomic"
	"time"

	"github.com/saybook/saybook/internal/events"
	"github.com/saybook/saybook/internal/storage"
	"github.com/saybook/saybook/pkg/types"
)

// ChapterParser turns one chapter's raw text into persisted, validated
// role/emotion-tagged lines via segment-wise LLM calls.
type ChapterParser struct {
	store Store
	llm   LLM
	sink  events.Sink

	maxSegmentChars   int
	maxSegmentRetries int
	baseRetryDelay    time.Duration

	// delay computes retry sleeps; tests swap it out
	delay func(class Classification, attempt int, base time.Duration) time.Duration
}

// NewChapterParser wires a parser; maxSegmentChars and maxSegmentRetries
// fall back to the package defaults when <= 0.
func NewChapterParser(st Store, llm LLM, sink events.Sink, maxSegmentChars, maxSegmentRetries int) *ChapterParser {
	if maxSegmentChars <= 0 {
		maxSegmentChars = DefaultMaxSegmentChars
	}
	if maxSegmentRetries <= 0 {
		maxSegmentRetries = DefaultMaxSegmentRetries
	}
	return &ChapterParser{
		store:             st,
		llm:               llm,
		sink:              sink,
		maxSegmentChars:   maxSegmentChars,
		maxSegmentRetries: maxSegmentRetries,
		baseRetryDelay:    time.Second,
		delay:             Delay,
	}
}

// roleSet accumulates role names in first-seen order, scoped to one
// chapter's parse so concurrent chapters never share it.
type roleSet struct {
	names []string
	seen  map[string]bool
}

func newRoleSet(initial []string) *roleSet {
	rs := &roleSet{seen: make(map[string]bool)}
	for _, n := range initial {
		rs.Add(n)
	}
	return rs
}

func (rs *roleSet) Add(name string) {
	if name == "" || rs.seen[name] {
		return
	}
	rs.seen[name] = true
	rs.names = append(rs.names, name)
}

func (rs *roleSet) Names() []string { return rs.names }

func progressPercent(done, total int) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(done) / float64(total) * 100)
}

func (p *ChapterParser) progress(eventPrefix string, projectID, chapterID int64, current, total int, status, logMsg string) {
	p.sink.Broadcast(events.Event{
		Event:     eventPrefix + "_progress",
		ProjectID: projectID,
		ChapterID: chapterID,
		Current:   current,
		Total:     total,
		Progress:  progressPercent(current, total),
		Status:    status,
		Log:       logMsg,
	})
}

func (p *ChapterParser) log(eventPrefix string, projectID, chapterID int64, logMsg string) {
	p.sink.Broadcast(events.Event{
		Event:     eventPrefix + "_log",
		ProjectID: projectID,
		ChapterID: chapterID,
		Log:       logMsg,
	})
}

// ParseChapter runs the full parse for one chapter. done/total drive the
// progress events shared with sibling chapter tasks; eventPrefix scopes
// the emitted event tags (e.g. "batch_llm", "autopilot_llm"). Returns
// true only when lines were parsed and persisted. Never panics past the
// chapter boundary.
func (p *ChapterParser) ParseChapter(ctx context.Context, projectID, chapterID int64, token *Token, done *atomic.Int64, total int, skipParsed bool, eventPrefix string) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[pipeline] chapter %d parse panic: %v\n%s", chapterID, r, debug.Stack())
			cur := int(done.Add(1))
			p.progress(eventPrefix, projectID, chapterID, cur, total, "error",
				fmt.Sprintf("❌ 未知错误: %v", r))
			ok = false
		}
	}()

	if token.Cancelled() {
		cur := int(done.Add(1))
		p.progress(eventPrefix, projectID, chapterID, cur, total, "cancelled",
			fmt.Sprintf("⏹️ 章节 %d 解析被取消", chapterID))
		return false
	}

	cur := int(done.Load()) + 1
	p.progress(eventPrefix, projectID, chapterID, cur, total, "processing",
		fmt.Sprintf("📖 开始解析章节 %d (%d/%d)", chapterID, cur, total))

	chapter, err := p.store.GetChapter(ctx, chapterID)
	if err != nil || strings.TrimSpace(chapter.Text) == "" {
		cur := int(done.Add(1))
		p.progress(eventPrefix, projectID, chapterID, cur, total, "skipped",
			fmt.Sprintf("⚠️ 章节 %d 内容为空，已跳过", chapterID))
		return false
	}

	if skipParsed {
		count, err := p.store.CountLines(ctx, chapterID)
		if err == nil && count > 0 {
			cur := int(done.Add(1))
			p.progress(eventPrefix, projectID, chapterID, cur, total, "skipped",
				fmt.Sprintf("⏭️ 章节 %d 已有 %d 条台词，跳过重复解析", chapterID, count))
			return false
		}
	}

	segments := SplitSegments(chapter.Text, p.maxSegmentChars)
	if len(segments) == 0 {
		cur := int(done.Add(1))
		p.progress(eventPrefix, projectID, chapterID, cur, total, "skipped",
			fmt.Sprintf("⚠️ 章节 %d 内容为空，已跳过", chapterID))
		return false
	}
	p.log(eventPrefix, projectID, chapterID, fmt.Sprintf("📝 章节文本划分为 %d 段", len(segments)))

	roles, err := p.store.ListRoles(ctx, projectID)
	if err != nil {
		cur := int(done.Add(1))
		p.progress(eventPrefix, projectID, chapterID, cur, total, "error",
			fmt.Sprintf("❌ 加载角色失败: %v", err))
		return false
	}
	known := newRoleSet(nil)
	for _, r := range roles {
		known.Add(r.Name)
	}

	emotionNames, strengthNames, err := p.vocabularies(ctx)
	if err != nil {
		cur := int(done.Add(1))
		p.progress(eventPrefix, projectID, chapterID, cur, total, "error",
			fmt.Sprintf("❌ 加载情绪词表失败: %v", err))
		return false
	}

	var allLines []types.ParsedLine
	parseSuccess := true

	for segIdx, segment := range segments {
		if token.Cancelled() {
			cur := int(done.Add(1))
			p.progress(eventPrefix, projectID, chapterID, cur, total, "cancelled",
				fmt.Sprintf("⏹️ 章节 %d 解析被取消", chapterID))
			return false
		}

		segSuccess := false
		for retry := 0; retry < p.maxSegmentRetries; retry++ {
			if token.Cancelled() {
				done.Add(1)
				return false
			}

			retryHint := ""
			if retry > 0 {
				retryHint = fmt.Sprintf("（第 %d 次重试）", retry+1)
			}
			p.log(eventPrefix, projectID, chapterID,
				fmt.Sprintf("🔄 解析第 %d/%d 段...%s", segIdx+1, len(segments), retryHint))

			lines, err := p.parseSegment(ctx, segment, known.Names(), emotionNames, strengthNames)
			if err != nil {
				if Classify(err) == ClassRateLimited && retry < p.maxSegmentRetries-1 {
					wait := p.delay(ClassRateLimited, retry, p.baseRetryDelay)
					p.log(eventPrefix, projectID, chapterID,
						fmt.Sprintf("⏳ 段 %d 请求频繁: %v，等待 %.0fs 后重试...", segIdx+1, err, wait.Seconds()))
					if !sleepInterruptible(ctx, token, wait) {
						done.Add(1)
						return false
					}
					continue
				}
				p.log(eventPrefix, projectID, chapterID,
					fmt.Sprintf("❌ 段 %d 解析失败: %v", segIdx+1, err))
				parseSuccess = false
				break
			}

			for _, ld := range lines {
				known.Add(ld.Role)
			}
			allLines = append(allLines, lines...)
			p.log(eventPrefix, projectID, chapterID,
				fmt.Sprintf("✅ 段 %d 解析完成，获得 %d 条台词", segIdx+1, len(lines)))
			segSuccess = true
			break
		}

		// A segment that exhausted every retry aborts the rest of the
		// chapter; already-parsed segments are not committed.
		if !segSuccess {
			parseSuccess = false
			break
		}
	}

	if !parseSuccess || len(allLines) == 0 {
		cur := int(done.Add(1))
		p.progress(eventPrefix, projectID, chapterID, cur, total, "error",
			fmt.Sprintf("❌ 章节 %d 解析失败", chapterID))
		return false
	}

	sanitizeLines(allLines, emotionNames, strengthNames)

	if err := p.persistLines(ctx, projectID, chapterID, allLines, eventPrefix); err != nil {
		cur := int(done.Add(1))
		p.progress(eventPrefix, projectID, chapterID, cur, total, "error",
			fmt.Sprintf("❌ 写入数据库失败: %v", err))
		return false
	}

	cur = int(done.Add(1))
	p.progress(eventPrefix, projectID, chapterID, cur, total, "done",
		fmt.Sprintf("✅ 章节 %d 解析完成，共 %d 条台词", chapterID, len(allLines)))
	return true
}

func (p *ChapterParser) vocabularies(ctx context.Context) (emotions, strengths []string, err error) {
	emos, err := p.store.ListEmotions(ctx)
	if err != nil {
		return nil, nil, err
	}
	stgs, err := p.store.ListStrengths(ctx)
	if err != nil {
		return nil, nil, err
	}
	for _, e := range emos {
		emotions = append(emotions, e.Name)
	}
	for _, s := range stgs {
		strengths = append(strengths, s.Name)
	}
	return emotions, strengths, nil
}

// parseSegment issues one LLM parse call plus at most one repair call for
// vocabulary violations. The returned lines are valid or force-defaulted.
func (p *ChapterParser) parseSegment(ctx context.Context, segment string, roleNames, emotionNames, strengthNames []string) ([]types.ParsedLine, error) {
	prompt := fillParsePrompt(roleNames, emotionNames, strengthNames, segment)

	var lines []types.ParsedLine
	if err := p.llm.GenerateJSON(ctx, prompt, &lines); err != nil {
		return nil, err
	}
	for i, ld := range lines {
		if strings.TrimSpace(ld.Text) == "" && strings.TrimSpace(ld.Role) == "" {
			return nil, fmt.Errorf("parse result element %d is not a line", i)
		}
	}

	p.repairEmotions(ctx, lines, emotionNames, strengthNames)
	sanitizeLines(lines, emotionNames, strengthNames)
	return lines, nil
}

// repairEmotions runs the single repair round for lines whose emotion or
// strength is outside the vocabulary. The narrator role is defaulted
// silently rather than sent back for repair. Repair failure is not an
// error: violations fall through to force-defaulting.
func (p *ChapterParser) repairEmotions(ctx context.Context, lines []types.ParsedLine, emotionNames, strengthNames []string) {
	emoSet := toSet(emotionNames)
	stgSet := toSet(strengthNames)

	var violations []emotionViolation
	for i, ld := range lines {
		if ld.Role == types.NarratorRole {
			continue
		}
		if !emoSet[ld.Emotion] || !stgSet[ld.Strength] {
			violations = append(violations, emotionViolation{
				Index:    i,
				Role:     ld.Role,
				Snippet:  truncateRunes(ld.Text, 80),
				Emotion:  ld.Emotion,
				Strength: ld.Strength,
			})
		}
	}
	if len(violations) == 0 {
		return
	}

	var fixes []emotionFix
	if err := p.llm.GenerateJSON(ctx, buildRepairPrompt(violations, emotionNames, strengthNames), &fixes); err != nil {
		log.Printf("[pipeline] emotion repair call failed, falling back to defaults: %v", err)
		return
	}
	for _, fix := range fixes {
		if fix.Index < 0 || fix.Index >= len(lines) {
			continue
		}
		if emoSet[fix.Emotion] {
			lines[fix.Index].Emotion = fix.Emotion
		}
		if stgSet[fix.Strength] {
			lines[fix.Index].Strength = fix.Strength
		}
	}
}

// sanitizeLines is the unconditional last pass: no line survives with an
// emotion or strength outside the vocabulary.
func sanitizeLines(lines []types.ParsedLine, emotionNames, strengthNames []string) {
	emoSet := toSet(emotionNames)
	stgSet := toSet(strengthNames)
	for i := range lines {
		emo := strings.TrimSpace(lines[i].Emotion)
		if emo == "" || !emoSet[emo] {
			lines[i].Emotion = types.DefaultEmotion
		} else {
			lines[i].Emotion = emo
		}
		stg := strings.TrimSpace(lines[i].Strength)
		if stg == "" || !stgSet[stg] {
			lines[i].Strength = types.DefaultStrength
		} else {
			lines[i].Strength = stg
		}
	}
}

// persistLines replaces the chapter's lines with the freshly parsed set,
// creating missing roles and assigning order indexes and audio keys.
func (p *ChapterParser) persistLines(ctx context.Context, projectID, chapterID int64, lines []types.ParsedLine, eventPrefix string) error {
	existing, err := p.store.CountLines(ctx, chapterID)
	if err != nil {
		return err
	}
	if existing > 0 {
		if err := p.store.DeleteLinesForChapter(ctx, chapterID); err != nil {
			return err
		}
		p.log(eventPrefix, projectID, chapterID,
			fmt.Sprintf("🗑️ 已清除章节 %d 的 %d 条旧台词", chapterID, existing))
	}

	roleIDs := make(map[string]int64)
	for order, ld := range lines {
		roleID, ok := roleIDs[ld.Role]
		if !ok && ld.Role != "" {
			role, err := p.store.CreateRole(ctx, projectID, ld.Role)
			if err != nil {
				return err
			}
			roleID = role.ID
			roleIDs[ld.Role] = roleID
		}

		created, err := p.store.CreateLine(ctx, &types.Line{
			ChapterID: chapterID,
			Order:     order + 1,
			RoleID:    roleID,
			Text:      ld.Text,
			Emotion:   ld.Emotion,
			Strength:  ld.Strength,
			Status:    types.LineStatusPending,
		})
		if err != nil {
			return err
		}
		key := storage.LineAudioKey(projectID, chapterID, created.ID)
		if err := p.store.SetLineAudioPath(ctx, created.ID, key); err != nil {
			return err
		}
	}
	return nil
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// sleepInterruptible waits d, returning false if the run was cancelled
// or the context ended first.
func sleepInterruptible(ctx context.Context, token *Token, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-token.CancelCh():
		return false
	case <-ctx.Done():
		return false
	}
}
