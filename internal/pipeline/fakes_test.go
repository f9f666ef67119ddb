package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/saybook/saybook/internal/provider"
	"github.com/saybook/saybook/pkg/types"
)

// fakeStore is an in-memory Store for pipeline tests.
type fakeStore struct {
	mu         sync.Mutex
	projects   map[int64]types.Project
	chapters   map[int64]types.Chapter
	lines      map[int64][]types.Line
	roles      []types.Role
	voices     []types.Voice
	emotions   []string
	strengths  []string
	nextLineID int64
	nextRoleID int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		projects:  make(map[int64]types.Project),
		chapters:  make(map[int64]types.Chapter),
		lines:     make(map[int64][]types.Line),
		emotions:  []string{"高兴", "生气", "伤心", "害怕", "厌恶", "低落", "惊喜", "平静"},
		strengths: []string{"微弱", "稍弱", "中等", "较强", "强烈"},
	}
}

func (f *fakeStore) addProject(id int64, name string) {
	f.projects[id] = types.Project{ID: id, Name: name}
}

func (f *fakeStore) addChapter(id, projectID int64, number int, text string) {
	f.chapters[id] = types.Chapter{ID: id, ProjectID: projectID, Number: number, Title: fmt.Sprintf("第%d章", number), Text: text}
}

func (f *fakeStore) addVoice(id int64, name, description, referencePath string) {
	f.voices = append(f.voices, types.Voice{ID: id, Name: name, Description: description, ReferencePath: referencePath})
}

func (f *fakeStore) addRole(id, projectID int64, name string, voiceID int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles = append(f.roles, types.Role{ID: id, ProjectID: projectID, Name: name, VoiceID: voiceID})
	if id >= f.nextRoleID {
		f.nextRoleID = id
	}
}

func (f *fakeStore) GetProject(_ context.Context, id int64) (*types.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[id]
	if !ok {
		return nil, fmt.Errorf("project %d not found", id)
	}
	return &p, nil
}

func (f *fakeStore) GetChapter(_ context.Context, id int64) (*types.Chapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.chapters[id]
	if !ok {
		return nil, fmt.Errorf("chapter %d not found", id)
	}
	return &c, nil
}

func (f *fakeStore) ListChapters(_ context.Context, projectID int64) ([]types.Chapter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.Chapter
	for _, c := range f.chapters {
		if c.ProjectID == projectID {
			out = append(out, c)
		}
	}
	return out, nil
}

func (f *fakeStore) CreateLine(_ context.Context, line *types.Line) (*types.Line, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextLineID++
	created := *line
	created.ID = f.nextLineID
	f.lines[line.ChapterID] = append(f.lines[line.ChapterID], created)
	return &created, nil
}

func (f *fakeStore) GetLine(_ context.Context, id int64) (*types.Line, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for chID := range f.lines {
		for _, l := range f.lines[chID] {
			if l.ID == id {
				out := l
				return &out, nil
			}
		}
	}
	return nil, fmt.Errorf("line %d not found", id)
}

func (f *fakeStore) ListLines(_ context.Context, chapterID int64) ([]types.Line, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.Line, len(f.lines[chapterID]))
	copy(out, f.lines[chapterID])
	return out, nil
}

func (f *fakeStore) CountLines(_ context.Context, chapterID int64) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.lines[chapterID]), nil
}

func (f *fakeStore) DeleteLinesForChapter(_ context.Context, chapterID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.lines, chapterID)
	return nil
}

func (f *fakeStore) SetLineAudioPath(_ context.Context, lineID int64, audioPath string) error {
	return f.updateLine(lineID, func(l *types.Line) { l.AudioPath = audioPath })
}

func (f *fakeStore) SetLineStatus(_ context.Context, lineID int64, status string) error {
	return f.updateLine(lineID, func(l *types.Line) { l.Status = status })
}

func (f *fakeStore) updateLine(lineID int64, fn func(*types.Line)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for chID := range f.lines {
		for i := range f.lines[chID] {
			if f.lines[chID][i].ID == lineID {
				fn(&f.lines[chID][i])
				return nil
			}
		}
	}
	return fmt.Errorf("line %d not found", lineID)
}

func (f *fakeStore) CreateRole(_ context.Context, projectID int64, name string) (*types.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.roles {
		if r.ProjectID == projectID && r.Name == name {
			out := r
			return &out, nil
		}
	}
	f.nextRoleID++
	role := types.Role{ID: f.nextRoleID, ProjectID: projectID, Name: name}
	f.roles = append(f.roles, role)
	return &role, nil
}

func (f *fakeStore) GetRole(_ context.Context, id int64) (*types.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.roles {
		if r.ID == id {
			out := r
			return &out, nil
		}
	}
	return nil, fmt.Errorf("role %d not found", id)
}

func (f *fakeStore) GetRoleByName(_ context.Context, projectID int64, name string) (*types.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.roles {
		if r.ProjectID == projectID && r.Name == name {
			out := r
			return &out, nil
		}
	}
	return nil, fmt.Errorf("role %q not found", name)
}

func (f *fakeStore) ListRoles(_ context.Context, projectID int64) ([]types.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.Role
	for _, r := range f.roles {
		if r.ProjectID == projectID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) SetRoleVoice(_ context.Context, roleID, voiceID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.roles {
		if f.roles[i].ID == roleID {
			f.roles[i].VoiceID = voiceID
			return nil
		}
	}
	return fmt.Errorf("role %d not found", roleID)
}

func (f *fakeStore) GetVoice(_ context.Context, id int64) (*types.Voice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, v := range f.voices {
		if v.ID == id {
			out := v
			return &out, nil
		}
	}
	return nil, fmt.Errorf("voice %d not found", id)
}

func (f *fakeStore) ListVoices(_ context.Context) ([]types.Voice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]types.Voice, len(f.voices))
	copy(out, f.voices)
	return out, nil
}

func (f *fakeStore) ListEmotions(_ context.Context) ([]types.Emotion, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.Emotion
	for i, n := range f.emotions {
		out = append(out, types.Emotion{ID: int64(i + 1), Name: n})
	}
	return out, nil
}

func (f *fakeStore) ListStrengths(_ context.Context) ([]types.Strength, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []types.Strength
	for i, n := range f.strengths {
		out = append(out, types.Strength{ID: int64(i + 1), Name: n})
	}
	return out, nil
}

// fakeLLM scripts GenerateJSON responses per call.
type fakeLLM struct {
	mu      sync.Mutex
	calls   int
	prompts []string
	respond func(call int, prompt string, out any) error
}

func (f *fakeLLM) Generate(_ context.Context, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.prompts = append(f.prompts, prompt)
	return "", nil
}

func (f *fakeLLM) GenerateJSON(_ context.Context, prompt string, out any) error {
	f.mu.Lock()
	call := f.calls
	f.calls++
	f.prompts = append(f.prompts, prompt)
	respond := f.respond
	f.mu.Unlock()
	if respond == nil {
		return fmt.Errorf("no response scripted for call %d", call)
	}
	return respond(call, prompt, out)
}

func (f *fakeLLM) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// parsedAnswer writes lines into the GenerateJSON out parameter.
func parsedAnswer(out any, lines ...types.ParsedLine) error {
	dst, ok := out.(*[]types.ParsedLine)
	if !ok {
		return fmt.Errorf("unexpected out type %T", out)
	}
	*dst = lines
	return nil
}

// fakeTTS records synthesis requests and returns fake WAV bytes.
type fakeTTS struct {
	mu        sync.Mutex
	uploaded  map[string]bool
	requests  []provider.SynthesizeRequest
	failTexts map[string]bool

	// onSynthesize, when set, observes each request before it is answered
	onSynthesize func(req provider.SynthesizeRequest)
}

func newFakeTTS() *fakeTTS {
	return &fakeTTS{uploaded: make(map[string]bool), failTexts: make(map[string]bool)}
}

func (f *fakeTTS) ReferenceExists(_ context.Context, referencePath string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploaded[referencePath], nil
}

func (f *fakeTTS) UploadReference(_ context.Context, referencePath string, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploaded[referencePath] = true
	return nil
}

func (f *fakeTTS) Synthesize(_ context.Context, req provider.SynthesizeRequest) ([]byte, error) {
	if f.onSynthesize != nil {
		f.onSynthesize(req)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failTexts[req.Text] {
		return nil, fmt.Errorf("synthesis failed for %q", req.Text)
	}
	f.requests = append(f.requests, req)
	return []byte("RIFF....WAVEfake"), nil
}

func (f *fakeTTS) requestCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}
