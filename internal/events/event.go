// Package events carries orchestration progress out to real-time
// subscribers. Delivery is fire-and-forget, at-most-once.
package events

import "sync"

// VoiceMatch is one role-to-voice assignment made by automatic matching.
type VoiceMatch struct {
	RoleName  string `json:"role_name"`
	VoiceName string `json:"voice_name"`
}

// Event is one broadcast progress/log payload.
type Event struct {
	Event        string       `json:"event"`
	ProjectID    int64        `json:"project_id,omitempty"`
	ChapterID    int64        `json:"chapter_id,omitempty"`
	Phase        string       `json:"phase,omitempty"`
	Current      int          `json:"current,omitempty"`
	Total        int          `json:"total,omitempty"`
	Progress     float64      `json:"progress,omitempty"`
	Status       string       `json:"status,omitempty"`
	Log          string       `json:"log,omitempty"`
	LLMDone      int          `json:"llm_done,omitempty"`
	TTSDone      int          `json:"tts_done,omitempty"`
	LineIndex    int          `json:"line_index,omitempty"`
	LineTotal    int          `json:"line_total,omitempty"`
	LineCount    int          `json:"line_count,omitempty"`
	Cancelled    bool         `json:"cancelled,omitempty"`
	UnboundRoles []string     `json:"unbound_roles,omitempty"`
	Matched      []VoiceMatch `json:"matched,omitempty"`
}

// Sink receives broadcast events. Implementations must not block the
// caller for long and must never return delivery errors to it.
type Sink interface {
	Broadcast(ev Event)
}

// MemorySink records events for inspection in tests
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// NewMemorySink creates an in-memory sink
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

func (m *MemorySink) Broadcast(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

// Events returns a copy of everything broadcast so far
func (m *MemorySink) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// ByName returns the recorded events with the given event tag
func (m *MemorySink) ByName(name string) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, ev := range m.events {
		if ev.Event == name {
			out = append(out, ev)
		}
	}
	return out
}
