package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/saybook/saybook/internal/audio"
	"github.com/saybook/saybook/internal/events"
	"github.com/saybook/saybook/internal/pipeline"
	"github.com/saybook/saybook/internal/provider"
	"github.com/saybook/saybook/internal/storage"
	"github.com/saybook/saybook/internal/store"
	"github.com/saybook/saybook/pkg/types"
)

// testEnv wires real SQLite, local blob storage, and stub providers
// behind the handlers under test
type testEnv struct {
	store *store.Store
	blobs storage.Adapter
	sink  *events.MemorySink
	batch *pipeline.Batch
	auto  *pipeline.Autopilot
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	blobs, err := storage.NewLocalAdapter(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	llm := provider.NewStubLLMProvider(types.LLMProviderConfig{Name: "stub"})
	tts := provider.NewStubTTSProvider(types.TTSProviderConfig{Name: "stub"})
	sink := events.NewMemorySink()
	speeder := audio.NewProcessor("")

	return &testEnv{
		store: db,
		blobs: blobs,
		sink:  sink,
		batch: pipeline.NewBatch(db, llm, tts, blobs, speeder, sink, 1500, 3, t.TempDir()),
		auto:  pipeline.NewAutopilot(db, llm, tts, blobs, speeder, sink, 1500, 3, t.TempDir()),
	}
}

// seedVoicedProject creates a project with one chapter and the narrator
// role bound to a voice whose reference clip is in blob storage
func (env *testEnv) seedVoicedProject(t *testing.T) (projectID, chapterID int64) {
	t.Helper()
	ctx := context.Background()

	project, err := env.store.CreateProject(ctx, "测试项目")
	if err != nil {
		t.Fatalf("failed to create project: %v", err)
	}
	chapter, err := env.store.CreateChapter(ctx, project.ID, 1, "第一章", "夜色渐深。")
	if err != nil {
		t.Fatalf("failed to create chapter: %v", err)
	}

	refKey := storage.ReferenceKey("ref_test.wav")
	if err := env.blobs.Put(ctx, refKey, strings.NewReader("RIFF....WAVEref")); err != nil {
		t.Fatalf("failed to seed reference: %v", err)
	}
	voice, err := env.store.CreateVoice(ctx, "青年男声", "清亮", refKey)
	if err != nil {
		t.Fatalf("failed to create voice: %v", err)
	}
	role, err := env.store.CreateRole(ctx, project.ID, types.NarratorRole)
	if err != nil {
		t.Fatalf("failed to create role: %v", err)
	}
	if err := env.store.SetRoleVoice(ctx, role.ID, voice.ID); err != nil {
		t.Fatalf("failed to bind voice: %v", err)
	}
	return project.ID, chapter.ID
}

// waitEvent polls the sink until an event with the given tag appears
func waitEvent(t *testing.T, sink *events.MemorySink, name string) events.Event {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if evs := sink.ByName(name); len(evs) > 0 {
			return evs[len(evs)-1]
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for event %q", name)
	return events.Event{}
}

func postJSON(t *testing.T, handler http.HandlerFunc, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
}

// multipartBody builds a form with fields and one file part named "file"
func multipartBody(t *testing.T, fields map[string]string, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("failed to write field %s: %v", k, err)
		}
	}
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		if err != nil {
			t.Fatalf("failed to create file part: %v", err)
		}
		if _, err := part.Write(content); err != nil {
			t.Fatalf("failed to write file part: %v", err)
		}
	}
	mw.Close()
	return &buf, mw.FormDataContentType()
}
