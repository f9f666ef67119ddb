package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/saybook/saybook/pkg/types"
)

func TestCreateVoiceStoresReference(t *testing.T) {
	env := newTestEnv(t)
	h := NewVoicesHandler(env.store, env.blobs)

	body, contentType := multipartBody(t,
		map[string]string{"name": "少女音", "description": "轻快"},
		"ref.wav", []byte("RIFF....WAVEref"))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/voices", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.Voices(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var voice types.Voice
	decodeBody(t, rec, &voice)
	if !strings.HasPrefix(voice.ReferencePath, "references/") {
		t.Errorf("expected reference key under references/, got %q", voice.ReferencePath)
	}
	exists, err := env.blobs.Exists(context.Background(), voice.ReferencePath)
	if err != nil || !exists {
		t.Errorf("reference clip not stored at %q", voice.ReferencePath)
	}
}

func TestBindRoleVoice(t *testing.T) {
	env := newTestEnv(t)
	h := NewVoicesHandler(env.store, env.blobs)

	ctx := context.Background()
	project, _ := env.store.CreateProject(ctx, "项目")
	role, _ := env.store.CreateRole(ctx, project.ID, "林远")
	voice, _ := env.store.CreateVoice(ctx, "青年男声", "", "references/ref.wav")

	rec := postJSON(t, h.BindRoleVoice, fmt.Sprintf("/api/v1/roles/%d/voice", role.ID),
		map[string]int64{"voice_id": voice.ID})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	updated, err := env.store.GetRole(ctx, role.ID)
	if err != nil {
		t.Fatalf("failed to get role: %v", err)
	}
	if updated.VoiceID != voice.ID {
		t.Errorf("expected voice %d bound, got %d", voice.ID, updated.VoiceID)
	}
}

func TestBindRoleUnknownVoice(t *testing.T) {
	env := newTestEnv(t)
	h := NewVoicesHandler(env.store, env.blobs)

	ctx := context.Background()
	project, _ := env.store.CreateProject(ctx, "项目")
	role, _ := env.store.CreateRole(ctx, project.ID, "林远")

	rec := postJSON(t, h.BindRoleVoice, fmt.Sprintf("/api/v1/roles/%d/voice", role.ID),
		map[string]int64{"voice_id": 42})
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestVocabularies(t *testing.T) {
	env := newTestEnv(t)
	h := NewVoicesHandler(env.store, env.blobs)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/vocab", nil)
	rec := httptest.NewRecorder()
	h.Vocabularies(rec, req)

	var resp struct {
		Emotions  []types.Emotion  `json:"emotions"`
		Strengths []types.Strength `json:"strengths"`
	}
	decodeBody(t, rec, &resp)
	if len(resp.Emotions) == 0 || len(resp.Strengths) != 5 {
		t.Errorf("unexpected vocabularies: %d emotions, %d strengths",
			len(resp.Emotions), len(resp.Strengths))
	}
}
