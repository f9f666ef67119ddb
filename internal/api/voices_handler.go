package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/saybook/saybook/internal/storage"
	"github.com/saybook/saybook/internal/store"
)

// VoicesHandler handles voice library and role binding endpoints
type VoicesHandler struct {
	store *store.Store
	blobs storage.Adapter
}

// NewVoicesHandler creates a new voices handler
func NewVoicesHandler(st *store.Store, blobs storage.Adapter) *VoicesHandler {
	return &VoicesHandler{store: st, blobs: blobs}
}

// Voices handles /api/v1/voices and dispatches by method
func (h *VoicesHandler) Voices(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listVoices(w, r)
	case http.MethodPost:
		h.createVoice(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// listVoices handles GET /api/v1/voices
func (h *VoicesHandler) listVoices(w http.ResponseWriter, r *http.Request) {
	voices, err := h.store.ListVoices(r.Context())
	if err != nil {
		respondError(w, "Failed to list voices", http.StatusInternalServerError)
		return
	}
	respondJSON(w, voices, http.StatusOK)
}

// createVoice handles POST /api/v1/voices. The request is a multipart
// form carrying the voice name, description, and the reference audio
// clip that identifies the timbre to clone.
func (h *VoicesHandler) createVoice(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		respondError(w, "Failed to parse form", http.StatusBadRequest)
		return
	}

	name := r.FormValue("name")
	if name == "" {
		respondError(w, "Voice name required", http.StatusBadRequest)
		return
	}
	description := r.FormValue("description")

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, "No reference audio provided", http.StatusBadRequest)
		return
	}
	defer file.Close()

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if ext == "" {
		ext = ".wav"
	}
	key := storage.ReferenceKey(fmt.Sprintf("ref_%s%s", uuid.NewString(), ext))

	ctx := r.Context()
	if err := h.blobs.Put(ctx, key, file); err != nil {
		respondError(w, "Failed to store reference audio", http.StatusInternalServerError)
		return
	}

	voice, err := h.store.CreateVoice(ctx, name, description, key)
	if err != nil {
		respondError(w, "Failed to create voice", http.StatusInternalServerError)
		return
	}
	respondJSON(w, voice, http.StatusCreated)
}

// Vocabularies handles GET /api/v1/vocab, returning the controlled
// emotion and strength lists the parser validates against
func (h *VoicesHandler) Vocabularies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	emotions, err := h.store.ListEmotions(ctx)
	if err != nil {
		respondError(w, "Failed to list emotions", http.StatusInternalServerError)
		return
	}
	strengths, err := h.store.ListStrengths(ctx)
	if err != nil {
		respondError(w, "Failed to list strengths", http.StatusInternalServerError)
		return
	}

	respondJSON(w, map[string]interface{}{
		"emotions":  emotions,
		"strengths": strengths,
	}, http.StatusOK)
}

// BindRoleVoice handles POST /api/v1/roles/{id}/voice
func (h *VoicesHandler) BindRoleVoice(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	roleID := pathID(r.URL.Path, "/api/v1/roles/")
	if roleID == 0 {
		respondError(w, "Role ID required", http.StatusBadRequest)
		return
	}

	var req struct {
		VoiceID int64 `json:"voice_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	role, err := h.store.GetRole(ctx, roleID)
	if err != nil {
		respondError(w, "Role not found", http.StatusNotFound)
		return
	}
	if req.VoiceID != 0 {
		if _, err := h.store.GetVoice(ctx, req.VoiceID); err != nil {
			respondError(w, "Voice not found", http.StatusNotFound)
			return
		}
	}

	if err := h.store.SetRoleVoice(ctx, role.ID, req.VoiceID); err != nil {
		respondError(w, "Failed to bind voice", http.StatusInternalServerError)
		return
	}
	respondJSON(w, map[string]interface{}{
		"role_id":  role.ID,
		"voice_id": req.VoiceID,
	}, http.StatusOK)
}
