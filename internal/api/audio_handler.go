package api

import (
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/saybook/saybook/internal/storage"
)

// AudioHandler streams stored audio artifacts back to the UI
type AudioHandler struct {
	blobs storage.Adapter
}

// NewAudioHandler creates a new audio handler
func NewAudioHandler(blobs storage.Adapter) *AudioHandler {
	return &AudioHandler{blobs: blobs}
}

// ServeAudio handles GET /api/v1/audio/{key}, where key is the storage
// key of a line clip, preview, or reference
func (h *AudioHandler) ServeAudio(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	key := strings.TrimPrefix(r.URL.Path, "/api/v1/audio/")
	if key == "" || strings.Contains(key, "..") {
		respondError(w, "Audio key required", http.StatusBadRequest)
		return
	}

	reader, err := h.blobs.Get(r.Context(), key)
	if err != nil {
		respondError(w, "Audio file not found", http.StatusNotFound)
		return
	}
	defer reader.Close()

	contentType := "audio/wav"
	switch path.Ext(key) {
	case ".mp3":
		contentType = "audio/mpeg"
	case ".ogg":
		contentType = "audio/ogg"
	case ".flac":
		contentType = "audio/flac"
	}

	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	io.Copy(w, reader)
}
