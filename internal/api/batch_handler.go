package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"

	"github.com/saybook/saybook/internal/pipeline"
)

// BatchHandler handles the standalone batch operations: bulk LLM
// parsing, bulk TTS, voice previews, and speed adjustment
type BatchHandler struct {
	batch *pipeline.Batch
}

// NewBatchHandler creates a new batch handler
func NewBatchHandler(batch *pipeline.Batch) *BatchHandler {
	return &BatchHandler{batch: batch}
}

// LLMParse handles POST /api/v1/batch/llm-parse
func (h *BatchHandler) LLMParse(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ProjectID   int64   `json:"project_id"`
		ChapterIDs  []int64 `json:"chapter_ids"`
		Concurrency int     `json:"concurrency"`
		SkipParsed  bool    `json:"skip_parsed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	// The run outlives the request, so it gets a background context
	err := h.batch.StartBatchLLM(context.Background(), req.ProjectID, req.ChapterIDs, req.Concurrency, req.SkipParsed)
	if errors.Is(err, pipeline.ErrBatchAlreadyRunning) {
		respondError(w, "Batch parse already running for this project", http.StatusConflict)
		return
	}
	if err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	respondJSON(w, map[string]interface{}{
		"started":       true,
		"chapter_count": len(req.ChapterIDs),
	}, http.StatusAccepted)
}

// LLMStatus handles GET /api/v1/batch/llm-status?project_id=N
func (h *BatchHandler) LLMStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	projectID, err := strconv.ParseInt(r.URL.Query().Get("project_id"), 10, 64)
	if err != nil || projectID == 0 {
		respondError(w, "project_id required", http.StatusBadRequest)
		return
	}

	respondJSON(w, map[string]bool{
		"running": h.batch.BatchLLMRunning(projectID),
	}, http.StatusOK)
}

// LLMCancel handles POST /api/v1/batch/llm-cancel
func (h *BatchHandler) LLMCancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ProjectID int64 `json:"project_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if err := h.batch.CancelBatchLLM(req.ProjectID); err != nil {
		respondError(w, "No batch parse running for this project", http.StatusNotFound)
		return
	}
	respondJSON(w, map[string]string{
		"message": "取消信号已发送，任务将在当前章节处理完成后停止",
	}, http.StatusOK)
}

// TTSGenerate handles POST /api/v1/batch/tts-generate. Synthesis runs
// in the background; progress is pushed over the event hub.
func (h *BatchHandler) TTSGenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ProjectID  int64   `json:"project_id"`
		ChapterIDs []int64 `json:"chapter_ids"`
		Speed      float64 `json:"speed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ProjectID == 0 || len(req.ChapterIDs) == 0 {
		respondError(w, "project_id and chapter_ids required", http.StatusBadRequest)
		return
	}

	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("[api] Panic in batch TTS for project %d: %v", req.ProjectID, rec)
			}
		}()
		h.batch.BatchTTS(context.Background(), req.ProjectID, req.ChapterIDs, req.Speed)
	}()

	respondJSON(w, map[string]interface{}{
		"started":       true,
		"chapter_count": len(req.ChapterIDs),
	}, http.StatusAccepted)
}

// VoicePreview handles POST /api/v1/batch/voice-preview
func (h *BatchHandler) VoicePreview(w http.ResponseWriter, r *http.Request) {
	h.oneOffClip(w, r, h.batch.VoicePreview)
}

// VoiceDebug handles POST /api/v1/batch/voice-debug
func (h *BatchHandler) VoiceDebug(w http.ResponseWriter, r *http.Request) {
	h.oneOffClip(w, r, h.batch.VoiceDebug)
}

func (h *BatchHandler) oneOffClip(w http.ResponseWriter, r *http.Request, synth func(context.Context, pipeline.PreviewRequest) (string, error)) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req pipeline.PreviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.VoiceID == 0 || req.Text == "" {
		respondError(w, "voice_id and text required", http.StatusBadRequest)
		return
	}

	key, err := synth(r.Context(), req)
	if err != nil {
		respondError(w, fmt.Sprintf("Synthesis failed: %v", err), http.StatusInternalServerError)
		return
	}
	respondJSON(w, map[string]string{"audio_path": key}, http.StatusOK)
}

// AdjustSpeed handles POST /api/v1/batch/adjust-speed
func (h *BatchHandler) AdjustSpeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		LineID int64   `json:"line_id"`
		Speed  float64 `json:"speed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.LineID == 0 {
		respondError(w, "line_id required", http.StatusBadRequest)
		return
	}

	if err := h.batch.AdjustLineSpeed(r.Context(), req.LineID, req.Speed); err != nil {
		respondError(w, fmt.Sprintf("Speed adjustment failed: %v", err), http.StatusInternalServerError)
		return
	}
	respondJSON(w, map[string]bool{"adjusted": true}, http.StatusOK)
}

// BatchAdjustSpeed handles POST /api/v1/batch/batch-adjust-speed
func (h *BatchHandler) BatchAdjustSpeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ChapterID int64   `json:"chapter_id"`
		Speed     float64 `json:"speed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ChapterID == 0 {
		respondError(w, "chapter_id required", http.StatusBadRequest)
		return
	}

	adjusted, err := h.batch.AdjustChapterSpeed(r.Context(), req.ChapterID, req.Speed)
	if err != nil {
		respondError(w, fmt.Sprintf("Speed adjustment failed: %v", err), http.StatusInternalServerError)
		return
	}
	respondJSON(w, map[string]int{"adjusted": adjusted}, http.StatusOK)
}
