package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/saybook/saybook/internal/events"
	"github.com/saybook/saybook/internal/pipeline"
)

// AutopilotHandler handles the hands-off production run endpoints
type AutopilotHandler struct {
	autopilot *pipeline.Autopilot
	sink      events.Sink
}

// NewAutopilotHandler creates a new autopilot handler
func NewAutopilotHandler(autopilot *pipeline.Autopilot, sink events.Sink) *AutopilotHandler {
	return &AutopilotHandler{autopilot: autopilot, sink: sink}
}

// Start handles POST /api/v1/autopilot/start
func (h *AutopilotHandler) Start(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req struct {
		ProjectID          int64   `json:"project_id"`
		ChapterIDs         []int64 `json:"chapter_ids"`
		Concurrency        int     `json:"concurrency"`
		Speed              float64 `json:"speed"`
		VoiceMatchInterval int     `json:"voice_match_interval"`
		ManualVoiceAssign  bool    `json:"manual_voice_assign"`
		SkipParsed         bool    `json:"skip_parsed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.ProjectID == 0 {
		respondError(w, "project_id required", http.StatusBadRequest)
		return
	}

	// The run outlives the request, so it gets a background context
	result, err := h.autopilot.Start(context.Background(), pipeline.RunConfig{
		ProjectID:          req.ProjectID,
		ChapterIDs:         req.ChapterIDs,
		Concurrency:        req.Concurrency,
		Speed:              req.Speed,
		VoiceMatchInterval: req.VoiceMatchInterval,
		ManualVoiceAssign:  req.ManualVoiceAssign,
		SkipParsed:         req.SkipParsed,
	})
	if errors.Is(err, pipeline.ErrAlreadyRunning) {
		respondError(w, "Autopilot already running for this project", http.StatusConflict)
		return
	}
	if err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}

	respondJSON(w, result, http.StatusAccepted)
}

// Status handles GET /api/v1/autopilot/status?project_id=N
func (h *AutopilotHandler) Status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	projectID, err := strconv.ParseInt(r.URL.Query().Get("project_id"), 10, 64)
	if err != nil || projectID == 0 {
		respondError(w, "project_id required", http.StatusBadRequest)
		return
	}

	respondJSON(w, h.autopilot.Status(projectID), http.StatusOK)
}

// Pause handles POST /api/v1/autopilot/pause. The run drains its
// in-flight chapters before the workers actually block.
func (h *AutopilotHandler) Pause(w http.ResponseWriter, r *http.Request) {
	projectID, ok := h.controlRequest(w, r)
	if !ok {
		return
	}

	if err := h.autopilot.Pause(projectID); err != nil {
		respondError(w, "No autopilot run for this project", http.StatusNotFound)
		return
	}
	h.sink.Broadcast(events.Event{
		Event:     "autopilot_log",
		ProjectID: projectID,
		Log:       "⏸️ 暂停信号已发送，当前章节处理完后暂停",
	})
	respondJSON(w, map[string]string{
		"message": "暂停信号已发送，当前章节处理完后暂停",
	}, http.StatusOK)
}

// Resume handles POST /api/v1/autopilot/resume
func (h *AutopilotHandler) Resume(w http.ResponseWriter, r *http.Request) {
	projectID, ok := h.controlRequest(w, r)
	if !ok {
		return
	}

	if err := h.autopilot.Resume(projectID); err != nil {
		respondError(w, "No autopilot run for this project", http.StatusNotFound)
		return
	}
	h.sink.Broadcast(events.Event{
		Event:     "autopilot_log",
		ProjectID: projectID,
		Log:       "▶️ 任务已继续",
	})
	respondJSON(w, map[string]string{"message": "任务已继续"}, http.StatusOK)
}

// Cancel handles POST /api/v1/autopilot/cancel
func (h *AutopilotHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	projectID, ok := h.controlRequest(w, r)
	if !ok {
		return
	}

	if err := h.autopilot.Cancel(projectID); err != nil {
		respondError(w, "No autopilot run for this project", http.StatusNotFound)
		return
	}
	respondJSON(w, map[string]string{"message": "取消信号已发送"}, http.StatusOK)
}

// controlRequest validates a pause/resume/cancel request and returns
// the target project id
func (h *AutopilotHandler) controlRequest(w http.ResponseWriter, r *http.Request) (int64, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return 0, false
	}

	var req struct {
		ProjectID int64 `json:"project_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ProjectID == 0 {
		respondError(w, "project_id required", http.StatusBadRequest)
		return 0, false
	}
	return req.ProjectID, true
}
