package api

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/saybook/saybook/internal/parser"
	"github.com/saybook/saybook/internal/store"
)

// ProjectHandler handles project and chapter API endpoints
type ProjectHandler struct {
	store *store.Store
}

// NewProjectHandler creates a new project handler
func NewProjectHandler(st *store.Store) *ProjectHandler {
	return &ProjectHandler{store: st}
}

// CreateProject handles POST /api/v1/projects. The request is a
// multipart form carrying the project name and the novel .txt file,
// which is split into chapters on heading lines.
func (h *ProjectHandler) CreateProject(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(100 << 20); err != nil {
		respondError(w, "Failed to parse form", http.StatusBadRequest)
		return
	}

	name := r.FormValue("name")
	if name == "" {
		respondError(w, "Project name required", http.StatusBadRequest)
		return
	}

	file, _, err := r.FormFile("file")
	if err != nil {
		respondError(w, "No novel file provided", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		respondError(w, "Failed to read file", http.StatusInternalServerError)
		return
	}

	chapters, err := parser.SplitChapters(data)
	if err != nil {
		respondError(w, fmt.Sprintf("Failed to split chapters: %v", err), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	project, err := h.store.CreateProject(ctx, name)
	if err != nil {
		respondError(w, "Failed to create project", http.StatusInternalServerError)
		return
	}

	for _, draft := range chapters {
		if _, err := h.store.CreateChapter(ctx, project.ID, draft.Number, draft.Title, draft.Text); err != nil {
			respondError(w, fmt.Sprintf("Failed to save chapter %d", draft.Number), http.StatusInternalServerError)
			return
		}
	}

	respondJSON(w, map[string]interface{}{
		"project":       project,
		"chapter_count": len(chapters),
	}, http.StatusCreated)
}

// ListProjects handles GET /api/v1/projects
func (h *ProjectHandler) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.store.ListProjects(r.Context())
	if err != nil {
		respondError(w, "Failed to list projects", http.StatusInternalServerError)
		return
	}
	respondJSON(w, projects, http.StatusOK)
}

// Projects handles /api/v1/projects and dispatches by method
func (h *ProjectHandler) Projects(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.CreateProject(w, r)
	case http.MethodGet:
		h.ListProjects(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// ChapterSummary is a chapter without its source text, for listings
type ChapterSummary struct {
	ID        int64  `json:"id"`
	Number    int    `json:"number"`
	Title     string `json:"title"`
	TextChars int    `json:"text_chars"`
	LineCount int    `json:"line_count"`
}

// ProjectSubresource handles GET /api/v1/projects/{id} and its
// /chapters and /roles subresources
func (h *ProjectHandler) ProjectSubresource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	projectID := pathID(r.URL.Path, "/api/v1/projects/")
	if projectID == 0 {
		respondError(w, "Project ID required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	switch {
	case strings.HasSuffix(r.URL.Path, "/chapters"):
		chapters, err := h.store.ListChapters(ctx, projectID)
		if err != nil {
			respondError(w, "Failed to list chapters", http.StatusInternalServerError)
			return
		}
		summaries := make([]ChapterSummary, 0, len(chapters))
		for _, c := range chapters {
			count, err := h.store.CountLines(ctx, c.ID)
			if err != nil {
				respondError(w, "Failed to count lines", http.StatusInternalServerError)
				return
			}
			summaries = append(summaries, ChapterSummary{
				ID:        c.ID,
				Number:    c.Number,
				Title:     c.Title,
				TextChars: len([]rune(c.Text)),
				LineCount: count,
			})
		}
		respondJSON(w, summaries, http.StatusOK)

	case strings.HasSuffix(r.URL.Path, "/roles"):
		h.listRoles(w, r, projectID)

	default:
		project, err := h.store.GetProject(ctx, projectID)
		if err != nil {
			respondError(w, "Project not found", http.StatusNotFound)
			return
		}
		respondJSON(w, project, http.StatusOK)
	}
}

// RoleView is a role joined with its bound voice name
type RoleView struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	VoiceID   int64  `json:"voice_id"`
	VoiceName string `json:"voice_name,omitempty"`
}

func (h *ProjectHandler) listRoles(w http.ResponseWriter, r *http.Request, projectID int64) {
	ctx := r.Context()
	roles, err := h.store.ListRoles(ctx, projectID)
	if err != nil {
		respondError(w, "Failed to list roles", http.StatusInternalServerError)
		return
	}

	views := make([]RoleView, 0, len(roles))
	for _, role := range roles {
		view := RoleView{ID: role.ID, Name: role.Name, VoiceID: role.VoiceID}
		if role.VoiceID != 0 {
			if voice, err := h.store.GetVoice(ctx, role.VoiceID); err == nil {
				view.VoiceName = voice.Name
			}
		}
		views = append(views, view)
	}
	respondJSON(w, views, http.StatusOK)
}

// ChapterSubresource handles GET /api/v1/chapters/{id} and
// GET /api/v1/chapters/{id}/lines
func (h *ProjectHandler) ChapterSubresource(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	chapterID := pathID(r.URL.Path, "/api/v1/chapters/")
	if chapterID == 0 {
		respondError(w, "Chapter ID required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	if strings.HasSuffix(r.URL.Path, "/lines") {
		lines, err := h.store.ListLines(ctx, chapterID)
		if err != nil {
			respondError(w, "Failed to list lines", http.StatusInternalServerError)
			return
		}
		respondJSON(w, lines, http.StatusOK)
		return
	}

	chapter, err := h.store.GetChapter(ctx, chapterID)
	if err != nil {
		respondError(w, "Chapter not found", http.StatusNotFound)
		return
	}
	respondJSON(w, chapter, http.StatusOK)
}
