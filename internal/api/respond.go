// Package api exposes the production pipeline over HTTP: project and
// voice management, batch parse/synthesis, and autopilot control.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
)

func respondJSON(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// pathID extracts the numeric id segment that follows prefix in path.
// Returns 0 when the segment is missing or not a number.
func pathID(path, prefix string) int64 {
	if !strings.HasPrefix(path, prefix) {
		return 0
	}
	rest := strings.TrimPrefix(path, prefix)
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		rest = rest[:i]
	}
	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		return 0
	}
	return id
}
