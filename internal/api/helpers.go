package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/odvcencio/indexq/internal/queueadmin"
)

func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// decodeJSONBody decodes an optional JSON body into dst. An empty body leaves dst untouched.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil {
		return true
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			jsonError(w, "request body too large", http.StatusRequestEntityTooLarge)
			return false
		}
		jsonError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// redirectResponse is the answer to an administrative action: where the client should go next and
// what to show there.
type redirectResponse struct {
	Redirect  string               `json:"redirect"`
	Available bool                 `json:"available"`
	Reason    string               `json:"reason,omitempty"`
	Messages  []queueadmin.Message `json:"messages"`
	Success   *bool                `json:"success,omitempty"`
	Count     *int64               `json:"count,omitempty"`
	Outcomes  []initializeOutcome  `json:"outcomes,omitempty"`
}

func newRedirectResponse(redirect string, report queueadmin.Report) redirectResponse {
	messages := report.Messages
	if messages == nil {
		messages = []queueadmin.Message{}
	}
	return redirectResponse{Redirect: redirect, Available: true, Messages: messages}
}

func parsePathPositiveInt64(w http.ResponseWriter, r *http.Request, key, label string) (int64, bool) {
	raw := strings.TrimSpace(r.PathValue(key))
	if raw == "" {
		jsonError(w, label+" is required", http.StatusBadRequest)
		return 0, false
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || value <= 0 {
		jsonError(w, "invalid "+label, http.StatusBadRequest)
		return 0, false
	}
	return value, true
}

func parseOptionalQueryPositiveInt(w http.ResponseWriter, r *http.Request, key, label string, fallback int) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get(key))
	if raw == "" {
		return fallback, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		jsonError(w, "invalid "+label+" query parameter", http.StatusBadRequest)
		return 0, false
	}
	return value, true
}
