package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/robertoaraneda/gofhir/internal/history"
)

func (srv *Server) handleInstanceHistory(w http.ResponseWriter, r *http.Request) {
	resourceType := chi.URLParam(r, "type")
	id := chi.URLParam(r, "id")
	q, err := history.ParseQuery(r.URL.RawQuery)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := srv.History.Instance(r.Context(), resourceType, id, q)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-cache")
	writeJSON(w, http.StatusOK, historyBundle(result))
}

func (srv *Server) handleTypeHistory(w http.ResponseWriter, r *http.Request) {
	resourceType := chi.URLParam(r, "type")
	q, err := history.ParseQuery(r.URL.RawQuery)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := srv.History.Type(r.Context(), resourceType, q)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-cache")
	writeJSON(w, http.StatusOK, historyBundle(result))
}

func (srv *Server) handleSystemHistory(w http.ResponseWriter, r *http.Request) {
	q, err := history.ParseQuery(r.URL.RawQuery)
	if err != nil {
		writeError(w, err)
		return
	}
	result, err := srv.History.System(r.Context(), q)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-cache")
	writeJSON(w, http.StatusOK, historyBundle(result))
}

// historyBundle renders a history.Result as a FHIR "history" Bundle,
// following original_source's build_history_entry shape: each entry
// carries request.method/url and response.status/etag/lastModified, with
// `resource` omitted for a DELETE entry (§4.7).
func historyBundle(result *history.Result) map[string]interface{} {
	entries := make([]map[string]interface{}, 0, len(result.Entries))
	for _, e := range result.Entries {
		entry := map[string]interface{}{
			"fullUrl": e.FullURL,
			"request": map[string]interface{}{
				"method": e.Method,
				"url":    e.FullURL,
			},
			"response": map[string]interface{}{
				"status":       e.Status,
				"etag":         e.ETag,
				"lastModified": e.LastModified.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
			},
		}
		if e.Resource != nil {
			var resource interface{}
			_ = json.Unmarshal(e.Resource.Body, &resource)
			entry["resource"] = resource
		}
		entries = append(entries, entry)
	}
	return map[string]interface{}{
		"resourceType": "Bundle",
		"type":         "history",
		"total":        result.Total,
		"entry":        entries,
	}
}
