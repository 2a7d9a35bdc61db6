package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/robertoaraneda/gofhir/internal/fhirerr"
	"github.com/robertoaraneda/gofhir/internal/search"
)

func (srv *Server) handleTypeSearch(w http.ResponseWriter, r *http.Request) {
	resourceType := chi.URLParam(r, "type")
	page, err := srv.Search.Execute(r.Context(), resourceType, r.URL.RawQuery, "", "")
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, searchBundle(r, page))
}

// handleSystemSearch implements `GET /?{query}` (§6.1). A search spanning
// every resource type at once needs a resolve.Cache/querybuilder path that
// isn't bound to one type's definitions; not yet wired.
func (srv *Server) handleSystemSearch(w http.ResponseWriter, r *http.Request) {
	writeError(w, fhirerr.NotImplemented("system-wide search across all resource types is not yet supported; use GET /{type}?{query}"))
}

// searchBundle renders a search Page as a FHIR searchset Bundle (§4's
// search result contract): one entry per matched resource plus a `next`
// link when NextCursor is set.
func searchBundle(r *http.Request, page *search.Page) map[string]interface{} {
	entries := make([]map[string]interface{}, 0, len(page.Resources))
	for _, res := range page.Resources {
		var resource interface{}
		_ = json.Unmarshal(res.Body, &resource)
		entries = append(entries, map[string]interface{}{
			"fullUrl":  fmt.Sprintf("/%s/%s", res.ResourceType, res.ID),
			"resource": resource,
			"search":   map[string]interface{}{"mode": "match"},
		})
	}
	bundle := map[string]interface{}{
		"resourceType": "Bundle",
		"type":         "searchset",
		"entry":        entries,
	}
	if page.Total >= 0 {
		bundle["total"] = page.Total
	}
	if page.NextCursor != "" {
		bundle["link"] = []map[string]interface{}{
			{"relation": "next", "url": r.URL.Path + "?_cursor=" + page.NextCursor},
		}
	}
	return bundle
}
