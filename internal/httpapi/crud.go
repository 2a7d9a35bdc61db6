package httpapi

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/robertoaraneda/gofhir/internal/crud"
	"github.com/robertoaraneda/gofhir/internal/fhirerr"
	"github.com/robertoaraneda/gofhir/internal/store"
)

func (srv *Server) handleRead(w http.ResponseWriter, r *http.Request) {
	resourceType := chi.URLParam(r, "type")
	id := chi.URLParam(r, "id")

	res, err := srv.CRUD.Read(r.Context(), resourceType, id)
	if err != nil {
		writeError(w, err)
		return
	}
	if ifNoneMatch := r.Header.Get("If-None-Match"); ifNoneMatch != "" && ifNoneMatch == res.ETag() {
		w.Header().Set("ETag", res.ETag())
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeResource(w, http.StatusOK, res.ETag(), "", res.LastUpdated.UTC().Format(http.TimeFormat), bodyFor(r, res))
}

func (srv *Server) handleVRead(w http.ResponseWriter, r *http.Request) {
	resourceType := chi.URLParam(r, "type")
	id := chi.URLParam(r, "id")
	vid, err := strconv.ParseInt(chi.URLParam(r, "vid"), 10, 64)
	if err != nil {
		writeError(w, fhirerr.Validation("invalid version id %q", chi.URLParam(r, "vid")))
		return
	}

	res, err := srv.CRUD.VRead(r.Context(), resourceType, id, vid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResource(w, http.StatusOK, res.ETag(), "", res.LastUpdated.UTC().Format(http.TimeFormat), bodyFor(r, res))
}

// bodyFor suppresses the body on a HEAD request, mirroring the head-read
// and head-vread entries of §6.1's interaction table.
func bodyFor(r *http.Request, res *store.Resource) []byte {
	if r.Method == http.MethodHead {
		return nil
	}
	return res.Body
}

func (srv *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	resourceType := chi.URLParam(r, "type")
	body, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}

	created, existed, err := srv.CRUD.Create(r.Context(), resourceType, body, "", r.Header.Get("If-None-Exist"))
	if err != nil {
		writeError(w, err)
		return
	}

	location := fmt.Sprintf("/%s/%s/_history/%d", created.ResourceType, created.ID, created.VersionID)
	status := http.StatusCreated
	if existed {
		status = http.StatusOK
	}
	writeResource(w, status, created.ETag(), location, created.LastUpdated.UTC().Format(http.TimeFormat), representationBody(r, created))
}

func (srv *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	resourceType := chi.URLParam(r, "type")
	id := chi.URLParam(r, "id")
	body, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}

	ifMatch, err := parseIfMatch(r)
	if err != nil {
		writeError(w, err)
		return
	}

	updated, created, err := srv.CRUD.Update(r.Context(), resourceType, id, body, ifMatch)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	location := ""
	if created {
		status = http.StatusCreated
		location = fmt.Sprintf("/%s/%s/_history/%d", updated.ResourceType, updated.ID, updated.VersionID)
	}
	writeResource(w, status, updated.ETag(), location, updated.LastUpdated.UTC().Format(http.TimeFormat), representationBody(r, updated))
}

func (srv *Server) handleConditionalUpdate(w http.ResponseWriter, r *http.Request) {
	resourceType := chi.URLParam(r, "type")
	body, err := readBody(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ifMatch, err := parseIfMatch(r)
	if err != nil {
		writeError(w, err)
		return
	}

	updated, created, err := srv.CRUD.ConditionalUpdate(r.Context(), resourceType, r.URL.RawQuery, body, ifMatch)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	location := ""
	if created {
		status = http.StatusCreated
		location = fmt.Sprintf("/%s/%s/_history/%d", updated.ResourceType, updated.ID, updated.VersionID)
	}
	writeResource(w, status, updated.ETag(), location, updated.LastUpdated.UTC().Format(http.TimeFormat), representationBody(r, updated))
}

func (srv *Server) handlePatch(w http.ResponseWriter, r *http.Request) {
	resourceType := chi.URLParam(r, "type")
	id := chi.URLParam(r, "id")
	ops, err := readPatchOps(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ifMatch, err := parseIfMatch(r)
	if err != nil {
		writeError(w, err)
		return
	}

	patched, err := srv.CRUD.Patch(r.Context(), resourceType, id, ops, ifMatch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResource(w, http.StatusOK, patched.ETag(), "", patched.LastUpdated.UTC().Format(http.TimeFormat), representationBody(r, patched))
}

func (srv *Server) handleConditionalPatch(w http.ResponseWriter, r *http.Request) {
	resourceType := chi.URLParam(r, "type")
	ops, err := readPatchOps(r)
	if err != nil {
		writeError(w, err)
		return
	}
	ids, err := srv.Search.MatchIDs(r.Context(), resourceType, r.URL.RawQuery)
	if err != nil {
		writeError(w, err)
		return
	}
	switch len(ids) {
	case 0:
		writeError(w, fhirerr.NotFound(resourceType, "(conditional)"))
		return
	case 1:
		// fall through
	default:
		writeError(w, fhirerr.PreconditionFailed("conditional patch criteria %q matched %d resources", r.URL.RawQuery, len(ids)))
		return
	}
	patched, err := srv.CRUD.Patch(r.Context(), resourceType, ids[0], ops, nil)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResource(w, http.StatusOK, patched.ETag(), "", patched.LastUpdated.UTC().Format(http.TimeFormat), representationBody(r, patched))
}

func (srv *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	resourceType := chi.URLParam(r, "type")
	id := chi.URLParam(r, "id")
	tomb, err := srv.CRUD.Delete(r.Context(), resourceType, id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeResource(w, http.StatusNoContent, tomb.ETag(), "", tomb.LastUpdated.UTC().Format(http.TimeFormat), nil)
}

func (srv *Server) handleConditionalDelete(w http.ResponseWriter, r *http.Request) {
	resourceType := chi.URLParam(r, "type")
	deleted, err := srv.CRUD.ConditionalDelete(r.Context(), resourceType, r.URL.RawQuery, srv.MultiDelete)
	if err != nil {
		writeError(w, err)
		return
	}
	if len(deleted) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	last := deleted[len(deleted)-1]
	writeResource(w, http.StatusNoContent, last.ETag(), "", last.LastUpdated.UTC().Format(http.TimeFormat), nil)
}

// handleSystemDelete implements `DELETE /?{query}` (§6.1). Resolving a
// system-wide conditional delete requires running the criteria against
// every served resource type and is not yet wired — a deployment that
// needs it should issue the per-type conditional delete instead.
func (srv *Server) handleSystemDelete(w http.ResponseWriter, r *http.Request) {
	writeError(w, fhirerr.NotImplemented("system-wide conditional delete across all resource types is not yet supported; use DELETE /{type}?{query}"))
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fhirerr.InvalidResource("failed to read request body: %v", err)
	}
	if len(body) == 0 {
		return nil, fhirerr.InvalidResource("request body must not be empty")
	}
	return body, nil
}

func readPatchOps(r *http.Request) ([]crud.PatchOp, error) {
	ct := r.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "application/json-patch+json") {
		return nil, fhirerr.UnsupportedMediaType("PATCH requires Content-Type application/json-patch+json, got %q", ct)
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fhirerr.InvalidResource("failed to read request body: %v", err)
	}
	var ops []crud.PatchOp
	if err := json.Unmarshal(body, &ops); err != nil {
		return nil, fhirerr.Validation("malformed JSON Patch document: %v", err)
	}
	return ops, nil
}

// parseIfMatch decodes `If-Match: W/"{vid}"` into the optional expected
// version crud.Update/Patch enforce (§4.6); a missing header means no
// optimistic-concurrency check.
func parseIfMatch(r *http.Request) (*int64, error) {
	v := r.Header.Get("If-Match")
	if v == "" {
		return nil, nil
	}
	v = strings.TrimPrefix(v, "W/")
	v = strings.Trim(v, `"`)
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return nil, fhirerr.Validation("malformed If-Match header %q", r.Header.Get("If-Match"))
	}
	return &n, nil
}

// representationBody honors Prefer: return=minimal by omitting the body.
func representationBody(r *http.Request, res *store.Resource) []byte {
	if prefer(r) == "minimal" {
		return nil
	}
	return res.Body
}
