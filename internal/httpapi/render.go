package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/robertoaraneda/gofhir/internal/fhirerr"
)

const contentType = "application/fhir+json; charset=utf-8"

// writeResource writes r's raw JSON body with the given status and the
// standard ETag/Last-Modified headers (§6.1).
func writeResource(w http.ResponseWriter, status int, etag, location string, lastModified string, body json.RawMessage) {
	h := w.Header()
	h.Set("Content-Type", contentType)
	if etag != "" {
		h.Set("ETag", etag)
	}
	if lastModified != "" {
		h.Set("Last-Modified", lastModified)
	}
	if location != "" {
		h.Set("Location", location)
	}
	w.WriteHeader(status)
	if body != nil {
		_, _ = w.Write(body)
	}
}

// writeJSON marshals v as the response body with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	body, err := json.Marshal(v)
	if err != nil {
		writeError(w, fhirerr.Internal(err, "marshal response body"))
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_, _ = w.Write(body)
}

// writeError renders err as an OperationOutcome with the status its Kind
// maps to (§7).
func writeError(w http.ResponseWriter, err error) {
	kind := fhirerr.KindOf(err)
	outcome := map[string]interface{}{
		"resourceType": "OperationOutcome",
		"issue": []map[string]interface{}{
			{
				"severity":    "error",
				"code":        issueCode(kind),
				"diagnostics": err.Error(),
			},
		},
	}
	writeJSON(w, kind.HTTPStatus(), outcome)
}

// issueCode maps a fhirerr.Kind to the closest FHIR IssueType code.
func issueCode(k fhirerr.Kind) string {
	switch k {
	case fhirerr.KindValidation, fhirerr.KindInvalidResource:
		return "invalid"
	case fhirerr.KindNotFound:
		return "not-found"
	case fhirerr.KindGone:
		return "deleted"
	case fhirerr.KindVersionConflict, fhirerr.KindPreconditionFailed:
		return "conflict"
	case fhirerr.KindUnprocessableEntity:
		return "processing"
	case fhirerr.KindUnsupportedMediaType:
		return "not-supported"
	case fhirerr.KindNotImplemented:
		return "not-supported"
	case fhirerr.KindTooCostly:
		return "too-costly"
	default:
		return "exception"
	}
}

// prefer parses the Prefer header's return= directive, defaulting to
// "representation" (the FHIR-spec default for interactions that return a
// body).
func prefer(r *http.Request) string {
	for _, v := range strings.Split(r.Header.Get("Prefer"), ",") {
		v = strings.TrimSpace(v)
		if rest, ok := strings.CutPrefix(v, "return="); ok {
			return rest
		}
	}
	return "representation"
}
