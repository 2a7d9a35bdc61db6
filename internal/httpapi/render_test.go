package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/robertoaraneda/gofhir/internal/fhirerr"
)

func TestPreferDefaultsToRepresentation(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/Patient", nil)
	assert.Equal(t, "representation", prefer(r))
}

func TestPreferParsesReturnMinimal(t *testing.T) {
	r := httptest.NewRequest(http.MethodPost, "/Patient", nil)
	r.Header.Set("Prefer", "handling=strict, return=minimal")
	assert.Equal(t, "minimal", prefer(r))
}

func TestWriteErrorMapsKindToStatusAndIssueCode(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, fhirerr.NotFound("Patient", "p1"))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), `"not-found"`)
	assert.Contains(t, w.Body.String(), `"OperationOutcome"`)
}

func TestWriteErrorVersionConflict(t *testing.T) {
	w := httptest.NewRecorder()
	writeError(w, fhirerr.VersionConflict(4, 5))
	assert.Equal(t, http.StatusPreconditionFailed, w.Code)
	assert.Contains(t, w.Body.String(), `"conflict"`)
}

func TestIssueCodeInternalDefault(t *testing.T) {
	assert.Equal(t, "exception", issueCode(fhirerr.KindInternal))
}
