package crud

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robertoaraneda/gofhir/internal/fhirerr"
)

func rawOf(t *testing.T, v string) json.RawMessage {
	t.Helper()
	return json.RawMessage(v)
}

func TestApplyJSONPatchAdd(t *testing.T) {
	doc := []byte(`{"resourceType":"Patient","active":true}`)
	out, err := ApplyJSONPatch(doc, []PatchOp{
		{Op: "add", Path: "/gender", Value: rawOf(t, `"male"`)},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"resourceType":"Patient","active":true,"gender":"male"}`, string(out))
}

func TestApplyJSONPatchAddArrayAppend(t *testing.T) {
	doc := []byte(`{"resourceType":"Patient","name":[{"family":"Smith"}]}`)
	out, err := ApplyJSONPatch(doc, []PatchOp{
		{Op: "add", Path: "/name/-", Value: rawOf(t, `{"family":"Jones"}`)},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"resourceType":"Patient","name":[{"family":"Smith"},{"family":"Jones"}]}`, string(out))
}

func TestApplyJSONPatchRemove(t *testing.T) {
	doc := []byte(`{"resourceType":"Patient","active":true}`)
	out, err := ApplyJSONPatch(doc, []PatchOp{{Op: "remove", Path: "/active"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"resourceType":"Patient"}`, string(out))
}

func TestApplyJSONPatchRemoveMissingIsError(t *testing.T) {
	doc := []byte(`{"resourceType":"Patient"}`)
	_, err := ApplyJSONPatch(doc, []PatchOp{{Op: "remove", Path: "/active"}})
	require.Error(t, err)
}

func TestApplyJSONPatchReplace(t *testing.T) {
	doc := []byte(`{"resourceType":"Patient","active":true}`)
	out, err := ApplyJSONPatch(doc, []PatchOp{{Op: "replace", Path: "/active", Value: rawOf(t, "false")}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"resourceType":"Patient","active":false}`, string(out))
}

func TestApplyJSONPatchMove(t *testing.T) {
	doc := []byte(`{"resourceType":"Patient","a":1}`)
	out, err := ApplyJSONPatch(doc, []PatchOp{{Op: "move", From: "/a", Path: "/b"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"resourceType":"Patient","b":1}`, string(out))
}

func TestApplyJSONPatchCopy(t *testing.T) {
	doc := []byte(`{"resourceType":"Patient","a":1}`)
	out, err := ApplyJSONPatch(doc, []PatchOp{{Op: "copy", From: "/a", Path: "/b"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"resourceType":"Patient","a":1,"b":1}`, string(out))
}

func TestApplyJSONPatchTestSuccess(t *testing.T) {
	doc := []byte(`{"resourceType":"Patient","active":true}`)
	out, err := ApplyJSONPatch(doc, []PatchOp{{Op: "test", Path: "/active", Value: rawOf(t, "true")}})
	require.NoError(t, err)
	assert.JSONEq(t, string(doc), string(out))
}

func TestApplyJSONPatchTestFailureIsUnprocessableEntity(t *testing.T) {
	doc := []byte(`{"resourceType":"Patient","active":true}`)
	_, err := ApplyJSONPatch(doc, []PatchOp{{Op: "test", Path: "/active", Value: rawOf(t, "false")}})
	require.Error(t, err)
	assert.Equal(t, fhirerr.KindUnprocessableEntity, fhirerr.KindOf(err))
}

func TestApplyJSONPatchTestMissingPathIsUnprocessableEntity(t *testing.T) {
	doc := []byte(`{"resourceType":"Patient"}`)
	_, err := ApplyJSONPatch(doc, []PatchOp{{Op: "test", Path: "/active", Value: rawOf(t, "true")}})
	require.Error(t, err)
	assert.Equal(t, fhirerr.KindUnprocessableEntity, fhirerr.KindOf(err))
}

func TestApplyJSONPatchUnknownOpIsInvalidResource(t *testing.T) {
	doc := []byte(`{"resourceType":"Patient"}`)
	_, err := ApplyJSONPatch(doc, []PatchOp{{Op: "frobnicate", Path: "/active"}})
	require.Error(t, err)
	assert.Equal(t, fhirerr.KindInvalidResource, fhirerr.KindOf(err))
}

func TestApplyJSONPatchMalformedPathIsInvalidResource(t *testing.T) {
	doc := []byte(`{"resourceType":"Patient"}`)
	_, err := ApplyJSONPatch(doc, []PatchOp{{Op: "add", Path: "active", Value: rawOf(t, "true")}})
	require.Error(t, err)
	assert.Equal(t, fhirerr.KindInvalidResource, fhirerr.KindOf(err))
}
