package refresolve

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveRewritesMatchingReference(t *testing.T) {
	body := json.RawMessage(`{"resourceType":"Observation","subject":{"reference":"urn:uuid:abc"}}`)
	out, n, err := Resolve(body, Placeholders{"urn:uuid:abc": "Patient/123"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, string(out), `"reference":"Patient/123"`)
}

func TestResolveLeavesUnmatchedReferenceUntouched(t *testing.T) {
	body := json.RawMessage(`{"resourceType":"Observation","subject":{"reference":"Patient/already"}}`)
	out, n, err := Resolve(body, Placeholders{"urn:uuid:abc": "Patient/123"})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, body, out)
}

func TestResolveWalksArraysAndNestedObjects(t *testing.T) {
	body := json.RawMessage(`{"resourceType":"Bundle","entry":[{"resource":{"subject":{"reference":"urn:uuid:x"}}}]}`)
	out, n, err := Resolve(body, Placeholders{"urn:uuid:x": "Patient/1"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, string(out), `"Patient/1"`)
}

func TestRequireResolvedRejectsUnresolvedPlaceholder(t *testing.T) {
	body := json.RawMessage(`{"resourceType":"Observation","subject":{"reference":"urn:uuid:missing"}}`)
	err := RequireResolved(body, Placeholders{})
	require.Error(t, err)
}

func TestRequireResolvedAcceptsResolvedPlaceholder(t *testing.T) {
	body := json.RawMessage(`{"resourceType":"Observation","subject":{"reference":"urn:uuid:ok"}}`)
	err := RequireResolved(body, Placeholders{"urn:uuid:ok": "Patient/1"})
	require.NoError(t, err)
}

func TestRequireResolvedIgnoresOrdinaryReferences(t *testing.T) {
	body := json.RawMessage(`{"resourceType":"Observation","subject":{"reference":"Patient/1"}}`)
	err := RequireResolved(body, Placeholders{})
	require.NoError(t, err)
}
