package httpapi

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robertoaraneda/gofhir/internal/history"
	"github.com/robertoaraneda/gofhir/internal/store"
)

func TestHistoryBundleOmitsResourceForDeleteEntry(t *testing.T) {
	result := &history.Result{
		Total: 1,
		Entries: []history.Entry{
			{
				FullURL:      "/Patient/p1/_history/2",
				Method:       "DELETE",
				Status:       "204 No Content",
				ETag:         `W/"2"`,
				LastModified: time.Now(),
				Resource:     nil,
			},
		},
	}
	bundle := historyBundle(result)
	assert.Equal(t, "Bundle", bundle["resourceType"])
	assert.Equal(t, "history", bundle["type"])

	entries, ok := bundle["entry"].([]map[string]interface{})
	require.True(t, ok)
	require.Len(t, entries, 1)
	_, hasResource := entries[0]["resource"]
	assert.False(t, hasResource)

	response, ok := entries[0]["response"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "204 No Content", response["status"])
}

func TestHistoryBundleIncludesResourceForPutEntry(t *testing.T) {
	res := &store.Resource{
		ResourceType: "Patient",
		ID:           "p1",
		VersionID:    1,
		LastUpdated:  time.Now(),
		Body:         []byte(`{"resourceType":"Patient","id":"p1"}`),
	}
	result := &history.Result{
		Total: 1,
		Entries: []history.Entry{
			{
				FullURL:      "/Patient/p1/_history/1",
				Method:       "POST",
				Status:       "201 Created",
				ETag:         `W/"1"`,
				LastModified: time.Now(),
				Resource:     res,
			},
		},
	}
	bundle := historyBundle(result)
	entries := bundle["entry"].([]map[string]interface{})
	require.Len(t, entries, 1)
	resource, ok := entries[0]["resource"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "Patient", resource["resourceType"])
}
