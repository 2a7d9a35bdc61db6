package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robertoaraneda/gofhir/internal/search"
	"github.com/robertoaraneda/gofhir/internal/store"
)

func TestSearchBundleRendersMatchEntries(t *testing.T) {
	page := &search.Page{
		Total: 1,
		Resources: []*store.Resource{
			{
				ResourceType: "Patient",
				ID:           "p1",
				VersionID:    1,
				LastUpdated:  time.Now(),
				Body:         []byte(`{"resourceType":"Patient","id":"p1"}`),
			},
		},
	}
	r := httptest.NewRequest(http.MethodGet, "/Patient?name=Eve", nil)
	bundle := searchBundle(r, page)

	assert.Equal(t, "Bundle", bundle["resourceType"])
	assert.Equal(t, "searchset", bundle["type"])
	assert.Equal(t, 1, bundle["total"])

	entries, ok := bundle["entry"].([]map[string]interface{})
	require.True(t, ok)
	require.Len(t, entries, 1)
	assert.Equal(t, "/Patient/p1", entries[0]["fullUrl"])
}

func TestSearchBundleOmitsTotalWhenNotComputed(t *testing.T) {
	page := &search.Page{Total: -1}
	r := httptest.NewRequest(http.MethodGet, "/Patient", nil)
	bundle := searchBundle(r, page)
	_, hasTotal := bundle["total"]
	assert.False(t, hasTotal)
}

func TestSearchBundleAddsNextLink(t *testing.T) {
	page := &search.Page{Total: -1, NextCursor: "abc123"}
	r := httptest.NewRequest(http.MethodGet, "/Patient", nil)
	bundle := searchBundle(r, page)
	links, ok := bundle["link"].([]map[string]interface{})
	require.True(t, ok)
	require.Len(t, links, 1)
	assert.Equal(t, "next", links[0]["relation"])
}
