package history

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/robertoaraneda/gofhir/internal/fhirerr"
	"github.com/robertoaraneda/gofhir/internal/store"
)

func TestParseQueryDefaults(t *testing.T) {
	q, err := ParseQuery("")
	require.NoError(t, err)
	assert.Equal(t, SortLastUpdatedDesc, q.Sort)
	assert.True(t, q.Since.IsZero())
}

func TestParseQueryCountSinceSort(t *testing.T) {
	q, err := ParseQuery("_count=5&_since=2024-01-01T00:00:00Z&_sort=_lastUpdated")
	require.NoError(t, err)
	assert.Equal(t, 5, q.Count)
	assert.Equal(t, SortLastUpdatedAsc, q.Sort)
	assert.Equal(t, 2024, q.Since.Year())
}

func TestParseQueryRejectsSinceAndAtTogether(t *testing.T) {
	_, err := ParseQuery("_since=2024-01-01T00:00:00Z&_at=2024-02-01T00:00:00Z")
	require.Error(t, err)
	assert.Equal(t, fhirerr.KindValidation, fhirerr.KindOf(err))
}

func TestParseQueryRejectsRepeatedParam(t *testing.T) {
	_, err := ParseQuery("_count=1&_count=2")
	require.Error(t, err)
}

func TestParseQueryRejectsList(t *testing.T) {
	_, err := ParseQuery("_list=current")
	require.Error(t, err)
	assert.Equal(t, fhirerr.KindNotImplemented, fhirerr.KindOf(err))
}

func TestParseQueryRejectsUnknownParam(t *testing.T) {
	_, err := ParseQuery("_bogus=1")
	require.Error(t, err)
}

func TestParseQueryNegativeCountRejected(t *testing.T) {
	_, err := ParseQuery("_count=-1")
	require.Error(t, err)
}

func resourceAt(versionID int64, t time.Time, deleted bool) *store.Resource {
	return &store.Resource{
		ResourceType: "Patient",
		ID:           "1",
		VersionID:    versionID,
		LastUpdated:  t,
		IsCurrent:    versionID == 3,
		Deleted:      deleted,
		Body:         json.RawMessage(`{"resourceType":"Patient","id":"1"}`),
	}
}

func TestAssembleDefaultSortDescending(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	versions := []*store.Resource{
		resourceAt(1, base, false),
		resourceAt(2, base.Add(time.Hour), false),
		resourceAt(3, base.Add(2*time.Hour), false),
	}
	res, err := assemble("http://x", versions, Query{Sort: SortLastUpdatedDesc})
	require.NoError(t, err)
	require.Len(t, res.Entries, 3)
	assert.Equal(t, int64(3), res.Entries[0].Resource.VersionID)
	assert.Equal(t, int64(1), res.Entries[2].Resource.VersionID)
}

func TestAssembleDeleteEntryHasNoResource(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	versions := []*store.Resource{resourceAt(1, base, true)}
	res, err := assemble("http://x", versions, Query{Sort: SortLastUpdatedDesc})
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, "DELETE", res.Entries[0].Method)
	assert.Equal(t, "204 No Content", res.Entries[0].Status)
	assert.Nil(t, res.Entries[0].Resource)
}

func TestAssembleSinceFiltersOlderVersions(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	versions := []*store.Resource{
		resourceAt(1, base, false),
		resourceAt(2, base.Add(time.Hour), false),
	}
	res, err := assemble("http://x", versions, Query{Sort: SortLastUpdatedDesc, Since: base.Add(30 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, res.Entries, 1)
	assert.Equal(t, int64(2), res.Entries[0].Resource.VersionID)
}

func TestAssembleCountTruncates(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	versions := []*store.Resource{
		resourceAt(1, base, false),
		resourceAt(2, base.Add(time.Hour), false),
		resourceAt(3, base.Add(2*time.Hour), false),
	}
	res, err := assemble("http://x", versions, Query{Sort: SortLastUpdatedDesc, Count: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, len(res.Entries))
	assert.Equal(t, 3, res.Total)
}

func TestAssembleRejectsSinceAndAtTogether(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := assemble("http://x", []*store.Resource{resourceAt(1, base, false)}, Query{Since: base, At: base})
	require.Error(t, err)
}
