package crud

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStampMetaSetsIDAndVersion(t *testing.T) {
	body := []byte(`{"resourceType":"Patient","id":"old","meta":{"versionId":"1"}}`)
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	out := stampMeta(body, "new-id", 7, ts)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &doc))
	assert.Equal(t, "new-id", doc["id"])
	meta := doc["meta"].(map[string]interface{})
	assert.Equal(t, "7", meta["versionId"])
	assert.Equal(t, ts.Format(time.RFC3339Nano), meta["lastUpdated"])
}

func TestStampMetaCreatesMissingMeta(t *testing.T) {
	body := []byte(`{"resourceType":"Patient"}`)
	ts := time.Now()

	out := stampMeta(body, "p1", 1, ts)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &doc))
	meta, ok := doc["meta"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "1", meta["versionId"])
}
