package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResourceETag(t *testing.T) {
	r := &Resource{ResourceType: "Patient", ID: "p1", VersionID: 3, LastUpdated: time.Now()}
	assert.Equal(t, `W/"3"`, r.ETag())
}
