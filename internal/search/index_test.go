package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDateRangeYear(t *testing.T) {
	lo, hi, err := dateRange("2020")
	require.NoError(t, err)
	assert.True(t, hi > lo)
}

func TestDateRangeDay(t *testing.T) {
	lo, hi, err := dateRange("2020-03-15")
	require.NoError(t, err)
	assert.True(t, hi > lo)
}

func TestDateRangeInstant(t *testing.T) {
	lo, hi, err := dateRange("2020-03-15T10:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, lo, hi)
}

func TestDateRangeInvalid(t *testing.T) {
	_, _, err := dateRange("not-a-date")
	require.Error(t, err)
}

func TestNormalizeString(t *testing.T) {
	assert.Equal(t, "smith", normalizeString("  Smith "))
}
