package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, 50, cfg.DefaultPageSize)
	assert.Equal(t, 1000, cfg.MaxPageSize)
}

func TestFromEnv(t *testing.T) {
	t.Run("overrides", func(t *testing.T) {
		t.Setenv("GOFHIR_ADDR", ":9090")
		t.Setenv("GOFHIR_MAX_POOL_CONNS", "25")
		t.Setenv("GOFHIR_DEFAULT_PAGE_SIZE", "20")
		t.Setenv("GOFHIR_MAX_PAGE_SIZE", "500")
		t.Setenv("GOFHIR_REQUEST_TIMEOUT", "15s")

		cfg, err := FromEnv()
		require.NoError(t, err)
		assert.Equal(t, ":9090", cfg.Addr)
		assert.Equal(t, int32(25), cfg.MaxPoolConns)
		assert.Equal(t, 20, cfg.DefaultPageSize)
		assert.Equal(t, 500, cfg.MaxPageSize)
		assert.Equal(t, 15*time.Second, cfg.RequestTimeout)
	})

	t.Run("invalid int", func(t *testing.T) {
		t.Setenv("GOFHIR_MAX_POOL_CONNS", "not-a-number")
		_, err := FromEnv()
		assert.Error(t, err)
	})
}

func TestValidateRejectsBadPageSizes(t *testing.T) {
	cfg := Default()
	cfg.DefaultPageSize = 2000
	cfg.MaxPageSize = 1000
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsEmptyDSN(t *testing.T) {
	cfg := Default()
	cfg.DatabaseDSN = ""
	assert.Error(t, cfg.Validate())
}
