package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 需要可用的 Redis：GARAGEBOOK_TEST_REDIS_URL=redis://localhost:6379/15
func TestRedis_RoundTrip(t *testing.T) {
	url := os.Getenv("GARAGEBOOK_TEST_REDIS_URL")
	if url == "" {
		t.Skip("GARAGEBOOK_TEST_REDIS_URL not set")
	}

	ctx := context.Background()
	r, err := NewRedis(ctx, url, "garagebook-test:")
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Set(ctx, "registry:AB12CDE", []byte("FORD"), time.Minute))
	v, ok, err := r.Get(ctx, "registry:AB12CDE")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "FORD", string(v))

	require.NoError(t, r.Delete(ctx, "registry:AB12CDE"))
	_, ok, err = r.Get(ctx, "registry:AB12CDE")
	require.NoError(t, err)
	assert.False(t, ok)
}
