package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xinyao/wuxing-premium/store"
)

func TestPutGetDelete(t *testing.T) {
	s := New()
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	require.NoError(t, s.Put(ctx, "device_unique_id", "dev_abc"))

	got, err := s.Get(ctx, "device_unique_id")
	require.NoError(t, err)
	assert.Equal(t, "dev_abc", got)

	require.NoError(t, s.Delete(ctx, "device_unique_id"))

	_, err = s.Get(ctx, "device_unique_id")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
