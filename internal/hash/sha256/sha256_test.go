package sha256

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHashIsDeterministicHex(t *testing.T) {
	t.Parallel()

	h := New()
	got, err := h.Hash([]byte("title=Widget|url=https://example.com/p/1"))
	require.NoError(t, err)
	require.Len(t, got, 64)

	again, err := h.Hash([]byte("title=Widget|url=https://example.com/p/1"))
	require.NoError(t, err)
	require.Equal(t, got, again)

	other, err := h.Hash([]byte("title=Widget|url=https://example.com/p/2"))
	require.NoError(t, err)
	require.NotEqual(t, got, other)
}
