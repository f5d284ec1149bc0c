package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/weavenet/weave-node/internal/block"
	"github.com/weavenet/weave-node/internal/hashing"
	"github.com/weavenet/weave-node/internal/ledger"
)

func TestPutGetBlockRoundTrip(t *testing.T) {
	ms := NewMemStore(2)
	wl := ledger.New()
	g := block.NewGenesis(wl, 8, 1000)

	require.NoError(t, ms.PutBlock(g))
	require.True(t, ms.HasBlock(g.IndepHash))

	got, err := ms.GetBlock(g.IndepHash)
	require.NoError(t, err)
	require.Equal(t, g.IndepHash, got.IndepHash)
}

func TestGetBlockMissingReturnsErrNotFound(t *testing.T) {
	ms := NewMemStore(2)
	_, err := ms.GetBlock(hashing.Hash{9})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestHotCacheEvictionDoesNotAffectAuthoritativeIndex(t *testing.T) {
	ms := NewMemStore(1)
	wl := ledger.New()
	g := block.NewGenesis(wl, 8, 1000)
	b1 := block.WeaveAdd(g, nil, wl, hashing.Hash{1}, []byte("n"), hashing.Hash{5}, false, 8, 1000, 1001)
	b2 := block.WeaveAdd(b1, nil, wl, hashing.Hash{2}, []byte("n2"), hashing.Hash{5}, false, 8, 1000, 1002)

	require.NoError(t, ms.PutBlock(g))
	require.NoError(t, ms.PutBlock(b1)) // evicts g from the hot cache, cap=1
	require.NoError(t, ms.PutBlock(b2))

	require.True(t, ms.HasBlock(g.IndepHash))
	got, err := ms.GetBlock(g.IndepHash)
	require.NoError(t, err)
	require.Equal(t, g.IndepHash, got.IndepHash)
}
