package block

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/weavenet/weave-node/internal/hashing"
	"github.com/weavenet/weave-node/internal/ledger"
)

func TestIndependentHashIsDeterministic(t *testing.T) {
	wl := ledger.New()
	g1 := NewGenesis(wl, 8, 1000)
	g2 := NewGenesis(wl, 8, 1000)
	require.Equal(t, g1.IndepHash, g2.IndepHash)
}

func TestIndependentHashChangesWithHeight(t *testing.T) {
	wl := ledger.New()
	genesis := NewGenesis(wl, 8, 1000)
	b1 := WeaveAdd(genesis, nil, wl, hashing.Hash{1}, []byte("nonce"), hashing.Hash{5}, false, 8, 1000, 1001)
	require.NotEqual(t, genesis.IndepHash, b1.IndepHash)
	require.Equal(t, uint64(1), b1.Height)
	require.Len(t, b1.HashList, 1)
	require.Equal(t, genesis.IndepHash, b1.HashList[0])
}

func TestRecallIndexIsWithinRange(t *testing.T) {
	var h hashing.Hash
	h[0] = 42
	for height := uint64(1); height < 50; height++ {
		idx := RecallIndex(h, height)
		require.Less(t, idx, height)
	}
}

func TestRecallIndexZeroHeightIsZero(t *testing.T) {
	require.Equal(t, uint64(0), RecallIndex(hashing.Hash{}, 0))
}

func TestVerifyIndepAcceptsMatchingRecall(t *testing.T) {
	wl := ledger.New()
	genesis := NewGenesis(wl, 8, 1000)
	b1 := WeaveAdd(genesis, nil, wl, hashing.Hash{1}, []byte("n"), hashing.Hash{5}, false, 8, 1000, 1001)
	b2 := WeaveAdd(b1, nil, wl, hashing.Hash{2}, []byte("n2"), hashing.Hash{5}, false, 8, 1000, 1002)

	pos := RecallPosition(b2.IndepHash, b2.Height)
	recallHash := b2.HashList[pos]

	var recall *Block
	switch recallHash {
	case genesis.IndepHash:
		recall = genesis
	case b1.IndepHash:
		recall = b1
	}
	require.NotNil(t, recall)
	require.True(t, VerifyIndep(recall, b2.IndepHash, b2.Height, b2.HashList))
}

func TestRecallPositionIsReverseIndexed(t *testing.T) {
	// §4.3: the recall block sits at hash_list[height-1-recall_index] in a
	// newest-first hash_list, not at hash_list[recall_index] directly — a
	// recall_index of 0 must resolve to the oldest (genesis) entry.
	var h hashing.Hash
	h[0] = 7
	for height := uint64(1); height < 50; height++ {
		idx := RecallIndex(h, height)
		pos := RecallPosition(h, height)
		require.Equal(t, height-1-idx, pos)
		require.Less(t, pos, height)
	}
}

func TestWeaveSizeAccumulates(t *testing.T) {
	wl := ledger.New()
	genesis := NewGenesis(wl, 8, 1000)
	require.Equal(t, big.NewInt(0), genesis.WeaveSize)

	b1 := WeaveAdd(genesis, nil, wl, hashing.Hash{1}, []byte("n"), hashing.Hash{5}, false, 8, 1000, 1001)
	require.Equal(t, 0, b1.WeaveSize.Cmp(genesis.WeaveSize))
}
