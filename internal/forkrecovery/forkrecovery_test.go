package forkrecovery

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/weavenet/weave-node/internal/block"
	"github.com/weavenet/weave-node/internal/hashing"
	"github.com/weavenet/weave-node/internal/ledger"
	"github.com/weavenet/weave-node/internal/peerclient"
	"github.com/weavenet/weave-node/internal/pow"
	"github.com/weavenet/weave-node/internal/store"
	"github.com/weavenet/weave-node/internal/tx"
	"github.com/weavenet/weave-node/internal/validate"
)

// fakeClient answers GetFullBlock from an in-memory set of blocks, as if
// every block were obtainable from any peer.
type fakeClient struct {
	blocks map[hashing.Hash]*block.Block
}

func (f *fakeClient) GetCurrentBlock(context.Context, peerclient.Peer) (*block.Block, error) {
	return nil, peerclient.ErrNoResponse
}

func (f *fakeClient) GetBlock(ctx context.Context, p peerclient.Peer, id hashing.Hash) (*block.Block, error) {
	return f.GetFullBlock(ctx, p, id)
}

func (f *fakeClient) GetFullBlock(_ context.Context, _ peerclient.Peer, id hashing.Hash) (*block.Block, error) {
	b, ok := f.blocks[id]
	if !ok {
		return nil, peerclient.ErrNotFound
	}
	return b, nil
}

func (f *fakeClient) SendNewTx(context.Context, peerclient.Peer, *tx.Transaction) error { return nil }

func (f *fakeClient) SendNewBlock(context.Context, peerclient.Peer, peerclient.Peer, *block.Block, *block.Block) error {
	return nil
}

func (f *fakeClient) GetPeers(context.Context, peerclient.Peer) ([]peerclient.Peer, error) {
	return nil, nil
}

// mineChain builds n blocks on top of a fresh genesis, always resolving the
// recall block to genesis by brute-forcing a nonce whose resulting
// independent hash makes genesis the correct recall selection (§4.3). Using
// diff 0 keeps the PoW predicate trivially satisfied so the search only has
// to hunt for recall-index consistency.
func mineChain(t *testing.T, n int, genesisTimestamp int64) (genesis *block.Block, chain []*block.Block, byHash map[hashing.Hash]*block.Block) {
	t.Helper()
	wl := ledger.New()
	genesis = block.NewGenesis(wl, 0, genesisTimestamp)
	byHash = map[hashing.Hash]*block.Block{genesis.IndepHash: genesis}

	prev := genesis
	for i := 0; i < n; i++ {
		found := false
		for attempt := 0; attempt < 10000 && !found; attempt++ {
			nonce := []byte{byte(attempt), byte(attempt >> 8)}
			seg := block.DataSegment(nil, genesis, hashing.Hash{})
			h, ok := pow.Verify(prev.Hash[:], seg, nonce, 0)
			require.True(t, ok)
			cand := block.WeaveAdd(prev, nil, wl, h, nonce, hashing.Hash{}, true, 0, 1000, 1001+int64(i))
			if block.VerifyIndep(genesis, cand.IndepHash, cand.Height, cand.HashList) {
				byHash[cand.IndepHash] = cand
				chain = append(chain, cand)
				prev = cand
				found = true
			}
		}
		require.True(t, found, "failed to find a recall-consistent nonce")
	}
	return genesis, chain, byHash
}

func TestForkRecoveryCatchesUp(t *testing.T) {
	genesis, chain, byHash := mineChain(t, 3, 1000)
	st := store.NewMemStore(10)
	require.NoError(t, st.PutBlock(genesis))

	client := &fakeClient{blocks: byHash}
	params := Params{
		Validate:                 validate.Params{DiffCenter: 30, CostPerByte: big.NewInt(1), RetargetBlocks: 10, TargetSecondsPerBlock: 120},
		NetTimeout:               time.Second,
		RetryBudget:              5,
		StoreBlocksBehindCurrent: 50,
	}
	peers := []peerclient.Peer{{ID: uuid.New(), Addr: "sim://peer"}}

	w := Start(context.Background(), nil, peers, chain[2], genesis, client, st, params)
	select {
	case res := <-w.Results():
		require.NoError(t, res.Err)
		require.Equal(t, uint64(3), res.Height)
		require.Len(t, res.HashList, 3)
		require.Equal(t, chain[2].IndepHash, res.HashList[0])
	case <-time.After(5 * time.Second):
		t.Fatal("fork recovery did not complete")
	}
}

func TestOnSameBranchAcceptsExtension(t *testing.T) {
	_, chain, _ := mineChain(t, 3, 1000)
	require.True(t, onSameBranch(chain[0], chain[2]))
	require.True(t, onSameBranch(chain[2], chain[2]))
}

func TestOnSameBranchRejectsUnrelated(t *testing.T) {
	_, chainA, _ := mineChain(t, 2, 1000)
	_, chainB, _ := mineChain(t, 2, 2000)
	require.False(t, onSameBranch(chainA[1], chainB[1]))
}
