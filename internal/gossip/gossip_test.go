package gossip

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
)

func peer(t *testing.T) peerclient.Peer {
	t.Helper()
	return peerclient.Peer{ID: uuid.New(), Addr: "sim://" + uuid.New().String()}
}

func TestSimBusDeliversMessage(t *testing.T) {
	bus := NewSimBus(nil)
	a, b := peer(t), peer(t)
	chB := bus.Subscribe(b)

	wl := ledger.New()
	gen := block.NewGenesis(wl, 8, 1000)
	gen.WeaveSize = big.NewInt(0)

	msg := NewBlockMessage(a, gen, gen)
	bus.Publish(context.Background(), b, msg)

	select {
	case got := <-chB:
		require.Equal(t, KindNewBlock, got.Kind)
		require.Equal(t, gen.IndepHash, got.Block.IndepHash)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}
}

func TestSimBusDropsOnConfiguredLoss(t *testing.T) {
	bus := NewSimBus(nil)
	a, b := peer(t), peer(t)
	bus.SetLinkConfig(a, LinkConfig{LossProbability: 1})
	chB := bus.Subscribe(b)

	msg := AddTxMessage(a, nil)
	bus.Publish(context.Background(), b, msg)

	select {
	case <-chB:
		t.Fatal("message should have been dropped")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPeerRegistryDemotesAfterFailures(t *testing.T) {
	r := NewPeerRegistry()
	p := peer(t)
	r.Add(p, time.Now())

	for i := 0; i < MaxPeerFailures; i++ {
		r.RecordFailure(p)
	}
	require.Empty(t, r.FanOutPeers())
	require.Len(t, r.Peers(), 1)
}

func TestPeerRegistryRecordSuccessResetsFailures(t *testing.T) {
	r := NewPeerRegistry()
	p := peer(t)
	r.Add(p, time.Now())
	r.RecordFailure(p)
	r.RecordSuccess(p)
	require.Len(t, r.FanOutPeers(), 1)
}

func TestPeerRegistryKnownItemsAreExactlyOncePerPeer(t *testing.T) {
	r := NewPeerRegistry()
	p := peer(t)
	r.Add(p, time.Now())

	var h hashing.Hash
	h[0] = 1
	require.False(t, r.KnowsBlock(p, h))
	r.MarkBlock(p, h)
	require.True(t, r.KnowsBlock(p, h))

	var id hashing.Hash
	id[0] = 2
	require.False(t, r.KnowsTx(p, id))
	r.MarkTx(p, id)
	require.True(t, r.KnowsTx(p, id))

	// An unknown peer never "knows" anything and marking it is a no-op.
	stranger := peer(t)
	require.False(t, r.KnowsBlock(stranger, h))
	r.MarkBlock(stranger, h)
	require.False(t, r.KnowsBlock(stranger, h))
}
