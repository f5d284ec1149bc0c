// Package peerclient defines the peer RPC boundary (§6, "Peer RPC"). The
// HTTP transport behind it is out of scope (§1); Fork Recovery and Join are
// written against Client so tests can supply an in-process fake.
package peerclient

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/weavenet/weave-node/internal/block"
	"github.com/weavenet/weave-node/internal/hashing"
	"github.com/weavenet/weave-node/internal/tx"
)

// ErrNotFound mirrors the RPC's not_found outcome for GetBlock/GetFullBlock.
var ErrNotFound = errors.New("peerclient: not found")

// ErrNoResponse mirrors the RPC's no_response outcome for GetCurrentBlock,
// and is also returned by any call on a timed-out or unreachable peer.
var ErrNoResponse = errors.New("peerclient: no response")

// Peer identifies a remote node for gossip fan-out and peer-list replies
// (§3.1's supplemented peer record).
type Peer struct {
	ID   uuid.UUID
	Addr string
}

// Client is the peer RPC surface (§6).
type Client interface {
	GetCurrentBlock(ctx context.Context, peer Peer) (*block.Block, error)
	GetBlock(ctx context.Context, peer Peer, id hashing.Hash) (*block.Block, error)
	GetFullBlock(ctx context.Context, peer Peer, id hashing.Hash) (*block.Block, error)
	SendNewTx(ctx context.Context, peer Peer, t *tx.Transaction) error
	SendNewBlock(ctx context.Context, peer Peer, from Peer, b, recall *block.Block) error
	GetPeers(ctx context.Context, peer Peer) ([]Peer, error)
}
