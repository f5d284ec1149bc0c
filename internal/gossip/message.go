// Package gossip implements the wire-message shape, the peer registry, and
// an in-process simulated bus used to drive multi-node scenario tests
// without a real network (§4.11, §5, §6). It generalises the teacher
// repo's channel-based messageQueue/broadcastToPeers in node.go from a
// direct-dial model to a shared bus object, since real transport is out of
// scope (§1).
package gossip

import (
	"github.com/weavenet/weave-node/internal/block"
	"github.com/weavenet/weave-node/internal/peerclient"
	"github.com/weavenet/weave-node/internal/tx"
)

// Kind identifies a gossip message's payload (§6, "Wire messages").
type Kind int

const (
	KindNewBlock Kind = iota
	KindAddTx
)

// Message is the tagged union of the two gossip wire messages:
// {new_block, peer_id, height, block, recall_block} and {add_tx, tx}.
type Message struct {
	Kind Kind
	From peerclient.Peer

	// Populated when Kind == KindNewBlock.
	Height uint64
	Block  *block.Block
	Recall *block.Block

	// Populated when Kind == KindAddTx.
	Tx *tx.Transaction
}

// NewBlockMessage builds a {new_block} gossip message.
func NewBlockMessage(from peerclient.Peer, b, recall *block.Block) Message {
	return Message{Kind: KindNewBlock, From: from, Height: b.Height, Block: b, Recall: recall}
}

// AddTxMessage builds an {add_tx} gossip message.
func AddTxMessage(from peerclient.Peer, t *tx.Transaction) Message {
	return Message{Kind: KindAddTx, From: from, Tx: t}
}
