// Package node implements the Node Server (§4.7, §4.8, §5): a single
// cooperative actor owning the chain, wallet list, and mempool, coordinating
// a Miner child and Fork-Recovery/Join workers purely by message passing. It
// generalises the teacher's channel-based processMessageQueue (node.go) from
// a fixed MessageType switch over four cases into this spec's full block-
// acceptance state machine, fork recovery, and node-introspection queries.
package node

import (
	"math/big"

	"github.com/weavenet/weave-node/internal/block"
	"github.com/weavenet/weave-node/internal/hashing"
	"github.com/weavenet/weave-node/internal/peerclient"
	"github.com/weavenet/weave-node/internal/tx"
)

type kind int

const (
	kindNewBlock kind = iota
	kindAddTx
	kindMine
	kindGetInfo
	kindEstimateReward
	kindGetPeers
	kindStop
)

// message is the tagged union of everything that can land in the Node
// Server's inbox: the two gossip wire messages (§6), the mine trigger, and
// the supplemented query messages (§3.1, §6.1). Internal completions
// (work_complete, fork_recovered) arrive on their own dedicated channels
// rather than this one, since they originate from child actors the Server
// itself created (§5).
type message struct {
	kind kind

	// kindNewBlock
	from   peerclient.Peer
	block  *block.Block
	recall *block.Block

	// kindAddTx
	tx *tx.Transaction

	// kindEstimateReward
	size int
	diff uint64

	// reply channels, populated only for query kinds
	replyInfo     chan Info
	replyEstimate chan *big.Int
	replyPeers    chan []peerclient.Peer
}

// Info is the synchronous reply to a {get_info} query (§3.1).
type Info struct {
	Joined    bool
	Height    uint64
	TipHash   hashing.Hash
	NumPeers  int
	WeaveSize *big.Int
}

// NewBlock builds a {new_block} inbox message (§6).
func NewBlock(from peerclient.Peer, b, recall *block.Block) message {
	return message{kind: kindNewBlock, from: from, block: b, recall: recall}
}

// AddTx builds an {add_tx} inbox message (§6).
func AddTx(t *tx.Transaction) message {
	return message{kind: kindAddTx, tx: t}
}

// Mine builds a {mine} inbox message (§4.7).
func Mine() message {
	return message{kind: kindMine}
}
