// Package block implements the block type, its canonical independent-hash
// encoding, recall-block selection, and the mining data segment (§3, §4.3,
// §4.4). It generalises the teacher repo's block.go, which chained blocks by
// a single prev-hash link, onto this spec's recall-block-augmented weave.
package block

import (
	"encoding/binary"
	"math/big"

	"github.com/weavenet/weave-node/internal/hashing"
	"github.com/weavenet/weave-node/internal/ledger"
	"github.com/weavenet/weave-node/internal/tx"
)

// Unclaimed is the sentinel reward address meaning "do not credit anyone".
var Unclaimed = hashing.Hash{}

// Block is a single weave block (§3). HashList is ordered newest-first, as
// is the spec's convention; len(HashList) == Height.
type Block struct {
	IndepHash    hashing.Hash
	PrevHash     hashing.Hash
	Height       uint64
	Nonce        []byte
	Hash         hashing.Hash // the PoW hash
	Diff         uint64
	Timestamp    int64
	LastRetarget int64
	HashList     []hashing.Hash
	Txs          []*tx.Transaction
	RewardAddr   hashing.Hash
	Unclaimed    bool
	WeaveSize    *big.Int
	BlockSize    *big.Int
	Tags         []tx.Tag

	// Ledger is the wallet_list snapshot after applying this block's txs and
	// mining reward. It is not an input to IndependentHash: like Arweave's
	// wallet list, it is a derived quantity re-verified by recomputation
	// (§4.6 item 2), not bound into the block's identity hash, so the hash
	// stays independent of ledger size.
	Ledger *ledger.WalletList
}

// WalletList returns b's ledger snapshot.
func (b *Block) WalletList() *ledger.WalletList { return b.Ledger }

// BlockData concatenates every tx id in order (§4.4).
func BlockData(txs []*tx.Transaction) []byte {
	var out []byte
	for _, t := range txs {
		id := t.ID()
		out = append(out, id[:]...)
	}
	return out
}

func u64bytes(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func i64bytes(v int64) []byte {
	return u64bytes(uint64(v))
}

func bigBytes(v *big.Int) []byte {
	if v == nil {
		return nil
	}
	return []byte(v.String())
}

// hashListBytes concatenates a hash list in order.
func hashListBytes(hl []hashing.Hash) []byte {
	var out []byte
	for _, h := range hl {
		out = append(out, h[:]...)
	}
	return out
}

func tagsBytes(tags []tx.Tag) []byte {
	var out []byte
	for _, t := range tags {
		out = append(out, t.Name...)
		out = append(out, t.Value...)
	}
	return out
}

// IndependentHash computes B.indep_hash over every block field in a fixed
// order, excluding indep_hash itself (§6, canonical byte encodings).
func (b *Block) IndependentHash() hashing.Hash {
	rewardAddr := b.RewardAddr
	if b.Unclaimed {
		rewardAddr = Unclaimed
	}
	return hashing.Sum(
		b.PrevHash[:],
		u64bytes(b.Height),
		b.Nonce,
		b.Hash[:],
		u64bytes(b.Diff),
		i64bytes(b.Timestamp),
		i64bytes(b.LastRetarget),
		hashListBytes(b.HashList),
		BlockData(b.Txs),
		rewardAddr[:],
		bigBytes(b.WeaveSize),
		bigBytes(b.BlockSize),
		tagsBytes(b.Tags),
	)
}

// RecallIndex computes recall_index(B) = pick_recall(indep_hash, height) mod
// max(1, height) (§4.3). pick_recall derives a uniform index from the
// block's own independent hash so every honest node recomputes the same
// value without any extra randomness source.
func RecallIndex(indepHash hashing.Hash, height uint64) uint64 {
	if height == 0 {
		return 0
	}
	pick := pickRecall(indepHash, height)
	return pick % height
}

func pickRecall(indepHash hashing.Hash, height uint64) uint64 {
	seed := hashing.Sum(indepHash[:], u64bytes(height))
	return binary.BigEndian.Uint64(seed[:8])
}

// RecallPosition converts a recall_index into the position to read out of a
// hash_list of the given height: hash_list is ordered newest-first (§3), so
// the spec's "reverse-indexed" hash_list[height-1-recall_index] (§4.3) is a
// position counted back from the oldest (genesis) entry, not a direct
// index into recall_index itself.
func RecallPosition(indepHash hashing.Hash, height uint64) uint64 {
	if height == 0 {
		return 0
	}
	idx := RecallIndex(indepHash, height)
	return height - 1 - idx
}

// DataSegment builds data_segment(txs, recall_B, reward_addr) (§4.4):
//
//	block_data(txs) ‖ recall_B.nonce ‖ recall_B.hash ‖ block_data(recall_B.txs) ‖ reward_addr
func DataSegment(txs []*tx.Transaction, recall *Block, rewardAddr hashing.Hash) []byte {
	var out []byte
	out = append(out, BlockData(txs)...)
	out = append(out, recall.Nonce...)
	out = append(out, recall.Hash[:]...)
	out = append(out, BlockData(recall.Txs)...)
	out = append(out, rewardAddr[:]...)
	return out
}

// VerifyIndep checks that R.indep_hash appears in candidateHashList at the
// reverse-indexed position implied by candidateHeight's recall index
// (§4.3, §4.6 item 3): hash_list[height-1-recall_index].
func VerifyIndep(r *Block, candidateIndepHash hashing.Hash, candidateHeight uint64, candidateHashList []hashing.Hash) bool {
	pos := RecallPosition(candidateIndepHash, candidateHeight)
	if int(pos) >= len(candidateHashList) {
		return false
	}
	return candidateHashList[pos] == r.IndepHash
}
