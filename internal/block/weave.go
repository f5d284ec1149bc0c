package block

import (
	"math/big"
	"time"

	"github.com/weavenet/weave-node/internal/hashing"
	"github.com/weavenet/weave-node/internal/ledger"
	"github.com/weavenet/weave-node/internal/tx"
)

// NewGenesis builds the height-0 block: empty hash list, the supplied
// initial wallet list, no txs, unclaimed reward.
func NewGenesis(wl *ledger.WalletList, diff uint64, timestamp int64) *Block {
	b := &Block{
		Height:       0,
		HashList:     nil,
		Diff:         diff,
		Timestamp:    timestamp,
		LastRetarget: timestamp,
		Unclaimed:    true,
		WeaveSize:    big.NewInt(0),
		BlockSize:    big.NewInt(0),
	}
	b.Ledger = wl
	b.IndepHash = b.IndependentHash()
	return b
}

// TxDataSize sums DataSize() over txs — the quantity block_size accumulates.
func TxDataSize(txs []*tx.Transaction) *big.Int {
	total := big.NewInt(0)
	for _, t := range txs {
		total.Add(total, big.NewInt(int64(t.DataSize())))
	}
	return total
}

// WeaveAdd assembles a new candidate block on top of prev, given the mined
// txs, the winning PoW hash and nonce, the reward address, and the wallet
// list already produced by applying those txs and the mining reward (§4.7's
// work_complete handling: "assemble a candidate block by calling
// weave_add(hash_list, wallet_list_after, mined_txs, nonce, reward_addr)").
// The caller is responsible for retargeting Diff and LastRetarget
// (internal/retarget) before this is invoked, and for running the result
// through internal/validate before integrating it.
func WeaveAdd(prev *Block, txs []*tx.Transaction, walletAfter *ledger.WalletList, powHash hashing.Hash, nonce []byte, rewardAddr hashing.Hash, unclaimed bool, diff uint64, lastRetarget, timestamp int64) *Block {
	blockSize := TxDataSize(txs)
	weaveSize := new(big.Int).Add(prev.WeaveSize, blockSize)

	hashList := make([]hashing.Hash, 0, len(prev.HashList)+1)
	hashList = append(hashList, prev.IndepHash)
	hashList = append(hashList, prev.HashList...)

	b := &Block{
		PrevHash:     prev.IndepHash,
		Height:       prev.Height + 1,
		Nonce:        nonce,
		Hash:         powHash,
		Diff:         diff,
		Timestamp:    timestamp,
		LastRetarget: lastRetarget,
		HashList:     hashList,
		Txs:          txs,
		RewardAddr:   rewardAddr,
		Unclaimed:    unclaimed,
		WeaveSize:    weaveSize,
		BlockSize:    blockSize,
		Ledger:       walletAfter,
	}
	b.IndepHash = b.IndependentHash()
	return b
}

// Now returns the current wall-clock time as a block timestamp. Split out
// so the miner and node code never call time.Now() directly, keeping every
// timestamp source in one place for tests to stub if needed.
func Now() int64 {
	return time.Now().Unix()
}

// ChainList computes the node-state hash_list a node would carry if b were
// its accepted tip (§3, Node state's hash_list; §4.8 integration). It is
// b's own hash prepended to b.HashList with the oldest ancestor (genesis,
// implicitly shared across every node on the network and never stored
// explicitly) dropped, so that two nodes' ChainLists are directly
// comparable and len(ChainList(b)) == b.Height, matching the scenario in
// §8 ("both have height == 1" after one block is mined on top of
// genesis). Height 0 (genesis itself) has an empty ChainList.
func ChainList(b *Block) []hashing.Hash {
	if b.Height == 0 {
		return nil
	}
	out := make([]hashing.Hash, 0, len(b.HashList))
	out = append(out, b.IndepHash)
	out = append(out, b.HashList[:len(b.HashList)-1]...)
	return out
}
