// Package validate implements full block validation (§4.6): the six-point
// check a proposed block B must pass against its predecessor P and the
// resolved recall block R before a node integrates it.
package validate

import (
	"errors"
	"math/big"

	"github.com/weavenet/weave-node/internal/block"
	"github.com/weavenet/weave-node/internal/hashing"
	"github.com/weavenet/weave-node/internal/ledger"
	"github.com/weavenet/weave-node/internal/pow"
	"github.com/weavenet/weave-node/internal/retarget"
	"github.com/weavenet/weave-node/internal/tx"
)

var (
	ErrPrevHashMismatch   = errors.New("validate: prev_hash does not match predecessor")
	ErrHashListMismatch   = errors.New("validate: hash_list does not extend predecessor's")
	ErrWalletListMismatch = errors.New("validate: wallet_list does not match reducer output")
	ErrRecallMismatch     = errors.New("validate: recall block does not verify against hash_list")
	ErrTxInvalid          = errors.New("validate: a transaction in the block fails to verify")
	ErrPowInvalid         = errors.New("validate: proof-of-work predicate does not hold")
	ErrRetargetInvalid    = errors.New("validate: retarget rule violated")
)

// Params bundles the config constants block validation needs, kept
// separate from internal/config so this package has no dependency on the
// TOML loading layer.
type Params struct {
	Diff                  uint64 // not read by Block, which validates txs against the candidate's own Diff
	DiffCenter            uint64
	CostPerByte           *big.Int
	RetargetBlocks        uint64
	TargetSecondsPerBlock int64
	GenesisTokens         uint64
}

// Block validates candidate B against predecessor P and resolved recall
// block R, per every clause of §4.6. It returns the first failing check.
func Block(b, p, r *block.Block, params Params) error {
	if b.PrevHash != p.IndepHash {
		return ErrPrevHashMismatch
	}
	if !tailMatches(b.HashList, p.HashList) {
		return ErrHashListMismatch
	}

	effects := make([]ledger.TxEffect, 0, len(b.Txs))
	for _, t := range b.Txs {
		effects = append(effects, t)
	}
	afterTxs := ledger.ApplyTxs(p.WalletList(), effects)
	afterReward := ledger.ApplyMiningReward(afterTxs, b.RewardAddr, b.Unclaimed, effects, b.Height, params.GenesisTokens)
	if !ledger.Equal(afterReward, b.WalletList()) {
		return ErrWalletListMismatch
	}

	if !block.VerifyIndep(r, b.IndepHash, b.Height, b.HashList) {
		return ErrRecallMismatch
	}

	running := p.WalletList()
	for _, t := range b.Txs {
		if err := tx.Validate(t, b.Diff, params.DiffCenter, params.CostPerByte, running); err != nil {
			return ErrTxInvalid
		}
		running = ledger.ApplyTxs(running, []ledger.TxEffect{t})
	}

	dataSegment := block.DataSegment(b.Txs, r, b.RewardAddr)
	computedHash, ok := pow.Verify(p.Hash[:], dataSegment, b.Nonce, b.Diff)
	if !ok || computedHash != b.Hash {
		return ErrPowInvalid
	}

	if !retarget.OK(b.Height, b.Diff, b.LastRetarget, p.Diff, p.LastRetarget, b.Timestamp, params.RetargetBlocks, params.TargetSecondsPerBlock) {
		return ErrRetargetInvalid
	}

	return nil
}

func tailMatches(candidateHashList, prevHashList []hashing.Hash) bool {
	if len(candidateHashList) != len(prevHashList)+1 {
		return false
	}
	for i, h := range prevHashList {
		if candidateHashList[i+1] != h {
			return false
		}
	}
	return true
}
