// Package ledger implements the wallet-ledger reducer: folding an ordered
// transaction list over a wallet list, and applying the mining reward. It is
// the generalisation of the teacher repo's Account/UTXOSet bookkeeping
// (account.go, utxo.go) onto this spec's single replicated balance-ledger
// model, which replaces per-output UTXO tracking entirely.
package ledger

import (
	"math"
	"math/big"
	"sort"
	"sync"

	"github.com/weavenet/weave-node/internal/hashing"
)

// Entry is a single wallet-ledger row. Balance is always > 0; a wallet with
// a zero balance does not appear in a WalletList.
type Entry struct {
	Address hashing.Hash
	Balance *big.Int
	LastTx  hashing.Hash
	HasLastTx bool
}

// WalletList is a replicated ledger snapshot. The zero value is a valid,
// empty wallet list (the genesis wallet list before any initial credits).
type WalletList struct {
	mu      sync.RWMutex
	entries map[hashing.Hash]*Entry
}

// New returns an empty wallet list.
func New() *WalletList {
	return &WalletList{entries: make(map[hashing.Hash]*Entry)}
}

// Clone returns a deep, independent copy so a candidate block or a miner
// snapshot never mutates the Node server's live ledger.
func (wl *WalletList) Clone() *WalletList {
	wl.mu.RLock()
	defer wl.mu.RUnlock()
	out := New()
	for addr, e := range wl.entries {
		out.entries[addr] = &Entry{
			Address:   e.Address,
			Balance:   new(big.Int).Set(e.Balance),
			LastTx:    e.LastTx,
			HasLastTx: e.HasLastTx,
		}
	}
	return out
}

// Get returns the entry for address, or (nil, false) if the wallet has
// never been credited (or its balance has since fallen to zero).
func (wl *WalletList) Get(address hashing.Hash) (Entry, bool) {
	wl.mu.RLock()
	defer wl.mu.RUnlock()
	e, ok := wl.entries[address]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Balance is a convenience accessor returning 0 for an absent wallet.
func (wl *WalletList) Balance(address hashing.Hash) *big.Int {
	if e, ok := wl.Get(address); ok {
		return new(big.Int).Set(e.Balance)
	}
	return big.NewInt(0)
}

// Credit increases address's balance by amount, creating the entry if it
// did not already exist. A zero or negative amount is a no-op.
func (wl *WalletList) Credit(address hashing.Hash, amount *big.Int) {
	if amount.Sign() <= 0 {
		return
	}
	wl.mu.Lock()
	defer wl.mu.Unlock()
	if wl.entries == nil {
		wl.entries = make(map[hashing.Hash]*Entry)
	}
	e, ok := wl.entries[address]
	if !ok {
		e = &Entry{Address: address, Balance: big.NewInt(0)}
		wl.entries[address] = e
	}
	e.Balance.Add(e.Balance, amount)
}

// Debit decreases address's balance by amount and records lastTx, failing
// if the wallet is absent or the balance would go negative.
func (wl *WalletList) Debit(address hashing.Hash, amount *big.Int, lastTx hashing.Hash) error {
	wl.mu.Lock()
	defer wl.mu.Unlock()
	e, ok := wl.entries[address]
	if !ok {
		return ErrWalletAbsent
	}
	if e.Balance.Cmp(amount) < 0 {
		return ErrInsufficientBalance
	}
	e.Balance.Sub(e.Balance, amount)
	e.LastTx = lastTx
	e.HasLastTx = true
	if e.Balance.Sign() == 0 {
		delete(wl.entries, address)
	}
	return nil
}

// prune removes any zero-balance entries; kept for defence in depth even
// though Debit already deletes zeroed wallets inline.
func (wl *WalletList) prune() {
	for addr, e := range wl.entries {
		if e.Balance.Sign() <= 0 {
			delete(wl.entries, addr)
		}
	}
}

// Entries returns every wallet sorted by address, the canonical order used
// to compare two wallet lists for equality (§4.2).
func (wl *WalletList) Entries() []Entry {
	wl.mu.RLock()
	defer wl.mu.RUnlock()
	out := make([]Entry, 0, len(wl.entries))
	for _, e := range wl.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		return lessAddress(out[i].Address, out[j].Address)
	})
	return out
}

func lessAddress(a, b hashing.Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// Equal compares two wallet lists by their canonical entry sequence.
func Equal(a, b *WalletList) bool {
	if a == nil || b == nil {
		return a == b
	}
	ea, eb := a.Entries(), b.Entries()
	if len(ea) != len(eb) {
		return false
	}
	for i := range ea {
		if ea[i].Address != eb[i].Address || ea[i].HasLastTx != eb[i].HasLastTx {
			return false
		}
		if ea[i].HasLastTx && ea[i].LastTx != eb[i].LastTx {
			return false
		}
		if ea[i].Balance.Cmp(eb[i].Balance) != 0 {
			return false
		}
	}
	return true
}

// TxEffect is the minimal view of a transaction the reducer needs. It lets
// this package apply transactions without importing the tx package, which
// in turn needs WalletList to implement verification (§4.1) — tx depends on
// ledger, never the other way around.
type TxEffect interface {
	ID() hashing.Hash
	SenderAddress() (hashing.Hash, bool) // false for a system/genesis tx
	HasTarget() bool
	TargetAddress() hashing.Hash
	Quantity() *big.Int
	Reward() *big.Int
	LastTx() (hashing.Hash, bool)
}

// ApplyTx applies a single transaction to wl in place, per §4.2. A tx whose
// sender is absent or whose last_tx does not match the recorded value is
// skipped (log-only) rather than rejected — callers that need hard
// rejection should verify the tx first (internal/validate, internal/tx).
func ApplyTx(wl *WalletList, t TxEffect) (applied bool) {
	sender, isTransfer := t.SenderAddress()
	if !isTransfer {
		// Genesis/system transactions mint directly to their target.
		if t.HasTarget() {
			wl.Credit(t.TargetAddress(), t.Quantity())
		}
		return true
	}

	entry, ok := wl.Get(sender)
	wantLastTx, hasWantLastTx := t.LastTx()
	if !ok {
		return false
	}
	if entry.HasLastTx != hasWantLastTx || (hasWantLastTx && entry.LastTx != wantLastTx) {
		return false
	}

	debit := new(big.Int).Add(t.Quantity(), t.Reward())
	if err := wl.Debit(sender, debit, t.ID()); err != nil {
		return false
	}
	if t.HasTarget() {
		wl.Credit(t.TargetAddress(), t.Quantity())
	}
	return true
}

// ApplyTxs folds txs over wl in order, returning a new, independent wallet
// list (prev is never mutated). Verification order-sensitivity (§4.1) falls
// out naturally: each ApplyTx call sees the effects of every earlier one.
func ApplyTxs(prev *WalletList, txs []TxEffect) *WalletList {
	wl := prev.Clone()
	for _, t := range txs {
		ApplyTx(wl, t)
	}
	wl.prune()
	return wl
}

// DefaultGenesisTokens is the out-of-the-box total initial token supply the
// static reward curve decays from (§4.2's static_reward), used when a
// caller has no config-sourced value to pass (e.g. direct test calls). The
// authoritative value for a running node is internal/config's GenesisTokens
// field (§6, "Config constants"), threaded through StaticReward/
// ApplyMiningReward's genesisTokens parameter rather than hardcoded here.
const DefaultGenesisTokens = 55_000_000

// RetargetBlocks-independent reward half-life, in blocks (~105120 blocks is
// Arweave's historical 2-year-ish half life at its original block time).
const rewardHalfLifeBlocks = 105120

// StaticReward computes the height-decaying portion of the mining reward:
// 0.2 * genesisTokens * 2^(-h/105120) * ln(2) / 105120.
func StaticReward(height, genesisTokens uint64) *big.Int {
	h := float64(height)
	decay := math.Pow(2, -h/float64(rewardHalfLifeBlocks))
	reward := 0.2 * float64(genesisTokens) * decay * math.Ln2 / float64(rewardHalfLifeBlocks)
	return truncToBigInt(reward)
}

// ApplyMiningReward credits rewardAddr with the static block reward plus
// the sum of every included tx's reward field (§4.2). When unclaimed is
// true the result is an unchanged copy of wl; rewardAddr itself is not
// inspected, so a zero rewardAddr with unclaimed false is credited.
func ApplyMiningReward(wl *WalletList, rewardAddr hashing.Hash, unclaimed bool, txs []TxEffect, height, genesisTokens uint64) *WalletList {
	out := wl.Clone()
	if unclaimed {
		return out
	}
	total := new(big.Float).SetInt(StaticReward(height, genesisTokens))
	for _, t := range txs {
		total.Add(total, new(big.Float).SetInt(t.Reward()))
	}
	truncated, _ := total.Int(nil)
	out.Credit(rewardAddr, truncated)
	return out
}

func truncToBigInt(f float64) *big.Int {
	bf := big.NewFloat(f)
	i, _ := bf.Int(nil)
	return i
}
