package tx

import (
	"math/big"

	"github.com/weavenet/weave-node/internal/hashing"
	"github.com/weavenet/weave-node/internal/ledger"
)

// Validate checks t against every clause of §4.1. wl is the wallet list the
// tx is proposed against; it is not mutated. A nil wl is treated as the
// empty wallet list, the one case where an absent sender wallet is valid.
func Validate(t *Transaction, diff, diffCenter uint64, costPerByte *big.Int, wl *ledger.WalletList) error {
	if t.Amount.Sign() < 0 {
		return ErrNegativeQuantity
	}
	if t.TargetSet {
		if sender, ok := t.SenderAddress(); ok && sender == t.TargetAddr {
			return ErrSelfTarget
		}
	}
	if len(t.Owner) > MaxOwnerSize || len(t.Signature) > MaxSignatureSize ||
		len(t.Data) > MaxDataSize || tagsSize(t.Tags) > MaxTagsSize {
		return ErrFieldTooLarge
	}
	if len(t.Amount.String()) > MaxQuantityDigits || len(t.RewardAmt.String()) > MaxRewardDigits {
		return ErrFieldTooLarge
	}
	if !wellFormedTags(t.Tags) {
		return ErrMalformedTags
	}

	min := MinCost(t.DataSize(), diff, diffCenter, costPerByte)
	if t.RewardAmt.Cmp(min) < 0 {
		return ErrRewardBelowMin
	}

	if !t.IsSystem() {
		sender, _ := t.SenderAddress()
		entry, known := walletEntry(wl, sender)
		emptyLedger := wl == nil || len(wl.Entries()) == 0
		if !known && !emptyLedger {
			return ErrLastTxMismatch
		}
		if known {
			wantLast, hasWantLast := t.LastTx()
			if entry.HasLastTx != hasWantLast || (hasWantLast && entry.LastTx != wantLast) {
				return ErrLastTxMismatch
			}
			debit := new(big.Int).Add(t.Amount, t.RewardAmt)
			if entry.Balance.Cmp(debit) < 0 {
				return ErrNegativeResultant
			}
		}
	}

	if t.TxID != hashing.Sum(t.Signature) {
		return ErrIDMismatch
	}
	if !Verify(t) {
		return ErrBadSignature
	}
	return nil
}

func walletEntry(wl *ledger.WalletList, addr hashing.Hash) (ledger.Entry, bool) {
	if wl == nil {
		return ledger.Entry{}, false
	}
	return wl.Get(addr)
}

func tagsSize(tags []Tag) int {
	n := 0
	for _, t := range tags {
		n += len(t.Name) + len(t.Value)
	}
	return n
}

func wellFormedTags(tags []Tag) bool {
	for _, t := range tags {
		if t.Name == nil || t.Value == nil {
			return false
		}
	}
	return true
}
