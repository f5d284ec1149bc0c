// Package tx implements transaction construction, canonical serialisation,
// pricing, and verification (§4.1). It is the generalisation of the teacher
// repo's transaction.go/crypto.go onto this spec's owner/target/data/tags
// transaction shape, which replaces the teacher's plain transfer-only,
// UTXO-backed transaction.
package tx

import (
	"math/big"

	"github.com/weavenet/weave-node/internal/hashing"
	"github.com/weavenet/weave-node/internal/wallet"
)

// Tag is one element of a transaction's ordered (name, value) tag sequence.
type Tag struct {
	Name  []byte
	Value []byte
}

// Transaction is the wire/ledger representation of a transfer or
// data-bearing transaction (§3). Field names are chosen to leave the
// ledger.TxEffect accessor names (ID, SenderAddress, HasTarget,
// TargetAddress, Quantity, Reward, LastTx) free for methods below.
type Transaction struct {
	TxID       hashing.Hash
	Owner      []byte // public key bytes; empty for a genesis/system tx
	TargetAddr hashing.Hash
	TargetSet  bool
	Amount     *big.Int
	Data       []byte
	RewardAmt  *big.Int
	PrevTx     hashing.Hash
	PrevTxSet  bool
	Tags       []Tag
	Signature  []byte
}

// Size caps, in bytes, per §3.
const (
	MaxIDSize         = 32
	MaxLastTxSize     = 32
	MaxOwnerSize      = 512
	MaxTagsSize       = 2048
	MaxTargetSize     = 32
	MaxQuantityDigits = 21
	MaxDataSize       = 6_000_000
	MaxSignatureSize  = 512
	MaxRewardDigits   = 21
)

// IsSystem reports whether this is a genesis/system transaction, which
// bypasses owner-signature and last_tx checks (§3, §4.1).
func (t *Transaction) IsSystem() bool {
	return len(t.Owner) == 0
}

// ID returns the transaction id, satisfying ledger.TxEffect.
func (t *Transaction) ID() hashing.Hash { return t.TxID }

// SenderAddress derives the sending wallet's address from Owner. The second
// return value is false for a system transaction, matching
// ledger.TxEffect's contract.
func (t *Transaction) SenderAddress() (hashing.Hash, bool) {
	if t.IsSystem() {
		return hashing.Hash{}, false
	}
	return wallet.Address(t.Owner), true
}

func (t *Transaction) HasTarget() bool             { return t.TargetSet }
func (t *Transaction) TargetAddress() hashing.Hash { return t.TargetAddr }
func (t *Transaction) Quantity() *big.Int          { return t.Amount }
func (t *Transaction) Reward() *big.Int            { return t.RewardAmt }
func (t *Transaction) LastTx() (hashing.Hash, bool) { return t.PrevTx, t.PrevTxSet }

// tagsBin concatenates name‖value for every tag, in order (§6).
func (t *Transaction) tagsBin() []byte {
	var out []byte
	for _, tg := range t.Tags {
		out = append(out, tg.Name...)
		out = append(out, tg.Value...)
	}
	return out
}

// SignatureSegment builds the canonical byte segment that is signed (§6);
// the transaction id is the hash of the resulting signature, not of this
// segment:
//
//	owner ‖ target ‖ data ‖ ascii(quantity) ‖ ascii(reward) ‖ last_tx ‖ tags_bin
func (t *Transaction) SignatureSegment() []byte {
	var out []byte
	out = append(out, t.Owner...)
	if t.TargetSet {
		out = append(out, t.TargetAddr[:]...)
	}
	out = append(out, t.Data...)
	out = append(out, []byte(t.Amount.String())...)
	out = append(out, []byte(t.RewardAmt.String())...)
	if t.PrevTxSet {
		out = append(out, t.PrevTx[:]...)
	}
	out = append(out, t.tagsBin()...)
	return out
}

// Sign signs t with w, setting Owner, Signature and TxID (§3: id = H(signature)).
func Sign(t *Transaction, w *wallet.Wallet) error {
	t.Owner = w.PublicKeyBytes()
	segment := t.SignatureSegment()
	sig, err := w.Sign(segment)
	if err != nil {
		return err
	}
	t.Signature = sig
	t.TxID = hashing.Sum(sig)
	return nil
}

// Verify checks t's signature against its Owner key and recomputes whether
// TxID matches H(signature) (§4.1 items 1-2). A system transaction has
// nothing to verify and always passes.
func Verify(t *Transaction) bool {
	if t.IsSystem() {
		return true
	}
	if !wallet.Verify(t.Owner, t.SignatureSegment(), t.Signature) {
		return false
	}
	return hashing.Sum(t.Signature) == t.TxID
}

// DataSize reports the size, in bytes, of the data field — the quantity
// that min_cost (§4.1) and weave_size (§9) are computed over.
func (t *Transaction) DataSize() int {
	return len(t.Data)
}
