// Package wallet implements keypair generation and the sign/verify
// primitives that every transaction and block is built on. Addresses are
// derived from public keys the same way the teacher repo derives them from
// an ECDSA public key (crypto.go, wallet.go), but the curve now comes from
// the wider example pack's secp256k1 stack rather than stdlib P-256.
package wallet

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"

	"github.com/weavenet/weave-node/internal/hashing"
)

// Wallet holds a keypair. PrivateKey is nil for a wallet recovered only from
// a public key (e.g. a sender address resolved over the wire).
type Wallet struct {
	PrivateKey *btcec.PrivateKey
	PublicKey  *btcec.PublicKey
}

// Generate creates a fresh keypair.
func Generate() (*Wallet, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("wallet: generate key: %w", err)
	}
	return &Wallet{PrivateKey: priv, PublicKey: priv.PubKey()}, nil
}

// PublicKeyBytes returns the owner field as it should be carried on the wire
// and hashed to produce the wallet's address.
func (w *Wallet) PublicKeyBytes() []byte {
	return w.PublicKey.SerializeCompressed()
}

// Address derives a wallet's address: a hash of its owning public key.
func Address(pubKey []byte) hashing.Hash {
	return hashing.Sum(pubKey)
}

// Sign signs an arbitrary byte segment (the caller is responsible for
// building the canonical segment, e.g. a transaction's signature segment).
func (w *Wallet) Sign(segment []byte) ([]byte, error) {
	if w.PrivateKey == nil {
		return nil, errors.New("wallet: no private key available to sign")
	}
	digest := hashing.Sum(segment)
	sig := btcecdsa.Sign(w.PrivateKey, digest.Bytes())
	return sig.Serialize(), nil
}

// Verify checks a signature over segment against the owning public key's
// raw bytes (as carried in a transaction's owner field).
func Verify(pubKeyBytes, segment, signature []byte) bool {
	pub, err := btcec.ParsePubKey(pubKeyBytes)
	if err != nil {
		return false
	}
	sig, err := btcecdsa.ParseDERSignature(signature)
	if err != nil {
		return false
	}
	digest := hashing.Sum(segment)
	return sig.Verify(digest.Bytes(), pub)
}
