// Package store defines the block/transaction persistence boundary
// (§6, "Persisted state layout") and a reference in-memory implementation.
// Production durability is out of scope (§1); this package exists so the
// Node Server, Fork Recovery, and Join workers can be written against an
// interface rather than a concrete store.
package store

import (
	"errors"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/weavenet/weave-node/internal/block"
	"github.com/weavenet/weave-node/internal/hashing"
	"github.com/weavenet/weave-node/internal/tx"
)

// ErrNotFound is returned by GetBlock/GetTx when the requested hash is
// absent.
var ErrNotFound = errors.New("store: not found")

// BlockStore persists blocks under their indep_hash and transactions under
// their id (§6). Every write is a create-once write: a block hash, once
// written, is never overwritten (§3, Lifecycle: "never rewritten").
type BlockStore interface {
	PutBlock(b *block.Block) error
	GetBlock(h hashing.Hash) (*block.Block, error)
	PutTxs(txs []*tx.Transaction) error
	GetTx(id hashing.Hash) (*tx.Transaction, error)
	HasBlock(h hashing.Hash) bool
}

// MemStore is a BlockStore backed by a sync.Map for the authoritative index
// plus a bounded LRU that pins only the KEEP_LAST_BLOCKS most recently
// written blocks hot; eviction from the LRU never deletes from the
// authoritative map, since the hash list — not the cache — is what makes a
// block reachable.
type MemStore struct {
	blocks sync.Map // hashing.Hash -> *block.Block
	txs    sync.Map // hashing.Hash -> *tx.Transaction

	mu  sync.Mutex
	hot *lru.Cache[hashing.Hash, *block.Block]
}

// NewMemStore builds a MemStore whose hot cache holds keepLastBlocks
// entries (the KEEP_LAST_BLOCKS config constant). A non-positive value
// disables the hot cache without affecting correctness, only recency.
func NewMemStore(keepLastBlocks int) *MemStore {
	ms := &MemStore{}
	if keepLastBlocks > 0 {
		c, err := lru.New[hashing.Hash, *block.Block](keepLastBlocks)
		if err == nil {
			ms.hot = c
		}
	}
	return ms
}

func (ms *MemStore) PutBlock(b *block.Block) error {
	actual, _ := ms.blocks.LoadOrStore(b.IndepHash, b)
	stored := actual.(*block.Block)
	ms.mu.Lock()
	if ms.hot != nil {
		ms.hot.Add(b.IndepHash, stored)
	}
	ms.mu.Unlock()
	return nil
}

func (ms *MemStore) GetBlock(h hashing.Hash) (*block.Block, error) {
	ms.mu.Lock()
	if ms.hot != nil {
		if b, ok := ms.hot.Get(h); ok {
			ms.mu.Unlock()
			return b, nil
		}
	}
	ms.mu.Unlock()

	v, ok := ms.blocks.Load(h)
	if !ok {
		return nil, ErrNotFound
	}
	return v.(*block.Block), nil
}

func (ms *MemStore) HasBlock(h hashing.Hash) bool {
	_, ok := ms.blocks.Load(h)
	return ok
}

func (ms *MemStore) PutTxs(txs []*tx.Transaction) error {
	for _, t := range txs {
		ms.txs.Store(t.ID(), t)
	}
	return nil
}

func (ms *MemStore) GetTx(id hashing.Hash) (*tx.Transaction, error) {
	v, ok := ms.txs.Load(id)
	if !ok {
		return nil, ErrNotFound
	}
	return v.(*tx.Transaction), nil
}

var _ BlockStore = (*MemStore)(nil)
