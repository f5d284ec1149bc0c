// Package miner implements the mining worker (§4.5): given a previous-block
// hash, a difficulty target, a data segment, and a candidate transaction
// set, it repeatedly samples nonces until the PoW predicate holds, then
// reports completion to its parent. It generalises the teacher's
// proof_of_work.go worker-pool search (itself bounded by a single
// Difficulty-leading-zero-hex-digits target) onto this spec's bit-granular
// leading-zero-bits predicate and recall-block-augmented data segment.
package miner

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/weavenet/weave-node/internal/hashing"
	"github.com/weavenet/weave-node/internal/pow"
	"github.com/weavenet/weave-node/internal/tx"
)

// NonceSize is the width, in bytes, of a sampled candidate nonce.
const NonceSize = 16

// Input is the (data-segment, tx-set) pair the miner searches over, plus the
// previous-block hash and difficulty it is bound to (§4.5).
type Input struct {
	PrevHash    hashing.Hash
	Diff        uint64
	DataSegment []byte
	Txs         []*tx.Transaction
}

// WorkComplete is the message emitted to the parent on success: {txs,
// H_prev, h, D, N} (§4.5).
type WorkComplete struct {
	Txs      []*tx.Transaction
	PrevHash hashing.Hash
	Hash     hashing.Hash
	Diff     uint64
	Nonce    []byte
}

// Miner is a single mining worker. It owns no state shared with its parent:
// all communication is by message (§5).
type Miner struct {
	log   logrus.FieldLogger
	delay time.Duration
	out   chan<- WorkComplete

	changeCh chan Input
	stopCh   chan struct{}
	stopOnce sync.Once
	doneCh   chan struct{}
}

// New builds a Miner that reports completed work onto out. delay is applied
// between nonce attempts (§4.5's mining delay), useful for simulation so a
// test doesn't spin a CPU core pinned at zero difficulty.
func New(log logrus.FieldLogger, delay time.Duration, out chan<- WorkComplete) *Miner {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Miner{
		log:      log.WithField("component", "miner"),
		delay:    delay,
		out:      out,
		changeCh: make(chan Input, 1),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start launches the search loop over input in its own goroutine.
func (m *Miner) Start(input Input) {
	go m.run(input)
}

// ChangeData swaps in a new (data-segment, tx-set) atomically between nonce
// attempts (§4.5). Non-blocking: if a change is already pending it is
// replaced rather than queued, since only the most recent candidate matters.
func (m *Miner) ChangeData(input Input) {
	for {
		select {
		case m.changeCh <- input:
			return
		default:
			select {
			case <-m.changeCh:
			default:
			}
		}
	}
}

// Stop cancels the search. Idempotent (§4.5): calling Stop twice, or after
// the miner has already finished, is a no-op.
func (m *Miner) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

// Done returns a channel closed once the worker's goroutine has exited,
// letting callers wait out a Stop without leaking a goroutine in tests.
func (m *Miner) Done() <-chan struct{} {
	return m.doneCh
}

func (m *Miner) run(input Input) {
	defer close(m.doneCh)
	cur := input

	for {
		// Suspension point: observe stop/change-data before sampling again
		// (§5, "every nonce attempt boundary").
		select {
		case <-m.stopCh:
			return
		case next := <-m.changeCh:
			cur = next
			continue
		default:
		}

		nonce, err := randomNonce()
		if err != nil {
			m.log.WithError(err).Error("failed to sample nonce")
			continue
		}
		h := pow.ComputeHash(cur.PrevHash[:], cur.DataSegment, nonce)
		if pow.Predicate(h, cur.Diff) {
			wc := WorkComplete{Txs: cur.Txs, PrevHash: cur.PrevHash, Hash: h, Diff: cur.Diff, Nonce: nonce}
			select {
			case m.out <- wc:
			case <-m.stopCh:
			}
			return
		}

		if m.delay > 0 {
			select {
			case <-time.After(m.delay):
			case <-m.stopCh:
				return
			}
		}
	}
}

func randomNonce() ([]byte, error) {
	n := make([]byte, NonceSize)
	_, err := rand.Read(n)
	return n, err
}
