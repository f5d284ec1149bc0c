package gossip

import (
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/weavenet/weave-node/internal/hashing"
	"github.com/weavenet/weave-node/internal/peerclient"
)

// MaxPeerFailures is the number of consecutive outbound-send failures after
// which a peer is demoted out of fan-out rounds (§4.11).
const MaxPeerFailures = 5

// maxKnownItems bounds each peer's known-block/known-tx sets, mirroring
// go-ethereum's eth/peer.go maxKnownBlocks/maxKnownTxs caps: once a set
// reaches this size, recording the next item silently drops an arbitrary
// existing one rather than growing forever.
const maxKnownItems = 1024

// peerRecord is the supplemented peer record from §3.1: (id, addr,
// last_seen, failures), plus the per-peer known-item sets that let
// fan-out gossip be exactly-once-per-peer (§2, Gossip Bus row).
type peerRecord struct {
	peer     peerclient.Peer
	lastSeen time.Time
	failures int

	knownBlocks mapset.Set[hashing.Hash]
	knownTxs    mapset.Set[hashing.Hash]
}

func newPeerRecord(p peerclient.Peer, now time.Time) *peerRecord {
	return &peerRecord{
		peer:        p,
		lastSeen:    now,
		knownBlocks: mapset.NewThreadUnsafeSet[hashing.Hash](),
		knownTxs:    mapset.NewThreadUnsafeSet[hashing.Hash](),
	}
}

// PeerRegistry tracks known peers for get_peers responses and gossip
// fan-out, demoting (not removing) a peer after MaxPeerFailures consecutive
// send failures: a demoted peer can still deliver new_block/add_tx inbound
// (§4.11).
type PeerRegistry struct {
	mu      sync.Mutex
	records map[string]*peerRecord // keyed by peer.ID.String()
}

// NewPeerRegistry returns an empty registry.
func NewPeerRegistry() *PeerRegistry {
	return &PeerRegistry{records: make(map[string]*peerRecord)}
}

// Add registers or refreshes a peer's last-seen time, resetting its
// failure count.
func (r *PeerRegistry) Add(p peerclient.Peer, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[p.ID.String()] = newPeerRecord(p, now)
}

// Touch updates a known peer's last-seen time without resetting failures.
func (r *PeerRegistry) Touch(p peerclient.Peer, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[p.ID.String()]; ok {
		rec.lastSeen = now
	}
}

// RecordFailure increments a peer's consecutive-failure count.
func (r *PeerRegistry) RecordFailure(p peerclient.Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[p.ID.String()]; ok {
		rec.failures++
	}
}

// RecordSuccess resets a peer's consecutive-failure count.
func (r *PeerRegistry) RecordSuccess(p peerclient.Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[p.ID.String()]; ok {
		rec.failures = 0
	}
}

// Peers returns every known peer, regardless of failure count (the
// get_peers RPC reply is not filtered by fan-out eligibility).
func (r *PeerRegistry) Peers() []peerclient.Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]peerclient.Peer, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec.peer)
	}
	return out
}

// FanOutPeers returns only peers eligible for outbound gossip: those with
// fewer than MaxPeerFailures consecutive failures.
func (r *PeerRegistry) FanOutPeers() []peerclient.Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]peerclient.Peer, 0, len(r.records))
	for _, rec := range r.records {
		if rec.failures < MaxPeerFailures {
			out = append(out, rec.peer)
		}
	}
	return out
}

// KnowsBlock reports whether p has already been sent (or has already sent
// us) the block with the given independent hash.
func (r *PeerRegistry) KnowsBlock(p peerclient.Peer, h hashing.Hash) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[p.ID.String()]
	if !ok {
		return false
	}
	return rec.knownBlocks.Contains(h)
}

// MarkBlock records that p now knows about the block with hash h, evicting
// an arbitrary entry first if the known-set is at capacity.
func (r *PeerRegistry) MarkBlock(p peerclient.Peer, h hashing.Hash) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[p.ID.String()]
	if !ok {
		return
	}
	for rec.knownBlocks.Cardinality() >= maxKnownItems {
		if _, ok := rec.knownBlocks.Pop(); !ok {
			break
		}
	}
	rec.knownBlocks.Add(h)
}

// KnowsTx reports whether p has already been sent (or has already sent us)
// the transaction with the given id.
func (r *PeerRegistry) KnowsTx(p peerclient.Peer, id hashing.Hash) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[p.ID.String()]
	if !ok {
		return false
	}
	return rec.knownTxs.Contains(id)
}

// MarkTx records that p now knows about the transaction with the given id.
func (r *PeerRegistry) MarkTx(p peerclient.Peer, id hashing.Hash) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[p.ID.String()]
	if !ok {
		return
	}
	for rec.knownTxs.Cardinality() >= maxKnownItems {
		if _, ok := rec.knownTxs.Pop(); !ok {
			break
		}
	}
	rec.knownTxs.Add(id)
}
