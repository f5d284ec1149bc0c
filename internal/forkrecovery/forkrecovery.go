// Package forkrecovery implements the fork-recovery worker (§4.9): given a
// target block T on a peer's branch and the node's own chain, it walks back
// to the point of divergence, replays forward block-by-block (re-running
// full §4.6 validation on each), and reports a new hash list to its parent.
// It generalises the teacher's handleResponseBlockchain (node.go), which
// wholesale-replaced the local chain with a longer valid one it received in
// full, into this spec's incremental divergence-and-replay protocol, which
// never needs a peer to hand over its entire chain at once.
package forkrecovery

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/weavenet/weave-node/internal/block"
	"github.com/weavenet/weave-node/internal/hashing"
	"github.com/weavenet/weave-node/internal/peerclient"
	"github.com/weavenet/weave-node/internal/store"
	"github.com/weavenet/weave-node/internal/validate"
)

// FailureKind classifies why a recovery attempt gave up (§4.9, "Failure
// modes"; §7).
type FailureKind int

const (
	FailNetwork FailureKind = iota
	FailMalformed
	FailTooFarBehind
	FailGenesis
)

func (k FailureKind) String() string {
	switch k {
	case FailNetwork:
		return "retrieval-failed"
	case FailMalformed:
		return "block-malformed"
	case FailTooFarBehind:
		return "too-far-behind"
	case FailGenesis:
		return "recovery-to-genesis"
	default:
		return "unknown"
	}
}

var (
	ErrNoPeers       = errors.New("forkrecovery: no peers available")
	ErrRetryExceeded = errors.New("forkrecovery: retry budget exceeded")
)

// Result is what a worker reports back to its parent once its schedule
// empties or it fails fatally (§4.9). The parent (internal/node) adopts
// HashList only if it is strictly longer than its own current chain.
type Result struct {
	HashList []hashing.Hash
	Height   uint64
	Kind     FailureKind
	Err      error
}

// UpdateTarget is the {update_target, B', peer'} message a worker may
// receive mid-recovery (§4.9, "Target update").
type UpdateTarget struct {
	Block *block.Block
	Peer  peerclient.Peer
}

// Params bundles the tunables a recovery attempt needs beyond block
// validation's own Params (§6, Config constants).
type Params struct {
	Validate                 validate.Params
	NetTimeout               time.Duration
	RetryBudget              int
	StoreBlocksBehindCurrent uint64
}

// Worker drives one recovery attempt in its own goroutine (§5: an
// independent actor communicating only by message).
type Worker struct {
	resultCh chan Result
	updateCh chan UpdateTarget
	cancel   context.CancelFunc
}

// Start launches a worker recovering towards target, given the node's own
// chain tip (ownTip; nil is not valid here — bootstrap-from-nothing is
// internal/join's job) and a peer set to draw blocks from.
func Start(parentCtx context.Context, log logrus.FieldLogger, peers []peerclient.Peer, target, ownTip *block.Block, client peerclient.Client, st store.BlockStore, params Params) *Worker {
	ctx, cancel := context.WithCancel(parentCtx)
	w := &Worker{
		resultCh: make(chan Result, 1),
		updateCh: make(chan UpdateTarget, 4),
		cancel:   cancel,
	}
	go func() {
		defer close(w.resultCh)
		res := run(ctx, log, peers, target, ownTip, client, st, params, w.updateCh)
		select {
		case w.resultCh <- res:
		case <-ctx.Done():
		}
	}()
	return w
}

// Results returns the channel the worker's single Result is delivered on.
func (w *Worker) Results() <-chan Result { return w.resultCh }

// UpdateTarget forwards a newly gossiped, possibly-longer target to the
// worker, best-effort (§4.9).
func (w *Worker) UpdateTarget(ut UpdateTarget) {
	select {
	case w.updateCh <- ut:
	default:
	}
}

// Cancel abandons the worker. Per §5 cancellation is implicit — the parent
// simply stops listening — but this also releases the worker's goroutine
// promptly instead of waiting for it to run its retry budget out.
func (w *Worker) Cancel() { w.cancel() }

func run(ctx context.Context, log logrus.FieldLogger, peers []peerclient.Peer, target, ownTip *block.Block, client peerclient.Client, st store.BlockStore, params Params, updateCh <-chan UpdateTarget) Result {
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("component", "forkrecovery")

	if len(peers) == 0 {
		return Result{Kind: FailNetwork, Err: ErrNoPeers}
	}

	ownFull := block.ChainList(ownTip)
	targetFull := block.ChainList(target)
	_, divergent := dropUntilDiverge(reverseHashes(targetFull), reverseHashes(ownFull))
	schedule := divergent // oldest-first; already ends in target.IndepHash

	if uint64(len(schedule)) > params.StoreBlocksBehindCurrent {
		log.WithField("depth", len(schedule)).Warn("fork recovery: target too far ahead")
		return Result{Kind: FailTooFarBehind, Err: errors.New("forkrecovery: divergence deeper than STORE_BLOCKS_BEHIND_CURRENT")}
	}

	prev := commonAncestor(ownFull, targetFull, ownTip, st)
	if prev == nil {
		return Result{Kind: FailMalformed, Err: errors.New("forkrecovery: cannot resolve common ancestor")}
	}

	for len(schedule) > 0 {
		select {
		case <-ctx.Done():
			return Result{Kind: FailNetwork, Err: ctx.Err()}
		case ut, ok := <-updateCh:
			if ok && onSameBranch(target, ut.Block) {
				schedule, target, peers = extendSchedule(schedule, target, ut.Block, ut.Peer, peers)
				log.WithField("new_height", ut.Block.Height).Info("fork recovery: target extended")
			}
		default:
		}

		nextHash := schedule[0]
		n, err := fetchBlock(ctx, log, st, client, peers, nextHash, params)
		if err != nil {
			return Result{Kind: FailNetwork, Err: err}
		}

		if n.Height == 0 {
			return Result{Kind: FailGenesis, Err: errors.New("forkrecovery: attempted to recover to genesis")}
		}
		if target.Height-n.Height > params.StoreBlocksBehindCurrent {
			return Result{Kind: FailTooFarBehind, Err: errors.New("forkrecovery: fell further behind than STORE_BLOCKS_BEHIND_CURRENT mid-recovery")}
		}

		recall, err := fetchRecall(ctx, log, st, client, peers, n, params)
		if err != nil {
			return Result{Kind: FailNetwork, Err: err}
		}

		if err := validate.Block(n, prev, recall, params.Validate); err != nil {
			log.WithError(err).WithField("height", n.Height).Warn("fork recovery: block failed validation")
			return Result{Kind: FailMalformed, Err: err}
		}

		if err := st.PutBlock(n); err != nil {
			return Result{Kind: FailNetwork, Err: err}
		}
		if err := st.PutTxs(n.Txs); err != nil {
			return Result{Kind: FailNetwork, Err: err}
		}
		if err := st.PutTxs(recall.Txs); err != nil {
			return Result{Kind: FailNetwork, Err: err}
		}

		prev = n
		schedule = schedule[1:]
	}

	return Result{HashList: block.ChainList(prev), Height: prev.Height}
}

// reverseHashes returns a new slice with hs in reverse order (newest-first
// -> oldest-first, or back).
func reverseHashes(hs []hashing.Hash) []hashing.Hash {
	out := make([]hashing.Hash, len(hs))
	for i, h := range hs {
		out[len(hs)-1-i] = h
	}
	return out
}

// dropUntilDiverge walks targetAnc and ownAnc (both oldest-first) while
// they agree, returning the shared prefix and the divergent suffix of
// targetAnc (§4.9).
func dropUntilDiverge(targetAnc, ownAnc []hashing.Hash) (commonPrefix, divergent []hashing.Hash) {
	n := len(targetAnc)
	if len(ownAnc) < n {
		n = len(ownAnc)
	}
	i := 0
	for i < n && targetAnc[i] == ownAnc[i] {
		i++
	}
	return targetAnc[:i], targetAnc[i:]
}

// commonAncestor resolves the block at the deepest shared ancestry point:
// our own tip if nothing diverged, one of our own already-accepted
// ancestors if some of our history is shared, or genesis (implicitly
// shared by every node on the network) if none of it is.
func commonAncestor(ownFull, targetFull []hashing.Hash, ownTip *block.Block, st store.BlockStore) *block.Block {
	commonPrefix, _ := dropUntilDiverge(reverseHashes(targetFull), reverseHashes(ownFull))
	if len(commonPrefix) == 0 {
		return genesisOf(ownTip, st)
	}
	deepest := commonPrefix[len(commonPrefix)-1]
	if deepest == ownTip.IndepHash {
		return ownTip
	}
	b, err := st.GetBlock(deepest)
	if err != nil {
		return nil
	}
	return b
}

// genesisOf walks ownTip's ancestry back to height 0 via the local store.
func genesisOf(tip *block.Block, st store.BlockStore) *block.Block {
	cur := tip
	for cur.Height > 0 {
		b, err := st.GetBlock(cur.PrevHash)
		if err != nil {
			return nil
		}
		cur = b
	}
	return cur
}

// onSameBranch reports whether currentTarget is an ancestor of (or equal
// to) candidate, the acceptance test for an {update_target} message (§4.9):
// currentTarget.indep_hash must appear in [candidate.indep_hash] union
// candidate.hash_list.
func onSameBranch(currentTarget, candidate *block.Block) bool {
	if currentTarget.IndepHash == candidate.IndepHash {
		return true
	}
	for _, h := range candidate.HashList {
		if h == currentTarget.IndepHash {
			return true
		}
	}
	return false
}

// extendSchedule appends the portion of newTarget's ancestry newer than the
// current target to schedule, and registers the peer that supplied it.
func extendSchedule(schedule []hashing.Hash, currentTarget, newTarget *block.Block, newPeer peerclient.Peer, peers []peerclient.Peer) ([]hashing.Hash, *block.Block, []peerclient.Peer) {
	full := append([]hashing.Hash{newTarget.IndepHash}, newTarget.HashList...)
	idx := -1
	for i, h := range full {
		if h == currentTarget.IndepHash {
			idx = i
			break
		}
	}
	if idx <= 0 {
		return schedule, newTarget, peers
	}
	additional := reverseHashes(full[:idx])
	schedule = append(schedule, additional...)
	peers = append(peers, newPeer)
	return schedule, newTarget, peers
}

func fetchBlock(ctx context.Context, log logrus.FieldLogger, st store.BlockStore, client peerclient.Client, peers []peerclient.Peer, hash hashing.Hash, params Params) (*block.Block, error) {
	if b, err := st.GetBlock(hash); err == nil {
		return b, nil
	}
	attempts := 0
	for {
		for _, p := range peers {
			cctx, cancel := context.WithTimeout(ctx, params.NetTimeout)
			b, err := client.GetFullBlock(cctx, p, hash)
			cancel()
			if err == nil && b != nil {
				return b, nil
			}
			attempts++
			log.WithField("peer", p.Addr).WithError(err).Debug("fork recovery: fetch failed")
			if attempts >= params.RetryBudget {
				return nil, ErrRetryExceeded
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
		}
	}
}

func fetchRecall(ctx context.Context, log logrus.FieldLogger, st store.BlockStore, client peerclient.Client, peers []peerclient.Peer, n *block.Block, params Params) (*block.Block, error) {
	pos := block.RecallPosition(n.IndepHash, n.Height)
	if int(pos) >= len(n.HashList) {
		return nil, errors.New("forkrecovery: recall index out of range")
	}
	return fetchBlock(ctx, log, st, client, peers, n.HashList[pos], params)
}
