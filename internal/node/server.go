package node

import (
	"context"
	"math/big"

	"github.com/sirupsen/logrus"

	"github.com/weavenet/weave-node/internal/block"
	"github.com/weavenet/weave-node/internal/config"
	"github.com/weavenet/weave-node/internal/forkrecovery"
	"github.com/weavenet/weave-node/internal/gossip"
	"github.com/weavenet/weave-node/internal/hashing"
	"github.com/weavenet/weave-node/internal/join"
	"github.com/weavenet/weave-node/internal/ledger"
	"github.com/weavenet/weave-node/internal/miner"
	"github.com/weavenet/weave-node/internal/peerclient"
	"github.com/weavenet/weave-node/internal/retarget"
	"github.com/weavenet/weave-node/internal/store"
	"github.com/weavenet/weave-node/internal/tx"
	"github.com/weavenet/weave-node/internal/validate"
)

// maxRecallRetries bounds how many times mining restarts the nonce search
// after a candidate's winning hash failed recall-index consistency (see
// the miningCycle note on onWorkComplete) before giving up and logging an
// error.
// Expected attempts scale with chain height, not difficulty, so this is
// generous for any height this simulation is likely to reach.
const maxRecallRetries = 2000

// Server is the Node Server actor (§4.7, §5): the only goroutine that ever
// touches hashList/walletList/mempool/tip directly. Every other actor
// (Miner, Fork Recovery, Join) talks to it exclusively through channels.
type Server struct {
	log    logrus.FieldLogger
	self   peerclient.Peer
	store  store.BlockStore
	bus    gossip.Bus
	client peerclient.Client
	peers  *gossip.PeerRegistry
	cfg    config.NodeConfig

	vparams validate.Params
	frp     forkrecovery.Params

	rewardAddr hashing.Hash
	unclaimed  bool

	inbox chan message

	minerResults    chan miner.WorkComplete
	recoveryResults chan forkrecovery.Result
	joinResults     chan joinOutcome

	// actor-private state: read and written only inside Run's goroutine.
	joined     bool
	genesis    *block.Block
	tip        *block.Block
	hashList   []hashing.Hash
	walletList *ledger.WalletList
	mempool    map[hashing.Hash]*tx.Transaction

	curMiner       *miner.Miner
	minerRecall    *block.Block
	recallAttempts int

	curRecovery *forkrecovery.Worker
	recoveryCancel context.CancelFunc
	joinCancel     context.CancelFunc
}

type joinOutcome struct {
	tip  *block.Block
	peer peerclient.Peer
	err  error
}

// New builds a Server from its collaborators. genesis is the network's
// fixed height-0 block, always known up front (out-of-band network
// bootstrap, not itself subject to fork recovery).
func New(log logrus.FieldLogger, self peerclient.Peer, st store.BlockStore, bus gossip.Bus, client peerclient.Client, peers *gossip.PeerRegistry, cfg config.NodeConfig, genesis *block.Block, rewardAddr hashing.Hash, unclaimed bool) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{
		log:        log.WithField("component", "node").WithField("self", self.Addr),
		self:       self,
		store:      st,
		bus:        bus,
		client:     client,
		peers:      peers,
		cfg:        cfg,
		vparams:    cfg.ValidateParams(),
		rewardAddr: rewardAddr,
		unclaimed:  unclaimed,
		inbox:      make(chan message, 256),

		minerResults:    make(chan miner.WorkComplete, 1),
		recoveryResults: make(chan forkrecovery.Result, 1),
		joinResults:     make(chan joinOutcome, 1),

		mempool: make(map[hashing.Hash]*tx.Transaction),
	}
	s.frp = forkrecovery.Params{
		Validate:                 s.vparams,
		NetTimeout:               cfg.NetTimeout(),
		RetryBudget:              cfg.RetryBudget,
		StoreBlocksBehindCurrent: cfg.StoreBlocksBehindCurrent,
	}
	if genesis != nil {
		s.genesis = genesis
		s.joined = true
		s.tip = genesis
		s.walletList = genesis.WalletList()
		s.hashList = block.ChainList(genesis)
		_ = st.PutBlock(genesis)
	}
	return s
}

// Submit enqueues a fire-and-forget message (new_block, add_tx, mine).
func (s *Server) Submit(ctx context.Context, msg message) error {
	select {
	case s.inbox <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// GetInfo answers the {get_info} query (§3.1).
func (s *Server) GetInfo(ctx context.Context) (Info, error) {
	reply := make(chan Info, 1)
	if err := s.Submit(ctx, message{kind: kindGetInfo, replyInfo: reply}); err != nil {
		return Info{}, err
	}
	select {
	case info := <-reply:
		return info, nil
	case <-ctx.Done():
		return Info{}, ctx.Err()
	}
}

// EstimateReward answers the {estimate_reward, size, diff} query (§3.1),
// exposing min_cost (§4.1) to callers before they sign a transaction.
func (s *Server) EstimateReward(ctx context.Context, size int, diff uint64) (*big.Int, error) {
	reply := make(chan *big.Int, 1)
	if err := s.Submit(ctx, message{kind: kindEstimateReward, size: size, diff: diff, replyEstimate: reply}); err != nil {
		return nil, err
	}
	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetPeers answers the {get_peers} query (§6).
func (s *Server) GetPeers(ctx context.Context) ([]peerclient.Peer, error) {
	reply := make(chan []peerclient.Peer, 1)
	if err := s.Submit(ctx, message{kind: kindGetPeers, replyPeers: reply}); err != nil {
		return nil, err
	}
	select {
	case p := <-reply:
		return p, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Run is the Server's event loop: one message processed at a time, from
// whichever source (§5, "processes one message at a time from its inbox").
func (s *Server) Run(ctx context.Context) {
	sub := s.bus.Subscribe(s.self)
	for {
		select {
		case <-ctx.Done():
			if s.recoveryCancel != nil {
				s.recoveryCancel()
			}
			if s.joinCancel != nil {
				s.joinCancel()
			}
			return
		case gm := <-sub:
			s.onGossip(ctx, gm)
		case msg := <-s.inbox:
			s.handle(ctx, msg)
		case wc := <-s.minerResults:
			s.onWorkComplete(ctx, wc)
		case res := <-s.recoveryResults:
			s.onRecoveryResult(ctx, res)
		case jo := <-s.joinResults:
			s.onJoinResult(ctx, jo)
		}
	}
}

func (s *Server) onGossip(ctx context.Context, gm gossip.Message) {
	switch gm.Kind {
	case gossip.KindNewBlock:
		s.onNewBlock(ctx, gm.From, gm.Block, gm.Recall)
	case gossip.KindAddTx:
		s.onAddTx(ctx, gm.Tx, false)
	}
}

func (s *Server) handle(ctx context.Context, msg message) {
	switch msg.kind {
	case kindNewBlock:
		s.onNewBlock(ctx, msg.from, msg.block, msg.recall)
	case kindAddTx:
		s.onAddTx(ctx, msg.tx, true)
	case kindMine:
		s.startMining(ctx)
	case kindGetInfo:
		msg.replyInfo <- s.info()
	case kindEstimateReward:
		msg.replyEstimate <- tx.MinCost(msg.size, msg.diff, s.cfg.DiffCenter, s.vparams.CostPerByte)
	case kindGetPeers:
		msg.replyPeers <- s.peers.Peers()
	}
}

func (s *Server) info() Info {
	info := Info{Joined: s.joined, NumPeers: len(s.peers.Peers())}
	if s.joined {
		info.Height = s.tip.Height
		info.TipHash = s.tip.IndepHash
		info.WeaveSize = new(big.Int).Set(s.tip.WeaveSize)
	}
	return info
}

// onAddTx implements §4.7's {add_tx} handling: append to mempool if new and
// not already on chain, then notify the miner so it can fold it into its
// next attempt. When local is true the tx arrived via a direct Submit (a
// client talking to this node) rather than over gossip, so this node is
// the one responsible for fanning it out to peers; a tx received over
// gossip is not relayed further (§5: the bus is a direct publish-to-all
// from the originator, not a flood).
func (s *Server) onAddTx(ctx context.Context, t *tx.Transaction, local bool) {
	if t == nil {
		return
	}
	id := t.ID()
	if _, ok := s.mempool[id]; ok {
		return
	}
	if _, err := s.store.GetTx(id); err == nil {
		return // already confirmed on chain
	}
	if err := tx.Validate(t, s.currentDiff(), s.cfg.DiffCenter, s.vparams.CostPerByte, s.walletList); err != nil {
		s.log.WithError(err).WithField("tx", id.String()).Debug("rejecting tx from mempool")
		return
	}
	s.mempool[id] = t
	if s.curMiner != nil {
		s.restartMiningAttempt(context.Background())
	}
	if local {
		s.gossipAddTx(ctx, t)
	}
}

// gossipAddTx fans t out to every peer that has not already been sent it,
// recording each send so a later call (or an overlapping fan-out path)
// never resends the same tx to the same peer twice (§2, "exactly-once-per-
// peer").
func (s *Server) gossipAddTx(ctx context.Context, t *tx.Transaction) {
	id := t.ID()
	msg := gossip.AddTxMessage(s.self, t)
	for _, p := range s.peers.FanOutPeers() {
		if s.peers.KnowsTx(p, id) {
			continue
		}
		s.bus.Publish(ctx, p, msg)
		s.peers.MarkTx(p, id)
	}
}

// onNewBlock implements the block-acceptance state machine (§4.7).
func (s *Server) onNewBlock(ctx context.Context, from peerclient.Peer, b, recall *block.Block) {
	if b == nil {
		return
	}
	if !s.joined {
		s.ensureJoining(ctx, append(s.peers.FanOutPeers(), from))
		return
	}

	hOwn := s.tip.Height
	switch {
	case b.Height <= hOwn:
		return // stale
	case b.Height == hOwn+1:
		if recall != nil {
			if err := validate.Block(b, s.tip, recall, s.vparams); err == nil {
				s.integrate(ctx, b)
				s.gossipNewBlock(ctx, b, recall)
				return
			} else {
				s.log.WithError(err).Warn("new_block failed validation against our tip")
			}
		}
		s.spawnOrExtendRecovery(ctx, from, b)
	default:
		s.spawnOrExtendRecovery(ctx, from, b)
	}
}

func (s *Server) spawnOrExtendRecovery(ctx context.Context, from peerclient.Peer, target *block.Block) {
	if s.curRecovery != nil {
		s.curRecovery.UpdateTarget(forkrecovery.UpdateTarget{Block: target, Peer: from})
		return
	}
	peers := append(append([]peerclient.Peer{}, s.peers.FanOutPeers()...), from)
	wCtx, cancel := context.WithCancel(ctx)
	s.recoveryCancel = cancel
	w := forkrecovery.Start(wCtx, s.log, peers, target, s.tip, s.client, s.store, s.frp)
	s.curRecovery = w
	go s.forwardRecovery(w)
}

func (s *Server) forwardRecovery(w *forkrecovery.Worker) {
	res, ok := <-w.Results()
	if !ok {
		return
	}
	select {
	case s.recoveryResults <- res:
	default:
	}
}

func (s *Server) onRecoveryResult(ctx context.Context, res forkrecovery.Result) {
	s.curRecovery = nil
	if res.Err != nil {
		s.log.WithError(res.Err).WithField("kind", res.Kind.String()).Warn("fork recovery failed")
		if res.Kind == forkrecovery.FailGenesis {
			s.rejoin()
		}
		return
	}
	if res.Height > s.tip.Height {
		tip, err := s.store.GetBlock(chainTipHash(res.HashList))
		if err != nil {
			s.log.WithError(err).Error("recovered tip missing from store")
			return
		}
		s.adopt(tip)
	}
}

func chainTipHash(hashList []hashing.Hash) hashing.Hash {
	if len(hashList) == 0 {
		return hashing.Hash{}
	}
	return hashList[0]
}

// adopt replaces the Server's chain wholesale with a recovered tip (§4.9,
// "the parent adopts it only if strictly longer than its own").
func (s *Server) adopt(tip *block.Block) {
	s.tip = tip
	s.hashList = block.ChainList(tip)
	s.walletList = tip.WalletList()
	s.pruneInvalidMempool()
	s.restartAutomine(context.Background())
}

// rejoin clears chain state, returning the node to not-joined (§7, "state
// cleared, node returns to not-joined").
func (s *Server) rejoin() {
	s.joined = false
	s.tip = nil
	s.hashList = nil
	s.walletList = nil
}

func (s *Server) ensureJoining(ctx context.Context, peers []peerclient.Peer) {
	if s.joinCancel != nil {
		return
	}
	jCtx, cancel := context.WithCancel(ctx)
	s.joinCancel = cancel
	go func() {
		tip, peer, err := join.Poll(jCtx, s.log, peers, s.client, s.cfg.RejoinTimeout())
		select {
		case s.joinResults <- joinOutcome{tip: tip, peer: peer, err: err}:
		case <-jCtx.Done():
		}
	}()
}

func (s *Server) onJoinResult(ctx context.Context, jo joinOutcome) {
	s.joinCancel = nil
	if jo.err != nil {
		s.log.WithError(jo.err).Debug("join: poll attempt failed")
		return
	}
	if jo.tip.Height == 0 {
		s.joined = true
		s.tip = jo.tip
		s.genesis = jo.tip
		s.hashList = nil
		s.walletList = jo.tip.WalletList()
		_ = s.store.PutBlock(jo.tip)
		return
	}
	genesisHash := jo.tip.HashList[len(jo.tip.HashList)-1]
	genesis, err := s.client.GetFullBlock(ctx, jo.peer, genesisHash)
	if err != nil {
		s.log.WithError(err).Error("join: failed to fetch genesis ancestor")
		return
	}
	_ = s.store.PutBlock(genesis)
	_ = s.store.PutTxs(genesis.Txs)

	s.joined = true
	s.genesis = genesis
	s.tip = genesis
	s.hashList = nil
	s.walletList = genesis.WalletList()

	s.spawnOrExtendRecovery(ctx, jo.peer, jo.tip)
}

// integrate implements §4.8: persist B, extend hash_list/wallet_list/height,
// drop B's txs from the mempool, restart mining if automine is set.
func (s *Server) integrate(ctx context.Context, b *block.Block) {
	_ = s.store.PutBlock(b)
	_ = s.store.PutTxs(b.Txs)

	s.tip = b
	s.hashList = block.ChainList(b)
	s.walletList = b.WalletList()

	for _, t := range b.Txs {
		delete(s.mempool, t.ID())
	}
	s.pruneInvalidMempool()
	s.restartAutomine(ctx)
}

// pruneInvalidMempool drops any mempool tx that no longer verifies against
// the current wallet list and difficulty (§8: "For every tx in mempool: tx
// verifies under current wallet_list and current diff"), e.g. because a
// competing tx from the same sender/last_tx was just accepted.
func (s *Server) pruneInvalidMempool() {
	diff := s.currentDiff()
	for id, t := range s.mempool {
		if err := tx.Validate(t, diff, s.cfg.DiffCenter, s.vparams.CostPerByte, s.walletList); err != nil {
			delete(s.mempool, id)
		}
	}
}

func (s *Server) currentDiff() uint64 {
	if s.tip == nil {
		return s.cfg.InitialDiff
	}
	return s.tip.Diff
}

func (s *Server) gossipNewBlock(ctx context.Context, b, recall *block.Block) {
	msg := gossip.NewBlockMessage(s.self, b, recall)
	h := b.IndepHash
	for _, p := range s.peers.FanOutPeers() {
		if s.peers.KnowsBlock(p, h) {
			continue
		}
		s.bus.Publish(ctx, p, msg)
		s.peers.MarkBlock(p, h)
	}
}

// restartAutomine (re)starts the miner over the current mempool if
// automine is enabled (§4.8).
func (s *Server) restartAutomine(ctx context.Context) {
	if !s.cfg.Automine {
		return
	}
	s.startMining(ctx)
}

// startMining begins (or restarts) a mining attempt over the current
// mempool (§4.7's {mine} message).
func (s *Server) startMining(ctx context.Context) {
	if s.curMiner != nil {
		s.curMiner.Stop()
	}
	s.minerRecall = s.genesis // see miningCycle doc: genesis is always used
	// as the proposed recall block; recall-index consistency is resolved
	// by retrying the nonce search, not by trying other candidates.
	s.recallAttempts = 0
	s.curMiner = miner.New(s.log, s.cfg.MiningDelay(), s.minerResults)
	s.curMiner.Start(s.buildMinerInput())
}

func (s *Server) restartMiningAttempt(ctx context.Context) {
	if s.curMiner == nil {
		return
	}
	s.curMiner.ChangeData(s.buildMinerInput())
}

func (s *Server) buildMinerInput() miner.Input {
	txs := make([]*tx.Transaction, 0, len(s.mempool))
	for _, t := range s.mempool {
		txs = append(txs, t)
	}
	diff, _ := s.nextDifficulty()
	seg := block.DataSegment(txs, s.minerRecall, s.rewardAddrOrUnclaimed())
	return miner.Input{PrevHash: s.tip.Hash, Diff: diff, DataSegment: seg, Txs: txs}
}

func (s *Server) rewardAddrOrUnclaimed() hashing.Hash {
	if s.unclaimed {
		return block.Unclaimed
	}
	return s.rewardAddr
}

// nextDifficulty computes the candidate block's diff and last_retarget
// per §4.10/§4.6 item 6, given the current tip.
func (s *Server) nextDifficulty() (diff uint64, lastRetarget int64) {
	candidateHeight := s.tip.Height + 1
	if retarget.IsRetargetHeight(candidateHeight, s.cfg.RetargetBlocks) {
		elapsed := block.Now() - s.tip.LastRetarget
		return retarget.Next(s.tip.Diff, elapsed, s.cfg.RetargetBlocks, s.cfg.TargetSecondsPerBlock), block.Now()
	}
	return s.tip.Diff, s.tip.LastRetarget
}

// onWorkComplete implements §4.7's work_complete handling: assemble a
// candidate via weave_add, validate it locally, and either integrate +
// gossip it or discard it.
//
// miningCycle: the miner only searches for a nonce satisfying the PoW
// predicate (§4.5); it knows nothing about recall-index consistency
// (§4.3), which is only checkable after the candidate's own independent
// hash is known. Rather than coupling the miner to hash-list bookkeeping,
// the Server always proposes genesis as the candidate recall block and,
// if the resulting hash's recall index doesn't happen to select genesis's
// position in the candidate's hash list, simply restarts the nonce search
// (bounded by maxRecallRetries) — the same fixed-recall, retried-nonce
// strategy this repo's fork-recovery tests use to construct a valid chain.
func (s *Server) onWorkComplete(ctx context.Context, wc miner.WorkComplete) {
	if s.tip == nil || wc.PrevHash != s.tip.Hash {
		return // stale completion from a since-superseded mining attempt
	}

	_, lastRetarget := s.nextDifficulty()
	afterTxs := ledger.ApplyTxs(s.tip.WalletList(), toTxEffects(wc.Txs))
	afterReward := ledger.ApplyMiningReward(afterTxs, s.rewardAddrOrUnclaimed(), s.unclaimed, toTxEffects(wc.Txs), s.tip.Height+1, s.vparams.GenesisTokens)

	candidate := block.WeaveAdd(s.tip, wc.Txs, afterReward, wc.Hash, wc.Nonce, s.rewardAddrOrUnclaimed(), s.unclaimed, wc.Diff, lastRetarget, block.Now())

	if !block.VerifyIndep(s.minerRecall, candidate.IndepHash, candidate.Height, candidate.HashList) {
		s.recallAttempts++
		if s.recallAttempts > maxRecallRetries {
			s.log.Error("mining: exceeded recall-consistency retry budget")
			return
		}
		// The miner that reported wc has already exited, so a fresh one
		// takes over the search.
		s.curMiner = miner.New(s.log, s.cfg.MiningDelay(), s.minerResults)
		s.curMiner.Start(s.buildMinerInput())
		return
	}

	if err := validate.Block(candidate, s.tip, s.minerRecall, s.vparams); err != nil {
		s.log.WithError(err).Error("mining: self-mined block failed validation")
		return
	}

	s.integrate(ctx, candidate)
	s.gossipNewBlock(ctx, candidate, s.minerRecall)
}

func toTxEffects(txs []*tx.Transaction) []ledger.TxEffect {
	out := make([]ledger.TxEffect, 0, len(txs))
	for _, t := range txs {
		out = append(out, t)
	}
	return out
}
