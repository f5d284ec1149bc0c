package gossip

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/weavenet/weave-node/internal/peerclient"
)

// Bus is the publish/receive interface a Node Server gossips over.
type Bus interface {
	// Subscribe registers self to receive messages addressed to it.
	// Calling Subscribe twice for the same peer replaces the prior channel.
	Subscribe(self peerclient.Peer) <-chan Message
	// Publish delivers msg to to, best-effort (§5: "the gossip bus is
	// best-effort; messages from a single sender to a single receiver
	// preserve order").
	Publish(ctx context.Context, to peerclient.Peer, msg Message)
}

// LinkConfig configures one sender's simulated unreliability: messages it
// publishes are dropped with probability LossProbability and otherwise
// delayed by Delay before delivery.
type LinkConfig struct {
	LossProbability float64
	Delay           time.Duration
}

// SimBus is an in-process Bus with configurable per-peer loss/delay, used
// to drive the multi-node scenario tests in §8 without a real network
// (§4.11). It preserves per-sender delivery order by running each sender's
// deliveries through a dedicated goroutine/queue.
type SimBus struct {
	log *logrus.Logger
	rng *rand.Rand

	mu       sync.Mutex
	subs     map[string]chan Message
	linkCfgs map[string]LinkConfig // keyed by sender peer.ID.String()
	queues   map[string]chan func()
}

// NewSimBus returns an empty simulated bus.
func NewSimBus(log *logrus.Logger) *SimBus {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &SimBus{
		log:      log,
		rng:      rand.New(rand.NewSource(1)),
		subs:     make(map[string]chan Message),
		linkCfgs: make(map[string]LinkConfig),
		queues:   make(map[string]chan func()),
	}
}

// SetLinkConfig configures the simulated unreliability of messages
// published by sender.
func (b *SimBus) SetLinkConfig(sender peerclient.Peer, cfg LinkConfig) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.linkCfgs[sender.ID.String()] = cfg
}

func (b *SimBus) Subscribe(self peerclient.Peer) <-chan Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Message, 64)
	b.subs[self.ID.String()] = ch
	return ch
}

func (b *SimBus) senderQueue(sender peerclient.Peer) chan func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := sender.ID.String()
	q, ok := b.queues[key]
	if !ok {
		q = make(chan func(), 256)
		b.queues[key] = q
		go func() {
			for job := range q {
				job()
			}
		}()
	}
	return q
}

// Publish delivers msg to "to" as if published by msg.From, subject to
// msg.From's configured loss probability and delay. Delivery runs on a
// per-sender queue so order is preserved sender-to-receiver (§5).
func (b *SimBus) Publish(ctx context.Context, to peerclient.Peer, msg Message) {
	b.mu.Lock()
	cfg := b.linkCfgs[msg.From.ID.String()]
	b.mu.Unlock()

	q := b.senderQueue(msg.From)
	q <- func() {
		b.mu.Lock()
		roll := b.rng.Float64()
		b.mu.Unlock()
		if cfg.LossProbability > 0 && roll < cfg.LossProbability {
			b.log.WithField("to", to.Addr).Debug("gossip: simulated drop")
			return
		}
		if cfg.Delay > 0 {
			select {
			case <-time.After(cfg.Delay):
			case <-ctx.Done():
				return
			}
		}
		b.mu.Lock()
		ch, ok := b.subs[to.ID.String()]
		b.mu.Unlock()
		if !ok {
			return
		}
		select {
		case ch <- msg:
		case <-ctx.Done():
		}
	}
}

var _ Bus = (*SimBus)(nil)
