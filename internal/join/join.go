// Package join implements the bootstrap variant of fork recovery (§4.9,
// Prep, and §2's component table): a node with no chain at all polls peers
// for their current tip, with back-off, until one responds, then hands the
// result off to internal/forkrecovery's common replay loop. It generalises
// the teacher's DiscoverPeers/connectToPeer retry loop (node.go) onto a
// request/reply poll instead of a connect-and-broadcast handshake, since
// real transport is out of scope (§1).
package join

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/weavenet/weave-node/internal/block"
	"github.com/weavenet/weave-node/internal/peerclient"
)

// ErrNoPeersResponded is returned at once when the peer list is empty, or
// once ctx is cancelled without any peer ever answering GetCurrentBlock.
var ErrNoPeersResponded = errors.New("join: no peer responded before context cancellation")

// Poll cycles through peers calling GetCurrentBlock, backing off by delay
// between full rounds, until one peer answers or ctx is cancelled (§4.9:
// "polls peers for the current tip (with back-off)"). It returns the first
// successful tip and the peer that supplied it.
func Poll(ctx context.Context, log logrus.FieldLogger, peers []peerclient.Peer, client peerclient.Client, delay time.Duration) (*block.Block, peerclient.Peer, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	log = log.WithField("component", "join")

	if len(peers) == 0 {
		return nil, peerclient.Peer{}, ErrNoPeersResponded
	}

	for {
		for _, p := range peers {
			b, err := client.GetCurrentBlock(ctx, p)
			if err == nil && b != nil {
				log.WithField("peer", p.Addr).WithField("height", b.Height).Info("join: acquired tip")
				return b, p, nil
			}
			if err != nil {
				log.WithField("peer", p.Addr).WithError(err).Debug("join: peer did not respond")
			}
			select {
			case <-ctx.Done():
				return nil, peerclient.Peer{}, ErrNoPeersResponded
			default:
			}
		}
		select {
		case <-ctx.Done():
			return nil, peerclient.Peer{}, ErrNoPeersResponded
		case <-time.After(delay):
		}
	}
}
