package dht

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Dialer opens an outbound session to a known-but-unconnected node. DhtNode
// implements this; Maintainer depends only on the interface so this package
// never imports the transport package directly.
type Dialer interface {
	DialNode(ctx context.Context, node *Node) error
}

// Maintainer runs the two background loops that keep a routing table
// healthy under churn: bucket refresh (probing the network so stale
// buckets stay populated) and reconnect (dialing known nodes that have no
// live session).
type Maintainer struct {
	tree   *BucketTree
	dialer Dialer
	config MaintenanceConfig
	logger *logrus.Entry

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewMaintainer builds a Maintainer for tree, dialing through dialer on the
// timings in config (zero fields fall back to DefaultMaintenanceConfig).
func NewMaintainer(tree *BucketTree, dialer Dialer, config MaintenanceConfig) *Maintainer {
	return &Maintainer{
		tree:   tree,
		dialer: dialer,
		config: config.withDefaults(),
		logger: logrus.WithFields(logrus.Fields{"component": "dht.Maintainer"}),
	}
}

// Start launches the refresh and reconnect loops. Calling Start while
// already running is a no-op.
func (m *Maintainer) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	m.wg.Add(2)
	go m.refreshLoop(ctx)
	go m.reconnectLoop(ctx)
}

// Stop cancels both loops and waits for them to exit.
func (m *Maintainer) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

func (m *Maintainer) refreshLoop(ctx context.Context) {
	defer m.wg.Done()

	wait := m.config.RefreshInitialWait
	for {
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}

		m.refreshOnce()

		wait *= 2
		if wait > m.config.RefreshMaxWait {
			wait = m.config.RefreshMaxWait
		}
	}
}

func (m *Maintainer) refreshOnce() {
	for _, target := range m.tree.RefreshTargets() {
		for _, n := range m.tree.FindNodes(target) {
			if sess := n.Session(); sess != nil {
				sess.SendFindNode(target)
			}
		}
	}
}

func (m *Maintainer) reconnectLoop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.DialInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		m.reconnectOnce(ctx)
	}
}

func (m *Maintainer) reconnectOnce(ctx context.Context) {
	for _, n := range m.tree.Unconnected() {
		go func(n *Node) {
			dialCtx, cancel := context.WithTimeout(ctx, defaultRequestTimeout)
			defer cancel()
			if err := m.dialer.DialNode(dialCtx, n); err != nil {
				m.logger.WithFields(logrus.Fields{
					"node":  n.Key().String(),
					"addr":  n.IPPort(),
					"error": err.Error(),
				}).Debug("reconnect attempt failed")
			}
		}(n)
	}
}
