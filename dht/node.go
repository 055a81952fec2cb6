package dht

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// TimeProvider supplies the current time, abstracted so tests can control
// liveness timestamps deterministically instead of sleeping.
type TimeProvider interface {
	Now() time.Time
}

// DefaultTimeProvider uses the real wall clock.
type DefaultTimeProvider struct{}

// Now returns time.Now().
func (DefaultTimeProvider) Now() time.Time { return time.Now() }

var defaultTimeProvider TimeProvider = DefaultTimeProvider{}

// SetDefaultTimeProvider overrides the package-wide time source. Intended for
// tests; production code should leave the default in place.
func SetDefaultTimeProvider(tp TimeProvider) {
	if tp == nil {
		tp = DefaultTimeProvider{}
	}
	defaultTimeProvider = tp
}

func getDefaultTimeProvider() TimeProvider {
	return defaultTimeProvider
}

// Session is the subset of a peer connection's RPC surface that a Node needs
// to reference back to. Node holds this interface rather than a concrete
// *PeerSession, so tests can attach a stand-in session.
type Session interface {
	// Close tears down the underlying connection.
	Close() error
	// SendFindNode issues a best-effort find_node request on this session.
	SendFindNode(target Key)
}

// Node is a record of a peer (or the local peer itself) known to the
// routing table: its identity, network address, and liveness bookkeeping.
type Node struct {
	mu sync.RWMutex

	key     Key
	address string
	port    int

	lastSeen time.Time
	isSelf   bool

	session Session

	tp TimeProvider
}

// NewNode creates a node record for a remote peer.
func NewNode(key Key, address string, port int) *Node {
	return NewNodeWithTimeProvider(key, address, port, getDefaultTimeProvider())
}

// NewNodeWithTimeProvider is NewNode with an injectable clock, for tests.
func NewNodeWithTimeProvider(key Key, address string, port int, tp TimeProvider) *Node {
	if tp == nil {
		tp = getDefaultTimeProvider()
	}
	return &Node{
		key:      key,
		address:  address,
		port:     port,
		lastSeen: tp.Now(),
		tp:       tp,
	}
}

// NewSelfNode creates the distinguished record representing the local peer.
func NewSelfNode(key Key, listenPort int) *Node {
	n := NewNode(key, "", listenPort)
	n.isSelf = true
	return n
}

// Key returns the node's identifier.
func (n *Node) Key() Key {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.key
}

// IsSelf reports whether this record represents the local peer.
func (n *Node) IsSelf() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.isSelf
}

// Address returns the peer's host.
func (n *Node) Address() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.address
}

// Port returns the peer's listen port (not necessarily the ephemeral source
// port of an inbound connection).
func (n *Node) Port() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.port
}

// IPPort renders the node's address and port as a dialable "host:port".
func (n *Node) IPPort() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return net.JoinHostPort(n.address, fmt.Sprintf("%d", n.port))
}

// LastSeen returns the last time this node's activity was observed.
func (n *Node) LastSeen() time.Time {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.lastSeen
}

// Touch updates the liveness timestamp to now, called whenever the node's
// session produces activity.
func (n *Node) Touch() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.lastSeen = n.tp.Now()
}

// Session returns the currently attached session, or nil if the node is not
// connected.
func (n *Node) Session() Session {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.session
}

// SetSession attaches or clears (via nil) the node's live session.
func (n *Node) SetSession(s Session) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.session = s
}

// Connected reports whether the node currently has a live session.
func (n *Node) Connected() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.session != nil
}
