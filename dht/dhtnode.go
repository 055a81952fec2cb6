package dht

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/kadnet/kadnet/crypto"
	"github.com/kadnet/kadnet/transport"
	"github.com/sirupsen/logrus"
)

// splitListenPort extracts the numeric port from a "host:port" listen
// address.
func splitListenPort(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, fmt.Errorf("parse listen address %q: %w", addr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("parse listen port %q: %w", portStr, err)
	}
	return host, port, nil
}

// Config configures a DhtNode at construction.
type Config struct {
	// ListenAddress is the "host:port" to bind, e.g. "0.0.0.0:9999".
	ListenAddress string

	// Store is the value-store collaborator for store/find_value. Callers
	// typically pass store.NewMemory(); a nil Store is a configuration
	// error since dht cannot construct one without importing its consumer.
	Store ValueStore

	// EnableEncryption negotiates a Noise-secured SecureConn on every
	// connection before any DHT message is exchanged. Off by default.
	EnableEncryption bool

	// StaticPrivateKey is the Noise static private key used when
	// EnableEncryption is set. A random key pair is generated if nil.
	StaticPrivateKey []byte

	// Maintenance controls the refresh/reconnect loop timings. Zero value
	// uses DefaultMaintenanceConfig.
	Maintenance MaintenanceConfig
}

// DhtNode is the process root: it owns the local identity, the shared
// routing tree, the listening socket, and the maintenance loops that keep
// the routing table healthy.
type DhtNode struct {
	selfKey    Key
	self       *Node
	listenPort int

	tree  *BucketTree
	store ValueStore

	enableEncryption bool
	staticPrivKey    []byte

	listener   *transport.Listener
	maintainer *Maintainer

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*PeerSession

	logger *logrus.Entry
}

// NewDhtNode generates a local identity, binds the listen address, and
// starts the accept loop and maintenance tasks. The returned node is ready
// to serve; call Bootstrap to join an existing network.
func NewDhtNode(cfg Config) (*DhtNode, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("dht: Config.Store must not be nil")
	}

	_, port, err := splitListenPort(cfg.ListenAddress)
	if err != nil {
		return nil, err
	}

	selfKey, err := NewRandomKey()
	if err != nil {
		return nil, fmt.Errorf("generate self key: %w", err)
	}
	self := NewSelfNode(selfKey, port)
	tree := NewBucketTree(self)

	staticPrivKey := cfg.StaticPrivateKey
	if cfg.EnableEncryption && staticPrivKey == nil {
		kp, err := crypto.GenerateKeyPair()
		if err != nil {
			return nil, fmt.Errorf("generate static key pair: %w", err)
		}
		staticPrivKey = kp.Private[:]
	}

	listener, err := transport.Listen(cfg.ListenAddress)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	n := &DhtNode{
		selfKey:          selfKey,
		self:             self,
		listenPort:       port,
		tree:             tree,
		store:            cfg.Store,
		enableEncryption: cfg.EnableEncryption,
		staticPrivKey:    staticPrivKey,
		listener:         listener,
		ctx:              ctx,
		cancel:           cancel,
		sessions:         make(map[string]*PeerSession),
		logger: logrus.WithFields(logrus.Fields{
			"component": "dht.DhtNode",
			"self_key":  selfKey.String(),
		}),
	}

	n.maintainer = NewMaintainer(tree, n, cfg.Maintenance)

	go listener.Serve(n.handleInbound)
	n.maintainer.Start()

	n.logger.WithFields(logrus.Fields{"listen_addr": listener.Addr().String()}).Info("dht node started")
	return n, nil
}

// SelfKey returns the local peer's identifier.
func (n *DhtNode) SelfKey() Key {
	return n.selfKey
}

// Tree exposes the routing tree, mainly for diagnostics and tests.
func (n *DhtNode) Tree() *BucketTree {
	return n.tree
}

// Bootstrap dials a known peer and issues one find_node(selfKey) round once
// the identify handshake completes, seeding the routing table.
func (n *DhtNode) Bootstrap(ctx context.Context, addr string) error {
	session, err := n.dialConn(ctx, addr, nil)
	if err != nil {
		return fmt.Errorf("bootstrap dial %s: %w", addr, err)
	}

	if _, err := session.FindNode(ctx, n.selfKey); err != nil {
		return fmt.Errorf("bootstrap find_node: %w", err)
	}
	return nil
}

// DialNode implements Dialer for the maintenance reconnect loop: it opens a
// session to an already-known node whose session has dropped.
func (n *DhtNode) DialNode(ctx context.Context, node *Node) error {
	_, err := n.dialConn(ctx, node.IPPort(), node)
	return err
}

func (n *DhtNode) dialConn(ctx context.Context, addr string, knownNode *Node) (*PeerSession, error) {
	var conn Conn
	if n.enableEncryption {
		sc, err := transport.DialSecure(ctx, addr, n.staticPrivKey, nil)
		if err != nil {
			return nil, fmt.Errorf("secure dial: %w", err)
		}
		conn = sc
	} else {
		fc, err := transport.Dial(ctx, addr)
		if err != nil {
			return nil, fmt.Errorf("dial: %w", err)
		}
		conn = fc
	}

	session := NewPeerSession(conn, n.selfKey, n.listenPort, n.tree, n.store)
	requestKey := knownNode == nil
	if knownNode != nil {
		session.node.Store(knownNode)
		knownNode.SetSession(session)
	}

	n.registerSession(session)
	go func() {
		session.Run(n.ctx)
		n.unregisterSession(session)
	}()

	if err := session.Identify(ctx, requestKey); err != nil {
		session.Close()
		return nil, fmt.Errorf("identify: %w", err)
	}
	return session, nil
}

func (n *DhtNode) handleInbound(conn *transport.FramedConn) {
	var c Conn = conn
	if n.enableEncryption {
		sc, err := transport.AcceptSecure(conn, n.staticPrivKey)
		if err != nil {
			n.logger.WithFields(logrus.Fields{"error": err.Error()}).Warn("secure handshake failed")
			conn.Close()
			return
		}
		c = sc
	}

	session := NewPeerSession(c, n.selfKey, n.listenPort, n.tree, n.store)
	n.registerSession(session)
	session.Run(n.ctx)
	n.unregisterSession(session)
}

func (n *DhtNode) registerSession(s *PeerSession) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sessions[s.correlationID] = s
}

func (n *DhtNode) unregisterSession(s *PeerSession) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.sessions, s.correlationID)
}

// Close stops the maintenance loops, the listener, and every open session.
func (n *DhtNode) Close() error {
	n.cancel()
	n.maintainer.Stop()
	err := n.listener.Close()

	n.mu.Lock()
	sessions := make([]*PeerSession, 0, len(n.sessions))
	for _, s := range n.sessions {
		sessions = append(sessions, s)
	}
	n.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	return err
}
