package dht

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/kadnet/kadnet/limits"
	"github.com/sirupsen/logrus"
)

// Conn is the minimal connection surface a PeerSession needs: write one
// message, read one message, and tear the connection down. Both
// transport.FramedConn and transport.SecureConn satisfy it.
type Conn interface {
	WriteMessage([]byte) error
	ReadMessage() ([]byte, error)
	Close() error
	RemoteAddr() net.Addr
}

type pendingRequest struct {
	command string
	resultC chan pendingResult
}

type pendingResult struct {
	data json.RawMessage
	err  error
}

// PeerSession owns one connection to one remote peer and mediates every
// message sent or received over it: correlating responses to outstanding
// requests by ID, dispatching inbound commands to handlers, and feeding
// every learned peer identity back into the shared routing tree.
type PeerSession struct {
	selfKey    Key
	listenPort int
	tree       *BucketTree
	store      ValueStore

	conn Conn
	node atomic.Pointer[Node] // the remote peer, populated on identify

	nextID atomic.Uint64

	mu      sync.Mutex
	pending map[uint64]*pendingRequest

	correlationID string
	logger        *logrus.Entry
}

// NewPeerSession wraps conn in a PeerSession sharing the given routing tree
// and value store.
func NewPeerSession(conn Conn, selfKey Key, listenPort int, tree *BucketTree, store ValueStore) *PeerSession {
	corrID := uuid.NewString()
	return &PeerSession{
		selfKey:       selfKey,
		listenPort:    listenPort,
		tree:          tree,
		store:         store,
		conn:          conn,
		pending:       make(map[uint64]*pendingRequest),
		correlationID: corrID,
		logger: logrus.WithFields(logrus.Fields{
			"component":   "dht.PeerSession",
			"session":     corrID,
			"remote_addr": conn.RemoteAddr().String(),
		}),
	}
}

// Node returns the remote peer's node record, or nil before identify
// completes.
func (s *PeerSession) Node() *Node {
	return s.node.Load()
}

// Close tears down the underlying connection and fails every outstanding
// request.
func (s *PeerSession) Close() error {
	s.mu.Lock()
	for id, p := range s.pending {
		p.resultC <- pendingResult{err: fmt.Errorf("session closed")}
		delete(s.pending, id)
	}
	s.mu.Unlock()

	if n := s.node.Load(); n != nil {
		n.SetSession(nil)
	}
	return s.conn.Close()
}

// Run reads messages until the connection closes or ctx is cancelled,
// dispatching each to a request handler or a pending response. It is meant
// to be run in its own goroutine for the session's lifetime.
func (s *PeerSession) Run(ctx context.Context) {
	quit := make(chan struct{})
	defer close(quit)

	go func() {
		select {
		case <-ctx.Done():
			s.conn.Close()
		case <-quit:
		}
	}()

	for {
		raw, err := s.conn.ReadMessage()
		if err != nil {
			s.logger.WithFields(logrus.Fields{"error": err.Error()}).Debug("session read loop exiting")
			s.Close()
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.logger.WithFields(logrus.Fields{"error": err.Error()}).Warn("dropping malformed message")
			continue
		}

		if msg.IsRequest() {
			s.handleRequest(msg)
		} else {
			s.handleResponse(msg)
		}
	}
}

// --- outbound requests ---

func (s *PeerSession) send(msg Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	if err := limits.ValidateMessagePayload(raw); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return s.conn.WriteMessage(raw)
}

func (s *PeerSession) request(ctx context.Context, command string, payload interface{}) (json.RawMessage, error) {
	data, err := encodePayload(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", command, err)
	}

	id := s.nextID.Add(1) - 1
	pr := &pendingRequest{command: command, resultC: make(chan pendingResult, 1)}

	s.mu.Lock()
	s.pending[id] = pr
	s.mu.Unlock()

	if err := s.send(Message{ID: id, Command: command, Data: data}); err != nil {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return nil, fmt.Errorf("send %s: %w", command, err)
	}

	select {
	case res := <-pr.resultC:
		return res.data, res.err
	case <-ctx.Done():
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Identify sends an identify request. requestKey indicates we do not yet
// know the remote's key and want it returned in the response.
func (s *PeerSession) Identify(ctx context.Context, requestKey bool) error {
	_, err := s.request(ctx, CommandIdentify, IdentifyPayload{
		Key:        s.selfKey.String(),
		RequestKey: requestKey,
		ListenPort: s.listenPort,
	})
	return err
}

// FindNode asks the remote for the nodes it considers closest to target.
// The response's node list is merged into the shared routing tree as a
// side effect; callers that only want the maintenance effect can discard
// the returned error.
func (s *PeerSession) FindNode(ctx context.Context, target Key) ([]NodeTuple, error) {
	data, err := s.request(ctx, CommandFindNode, target.String())
	if err != nil {
		return nil, err
	}
	var tuples []NodeTuple
	if err := decodePayload(data, &tuples); err != nil {
		return nil, fmt.Errorf("decode find_node response: %w", err)
	}
	return tuples, nil
}

// SendFindNode issues a fire-and-forget find_node request, used by the
// maintenance refresh loop where no caller is waiting on the result. It
// implements the Session interface required by Node.
func (s *PeerSession) SendFindNode(target Key) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), defaultRequestTimeout)
		defer cancel()
		if _, err := s.FindNode(ctx, target); err != nil {
			s.logger.WithFields(logrus.Fields{
				"target": target.String(),
				"error":  err.Error(),
			}).Debug("background find_node failed")
		}
	}()
}

// FindValue asks the remote for a value by key. If the remote does not have
// it, it returns a closest-nodes list instead (merged into the routing tree
// as a side effect) and found is false.
func (s *PeerSession) FindValue(ctx context.Context, key Key) (value []byte, found bool, err error) {
	data, err := s.request(ctx, CommandFindValue, key.String())
	if err != nil {
		return nil, false, err
	}

	if looksLikeNodeList(data) {
		var tuples []NodeTuple
		if err := json.Unmarshal(data, &tuples); err == nil {
			return nil, false, nil
		}
	}

	var raw []byte
	if err := decodePayload(data, &raw); err != nil {
		return nil, false, fmt.Errorf("decode find_value response: %w", err)
	}
	return raw, true, nil
}

// Store asks the remote to persist value.
func (s *PeerSession) Store(ctx context.Context, value []byte) error {
	_, err := s.request(ctx, CommandStore, value)
	return err
}

// looksLikeNodeList disambiguates a find_value response: the wire payload
// for "value not found" is a JSON array of node tuples, while a found value
// is a JSON string (base64, per encoding/json's []byte handling). A value
// happening to decode as an empty node slice is therefore only ambiguous
// for a literal empty array, which find_node/find_value never produce for a
// value payload.
func looksLikeNodeList(data json.RawMessage) bool {
	trimmed := strings.TrimSpace(string(data))
	return strings.HasPrefix(trimmed, "[")
}

// --- inbound request handlers ---

func (s *PeerSession) handleRequest(msg Message) {
	var (
		responseData json.RawMessage
		err          error
	)

	switch msg.Command {
	case CommandIdentify:
		responseData, err = s.handleIdentify(msg.Data)
	case CommandFindNode:
		responseData, err = s.handleFindNode(msg.Data)
	case CommandFindValue:
		responseData, err = s.handleFindValue(msg.Data)
	case CommandStore:
		responseData, err = s.handleStore(msg.Data)
	default:
		s.logger.WithFields(logrus.Fields{"command": msg.Command}).Warn("unknown command")
		return
	}

	if err != nil {
		s.logger.WithFields(logrus.Fields{
			"command": msg.Command,
			"error":   err.Error(),
		}).Warn("command handler failed")
		return
	}

	if sendErr := s.send(Message{ID: msg.ID, Data: responseData}); sendErr != nil {
		s.logger.WithFields(logrus.Fields{"error": sendErr.Error()}).Warn("failed to send response")
	}
}

func (s *PeerSession) handleIdentify(data json.RawMessage) (json.RawMessage, error) {
	var payload IdentifyPayload
	if err := decodePayload(data, &payload); err != nil {
		return nil, fmt.Errorf("decode identify: %w", err)
	}

	remoteKey, err := KeyFromString(payload.Key)
	if err != nil {
		return nil, fmt.Errorf("parse identify key: %w", err)
	}

	host := remoteHost(s.conn.RemoteAddr())
	node := NewNode(remoteKey, host, payload.ListenPort)
	node.SetSession(s)
	s.node.Store(node)

	if err := s.tree.AddNode(node); err != nil {
		s.logger.WithFields(logrus.Fields{"error": err.Error()}).Debug("identify: node not added to routing tree")
	}

	if payload.RequestKey {
		return encodePayload(IdentifyPayload{Key: s.selfKey.String(), RequestKey: false})
	}
	return encodePayload(false)
}

func (s *PeerSession) handleFindNode(data json.RawMessage) (json.RawMessage, error) {
	var keyStr string
	if err := decodePayload(data, &keyStr); err != nil {
		return nil, fmt.Errorf("decode find_node target: %w", err)
	}
	target, err := KeyFromString(keyStr)
	if err != nil {
		return nil, fmt.Errorf("parse find_node target: %w", err)
	}

	return encodePayload(nodesToTuples(s.tree.FindNodes(target)))
}

func (s *PeerSession) handleFindValue(data json.RawMessage) (json.RawMessage, error) {
	var keyStr string
	if err := decodePayload(data, &keyStr); err != nil {
		return nil, fmt.Errorf("decode find_value target: %w", err)
	}
	target, err := KeyFromString(keyStr)
	if err != nil {
		return nil, fmt.Errorf("parse find_value target: %w", err)
	}

	value, err := s.store.Retrieve(target)
	if err == nil {
		return encodePayload(value)
	}
	if err != ErrValueNotFound {
		return nil, fmt.Errorf("retrieve value: %w", err)
	}

	return encodePayload(nodesToTuples(s.tree.FindNodes(target)))
}

func (s *PeerSession) handleStore(data json.RawMessage) (json.RawMessage, error) {
	var value []byte
	if err := decodePayload(data, &value); err != nil {
		return nil, fmt.Errorf("decode store value: %w", err)
	}
	if _, err := s.store.Store(value); err != nil {
		return nil, fmt.Errorf("store value: %w", err)
	}
	return encodePayload(nil)
}

// --- inbound response side-effects ---

func (s *PeerSession) handleResponse(msg Message) {
	s.mu.Lock()
	pr, ok := s.pending[msg.ID]
	if ok {
		delete(s.pending, msg.ID)
	}
	s.mu.Unlock()

	if !ok {
		s.logger.WithFields(logrus.Fields{"id": msg.ID}).Debug("response for unknown request id")
		return
	}

	switch pr.command {
	case CommandIdentify:
		s.learnFromIdentifyResponse(msg.Data)
	case CommandFindNode, CommandFindValue:
		s.learnFromNodeListResponse(msg.Data)
	}

	pr.resultC <- pendingResult{data: msg.Data}
}

func (s *PeerSession) learnFromIdentifyResponse(data json.RawMessage) {
	var payload IdentifyPayload
	if err := decodePayload(data, &payload); err != nil {
		return
	}
	if payload.Key == "" {
		return
	}
	remoteKey, err := KeyFromString(payload.Key)
	if err != nil {
		return
	}

	// Port 0: the peer's listen port isn't in its identify response, only its
	// key, so this records the observed connection address rather than a
	// dialable one. A later find_node tuple for the same key does not replace
	// this record: the tree rejects it with ErrAlreadyPresent.
	node := NewNode(remoteKey, remoteHost(s.conn.RemoteAddr()), 0)
	node.SetSession(s)
	s.node.Store(node)

	if err := s.tree.AddNode(node); err != nil {
		s.logger.WithFields(logrus.Fields{"error": err.Error()}).Debug("identify response: node not added")
	}
}

func (s *PeerSession) learnFromNodeListResponse(data json.RawMessage) {
	var tuples []NodeTuple
	if err := json.Unmarshal(data, &tuples); err != nil {
		return // a found value, not a node list; nothing to learn
	}
	for _, t := range tuples {
		key, err := KeyFromString(t.Key)
		if err != nil {
			continue
		}
		if err := s.tree.AddNode(NewNode(key, t.Address, t.Port)); err != nil {
			s.logger.WithFields(logrus.Fields{
				"key":   t.Key,
				"error": err.Error(),
			}).Debug("discovered node not added")
		}
	}
}

func nodesToTuples(nodes []*Node) []NodeTuple {
	out := make([]NodeTuple, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, NodeTuple{Key: n.Key().String(), Address: n.Address(), Port: n.Port()})
	}
	return out
}

func remoteHost(addr net.Addr) string {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
