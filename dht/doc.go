// Package dht implements the routing and RPC core of a Kademlia-style
// distributed hash table: XOR-distance routing over a binary trie of
// k-buckets, a small request/response protocol for discovering and storing
// values, and periodic maintenance that keeps the routing table populated
// under churn.
//
// # Routing
//
// Each peer owns a random 160-bit Key (see NewRandomKey). A BucketTree
// partitions the keyspace into leaves holding up to BucketSize (k) node
// records; a leaf splits into two children the first time it would have to
// hold both the local peer's own record and a foreign one. FindNodes walks
// outward from a target's home leaf to approximate the closest known peers
// to that target.
//
// # Sessions
//
// A PeerSession owns one long-lived connection to one remote peer. It
// multiplexes outbound requests (identify, find_node, find_value, store)
// against inbound responses by message ID, dispatches inbound requests to
// handlers that consult the shared BucketTree and ValueStore, and feeds
// every peer it learns about back into the tree. PeerSession depends only
// on the small Conn interface, not on a concrete transport, so it runs the
// same whether the underlying connection is a plain transport.FramedConn or
// a Noise-encrypted transport.SecureConn.
//
// # Lifecycle
//
// DhtNode is the process root: it generates a local identity, binds a
// listener, and launches a Maintainer that runs two background loops — a
// bucket-refresh loop (exponential backoff, probing stale regions of the
// keyspace) and a reconnect loop (re-dialing known nodes with no live
// session). Time-dependent behavior (Node liveness) is abstracted behind
// TimeProvider so tests can drive it deterministically instead of sleeping.
package dht
