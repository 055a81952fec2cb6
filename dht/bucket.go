package dht

import (
	"sort"
	"sync"
)

// BucketSize is k: the maximum number of live nodes a bucket holds.
const BucketSize = 20

// ReplacementCacheSize is r: the overflow capacity held per bucket for
// contacts discovered after the bucket is already full.
const ReplacementCacheSize = 5

// Bucket holds up to BucketSize node records sharing a key prefix, plus a
// small replacement cache for overflow contacts. It is safe for concurrent
// use, but callers that need "find leaf, then mutate its bucket" atomicity
// across a lookup and a mutation should hold the owning tree's lock instead
// (see BucketTree).
type Bucket struct {
	mu      sync.RWMutex
	nodes   []*Node
	cache   []*Node
	hasSelf bool
}

// NewBucket returns an empty bucket.
func NewBucket() *Bucket {
	return &Bucket{}
}

// Add inserts a node record, following the Kademlia bucket policy:
//   - a node already present (in either list) is rejected with ErrAlreadyPresent
//   - if the bucket already holds the self node and a non-self node is being
//     added, it is rejected with ErrBucketHasSelf so the caller can split
//   - otherwise the node list takes priority up to BucketSize, sorted by
//     last-seen ascending; overflow goes to the replacement cache up to
//     ReplacementCacheSize; beyond that, ErrBucketFull
func (b *Bucket) Add(n *Node) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.findLocked(n.Key()) != nil {
		return ErrAlreadyPresent
	}

	if b.hasSelf && !n.IsSelf() {
		return ErrBucketHasSelf
	}

	if len(b.nodes) < BucketSize {
		b.nodes = append(b.nodes, n)
		b.sortLocked()
		if n.IsSelf() {
			b.hasSelf = true
		}
		return nil
	}

	if len(b.cache) < ReplacementCacheSize {
		b.cache = append(b.cache, n)
		return nil
	}

	return ErrBucketFull
}

func (b *Bucket) sortLocked() {
	sort.Slice(b.nodes, func(i, j int) bool {
		return b.nodes[i].LastSeen().Before(b.nodes[j].LastSeen())
	})
}

// Find returns the node with the given key, or ErrNotFound.
func (b *Bucket) Find(key Key) (*Node, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if n := b.findLocked(key); n != nil {
		return n, nil
	}
	return nil, ErrNotFound
}

func (b *Bucket) findLocked(key Key) *Node {
	for _, n := range b.nodes {
		if n.Key() == key {
			return n
		}
	}
	for _, n := range b.cache {
		if n.Key() == key {
			return n
		}
	}
	return nil
}

// Remove deletes the node with the given key from whichever list holds it.
func (b *Bucket) Remove(key Key) (*Node, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, n := range b.nodes {
		if n.Key() == key {
			b.nodes = append(b.nodes[:i:i], b.nodes[i+1:]...)
			if n.IsSelf() {
				b.hasSelf = false
			}
			return n, nil
		}
	}
	for i, n := range b.cache {
		if n.Key() == key {
			b.cache = append(b.cache[:i:i], b.cache[i+1:]...)
			return n, nil
		}
	}
	return nil, ErrNotFound
}

// Nodes returns a snapshot of the live node list, ordered least-recently-seen
// first.
func (b *Bucket) Nodes() []*Node {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Node, len(b.nodes))
	copy(out, b.nodes)
	return out
}

// ReplacementCache returns a snapshot of the overflow cache.
func (b *Bucket) ReplacementCache() []*Node {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Node, len(b.cache))
	copy(out, b.cache)
	return out
}

// HasSelf reports whether this bucket currently holds the self node.
func (b *Bucket) HasSelf() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.hasSelf
}

// Unconnected returns every node (from both lists) that has no live session
// and is not the self node, a candidate set for the reconnect loop.
func (b *Bucket) Unconnected() []*Node {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []*Node
	for _, n := range b.nodes {
		if !n.IsSelf() && !n.Connected() {
			out = append(out, n)
		}
	}
	for _, n := range b.cache {
		if !n.IsSelf() && !n.Connected() {
			out = append(out, n)
		}
	}
	return out
}

// allNodes returns every record from both lists, used when splitting a
// bucket into two leaves.
func (b *Bucket) allNodes() []*Node {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]*Node, 0, len(b.nodes)+len(b.cache))
	out = append(out, b.nodes...)
	out = append(out, b.cache...)
	return out
}
