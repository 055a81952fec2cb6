package dht

import (
	"crypto/rand"
	"sync"

	"github.com/sirupsen/logrus"
)

// bucketNode is one node of the binary trie. A leaf carries a bucket and no
// children; an inner node carries two children and no bucket.
type bucketNode struct {
	parent *bucketNode
	left   *bucketNode // extends route with bit '1'
	right  *bucketNode // extends route with bit '0'
	bucket *Bucket     // non-nil only on a leaf
	route  string      // bit-prefix from the root, MSB-first
}

func (n *bucketNode) isLeaf() bool {
	return n.bucket != nil
}

// BucketTree is the binary trie of k-buckets keyed by XOR distance to the
// local peer. All structural mutations (splits) and bucket lookups are
// serialized by a single mutex, matching the single-writer discipline the
// rest of the package assumes for routing-table state.
type BucketTree struct {
	mu       sync.Mutex
	root     *bucketNode
	selfKey  Key
	selfNode *Node
}

// NewBucketTree creates a tree pre-split into two leaves (route "1" and
// route "0") and inserts the local peer's own node record.
func NewBucketTree(self *Node) *BucketTree {
	root := &bucketNode{route: ""}
	root.left = &bucketNode{parent: root, route: "1", bucket: NewBucket()}
	root.right = &bucketNode{parent: root, route: "0", bucket: NewBucket()}

	t := &BucketTree{
		root:     root,
		selfKey:  self.Key(),
		selfNode: self,
	}
	if err := t.AddNode(self); err != nil {
		// The fresh tree's two leaves are empty; inserting the sole self
		// node cannot fail.
		logrus.WithFields(logrus.Fields{
			"function": "NewBucketTree",
			"error":    err.Error(),
		}).Error("unexpected failure inserting self node into fresh tree")
	}
	return t
}

// findLeafLocked walks the trie from the root, consuming bits of key
// MSB-first: '1' descends left, '0' descends right. Callers must hold t.mu.
func (t *BucketTree) findLeafLocked(key Key) *bucketNode {
	node := t.root
	pos := 0
	for !node.isLeaf() {
		if key.Bit(pos) == 1 {
			node = node.left
		} else {
			node = node.right
		}
		pos++
	}
	return node
}

// AddNode inserts a node into the tree, splitting buckets as needed. It
// returns nil on success; ErrAlreadyPresent or ErrBucketFull indicate the
// node was not inserted but no structural error occurred.
func (t *BucketTree) AddNode(n *Node) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.addNodeLocked(n)
}

func (t *BucketTree) addNodeLocked(n *Node) error {
	leaf := t.findLeafLocked(n.Key())
	err := leaf.bucket.Add(n)
	if err == nil {
		return nil
	}
	if err == ErrBucketHasSelf {
		t.splitLocked(leaf)
		return t.addNodeLocked(n)
	}
	return err
}

// splitLocked converts a leaf into an inner node with two fresh leaves, then
// re-adds every record from the old bucket's node list and replacement
// cache into the new leaves. Re-adding the cache (not just the node list)
// avoids silently discarding otherwise-valid contacts.
func (t *BucketTree) splitLocked(leaf *bucketNode) {
	old := leaf.bucket
	leaf.bucket = nil
	leaf.left = &bucketNode{parent: leaf, route: leaf.route + "1", bucket: NewBucket()}
	leaf.right = &bucketNode{parent: leaf, route: leaf.route + "0", bucket: NewBucket()}

	for _, n := range old.allNodes() {
		if err := t.addNodeLocked(n); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "splitLocked",
				"key":      n.Key().String(),
				"error":    err.Error(),
			}).Debug("node dropped while re-inserting after bucket split")
		}
	}
}

// FindNode returns the exact node record for key, or ErrNotFound.
func (t *BucketTree) FindNode(key Key) (*Node, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	leaf := t.findLeafLocked(key)
	return leaf.bucket.Find(key)
}

// RemoveNode deletes the node with the given key from its home bucket.
func (t *BucketTree) RemoveNode(key Key) (*Node, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	leaf := t.findLeafLocked(key)
	return leaf.bucket.Remove(key)
}

// FindNodes returns up to BucketSize records considered closest to key, by
// walking outward from the target's home leaf through the trie: it drains
// the home leaf first, then expands to sibling subtrees, preferring nearer
// branches. It is a single-round approximation of "closest k", not a full
// iterative Kademlia lookup.
func (t *BucketTree) FindNodes(key Key) []*Node {
	t.mu.Lock()
	defer t.mu.Unlock()

	home := t.findLeafLocked(key)
	var result []*Node
	visited := map[*bucketNode]bool{}

	drain := func(leaf *bucketNode) {
		visited[leaf] = true
		for _, n := range leaf.bucket.Nodes() {
			if len(result) >= BucketSize {
				return
			}
			result = append(result, n)
		}
	}
	drain(home)

	queue := []*bucketNode{}
	if home.parent != nil {
		queue = append(queue, home.parent)
	}

	for len(result) < BucketSize && len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if visited[cur] {
			continue
		}
		if cur.isLeaf() {
			drain(cur)
			continue
		}
		if cur.left != nil && !visited[cur.left] {
			queue = append(queue, cur.left)
		}
		if cur.right != nil && !visited[cur.right] {
			queue = append(queue, cur.right)
		}
		visited[cur] = true
		if cur.parent != nil && !visited[cur.parent] {
			queue = append(queue, cur.parent)
		}
	}

	if len(result) > BucketSize {
		result = result[:BucketSize]
	}
	return result
}

// Leaves returns every leaf in the tree, used by maintenance to enumerate
// bucket ranges to refresh.
func (t *BucketTree) Leaves() []*bucketNode {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*bucketNode
	var walk func(n *bucketNode)
	walk = func(n *bucketNode) {
		if n.isLeaf() {
			out = append(out, n)
			return
		}
		walk(n.left)
		walk(n.right)
	}
	walk(t.root)
	return out
}

// LeafNodes returns every node record held across all leaves. If
// includeSelf is false, the leaf holding the self node is skipped entirely.
func (t *BucketTree) LeafNodes(includeSelf bool) []*Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*Node
	for _, leaf := range t.allLeavesLocked() {
		if !includeSelf && leaf.bucket.HasSelf() {
			continue
		}
		out = append(out, leaf.bucket.Nodes()...)
	}
	return out
}

func (t *BucketTree) allLeavesLocked() []*bucketNode {
	var out []*bucketNode
	var walk func(n *bucketNode)
	walk = func(n *bucketNode) {
		if n.isLeaf() {
			out = append(out, n)
			return
		}
		walk(n.left)
		walk(n.right)
	}
	walk(t.root)
	return out
}

// Unconnected returns every known node without a live session, across the
// whole tree, excluding the self node.
func (t *BucketTree) Unconnected() []*Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []*Node
	for _, leaf := range t.allLeavesLocked() {
		out = append(out, leaf.bucket.Unconnected()...)
	}
	return out
}

// randomKeyInRange returns a random key sharing the leaf's route prefix,
// suitable for seeding a refresh lookup that targets that leaf's region of
// the keyspace. The bits beyond the route's length are randomized.
func (n *bucketNode) randomKeyInRange() Key {
	var k Key
	_, _ = rand.Read(k[:])
	for i, bitChar := range n.route {
		bit := byte(0)
		if bitChar == '1' {
			bit = 1
		}
		setBit(&k, i, bit)
	}
	return k
}

func setBit(k *Key, pos int, bit byte) {
	byteIdx := pos / 8
	bitIdx := 7 - uint(pos%8)
	if bit == 1 {
		k[byteIdx] |= 1 << bitIdx
	} else {
		k[byteIdx] &^= 1 << bitIdx
	}
}

// RefreshTargets returns one random key per non-self leaf, to be probed by
// the bucket-refresh maintenance loop.
func (t *BucketTree) RefreshTargets() []Key {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []Key
	for _, leaf := range t.allLeavesLocked() {
		if leaf.bucket.HasSelf() {
			continue
		}
		out = append(out, leaf.randomKeyInRange())
	}
	return out
}
