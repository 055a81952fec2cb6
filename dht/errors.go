package dht

import "errors"

var (
	// ErrAlreadyPresent is returned by Bucket.Add when the node's key is
	// already present in the bucket or its replacement cache.
	ErrAlreadyPresent = errors.New("dht: node already present")

	// ErrBucketFull is returned by Bucket.Add when both the node list and
	// the replacement cache are at capacity.
	ErrBucketFull = errors.New("dht: bucket full")

	// ErrBucketHasSelf is returned by Bucket.Add when the bucket already
	// holds the self node and a different node is being inserted; this
	// signals the caller to split the bucket rather than a true failure.
	ErrBucketHasSelf = errors.New("dht: bucket holds self node")

	// ErrNotFound is returned when a key is not present in a bucket, the
	// routing tree, or the value store.
	ErrNotFound = errors.New("dht: not found")
)
