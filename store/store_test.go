package store

import (
	"errors"
	"testing"

	"github.com/kadnet/kadnet/dht"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRetrieve(t *testing.T) {
	m := NewMemory()

	key, err := m.Store([]byte("hello"))
	require.NoError(t, err)

	got, err := m.Retrieve(key)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
}

func TestMemoryStoreIsIdempotent(t *testing.T) {
	m := NewMemory()

	k1, err := m.Store([]byte("same value"))
	require.NoError(t, err)
	k2, err := m.Store([]byte("same value"))
	require.NoError(t, err)

	assert.Equal(t, k1, k2)
	assert.Equal(t, 1, m.Len())
}

func TestMemoryRetrieveUnknownKey(t *testing.T) {
	m := NewMemory()

	_, err := m.Retrieve(dht.Key{0xAB})
	require.Error(t, err)
	assert.True(t, errors.Is(err, dht.ErrValueNotFound))
}

func TestMemoryStoreKeyIsContentAddressed(t *testing.T) {
	m := NewMemory()

	value := []byte("deterministic")
	key, err := m.Store(value)
	require.NoError(t, err)

	assert.Equal(t, dht.HashKey(value), key)
}

func TestMemoryRetrieveReturnsCopy(t *testing.T) {
	m := NewMemory()

	value := []byte("mutate me")
	key, err := m.Store(value)
	require.NoError(t, err)

	got, err := m.Retrieve(key)
	require.NoError(t, err)
	got[0] = 'X'

	again, err := m.Retrieve(key)
	require.NoError(t, err)
	assert.Equal(t, byte('m'), again[0])
}
