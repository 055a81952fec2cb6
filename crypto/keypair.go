// Package crypto implements the key material used to authenticate secure
// transport sessions between peers.
//
// It handles key pair generation and derivation using the NaCl cryptography
// library through Go's x/crypto packages. These key pairs back the Noise
// static keys in package noise; they are unrelated to a peer's DHT identity
// key, which is a plain 160-bit value (see package dht).
//
// Example:
//
//	keys, err := crypto.GenerateKeyPair()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println("Public key:", hex.EncodeToString(keys.Public[:]))
package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/nacl/box"
)

// KeyPair is a NaCl crypto_box key pair used as a Noise static key.
type KeyPair struct {
	Public  [32]byte
	Private [32]byte
}

// GenerateKeyPair creates a new random NaCl key pair.
func GenerateKeyPair() (*KeyPair, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "GenerateKeyPair",
		"package":  "crypto",
	})

	logger.Debug("generating new key pair")

	publicKey, privateKey, err := box.GenerateKey(rand.Reader)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"error": err.Error(),
		}).Error("failed to generate key pair")
		return nil, fmt.Errorf("generate key pair: %w", err)
	}

	keyPair := &KeyPair{
		Public:  *publicKey,
		Private: *privateKey,
	}

	logger.WithFields(logrus.Fields{
		"public_key_preview": fmt.Sprintf("%x", keyPair.Public[:8]),
	}).Debug("key pair generated")

	return keyPair, nil
}

// FromSecretKey derives a key pair from an existing private key.
func FromSecretKey(secretKey [32]byte) (*KeyPair, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "FromSecretKey",
		"package":  "crypto",
	})

	if isZeroKey(secretKey) {
		logger.Error("secret key is all zeros")
		return nil, errors.New("invalid secret key: all zeros")
	}

	// Create a copy of the secret key to avoid modifying the original.
	var privateKey [32]byte
	copy(privateKey[:], secretKey[:])

	// Clamp per curve25519 requirements before deriving the public key.
	privateKey[0] &= 248
	privateKey[31] &= 127
	privateKey[31] |= 64

	var publicKey [32]byte
	curve25519.ScalarBaseMult(&publicKey, &privateKey)

	keyPair := &KeyPair{
		Public:  publicKey,
		Private: secretKey, // keep the original, unclamped key per NaCl convention
	}

	ZeroBytes(privateKey[:])

	logger.WithFields(logrus.Fields{
		"public_key_preview": fmt.Sprintf("%x", keyPair.Public[:8]),
	}).Debug("key pair derived from secret key")

	return keyPair, nil
}

// ZeroBytes overwrites b with zeros in place. It gives no hardware guarantee
// against compiler reordering, but it costs nothing to call after handling
// key material.
func ZeroBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// isZeroKey reports whether a key consists of all zero bytes.
func isZeroKey(key [32]byte) bool {
	for _, b := range key {
		if b != 0 {
			return false
		}
	}
	return true
}
