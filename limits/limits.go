// Package limits provides centralized message size limits shared by the
// wire codec, the secure transport, and the value store. Keeping these in
// one place keeps validation consistent across components that otherwise
// have no reason to agree on a number.
package limits

import "errors"

const (
	// MaxMessagePayload bounds the JSON payload of a single framed DHT
	// message (request or response), before any encryption. A find_node
	// response listing BucketSize peer tuples comfortably fits well under
	// this limit.
	MaxMessagePayload = 4096

	// MaxSecureMessage bounds a message payload once wrapped by a Noise
	// cipher state (AEAD authentication tag added on top).
	MaxSecureMessage = MaxMessagePayload + EncryptionOverhead

	// MaxStoredValue bounds a value accepted by the value store's Store
	// operation.
	MaxStoredValue = 16384

	// MaxFrameBytes is the absolute ceiling on a single frame's declared
	// length, regardless of message kind. It exists purely to stop a
	// malformed or hostile length prefix from causing an unbounded read.
	MaxFrameBytes = 1024 * 1024

	// EncryptionOverhead is the per-message overhead added by the
	// ChaCha20-Poly1305 AEAD tag used by the noise package's cipher states.
	EncryptionOverhead = 16
)

var (
	// ErrMessageEmpty indicates an empty message was provided.
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates a message exceeds its maximum size.
	ErrMessageTooLarge = errors.New("message too large")
)

// ValidateMessageSize validates a message against an arbitrary maximum size.
func ValidateMessageSize(message []byte, maxSize int) error {
	if len(message) == 0 {
		return ErrMessageEmpty
	}
	if len(message) > maxSize {
		return ErrMessageTooLarge
	}
	return nil
}

// ValidateMessagePayload validates a decoded message payload size.
func ValidateMessagePayload(message []byte) error {
	return ValidateMessageSize(message, MaxMessagePayload)
}

// ValidateSecureMessage validates an encrypted message size.
func ValidateSecureMessage(message []byte) error {
	return ValidateMessageSize(message, MaxSecureMessage)
}

// ValidateStoredValue validates a value accepted by the value store.
func ValidateStoredValue(value []byte) error {
	return ValidateMessageSize(value, MaxStoredValue)
}

// ValidateFrameBytes validates a raw frame against the absolute ceiling.
func ValidateFrameBytes(data []byte) error {
	return ValidateMessageSize(data, MaxFrameBytes)
}
