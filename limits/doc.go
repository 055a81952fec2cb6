// Package limits provides centralized message size constants and validation
// functions shared across the DHT's wire codec, secure transport, and value
// store.
//
// # Message Size Hierarchy
//
//   - MaxMessagePayload (4096 bytes): the decoded JSON payload of a single
//     DHT request or response, before any encryption.
//
//   - MaxSecureMessage (4112 bytes): the payload once wrapped by a Noise
//     cipher state, which adds a Poly1305 authentication tag.
//
//   - MaxStoredValue (16384 bytes): the maximum value accepted by the value
//     store.
//
//   - MaxFrameBytes (1MB): the absolute ceiling on any single frame's
//     declared length, regardless of message kind. This bounds how much a
//     hostile or malformed length prefix can force a reader to allocate.
//
// # Validation Functions
//
//	err := limits.ValidateMessagePayload(message)
//	if err != nil {
//	    // ErrMessageEmpty or ErrMessageTooLarge
//	}
//
// For an arbitrary limit, use the generic ValidateMessageSize:
//
//	err := limits.ValidateMessageSize(data, 4096)
//
// # Error Types
//
//   - ErrMessageEmpty: an empty or nil message was provided.
//   - ErrMessageTooLarge: the message exceeds the relevant limit.
package limits
