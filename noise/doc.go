// Package noise implements the Noise Protocol Framework handshakes used to
// optionally secure a peer connection before any DHT message is exchanged.
//
// This package implements two Noise handshake patterns using the
// flynn/noise library with ChaCha20-Poly1305 encryption, SHA256 hashing,
// and Curve25519 key exchange.
//
// # Pattern Selection Guide
//
//	Pattern │ When to Use                                │ Security Properties
//	────────┼────────────────────────────────────────────┼────────────────────────────────────────
//	IK      │ Initiator knows responder's public key     │ Mutual auth, forward secrecy, KCI resist
//	XX      │ Neither party knows the other's key        │ Mutual auth, forward secrecy
//
// # IK Pattern (Initiator with Knowledge)
//
// Use IK when the initiator already knows the responder's static public key
// — typically an operator-configured bootstrap peer.
//
// Security properties:
//   - Mutual authentication: both parties verify each other's identity
//   - Forward secrecy: compromise of long-term keys doesn't expose past sessions
//   - Key Compromise Impersonation (KCI) resistance
//   - Identity hiding: initiator's identity protected from passive observers
//
// Message flow (2 messages, 1 round trip):
//
//	Initiator                              Responder
//	─────────                              ─────────
//	-> e, es, s, ss  (ephemeral, static)
//	                                       <- e, ee, se  (ephemeral)
//	[session established]
//
// Example usage:
//
//	// Initiator (knows peer's public key)
//	ik, err := noise.NewIKHandshake(myPrivKey, peerPubKey, noise.Initiator)
//	if err != nil {
//	    return err
//	}
//	msg, _, err := ik.WriteMessage(nil, nil)
//	// send msg, receive response...
//	payload, complete, err := ik.ReadMessage(response)
//	if complete {
//	    send, recv, _ := ik.GetCipherStates()
//	}
//
//	// Responder (doesn't need peer's key initially)
//	ik, err := noise.NewIKHandshake(myPrivKey, nil, noise.Responder)
//	payload, _, err := ik.WriteMessage(nil, receivedMsg)
//	peerKey, _ := ik.GetRemoteStaticKey()
//
// # XX Pattern (Interactive Exchange)
//
// Use XX when neither party knows the other's static public key beforehand
// — typically an unsolicited inbound connection.
//
// Security properties:
//   - Mutual authentication: both parties exchange and verify static keys
//   - Forward secrecy: ephemeral keys protect past sessions
//   - No prior key knowledge required
//   - 3 message round trip (slower than IK)
//
// Message flow (3 messages):
//
//	Initiator                              Responder
//	─────────                              ─────────
//	-> e           (ephemeral only)
//	                                       <- e, ee, s, es
//	-> s, se       (static exchange)
//	[session established]
//
// # Cipher Suite
//
// All handshakes use Curve25519 (X25519) key exchange, ChaCha20-Poly1305
// AEAD encryption, and SHA256 for key derivation and authentication.
//
// # Error Handling
//
// Common errors returned by handshake operations:
//   - ErrHandshakeNotComplete: operation requires a completed handshake
//   - ErrInvalidMessage: declared for invalid messages, but no handshake
//     operation in this package returns it; malformed input surfaces as a
//     wrapped error from the underlying noise library
//   - ErrHandshakeComplete: handshake already finished, cannot process more messages
//
// # Integration
//
// Package transport wraps these handshakes to negotiate an encrypted
// session over a FramedConn before any DHT message is sent; see
// transport.SecureConn.
package noise
