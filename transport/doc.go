// Package transport provides the connection-level plumbing DHT sessions
// run over.
//
// FramedConn gives every message a clear boundary on top of a raw TCP
// stream: a 4-byte big-endian length prefix followed by that many bytes of
// JSON payload. SecureConn layers an optional Noise Protocol handshake
// (package noise) on top of a FramedConn, encrypting every subsequent
// message; it is negotiated per connection and has no bearing on the DHT's
// own routing-table invariants, which operate entirely above this package.
package transport
