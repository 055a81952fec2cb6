package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	flynnnoise "github.com/flynn/noise"
	"github.com/kadnet/kadnet/limits"
	"github.com/kadnet/kadnet/noise"
	"github.com/sirupsen/logrus"
)

// HandshakeTimeout bounds how long a SecureConn negotiation may take before
// the connection is abandoned.
const HandshakeTimeout = 10 * time.Second

// secureHandshake is the minimal surface both noise.IKHandshake and
// noise.XXHandshake satisfy, letting SecureConn drive either pattern
// identically.
type secureHandshake interface {
	WriteMessage(payload, receivedMessage []byte) ([]byte, bool, error)
	ReadMessage(message []byte) ([]byte, bool, error)
	IsComplete() bool
	GetCipherStates() (*flynnnoise.CipherState, *flynnnoise.CipherState, error)
}

// SecureConn wraps a FramedConn so every message is encrypted with a Noise
// cipher state negotiated by an XX or IK handshake. The handshake runs once,
// before any DHT message is exchanged; thereafter WriteMessage/ReadMessage
// transparently encrypt/decrypt each frame's payload.
type SecureConn struct {
	inner *FramedConn
	send  *flynnnoise.CipherState
	recv  *flynnnoise.CipherState
}

// DialSecure opens a connection to addr and runs an initiator-side Noise
// handshake. If peerStaticKey is non-nil, the IK pattern is used (faster,
// requires knowing the peer's static key in advance); otherwise XX is used.
func DialSecure(ctx context.Context, addr string, staticPrivKey []byte, peerStaticKey []byte) (*SecureConn, error) {
	conn, err := Dial(ctx, addr)
	if err != nil {
		return nil, err
	}

	var hs secureHandshake
	if peerStaticKey != nil {
		hs, err = noise.NewIKHandshake(staticPrivKey, peerStaticKey, noise.Initiator)
	} else {
		hs, err = noise.NewXXHandshake(staticPrivKey, noise.Initiator)
	}
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("create initiator handshake: %w", err)
	}

	sc, err := runInitiatorHandshake(conn, hs)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return sc, nil
}

// AcceptSecure runs a responder-side Noise handshake over an already
// accepted connection. The XX pattern is used for unsolicited inbound
// connections whose static key the acceptor does not yet know.
func AcceptSecure(conn *FramedConn, staticPrivKey []byte) (*SecureConn, error) {
	hs, err := noise.NewXXHandshake(staticPrivKey, noise.Responder)
	if err != nil {
		return nil, fmt.Errorf("create responder handshake: %w", err)
	}
	return runResponderHandshake(conn, hs)
}

func runInitiatorHandshake(conn *FramedConn, hs secureHandshake) (*SecureConn, error) {
	logger := logrus.WithFields(logrus.Fields{"function": "runInitiatorHandshake"})

	// Closing the connection unblocks any pending read once the bound passes.
	timer := time.AfterFunc(HandshakeTimeout, func() { conn.Close() })
	defer timer.Stop()

	msg, complete, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return nil, fmt.Errorf("handshake write 1: %w", err)
	}
	if err := conn.WriteMessage(msg); err != nil {
		return nil, fmt.Errorf("handshake send 1: %w", err)
	}

	for !complete {
		reply, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("handshake recv: %w", err)
		}

		payload, readComplete, err := hs.ReadMessage(reply)
		if err != nil {
			return nil, fmt.Errorf("handshake read: %w", err)
		}
		_ = payload
		if readComplete {
			complete = true
			break
		}

		msg, complete, err = hs.WriteMessage(nil, nil)
		if err != nil {
			return nil, fmt.Errorf("handshake write: %w", err)
		}
		if err := conn.WriteMessage(msg); err != nil {
			return nil, fmt.Errorf("handshake send: %w", err)
		}
	}

	if !timer.Stop() {
		return nil, fmt.Errorf("handshake timed out after %s", HandshakeTimeout)
	}

	send, recv, err := hs.GetCipherStates()
	if err != nil {
		return nil, fmt.Errorf("handshake cipher states: %w", err)
	}
	logger.Debug("secure session established (initiator)")
	return &SecureConn{inner: conn, send: send, recv: recv}, nil
}

func runResponderHandshake(conn *FramedConn, hs secureHandshake) (*SecureConn, error) {
	logger := logrus.WithFields(logrus.Fields{"function": "runResponderHandshake"})

	// Closing the connection unblocks any pending read once the bound passes.
	timer := time.AfterFunc(HandshakeTimeout, func() { conn.Close() })
	defer timer.Stop()

	for !hs.IsComplete() {
		msg, err := conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("handshake recv: %w", err)
		}

		reply, complete, err := hs.WriteMessage(nil, msg)
		if err != nil {
			return nil, fmt.Errorf("handshake write: %w", err)
		}
		if reply != nil {
			if err := conn.WriteMessage(reply); err != nil {
				return nil, fmt.Errorf("handshake send: %w", err)
			}
		}
		if complete {
			break
		}
	}

	if !timer.Stop() {
		return nil, fmt.Errorf("handshake timed out after %s", HandshakeTimeout)
	}

	send, recv, err := hs.GetCipherStates()
	if err != nil {
		return nil, fmt.Errorf("handshake cipher states: %w", err)
	}
	logger.Debug("secure session established (responder)")
	return &SecureConn{inner: conn, send: send, recv: recv}, nil
}

// WriteMessage encrypts payload under the session's send cipher and writes
// it as one frame.
func (s *SecureConn) WriteMessage(payload []byte) error {
	ciphertext, err := s.send.Encrypt(nil, nil, payload)
	if err != nil {
		return fmt.Errorf("encrypt message: %w", err)
	}
	if err := limits.ValidateSecureMessage(ciphertext); err != nil {
		return fmt.Errorf("write secure message: %w", err)
	}
	return s.inner.WriteMessage(ciphertext)
}

// ReadMessage reads one frame and decrypts it under the session's receive
// cipher.
func (s *SecureConn) ReadMessage() ([]byte, error) {
	ciphertext, err := s.inner.ReadMessage()
	if err != nil {
		return nil, err
	}
	plaintext, err := s.recv.Decrypt(nil, nil, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("decrypt message: %w", err)
	}
	return plaintext, nil
}

// Close closes the underlying connection.
func (s *SecureConn) Close() error {
	return s.inner.Close()
}

// RemoteAddr returns the remote network address of the underlying connection.
func (s *SecureConn) RemoteAddr() net.Addr {
	return s.inner.RemoteAddr()
}
