// Package transport provides the framed, optionally encrypted byte stream
// DHT sessions run over: a length-prefixed message boundary on top of a raw
// TCP connection, and an optional Noise-secured wrapper around it.
package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/kadnet/kadnet/limits"
	"github.com/sirupsen/logrus"
)

const (
	lengthPrefixSize = 4
	writeTimeout     = 5 * time.Second
	readTimeout      = 30 * time.Second
)

// FramedConn wraps a net.Conn with a 4-byte big-endian length-prefixed
// message boundary: each WriteMessage call writes exactly one prefixed
// frame, and each ReadMessage call reads exactly one.
type FramedConn struct {
	conn net.Conn
}

// NewFramedConn wraps an already-established connection.
func NewFramedConn(conn net.Conn) *FramedConn {
	return &FramedConn{conn: conn}
}

// Dial opens a new TCP connection to addr and wraps it.
func Dial(ctx context.Context, addr string) (*FramedConn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return NewFramedConn(conn), nil
}

// WriteMessage writes one length-prefixed frame containing payload.
//
// FramedConn only enforces the absolute frame ceiling (limits.MaxFrameBytes):
// it carries both plaintext DHT messages and Noise-encrypted ones, which have
// different, narrower size classes, so callers (PeerSession for plaintext,
// SecureConn for ciphertext) validate against their own limit before calling
// WriteMessage.
func (f *FramedConn) WriteMessage(payload []byte) error {
	if err := limits.ValidateFrameBytes(payload); err != nil {
		return fmt.Errorf("write message: %w", err)
	}

	if err := f.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}

	var header [lengthPrefixSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))

	if _, err := f.conn.Write(header[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := f.conn.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}
	return nil
}

// ReadMessage blocks until one full frame is available and returns its
// payload. A declared length over limits.MaxFrameBytes is a decoding error;
// the connection should be closed by the caller since the stream position
// is no longer trustworthy for a subsequent read.
//
// No deadline is set waiting for a frame header: sessions are long-lived and
// PING liveness is not implemented, so an idle-but-healthy connection may go
// quiet well past readTimeout without that meaning anything is wrong. Once a
// header has arrived, a peer actually mid-send is held to readTimeout so a
// stalled or malicious partial frame doesn't block the read loop forever.
func (f *FramedConn) ReadMessage() ([]byte, error) {
	if err := f.conn.SetReadDeadline(time.Time{}); err != nil {
		return nil, fmt.Errorf("clear read deadline: %w", err)
	}

	var header [lengthPrefixSize]byte
	if _, err := io.ReadFull(f.conn, header[:]); err != nil {
		return nil, fmt.Errorf("read frame header: %w", err)
	}

	if err := f.conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		return nil, fmt.Errorf("set read deadline: %w", err)
	}

	length := binary.BigEndian.Uint32(header[:])
	if length > limits.MaxFrameBytes {
		return nil, fmt.Errorf("frame length %d exceeds maximum %d", length, limits.MaxFrameBytes)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(f.conn, payload); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}
	return payload, nil
}

// Close closes the underlying connection.
func (f *FramedConn) Close() error {
	return f.conn.Close()
}

// LocalAddr returns the local network address.
func (f *FramedConn) LocalAddr() net.Addr {
	return f.conn.LocalAddr()
}

// RemoteAddr returns the remote network address.
func (f *FramedConn) RemoteAddr() net.Addr {
	return f.conn.RemoteAddr()
}

// ConnHandler is invoked once per accepted connection, in its own goroutine.
type ConnHandler func(*FramedConn)

// Listener accepts TCP connections and hands each to a ConnHandler.
type Listener struct {
	ln net.Listener

	ctx    context.Context
	cancel context.CancelFunc
}

// Listen binds addr and returns a Listener; call Serve to start accepting.
func Listen(addr string) (*Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Listener{ln: ln, ctx: ctx, cancel: cancel}, nil
}

// Addr returns the bound local address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Serve accepts connections until Close is called, dispatching each to
// handler in its own goroutine.
func (l *Listener) Serve(handler ConnHandler) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "Listener.Serve",
		"addr":     l.ln.Addr().String(),
	})

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			select {
			case <-l.ctx.Done():
				return
			default:
				logger.WithFields(logrus.Fields{"error": err.Error()}).Warn("accept failed")
				continue
			}
		}
		go handler(NewFramedConn(conn))
	}
}

// Close stops accepting new connections.
func (l *Listener) Close() error {
	l.cancel()
	return l.ln.Close()
}
