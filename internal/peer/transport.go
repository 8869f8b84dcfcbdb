package peer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// ErrWouldBlock is returned by TryRead and TryWrite when the transport is not
// ready; it is the only condition the handshake loop silently retries.
var ErrWouldBlock = errors.New("peer: operation would block")

// Transport is the capability set the handshake state machine is written
// against: a duplex byte stream with readiness waits, non-blocking try
// operations and a remote address query. Production TCP connections and
// in-memory test doubles both satisfy it.
type Transport interface {
	// WaitWritable blocks until the transport may accept a write or ctx ends.
	WaitWritable(ctx context.Context) error
	// WaitReadable blocks until a read may make progress or ctx ends.
	WaitReadable(ctx context.Context) error
	// TryWrite attempts a non-blocking write, returning ErrWouldBlock when
	// the transport is not ready.
	TryWrite(p []byte) (int, error)
	// TryRead attempts a non-blocking read, returning ErrWouldBlock when no
	// data is available.
	TryRead(p []byte) (int, error)
	RemoteAddr() net.Addr
	Close() error
}

// tcpPollInterval bounds how long a TCP try operation may block before it
// reports ErrWouldBlock.
const tcpPollInterval = 50 * time.Millisecond

// TCPTransport adapts a *net.TCPConn to the Transport capability set.
// Readiness is folded into the try operations: each one runs under a short
// poll deadline and maps the deadline error to ErrWouldBlock.
type TCPTransport struct {
	conn *net.TCPConn
}

// DialTCP opens a TCP transport to addr. Exceeding timeout yields a
// *TimeoutError carrying the configured duration.
func DialTCP(ctx context.Context, addr string, timeout time.Duration) (*TCPTransport, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, &TimeoutError{Timeout: timeout}
		}
		return nil, fmt.Errorf("connectivity error with peer: %w", err)
	}
	tcp := conn.(*net.TCPConn)
	tuneConn(tcp)
	return &TCPTransport{conn: tcp}, nil
}

func tuneConn(conn *net.TCPConn) {
	_ = conn.SetNoDelay(true)
	_ = conn.SetKeepAlive(false)
}

func (t *TCPTransport) WaitWritable(ctx context.Context) error {
	return ctx.Err()
}

func (t *TCPTransport) WaitReadable(ctx context.Context) error {
	return ctx.Err()
}

func (t *TCPTransport) TryWrite(p []byte) (int, error) {
	_ = t.conn.SetWriteDeadline(time.Now().Add(tcpPollInterval))
	n, err := t.conn.Write(p)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			if n > 0 {
				return n, nil
			}
			return 0, ErrWouldBlock
		}
		return n, err
	}
	return n, nil
}

func (t *TCPTransport) TryRead(p []byte) (int, error) {
	_ = t.conn.SetReadDeadline(time.Now().Add(tcpPollInterval))
	n, err := t.conn.Read(p)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			if n > 0 {
				return n, nil
			}
			return 0, ErrWouldBlock
		}
		return n, err
	}
	return n, nil
}

func (t *TCPTransport) RemoteAddr() net.Addr {
	return t.conn.RemoteAddr()
}

// CloseWrite performs the graceful half of a shutdown: it signals the peer
// that no more data follows while leaving the read side open.
func (t *TCPTransport) CloseWrite() error {
	return t.conn.CloseWrite()
}

func (t *TCPTransport) Close() error {
	return t.conn.Close()
}
