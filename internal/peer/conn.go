package peer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/riptide-dl/riptide/internal/metainfo"
)

// Conn drives the handshake over one Transport. The send and receive phases
// each run under an independent ioTimeout budget; would-block is retried
// within a phase, every other failure is terminal for this peer.
type Conn struct {
	transport Transport
	ioTimeout time.Duration
	log       zerolog.Logger
}

// NewConn wraps an open transport. The transport stays owned by the caller,
// which is responsible for shutting it down after the handshake returns.
func NewConn(transport Transport, ioTimeout time.Duration, log zerolog.Logger) *Conn {
	return &Conn{
		transport: transport,
		ioTimeout: ioTimeout,
		log:       log.With().Stringer("peer", transport.RemoteAddr()).Logger(),
	}
}

// Handshake sends our handshake and validates the peer's answer against
// infoHash. It returns a *TimeoutError when a phase exceeds its budget and a
// *InvalidHandshakeError when the peer answers for a different torrent.
func (c *Conn) Handshake(ctx context.Context, peerID string, infoHash metainfo.Hash) error {
	msg := Handshake{ProtocolID: DefaultProtocolID, InfoHash: infoHash, PeerID: peerID}.Encode()

	c.log.Debug().Msg("starting handshake with peer")
	if err := c.send(ctx, msg); err != nil {
		return err
	}
	return c.receive(ctx, infoHash)
}

// send writes the whole handshake message, retrying would-block outcomes
// until the phase deadline.
func (c *Conn) send(ctx context.Context, msg []byte) error {
	phase, cancel := context.WithTimeout(ctx, c.ioTimeout)
	defer cancel()

	for len(msg) > 0 {
		if err := c.transport.WaitWritable(phase); err != nil {
			return c.phaseErr(ctx, err)
		}
		n, err := c.transport.TryWrite(msg)
		switch {
		case errors.Is(err, ErrWouldBlock):
			continue
		case err != nil:
			return fmt.Errorf("connectivity error with peer: %w", err)
		}
		msg = msg[n:]
	}
	return nil
}

// receive polls for the peer's handshake and validates its info hash. A zero
// length-prefix byte is ambiguous with a stream that has not delivered real
// data yet, so it starts a grace timer instead of failing outright; zero
// reads persisting past the phase budget become a timeout.
func (c *Conn) receive(ctx context.Context, infoHash metainfo.Hash) error {
	phase, cancel := context.WithTimeout(ctx, c.ioTimeout)
	defer cancel()

	prefix, err := c.readPrefix(ctx, phase)
	if err != nil {
		return err
	}

	raw := make([]byte, int(prefix)+handshakeBaseLen)
	raw[0] = prefix
	if err := c.readFull(ctx, phase, raw[1:]); err != nil {
		return err
	}

	response, err := ParseHandshake(raw)
	if err != nil {
		return err
	}
	c.log.Debug().
		Str("protocol_id", response.ProtocolID).
		Str("peer_id", response.PeerID).
		Msg("handshake response received")

	if response.InfoHash != infoHash {
		return &InvalidHandshakeError{Handshake: response}
	}
	c.log.Debug().Msg("handshake is valid")
	return nil
}

// readPrefix polls for the first non-placeholder length-prefix byte.
func (c *Conn) readPrefix(parent, phase context.Context) (byte, error) {
	var zeroSince time.Time
	var buf [1]byte
	for {
		if err := c.transport.WaitReadable(phase); err != nil {
			return 0, c.phaseErr(parent, err)
		}
		n, err := c.transport.TryRead(buf[:])
		switch {
		case errors.Is(err, ErrWouldBlock):
			if err := phase.Err(); err != nil {
				return 0, c.phaseErr(parent, err)
			}
			continue
		case err != nil:
			return 0, fmt.Errorf("connectivity error with peer: %w", err)
		case n == 0:
			continue
		}

		if buf[0] == 0 {
			if zeroSince.IsZero() {
				zeroSince = time.Now()
			} else if time.Since(zeroSince) >= c.ioTimeout {
				return 0, &TimeoutError{Timeout: c.ioTimeout}
			}
			continue
		}
		return buf[0], nil
	}
}

// readFull fills buf, retrying would-block outcomes until the phase deadline.
func (c *Conn) readFull(parent, phase context.Context, buf []byte) error {
	for len(buf) > 0 {
		if err := c.transport.WaitReadable(phase); err != nil {
			return c.phaseErr(parent, err)
		}
		n, err := c.transport.TryRead(buf)
		switch {
		case errors.Is(err, ErrWouldBlock):
			if err := phase.Err(); err != nil {
				return c.phaseErr(parent, err)
			}
			continue
		case err != nil:
			return fmt.Errorf("connectivity error with peer: %w", err)
		}
		buf = buf[n:]
	}
	return nil
}

// phaseErr distinguishes a phase deadline, which becomes a *TimeoutError,
// from cancellation of the caller's context, which propagates as-is.
func (c *Conn) phaseErr(parent context.Context, err error) error {
	if parentErr := parent.Err(); parentErr != nil {
		return parentErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Timeout: c.ioTimeout}
	}
	return err
}
