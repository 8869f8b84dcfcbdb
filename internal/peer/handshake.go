// Package peer implements the peer wire handshake: the binary codec, a
// transport capability abstraction and the timeout-bounded state machine that
// drives the exchange over a live connection.
package peer

import (
	"errors"
	"fmt"
	"time"

	"github.com/riptide-dl/riptide/internal/metainfo"
)

// DefaultProtocolID is the protocol identifier of the standard peer wire
// protocol.
const DefaultProtocolID = "BitTorrent protocol"

// handshakeBaseLen is the wire size of a handshake minus the protocol id and
// its length byte: 8 reserved + 20 info hash + 20 peer id + 1 length prefix.
const handshakeBaseLen = 49

var (
	// ErrEmptyHandshake reports a zero-length handshake message.
	ErrEmptyHandshake = errors.New("empty handshake message")
	// ErrInvalidHandshakeLength reports a handshake shorter than its length
	// prefix promises.
	ErrInvalidHandshakeLength = errors.New("invalid handshake message bytes length")
)

// InvalidHandshakeError is returned when a peer answers with a handshake for
// a different info hash. It carries the full decoded message for diagnostics.
type InvalidHandshakeError struct {
	Handshake Handshake
}

func (e *InvalidHandshakeError) Error() string {
	return fmt.Sprintf("invalid response handshake message: protocol_id=%q peer_id=%q info_hash=%s",
		e.Handshake.ProtocolID, e.Handshake.PeerID, e.Handshake.InfoHash)
}

// TimeoutError reports that one handshake phase exceeded its I/O budget.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("peer connection I/O timeout: %s", e.Timeout)
}

// Handshake is the first message exchanged on a peer connection.
type Handshake struct {
	ProtocolID string
	InfoHash   metainfo.Hash
	PeerID     string
}

// Encode serializes the handshake: one length byte, the protocol id, 8 zero
// reserved bytes, the info hash, then the peer id.
func (h Handshake) Encode() []byte {
	buf := make([]byte, 0, 1+len(h.ProtocolID)+8+metainfo.HashSize+len(h.PeerID))
	buf = append(buf, byte(len(h.ProtocolID)))
	buf = append(buf, h.ProtocolID...)
	buf = append(buf, make([]byte, 8)...)
	buf = append(buf, h.InfoHash[:]...)
	buf = append(buf, h.PeerID...)
	return buf
}

// ParseHandshake decodes a handshake from raw bytes. The expected total
// length is the protocol id length prefix plus handshakeBaseLen; bytes beyond
// it are ignored. The protocol id content is not validated here.
func ParseHandshake(raw []byte) (Handshake, error) {
	if len(raw) == 0 {
		return Handshake{}, ErrEmptyHandshake
	}
	pstrLen := int(raw[0])
	total := pstrLen + handshakeBaseLen
	if len(raw) < total {
		return Handshake{}, ErrInvalidHandshakeLength
	}

	msg := raw[1:total]
	var h Handshake
	h.ProtocolID = string(msg[:pstrLen])
	copy(h.InfoHash[:], msg[pstrLen+8:pstrLen+8+metainfo.HashSize])
	h.PeerID = string(msg[pstrLen+8+metainfo.HashSize:])
	return h, nil
}
