package tracker

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"
)

// compactPeerLen is the size of one peer entry in the compact tracker
// encoding: 4 bytes IPv4 followed by a big-endian uint16 port.
const compactPeerLen = 6

// ErrIPAddressParse is wrapped when a peer dictionary carries an IP string
// that does not parse as a textual IP address.
var ErrIPAddressParse = errors.New("failed to parse IP address")

// InvalidPeerLengthError reports a compact peers byte string whose trailing
// chunk is shorter than a full peer entry.
type InvalidPeerLengthError struct {
	Length int
}

func (e *InvalidPeerLengthError) Error() string {
	return fmt.Sprintf("invalid length of bytes of peer address: %d", e.Length)
}

// PeerAddress is one candidate peer returned by the tracker.
type PeerAddress struct {
	IP   net.IP
	Port uint16
}

func (p PeerAddress) String() string {
	return net.JoinHostPort(p.IP.String(), strconv.Itoa(int(p.Port)))
}

// parseCompactPeers splits a compact peers byte string into addresses.
// A short trailing chunk is an error, never silently dropped.
func parseCompactPeers(b []byte) ([]PeerAddress, error) {
	if rem := len(b) % compactPeerLen; rem != 0 {
		return nil, &InvalidPeerLengthError{Length: rem}
	}
	peers := make([]PeerAddress, 0, len(b)/compactPeerLen)
	for i := 0; i < len(b); i += compactPeerLen {
		peers = append(peers, PeerAddress{
			IP:   net.IPv4(b[i], b[i+1], b[i+2], b[i+3]),
			Port: binary.BigEndian.Uint16(b[i+4 : i+6]),
		})
	}
	return peers, nil
}

// parsePeerList decodes the non-compact form: a list of dictionaries with
// "peer id", "ip" and "port" keys. The peer id is not surfaced.
func parsePeerList(list []any) ([]PeerAddress, error) {
	peers := make([]PeerAddress, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: peer entry is not a dictionary", ErrDecodeResponse)
		}
		ipRaw, ok := m["ip"].([]byte)
		if !ok {
			return nil, fmt.Errorf("%w: peer entry missing ip", ErrDecodeResponse)
		}
		port, ok := m["port"].(int64)
		if !ok || port < 0 || port > 65535 {
			return nil, fmt.Errorf("%w: peer entry missing port", ErrDecodeResponse)
		}
		ip := net.ParseIP(string(ipRaw))
		if ip == nil {
			return nil, fmt.Errorf("%w: %q", ErrIPAddressParse, string(ipRaw))
		}
		peers = append(peers, PeerAddress{IP: ip, Port: uint16(port)})
	}
	return peers, nil
}
