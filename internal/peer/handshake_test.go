package peer

import (
	"bytes"
	"errors"
	"testing"

	"github.com/riptide-dl/riptide/internal/metainfo"
)

func testHash() metainfo.Hash {
	var h metainfo.Hash
	copy(h[:], []byte("12345678901234567890"))
	return h
}

func TestHandshakeRoundTrip(t *testing.T) {
	original := Handshake{
		ProtocolID: DefaultProtocolID,
		InfoHash:   testHash(),
		PeerID:     "-RT0100-ABCDEFGHIJKL",
	}
	raw := original.Encode()

	wantLen := 1 + len(DefaultProtocolID) + 8 + 20 + 20
	if len(raw) != wantLen {
		t.Fatalf("wire length mismatch: got %d want %d", len(raw), wantLen)
	}
	if int(raw[0]) != len(DefaultProtocolID) {
		t.Fatalf("bad length prefix: %d", raw[0])
	}
	if !bytes.Equal(raw[1+len(DefaultProtocolID):1+len(DefaultProtocolID)+8], make([]byte, 8)) {
		t.Fatalf("reserved bytes must be zero")
	}

	decoded, err := ParseHandshake(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if decoded != original {
		t.Fatalf("round trip mismatch: got %+v want %+v", decoded, original)
	}
}

func TestParseHandshake_CustomProtocolID(t *testing.T) {
	original := Handshake{ProtocolID: "Custom proto", InfoHash: testHash(), PeerID: "-XX0001-abcdefghijkl"}
	decoded, err := ParseHandshake(original.Encode())
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if decoded != original {
		t.Fatalf("round trip mismatch: got %+v want %+v", decoded, original)
	}
}

func TestParseHandshake_Empty(t *testing.T) {
	if _, err := ParseHandshake(nil); !errors.Is(err, ErrEmptyHandshake) {
		t.Fatalf("expected ErrEmptyHandshake, got %v", err)
	}
}

func TestParseHandshake_Short(t *testing.T) {
	raw := Handshake{ProtocolID: DefaultProtocolID, InfoHash: testHash(), PeerID: "-RT0100-ABCDEFGHIJKL"}.Encode()
	if _, err := ParseHandshake(raw[:len(raw)-1]); !errors.Is(err, ErrInvalidHandshakeLength) {
		t.Fatalf("expected ErrInvalidHandshakeLength, got %v", err)
	}
}

func TestParseHandshake_TrailingBytesIgnored(t *testing.T) {
	original := Handshake{ProtocolID: DefaultProtocolID, InfoHash: testHash(), PeerID: "-RT0100-ABCDEFGHIJKL"}
	raw := append(original.Encode(), []byte("extra stream data")...)
	decoded, err := ParseHandshake(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if decoded != original {
		t.Fatalf("trailing bytes leaked into the message: %+v", decoded)
	}
}
