// Package metainfo parses .torrent files and derives the torrent identity.
package metainfo

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/riptide-dl/riptide/internal/bencode"
)

// HashSize is the size of a SHA-1 digest in bytes.
const HashSize = 20

// Hash is a SHA-1 digest: either the torrent identity (info hash) or one
// entry of the piece-digest table.
type Hash [HashSize]byte

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

var (
	// ErrReadFile wraps any I/O failure while reading a .torrent file.
	ErrReadFile = errors.New("failed to read torrent file")
	// ErrParseFile wraps any bencode or structural failure of a .torrent file.
	ErrParseFile = errors.New("failed to parse torrent file")
	// ErrInvalidPiecesData reports a pieces byte string whose length is not a
	// multiple of HashSize.
	ErrInvalidPiecesData = errors.New("invalid number of bytes in info.pieces")
)

// TorrentFile is the parsed form of a single-file .torrent. It is immutable
// after parsing.
type TorrentFile struct {
	Announce    string
	InfoHash    Hash
	PieceHashes []Hash
	PieceLength int64
	Length      int64
	Name        string
}

// Load reads and parses the .torrent file at path.
func Load(path string) (*TorrentFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReadFile, err)
	}
	return Parse(data)
}

// Parse decodes the raw bytes of a .torrent file.
//
// The info hash is computed by re-encoding the known fields of the info
// dictionary back into canonical bencode (sorted keys) and hashing the
// result, so the identity depends only on the logical field values.
func Parse(data []byte) (*TorrentFile, error) {
	v, err := bencode.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParseFile, err)
	}
	root, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: top-level value is not a dictionary", ErrParseFile)
	}

	announce, ok := root["announce"].([]byte)
	if !ok {
		return nil, fmt.Errorf("%w: missing announce", ErrParseFile)
	}
	info, ok := root["info"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: missing info dictionary", ErrParseFile)
	}

	pieces, ok := info["pieces"].([]byte)
	if !ok {
		return nil, fmt.Errorf("%w: missing info.pieces", ErrParseFile)
	}
	pieceLength, ok := info["piece length"].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: missing info.piece length", ErrParseFile)
	}
	length, ok := info["length"].(int64)
	if !ok {
		return nil, fmt.Errorf("%w: missing info.length", ErrParseFile)
	}
	name, ok := info["name"].([]byte)
	if !ok {
		return nil, fmt.Errorf("%w: missing info.name", ErrParseFile)
	}

	pieceHashes, err := splitPieces(pieces)
	if err != nil {
		return nil, err
	}

	infoHash, err := hashInfo(info)
	if err != nil {
		return nil, err
	}

	return &TorrentFile{
		Announce:    string(announce),
		InfoHash:    infoHash,
		PieceHashes: pieceHashes,
		PieceLength: pieceLength,
		Length:      length,
		Name:        string(name),
	}, nil
}

func splitPieces(pieces []byte) ([]Hash, error) {
	if len(pieces)%HashSize != 0 {
		return nil, ErrInvalidPiecesData
	}
	hashes := make([]Hash, len(pieces)/HashSize)
	for i := range hashes {
		copy(hashes[i][:], pieces[i*HashSize:(i+1)*HashSize])
	}
	return hashes, nil
}

// hashInfo re-encodes only the tracker-visible fields of the info dictionary
// and hashes the canonical bytes. Keys outside the info dictionary (announce
// among them) never contribute to the identity.
func hashInfo(info map[string]any) (Hash, error) {
	canonical := map[string]any{
		"pieces":       info["pieces"],
		"piece length": info["piece length"],
		"length":       info["length"],
		"name":         info["name"],
	}
	if md5sum, ok := info["md5sum"].([]byte); ok {
		canonical["md5sum"] = md5sum
	}
	encoded, err := bencode.Encode(canonical)
	if err != nil {
		return Hash{}, fmt.Errorf("%w: %w", ErrParseFile, err)
	}
	return sha1.Sum(encoded), nil
}
