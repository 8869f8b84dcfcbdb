// Package tracker implements the HTTP announce protocol: building the
// announce URL, issuing the request and decoding the bencoded response into
// peer addresses.
package tracker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/riptide-dl/riptide/internal/bencode"
	"github.com/riptide-dl/riptide/internal/metainfo"
)

// DefaultPort is the port announced to the tracker when none is configured.
const DefaultPort = 6881

// maxResponseBody caps how much of a tracker response is read.
const maxResponseBody = 1 << 20

var (
	// ErrDecodeResponse wraps any failure to decode the tracker response body.
	ErrDecodeResponse = errors.New("failed to decode tracker response")
)

// FailureError is returned when the tracker response carries a
// "failure reason".
type FailureError struct {
	Reason string
}

func (e *FailureError) Error() string {
	return "tracker failure: " + e.Reason
}

// AnnounceRequest holds the query parameters of one announce.
type AnnounceRequest struct {
	InfoHash   metainfo.Hash
	PeerID     string
	Port       uint16 // DefaultPort when zero
	Uploaded   uint64
	Downloaded uint64
	Left       uint64
	Compact    bool
	TrackerID  string // omitted when empty
}

// BuildAnnounceURL renders the full announce URL. The info hash is placed in
// the query as its raw 20 bytes so that percent-encoding treats it as an
// opaque byte sequence.
func BuildAnnounceURL(announce string, req AnnounceRequest) (string, error) {
	u, err := url.Parse(announce)
	if err != nil {
		return "", err
	}
	port := req.Port
	if port == 0 {
		port = DefaultPort
	}
	compact := "0"
	if req.Compact {
		compact = "1"
	}

	q := u.Query()
	q.Set("info_hash", string(req.InfoHash[:]))
	q.Set("peer_id", req.PeerID)
	q.Set("port", strconv.Itoa(int(port)))
	q.Set("uploaded", strconv.FormatUint(req.Uploaded, 10))
	q.Set("downloaded", strconv.FormatUint(req.Downloaded, 10))
	q.Set("left", strconv.FormatUint(req.Left, 10))
	q.Set("compact", compact)
	if req.TrackerID != "" {
		q.Set("trackerid", req.TrackerID)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Response is a decoded announce response. The peers payload keeps its
// decoded wire shape until Peers resolves it.
type Response struct {
	FailureReason  string
	WarningMessage string
	Interval       int64
	MinInterval    int64
	TrackerID      string
	Complete       int64
	Incomplete     int64

	peers any
}

// Peers normalizes whichever of the two peer encodings the tracker used into
// a flat address list.
func (r *Response) Peers() ([]PeerAddress, error) {
	switch peers := r.peers.(type) {
	case []byte:
		return parseCompactPeers(peers)
	case []any:
		return parsePeerList(peers)
	default:
		return nil, fmt.Errorf("%w: unexpected peers type %T", ErrDecodeResponse, peers)
	}
}

// Announce performs one HTTP announce. A response carrying a failure reason
// is returned as a *FailureError.
func Announce(ctx context.Context, httpc *http.Client, announce string, req AnnounceRequest) (*Response, error) {
	announceURL, err := BuildAnnounceURL(announce, req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, announceURL, nil)
	if err != nil {
		return nil, err
	}
	httpResp, err := httpc.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = httpResp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return nil, err
	}
	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, fmt.Errorf("tracker error: %s - %s", httpResp.Status, strings.TrimSpace(string(body)))
	}

	resp, err := DecodeResponse(body)
	if err != nil {
		return nil, err
	}
	if resp.FailureReason != "" {
		return nil, &FailureError{Reason: resp.FailureReason}
	}
	return resp, nil
}

// DecodeResponse decodes a bencoded announce response body. Unless the body
// carries a failure reason, the interval and peers fields are required; a
// response missing either is rejected rather than treated as peerless.
func DecodeResponse(body []byte) (*Response, error) {
	v, err := bencode.Decode(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecodeResponse, err)
	}
	m, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: body is not a dictionary", ErrDecodeResponse)
	}

	resp := &Response{peers: m["peers"]}
	if b, ok := m["failure reason"].([]byte); ok {
		resp.FailureReason = string(b)
	}
	if b, ok := m["warning message"].([]byte); ok {
		resp.WarningMessage = string(b)
	}
	if n, ok := m["interval"].(int64); ok {
		resp.Interval = n
	}
	if n, ok := m["min interval"].(int64); ok {
		resp.MinInterval = n
	}
	if b, ok := m["tracker id"].([]byte); ok {
		resp.TrackerID = string(b)
	}
	if n, ok := m["complete"].(int64); ok {
		resp.Complete = n
	}
	if n, ok := m["incomplete"].(int64); ok {
		resp.Incomplete = n
	}

	if resp.FailureReason == "" {
		if _, ok := m["interval"].(int64); !ok {
			return nil, fmt.Errorf("%w: missing interval", ErrDecodeResponse)
		}
		if resp.peers == nil {
			return nil, fmt.Errorf("%w: missing peers", ErrDecodeResponse)
		}
	}
	return resp, nil
}
