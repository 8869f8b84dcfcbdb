package tracker

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/riptide-dl/riptide/internal/bencode"
	"github.com/riptide-dl/riptide/internal/metainfo"
)

func testRequest() AnnounceRequest {
	var ih metainfo.Hash
	copy(ih[:], []byte{0x00, 0x01, 0x0A, 0xFF, 0x7F, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19})
	return AnnounceRequest{
		InfoHash: ih,
		PeerID:   "-RT0100-ABCDEFGHIJKL",
		Left:     42,
		Compact:  true,
	}
}

func TestBuildAnnounceURL(t *testing.T) {
	req := testRequest()
	announceURL, err := BuildAnnounceURL("http://tracker.example/announce", req)
	require.NoError(t, err)

	u, err := url.Parse(announceURL)
	require.NoError(t, err)

	for _, param := range []string{"info_hash", "peer_id", "port", "uploaded", "downloaded", "left", "compact"} {
		require.Equalf(t, 1, strings.Count(u.RawQuery, param+"="), "parameter %s must appear exactly once", param)
	}
	require.NotContains(t, u.RawQuery, "trackerid", "trackerid must be omitted when unknown")

	q := u.Query()
	require.Equal(t, string(req.InfoHash[:]), q.Get("info_hash"), "info_hash must decode back to the raw 20 bytes")
	require.Contains(t, u.RawQuery, url.QueryEscape(string(req.InfoHash[:])), "info_hash must be percent-encoded as opaque bytes")
	require.Equal(t, "-RT0100-ABCDEFGHIJKL", q.Get("peer_id"))
	require.Equal(t, "6881", q.Get("port"), "default port")
	require.Equal(t, "0", q.Get("uploaded"))
	require.Equal(t, "0", q.Get("downloaded"))
	require.Equal(t, "42", q.Get("left"))
	require.Equal(t, "1", q.Get("compact"))
}

func TestBuildAnnounceURL_TrackerID(t *testing.T) {
	req := testRequest()
	req.TrackerID = "abc123"
	req.Port = 7000
	req.Compact = false
	announceURL, err := BuildAnnounceURL("http://tracker.example/announce", req)
	require.NoError(t, err)

	q, err := url.ParseQuery(strings.SplitN(announceURL, "?", 2)[1])
	require.NoError(t, err)
	require.Equal(t, "abc123", q.Get("trackerid"))
	require.Equal(t, "7000", q.Get("port"))
	require.Equal(t, "0", q.Get("compact"))
}

func TestAnnounce_Compact(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("info_hash") == "" {
			http.Error(w, "missing info_hash", http.StatusBadRequest)
			return
		}
		body, _ := bencode.Encode(map[string]any{
			"interval":   int64(1800),
			"complete":   int64(3),
			"incomplete": int64(7),
			"tracker id": "trk-1",
			"peers":      []byte{127, 0, 0, 1, 0x1F, 0x90},
		})
		_, _ = w.Write(body)
	}))
	defer s.Close()

	resp, err := Announce(context.Background(), s.Client(), s.URL, testRequest())
	if err != nil {
		t.Fatalf("announce failed: %v", err)
	}
	if resp.Interval != 1800 || resp.Complete != 3 || resp.Incomplete != 7 || resp.TrackerID != "trk-1" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	peers, err := resp.Peers()
	if err != nil {
		t.Fatalf("peers failed: %v", err)
	}
	if len(peers) != 1 || !peers[0].IP.Equal(net.IPv4(127, 0, 0, 1)) || peers[0].Port != 8080 {
		t.Fatalf("unexpected peers: %v", peers)
	}
}

func TestAnnounce_PeerList(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := bencode.Encode(map[string]any{
			"interval": int64(120),
			"peers": []any{
				map[string]any{
					"peer id": []byte("ABCDEFGHIJKLMNOPQRST"),
					"ip":      []byte("127.0.0.1"),
					"port":    int64(6881),
				},
			},
		})
		_, _ = w.Write(body)
	}))
	defer s.Close()

	resp, err := Announce(context.Background(), s.Client(), s.URL, testRequest())
	if err != nil {
		t.Fatalf("announce failed: %v", err)
	}
	peers, err := resp.Peers()
	if err != nil {
		t.Fatalf("peers failed: %v", err)
	}
	if len(peers) != 1 || peers[0].Port != 6881 {
		t.Fatalf("unexpected peers: %v", peers)
	}
}

func TestAnnounce_FailureReason(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := bencode.Encode(map[string]any{
			"failure reason": "torrent not registered",
		})
		_, _ = w.Write(body)
	}))
	defer s.Close()

	_, err := Announce(context.Background(), s.Client(), s.URL, testRequest())
	var failure *FailureError
	if !errors.As(err, &failure) {
		t.Fatalf("expected FailureError, got %v", err)
	}
	if failure.Reason != "torrent not registered" {
		t.Fatalf("unexpected reason: %s", failure.Reason)
	}
}

func TestAnnounce_HTTPError(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "tracker exploded", http.StatusInternalServerError)
	}))
	defer s.Close()

	if _, err := Announce(context.Background(), s.Client(), s.URL, testRequest()); err == nil {
		t.Fatalf("expected error for HTTP 500")
	}
}

func TestAnnounce_UndecodableBody(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>not bencode</html>"))
	}))
	defer s.Close()

	_, err := Announce(context.Background(), s.Client(), s.URL, testRequest())
	if !errors.Is(err, ErrDecodeResponse) {
		t.Fatalf("expected ErrDecodeResponse, got %v", err)
	}
}

func TestDecodeResponse_MissingPeers(t *testing.T) {
	_, err := DecodeResponse([]byte("d8:intervali1800ee"))
	if !errors.Is(err, ErrDecodeResponse) {
		t.Fatalf("a response without a peers field must be rejected, got %v", err)
	}
}

func TestDecodeResponse_MissingInterval(t *testing.T) {
	body, err := bencode.Encode(map[string]any{
		"peers": []byte{127, 0, 0, 1, 0x1A, 0xE1},
	})
	require.NoError(t, err)

	_, err = DecodeResponse(body)
	if !errors.Is(err, ErrDecodeResponse) {
		t.Fatalf("a response without an interval must be rejected, got %v", err)
	}
}

func TestDecodeResponse_FailureReasonOnly(t *testing.T) {
	body, err := bencode.Encode(map[string]any{
		"failure reason": "torrent not registered",
	})
	require.NoError(t, err)

	resp, err := DecodeResponse(body)
	require.NoError(t, err, "failure responses legitimately omit interval and peers")
	require.Equal(t, "torrent not registered", resp.FailureReason)
}

func TestDecodeResponse_WarningAndMinInterval(t *testing.T) {
	body, err := bencode.Encode(map[string]any{
		"interval":        int64(900),
		"min interval":    int64(60),
		"warning message": "slow down",
		"peers":           []byte{},
	})
	require.NoError(t, err)

	resp, err := DecodeResponse(body)
	require.NoError(t, err)
	require.Equal(t, int64(900), resp.Interval)
	require.Equal(t, int64(60), resp.MinInterval)
	require.Equal(t, "slow down", resp.WarningMessage)

	peers, err := resp.Peers()
	require.NoError(t, err)
	require.Empty(t, peers)
}
