// Package client composes the metainfo parser, tracker client and peer
// handshake into one download attempt: parse the file, announce, then
// handshake with every returned peer concurrently.
package client

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/riptide-dl/riptide/internal/metainfo"
	"github.com/riptide-dl/riptide/internal/peer"
	"github.com/riptide-dl/riptide/internal/tracker"
)

// peerIDPrefix identifies this client in the Azureus-style peer id
// convention; the remaining 12 bytes are random alphanumerics.
const peerIDPrefix = "-RT0100-"

const peerIDLen = 20

const peerIDAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// Config carries the per-run timeouts. It is immutable and shared read-only
// across every concurrent handshake attempt of a run.
type Config struct {
	// StreamConnectTimeout bounds opening the TCP connection to one peer.
	StreamConnectTimeout time.Duration
	// HandshakeIOTimeout bounds the handshake send and receive phases, each
	// independently.
	HandshakeIOTimeout time.Duration
	// Port is announced to the tracker; tracker.DefaultPort when zero.
	Port uint16
}

// DefaultConfig mirrors the defaults of the reference client.
func DefaultConfig() Config {
	return Config{
		StreamConnectTimeout: 30 * time.Second,
		HandshakeIOTimeout:   30 * time.Second,
	}
}

// InternalTaskError reports that a handshake goroutine failed abnormally
// rather than through an ordinary protocol or I/O error. It is the only
// per-peer condition escalated to the caller.
type InternalTaskError struct {
	Peer  string
	Panic any
}

func (e *InternalTaskError) Error() string {
	return fmt.Sprintf("internal fault in peer task %s: %v", e.Peer, e.Panic)
}

// Summary aggregates the per-peer outcomes of one run.
type Summary struct {
	RunID     string
	Torrent   string
	Attempted int
	Succeeded int
	Failed    int
}

// Client is the connection orchestrator.
type Client struct {
	httpClient *http.Client
	peerID     string
	cfg        Config
	log        zerolog.Logger

	// handshake performs the connect-and-handshake step of one attempt;
	// tests substitute it to simulate abnormal peer task behavior.
	handshake func(ctx context.Context, addr tracker.PeerAddress, infoHash metainfo.Hash, log zerolog.Logger) error
}

// New builds a client with a time-seeded peer id source.
func New(cfg Config, log zerolog.Logger) *Client {
	return NewWithRand(cfg, log, rand.New(rand.NewSource(time.Now().UnixNano())))
}

// NewWithRand builds a client whose peer id is drawn from r, so tests can
// pin the generated identity.
func NewWithRand(cfg Config, log zerolog.Logger, r *rand.Rand) *Client {
	c := &Client{
		httpClient: &http.Client{},
		peerID:     GeneratePeerID(r),
		cfg:        cfg,
		log:        log,
	}
	c.handshake = c.connectAndHandshake
	return c
}

// PeerID returns the identity this client announces and handshakes with.
func (c *Client) PeerID() string {
	return c.peerID
}

// GeneratePeerID draws a 20-byte peer id with the client prefix from r.
func GeneratePeerID(r *rand.Rand) string {
	id := make([]byte, 0, peerIDLen)
	id = append(id, peerIDPrefix...)
	for len(id) < peerIDLen {
		id = append(id, peerIDAlphabet[r.Intn(len(peerIDAlphabet))])
	}
	return string(id)
}

// Download runs one full attempt: parse the torrent file at path, announce,
// then fan a handshake out to every returned peer. Per-peer failures are
// logged and counted but never fail the run; the error return is non-nil only
// for fail-fast errors before the fan-out or an InternalTaskError inside it.
func (c *Client) Download(ctx context.Context, path string) (Summary, error) {
	summary := Summary{RunID: uuid.NewString()}
	log := c.log.With().Str("run_id", summary.RunID).Logger()

	torrent, err := metainfo.Load(path)
	if err != nil {
		return summary, err
	}
	summary.Torrent = torrent.Name
	log.Debug().Str("torrent", torrent.Name).Stringer("info_hash", torrent.InfoHash).Msg("torrent file parsed")

	resp, err := tracker.Announce(ctx, c.httpClient, torrent.Announce, tracker.AnnounceRequest{
		InfoHash: torrent.InfoHash,
		PeerID:   c.peerID,
		Port:     c.cfg.Port,
		Left:     uint64(torrent.Length),
		Compact:  true,
	})
	if err != nil {
		return summary, err
	}
	if resp.WarningMessage != "" {
		log.Warn().Str("message", resp.WarningMessage).Msg("tracker warning")
	}
	peers, err := resp.Peers()
	if err != nil {
		return summary, err
	}
	log.Info().Int("peers", len(peers)).Msg("peers found")

	type outcome struct {
		peer string
		err  error
	}
	outcomes := make(chan outcome, len(peers))
	var wg sync.WaitGroup
	for _, addr := range peers {
		wg.Add(1)
		go func(addr tracker.PeerAddress) {
			defer wg.Done()
			outcomes <- outcome{peer: addr.String(), err: c.attempt(ctx, addr, torrent.InfoHash, log)}
		}(addr)
	}
	wg.Wait()
	close(outcomes)

	var fault *InternalTaskError
	for out := range outcomes {
		summary.Attempted++
		switch {
		case out.err == nil:
			summary.Succeeded++
			log.Debug().Str("peer", out.peer).Msg("handshake succeeded")
		default:
			summary.Failed++
			log.Debug().Str("peer", out.peer).Err(out.err).Msg("peer connection error")
			var taskErr *InternalTaskError
			if errors.As(out.err, &taskErr) && fault == nil {
				fault = taskErr
			}
		}
	}

	log.Info().
		Int("attempted", summary.Attempted).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Msg("run complete")
	if fault != nil {
		return summary, fault
	}
	return summary, nil
}

// attempt is one unit of concurrent work. A panic is turned into an
// *InternalTaskError instead of taking the process down.
func (c *Client) attempt(ctx context.Context, addr tracker.PeerAddress, infoHash metainfo.Hash, log zerolog.Logger) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &InternalTaskError{Peer: addr.String(), Panic: r}
		}
	}()
	return c.handshake(ctx, addr, infoHash, log)
}

// connectAndHandshake dials the peer, runs the handshake, then shuts the
// stream down.
func (c *Client) connectAndHandshake(ctx context.Context, addr tracker.PeerAddress, infoHash metainfo.Hash, log zerolog.Logger) error {
	transport, err := peer.DialTCP(ctx, addr.String(), c.cfg.StreamConnectTimeout)
	if err != nil {
		return err
	}

	conn := peer.NewConn(transport, c.cfg.HandshakeIOTimeout, log)
	if err := conn.Handshake(ctx, c.peerID, infoHash); err != nil {
		_ = transport.Close()
		return err
	}

	// successful handshake is the terminal outcome; disconnect gracefully
	_ = transport.CloseWrite()
	return transport.Close()
}
