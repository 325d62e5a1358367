package replication

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/cuemby/vigil/pkg/auth"
	"github.com/cuemby/vigil/pkg/changelog"
	"github.com/cuemby/vigil/pkg/graph"
	"github.com/cuemby/vigil/pkg/log"
	"github.com/cuemby/vigil/pkg/merge"
	"github.com/cuemby/vigil/pkg/metrics"
	"github.com/cuemby/vigil/pkg/vigilerr"
)

// PeerConfig describes one replication peer this agent syncs with.
type PeerConfig struct {
	Host             string
	Port             int
	SNIHostname      string
	SyncInterval     time.Duration
	ReconnectBackoff time.Duration // base backoff (default 5s); a random jitter of up to 5s is added on top
}

func (p PeerConfig) addr() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

// Agent drives push/pull replication with a fixed set of peers. Each
// peer gets its own background sync loop, started by Start and stopped
// by cancelling the context passed to it.
type Agent struct {
	nodeID     string
	oidc       *auth.Provider
	tlsConfig  *tls.Config
	peers      []PeerConfig
	log        changelog.Recorder
	store      graph.Store
	resolver   *merge.Resolver
	watermarks Watermarks
	metrics    *metrics.Registry

	mu      sync.Mutex
	pending []graph.ChangeLogEntry
}

// NewAgent builds a replication Agent. tlsConfig should come from
// security.BuildClientTLSConfig so the TLS1.3-only, CA-pinned policy is
// shared across every peer connection.
func NewAgent(nodeID string, oidc *auth.Provider, tlsConfig *tls.Config, peers []PeerConfig, localLog changelog.Recorder, store graph.Store, resolver *merge.Resolver, watermarks Watermarks, reg *metrics.Registry) *Agent {
	return &Agent{
		nodeID:     nodeID,
		oidc:       oidc,
		tlsConfig:  tlsConfig,
		peers:      peers,
		log:        localLog,
		store:      store,
		resolver:   resolver,
		watermarks: watermarks,
		metrics:    reg,
	}
}

// Enqueue adds a local change to the set pushed on the next sync cycle
// with every peer.
func (a *Agent) Enqueue(entry graph.ChangeLogEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending = append(a.pending, entry)
}

// Start launches one background sync loop per configured peer. Returns
// once all loops have been spawned; loops run until ctx is cancelled.
func (a *Agent) Start(ctx context.Context) {
	for _, peer := range a.peers {
		peer := peer
		go a.syncLoop(ctx, peer)
	}
}

func (a *Agent) syncLoop(ctx context.Context, peer PeerConfig) {
	interval := peer.SyncInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	backoffBase := peer.ReconnectBackoff
	if backoffBase <= 0 {
		backoffBase = 5 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger := log.WithPeer(peer.addr())

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.syncWithPeer(ctx, peer); err != nil {
				logger.Error().Err(err).Msg("sync cycle failed")
				a.metrics.SyncReconnects.WithLabelValues(peer.addr()).Inc()

				jitter := time.Duration(rand.Intn(5000)) * time.Millisecond
				select {
				case <-ctx.Done():
					return
				case <-time.After(backoffBase + jitter):
				}
			} else {
				logger.Debug().Msg("sync cycle completed")
			}
		}
	}
}

func (a *Agent) syncWithPeer(ctx context.Context, peer PeerConfig) error {
	conn, err := a.dialTLS(ctx, peer)
	if err != nil {
		return err
	}
	defer conn.Close()

	rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))

	if err := a.authenticate(rw); err != nil {
		a.metrics.SyncAuthFailures.WithLabelValues(peer.addr()).Inc()
		return err
	}

	if err := a.pushChanges(rw, peer); err != nil {
		return err
	}

	if err := a.pullChanges(rw, peer); err != nil {
		return err
	}

	return nil
}

func (a *Agent) dialTLS(ctx context.Context, peer PeerConfig) (*tls.Conn, error) {
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	cfg := a.tlsConfig.Clone()
	cfg.ServerName = peer.SNIHostname

	conn, err := tls.DialWithDialer(dialer, "tcp", peer.addr(), cfg)
	if err != nil {
		return nil, vigilerr.Wrap(vigilerr.KindAuthFailed, "TLS handshake with peer failed", err)
	}
	return conn, nil
}

func (a *Agent) authenticate(rw *bufio.ReadWriter) error {
	token, err := a.oidc.GetClientCredentialsToken(context.Background(), "sync")
	if err != nil {
		return vigilerr.Wrap(vigilerr.KindAuthFailed, "failed to obtain OIDC token", err)
	}

	if err := WriteMessage(rw.Writer, Message{Type: TypeAuth, Token: token}); err != nil {
		return err
	}

	resp, err := ReadMessage(rw.Reader)
	if err != nil {
		return err
	}

	switch resp.Type {
	case TypeAuthOK:
		return nil
	case TypeAuthFailed:
		return vigilerr.New(vigilerr.KindAuthFailed, "peer rejected authentication: "+resp.Reason)
	default:
		return vigilerr.New(vigilerr.KindAuthFailed, fmt.Sprintf("unexpected response to auth: %s", resp.Type))
	}
}

func (a *Agent) pushChanges(rw *bufio.ReadWriter, peer PeerConfig) error {
	a.metrics.SyncPushesTotal.WithLabelValues(peer.addr()).Inc()

	a.mu.Lock()
	if len(a.pending) == 0 {
		a.mu.Unlock()
		return nil
	}
	toSend := make([]graph.ChangeLogEntry, len(a.pending))
	copy(toSend, a.pending)
	a.mu.Unlock()

	if err := WriteMessage(rw.Writer, Message{Type: TypePush, Entries: toSend}); err != nil {
		return err
	}

	resp, err := ReadMessage(rw.Reader)
	if err != nil {
		return err
	}

	switch resp.Type {
	case TypePushAck:
		if resp.Count != len(toSend) {
			return vigilerr.New(vigilerr.KindPushCountMismatch, fmt.Sprintf("push ack count mismatch: expected %d, got %d", len(toSend), resp.Count))
		}
		a.mu.Lock()
		a.pending = a.pending[len(toSend):]
		a.mu.Unlock()
		return nil
	case TypeError:
		return vigilerr.New(vigilerr.KindBatchFailed, "push failed: "+resp.ErrorMessage)
	default:
		return vigilerr.New(vigilerr.KindBatchFailed, fmt.Sprintf("unexpected response to push: %s", resp.Type))
	}
}

func (a *Agent) pullChanges(rw *bufio.ReadWriter, peer PeerConfig) error {
	a.metrics.SyncPullsTotal.WithLabelValues(peer.addr()).Inc()

	since := a.watermarks.Get(peer.addr())

	if err := WriteMessage(rw.Writer, Message{Type: TypePull, SinceTimestampUnix: since}); err != nil {
		return err
	}

	resp, err := ReadMessage(rw.Reader)
	if err != nil {
		return err
	}

	switch resp.Type {
	case TypePullResponse:
		ctx := context.Background()
		maxTS := since
		for _, e := range resp.Entries {
			if ts := e.Timestamp.Unix(); ts > maxTS {
				maxTS = ts
			}
			ev := graph.EntityVersion{
				EntityType: e.Label,
				Key:        e.Key,
				Props:      e.Props,
				Tombstone:  e.Tombstone,
			}
			if err := a.store.MergeEntity(ctx, ev); err != nil {
				log.WithPeer(peer.addr()).Error().Err(err).Str("key", e.Key).Msg("failed to apply pulled entry")
			}
		}
		if maxTS > since {
			a.watermarks.Set(peer.addr(), maxTS)
		}
		a.metrics.SyncPeerWatermark.WithLabelValues(peer.addr()).Set(float64(a.watermarks.Get(peer.addr())))
		return nil
	case TypeError:
		return vigilerr.New(vigilerr.KindPullTimeout, "pull failed: "+resp.ErrorMessage)
	default:
		return vigilerr.New(vigilerr.KindPullTimeout, fmt.Sprintf("unexpected response to pull: %s", resp.Type))
	}
}
