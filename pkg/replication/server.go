package replication

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/cuemby/vigil/pkg/auth"
	"github.com/cuemby/vigil/pkg/changelog"
	"github.com/cuemby/vigil/pkg/graph"
	"github.com/cuemby/vigil/pkg/log"
	"github.com/cuemby/vigil/pkg/metrics"
)

// Server accepts incoming replication connections from peers, validating
// their OIDC token and serving Push/Pull requests against the local
// change log and graph store. The wire protocol is symmetric with
// Agent's client side (see protocol.go).
type Server struct {
	oidc    *auth.Provider
	log     changelog.Recorder
	store   graph.Store
	metrics *metrics.Registry
}

// NewServer builds a replication Server.
func NewServer(oidc *auth.Provider, localLog changelog.Recorder, store graph.Store, reg *metrics.Registry) *Server {
	return &Server{oidc: oidc, log: localLog, store: store, metrics: reg}
}

// Serve accepts connections on ln until ctx is cancelled, handling each
// on its own goroutine.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	peerAddr := conn.RemoteAddr().String()
	logger := log.WithPeer(peerAddr)

	if tlsConn, ok := conn.(*tls.Conn); ok {
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			logger.Error().Err(err).Msg("TLS handshake failed")
			return
		}
	}

	rw := bufio.NewReadWriter(bufio.NewReader(conn), bufio.NewWriter(conn))

	if err := s.handleAuth(rw); err != nil {
		logger.Error().Err(err).Msg("peer authentication failed")
		s.metrics.SyncAuthFailures.WithLabelValues(peerAddr).Inc()
		return
	}

	for {
		msg, err := ReadMessage(rw.Reader)
		if err != nil {
			logger.Debug().Err(err).Msg("connection closed")
			return
		}

		switch msg.Type {
		case TypePush:
			s.handlePush(rw, msg)
		case TypePull:
			s.handlePull(rw, msg, peerAddr)
		case TypePing:
			WriteMessage(rw.Writer, Message{Type: TypePong})
		default:
			WriteMessage(rw.Writer, Message{Type: TypeError, ErrorMessage: fmt.Sprintf("unexpected message type: %s", msg.Type)})
		}
	}
}

func (s *Server) handleAuth(rw *bufio.ReadWriter) error {
	msg, err := ReadMessage(rw.Reader)
	if err != nil {
		return err
	}
	if msg.Type != TypeAuth {
		WriteMessage(rw.Writer, Message{Type: TypeAuthFailed, Reason: "expected auth message first"})
		return fmt.Errorf("expected auth message, got %s", msg.Type)
	}

	if _, err := s.oidc.ValidateToken(context.Background(), msg.Token); err != nil {
		WriteMessage(rw.Writer, Message{Type: TypeAuthFailed, Reason: "invalid token"})
		return err
	}

	return WriteMessage(rw.Writer, Message{Type: TypeAuthOK})
}

func (s *Server) handlePush(rw *bufio.ReadWriter, msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, e := range msg.Entries {
		s.log.Append(e.Label, e.Key, e.Props, e.Tombstone, e.Version)

		ev := graph.EntityVersion{
			EntityType: e.Label,
			Key:        e.Key,
			Props:      e.Props,
			Tombstone:  e.Tombstone,
		}
		if err := s.store.MergeEntity(ctx, ev); err != nil {
			log.WithComponent("replication").Error().Err(err).Str("key", e.Key).Msg("failed to apply pushed entry")
		}
	}

	WriteMessage(rw.Writer, Message{Type: TypePushAck, Count: len(msg.Entries)})
}

func (s *Server) handlePull(rw *bufio.ReadWriter, msg Message, peerAddr string) {
	since := time.Unix(msg.SinceTimestampUnix, 0).UTC()
	entries := s.log.Since(since)

	s.metrics.SyncPeerWatermark.WithLabelValues(peerAddr).Set(float64(msg.SinceTimestampUnix))

	WriteMessage(rw.Writer, Message{Type: TypePullResponse, Entries: entries})
}
