// Package server orchestrates all components: data store, handler registry, dispatcher,
// invalidation broadcaster, optional COMMS publishing and the HTTP/websocket endpoint.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"golang.org/x/time/rate"

	"github.com/morezero/livequery/internal/config"
	"github.com/morezero/livequery/pkg/dispatcher"
	"github.com/morezero/livequery/pkg/events"
	"github.com/morezero/livequery/pkg/protocol"
	"github.com/morezero/livequery/pkg/registry"
)

const logPrefix = "server:server"

// maxFrameBytes bounds a single inbound frame.
const maxFrameBytes = 1 << 20

// Store is the data-store surface the server itself needs. Handlers assert richer interfaces.
type Store interface {
	Ping(ctx context.Context) error
}

// Server accepts livequery websocket connections and serves them from a sealed registry.
type Server struct {
	cfg         *config.Config
	reg         *registry.Registry
	store       Store
	disp        *dispatcher.Dispatcher
	broadcaster *events.Broadcaster

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*session
	wg       conc.WaitGroup
}

// NewServerParams holds the dependencies for New.
type NewServerParams struct {
	Config   *config.Config
	Registry *registry.Registry
	Store    Store
	// Publisher receives an event after each invalidation broadcast. Nil disables publishing.
	Publisher events.EventPublisher
}

// New wires the dispatcher and broadcaster around the registry and store.
func New(params NewServerParams) *Server {
	b := events.NewBroadcaster(events.NewBroadcasterParams{
		Resolver:   params.Registry,
		Publisher:  params.Publisher,
		MaxWorkers: params.Config.BroadcastWorkers,
	})
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:   params.Config,
		reg:   params.Registry,
		store: params.Store,
		disp: dispatcher.NewDispatcher(dispatcher.NewDispatcherParams{
			Registry:  params.Registry,
			Store:     params.Store,
			Scheduler: b,
		}),
		broadcaster: b,
		ctx:         ctx,
		cancel:      cancel,
		sessions:    make(map[string]*session),
	}
}

// Broadcaster returns the invalidation broadcaster.
func (s *Server) Broadcaster() *events.Broadcaster { return s.broadcaster }

// Handler returns the HTTP handler serving the websocket endpoint, health checks and the
// handler index page.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(s.cfg.WSPath, s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/", s.handleHome())
	return mux
}

// Close disconnects every session and waits for in-flight dispatches to finish.
func (s *Server) Close() {
	s.cancel()
	s.mu.Lock()
	open := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		open = append(open, sess)
	}
	s.mu.Unlock()

	for _, sess := range open {
		_ = sess.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
	s.wg.Wait()
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientVersion := r.Header.Get(protocol.VersionHeader)
	if err := protocol.CheckVersion(s.cfg.ProtocolConstraint, clientVersion); err != nil {
		slog.Warn(fmt.Sprintf("%s - rejecting handshake from %s: %v", logPrefix, r.RemoteAddr, err))
		w.Header().Set(protocol.VersionHeader, protocol.Version)
		http.Error(w, err.Error(), http.StatusUpgradeRequired)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - websocket accept failed: %v", logPrefix, err))
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	sess := &session{
		id:           uuid.NewString(),
		conn:         conn,
		writeTimeout: s.cfg.WriteTimeout,
	}
	if s.cfg.MessageRate > 0 {
		sess.limiter = rate.NewLimiter(rate.Limit(s.cfg.MessageRate), s.cfg.MessageBurst)
	}

	s.mu.Lock()
	s.sessions[sess.id] = sess
	s.mu.Unlock()
	s.broadcaster.Add(sess)
	slog.Info(fmt.Sprintf("%s - connection %s opened from %s (%d open)", logPrefix, sess.id, r.RemoteAddr, s.broadcaster.Count()))

	done := make(chan struct{})
	s.wg.Go(func() {
		defer close(done)
		s.serveSession(sess)

		s.broadcaster.Remove(sess.id)
		s.mu.Lock()
		delete(s.sessions, sess.id)
		s.mu.Unlock()
		_ = conn.Close(websocket.StatusNormalClosure, "")
		slog.Info(fmt.Sprintf("%s - connection %s closed", logPrefix, sess.id))
	})
	<-done
}

// serveSession reads frames until the socket fails. Each frame is dispatched on its own
// goroutine so slow handlers do not block later messages; responses may complete out of order.
func (s *Server) serveSession(sess *session) {
	var inflight conc.WaitGroup
	defer inflight.Wait()

	for {
		_, data, err := sess.conn.Read(s.ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && s.ctx.Err() == nil {
				slog.Debug(fmt.Sprintf("%s - connection %s read: %v", logPrefix, sess.id, err))
			}
			return
		}
		if sess.limiter != nil {
			if err := sess.limiter.Wait(s.ctx); err != nil {
				return
			}
		}

		inflight.Go(func() {
			// Handlers keep running after the client leaves; the send then fails and is dropped.
			ctx := context.WithoutCancel(s.ctx)
			_ = s.disp.Serve(ctx, sess.id, data, func(resp *protocol.Message) error {
				return sess.sendMessage(ctx, resp)
			})
		})
	}
}

// ConnectionCount returns the number of open sessions.
func (s *Server) ConnectionCount() int { return s.broadcaster.Count() }
