// Package server exposes roost's local control surface: a JSON API over
// loopback plus a WebSocket feed of job updates on /api/events. The CLI and
// any UI talk to the daemon through the same endpoints.
package server

import (
	"context"
	"database/sql"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/roostlabs/roost/ai/tracker"
	"github.com/roostlabs/roost/am"
	"github.com/roostlabs/roost/errors"
	"github.com/roostlabs/roost/queue"
	"github.com/roostlabs/roost/queue/budget"
	"github.com/roostlabs/roost/queue/schedule"
	"github.com/roostlabs/roost/workspace"
)

const (
	// MaxClients is the maximum number of concurrent WebSocket clients.
	MaxClients = 32

	// ShutdownTimeout is how long Shutdown waits for goroutines to drain.
	ShutdownTimeout = 10 * time.Second
)

// Server is the HTTP and WebSocket control surface over a running daemon.
type Server struct {
	cfg    *am.Config
	db     *sql.DB
	queue  *queue.Queue
	pool   *queue.WorkerPool
	ticker *schedule.Ticker
	ws     *workspace.Workspace

	budget *budget.Tracker
	usage  *tracker.UsageTracker
	did    string

	httpServer *http.Server
	startedAt  time.Time
	logger     *zap.SugaredLogger

	// Hub state. run() owns the client set; register, unregister, and
	// broadcast all funnel through its select loop so channel sends and
	// closes never race.
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan any
	mu         sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires the control surface over the daemon's queue and stores. pool and
// ticker may be nil when the caller serves reads only; status reports the
// daemon as stopped in that case.
func New(cfg *am.Config, db *sql.DB, q *queue.Queue, pool *queue.WorkerPool, ticker *schedule.Ticker, ws *workspace.Workspace, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:        cfg,
		db:         db,
		queue:      q,
		pool:       pool,
		ticker:     ticker,
		ws:         ws,
		budget:     budget.NewTracker(db, budget.ConfigFromAM(cfg)),
		usage:      tracker.NewUsageTracker(db),
		startedAt:  time.Now(),
		logger:     logger,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan any, 64),
		ctx:        ctx,
		cancel:     cancel,
	}

	if ws != nil {
		identity, err := ws.LoadOrCreateIdentity()
		if err != nil {
			logger.Warnw("Failed to load workspace identity", "error", err)
		} else {
			s.did = identity.DID
		}
	}

	return s
}

// SetTicker attaches the schedule ticker. The ticker takes the server as
// its execution broadcaster, so construction order is server first, then
// ticker, then SetTicker — all before Start.
func (s *Server) SetTicker(t *schedule.Ticker) {
	s.ticker = t
}

// Start launches the hub and serves on server.listen_addr. It blocks until
// the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.startBackground()

	addr := s.cfg.Server.ListenAddr
	if addr == "" {
		addr = am.DefaultListenAddr
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.logger.Infow("Server listening", "addr", addr, "auth", s.cfg.Server.Token != "")

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrapf(err, "server failed on %s", addr)
	}
	return nil
}

// startBackground starts the hub loop and the queue subscription.
func (s *Server) startBackground() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run()
	}()

	s.startJobBroadcaster()
}

// Shutdown stops accepting requests, closes WebSocket connections, and waits
// for the hub to drain.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Infow("Server shutting down")

	var err error
	if s.httpServer != nil {
		err = s.httpServer.Shutdown(ctx)
	}

	// Close connections first so the client pumps unblock, then cancel the
	// hub and wait for everything to stop.
	s.mu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for client := range s.clients {
		clients = append(clients, client)
		delete(s.clients, client)
	}
	s.mu.Unlock()
	for _, client := range clients {
		client.conn.Close()
	}

	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Infow("Server shutdown complete")
	case <-time.After(ShutdownTimeout):
		s.logger.Warnw("Server goroutines did not stop in time", "timeout", ShutdownTimeout)
	}
	return err
}

// run is the hub event loop.
func (s *Server) run() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case client := <-s.register:
			s.addClient(client)
		case client := <-s.unregister:
			s.removeClient(client)
		case msg := <-s.broadcast:
			s.fanOut(msg)
		}
	}
}

func (s *Server) addClient(client *Client) {
	s.mu.Lock()
	if len(s.clients) >= MaxClients {
		s.mu.Unlock()
		s.logger.Warnw("Max clients reached, rejecting connection",
			"client_id", client.id,
			"max_clients", MaxClients,
		)
		client.conn.Close()
		client.close()
		return
	}
	s.clients[client] = true
	total := len(s.clients)
	s.mu.Unlock()

	s.logger.Infow("Client connected", "client_id", client.id, "total_clients", total)
}

func (s *Server) removeClient(client *Client) {
	s.mu.Lock()
	if _, ok := s.clients[client]; !ok {
		s.mu.Unlock()
		return
	}
	delete(s.clients, client)
	total := len(s.clients)
	s.mu.Unlock()

	client.close()
	s.logger.Infow("Client disconnected", "client_id", client.id, "total_clients", total)
}

// fanOut delivers msg to every connected client. A client whose send buffer
// is full is dropped rather than allowed to stall the feed for everyone
// else. Only run() calls this, which keeps channel sends and closes on a
// single goroutine.
func (s *Server) fanOut(msg any) {
	s.mu.RLock()
	clients := make([]*Client, 0, len(s.clients))
	for client := range s.clients {
		clients = append(clients, client)
	}
	s.mu.RUnlock()

	for _, client := range clients {
		select {
		case client.send <- msg:
		default:
			s.logger.Warnw("Client send buffer full, dropping client", "client_id", client.id)
			s.removeClient(client)
			client.conn.Close()
		}
	}
}

// broadcastEvent queues msg for fan-out without blocking the caller.
func (s *Server) broadcastEvent(msg any) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Warnw("Broadcast queue full, dropping event")
	}
}

func (s *Server) clientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}
