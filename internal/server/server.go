package server

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aethersync/aethersync/internal/config"
	"github.com/aethersync/aethersync/internal/core/observability/log"
	"github.com/aethersync/aethersync/internal/core/physics"
	"github.com/aethersync/aethersync/internal/core/protocol"
	"github.com/aethersync/aethersync/internal/core/rooms"
	"github.com/aethersync/aethersync/internal/core/store"
)

// task is one inbound envelope queued for dispatch.
type task struct {
	conn ClientConn
	env  protocol.Envelope
}

// Server owns the authoritative loop: it accepts connections, dispatches their
// messages through the registry, and drives the fixed-rate tick that steps
// physics and broadcasts room state.
type Server struct {
	cfg       config.Config
	logger    log.Log
	transport Transport
	registry  *protocol.Registry
	rooms     *rooms.Registry
	entities  *store.EntityStore
	stepper   *physics.Stepper
	cache     store.Cache
	auth      Authenticator

	mu    sync.RWMutex
	conns map[string]ClientConn

	tasks   chan task
	running int32
	ticks   uint64
	dropped uint64
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewServer(
	cfg config.Config,
	transport Transport,
	auth Authenticator,
	registry *protocol.Registry,
	roomRegistry *rooms.Registry,
	entities *store.EntityStore,
	stepper *physics.Stepper,
	cache store.Cache,
	logger log.Log,
) *Server {
	return &Server{
		cfg:       cfg,
		logger:    logger.With(log.String("component", "server")),
		transport: transport,
		registry:  registry,
		rooms:     roomRegistry,
		entities:  entities,
		stepper:   stepper,
		cache:     cache,
		auth:      auth,
		conns:     make(map[string]ClientConn),
		tasks:     make(chan task, cfg.MessageQueueSize),
	}
}

// Start brings the server up: handlers are registered, the transport begins
// listening, and the accept, dispatch, tick, and reap loops launch. It returns
// once everything is running.
func (s *Server) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		return ErrServerAlreadyRunning
	}

	s.registerHandlers()

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	if err := s.transport.Start(runCtx); err != nil {
		atomic.StoreInt32(&s.running, 0)
		cancel()
		return fmt.Errorf("start transport: %w", err)
	}

	s.wg.Add(3)
	go s.acceptLoop(runCtx)
	go s.dispatchLoop(runCtx)
	go s.tickLoop(runCtx)

	if s.cfg.RoomReapInterval > 0 {
		s.wg.Add(1)
		go s.reapLoop(runCtx)
	}

	s.logger.Info("Server started",
		log.String("addr", s.cfg.ListenAddr),
		log.String("transport", s.cfg.Transport),
		log.Int("tick_rate", s.cfg.TickRate))
	return nil
}

// Stop shuts the server down: the transport stops accepting, the loops drain,
// every connection closes, and the cache is released. Safe to call once.
func (s *Server) Stop() error {
	if !atomic.CompareAndSwapInt32(&s.running, 1, 0) {
		return ErrServerNotRunning
	}

	s.cancel()
	if err := s.transport.Close(); err != nil {
		s.logger.Warn("Transport close failed", log.Error(err))
	}

	// Closing the sockets unblocks any read loop parked in Receive.
	s.mu.Lock()
	for _, conn := range s.conns {
		_ = conn.Close()
	}
	s.conns = make(map[string]ClientConn)
	s.mu.Unlock()

	s.wg.Wait()

	if err := s.cache.Close(); err != nil {
		s.logger.Warn("Cache close failed", log.Error(err))
	}

	s.logger.Info("Server stopped", log.Uint64("ticks", atomic.LoadUint64(&s.ticks)))
	return nil
}

// Running reports whether Start has succeeded and Stop has not been called.
func (s *Server) Running() bool {
	return atomic.LoadInt32(&s.running) == 1
}

// TickCount reports how many ticks have completed. Test hook.
func (s *Server) TickCount() uint64 {
	return atomic.LoadUint64(&s.ticks)
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		conn, err := s.transport.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil || err == ErrServerClosed {
				return
			}
			s.logger.Warn("Accept failed", log.Error(err))
			continue
		}

		s.mu.Lock()
		s.conns[conn.ID()] = conn
		total := len(s.conns)
		s.mu.Unlock()

		s.logger.Info("Connection accepted",
			log.String("connection_id", conn.ID()),
			log.String("remote_addr", conn.RemoteAddr()),
			log.Int("connections", total))

		s.wg.Add(1)
		go s.readLoop(ctx, conn)
	}
}

// readLoop pulls envelopes off one connection and queues them for dispatch.
// When the queue is full the message is dropped and the client is told, so a
// flooding client cannot stall the loop.
func (s *Server) readLoop(ctx context.Context, conn ClientConn) {
	defer s.wg.Done()
	defer s.disconnect(ctx, conn)

	for {
		env, err := conn.Receive(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Debug("Connection read ended",
					log.String("connection_id", conn.ID()),
					log.Error(err))
			}
			return
		}

		select {
		case s.tasks <- task{conn: conn, env: env}:
		default:
			atomic.AddUint64(&s.dropped, 1)
			s.logger.Warn("Message queue full, dropping message",
				log.String("connection_id", conn.ID()),
				log.String("kind", env.Type.String()))
			s.sendError(conn, protocol.WrapError(protocol.ErrKindValidation,
				"server busy, message dropped", ErrQueueFull))
		}
	}
}

func (s *Server) dispatchLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-s.tasks:
			if err := s.registry.Dispatch(ctx, t.conn.ID(), t.env); err != nil {
				s.logger.Warn("Handler failed",
					log.String("connection_id", t.conn.ID()),
					log.String("kind", t.env.Type.String()),
					log.Error(err))
				s.sendError(t.conn, err)
			}
		}
	}
}

// tickLoop runs the authoritative simulation at the configured rate. Each
// iteration times the tick body and sleeps only for the remainder of the
// interval, so a slow tick does not push subsequent ticks later than needed.
func (s *Server) tickLoop(ctx context.Context) {
	defer s.wg.Done()
	interval := s.cfg.TickInterval()

	for {
		if ctx.Err() != nil {
			return
		}
		start := time.Now()

		if err := s.processTick(ctx); err != nil && ctx.Err() == nil {
			s.logger.Error("Tick failed", log.Error(err))
		}
		atomic.AddUint64(&s.ticks, 1)

		remaining := interval - time.Since(start)
		if remaining <= 0 {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(remaining):
		}
	}
}

// processTick is one simulation step: snapshot every room's state, advance
// physics, broadcast. The snapshot taken before stepping is what gets
// broadcast; clients see the state the step started from and pick up the
// result next tick. A panic in any stage is contained to this tick.
func (s *Server) processTick(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tick panic: %v", r)
		}
	}()

	states, err := s.rooms.States(ctx)
	if err != nil {
		return err
	}
	if len(states) == 0 {
		return nil
	}

	roomIDs := make([]string, len(states))
	for i, st := range states {
		roomIDs[i] = st.ID
	}

	// A physics failure in one room must not suppress the broadcast; log it
	// and carry on.
	if stepErr := s.stepper.ProcessRooms(ctx, roomIDs); stepErr != nil && ctx.Err() == nil {
		s.logger.Error("Physics step failed", log.Error(stepErr))
	}

	s.rooms.Broadcast(states)
	return nil
}

func (s *Server) reapLoop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.RoomReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.rooms.ReapEmpty(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("Room reap failed", log.Error(err))
			}
		}
	}
}

// disconnect tears down one connection: room membership goes first so peers
// get their player:leave, then the bookkeeping and the socket.
func (s *Server) disconnect(ctx context.Context, conn ClientConn) {
	s.rooms.LeaveAll(ctx, conn)

	s.mu.Lock()
	delete(s.conns, conn.ID())
	total := len(s.conns)
	s.mu.Unlock()

	_ = conn.Close()
	s.logger.Info("Connection closed",
		log.String("connection_id", conn.ID()),
		log.Int("connections", total))
}

func (s *Server) connByID(id string) (ClientConn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conn, ok := s.conns[id]
	return conn, ok
}

func (s *Server) connByUser(userID string) (ClientConn, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, conn := range s.conns {
		if conn.UserID() == userID {
			return conn, true
		}
	}
	return nil, false
}
