package main

import (
	"errors"
	"net"
	"sync"

	"github.com/rs/xid"
	"github.com/rs/zerolog"

	"github.com/hothouse-labs/hothouse/pkg/protocol"
)

// SessionStore is the slice of the store a gateway session writes to.
type SessionStore interface {
	UpsertDevice(uuid, name string) error
	TouchLastCommunication(uuid string) error
	UpsertReadingBatch(deviceUUID string, values map[string]int) error
}

// RuleEvaluator produces the outbound batch for one reading cycle.
type RuleEvaluator interface {
	Evaluate(targetUUID string) protocol.CommandBatch
}

// Server owns the device-facing TCP listener. Each accepted connection
// gets its own session goroutine; the accept loop never blocks on a
// device.
type Server struct {
	listen   string
	password string
	codec    *protocol.Codec
	store    SessionStore
	engine   RuleEvaluator
	registry *Registry
	limiter  *RateLimiter

	listener  net.Listener
	wg        sync.WaitGroup
	closeOnce sync.Once
	log       zerolog.Logger
}

func NewServer(listen, password string, codec *protocol.Codec, store SessionStore, engine RuleEvaluator, log zerolog.Logger) *Server {
	return &Server{
		listen:   listen,
		password: password,
		codec:    codec,
		store:    store,
		engine:   engine,
		registry: NewRegistry(),
		limiter:  NewRateLimiter(),
		log:      log,
	}
}

// Listen binds the device port and starts accepting in the background.
func (s *Server) Listen() error {
	listener, err := net.Listen("tcp", s.listen)
	if err != nil {
		return err
	}
	s.listener = listener
	s.log.Info().Str("listen", listener.Addr().String()).Msg("Device listener started")

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the bound listener address, useful when listening on
// port 0.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Sessions returns the number of live device connections.
func (s *Server) Sessions() int {
	return s.registry.Len()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.registry.Running() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warn().Err(err).Msg("Accept failed")
			continue
		}
		if !s.registry.Add(conn) {
			conn.Close()
			continue
		}

		sess := &session{
			conn:     conn,
			codec:    s.codec,
			store:    s.store,
			engine:   s.engine,
			registry: s.registry,
			limiter:  s.limiter,
			password: s.password,
			log:      s.log.With().Str("session_id", xid.New().String()).Str("remote", conn.RemoteAddr().String()).Logger(),
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			sess.run()
		}()
	}
}

// Shutdown stops accepting, unblocks every session by closing its socket
// and waits for all goroutines to drain. Safe to call more than once and
// concurrently with ongoing accepts.
func (s *Server) Shutdown() {
	s.closeOnce.Do(func() {
		s.registry.Shutdown()
		if s.listener != nil {
			s.listener.Close()
		}
	})
	s.wg.Wait()
}
