package main

import (
	"crypto/subtle"
	"errors"
	"io"
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hothouse-labs/hothouse/pkg/protocol"
)

// loginLimit bounds handshake attempts per remote host and window. A
// healthy fleet logs in once per connection, so the ceiling is generous.
const (
	loginLimit  = 60
	loginWindow = time.Minute
)

// session serves one authenticated device connection from accept to
// teardown. Sessions share nothing with each other except the store,
// the login limiter and the registry.
type session struct {
	conn     net.Conn
	codec    *protocol.Codec
	store    SessionStore
	engine   RuleEvaluator
	registry *Registry
	limiter  *RateLimiter
	password string
	log      zerolog.Logger
}

func (s *session) run() {
	defer func() {
		s.conn.Close()
		s.registry.Remove(s.conn)
	}()

	identity, ok := s.login()
	if !ok {
		return
	}
	s.log = s.log.With().Str("uuid", identity.UUID).Str("name", identity.DeviceName).Logger()
	s.log.Info().Msg("Device connected")

	for s.registry.Running() {
		if !s.cycle(identity.UUID) {
			break
		}
	}
	s.log.Info().Msg("Device disconnected")
}

// login runs the two-frame handshake. A wrong credential closes the
// connection without any reply so probers learn nothing; a device
// presenting the NO_UUID sentinel gets a freshly issued identifier.
func (s *session) login() (protocol.Identity, bool) {
	host, _, err := net.SplitHostPort(s.conn.RemoteAddr().String())
	if err != nil {
		host = s.conn.RemoteAddr().String()
	}
	if !s.limiter.Allow(host, loginLimit, loginWindow) {
		s.log.Warn().Str("host", host).Msg("Login throttled")
		return protocol.Identity{}, false
	}

	var cred protocol.Credential
	if err := s.codec.ReadJSON(s.conn, &cred); err != nil {
		s.logReadError(err, "Credential read failed")
		return protocol.Identity{}, false
	}
	if subtle.ConstantTimeCompare([]byte(cred.Password), []byte(s.password)) != 1 {
		s.log.Warn().Msg("Credential rejected")
		return protocol.Identity{}, false
	}

	var identity protocol.Identity
	if err := s.codec.ReadJSON(s.conn, &identity); err != nil {
		s.logReadError(err, "Identity read failed")
		return protocol.Identity{}, false
	}

	reply := protocol.AuthReply{Status: protocol.StatusAuthorized}
	if identity.UUID == "" || identity.UUID == protocol.NoUUID {
		identity.UUID = uuid.NewString()
		reply = protocol.AuthReply{Status: protocol.StatusRegistered, UUID: identity.UUID}
		if err := s.store.UpsertDevice(identity.UUID, identity.DeviceName); err != nil {
			// Device record missing for now; readings still flow and the
			// next registration attempt heals it.
			s.log.Error().Err(err).Msg("Device upsert failed")
		}
	}
	if err := s.codec.WriteJSON(s.conn, reply); err != nil {
		s.log.Warn().Err(err).Msg("Auth reply failed")
		return protocol.Identity{}, false
	}
	return identity, true
}

// cycle handles one reading frame and answers with the rule engine's
// batch. Returns false when the session must end.
func (s *session) cycle(deviceUUID string) bool {
	var snapshot protocol.Snapshot
	if err := s.codec.ReadJSON(s.conn, &snapshot); err != nil {
		s.logReadError(err, "Snapshot read failed")
		return false
	}

	if err := s.store.TouchLastCommunication(deviceUUID); err != nil {
		s.log.Error().Err(err).Msg("Last-seen update failed")
	}

	readings := make(map[string]int, len(snapshot))
	for param, value := range snapshot {
		if param == protocol.StateField {
			continue
		}
		readings[param] = value
	}
	if len(readings) > 0 {
		if err := s.store.UpsertReadingBatch(deviceUUID, readings); err != nil {
			// Reading dropped for this cycle; the reply still goes out
			// computed from the previous stored values.
			s.log.Error().Err(err).Msg("Reading upsert failed")
		}
	}

	batch := s.engine.Evaluate(deviceUUID)
	if err := s.codec.WriteJSON(s.conn, batch); err != nil {
		s.log.Warn().Err(err).Msg("Reply failed")
		return false
	}
	s.log.Debug().Interface("snapshot", snapshot).Int("delay", batch.Delay).Strs("commands", batch.Commands).Msg("Cycle complete")
	return true
}

func (s *session) logReadError(err error, msg string) {
	// A peer hanging up or the registry closing our socket is routine;
	// protocol defects are worth a warning.
	var protoErr *protocol.ProtocolError
	switch {
	case errors.As(err, &protoErr):
		s.log.Warn().Err(err).Msg(msg)
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		s.log.Debug().Msg("Connection closed")
	default:
		s.log.Debug().Err(err).Msg(msg)
	}
}
