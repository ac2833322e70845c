package main

import (
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/hothouse-labs/hothouse/pkg/config"
	"github.com/hothouse-labs/hothouse/pkg/protocol"
)

// deviceSession runs one simulated device against the gateway: connect,
// authenticate, then stream readings and execute whatever comes back.
// Any transport or protocol failure drops the connection and the session
// redials after a fixed delay, forever.
type deviceSession struct {
	spec     config.DeviceSpec
	endpoint config.GatewayEndpoint
	password string
	codec    *protocol.Codec
	env      Environment
	identity identityFile

	uuid       string
	state      int
	controller *Controller
	stop       <-chan struct{}
	log        zerolog.Logger
}

func newDeviceSession(spec config.DeviceSpec, cfg *config.DeviceConfig, codec *protocol.Codec, env Environment, stop <-chan struct{}, log zerolog.Logger) *deviceSession {
	d := &deviceSession{
		spec:     spec,
		endpoint: cfg.Gateway,
		password: cfg.Auth.Password,
		codec:    codec,
		env:      env,
		identity: newIdentityFile(cfg.StateDir, spec.StateFile),
		stop:     stop,
		log:      log.With().Str("device", spec.Name).Int("sector", spec.Sector).Logger(),
	}
	d.uuid = d.identity.Load()
	if spec.Actuator != nil {
		d.controller = NewController(env, spec.Sector, spec.Actuator.Indicator,
			time.Duration(cfg.Actuation.TickMs)*time.Millisecond,
			func(active bool) {
				if active {
					d.state = 1
				} else {
					d.state = 0
				}
			},
			d.log.With().Str("component", "actuator").Logger())
	}
	return d
}

// run is the session's outer reconnect loop: infinite, fixed interval,
// no backoff growth, no giving up.
func (d *deviceSession) run() {
	for {
		select {
		case <-d.stop:
			return
		default:
		}

		if err := d.connectAndStream(); err != nil {
			d.log.Warn().Err(err).Str("gateway", d.endpoint.Addr).Msg("Session ended, reconnecting")
		}

		select {
		case <-d.stop:
			return
		case <-time.After(time.Duration(d.endpoint.ReconnectDelay) * time.Second):
		}
	}
}

func (d *deviceSession) connectAndStream() error {
	conn, err := net.DialTimeout("tcp", d.endpoint.Addr,
		time.Duration(d.endpoint.ConnectTimeout)*time.Second)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := d.login(conn); err != nil {
		return err
	}
	d.log.Info().Str("uuid", d.uuid).Msg("Authenticated")

	for {
		select {
		case <-d.stop:
			return nil
		default:
		}
		if err := d.cycle(conn); err != nil {
			return err
		}
	}
}

// login sends the credential and identity frames and waits for the
// gateway's verdict. A freshly issued uuid replaces ours in place and is
// persisted before the first reading goes out.
func (d *deviceSession) login(conn net.Conn) error {
	if err := d.codec.WriteJSON(conn, protocol.Credential{Password: d.password}); err != nil {
		return err
	}
	if err := d.codec.WriteJSON(conn, protocol.Identity{DeviceName: d.spec.Name, UUID: d.uuid}); err != nil {
		return err
	}

	var reply protocol.AuthReply
	if err := d.readReply(conn, &reply); err != nil {
		return err
	}
	if reply.Status == protocol.StatusRegistered && reply.UUID != "" {
		d.uuid = reply.UUID
		if err := d.identity.Save(d.uuid); err != nil {
			d.log.Error().Err(err).Msg("Failed to persist issued uuid")
		} else {
			d.log.Info().Str("uuid", d.uuid).Msg("Registered")
		}
	}
	return nil
}

// cycle sends one reading snapshot and acts on the reply: execute the
// commands through the duty-cycle controller, or idle out the delay.
func (d *deviceSession) cycle(conn net.Conn) error {
	snapshot := protocol.Snapshot{protocol.StateField: d.state}
	for _, indicator := range d.spec.Indicators {
		value, err := d.env.IndicatorValue(d.spec.Sector, indicator)
		if err != nil {
			d.log.Error().Err(err).Str("indicator", indicator).Msg("Indicator read failed")
			value = 0
		}
		snapshot[indicator] = value
	}

	if err := d.codec.WriteJSON(conn, snapshot); err != nil {
		return err
	}

	var batch protocol.CommandBatch
	if err := d.readReply(conn, &batch); err != nil {
		return err
	}

	if len(batch.Commands) > 0 && d.controller != nil {
		for _, raw := range batch.Commands {
			d.controller.Run(protocol.ParseCommand(raw), batch.Delay, d.stop)
		}
		return nil
	}
	if len(batch.Commands) > 0 {
		d.log.Warn().Strs("commands", batch.Commands).Msg("Commands addressed to a device without an actuator")
	}

	select {
	case <-d.stop:
	case <-time.After(time.Duration(batch.Delay) * time.Second):
	}
	return nil
}

// readReply reads one frame under the configured transport timeout. A
// deadline hit unwinds the whole connection; the reconnect loop takes it
// from there.
func (d *deviceSession) readReply(conn net.Conn, v any) error {
	if err := conn.SetReadDeadline(time.Now().Add(time.Duration(d.endpoint.ReadTimeout) * time.Second)); err != nil {
		return err
	}
	return d.codec.ReadJSON(conn, v)
}
