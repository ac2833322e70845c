package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadGatewayDefaults(t *testing.T) {
	cfg, err := LoadGateway("")
	require.NoError(t, err)
	require.Equal(t, ":7700", cfg.Listen)
	require.Equal(t, ":8080", cfg.Admin.Listen)
	require.Equal(t, 5, cfg.Engine.DefaultSendDelay)
	require.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadGatewayMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadGateway(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	require.Equal(t, ":7700", cfg.Listen)
}

func TestLoadGatewayFromFile(t *testing.T) {
	path := writeConfig(t, `
listen: ":9900"
auth:
  password: hunter2
  secret: frame-secret
engine:
  default_send_delay_s: 12
logging:
  level: debug
  json: true
`)
	cfg, err := LoadGateway(path)
	require.NoError(t, err)
	require.Equal(t, ":9900", cfg.Listen)
	require.Equal(t, "hunter2", cfg.Auth.Password)
	require.Equal(t, "frame-secret", cfg.Auth.Secret)
	require.Equal(t, 12, cfg.Engine.DefaultSendDelay)
	require.Equal(t, "debug", cfg.Logging.Level)
	require.True(t, cfg.Logging.JSON)
}

func TestLoadGatewayEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
listen: ":9900"
auth:
  password: from-file
  secret: from-file
`)
	t.Setenv("HOTHOUSE_PASSWORD", "from-env")
	t.Setenv("HOTHOUSE_SECRET", "env-secret")
	t.Setenv("HOTHOUSE_LISTEN", ":7001")

	cfg, err := LoadGateway(path)
	require.NoError(t, err)
	require.Equal(t, "from-env", cfg.Auth.Password)
	require.Equal(t, "env-secret", cfg.Auth.Secret)
	require.Equal(t, ":7001", cfg.Listen)
}

func TestGatewayValidate(t *testing.T) {
	cfg := DefaultGatewayConfig()
	require.ErrorIs(t, cfg.Validate(), ErrMissingPassword)

	cfg.Auth.Password = "p"
	require.ErrorIs(t, cfg.Validate(), ErrMissingSecret)

	cfg.Auth.Secret = "s"
	cfg.Engine.DefaultSendDelay = -1
	cfg.Tracing.SampleRatio = 7
	require.NoError(t, cfg.Validate())
	require.Equal(t, 5, cfg.Engine.DefaultSendDelay)
	require.Equal(t, float64(1), cfg.Tracing.SampleRatio)
}

func TestLoadDeviceFromFile(t *testing.T) {
	path := writeConfig(t, `
gateway:
  addr: gw.local:7700
  reconnect_delay_s: 3
auth:
  password: hunter2
  secret: frame-secret
state_dir: /var/lib/hothouse
sectors: 3
actuation:
  tick_ms: 250
devices:
  - name: temp-sensor-0
    sector: 0
    indicators: [temperature, humidity]
  - name: vent-0
    sector: 0
    actuator:
      indicator: temperature
`)
	cfg, err := LoadDevice(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Equal(t, "gw.local:7700", cfg.Gateway.Addr)
	require.Equal(t, 3, cfg.Gateway.ReconnectDelay)
	require.Equal(t, 3, cfg.Sectors)
	require.Equal(t, 250, cfg.Actuation.TickMs)
	require.Len(t, cfg.Devices, 2)
	require.Equal(t, []string{"temperature", "humidity"}, cfg.Devices[0].Indicators)
	require.Nil(t, cfg.Devices[0].Actuator)
	require.NotNil(t, cfg.Devices[1].Actuator)
	require.Equal(t, "temperature", cfg.Devices[1].Actuator.Indicator)
}

func TestLoadDeviceEnvOverridesGatewayAddr(t *testing.T) {
	t.Setenv("HOTHOUSE_GATEWAY_ADDR", "override:7700")
	cfg, err := LoadDevice("")
	require.NoError(t, err)
	require.Equal(t, "override:7700", cfg.Gateway.Addr)
}

func TestDeviceValidate(t *testing.T) {
	cfg := DefaultDeviceConfig()
	require.ErrorIs(t, cfg.Validate(), ErrMissingPassword)

	cfg.Auth.Password = "p"
	cfg.Auth.Secret = "s"
	require.ErrorIs(t, cfg.Validate(), ErrNoDevices)

	cfg.Devices = []DeviceSpec{{Name: "sensor-1"}}
	cfg.Gateway.ReadTimeout = 0
	require.NoError(t, cfg.Validate())
	require.Equal(t, 60, cfg.Gateway.ReadTimeout)
	require.Equal(t, "sensor-1", cfg.Devices[0].StateFile, "the state file defaults to the device name")
}

func TestDeviceValidateRejectsAnonymousDevice(t *testing.T) {
	cfg := DefaultDeviceConfig()
	cfg.Auth.Password = "p"
	cfg.Auth.Secret = "s"
	cfg.Devices = []DeviceSpec{{}}
	require.Error(t, cfg.Validate())
}

func TestDeviceValidateRejectsActuatorWithoutIndicator(t *testing.T) {
	cfg := DefaultDeviceConfig()
	cfg.Auth.Password = "p"
	cfg.Auth.Secret = "s"
	cfg.Devices = []DeviceSpec{{Name: "vent-1", Actuator: &ActuatorSpec{}}}
	require.Error(t, cfg.Validate())
}

func TestLoadGatewayRejectsMalformedYAML(t *testing.T) {
	path := writeConfig(t, "listen: [unterminated")
	_, err := LoadGateway(path)
	require.Error(t, err)
}
