package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// AuthConfig carries the two shared secrets every node needs: the
// credential checked on connect and the secret the frame cipher key is
// derived from.
type AuthConfig struct {
	Password string `yaml:"password"`
	Secret   string `yaml:"secret"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	Insecure    bool    `yaml:"insecure"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

// GatewayConfig configures the gateway daemon.
type GatewayConfig struct {
	Listen  string        `yaml:"listen"`
	Admin   AdminConfig   `yaml:"admin"`
	Auth    AuthConfig    `yaml:"auth"`
	Store   StoreConfig   `yaml:"store"`
	Engine  EngineConfig  `yaml:"engine"`
	Logging LoggingConfig `yaml:"logging"`
	Tracing TracingConfig `yaml:"tracing"`
}

type AdminConfig struct {
	Listen string `yaml:"listen"`
}

type EngineConfig struct {
	DefaultSendDelay int `yaml:"default_send_delay_s"`
}

// DeviceConfig configures the simulated device fleet daemon.
type DeviceConfig struct {
	Gateway   GatewayEndpoint `yaml:"gateway"`
	Auth      AuthConfig      `yaml:"auth"`
	Store     StoreConfig     `yaml:"store"`
	StateDir  string          `yaml:"state_dir"`
	Sectors   int             `yaml:"sectors"`
	Actuation ActuationConfig `yaml:"actuation"`
	Devices   []DeviceSpec    `yaml:"devices"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type GatewayEndpoint struct {
	Addr           string `yaml:"addr"`
	ConnectTimeout int    `yaml:"connect_timeout_s"`
	ReadTimeout    int    `yaml:"read_timeout_s"`
	ReconnectDelay int    `yaml:"reconnect_delay_s"`
}

type ActuationConfig struct {
	TickMs int `yaml:"tick_ms"`
}

// DeviceSpec declares one simulated device. Sensors list the indicators
// they sample; actuators bind to the single indicator they drive.
type DeviceSpec struct {
	Name       string        `yaml:"name"`
	StateFile  string        `yaml:"state_file"`
	Sector     int           `yaml:"sector"`
	Indicators []string      `yaml:"indicators"`
	Actuator   *ActuatorSpec `yaml:"actuator"`
}

type ActuatorSpec struct {
	Indicator string `yaml:"indicator"`
}

// DefaultGatewayConfig returns a gateway config with sensible defaults.
func DefaultGatewayConfig() *GatewayConfig {
	return &GatewayConfig{
		Listen: ":7700",
		Admin:  AdminConfig{Listen: ":8080"},
		Store:  StoreConfig{Path: "hothouse.db"},
		Engine: EngineConfig{DefaultSendDelay: 5},
		Logging: LoggingConfig{
			Level: "info",
			JSON:  false,
		},
		Tracing: TracingConfig{SampleRatio: 1},
	}
}

// DefaultDeviceConfig returns a fleet config with sensible defaults and
// no devices; the device list comes from the config file.
func DefaultDeviceConfig() *DeviceConfig {
	return &DeviceConfig{
		Gateway: GatewayEndpoint{
			Addr:           "localhost:7700",
			ConnectTimeout: 5,
			ReadTimeout:    60,
			ReconnectDelay: 5,
		},
		Store:     StoreConfig{Path: "greenhouse.db"},
		StateDir:  "state",
		Sectors:   2,
		Actuation: ActuationConfig{TickMs: 1000},
		Logging: LoggingConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// LoadGateway reads the gateway config file and applies env overrides. A
// missing file is not an error; defaults apply.
func LoadGateway(path string) (*GatewayConfig, error) {
	cfg := DefaultGatewayConfig()
	if err := loadYAML(path, cfg); err != nil {
		return nil, err
	}
	applySharedEnv(&cfg.Auth)
	if listen := os.Getenv("HOTHOUSE_LISTEN"); listen != "" {
		cfg.Listen = listen
	}
	if level := os.Getenv("HOTHOUSE_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	return cfg, nil
}

// LoadDevice reads the fleet config file and applies env overrides.
func LoadDevice(path string) (*DeviceConfig, error) {
	cfg := DefaultDeviceConfig()
	if err := loadYAML(path, cfg); err != nil {
		return nil, err
	}
	applySharedEnv(&cfg.Auth)
	if addr := os.Getenv("HOTHOUSE_GATEWAY_ADDR"); addr != "" {
		cfg.Gateway.Addr = addr
	}
	if level := os.Getenv("HOTHOUSE_LOG_LEVEL"); level != "" {
		cfg.Logging.Level = level
	}
	return cfg, nil
}

func loadYAML(path string, out any) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return yaml.Unmarshal(data, out)
}

func applySharedEnv(auth *AuthConfig) {
	if password := os.Getenv("HOTHOUSE_PASSWORD"); password != "" {
		auth.Password = password
	}
	if secret := os.Getenv("HOTHOUSE_SECRET"); secret != "" {
		auth.Secret = secret
	}
}

func (c *GatewayConfig) Validate() error {
	if c.Auth.Password == "" {
		return ErrMissingPassword
	}
	if c.Auth.Secret == "" {
		return ErrMissingSecret
	}
	if c.Listen == "" {
		c.Listen = ":7700"
	}
	if c.Engine.DefaultSendDelay <= 0 {
		c.Engine.DefaultSendDelay = 5
	}
	if c.Tracing.SampleRatio <= 0 || c.Tracing.SampleRatio > 1 {
		c.Tracing.SampleRatio = 1
	}
	return nil
}

func (c *DeviceConfig) Validate() error {
	if c.Auth.Password == "" {
		return ErrMissingPassword
	}
	if c.Auth.Secret == "" {
		return ErrMissingSecret
	}
	if c.Gateway.Addr == "" {
		return ErrMissingGatewayAddr
	}
	if len(c.Devices) == 0 {
		return ErrNoDevices
	}
	if c.Gateway.ConnectTimeout <= 0 {
		c.Gateway.ConnectTimeout = 5
	}
	if c.Gateway.ReadTimeout <= 0 {
		c.Gateway.ReadTimeout = 60
	}
	if c.Gateway.ReconnectDelay <= 0 {
		c.Gateway.ReconnectDelay = 5
	}
	if c.Sectors <= 0 {
		c.Sectors = 1
	}
	if c.Actuation.TickMs <= 0 {
		c.Actuation.TickMs = 1000
	}
	for i := range c.Devices {
		spec := &c.Devices[i]
		if spec.Name == "" {
			return &Error{"device " + strconv.Itoa(i) + " has no name"}
		}
		if spec.StateFile == "" {
			spec.StateFile = spec.Name
		}
		if spec.Actuator != nil && spec.Actuator.Indicator == "" {
			return &Error{"actuator " + spec.Name + " has no indicator"}
		}
	}
	return nil
}

var (
	ErrMissingPassword    = &Error{"auth password is required"}
	ErrMissingSecret      = &Error{"auth secret is required"}
	ErrMissingGatewayAddr = &Error{"gateway address is required"}
	ErrNoDevices          = &Error{"at least one device must be configured"}
)

type Error struct {
	Message string
}

func (e *Error) Error() string {
	return e.Message
}
