// Package config loads the daemon configuration.
//
// Settings come from a YAML file, overridden by CAMANNEX_ prefixed
// environment variables ("server.host" reads CAMANNEX_SERVER_HOST).
package config

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/gwac/camannex/controller"
	"github.com/gwac/camannex/logger"
)

const (
	EnvPrefix = "CAMANNEX"

	DefaultBaudRate          = 9600
	DefaultReconnectInterval = time.Minute
)

var ErrInvalid = errors.New("config: invalid configuration")

type Config struct {
	GroupID           string         `mapstructure:"group_id"`
	ReconnectInterval time.Duration  `mapstructure:"reconnect_interval"`
	Server            ServerConfig   `mapstructure:"server"`
	Database          DatabaseConfig `mapstructure:"database"`
	Status            StatusConfig   `mapstructure:"status"`
	Logging           logger.Config  `mapstructure:"logging"`
	Engine            EngineConfig   `mapstructure:"engine"`
	Cooler            []Annex        `mapstructure:"cooler"`
	Vacuum            []Annex        `mapstructure:"vacuum"`
}

// ServerConfig is the central telemetry server.
type ServerConfig struct {
	Enable bool   `mapstructure:"enable"`
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port"`
}

func (s ServerConfig) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

type DatabaseConfig struct {
	Enable  bool   `mapstructure:"enable"`
	DSN     string `mapstructure:"dsn"`
	Migrate bool   `mapstructure:"migrate"`
}

// StatusConfig is the HTTP status endpoint.
type StatusConfig struct {
	Enable bool   `mapstructure:"enable"`
	Addr   string `mapstructure:"addr"`
}

// EngineConfig holds the engine timings shared by every port.
type EngineConfig struct {
	PollInterval      time.Duration `mapstructure:"poll_interval"`
	StartDelay        time.Duration `mapstructure:"start_delay"`
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval"`
	SettleDelay       time.Duration `mapstructure:"settle_delay"`
	ResponseTimeout   time.Duration `mapstructure:"response_timeout"`
	UploadTimeout     time.Duration `mapstructure:"upload_timeout"`
	QueueSize         int           `mapstructure:"queue_size"`
	VerifyChecksum    bool          `mapstructure:"verify_checksum"`
}

// Options converts the timings to engine options.
func (ec EngineConfig) Options() []controller.Option {
	return []controller.Option{
		controller.WithPollInterval(ec.PollInterval),
		controller.WithStartDelay(ec.StartDelay),
		controller.WithHeartbeatInterval(ec.HeartbeatInterval),
		controller.WithSettleDelay(ec.SettleDelay),
		controller.WithResponseTimeout(ec.ResponseTimeout),
		controller.WithUploadTimeout(ec.UploadTimeout),
		controller.WithQueueSize(ec.QueueSize),
	}
}

// Annex is one serial port and the devices daisy-chained on it.
type Annex struct {
	Port     string `mapstructure:"port"`
	BaudRate int    `mapstructure:"baud_rate"`
	DataBits int    `mapstructure:"data_bits"`
	Parity   string `mapstructure:"parity"`
	StopBits int    `mapstructure:"stop_bits"`
	Devices  []int  `mapstructure:"devices"`
}

// DeviceIDs returns the validated device ids as bytes.
func (a Annex) DeviceIDs() []byte {
	ids := make([]byte, 0, len(a.Devices))
	for _, id := range a.Devices {
		ids = append(ids, byte(id))
	}
	return ids
}

// Load reads the file at path. An empty path searches "camannex.yaml" in
// the working directory and /etc/camannex.
func Load(path string) (*Config, error) {
	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("camannex")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/camannex")
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unable to decode: %w", err)
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// WriteDefault writes a configuration file with default settings to path.
func WriteDefault(path string) error {
	v := newViper()
	v.Set("cooler", []map[string]any{
		{"port": "/dev/ttyS0", "baud_rate": DefaultBaudRate, "devices": []int{1, 2}},
	})
	v.Set("vacuum", []map[string]any{
		{"port": "/dev/ttyS1", "baud_rate": DefaultBaudRate, "devices": []int{1}},
		{"port": "/dev/ttyS2", "baud_rate": DefaultBaudRate, "devices": []int{1}},
	})

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("config: failed to write default file: %w", err)
	}
	return nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	return v
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("group_id", "001")
	v.SetDefault("reconnect_interval", DefaultReconnectInterval.String())

	v.SetDefault("server.enable", false)
	v.SetDefault("server.host", "172.28.1.11")
	v.SetDefault("server.port", 4016)

	v.SetDefault("database.enable", false)
	v.SetDefault("database.dsn", "postgres://camannex@localhost:5432/camannex?sslmode=disable")
	v.SetDefault("database.migrate", true)

	v.SetDefault("status.enable", false)
	v.SetDefault("status.addr", "127.0.0.1:8086")

	v.SetDefault("logging.backend", "slog")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)
	v.SetDefault("logging.compress", true)

	v.SetDefault("engine.poll_interval", controller.DefaultPollInterval.String())
	v.SetDefault("engine.start_delay", controller.DefaultStartDelay.String())
	v.SetDefault("engine.heartbeat_interval", controller.DefaultHeartbeatInterval.String())
	v.SetDefault("engine.settle_delay", controller.DefaultSettleDelay.String())
	v.SetDefault("engine.response_timeout", controller.DefaultResponseTimeout.String())
	v.SetDefault("engine.upload_timeout", controller.DefaultUploadTimeout.String())
	v.SetDefault("engine.queue_size", controller.DefaultQueueSize)
	v.SetDefault("engine.verify_checksum", false)
}

func (cfg *Config) normalize() {
	for _, list := range [][]Annex{cfg.Cooler, cfg.Vacuum} {
		for i := range list {
			a := &list[i]
			if a.BaudRate == 0 {
				a.BaudRate = DefaultBaudRate
			}
			if a.DataBits == 0 {
				a.DataBits = 8
			}
			if a.Parity == "" {
				a.Parity = "none"
			}
			if a.StopBits == 0 {
				a.StopBits = 1
			}
		}
	}
}

// Validate reports every problem of cfg in one error wrapping ErrInvalid.
func (cfg *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if cfg.GroupID == "" {
		add("group_id is required")
	}
	if cfg.ReconnectInterval <= 0 {
		add("reconnect_interval must be positive")
	}
	if cfg.Server.Enable {
		if cfg.Server.Host == "" {
			add("server.host is required")
		}
		if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
			add("server.port %d out of range", cfg.Server.Port)
		}
	}
	if cfg.Database.Enable && cfg.Database.DSN == "" {
		add("database.dsn is required")
	}
	if cfg.Status.Enable && cfg.Status.Addr == "" {
		add("status.addr is required")
	}
	if _, err := logger.ParseLevel(cfg.Logging.Level); err != nil {
		add("logging.level: %v", err)
	}

	ec := cfg.Engine
	if ec.PollInterval <= 0 || ec.HeartbeatInterval <= 0 || ec.UploadTimeout <= 0 {
		add("engine poll, heartbeat and upload intervals must be positive")
	}
	if ec.StartDelay < 0 || ec.SettleDelay < 0 || ec.ResponseTimeout < 0 {
		add("engine delays must not be negative")
	}
	if ec.QueueSize < 0 {
		add("engine.queue_size must not be negative")
	}

	ports := make(map[string]bool)
	check := func(family string, list []Annex) {
		for i, a := range list {
			if a.Port == "" {
				add("%s[%d]: port is required", family, i)
			} else if key := strings.ToLower(a.Port); ports[key] {
				add("%s[%d]: port %s used twice", family, i, a.Port)
			} else {
				ports[key] = true
			}
			if a.BaudRate <= 0 {
				add("%s[%d]: invalid baud rate %d", family, i, a.BaudRate)
			}
			if len(a.Devices) == 0 {
				add("%s[%d]: no devices", family, i)
			}
			for _, id := range a.Devices {
				if id < 0 || id > 255 {
					add("%s[%d]: device id %d out of range", family, i, id)
				}
			}
		}
	}
	check("cooler", cfg.Cooler)
	check("vacuum", cfg.Vacuum)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}
