package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for brewlink.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	InfluxDB   InfluxDBConfig   `yaml:"influxdb"`
	Logging    LoggingConfig    `yaml:"logging"`
	Supervisor SupervisorConfig `yaml:"supervisor"`
	Worker     WorkerConfig     `yaml:"worker"`
	Transport  TransportConfig  `yaml:"transport"`
	Migration  MigrationConfig  `yaml:"migration"`
	API        APIConfig        `yaml:"api"`
}

// DatabaseConfig contains SQLite device registry settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// InfluxDBConfig contains InfluxDB connection settings for controller log rows.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SupervisorConfig controls the reconciliation loop.
type SupervisorConfig struct {
	// PollInterval is the sleep between reconciliation cycles.
	PollInterval time.Duration `yaml:"poll_interval"`

	// SettleInterval staggers consecutive worker spawns within one cycle.
	SettleInterval time.Duration `yaml:"settle_interval"`

	// StopTimeout bounds how long a worker may take to stop before it is killed.
	StopTimeout time.Duration `yaml:"stop_timeout"`

	// Isolation is "process" (one OS process per worker) or "goroutine".
	Isolation string `yaml:"isolation"`
}

// WorkerConfig controls the per-device run loop.
type WorkerConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	PollTimeout       time.Duration `yaml:"poll_timeout"`
	ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
	MaxReconnectDelay time.Duration `yaml:"max_reconnect_delay"`
	VersionTimeout    time.Duration `yaml:"version_timeout"`

	// ControlSocketDir holds one <device_id>.sock per worker. Empty disables
	// the local control socket.
	ControlSocketDir string `yaml:"control_socket_dir"`

	// LogFlushRows flushes pending log rows once this many have accumulated.
	LogFlushRows int `yaml:"log_flush_rows"`
}

// TransportConfig holds retry defaults plus per-medium overrides.
type TransportConfig struct {
	RetryLimit int           `yaml:"retry_limit"`
	RetryDelay time.Duration `yaml:"retry_delay"`
	Serial     SerialConfig  `yaml:"serial"`
	Socket     SocketConfig  `yaml:"socket"`
}

// SerialConfig contains serial-port medium settings.
// A zero RetryLimit inherits TransportConfig.RetryLimit.
type SerialConfig struct {
	RetryLimit  int           `yaml:"retry_limit"`
	ReadTimeout time.Duration `yaml:"read_timeout"`
	BaudRate    int           `yaml:"baud_rate"`
}

// SocketConfig contains TCP/Unix socket medium settings.
// A zero RetryLimit inherits TransportConfig.RetryLimit.
type SocketConfig struct {
	RetryLimit     int           `yaml:"retry_limit"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// MigrationConfig points at an optional rule table overriding the built-in one.
type MigrationConfig struct {
	RulesFile string `yaml:"rules_file"`
}

// APIConfig controls the status HTTP server (JSON API, /metrics and the
// websocket status feed).
type APIConfig struct {
	// Listen is host:port. Empty disables the server.
	Listen string `yaml:"listen"`

	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`

	WebSocket WebSocketConfig `yaml:"websocket"`
}

// WebSocketConfig tunes status feed connections.
type WebSocketConfig struct {
	MaxMessageSize int           `yaml:"max_message_size"`
	PingInterval   time.Duration `yaml:"ping_interval"`
	PongTimeout    time.Duration `yaml:"pong_timeout"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: BREWLINK_SECTION_KEY
// For example: BREWLINK_DATABASE_PATH, BREWLINK_MQTT_HOST
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns a Config populated with the hardcoded defaults.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/brewlink.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "brewlink",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Supervisor: SupervisorConfig{
			PollInterval:   5 * time.Second,
			SettleInterval: 5 * time.Second,
			StopTimeout:    10 * time.Second,
			Isolation:      "process",
		},
		Worker: WorkerConfig{
			HeartbeatInterval: 5 * time.Second,
			PollTimeout:       time.Second,
			ReconnectDelay:    5 * time.Second,
			MaxReconnectDelay: 2 * time.Minute,
			VersionTimeout:    10 * time.Second,
			ControlSocketDir:  "./data/sockets",
			LogFlushRows:      12,
		},
		Transport: TransportConfig{
			RetryLimit: 10,
			RetryDelay: time.Second,
			Serial: SerialConfig{
				ReadTimeout: time.Second,
				BaudRate:    57600,
			},
			Socket: SocketConfig{
				ReadTimeout:    time.Second,
				ConnectTimeout: 10 * time.Second,
			},
		},
		API: APIConfig{
			Listen:       "127.0.0.1:9310",
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  2 * time.Minute,
			WebSocket: WebSocketConfig{
				MaxMessageSize: 8192,
				PingInterval:   30 * time.Second,
				PongTimeout:    10 * time.Second,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: BREWLINK_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("BREWLINK_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("BREWLINK_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("BREWLINK_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("BREWLINK_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("BREWLINK_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Supervisor
	if v := os.Getenv("BREWLINK_SUPERVISOR_ISOLATION"); v != "" {
		cfg.Supervisor.Isolation = v
	}

	// API
	if v, ok := os.LookupEnv("BREWLINK_API_LISTEN"); ok {
		cfg.API.Listen = v
	}

	// Transport
	if v := os.Getenv("BREWLINK_TRANSPORT_RETRY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Transport.RetryLimit = n
		}
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
	}

	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}

	if c.Supervisor.PollInterval <= 0 {
		errs = append(errs, "supervisor.poll_interval must be positive")
	}
	if c.Supervisor.SettleInterval < 0 {
		errs = append(errs, "supervisor.settle_interval must not be negative")
	}
	if c.Supervisor.StopTimeout <= 0 {
		errs = append(errs, "supervisor.stop_timeout must be positive")
	}
	switch c.Supervisor.Isolation {
	case "process", "goroutine":
	default:
		errs = append(errs, fmt.Sprintf("supervisor.isolation %q must be process or goroutine", c.Supervisor.Isolation))
	}

	if c.Worker.HeartbeatInterval <= 0 {
		errs = append(errs, "worker.heartbeat_interval must be positive")
	}
	if c.Worker.PollTimeout <= 0 {
		errs = append(errs, "worker.poll_timeout must be positive")
	}

	if c.Transport.RetryLimit < 1 {
		errs = append(errs, "transport.retry_limit must be at least 1")
	}
	if c.Transport.Serial.RetryLimit < 0 || c.Transport.Socket.RetryLimit < 0 {
		errs = append(errs, "transport retry limits must not be negative")
	}

	if c.API.Listen != "" && c.API.WebSocket.PingInterval <= 0 {
		errs = append(errs, "api.websocket.ping_interval must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// SerialRetryLimit returns the effective retry ceiling for serial transports.
func (c *Config) SerialRetryLimit() int {
	if c.Transport.Serial.RetryLimit > 0 {
		return c.Transport.Serial.RetryLimit
	}
	return c.Transport.RetryLimit
}

// SocketRetryLimit returns the effective retry ceiling for socket transports.
func (c *Config) SocketRetryLimit() int {
	if c.Transport.Socket.RetryLimit > 0 {
		return c.Transport.Socket.RetryLimit
	}
	return c.Transport.RetryLimit
}
