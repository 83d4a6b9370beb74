package config

import "time"

// Config mirrors config.yaml. Every section has defaults, so a file only
// needs the keys it changes plus security.jwt.secret.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Modbus    ModbusConfig    `yaml:"modbus"`
	Audit     AuditConfig     `yaml:"audit"`
	Security  SecurityConfig  `yaml:"security"`
}

type SiteConfig struct {
	ID   string `yaml:"id"` // used in MQTT client IDs and InfluxDB tags
	Name string `yaml:"name"`
}

type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"` // seconds
}

// ─── MQTT ──────────────────────────────────────────────────────────

// MQTTConfig is the optional broker connection used to mirror snapshots
// and health and to accept write commands.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig bounds paho's reconnect backoff, in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// ─── HTTP ──────────────────────────────────────────────────────────

type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig holds http.Server timeouts in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig configures the live snapshot stream. Intervals are in
// seconds, MaxMessageSize in bytes.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig enables the poll statistics sink. FlushInterval is in
// seconds.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
	Output string `yaml:"output"` // stdout, stderr
}

// ─── Engine ────────────────────────────────────────────────────────

// ModbusConfig tunes the polling engine. Durations are Go duration
// strings ("250ms", "5s").
type ModbusConfig struct {
	PollInterval    time.Duration `yaml:"poll_interval"`    // pause after a successful cycle
	BackoffInterval time.Duration `yaml:"backoff_interval"` // pause after a failed connect
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	SimulationTick  time.Duration `yaml:"simulation_tick"`

	// ForceSimulation polls the built-in simulator for every controller,
	// whatever its stored simulated flag says.
	ForceSimulation bool `yaml:"force_simulation"`

	BusQueueSize     int           `yaml:"bus_queue_size"`  // snapshots buffered per subscriber
	HealthInterval   time.Duration `yaml:"health_interval"` // MQTT health publish period
	PublishSnapshots bool          `yaml:"publish_snapshots"`
	AutoStart        bool          `yaml:"auto_start"` // monitor every stored controller at boot
}

type AuditConfig struct {
	RetentionDays int `yaml:"retention_days"` // 0 keeps entries forever
}

type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"` // minutes
}
