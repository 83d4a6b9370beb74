package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// MinJWTSecretLength is the shortest accepted security.jwt.secret.
const MinJWTSecretLength = 32

// Load builds a Config from defaults, then the YAML file at path, then
// PLCWATCH_* environment variables, and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func defaultConfig() *Config {
	var c Config

	c.Site = SiteConfig{ID: "site-001", Name: "PLCWatch"}
	c.Database = DatabaseConfig{Path: "./data/plcwatch.db", WALMode: true, BusyTimeout: 5}

	c.MQTT.Broker = MQTTBrokerConfig{Host: "localhost", Port: 1883, ClientID: "plcwatch-core"}
	c.MQTT.QoS = 1
	c.MQTT.Reconnect = MQTTReconnectConfig{InitialDelay: 1, MaxDelay: 60}

	c.API.Host = "0.0.0.0"
	c.API.Port = 8080
	c.API.Timeouts = APITimeoutConfig{Read: 30, Write: 30, Idle: 60}
	c.WebSocket = WebSocketConfig{Path: "/ws", MaxMessageSize: 8 << 10, PingInterval: 30, PongTimeout: 10}

	c.InfluxDB.BatchSize = 100
	c.InfluxDB.FlushInterval = 10
	c.Logging = LoggingConfig{Level: "info", Format: "json", Output: "stdout"}

	c.Modbus = ModbusConfig{
		PollInterval:     time.Second,
		BackoffInterval:  5 * time.Second,
		ConnectTimeout:   3 * time.Second,
		RequestTimeout:   3 * time.Second,
		IdleTimeout:      time.Minute,
		SimulationTick:   time.Second,
		BusQueueSize:     64,
		HealthInterval:   30 * time.Second,
		PublishSnapshots: true,
	}
	c.Audit.RetentionDays = 90
	c.Security.JWT.AccessTokenTTL = 60

	return &c
}

// Validate reports every problem in c at once, joined.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, errors.New(msg))
		}
	}

	check(c.Site.ID != "", "site.id is required")
	check(c.Database.Path != "", "database.path is required")
	check(c.MQTT.QoS >= 0 && c.MQTT.QoS <= 2, "mqtt.qos must be 0, 1 or 2")
	check(c.API.Port > 0 && c.API.Port <= 65535, "api.port must be 1-65535")

	m := c.Modbus
	check(m.PollInterval > 0, "modbus.poll_interval must be positive")
	check(m.BackoffInterval > 0, "modbus.backoff_interval must be positive")
	check(m.ConnectTimeout > 0, "modbus.connect_timeout must be positive")
	check(m.RequestTimeout > 0, "modbus.request_timeout must be positive")
	check(m.BusQueueSize > 0, "modbus.bus_queue_size must be at least 1")

	check(c.Audit.RetentionDays >= 0, "audit.retention_days must not be negative")
	check(!c.InfluxDB.Enabled || (c.InfluxDB.URL != "" && c.InfluxDB.Bucket != ""),
		"influxdb.url and influxdb.bucket are required when influxdb is enabled")

	switch secret := c.Security.JWT.Secret; {
	case secret == "":
		errs = append(errs, errors.New("security.jwt.secret is required (or set "+envPrefix+"JWT_SECRET)"))
	case len(secret) < MinJWTSecretLength:
		errs = append(errs, fmt.Errorf("security.jwt.secret must be at least %d characters", MinJWTSecretLength))
	}

	return errors.Join(errs...)
}

// ─── Durations ─────────────────────────────────────────────────────

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func (c *Config) GetReadTimeout() time.Duration  { return seconds(c.API.Timeouts.Read) }
func (c *Config) GetWriteTimeout() time.Duration { return seconds(c.API.Timeouts.Write) }
func (c *Config) GetIdleTimeout() time.Duration  { return seconds(c.API.Timeouts.Idle) }

// GetAuditRetention is zero when entries are kept forever.
func (c *Config) GetAuditRetention() time.Duration {
	return time.Duration(c.Audit.RetentionDays) * 24 * time.Hour
}

func (c *Config) GetAccessTokenTTL() time.Duration {
	return time.Duration(c.Security.JWT.AccessTokenTTL) * time.Minute
}
