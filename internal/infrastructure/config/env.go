package config

import (
	"os"
	"strconv"
	"time"
)

const envPrefix = "PLCWATCH_"

// envOverride binds one environment variable (without the prefix) to a
// config field. Values that do not parse leave the field unchanged.
type envOverride struct {
	key string
	set func(c *Config, v string)
}

func str(field func(*Config) *string) func(*Config, string) {
	return func(c *Config, v string) { *field(c) = v }
}

func integer(field func(*Config) *int) func(*Config, string) {
	return func(c *Config, v string) {
		n, err := strconv.Atoi(v)
		if err == nil {
			*field(c) = n
		}
	}
}

func boolean(field func(*Config) *bool) func(*Config, string) {
	return func(c *Config, v string) {
		b, err := strconv.ParseBool(v)
		if err == nil {
			*field(c) = b
		}
	}
}

func duration(field func(*Config) *time.Duration) func(*Config, string) {
	return func(c *Config, v string) {
		d, err := time.ParseDuration(v)
		if err == nil {
			*field(c) = d
		}
	}
}

// envOverrides lists the settings that can come from the environment.
// Secrets belong here rather than in config.yaml.
var envOverrides = []envOverride{
	{"DATABASE_PATH", str(func(c *Config) *string { return &c.Database.Path })},
	{"MQTT_ENABLED", boolean(func(c *Config) *bool { return &c.MQTT.Enabled })},
	{"MQTT_HOST", str(func(c *Config) *string { return &c.MQTT.Broker.Host })},
	{"MQTT_PORT", integer(func(c *Config) *int { return &c.MQTT.Broker.Port })},
	{"MQTT_USERNAME", str(func(c *Config) *string { return &c.MQTT.Auth.Username })},
	{"MQTT_PASSWORD", str(func(c *Config) *string { return &c.MQTT.Auth.Password })},
	{"API_HOST", str(func(c *Config) *string { return &c.API.Host })},
	{"API_PORT", integer(func(c *Config) *int { return &c.API.Port })},
	{"INFLUXDB_URL", str(func(c *Config) *string { return &c.InfluxDB.URL })},
	{"INFLUXDB_TOKEN", str(func(c *Config) *string { return &c.InfluxDB.Token })},
	{"LOG_LEVEL", str(func(c *Config) *string { return &c.Logging.Level })},
	{"MODBUS_FORCE_SIMULATION", boolean(func(c *Config) *bool { return &c.Modbus.ForceSimulation })},
	{"MODBUS_POLL_INTERVAL", duration(func(c *Config) *time.Duration { return &c.Modbus.PollInterval })},
	{"JWT_SECRET", str(func(c *Config) *string { return &c.Security.JWT.Secret })},
}

// applyEnvOverrides copies every non-empty PLCWATCH_* variable in
// envOverrides onto cfg.
func applyEnvOverrides(cfg *Config) {
	for _, o := range envOverrides {
		if v := os.Getenv(envPrefix + o.key); v != "" {
			o.set(cfg, v)
		}
	}
}
