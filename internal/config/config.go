package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/awaistahir/smart-heat/internal/engine"
	"github.com/awaistahir/smart-heat/internal/prices"
	"github.com/spf13/viper"
)

// Config represents the complete application configuration
type Config struct {
	Heating HeatingConfig `mapstructure:"heating"`
	Prices  PricesConfig  `mapstructure:"prices"`
	Tariffs TariffsConfig `mapstructure:"tariffs"`
	Weather WeatherConfig `mapstructure:"weather"`
	Influx  InfluxConfig  `mapstructure:"influx"`
	Store   StoreConfig   `mapstructure:"store"`
	MQTT    MQTTConfig    `mapstructure:"mqtt"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
	Server  ServerConfig  `mapstructure:"server"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// HeatingConfig holds the device and the optimizer parameters
type HeatingConfig struct {
	Device   string  `mapstructure:"device"`
	DeviceKW float64 `mapstructure:"device_kw"` // used for cost estimates

	engine.HeatingParams `mapstructure:",squash"`
}

// PricesConfig selects and configures the spot price feed
type PricesConfig struct {
	Source  string        `mapstructure:"source"` // entsoe or octopus
	Timeout time.Duration `mapstructure:"timeout"`
	Entsoe  EntsoeConfig  `mapstructure:"entsoe"`
	Octopus OctopusConfig `mapstructure:"octopus"`
}

// EntsoeConfig holds ENTSO-E transparency platform settings
type EntsoeConfig struct {
	BaseURL string  `mapstructure:"base_url"`
	Token   string  `mapstructure:"token"`
	Zone    string  `mapstructure:"zone"`
	Tax     float64 `mapstructure:"tax"` // VAT multiplier, 1.255 = 25.5 %
}

// OctopusConfig holds Octopus Agile settings
type OctopusConfig struct {
	BaseURL string `mapstructure:"base_url"`
	Product string `mapstructure:"product"`
	Region  string `mapstructure:"region"`
}

// TariffsConfig holds distribution tariffs added on top of the spot price
type TariffsConfig struct {
	Enabled  bool            `mapstructure:"enabled"`
	Fallback float64         `mapstructure:"fallback"`
	Tariffs  []prices.Tariff `mapstructure:"list"`
}

// WeatherConfig holds Open-Meteo forecast settings
type WeatherConfig struct {
	BaseURL   string  `mapstructure:"base_url"`
	Latitude  float64 `mapstructure:"latitude"`
	Longitude float64 `mapstructure:"longitude"`
	WindChill bool    `mapstructure:"wind_chill"`
}

// InfluxConfig holds time-series storage settings
type InfluxConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	URL                string `mapstructure:"url"`
	Token              string `mapstructure:"token"`
	Org                string `mapstructure:"org"`
	Bucket             string `mapstructure:"bucket"`
	PriceMeasurement   string `mapstructure:"price_measurement"`
	ControlMeasurement string `mapstructure:"control_measurement"`
	LoadMeasurement    string `mapstructure:"load_measurement"`
}

// StoreConfig holds the SQLite cache and run history settings
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// MQTTConfig holds the embedded broker settings
type MQTTConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Address     string `mapstructure:"address"`
	TopicPrefix string `mapstructure:"topic_prefix"`
}

// KafkaConfig holds the schedule event producer settings
type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// ServerConfig holds daemon settings
type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	PlanInterval time.Duration `mapstructure:"plan_interval"`
	PlanAhead    time.Duration `mapstructure:"plan_ahead"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

var envReplacer = strings.NewReplacer(".", "_")

// DefaultDir returns ~/.smartheat
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".smartheat"
	}
	return filepath.Join(home, ".smartheat")
}

// Load reads configuration from file and environment variables. With an
// empty path, config.yaml in DefaultDir is used when present.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(DefaultDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	// SMART_HEAT_PRICES_ENTSOE_TOKEN overrides prices.entsoe.token
	v.SetEnvPrefix("SMART_HEAT")
	v.SetEnvKeyReplacer(envReplacer)
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Heating defaults
	v.SetDefault("heating.device", "heatpump")
	v.SetDefault("heating.device_kw", 2.0)
	v.SetDefault("heating.number_of_periods", 3)
	v.SetDefault("heating.heat_curve", []map[string]interface{}{
		{"temperature": -25, "hours": 24},
		{"temperature": 13, "hours": 0},
	})
	v.SetDefault("heating.flex_default", 0.5)
	v.SetDefault("heating.flex_threshold", 0.0)
	v.SetDefault("heating.gap_threshold", 1.0)
	v.SetDefault("heating.shift_price_limit", 2.0)
	v.SetDefault("heating.period_overlap", engine.DefaultPeriodOverlap.String())
	v.SetDefault("heating.reset_loads", false)

	// Price defaults
	v.SetDefault("prices.source", "entsoe")
	v.SetDefault("prices.timeout", "30s")
	v.SetDefault("prices.entsoe.token", "")
	v.SetDefault("prices.entsoe.base_url", "https://web-api.tp.entsoe.eu/api")
	v.SetDefault("prices.entsoe.zone", "10YFI-1--------U")
	v.SetDefault("prices.entsoe.tax", 1.255)
	v.SetDefault("prices.octopus.base_url", "https://api.octopus.energy/v1")
	v.SetDefault("prices.octopus.product", "AGILE-24-10-01")
	v.SetDefault("prices.octopus.region", "C")

	// Tariff defaults
	v.SetDefault("tariffs.enabled", false)
	v.SetDefault("tariffs.fallback", 0.0)

	// Weather defaults
	v.SetDefault("weather.base_url", "https://api.open-meteo.com/v1/forecast")
	v.SetDefault("weather.latitude", 60.17)
	v.SetDefault("weather.longitude", 24.94)
	v.SetDefault("weather.wind_chill", false)

	// Influx defaults
	v.SetDefault("influx.enabled", false)
	v.SetDefault("influx.url", "http://localhost:8086")
	v.SetDefault("influx.token", "")
	v.SetDefault("influx.org", "home")
	v.SetDefault("influx.bucket", "smartheat")
	v.SetDefault("influx.price_measurement", "spot_price")
	v.SetDefault("influx.control_measurement", "heating_control")
	v.SetDefault("influx.load_measurement", "total_load")

	// Store defaults
	v.SetDefault("store.path", filepath.Join(DefaultDir(), "smartheat.db"))

	// MQTT defaults
	v.SetDefault("mqtt.enabled", false)
	v.SetDefault("mqtt.address", ":1883")
	v.SetDefault("mqtt.topic_prefix", "smartheat")

	// Kafka defaults
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "heating-schedules")

	// Server defaults
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.plan_interval", "1h")
	v.SetDefault("server.plan_ahead", "24h")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Heating config
	if c.Heating.Device == "" {
		return fmt.Errorf("heating.device is required")
	}
	if c.Heating.DeviceKW < 0 {
		return fmt.Errorf("heating.device_kw must not be negative")
	}
	if err := c.Heating.HeatingParams.Validate(); err != nil {
		return fmt.Errorf("heating: %w", err)
	}

	// Validate Prices config
	switch c.Prices.Source {
	case "entsoe":
		if c.Prices.Entsoe.Token == "" {
			return fmt.Errorf("prices.entsoe.token is required when prices.source is entsoe")
		}
		if c.Prices.Entsoe.Zone == "" {
			return fmt.Errorf("prices.entsoe.zone is required")
		}
		if c.Prices.Entsoe.Tax <= 0 {
			return fmt.Errorf("prices.entsoe.tax must be positive")
		}
	case "octopus":
		if c.Prices.Octopus.Region == "" {
			return fmt.Errorf("prices.octopus.region is required when prices.source is octopus")
		}
	default:
		return fmt.Errorf("prices.source must be one of: entsoe, octopus")
	}

	// Validate Tariffs config
	if c.Tariffs.Enabled {
		for i, t := range c.Tariffs.Tariffs {
			if err := t.Validate(); err != nil {
				return fmt.Errorf("tariffs.list[%d]: %w", i, err)
			}
		}
	}

	// Validate Weather config
	if c.Weather.Latitude < -90 || c.Weather.Latitude > 90 {
		return fmt.Errorf("weather.latitude must be between -90 and 90")
	}
	if c.Weather.Longitude < -180 || c.Weather.Longitude > 180 {
		return fmt.Errorf("weather.longitude must be between -180 and 180")
	}

	// Validate Influx config
	if c.Influx.Enabled {
		if c.Influx.URL == "" || c.Influx.Org == "" || c.Influx.Bucket == "" {
			return fmt.Errorf("influx.url, influx.org and influx.bucket are required when influx is enabled")
		}
	}

	// Validate MQTT config
	if c.MQTT.Enabled && c.MQTT.TopicPrefix == "" {
		return fmt.Errorf("mqtt.topic_prefix is required when mqtt is enabled")
	}

	// Validate Kafka config
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka.brokers must contain at least one broker when kafka is enabled")
		}
		if c.Kafka.Topic == "" {
			return fmt.Errorf("kafka.topic is required when kafka is enabled")
		}
	}

	// Validate Server config
	if c.Server.PlanInterval < time.Minute {
		return fmt.Errorf("server.plan_interval must be at least 1 minute")
	}
	if c.Server.PlanAhead < time.Hour {
		return fmt.Errorf("server.plan_ahead must be at least 1 hour")
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
