package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAndValidate(t *testing.T) {
	path := writeConfig(t, `
heating:
  device: livingroom
  number_of_periods: 4
  heat_curve:
    - temperature: -20
      hours: 20
    - temperature: 0
      hours: 8
    - temperature: 15
      hours: 0
  drop_threshold: 3
  short_threshold: 1
  flex_default: 0.3
  period_overlap: 30m
  load_limit:
    max_load: 11
    device_load: 3

prices:
  source: entsoe
  entsoe:
    token: secret

tariffs:
  enabled: true
  fallback: 2.5
  list:
    - name: night
      price: 1.5
      hours: [22, 23, 0, 1, 2, 3, 4, 5, 6]

kafka:
  enabled: true
  brokers: ["kafka-1:9092", "kafka-2:9092"]

logging:
  level: debug
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	h := cfg.Heating
	assert.Equal(t, "livingroom", h.Device)
	assert.Equal(t, 4, h.NumberOfPeriods)
	require.Len(t, h.HeatCurve, 3)
	assert.Equal(t, 8.0, h.HeatCurve[1].Hours)
	require.NotNil(t, h.DropThreshold)
	assert.Equal(t, 3.0, *h.DropThreshold)
	require.NotNil(t, h.ShortThreshold)
	assert.Equal(t, 0.3, h.FlexDefault)
	assert.Equal(t, 30*time.Minute, h.PeriodOverlap)
	require.NotNil(t, h.Limit)
	assert.Equal(t, 11.0, h.Limit.MaxLoad)

	// Defaults fill the rest
	assert.Equal(t, 2.0, h.ShiftPriceLimit)
	assert.Equal(t, 1.255, cfg.Prices.Entsoe.Tax)
	assert.Equal(t, 30*time.Second, cfg.Prices.Timeout)
	assert.Equal(t, time.Hour, cfg.Server.PlanInterval)
	assert.Equal(t, "smartheat", cfg.MQTT.TopicPrefix)

	require.Len(t, cfg.Tariffs.Tariffs, 1)
	assert.Equal(t, "night", cfg.Tariffs.Tariffs[0].Name)
	assert.Len(t, cfg.Tariffs.Tariffs[0].Hours, 9)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadDefaultsWithoutDropThreshold(t *testing.T) {
	path := writeConfig(t, "prices:\n  source: octopus\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Nil(t, cfg.Heating.DropThreshold, "drop handling off unless configured")
	assert.Nil(t, cfg.Heating.Limit)
	assert.Equal(t, 3, cfg.Heating.NumberOfPeriods)
	assert.Len(t, cfg.Heating.HeatCurve, 2)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SMART_HEAT_PRICES_ENTSOE_TOKEN", "from-env")
	t.Setenv("SMART_HEAT_LOGGING_LEVEL", "warn")
	path := writeConfig(t, "heating:\n  device: sauna\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Prices.Entsoe.Token)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "entsoe without token",
			yaml:    "prices:\n  source: entsoe\n",
			wantErr: "prices.entsoe.token",
		},
		{
			name:    "unknown price source",
			yaml:    "prices:\n  source: nordpool\n",
			wantErr: "prices.source",
		},
		{
			name:    "flex default out of range",
			yaml:    "prices:\n  source: octopus\nheating:\n  flex_default: 2\n",
			wantErr: "heating",
		},
		{
			name:    "invalid tariff hour",
			yaml:    "prices:\n  source: octopus\ntariffs:\n  enabled: true\n  list:\n    - name: bad\n      hours: [24]\n",
			wantErr: "tariffs.list[0]",
		},
		{
			name:    "kafka without topic",
			yaml:    "prices:\n  source: octopus\nkafka:\n  enabled: true\n  topic: \"\"\n",
			wantErr: "kafka.topic",
		},
		{
			name:    "bad log level",
			yaml:    "prices:\n  source: octopus\nlogging:\n  level: trace\n",
			wantErr: "logging.level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, tt.yaml))
			require.NoError(t, err)

			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
