package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/awaistahir/smart-heat/internal/config"
	"github.com/awaistahir/smart-heat/internal/prices"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("heating:\n  device: heatpump\n"), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	cfg.Prices.Entsoe.Token = "secret"
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestPriceSource(t *testing.T) {
	cfg := &config.Config{}
	cfg.Prices.Source = "entsoe"
	cfg.Prices.Entsoe.Zone = "10YFI-1--------U"

	source, name := PriceSource(cfg)
	assert.IsType(t, &prices.EntsoeClient{}, source)
	assert.Equal(t, "entsoe:10YFI-1--------U", name)

	cfg.Prices.Source = "octopus"
	cfg.Prices.Octopus.Product = "AGILE-24-10-01"
	cfg.Prices.Octopus.Region = "C"
	cfg.Tariffs.Enabled = true

	source, name = PriceSource(cfg)
	assert.NotNil(t, source)
	assert.Equal(t, "octopus:AGILE-24-10-01:C:tariffs", name)
}

func TestNew(t *testing.T) {
	cfg := testConfig(t)
	cfg.MQTT.Enabled = true
	cfg.MQTT.Address = ""

	a, err := New(context.Background(), cfg, filepath.Join(t.TempDir(), "app.db"))
	require.NoError(t, err)

	assert.NotNil(t, a.Store)
	assert.NotNil(t, a.Broker)
	assert.Nil(t, a.Influx)
	assert.Equal(t, cfg.Heating.Device, a.Planner.Device())

	require.NoError(t, a.Close())
	assert.NoError(t, a.Close(), "second close is a no-op")
}
