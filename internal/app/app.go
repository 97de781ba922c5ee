package app

import (
	"context"
	"fmt"
	"time"

	"github.com/awaistahir/smart-heat/internal/config"
	"github.com/awaistahir/smart-heat/internal/engine"
	"github.com/awaistahir/smart-heat/internal/influx"
	"github.com/awaistahir/smart-heat/internal/planner"
	"github.com/awaistahir/smart-heat/internal/prices"
	"github.com/awaistahir/smart-heat/internal/publish"
	"github.com/awaistahir/smart-heat/internal/store"
	"github.com/awaistahir/smart-heat/internal/weather"
	"github.com/sirupsen/logrus"
)

// App holds every component built from one configuration
type App struct {
	Config  *config.Config
	Store   *store.Store
	Planner *planner.Planner
	Broker  *publish.Broker // nil unless mqtt is enabled
	Influx  *influx.Client  // nil unless influx is enabled

	closers []func() error
}

// New opens the store and connects the enabled backends. dbPath overrides
// the configured store path when set.
func New(ctx context.Context, cfg *config.Config, dbPath string) (*App, error) {
	a := &App{Config: cfg}
	if dbPath == "" {
		dbPath = cfg.Store.Path
	}

	st, err := store.NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	a.Store = st
	a.closers = append(a.closers, st.Close)

	var sinks []publish.Sink
	var loads planner.LoadSource
	var recorder planner.Recorder

	if cfg.Influx.Enabled {
		client, err := influx.NewClient(ctx, influx.Config{
			URL:    cfg.Influx.URL,
			Token:  cfg.Influx.Token,
			Org:    cfg.Influx.Org,
			Bucket: cfg.Influx.Bucket,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Influx = client
		a.closers = append(a.closers, func() error { client.Close(); return nil })
		sinks = append(sinks, publish.NewInfluxSink(client, cfg.Influx.ControlMeasurement))

		recorder = influx.NewRecorder(client, cfg.Influx.PriceMeasurement, cfg.Influx.LoadMeasurement)
		measurement := cfg.Influx.LoadMeasurement
		loads = func(ctx context.Context, start, end time.Time) (engine.LoadFeed, error) {
			return client.LoadHistory(ctx, measurement, start, end)
		}
	}

	if cfg.MQTT.Enabled {
		broker, err := publish.StartBroker(cfg.MQTT.Address, cfg.MQTT.TopicPrefix)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Broker = broker
		a.closers = append(a.closers, broker.Close)
		sinks = append(sinks, broker)
	}

	if cfg.Kafka.Enabled {
		sink, err := publish.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, sink.Close)
		sinks = append(sinks, sink)
	}

	source, name := PriceSource(cfg)
	p, err := planner.New(planner.Options{
		Device:     cfg.Heating.Device,
		DeviceKW:   cfg.Heating.DeviceKW,
		Params:     cfg.Heating.HeatingParams,
		Prices:     source,
		SourceName: name,
		Forecast:   weather.NewOpenMeteoClient(cfg.Weather.BaseURL, cfg.Weather.Latitude, cfg.Weather.Longitude),
		Latitude:   cfg.Weather.Latitude,
		Longitude:  cfg.Weather.Longitude,
		WindChill:  cfg.Weather.WindChill,
		Loads:      loads,
		Recorder:   recorder,
		Store:      st,
		Sinks:      sinks,
	})
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Planner = p

	logrus.WithFields(logrus.Fields{
		"device": cfg.Heating.Device,
		"prices": name,
		"sinks":  len(sinks),
	}).Info("components ready")
	return a, nil
}

// PriceSource builds the configured price feed and its cache key. Tariffs,
// when enabled, are added on top of the spot price.
func PriceSource(cfg *config.Config) (prices.Source, string) {
	var source prices.Source
	var name string
	switch cfg.Prices.Source {
	case "octopus":
		o := cfg.Prices.Octopus
		source = prices.NewOctopusClient(o.BaseURL, o.Product, o.Region, cfg.Prices.Timeout)
		name = "octopus:" + o.Product + ":" + o.Region
	default:
		e := cfg.Prices.Entsoe
		source = prices.NewEntsoeClient(e.BaseURL, e.Token, e.Zone, e.Tax, cfg.Prices.Timeout)
		name = "entsoe:" + e.Zone
	}

	if cfg.Tariffs.Enabled {
		source = prices.WithTariffs(source, &prices.TariffCalculator{
			Fallback: cfg.Tariffs.Fallback,
			Tariffs:  cfg.Tariffs.Tariffs,
		})
		name += ":tariffs"
	}
	return source, name
}

// Close releases everything New opened, newest first
func (a *App) Close() error {
	var first error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && first == nil {
			first = err
		}
	}
	a.closers = nil
	return first
}
