package planner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/awaistahir/smart-heat/internal/engine"
	"github.com/awaistahir/smart-heat/internal/prices"
	"github.com/awaistahir/smart-heat/internal/publish"
	"github.com/awaistahir/smart-heat/internal/store"
	"github.com/awaistahir/smart-heat/internal/weather"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Run kinds
const (
	KindHeating = "heating"
	KindPeak    = "peak"
)

// forecastMaxAge is how long a cached forecast is reused
const forecastMaxAge = time.Hour

// ForecastSource delivers hourly weather for [start, end)
type ForecastSource interface {
	Forecast(ctx context.Context, start, end time.Time) ([]engine.WeatherSlot, error)
}

// LoadSource delivers historical load for [start, end)
type LoadSource func(ctx context.Context, start, end time.Time) (engine.LoadFeed, error)

// Recorder keeps fetched prices and the planned total load in time-series storage
type Recorder interface {
	RecordPrices(ctx context.Context, points []engine.PricePoint) error
	RecordLoads(ctx context.Context, points []engine.LoadPoint) error
}

// Options wires a Planner
type Options struct {
	Device     string
	DeviceKW   float64
	Params     engine.HeatingParams
	Prices     prices.Source
	SourceName string // cache key of the price feed
	Forecast   ForecastSource
	Latitude   float64
	Longitude  float64
	WindChill  bool
	Loads      LoadSource // optional
	Recorder   Recorder   // optional
	Store      *store.Store
	Sinks      []publish.Sink
}

// Planner runs one optimization end to end: feeds, optimizer, store and sinks
type Planner struct {
	opts Options
	log  *logrus.Entry
}

// New validates the options and creates a planner
func New(opts Options) (*Planner, error) {
	if opts.Device == "" {
		return nil, fmt.Errorf("%w: device is required", engine.ErrInvalidInput)
	}
	if opts.Prices == nil || opts.Store == nil {
		return nil, fmt.Errorf("%w: price source and store are required", engine.ErrInvalidInput)
	}
	if opts.SourceName == "" {
		opts.SourceName = "default"
	}
	return &Planner{
		opts: opts,
		log:  logrus.WithFields(logrus.Fields{"component": "planner", "device": opts.Device}),
	}, nil
}

// Device returns the planned device
func (p *Planner) Device() string {
	return p.opts.Device
}

// Store returns the run store
func (p *Planner) Store() *store.Store {
	return p.opts.Store
}

// Prices returns spot prices for [start, end), from the cache when present
func (p *Planner) Prices(ctx context.Context, start, end time.Time) ([]engine.PricePoint, error) {
	cached, err := p.opts.Store.GetCachedPrices(p.opts.SourceName, start, end)
	if err == nil {
		CacheHitsTotal.WithLabelValues("prices", "hit").Inc()
		return cached, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		p.log.WithError(err).Warn("reading price cache")
	}
	CacheHitsTotal.WithLabelValues("prices", "miss").Inc()

	points, err := p.opts.Prices.Prices(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("fetching prices: %w", err)
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: no prices for %s - %s", engine.ErrInsufficientData,
			start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	if err := p.opts.Store.CachePrices(p.opts.SourceName, start, end, points); err != nil {
		p.log.WithError(err).Warn("caching prices")
	}
	if p.opts.Recorder != nil {
		if err := p.opts.Recorder.RecordPrices(ctx, points); err != nil {
			p.log.WithError(err).Warn("recording prices")
		}
	}
	return points, nil
}

// forecast returns the weather for [start, end), from the cache when recent
func (p *Planner) forecast(ctx context.Context, start, end time.Time) ([]engine.WeatherSlot, error) {
	lat, lon := p.opts.Latitude, p.opts.Longitude
	cached, err := p.opts.Store.GetCachedForecast(lat, lon, start, end, forecastMaxAge)
	if err == nil {
		CacheHitsTotal.WithLabelValues("forecast", "hit").Inc()
		return cached, nil
	}
	CacheHitsTotal.WithLabelValues("forecast", "miss").Inc()

	slots, err := p.opts.Forecast.Forecast(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("fetching forecast: %w", err)
	}
	if err := p.opts.Store.CacheForecast(lat, lon, start, end, slots); err != nil {
		p.log.WithError(err).Warn("caching forecast")
	}
	return slots, nil
}

// series fetches prices and builds a series with seeded loads
func (p *Planner) series(ctx context.Context, start, end time.Time) (*engine.Series, error) {
	points, err := p.Prices(ctx, start, end)
	if err != nil {
		return nil, err
	}
	series, err := engine.NewSeries(points)
	if err != nil {
		return nil, err
	}

	if p.opts.Loads != nil && !p.opts.Params.ResetLoads {
		feed, err := p.loadHistory(ctx, start, end, "")
		if err != nil {
			p.log.WithError(err).Warn("reading load history, planning without it")
		} else {
			series.SeedLoads(feed)
		}
	}
	return series, nil
}

// loadHistory reads the recorded total load with this device's own stored
// schedule taken out, so a window planned again does not count it twice.
// The run with id skip is ignored.
func (p *Planner) loadHistory(ctx context.Context, start, end time.Time, skip string) (engine.LoadFeed, error) {
	feed, err := p.opts.Loads(ctx, start, end)
	if err != nil {
		return nil, err
	}
	runs, err := p.opts.Store.ListRuns(p.opts.Device, 10)
	if err != nil {
		p.log.WithError(err).Warn("reading stored runs, using load history as is")
	}
	own := make([]*store.Run, 0, len(runs))
	for _, r := range runs {
		if r.ID != skip {
			own = append(own, r)
		}
	}
	return &otherLoads{feed: feed, runs: own, deviceKW: p.opts.DeviceKW}, nil
}

// otherLoads is a load feed without the device load of the newest stored run
// covering each slot
type otherLoads struct {
	feed     engine.LoadFeed
	runs     []*store.Run // newest first
	deviceKW float64
}

func (o *otherLoads) LoadAt(t time.Time) (float64, bool) {
	load, ok := o.feed.LoadAt(t)
	if !ok {
		return 0, false
	}
	for _, r := range o.runs {
		control, covered := engine.ControlAt(r.Schedule, t, engine.Resolution)
		if !covered {
			continue
		}
		if control == engine.ControlOn {
			load -= o.deviceKW
		}
		break
	}
	return math.Max(load, 0), true
}

// Run optimizes heating for [start, end), stores the run and publishes it
func (p *Planner) Run(ctx context.Context, start, end time.Time) (*store.Run, error) {
	began := time.Now()
	run, err := p.runHeating(ctx, start, end)
	return p.finish(ctx, KindHeating, began, run, err)
}

func (p *Planner) runHeating(ctx context.Context, start, end time.Time) (*store.Run, error) {
	if p.opts.Forecast == nil {
		return nil, fmt.Errorf("%w: forecast source is required", engine.ErrInvalidInput)
	}

	series, err := p.series(ctx, start, end)
	if err != nil {
		return nil, err
	}

	from, to := engine.ForecastWindow(start, end, p.opts.Params.NumberOfPeriods)
	slots, err := p.forecast(ctx, from, to)
	if err != nil {
		return nil, err
	}

	opt, err := engine.NewHeatingOptimizer(series, weather.NewForecast(slots, p.opts.WindChill), start, end, p.opts.Params)
	if err != nil {
		return nil, err
	}
	if err := opt.Optimize(); err != nil {
		return nil, fmt.Errorf("optimizing: %w", err)
	}
	schedule, err := opt.Schedule()
	if err != nil {
		return nil, err
	}

	return &store.Run{
		Kind:     KindHeating,
		Start:    start,
		End:      end,
		Params:   p.opts.Params,
		Schedule: schedule,
		Summary:  engine.Summarize(opt.Series(), p.opts.DeviceKW),
	}, nil
}

// Peak blocks the two most expensive periods of [start, end) leaving
// heatingHours allowed, stores the run and publishes it
func (p *Planner) Peak(ctx context.Context, start, end time.Time, heatingHours float64) (*store.Run, error) {
	began := time.Now()
	run, err := p.runPeak(ctx, start, end, heatingHours)
	return p.finish(ctx, KindPeak, began, run, err)
}

func (p *Planner) runPeak(ctx context.Context, start, end time.Time, heatingHours float64) (*store.Run, error) {
	series, err := p.series(ctx, start, end)
	if err != nil {
		return nil, err
	}
	opt, err := engine.NewPeakOptimizer(series)
	if err != nil {
		return nil, err
	}
	if err := opt.BlockPeaks(heatingHours); err != nil {
		return nil, fmt.Errorf("blocking peaks: %w", err)
	}
	schedule, err := opt.Series().Schedule()
	if err != nil {
		return nil, err
	}

	return &store.Run{
		Kind:     KindPeak,
		Start:    start,
		End:      end,
		Params:   p.opts.Params,
		Schedule: schedule,
		Summary:  engine.Summarize(opt.Series(), p.opts.DeviceKW),
	}, nil
}

// finish stores and publishes a successful run and records metrics
func (p *Planner) finish(ctx context.Context, kind string, began time.Time, run *store.Run, err error) (*store.Run, error) {
	defer func() {
		RunDuration.WithLabelValues(kind).Observe(time.Since(began).Seconds())
	}()

	if err != nil {
		RunsTotal.WithLabelValues(kind, "error").Inc()
		p.log.WithError(err).WithField("kind", kind).Error("optimization failed")
		return nil, err
	}

	run.ID = uuid.NewString()
	run.Device = p.opts.Device
	run.CreatedAt = time.Now().UTC()
	if err := p.opts.Store.SaveRun(run); err != nil {
		RunsTotal.WithLabelValues(kind, "error").Inc()
		return nil, fmt.Errorf("saving run: %w", err)
	}

	RunsTotal.WithLabelValues(kind, "ok").Inc()
	OnHours.WithLabelValues(p.opts.Device).Set(run.Summary.OnHours)
	EstimatedCost.WithLabelValues(p.opts.Device).Set(run.Summary.EstimatedCost)

	p.log.WithFields(logrus.Fields{
		"run":       run.ID,
		"kind":      kind,
		"on_hours":  run.Summary.OnHours,
		"avg_price": run.Summary.AvgOnPrice,
	}).Info("optimization stored")

	p.publish(ctx, run)
	p.recordLoads(ctx, run)
	return run, nil
}

// recordLoads adds the device load of the schedule on top of the load
// history and writes the total back
func (p *Planner) recordLoads(ctx context.Context, run *store.Run) {
	if p.opts.Recorder == nil || len(run.Schedule) == 0 {
		return
	}
	start := run.Schedule[0].Start
	end := run.Schedule[len(run.Schedule)-1].Start.Add(engine.Resolution)

	var history engine.LoadFeed
	if p.opts.Loads != nil && !p.opts.Params.ResetLoads {
		feed, err := p.loadHistory(ctx, start, end, run.ID)
		if err != nil {
			p.log.WithError(err).Warn("reading load history, recording device load only")
		} else {
			history = feed
		}
	}

	calc, err := engine.NewLoadCalculator(start, end, history, p.opts.Params.ResetLoads)
	if err == nil {
		err = calc.AddDynamicLoad(run.Schedule, p.opts.DeviceKW)
	}
	if err == nil {
		err = p.opts.Recorder.RecordLoads(ctx, calc.Points())
	}
	if err != nil {
		SinkErrorsTotal.WithLabelValues("loads").Inc()
		p.log.WithError(err).Warn("recording loads")
	}
}

// publish sends the run to every sink. Sink failures are logged only.
func (p *Planner) publish(ctx context.Context, run *store.Run) {
	for _, sink := range p.opts.Sinks {
		if err := sink.Publish(ctx, run); err != nil {
			SinkErrorsTotal.WithLabelValues(sink.Name()).Inc()
			p.log.WithError(err).WithField("sink", sink.Name()).Warn("publishing run")
		}
	}
}
