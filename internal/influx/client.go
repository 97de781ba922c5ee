package influx

import (
	"context"
	"fmt"
	"time"

	"github.com/awaistahir/smart-heat/internal/engine"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/sirupsen/logrus"
)

// Config holds connection settings
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

// Point is one time-value pair of a measurement
type Point struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// Client reads, writes and deletes single-field measurements in an InfluxDB v2 bucket
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	queryAPI api.QueryAPI
	config   Config
}

// NewClient initializes the InfluxDB v2 client and verifies connectivity
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	client := influxdb2.NewClient(cfg.URL, cfg.Token)

	// Add a health check to verify credentials
	if _, err := client.Health(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to InfluxDB: %w", err)
	}

	logrus.WithFields(logrus.Fields{"url": cfg.URL, "bucket": cfg.Bucket}).Info("connected to InfluxDB")
	return &Client{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		queryAPI: client.QueryAPI(cfg.Org),
		config:   cfg,
	}, nil
}

// Close closes the InfluxDB client
func (c *Client) Close() {
	c.client.Close()
}

// WritePoints writes points as the value field of measurement
func (c *Client) WritePoints(ctx context.Context, measurement string, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	batch := make([]*write.Point, 0, len(points))
	for _, p := range points {
		batch = append(batch, write.NewPoint(
			measurement,
			map[string]string{},
			map[string]interface{}{"value": p.Value},
			p.Time,
		))
	}

	if err := c.writeAPI.WritePoint(ctx, batch...); err != nil {
		return fmt.Errorf("writing %d points to %s: %w", len(points), measurement, err)
	}
	logrus.WithFields(logrus.Fields{"measurement": measurement, "points": len(points)}).Debug("points written")
	return nil
}

// Points returns the points of measurement in [start, stop) in time order
func (c *Client) Points(ctx context.Context, measurement string, start, stop time.Time) ([]Point, error) {
	query := fmt.Sprintf(`from(bucket: %q)
  |> range(start: %s, stop: %s)
  |> filter(fn: (r) => r["_measurement"] == %q)
  |> filter(fn: (r) => r["_field"] == "value")
  |> sort(columns: ["_time"])`,
		c.config.Bucket, start.UTC().Format(time.RFC3339), stop.UTC().Format(time.RFC3339), measurement)

	result, err := c.queryAPI.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", measurement, err)
	}
	defer result.Close()

	var points []Point
	for result.Next() {
		record := result.Record()
		value, ok := toFloat(record.Value())
		if !ok {
			continue
		}
		points = append(points, Point{Time: record.Time(), Value: value})
	}
	if result.Err() != nil {
		return nil, fmt.Errorf("reading %s: %w", measurement, result.Err())
	}

	if len(points) == 0 {
		logrus.WithField("measurement", measurement).Warn("query did not return any data")
	}
	return points, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case bool:
		if n {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

// DeletePoints removes the points of measurement in [start, stop]
func (c *Client) DeletePoints(ctx context.Context, measurement string, start, stop time.Time) error {
	predicate := fmt.Sprintf(`_measurement=%q`, measurement)
	if err := c.client.DeleteAPI().DeleteWithName(ctx, c.config.Org, c.config.Bucket, start, stop, predicate); err != nil {
		return fmt.Errorf("deleting %s: %w", measurement, err)
	}
	logrus.WithFields(logrus.Fields{
		"measurement": measurement,
		"start":       start,
		"stop":        stop,
	}).Info("points deleted")
	return nil
}

// CurrentControl returns the stored control of the slot containing now.
// Without a stored value it defaults to On so the device keeps heating.
func (c *Client) CurrentControl(ctx context.Context, measurement string, now time.Time) (engine.Control, error) {
	start := now.Truncate(engine.Resolution)
	points, err := c.Points(ctx, measurement, start, start.Add(engine.Resolution))
	if err != nil {
		return engine.ControlOn, err
	}
	if len(points) == 0 {
		logrus.WithField("measurement", measurement).Error("current control not found, defaulting to on")
		return engine.ControlOn, nil
	}
	return engine.ControlFromValue(points[0].Value), nil
}
