package publish

import (
	"context"

	"github.com/awaistahir/smart-heat/internal/engine"
	"github.com/awaistahir/smart-heat/internal/store"
)

// ScheduleWriter stores control points, implemented by *influx.Client
type ScheduleWriter interface {
	ReplaceSchedule(ctx context.Context, measurement string, schedule []engine.ControlPoint) error
}

// InfluxSink writes each run's schedule to a control measurement
type InfluxSink struct {
	writer      ScheduleWriter
	measurement string
}

// NewInfluxSink creates a sink over writer
func NewInfluxSink(writer ScheduleWriter, measurement string) *InfluxSink {
	return &InfluxSink{writer: writer, measurement: measurement}
}

// Name implements Sink
func (s *InfluxSink) Name() string {
	return "influx"
}

// Publish replaces the stored controls in the run's range
func (s *InfluxSink) Publish(ctx context.Context, run *store.Run) error {
	return s.writer.ReplaceSchedule(ctx, s.measurement, run.Schedule)
}
