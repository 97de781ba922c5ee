package player

import (
	"context"
	"sync"
	"time"

	"github.com/awaistahir/smart-heat/internal/engine"
	"github.com/awaistahir/smart-heat/internal/store"
	"github.com/sirupsen/logrus"
)

// Controller switches a heating device
type Controller interface {
	SetControl(ctx context.Context, control engine.Control) error
}

// ScheduleSource lists stored runs of a device, newest first
type ScheduleSource interface {
	ListRuns(device string, limit int) ([]*store.Run, error)
}

// RecentRuns is how many stored runs are searched for one covering now
const RecentRuns = 10

// Player replays the latest stored schedule to a controller every quarter hour
type Player struct {
	wg         *sync.WaitGroup
	device     string
	source     ScheduleSource
	controller Controller
	now        func() time.Time
	last       engine.Control
}

// New creates a player for device
func New(device string, source ScheduleSource, controller Controller) *Player {
	return &Player{
		wg:         &sync.WaitGroup{},
		device:     device,
		source:     source,
		controller: controller,
		now:        time.Now,
	}
}

// Start applies the current control and keeps applying it on every quarter hour until ctx is done
func (p *Player) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.controllerLoop(ctx)
}

// Wait blocks until the loop has stopped
func (p *Player) Wait() {
	p.wg.Wait()
}

func (p *Player) controllerLoop(ctx context.Context) {
	defer p.wg.Done()
	delay := nextDelay(p.now())
	timer := time.NewTimer(delay)
	defer timer.Stop()
	p.apply(ctx)
	logrus.Debugf("scheduling next control in %s", delay)
	for {
		select {
		case <-timer.C:
			timer.Reset(nextDelay(p.now()))
			p.apply(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *Player) apply(ctx context.Context) {
	control := p.Current()
	if err := p.controller.SetControl(ctx, control); err != nil {
		logrus.WithError(err).WithField("device", p.device).Error("setting control")
		return
	}
	if control != p.last {
		logrus.WithFields(logrus.Fields{"device": p.device, "control": control}).Info("control changed")
		p.last = control
	}
}

// Current returns the control of the newest run covering now. Without one
// it returns On so the device keeps heating.
func (p *Player) Current() engine.Control {
	runs, err := p.source.ListRuns(p.device, RecentRuns)
	if err != nil {
		logrus.WithError(err).Error("reading stored runs")
	}
	now := p.now()
	if control, ok := ControlFor(runs, now); ok {
		return control
	}
	logrus.WithFields(logrus.Fields{
		"device": p.device,
		"at":     now.Format(time.RFC3339),
	}).Warn("no schedule covers now, defaulting to on")
	return engine.ControlOn
}

// ControlFor returns the control at now of the first run in runs that covers it
func ControlFor(runs []*store.Run, now time.Time) (engine.Control, bool) {
	for _, run := range runs {
		control, ok := engine.ControlAt(run.Schedule, now, engine.Resolution)
		if ok && control != engine.ControlUnset {
			return control, true
		}
	}
	return engine.ControlUnset, false
}

// nextDelay returns the time until the next quarter-hour mark (0, 15, 30, 45)
func nextDelay(now time.Time) time.Duration {
	next := now.Truncate(engine.Resolution).Add(engine.Resolution)
	return next.Sub(now)
}
