// Package orchestrator keeps a set of sensors connected and streaming. It
// bounds concurrent connection attempts, retries failed or lost connections
// forever, and only enables notifications while every sensor is connected.
package orchestrator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/nervous/internal/events"
	"github.com/srg/nervous/internal/groutine"
	"github.com/srg/nervous/internal/link"
	"github.com/srg/nervous/internal/metrics"
	"github.com/srg/nervous/internal/sensor"
	"golang.org/x/sync/semaphore"
)

// ErrStopped is returned by Start after Stop.
var ErrStopped = errors.New("orchestrator stopped")

// Options tunes the orchestrator. Zero fields take the tag default.
type Options struct {
	// MaxParallel is the number of connection attempts allowed at once.
	MaxParallel int `default:"1"`
	// RetryDelay separates two checks of the same sensor.
	RetryDelay time.Duration `default:"1s"`
	// PollInterval is how often the notification gate rechecks connections.
	PollInterval time.Duration `default:"100ms"`
	// FanoutErrorDelay is the pause after a notification fan-out failed.
	FanoutErrorDelay time.Duration `default:"1s"`
	// BatteryInterval is how often battery levels are reported.
	BatteryInterval time.Duration `default:"120s"`
	// StopTimeout bounds the disable and disconnect fan-outs of Stop.
	StopTimeout time.Duration `default:"10s"`

	Metrics *metrics.Collectors
	// Events receives status events and is closed by Stop. One is created
	// when nil.
	Events *events.Bus
}

// tracked is the orchestrator's view of one sensor.
type tracked struct {
	sensor sensor.Sensor
	// holding is true while this sensor's attempt owns a permit.
	holding atomic.Bool
	// attempts receives the result of the attempt in flight.
	attempts chan sensor.Outcome
	// drops is signalled when an established connection ends.
	drops chan struct{}
}

type Orchestrator struct {
	opts    Options
	logger  *logrus.Logger
	sensors []sensor.Sensor
	index   *hashmap.Map[string, *tracked]
	permits *semaphore.Weighted
	bus     *events.Bus

	outcomes chan sensor.Outcome

	mu        sync.Mutex
	connected map[string]bool

	notifying atomic.Bool
	// drops counts disconnections so the gate notices a drop that was
	// repaired between two polls.
	drops atomic.Uint64

	started     atomic.Bool
	stopOnce    sync.Once
	stopCh      chan struct{}
	done        chan struct{}
	cancelLoops context.CancelFunc
	cancelRun   context.CancelFunc
	loops       groutine.Group
	actors      groutine.Group
}

// New prepares an orchestrator for sensors. Names must be unique.
func New(sensors []sensor.Sensor, opts Options, logger *logrus.Logger) *Orchestrator {
	defaults.SetDefaults(&opts)
	if opts.MaxParallel < 1 {
		opts.MaxParallel = 1
	}
	if logger == nil {
		logger = logrus.New()
	}
	bus := opts.Events
	if bus == nil {
		bus = events.NewBus(events.DefaultBusCapacity)
	}

	o := &Orchestrator{
		opts:      opts,
		logger:    logger,
		sensors:   sensors,
		index:     hashmap.New[string, *tracked](),
		permits:   semaphore.NewWeighted(int64(opts.MaxParallel)),
		bus:       bus,
		outcomes:  make(chan sensor.Outcome, len(sensors)+1),
		connected: make(map[string]bool, len(sensors)),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	for _, s := range sensors {
		o.index.Set(s.Name(), &tracked{
			sensor:   s,
			attempts: make(chan sensor.Outcome, 1),
			drops:    make(chan struct{}, 1),
		})
	}
	return o
}

// Options returns the effective options.
func (o *Orchestrator) Options() Options {
	return o.opts
}

// Events returns the status event stream.
func (o *Orchestrator) Events() *events.Bus {
	return o.bus
}

func (o *Orchestrator) Sensors() []sensor.Sensor {
	return o.sensors
}

// Start runs every loop and blocks until ctx is done or Stop is called. It
// returns ctx.Err() in the first case and nil in the second. Link errors are
// handled internally and never returned.
func (o *Orchestrator) Start(ctx context.Context) error {
	if !o.started.CompareAndSwap(false, true) {
		return errors.New("orchestrator already started")
	}

	// Stop takes o.mu too, so it sees either no goroutines or all of them.
	o.mu.Lock()
	select {
	case <-o.stopCh:
		o.mu.Unlock()
		return ErrStopped
	default:
	}

	// Actors and the dispatcher outlive the loops so Stop can still command
	// sensors and receive their outcomes.
	runCtx, cancelRun := context.WithCancel(context.Background())
	loopCtx, cancelLoops := context.WithCancel(ctx)
	o.cancelRun, o.cancelLoops = cancelRun, cancelLoops

	o.logger.WithFields(logrus.Fields{
		"sensors":      len(o.sensors),
		"max_parallel": o.opts.MaxParallel,
	}).Info("Starting connection manager")

	for _, s := range o.sensors {
		s := s
		o.actors.Go(runCtx, "sensor-"+s.Name(), func(ctx context.Context) {
			s.Run(ctx, o.outcomes)
		})
	}
	o.actors.Go(runCtx, "outcome-dispatcher", o.dispatch)

	o.index.Range(func(_ string, t *tracked) bool {
		o.loops.Go(loopCtx, "retry-"+t.sensor.Name(), func(ctx context.Context) {
			o.retryLoop(ctx, t)
		})
		return true
	})
	o.loops.Go(loopCtx, "notification-gate", o.notificationLoop)
	o.loops.Go(loopCtx, "battery-poll", o.batteryLoop)
	o.mu.Unlock()

	select {
	case <-ctx.Done():
		o.Stop()
		return ctx.Err()
	case <-o.stopCh:
		<-o.done
		return nil
	}
}

// Stop ends every loop, disables notifications and disconnects every sensor,
// then closes the event stream. It returns once all of that is done and is
// safe to call more than once and from several goroutines.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		defer close(o.done)
		o.logger.Info("Stopping connection manager")

		o.mu.Lock()
		close(o.stopCh)
		cancelLoops, cancelRun := o.cancelLoops, o.cancelRun
		o.mu.Unlock()

		if cancelLoops != nil {
			cancelLoops()
			o.loops.Wait()

			ctx, cancel := context.WithTimeout(context.Background(), o.opts.StopTimeout)
			o.fanout(ctx, "disable notifications", sensor.Sensor.DisableNotifications)
			o.setNotifying(false)
			o.logger.Info("All notifications stopped")
			o.fanout(ctx, "disconnect", sensor.Sensor.Disconnect)
			o.logger.Info("All sensors disconnected")
			cancel()

			cancelRun()
			o.actors.Wait()
		}

		o.bus.Close()
	})
}

// Done is closed once Stop has finished.
func (o *Orchestrator) Done() <-chan struct{} {
	return o.done
}

// dispatch routes sensor outcomes to the callbacks.
func (o *Orchestrator) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case out := <-o.outcomes:
			switch out.Kind {
			case sensor.OutcomeConnected:
				o.OnConnect(out.Sensor)
			case sensor.OutcomeFailedToConnect:
				o.OnFailToConnect(out.Sensor, out.Err)
			case sensor.OutcomeDisconnected:
				o.OnDisconnect(out.Sensor)
			}
		}
	}
}

// OnConnect records s as connected and frees its permit.
func (o *Orchestrator) OnConnect(s sensor.Sensor) {
	n := o.markConnected(s.Name(), true)
	o.logger.WithField("sensor", s.Name()).Info("Sensor connected")
	o.opts.Metrics.ConnectionAttempt(s.Name(), metrics.ResultConnected)
	o.opts.Metrics.SetConnected(n)
	o.bus.Publish(events.Event{Sensor: s.Name(), Type: events.Connected, Healthy: true})

	if t, ok := o.index.Get(s.Name()); ok {
		o.releasePermit(t)
		notify(t.attempts, sensor.Outcome{Sensor: s, Kind: sensor.OutcomeConnected})
	}
}

// OnFailToConnect frees the permit of a failed attempt.
func (o *Orchestrator) OnFailToConnect(s sensor.Sensor, err error) {
	result := metrics.ResultFailed
	if errors.Is(err, link.ErrLinkNotFound) {
		result = metrics.ResultNotFound
	}

	entry := o.logger.WithField("sensor", s.Name())
	if err != nil {
		entry = entry.WithField("error", err)
	}
	entry.Warn("Sensor failed to connect")
	o.opts.Metrics.ConnectionAttempt(s.Name(), result)

	detail := ""
	if err != nil {
		detail = err.Error()
	}
	o.bus.Publish(events.Event{Sensor: s.Name(), Type: events.ConnectFailed, Detail: detail})

	if t, ok := o.index.Get(s.Name()); ok {
		o.releasePermit(t)
		notify(t.attempts, sensor.Outcome{Sensor: s, Kind: sensor.OutcomeFailedToConnect, Err: err})
	}
}

// OnDisconnect removes s from the connected set, which closes the
// notification gate.
func (o *Orchestrator) OnDisconnect(s sensor.Sensor) {
	n := o.markConnected(s.Name(), false)
	o.drops.Add(1)
	o.logger.WithField("sensor", s.Name()).Info("Sensor disconnected")
	o.opts.Metrics.SetConnected(n)
	o.bus.Publish(events.Event{Sensor: s.Name(), Type: events.Disconnected})

	if t, ok := o.index.Get(s.Name()); ok {
		notify(t.drops, struct{}{})
	}
}

func notify[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}

func (o *Orchestrator) markConnected(name string, connected bool) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	if connected {
		o.connected[name] = true
	} else {
		delete(o.connected, name)
	}
	return len(o.connected)
}

// IsConnected reports whether the last outcome of name was a connection.
func (o *Orchestrator) IsConnected(name string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.connected[name]
}

// AllConnected reports whether every sensor, physical or virtual, is
// connected.
func (o *Orchestrator) AllConnected() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.sensors) > 0 && len(o.connected) == len(o.sensors)
}

// NotificationsActive reports whether the gate has enabled notifications.
func (o *Orchestrator) NotificationsActive() bool {
	return o.notifying.Load()
}

func (o *Orchestrator) setNotifying(active bool) {
	o.notifying.Store(active)
	o.opts.Metrics.SetNotificationsActive(active)
}

func (o *Orchestrator) releasePermit(t *tracked) {
	if t.holding.CompareAndSwap(true, false) {
		o.permits.Release(1)
		o.opts.Metrics.PermitReleased()
	}
}

// sleep waits d and reports whether ctx is still alive.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
