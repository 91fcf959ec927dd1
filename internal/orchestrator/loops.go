package orchestrator

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/nervous/internal/events"
	"github.com/srg/nervous/internal/sensor"
)

// retryLoop keeps one sensor connected: attempt while disconnected, wait
// for the drop while connected, and pause RetryDelay between checks.
func (o *Orchestrator) retryLoop(ctx context.Context, t *tracked) {
	for ctx.Err() == nil {
		if !o.IsConnected(t.sensor.Name()) {
			o.attempt(ctx, t)
		} else {
			select {
			case <-ctx.Done():
				return
			case <-t.drops:
			}
		}
		if !sleep(ctx, o.opts.RetryDelay) {
			return
		}
	}
}

// attempt runs one connection attempt under a permit. The permit is
// released by the outcome callback, or here when no outcome can come.
func (o *Orchestrator) attempt(ctx context.Context, t *tracked) {
	if err := o.permits.Acquire(ctx, 1); err != nil {
		return
	}
	t.holding.Store(true)
	o.opts.Metrics.PermitAcquired()
	defer o.releasePermit(t)

	// Drop a result left over from an attempt that was given up on.
	select {
	case <-t.attempts:
	default:
	}

	name := t.sensor.Name()
	o.logger.WithField("sensor", name).Info("Sensor tries to connect")
	if err := t.sensor.Connect(ctx); err != nil {
		o.logger.WithFields(logrus.Fields{
			"sensor": name,
			"error":  err,
		}).Error("Error connecting sensor")
		return
	}

	select {
	case <-ctx.Done():
	case <-t.attempts:
	}
}

// notificationLoop is the cluster gate: notifications run only while every
// sensor is connected.
func (o *Orchestrator) notificationLoop(ctx context.Context) {
	for ctx.Err() == nil {
		o.logger.Info("Waiting for all sensors to connect")
		if !o.waitUntil(ctx, o.AllConnected) {
			return
		}
		o.logger.Info("All sensors connected")
		drops := o.drops.Load()

		failed := o.fanout(ctx, "enable notifications", sensor.Sensor.EnableNotifications)
		o.setNotifying(true)
		o.bus.Publish(events.Event{Type: events.NotificationsStarted, Healthy: failed == 0})
		o.logger.WithField("failed", failed).Info("All notifications started")

		if !o.waitUntil(ctx, func() bool { return o.drops.Load() != drops || !o.AllConnected() }) {
			return
		}
		o.logger.Info("All sensors are not connected")

		failed += o.fanout(ctx, "disable notifications", sensor.Sensor.DisableNotifications)
		o.setNotifying(false)
		o.bus.Publish(events.Event{Type: events.NotificationsStopped})
		o.logger.Info("All notifications stopped")

		if failed > 0 && !sleep(ctx, o.opts.FanoutErrorDelay) {
			return
		}
	}
}

// waitUntil polls cond every PollInterval and reports false if ctx ends
// first.
func (o *Orchestrator) waitUntil(ctx context.Context, cond func() bool) bool {
	for !cond() {
		if !sleep(ctx, o.opts.PollInterval) {
			return false
		}
	}
	return true
}

// fanout runs op on every sensor in parallel and returns how many failed.
// A failure is logged and never stops the other sensors.
func (o *Orchestrator) fanout(ctx context.Context, what string, op func(sensor.Sensor, context.Context) error) int {
	var (
		wg     sync.WaitGroup
		failed atomic.Int32
	)
	for _, s := range o.sensors {
		wg.Add(1)
		go func(s sensor.Sensor) {
			defer wg.Done()
			if err := op(s, ctx); err != nil {
				failed.Add(1)
				o.logger.WithFields(logrus.Fields{
					"sensor": s.Name(),
					"action": what,
					"error":  err,
				}).Error("Sensor action failed")
			}
		}(s)
	}
	wg.Wait()
	return int(failed.Load())
}

// batteryLoop reports the battery level of every physical sensor each
// BatteryInterval.
func (o *Orchestrator) batteryLoop(ctx context.Context) {
	for sleep(ctx, o.opts.BatteryInterval) {
		o.ReportBattery()
	}
}

// LowBattery is the level below which battery events are flagged unhealthy.
const LowBattery = 10

type batteryReporter interface {
	Battery() (float64, bool)
}

// ReportBattery logs the last known battery level of every physical sensor
// and publishes the known ones.
func (o *Orchestrator) ReportBattery() {
	for _, s := range o.sensors {
		b, ok := s.(batteryReporter)
		if !ok || !s.Physical() {
			continue
		}

		entry := o.logger.WithFields(logrus.Fields{
			"sensor":    s.Name(),
			"connected": o.IsConnected(s.Name()),
		})
		level, known := b.Battery()
		if !known {
			entry.Info("Battery level unknown")
			continue
		}
		entry.WithField("level", level).Info("Battery level")
		o.bus.Publish(events.Event{Sensor: s.Name(), Type: events.Battery, Value: level, Healthy: level >= LowBattery})
	}
}
