// Package metrics exposes acquisition counters and gauges to Prometheus.
// Every method is safe on a nil *Collectors, so components can take one
// unconditionally.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "nervous"

// Connection attempt results.
const (
	ResultConnected = "connected"
	ResultFailed    = "failed"
	ResultNotFound  = "not_found"
)

// Collectors owns a private registry so tests and multiple orchestrators do
// not collide on the global one.
type Collectors struct {
	registry *prometheus.Registry

	connectionAttempts  *prometheus.CounterVec
	framesDecoded       *prometheus.CounterVec
	frameErrors         *prometheus.CounterVec
	samplesAppended     *prometheus.CounterVec
	permitsInFlight     prometheus.Gauge
	sensorsConnected    prometheus.Gauge
	notificationsActive prometheus.Gauge
	batteryPercent      *prometheus.GaugeVec
	heartRate           *prometheus.GaugeVec
}

func New() *Collectors {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collectors{
		registry: reg,
		connectionAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_attempts_total",
			Help:      "Sensor connection attempts by outcome",
		}, []string{"sensor", "result"}),
		framesDecoded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_decoded_total",
			Help:      "Frames decoded into payloads",
		}, []string{"sensor"}),
		frameErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frame_errors_total",
			Help:      "Frames dropped by kind of error",
		}, []string{"sensor", "kind"}),
		samplesAppended: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "samples_appended_total",
			Help:      "Rows appended to sensor stores",
		}, []string{"sensor"}),
		permitsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connect_permits_in_flight",
			Help:      "Connection attempts currently holding a permit",
		}),
		sensorsConnected: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sensors_connected",
			Help:      "Sensors currently connected",
		}),
		notificationsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "notifications_active",
			Help:      "1 while the sensor cluster streams data",
		}),
		batteryPercent: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "battery_percent",
			Help:      "Last reported battery level",
		}, []string{"sensor"}),
		heartRate: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "heart_rate_bpm",
			Help:      "Most recent heart rate estimate",
		}, []string{"sensor"}),
	}
}

// Registry returns the registry backing c.
func (c *Collectors) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collectors) ConnectionAttempt(sensor, result string) {
	if c == nil {
		return
	}
	c.connectionAttempts.WithLabelValues(sensor, result).Inc()
}

func (c *Collectors) FrameDecoded(sensor string) {
	if c == nil {
		return
	}
	c.framesDecoded.WithLabelValues(sensor).Inc()
}

func (c *Collectors) FrameError(sensor, kind string) {
	if c == nil {
		return
	}
	c.frameErrors.WithLabelValues(sensor, kind).Inc()
}

func (c *Collectors) SamplesAppended(sensor string, n int) {
	if c == nil || n <= 0 {
		return
	}
	c.samplesAppended.WithLabelValues(sensor).Add(float64(n))
}

func (c *Collectors) PermitAcquired() {
	if c == nil {
		return
	}
	c.permitsInFlight.Inc()
}

func (c *Collectors) PermitReleased() {
	if c == nil {
		return
	}
	c.permitsInFlight.Dec()
}

func (c *Collectors) SetConnected(n int) {
	if c == nil {
		return
	}
	c.sensorsConnected.Set(float64(n))
}

func (c *Collectors) SetNotificationsActive(active bool) {
	if c == nil {
		return
	}
	v := 0.0
	if active {
		v = 1
	}
	c.notificationsActive.Set(v)
}

func (c *Collectors) SetBattery(sensor string, percent float64) {
	if c == nil {
		return
	}
	c.batteryPercent.WithLabelValues(sensor).Set(percent)
}

func (c *Collectors) SetHeartRate(sensor string, bpm float64) {
	if c == nil {
		return
	}
	c.heartRate.WithLabelValues(sensor).Set(bpm)
}
