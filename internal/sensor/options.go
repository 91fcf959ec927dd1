package sensor

import (
	"time"

	"github.com/srg/nervous/internal/events"
	"github.com/srg/nervous/internal/metrics"
)

type options struct {
	metrics      *metrics.Collectors
	events       events.Publisher
	now          func() time.Time
	ringSize     uint32
	maxFrame     int
	errorEvery   time.Duration
	connectDelay time.Duration
	period       time.Duration
}

// Option tunes a sensor.
type Option func(*options)

func defaultOptions() options {
	return options{
		events:       events.Discard,
		now:          time.Now,
		ringSize:     DefaultRingSize,
		errorEvery:   DefaultErrorLogInterval,
		connectDelay: DefaultConnectDelay,
	}
}

func buildOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithMetrics records frame, sample and heart-rate metrics in m.
func WithMetrics(m *metrics.Collectors) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithEvents publishes lead, electrode and battery changes to p.
func WithEvents(p events.Publisher) Option {
	return func(o *options) {
		if p != nil {
			o.events = p
		}
	}
}

// WithClock replaces time.Now, used for the time sync written on connect.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithRingSize bounds the frames queued between the radio and the decoder.
func WithRingSize(n uint32) Option {
	return func(o *options) {
		if n > 0 {
			o.ringSize = n
		}
	}
}

// WithMaxFrame bounds a single reassembled frame.
func WithMaxFrame(n int) Option {
	return func(o *options) {
		o.maxFrame = n
	}
}

// WithErrorLogInterval sets the minimum spacing of decode warnings.
func WithErrorLogInterval(d time.Duration) Option {
	return func(o *options) {
		o.errorEvery = d
	}
}

// WithConnectDelay sets the simulated connection time of virtual sensors.
func WithConnectDelay(d time.Duration) Option {
	return func(o *options) {
		o.connectDelay = d
	}
}

// WithPeriod overrides the processing period of a virtual sensor.
func WithPeriod(d time.Duration) Option {
	return func(o *options) {
		o.period = d
	}
}
