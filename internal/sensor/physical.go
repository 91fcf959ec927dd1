package sensor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"
	"github.com/srg/nervous/internal/codec"
	"github.com/srg/nervous/internal/events"
	"github.com/srg/nervous/internal/groutine"
	"github.com/srg/nervous/internal/link"
	"github.com/srg/nervous/internal/session"
	"github.com/srg/nervous/internal/timeseries"
	"golang.org/x/time/rate"
)

const (
	// DefaultRingSize bounds frames waiting for the decoder. The oldest
	// frame is overwritten when the decoder falls behind.
	DefaultRingSize uint32 = 1024

	// DefaultErrorLogInterval spaces out warnings about undecodable frames.
	DefaultErrorLogInterval = 5 * time.Second
)

// PhysicalStats counts what happened to the notifications of one sensor.
type PhysicalStats struct {
	Frames      uint64
	Decoded     uint64
	Failed      uint64
	Overwritten uint64
}

// Physical is a BLE body sensor. Data notifications are reassembled into
// frames on the radio callback, queued in an overlapped ring and decoded into
// the store by a dedicated goroutine, so the callback never blocks.
type Physical struct {
	*actor
	opts    options
	link    link.Link
	session *session.Session
	decoder *codec.Decoder

	asmMu     sync.Mutex
	assembler *codec.FrameAssembler

	frames mpmc.RichOverlappedRingBuffer[[]byte]
	wake   chan struct{}

	errLimiter *rate.Limiter
	suppressed atomic.Uint64

	battery    atomic.Uint64
	hasBattery atomic.Bool

	frameCount  atomic.Uint64
	decoded     atomic.Uint64
	failed      atomic.Uint64
	overwritten atomic.Uint64
}

var _ Sensor = (*Physical)(nil)

// NewPhysical builds a sensor reading id.Kind frames over l. Timestamps are
// made relative to sess.
func NewPhysical(id Identity, l link.Link, sess *session.Session, logger *logrus.Logger, opts ...Option) (*Physical, error) {
	kind, ok := id.Kind.Codec()
	if !ok {
		return nil, fmt.Errorf("sensor %q: %s sensors have no wire format", id.Name, id.Kind)
	}
	if l == nil {
		return nil, fmt.Errorf("sensor %q: nil link", id.Name)
	}
	if sess == nil {
		return nil, fmt.Errorf("sensor %q: nil session", id.Name)
	}

	o := buildOptions(opts)
	p := &Physical{
		actor:     newActor(id, logger),
		opts:      o,
		link:      l,
		session:   sess,
		assembler: codec.NewFrameAssembler(o.maxFrame),
		frames:    mpmc.NewOverlappedRingBuffer[[]byte](o.ringSize),
		wake:      make(chan struct{}, 1),
	}
	if o.errorEvery > 0 {
		p.errLimiter = rate.NewLimiter(rate.Every(o.errorEvery), 1)
	} else {
		p.errLimiter = rate.NewLimiter(rate.Inf, 1)
	}

	var decoderOpts []codec.DecoderOption
	if kind == codec.Cardiac {
		decoderOpts = append(decoderOpts, codec.WithLeadObserver(p.leadChanged))
	}
	p.decoder = codec.NewDecoder(kind, decoderOpts...)

	p.actor.drv = p
	p.actor.self = p
	return p, nil
}

func (p *Physical) Physical() bool {
	return true
}

// Lead returns the last electrode status of a cardiac sensor.
func (p *Physical) Lead() codec.LeadStatus {
	return p.decoder.Lead()
}

// Battery returns the last reported battery percentage.
func (p *Physical) Battery() (float64, bool) {
	return math.Float64frombits(p.battery.Load()), p.hasBattery.Load()
}

// Stats returns notification counters.
func (p *Physical) Stats() PhysicalStats {
	return PhysicalStats{
		Frames:      p.frameCount.Load(),
		Decoded:     p.decoded.Load(),
		Failed:      p.failed.Load(),
		Overwritten: p.overwritten.Load(),
	}
}

// Run starts the decoder and serves commands until ctx is done.
func (p *Physical) Run(ctx context.Context, outcomes chan<- Outcome) {
	var g groutine.Group
	decodeCtx, cancel := context.WithCancel(ctx)
	g.Go(decodeCtx, "decode-"+p.Name(), p.decodeLoop)

	p.actor.run(ctx, outcomes)

	cancel()
	g.Wait()
}

func (p *Physical) connect(ctx context.Context) error {
	if err := p.link.Connect(ctx); err != nil {
		return err
	}

	p.asmMu.Lock()
	p.assembler.Reset()
	p.asmMu.Unlock()

	// The sensor clock drives sample timestamps, so sync it once per connection.
	now := p.opts.now()
	if err := p.link.Write(link.TimeSyncUUID, codec.EncodeTimeSync(now), true); err != nil {
		p.logger.WithError(err).WithField("sensor", p.Name()).Warn("Failed to synchronise sensor clock")
	} else {
		p.logger.WithFields(logrus.Fields{
			"sensor": p.Name(),
			"time":   now.Format(time.RFC3339),
		}).Debug("Sensor clock synchronised")
	}

	if data, err := p.link.Read(link.BatteryLevelUUID); err == nil {
		p.onBattery(data)
	} else {
		p.logger.WithError(err).WithField("sensor", p.Name()).Debug("Battery level not readable")
	}
	return nil
}

func (p *Physical) disconnect() error {
	return p.link.Disconnect()
}

func (p *Physical) lost() <-chan struct{} {
	return p.link.Disconnected()
}

func (p *Physical) enable(context.Context) error {
	if err := p.link.Subscribe(link.BatteryLevelUUID, p.onBattery); err != nil {
		return err
	}
	if err := p.link.Subscribe(link.DataUUID, p.onData); err != nil {
		if uerr := p.link.Unsubscribe(link.BatteryLevelUUID); uerr != nil {
			p.logger.WithError(uerr).WithField("sensor", p.Name()).Debug("Failed to roll back battery subscription")
		}
		return err
	}
	return nil
}

func (p *Physical) disable() error {
	return errors.Join(
		p.link.Unsubscribe(link.DataUUID),
		p.link.Unsubscribe(link.BatteryLevelUUID),
	)
}

func (p *Physical) onBattery(data []byte) {
	if len(data) == 0 {
		return
	}
	level := float64(data[0])
	p.battery.Store(math.Float64bits(level))
	p.hasBattery.Store(true)
	p.opts.metrics.SetBattery(p.Name(), level)
}

// onData runs on the radio callback.
func (p *Physical) onData(chunk []byte) {
	p.asmMu.Lock()
	frames, err := p.assembler.Feed(chunk)
	p.asmMu.Unlock()

	if err != nil {
		p.frameError("framing", err)
	}

	for _, f := range frames {
		p.frameCount.Add(1)
		overwrites, err := p.frames.EnqueueM(f)
		if err != nil {
			p.frameError("queue", err)
			continue
		}
		if overwrites > 0 {
			p.overwritten.Add(uint64(overwrites))
			p.opts.metrics.FrameError(p.Name(), "overwritten")
		}
	}

	if len(frames) > 0 {
		select {
		case p.wake <- struct{}{}:
		default:
		}
	}
}

func (p *Physical) decodeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.wake:
			p.drain()
		}
	}
}

func (p *Physical) drain() {
	for !p.frames.IsEmpty() {
		frame, err := p.frames.Dequeue()
		if err != nil {
			return
		}
		p.handleFrame(frame)
	}
}

func (p *Physical) handleFrame(frame []byte) {
	payload, err := p.decoder.Decode(frame)
	if err != nil {
		kind := "framing"
		if errors.Is(err, codec.ErrSchema) {
			kind = "schema"
		}
		p.frameError(kind, err)
		return
	}
	p.decoded.Add(1)
	p.opts.metrics.FrameDecoded(p.Name())

	rows := p.rows(payload)
	n := p.store.Append(rows...)
	p.opts.metrics.SamplesAppended(p.Name(), n)
}

// rows converts a payload into store rows in session time. Cardiac samples
// are spaced at the sampling rate from the payload timestamp.
func (p *Physical) rows(payload codec.Payload) []timeseries.Row {
	t0 := p.session.Relative(payload.Time())

	switch v := payload.(type) {
	case *codec.CardiacPayload:
		rows := make([]timeseries.Row, len(v.Samples))
		step := 1 / p.id.SamplingRate
		for i, s := range v.Samples {
			rows[i] = timeseries.Row{t0 + float64(i)*step, float64(s)}
		}
		return rows
	case *codec.ElectrodermalPayload:
		return []timeseries.Row{{t0, v.Conductance}}
	default:
		return nil
	}
}

func (p *Physical) frameError(kind string, err error) {
	p.failed.Add(1)
	p.opts.metrics.FrameError(p.Name(), kind)

	entry := p.logger.WithFields(logrus.Fields{
		"sensor": p.Name(),
		"kind":   kind,
		"error":  err,
	})
	entry.Debug("Dropped frame")

	if !p.errLimiter.Allow() {
		p.suppressed.Add(1)
		return
	}
	if n := p.suppressed.Swap(0); n > 0 {
		entry = entry.WithField("suppressed", n)
	}
	entry.Warn("Sensor sent undecodable data")
}

func (p *Physical) leadChanged(prev, next codec.LeadStatus) {
	entry := p.logger.WithFields(logrus.Fields{
		"sensor": p.Name(),
		"from":   prev.String(),
		"to":     next.String(),
	})
	if next.Connected() {
		entry.Info("Electrodes on")
	} else {
		entry.Warn("Electrodes off")
	}

	p.opts.events.Publish(events.Event{
		Sensor:  p.Name(),
		Type:    events.LeadStatus,
		Detail:  next.String(),
		Healthy: next.Connected(),
	})
}
