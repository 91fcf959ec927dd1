package sensor

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/nervous/internal/groutine"
)

// DefaultConnectDelay is the simulated connection time of virtual sensors.
const DefaultConnectDelay = 100 * time.Millisecond

// Processor is the derived metric behind a virtual sensor. Process is never
// called concurrently with itself.
type Processor interface {
	Process(ctx context.Context) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context) error

func (f ProcessorFunc) Process(ctx context.Context) error {
	return f(ctx)
}

// Virtual is a sensor without a radio. It "connects" after a short delay and,
// while notifications are enabled, calls its Processor once right away and
// then every period.
type Virtual struct {
	*actor
	opts   options
	period time.Duration
	proc   Processor

	loopCancel context.CancelFunc
	loopDone   chan struct{}
}

var _ Sensor = (*Virtual)(nil)

func NewVirtual(id Identity, period time.Duration, proc Processor, logger *logrus.Logger, opts ...Option) *Virtual {
	o := buildOptions(opts)
	if o.period > 0 {
		period = o.period
	}
	v := &Virtual{
		actor:  newActor(id, logger),
		opts:   o,
		period: period,
		proc:   proc,
	}
	v.actor.drv = v
	v.actor.self = v
	return v
}

func (v *Virtual) Physical() bool {
	return false
}

// Period returns the processing period.
func (v *Virtual) Period() time.Duration {
	return v.period
}

func (v *Virtual) Run(ctx context.Context, outcomes chan<- Outcome) {
	v.actor.run(ctx, outcomes)
}

// withSelf lets a wrapping sensor report itself in outcomes.
func (v *Virtual) withSelf(s Sensor) {
	v.actor.self = s
}

func (v *Virtual) connect(ctx context.Context) error {
	if v.opts.connectDelay <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(v.opts.connectDelay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (v *Virtual) disconnect() error {
	return nil
}

// lost never fires: a virtual connection only ends on request.
func (v *Virtual) lost() <-chan struct{} {
	return nil
}

func (v *Virtual) enable(ctx context.Context) error {
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	v.loopCancel, v.loopDone = cancel, done

	groutine.Go(loopCtx, "process-"+v.Name(), func(ctx context.Context) {
		defer close(done)
		v.loop(ctx)
	})
	return nil
}

// disable stops the loop and waits for an in-flight Process to return.
func (v *Virtual) disable() error {
	if v.loopCancel == nil {
		return nil
	}
	v.loopCancel()
	<-v.loopDone
	v.loopCancel, v.loopDone = nil, nil
	return nil
}

func (v *Virtual) loop(ctx context.Context) {
	ticker := time.NewTicker(v.period)
	defer ticker.Stop()

	for {
		v.process(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (v *Virtual) process(ctx context.Context) {
	if err := v.proc.Process(ctx); err != nil {
		v.logger.WithFields(logrus.Fields{
			"sensor": v.Name(),
			"error":  err,
		}).Warn("Processing error")
	}
}
