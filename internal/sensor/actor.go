package sensor

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"github.com/srg/nervous/internal/groutine"
	"github.com/srg/nervous/internal/timeseries"
)

// Sensor is a physical or virtual sensor. Commands are executed by the
// sensor's actor goroutine, started with Run; connection changes are
// reported as Outcomes on the channel given to Run.
type Sensor interface {
	Identity() Identity
	Name() string
	Header() []string
	Store() *timeseries.Store
	State() State
	Physical() bool

	// Run executes commands until ctx is done, then tears the connection
	// down. It must be called exactly once.
	Run(ctx context.Context, outcomes chan<- Outcome)

	// Connect starts a connection attempt and returns once it is under way.
	// Its result arrives as OutcomeConnected or OutcomeFailedToConnect.
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	EnableNotifications(ctx context.Context) error
	DisableNotifications(ctx context.Context) error
}

type opcode uint8

const (
	opConnect opcode = iota + 1
	opDisconnect
	opEnable
	opDisable
)

func (o opcode) String() string {
	switch o {
	case opConnect:
		return "connect"
	case opDisconnect:
		return "disconnect"
	case opEnable:
		return "enable notifications"
	case opDisable:
		return "disable notifications"
	default:
		return fmt.Sprintf("op(%d)", uint8(o))
	}
}

type command struct {
	op    opcode
	reply chan error
}

// driver performs the actual work of a sensor kind. Its methods are only
// called from the actor goroutine, except connect which runs on its own
// goroutine while the actor keeps serving commands.
type driver interface {
	connect(ctx context.Context) error
	disconnect() error
	enable(ctx context.Context) error
	disable() error
	// lost is closed when an established connection ends on its own.
	lost() <-chan struct{}
}

// actor serializes every state transition of one sensor.
type actor struct {
	id     Identity
	store  *timeseries.Store
	logger *logrus.Logger
	drv    driver
	self   Sensor

	state   atomic.Int32
	started atomic.Bool
	cmds    chan command
	stopped chan struct{}

	outcomes      chan<- Outcome
	pending       chan error
	cancelAttempt context.CancelFunc
}

func newActor(id Identity, logger *logrus.Logger) *actor {
	if logger == nil {
		logger = logrus.New()
	}
	return &actor{
		id:      id,
		store:   timeseries.NewStore(id.Name, id.Header(), logger),
		logger:  logger,
		cmds:    make(chan command),
		stopped: make(chan struct{}),
	}
}

func (a *actor) Identity() Identity {
	return a.id
}

func (a *actor) Name() string {
	return a.id.Name
}

func (a *actor) Header() []string {
	return a.store.Header()
}

func (a *actor) Store() *timeseries.Store {
	return a.store
}

func (a *actor) State() State {
	return State(a.state.Load())
}

func (a *actor) setState(s State) {
	prev := State(a.state.Swap(int32(s)))
	if prev != s {
		a.logger.WithFields(logrus.Fields{
			"sensor": a.id.Name,
			"from":   prev.String(),
			"to":     s.String(),
		}).Debug("Sensor state changed")
	}
}

func (a *actor) Connect(ctx context.Context) error {
	return a.send(ctx, opConnect)
}

func (a *actor) Disconnect(ctx context.Context) error {
	return a.send(ctx, opDisconnect)
}

func (a *actor) EnableNotifications(ctx context.Context) error {
	return a.send(ctx, opEnable)
}

func (a *actor) DisableNotifications(ctx context.Context) error {
	return a.send(ctx, opDisable)
}

func (a *actor) send(ctx context.Context, op opcode) error {
	reply := make(chan error, 1)
	select {
	case a.cmds <- command{op: op, reply: reply}:
	case <-a.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-reply:
		return err
	case <-a.stopped:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// run is the actor loop shared by all sensor kinds.
func (a *actor) run(ctx context.Context, outcomes chan<- Outcome) {
	if !a.started.CompareAndSwap(false, true) {
		a.logger.WithField("sensor", a.id.Name).Warn("Sensor actor already running")
		return
	}
	a.outcomes = outcomes
	defer close(a.stopped)

	for {
		var lost <-chan struct{}
		if a.State().IsConnected() {
			lost = a.drv.lost()
		}

		select {
		case <-ctx.Done():
			a.shutdown()
			return
		case cmd := <-a.cmds:
			cmd.reply <- a.handle(ctx, cmd.op)
		case err := <-a.pending:
			a.finishAttempt(ctx, err)
		case <-lost:
			a.connectionLost(ctx)
		}
	}
}

func (a *actor) handle(ctx context.Context, op opcode) error {
	state := a.State()

	switch op {
	case opConnect:
		switch state {
		case Connecting:
			return nil
		case Disconnected:
			a.startAttempt(ctx)
			return nil
		default:
			return &StateError{Sensor: a.id.Name, Op: op.String(), State: state}
		}

	case opDisconnect:
		switch state {
		case Connecting:
			a.abortAttempt()
			a.emit(ctx, Outcome{Kind: OutcomeFailedToConnect, Err: context.Canceled})
			return nil
		case Connected, NotificationsActive:
			a.stopNotifications()
			err := a.drv.disconnect()
			a.setState(Disconnected)
			a.emit(ctx, Outcome{Kind: OutcomeDisconnected})
			return err
		default:
			return nil
		}

	case opEnable:
		switch state {
		case NotificationsActive:
			return nil
		case Connected:
			if err := a.drv.enable(ctx); err != nil {
				return err
			}
			a.setState(NotificationsActive)
			return nil
		default:
			return &StateError{Sensor: a.id.Name, Op: op.String(), State: state}
		}

	case opDisable:
		if state != NotificationsActive {
			return nil
		}
		err := a.drv.disable()
		a.setState(Connected)
		return err
	}

	return fmt.Errorf("unknown command %s", op)
}

func (a *actor) startAttempt(ctx context.Context) {
	attemptCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	a.pending = done
	a.cancelAttempt = cancel
	a.setState(Connecting)

	groutine.Go(attemptCtx, "connect-"+a.id.Name, func(ctx context.Context) {
		done <- a.drv.connect(ctx)
	})
}

// abortAttempt cancels the in-flight attempt and waits for it, undoing a
// connection that raced the cancellation.
func (a *actor) abortAttempt() {
	if a.pending == nil {
		return
	}
	a.cancelAttempt()
	if err := <-a.pending; err == nil {
		if derr := a.drv.disconnect(); derr != nil {
			a.logger.WithError(derr).WithField("sensor", a.id.Name).Debug("Disconnect after aborted attempt failed")
		}
	}
	a.pending, a.cancelAttempt = nil, nil
	a.setState(Disconnected)
}

func (a *actor) finishAttempt(ctx context.Context, err error) {
	a.cancelAttempt()
	a.pending, a.cancelAttempt = nil, nil

	if err != nil {
		a.setState(Disconnected)
		a.emit(ctx, Outcome{Kind: OutcomeFailedToConnect, Err: err})
		return
	}
	a.setState(Connected)
	a.emit(ctx, Outcome{Kind: OutcomeConnected})
}

func (a *actor) connectionLost(ctx context.Context) {
	a.stopNotifications()
	if err := a.drv.disconnect(); err != nil {
		a.logger.WithError(err).WithField("sensor", a.id.Name).Debug("Cleanup after connection loss failed")
	}
	a.setState(Disconnected)
	a.emit(ctx, Outcome{Kind: OutcomeDisconnected})
}

func (a *actor) stopNotifications() {
	if a.State() != NotificationsActive {
		return
	}
	if err := a.drv.disable(); err != nil {
		a.logger.WithError(err).WithField("sensor", a.id.Name).Debug("Failed to stop notifications")
	}
	a.setState(Connected)
}

// shutdown leaves the sensor disconnected without reporting outcomes.
func (a *actor) shutdown() {
	switch a.State() {
	case Connecting:
		a.abortAttempt()
	case Connected, NotificationsActive:
		a.stopNotifications()
		if err := a.drv.disconnect(); err != nil {
			a.logger.WithError(err).WithField("sensor", a.id.Name).Warn("Failed to disconnect on shutdown")
		}
		a.setState(Disconnected)
	}
}

func (a *actor) emit(ctx context.Context, o Outcome) {
	if a.outcomes == nil {
		return
	}
	o.Sensor = a.self
	select {
	case a.outcomes <- o:
	case <-ctx.Done():
	}
}
