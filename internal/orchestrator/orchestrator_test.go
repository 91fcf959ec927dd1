package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/srg/nervous/internal/ecg"
	"github.com/srg/nervous/internal/events"
	"github.com/srg/nervous/internal/link"
	"github.com/srg/nervous/internal/sensor"
	"github.com/srg/nervous/internal/session"
	"github.com/srg/nervous/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitFor = 5 * time.Second

type fixture struct {
	t       *testing.T
	helper  *testutils.TestHelper
	links   *testutils.FakeLinks
	tracker *testutils.ConcurrencyTracker
	session *session.Session
	sensors []sensor.Sensor
}

func newFixture(t *testing.T, connectDelay time.Duration) *fixture {
	f := &fixture{
		t:       t,
		helper:  testutils.NewTestHelper(t),
		tracker: &testutils.ConcurrencyTracker{},
		session: session.New(time.Now()),
	}
	f.links = testutils.NewFakeLinks(func(l *testutils.FakeLink) {
		l.ConnectDelay = connectDelay
		l.Tracker = f.tracker
		l.SetValue(link.BatteryLevelUUID, []byte{64})
	})
	return f
}

func (f *fixture) ecg(name string) *sensor.Physical {
	p, err := sensor.NewPhysical(sensor.ECGIdentity(name, color.FgRed), f.links.Get(name), f.session, f.helper.Logger)
	require.NoError(f.t, err)
	f.sensors = append(f.sensors, p)
	return p
}

func (f *fixture) eda(name string) *sensor.Physical {
	p, err := sensor.NewPhysical(sensor.EDAIdentity(name, color.FgGreen), f.links.Get(name), f.session, f.helper.Logger)
	require.NoError(f.t, err)
	f.sensors = append(f.sensors, p)
	return p
}

func (f *fixture) hr(source sensor.Sensor) *sensor.HeartRate {
	h, err := sensor.NewHeartRate(sensor.HRIdentity(source.Name()+" HR", color.FgRed), source, ecg.Options{}, f.helper.Logger,
		sensor.WithConnectDelay(5*time.Millisecond))
	require.NoError(f.t, err)
	f.sensors = append(f.sensors, h)
	return h
}

func fastOptions() Options {
	return Options{
		RetryDelay:       10 * time.Millisecond,
		PollInterval:     5 * time.Millisecond,
		FanoutErrorDelay: 10 * time.Millisecond,
		BatteryInterval:  time.Hour,
	}
}

// start runs o in the background and returns a function waiting for Start.
func start(t *testing.T, o *Orchestrator, ctx context.Context) func() error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- o.Start(ctx) }()
	t.Cleanup(o.Stop)
	return func() error {
		select {
		case err := <-errCh:
			return err
		case <-time.After(waitFor):
			t.Fatal("Start did not return")
			return nil
		}
	}
}

func allInState(sensors []sensor.Sensor, want sensor.State) bool {
	for _, s := range sensors {
		if s.State() != want {
			return false
		}
	}
	return true
}

func TestNew_Defaults(t *testing.T) {
	o := New(nil, Options{}, nil)
	opts := o.Options()

	assert.Equal(t, 1, opts.MaxParallel)
	assert.Equal(t, time.Second, opts.RetryDelay)
	assert.Equal(t, 100*time.Millisecond, opts.PollInterval)
	assert.Equal(t, time.Second, opts.FanoutErrorDelay)
	assert.Equal(t, 120*time.Second, opts.BatteryInterval)
	assert.NotNil(t, o.Events(), "an event bus MUST be created when none is given")
}

func TestPermitBound(t *testing.T) {
	// GOAL: Verify no more than MaxParallel connection attempts ever run at once
	//
	// TEST SCENARIO: 6 sensors, slow attempts, first attempts fail, K=2 → all connect, peak concurrency in [1, 2]

	f := newFixture(t, 20*time.Millisecond)
	for i := 0; i < 6; i++ {
		f.ecg(fmt.Sprintf("ECG_%d", i))
	}
	f.links.Get("ECG_0").FailNext(errors.New("dial timeout"))
	f.links.Get("ECG_3").FailNext(&link.LinkNotFoundError{Name: "ECG_3"})

	opts := fastOptions()
	opts.MaxParallel = 2
	o := New(f.sensors, opts, f.helper.Logger)
	start(t, o, context.Background())

	require.Eventually(t, o.AllConnected, waitFor, 5*time.Millisecond, "every sensor MUST eventually connect")
	assert.LessOrEqual(t, f.tracker.Peak(), 2, "concurrent attempts MUST never exceed MaxParallel")
	assert.GreaterOrEqual(t, f.tracker.Peak(), 1)
	assert.Equal(t, 2, f.links.Get("ECG_0").Attempts(), "a failed sensor MUST be retried")
}

func TestSerialConnectionsWithSinglePermit(t *testing.T) {
	f := newFixture(t, 10*time.Millisecond)
	for i := 0; i < 3; i++ {
		f.ecg(fmt.Sprintf("ECG_%d", i))
	}

	o := New(f.sensors, fastOptions(), f.helper.Logger)
	start(t, o, context.Background())

	require.Eventually(t, o.AllConnected, waitFor, 5*time.Millisecond)
	assert.Equal(t, 1, f.tracker.Peak(), "the default single permit MUST serialize attempts")
}

func TestNotificationGate(t *testing.T) {
	// GOAL: Verify notifications run only while all sensors, physical and virtual, are connected
	//
	// TEST SCENARIO: ECG + HR + EDA → all streaming → ECG drops → nobody streams → ECG reconnects → all stream again

	f := newFixture(t, time.Millisecond)
	ecgSensor := f.ecg("ECG_A")
	f.hr(ecgSensor)
	f.eda("EDA_B")

	bus := events.NewBus(256)
	opts := fastOptions()
	opts.RetryDelay = 50 * time.Millisecond
	opts.Events = bus
	o := New(f.sensors, opts, f.helper.Logger)
	start(t, o, context.Background())

	require.Eventually(t, func() bool {
		return o.NotificationsActive() && allInState(f.sensors, sensor.NotificationsActive)
	}, waitFor, 5*time.Millisecond, "notifications MUST start once all three sensors are connected")
	assert.True(t, f.links.Get("EDA_B").Subscribed(link.DataUUID))

	f.links.Get("ECG_A").Drop()

	require.Eventually(t, func() bool {
		return !f.links.Get("EDA_B").Subscribed(link.DataUUID)
	}, waitFor, time.Millisecond, "a single drop MUST stop notifications on every sensor")

	require.Eventually(t, func() bool {
		return o.NotificationsActive() && allInState(f.sensors, sensor.NotificationsActive)
	}, waitFor, 5*time.Millisecond, "notifications MUST resume after the dropped sensor reconnects")
	assert.Equal(t, 2, f.links.Get("ECG_A").Attempts())

	o.Stop()
	var types []events.Type
	for e := range bus.C() {
		types = append(types, e.Type)
	}
	assert.Contains(t, types, events.NotificationsStarted)
	assert.Contains(t, types, events.NotificationsStopped)
	assert.Contains(t, types, events.Disconnected)
}

func TestNoNotificationsWhileOneSensorIsMissing(t *testing.T) {
	f := newFixture(t, time.Millisecond)
	f.ecg("ECG_A")
	f.eda("EDA_B")
	missing := errors.New("not advertising")
	f.links.Get("EDA_B").FailNext(missing, missing, missing, missing, missing)

	o := New(f.sensors, fastOptions(), f.helper.Logger)
	start(t, o, context.Background())

	require.Eventually(t, func() bool { return o.IsConnected("ECG_A") }, waitFor, time.Millisecond)
	assert.False(t, o.NotificationsActive(), "notifications MUST wait for every sensor")
	assert.Equal(t, sensor.Connected, f.sensors[0].State())

	require.Eventually(t, o.NotificationsActive, waitFor, 5*time.Millisecond)
	assert.Equal(t, 6, f.links.Get("EDA_B").Attempts())
}

func TestStop(t *testing.T) {
	// GOAL: Verify Stop tears everything down once, from any number of callers
	//
	// TEST SCENARIO: Streaming cluster → two concurrent Stop calls → Start returns nil, links closed, events closed

	f := newFixture(t, time.Millisecond)
	f.ecg("ECG_A")
	f.eda("EDA_B")

	o := New(f.sensors, fastOptions(), f.helper.Logger)
	wait := start(t, o, context.Background())
	require.Eventually(t, o.NotificationsActive, waitFor, 5*time.Millisecond)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o.Stop()
		}()
	}
	wg.Wait()

	require.NoError(t, wait(), "Start MUST return nil after Stop")
	assert.False(t, o.NotificationsActive())
	for _, name := range []string{"ECG_A", "EDA_B"} {
		assert.False(t, f.links.Get(name).IsConnected(), "%s MUST be disconnected", name)
		assert.False(t, f.links.Get(name).Subscribed(link.DataUUID), "%s MUST be unsubscribed", name)
	}
	assert.True(t, allInState(f.sensors, sensor.Disconnected))

	for range o.Events().C() {
	}
	select {
	case <-o.Done():
	default:
		t.Fatal("Done MUST be closed after Stop")
	}

	o.Stop()
	assert.ErrorIs(t, o.Start(context.Background()), ErrStopped)
}

func TestStopBeforeStart(t *testing.T) {
	f := newFixture(t, 0)
	f.ecg("ECG_A")
	o := New(f.sensors, fastOptions(), f.helper.Logger)

	o.Stop()
	assert.ErrorIs(t, o.Start(context.Background()), ErrStopped)
	assert.Zero(t, f.links.Get("ECG_A").Attempts())
}

func TestContextCancellationStops(t *testing.T) {
	f := newFixture(t, time.Millisecond)
	f.ecg("ECG_A")

	ctx, cancel := context.WithCancel(context.Background())
	o := New(f.sensors, fastOptions(), f.helper.Logger)
	wait := start(t, o, ctx)
	require.Eventually(t, o.AllConnected, waitFor, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, wait(), context.Canceled)
	assert.False(t, f.links.Get("ECG_A").IsConnected())
}

func TestStopAbortsSlowAttempt(t *testing.T) {
	f := newFixture(t, time.Hour)
	f.ecg("ECG_A")

	o := New(f.sensors, fastOptions(), f.helper.Logger)
	wait := start(t, o, context.Background())
	require.Eventually(t, func() bool { return f.sensors[0].State() == sensor.Connecting }, waitFor, time.Millisecond)

	o.Stop()
	require.NoError(t, wait())
	assert.Equal(t, sensor.Disconnected, f.sensors[0].State())
}

func TestReportBatteryAndHealth(t *testing.T) {
	f := newFixture(t, time.Millisecond)
	ecgSensor := f.ecg("ECG_A")
	f.hr(ecgSensor)

	o := New(f.sensors, fastOptions(), f.helper.Logger)
	start(t, o, context.Background())
	require.Eventually(t, o.NotificationsActive, waitFor, 5*time.Millisecond)

	o.ReportBattery()
	var battery []events.Event
	for len(o.Events().C()) > 0 {
		if e := <-o.Events().C(); e.Type == events.Battery {
			battery = append(battery, e)
		}
	}
	require.Len(t, battery, 1, "only physical sensors MUST report a battery level")
	assert.Equal(t, "ECG_A", battery[0].Sensor)
	assert.Equal(t, 64.0, battery[0].Value)

	// Virtual sensors carry no battery key.
	testutils.NewJSONAsserter(t).
		WithOptions(testutils.WithIgnoreExtraKeys(false)).
		AssertValue(o.Health(), `{
			"connected": 2,
			"total": 2,
			"notifications_active": true,
			"sensors": [
				{"name": "ECG_A", "kind": "cardiac", "state": "streaming", "connected": true, "battery": 64},
				{"name": "ECG_A HR", "kind": "derived", "state": "<<PRESENCE>>", "connected": true}
			]
		}`)
}
