package testutils

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/nervous/internal/link"
)

// ConcurrencyTracker records how many callers are inside a section at once.
type ConcurrencyTracker struct {
	current atomic.Int32
	peak    atomic.Int32
}

func (c *ConcurrencyTracker) Enter() {
	n := c.current.Add(1)
	for {
		p := c.peak.Load()
		if n <= p || c.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

func (c *ConcurrencyTracker) Leave() {
	c.current.Add(-1)
}

// Peak returns the highest concurrency seen.
func (c *ConcurrencyTracker) Peak() int {
	return int(c.peak.Load())
}

// FakeLink is an in-memory link.Link. Connect attempts consume queued
// failures first and succeed afterwards.
type FakeLink struct {
	name string

	// ConnectDelay is how long every attempt takes.
	ConnectDelay time.Duration
	// Tracker, when set, observes concurrent connection attempts.
	Tracker *ConcurrencyTracker

	mu        sync.Mutex
	connected bool
	done      chan struct{}
	failures  []error
	attempts  int
	handlers  map[string]link.NotificationHandler
	writes    map[string][][]byte
	values    map[string][]byte
	connectCh chan struct{}
}

var _ link.Link = (*FakeLink)(nil)

func NewFakeLink(name string) *FakeLink {
	done := make(chan struct{})
	close(done)
	return &FakeLink{
		name:      name,
		done:      done,
		handlers:  make(map[string]link.NotificationHandler),
		writes:    make(map[string][][]byte),
		values:    make(map[string][]byte),
		connectCh: make(chan struct{}, 64),
	}
}

// FailNext queues errors returned by the next connection attempts.
func (f *FakeLink) FailNext(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures = append(f.failures, errs...)
}

// SetValue sets what Read returns for uuid.
func (f *FakeLink) SetValue(uuid string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[strings.ToLower(uuid)] = data
}

func (f *FakeLink) Name() string {
	return f.name
}

func (f *FakeLink) Connect(ctx context.Context) error {
	if f.Tracker != nil {
		f.Tracker.Enter()
		defer f.Tracker.Leave()
	}

	f.mu.Lock()
	f.attempts++
	f.mu.Unlock()

	if f.ConnectDelay > 0 {
		select {
		case <-time.After(f.ConnectDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.failures) > 0 {
		err := f.failures[0]
		f.failures = f.failures[1:]
		return err
	}
	if f.connected {
		return &link.LinkFailureError{Name: f.name, Op: "dial", Err: errors.New("already connected")}
	}
	f.connected = true
	f.done = make(chan struct{})
	select {
	case f.connectCh <- struct{}{}:
	default:
	}
	return nil
}

// Connected is signalled after every successful attempt.
func (f *FakeLink) Connected() <-chan struct{} {
	return f.connectCh
}

// Attempts returns the number of Connect calls so far.
func (f *FakeLink) Attempts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts
}

func (f *FakeLink) Disconnect() error {
	f.Drop()
	return nil
}

// Drop ends the connection as if the radio lost it.
func (f *FakeLink) Drop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return
	}
	f.connected = false
	f.handlers = make(map[string]link.NotificationHandler)
	close(f.done)
}

func (f *FakeLink) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *FakeLink) Disconnected() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}

func (f *FakeLink) Subscribe(uuid string, h link.NotificationHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return &link.LinkFailureError{Name: f.name, Op: "subscribe", Err: errors.New("not connected")}
	}
	f.handlers[strings.ToLower(uuid)] = h
	return nil
}

func (f *FakeLink) Unsubscribe(uuid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, strings.ToLower(uuid))
	return nil
}

// Subscribed reports whether uuid has a handler.
func (f *FakeLink) Subscribed(uuid string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.handlers[strings.ToLower(uuid)]
	return ok
}

func (f *FakeLink) Read(uuid string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return nil, &link.LinkFailureError{Name: f.name, Op: "read", Err: errors.New("not connected")}
	}
	v, ok := f.values[strings.ToLower(uuid)]
	if !ok {
		return nil, &link.LinkFailureError{Name: f.name, Op: "read", Err: errors.New("characteristic not found")}
	}
	return append([]byte(nil), v...), nil
}

func (f *FakeLink) Write(uuid string, data []byte, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.connected {
		return &link.LinkFailureError{Name: f.name, Op: "write", Err: errors.New("not connected")}
	}
	key := strings.ToLower(uuid)
	f.writes[key] = append(f.writes[key], append([]byte(nil), data...))
	return nil
}

// Writes returns the values written to uuid in order.
func (f *FakeLink) Writes(uuid string) [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.writes[strings.ToLower(uuid)]...)
}

// Emit delivers a notification and reports whether uuid had a subscriber.
func (f *FakeLink) Emit(uuid string, data []byte) bool {
	f.mu.Lock()
	h := f.handlers[strings.ToLower(uuid)]
	f.mu.Unlock()
	if h == nil {
		return false
	}
	h(data)
	return true
}

// FakeLinks hands out one FakeLink per name and remembers them.
type FakeLinks struct {
	mu    sync.Mutex
	links map[string]*FakeLink
	setup func(*FakeLink)
}

// NewFakeLinks returns a registry; setup, when not nil, configures every
// newly created link.
func NewFakeLinks(setup func(*FakeLink)) *FakeLinks {
	return &FakeLinks{links: make(map[string]*FakeLink), setup: setup}
}

func (r *FakeLinks) Get(name string) *FakeLink {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.links[name]
	if !ok {
		l = NewFakeLink(name)
		if r.setup != nil {
			r.setup(l)
		}
		r.links[name] = l
	}
	return l
}

// Factory adapts the registry to link.Factory.
func (r *FakeLinks) Factory() link.Factory {
	return func(name string, _ *logrus.Logger) link.Link {
		return r.Get(name)
	}
}
