// Package goble implements link.Link on top of github.com/go-ble/ble.
package goble

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/nervous/internal/groutine"
	"github.com/srg/nervous/internal/link"
)

// DefaultScanTimeout bounds discovery of a peripheral by name.
const DefaultScanTimeout = 10 * time.Second

// DeviceFactory creates the host ble.Device (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = func() (ble.Device, error) {
	return newDevice()
}

var (
	sharedDevice   ble.Device
	sharedDeviceMu sync.Mutex
)

// HostDevice returns the process-wide radio. A host adapter can be opened
// only once, so every link shares it. A failed open is retried on the next
// call.
func HostDevice() (ble.Device, error) {
	sharedDeviceMu.Lock()
	defer sharedDeviceMu.Unlock()
	if sharedDevice != nil {
		return sharedDevice, nil
	}
	dev, err := DeviceFactory()
	if err != nil {
		return nil, err
	}
	sharedDevice = dev
	return dev, nil
}

// ResetHostDevice drops the cached radio so the next connection calls
// DeviceFactory again.
func ResetHostDevice() {
	sharedDeviceMu.Lock()
	sharedDevice = nil
	sharedDeviceMu.Unlock()
}

// Option tunes a Link.
type Option func(*Link)

// WithScanTimeout overrides DefaultScanTimeout.
func WithScanTimeout(d time.Duration) Option {
	return func(l *Link) {
		l.scanTimeout = d
	}
}

// Link is a go-ble connection to one peripheral found by its local name.
type Link struct {
	name        string
	scanTimeout time.Duration
	logger      *logrus.Logger

	mu           sync.RWMutex
	client       ble.Client
	profile      *ble.Profile
	subscribed   map[string]*ble.Characteristic
	disconnected chan struct{}
	closeOnce    *sync.Once
}

var _ link.Link = (*Link)(nil)

// New returns an unconnected Link.
func New(name string, logger *logrus.Logger, opts ...Option) *Link {
	if logger == nil {
		logger = logrus.New()
	}
	l := &Link{
		name:         name,
		scanTimeout:  DefaultScanTimeout,
		logger:       logger,
		disconnected: closedChan(),
		closeOnce:    &sync.Once{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NewFactory adapts New to link.Factory.
func NewFactory(opts ...Option) link.Factory {
	return func(name string, logger *logrus.Logger) link.Link {
		return New(name, logger, opts...)
	}
}

func closedChan() chan struct{} {
	c := make(chan struct{})
	close(c)
	return c
}

func (l *Link) Name() string {
	return l.name
}

func (l *Link) fail(op string, err error) error {
	return &link.LinkFailureError{Name: l.name, Op: op, Err: NormalizeError(err)}
}

// Connect scans for the peripheral advertising l.Name(), dials it and
// discovers its full profile.
func (l *Link) Connect(ctx context.Context) error {
	if l.IsConnected() {
		return l.fail("dial", ErrAlreadyConnected)
	}

	dev, err := HostDevice()
	if err != nil {
		return l.fail("init", err)
	}

	addr, err := l.find(ctx, dev)
	if err != nil {
		return err
	}

	l.logger.WithFields(logrus.Fields{
		"sensor":  l.name,
		"address": addr.String(),
	}).Debug("Dialing sensor...")

	client, err := dev.Dial(ctx, addr)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return l.fail("dial", err)
	}

	profile, err := client.DiscoverProfile(true)
	if err != nil {
		if cancelErr := client.CancelConnection(); cancelErr != nil {
			l.logger.WithFields(logrus.Fields{
				"sensor": l.name,
				"error":  cancelErr,
			}).Warn("Failed to cancel connection after profile discovery failure")
		}
		return l.fail("discover", err)
	}

	done := make(chan struct{})
	once := &sync.Once{}

	l.mu.Lock()
	l.client = client
	l.profile = profile
	l.subscribed = make(map[string]*ble.Characteristic)
	l.disconnected = done
	l.closeOnce = once
	l.mu.Unlock()

	// Only some platform clients expose a disconnection channel.
	if notifier, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		groutine.Go(context.Background(), "link-monitor-"+l.name, func(context.Context) {
			select {
			case <-notifier.Disconnected():
				l.logger.WithField("sensor", l.name).Debug("Radio reported disconnection")
				l.markDisconnected(client, once, done)
			case <-done:
			}
		})
	} else {
		l.logger.WithField("sensor", l.name).Debug("Client does not report disconnections")
	}

	l.logger.WithFields(logrus.Fields{
		"sensor":   l.name,
		"address":  addr.String(),
		"services": len(profile.Services),
	}).Debug("Sensor profile discovered")
	return nil
}

// find scans until an advertisement carries the wanted local name.
func (l *Link) find(ctx context.Context, dev ble.Device) (ble.Addr, error) {
	scanCtx, cancel := context.WithTimeout(ctx, l.scanTimeout)
	defer cancel()

	var (
		mu    sync.Mutex
		found ble.Addr
	)
	handler := func(adv ble.Advertisement) {
		if adv.LocalName() != l.name {
			return
		}
		mu.Lock()
		if found == nil {
			found = adv.Addr()
		}
		mu.Unlock()
		cancel()
	}

	l.logger.WithFields(logrus.Fields{
		"sensor":  l.name,
		"timeout": l.scanTimeout,
	}).Debug("Scanning for sensor...")

	err := dev.Scan(scanCtx, false, handler)

	mu.Lock()
	addr := found
	mu.Unlock()

	switch {
	case addr != nil:
		return addr, nil
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded):
		return nil, l.fail("scan", err)
	default:
		return nil, &link.LinkNotFoundError{Name: l.name, Timeout: l.scanTimeout}
	}
}

func (l *Link) markDisconnected(client ble.Client, once *sync.Once, done chan struct{}) {
	once.Do(func() {
		l.mu.Lock()
		if l.client == client {
			l.client = nil
			l.profile = nil
			l.subscribed = nil
		}
		l.mu.Unlock()
		close(done)
	})
}

// Disconnect cancels the connection. It is a no-op when not connected.
func (l *Link) Disconnect() error {
	l.mu.RLock()
	client, once, done := l.client, l.closeOnce, l.disconnected
	l.mu.RUnlock()
	if client == nil {
		return nil
	}

	err := client.CancelConnection()
	l.markDisconnected(client, once, done)
	if err != nil {
		return l.fail("disconnect", err)
	}
	return nil
}

func (l *Link) IsConnected() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.client != nil
}

func (l *Link) Disconnected() <-chan struct{} {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.disconnected
}

// characteristic resolves uuid against the discovered profile.
func (l *Link) characteristic(op, uuid string) (ble.Client, *ble.Characteristic, error) {
	u, err := ble.Parse(uuid)
	if err != nil {
		return nil, nil, l.fail(op, fmt.Errorf("invalid uuid %q: %w", uuid, err))
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.client == nil || l.profile == nil {
		return nil, nil, l.fail(op, ErrNotConnected)
	}
	c := l.profile.FindCharacteristic(ble.NewCharacteristic(u))
	if c == nil {
		return nil, nil, l.fail(op, fmt.Errorf("characteristic %s not found", strings.ToLower(uuid)))
	}
	return l.client, c, nil
}

func (l *Link) Subscribe(uuid string, h link.NotificationHandler) error {
	client, c, err := l.characteristic("subscribe", uuid)
	if err != nil {
		return err
	}
	if err := client.Subscribe(c, false, ble.NotificationHandler(h)); err != nil {
		return l.fail("subscribe", err)
	}

	l.mu.Lock()
	if l.subscribed != nil {
		l.subscribed[uuid] = c
	}
	l.mu.Unlock()
	return nil
}

func (l *Link) Unsubscribe(uuid string) error {
	client, c, err := l.characteristic("unsubscribe", uuid)
	if err != nil {
		return err
	}

	l.mu.Lock()
	_, ok := l.subscribed[uuid]
	delete(l.subscribed, uuid)
	l.mu.Unlock()
	if !ok {
		return nil
	}

	if err := client.Unsubscribe(c, false); err != nil {
		return l.fail("unsubscribe", err)
	}
	return nil
}

func (l *Link) Read(uuid string) ([]byte, error) {
	client, c, err := l.characteristic("read", uuid)
	if err != nil {
		return nil, err
	}
	data, err := client.ReadCharacteristic(c)
	if err != nil {
		return nil, l.fail("read", err)
	}
	return data, nil
}

func (l *Link) Write(uuid string, data []byte, noResponse bool) error {
	client, c, err := l.characteristic("write", uuid)
	if err != nil {
		return err
	}
	if err := client.WriteCharacteristic(c, data, noResponse); err != nil {
		return l.fail("write", err)
	}
	return nil
}
