// Package events carries user-visible status changes (connections, battery
// levels, electrode quality) from the acquisition core to whatever reports
// them. Publishing never blocks the core.
package events

import (
	"fmt"
	"time"
)

// Type classifies an Event.
type Type uint8

const (
	Connected Type = iota + 1
	Disconnected
	ConnectFailed
	NotificationsStarted
	NotificationsStopped
	Battery
	LeadStatus
	Electrodes
)

func (t Type) String() string {
	switch t {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case ConnectFailed:
		return "connect-failed"
	case NotificationsStarted:
		return "notifications-started"
	case NotificationsStopped:
		return "notifications-stopped"
	case Battery:
		return "battery"
	case LeadStatus:
		return "lead-status"
	case Electrodes:
		return "electrodes"
	default:
		return fmt.Sprintf("event(%d)", uint8(t))
	}
}

// Event is one status change of one sensor.
type Event struct {
	Time   time.Time
	Sensor string
	Type   Type
	// Detail is a short human-readable qualifier, e.g. "left off".
	Detail string
	// Value carries the numeric payload of Battery events.
	Value float64
	// Healthy is false for degraded lead or electrode states.
	Healthy bool
}

func (e Event) String() string {
	switch e.Type {
	case Battery:
		return fmt.Sprintf("%s battery %.0f%%", e.Sensor, e.Value)
	case LeadStatus, Electrodes:
		return fmt.Sprintf("%s %s: %s", e.Sensor, e.Type, e.Detail)
	default:
		if e.Detail != "" {
			return fmt.Sprintf("%s %s (%s)", e.Sensor, e.Type, e.Detail)
		}
		return fmt.Sprintf("%s %s", e.Sensor, e.Type)
	}
}

// Publisher accepts events without blocking.
type Publisher interface {
	Publish(e Event)
}

// Bus is an overwrite-oldest event stream.
type Bus struct {
	*RingChannel[Event]
}

// DefaultBusCapacity bounds undelivered events.
const DefaultBusCapacity = 256

func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = DefaultBusCapacity
	}
	return &Bus{RingChannel: NewRingChannel[Event](capacity)}
}

// Publish stamps e with the current time when unset and sends it.
func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.Send(e)
}

// Discard is a Publisher that drops everything.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}
