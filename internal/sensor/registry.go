package sensor

import (
	"fmt"
	"sync"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Registry keeps sensors in registration order, which is also the order of
// their palette colors.
type Registry struct {
	mu      sync.RWMutex
	sensors *orderedmap.OrderedMap[string, Sensor]
}

func NewRegistry() *Registry {
	return &Registry{sensors: orderedmap.New[string, Sensor]()}
}

// NextColorIndex is the palette index the next registered sensor gets.
func (r *Registry) NextColorIndex() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sensors.Len()
}

// Add registers s. Names are unique.
func (r *Registry) Add(s Sensor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sensors.Get(s.Name()); exists {
		return fmt.Errorf("sensor %q already registered", s.Name())
	}
	r.sensors.Set(s.Name(), s)
	return nil
}

func (r *Registry) Get(name string) (Sensor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sensors.Get(name)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sensors.Len()
}

// All returns the sensors in registration order.
func (r *Registry) All() []Sensor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Sensor, 0, r.sensors.Len())
	for pair := r.sensors.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// Physical returns the physical sensors in registration order.
func (r *Registry) Physical() []Sensor {
	var out []Sensor
	for _, s := range r.All() {
		if s.Physical() {
			out = append(out, s)
		}
	}
	return out
}
