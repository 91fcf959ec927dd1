package orchestrator

// SensorHealth is the reported state of one sensor.
type SensorHealth struct {
	Name      string   `json:"name"`
	Kind      string   `json:"kind"`
	State     string   `json:"state"`
	Connected bool     `json:"connected"`
	Battery   *float64 `json:"battery,omitempty"`
}

// Health is a point-in-time snapshot served on /healthz.
type Health struct {
	Connected           int            `json:"connected"`
	Total               int            `json:"total"`
	NotificationsActive bool           `json:"notifications_active"`
	Sensors             []SensorHealth `json:"sensors"`
}

// Health snapshots every sensor in registration order.
func (o *Orchestrator) Health() Health {
	h := Health{
		Total:               len(o.sensors),
		NotificationsActive: o.NotificationsActive(),
		Sensors:             make([]SensorHealth, 0, len(o.sensors)),
	}
	for _, s := range o.sensors {
		sh := SensorHealth{
			Name:      s.Name(),
			Kind:      s.Identity().Kind.String(),
			State:     s.State().String(),
			Connected: o.IsConnected(s.Name()),
		}
		if b, ok := s.(batteryReporter); ok {
			if level, known := b.Battery(); known {
				sh.Battery = &level
			}
		}
		if sh.Connected {
			h.Connected++
		}
		h.Sensors = append(h.Sensors, sh)
	}
	return h
}
