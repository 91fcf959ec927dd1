package sensor

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/nervous/internal/eda"
	"github.com/srg/nervous/internal/events"
	"github.com/srg/nervous/internal/timeseries"
	"gonum.org/v1/gonum/floats"
)

// SkinConductancePeriod is how often new EDA samples are analyzed.
const SkinConductancePeriod = 5 * time.Second

// SkinConductance derives skin-conductance responses from an electrodermal
// sensor. Analysis pauses while the electrodes are off the skin.
type SkinConductance struct {
	*Virtual
	source     Sensor
	analyzer   *eda.Analyzer
	watermark  float64
	electrodes bool
}

var _ Sensor = (*SkinConductance)(nil)

func NewSkinConductance(id Identity, source Sensor, analyzerOpts eda.Options, logger *logrus.Logger, opts ...Option) (*SkinConductance, error) {
	if source == nil || source.Identity().Kind != Electrodermal {
		return nil, fmt.Errorf("sensor %q: skin conductance needs an electrodermal source", id.Name)
	}
	if analyzerOpts.SamplingRate == 0 {
		analyzerOpts.SamplingRate = source.Identity().SamplingRate
	}

	analyzer, err := eda.New(analyzerOpts)
	if err != nil {
		return nil, fmt.Errorf("sensor %q: %w", id.Name, err)
	}

	s := &SkinConductance{
		source:     source,
		analyzer:   analyzer,
		electrodes: true,
	}
	s.Virtual = NewVirtual(id, SkinConductancePeriod, s, logger, opts...)
	s.Virtual.withSelf(s)
	return s, nil
}

func (s *SkinConductance) Source() Sensor {
	return s.source
}

// ElectrodesConnected reports the electrode state seen in the last batch.
func (s *SkinConductance) ElectrodesConnected() bool {
	return s.electrodes
}

func (s *SkinConductance) Process(context.Context) error {
	table, err := s.source.Store().Query(timeseries.Since(s.watermark))
	if err != nil {
		return err
	}
	if table.Len() == 0 {
		return nil
	}

	times := table.Values(0)
	values := table.Values(1)
	s.watermark = times[len(times)-1]

	connected := eda.ElectrodesConnected(values)
	if connected != s.electrodes {
		s.electrodes = connected
		entry := s.logger.WithFields(logrus.Fields{
			"sensor": s.Name(),
			"min":    floats.Min(values),
		})
		detail := "connected"
		if connected {
			entry.Info("Electrodes connected")
		} else {
			detail = "disconnected"
			entry.Warn("Electrode disconnection detected")
		}
		s.opts.events.Publish(events.Event{
			Sensor:  s.Name(),
			Type:    events.Electrodes,
			Detail:  detail,
			Healthy: connected,
		})
	}
	if !connected {
		return nil
	}

	responses, err := s.analyzer.Update(values, times)
	if err != nil {
		return err
	}
	if len(responses) == 0 {
		return nil
	}

	rows := make([]timeseries.Row, len(responses))
	for i, r := range responses {
		rows[i] = timeseries.Row{r.Time, r.Amplitude, r.RiseTime, r.Level}
	}
	n := s.store.Append(rows...)
	s.opts.metrics.SamplesAppended(s.Name(), n)
	return nil
}
