package sensor

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/nervous/internal/ecg"
	"github.com/srg/nervous/internal/timeseries"
)

// HeartRatePeriod is how often new ECG samples are analyzed.
const HeartRatePeriod = 2 * time.Second

// HeartRate derives beats per minute from a cardiac sensor.
type HeartRate struct {
	*Virtual
	source    Sensor
	analyzer  *ecg.Analyzer
	watermark float64
}

var _ Sensor = (*HeartRate)(nil)

// NewHeartRate builds the HR sensor for source. analyzerOpts may be zero.
func NewHeartRate(id Identity, source Sensor, analyzerOpts ecg.Options, logger *logrus.Logger, opts ...Option) (*HeartRate, error) {
	if source == nil || source.Identity().Kind != Cardiac {
		return nil, fmt.Errorf("sensor %q: heart rate needs a cardiac source", id.Name)
	}
	if analyzerOpts.SamplingRate == 0 {
		analyzerOpts.SamplingRate = source.Identity().SamplingRate
	}

	analyzer, err := ecg.New(analyzerOpts, logger)
	if err != nil {
		return nil, fmt.Errorf("sensor %q: %w", id.Name, err)
	}

	h := &HeartRate{
		source:   source,
		analyzer: analyzer,
	}
	h.Virtual = NewVirtual(id, HeartRatePeriod, h, logger, opts...)
	h.Virtual.withSelf(h)
	return h, nil
}

// Source returns the cardiac sensor analyzed.
func (h *HeartRate) Source() Sensor {
	return h.source
}

// Process analyzes every ECG row newer than the last one seen. The watermark
// moves even when analysis fails so a bad window is never retried.
func (h *HeartRate) Process(context.Context) error {
	table, err := h.source.Store().Query(timeseries.Since(h.watermark))
	if err != nil {
		return err
	}
	if table.Len() == 0 {
		return nil
	}

	times := table.Values(0)
	signal := table.Values(1)
	h.watermark = times[len(times)-1]

	beats, err := h.analyzer.Update(signal, times)
	if err != nil {
		return err
	}
	if len(beats) == 0 {
		return nil
	}

	rows := make([]timeseries.Row, len(beats))
	for i, b := range beats {
		rows[i] = timeseries.Row{b.Time, b.BPM}
	}
	n := h.store.Append(rows...)
	h.opts.metrics.SamplesAppended(h.Name(), n)

	last := beats[len(beats)-1]
	h.opts.metrics.SetHeartRate(h.Name(), last.BPM)
	h.logger.WithFields(logrus.Fields{
		"sensor": h.Name(),
		"beats":  len(beats),
		"bpm":    last.BPM,
	}).Debug("Heart rate updated")
	return nil
}
