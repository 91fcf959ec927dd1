// Package eda detects skin-conductance responses (SCR) in a streaming
// electrodermal activity signal.
package eda

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/srg/nervous/internal/dsp"
	"github.com/srg/nervous/internal/ecg"
	"gonum.org/v1/gonum/floats"
)

// ElectrodeThreshold is the conductance in µS below which the electrodes are
// considered detached from the skin.
const ElectrodeThreshold = 0.2

// ElectrodesConnected reports whether every sample is at or above
// ElectrodeThreshold. An empty slice says nothing and reports true.
func ElectrodesConnected(values []float64) bool {
	return len(values) == 0 || floats.Min(values) >= ElectrodeThreshold
}

// Options configures an Analyzer. Zero fields take the tag default.
type Options struct {
	SamplingRate    float64       `default:"8"`
	WindowDuration  time.Duration `default:"20s"`
	HistoryDuration time.Duration `default:"20s"`

	// MinAmplitude is the smallest reported rise in µS.
	MinAmplitude float64       `default:"0.01"`
	MinRiseTime  time.Duration `default:"500ms"`
	MaxRiseTime  time.Duration `default:"5s"`

	// SmoothingCutoff is the low-pass corner in Hz applied before the
	// derivative is taken.
	SmoothingCutoff float64 `default:"1"`

	// GapThreshold is the largest tolerated jump in seconds between the end
	// of the window and the next chunk before the analyzer resets.
	GapThreshold float64 `default:"0.25"`

	// EdgeMargin holds back peaks this close to the newest sample until a
	// later update confirms them.
	EdgeMargin time.Duration `default:"1s"`
}

// Response is one skin-conductance response located at its peak.
type Response struct {
	Time      float64 // peak time, session relative
	Amplitude float64 // µS from onset to peak
	RiseTime  float64 // seconds from onset to peak
	Level     float64 // tonic level (SCL) at onset, µS
}

// Analyzer is not safe for concurrent use; each SCR sensor owns one.
type Analyzer struct {
	opts   Options
	size   int
	smooth dsp.Cascade

	values []float64
	times  []float64
	filled int

	reported []float64
}

// New builds an Analyzer. Invalid options yield an error.
func New(opts Options) (*Analyzer, error) {
	defaults.SetDefaults(&opts)

	size := int(opts.SamplingRate * opts.WindowDuration.Seconds())
	if size < 2 {
		return nil, fmt.Errorf("eda: window of %s at %.0f Hz is too short", opts.WindowDuration, opts.SamplingRate)
	}
	smooth, err := dsp.ButterworthSections(2, opts.SmoothingCutoff, opts.SamplingRate, dsp.LowPass)
	if err != nil {
		return nil, fmt.Errorf("eda: %w", err)
	}

	a := &Analyzer{opts: opts, size: size, smooth: smooth}
	a.Reset()
	return a, nil
}

// Options returns the effective options after defaults.
func (a *Analyzer) Options() Options {
	return a.opts
}

// Reset empties the window and forgets reported responses.
func (a *Analyzer) Reset() {
	a.values = make([]float64, a.size)
	a.times = make([]float64, a.size)
	a.filled = 0
	a.reported = nil
}

// Update feeds conductance samples in µS with their session-relative
// timestamps and returns responses not reported before. Empty or mismatched
// input yields nothing.
func (a *Analyzer) Update(values, times []float64) (responses []Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			responses, err = nil, &ecg.ProcessingError{Stage: "scr update", Err: fmt.Errorf("%v", r)}
		}
	}()

	if len(values) == 0 || len(values) != len(times) {
		return nil, nil
	}
	if times[0] <= 0 {
		first := sort.Search(len(times), func(i int) bool { return times[i] > 0 })
		if first == len(times) {
			return nil, nil
		}
		values, times = values[first:], times[first:]
	}

	if a.filled > 0 && math.Abs(times[0]-a.times[a.size-1]) > a.opts.GapThreshold {
		a.Reset()
	}
	a.roll(values, times)

	x := a.values[a.size-a.filled:]
	t := a.times[a.size-a.filled:]
	if len(x) <= 3*3 {
		return nil, nil
	}

	smoothed, err := a.smooth.FiltFilt(x)
	if err != nil {
		return nil, &ecg.ProcessingError{Stage: "scr smoothing", Err: err}
	}

	horizon := t[len(t)-1] - a.opts.EdgeMargin.Seconds()
	for _, r := range a.detect(smoothed, t) {
		if r.Time > horizon || a.seen(r.Time) {
			continue
		}
		a.reported = append(a.reported, r.Time)
		responses = append(responses, r)
	}
	a.forget(t[len(t)-1])
	return responses, nil
}

func (a *Analyzer) roll(values, times []float64) {
	if len(values) >= a.size {
		values, times = values[len(values)-a.size:], times[len(times)-a.size:]
	}
	n := len(values)
	copy(a.values, a.values[n:])
	copy(a.times, a.times[n:])
	copy(a.values[a.size-n:], values)
	copy(a.times[a.size-n:], times)
	a.filled = min(a.size, a.filled+n)
}

// detect pairs every upward zero crossing of the derivative (onset) with the
// following downward crossing (peak).
func (a *Analyzer) detect(s, t []float64) []Response {
	d := dsp.Diff(s)
	minRise, maxRise := a.opts.MinRiseTime.Seconds(), a.opts.MaxRiseTime.Seconds()

	var out []Response
	onset := -1
	for i := 1; i < len(d); i++ {
		switch {
		case d[i-1] <= 0 && d[i] > 0:
			onset = i
		case onset >= 0 && d[i-1] > 0 && d[i] <= 0:
			peak := i
			amplitude := s[peak] - s[onset]
			rise := t[peak] - t[onset]
			if amplitude >= a.opts.MinAmplitude && rise >= minRise && rise <= maxRise {
				out = append(out, Response{
					Time:      t[peak],
					Amplitude: amplitude,
					RiseTime:  rise,
					Level:     s[onset],
				})
			}
			onset = -1
		}
	}
	return out
}

// seen reports whether a response peaking within one smoothing period of t
// was already reported. Peaks can move slightly as the window slides.
func (a *Analyzer) seen(t float64) bool {
	tolerance := 1 / a.opts.SmoothingCutoff
	for _, r := range a.reported {
		if math.Abs(r-t) < tolerance {
			return true
		}
	}
	return false
}

func (a *Analyzer) forget(now float64) {
	cutoff := now - a.opts.HistoryDuration.Seconds()
	kept := a.reported[:0]
	for _, r := range a.reported {
		if r >= cutoff {
			kept = append(kept, r)
		}
	}
	a.reported = kept
}
