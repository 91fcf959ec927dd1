// Package ecg derives heart rate from a streaming single-lead ECG.
//
// The Analyzer keeps a sliding window of the most recent samples. Every
// Update rolls new samples into the window, enhances QRS complexes, runs three
// independent R-peak detectors and keeps only the peaks all three agree on.
// Confirmed peaks accumulate in a bounded history from which RR intervals and
// beats per minute are extracted.
package ecg

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/sirupsen/logrus"
	"github.com/srg/nervous/internal/dsp"
)

// Options configures an Analyzer. Zero fields take the tag default.
type Options struct {
	SamplingRate    float64       `default:"512"`
	WindowDuration  time.Duration `default:"5s"`
	HistoryDuration time.Duration `default:"5s"`

	// Polarity multiplies every input sample; -1 flips sensors that record
	// R waves as negative deflections.
	Polarity float64 `default:"-1"`

	// GapThreshold is the largest tolerated jump in seconds between the end
	// of the window and the next chunk before the analyzer resets.
	GapThreshold float64 `default:"0.01"`

	// Prominence is the minimum prominence of an integrated QRS complex.
	Prominence float64 `default:"50"`

	// DenoiseThreshold fixes the wavelet hard threshold. Zero derives it from
	// the noise level of each window.
	DenoiseThreshold float64
}

// Beat is one heart-rate estimate located at the R peak closing its interval.
type Beat struct {
	Time float64
	BPM  float64
}

const (
	edgeMargin        = 0.5 // seconds excluded at both window ends
	refineRadius      = 0.2 // seconds searched around a candidate in the raw window
	minPeakSpacing    = 0.3 // seconds between distinct history peaks
	integrationWidth  = 100 // samples
	denoiseLevel      = 3
	maxIntervalChange = 0.3
	minInterval       = 0.3
	maxInterval       = 2.0
)

// Analyzer is not safe for concurrent use; each heart-rate sensor owns one.
type Analyzer struct {
	opts   Options
	fs     float64
	size   int
	logger *logrus.Logger

	signal []float64
	times  []float64

	history  []float64
	previous []float64

	highPass   dsp.Filter
	lowPass    dsp.Filter
	derivative dsp.Filter
	wavelet    dsp.Wavelet

	adaptive *adaptiveDetector
	gradient *gradientDetector
}

// New builds an Analyzer. Invalid options yield an error.
func New(opts Options, logger *logrus.Logger) (*Analyzer, error) {
	defaults.SetDefaults(&opts)
	if logger == nil {
		logger = logrus.New()
	}

	size := int(opts.SamplingRate * opts.WindowDuration.Seconds())
	if size < int(opts.SamplingRate*2*edgeMargin)+1 {
		return nil, fmt.Errorf("ecg: window of %s at %.0f Hz is too short", opts.WindowDuration, opts.SamplingRate)
	}

	fs := opts.SamplingRate
	highPass, err := dsp.Butterworth(4, 5, fs, dsp.HighPass)
	if err != nil {
		return nil, fmt.Errorf("ecg: %w", err)
	}
	lowPass, err := dsp.Butterworth(4, 12, fs, dsp.LowPass)
	if err != nil {
		return nil, fmt.Errorf("ecg: %w", err)
	}
	adaptive, err := newAdaptiveDetector(fs)
	if err != nil {
		return nil, fmt.Errorf("ecg: %w", err)
	}
	gradient, err := newGradientDetector(fs)
	if err != nil {
		return nil, fmt.Errorf("ecg: %w", err)
	}

	a := &Analyzer{
		opts:       opts,
		fs:         fs,
		size:       size,
		logger:     logger,
		highPass:   highPass,
		lowPass:    lowPass,
		derivative: dsp.FIR(-0.2, -0.2, -0.2, -0.2, 0.2, 0.2, 0.2, 0.2),
		wavelet:    dsp.Daubechies2(),
		adaptive:   adaptive,
		gradient:   gradient,
	}
	a.Reset()
	return a, nil
}

// Options returns the effective options after defaults.
func (a *Analyzer) Options() Options {
	return a.opts
}

// Reset forgets the peak history and refills the window with zeros whose
// timestamps end at 0.
func (a *Analyzer) Reset() {
	a.history = nil
	a.previous = nil
	a.signal = make([]float64, a.size)
	a.times = make([]float64, a.size)
	for i := range a.times {
		a.times[i] = float64(i-(a.size-1)) / a.fs
	}
}

// History returns the confirmed R-peak times currently retained.
func (a *Analyzer) History() []float64 {
	return append([]float64(nil), a.history...)
}

// Update feeds samples with their session-relative timestamps and returns
// the beats completed by newly confirmed peaks. Empty, all-zero or
// mismatched input yields no beats and no error.
func (a *Analyzer) Update(signal, times []float64) (beats []Beat, err error) {
	defer func() {
		if r := recover(); r != nil {
			beats, err = nil, &ProcessingError{Stage: "update", Err: fmt.Errorf("%v", r)}
		}
	}()

	if len(signal) == 0 || len(signal) != len(times) {
		if len(signal) != len(times) {
			a.logger.WithFields(logrus.Fields{
				"samples":    len(signal),
				"timestamps": len(times),
			}).Debug("ECG chunk ignored: sample and timestamp counts differ")
		}
		return nil, nil
	}
	if dsp.AllZero(signal) || dsp.AllZero(times) {
		return nil, nil
	}

	if times[0] < 0 {
		first := sort.Search(len(times), func(i int) bool { return times[i] > 0 })
		if first == len(times) {
			return nil, nil
		}
		signal, times = signal[first:], times[first:]
	}

	if math.Abs(times[0]-a.times[a.size-1]) > a.opts.GapThreshold {
		a.logger.WithFields(logrus.Fields{
			"window_end":  a.times[a.size-1],
			"chunk_start": times[0],
		}).Info("Measurement discontinuity detected")
		a.Reset()
	}

	a.roll(signal, times)

	peaks, err := a.detect()
	if err != nil {
		return nil, err
	}

	confirmed := make([]float64, len(peaks))
	for i, p := range peaks {
		confirmed[i] = a.times[p]
	}
	a.mergeHistory(confirmed)

	return a.extract(), nil
}

func (a *Analyzer) roll(signal, times []float64) {
	if len(signal) >= a.size {
		signal, times = signal[len(signal)-a.size:], times[len(times)-a.size:]
	}
	n := len(signal)
	copy(a.signal, a.signal[n:])
	copy(a.times, a.times[n:])
	for i := range signal {
		a.signal[a.size-n+i] = a.opts.Polarity * signal[i]
	}
	copy(a.times[a.size-n:], times)
}

// enhance turns the raw window into an energy envelope peaking on QRS
// complexes: denoise, band-pass 5-12 Hz, differentiate, square, integrate.
func (a *Analyzer) enhance(x []float64) ([]float64, error) {
	y, err := a.denoise(x)
	if err != nil {
		return nil, stageError("denoise", err)
	}
	if y, err = a.highPass.FiltFilt(y); err != nil {
		return nil, stageError("high-pass", err)
	}
	if y, err = a.lowPass.FiltFilt(y); err != nil {
		return nil, stageError("low-pass", err)
	}
	if y, err = a.derivative.FiltFilt(y); err != nil {
		return nil, stageError("derivative", err)
	}
	return dsp.MovingAverage(dsp.Square(y), integrationWidth), nil
}

// denoise keeps the approximation and the coarsest detail band, hard
// thresholded, and drops the finer detail bands.
func (a *Analyzer) denoise(x []float64) ([]float64, error) {
	c, err := a.wavelet.Decompose(x, denoiseLevel)
	if err != nil {
		return nil, err
	}

	threshold := a.opts.DenoiseThreshold
	if threshold == 0 {
		threshold = dsp.UniversalThreshold(c.MADSigma(), len(x))
	}

	dsp.HardThreshold(c.Approx, threshold)
	dsp.HardThreshold(c.Details[0], threshold)
	for _, d := range c.Details[1:] {
		clear(d)
	}
	return a.wavelet.Reconstruct(c), nil
}

// detect returns window indices of peaks confirmed by all three detectors.
func (a *Analyzer) detect() ([]int, error) {
	integrated, err := a.enhance(a.signal)
	if err != nil {
		return nil, err
	}
	threshold := dsp.FindPeaks(integrated, dsp.PeakOptions{
		Distance:   int(minPeakSpacing * a.fs),
		Prominence: a.opts.Prominence,
	})

	adaptive, err := a.adaptive.detect(a.signal)
	if err != nil {
		return nil, stageError("adaptive detector", err)
	}

	gradient, err := a.gradient.detect(a.signal)
	if err != nil {
		return nil, stageError("gradient detector", err)
	}

	consensus := a.confirm(threshold)
	for _, candidates := range [][]int{adaptive, gradient} {
		consensus = intersect(consensus, a.confirm(candidates))
	}
	return consensus, nil
}

// confirm moves each candidate to the raw maximum nearby and drops those too
// close to the window edges.
func (a *Analyzer) confirm(candidates []int) []int {
	radius := int(refineRadius * a.fs)
	lower := edgeMargin * a.fs
	upper := (a.opts.WindowDuration.Seconds() - edgeMargin) * a.fs

	out := make([]int, 0, len(candidates))
	for _, p := range candidates {
		start := max(0, p-radius)
		end := min(a.size, p+radius)
		if start >= end {
			continue
		}
		r := start + dsp.ArgMax(a.signal[start:end])
		if float64(r) > lower && float64(r) < upper {
			out = append(out, r)
		}
	}
	sort.Ints(out)
	return out
}

// intersect returns the sorted unique values present in both sorted inputs.
func intersect(x, y []int) []int {
	var out []int
	i, j := 0, 0
	for i < len(x) && j < len(y) {
		switch {
		case x[i] < y[j]:
			i++
		case x[i] > y[j]:
			j++
		default:
			if len(out) == 0 || out[len(out)-1] != x[i] {
				out = append(out, x[i])
			}
			i++
			j++
		}
	}
	return out
}

// mergeHistory adds peaks at least minPeakSpacing away from every retained
// peak, then trims the oldest until the history spans HistoryDuration.
func (a *Analyzer) mergeHistory(peaks []float64) {
	for _, t := range peaks {
		distinct := true
		for _, h := range a.history {
			if math.Abs(t-h) < minPeakSpacing {
				distinct = false
				break
			}
		}
		if distinct {
			a.history = append(a.history, t)
		}
	}
	sort.Float64s(a.history)

	span := a.opts.HistoryDuration.Seconds()
	for len(a.history) > 1 && a.history[len(a.history)-1]-a.history[0] > span {
		a.history = a.history[1:]
	}
}

// extract converts the peaks confirmed since the previous call into beats.
// Intervals are judged against the median RR interval of the previous
// history: a much shorter interval drops its closing peak and the next
// interval is measured from the earlier peak; a much longer or
// physiologically implausible interval yields no beat but its closing peak
// still anchors the next interval.
func (a *Analyzer) extract() []Beat {
	defer func() {
		a.previous = append(a.previous[:0:0], a.history...)
	}()

	if slices.Equal(a.history, a.previous) || len(a.history) <= 1 {
		return nil
	}

	var peaks []float64
	if len(a.previous) > 0 {
		last := a.previous[len(a.previous)-1]
		for _, t := range a.history {
			if t > last {
				peaks = append(peaks, t)
			}
		}
		if len(peaks) == 0 {
			return nil
		}
		peaks = append([]float64{last}, peaks...)
	} else {
		peaks = append(peaks, a.history...)
	}

	median := dsp.Median(dsp.Diff(a.previous))

	var beats []Beat
	for i := 1; i < len(peaks); {
		interval := peaks[i] - peaks[i-1]

		if (median-interval)/median > maxIntervalChange {
			a.logger.WithFields(logrus.Fields{
				"interval": interval,
				"median":   median,
				"peak":     peaks[i],
			}).Debug("RR interval too short, dropping peak")
			peaks = append(peaks[:i], peaks[i+1:]...)
			continue
		}
		if (interval-median)/median > maxIntervalChange {
			a.logger.WithFields(logrus.Fields{
				"interval": interval,
				"median":   median,
				"peak":     peaks[i],
			}).Debug("RR interval too long")
			i++
			continue
		}
		if interval < minInterval || interval > maxInterval {
			i++
			continue
		}

		beats = append(beats, Beat{
			Time: round(peaks[i], 3),
			BPM:  round(60/interval, 2),
		})
		i++
	}
	return beats
}

func round(x float64, digits int) float64 {
	p := math.Pow(10, float64(digits))
	return math.Round(x*p) / p
}
