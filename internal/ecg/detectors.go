package ecg

import (
	"github.com/srg/nervous/internal/dsp"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// adaptiveDetector tracks running signal and noise peak levels of a
// rectified, smoothed 5-30 Hz band and accepts candidates above a threshold
// set between them. When no beat was found for much longer than the mean RR
// interval it searches back for a lower candidate.
type adaptiveDetector struct {
	fs       float64
	band     dsp.Cascade
	smooth   int
	learning int
	refrac   int
}

func newAdaptiveDetector(fs float64) (*adaptiveDetector, error) {
	high, err := dsp.ButterworthSections(2, 5, fs, dsp.HighPass)
	if err != nil {
		return nil, err
	}
	low, err := dsp.ButterworthSections(2, 30, fs, dsp.LowPass)
	if err != nil {
		return nil, err
	}
	return &adaptiveDetector{
		fs:       fs,
		band:     append(high, low...),
		smooth:   int(0.08 * fs),
		learning: int(2 * fs),
		refrac:   int(0.25 * fs),
	}, nil
}

const (
	thresholdFraction = 0.25
	peakWeight        = 0.125
	searchBackFactor  = 1.66
	rrMemory          = 8
)

func (d *adaptiveDetector) detect(x []float64) ([]int, error) {
	filtered, err := d.band.FiltFilt(x)
	if err != nil {
		return nil, err
	}
	envelope := dsp.MovingAverage(dsp.Abs(dsp.Diff(filtered)), d.smooth)
	if len(envelope) == 0 {
		return nil, nil
	}

	learn := envelope[:min(d.learning, len(envelope))]
	signalLevel := thresholdFraction * floats.Max(learn)
	noiseLevel := 0.5 * stat.Mean(learn, nil)
	threshold := noiseLevel + thresholdFraction*(signalLevel-noiseLevel)

	candidates := dsp.FindPeaks(envelope, dsp.PeakOptions{})

	var beats []int
	var intervals []float64
	last, lastIdx := -d.refrac, -1
	accept := func(p int) {
		if len(beats) > 0 {
			intervals = append(intervals, float64(p-last))
			if len(intervals) > rrMemory {
				intervals = intervals[1:]
			}
		}
		beats = append(beats, p)
		last = p
	}

	for ci, p := range candidates {
		if p-last < d.refrac {
			continue
		}

		if len(intervals) > 0 {
			if limit := searchBackFactor * stat.Mean(intervals, nil); float64(p-last) > limit {
				best := -1
				for j := lastIdx + 1; j < ci; j++ {
					q := candidates[j]
					if q-last < d.refrac || envelope[q] <= threshold/2 {
						continue
					}
					if best < 0 || envelope[q] > envelope[best] {
						best = q
					}
				}
				if best >= 0 {
					accept(best)
					signalLevel = 2*peakWeight*envelope[best] + (1-2*peakWeight)*signalLevel
					threshold = noiseLevel + thresholdFraction*(signalLevel-noiseLevel)
					if p-last < d.refrac {
						continue
					}
				}
			}
		}

		v := envelope[p]
		if v > threshold {
			accept(p)
			lastIdx = ci
			signalLevel = peakWeight*v + (1-peakWeight)*signalLevel
		} else {
			noiseLevel = peakWeight*v + (1-peakWeight)*noiseLevel
		}
		threshold = noiseLevel + thresholdFraction*(signalLevel-noiseLevel)
	}
	return beats, nil
}

// gradientDetector marks QRS regions where the smoothed absolute gradient of
// the cleaned signal exceeds a multiple of its slow average and takes the
// most prominent local maximum inside each long enough region.
type gradientDetector struct {
	fs        float64
	baseline  dsp.Cascade
	powerline dsp.Filter
	smooth    int
	average   int
	minDelay  int
}

const (
	gradientFactor = 1.5
	minRegionShare = 0.4
	powerlineHz    = 50
)

func newGradientDetector(fs float64) (*gradientDetector, error) {
	baseline, err := dsp.ButterworthSections(5, 0.5, fs, dsp.HighPass)
	if err != nil {
		return nil, err
	}

	d := &gradientDetector{
		fs:       fs,
		baseline: baseline,
		smooth:   int(0.1 * fs),
		average:  int(0.75 * fs),
		minDelay: int(0.3 * fs),
	}
	if taps := int(fs / powerlineHz); taps > 1 {
		w := make([]float64, taps)
		for i := range w {
			w[i] = 1 / float64(taps)
		}
		d.powerline = dsp.FIR(w...)
	}
	return d, nil
}

func (d *gradientDetector) clean(x []float64) ([]float64, error) {
	y, err := d.baseline.FiltFilt(x)
	if err != nil {
		return nil, err
	}
	if d.powerline.B == nil {
		return y, nil
	}
	return d.powerline.FiltFilt(y)
}

func (d *gradientDetector) detect(x []float64) ([]int, error) {
	cleaned, err := d.clean(x)
	if err != nil {
		return nil, err
	}

	gradient := dsp.Abs(dsp.Gradient(cleaned))
	smoothed := dsp.Boxcar(gradient, d.smooth)
	averaged := dsp.Boxcar(gradient, d.average)

	var begins, ends []int
	for i := 1; i < len(smoothed); i++ {
		prev := smoothed[i-1] > gradientFactor*averaged[i-1]
		cur := smoothed[i] > gradientFactor*averaged[i]
		switch {
		case !prev && cur:
			begins = append(begins, i-1)
		case prev && !cur:
			if len(begins) > 0 {
				ends = append(ends, i-1)
			}
		}
	}

	regions := min(len(begins), len(ends))
	if regions == 0 {
		return nil, nil
	}

	var total float64
	for i := 0; i < regions; i++ {
		total += float64(ends[i] - begins[i])
	}
	minLength := minRegionShare * total / float64(regions)

	var peaks []int
	last := 0
	for i := 0; i < regions; i++ {
		begin, end := begins[i], ends[i]
		if float64(end-begin) < minLength {
			continue
		}

		segment := cleaned[begin:end]
		local := dsp.FindPeaks(segment, dsp.PeakOptions{})
		if len(local) == 0 {
			continue
		}
		prominences := dsp.Prominences(segment, local)
		peak := begin + local[floats.MaxIdx(prominences)]

		if peak-last > d.minDelay {
			peaks = append(peaks, peak)
			last = peak
		}
	}
	return peaks, nil
}
