package testutils

import "math"

// PulseTrain synthesizes a clean ECG-like signal made of one Gaussian R wave
// per beat. R peaks fall exactly on samples so detectors can be checked to
// the sample. Sample k (k >= 1) is taken at time k / SamplingRate.
type PulseTrain struct {
	SamplingRate float64
	Period       int     // samples between R peaks
	First        int     // sample index of the first R peak
	Amplitude    float64 // negative for sensors recording inverted R waves
	Width        float64 // Gaussian sigma in samples
}

// Samples returns n samples starting after sample index from, with their
// timestamps shifted by offset seconds.
func (p PulseTrain) Samples(from, n int, offset float64) (signal, times []float64) {
	signal = make([]float64, n)
	times = make([]float64, n)
	reach := int(10*p.Width) + 1
	for i := range signal {
		k := from + i + 1
		times[i] = offset + float64(k)/p.SamplingRate

		m := int(math.Round(float64(k-p.First) / float64(p.Period)))
		for beat := m - 1; beat <= m+1; beat++ {
			c := p.First + beat*p.Period
			if d := k - c; d > -reach && d < reach {
				z := float64(d) / p.Width
				signal[i] += p.Amplitude * math.Exp(-0.5*z*z)
			}
		}
	}
	return signal, times
}

// PeakTime returns the time of the i-th R peak, counting from zero.
func (p PulseTrain) PeakTime(i int, offset float64) float64 {
	return offset + float64(p.First+i*p.Period)/p.SamplingRate
}

// BPM is the rate implied by Period.
func (p PulseTrain) BPM() float64 {
	return 60 * p.SamplingRate / float64(p.Period)
}
