package dsp

import (
	"fmt"
	"math"
)

// Wavelet is an orthogonal wavelet given by its decomposition low-pass
// filter. The high-pass filter is the quadrature mirror of Lo.
type Wavelet struct {
	Name string
	Lo   []float64
}

// Daubechies2 is the four-tap Daubechies wavelet (db2).
func Daubechies2() Wavelet {
	s3 := math.Sqrt(3)
	d := 4 * math.Sqrt2
	return Wavelet{
		Name: "db2",
		Lo:   []float64{(1 + s3) / d, (3 + s3) / d, (3 - s3) / d, (1 - s3) / d},
	}
}

// Haar is the two-tap Haar wavelet.
func Haar() Wavelet {
	return Wavelet{Name: "haar", Lo: []float64{1 / math.Sqrt2, 1 / math.Sqrt2}}
}

func (w Wavelet) hi() []float64 {
	l := len(w.Lo)
	g := make([]float64, l)
	for n := range g {
		g[n] = w.Lo[l-1-n]
		if n%2 == 1 {
			g[n] = -g[n]
		}
	}
	return g
}

// Coefficients of a multilevel decomposition, coarsest first:
// Approx is cA_n and Details is [cD_n, ..., cD_1].
type Coefficients struct {
	Approx  []float64
	Details [][]float64
	length  int
}

// Decompose runs a periodized multilevel discrete wavelet transform. Signals
// whose length is not a multiple of 2^level are edge-padded and the padding
// is removed again by Reconstruct.
func (w Wavelet) Decompose(x []float64, level int) (*Coefficients, error) {
	if level < 1 {
		return nil, fmt.Errorf("wavelet: level must be positive, got %d", level)
	}
	if len(x) < 1<<level {
		return nil, fmt.Errorf("%w: %d samples cannot be decomposed to level %d", ErrSignalTooShort, len(x), level)
	}

	block := 1 << level
	padded := len(x)
	if r := padded % block; r != 0 {
		padded += block - r
	}
	a := make([]float64, padded)
	copy(a, x)
	for i := len(x); i < padded; i++ {
		a[i] = x[len(x)-1]
	}

	lo, hi := w.Lo, w.hi()
	details := make([][]float64, level)
	for l := level - 1; l >= 0; l-- {
		half := len(a) / 2
		ca := make([]float64, half)
		cd := make([]float64, half)
		for k := 0; k < half; k++ {
			for n := range lo {
				v := a[(2*k+n)%len(a)]
				ca[k] += lo[n] * v
				cd[k] += hi[n] * v
			}
		}
		details[l] = cd
		a = ca
	}

	return &Coefficients{Approx: a, Details: details, length: len(x)}, nil
}

// Reconstruct inverts Decompose.
func (w Wavelet) Reconstruct(c *Coefficients) []float64 {
	lo, hi := w.Lo, w.hi()
	a := append([]float64(nil), c.Approx...)
	for _, cd := range c.Details {
		n := 2 * len(a)
		out := make([]float64, n)
		for k := range a {
			for t := range lo {
				out[(2*k+t)%n] += lo[t]*a[k] + hi[t]*cd[k]
			}
		}
		a = out
	}
	return a[:c.length]
}

// MADSigma estimates the noise standard deviation from the finest detail
// level as median(|cD1|) / 0.6745.
func (c *Coefficients) MADSigma() float64 {
	finest := c.Details[len(c.Details)-1]
	abs := make([]float64, len(finest))
	for i, v := range finest {
		abs[i] = math.Abs(v)
	}
	return Median(abs) / 0.6745
}

// HardThreshold zeroes every coefficient whose magnitude is below t.
func HardThreshold(x []float64, t float64) {
	for i, v := range x {
		if math.Abs(v) < t {
			x[i] = 0
		}
	}
}

// UniversalThreshold is sigma * sqrt(2 ln n).
func UniversalThreshold(sigma float64, n int) float64 {
	if n < 2 {
		return 0
	}
	return sigma * math.Sqrt(2*math.Log(float64(n)))
}
