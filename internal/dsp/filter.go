// Package dsp holds the numeric kernels shared by the signal analyzers:
// IIR filter design and zero-phase filtering, wavelet transforms, peak
// finding and smoothing.
package dsp

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Filter is a rational transfer function b(z)/a(z) with a[0] != 0.
type Filter struct {
	B []float64
	A []float64
}

// Pass selects the response of a designed filter.
type Pass int

const (
	LowPass Pass = iota
	HighPass
)

func (p Pass) String() string {
	if p == HighPass {
		return "high-pass"
	}
	return "low-pass"
}

var ErrSignalTooShort = errors.New("signal too short")

// FIR wraps taps as a Filter with a = [1].
func FIR(taps ...float64) Filter {
	return Filter{B: append([]float64(nil), taps...), A: []float64{1}}
}

// Butterworth designs a digital Butterworth filter of the given order with
// cutoff in Hz at sampling rate fs, as a single transfer function.
func Butterworth(order int, cutoff, fs float64, pass Pass) (Filter, error) {
	sections, err := ButterworthSections(order, cutoff, fs, pass)
	if err != nil {
		return Filter{}, err
	}
	return sections.Combined(), nil
}

// ButterworthSections designs the same filter as Butterworth but keeps it as
// a cascade of bilinear (pre-warped) first- and second-order sections. Use it
// for high orders or cutoffs close to DC where the combined polynomial loses
// precision.
func ButterworthSections(order int, cutoff, fs float64, pass Pass) (Cascade, error) {
	if order < 1 {
		return nil, fmt.Errorf("butterworth: order must be positive, got %d", order)
	}
	if fs <= 0 || cutoff <= 0 || cutoff >= fs/2 {
		return nil, fmt.Errorf("butterworth: cutoff %.3g Hz must lie in (0, %.3g) Hz", cutoff, fs/2)
	}

	w0 := 2 * math.Pi * cutoff / fs
	cosw, sinw := math.Cos(w0), math.Sin(w0)

	var sections Cascade
	if order%2 == 1 {
		k := math.Tan(w0 / 2)
		var b []float64
		switch pass {
		case HighPass:
			b = []float64{1 / (1 + k), -1 / (1 + k)}
		default:
			b = []float64{k / (1 + k), k / (1 + k)}
		}
		sections = append(sections, Filter{B: b, A: []float64{1, (k - 1) / (k + 1)}})
	}

	for k := 1; k <= order/2; k++ {
		var theta float64
		if order%2 == 0 {
			theta = float64(2*k-1) * math.Pi / float64(2*order)
		} else {
			theta = float64(k) * math.Pi / float64(order)
		}
		q := 1 / (2 * math.Cos(theta))
		alpha := sinw / (2 * q)

		a0 := 1 + alpha
		var b []float64
		switch pass {
		case HighPass:
			b = []float64{(1 + cosw) / 2 / a0, -(1 + cosw) / a0, (1 + cosw) / 2 / a0}
		default:
			b = []float64{(1 - cosw) / 2 / a0, (1 - cosw) / a0, (1 - cosw) / 2 / a0}
		}
		sections = append(sections, Filter{B: b, A: []float64{1, -2 * cosw / a0, (1 - alpha) / a0}})
	}

	return sections, nil
}

// Cascade is a chain of filters applied in order.
type Cascade []Filter

// Combined multiplies the sections into one transfer function.
func (c Cascade) Combined() Filter {
	b, a := []float64{1}, []float64{1}
	for _, f := range c {
		b = polyMul(b, f.B)
		a = polyMul(a, f.A)
	}
	return Filter{B: b, A: a}
}

// Gain is the product of the section gains.
func (c Cascade) Gain(hz, fs float64) float64 {
	g := 1.0
	for _, f := range c {
		g *= f.Gain(hz, fs)
	}
	return g
}

// FiltFilt runs every section forward and backward in turn.
func (c Cascade) FiltFilt(x []float64) ([]float64, error) {
	y := x
	for i, f := range c {
		var err error
		if y, err = f.FiltFilt(y); err != nil {
			return nil, fmt.Errorf("section %d: %w", i, err)
		}
	}
	return y, nil
}

// MustButterworth panics on invalid parameters. For compile-time constants.
func MustButterworth(order int, cutoff, fs float64, pass Pass) Filter {
	f, err := Butterworth(order, cutoff, fs, pass)
	if err != nil {
		panic(err)
	}
	return f
}

// Gain returns |H(e^jw)| at frequency hz.
func (f Filter) Gain(hz, fs float64) float64 {
	w := 2 * math.Pi * hz / fs
	eval := func(c []float64) complex128 {
		var s complex128
		for n, v := range c {
			s += complex(v, 0) * complex(math.Cos(-w*float64(n)), math.Sin(-w*float64(n)))
		}
		return s
	}
	num, den := eval(f.B), eval(f.A)
	return cabs(num) / cabs(den)
}

func cabs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}

// normalized pads b and a to equal length and scales so that a[0] == 1.
func (f Filter) normalized() (b, a []float64, err error) {
	if len(f.A) == 0 || f.A[0] == 0 {
		return nil, nil, errors.New("filter: leading denominator coefficient must be non-zero")
	}
	if len(f.B) == 0 {
		return nil, nil, errors.New("filter: empty numerator")
	}

	n := max(len(f.A), len(f.B))
	b = make([]float64, n)
	a = make([]float64, n)
	copy(b, f.B)
	copy(a, f.A)
	floats.Scale(1/f.A[0], b)
	floats.Scale(1/f.A[0], a)
	return b, a, nil
}

// Apply runs the filter causally over x (direct form II transposed) starting
// from state zi, which may be nil for zero initial conditions.
func (f Filter) Apply(x, zi []float64) ([]float64, error) {
	b, a, err := f.normalized()
	if err != nil {
		return nil, err
	}
	return lfilter(b, a, x, zi), nil
}

func lfilter(b, a, x, zi []float64) []float64 {
	n := len(b)
	z := make([]float64, n)
	copy(z, zi)

	y := make([]float64, len(x))
	for i, xi := range x {
		yi := b[0]*xi + z[0]
		for k := 1; k < n; k++ {
			next := 0.0
			if k < n-1 {
				next = z[k]
			}
			z[k-1] = b[k]*xi - a[k]*yi + next
		}
		y[i] = yi
	}
	return y
}

// SteadyState returns the initial state for which a step input produces a
// step output, the equivalent of scipy.signal.lfilter_zi.
func (f Filter) SteadyState() ([]float64, error) {
	b, a, err := f.normalized()
	if err != nil {
		return nil, err
	}
	return lfilterZI(b, a)
}

func lfilterZI(b, a []float64) ([]float64, error) {
	n := len(a) - 1
	if n == 0 {
		return []float64{}, nil
	}

	// (I - companion(a)^T) zi = b[1:] - a[1:]*b[0]
	m := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		m.Set(i, 0, a[i+1])
		m.Set(i, i, m.At(i, i)+1)
		if i+1 < n {
			m.Set(i, i+1, -1)
		}
	}

	rhs := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		rhs.SetVec(i, b[i+1]-a[i+1]*b[0])
	}

	var zi mat.VecDense
	if err := zi.SolveVec(m, rhs); err != nil {
		return nil, fmt.Errorf("filter steady state: %w", err)
	}
	return zi.RawVector().Data, nil
}

// FiltFilt applies the filter forward and backward for zero phase, using
// odd extension of 3*max(len(a), len(b)) samples at both ends and steady
// state initial conditions, matching scipy.signal.filtfilt defaults.
func (f Filter) FiltFilt(x []float64) ([]float64, error) {
	b, a, err := f.normalized()
	if err != nil {
		return nil, err
	}

	padlen := 3 * len(b)
	if len(x) <= padlen {
		return nil, fmt.Errorf("%w: filtfilt needs more than %d samples, got %d", ErrSignalTooShort, padlen, len(x))
	}

	zi, err := lfilterZI(b, a)
	if err != nil {
		return nil, err
	}

	ext := oddExtend(x, padlen)

	state := make([]float64, len(zi))
	copy(state, zi)
	floats.Scale(ext[0], state)
	y := lfilter(b, a, ext, state)

	reverse(y)
	copy(state, zi)
	floats.Scale(y[0], state)
	y = lfilter(b, a, y, state)
	reverse(y)

	return y[padlen : len(y)-padlen], nil
}

func oddExtend(x []float64, n int) []float64 {
	out := make([]float64, 0, len(x)+2*n)
	first, last := x[0], x[len(x)-1]
	for i := n; i >= 1; i-- {
		out = append(out, 2*first-x[i])
	}
	out = append(out, x...)
	for i := len(x) - 2; i >= len(x)-1-n; i-- {
		out = append(out, 2*last-x[i])
	}
	return out
}

func reverse(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}

func polyMul(p, q []float64) []float64 {
	out := make([]float64, len(p)+len(q)-1)
	for i, pv := range p {
		for j, qv := range q {
			out[i+j] += pv * qv
		}
	}
	return out
}
