package dsp

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// MovingAverage convolves x with a normalized window of width m and returns
// the centered part of the full convolution with the length of x (numpy
// 'same' mode). Samples beyond the edges count as zero.
func MovingAverage(x []float64, m int) []float64 {
	n := len(x)
	if m <= 1 || n == 0 {
		return append([]float64(nil), x...)
	}

	prefix := make([]float64, n+1)
	for i, v := range x {
		prefix[i+1] = prefix[i] + v
	}

	offset := (m - 1) / 2
	out := make([]float64, n)
	for i := range out {
		// full[j] sums x[j-m+1 .. j]; same[i] = full[i+offset]
		hi := min(i+offset, n-1)
		lo := max(i+offset-m+1, 0)
		if lo <= hi {
			out[i] = (prefix[hi+1] - prefix[lo]) / float64(m)
		}
	}
	return out
}

// Boxcar smooths x with a normalized window of width m after padding both
// ends with m copies of the edge samples, so edges are not pulled to zero.
func Boxcar(x []float64, m int) []float64 {
	n := len(x)
	if m <= 1 || n == 0 {
		return append([]float64(nil), x...)
	}

	padded := make([]float64, 0, n+2*m)
	for i := 0; i < m; i++ {
		padded = append(padded, x[0])
	}
	padded = append(padded, x...)
	for i := 0; i < m; i++ {
		padded = append(padded, x[n-1])
	}
	return MovingAverage(padded, m)[m : m+n]
}

// Gradient is the second-order central difference of x (numpy.gradient with
// unit spacing), one-sided at the edges.
func Gradient(x []float64) []float64 {
	n := len(x)
	out := make([]float64, n)
	if n < 2 {
		return out
	}
	out[0] = x[1] - x[0]
	out[n-1] = x[n-1] - x[n-2]
	for i := 1; i < n-1; i++ {
		out[i] = (x[i+1] - x[i-1]) / 2
	}
	return out
}

// Diff returns x[i+1]-x[i].
func Diff(x []float64) []float64 {
	if len(x) < 2 {
		return nil
	}
	out := make([]float64, len(x)-1)
	floats.SubTo(out, x[1:], x[:len(x)-1])
	return out
}

// Abs replaces every element of x by its magnitude, in place.
func Abs(x []float64) []float64 {
	for i, v := range x {
		x[i] = math.Abs(v)
	}
	return x
}

// Square replaces every element of x by its square, in place.
func Square(x []float64) []float64 {
	floats.Mul(x, x)
	return x
}

// Median returns the middle value of x, averaging the two central values for
// even lengths. NaN for empty input.
func Median(x []float64) float64 {
	n := len(x)
	if n == 0 {
		return math.NaN()
	}
	s := append([]float64(nil), x...)
	sort.Float64s(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

// ArgMax returns the index of the first maximum of x, -1 when empty.
func ArgMax(x []float64) int {
	if len(x) == 0 {
		return -1
	}
	return floats.MaxIdx(x)
}

// AllZero reports whether every element of x is zero.
func AllZero(x []float64) bool {
	for _, v := range x {
		if v != 0 {
			return false
		}
	}
	return true
}
