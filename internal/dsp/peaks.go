package dsp

import (
	"math"
	"sort"
)

// PeakOptions restricts FindPeaks. Zero values disable a criterion.
type PeakOptions struct {
	// Height is the minimum peak value.
	Height float64
	// HasHeight enables Height, which may legitimately be zero or negative.
	HasHeight bool
	// Distance is the minimum index distance between kept peaks; higher
	// peaks win.
	Distance int
	// Prominence is the minimum topographic prominence.
	Prominence float64
}

// FindPeaks returns the indices of local maxima of x that satisfy opts, in
// ascending order. Flat tops report their middle sample. Criteria are applied
// in the order height, distance, prominence.
func FindPeaks(x []float64, opts PeakOptions) []int {
	peaks := localMaxima(x)

	if opts.HasHeight {
		kept := peaks[:0]
		for _, p := range peaks {
			if x[p] >= opts.Height {
				kept = append(kept, p)
			}
		}
		peaks = kept
	}

	if opts.Distance > 1 {
		peaks = selectByDistance(x, peaks, opts.Distance)
	}

	if opts.Prominence > 0 {
		prom := Prominences(x, peaks)
		kept := peaks[:0]
		for i, p := range peaks {
			if prom[i] >= opts.Prominence {
				kept = append(kept, p)
			}
		}
		peaks = kept
	}

	return peaks
}

func localMaxima(x []float64) []int {
	var peaks []int
	i := 1
	last := len(x) - 1
	for i < last {
		if x[i-1] < x[i] {
			ahead := i + 1
			for ahead < last && x[ahead] == x[i] {
				ahead++
			}
			if x[ahead] < x[i] {
				peaks = append(peaks, (i+ahead-1)/2)
				i = ahead
			}
		}
		i++
	}
	return peaks
}

func selectByDistance(x []float64, peaks []int, distance int) []int {
	order := make([]int, len(peaks))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return x[peaks[order[a]]] > x[peaks[order[b]]]
	})

	keep := make([]bool, len(peaks))
	for i := range keep {
		keep[i] = true
	}

	for _, j := range order {
		if !keep[j] {
			continue
		}
		for k := j - 1; k >= 0 && peaks[j]-peaks[k] < distance; k-- {
			keep[k] = false
		}
		for k := j + 1; k < len(peaks) && peaks[k]-peaks[j] < distance; k++ {
			keep[k] = false
		}
	}

	out := make([]int, 0, len(peaks))
	for i, p := range peaks {
		if keep[i] {
			out = append(out, p)
		}
	}
	return out
}

// Prominences computes the topographic prominence of each peak: its height
// above the higher of the two lowest points reached before meeting a higher
// sample (or the signal edge) on either side.
func Prominences(x []float64, peaks []int) []float64 {
	out := make([]float64, len(peaks))
	for i, p := range peaks {
		leftMin := x[p]
		for j := p - 1; j >= 0 && x[j] <= x[p]; j-- {
			leftMin = math.Min(leftMin, x[j])
		}
		rightMin := x[p]
		for j := p + 1; j < len(x) && x[j] <= x[p]; j++ {
			rightMin = math.Min(rightMin, x[j])
		}
		out[i] = x[p] - math.Max(leftMin, rightMin)
	}
	return out
}
