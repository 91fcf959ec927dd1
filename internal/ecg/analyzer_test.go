package ecg

import (
	"errors"
	"testing"
	"time"

	"github.com/srg/nervous/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fs = 512

func newTestAnalyzer(t *testing.T) *Analyzer {
	t.Helper()
	a, err := New(Options{}, testutils.NewTestHelper(t).Logger)
	require.NoError(t, err)
	return a
}

// 80 BPM, first R peak at 0.4 s, recorded inverted like the sensor does.
var train = testutils.PulseTrain{
	SamplingRate: fs,
	Period:       384,
	First:        205,
	Amplitude:    -1000,
	Width:        5,
}

func feed(t *testing.T, a *Analyzer, seconds int, offset float64) []Beat {
	t.Helper()
	var beats []Beat
	for c := 0; c < seconds; c++ {
		signal, times := train.Samples(c*fs, fs, offset)
		b, err := a.Update(signal, times)
		require.NoError(t, err, "chunk %d", c)
		beats = append(beats, b...)
	}
	return beats
}

func TestNew_Defaults(t *testing.T) {
	a := newTestAnalyzer(t)
	opts := a.Options()

	assert.Equal(t, 512.0, opts.SamplingRate)
	assert.Equal(t, 5*time.Second, opts.WindowDuration)
	assert.Equal(t, 5*time.Second, opts.HistoryDuration)
	assert.Equal(t, -1.0, opts.Polarity)
	assert.Equal(t, 0.01, opts.GapThreshold)

	require.Len(t, a.times, 2560)
	assert.Equal(t, 0.0, a.times[2559], "initial window MUST end at time zero")
	assert.InDelta(t, -2559.0/512, a.times[0], 1e-12)

	_, err := New(Options{WindowDuration: 500 * time.Millisecond}, nil)
	assert.Error(t, err, "window shorter than both edge margins MUST be rejected")
}

func TestUpdate_ConsensusOnPulseTrain(t *testing.T) {
	// GOAL: Verify that all three detectors agree on a clean pulse train and every pulse becomes one beat
	//
	// TEST SCENARIO: Stream 10 s of 80 BPM pulses in 1 s chunks → 12 beats at 80 BPM, each at a true R peak

	a := newTestAnalyzer(t)
	beats := feed(t, a, 10, 0)

	// Peak 0 has no predecessor, peak 13 (at 10.15 s) is not yet inside the window.
	require.Len(t, beats, 12, "every pulse after the first MUST yield exactly one beat")
	for i, b := range beats {
		assert.Equal(t, 80.0, b.BPM, "beat %d", i)
		assert.InDelta(t, train.PeakTime(i+1, 0), b.Time, 0.001, "beat %d MUST sit on its R peak", i)
	}

	history := a.History()
	require.NotEmpty(t, history)
	last := history[len(history)-1]
	assert.InDelta(t, train.PeakTime(12, 0), last, 1e-9, "history MUST end at the last confirmed peak")
	assert.LessOrEqual(t, last-history[0], 5.0, "history MUST span at most the history duration")
	for i := 1; i < len(history); i++ {
		assert.InDelta(t, 0.75, history[i]-history[i-1], 1e-9, "history MUST hold one peak per pulse")
	}
}

func TestUpdate_OversizeChunkKeepsNewestWindow(t *testing.T) {
	a := newTestAnalyzer(t)

	signal, times := train.Samples(0, 10*fs, 0)
	beats, err := a.Update(signal, times)
	require.NoError(t, err)

	// Only the last 5 s are analyzed: peaks 7..12, edges excluded.
	require.Len(t, beats, 5)
	for i, b := range beats {
		assert.InDelta(t, train.PeakTime(i+8, 0), b.Time, 0.001)
		assert.Equal(t, 80.0, b.BPM)
	}
	assert.Len(t, a.History(), 6)
}

func TestUpdate_DiscontinuityResets(t *testing.T) {
	// GOAL: Verify a gap in timestamps drops the window and the peak history
	//
	// TEST SCENARIO: Build history, jump 90 s ahead → history empty; resume pulses → beats only from the new segment

	a := newTestAnalyzer(t)
	feed(t, a, 6, 0)
	require.NotEmpty(t, a.History())

	flat := make([]float64, 256)
	times := make([]float64, 256)
	for i := range flat {
		flat[i] = 1
		times[i] = 100 + float64(i)/fs
	}
	beats, err := a.Update(flat, times)
	require.NoError(t, err)
	assert.Empty(t, beats)
	assert.Empty(t, a.History(), "discontinuity MUST clear the peak history")
	assert.Empty(t, a.previous, "discontinuity MUST clear the previous snapshot")
	assert.InDelta(t, 100+255.0/fs, a.times[a.size-1], 1e-9)

	b := newTestAnalyzer(t)
	beats = feed(t, b, 8, 100)
	require.NotEmpty(t, beats)
	assert.InDelta(t, 101.15, beats[0].Time, 0.001, "first beat after a reset MUST close the first full interval of the new segment")
	for _, beat := range beats {
		assert.Greater(t, beat.Time, 100.0, "no beat may bridge the gap")
		assert.Equal(t, 80.0, beat.BPM)
	}
}

func TestUpdate_InputWithoutResults(t *testing.T) {
	a := newTestAnalyzer(t)

	tests := []struct {
		name   string
		signal []float64
		times  []float64
	}{
		{"empty", nil, nil},
		{"length mismatch", []float64{1, 2, 3}, []float64{1}},
		{"all zero samples", make([]float64, 3), []float64{1, 2, 3}},
		{"all zero times", []float64{1, 2, 3}, make([]float64, 3)},
		{"only negative times", []float64{1, 2, 3}, []float64{-3, -2, -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			beats, err := a.Update(tt.signal, tt.times)
			assert.NoError(t, err)
			assert.Empty(t, beats)
		})
	}

	assert.Empty(t, a.History())
	assert.Equal(t, 0.0, a.times[a.size-1], "ignored input MUST NOT move the window")
}

func TestUpdate_DropsLeadingNegativeTimes(t *testing.T) {
	a := newTestAnalyzer(t)

	beats, err := a.Update([]float64{5, 6, 7}, []float64{-1.0 / fs, 0, 1.0 / fs})
	require.NoError(t, err)
	assert.Empty(t, beats)
	assert.Equal(t, []float64{0, 0, -7}, a.signal[a.size-3:], "only samples after time zero MUST enter the window")
	assert.InDelta(t, 1.0/fs, a.times[a.size-1], 1e-12)
}

func TestExtract_IntervalRejection(t *testing.T) {
	// GOAL: Verify RR interval screening against the median of the previous history
	//
	// TEST SCENARIO: median 0.8 s, new intervals 0.5 / 0.8 / 1.2 / 0.8 → 0.5 drops its peak, 1.2 yields no rate but anchors the next one

	a := newTestAnalyzer(t)
	a.previous = []float64{0, 0.8, 1.6, 2.4}
	a.history = []float64{0, 0.8, 1.6, 2.4, 2.9, 3.2, 4.4, 5.2}

	beats := a.extract()

	require.Len(t, beats, 2)
	assert.Equal(t, Beat{Time: 3.2, BPM: 75}, beats[0], "short interval MUST be measured again from the earlier peak")
	assert.Equal(t, Beat{Time: 5.2, BPM: 75}, beats[1], "long interval's closing peak MUST anchor the next interval")
	assert.Equal(t, a.history, a.previous, "snapshot MUST follow the history")
}

func TestExtract_Snapshots(t *testing.T) {
	a := newTestAnalyzer(t)

	a.history = []float64{1}
	assert.Nil(t, a.extract(), "a single peak MUST NOT yield beats")
	assert.Equal(t, []float64{1}, a.previous)

	assert.Nil(t, a.extract(), "unchanged history MUST NOT yield beats")

	// Without a previous median every plausible interval counts.
	a.previous = nil
	a.history = []float64{1, 1.25, 2, 4.5}
	beats := a.extract()
	assert.Equal(t, []Beat{{Time: 2, BPM: 80}}, beats, "0.25 s and 2.5 s intervals MUST be out of bounds")

	// History trimmed without new peaks.
	a.history = []float64{1.25, 2, 4.5}
	assert.Nil(t, a.extract())
	assert.Equal(t, a.history, a.previous)
}

func TestMergeHistory(t *testing.T) {
	a := newTestAnalyzer(t)

	a.mergeHistory([]float64{1, 1.8})
	a.mergeHistory([]float64{1.1, 1.79, 2.6})
	assert.Equal(t, []float64{1, 1.8, 2.6}, a.History(), "peaks within 0.3 s of history MUST be ignored")

	a.mergeHistory([]float64{5.5, 7.0})
	assert.Equal(t, []float64{2.6, 5.5, 7.0}, a.History(), "history MUST be trimmed to its duration")

	a.mergeHistory([]float64{20})
	assert.Equal(t, []float64{20}, a.History(), "the newest peak MUST always survive trimming")
}

func TestIntersect(t *testing.T) {
	assert.Equal(t, []int{3, 9}, intersect([]int{1, 3, 3, 7, 9}, []int{3, 3, 4, 9}))
	assert.Empty(t, intersect(nil, []int{1}))
}

func TestProcessingError(t *testing.T) {
	err := stageError("low-pass", errors.ErrUnsupported)
	assert.ErrorIs(t, err, ErrProcessing)
	assert.ErrorIs(t, err, errors.ErrUnsupported)
	assert.Contains(t, err.Error(), "low-pass")
	assert.NoError(t, stageError("x", nil))

	var nilErr *ProcessingError
	assert.Equal(t, "<nil>", nilErr.Error())
}
