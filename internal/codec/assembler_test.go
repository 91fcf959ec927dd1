package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameAssembler_SplitAndPackedChunks(t *testing.T) {
	// GOAL: Verify frames are rebuilt regardless of how notifications slice the stream
	//
	// TEST SCENARIO: Concatenate 3 frames → feed in 1..7 byte chunks → same 3 frames come out in order
	want := [][]byte{
		EncodeFrame([]byte{1, 2, 3}),
		EncodeFrame([]byte{0, 0, 9}),
		EncodeFrame(bytes.Repeat([]byte{0x42}, 300)),
	}
	stream := bytes.Join(want, nil)

	for size := 1; size <= 7; size++ {
		a := NewFrameAssembler(1024)
		var got [][]byte
		for off := 0; off < len(stream); off += size {
			end := min(off+size, len(stream))
			frames, err := a.Feed(stream[off:end])
			require.NoError(t, err)
			got = append(got, frames...)
		}
		assert.Equal(t, want, got, "chunk size %d", size)
		assert.Zero(t, a.Pending())
	}
}

func TestFrameAssembler_SingleChunkManyFrames(t *testing.T) {
	a := NewFrameAssembler(64)
	frames, err := a.Feed([]byte{0x00, 0x02, 0x11, 0x00, 0x00, 0x02, 0x22, 0x00})
	require.NoError(t, err)
	assert.Equal(t, [][]byte{{0x02, 0x11, 0x00}, {0x02, 0x22, 0x00}}, frames, "bare delimiters MUST be skipped")
}

func TestFrameAssembler_OversizeFrameResyncs(t *testing.T) {
	// GOAL: Verify an oversize frame is dropped with a FramingError and the stream recovers
	//
	// TEST SCENARIO: Feed 20 non-zero bytes into an 8 byte assembler, then delimiter, then a valid frame
	a := NewFrameAssembler(8)

	frames, err := a.Feed(bytes.Repeat([]byte{0x05}, 20))
	assert.Empty(t, frames)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFraming)

	frames, err = a.Feed([]byte{0x05, 0x05, 0x00})
	require.NoError(t, err, "rest of the dropped frame MUST be discarded silently")
	assert.Empty(t, frames)

	frames, err = a.Feed([]byte{0x02, 0x33, 0x00})
	require.NoError(t, err)
	assert.Equal(t, [][]byte{{0x02, 0x33, 0x00}}, frames)
}

func TestFrameAssembler_Reset(t *testing.T) {
	a := NewFrameAssembler(16)
	_, err := a.Feed([]byte{0x03, 0x01})
	require.NoError(t, err)
	assert.Equal(t, 2, a.Pending())

	a.Reset()
	assert.Zero(t, a.Pending())

	frames, err := a.Feed([]byte{0x02, 0x07, 0x00})
	require.NoError(t, err)
	assert.Equal(t, [][]byte{{0x02, 0x07, 0x00}}, frames)
}
