package codec

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeFrame_KnownVectors(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
		want    []byte
	}{
		{name: "empty", payload: []byte{}, want: []byte{0x01, 0x00}},
		{name: "single zero", payload: []byte{0x00}, want: []byte{0x01, 0x01, 0x00}},
		{name: "two zeros", payload: []byte{0x00, 0x00}, want: []byte{0x01, 0x01, 0x01, 0x00}},
		{name: "zero in the middle", payload: []byte{0x11, 0x22, 0x00, 0x33}, want: []byte{0x03, 0x11, 0x22, 0x02, 0x33, 0x00}},
		{name: "no zeros", payload: []byte{0x11, 0x22, 0x33, 0x44}, want: []byte{0x05, 0x11, 0x22, 0x33, 0x44, 0x00}},
		{name: "trailing zero", payload: []byte{0x11, 0x00}, want: []byte{0x02, 0x11, 0x01, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := EncodeFrame(tt.payload)
			assert.Equal(t, tt.want, got)

			decoded, err := DecodeFrame(got)
			require.NoError(t, err)
			assert.Equal(t, tt.payload, decoded)
		})
	}
}

func TestFrame_RoundTrip(t *testing.T) {
	// GOAL: Verify decodeFrame(stuffAndTerminate(payload)) == payload for arbitrary payloads
	//
	// TEST SCENARIO: Random payloads of many lengths (incl. 254-byte block boundaries) → encode → decode → compare
	rng := rand.New(rand.NewSource(7))
	lengths := []int{0, 1, 2, 253, 254, 255, 256, 507, 508, 509, 1000}
	for i := 0; i < 200; i++ {
		lengths = append(lengths, rng.Intn(2048))
	}

	for _, n := range lengths {
		payload := make([]byte, n)
		rng.Read(payload)
		// Bias towards zeros so both block kinds are exercised.
		for j := range payload {
			if rng.Intn(8) == 0 {
				payload[j] = 0
			}
		}

		frame := EncodeFrame(payload)
		require.Equal(t, Delimiter, frame[len(frame)-1], "frame MUST end with the delimiter")
		require.Equal(t, -1, bytes.IndexByte(frame[:len(frame)-1], Delimiter), "stuffed body MUST NOT contain the delimiter")

		decoded, err := DecodeFrame(frame)
		require.NoError(t, err, "length %d", n)
		require.True(t, bytes.Equal(payload, decoded), "round trip MUST be lossless for length %d", n)
	}
}

func TestFrame_NonZeroRunsAcrossBlocks(t *testing.T) {
	payload := bytes.Repeat([]byte{0xAB}, 254)
	frame := EncodeFrame(payload)

	assert.Equal(t, byte(0xFF), frame[0], "a full block MUST use the 0xFF code")
	decoded, err := DecodeFrame(frame)
	require.NoError(t, err)
	assert.Equal(t, payload, decoded)
}

func TestDecodeFrame_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
	}{
		{name: "empty", frame: nil},
		{name: "only delimiter", frame: []byte{0x00}},
		{name: "missing delimiter", frame: []byte{0x02, 0x11}},
		{name: "block overruns frame", frame: []byte{0x05, 0x11, 0x22, 0x00}},
		{name: "delimiter inside body", frame: []byte{0x03, 0x11, 0x00, 0x02, 0x00}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeFrame(tt.frame)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrFraming)

			var ferr *FramingError
			assert.ErrorAs(t, err, &ferr)
			assert.NotEmpty(t, ferr.Reason)
		})
	}
}
