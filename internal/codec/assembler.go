package codec

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/smallnest/ringbuffer"
)

// DefaultMaxFrame bounds a single frame, delimiter included.
const DefaultMaxFrame = 4096

// FrameAssembler rebuilds delimited frames out of notification chunks. A
// chunk may carry a partial frame, exactly one frame or several frames.
// Pending bytes live in a bounded ring; a frame that outgrows it is dropped
// and the assembler resynchronises on the next delimiter.
//
// FrameAssembler is not safe for concurrent use; each sensor owns one.
type FrameAssembler struct {
	pending    *ringbuffer.RingBuffer
	maxFrame   int
	discarding bool
}

func NewFrameAssembler(maxFrame int) *FrameAssembler {
	if maxFrame <= 0 {
		maxFrame = DefaultMaxFrame
	}
	return &FrameAssembler{
		pending:  ringbuffer.New(maxFrame),
		maxFrame: maxFrame,
	}
}

// Feed consumes chunk and returns every frame it completed, each ending with
// the delimiter. Dropped oversize frames are reported as *FramingError values
// joined into err; completed frames are returned regardless.
func (a *FrameAssembler) Feed(chunk []byte) (frames [][]byte, err error) {
	var errs []error

	for len(chunk) > 0 {
		end := bytes.IndexByte(chunk, Delimiter)
		seg := chunk
		if end >= 0 {
			seg = chunk[:end+1]
		}
		chunk = chunk[len(seg):]

		if a.discarding {
			a.discarding = end < 0
			continue
		}

		// A short write (full ring or too much data) means the frame
		// cannot fit.
		if n, werr := a.pending.Write(seg); werr != nil || n < len(seg) {
			errs = append(errs, framingError(-1, "frame exceeds %d bytes", a.maxFrame))
			a.pending.Reset()
			a.discarding = end < 0
			continue
		}

		if end < 0 {
			continue
		}

		frame := make([]byte, a.pending.Length())
		if _, rerr := a.pending.Read(frame); rerr != nil && !errors.Is(rerr, ringbuffer.ErrIsEmpty) {
			errs = append(errs, fmt.Errorf("frame buffer read failed: %w", rerr))
			a.pending.Reset()
			continue
		}

		// Bare delimiters separate frames and carry nothing.
		if len(frame) > 1 {
			frames = append(frames, frame)
		}
	}

	return frames, errors.Join(errs...)
}

// Pending returns the number of buffered bytes of an incomplete frame.
func (a *FrameAssembler) Pending() int {
	return a.pending.Length()
}

// Reset drops any partial frame, typically after a reconnect.
func (a *FrameAssembler) Reset() {
	a.pending.Reset()
	a.discarding = false
}
