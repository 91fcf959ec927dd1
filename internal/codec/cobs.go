package codec

// Delimiter terminates every frame on the wire. Stuffing guarantees it never
// appears inside a frame body.
const Delimiter byte = 0x00

// maxBlock is the longest run of non-zero bytes a single COBS code byte can describe.
const maxBlock = 0xFF

// EncodeFrame applies consistent overhead byte stuffing to payload and appends
// the frame delimiter.
func EncodeFrame(payload []byte) []byte {
	out := make([]byte, 1, len(payload)+len(payload)/254+2)
	codeIdx := 0
	code := byte(1)

	for _, b := range payload {
		if b == Delimiter {
			out[codeIdx] = code
			codeIdx = len(out)
			out = append(out, 0)
			code = 1
			continue
		}

		out = append(out, b)
		code++
		if code == maxBlock {
			out[codeIdx] = code
			codeIdx = len(out)
			out = append(out, 0)
			code = 1
		}
	}
	out[codeIdx] = code

	return append(out, Delimiter)
}

// DecodeFrame strips the trailing delimiter and reverses the byte stuffing.
// Any structural inconsistency yields a *FramingError.
func DecodeFrame(frame []byte) ([]byte, error) {
	if len(frame) == 0 {
		return nil, framingError(-1, "empty frame")
	}
	if frame[len(frame)-1] != Delimiter {
		return nil, framingError(len(frame)-1, "missing frame delimiter")
	}

	body := frame[:len(frame)-1]
	if len(body) == 0 {
		return nil, framingError(0, "frame has no body")
	}

	out := make([]byte, 0, len(body))
	for i := 0; i < len(body); {
		code := body[i]
		if code == Delimiter {
			return nil, framingError(i, "unexpected delimiter inside frame")
		}

		end := i + int(code)
		if end > len(body) {
			return nil, framingError(i, "block length %d overruns frame of %d bytes", code, len(body))
		}

		for j := i + 1; j < end; j++ {
			if body[j] == Delimiter {
				return nil, framingError(j, "unexpected delimiter inside block")
			}
			out = append(out, body[j])
		}
		i = end

		if code < maxBlock && i < len(body) {
			out = append(out, 0)
		}
	}

	return out, nil
}
