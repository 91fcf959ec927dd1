package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"math/cmplx"
	"time"

	"google.golang.org/protobuf/encoding/protowire"
)

// Kind selects the payload schema of a sensor subtype.
type Kind uint8

const (
	Cardiac Kind = iota + 1
	Electrodermal
)

func (k Kind) String() string {
	switch k {
	case Cardiac:
		return "cardiac"
	case Electrodermal:
		return "electrodermal"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Field numbers of the firmware messages.
//
//	message Timestamp { uint32 time = 1; uint32 us = 2; }
//	message EcgBuffer { bytes data = 1; Timestamp timestamp = 2; Lodpn lodpn = 3; }
//	message Complex   { float real = 1; float imag = 2; }
//	message EdaBuffer { repeated Complex data = 1; Timestamp timestamp = 2; }
const (
	fieldTimestampSeconds protowire.Number = 1
	fieldTimestampMicros  protowire.Number = 2

	fieldBufferData      protowire.Number = 1
	fieldBufferTimestamp protowire.Number = 2
	fieldEcgLead         protowire.Number = 3

	fieldComplexReal protowire.Number = 1
	fieldComplexImag protowire.Number = 2
)

// Payload is the decoded content of one frame. The concrete type is
// *CardiacPayload or *ElectrodermalPayload depending on Kind().
type Payload interface {
	Kind() Kind
	// Time returns the sensor timestamp of the first sample in epoch seconds.
	Time() float64
	sealed()
}

// CardiacPayload is a block of ECG samples plus the electrode lead-off status.
type CardiacPayload struct {
	Samples   []int16
	Timestamp float64
	Lead      LeadStatus
}

func (p *CardiacPayload) Kind() Kind    { return Cardiac }
func (p *CardiacPayload) Time() float64 { return p.Timestamp }
func (p *CardiacPayload) sealed()       {}

// ElectrodermalPayload is a single skin-conductance measurement.
type ElectrodermalPayload struct {
	Impedance   complex128 // lowest-frequency impedance as reported by the sensor
	Conductance float64    // microsiemens
	Timestamp   float64
}

func (p *ElectrodermalPayload) Kind() Kind    { return Electrodermal }
func (p *ElectrodermalPayload) Time() float64 { return p.Timestamp }
func (p *ElectrodermalPayload) sealed()       {}

// DecodePayload parses an unstuffed frame body according to the schema of kind.
func DecodePayload(kind Kind, raw []byte) (Payload, error) {
	switch kind {
	case Cardiac:
		return decodeCardiac(raw)
	case Electrodermal:
		return decodeElectrodermal(raw)
	default:
		return nil, &SchemaError{Message: kind.String(), Err: fmt.Errorf("unsupported payload kind")}
	}
}

func decodeCardiac(raw []byte) (*CardiacPayload, error) {
	const msg = "EcgBuffer"

	var (
		data         []byte
		ts           float64
		lead         = BothOn
		hasTimestamp bool
	)

	err := walkFields(raw, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldBufferData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, &SchemaError{Message: msg, Field: "data", Err: protowire.ParseError(n)}
			}
			data = v
			return n, nil
		case num == fieldBufferTimestamp && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, &SchemaError{Message: msg, Field: "timestamp", Err: protowire.ParseError(n)}
			}
			t, err := decodeTimestamp(v)
			if err != nil {
				return n, err
			}
			ts, hasTimestamp = t, true
			return n, nil
		case num == fieldEcgLead && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return n, &SchemaError{Message: msg, Field: "lodpn", Err: protowire.ParseError(n)}
			}
			if v > uint64(BothOff) {
				return n, &SchemaError{Message: msg, Field: "lodpn", Err: fmt.Errorf("unknown lead status %d", v)}
			}
			lead = LeadStatus(v)
			return n, nil
		}
		return -1, nil
	})
	if err != nil {
		return nil, wrapSchema(msg, err)
	}

	if !hasTimestamp {
		return nil, &SchemaError{Message: msg, Field: "timestamp", Err: fmt.Errorf("missing")}
	}
	if len(data)%2 != 0 {
		return nil, &SchemaError{Message: msg, Field: "data", Err: fmt.Errorf("odd sample block length %d", len(data))}
	}

	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
	}

	return &CardiacPayload{Samples: samples, Timestamp: ts, Lead: lead}, nil
}

func decodeElectrodermal(raw []byte) (*ElectrodermalPayload, error) {
	const msg = "EdaBuffer"

	var (
		impedances   []complex128
		ts           float64
		hasTimestamp bool
	)

	err := walkFields(raw, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldBufferData && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, &SchemaError{Message: msg, Field: "data", Err: protowire.ParseError(n)}
			}
			z, err := decodeComplex(v)
			if err != nil {
				return n, err
			}
			impedances = append(impedances, z)
			return n, nil
		case num == fieldBufferTimestamp && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return n, &SchemaError{Message: msg, Field: "timestamp", Err: protowire.ParseError(n)}
			}
			t, err := decodeTimestamp(v)
			if err != nil {
				return n, err
			}
			ts, hasTimestamp = t, true
			return n, nil
		}
		return -1, nil
	})
	if err != nil {
		return nil, wrapSchema(msg, err)
	}

	if !hasTimestamp {
		return nil, &SchemaError{Message: msg, Field: "timestamp", Err: fmt.Errorf("missing")}
	}
	if len(impedances) == 0 {
		return nil, &SchemaError{Message: msg, Field: "data", Err: fmt.Errorf("no impedance measurement")}
	}

	// Lowest frequency measurement comes first.
	magnitude := cmplx.Abs(impedances[0])
	if magnitude == 0 || math.IsNaN(magnitude) || math.IsInf(magnitude, 0) {
		return nil, &SchemaError{Message: msg, Field: "data", Err: fmt.Errorf("invalid impedance magnitude %v", magnitude)}
	}

	return &ElectrodermalPayload{
		Impedance:   impedances[0],
		Conductance: 1e6 / magnitude,
		Timestamp:   ts,
	}, nil
}

func decodeTimestamp(raw []byte) (float64, error) {
	const msg = "Timestamp"

	var sec, us uint64
	err := walkFields(raw, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if typ != protowire.VarintType || (num != fieldTimestampSeconds && num != fieldTimestampMicros) {
			return -1, nil
		}
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return n, &SchemaError{Message: msg, Err: protowire.ParseError(n)}
		}
		if v > math.MaxUint32 {
			return n, &SchemaError{Message: msg, Err: fmt.Errorf("value %d overflows uint32", v)}
		}
		if num == fieldTimestampSeconds {
			sec = v
		} else {
			us = v
		}
		return n, nil
	})
	if err != nil {
		return 0, wrapSchema(msg, err)
	}

	return float64(sec) + float64(us)*1e-6, nil
}

func decodeComplex(raw []byte) (complex128, error) {
	const msg = "Complex"

	var re, im float64
	err := walkFields(raw, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != fieldComplexReal && num != fieldComplexImag {
			return -1, nil
		}

		var (
			v float64
			n int
		)
		switch typ {
		case protowire.Fixed32Type:
			var bits uint32
			bits, n = protowire.ConsumeFixed32(b)
			v = float64(math.Float32frombits(bits))
		case protowire.Fixed64Type:
			var bits uint64
			bits, n = protowire.ConsumeFixed64(b)
			v = math.Float64frombits(bits)
		case protowire.VarintType:
			var u uint64
			u, n = protowire.ConsumeVarint(b)
			v = float64(int32(u))
		default:
			return -1, nil
		}
		if n < 0 {
			return n, &SchemaError{Message: msg, Err: protowire.ParseError(n)}
		}

		if num == fieldComplexReal {
			re = v
		} else {
			im = v
		}
		return n, nil
	})
	if err != nil {
		return 0, wrapSchema(msg, err)
	}

	return complex(re, im), nil
}

// walkFields iterates over the top-level fields of a protobuf message. The
// visitor returns the number of bytes it consumed, or -1 with a nil error to
// have the field skipped.
func walkFields(b []byte, visit func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		consumed, err := visit(num, typ, b)
		if err != nil {
			return err
		}
		if consumed < 0 {
			consumed = protowire.ConsumeFieldValue(num, typ, b)
			if consumed < 0 {
				return protowire.ParseError(consumed)
			}
		}
		if consumed > len(b) {
			return errTruncated
		}
		b = b[consumed:]
	}
	return nil
}

func wrapSchema(message string, err error) error {
	if _, ok := err.(*SchemaError); ok {
		return err
	}
	return &SchemaError{Message: message, Err: err}
}

// AppendTimestamp encodes t as a Timestamp message.
func AppendTimestamp(b []byte, t time.Time) []byte {
	sec := t.Unix()
	us := t.Nanosecond() / int(time.Microsecond)
	b = protowire.AppendTag(b, fieldTimestampSeconds, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(uint32(sec)))
	b = protowire.AppendTag(b, fieldTimestampMicros, protowire.VarintType)
	return protowire.AppendVarint(b, uint64(us))
}

// EncodeTimeSync serializes now as a stuffed and delimited Timestamp frame,
// ready to be written to the sensor clock characteristic.
func EncodeTimeSync(now time.Time) []byte {
	return EncodeFrame(AppendTimestamp(nil, now))
}

// MarshalCardiac encodes p in the EcgBuffer layout. Sensors produce this
// message; the encoder exists for simulation and tests.
func MarshalCardiac(p *CardiacPayload) []byte {
	data := make([]byte, 2*len(p.Samples))
	for i, s := range p.Samples {
		binary.LittleEndian.PutUint16(data[2*i:], uint16(s))
	}

	var b []byte
	b = protowire.AppendTag(b, fieldBufferData, protowire.BytesType)
	b = protowire.AppendBytes(b, data)
	b = protowire.AppendTag(b, fieldBufferTimestamp, protowire.BytesType)
	b = protowire.AppendBytes(b, AppendTimestamp(nil, epochToTime(p.Timestamp)))
	if p.Lead != BothOn {
		b = protowire.AppendTag(b, fieldEcgLead, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(p.Lead))
	}
	return b
}

// MarshalElectrodermal encodes p in the EdaBuffer layout using p.Impedance.
func MarshalElectrodermal(p *ElectrodermalPayload) []byte {
	var z []byte
	z = protowire.AppendTag(z, fieldComplexReal, protowire.Fixed32Type)
	z = protowire.AppendFixed32(z, math.Float32bits(float32(real(p.Impedance))))
	z = protowire.AppendTag(z, fieldComplexImag, protowire.Fixed32Type)
	z = protowire.AppendFixed32(z, math.Float32bits(float32(imag(p.Impedance))))

	var b []byte
	b = protowire.AppendTag(b, fieldBufferData, protowire.BytesType)
	b = protowire.AppendBytes(b, z)
	b = protowire.AppendTag(b, fieldBufferTimestamp, protowire.BytesType)
	return protowire.AppendBytes(b, AppendTimestamp(nil, epochToTime(p.Timestamp)))
}

func epochToTime(ts float64) time.Time {
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(math.Round(frac*1e6))*int64(time.Microsecond))
}
