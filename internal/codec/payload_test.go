package codec

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"google.golang.org/protobuf/encoding/protowire"
)

type PayloadTestSuite struct {
	suite.Suite
}

func TestPayloadTestSuite(t *testing.T) {
	suite.Run(t, new(PayloadTestSuite))
}

func (s *PayloadTestSuite) TestCardiacDecode() {
	// GOAL: Verify EcgBuffer payloads yield int16 LE samples, timestamp and lead status
	//
	// TEST SCENARIO: Marshal cardiac payload → stuff → Decoder.Decode → compare fields
	in := &CardiacPayload{
		Samples:   []int16{0, 1, -1, 32767, -32768, 1234},
		Timestamp: 1700000000.25,
		Lead:      RightOff,
	}

	d := NewDecoder(Cardiac)
	s.Equal(BothOff, d.Lead(), "cardiac decoder MUST start with both electrodes off")

	p, err := d.Decode(EncodeFrame(MarshalCardiac(in)))
	s.Require().NoError(err)

	out, ok := p.(*CardiacPayload)
	s.Require().True(ok, "cardiac decoder MUST produce *CardiacPayload")
	s.Equal(in.Samples, out.Samples)
	s.InDelta(in.Timestamp, out.Timestamp, 1e-6)
	s.Equal(RightOff, out.Lead)
	s.Equal(RightOff, d.Lead())
	s.Equal(Cardiac, p.Kind())
}

func (s *PayloadTestSuite) TestCardiacLeadDefaultsToBothOn() {
	// An absent lodpn field is the proto3 zero value.
	in := &CardiacPayload{Samples: []int16{5, 6}, Timestamp: 10, Lead: BothOn}

	p, err := DecodePayload(Cardiac, MarshalCardiac(in))
	s.Require().NoError(err)
	s.Equal(BothOn, p.(*CardiacPayload).Lead)
}

func (s *PayloadTestSuite) TestLeadObserver() {
	// GOAL: Verify lead-off transitions are surfaced to the consumer
	//
	// TEST SCENARIO: Decode frames with lead sequence on,on,left,on → observer sees 3 transitions
	type transition struct{ prev, next LeadStatus }
	var seen []transition

	d := NewDecoder(Cardiac, WithLeadObserver(func(prev, next LeadStatus) {
		seen = append(seen, transition{prev, next})
	}))

	for _, lead := range []LeadStatus{BothOn, BothOn, LeftOff, BothOn} {
		_, err := d.Decode(EncodeFrame(MarshalCardiac(&CardiacPayload{Samples: []int16{1}, Timestamp: 1, Lead: lead})))
		s.Require().NoError(err)
	}

	s.Equal([]transition{
		{BothOff, BothOn},
		{BothOn, LeftOff},
		{LeftOff, BothOn},
	}, seen)
}

func (s *PayloadTestSuite) TestElectrodermalConductance() {
	// GOAL: Verify conductance = 1e6 / |Z| of the first impedance measurement
	//
	// TEST SCENARIO: Z = 300000 + 400000i → |Z| = 500000 Ω → 2 µS
	in := &ElectrodermalPayload{Impedance: complex(300000, 400000), Timestamp: 42.5}

	p, err := NewDecoder(Electrodermal).Decode(EncodeFrame(MarshalElectrodermal(in)))
	s.Require().NoError(err)

	out, ok := p.(*ElectrodermalPayload)
	s.Require().True(ok)
	s.InDelta(2.0, out.Conductance, 1e-6)
	s.InDelta(42.5, out.Timestamp, 1e-6)
}

func (s *PayloadTestSuite) TestSchemaErrors() {
	ts := protowire.AppendTag(nil, fieldBufferTimestamp, protowire.BytesType)
	ts = protowire.AppendBytes(ts, AppendTimestamp(nil, time.Unix(1, 0)))

	oddSamples := protowire.AppendTag(nil, fieldBufferData, protowire.BytesType)
	oddSamples = protowire.AppendBytes(oddSamples, []byte{1, 2, 3})
	oddSamples = append(oddSamples, ts...)

	zeroImpedance := MarshalElectrodermal(&ElectrodermalPayload{Impedance: 0, Timestamp: 1})

	tests := []struct {
		name string
		kind Kind
		raw  []byte
	}{
		{name: "garbage tag", kind: Cardiac, raw: []byte{0xFF, 0xFF, 0xFF}},
		{name: "truncated bytes field", kind: Cardiac, raw: []byte{0x0A, 0x10, 0x01}},
		{name: "odd sample block", kind: Cardiac, raw: oddSamples},
		{name: "missing timestamp", kind: Cardiac, raw: protowire.AppendBytes(protowire.AppendTag(nil, fieldBufferData, protowire.BytesType), []byte{1, 2})},
		{name: "eda without data", kind: Electrodermal, raw: ts},
		{name: "eda zero impedance", kind: Electrodermal, raw: zeroImpedance},
		{name: "unknown kind", kind: Kind(99), raw: ts},
	}

	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, err := DecodePayload(tt.kind, tt.raw)
			s.Require().Error(err)
			s.ErrorIs(err, ErrSchema)
		})
	}
}

func (s *PayloadTestSuite) TestUnknownFieldsAreSkipped() {
	raw := MarshalCardiac(&CardiacPayload{Samples: []int16{7}, Timestamp: 3})
	raw = protowire.AppendTag(raw, 15, protowire.Fixed64Type)
	raw = protowire.AppendFixed64(raw, math.Float64bits(1.5))

	p, err := DecodePayload(Cardiac, raw)
	s.Require().NoError(err)
	s.Equal([]int16{7}, p.(*CardiacPayload).Samples)
}

func (s *PayloadTestSuite) TestTimeSync() {
	// GOAL: Verify the time-sync frame carries the wall clock as (seconds, microseconds)
	//
	// TEST SCENARIO: Encode fixed instant → unstuff → parse Timestamp message
	now := time.Unix(1712345678, 987654*int64(time.Microsecond))

	frame := EncodeTimeSync(now)
	s.Equal(Delimiter, frame[len(frame)-1])

	raw, err := DecodeFrame(frame)
	s.Require().NoError(err)

	ts, err := decodeTimestamp(raw)
	s.Require().NoError(err)
	s.InDelta(1712345678.987654, ts, 1e-6)
}
