package codec

import (
	"fmt"
	"sync/atomic"
)

// LeadStatus is the electrode contact state reported by cardiac sensors.
type LeadStatus uint8

const (
	BothOn LeadStatus = iota
	LeftOff
	RightOff
	BothOff
)

func (l LeadStatus) String() string {
	switch l {
	case BothOn:
		return "both on"
	case LeftOff:
		return "left off"
	case RightOff:
		return "right off"
	case BothOff:
		return "both off"
	default:
		return fmt.Sprintf("lead(%d)", uint8(l))
	}
}

// Connected reports whether both electrodes touch the skin.
func (l LeadStatus) Connected() bool {
	return l == BothOn
}

// Decoder turns frames of one sensor into payloads and tracks the sensor's
// side-channel state. Cardiac decoders start in BothOff until the first
// frame says otherwise.
type Decoder struct {
	kind       Kind
	lead       atomic.Uint32
	onLeadDiff func(prev, next LeadStatus)
}

// DecoderOption configures a Decoder.
type DecoderOption func(*Decoder)

// WithLeadObserver registers fn to be called from Decode whenever the
// lead-off status changes.
func WithLeadObserver(fn func(prev, next LeadStatus)) DecoderOption {
	return func(d *Decoder) {
		d.onLeadDiff = fn
	}
}

func NewDecoder(kind Kind, opts ...DecoderOption) *Decoder {
	d := &Decoder{kind: kind}
	d.lead.Store(uint32(BothOff))
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Decoder) Kind() Kind {
	return d.kind
}

// Lead returns the last lead-off status seen. Always BothOff for
// non-cardiac decoders.
func (d *Decoder) Lead() LeadStatus {
	return LeadStatus(d.lead.Load())
}

// Decode unstuffs a complete frame (delimiter included) and parses its payload.
func (d *Decoder) Decode(frame []byte) (Payload, error) {
	raw, err := DecodeFrame(frame)
	if err != nil {
		return nil, err
	}

	p, err := DecodePayload(d.kind, raw)
	if err != nil {
		return nil, err
	}

	if c, ok := p.(*CardiacPayload); ok {
		prev := LeadStatus(d.lead.Swap(uint32(c.Lead)))
		if prev != c.Lead && d.onLeadDiff != nil {
			d.onLeadDiff(prev, c.Lead)
		}
	}

	return p, nil
}
