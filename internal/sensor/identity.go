// Package sensor models physical body sensors and the virtual sensors that
// derive metrics from them. Every sensor runs its own actor goroutine that
// owns its connection state; callers talk to it through commands and learn
// about connection changes through outcomes.
package sensor

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/srg/nervous/internal/codec"
	"github.com/srg/nervous/internal/timeseries"
)

// Kind classifies the signal a sensor produces.
type Kind uint8

const (
	Cardiac Kind = iota + 1
	Electrodermal
	Derived
)

func (k Kind) String() string {
	switch k {
	case Cardiac:
		return "cardiac"
	case Electrodermal:
		return "electrodermal"
	case Derived:
		return "derived"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Codec returns the payload schema of a physical sensor kind.
func (k Kind) Codec() (codec.Kind, bool) {
	switch k {
	case Cardiac:
		return codec.Cardiac, true
	case Electrodermal:
		return codec.Electrodermal, true
	default:
		return 0, false
	}
}

// Identity describes a sensor and the columns of its store. It never changes
// after construction.
type Identity struct {
	Name string
	Kind Kind
	// SamplingRate is in Hz; zero for irregular event streams.
	SamplingRate float64
	Labels       []string
	Units        []string
	Color        color.Attribute
}

// Header returns the store columns: the timestamp followed by one
// "label (unit)" column per channel.
func (id Identity) Header() []string {
	header := make([]string, 0, len(id.Labels)+1)
	header = append(header, timeseries.TimeColumn)
	for i, label := range id.Labels {
		unit := ""
		if i < len(id.Units) {
			unit = id.Units[i]
		}
		header = append(header, fmt.Sprintf("%s (%s)", label, unit))
	}
	return header
}

// Colorize renders s in the sensor color.
func (id Identity) Colorize(s string) string {
	return color.New(id.Color).Sprint(s)
}

func ECGIdentity(name string, c color.Attribute) Identity {
	return Identity{
		Name:         name,
		Kind:         Cardiac,
		SamplingRate: 512,
		Labels:       []string{"ECG"},
		Units:        []string{"A.U."},
		Color:        c,
	}
}

func EDAIdentity(name string, c color.Attribute) Identity {
	return Identity{
		Name:         name,
		Kind:         Electrodermal,
		SamplingRate: 8,
		Labels:       []string{"EDA"},
		Units:        []string{"uS"},
		Color:        c,
	}
}

func HRIdentity(name string, c color.Attribute) Identity {
	return Identity{
		Name:   name,
		Kind:   Derived,
		Labels: []string{"HR"},
		Units:  []string{"BPM"},
		Color:  c,
	}
}

func SCRIdentity(name string, c color.Attribute) Identity {
	return Identity{
		Name:   name,
		Kind:   Derived,
		Labels: []string{"SCR amp.", "SCR ris.t.", "SCL"},
		Units:  []string{"uS", "s", "uS"},
		Color:  c,
	}
}

// Palette holds the colors handed out to sensors by registration order.
var Palette = []color.Attribute{
	color.FgRed,
	color.FgGreen,
	color.FgYellow,
	color.FgBlue,
	color.FgMagenta,
	color.FgCyan,
	color.FgHiRed,
	color.FgHiGreen,
	color.FgHiYellow,
	color.FgHiBlue,
	color.FgHiMagenta,
	color.FgHiCyan,
}

// PaletteColor returns the color of the i-th registered sensor.
func PaletteColor(i int) color.Attribute {
	if i < 0 {
		i = -i
	}
	return Palette[i%len(Palette)]
}
