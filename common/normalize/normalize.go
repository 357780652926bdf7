// Package normalize converts between physical units and the host's
// normalized [0,1] parameter range.
//
// Out-of-range inputs are clamped, never rejected. The only error is an
// unknown kind.
package normalize

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

type Kind int

const (
	Frequency Kind = iota + 1 // Hz, logarithmic
	Q                         // resonance, linear
	Volume                    // dB, host mixer fader curve
)

const (
	MinFrequency = 20.0
	MaxFrequency = 20000.0

	MinQ = 0.0
	MaxQ = 10.0

	// Fader curve: 0.85 is unity gain, 1.0 is +6 dB, linear in between.
	MinVolumeDB = -70.0
	MaxVolumeDB = 6.0
	UnityVolume = 0.85

	volumeHeadroom = 1 - UnityVolume
)

var (
	logMinFreq = math.Log10(MinFrequency)
	logSpan    = math.Log10(MaxFrequency) - math.Log10(MinFrequency)
)

// ErrUnknownKind is returned for a Kind outside the supported set.
var ErrUnknownKind = errors.New("unknown parameter kind")

func (k Kind) String() string {
	switch k {
	case Frequency:
		return "frequency"
	case Q:
		return "q"
	case Volume:
		return "volume"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind accepts the names printed by String plus a few aliases.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "frequency", "freq", "hz":
		return Frequency, nil
	case "q", "resonance":
		return Q, nil
	case "volume", "db", "gain":
		return Volume, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
}

// ToNormalized maps a physical value to [0,1].
func ToNormalized(kind Kind, physical float64) (float64, error) {
	switch kind {
	case Frequency:
		f := clamp(physical, MinFrequency, MaxFrequency)
		return clamp((math.Log10(f)-logMinFreq)/logSpan, 0, 1), nil
	case Q:
		return clamp(physical, MinQ, MaxQ) / MaxQ, nil
	case Volume:
		db := clamp(physical, MinVolumeDB, MaxVolumeDB)
		if db >= 0 {
			return UnityVolume + db/MaxVolumeDB*volumeHeadroom, nil
		}
		return UnityVolume * math.Pow(10, db/20), nil
	default:
		return 0, fmt.Errorf("%w: %v", ErrUnknownKind, kind)
	}
}

// ToPhysical maps a normalized value back to physical units. Frequency is
// rounded to whole Hz, Q and Volume to two decimals.
func ToPhysical(kind Kind, normalized float64) (float64, error) {
	n := clamp(normalized, 0, 1)
	switch kind {
	case Frequency:
		return math.Round(math.Pow(10, n*logSpan+logMinFreq)), nil
	case Q:
		return round2(n * MaxQ), nil
	case Volume:
		if n >= UnityVolume {
			return round2((n - UnityVolume) / volumeHeadroom * MaxVolumeDB), nil
		}
		if n == 0 {
			return MinVolumeDB, nil
		}
		return round2(math.Max(MinVolumeDB, 20*math.Log10(n/UnityVolume))), nil
	default:
		return 0, fmt.Errorf("%w: %v", ErrUnknownKind, kind)
	}
}

// clamp treats NaN as the lower bound.
func clamp(v, lo, hi float64) float64 {
	switch {
	case math.IsNaN(v), v < lo:
		return lo
	case v > hi:
		return hi
	default:
		return v
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
