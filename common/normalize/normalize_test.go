package normalize

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustNorm(t *testing.T, k Kind, v float64) float64 {
	t.Helper()
	n, err := ToNormalized(k, v)
	require.NoError(t, err)
	return n
}

func mustPhys(t *testing.T, k Kind, n float64) float64 {
	t.Helper()
	v, err := ToPhysical(k, n)
	require.NoError(t, err)
	return v
}

func TestFrequency(t *testing.T) {
	t.Run("bounds", func(t *testing.T) {
		assert.Equal(t, 0.0, mustNorm(t, Frequency, 20))
		assert.InDelta(t, 1.0, mustNorm(t, Frequency, 20000), 1e-12)
		assert.InDelta(t, 0.5, mustNorm(t, Frequency, math.Sqrt(20*20000)), 1e-12)
	})

	t.Run("clamps out of range", func(t *testing.T) {
		assert.Equal(t, mustNorm(t, Frequency, 20000), mustNorm(t, Frequency, 50000))
		assert.Equal(t, mustNorm(t, Frequency, 20), mustNorm(t, Frequency, 1))
		assert.Equal(t, mustNorm(t, Frequency, 20), mustNorm(t, Frequency, -300))
		assert.Equal(t, 0.0, mustNorm(t, Frequency, math.NaN()))
	})

	t.Run("round trip within 1 Hz", func(t *testing.T) {
		for f := 20.0; f <= 20000; f *= 1.07 {
			got := mustPhys(t, Frequency, mustNorm(t, Frequency, f))
			assert.InDelta(t, f, got, 1.0, "f=%v", f)
			assert.Equal(t, math.Round(got), got, "frequency is whole Hz")
		}
		assert.Equal(t, 20000.0, mustPhys(t, Frequency, mustNorm(t, Frequency, 20000)))
	})

	t.Run("normalized input clamped", func(t *testing.T) {
		assert.Equal(t, 20000.0, mustPhys(t, Frequency, 3))
		assert.Equal(t, 20.0, mustPhys(t, Frequency, -1))
	})
}

func TestQ(t *testing.T) {
	assert.Equal(t, 1.0, mustNorm(t, Q, 12))
	assert.Equal(t, 1.0, mustNorm(t, Q, 10))
	assert.Equal(t, 0.0, mustNorm(t, Q, -5))
	assert.Equal(t, 0.071, mustNorm(t, Q, 0.71))

	for q := 0.0; q <= 10; q += 0.37 {
		got := mustPhys(t, Q, mustNorm(t, Q, q))
		assert.InDelta(t, q, got, 0.01, "q=%v", q)
	}
	assert.Equal(t, 0.71, mustPhys(t, Q, 0.071))
}

func TestVolume(t *testing.T) {
	assert.InDelta(t, 0.85, mustNorm(t, Volume, 0), 1e-12)
	assert.InDelta(t, 1.0, mustNorm(t, Volume, 6), 1e-12)
	assert.InDelta(t, 1.0, mustNorm(t, Volume, 24), 1e-12)

	assert.Equal(t, 0.0, mustPhys(t, Volume, 0.85))
	assert.Equal(t, 6.0, mustPhys(t, Volume, 1))
	assert.Equal(t, MinVolumeDB, mustPhys(t, Volume, 0))
	assert.Equal(t, -6.02, mustPhys(t, Volume, 0.425))

	// The fader floors at MinVolumeDB in both directions; nothing maps to -Inf.
	assert.Equal(t, mustNorm(t, Volume, MinVolumeDB), mustNorm(t, Volume, math.Inf(-1)))
	assert.Greater(t, mustNorm(t, Volume, MinVolumeDB), 0.0)
	assert.Equal(t, MinVolumeDB, mustPhys(t, Volume, 1e-9))
	assert.False(t, math.IsInf(mustPhys(t, Volume, 0), 0))

	for db := -60.0; db <= 6; db += 1.5 {
		got := mustPhys(t, Volume, mustNorm(t, Volume, db))
		assert.InDelta(t, db, got, 0.01, "db=%v", db)
	}
}

func TestStableRoundTrips(t *testing.T) {
	inputs := map[Kind][]float64{
		Frequency: {20, 440, 1234.5, 20000, 99999},
		Q:         {0, 0.7, 3.33, 10, 12},
		Volume:    {-70, -12.5, 0, 3, 6},
	}
	for kind, values := range inputs {
		for _, v := range values {
			n1 := mustNorm(t, kind, v)
			p1 := mustPhys(t, kind, n1)
			n2 := mustNorm(t, kind, v)
			p2 := mustPhys(t, kind, n2)
			assert.Equal(t, math.Float64bits(n1), math.Float64bits(n2), "%v %v", kind, v)
			assert.Equal(t, math.Float64bits(p1), math.Float64bits(p2), "%v %v", kind, v)

			// a second trip through the already rounded value stays put
			assert.Equal(t, p1, mustPhys(t, kind, mustNorm(t, kind, p1)), "%v %v", kind, v)
		}
	}
}

func TestUnknownKind(t *testing.T) {
	_, err := ToNormalized(Kind(42), 1)
	assert.ErrorIs(t, err, ErrUnknownKind)
	_, err = ToPhysical(Kind(0), 1)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestParseKind(t *testing.T) {
	for in, want := range map[string]Kind{"frequency": Frequency, "Freq": Frequency, "q": Q, " volume ": Volume, "dB": Volume} {
		got, err := ParseKind(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
		back, err := ParseKind(got.String())
		require.NoError(t, err)
		assert.Equal(t, got, back)
	}
	_, err := ParseKind("bpm")
	assert.ErrorIs(t, err, ErrUnknownKind)
}
