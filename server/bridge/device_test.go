package bridge

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livebridge/livebridge/common/ipc"
)

func ptr(v float64) *float64 { return &v }

func TestParseParamRef(t *testing.T) {
	r := ParseParamRef("3")
	require.NotNil(t, r.Index)
	assert.Equal(t, 3, *r.Index)
	assert.Equal(t, "#3", r.String())

	r = ParseParamRef("1 Gain A")
	assert.Nil(t, r.Index)
	assert.Equal(t, "1 Gain A", r.Name)
	assert.Equal(t, `"1 Gain A"`, r.String())

	assert.ErrorIs(t, ParamRef{}.validate(), ipc.ErrInvalidCommand)
	i := 1
	assert.ErrorIs(t, ParamRef{Name: "x", Index: &i}.validate(), ipc.ErrInvalidCommand)
}

func TestGetParameters(t *testing.T) {
	b := newLiveBridge(t)

	dev, err := b.GetParameters(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, "EQ Eight", dev.DeviceName)
	assert.Equal(t, "Eq8", dev.DeviceClass)

	p, ok := dev.Lookup(ParamByName("1 Filter Type A"))
	require.True(t, ok)
	assert.True(t, p.IsQuantized)
	assert.Equal(t, "Bell", p.ValueItems[int(p.Value)])

	p, ok = dev.Lookup(ParamByIndex(4))
	require.True(t, ok)
	assert.Equal(t, "1 Gain A", p.Name)

	_, ok = dev.Lookup(ParamByName("Adaptive Q"))
	assert.False(t, ok)

	_, err = b.GetParameters(context.Background(), 7, 0)
	assert.ErrorIs(t, err, ipc.ErrHostReported)
	assert.EqualError(t, err, "Track index out of range: 7")
}

func TestSetParameter(t *testing.T) {
	b := newLiveBridge(t)
	ctx := context.Background()

	ch, err := b.SetParameter(ctx, 0, 0, ParamByName("2 Gain A"), -4.5)
	require.NoError(t, err)
	assert.Equal(t, ParameterChange{
		DeviceName:     "EQ Eight",
		ParameterName:  "2 Gain A",
		ParameterIndex: 9,
		Value:          -4.5,
		Min:            -15,
		Max:            15,
	}, ch)

	ch, err = b.SetParameter(ctx, 0, 0, ParamByIndex(2), "high shelf")
	require.NoError(t, err)
	assert.Equal(t, 5.0, ch.Value)

	_, err = b.SetParameter(ctx, 0, 0, ParamByName("2 Gain A"), nil)
	assert.ErrorIs(t, err, ipc.ErrInvalidCommand)

	_, err = b.SetParameter(ctx, 0, 0, ParamByName("2 Gain A"), 99.0)
	assert.ErrorIs(t, err, ipc.ErrHostReported)
}

func TestSetEQBand(t *testing.T) {
	b := newLiveBridge(t)
	ctx := context.Background()

	changes, err := b.SetEQBand(ctx, 0, 0, 2, EQBand{
		FrequencyHz: ptr(1000),
		GainDB:      ptr(-3),
		Q:           ptr(0.71),
		FilterType:  "Notch",
	})
	require.NoError(t, err)
	require.Len(t, changes, 4)
	assert.Equal(t, "3 Frequency A", changes[0].ParameterName)
	assert.InDelta(t, 0.5663, changes[0].Value, 1e-3)
	assert.Equal(t, -3.0, changes[1].Value)
	assert.InDelta(t, 0.071, changes[2].Value, 1e-9)
	assert.Equal(t, "3 Filter Type A", changes[3].ParameterName)
	assert.Equal(t, 4.0, changes[3].Value)

	_, err = b.SetEQBand(ctx, 0, 0, 8, EQBand{GainDB: ptr(1)})
	assert.ErrorIs(t, err, ipc.ErrInvalidCommand)

	_, err = b.SetEQBand(ctx, 0, 0, 0, EQBand{})
	assert.ErrorIs(t, err, ipc.ErrInvalidCommand)
}

func TestSetEQBandRequiresEQEight(t *testing.T) {
	host := newMockHost(t, func(cmd ipc.Command) (ipc.Response, bool) {
		if cmd.Name() == "get_device_parameters" {
			return ipc.Success(map[string]any{
				"device_name":  "Reverb",
				"device_class": "Reverb",
				"parameters":   []any{},
			}), true
		}
		return defaultHost(cmd)
	})
	b := New(newTestManager(t, Config{Address: host.addr()}))

	_, err := b.SetEQBand(context.Background(), 0, 0, 0, EQBand{GainDB: ptr(1)})
	assert.ErrorIs(t, err, ipc.ErrInvalidCommand)
	assert.ErrorContains(t, err, "not an EQ Eight")
}

func TestMixerHelpers(t *testing.T) {
	b := newLiveBridge(t)
	ctx := context.Background()

	res, err := b.SetTrackVolumeDB(ctx, 0, 0)
	require.NoError(t, err)
	assert.InDelta(t, 0.85, res["volume"], 1e-9)
	assert.InDelta(t, 0.0, res["volume_db"], 1e-9)

	res, err = b.SetSendLevel(ctx, 1, 0, 0.25)
	require.NoError(t, err)
	assert.Equal(t, "A-Reverb", res["return_track_name"])

	res, err = b.SetTempo(ctx, 132)
	require.NoError(t, err)
	assert.Equal(t, 132.0, res["tempo"])

	res, err = b.CreateMIDITrack(ctx, -1)
	require.NoError(t, err)
	assert.Equal(t, 2.0, res["index"])

	res, err = b.SetTrackName(ctx, 2, "Bass")
	require.NoError(t, err)
	assert.Equal(t, "Bass", res["name"])

	res, err = b.TrackInfo(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, "Bass", res["name"])

	res, err = b.CreateReturnTrack(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1.0, res["index"])

	res, err = b.StartPlayback(ctx)
	require.NoError(t, err)
	assert.Equal(t, true, res["playing"])
	res, err = b.StopPlayback(ctx)
	require.NoError(t, err)
	assert.Equal(t, false, res["playing"])
}

func TestApplyEQPreset(t *testing.T) {
	b := newLiveBridge(t)
	ctx := context.Background()

	changes, err := b.ApplyEQPreset(ctx, 0, 0, "notch")
	require.NoError(t, err)
	require.Len(t, changes, 5)
	assert.Equal(t, "4 Filter On A", changes[0].ParameterName)
	assert.Equal(t, 1.0, changes[0].Value)
	assert.InDelta(t, 0.5663, changes[1].Value, 1e-3)
	assert.Equal(t, -12.0, changes[2].Value)
	assert.InDelta(t, 0.8, changes[3].Value, 1e-9)
	assert.Equal(t, "4 Filter Type A", changes[4].ParameterName)
	assert.Equal(t, 4.0, changes[4].Value)

	changes, err = b.ApplyEQPreset(ctx, 0, 0, "low_cut")
	require.NoError(t, err)
	require.Len(t, changes, 5)
	assert.Equal(t, "1 Frequency A", changes[1].ParameterName)
	assert.InDelta(t, 0.2007, changes[1].Value, 1e-3)
	assert.Equal(t, 0.0, changes[4].Value, "Low Cut 48 is the first filter type")

	changes, err = b.ApplyEQPreset(ctx, 0, 0, "flat")
	require.NoError(t, err)
	require.Len(t, changes, EQBands)
	for i, c := range changes {
		assert.Equal(t, EQBandParam(i, "Filter On"), c.ParameterName)
		assert.Equal(t, 0.0, c.Value)
	}

	_, err = b.ApplyEQPreset(ctx, 0, 0, "telephone")
	assert.ErrorIs(t, err, ipc.ErrInvalidCommand)
	assert.ErrorContains(t, err, "available: bell, flat, high_cut, high_shelf, low_cut, low_shelf, notch")

	_, err = b.ApplyEQPreset(ctx, 1, 0, "bell")
	assert.ErrorIs(t, err, ipc.ErrHostReported, "the audio track has no devices")
}

func TestSetEQGlobal(t *testing.T) {
	b := newLiveBridge(t)
	ctx := context.Background()

	res, err := b.SetEQGlobal(ctx, 0, 0, EQGlobal{Scale: ptr(0.5), Mode: "M/S", Oversampling: pointer(true)})
	require.NoError(t, err)
	require.Len(t, res.Changes, 1)
	assert.Equal(t, "Scale", res.Changes[0].ParameterName)
	assert.Equal(t, 0.5, res.Changes[0].Value)
	assert.Equal(t, []string{"mode", "oversampling"}, res.Unsupported)

	_, err = b.SetEQGlobal(ctx, 0, 0, EQGlobal{})
	assert.ErrorIs(t, err, ipc.ErrInvalidCommand)
}

func TestSetEQGlobalFindsModeAndOversampling(t *testing.T) {
	host := newMockHost(t, func(cmd ipc.Command) (ipc.Response, bool) {
		switch cmd.Name() {
		case "get_device_parameters":
			return ipc.Success(map[string]any{
				"device_name":  "EQ Eight",
				"device_class": "Eq8",
				"parameters": []any{
					map[string]any{"index": 0, "name": "Stereo Mode", "value": 0.0, "min": 0.0, "max": 2.0, "is_quantized": true},
					map[string]any{"index": 1, "name": "Hi Quality", "value": 0.0, "min": 0.0, "max": 1.0, "is_quantized": true},
				},
			}), true
		case "set_device_parameter":
			p := cmd.Params()
			return ipc.Success(map[string]any{
				"device_name":    "EQ Eight",
				"parameter_name": p["parameter_name"],
				"value":          p["value"],
			}), true
		}
		return defaultHost(cmd)
	})
	b := New(newTestManager(t, Config{Address: host.addr()}))

	res, err := b.SetEQGlobal(context.Background(), 0, 0, EQGlobal{Mode: 2, Oversampling: pointer(true)})
	require.NoError(t, err)
	assert.Empty(t, res.Unsupported)
	require.Len(t, res.Changes, 2)
	assert.Equal(t, "Stereo Mode", res.Changes[0].ParameterName)
	assert.Equal(t, 2.0, res.Changes[0].Value)
	assert.Equal(t, "Hi Quality", res.Changes[1].ParameterName)
	assert.Equal(t, 1.0, res.Changes[1].Value)
	assert.Equal(t, []string{"get_device_parameters", "set_device_parameter", "set_device_parameter"}, host.commands())
}
