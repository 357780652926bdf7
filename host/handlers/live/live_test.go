package live

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livebridge/livebridge/common/ipc"
)

func newRegistry(t *testing.T) (*ipc.Registry, *Session) {
	t.Helper()
	reg := ipc.NewRegistry()
	s := NewSession()
	Register(reg, s)
	return reg, s
}

func call(t *testing.T, reg *ipc.Registry, name string, params map[string]any) (map[string]any, error) {
	t.Helper()
	entry, ok := reg.Get(name)
	require.True(t, ok, "command %s not registered", name)
	if params == nil {
		params = map[string]any{}
	}
	return entry.Handler.Execute(context.Background(), params)
}

func TestRegisterMarksMutatingCommands(t *testing.T) {
	reg, _ := newRegistry(t)

	for _, name := range []string{"get_session_info", "get_track_info", "get_device_parameters"} {
		e, ok := reg.Get(name)
		require.True(t, ok)
		assert.False(t, e.Mutating, name)
	}
	for _, name := range []string{
		"create_midi_track", "create_return_track", "set_track_name", "set_tempo",
		"start_playback", "stop_playback", "set_device_parameter", "set_track_volume", "set_send_level",
		"create_clip", "add_notes_to_clip", "set_clip_name", "fire_clip", "stop_clip",
	} {
		e, ok := reg.Get(name)
		require.True(t, ok)
		assert.True(t, e.Mutating, name)
	}
	assert.Len(t, reg.List(), 17)
}

func TestSessionInfo(t *testing.T) {
	reg, _ := newRegistry(t)

	res, err := call(t, reg, "get_session_info", nil)
	require.NoError(t, err)
	assert.Equal(t, 120.0, res["tempo"])
	assert.Equal(t, 4, res["signature_numerator"])
	assert.Equal(t, 2, res["track_count"])
	assert.Equal(t, 1, res["return_track_count"])
	master := res["master_track"].(map[string]any)
	assert.Equal(t, "Master", master["name"])
}

func TestTrackInfo(t *testing.T) {
	reg, _ := newRegistry(t)

	res, err := call(t, reg, "get_track_info", nil)
	require.NoError(t, err)
	assert.Equal(t, "1-MIDI", res["name"])
	assert.Equal(t, true, res["is_midi_track"])
	assert.Equal(t, false, res["is_return_track"])
	assert.Contains(t, res, "arm")
	devices := res["devices"].([]map[string]any)
	require.Len(t, devices, 1)
	assert.Equal(t, "EQ Eight", devices[0]["name"])

	res, err = call(t, reg, "get_track_info", map[string]any{"track_index": 2.0})
	require.NoError(t, err)
	assert.Equal(t, "A-Reverb", res["name"])
	assert.Equal(t, true, res["is_return_track"])
	assert.NotContains(t, res, "arm")

	_, err = call(t, reg, "get_track_info", map[string]any{"track_index": 9.0})
	assert.EqualError(t, err, "Track index out of range: 9")
}

func TestDeviceParametersSkipsHiddenParameters(t *testing.T) {
	reg, _ := newRegistry(t)

	res, err := call(t, reg, "get_device_parameters", map[string]any{"track_index": 0.0, "device_index": 0.0})
	require.NoError(t, err)
	assert.Equal(t, "EQ Eight", res["device_name"])
	assert.Equal(t, "Eq8", res["device_class"])

	params := res["parameters"].([]map[string]any)
	// Device On + 8 bands * 5 + Scale + Output Gain; Adaptive Q is hidden.
	assert.Len(t, params, 1+8*5+2)
	for _, p := range params {
		assert.NotEqual(t, "Adaptive Q", p["name"])
	}
	ft := params[2]
	assert.Equal(t, "1 Filter Type A", ft["name"])
	assert.Equal(t, "Bell", ft["value_item"])
	assert.Equal(t, 3, ft["value_item_index"])

	_, err = call(t, reg, "get_device_parameters", map[string]any{"track_index": 1.0, "device_index": 0.0})
	assert.EqualError(t, err, "Device index out of range: 0")
}

func TestSetDeviceParameter(t *testing.T) {
	reg, _ := newRegistry(t)
	base := func(extra map[string]any) map[string]any {
		p := map[string]any{"track_index": 0.0, "device_index": 0.0}
		for k, v := range extra {
			p[k] = v
		}
		return p
	}

	res, err := call(t, reg, "set_device_parameter", base(map[string]any{"parameter_name": "1 Gain A", "value": 3.5}))
	require.NoError(t, err)
	assert.Equal(t, 3.5, res["value"])
	assert.Equal(t, 4, res["parameter_index"])
	assert.Equal(t, -15.0, res["min"])

	res, err = call(t, reg, "set_device_parameter", base(map[string]any{"parameter_name": "1 Filter Type A", "value": "low shelf"}))
	require.NoError(t, err)
	assert.Equal(t, 2.0, res["value"])

	res, err = call(t, reg, "set_device_parameter", base(map[string]any{"parameter_index": 2.0, "value": 5.0}))
	require.NoError(t, err)
	assert.Equal(t, "1 Filter Type A", res["parameter_name"])
	assert.Equal(t, 5.0, res["value"])

	tests := []struct {
		name   string
		params map[string]any
		want   string
	}{
		{"unknown name", base(map[string]any{"parameter_name": "Nope", "value": 1.0}), "Parameter 'Nope' not found in device 'EQ Eight'"},
		{"index out of range", base(map[string]any{"parameter_index": 99.0, "value": 1.0}), "Parameter index out of range: 99"},
		{"no selector", base(map[string]any{"value": 1.0}), "Either parameter_name or parameter_index must be provided"},
		{"no value", base(map[string]any{"parameter_name": "1 Gain A"}), "Value must be provided"},
		{"unknown item", base(map[string]any{"parameter_name": "1 Filter Type A", "value": "Comb"}), "Value 'Comb' not found in parameter value items"},
		{"item index", base(map[string]any{"parameter_name": "1 Filter Type A", "value": 8.0}), "Value index 8 out of range for parameter '1 Filter Type A'"},
		{"continuous range", base(map[string]any{"parameter_name": "1 Gain A", "value": 20.0}), "Value 20 out of range for parameter '1 Gain A' (min: -15, max: 15)"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := call(t, reg, "set_device_parameter", tt.params)
			assert.EqualError(t, err, tt.want)
		})
	}
}

func TestTrackMutations(t *testing.T) {
	reg, s := newRegistry(t)

	res, err := call(t, reg, "create_midi_track", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res["index"])
	assert.Equal(t, "3-MIDI", res["name"])

	res, err = call(t, reg, "create_midi_track", map[string]any{"index": 0.0})
	require.NoError(t, err)
	assert.Equal(t, 0, res["index"])
	assert.Equal(t, "4-MIDI", s.tracks[0].Name)
	assert.Equal(t, "1-MIDI", s.tracks[1].Name)

	res, err = call(t, reg, "create_return_track", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res["index"])
	for _, tr := range s.tracks {
		assert.Len(t, tr.Sends, 2)
	}

	res, err = call(t, reg, "set_track_name", map[string]any{"track_index": 1.0, "name": "Lead"})
	require.NoError(t, err)
	assert.Equal(t, "Lead", res["name"])
	assert.Equal(t, "Lead", s.tracks[1].Name)
}

func TestTransportAndTempo(t *testing.T) {
	reg, s := newRegistry(t)

	res, err := call(t, reg, "set_tempo", map[string]any{"tempo": 128.0})
	require.NoError(t, err)
	assert.Equal(t, 128.0, res["tempo"])
	assert.Equal(t, 128.0, s.tempo)

	_, err = call(t, reg, "set_tempo", map[string]any{"tempo": "fast"})
	assert.ErrorIs(t, err, ipc.ErrInvalidArgs)

	res, err = call(t, reg, "start_playback", nil)
	require.NoError(t, err)
	assert.Equal(t, true, res["playing"])
	res, err = call(t, reg, "stop_playback", nil)
	require.NoError(t, err)
	assert.Equal(t, false, res["playing"])
}

func TestMixerLevels(t *testing.T) {
	reg, _ := newRegistry(t)

	res, err := call(t, reg, "set_track_volume", map[string]any{"track_index": 0.0, "value": 0.85})
	require.NoError(t, err)
	assert.Equal(t, 0.85, res["volume"])
	assert.InDelta(t, 0.0, res["volume_db"], 1e-9)

	res, err = call(t, reg, "set_track_volume", map[string]any{"track_index": 0.0, "value": 0.0})
	require.NoError(t, err)
	assert.Equal(t, -70.0, res["volume_db"])

	res, err = call(t, reg, "set_send_level", map[string]any{"track_index": 1.0, "send_index": 0.0, "value": 0.4})
	require.NoError(t, err)
	assert.Equal(t, "A-Reverb", res["return_track_name"])
	assert.Equal(t, 0.4, res["value"])

	_, err = call(t, reg, "set_send_level", map[string]any{"track_index": 2.0, "send_index": 0.0, "value": 0.4})
	assert.EqualError(t, err, "Return tracks don't have sends")
	_, err = call(t, reg, "set_send_level", map[string]any{"track_index": 0.0, "send_index": 3.0, "value": 0.4})
	assert.EqualError(t, err, "Send index out of range: 3")
}

func clipSlots(t *testing.T, reg *ipc.Registry, track int) []map[string]any {
	t.Helper()
	res, err := call(t, reg, "get_track_info", map[string]any{"track_index": track})
	require.NoError(t, err)
	return res["clip_slots"].([]map[string]any)
}

func TestClips(t *testing.T) {
	reg, s := newRegistry(t)
	at := func(clip int) map[string]any {
		return map[string]any{"track_index": 0.0, "clip_index": float64(clip)}
	}
	with := func(clip int, k string, v any) map[string]any {
		p := at(clip)
		p[k] = v
		return p
	}

	slots := clipSlots(t, reg, 0)
	require.Len(t, slots, sceneCount)
	assert.Equal(t, false, slots[0]["has_clip"])
	assert.Nil(t, slots[0]["clip"])

	res, err := call(t, reg, "create_clip", with(0, "length", 8.0))
	require.NoError(t, err)
	assert.Equal(t, 8.0, res["length"])

	res, err = call(t, reg, "create_clip", at(1))
	require.NoError(t, err)
	assert.Equal(t, defaultClipLength, res["length"])

	res, err = call(t, reg, "add_notes_to_clip", with(0, "notes", []any{
		map[string]any{"pitch": 60.0, "start_time": 0.0, "duration": 1.0, "velocity": 100.0},
		map[string]any{"pitch": 64.0, "start_time": 1.0},
		map[string]any{},
	}))
	require.NoError(t, err)
	assert.Equal(t, 3, res["note_count"])
	notes := s.tracks[0].Slots[0].Clip.Notes
	require.Len(t, notes, 3)
	assert.Equal(t, Note{Pitch: 64, StartTime: 1, Duration: defaultDuration, Velocity: defaultVelocity}, notes[1])
	assert.Equal(t, defaultPitch, notes[2].Pitch)

	res, err = call(t, reg, "set_clip_name", with(0, "name", "Chords"))
	require.NoError(t, err)
	assert.Equal(t, "Chords", res["name"])

	res, err = call(t, reg, "fire_clip", at(0))
	require.NoError(t, err)
	assert.Equal(t, true, res["fired"])
	_, err = call(t, reg, "fire_clip", at(1))
	require.NoError(t, err)

	slots = clipSlots(t, reg, 0)
	first := slots[0]["clip"].(map[string]any)
	assert.Equal(t, "Chords", first["name"])
	assert.Equal(t, false, first["is_playing"], "firing slot 1 stops slot 0")
	assert.Equal(t, true, slots[1]["clip"].(map[string]any)["is_playing"])
	info, err := call(t, reg, "get_session_info", nil)
	require.NoError(t, err)
	assert.Equal(t, true, info["is_playing"])

	res, err = call(t, reg, "stop_clip", at(1))
	require.NoError(t, err)
	assert.Equal(t, true, res["stopped"])
	assert.False(t, s.tracks[0].Slots[1].Clip.Playing)

	_, err = call(t, reg, "stop_clip", at(5))
	require.NoError(t, err, "stopping an empty slot is fine")
}

func TestClipErrors(t *testing.T) {
	reg, _ := newRegistry(t)
	_, err := call(t, reg, "create_clip", map[string]any{"track_index": 0.0, "clip_index": 0.0})
	require.NoError(t, err)

	tests := []struct {
		command string
		params  map[string]any
		want    string
	}{
		{"create_clip", map[string]any{"track_index": 0.0, "clip_index": 0.0}, "Clip slot already has a clip"},
		{"create_clip", map[string]any{"track_index": 0.0, "clip_index": 8.0}, "Clip index out of range: 8"},
		{"create_clip", map[string]any{"track_index": 0.0, "clip_index": 1.0, "length": 0.0}, "Clip length must be positive: 0"},
		{"create_clip", map[string]any{"track_index": 1.0, "clip_index": 0.0}, "Track '2-Audio' is not a MIDI track"},
		{"create_clip", map[string]any{"track_index": 2.0, "clip_index": 0.0}, "Clip index out of range: 0"},
		{"create_clip", map[string]any{"track_index": 9.0}, "Track index out of range: 9"},
		{"add_notes_to_clip", map[string]any{"track_index": 0.0, "clip_index": 3.0}, "No clip in slot"},
		{"add_notes_to_clip", map[string]any{"notes": []any{map[string]any{"pitch": 128.0}}}, "note 0: Pitch out of range: 128"},
		{"add_notes_to_clip", map[string]any{"notes": []any{map[string]any{"velocity": -1.0}}}, "note 0: Velocity out of range: -1"},
		{"add_notes_to_clip", map[string]any{"notes": []any{map[string]any{}, map[string]any{"duration": 0.0}}}, "note 1: Duration must be positive: 0"},
		{"set_clip_name", map[string]any{"clip_index": 4.0, "name": "x"}, "No clip in slot"},
		{"fire_clip", map[string]any{"clip_index": 2.0}, "No clip in slot"},
		{"stop_clip", map[string]any{"clip_index": -1.0}, "Clip index out of range: -1"},
	}
	for _, tt := range tests {
		_, err := call(t, reg, tt.command, tt.params)
		assert.EqualError(t, err, tt.want, "%s %v", tt.command, tt.params)
	}

	_, err = call(t, reg, "add_notes_to_clip", map[string]any{"notes": "C4"})
	assert.ErrorIs(t, err, ipc.ErrInvalidArgs)
}

func TestNewTracksHaveClipSlots(t *testing.T) {
	reg, _ := newRegistry(t)

	res, err := call(t, reg, "create_midi_track", nil)
	require.NoError(t, err)
	assert.Len(t, clipSlots(t, reg, res["index"].(int)), sceneCount)

	_, err = call(t, reg, "create_return_track", nil)
	require.NoError(t, err)
	assert.Empty(t, clipSlots(t, reg, 4), "return tracks have no slots")
}
