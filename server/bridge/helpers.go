package bridge

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/livebridge/livebridge/common/ipc"
	"github.com/livebridge/livebridge/common/normalize"
)

func (b *Bridge) SessionInfo(ctx context.Context) (map[string]any, error) {
	return b.Execute(ctx, "get_session_info", nil, 0)
}

func (b *Bridge) TrackInfo(ctx context.Context, track int) (map[string]any, error) {
	return b.Execute(ctx, "get_track_info", map[string]any{"track_index": track}, 0)
}

func (b *Bridge) SetTempo(ctx context.Context, bpm float64) (map[string]any, error) {
	return b.Execute(ctx, "set_tempo", map[string]any{"tempo": bpm}, 0)
}

// CreateMIDITrack inserts a track at index; -1 appends.
func (b *Bridge) CreateMIDITrack(ctx context.Context, index int) (map[string]any, error) {
	return b.Execute(ctx, "create_midi_track", map[string]any{"index": index}, 0)
}

func (b *Bridge) CreateReturnTrack(ctx context.Context) (map[string]any, error) {
	return b.Execute(ctx, "create_return_track", nil, 0)
}

func (b *Bridge) SetTrackName(ctx context.Context, track int, name string) (map[string]any, error) {
	return b.Execute(ctx, "set_track_name", map[string]any{"track_index": track, "name": name}, 0)
}

func (b *Bridge) StartPlayback(ctx context.Context) (map[string]any, error) {
	return b.Execute(ctx, "start_playback", nil, 0)
}

func (b *Bridge) StopPlayback(ctx context.Context) (map[string]any, error) {
	return b.Execute(ctx, "stop_playback", nil, 0)
}

// SetTrackVolume sets the mixer fader to a normalized value (0.85 is 0 dB).
func (b *Bridge) SetTrackVolume(ctx context.Context, track int, volume float64) (map[string]any, error) {
	return b.Execute(ctx, "set_track_volume", map[string]any{"track_index": track, "value": volume}, 0)
}

// SetTrackVolumeDB sets the mixer fader in decibels.
func (b *Bridge) SetTrackVolumeDB(ctx context.Context, track int, db float64) (map[string]any, error) {
	v, err := normalize.ToNormalized(normalize.Volume, db)
	if err != nil {
		return nil, err
	}
	return b.SetTrackVolume(ctx, track, v)
}

// SetSendLevel sets send on track to a normalized level.
func (b *Bridge) SetSendLevel(ctx context.Context, track, send int, level float64) (map[string]any, error) {
	return b.Execute(ctx, "set_send_level", map[string]any{
		"track_index": track,
		"send_index":  send,
		"value":       level,
	}, 0)
}

// EQBands is the number of bands on an EQ Eight.
const EQBands = 8

// EQBand holds the band settings to change; nil fields are left alone.
type EQBand struct {
	On          *bool
	FrequencyHz *float64
	GainDB      *float64
	Q           *float64
	// FilterType is a value item name or an index.
	FilterType any
}

// EQBandParam returns the EQ Eight parameter name for band (0-7), e.g.
// "3 Frequency A".
func EQBandParam(band int, field string) string {
	return fmt.Sprintf("%d %s A", band+1, field)
}

type paramChange struct {
	param string
	value any
}

func boolValue(on bool) int {
	if on {
		return 1
	}
	return 0
}

// changes lists the parameter writes for s in host order: on/off first,
// then frequency, gain, Q and filter type.
func (s EQBand) changes(band int) []paramChange {
	var todo []paramChange
	if s.On != nil {
		todo = append(todo, paramChange{EQBandParam(band, "Filter On"), boolValue(*s.On)})
	}
	if s.FrequencyHz != nil {
		n, _ := normalize.ToNormalized(normalize.Frequency, *s.FrequencyHz)
		todo = append(todo, paramChange{EQBandParam(band, "Frequency"), n})
	}
	if s.GainDB != nil {
		todo = append(todo, paramChange{EQBandParam(band, "Gain"), *s.GainDB})
	}
	if s.Q != nil {
		n, _ := normalize.ToNormalized(normalize.Q, *s.Q)
		todo = append(todo, paramChange{EQBandParam(band, "Resonance"), n})
	}
	if s.FilterType != nil {
		todo = append(todo, paramChange{EQBandParam(band, "Filter Type"), s.FilterType})
	}
	return todo
}

// requireEQEight fetches the device's parameters and checks it is an EQ
// Eight.
func (b *Bridge) requireEQEight(ctx context.Context, track, device int) (DeviceParameters, error) {
	dev, err := b.GetParameters(ctx, track, device)
	if err != nil {
		return DeviceParameters{}, err
	}
	if !strings.Contains(dev.DeviceName, "EQ Eight") {
		return DeviceParameters{}, fmt.Errorf("%w: device %d on track %d is %q, not an EQ Eight", ipc.ErrInvalidCommand, device, track, dev.DeviceName)
	}
	return dev, nil
}

// apply writes todo in order and stops at the first failure, returning what
// was already changed.
func (b *Bridge) apply(ctx context.Context, track, device int, todo []paramChange) ([]ParameterChange, error) {
	out := make([]ParameterChange, 0, len(todo))
	for _, c := range todo {
		pc, err := b.SetParameter(ctx, track, device, ParamByName(c.param), c.value)
		if err != nil {
			return out, fmt.Errorf("set %s: %w", c.param, err)
		}
		out = append(out, pc)
	}
	return out, nil
}

// SetEQBand applies settings to one band of the EQ Eight at track/device.
// Frequency and Q are converted to the normalized range; gain is sent in dB.
func (b *Bridge) SetEQBand(ctx context.Context, track, device, band int, s EQBand) ([]ParameterChange, error) {
	if band < 0 || band >= EQBands {
		return nil, fmt.Errorf("%w: band index must be between 0 and %d, got %d", ipc.ErrInvalidCommand, EQBands-1, band)
	}
	if _, err := b.requireEQEight(ctx, track, device); err != nil {
		return nil, err
	}
	todo := s.changes(band)
	if len(todo) == 0 {
		return nil, fmt.Errorf("%w: no band settings given", ipc.ErrInvalidCommand)
	}
	return b.apply(ctx, track, device, todo)
}

// EQGlobal holds device-wide EQ Eight settings; nil fields are left alone.
type EQGlobal struct {
	Scale *float64
	// Mode is a value item name or an index.
	Mode         any
	Oversampling *bool
}

// EQGlobalResult is what SetEQGlobal changed. Unsupported names the
// requested settings the device exposes no parameter for.
type EQGlobalResult struct {
	Changes     []ParameterChange
	Unsupported []string
}

// findParam returns the first parameter whose name contains any of subs.
func (d DeviceParameters) findParam(subs ...string) (Parameter, bool) {
	for _, p := range d.Parameters {
		for _, sub := range subs {
			if strings.Contains(p.Name, sub) {
				return p, true
			}
		}
	}
	return Parameter{}, false
}

// SetEQGlobal changes the EQ Eight's scale, mode and oversampling. Mode and
// oversampling are looked up by name because not every host version exposes
// them; missing ones are reported in Unsupported, not as an error.
func (b *Bridge) SetEQGlobal(ctx context.Context, track, device int, g EQGlobal) (EQGlobalResult, error) {
	if g.Scale == nil && g.Mode == nil && g.Oversampling == nil {
		return EQGlobalResult{}, fmt.Errorf("%w: no global settings given", ipc.ErrInvalidCommand)
	}
	dev, err := b.requireEQEight(ctx, track, device)
	if err != nil {
		return EQGlobalResult{}, err
	}

	var (
		res  EQGlobalResult
		todo []paramChange
	)
	if g.Scale != nil {
		todo = append(todo, paramChange{"Scale", *g.Scale})
	}
	if g.Mode != nil {
		if p, ok := dev.findParam("Mode"); ok {
			todo = append(todo, paramChange{p.Name, g.Mode})
		} else {
			res.Unsupported = append(res.Unsupported, "mode")
		}
	}
	if g.Oversampling != nil {
		if p, ok := dev.findParam("Oversampling", "Hi Quality"); ok {
			todo = append(todo, paramChange{p.Name, boolValue(*g.Oversampling)})
		} else {
			res.Unsupported = append(res.Unsupported, "oversampling")
		}
	}
	res.Changes, err = b.apply(ctx, track, device, todo)
	return res, err
}

func pointer[T any](v T) *T { return &v }

// eqPresets maps a preset name to the bands it sets.
var eqPresets = map[string]map[int]EQBand{
	"low_cut": {
		0: {On: pointer(true), FrequencyHz: pointer(80.0), GainDB: pointer(0.0), Q: pointer(0.7), FilterType: "Low Cut 48"},
	},
	"high_cut": {
		7: {On: pointer(true), FrequencyHz: pointer(10000.0), GainDB: pointer(0.0), Q: pointer(0.7), FilterType: "High Cut 48"},
	},
	"low_shelf": {
		0: {On: pointer(true), FrequencyHz: pointer(100.0), GainDB: pointer(-3.0), Q: pointer(0.7), FilterType: "Low Shelf"},
	},
	"high_shelf": {
		7: {On: pointer(true), FrequencyHz: pointer(8000.0), GainDB: pointer(-3.0), Q: pointer(0.7), FilterType: "High Shelf"},
	},
	"bell": {
		3: {On: pointer(true), FrequencyHz: pointer(1000.0), GainDB: pointer(0.0), Q: pointer(1.0), FilterType: "Bell"},
	},
	"notch": {
		3: {On: pointer(true), FrequencyHz: pointer(1000.0), GainDB: pointer(-12.0), Q: pointer(8.0), FilterType: "Notch"},
	},
	"flat": func() map[int]EQBand {
		bands := make(map[int]EQBand, EQBands)
		for i := range EQBands {
			bands[i] = EQBand{On: pointer(false)}
		}
		return bands
	}(),
}

// EQPresets returns the preset names ApplyEQPreset accepts, sorted.
func EQPresets() []string {
	return slices.Sorted(maps.Keys(eqPresets))
}

// ApplyEQPreset applies a named preset to the EQ Eight at track/device.
// Bands are written in index order.
func (b *Bridge) ApplyEQPreset(ctx context.Context, track, device int, preset string) ([]ParameterChange, error) {
	bands, ok := eqPresets[preset]
	if !ok {
		return nil, fmt.Errorf("%w: unknown EQ preset %q, available: %s", ipc.ErrInvalidCommand, preset, strings.Join(EQPresets(), ", "))
	}
	if _, err := b.requireEQEight(ctx, track, device); err != nil {
		return nil, err
	}
	var todo []paramChange
	for _, band := range slices.Sorted(maps.Keys(bands)) {
		todo = append(todo, bands[band].changes(band)...)
	}
	return b.apply(ctx, track, device, todo)
}
