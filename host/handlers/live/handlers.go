package live

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/livebridge/livebridge/common/ipc"
	"github.com/livebridge/livebridge/common/normalize"
	"github.com/livebridge/livebridge/host/handler"
)

// Register installs the session's command handlers. Commands that change
// the session are registered as mutating so the host runs them on its
// scheduler.
func Register(reg *ipc.Registry, s *Session) {
	reg.Register("get_session_info", wrap(s.getSessionInfo))
	reg.Register("get_track_info", wrap(s.getTrackInfo))
	reg.Register("get_device_parameters", wrap(s.getDeviceParameters))

	reg.RegisterMutating("create_midi_track", wrap(s.createMIDITrack))
	reg.RegisterMutating("create_return_track", wrap(s.createReturnTrack))
	reg.RegisterMutating("set_track_name", wrap(s.setTrackName))
	reg.RegisterMutating("set_tempo", wrap(s.setTempo))
	reg.RegisterMutating("start_playback", wrap(s.startPlayback))
	reg.RegisterMutating("stop_playback", wrap(s.stopPlayback))
	reg.RegisterMutating("set_device_parameter", wrap(s.setDeviceParameter))
	reg.RegisterMutating("set_track_volume", wrap(s.setTrackVolume))
	reg.RegisterMutating("set_send_level", wrap(s.setSendLevel))

	reg.RegisterMutating("create_clip", wrap(s.createClip))
	reg.RegisterMutating("add_notes_to_clip", wrap(s.addNotesToClip))
	reg.RegisterMutating("set_clip_name", wrap(s.setClipName))
	reg.RegisterMutating("fire_clip", wrap(s.fireClip))
	reg.RegisterMutating("stop_clip", wrap(s.stopClip))
}

func wrap(fn func(args handler.Args) (map[string]any, error)) ipc.HandlerFunc {
	return func(ctx context.Context, params map[string]any) (map[string]any, error) {
		return fn(handler.Args(params))
	}
}

func (s *Session) getSessionInfo(handler.Args) (map[string]any, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]any{
		"tempo":                 s.tempo,
		"signature_numerator":   s.sigNum,
		"signature_denominator": s.sigDen,
		"track_count":           len(s.tracks),
		"return_track_count":    len(s.returns),
		"is_playing":            s.playing,
		"master_track": map[string]any{
			"name":    "Master",
			"volume":  s.masterVolume,
			"panning": s.masterPan,
		},
	}, nil
}

func (s *Session) getTrackInfo(args handler.Args) (map[string]any, error) {
	index, err := args.IntOr("track_index", 0)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	t, err := s.track(index)
	if err != nil {
		return nil, err
	}
	devices := make([]map[string]any, 0, len(t.Devices))
	for i, d := range t.Devices {
		devices = append(devices, map[string]any{
			"index":      i,
			"name":       d.Name,
			"class_name": d.ClassName,
			"type":       d.Type,
		})
	}
	slots := make([]map[string]any, 0, len(t.Slots))
	for i, slot := range t.Slots {
		var clip map[string]any
		if c := slot.Clip; c != nil {
			clip = map[string]any{
				"name":         c.Name,
				"length":       c.Length,
				"is_playing":   c.Playing,
				"is_recording": false,
				"color":        c.Color,
			}
		}
		slots = append(slots, map[string]any{
			"index":    i,
			"has_clip": slot.Clip != nil,
			"clip":     clip,
		})
	}
	isReturn := index >= len(s.tracks)
	info := map[string]any{
		"index":           index,
		"name":            t.Name,
		"is_audio_track":  !t.MIDI,
		"is_midi_track":   t.MIDI,
		"mute":            t.Mute,
		"solo":            t.Solo,
		"volume":          t.Volume,
		"panning":         t.Panning,
		"devices":         devices,
		"clip_slots":      slots,
		"is_return_track": isReturn,
	}
	if !isReturn {
		info["arm"] = t.Arm
	}
	return info, nil
}

func (s *Session) getDeviceParameters(args handler.Args) (map[string]any, error) {
	trackIndex, err := args.IntOr("track_index", 0)
	if err != nil {
		return nil, err
	}
	deviceIndex, err := args.IntOr("device_index", 0)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	d, err := s.device(trackIndex, deviceIndex)
	if err != nil {
		return nil, err
	}
	params := make([]map[string]any, 0, len(d.Params))
	for i, p := range d.Params {
		if !p.listed() {
			continue
		}
		info := map[string]any{
			"index":        i,
			"name":         p.Name,
			"value":        p.Value,
			"min":          p.Min,
			"max":          p.Max,
			"is_quantized": p.Quantized,
		}
		if p.Quantized {
			info["value_items"] = p.Items
			info["value_item_index"] = int(p.Value)
			info["value_item"] = p.Items[int(p.Value)]
		}
		params = append(params, info)
	}
	return map[string]any{
		"device_name":  d.Name,
		"device_class": d.ClassName,
		"device_type":  d.Type,
		"parameters":   params,
	}, nil
}

func (s *Session) createMIDITrack(args handler.Args) (map[string]any, error) {
	index, err := args.IntOr("index", -1)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if index < -1 || index > len(s.tracks) {
		return nil, fmt.Errorf("Track index out of range: %d", index)
	}
	t := &Track{
		Name:   fmt.Sprintf("%d-MIDI", len(s.tracks)+1),
		MIDI:   true,
		Volume: defaultVolume,
		Sends:  make([]float64, len(s.returns)),
		Slots:  newSlots(),
	}
	if index == -1 {
		index = len(s.tracks)
	}
	s.tracks = append(s.tracks[:index], append([]*Track{t}, s.tracks[index:]...)...)
	return map[string]any{"index": index, "name": t.Name}, nil
}

func (s *Session) createReturnTrack(handler.Args) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	index := len(s.returns)
	t := &Track{Name: fmt.Sprintf("%c-Return", 'A'+rune(index%26)), Volume: defaultVolume}
	s.returns = append(s.returns, t)
	for _, tr := range s.tracks {
		tr.Sends = append(tr.Sends, 0)
	}
	return map[string]any{"index": index, "name": t.Name}, nil
}

func (s *Session) setTrackName(args handler.Args) (map[string]any, error) {
	index, err := args.IntOr("track_index", 0)
	if err != nil {
		return nil, err
	}
	name, err := args.String("name")
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.track(index)
	if err != nil {
		return nil, err
	}
	t.Name = name
	return map[string]any{"name": t.Name}, nil
}

func (s *Session) setTempo(args handler.Args) (map[string]any, error) {
	tempo, err := args.Float("tempo")
	if err != nil {
		return nil, err
	}
	if tempo < 20 || tempo > 999 {
		return nil, fmt.Errorf("Tempo out of range: %v", tempo)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tempo = tempo
	return map[string]any{"tempo": s.tempo}, nil
}

func (s *Session) startPlayback(handler.Args) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playing = true
	return map[string]any{"playing": s.playing}, nil
}

func (s *Session) stopPlayback(handler.Args) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.playing = false
	for _, t := range s.tracks {
		for _, slot := range t.Slots {
			if slot.Clip != nil {
				slot.Clip.Playing = false
			}
		}
	}
	return map[string]any{"playing": s.playing}, nil
}

func (s *Session) setDeviceParameter(args handler.Args) (map[string]any, error) {
	trackIndex, err := args.IntOr("track_index", 0)
	if err != nil {
		return nil, err
	}
	deviceIndex, err := args.IntOr("device_index", 0)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := s.device(trackIndex, deviceIndex)
	if err != nil {
		return nil, err
	}

	var (
		p     *Parameter
		index int
	)
	switch {
	case args.Has("parameter_name"):
		name, err := args.String("parameter_name")
		if err != nil {
			return nil, err
		}
		for i, candidate := range d.Params {
			if candidate.Name == name {
				p, index = candidate, i
				break
			}
		}
		if p == nil {
			return nil, fmt.Errorf("Parameter '%s' not found in device '%s'", name, d.Name)
		}
	case args.Has("parameter_index"):
		i, err := args.Int("parameter_index")
		if err != nil {
			return nil, err
		}
		if i < 0 || i >= len(d.Params) {
			return nil, fmt.Errorf("Parameter index out of range: %d", i)
		}
		p, index = d.Params[i], i
	default:
		return nil, fmt.Errorf("Either parameter_name or parameter_index must be provided")
	}

	if p.Disabled {
		return nil, fmt.Errorf("Parameter '%s' is not enabled", p.Name)
	}
	raw, err := args.Value("value")
	if err != nil {
		return nil, fmt.Errorf("Value must be provided")
	}

	value, err := coerceValue(p, raw)
	if err != nil {
		return nil, err
	}
	p.Value = value

	return map[string]any{
		"device_name":     d.Name,
		"parameter_name":  p.Name,
		"parameter_index": index,
		"value":           p.Value,
		"min":             p.Min,
		"max":             p.Max,
	}, nil
}

// coerceValue applies the host's rules: quantized parameters take an item
// index or a case-insensitive item name, continuous ones must be in range.
func coerceValue(p *Parameter, raw any) (float64, error) {
	if p.Quantized && len(p.Items) > 1 {
		if name, ok := raw.(string); ok {
			for i, item := range p.Items {
				if strings.EqualFold(item, name) {
					return float64(i), nil
				}
			}
			return 0, fmt.Errorf("Value '%s' not found in parameter value items", name)
		}
		f, err := handler.AsFloat(raw)
		if err != nil {
			return 0, err
		}
		i := int(f)
		if i < 0 || i >= len(p.Items) {
			return 0, fmt.Errorf("Value index %d out of range for parameter '%s'", i, p.Name)
		}
		return float64(i), nil
	}

	v, err := handler.AsFloat(raw)
	if err != nil {
		return 0, err
	}
	if math.IsNaN(v) || v < p.Min || v > p.Max {
		return 0, fmt.Errorf("Value %v out of range for parameter '%s' (min: %v, max: %v)", v, p.Name, p.Min, p.Max)
	}
	return v, nil
}

func (s *Session) setTrackVolume(args handler.Args) (map[string]any, error) {
	index, err := args.IntOr("track_index", 0)
	if err != nil {
		return nil, err
	}
	value, err := args.Float("value")
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.track(index)
	if err != nil {
		return nil, err
	}
	t.Volume = math.Max(0, math.Min(1, value))
	db, _ := normalize.ToPhysical(normalize.Volume, t.Volume)
	return map[string]any{
		"track_name": t.Name,
		"volume":     t.Volume,
		"volume_db":  db,
	}, nil
}

func (s *Session) setSendLevel(args handler.Args) (map[string]any, error) {
	index, err := args.IntOr("track_index", 0)
	if err != nil {
		return nil, err
	}
	send, err := args.IntOr("send_index", 0)
	if err != nil {
		return nil, err
	}
	value, err := args.Float("value")
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.track(index)
	if err != nil {
		return nil, err
	}
	if index >= len(s.tracks) {
		return nil, fmt.Errorf("Return tracks don't have sends")
	}
	if send < 0 || send >= len(t.Sends) {
		return nil, fmt.Errorf("Send index out of range: %d", send)
	}
	t.Sends[send] = math.Max(0, math.Min(1, value))
	return map[string]any{
		"track_name":        t.Name,
		"send_index":        send,
		"return_track_name": s.returns[send].Name,
		"value":             t.Sends[send],
	}, nil
}
