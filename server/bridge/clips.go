package bridge

import "context"

// Note is one MIDI note for AddNotesToClip. Times are in beats. Every field
// is sent, so the host's defaults never apply.
type Note struct {
	Pitch     int     `json:"pitch"`
	StartTime float64 `json:"start_time"`
	Duration  float64 `json:"duration"`
	Velocity  int     `json:"velocity"`
	Mute      bool    `json:"mute"`
}

func clipParams(track, slot int) map[string]any {
	return map[string]any{"track_index": track, "clip_index": slot}
}

// CreateClip creates an empty MIDI clip of length beats in an empty slot.
func (b *Bridge) CreateClip(ctx context.Context, track, slot int, length float64) (map[string]any, error) {
	p := clipParams(track, slot)
	p["length"] = length
	return b.Execute(ctx, "create_clip", p, 0)
}

// AddNotesToClip appends notes to the clip in slot.
func (b *Bridge) AddNotesToClip(ctx context.Context, track, slot int, notes []Note) (map[string]any, error) {
	if notes == nil {
		notes = []Note{}
	}
	p := clipParams(track, slot)
	p["notes"] = notes
	return b.Execute(ctx, "add_notes_to_clip", p, 0)
}

func (b *Bridge) SetClipName(ctx context.Context, track, slot int, name string) (map[string]any, error) {
	p := clipParams(track, slot)
	p["name"] = name
	return b.Execute(ctx, "set_clip_name", p, 0)
}

func (b *Bridge) FireClip(ctx context.Context, track, slot int) (map[string]any, error) {
	return b.Execute(ctx, "fire_clip", clipParams(track, slot), 0)
}

func (b *Bridge) StopClip(ctx context.Context, track, slot int) (map[string]any, error) {
	return b.Execute(ctx, "stop_clip", clipParams(track, slot), 0)
}
