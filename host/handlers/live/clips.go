package live

import (
	"fmt"

	"github.com/livebridge/livebridge/host/handler"
)

const (
	defaultClipLength = 4.0

	defaultPitch    = 60
	defaultDuration = 0.25
	defaultVelocity = 100
)

// clipArgs reads the track_index/clip_index pair every clip command takes.
func clipArgs(args handler.Args) (int, int, error) {
	track, err := args.IntOr("track_index", 0)
	if err != nil {
		return 0, 0, err
	}
	clip, err := args.IntOr("clip_index", 0)
	if err != nil {
		return 0, 0, err
	}
	return track, clip, nil
}

func (s *Session) createClip(args handler.Args) (map[string]any, error) {
	trackIndex, clipIndex, err := clipArgs(args)
	if err != nil {
		return nil, err
	}
	length, err := args.FloatOr("length", defaultClipLength)
	if err != nil {
		return nil, err
	}
	if length <= 0 {
		return nil, fmt.Errorf("Clip length must be positive: %v", length)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, slot, err := s.clipSlot(trackIndex, clipIndex)
	if err != nil {
		return nil, err
	}
	if slot.Clip != nil {
		return nil, fmt.Errorf("Clip slot already has a clip")
	}
	if !t.MIDI {
		return nil, fmt.Errorf("Track '%s' is not a MIDI track", t.Name)
	}
	slot.Clip = &Clip{Length: length, Color: clipColor}
	return map[string]any{
		"name":   slot.Clip.Name,
		"length": slot.Clip.Length,
	}, nil
}

func (s *Session) addNotesToClip(args handler.Args) (map[string]any, error) {
	trackIndex, clipIndex, err := clipArgs(args)
	if err != nil {
		return nil, err
	}
	var raw []handler.Args
	if args.Has("notes") {
		if raw, err = args.Objects("notes"); err != nil {
			return nil, err
		}
	}
	notes := make([]Note, 0, len(raw))
	for i, n := range raw {
		note, err := parseNote(n)
		if err != nil {
			return nil, fmt.Errorf("note %d: %w", i, err)
		}
		notes = append(notes, note)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, slot, err := s.clip(trackIndex, clipIndex)
	if err != nil {
		return nil, err
	}
	slot.Clip.Notes = append(slot.Clip.Notes, notes...)
	return map[string]any{"note_count": len(notes)}, nil
}

// parseNote fills the host defaults for missing fields and checks the MIDI
// ranges.
func parseNote(n handler.Args) (Note, error) {
	var (
		note Note
		err  error
	)
	if note.Pitch, err = n.IntOr("pitch", defaultPitch); err != nil {
		return Note{}, err
	}
	if note.StartTime, err = n.FloatOr("start_time", 0); err != nil {
		return Note{}, err
	}
	if note.Duration, err = n.FloatOr("duration", defaultDuration); err != nil {
		return Note{}, err
	}
	if note.Velocity, err = n.IntOr("velocity", defaultVelocity); err != nil {
		return Note{}, err
	}
	if note.Mute, err = n.BoolOr("mute", false); err != nil {
		return Note{}, err
	}

	switch {
	case note.Pitch < 0 || note.Pitch > 127:
		return Note{}, fmt.Errorf("Pitch out of range: %d", note.Pitch)
	case note.Velocity < 0 || note.Velocity > 127:
		return Note{}, fmt.Errorf("Velocity out of range: %d", note.Velocity)
	case note.StartTime < 0:
		return Note{}, fmt.Errorf("Start time must not be negative: %v", note.StartTime)
	case note.Duration <= 0:
		return Note{}, fmt.Errorf("Duration must be positive: %v", note.Duration)
	}
	return note, nil
}

func (s *Session) setClipName(args handler.Args) (map[string]any, error) {
	trackIndex, clipIndex, err := clipArgs(args)
	if err != nil {
		return nil, err
	}
	name, err := args.String("name")
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, slot, err := s.clip(trackIndex, clipIndex)
	if err != nil {
		return nil, err
	}
	slot.Clip.Name = name
	return map[string]any{"name": slot.Clip.Name}, nil
}

// fireClip launches the clip and starts the transport. Only one clip per
// track plays at a time.
func (s *Session) fireClip(args handler.Args) (map[string]any, error) {
	trackIndex, clipIndex, err := clipArgs(args)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, slot, err := s.clip(trackIndex, clipIndex)
	if err != nil {
		return nil, err
	}
	for _, other := range t.Slots {
		if other.Clip != nil {
			other.Clip.Playing = false
		}
	}
	slot.Clip.Playing = true
	s.playing = true
	return map[string]any{"fired": true}, nil
}

// stopClip works on empty slots too, like the stop button in the grid.
func (s *Session) stopClip(args handler.Args) (map[string]any, error) {
	trackIndex, clipIndex, err := clipArgs(args)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, slot, err := s.clipSlot(trackIndex, clipIndex)
	if err != nil {
		return nil, err
	}
	if slot.Clip != nil {
		slot.Clip.Playing = false
	}
	return map[string]any{"stopped": true}, nil
}
