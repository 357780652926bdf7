// Package live is an in-memory model of a DAW session that answers the
// host command set. It backs the reference host endpoint used for local
// development and tests.
package live

import (
	"fmt"
	"sync"
)

// Parameter is one automatable device parameter.
type Parameter struct {
	Name      string
	Value     float64
	Min       float64
	Max       float64
	Quantized bool
	Items     []string
	Disabled  bool
}

func (p *Parameter) listed() bool {
	return !p.Disabled && !(p.Quantized && len(p.Items) <= 1)
}

// Device is a device on a track's chain.
type Device struct {
	Name      string
	ClassName string
	Type      string
	Params    []*Parameter
}

// Note is one MIDI note. Times are in beats.
type Note struct {
	Pitch     int
	StartTime float64
	Duration  float64
	Velocity  int
	Mute      bool
}

// Clip is a MIDI clip.
type Clip struct {
	Name    string
	Length  float64
	Color   int
	Playing bool
	Notes   []Note
}

// ClipSlot is one cell of the session grid; Clip is nil when empty.
type ClipSlot struct {
	Clip *Clip
}

// Track is a regular or return track. Return tracks have no clip slots.
type Track struct {
	Name    string
	MIDI    bool
	Mute    bool
	Solo    bool
	Arm     bool
	Volume  float64
	Panning float64
	Sends   []float64
	Devices []*Device
	Slots   []*ClipSlot
}

// Session is the whole model. All access goes through the handlers, which
// take mu; mutations additionally run on the host scheduler.
type Session struct {
	mu sync.RWMutex

	tempo        float64
	sigNum       int
	sigDen       int
	playing      bool
	masterVolume float64
	masterPan    float64
	tracks       []*Track
	returns      []*Track
}

const (
	defaultVolume = 0.85
	// sceneCount is the number of clip slots on every regular track.
	sceneCount = 8
	clipColor  = 0x3c9dff
)

func newSlots() []*ClipSlot {
	slots := make([]*ClipSlot, sceneCount)
	for i := range slots {
		slots[i] = &ClipSlot{}
	}
	return slots
}

// NewSession returns a session with one MIDI track carrying an EQ Eight, one
// audio track and one return track.
func NewSession() *Session {
	s := &Session{
		tempo:        120,
		sigNum:       4,
		sigDen:       4,
		masterVolume: defaultVolume,
	}
	s.returns = []*Track{{Name: "A-Reverb", Volume: defaultVolume}}
	s.tracks = []*Track{
		{Name: "1-MIDI", MIDI: true, Volume: defaultVolume, Sends: []float64{0}, Devices: []*Device{NewEQEight()}, Slots: newSlots()},
		{Name: "2-Audio", Volume: defaultVolume, Sends: []float64{0}, Slots: newSlots()},
	}
	return s
}

// FilterTypes are the EQ Eight band filter shapes, in host order.
var FilterTypes = []string{
	"Low Cut 48", "Low Cut 12", "Low Shelf", "Bell",
	"Notch", "High Shelf", "High Cut 12", "High Cut 48",
}

// NewEQEight builds an EQ Eight with eight bands.
func NewEQEight() *Device {
	d := &Device{Name: "EQ Eight", ClassName: "Eq8", Type: "audio_effect"}
	d.Params = append(d.Params, &Parameter{Name: "Device On", Value: 1, Max: 1, Quantized: true, Items: []string{"Off", "On"}})
	for band := 1; band <= 8; band++ {
		d.Params = append(d.Params,
			&Parameter{Name: fmt.Sprintf("%d Filter On A", band), Value: 1, Max: 1, Quantized: true, Items: []string{"Off", "On"}},
			&Parameter{Name: fmt.Sprintf("%d Filter Type A", band), Value: 3, Max: 7, Quantized: true, Items: FilterTypes},
			&Parameter{Name: fmt.Sprintf("%d Frequency A", band), Value: 0.5, Max: 1},
			&Parameter{Name: fmt.Sprintf("%d Gain A", band), Min: -15, Max: 15},
			&Parameter{Name: fmt.Sprintf("%d Resonance A", band), Value: 0.071, Max: 1},
		)
	}
	d.Params = append(d.Params,
		&Parameter{Name: "Scale", Value: 1, Min: -2, Max: 2},
		&Parameter{Name: "Output Gain", Min: -12, Max: 12},
		&Parameter{Name: "Adaptive Q", Quantized: true, Items: []string{"Off"}},
	)
	return d
}

// track resolves a regular track index, or a return track when index runs
// past the regular tracks. Callers hold mu.
func (s *Session) track(index int) (*Track, error) {
	if index >= 0 && index < len(s.tracks) {
		return s.tracks[index], nil
	}
	if r := index - len(s.tracks); index >= 0 && r < len(s.returns) {
		return s.returns[r], nil
	}
	return nil, fmt.Errorf("Track index out of range: %d", index)
}

func (s *Session) device(trackIndex, deviceIndex int) (*Device, error) {
	t, err := s.track(trackIndex)
	if err != nil {
		return nil, err
	}
	if deviceIndex < 0 || deviceIndex >= len(t.Devices) {
		return nil, fmt.Errorf("Device index out of range: %d", deviceIndex)
	}
	return t.Devices[deviceIndex], nil
}

func (s *Session) clipSlot(trackIndex, clipIndex int) (*Track, *ClipSlot, error) {
	t, err := s.track(trackIndex)
	if err != nil {
		return nil, nil, err
	}
	if clipIndex < 0 || clipIndex >= len(t.Slots) {
		return nil, nil, fmt.Errorf("Clip index out of range: %d", clipIndex)
	}
	return t, t.Slots[clipIndex], nil
}

// clip is clipSlot for commands that need a clip in the slot.
func (s *Session) clip(trackIndex, clipIndex int) (*Track, *ClipSlot, error) {
	t, slot, err := s.clipSlot(trackIndex, clipIndex)
	if err != nil {
		return nil, nil, err
	}
	if slot.Clip == nil {
		return nil, nil, fmt.Errorf("No clip in slot")
	}
	return t, slot, nil
}
