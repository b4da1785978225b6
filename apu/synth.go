package apu

import (
	"math"

	"pipelined.dev/xap"
	"pipelined.dev/xap/event"
)

// Synth parameters.
const (
	SynthLevel xap.ParamID = iota
	SynthRelease
)

const (
	maxVoices = 8
	channels  = 2
)

type voice struct {
	key    int16
	noteID int32
	on     bool
	phase  float64
	freq   float64
	tuning float64
	env    float64
	vel    float64
}

func (v *voice) tune(key int16, tuning float64) {
	v.freq = 440 * math.Pow(2, (float64(key)+tuning-69)/12)
}

// Synth is a polyphonic sine synthesizer. It plays note events and MIDI
// note messages of its single note input port. Tuning expression shifts
// the pitch of a voice in semitones.
type Synth struct {
	lifecycle
	params
	voices [maxVoices]voice
}

// NewSynth returns a new synth.
func NewSynth() *Synth {
	return &Synth{
		params: newParams(
			xap.ParamInfo{ID: SynthLevel, Name: "level", Min: 0, Max: 1, Default: 0.5},
			xap.ParamInfo{ID: SynthRelease, Name: "release", Module: "envelope", Min: 0.001, Max: 5, Default: 0.05},
		),
	}
}

// Descriptor implements xap.Describer.
func (s *Synth) Descriptor() xap.Descriptor {
	return xap.Descriptor{ID: SynthID, Name: "synth", Vendor: "xap"}
}

// Activate implements xap.Processor.
func (s *Synth) Activate(sampleRate float64, minFrames, maxFrames int) error {
	s.voices = [maxVoices]voice{}
	return s.lifecycle.Activate(sampleRate, minFrames, maxFrames)
}

// Process implements xap.Processor.
func (s *Synth) Process(p *xap.Process) xap.Status {
	s.apply(p.InEvents)
	out := p.AudioOut[0]
	level := s.value(SynthLevel)
	decay := 1 / (s.value(SynthRelease) * s.sampleRate)
	next := 0
	for i := 0; i < p.Frames; i++ {
		for ; next < len(p.InEvents) && int(p.InEvents[next].Time) <= i; next++ {
			s.handle(p.InEvents[next])
		}
		var sample float64
		for j := range s.voices {
			v := &s.voices[j]
			if v.env <= 0 {
				continue
			}
			sample += math.Sin(2*math.Pi*v.phase) * v.vel * v.env
			v.phase += v.freq / s.sampleRate
			v.phase -= math.Floor(v.phase)
			if !v.on {
				v.env -= decay
			}
		}
		for c := range out {
			out[c][i] = float32(sample * level)
		}
	}
	for ; next < len(p.InEvents); next++ {
		s.handle(p.InEvents[next])
	}
	for j := range s.voices {
		if s.voices[j].env > 0 {
			return xap.Continue
		}
	}
	return xap.ContinueIfNotQuiet
}

func (s *Synth) handle(e event.Event) {
	switch e.Type {
	case event.NoteOn:
		s.noteOn(e.Note.Key, e.Note.NoteID, e.Note.Velocity)
	case event.NoteOff, event.NoteChoke:
		s.noteOff(e.Note.Key, e.Note.NoteID, e.Type == event.NoteChoke)
	case event.NoteExpression:
		if e.Expression.ID != event.Tuning {
			return
		}
		for j := range s.voices {
			v := &s.voices[j]
			if v.env > 0 && matches(v, e.Expression.Key, e.Expression.NoteID) {
				v.tuning = e.Expression.Value
				v.tune(v.key, v.tuning)
			}
		}
	case event.MIDI:
		var ch, key, vel uint8
		msg := e.MIDIMessage()
		switch {
		case msg.GetNoteStart(&ch, &key, &vel):
			s.noteOn(int16(key), event.AnyNoteID, float64(vel)/127)
		case msg.GetNoteEnd(&ch, &key):
			s.noteOff(int16(key), event.AnyNoteID, false)
		}
	}
}

func matches(v *voice, key int16, noteID int32) bool {
	if noteID != event.AnyNoteID && v.noteID != event.AnyNoteID {
		return v.noteID == noteID
	}
	return key == int16(event.Any) || v.key == key
}

// noteOn takes a free voice or the quietest one.
func (s *Synth) noteOn(key int16, noteID int32, velocity float64) {
	target := &s.voices[0]
	for j := range s.voices {
		if s.voices[j].env < target.env {
			target = &s.voices[j]
		}
	}
	*target = voice{key: key, noteID: noteID, on: true, env: 1, vel: velocity}
	target.tune(key, 0)
}

func (s *Synth) noteOff(key int16, noteID int32, choke bool) {
	for j := range s.voices {
		v := &s.voices[j]
		if v.on && matches(v, key, noteID) {
			v.on = false
			if choke {
				v.env = 0
			}
		}
	}
}

// AudioPortsCount implements xap.Processor.
func (s *Synth) AudioPortsCount(isInput bool) int {
	if isInput {
		return 0
	}
	return 1
}

// AudioPortInfo implements xap.Processor.
func (s *Synth) AudioPortInfo(index int, isInput bool) (xap.PortInfo, bool) {
	if isInput {
		return xap.PortInfo{}, false
	}
	return portInfo([]xap.PortInfo{{Name: "out", Channels: channels}}, index)
}

// NotePortsCount implements xap.Processor.
func (s *Synth) NotePortsCount(isInput bool) int {
	if isInput {
		return 1
	}
	return 0
}

// NotePortInfo implements xap.Processor.
func (s *Synth) NotePortInfo(index int, isInput bool) (xap.PortInfo, bool) {
	if !isInput {
		return xap.PortInfo{}, false
	}
	return portInfo([]xap.PortInfo{{Name: "notes"}}, index)
}
