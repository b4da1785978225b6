/*
Package sequence provides an in-memory timeline of events.

A Sequence collects events with absolute timestamps in seconds. Once
sorted, it is played back block by block with one of two iterators:
Iterator keeps its position in seconds, SampleIterator keeps it in samples
at a fixed sample rate, so long renders don't accumulate floating point
drift.

Sequence is not safe for concurrent use.
*/
package sequence

import (
	"cmp"
	"errors"
	"math"
	"slices"

	"gitlab.com/gomidi/midi/v2"

	"pipelined.dev/xap/event"
)

// ErrEmpty is returned when sequence has no events.
var ErrEmpty = errors.New("no events in sequence")

// minRetune is the smallest tuning offset that produces tuning expression.
const minRetune = 0.001

const defaultCapacity = 4096

type (
	// Sequence is an ordered collection of timestamped events.
	Sequence struct {
		entries []Entry
		strings map[int32]string
	}

	// Entry is an event with absolute timestamp in seconds. Event time
	// within the header is not used by the sequence.
	Entry struct {
		Timestamp float64
		event.Event
	}
)

// New returns an empty sequence.
func New() *Sequence {
	return &Sequence{
		entries: make([]Entry, 0, defaultCapacity),
	}
}

func (s *Sequence) add(time float64, e event.Event) {
	s.entries = append(s.entries, Entry{Timestamp: time, Event: e})
}

// AddNoteOn adds a note on event.
func (s *Sequence) AddNoteOn(time float64, port, channel, key int, velocity float64, noteID int) {
	s.add(time, event.NewNote(event.NoteOn, 0, int16(port), int16(channel), int16(key), int32(noteID), velocity))
}

// AddNoteOff adds a note off event.
func (s *Sequence) AddNoteOff(time float64, port, channel, key int, velocity float64, noteID int) {
	s.add(time, event.NewNote(event.NoteOff, 0, int16(port), int16(channel), int16(key), int32(noteID), velocity))
}

// AddNote adds a pair of note on and note off events. If retune is not
// zero, tuning expression is added right after note on.
func (s *Sequence) AddNote(time, duration float64, port, channel, key, noteID int, velocity, retune float64) {
	s.AddNoteOn(time, port, channel, key, velocity, noteID)
	if math.Abs(retune) >= minRetune {
		s.AddNoteExpression(time, port, channel, key, noteID, event.Tuning, retune)
	}
	s.AddNoteOff(time+duration, port, channel, key, velocity, noteID)
}

// AddNoteF adds a note with fractional pitch. The integer part of the
// pitch is used as a key and the fractional part is sent as tuning
// expression.
func (s *Sequence) AddNoteF(time, duration float64, port, channel int, pitch float64, noteID int, velocity float64) {
	key := int(pitch)
	s.AddNoteOn(time, port, channel, key, velocity, noteID)
	if frac := pitch - float64(key); frac > 0 {
		s.AddNoteExpression(time, port, channel, key, noteID, event.Tuning, frac)
	}
	s.AddNoteOff(time+duration, port, channel, key, velocity, noteID)
}

// AddNoteExpression adds a note expression event.
func (s *Sequence) AddNoteExpression(time float64, port, channel, key, noteID int, id event.ExpressionID, value float64) {
	s.add(time, event.NewNoteExpression(0, id, int16(port), int16(channel), int16(key), int32(noteID), value))
}

// AddParameterEvent adds parameter value or, if isModulation is true,
// parameter modulation event.
func (s *Sequence) AddParameterEvent(isModulation bool, time float64, port, channel, key, noteID int, id event.ParamID, value float64) {
	var e event.Event
	if isModulation {
		e = event.NewParamMod(0, id, value)
	} else {
		e = event.NewParamValue(0, id, value)
	}
	e.Param.Port = int16(port)
	e.Param.Channel = int16(channel)
	e.Param.Key = int16(key)
	e.Param.NoteID = int32(noteID)
	s.add(time, e)
}

// AddTransportEvent adds a transport event with provided tempo.
func (s *Sequence) AddTransportEvent(time, tempo float64) {
	s.add(time, event.NewTransport(0, event.TransportPayload{
		Flags:           event.HasTempo | event.HasSecondsTimeline | event.IsPlaying,
		Tempo:           tempo,
		PositionSeconds: time,
	}))
}

// AddMIDIMessage adds a raw MIDI message.
func (s *Sequence) AddMIDIMessage(time float64, port int, msg midi.Message) {
	s.add(time, event.NewMIDI(0, uint16(port), msg))
}

// AddProgramChange adds MIDI program change message.
func (s *Sequence) AddProgramChange(time float64, port, channel, program int) {
	s.AddMIDIMessage(time, port, midi.ProgramChange(uint8(channel%16), uint8(program&0x7f)))
}

// AddString stores a string in the sequence under provided id.
func (s *Sequence) AddString(id int32, str string) {
	if s.strings == nil {
		s.strings = make(map[int32]string)
	}
	s.strings[id] = str
}

// RemoveString removes a string from the sequence.
func (s *Sequence) RemoveString(id int32) {
	delete(s.strings, id)
}

// String returns the string stored under provided id.
func (s *Sequence) String(id int32) (string, bool) {
	str, ok := s.strings[id]
	return str, ok
}

// AddStringEvent adds an event which references a string stored in the
// sequence. Event is not added if the string doesn't exist. Returns true
// if event was added.
func (s *Sequence) AddStringEvent(time float64, target, id int32) bool {
	if _, ok := s.strings[id]; !ok {
		return false
	}
	s.add(time, event.NewString(0, target, id))
	return true
}

// SortEvents sorts events by timestamp. Events with equal timestamps keep
// the order they were added in.
func (s *Sequence) SortEvents() {
	slices.SortStableFunc(s.entries, func(a, b Entry) int {
		return cmp.Compare(a.Timestamp, b.Timestamp)
	})
}

// Clear removes all events. Strings are kept.
func (s *Sequence) Clear() {
	s.entries = s.entries[:0]
}

// Len returns number of events in the sequence.
func (s *Sequence) Len() int {
	return len(s.entries)
}

// At returns the entry at index i.
func (s *Sequence) At(i int) Entry {
	return s.entries[i]
}

// MaxEventTime returns the largest timestamp in the sequence. It scans all
// events, so sequence doesn't need to be sorted.
func (s *Sequence) MaxEventTime() (float64, error) {
	if len(s.entries) == 0 {
		return 0, ErrEmpty
	}
	latest := math.Inf(-1)
	for i := range s.entries {
		if s.entries[i].Timestamp > latest {
			latest = s.entries[i].Timestamp
		}
	}
	return latest, nil
}
