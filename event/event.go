/*
Package event defines the timestamped units of information exchanged
between audio processing units.

Event is a fixed-size value type: it can be copied into pre-allocated
buffers on the audio goroutine without allocations. The Type field of the
header tells which payload is meaningful, all other payloads are zero.

Time is a block-relative offset in samples. SpaceID distinguishes standard
events (CoreSpace) from events of custom namespaces.
*/
package event

import (
	"fmt"
	"math"

	"gitlab.com/gomidi/midi/v2"
)

// Type identifies the payload of an event.
type Type uint16

// Event types.
const (
	NoteOn Type = iota
	NoteOff
	NoteChoke
	NoteEnd
	NoteExpression
	ParamValue
	ParamMod
	ParamGestureBegin
	ParamGestureEnd
	Transport
	MIDI
	String
)

// CoreSpace is the namespace of standard events.
const CoreSpace uint16 = 0

// CustomSpace is the namespace used for events which are not part of the
// standard set, like string messages.
const CustomSpace uint16 = 666

const (
	// AnyNoteID matches any note id.
	AnyNoteID int32 = -1
	// Any matches any port, channel or key.
	Any int16 = -1
)

type (
	// ParamID identifies a parameter of a processing unit.
	ParamID uint32

	// ExpressionID identifies a per-note expression.
	ExpressionID int32

	// TransportFlags describe which transport fields are valid.
	TransportFlags uint32
)

// InvalidParamID is used when parameter is not set.
const InvalidParamID ParamID = math.MaxUint32

// Note expressions.
const (
	Volume ExpressionID = iota
	Pan
	Tuning
	Vibrato
	Expression
	Brightness
	Pressure
)

// Transport flags.
const (
	HasTempo TransportFlags = 1 << iota
	HasBeatsTimeline
	HasSecondsTimeline
	HasTimeSignature
	IsPlaying
	IsRecording
	IsLoopActive
)

type (
	// Header is common for all events.
	Header struct {
		Time    uint32
		SpaceID uint16
		Type    Type
		Flags   uint32
	}

	// NotePayload carries NoteOn, NoteOff, NoteChoke and NoteEnd data.
	NotePayload struct {
		Port     int16
		Channel  int16
		Key      int16
		NoteID   int32
		Velocity float64
	}

	// ExpressionPayload carries per-note expression data.
	ExpressionPayload struct {
		ID      ExpressionID
		Port    int16
		Channel int16
		Key     int16
		NoteID  int32
		Value   float64
	}

	// ParamPayload carries parameter value, modulation and gesture data.
	// For ParamMod events Value is the modulation amount.
	ParamPayload struct {
		ID      ParamID
		Cookie  uintptr
		Port    int16
		Channel int16
		Key     int16
		NoteID  int32
		Value   float64
	}

	// MIDIPayload is a raw MIDI 1.0 channel message. Len is the number of
	// bytes used in Data.
	MIDIPayload struct {
		Port uint16
		Data [3]byte
		Len  uint8
	}

	// TransportPayload describes the transport state.
	TransportPayload struct {
		Flags           TransportFlags
		Tempo           float64
		PositionSeconds float64
		PositionBeats   float64
	}

	// StringPayload references a string stored outside of the event.
	StringPayload struct {
		Target int32
		ID     int32
	}

	// Event is a tagged union of all payloads.
	Event struct {
		Header
		Note       NotePayload
		Expression ExpressionPayload
		Param      ParamPayload
		MIDI       MIDIPayload
		Transport  TransportPayload
		Str        StringPayload
	}
)

// NewNote returns a note event. Type must be one of NoteOn, NoteOff,
// NoteChoke or NoteEnd.
func NewNote(t Type, time uint32, port, channel, key int16, noteID int32, velocity float64) Event {
	return Event{
		Header: Header{Time: time, SpaceID: CoreSpace, Type: t},
		Note: NotePayload{
			Port:     port,
			Channel:  channel,
			Key:      key,
			NoteID:   noteID,
			Velocity: velocity,
		},
	}
}

// NewNoteExpression returns a note expression event.
func NewNoteExpression(time uint32, id ExpressionID, port, channel, key int16, noteID int32, value float64) Event {
	return Event{
		Header: Header{Time: time, SpaceID: CoreSpace, Type: NoteExpression},
		Expression: ExpressionPayload{
			ID:      id,
			Port:    port,
			Channel: channel,
			Key:     key,
			NoteID:  noteID,
			Value:   value,
		},
	}
}

// NewParamValue returns a global parameter value event.
func NewParamValue(time uint32, id ParamID, value float64) Event {
	return newParam(ParamValue, time, id, value)
}

// NewParamMod returns a global parameter modulation event.
func NewParamMod(time uint32, id ParamID, amount float64) Event {
	return newParam(ParamMod, time, id, amount)
}

// NewGesture returns a gesture event. Begin selects ParamGestureBegin,
// otherwise ParamGestureEnd is returned.
func NewGesture(time uint32, id ParamID, begin bool) Event {
	t := ParamGestureEnd
	if begin {
		t = ParamGestureBegin
	}
	return newParam(t, time, id, 0)
}

func newParam(t Type, time uint32, id ParamID, value float64) Event {
	return Event{
		Header: Header{Time: time, SpaceID: CoreSpace, Type: t},
		Param: ParamPayload{
			ID:      id,
			Port:    Any,
			Channel: Any,
			Key:     Any,
			NoteID:  AnyNoteID,
			Value:   value,
		},
	}
}

// NewTransport returns a transport event.
func NewTransport(time uint32, t TransportPayload) Event {
	return Event{
		Header:    Header{Time: time, SpaceID: CoreSpace, Type: Transport},
		Transport: t,
	}
}

// NewMIDI returns a raw MIDI event. Only first three bytes of the message
// are kept, longer messages like sysex can't be carried.
func NewMIDI(time uint32, port uint16, msg midi.Message) Event {
	e := Event{
		Header: Header{Time: time, SpaceID: CoreSpace, Type: MIDI},
		MIDI:   MIDIPayload{Port: port},
	}
	e.MIDI.Len = uint8(copy(e.MIDI.Data[:], msg.Bytes()))
	return e
}

// NewString returns an event referencing a string by id.
func NewString(time uint32, target, id int32) Event {
	return Event{
		Header: Header{Time: time, SpaceID: CustomSpace, Type: String},
		Str:    StringPayload{Target: target, ID: id},
	}
}

// MIDIMessage returns the raw MIDI payload as a message.
func (e Event) MIDIMessage() midi.Message {
	return midi.Message(e.MIDI.Data[:e.MIDI.Len])
}

// IsNote returns true for NoteOn, NoteOff, NoteChoke and NoteEnd events.
func (e Event) IsNote() bool {
	switch e.Type {
	case NoteOn, NoteOff, NoteChoke, NoteEnd:
		return true
	}
	return false
}

// Port returns the port index of note, expression, parameter and MIDI
// events. For other events -1 is returned.
func (e Event) Port() int {
	switch {
	case e.IsNote():
		return int(e.Note.Port)
	case e.Type == NoteExpression:
		return int(e.Expression.Port)
	case e.Type == ParamValue, e.Type == ParamMod:
		return int(e.Param.Port)
	case e.Type == MIDI:
		return int(e.MIDI.Port)
	}
	return -1
}

// WithPort returns a copy of the event with the port index replaced. Events
// without port are returned unchanged.
func (e Event) WithPort(port int) Event {
	switch {
	case e.IsNote():
		e.Note.Port = int16(port)
	case e.Type == NoteExpression:
		e.Expression.Port = int16(port)
	case e.Type == ParamValue, e.Type == ParamMod:
		e.Param.Port = int16(port)
	case e.Type == MIDI:
		e.MIDI.Port = uint16(port)
	}
	return e
}

func (t Type) String() string {
	switch t {
	case NoteOn:
		return "NoteOn"
	case NoteOff:
		return "NoteOff"
	case NoteChoke:
		return "NoteChoke"
	case NoteEnd:
		return "NoteEnd"
	case NoteExpression:
		return "NoteExpression"
	case ParamValue:
		return "ParamValue"
	case ParamMod:
		return "ParamMod"
	case ParamGestureBegin:
		return "ParamGestureBegin"
	case ParamGestureEnd:
		return "ParamGestureEnd"
	case Transport:
		return "Transport"
	case MIDI:
		return "MIDI"
	case String:
		return "String"
	}
	return fmt.Sprintf("Type(%d)", uint16(t))
}

func (e Event) String() string {
	switch {
	case e.IsNote():
		return fmt.Sprintf("%v{time:%d, port:%d, ch:%d, key:%d, id:%d, vel:%.3f}",
			e.Type, e.Time, e.Note.Port, e.Note.Channel, e.Note.Key, e.Note.NoteID, e.Note.Velocity)
	case e.Type == NoteExpression:
		return fmt.Sprintf("%v{time:%d, expr:%d, key:%d, id:%d, val:%.3f}",
			e.Type, e.Time, e.Expression.ID, e.Expression.Key, e.Expression.NoteID, e.Expression.Value)
	case e.Type == ParamValue, e.Type == ParamMod, e.Type == ParamGestureBegin, e.Type == ParamGestureEnd:
		return fmt.Sprintf("%v{time:%d, param:%d, val:%.3f}", e.Type, e.Time, e.Param.ID, e.Param.Value)
	case e.Type == MIDI:
		return fmt.Sprintf("%v{time:%d, port:%d, %v}", e.Type, e.Time, e.MIDI.Port, e.MIDIMessage())
	case e.Type == Transport:
		return fmt.Sprintf("%v{time:%d, tempo:%.2f, pos:%.3fs}", e.Type, e.Time, e.Transport.Tempo, e.Transport.PositionSeconds)
	}
	return fmt.Sprintf("%v{time:%d}", e.Type, e.Time)
}
