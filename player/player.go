// Package player provides a processor that plays event sequences.
package player

import (
	"errors"
	"math"
	"sync/atomic"

	"pipelined.dev/xap"
	"pipelined.dev/xap/event"
	"pipelined.dev/xap/sequence"
)

// ErrNoSequence is returned when player is activated without sequence.
var ErrNoSequence = errors.New("player has no sequence")

const noSeek = -1

// Player emits events of a sorted sequence on its single note output port.
// Note, expression and MIDI events are sent to port 0. Events are
// timestamped with their offset within the block.
//
// Sequence must not be modified while player is active.
type Player struct {
	seq      *sequence.Sequence
	it       *sequence.SampleIterator
	end      int64
	seek     atomic.Int64
	position atomic.Int64
}

// New returns a player of provided sequence. Sequence is sorted.
func New(s *sequence.Sequence) *Player {
	p := &Player{seq: s}
	p.seek.Store(noSeek)
	return p
}

// Seek moves playback to provided time in seconds. It's safe to call
// while graph is processing, position is applied at the next block.
func (p *Player) Seek(seconds float64) {
	if seconds < 0 {
		seconds = 0
	}
	p.seek.Store(int64(seconds * p.sampleRate()))
}

// Position returns playback position in samples.
func (p *Player) Position() int64 {
	return p.position.Load()
}

// Done returns true when all events were played.
func (p *Player) Done() bool {
	return p.it != nil && p.position.Load() > p.end
}

func (p *Player) sampleRate() float64 {
	if p.it == nil {
		return 0
	}
	return p.it.SampleRate()
}

// Descriptor implements xap.Describer.
func (p *Player) Descriptor() xap.Descriptor {
	return xap.Descriptor{ID: "xap.player", Name: "sequence player"}
}

// Activate implements xap.Processor.
func (p *Player) Activate(sampleRate float64, _, _ int) error {
	if p.seq == nil {
		return ErrNoSequence
	}
	p.seq.SortEvents()
	p.it = p.seq.NewSampleIterator(sampleRate)
	p.end = -1
	if last, err := p.seq.MaxEventTime(); err == nil {
		p.end = int64(math.Floor(last * sampleRate))
	}
	p.position.Store(0)
	return nil
}

// Deactivate implements xap.Processor.
func (p *Player) Deactivate() {}

// StartProcessing implements xap.Processor.
func (p *Player) StartProcessing() error { return nil }

// StopProcessing implements xap.Processor.
func (p *Player) StopProcessing() {}

// Process implements xap.Processor.
func (p *Player) Process(proc *xap.Process) xap.Status {
	if pos := p.seek.Swap(noSeek); pos != noSeek {
		p.it.SetTime(pos)
	}
	start := p.it.Time()
	for _, e := range p.it.ReadNextEvents(proc.Frames) {
		offset := int64(math.Floor(e.Timestamp*p.it.SampleRate())) - start
		if offset < 0 {
			offset = 0
		}
		if offset >= int64(proc.Frames) {
			offset = int64(proc.Frames) - 1
		}
		ev := e.Event
		ev.Time = uint32(offset)
		if ev.IsNote() || ev.Type == event.NoteExpression || ev.Type == event.MIDI {
			ev = ev.WithPort(0)
		}
		proc.OutEvents.TryPush(ev)
	}
	p.position.Store(p.it.Time())
	if p.it.Time() > p.end {
		return xap.Sleep
	}
	return xap.Continue
}

// AudioPortsCount implements xap.Processor.
func (p *Player) AudioPortsCount(bool) int { return 0 }

// AudioPortInfo implements xap.Processor.
func (p *Player) AudioPortInfo(int, bool) (xap.PortInfo, bool) { return xap.PortInfo{}, false }

// NotePortsCount implements xap.Processor.
func (p *Player) NotePortsCount(isInput bool) int {
	if isInput {
		return 0
	}
	return 1
}

// NotePortInfo implements xap.Processor.
func (p *Player) NotePortInfo(index int, isInput bool) (xap.PortInfo, bool) {
	if isInput || index != 0 {
		return xap.PortInfo{}, false
	}
	return xap.PortInfo{Name: "notes"}, true
}

// ParamsCount implements xap.Processor.
func (p *Player) ParamsCount() int { return 0 }

// ParamInfo implements xap.Processor.
func (p *Player) ParamInfo(int) (xap.ParamInfo, bool) { return xap.ParamInfo{}, false }

// ParamValue implements xap.Processor.
func (p *Player) ParamValue(xap.ParamID) (float64, bool) { return 0, false }

// EnqueueParameterChange implements xap.Processor.
func (p *Player) EnqueueParameterChange(xap.ParamChange) bool { return false }
