package apu

import (
	"math"

	"pipelined.dev/xap"
	"pipelined.dev/xap/event"
)

// LFO parameters. LFOOutput is the modulation source, its value is ignored.
const (
	LFORate xap.ParamID = iota
	LFODepth
	LFOOutput
)

// LFO is a sine modulation source. Every block it emits modulation of
// LFOOutput parameter in range [-depth, depth].
type LFO struct {
	lifecycle
	params
	phase float64
}

// NewLFO returns a new 1 Hz LFO.
func NewLFO() *LFO {
	return &LFO{
		params: newParams(
			xap.ParamInfo{ID: LFORate, Name: "rate", Min: 0.01, Max: 20, Default: 1},
			xap.ParamInfo{ID: LFODepth, Name: "depth", Min: 0, Max: 1, Default: 1},
			xap.ParamInfo{ID: LFOOutput, Name: "output", Min: -1, Max: 1},
		),
	}
}

// Descriptor implements xap.Describer.
func (l *LFO) Descriptor() xap.Descriptor {
	return xap.Descriptor{ID: LFOID, Name: "lfo", Vendor: "xap"}
}

// Activate implements xap.Processor.
func (l *LFO) Activate(sampleRate float64, minFrames, maxFrames int) error {
	l.phase = 0
	return l.lifecycle.Activate(sampleRate, minFrames, maxFrames)
}

// Process implements xap.Processor.
func (l *LFO) Process(p *xap.Process) xap.Status {
	l.apply(p.InEvents)
	amount := l.value(LFODepth) * math.Sin(2*math.Pi*l.phase)
	p.OutEvents.TryPush(event.NewParamMod(0, LFOOutput, amount))
	l.phase += l.value(LFORate) * float64(p.Frames) / l.sampleRate
	l.phase -= math.Floor(l.phase)
	return xap.Continue
}

// AudioPortsCount implements xap.Processor.
func (l *LFO) AudioPortsCount(bool) int { return 0 }

// AudioPortInfo implements xap.Processor.
func (l *LFO) AudioPortInfo(int, bool) (xap.PortInfo, bool) { return xap.PortInfo{}, false }

// NotePortsCount implements xap.Processor.
func (l *LFO) NotePortsCount(bool) int { return 0 }

// NotePortInfo implements xap.Processor.
func (l *LFO) NotePortInfo(int, bool) (xap.PortInfo, bool) { return xap.PortInfo{}, false }
