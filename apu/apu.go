// Package apu provides basic processors and registers them in the xap
// factory.
package apu

import (
	"math"
	"sync/atomic"

	"pipelined.dev/xap"
	"pipelined.dev/xap/event"
	"pipelined.dev/xap/internal/fifo"
)

// Factory ids of processors.
const (
	SynthID = "xap.synth"
	GainID  = "xap.gain"
	LFOID   = "xap.lfo"
)

const changesSize = 64

func init() {
	xap.Register(SynthID, func() xap.Processor { return NewSynth() })
	xap.Register(GainID, func() xap.Processor { return NewGain() })
	xap.Register(LFOID, func() xap.Processor { return NewLFO() })
}

// params keeps parameter values of a processor. Parameter ids must be
// indices in the info slice. Values are written by the audio goroutine and
// read by the control goroutine.
type params struct {
	info    []xap.ParamInfo
	values  []atomic.Uint64
	mods    []float64
	changes *fifo.Queue[xap.ParamChange]
}

func newParams(info ...xap.ParamInfo) params {
	p := params{
		info:    info,
		values:  make([]atomic.Uint64, len(info)),
		mods:    make([]float64, len(info)),
		changes: fifo.New[xap.ParamChange](changesSize),
	}
	for i := range info {
		p.values[i].Store(math.Float64bits(info[i].Default))
	}
	return p
}

func (p *params) set(id xap.ParamID, v float64) {
	if int(id) < len(p.values) {
		p.values[id].Store(math.Float64bits(p.info[id].Clamp(v)))
	}
}

// value returns modulated value clamped to the parameter range.
func (p *params) value(id xap.ParamID) float64 {
	v := math.Float64frombits(p.values[id].Load()) + p.mods[id]
	return p.info[id].Clamp(v)
}

// apply drains enqueued changes and applies parameter events. Modulation
// is reset every block.
func (p *params) apply(events []event.Event) {
	clear(p.mods)
	for {
		c, ok := p.changes.Pop()
		if !ok {
			break
		}
		p.set(c.ID, c.Value)
	}
	for _, e := range events {
		switch e.Type {
		case event.ParamValue:
			p.set(e.Param.ID, e.Param.Value)
		case event.ParamMod:
			if int(e.Param.ID) < len(p.mods) {
				p.mods[e.Param.ID] = e.Param.Value
			}
		}
	}
}

// ParamsCount implements xap.Processor.
func (p *params) ParamsCount() int {
	return len(p.info)
}

// ParamInfo implements xap.Processor.
func (p *params) ParamInfo(index int) (xap.ParamInfo, bool) {
	if index < 0 || index >= len(p.info) {
		return xap.ParamInfo{}, false
	}
	return p.info[index], true
}

// ParamValue implements xap.Processor.
func (p *params) ParamValue(id xap.ParamID) (float64, bool) {
	if int(id) >= len(p.values) {
		return 0, false
	}
	return math.Float64frombits(p.values[id].Load()), true
}

// EnqueueParameterChange implements xap.Processor.
func (p *params) EnqueueParameterChange(c xap.ParamChange) bool {
	if int(c.ID) >= len(p.info) {
		return false
	}
	return p.changes.Push(c)
}

// lifecycle provides no-op lifecycle methods.
type lifecycle struct {
	sampleRate float64
}

// Activate implements xap.Processor.
func (l *lifecycle) Activate(sampleRate float64, _, _ int) error {
	l.sampleRate = sampleRate
	return nil
}

// Deactivate implements xap.Processor.
func (*lifecycle) Deactivate() {}

// StartProcessing implements xap.Processor.
func (*lifecycle) StartProcessing() error { return nil }

// StopProcessing implements xap.Processor.
func (*lifecycle) StopProcessing() {}

func portInfo(ports []xap.PortInfo, index int) (xap.PortInfo, bool) {
	if index < 0 || index >= len(ports) {
		return xap.PortInfo{}, false
	}
	return ports[index], true
}
