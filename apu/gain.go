package apu

import "pipelined.dev/xap"

// GainAmount is the gain parameter.
const GainAmount xap.ParamID = 0

// Gain multiplies stereo input by the gain parameter.
type Gain struct {
	lifecycle
	params
}

// NewGain returns a new gain processor with unity gain.
func NewGain() *Gain {
	return &Gain{
		params: newParams(xap.ParamInfo{ID: GainAmount, Name: "gain", Min: 0, Max: 2, Default: 1}),
	}
}

// Descriptor implements xap.Describer.
func (g *Gain) Descriptor() xap.Descriptor {
	return xap.Descriptor{ID: GainID, Name: "gain", Vendor: "xap"}
}

// Process implements xap.Processor.
func (g *Gain) Process(p *xap.Process) xap.Status {
	g.apply(p.InEvents)
	gain := float32(g.value(GainAmount))
	in, out := p.AudioIn[0], p.AudioOut[0]
	for c := range out {
		for i := 0; i < p.Frames; i++ {
			out[c][i] = in[c][i] * gain
		}
	}
	return xap.Continue
}

// AudioPortsCount implements xap.Processor.
func (g *Gain) AudioPortsCount(bool) int { return 1 }

// AudioPortInfo implements xap.Processor.
func (g *Gain) AudioPortInfo(index int, isInput bool) (xap.PortInfo, bool) {
	name := "out"
	if isInput {
		name = "in"
	}
	return portInfo([]xap.PortInfo{{Name: name, Channels: channels}}, index)
}

// NotePortsCount implements xap.Processor.
func (g *Gain) NotePortsCount(bool) int { return 0 }

// NotePortInfo implements xap.Processor.
func (g *Gain) NotePortInfo(int, bool) (xap.PortInfo, bool) { return xap.PortInfo{}, false }
