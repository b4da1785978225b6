package apu_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/gomidi/midi/v2"

	"pipelined.dev/xap"
	"pipelined.dev/xap/apu"
	"pipelined.dev/xap/event"
	"pipelined.dev/xap/log"
)

const (
	sampleRate = 48000
	blockSize  = 64
)

func newProcess(inputs, outputs int) *xap.Process {
	buffers := func(ports int) [][][]float32 {
		b := make([][][]float32, ports)
		for i := range b {
			b[i] = [][]float32{make([]float32, blockSize), make([]float32, blockSize)}
		}
		return b
	}
	return &xap.Process{
		Frames:    blockSize,
		AudioIn:   buffers(inputs),
		AudioOut:  buffers(outputs),
		OutEvents: event.NewList(16),
	}
}

func TestFactory(t *testing.T) {
	for _, id := range []string{apu.SynthID, apu.GainID, apu.LFOID} {
		p, err := xap.Create(id)
		require.NoError(t, err)
		d, ok := p.(xap.Describer)
		require.True(t, ok)
		assert.Equal(t, id, d.Descriptor().ID)
		assert.Contains(t, xap.Registered(), id)
	}
}

func TestGain(t *testing.T) {
	tests := []struct {
		msg      string
		change   float64
		events   []event.Event
		expected float32
	}{
		{msg: "default", expected: 1},
		{msg: "change", change: 0.5, expected: 0.5},
		{msg: "modulation", change: 0.5, events: []event.Event{event.NewParamMod(0, apu.GainAmount, 0.25)}, expected: 0.75},
		{msg: "clamp", events: []event.Event{event.NewParamValue(0, apu.GainAmount, 5)}, expected: 2},
	}
	for _, test := range tests {
		g := apu.NewGain()
		require.NoError(t, g.Activate(sampleRate, 1, blockSize))
		if test.change != 0 {
			assert.True(t, g.EnqueueParameterChange(xap.ParamChange{ID: apu.GainAmount, Value: test.change}))
		}
		p := newProcess(1, 1)
		for c := range p.AudioIn[0] {
			for i := range p.AudioIn[0][c] {
				p.AudioIn[0][c][i] = 1
			}
		}
		p.InEvents = test.events
		assert.Equal(t, xap.Continue, g.Process(p), test.msg)
		for c := range p.AudioOut[0] {
			assert.InDelta(t, test.expected, p.AudioOut[0][c][blockSize-1], 1e-6, test.msg)
		}
	}
	g := apu.NewGain()
	assert.False(t, g.EnqueueParameterChange(xap.ParamChange{ID: 7, Value: 1}))
	_, ok := g.ParamValue(7)
	assert.False(t, ok)
}

func TestSynth(t *testing.T) {
	s := apu.NewSynth()
	require.NoError(t, s.Activate(sampleRate, 1, blockSize))
	p := newProcess(0, 1)

	assert.Equal(t, xap.ContinueIfNotQuiet, s.Process(p))
	assert.Equal(t, make([]float32, blockSize), p.AudioOut[0][0])

	p.InEvents = []event.Event{event.NewNote(event.NoteOn, 10, 0, 0, 69, 1, 1)}
	assert.Equal(t, xap.Continue, s.Process(p))
	out := p.AudioOut[0][0]
	assert.Equal(t, make([]float32, 11), out[:11], "silent until note starts")
	// 440 Hz at 48 kHz, level 0.5
	expected := 0.5 * math.Sin(2*math.Pi*440/sampleRate)
	assert.InDelta(t, expected, out[11], 1e-6)
	assert.Equal(t, p.AudioOut[0][0], p.AudioOut[0][1])

	p.InEvents = []event.Event{event.NewNote(event.NoteChoke, 0, 0, 0, 69, 1, 0)}
	assert.Equal(t, xap.ContinueIfNotQuiet, s.Process(p))
	assert.Equal(t, make([]float32, blockSize), p.AudioOut[0][0])

	p.InEvents = []event.Event{event.NewMIDI(0, 0, midi.NoteOn(0, 60, 127))}
	assert.Equal(t, xap.Continue, s.Process(p))
	assert.NotZero(t, p.AudioOut[0][0][1])

	// default release is 50ms
	p.InEvents = []event.Event{event.NewMIDI(0, 0, midi.NoteOff(0, 60))}
	status := s.Process(p)
	p.InEvents = nil
	for i := 0; i < 100 && status == xap.Continue; i++ {
		status = s.Process(p)
	}
	assert.Equal(t, xap.ContinueIfNotQuiet, status, "voice is released")
}

func TestLFO(t *testing.T) {
	l := apu.NewLFO()
	require.NoError(t, l.Activate(sampleRate, 1, blockSize))
	p := newProcess(0, 0)

	l.Process(p)
	e, ok := p.OutEvents.Last()
	require.True(t, ok)
	assert.Equal(t, event.ParamMod, e.Type)
	assert.Equal(t, apu.LFOOutput, e.Param.ID)
	assert.InDelta(t, 0, e.Param.Value, 1e-9)

	p.OutEvents.Clear()
	l.Process(p)
	e, _ = p.OutEvents.Last()
	assert.InDelta(t, math.Sin(2*math.Pi*blockSize/sampleRate), e.Param.Value, 1e-9)
}

func TestGraph(t *testing.T) {
	g := xap.New(xap.WithLogger(log.Discard()))
	lfo, err := g.AddNode(apu.NewLFO(), "lfo")
	require.NoError(t, err)
	synth, err := g.AddNode(apu.NewSynth(), "synth")
	require.NoError(t, err)
	gain, err := g.AddNode(apu.NewGain(), "gain")
	require.NoError(t, err)
	require.NoError(t, g.Connect(xap.Audio, synth, 0, 0, gain, 0, 0))
	require.NoError(t, g.Connect(xap.Audio, synth, 0, 1, gain, 0, 1))
	require.NoError(t, g.ConnectModulation(lfo, apu.LFOOutput, gain, apu.GainAmount, false, 1))
	require.NoError(t, g.SetOutputNode(gain))
	require.NoError(t, g.Activate(sampleRate, 1, blockSize))
	defer g.Deactivate()

	order := g.RunOrder()
	assert.ElementsMatch(t, []xap.NodeID{lfo, synth, gain}, order)
	assert.Equal(t, gain, order[len(order)-1])
	ctx := &xap.ProcessContext{Frames: blockSize, AudioOut: [][]float32{make([]float32, blockSize), make([]float32, blockSize)}}
	assert.Equal(t, xap.Continue, g.Process(ctx))
	assert.Equal(t, make([]float32, blockSize), ctx.AudioOut[0])
}
