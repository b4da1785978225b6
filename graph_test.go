package xap_test

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/goleak"

	"pipelined.dev/xap"
	"pipelined.dev/xap/event"
	"pipelined.dev/xap/log"
	"pipelined.dev/xap/mock"
)

const (
	sampleRate = 48000
	blockSize  = 128
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func newGraph(options ...xap.Option) *xap.Graph {
	return xap.New(append([]xap.Option{xap.WithLogger(log.Discard())}, options...)...)
}

func newContext(channels int) *xap.ProcessContext {
	ctx := &xap.ProcessContext{
		Frames:   blockSize,
		AudioOut: make([][]float32, channels),
	}
	for i := range ctx.AudioOut {
		ctx.AudioOut[i] = make([]float32, blockSize)
		// garbage to make sure output is overwritten
		for j := range ctx.AudioOut[i] {
			ctx.AudioOut[i][j] = -1
		}
	}
	return ctx
}

func assertOutput(t *testing.T, ctx *xap.ProcessContext, expected float32, msgAndArgs ...interface{}) {
	t.Helper()
	for c := range ctx.AudioOut {
		for i := 0; i < ctx.Frames; i++ {
			if !assert.InDelta(t, expected, ctx.AudioOut[c][i], 1e-6, msgAndArgs...) {
				return
			}
		}
	}
}

func mustAdd(t *testing.T, g *xap.Graph, p xap.Processor, name string) xap.NodeID {
	t.Helper()
	id, err := g.AddNode(p, name)
	assert.NoError(t, err)
	return id
}

func TestEndToEnd(t *testing.T) {
	g := newGraph()
	gen := mock.Generator(2, 0.5)
	sink := mock.Sink(2)
	genID := mustAdd(t, g, gen, "Gen")
	sinkID := mustAdd(t, g, sink, "Sink")
	assert.NoError(t, g.Connect(xap.Audio, genID, 0, 0, sinkID, 0, 0))
	assert.NoError(t, g.Connect(xap.Audio, genID, 0, 1, sinkID, 0, 1))
	assert.NoError(t, g.SetOutputNode(sinkID))
	assert.NoError(t, g.Activate(sampleRate, blockSize, blockSize))
	assert.Equal(t, []xap.NodeID{genID, sinkID}, g.RunOrder())

	ctx := newContext(2)
	assert.Equal(t, xap.Continue, g.Process(ctx))
	assertOutput(t, ctx, 0.5)
	assert.Equal(t, blockSize, sink.Frames)
	blocks, samples := sink.Count()
	assert.Equal(t, 1, blocks)
	assert.Equal(t, blockSize, samples)

	assert.Equal(t, xap.Continue, g.Process(ctx))
	assert.InDelta(t, float64(blockSize)/sampleRate, sink.Transport.PositionSeconds, 1e-12)

	g.Deactivate()
	assert.Equal(t, 1, gen.Started)
	assert.Equal(t, 1, gen.Stopped)
	assert.Equal(t, 1, gen.Deactivated)
}

func TestAudioSummation(t *testing.T) {
	const c = 0.3
	g := newGraph()
	gen1 := mustAdd(t, g, mock.Generator(1, c), "gen1")
	gen2 := mustAdd(t, g, mock.Generator(1, c), "gen2")
	sink := mustAdd(t, g, mock.Sink(1), "sink")
	assert.NoError(t, g.Connect(xap.Audio, gen1, 0, 0, sink, 0, 0))
	assert.NoError(t, g.Connect(xap.Audio, gen2, 0, 0, sink, 0, 0))
	assert.NoError(t, g.SetOutputNode(sink))
	assert.NoError(t, g.Activate(sampleRate, blockSize, blockSize))

	ctx := newContext(1)
	for i := 0; i < 3; i++ {
		g.Process(ctx)
		assertOutput(t, ctx, 2*c, "block %d", i)
	}
	g.Deactivate()
}

func TestOutputChannels(t *testing.T) {
	g := newGraph()
	gen := mustAdd(t, g, mock.Generator(1, 0.5), "gen")
	sink := mustAdd(t, g, mock.Sink(1), "sink")
	assert.NoError(t, g.Connect(xap.Audio, gen, 0, 0, sink, 0, 0))
	assert.NoError(t, g.SetOutputNode(sink))
	assert.NoError(t, g.Activate(sampleRate, blockSize, blockSize))

	// host has more channels than output node
	ctx := newContext(2)
	g.Process(ctx)
	for i := 0; i < blockSize; i++ {
		assert.Equal(t, float32(0.5), ctx.AudioOut[0][i])
		assert.Equal(t, float32(0), ctx.AudioOut[1][i])
	}
	g.Deactivate()
}

func TestCycle(t *testing.T) {
	g := newGraph()
	a := mustAdd(t, g, mock.Sink(1), "A")
	b := mustAdd(t, g, mock.Sink(1), "B")
	assert.NoError(t, g.Connect(xap.Audio, a, 0, 0, b, 0, 0))
	assert.NoError(t, g.Connect(xap.Audio, b, 0, 0, a, 0, 0))
	assert.NoError(t, g.SetOutputNode(b))

	err := g.Activate(sampleRate, blockSize, blockSize)
	assert.ErrorIs(t, err, xap.ErrCycle)
	var cycleErr *xap.CycleError
	assert.True(t, errors.As(err, &cycleErr))
	assert.Empty(t, g.RunOrder())

	// break the cycle
	assert.NoError(t, g.RemoveNodeInputs(a))
	assert.NoError(t, g.Activate(sampleRate, blockSize, blockSize))
	assert.Equal(t, []xap.NodeID{a, b}, g.RunOrder())
	g.Deactivate()
}

func TestCycleWhileActive(t *testing.T) {
	g := newGraph()
	gen := mustAdd(t, g, mock.Generator(1, 0.5), "gen")
	a := mustAdd(t, g, mock.Sink(1), "a")
	out := mustAdd(t, g, mock.Sink(1), "out")
	assert.NoError(t, g.Connect(xap.Audio, gen, 0, 0, a, 0, 0))
	assert.NoError(t, g.Connect(xap.Audio, a, 0, 0, out, 0, 0))
	assert.NoError(t, g.SetOutputNode(out))
	assert.NoError(t, g.Activate(sampleRate, blockSize, blockSize))

	ctx := newContext(1)
	assert.Equal(t, xap.Continue, g.Process(ctx))
	assertOutput(t, ctx, 0.5)
	assert.NoError(t, g.Collect())

	assert.NoError(t, g.Connect(xap.Audio, out, 0, 0, a, 0, 0))
	assert.Equal(t, xap.Sleep, g.Process(ctx))
	assertOutput(t, ctx, 0)
	assert.Empty(t, g.RunOrder())

	err := g.Collect()
	var cycleErr *xap.CycleError
	assert.True(t, errors.As(err, &cycleErr))
	assert.Equal(t, out, cycleErr.Node)

	// remove the back edge
	assert.NoError(t, g.RemoveNodeInput(a, 1))
	assert.Equal(t, xap.Continue, g.Process(ctx))
	assertOutput(t, ctx, 0.5)
	assert.NoError(t, g.Collect())
	g.Deactivate()
}

func TestModulation(t *testing.T) {
	const modParam xap.ParamID = 7
	tests := []struct {
		description string
		amounts     []float64
		depths      []float64
		destructive bool
		expected    event.Event
	}{
		{
			description: "additive within range",
			amounts:     []float64{0.5},
			depths:      []float64{0.5},
			expected:    event.NewParamMod(0, mock.LevelParam, 0.25),
		},
		{
			description: "additive sum is clamped to max",
			amounts:     []float64{1, 0.5},
			depths:      []float64{3, 1},
			expected:    event.NewParamMod(0, mock.LevelParam, 1),
		},
		{
			description: "additive sum is clamped to min",
			amounts:     []float64{-1},
			depths:      []float64{2},
			expected:    event.NewParamMod(0, mock.LevelParam, 0),
		},
		{
			description: "destructive",
			amounts:     []float64{0.5},
			depths:      []float64{1},
			destructive: true,
			expected:    event.NewParamValue(0, mock.LevelParam, 0.75),
		},
	}
	for _, test := range tests {
		g := newGraph()
		gen := mock.Generator(1, 0)
		genID := mustAdd(t, g, gen, "gen")
		out := mustAdd(t, g, mock.Sink(1), "out")
		assert.NoError(t, g.Connect(xap.Audio, genID, 0, 0, out, 0, 0))
		assert.NoError(t, g.SetOutputNode(out))
		for i, amount := range test.amounts {
			mod := mustAdd(t, g, mock.Modulator(modParam, amount), "mod")
			assert.NoError(t, g.ConnectModulation(mod, modParam, genID, mock.LevelParam, test.destructive, test.depths[i]))
		}
		assert.Len(t, g.ModulationConnections(), len(test.amounts))
		assert.NoError(t, g.Activate(sampleRate, blockSize, blockSize), test.description)

		g.Process(newContext(1))
		assert.Equal(t, []event.Event{test.expected}, gen.Received, test.description)
		g.Deactivate()
	}
}

func TestSetModulationDepth(t *testing.T) {
	const modParam xap.ParamID = 1
	g := newGraph()
	gen := mock.Generator(1, 0)
	genID := mustAdd(t, g, gen, "gen")
	mod := mustAdd(t, g, mock.Modulator(modParam, 0.5), "mod")
	assert.NoError(t, g.SetOutputNode(genID))
	assert.NoError(t, g.ConnectModulationByName("mod", modParam, "gen", mock.LevelParam, false, 1))
	assert.NoError(t, g.Activate(sampleRate, blockSize, blockSize))

	ctx := newContext(1)
	g.Process(ctx)
	assertOutput(t, ctx, 0.5)

	assert.NoError(t, g.SetModulationDepth(genID, 0, 0.5))
	assert.Equal(t, 0.5, g.Inputs(genID)[0].Depth)
	g.Process(ctx)
	assertOutput(t, ctx, 0.25)

	assert.ErrorIs(t, g.SetModulationDepth(genID, 1, 0.5), xap.ErrInvalidConnection)
	assert.ErrorIs(t, g.SetModulationDepth(mod, 0, 0.5), xap.ErrInvalidConnection)
	g.Deactivate()
}

func TestEventsRemap(t *testing.T) {
	forwarded := event.NewNote(event.NoteOn, 10, 1, 0, 60, 3, 0.8)
	g := newGraph()
	src := mustAdd(t, g, mock.NoteSource(2,
		event.NewNote(event.NoteOn, 0, 0, 0, 64, 1, 1),
		forwarded,
		event.NewNoteExpression(12, event.Tuning, 1, 0, 60, 3, 0.1),
		event.NewParamValue(5, 1, 0.5),
	), "notes")
	sink := mock.NoteSink(3)
	sinkID := mustAdd(t, g, sink, "sink")
	assert.NoError(t, g.Connect(xap.Events, src, 1, 0, sinkID, 2, 0))
	assert.NoError(t, g.SetOutputNode(sinkID))
	assert.NoError(t, g.Activate(sampleRate, blockSize, blockSize))

	ctx := newContext(2)
	g.Process(ctx)
	assertOutput(t, ctx, 0)
	assert.Equal(t, []event.Event{
		forwarded.WithPort(2),
		event.NewNoteExpression(12, event.Tuning, 2, 0, 60, 3, 0.1),
	}, sink.Received)
	g.Deactivate()
}

func TestEventsSorted(t *testing.T) {
	g := newGraph()
	src1 := mustAdd(t, g, mock.NoteSource(1,
		event.NewNote(event.NoteOn, 20, 0, 0, 60, 1, 1),
		event.NewNote(event.NoteOff, 100, 0, 0, 60, 1, 1),
	), "notes1")
	src2 := mustAdd(t, g, mock.NoteSource(1,
		event.NewNote(event.NoteOn, 20, 0, 0, 62, 2, 1),
		event.NewNote(event.NoteOn, 5, 0, 0, 64, 3, 1),
	), "notes2")
	sink := mock.NoteSink(1)
	sinkID := mustAdd(t, g, sink, "sink")
	assert.NoError(t, g.Connect(xap.Events, src1, 0, 0, sinkID, 0, 0))
	assert.NoError(t, g.Connect(xap.Events, src2, 0, 0, sinkID, 0, 0))
	assert.NoError(t, g.SetOutputNode(sinkID))
	assert.NoError(t, g.Activate(sampleRate, blockSize, blockSize))
	assert.NoError(t, g.EnqueueParameterChange(sinkID, xap.ParamChange{ID: 3, Value: 0.1}))

	g.Process(newContext(1))
	keys := make([]int16, 0, len(sink.Received))
	for _, e := range sink.Received {
		if e.IsNote() {
			keys = append(keys, e.Note.Key)
		}
	}
	// ties keep order of connections
	assert.Equal(t, []int16{64, 60, 62, 60}, keys)
	assert.Equal(t, event.ParamValue, sink.Received[0].Type)
	g.Deactivate()
}

func TestRemovalCascade(t *testing.T) {
	g := newGraph()
	x := mock.Generator(1, 0.25)
	xID := mustAdd(t, g, x, "X")
	zID := mustAdd(t, g, mock.Generator(1, 0.5), "Z")
	yID := mustAdd(t, g, mock.Sink(1), "Y")
	assert.NoError(t, g.Connect(xap.Audio, xID, 0, 0, yID, 0, 0))
	assert.NoError(t, g.Connect(xap.Audio, zID, 0, 0, yID, 0, 0))
	assert.NoError(t, g.SetOutputNode(yID))
	assert.NoError(t, g.Activate(sampleRate, blockSize, blockSize))

	ctx := newContext(1)
	g.Process(ctx)
	assertOutput(t, ctx, 0.75)

	assert.NoError(t, g.RemoveNode(xID))
	for _, c := range g.Inputs(yID) {
		assert.NotEqual(t, xID, c.Source)
	}
	assert.Len(t, g.Inputs(yID), 1)
	_, ok := g.Node(xID)
	assert.False(t, ok)

	// node is released only after it was removed by audio goroutine
	assert.NoError(t, g.Collect())
	assert.False(t, x.Closed)

	g.Process(ctx)
	assertOutput(t, ctx, 0.5)
	assert.Equal(t, []xap.NodeID{zID, yID}, g.RunOrder())
	assert.Equal(t, 1, x.Stopped)

	assert.NoError(t, g.Collect())
	assert.True(t, x.Closed)
	assert.Equal(t, 1, x.Deactivated)

	assert.ErrorIs(t, g.RemoveNode(yID), xap.ErrOutputNode)
	assert.ErrorIs(t, g.RemoveNode(xID), xap.ErrUnknownNode)
	g.Deactivate()
}

func TestRemoveBeforeActivate(t *testing.T) {
	g := newGraph()
	x := mock.Generator(1, 0.25)
	xID := mustAdd(t, g, x, "X")
	yID := mustAdd(t, g, mock.Sink(1), "Y")
	assert.NoError(t, g.Connect(xap.Audio, xID, 0, 0, yID, 0, 0))
	assert.NoError(t, g.SetOutputNode(yID))
	assert.NoError(t, g.RemoveNode(xID))
	assert.True(t, x.Closed)
	assert.Equal(t, 0, x.Deactivated)
	assert.Empty(t, g.Inputs(yID))
	assert.Equal(t, []xap.NodeID{yID}, g.RunOrder())
}

func TestQueuedMutations(t *testing.T) {
	g := newGraph(xap.WithQueueSize(2))
	gen1 := mustAdd(t, g, mock.Generator(1, 0.25), "gen1")
	out := mustAdd(t, g, mock.Sink(1), "out")
	assert.NoError(t, g.Connect(xap.Audio, gen1, 0, 0, out, 0, 0))
	assert.NoError(t, g.SetOutputNode(out))
	assert.NoError(t, g.Activate(sampleRate, blockSize, blockSize))

	ctx := newContext(1)
	g.Process(ctx)
	assertOutput(t, ctx, 0.25)

	gen2 := mock.Generator(1, 0.5)
	gen2ID, err := g.AddNode(gen2, "gen2")
	assert.NoError(t, err)
	assert.Equal(t, 1, gen2.Activated, "node is activated on control goroutine")
	assert.NoError(t, g.Connect(xap.Audio, gen2ID, 0, 0, out, 0, 0))

	// queue is full until next block
	_, err = g.AddNode(mock.Generator(1, 1), "gen3")
	assert.ErrorIs(t, err, xap.ErrQueueFull)
	assert.Equal(t, []xap.NodeID{gen1, out}, g.RunOrder())

	g.Process(ctx)
	assertOutput(t, ctx, 0.75)
	assert.Equal(t, []xap.NodeID{gen1, gen2ID, out}, g.RunOrder())
	assert.Equal(t, 1, gen2.Started)

	// disconnected node stops processing
	assert.NoError(t, g.RemoveNodeInput(out, 0))
	g.Process(ctx)
	assertOutput(t, ctx, 0.5)
	_, ok := g.Node(gen1)
	assert.True(t, ok, "disconnected node stays in graph")
	assert.Equal(t, []xap.NodeID{gen2ID, out}, g.RunOrder())
	g.Deactivate()
}

func TestParameterChange(t *testing.T) {
	g := newGraph(xap.WithParamQueueSize(1))
	gen := mustAdd(t, g, mock.Generator(1, 0.5), "gen")
	assert.NoError(t, g.SetOutputNode(gen))
	assert.NoError(t, g.Activate(sampleRate, blockSize, blockSize))

	assert.NoError(t, g.EnqueueParameterChange(gen, xap.ParamChange{ID: mock.LevelParam, Value: 0.125}))
	assert.ErrorIs(t, g.EnqueueParameterChange(gen, xap.ParamChange{ID: mock.LevelParam, Value: 1}), xap.ErrQueueFull)
	assert.ErrorIs(t, g.EnqueueParameterChange(100, xap.ParamChange{}), xap.ErrUnknownNode)

	ctx := newContext(1)
	g.Process(ctx)
	assertOutput(t, ctx, 0.125)
	g.Deactivate()
}

func TestProcessorError(t *testing.T) {
	g := newGraph()
	good := mustAdd(t, g, mock.Generator(1, 0.5), "good")
	failing := mock.Generator(1, 0.5)
	failing.Fail = true
	bad := mustAdd(t, g, failing, "bad")
	out := mustAdd(t, g, mock.Sink(1), "out")
	assert.NoError(t, g.Connect(xap.Audio, good, 0, 0, out, 0, 0))
	assert.NoError(t, g.Connect(xap.Audio, bad, 0, 0, out, 0, 0))
	assert.NoError(t, g.SetOutputNode(out))
	assert.NoError(t, g.Activate(sampleRate, blockSize, blockSize))

	ctx := newContext(1)
	assert.Equal(t, xap.Continue, g.Process(ctx))
	assertOutput(t, ctx, 0.5)
	g.Deactivate()
}

func TestStartError(t *testing.T) {
	g := newGraph()
	gen := mock.Generator(1, 0.5)
	gen.ErrorOnStart = errors.New("start error")
	genID := mustAdd(t, g, gen, "gen")
	out := mustAdd(t, g, mock.Sink(1), "out")
	assert.NoError(t, g.Connect(xap.Audio, genID, 0, 0, out, 0, 0))
	assert.NoError(t, g.SetOutputNode(out))
	assert.NoError(t, g.Activate(sampleRate, blockSize, blockSize))

	ctx := newContext(1)
	g.Process(ctx)
	assertOutput(t, ctx, 0)
	blocks, _ := gen.Count()
	assert.Equal(t, 0, blocks)
	g.Deactivate()
	assert.Equal(t, 0, gen.Stopped)
}

func TestActivate(t *testing.T) {
	errActivate := errors.New("activate error")
	errOther := errors.New("other error")

	assert.ErrorIs(t, newGraph().Activate(sampleRate, blockSize, blockSize), xap.ErrNoNodes)

	g := newGraph()
	ok := mock.Sink(1)
	bad1 := mock.Generator(1, 0)
	bad1.ErrorOnActivate = errActivate
	bad2 := mock.Generator(1, 0)
	bad2.ErrorOnActivate = errOther
	mustAdd(t, g, ok, "ok")
	mustAdd(t, g, bad1, "bad1")
	mustAdd(t, g, bad2, "bad2")
	err := g.Activate(sampleRate, blockSize, blockSize)
	assert.ErrorIs(t, err, errActivate)
	assert.ErrorIs(t, err, errOther)
	assert.Equal(t, 1, ok.Activated)
	assert.Equal(t, 1, ok.Deactivated)
	assert.Equal(t, 0, bad1.Deactivated)

	// not active graph produces silence
	ctx := newContext(1)
	assert.Equal(t, xap.Error, g.Process(ctx))
	assertOutput(t, ctx, 0)

	bad1.ErrorOnActivate, bad2.ErrorOnActivate = nil, nil
	assert.NoError(t, g.Activate(sampleRate, blockSize, blockSize))
	assert.ErrorIs(t, g.Activate(sampleRate, blockSize, blockSize), xap.ErrActive)
	// output node is not set
	assert.Equal(t, xap.Sleep, g.Process(ctx))
	g.Deactivate()
}

func TestConnectErrors(t *testing.T) {
	g := newGraph()
	gen := mustAdd(t, g, mock.Generator(2, 0), "gen")
	sink := mustAdd(t, g, mock.Sink(1), "sink")
	notes := mustAdd(t, g, mock.NoteSource(1), "notes")

	tests := []struct {
		description string
		connect     func() error
		expected    error
	}{
		{
			description: "unknown source",
			connect:     func() error { return g.Connect(xap.Audio, 100, 0, 0, sink, 0, 0) },
			expected:    xap.ErrUnknownNode,
		},
		{
			description: "unknown destination",
			connect:     func() error { return g.Connect(xap.Audio, gen, 0, 0, 100, 0, 0) },
			expected:    xap.ErrUnknownNode,
		},
		{
			description: "source port",
			connect:     func() error { return g.Connect(xap.Audio, gen, 1, 0, sink, 0, 0) },
			expected:    xap.ErrInvalidConnection,
		},
		{
			description: "destination channel",
			connect:     func() error { return g.Connect(xap.Audio, gen, 0, 1, sink, 0, 1) },
			expected:    xap.ErrInvalidConnection,
		},
		{
			description: "events without note ports",
			connect:     func() error { return g.Connect(xap.Events, notes, 0, 0, sink, 0, 0) },
			expected:    xap.ErrInvalidConnection,
		},
		{
			description: "modulation with connect",
			connect:     func() error { return g.Connect(xap.Modulation, gen, 0, 0, sink, 0, 0) },
			expected:    xap.ErrInvalidConnection,
		},
		{
			description: "unknown parameter",
			connect:     func() error { return g.ConnectModulation(gen, 0, sink, 5, false, 1) },
			expected:    xap.ErrInvalidConnection,
		},
		{
			description: "unknown name",
			connect:     func() error { return g.ConnectAudioByName("gen", 0, 0, "nope", 0, 0) },
			expected:    xap.ErrUnknownNode,
		},
	}
	for _, test := range tests {
		assert.ErrorIs(t, test.connect(), test.expected, test.description)
	}
	assert.Empty(t, g.Inputs(sink))

	assert.NoError(t, g.ConnectAudioByName("gen", 0, 1, "sink", 0, 0))
	assert.Len(t, g.Inputs(sink), 1)
	assert.ErrorIs(t, g.RemoveNodeInput(sink, 1), xap.ErrInvalidConnection)
	_, err := g.AddNode(mock.Sink(1), "dup", gen)
	assert.ErrorIs(t, err, xap.ErrNodeExists)
}

func TestNodes(t *testing.T) {
	g := newGraph()
	a := mustAdd(t, g, mock.Sink(2), "a")
	b, err := g.AddNode(mock.Sink(1), "b", 10)
	assert.NoError(t, err)
	assert.Equal(t, xap.NodeID(10), b)
	c := mustAdd(t, g, mock.Sink(1), "c")
	assert.Equal(t, xap.NodeID(11), c)
	assert.Equal(t, []xap.NodeID{a, b, c}, g.Nodes())

	id, ok := g.NodeByName("b")
	assert.True(t, ok)
	assert.Equal(t, b, id)
	assert.NoError(t, g.SetNodeName(b, "renamed"))
	_, ok = g.NodeByName("b")
	assert.False(t, ok)

	n, ok := g.Node(a)
	assert.True(t, ok)
	assert.Equal(t, "a", n.Name())
	assert.Equal(t, "sink", n.ProcessorName())
	// 2 input channels, 2 output channels and modulation input
	assert.Len(t, n.Pins(), 5)

	_, ok = g.OutputNode()
	assert.False(t, ok)
}

func TestLastTouched(t *testing.T) {
	g := newGraph()
	knob := mock.Generator(1, 0)
	knob.Emit = []event.Event{
		event.NewGesture(0, 4, true),
		event.NewParamValue(1, 4, 0.7),
	}
	id := mustAdd(t, g, knob, "knob")
	assert.NoError(t, g.SetOutputNode(id))
	assert.NoError(t, g.Activate(sampleRate, blockSize, blockSize))

	_, _, _, ok := g.LastTouched()
	assert.False(t, ok)
	g.Process(newContext(1))
	node, param, value, ok := g.LastTouched()
	assert.True(t, ok)
	assert.Equal(t, id, node)
	assert.Equal(t, xap.ParamID(4), param)
	assert.Equal(t, 0.7, value)
	g.Deactivate()
}

func TestParamsRescan(t *testing.T) {
	g := newGraph()
	gen := mock.Generator(1, 0)
	id := mustAdd(t, g, gen, "gen")
	n, _ := g.Node(id)
	_, ok := n.Param(9)
	assert.False(t, ok)

	gen.Params = append(gen.Params, xap.ParamInfo{ID: 9, Name: "new", Max: 1})
	gen.RescanParams = true
	assert.NoError(t, g.Collect())
	info, ok := n.Param(9)
	assert.True(t, ok)
	assert.Equal(t, "new", info.Name)
}

func TestFactory(t *testing.T) {
	xap.Register("test.sink", func() xap.Processor { return mock.Sink(1) })
	p, err := xap.Create("test.sink")
	assert.NoError(t, err)
	assert.Equal(t, 1, p.AudioPortsCount(true))
	assert.Contains(t, xap.Registered(), "test.sink")

	_, err = xap.Create("test.unknown")
	assert.ErrorIs(t, err, xap.ErrUnknownProcessor)
}

func TestConcurrentMutations(t *testing.T) {
	g := newGraph(xap.WithQueueSize(4))
	base := mustAdd(t, g, mock.Generator(1, 0.5), "base")
	out := mustAdd(t, g, mock.Sink(1), "out")
	assert.NoError(t, g.Connect(xap.Audio, base, 0, 0, out, 0, 0))
	assert.NoError(t, g.SetOutputNode(out))
	assert.NoError(t, g.Activate(sampleRate, blockSize, blockSize))

	var (
		wg   sync.WaitGroup
		done atomic.Bool
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		ctx := newContext(1)
		for !done.Load() {
			g.Process(ctx)
			runtime.Gosched()
		}
	}()

	retry := func(fn func() error) error {
		for {
			err := fn()
			if !errors.Is(err, xap.ErrQueueFull) {
				return err
			}
			if err := g.Collect(); err != nil {
				return err
			}
			runtime.Gosched()
		}
	}

	removed := make([]*mock.Processor, 0, 50)
	for i := 0; i < 50; i++ {
		gen := mock.Generator(1, 0.1)
		var id xap.NodeID
		assert.NoError(t, retry(func() (err error) {
			id, err = g.AddNode(gen, "gen")
			return err
		}))
		assert.NoError(t, retry(func() error {
			return g.Connect(xap.Audio, id, 0, 0, out, 0, 0)
		}))
		assert.NoError(t, retry(func() error {
			return g.EnqueueParameterChange(id, xap.ParamChange{ID: mock.LevelParam, Value: 0.2})
		}))
		assert.NoError(t, retry(func() error {
			return g.RemoveNode(id)
		}))
		removed = append(removed, gen)
		assert.NoError(t, g.Collect())
	}

	done.Store(true)
	wg.Wait()
	g.Deactivate()

	for _, gen := range removed {
		assert.True(t, gen.Closed)
		assert.Equal(t, gen.Started, gen.Stopped)
	}
	assert.Equal(t, []xap.NodeID{base, out}, g.Nodes())
	assert.Len(t, g.Inputs(out), 1)
}

func TestModulationTime(t *testing.T) {
	const modParam xap.ParamID = 7
	g := newGraph()
	gen := mock.Generator(1, 0)
	genID := mustAdd(t, g, gen, "gen")
	mod := mustAdd(t, g, &mock.Processor{
		Name: "modulator",
		Emit: []event.Event{event.NewParamMod(10, modParam, 0.5)},
	}, "mod")
	assert.NoError(t, g.ConnectModulation(mod, modParam, genID, mock.LevelParam, true, 1))
	assert.NoError(t, g.SetOutputNode(genID))
	assert.NoError(t, g.Activate(sampleRate, blockSize, blockSize))

	g.Process(newContext(1))
	assert.Equal(t, []event.Event{event.NewParamValue(10, mock.LevelParam, 0.75)}, gen.Received)
	g.Deactivate()
}

func TestProcessDoesNotAllocate(t *testing.T) {
	const connections = 40
	var before, after runtime.MemStats
	g := newGraph()
	gen := mustAdd(t, g, mock.Generator(1, 0.25), "gen")
	out := mustAdd(t, g, mock.Sink(1), "out")
	assert.NoError(t, g.SetOutputNode(out))
	assert.NoError(t, g.Activate(sampleRate, blockSize, blockSize))
	ctx := newContext(1)
	g.Process(ctx)

	// more inputs than initial capacity
	for i := 0; i < connections; i++ {
		assert.NoError(t, g.Connect(xap.Audio, gen, 0, 0, out, 0, 0))
	}
	runtime.ReadMemStats(&before)
	g.Process(ctx)
	runtime.ReadMemStats(&after)
	assert.Equal(t, uint64(0), after.Mallocs-before.Mallocs)
	assertOutput(t, ctx, 0.25*connections)
	assert.Len(t, g.Inputs(out), connections)
	g.Deactivate()
}

func TestNodeCapacity(t *testing.T) {
	g := newGraph(xap.WithNodeCapacity(2))
	gen := mustAdd(t, g, mock.Generator(1, 0.5), "gen")
	out := mustAdd(t, g, mock.Sink(1), "out")
	assert.NoError(t, g.SetOutputNode(out))
	assert.NoError(t, g.Activate(sampleRate, blockSize, blockSize))

	assert.NoError(t, g.RemoveNode(gen))
	_, err := g.AddNode(mock.Generator(1, 0.5), "gen2")
	assert.ErrorIs(t, err, xap.ErrNodeCapacity, "removed node is held until released")

	g.Process(newContext(1))
	assert.NoError(t, g.Collect())
	_, err = g.AddNode(mock.Generator(1, 0.5), "gen2")
	assert.NoError(t, err)
	g.Deactivate()
}
