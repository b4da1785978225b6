// Package mock provides mocks of processors and allows to execute
// integration tests of graphs.
package mock

import (
	"bufio"
	"fmt"
	"io"

	"pipelined.dev/xap"
	"pipelined.dev/xap/event"
	"pipelined.dev/xap/internal/fifo"
)

const changesSize = 64

// LevelParam is the parameter that controls generator output level.
const LevelParam xap.ParamID = 0

// Processor mocks xap.Processor interface. It's not safe to check its
// fields while graph is processing.
type Processor struct {
	counter
	Hooks

	Name         string
	AudioInputs  []xap.PortInfo
	AudioOutputs []xap.PortInfo
	NoteInputs   []xap.PortInfo
	NoteOutputs  []xap.PortInfo
	Params       []xap.ParamInfo

	// Fail makes processor to fill outputs with ones and return error
	// status.
	Fail bool
	// RescanParams is reported once by ParamsRescanRequested.
	RescanParams bool
	// Emit events are sent to output every block.
	Emit []event.Event
	// OnProcess is called after parameter events are applied.
	OnProcess func(m *Processor, p *xap.Process)

	// Received are all events processor received.
	Received  []event.Event
	Transport event.TransportPayload
	Frames    int

	SampleRate float64
	values     map[xap.ParamID]float64
	mods       map[xap.ParamID]float64
	changes    *fifo.Queue[xap.ParamChange]
}

// Hooks allows to mock processor lifecycle.
type Hooks struct {
	Activated   int
	Deactivated int
	Started     int
	Stopped     int
	Closed      bool

	ErrorOnActivate error
	ErrorOnStart    error
	ErrorOnClose    error
}

// counter counts blocks and samples.
type counter struct {
	blocks  int
	samples int
}

func (c *counter) advance(frames int) {
	c.blocks++
	c.samples += frames
}

// Count returns blocks and samples metrics.
func (c *counter) Count() (int, int) {
	return c.blocks, c.samples
}

// Generator returns processor with single output port which writes
// parameter level into all channels. Level is the sum of LevelParam value
// and modulation.
func Generator(channels int, level float64) *Processor {
	return &Processor{
		Name:         "generator",
		AudioOutputs: []xap.PortInfo{{Name: "out", Channels: channels}},
		Params: []xap.ParamInfo{
			{ID: LevelParam, Name: "level", Min: 0, Max: 1, Default: level},
		},
		OnProcess: func(m *Processor, p *xap.Process) {
			v := float32(m.values[LevelParam] + m.mods[LevelParam])
			for _, port := range p.AudioOut {
				for _, ch := range port {
					for i := range ch {
						ch[i] = v
					}
				}
			}
		},
	}
}

// Sink returns processor with single input and output ports. Input is
// copied to output.
func Sink(channels int) *Processor {
	return &Processor{
		Name:         "sink",
		AudioInputs:  []xap.PortInfo{{Name: "in", Channels: channels}},
		AudioOutputs: []xap.PortInfo{{Name: "out", Channels: channels}},
		OnProcess:    passThrough,
	}
}

// Modulator returns processor without audio ports that emits modulation
// amount of provided parameter every block.
func Modulator(id xap.ParamID, amount float64) *Processor {
	return &Processor{
		Name: "modulator",
		Params: []xap.ParamInfo{
			{ID: id, Name: "amount", Min: -1, Max: 1, Default: amount},
		},
		OnProcess: func(m *Processor, p *xap.Process) {
			p.OutEvents.TryPush(event.NewParamMod(0, id, m.values[id]))
		},
	}
}

// NoteSource returns processor with note output ports that emits provided
// events every block.
func NoteSource(ports int, events ...event.Event) *Processor {
	m := &Processor{
		Name: "notes",
		Emit: events,
	}
	for i := 0; i < ports; i++ {
		m.NoteOutputs = append(m.NoteOutputs, xap.PortInfo{ID: uint32(i), Name: fmt.Sprintf("notes %d", i)})
	}
	return m
}

// NoteSink returns processor with note input ports.
func NoteSink(ports int) *Processor {
	m := &Processor{Name: "note sink"}
	for i := 0; i < ports; i++ {
		m.NoteInputs = append(m.NoteInputs, xap.PortInfo{ID: uint32(i), Name: fmt.Sprintf("notes %d", i)})
	}
	return m
}

func passThrough(_ *Processor, p *xap.Process) {
	for i := range p.AudioOut {
		if i >= len(p.AudioIn) {
			break
		}
		for c := range p.AudioOut[i] {
			if c < len(p.AudioIn[i]) {
				copy(p.AudioOut[i][c], p.AudioIn[i][c])
			}
		}
	}
}

// Descriptor implements xap.Describer.
func (m *Processor) Descriptor() xap.Descriptor {
	return xap.Descriptor{ID: "mock." + m.Name, Name: m.Name, Vendor: "mock"}
}

// Activate implements xap.Processor.
func (m *Processor) Activate(sampleRate float64, minFrames, maxFrames int) error {
	m.Activated++
	if m.ErrorOnActivate != nil {
		return m.ErrorOnActivate
	}
	m.SampleRate = sampleRate
	m.changes = fifo.New[xap.ParamChange](changesSize)
	m.values = make(map[xap.ParamID]float64, len(m.Params))
	m.mods = make(map[xap.ParamID]float64, len(m.Params))
	for _, p := range m.Params {
		m.values[p.ID] = p.Default
	}
	return nil
}

// Deactivate implements xap.Processor.
func (m *Processor) Deactivate() {
	m.Deactivated++
}

// StartProcessing implements xap.Processor.
func (m *Processor) StartProcessing() error {
	m.Started++
	return m.ErrorOnStart
}

// StopProcessing implements xap.Processor.
func (m *Processor) StopProcessing() {
	m.Stopped++
}

// Close implements io.Closer.
func (m *Processor) Close() error {
	m.Closed = true
	return m.ErrorOnClose
}

// Process implements xap.Processor.
func (m *Processor) Process(p *xap.Process) xap.Status {
	m.Frames = p.Frames
	m.Transport = p.Transport
	m.advance(p.Frames)
	for {
		c, ok := m.changes.Pop()
		if !ok {
			break
		}
		m.values[c.ID] = c.Value
	}
	clear(m.mods)
	for _, e := range p.InEvents {
		m.Received = append(m.Received, e)
		switch e.Type {
		case event.ParamValue:
			m.values[e.Param.ID] = e.Param.Value
		case event.ParamMod:
			m.mods[e.Param.ID] = e.Param.Value
		}
	}
	if m.Fail {
		for _, port := range p.AudioOut {
			for _, ch := range port {
				for i := range ch {
					ch[i] = 1
				}
			}
		}
		return xap.Error
	}
	if m.OnProcess != nil {
		m.OnProcess(m, p)
	}
	for _, e := range m.Emit {
		p.OutEvents.TryPush(e)
	}
	return xap.Continue
}

// AudioPortsCount implements xap.Processor.
func (m *Processor) AudioPortsCount(isInput bool) int {
	if isInput {
		return len(m.AudioInputs)
	}
	return len(m.AudioOutputs)
}

// AudioPortInfo implements xap.Processor.
func (m *Processor) AudioPortInfo(index int, isInput bool) (xap.PortInfo, bool) {
	return portInfo(m.AudioInputs, m.AudioOutputs, index, isInput)
}

// NotePortsCount implements xap.Processor.
func (m *Processor) NotePortsCount(isInput bool) int {
	if isInput {
		return len(m.NoteInputs)
	}
	return len(m.NoteOutputs)
}

// NotePortInfo implements xap.Processor.
func (m *Processor) NotePortInfo(index int, isInput bool) (xap.PortInfo, bool) {
	return portInfo(m.NoteInputs, m.NoteOutputs, index, isInput)
}

func portInfo(in, out []xap.PortInfo, index int, isInput bool) (xap.PortInfo, bool) {
	ports := out
	if isInput {
		ports = in
	}
	if index < 0 || index >= len(ports) {
		return xap.PortInfo{}, false
	}
	return ports[index], true
}

// ParamsCount implements xap.Processor.
func (m *Processor) ParamsCount() int {
	return len(m.Params)
}

// ParamInfo implements xap.Processor.
func (m *Processor) ParamInfo(index int) (xap.ParamInfo, bool) {
	if index < 0 || index >= len(m.Params) {
		return xap.ParamInfo{}, false
	}
	return m.Params[index], true
}

// ParamValue implements xap.Processor.
func (m *Processor) ParamValue(id xap.ParamID) (float64, bool) {
	v, ok := m.values[id]
	return v, ok
}

// EnqueueParameterChange implements xap.Processor. Changes can only be
// enqueued after activation.
func (m *Processor) EnqueueParameterChange(c xap.ParamChange) bool {
	if m.changes == nil {
		return false
	}
	return m.changes.Push(c)
}

// ParamsRescanRequested implements xap.ParamsRescanner.
func (m *Processor) ParamsRescanRequested() bool {
	requested := m.RescanParams
	m.RescanParams = false
	return requested
}

// SaveState implements xap.StateSaver. Parameter values are written as
// lines of id and value.
func (m *Processor) SaveState(w io.Writer) error {
	for _, p := range m.Params {
		if _, err := fmt.Fprintf(w, "%d %g\n", p.ID, m.values[p.ID]); err != nil {
			return err
		}
	}
	return nil
}

// LoadState implements xap.StateSaver.
func (m *Processor) LoadState(r io.Reader) error {
	if m.values == nil {
		m.values = make(map[xap.ParamID]float64)
	}
	s := bufio.NewScanner(r)
	for s.Scan() {
		var (
			id    xap.ParamID
			value float64
		)
		if _, err := fmt.Sscanf(s.Text(), "%d %g", &id, &value); err != nil {
			return fmt.Errorf("mock state: %w", err)
		}
		m.values[id] = value
	}
	return s.Err()
}
