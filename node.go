package xap

import (
	"io"
	"sync/atomic"

	"pipelined.dev/xap/event"
	"pipelined.dev/xap/internal/fifo"
	"pipelined.dev/xap/metric"
)

// NodeID identifies node within a graph.
type NodeID uint64

// topological sort marks
const (
	unmarked uint8 = iota
	inProgress
	resolved
)

type (
	// Node owns a processor with its buffers and input connections.
	// Fields are owned by the audio goroutine once graph is active, except
	// those marked as control.
	Node struct {
		id        NodeID
		processor Processor

		// control
		name          string
		controlInputs []Connection
		// capacity of inputs and mods on the audio goroutine
		capacity int

		audioIn  []PortInfo
		audioOut []PortInfo
		noteIn   []PortInfo
		noteOut  []PortInfo
		pins     []Pin
		params   atomic.Pointer[map[ParamID]ParamInfo]

		inStore  [][][]float32
		outStore [][][]float32
		process  Process
		in       *event.List
		out      *event.List
		changes  *fifo.Queue[ParamChange]

		inputs []Connection
		mods   []modSum

		mark       uint8
		inGraph    bool
		processing bool
		activated  bool
		meter      metric.ResetFunc
		measure    metric.MeasureFunc
	}

	// modSum accumulates additive modulation of a single parameter.
	modSum struct {
		id  ParamID
		sum float64
	}
)

func newNode(id NodeID, p Processor, name string, listSize, paramQueueSize int) *Node {
	n := &Node{
		id:            id,
		name:          name,
		processor:     p,
		in:            event.NewList(listSize),
		out:           event.NewList(listSize),
		changes:       fifo.New[ParamChange](paramQueueSize),
		inputs:        make([]Connection, 0, defaultInputsCapacity),
		controlInputs: make([]Connection, 0, defaultInputsCapacity),
		capacity:      defaultInputsCapacity,
	}
	n.scanPorts()
	n.scanParameters()
	return n
}

// ID returns node id.
func (n *Node) ID() NodeID {
	return n.id
}

// Name returns display name of the node.
func (n *Node) Name() string {
	return n.name
}

// Processor returns the processor owned by node.
func (n *Node) Processor() Processor {
	return n.processor
}

// ProcessorName returns processor name if it implements Describer.
func (n *Node) ProcessorName() string {
	if d, ok := n.processor.(Describer); ok {
		return d.Descriptor().Name
	}
	return ""
}

// Pins returns pins of the node. Pins are recomputed on activation.
func (n *Node) Pins() []Pin {
	return n.pins
}

// Param returns parameter descriptor.
func (n *Node) Param(id ParamID) (ParamInfo, bool) {
	params := n.params.Load()
	if params == nil {
		return ParamInfo{}, false
	}
	info, ok := (*params)[id]
	return info, ok
}

func portInfos(count int, info func(int) (PortInfo, bool)) []PortInfo {
	ports := make([]PortInfo, 0, count)
	for i := 0; i < count; i++ {
		pi, ok := info(i)
		if !ok {
			pi = PortInfo{ID: uint32(i)}
		}
		ports = append(ports, pi)
	}
	return ports
}

// scanPorts queries port layout of processor and rebuilds pins.
func (n *Node) scanPorts() {
	p := n.processor
	n.audioIn = portInfos(p.AudioPortsCount(true), func(i int) (PortInfo, bool) { return p.AudioPortInfo(i, true) })
	n.audioOut = portInfos(p.AudioPortsCount(false), func(i int) (PortInfo, bool) { return p.AudioPortInfo(i, false) })
	n.noteIn = portInfos(p.NotePortsCount(true), func(i int) (PortInfo, bool) { return p.NotePortInfo(i, true) })
	n.noteOut = portInfos(p.NotePortsCount(false), func(i int) (PortInfo, bool) { return p.NotePortInfo(i, false) })

	n.pins = n.pins[:0]
	audioPins := func(ports []PortInfo, isInput bool) {
		for port, pi := range ports {
			for ch := 0; ch < pi.Channels; ch++ {
				n.pins = append(n.pins, Pin{Node: n.id, IsInput: isInput, Type: Audio, Port: port, Channel: ch})
			}
		}
	}
	notePins := func(ports []PortInfo, isInput bool) {
		for port := range ports {
			n.pins = append(n.pins, Pin{Node: n.id, IsInput: isInput, Type: Events, Port: port})
		}
	}
	audioPins(n.audioIn, true)
	audioPins(n.audioOut, false)
	notePins(n.noteIn, true)
	notePins(n.noteOut, false)
	n.pins = append(n.pins, Pin{Node: n.id, IsInput: true, Type: Modulation})
}

// scanParameters rebuilds parameters lookup. New lookup is published
// atomically, so it is safe to call while audio goroutine is running.
func (n *Node) scanParameters() {
	count := n.processor.ParamsCount()
	params := make(map[ParamID]ParamInfo, count)
	for i := 0; i < count; i++ {
		if info, ok := n.processor.ParamInfo(i); ok {
			params[info.ID] = info
		}
	}
	n.params.Store(&params)
}

// initBuffers allocates audio buffers and modulation accumulators. It
// must not be called on the audio goroutine.
func (n *Node) initBuffers(maxFrames int) {
	n.scanPorts()
	n.inStore = allocate(n.audioIn, maxFrames)
	n.outStore = allocate(n.audioOut, maxFrames)
	n.process.AudioIn = views(n.inStore)
	n.process.AudioOut = views(n.outStore)
	n.process.OutEvents = n.out
	// every modulated parameter has at least one input
	n.mods = make([]modSum, 0, n.capacity)
}

func allocate(ports []PortInfo, frames int) [][][]float32 {
	buf := make([][][]float32, len(ports))
	for i, pi := range ports {
		buf[i] = make([][]float32, pi.Channels)
		for c := range buf[i] {
			buf[i][c] = make([]float32, frames)
		}
	}
	return buf
}

func views(store [][][]float32) [][][]float32 {
	v := make([][][]float32, len(store))
	for i := range store {
		v[i] = make([][]float32, len(store[i]))
		copy(v[i], store[i])
	}
	return v
}

// prepare resizes buffer views to frames and clears inputs.
func (n *Node) prepare(frames int) {
	for p := range n.inStore {
		for c := range n.inStore[p] {
			buf := n.inStore[p][c][:frames]
			clear(buf)
			n.process.AudioIn[p][c] = buf
		}
	}
	for p := range n.outStore {
		for c := range n.outStore[p] {
			n.process.AudioOut[p][c] = n.outStore[p][c][:frames]
		}
	}
	n.in.Clear()
	n.out.Clear()
	n.mods = n.mods[:0]
}

// zeroOutputs clears output buffers for frames.
func (n *Node) zeroOutputs(frames int) {
	for p := range n.outStore {
		for c := range n.outStore[p] {
			clear(n.outStore[p][c][:frames])
		}
	}
}

// modulate adds modulation amount to the parameter accumulator.
func (n *Node) modulate(id ParamID, amount float64) {
	for i := range n.mods {
		if n.mods[i].id == id {
			n.mods[i].sum += amount
			return
		}
	}
	n.mods = append(n.mods, modSum{id: id, sum: amount})
}

// activate allocates buffers and activates processor.
func (n *Node) activate(sampleRate float64, minFrames, maxFrames int) error {
	n.initBuffers(maxFrames)
	if err := n.processor.Activate(sampleRate, minFrames, maxFrames); err != nil {
		return err
	}
	n.activated = true
	if n.meter == nil {
		n.meter = metric.Meter(n.processor, sampleRate)
	}
	n.measure = n.meter()
	return nil
}

// deactivate stops processing and deactivates processor.
func (n *Node) deactivate() {
	if n.processing {
		n.processor.StopProcessing()
		n.processing = false
	}
	if n.activated {
		n.processor.Deactivate()
		n.activated = false
	}
	n.inGraph = false
}

// close deactivates node and closes processor if it's a closer.
func (n *Node) close() error {
	n.deactivate()
	if c, ok := n.processor.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (n *Node) validAudio(port, channel int, isInput bool) bool {
	ports := n.audioOut
	if isInput {
		ports = n.audioIn
	}
	return port >= 0 && port < len(ports) && channel >= 0 && channel < ports[port].Channels
}

func (n *Node) validNotePort(port int, isInput bool) bool {
	ports := n.noteOut
	if isInput {
		ports = n.noteIn
	}
	return port >= 0 && port < len(ports)
}
