package xap

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/rs/xid"
	"github.com/sirupsen/logrus"

	"pipelined.dev/xap/event"
	"pipelined.dev/xap/internal/fifo"
	"pipelined.dev/xap/log"
)

const (
	defaultQueueSize      = 128
	defaultNodeCapacity   = 1024
	defaultParamQueueSize = 64
	defaultInputsCapacity = 16
)

// noNode is used when output or input node is not set.
const noNode NodeID = math.MaxUint64

type (
	// Graph is a set of nodes connected into a directed acyclic graph.
	// Process is called on the audio goroutine, all other methods are
	// called on the control goroutine. Before Activate mutations are
	// applied immediately. After Activate they are sent to the audio
	// goroutine and applied at the start of the next block.
	Graph struct {
		uid string
		log log.Logger

		queueSize      int
		listSize       int
		nodeCapacity   int
		paramQueueSize int

		// control
		registry []*Node
		// nodes held by audio view, including removed ones not released yet
		held   int
		nextID NodeID
		output NodeID
		input  NodeID
		active bool

		sampleRate float64
		minFrames  int
		maxFrames  int

		requests      *fifo.Queue[request]
		notifications *fifo.Queue[notification]
		activated     atomic.Bool

		// audio
		nodes    []*Node
		order    []*Node
		stack    []frame
		dirty    bool
		outputID NodeID
		inputID  NodeID
		position int64

		lastNode  atomic.Uint64
		lastParam atomic.Uint32
		lastValue atomic.Uint64
		touched   atomic.Bool
	}

	// Option provides a way to set functional parameters to graph.
	Option func(*Graph)

	// ProcessContext carries host buffers of a single block. AudioIn is
	// summed into the first input port of the input node. The first
	// output port of the output node is copied into AudioOut.
	ProcessContext struct {
		Frames   int
		AudioIn  [][]float32
		AudioOut [][]float32
	}
)

// WithLogger sets logger of the graph.
func WithLogger(l log.Logger) Option {
	return func(g *Graph) {
		g.log = l
	}
}

// WithQueueSize sets size of queues between control and audio goroutines.
func WithQueueSize(size int) Option {
	return func(g *Graph) {
		g.queueSize = size
	}
}

// WithMergeListSize sets capacity of per-node event lists.
func WithMergeListSize(size int) Option {
	return func(g *Graph) {
		g.listSize = size
	}
}

// WithNodeCapacity sets maximum number of nodes that can be added to
// active graph.
func WithNodeCapacity(capacity int) Option {
	return func(g *Graph) {
		g.nodeCapacity = capacity
	}
}

// WithParamQueueSize sets size of per-node parameter change queues.
func WithParamQueueSize(size int) Option {
	return func(g *Graph) {
		g.paramQueueSize = size
	}
}

// New creates a new graph and applies provided options.
func New(options ...Option) *Graph {
	g := &Graph{
		uid:            xid.New().String(),
		queueSize:      defaultQueueSize,
		listSize:       event.DefaultListSize,
		nodeCapacity:   defaultNodeCapacity,
		paramQueueSize: defaultParamQueueSize,
		output:         noNode,
		input:          noNode,
		outputID:       noNode,
		inputID:        noNode,
		nextID:         1,
	}
	for _, option := range options {
		option(g)
	}
	if g.log == nil {
		g.log = log.GetLogger()
	}
	g.log = g.log.WithField("graph", g.uid)
	g.requests = fifo.New[request](g.queueSize)
	g.notifications = fifo.New[notification](g.queueSize)
	g.registry = make([]*Node, 0, g.nodeCapacity)
	g.nodes = make([]*Node, 0, g.nodeCapacity)
	g.order = make([]*Node, 0, g.nodeCapacity)
	g.stack = make([]frame, 0, g.nodeCapacity)
	return g
}

// UID returns unique id of the graph.
func (g *Graph) UID() string {
	return g.uid
}

func (g *Graph) nodeLog(n *Node) logrus.FieldLogger {
	return g.log.WithFields(logrus.Fields{
		"node": n.id,
		"name": n.name,
	})
}

// lookup returns node from control view of the graph.
func (g *Graph) lookup(id NodeID) *Node {
	for _, n := range g.registry {
		if n.id == id {
			return n
		}
	}
	return nil
}

// node returns node from audio view of the graph.
func (g *Graph) node(id NodeID) *Node {
	for _, n := range g.nodes {
		if n.id == id {
			return n
		}
	}
	return nil
}

// send applies request immediately if graph is not active. Otherwise
// request is pushed to the audio goroutine.
func (g *Graph) send(r request) error {
	if !g.active {
		if removed := g.apply(r); removed != nil {
			g.release(removed)
		}
		return nil
	}
	if !g.requests.Push(r) {
		return ErrQueueFull
	}
	return nil
}

// AddNode adds processor to the graph. If id is not provided, the next
// running id is used. If graph is active, processor is activated before
// it's sent to the audio goroutine.
func (g *Graph) AddNode(p Processor, name string, id ...NodeID) (NodeID, error) {
	nodeID := g.nextID
	if len(id) > 0 {
		nodeID = id[0]
	}
	if nodeID == noNode {
		return 0, fmt.Errorf("node id %d is reserved: %w", nodeID, ErrNodeExists)
	}
	if g.lookup(nodeID) != nil {
		return 0, fmt.Errorf("node id %d: %w", nodeID, ErrNodeExists)
	}
	if g.active && g.held >= g.nodeCapacity {
		return 0, ErrNodeCapacity
	}
	n := newNode(nodeID, p, name, g.listSize, g.paramQueueSize)
	if g.active {
		if err := n.activate(g.sampleRate, g.minFrames, g.maxFrames); err != nil {
			return 0, fmt.Errorf("activate node %d %s: %w", nodeID, name, err)
		}
	}
	if err := g.send(request{kind: addNode, node: n}); err != nil {
		n.deactivate()
		return 0, err
	}
	g.registry = append(g.registry, n)
	g.held++
	if nodeID >= g.nextID {
		g.nextID = nodeID + 1
	}
	g.nodeLog(n).Debug("node added")
	return nodeID, nil
}

// Connect adds audio or events connection. Events connections ignore
// channels.
func (g *Graph) Connect(t ConnectionType, src NodeID, srcPort, srcChan int, dst NodeID, dstPort, dstChan int) error {
	s, d := g.lookup(src), g.lookup(dst)
	if s == nil || d == nil {
		return fmt.Errorf("connect %d -> %d: %w", src, dst, ErrUnknownNode)
	}
	c := Connection{
		Type:               t,
		Source:             src,
		SourcePort:         srcPort,
		SourceChannel:      srcChan,
		Destination:        dst,
		DestinationPort:    dstPort,
		DestinationChannel: dstChan,
	}
	switch t {
	case Audio:
		if !s.validAudio(srcPort, srcChan, false) || !d.validAudio(dstPort, dstChan, true) {
			return fmt.Errorf("%v: %w", c, ErrInvalidConnection)
		}
	case Events:
		c.SourceChannel, c.DestinationChannel = 0, 0
		if !s.validNotePort(srcPort, false) || !d.validNotePort(dstPort, true) {
			return fmt.Errorf("%v: %w", c, ErrInvalidConnection)
		}
	default:
		return fmt.Errorf("%v must be connected with ConnectModulation: %w", t, ErrInvalidConnection)
	}
	return g.connect(d, c)
}

// ConnectModulation adds modulation connection from source parameter to
// destination parameter. Destructive modulation replaces parameter value,
// additive modulation is summed with other modulations of the same
// parameter.
func (g *Graph) ConnectModulation(src NodeID, srcParam ParamID, dst NodeID, dstParam ParamID, destructive bool, depth float64) error {
	s, d := g.lookup(src), g.lookup(dst)
	if s == nil || d == nil {
		return fmt.Errorf("connect modulation %d -> %d: %w", src, dst, ErrUnknownNode)
	}
	c := Connection{
		Type:             Modulation,
		Source:           src,
		Destination:      dst,
		SourceParam:      srcParam,
		DestinationParam: dstParam,
		Depth:            depth,
		Destructive:      destructive,
	}
	if _, ok := d.Param(dstParam); !ok {
		return fmt.Errorf("%v: unknown parameter %d: %w", c, dstParam, ErrInvalidConnection)
	}
	return g.connect(d, c)
}

// connect sends new input to the destination node. Storage is grown here,
// so audio goroutine never allocates when inputs are added.
func (g *Graph) connect(d *Node, c Connection) error {
	r := request{kind: addInput, id: d.id, conn: c}
	if len(d.controlInputs) >= d.capacity {
		r.inputs = make([]Connection, 0, 2*d.capacity)
		r.mods = make([]modSum, 0, 2*d.capacity)
	}
	if err := g.send(r); err != nil {
		return err
	}
	if r.inputs != nil {
		d.capacity = cap(r.inputs)
	}
	d.controlInputs = append(d.controlInputs, c)
	g.log.WithField("connection", c.String()).Debug("connected")
	return nil
}

// NodeByName returns id of the first node with provided display name.
func (g *Graph) NodeByName(name string) (NodeID, bool) {
	for _, n := range g.registry {
		if n.name == name {
			return n.id, true
		}
	}
	return 0, false
}

// ConnectAudioByName adds audio connection between nodes with provided
// display names.
func (g *Graph) ConnectAudioByName(src string, srcPort, srcChan int, dst string, dstPort, dstChan int) error {
	s, d, err := g.byNames(src, dst)
	if err != nil {
		return err
	}
	return g.Connect(Audio, s, srcPort, srcChan, d, dstPort, dstChan)
}

// ConnectModulationByName adds modulation connection between nodes with
// provided display names.
func (g *Graph) ConnectModulationByName(src string, srcParam ParamID, dst string, dstParam ParamID, destructive bool, depth float64) error {
	s, d, err := g.byNames(src, dst)
	if err != nil {
		return err
	}
	return g.ConnectModulation(s, srcParam, d, dstParam, destructive, depth)
}

func (g *Graph) byNames(src, dst string) (NodeID, NodeID, error) {
	s, ok := g.NodeByName(src)
	if !ok {
		return 0, 0, fmt.Errorf("node %q: %w", src, ErrUnknownNode)
	}
	d, ok := g.NodeByName(dst)
	if !ok {
		return 0, 0, fmt.Errorf("node %q: %w", dst, ErrUnknownNode)
	}
	return s, d, nil
}

// SetNodeName changes display name of the node.
func (g *Graph) SetNodeName(id NodeID, name string) error {
	n := g.lookup(id)
	if n == nil {
		return fmt.Errorf("node %d: %w", id, ErrUnknownNode)
	}
	n.name = name
	return nil
}

// SetModulationDepth changes depth of modulation connection with provided
// index in destination inputs.
func (g *Graph) SetModulationDepth(dst NodeID, index int, depth float64) error {
	d := g.lookup(dst)
	if d == nil {
		return fmt.Errorf("node %d: %w", dst, ErrUnknownNode)
	}
	if index < 0 || index >= len(d.controlInputs) || d.controlInputs[index].Type != Modulation {
		return fmt.Errorf("node %d input %d is not modulation: %w", dst, index, ErrInvalidConnection)
	}
	if err := g.send(request{kind: setDepth, id: dst, index: index, depth: depth}); err != nil {
		return err
	}
	d.controlInputs[index].Depth = depth
	return nil
}

// RemoveNodeInput removes input connection with provided index.
func (g *Graph) RemoveNodeInput(id NodeID, index int) error {
	n := g.lookup(id)
	if n == nil {
		return fmt.Errorf("node %d: %w", id, ErrUnknownNode)
	}
	if index < 0 || index >= len(n.controlInputs) {
		return fmt.Errorf("node %d input %d: %w", id, index, ErrInvalidConnection)
	}
	if err := g.send(request{kind: removeInput, id: id, index: index}); err != nil {
		return err
	}
	n.controlInputs = removeAt(n.controlInputs, index)
	return nil
}

// RemoveNodeInputs removes all input connections of the node.
func (g *Graph) RemoveNodeInputs(id NodeID) error {
	n := g.lookup(id)
	if n == nil {
		return fmt.Errorf("node %d: %w", id, ErrUnknownNode)
	}
	if err := g.send(request{kind: removeInputs, id: id}); err != nil {
		return err
	}
	clear(n.controlInputs)
	n.controlInputs = n.controlInputs[:0]
	return nil
}

// RemoveNode removes node and all connections fed by it. Output node
// cannot be removed. If graph is active, node is released in Collect
// after audio goroutine stops using it.
func (g *Graph) RemoveNode(id NodeID) error {
	n := g.lookup(id)
	if n == nil {
		return fmt.Errorf("node %d: %w", id, ErrUnknownNode)
	}
	if id == g.output {
		return fmt.Errorf("node %d: %w", id, ErrOutputNode)
	}
	if err := g.send(request{kind: removeNode, id: id}); err != nil {
		return err
	}
	for i, r := range g.registry {
		if r == n {
			copy(g.registry[i:], g.registry[i+1:])
			g.registry[len(g.registry)-1] = nil
			g.registry = g.registry[:len(g.registry)-1]
			break
		}
	}
	for _, r := range g.registry {
		r.controlInputs = removeSource(r.controlInputs, id)
	}
	if id == g.input {
		g.input = noNode
	}
	g.nodeLog(n).Debug("node removed")
	return nil
}

// SetOutputNode sets the node which output is copied to the host.
func (g *Graph) SetOutputNode(id NodeID) error {
	if g.lookup(id) == nil {
		return fmt.Errorf("node %d: %w", id, ErrUnknownNode)
	}
	if err := g.send(request{kind: setOutput, id: id}); err != nil {
		return err
	}
	g.output = id
	return nil
}

// SetInputNode sets the node which receives host input.
func (g *Graph) SetInputNode(id NodeID) error {
	n := g.lookup(id)
	if n == nil {
		return fmt.Errorf("node %d: %w", id, ErrUnknownNode)
	}
	if len(n.audioIn) == 0 {
		return fmt.Errorf("node %d has no audio inputs: %w", id, ErrInvalidConnection)
	}
	if err := g.send(request{kind: setInput, id: id}); err != nil {
		return err
	}
	g.input = id
	return nil
}

// OutputNode returns id of the output node.
func (g *Graph) OutputNode() (NodeID, bool) {
	return g.output, g.output != noNode
}

// Nodes returns ids of all nodes in insertion order.
func (g *Graph) Nodes() []NodeID {
	ids := make([]NodeID, 0, len(g.registry))
	for _, n := range g.registry {
		ids = append(ids, n.id)
	}
	return ids
}

// Node returns node with provided id.
func (g *Graph) Node(id NodeID) (*Node, bool) {
	n := g.lookup(id)
	return n, n != nil
}

// Inputs returns a copy of node input connections.
func (g *Graph) Inputs(id NodeID) []Connection {
	n := g.lookup(id)
	if n == nil {
		return nil
	}
	return append([]Connection(nil), n.controlInputs...)
}

// ModulationConnections returns all modulation connections of the graph.
func (g *Graph) ModulationConnections() []Connection {
	var conns []Connection
	for _, n := range g.registry {
		for _, c := range n.controlInputs {
			if c.Type == Modulation {
				conns = append(conns, c)
			}
		}
	}
	return conns
}

// EnqueueParameterChange sends parameter change to the node. The change
// is delivered to processor as an event at the start of the next block.
func (g *Graph) EnqueueParameterChange(id NodeID, c ParamChange) error {
	n := g.lookup(id)
	if n == nil {
		return fmt.Errorf("node %d: %w", id, ErrUnknownNode)
	}
	if !n.changes.Push(c) {
		return fmt.Errorf("node %d parameter %d: %w", id, c.ID, ErrQueueFull)
	}
	return nil
}

// LastTouched returns the last parameter changed or touched by any
// processor. Values are updated independently, so they may belong to
// different events if read while graph is processing.
func (g *Graph) LastTouched() (NodeID, ParamID, float64, bool) {
	if !g.touched.Load() {
		return 0, 0, 0, false
	}
	return NodeID(g.lastNode.Load()),
		ParamID(g.lastParam.Load()),
		math.Float64frombits(g.lastValue.Load()),
		true
}

// RunOrder returns ids of nodes in processing order. It must not be
// called concurrently with Process.
func (g *Graph) RunOrder() []NodeID {
	if !g.active && g.dirty {
		g.sort()
		g.dirty = false
	}
	ids := make([]NodeID, 0, len(g.order))
	for _, n := range g.order {
		ids = append(ids, n.id)
	}
	return ids
}

// Activate allocates buffers of all nodes, activates processors and
// validates topology. After Activate, Process can be called.
func (g *Graph) Activate(sampleRate float64, minFrames, maxFrames int) error {
	if g.active {
		return ErrActive
	}
	if len(g.registry) == 0 {
		return ErrNoNodes
	}
	if cycleAt, ok := g.sort(); !ok {
		return &CycleError{Node: cycleAt}
	}

	var errs activateErrors
	for _, n := range g.registry {
		if err := n.activate(sampleRate, minFrames, maxFrames); err != nil {
			errs = append(errs, fmt.Errorf("activate node %d %s: %w", n.id, n.name, err))
		}
	}
	if err := errs.ret(); err != nil {
		for _, n := range g.registry {
			n.deactivate()
		}
		return err
	}

	g.sampleRate = sampleRate
	g.minFrames = minFrames
	g.maxFrames = maxFrames
	g.position = 0
	g.dirty = true
	g.active = true
	g.activated.Store(true)
	g.log.WithFields(logrus.Fields{
		"sampleRate": sampleRate,
		"maxFrames":  maxFrames,
		"nodes":      len(g.registry),
	}).Info("graph activated")
	return nil
}

// Deactivate stops processing and deactivates all processors. Audio
// goroutine must not call Process after this point.
func (g *Graph) Deactivate() {
	if !g.active {
		return
	}
	g.activated.Store(false)
	// audio goroutine is stopped, pending requests are applied here
	for {
		r, ok := g.requests.Pop()
		if !ok {
			break
		}
		if removed := g.apply(r); removed != nil {
			g.release(removed)
		}
	}
	if err := g.Collect(); err != nil {
		g.log.WithError(err).Warn("topology error on deactivate")
	}
	for _, n := range g.nodes {
		n.deactivate()
	}
	g.order = g.order[:0]
	g.dirty = true
	g.active = false
	g.log.Info("graph deactivated")
}

// Collect releases nodes removed by audio goroutine, rescans parameters
// when processors request it and returns the last topology error reported
// since previous call.
func (g *Graph) Collect() error {
	var topologyErr error
	for {
		nt, ok := g.notifications.Pop()
		if !ok {
			break
		}
		switch nt.kind {
		case deleteNode:
			g.release(nt.node)
		case topologyError:
			topologyErr = &CycleError{Node: nt.id}
			g.log.WithError(topologyErr).Warn("graph is silent")
		}
	}
	for _, n := range g.registry {
		if r, ok := n.processor.(ParamsRescanner); ok && r.ParamsRescanRequested() {
			n.scanParameters()
			g.nodeLog(n).Debug("parameters rescanned")
		}
	}
	return topologyErr
}

// release deactivates and closes removed node.
func (g *Graph) release(n *Node) {
	g.held--
	if err := n.close(); err != nil {
		g.nodeLog(n).WithError(err).Warn("close processor")
	}
	g.nodeLog(n).Debug("node released")
}
