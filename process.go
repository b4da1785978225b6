package xap

import (
	"math"

	"pipelined.dev/xap/event"
	"pipelined.dev/xap/signal"
)

type requestKind uint8

const (
	addNode requestKind = iota
	removeNode
	addInput
	removeInput
	removeInputs
	setOutput
	setInput
	setDepth
)

// request is a structural change sent from control to audio goroutine.
type request struct {
	kind  requestKind
	node  *Node
	id    NodeID
	index int
	conn  Connection
	depth float64
	// grown storage for node inputs and modulation accumulators
	inputs []Connection
	mods   []modSum
}

type notificationKind uint8

const (
	deleteNode notificationKind = iota
	topologyError
)

// notification is sent from audio to control goroutine.
type notification struct {
	kind notificationKind
	node *Node
	id   NodeID
}

// frame is a step of depth-first traversal.
type frame struct {
	node *Node
	next int
}

// apply changes the audio view of the graph. Removed node is returned,
// it must be released on the control goroutine.
func (g *Graph) apply(r request) *Node {
	switch r.kind {
	case addNode:
		g.nodes = append(g.nodes, r.node)
		g.dirty = true
	case removeNode:
		if r.id == g.outputID {
			return nil
		}
		var removed *Node
		for i, n := range g.nodes {
			if n.id == r.id {
				removed = n
				copy(g.nodes[i:], g.nodes[i+1:])
				g.nodes[len(g.nodes)-1] = nil
				g.nodes = g.nodes[:len(g.nodes)-1]
				break
			}
		}
		if removed == nil {
			return nil
		}
		for _, n := range g.nodes {
			n.inputs = removeSource(n.inputs, r.id)
		}
		if r.id == g.inputID {
			g.inputID = noNode
		}
		g.dirty = true
		return removed
	case addInput:
		if n := g.node(r.id); n != nil {
			if r.inputs != nil {
				n.inputs = append(r.inputs, n.inputs...)
				n.mods = r.mods
			}
			n.inputs = append(n.inputs, r.conn)
			g.dirty = true
		}
	case removeInput:
		if n := g.node(r.id); n != nil && r.index < len(n.inputs) {
			n.inputs = removeAt(n.inputs, r.index)
			g.dirty = true
		}
	case removeInputs:
		if n := g.node(r.id); n != nil {
			clear(n.inputs)
			n.inputs = n.inputs[:0]
			g.dirty = true
		}
	case setOutput:
		g.outputID = r.id
		g.dirty = true
	case setInput:
		g.inputID = r.id
	case setDepth:
		if n := g.node(r.id); n != nil && r.index < len(n.inputs) {
			n.inputs[r.index].Depth = r.depth
		}
	}
	return nil
}

// drain applies pending requests. Node removal is postponed while
// notifications queue is full, so removed nodes are never lost.
func (g *Graph) drain() {
	for {
		r, ok := g.requests.Peek()
		if !ok {
			return
		}
		if r.kind == removeNode && g.notifications.Len() == g.notifications.Cap() {
			return
		}
		g.requests.Pop()
		if removed := g.apply(r); removed != nil {
			if removed.processing {
				removed.processor.StopProcessing()
				removed.processing = false
			}
			g.notifications.Push(notification{kind: deleteNode, node: removed})
		}
	}
}

// sort resolves processing order with depth-first traversal of inputs
// starting from output node. If cycle is found, order is empty and id of
// the node closing the cycle is returned.
func (g *Graph) sort() (NodeID, bool) {
	g.order = g.order[:0]
	g.stack = g.stack[:0]
	for _, n := range g.nodes {
		n.mark = unmarked
	}
	out := g.node(g.outputID)
	if out == nil {
		return 0, true
	}
	out.mark = inProgress
	g.stack = append(g.stack, frame{node: out})
	for len(g.stack) > 0 {
		top := &g.stack[len(g.stack)-1]
		n := top.node
		if top.next < len(n.inputs) {
			src := g.node(n.inputs[top.next].Source)
			top.next++
			if src == nil {
				continue
			}
			switch src.mark {
			case resolved:
				continue
			case inProgress:
				g.order = g.order[:0]
				g.stack = g.stack[:0]
				return src.id, false
			}
			src.mark = inProgress
			g.stack = append(g.stack, frame{node: src})
			continue
		}
		n.mark = resolved
		g.order = append(g.order, n)
		g.stack = g.stack[:len(g.stack)-1]
	}
	return 0, true
}

// updateRunOrder sorts nodes and starts or stops processing of nodes
// which entered or left the run order.
func (g *Graph) updateRunOrder() {
	g.dirty = false
	for _, n := range g.nodes {
		n.inGraph = false
	}
	if cycleAt, ok := g.sort(); !ok {
		g.notifications.Push(notification{kind: topologyError, id: cycleAt})
	}
	for _, n := range g.order {
		n.inGraph = true
		if !n.processing {
			n.processing = n.processor.StartProcessing() == nil
		}
	}
	for _, n := range g.nodes {
		if !n.inGraph && n.processing {
			n.processor.StopProcessing()
			n.processing = false
		}
	}
}

// Process executes one block. It applies pending structural changes,
// processes nodes in run order and copies output node audio to the
// context. Process never allocates, locks or blocks.
func (g *Graph) Process(ctx *ProcessContext) Status {
	if !g.activated.Load() {
		signal.Silence(ctx.AudioOut, ctx.Frames)
		return Error
	}
	g.drain()
	if g.dirty {
		g.updateRunOrder()
	}
	frames := ctx.Frames
	if frames > g.maxFrames {
		frames = g.maxFrames
	}
	if len(g.order) == 0 {
		signal.Silence(ctx.AudioOut, ctx.Frames)
		g.position += int64(frames)
		return Sleep
	}

	transport := event.TransportPayload{
		Flags:           event.HasSecondsTimeline | event.IsPlaying,
		PositionSeconds: float64(g.position) / g.sampleRate,
	}
	for _, n := range g.order {
		g.processNode(n, ctx, frames, transport)
	}

	out := g.order[len(g.order)-1]
	if len(out.outStore) == 0 {
		signal.Silence(ctx.AudioOut, ctx.Frames)
	} else {
		port := out.outStore[0]
		for c := range ctx.AudioOut {
			if c < len(port) {
				copy(ctx.AudioOut[c][:frames], port[c][:frames])
				clear(ctx.AudioOut[c][frames:ctx.Frames])
			} else {
				clear(ctx.AudioOut[c][:ctx.Frames])
			}
		}
	}
	g.position += int64(frames)
	return Continue
}

func (g *Graph) processNode(n *Node, ctx *ProcessContext, frames int, transport event.TransportPayload) {
	n.prepare(frames)
	if n.id == g.inputID && len(n.inStore) > 0 {
		port := n.process.AudioIn[0]
		for c := 0; c < len(port) && c < len(ctx.AudioIn); c++ {
			signal.Sum(port[c], ctx.AudioIn[c][:frames])
		}
	}
	for {
		c, ok := n.changes.Pop()
		if !ok {
			break
		}
		n.in.TryPush(c.Event())
	}
	for i := range n.inputs {
		c := &n.inputs[i]
		src := g.node(c.Source)
		if src == nil {
			continue
		}
		switch c.Type {
		case Audio:
			if src.validAudio(c.SourcePort, c.SourceChannel, false) && n.validAudio(c.DestinationPort, c.DestinationChannel, true) {
				signal.Sum(n.process.AudioIn[c.DestinationPort][c.DestinationChannel], src.outStore[c.SourcePort][c.SourceChannel][:frames])
			}
		case Events:
			for _, e := range src.out.Events() {
				if (e.IsNote() || e.Type == event.NoteExpression || e.Type == event.MIDI) && e.Port() == c.SourcePort {
					n.in.TryPush(e.WithPort(c.DestinationPort))
				}
			}
		case Modulation:
			e, ok := lastModulation(src.out, c.SourceParam)
			if !ok {
				continue
			}
			if c.Destructive {
				n.in.TryPush(event.NewParamValue(e.Time, c.DestinationParam, 0.5+0.5*e.Param.Value))
			} else {
				n.modulate(c.DestinationParam, e.Param.Value*c.Depth)
			}
		}
	}
	for _, m := range n.mods {
		if m.sum == 0 {
			continue
		}
		amount := m.sum
		if info, ok := n.Param(m.id); ok {
			amount = info.Clamp(amount)
		}
		n.in.TryPush(event.NewParamMod(0, m.id, amount))
	}
	n.in.Sort()

	status := Error
	if n.processing {
		n.process.Frames = frames
		n.process.Transport = transport
		n.process.InEvents = n.in.Events()
		status = n.processor.Process(&n.process)
	}
	if status == Error {
		n.zeroOutputs(frames)
	}
	if n.measure != nil {
		n.measure(frames, status == Error)
	}
	g.touch(n)
}

// lastModulation returns the latest modulation event of parameter.
func lastModulation(events *event.List, id ParamID) (event.Event, bool) {
	for i := events.Len() - 1; i >= 0; i-- {
		e := events.At(i)
		if e.Type == event.ParamMod && e.Param.ID == id {
			return e, true
		}
	}
	return event.Event{}, false
}

// touch updates last touched parameter from node output events.
func (g *Graph) touch(n *Node) {
	for _, e := range n.out.Events() {
		switch e.Type {
		case event.ParamGestureBegin, event.ParamGestureEnd:
			g.lastNode.Store(uint64(n.id))
			g.lastParam.Store(uint32(e.Param.ID))
			g.touched.Store(true)
		case event.ParamValue:
			g.lastNode.Store(uint64(n.id))
			g.lastParam.Store(uint32(e.Param.ID))
			g.lastValue.Store(math.Float64bits(e.Param.Value))
			g.touched.Store(true)
		}
	}
}
