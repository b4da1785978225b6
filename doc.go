/*
Package xap hosts audio processing units in a real-time processing graph.

# Concept

An audio processing unit, or processor, is a black box that exposes audio
ports, note ports and parameters. Processors are wrapped into nodes and
nodes are connected into a directed acyclic graph:

	Audio - sums output channel of source into input channel of destination;
	Events - forwards note and MIDI events from source port to destination port;
	Modulation - maps modulation of source parameter to destination parameter.

Connections are owned by the destination node. Graph resolves processing
order with depth-first traversal starting from the output node. Nodes that
don't feed output node are kept in graph, but not processed.

# Threads

Graph is used from two goroutines. The audio goroutine calls Process once
per block. The control goroutine calls everything else:

	g := xap.New()
	gen, _ := g.AddNode(generator, "gen")
	out, _ := g.AddNode(sink, "out")
	g.Connect(xap.Audio, gen, 0, 0, out, 0, 0)
	g.SetOutputNode(out)
	err := g.Activate(48000, 128, 128)

Once graph is active, structural changes are sent to the audio goroutine
through a lock-free queue and applied at the start of the next block.
Removed nodes are sent back and released by Collect, which should be
called periodically by the control goroutine:

	if err := g.RemoveNode(gen); errors.Is(err, xap.ErrQueueFull) {
	    // retry later
	}
	err = g.Collect()

Process never allocates, locks or blocks. All buffers are allocated on
activation and event lists have fixed capacity.

# Modulation

Destructive modulation replaces parameter value with 0.5+0.5*amount.
Additive modulation of all connections to the same parameter is summed,
clamped to the parameter range and delivered as a single modulation event
at the start of the block.
*/
package xap
