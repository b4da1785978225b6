package xap

import "fmt"

// ConnectionType is the kind of data carried by connection.
type ConnectionType uint8

// Connection types.
const (
	Audio ConnectionType = iota
	Events
	Modulation
)

func (t ConnectionType) String() string {
	switch t {
	case Audio:
		return "audio"
	case Events:
		return "events"
	case Modulation:
		return "modulation"
	}
	return fmt.Sprintf("ConnectionType(%d)", uint8(t))
}

type (
	// Pin is a typed connection point of a node.
	Pin struct {
		Node    NodeID
		IsInput bool
		Type    ConnectionType
		Port    int
		Channel int
	}

	// Connection is a directed edge from source node output to destination
	// node input. It is owned by destination node.
	//
	// Audio connections use ports and channels. Events connections use
	// ports only. Modulation connections use parameters, depth and
	// destructive flag.
	Connection struct {
		Type               ConnectionType
		Source             NodeID
		SourcePort         int
		SourceChannel      int
		Destination        NodeID
		DestinationPort    int
		DestinationChannel int

		SourceParam      ParamID
		DestinationParam ParamID
		Depth            float64
		Destructive      bool
	}
)

func (c Connection) String() string {
	switch c.Type {
	case Modulation:
		return fmt.Sprintf("%v %d.%d -> %d.%d depth %.3f destructive %t",
			c.Type, c.Source, c.SourceParam, c.Destination, c.DestinationParam, c.Depth, c.Destructive)
	case Events:
		return fmt.Sprintf("%v %d:%d -> %d:%d",
			c.Type, c.Source, c.SourcePort, c.Destination, c.DestinationPort)
	}
	return fmt.Sprintf("%v %d:%d/%d -> %d:%d/%d",
		c.Type, c.Source, c.SourcePort, c.SourceChannel, c.Destination, c.DestinationPort, c.DestinationChannel)
}

// removeSource removes all connections fed by provided node. Storage is
// reused.
func removeSource(conns []Connection, id NodeID) []Connection {
	filtered := conns[:0]
	for _, c := range conns {
		if c.Source != id {
			filtered = append(filtered, c)
		}
	}
	// release tail
	for i := len(filtered); i < len(conns); i++ {
		conns[i] = Connection{}
	}
	return filtered
}

// removeAt removes connection with provided index preserving order.
func removeAt(conns []Connection, i int) []Connection {
	copy(conns[i:], conns[i+1:])
	conns[len(conns)-1] = Connection{}
	return conns[:len(conns)-1]
}
