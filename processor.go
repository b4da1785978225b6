package xap

import (
	"io"

	"pipelined.dev/xap/event"
)

// ParamID identifies a parameter of a processor.
type ParamID = event.ParamID

// Status is returned by processor after processing a block.
type Status int

// Processing statuses.
const (
	// Error means that block was not processed. Outputs of the node are
	// zeroed by graph.
	Error Status = iota
	// Continue means that processor needs to be called for next block.
	Continue
	// ContinueIfNotQuiet means that processor can be put to sleep when
	// input is quiet.
	ContinueIfNotQuiet
	// Tail means that processor is producing its tail.
	Tail
	// Sleep means that processor has nothing to do until next event.
	Sleep
)

func (s Status) String() string {
	switch s {
	case Error:
		return "error"
	case Continue:
		return "continue"
	case ContinueIfNotQuiet:
		return "continue if not quiet"
	case Tail:
		return "tail"
	case Sleep:
		return "sleep"
	}
	return "unknown"
}

type (
	// Processor is an audio processing unit. Activate, Deactivate and info
	// methods are called on the control goroutine. StartProcessing,
	// StopProcessing and Process are called on the audio goroutine.
	Processor interface {
		Activate(sampleRate float64, minFrames, maxFrames int) error
		Deactivate()
		StartProcessing() error
		StopProcessing()
		Process(p *Process) Status

		AudioPortsCount(isInput bool) int
		AudioPortInfo(index int, isInput bool) (PortInfo, bool)
		NotePortsCount(isInput bool) int
		NotePortInfo(index int, isInput bool) (PortInfo, bool)

		ParamsCount() int
		ParamInfo(index int) (ParamInfo, bool)
		ParamValue(id ParamID) (float64, bool)
		// EnqueueParameterChange must not block. Change is applied during
		// the next processed block.
		EnqueueParameterChange(c ParamChange) bool
	}

	// Process carries the data of a single block. Audio buffers are
	// indexed by port, channel and frame and hold exactly Frames samples.
	// Processor must not retain any of the slices after Process returns.
	Process struct {
		Frames    int
		Transport event.TransportPayload
		AudioIn   [][][]float32
		AudioOut  [][][]float32
		InEvents  []event.Event
		OutEvents *event.List
	}

	// PortInfo describes audio or note port.
	PortInfo struct {
		ID       uint32
		Name     string
		Channels int
	}

	// ParamInfo describes a parameter.
	ParamInfo struct {
		ID      ParamID
		Name    string
		Module  string
		Min     float64
		Max     float64
		Default float64
	}

	// ParamChange is a parameter change sent from outside of the audio
	// stream. If Modulation is true, Value is a modulation amount.
	ParamChange struct {
		ID         ParamID
		Value      float64
		Modulation bool
	}
)

// Clamp limits value to parameter range.
func (p ParamInfo) Clamp(v float64) float64 {
	if v < p.Min {
		return p.Min
	}
	if v > p.Max {
		return p.Max
	}
	return v
}

// Event returns the change as event at the start of block.
func (c ParamChange) Event() event.Event {
	if c.Modulation {
		return event.NewParamMod(0, c.ID, c.Value)
	}
	return event.NewParamValue(0, c.ID, c.Value)
}

type (
	// Descriptor identifies processor implementation.
	Descriptor struct {
		ID      string
		Name    string
		Vendor  string
		Version string
	}

	// Describer is implemented by processors which provide descriptor.
	Describer interface {
		Descriptor() Descriptor
	}

	// ParamsRescanner is implemented by processors which can change their
	// parameters layout after construction. Graph polls it in Collect.
	ParamsRescanner interface {
		ParamsRescanRequested() bool
	}

	// StateSaver is implemented by processors which can persist their
	// state. Graph doesn't use it, it's exposed for hosts.
	StateSaver interface {
		SaveState(w io.Writer) error
		LoadState(r io.Reader) error
	}
)
