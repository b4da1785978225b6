// Package wav renders graphs into wav streams and plays wav data in
// graphs.
package wav

import (
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"pipelined.dev/xap"
	"pipelined.dev/xap/event"
	"pipelined.dev/xap/signal"
)

const pcmFormat = 1

var (
	// ErrUnsupportedBitDepth is returned when unsupported bit depth is used.
	ErrUnsupportedBitDepth = errors.New("only 16, 24 and 32 bit depth is supported")
	// ErrInvalidFile is returned when wav data can't be decoded.
	ErrInvalidFile = errors.New("wav is not valid")
	// ErrSampleRate is returned when source is activated with sample rate
	// different from the data.
	ErrSampleRate = errors.New("sample rate mismatch")
)

// Renderer processes active graph block by block and encodes its output.
type Renderer struct {
	SampleRate int
	Channels   int
	BitDepth   int
	BlockSize  int
}

// Render processes graph for provided number of frames and writes output
// into ws. Graph must be activated with the renderer sample rate and
// block size. Removed nodes are collected after every block.
func (r Renderer) Render(g *xap.Graph, ws io.WriteSeeker, frames int) error {
	bitDepth := signal.BitDepth(r.BitDepth)
	if !bitDepth.Supported() {
		return ErrUnsupportedBitDepth
	}
	e := wav.NewEncoder(ws, r.SampleRate, r.BitDepth, r.Channels, pcmFormat)
	ctx := &xap.ProcessContext{
		AudioOut: make([][]float32, r.Channels),
	}
	for c := range ctx.AudioOut {
		ctx.AudioOut[c] = make([]float32, r.BlockSize)
	}
	ib := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: r.Channels,
			SampleRate:  r.SampleRate,
		},
		Data:           make([]int, r.BlockSize*r.Channels),
		SourceBitDepth: r.BitDepth,
	}
	for done := 0; done < frames; {
		n := r.BlockSize
		if left := frames - done; left < n {
			n = left
		}
		ctx.Frames = n
		if g.Process(ctx) == xap.Error {
			return fmt.Errorf("render at frame %d: %w", done, xap.ErrNotActive)
		}
		if err := g.Collect(); err != nil {
			return fmt.Errorf("render at frame %d: %w", done, err)
		}
		ib.Data = ib.Data[:n*r.Channels]
		signal.Interleave(ib.Data, ctx.AudioOut, n, bitDepth)
		if err := e.Write(ib); err != nil {
			return err
		}
		done += n
	}
	return e.Close()
}

// Source is a processor that plays decoded wav data. Data is decoded when
// source is created, so Process does no I/O.
type Source struct {
	data       [][]float32
	sampleRate int
	pos        int
	// Loop restarts playback when data ends.
	Loop bool
}

// NewSource decodes wav data.
func NewSource(r io.ReadSeeker) (*Source, error) {
	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return nil, ErrInvalidFile
	}
	bitDepth := signal.BitDepth(d.BitDepth)
	if !bitDepth.Supported() {
		return nil, ErrUnsupportedBitDepth
	}
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}
	return &Source{
		data:       signal.Deinterleave(buf.Data, buf.Format.NumChannels, bitDepth),
		sampleRate: buf.Format.SampleRate,
	}, nil
}

// Channels returns number of channels.
func (s *Source) Channels() int {
	return len(s.data)
}

// Frames returns number of frames.
func (s *Source) Frames() int {
	if len(s.data) == 0 {
		return 0
	}
	return len(s.data[0])
}

// SampleRate returns sample rate of the data.
func (s *Source) SampleRate() int {
	return s.sampleRate
}

// Descriptor implements xap.Describer.
func (s *Source) Descriptor() xap.Descriptor {
	return xap.Descriptor{ID: "xap.wav.source", Name: "wav source"}
}

// Activate implements xap.Processor. Source doesn't resample.
func (s *Source) Activate(sampleRate float64, _, _ int) error {
	if int(sampleRate) != s.sampleRate {
		return fmt.Errorf("source %d, graph %v: %w", s.sampleRate, sampleRate, ErrSampleRate)
	}
	s.pos = 0
	return nil
}

// Deactivate implements xap.Processor.
func (s *Source) Deactivate() {}

// StartProcessing implements xap.Processor.
func (s *Source) StartProcessing() error { return nil }

// StopProcessing implements xap.Processor.
func (s *Source) StopProcessing() {}

// Process implements xap.Processor.
func (s *Source) Process(p *xap.Process) xap.Status {
	out := p.AudioOut[0]
	frames := s.Frames()
	if s.pos >= frames && !s.Loop {
		for c := range out {
			clear(out[c])
		}
		return xap.Sleep
	}
	for i := 0; i < p.Frames; i++ {
		if s.pos >= frames {
			if !s.Loop {
				for c := range out {
					clear(out[c][i:])
				}
				break
			}
			s.pos = 0
		}
		for c := range out {
			out[c][i] = s.data[c][s.pos]
		}
		s.pos++
	}
	return xap.Continue
}

// AudioPortsCount implements xap.Processor.
func (s *Source) AudioPortsCount(isInput bool) int {
	if isInput {
		return 0
	}
	return 1
}

// AudioPortInfo implements xap.Processor.
func (s *Source) AudioPortInfo(index int, isInput bool) (xap.PortInfo, bool) {
	if isInput || index != 0 {
		return xap.PortInfo{}, false
	}
	return xap.PortInfo{Name: "out", Channels: len(s.data)}, true
}

// NotePortsCount implements xap.Processor.
func (s *Source) NotePortsCount(bool) int { return 0 }

// NotePortInfo implements xap.Processor.
func (s *Source) NotePortInfo(int, bool) (xap.PortInfo, bool) { return xap.PortInfo{}, false }

// ParamsCount implements xap.Processor.
func (s *Source) ParamsCount() int { return 0 }

// ParamInfo implements xap.Processor.
func (s *Source) ParamInfo(int) (xap.ParamInfo, bool) { return xap.ParamInfo{}, false }

// ParamValue implements xap.Processor.
func (s *Source) ParamValue(event.ParamID) (float64, bool) { return 0, false }

// EnqueueParameterChange implements xap.Processor.
func (s *Source) EnqueueParameterChange(xap.ParamChange) bool { return false }
