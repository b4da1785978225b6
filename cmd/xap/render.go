package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"pipelined.dev/xap"
	"pipelined.dev/xap/apu"
	"pipelined.dev/xap/player"
	"pipelined.dev/xap/sequence"
	"pipelined.dev/xap/wav"
)

const channels = 2

type renderCommand struct {
	in         string
	out        string
	seconds    float64
	sampleRate int
	blockSize  int
	bitDepth   int
	lfoDepth   float64
}

func (cmd *renderCommand) Name() string {
	return "render"
}

func (cmd *renderCommand) Help() string {
	return "Render demo sequence into wav file"
}

func (cmd *renderCommand) Register(fs *flag.FlagSet) {
	fs.StringVar(&cmd.in, "in", "", "wav file mixed into output")
	fs.StringVar(&cmd.out, "out", "", "output wav file (required)")
	fs.Float64Var(&cmd.seconds, "seconds", 4, "length of rendered audio")
	fs.IntVar(&cmd.sampleRate, "rate", 44100, "sample rate")
	fs.IntVar(&cmd.blockSize, "block", 512, "block size")
	fs.IntVar(&cmd.bitDepth, "bits", 16, "bit depth: 16, 24 or 32")
	fs.Float64Var(&cmd.lfoDepth, "tremolo", 0.5, "depth of gain modulation")
}

func (cmd *renderCommand) Validate() error {
	var message string
	if cmd.out == "" {
		message = message + "Missing -out required flag\n"
	}
	if cmd.seconds <= 0 {
		message = message + "-seconds must be positive\n"
	}
	if cmd.blockSize <= 0 {
		message = message + "-block must be positive\n"
	}
	if message != "" {
		return errors.New(message)
	}
	return nil
}

func (cmd *renderCommand) Run() error {
	if err := cmd.Validate(); err != nil {
		return err
	}
	g, err := cmd.graph()
	if err != nil {
		return err
	}
	if err := g.Activate(float64(cmd.sampleRate), 1, cmd.blockSize); err != nil {
		return err
	}
	defer g.Deactivate()

	f, err := os.Create(cmd.out)
	if err != nil {
		return err
	}
	r := wav.Renderer{
		SampleRate: cmd.sampleRate,
		Channels:   channels,
		BitDepth:   cmd.bitDepth,
		BlockSize:  cmd.blockSize,
	}
	frames := int(cmd.seconds * float64(cmd.sampleRate))
	logger.WithField("file", cmd.out).WithField("frames", frames).Info("rendering")
	if err := r.Render(g, f, frames); err != nil {
		return errors.Join(err, f.Close())
	}
	return f.Close()
}

// graph builds player -> synth -> gain chain with LFO modulating the gain.
func (cmd *renderCommand) graph() (*xap.Graph, error) {
	g := xap.New(xap.WithLogger(logger))
	procs := map[string]xap.Processor{
		"player": player.New(demoSequence(cmd.seconds)),
	}
	for name, id := range map[string]string{"synth": apu.SynthID, "gain": apu.GainID, "lfo": apu.LFOID} {
		p, err := xap.Create(id)
		if err != nil {
			return nil, err
		}
		procs[name] = p
	}
	if cmd.in != "" {
		f, err := os.Open(cmd.in)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		src, err := wav.NewSource(f)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", cmd.in, err)
		}
		procs["wav"] = src
	}
	for _, name := range []string{"player", "synth", "lfo", "gain", "wav"} {
		p, ok := procs[name]
		if !ok {
			continue
		}
		if _, err := g.AddNode(p, name); err != nil {
			return nil, err
		}
	}

	playerID, _ := g.NodeByName("player")
	synthID, _ := g.NodeByName("synth")
	if err := g.Connect(xap.Events, playerID, 0, 0, synthID, 0, 0); err != nil {
		return nil, err
	}
	for c := 0; c < channels; c++ {
		if err := g.ConnectAudioByName("synth", 0, c, "gain", 0, c); err != nil {
			return nil, err
		}
		if src, ok := procs["wav"].(*wav.Source); ok {
			if err := g.ConnectAudioByName("wav", 0, c%src.Channels(), "gain", 0, c); err != nil {
				return nil, err
			}
		}
	}
	if err := g.ConnectModulationByName("lfo", apu.LFOOutput, "gain", apu.GainAmount, false, cmd.lfoDepth); err != nil {
		return nil, err
	}
	gainID, _ := g.NodeByName("gain")
	if err := g.SetOutputNode(gainID); err != nil {
		return nil, err
	}
	return g, nil
}

// demoSequence returns an arpeggio that lasts for provided duration.
func demoSequence(seconds float64) *sequence.Sequence {
	const step = 0.25
	keys := []int{60, 64, 67, 72, 67, 64}
	s := sequence.New()
	s.AddTransportEvent(0, 120)
	s.AddProgramChange(0, 0, 0, 0)
	for i := 0; float64(i)*step < seconds; i++ {
		t := float64(i) * step
		if i%8 == 7 {
			s.AddNoteF(t, step*0.8, 0, 0, float64(keys[i%len(keys)])+0.5, i, 0.8)
			continue
		}
		s.AddNote(t, step*0.8, 0, 0, keys[i%len(keys)], i, 0.8, 0)
	}
	return s
}
