//go:build portaudio

// Package portaudio drives graphs with the default portaudio device.
package portaudio

import (
	"context"
	"errors"
	"time"

	"github.com/gordonklaus/portaudio"

	"pipelined.dev/xap"
	"pipelined.dev/xap/log"
)

// DefaultCollectInterval is how often removed nodes are collected.
const DefaultCollectInterval = 50 * time.Millisecond

type (
	// Device processes graph in the portaudio stream callback.
	Device struct {
		graph  *xap.Graph
		stream *portaudio.Stream
		ctx    xap.ProcessContext
		logger log.Logger

		// CollectInterval overrides DefaultCollectInterval.
		CollectInterval time.Duration
	}
)

// Open initializes portaudio and opens the default stream. Graph must be
// activated with the same sample rate and block size before Run.
func Open(g *xap.Graph, sampleRate float64, blockSize, inputs, outputs int) (*Device, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, err
	}
	d := &Device{
		graph:  g,
		logger: log.GetLogger().WithField("device", "portaudio"),
	}
	var err error
	d.stream, err = portaudio.OpenDefaultStream(inputs, outputs, sampleRate, blockSize, d.process)
	if err != nil {
		return nil, errors.Join(err, portaudio.Terminate())
	}
	return d, nil
}

// process is the stream callback. It runs on the audio thread.
func (d *Device) process(in, out [][]float32) {
	d.ctx.AudioIn = in
	d.ctx.AudioOut = out
	d.ctx.Frames = 0
	if len(out) > 0 {
		d.ctx.Frames = len(out[0])
	}
	d.graph.Process(&d.ctx)
}

// Run starts the stream and blocks until context is done. Removed nodes
// are collected while stream is running.
func (d *Device) Run(ctx context.Context) error {
	if err := d.stream.Start(); err != nil {
		return err
	}
	interval := d.CollectInterval
	if interval == 0 {
		interval = DefaultCollectInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return d.stream.Stop()
		case <-ticker.C:
			if err := d.graph.Collect(); err != nil {
				d.logger.WithError(err).Warn("collect failed")
			}
		}
	}
}

// Close closes the stream and terminates portaudio.
func (d *Device) Close() error {
	return errors.Join(d.stream.Close(), portaudio.Terminate())
}
