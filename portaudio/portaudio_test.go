//go:build portaudio

package portaudio_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipelined.dev/xap"
	"pipelined.dev/xap/log"
	"pipelined.dev/xap/mock"
	"pipelined.dev/xap/portaudio"
)

const (
	sampleRate = 44100
	blockSize  = 512
)

func TestDevice(t *testing.T) {
	g := xap.New(xap.WithLogger(log.Discard()))
	gen, err := g.AddNode(mock.Generator(2, 0.1), "gen")
	require.NoError(t, err)
	out, err := g.AddNode(mock.Sink(2), "out")
	require.NoError(t, err)
	require.NoError(t, g.Connect(xap.Audio, gen, 0, 0, out, 0, 0))
	require.NoError(t, g.Connect(xap.Audio, gen, 0, 1, out, 0, 1))
	require.NoError(t, g.SetOutputNode(out))
	require.NoError(t, g.Activate(sampleRate, 1, blockSize))
	defer g.Deactivate()

	d, err := portaudio.Open(g, sampleRate, blockSize, 0, 2)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	// applied by the first stream callback
	require.NoError(t, g.RemoveNode(gen))
	assert.NoError(t, d.Run(ctx))
	assert.NoError(t, d.Close())
	_, ok := g.Node(gen)
	assert.False(t, ok)
}
