// SPDX-License-Identifier: MIT

package viz

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurolab/neurolab/internal/sigio"
)

func testBuffer() *sigio.Buffer {
	const sfreq = 250.0
	n := 4 * int(sfreq)
	mk := func(freq float64) []float64 {
		x := make([]float64, n)
		for i := range x {
			x[i] = 20e-6 * math.Sin(2*math.Pi*freq*float64(i)/sfreq)
		}
		return x
	}
	return &sigio.Buffer{
		SampleRate:   sfreq,
		ChannelNames: []string{"Fz", "Cz"},
		Data:         [][]float64{mk(10), mk(6)},
	}
}

func TestPSDPlotProducesPNG(t *testing.T) {
	png, err := PSDPlot(testBuffer(), 2.0)
	require.NoError(t, err)
	require.NotEmpty(t, png)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, png[:4])
}

func TestWaveformPlotProducesPNG(t *testing.T) {
	png, err := WaveformPlot(testBuffer())
	require.NoError(t, err)
	require.NotEmpty(t, png)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, png[:4])
}

func TestPlotsRejectEmptyBuffer(t *testing.T) {
	empty := &sigio.Buffer{SampleRate: 250}
	_, err := PSDPlot(empty, 2.0)
	require.Error(t, err)
	_, err = WaveformPlot(empty)
	require.Error(t, err)
}
