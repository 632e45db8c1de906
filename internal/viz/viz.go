// SPDX-License-Identifier: MIT

// Package viz renders the preprocessing visualization artifacts: a
// channel-averaged PSD and a short multi-channel waveform strip.
package viz

import (
	"bytes"
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/neurolab/neurolab/internal/feature"
	"github.com/neurolab/neurolab/internal/sigio"
)

const (
	// waveformSeconds of signal shown in the strip plot.
	waveformSeconds = 10.0
	// waveformChannels caps how many channels are stacked.
	waveformChannels = 8
)

func render(p *plot.Plot, w, h vg.Length) ([]byte, error) {
	wt, err := p.WriterTo(w, h, "png")
	if err != nil {
		return nil, fmt.Errorf("viz: render: %w", err)
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("viz: write: %w", err)
	}
	return buf.Bytes(), nil
}

// PSDPlot renders the channel-averaged Welch PSD up to 60 Hz.
func PSDPlot(b *sigio.Buffer, welchWindowSec float64) ([]byte, error) {
	if b.NChannels() == 0 || b.NSamples() == 0 {
		return nil, fmt.Errorf("viz: empty buffer")
	}
	nperseg := int(welchWindowSec * b.SampleRate)

	var freqs, avg []float64
	for _, x := range b.Data {
		f, psd := feature.WelchPSD(x, b.SampleRate, nperseg)
		if avg == nil {
			freqs = f
			avg = make([]float64, len(psd))
		}
		for k, v := range psd {
			avg[k] += v
		}
	}
	for k := range avg {
		avg[k] /= float64(b.NChannels())
	}

	pts := make(plotter.XYs, 0, len(freqs))
	for k, f := range freqs {
		if f > 60 {
			break
		}
		pts = append(pts, plotter.XY{X: f, Y: avg[k]})
	}

	p := plot.New()
	p.Title.Text = "Power Spectral Density"
	p.X.Label.Text = "Frequency (Hz)"
	p.Y.Label.Text = "PSD (V²/Hz)"
	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, fmt.Errorf("viz: psd line: %w", err)
	}
	p.Add(line)

	return render(p, 6*vg.Inch, 4*vg.Inch)
}

// WaveformPlot renders the first seconds of up to waveformChannels channels,
// vertically offset so traces do not overlap.
func WaveformPlot(b *sigio.Buffer) ([]byte, error) {
	if b.NChannels() == 0 || b.NSamples() == 0 {
		return nil, fmt.Errorf("viz: empty buffer")
	}
	nCh := b.NChannels()
	if nCh > waveformChannels {
		nCh = waveformChannels
	}
	n := int(waveformSeconds * b.SampleRate)
	if n > b.NSamples() {
		n = b.NSamples()
	}

	// Offset step: a robust amplitude scale over the shown window.
	var maxAbs float64
	for ch := 0; ch < nCh; ch++ {
		for _, v := range b.Data[ch][:n] {
			if a := v; a < 0 {
				if -a > maxAbs {
					maxAbs = -a
				}
			} else if a > maxAbs {
				maxAbs = a
			}
		}
	}
	if maxAbs == 0 {
		maxAbs = 1
	}
	step := 2.5 * maxAbs

	p := plot.New()
	p.Title.Text = "Cleaned Signal"
	p.X.Label.Text = "Time (s)"
	p.Y.Tick.Marker = channelTicks{names: b.ChannelNames[:nCh], step: step}

	for ch := 0; ch < nCh; ch++ {
		pts := make(plotter.XYs, n)
		offset := -float64(ch) * step
		for i := 0; i < n; i++ {
			pts[i] = plotter.XY{
				X: float64(i) / b.SampleRate,
				Y: b.Data[ch][i] + offset,
			}
		}
		line, err := plotter.NewLine(pts)
		if err != nil {
			return nil, fmt.Errorf("viz: waveform line: %w", err)
		}
		p.Add(line)
	}

	return render(p, 8*vg.Inch, 5*vg.Inch)
}

// channelTicks labels each trace's baseline with its channel name.
type channelTicks struct {
	names []string
	step  float64
}

func (t channelTicks) Ticks(min, max float64) []plot.Tick {
	ticks := make([]plot.Tick, len(t.names))
	for i, name := range t.names {
		ticks[i] = plot.Tick{Value: -float64(i) * t.step, Label: name}
	}
	return ticks
}
