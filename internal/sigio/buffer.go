// SPDX-License-Identifier: MIT

// Package sigio decodes binary recording formats into an in-memory
// multichannel buffer and persists cleaned buffers back to storage.
package sigio

import (
	"fmt"
	"strings"
)

// ChannelKind classifies a channel by its role in artifact detection.
type ChannelKind int

const (
	KindEEG ChannelKind = iota
	KindEOG
	KindECG
	KindOther
)

// Buffer is a decoded multichannel recording. Data is channel-major:
// Data[ch][sample], double precision.
type Buffer struct {
	Data         [][]float64
	ChannelNames []string
	SampleRate   float64
	Montage      Montage
	Bads         []string
}

// NChannels returns the channel count.
func (b *Buffer) NChannels() int { return len(b.Data) }

// NSamples returns the per-channel sample count (0 for an empty buffer).
func (b *Buffer) NSamples() int {
	if len(b.Data) == 0 {
		return 0
	}
	return len(b.Data[0])
}

// Duration returns the recording length in seconds.
func (b *Buffer) Duration() float64 {
	if b.SampleRate == 0 {
		return 0
	}
	return float64(b.NSamples()) / b.SampleRate
}

// ChannelIndex returns the index of the named channel, or -1.
func (b *Buffer) ChannelIndex(name string) int {
	for i, n := range b.ChannelNames {
		if n == name {
			return i
		}
	}
	return -1
}

// Kind classifies a channel name. EOG/ECG channels are recognized by their
// conventional label prefixes; everything mapped to the 10-20 set is EEG.
func Kind(name string) ChannelKind {
	upper := strings.ToUpper(strings.TrimSpace(name))
	switch {
	case strings.HasPrefix(upper, "EOG"), strings.HasPrefix(upper, "HEOG"), strings.HasPrefix(upper, "VEOG"):
		return KindEOG
	case strings.HasPrefix(upper, "ECG"), strings.HasPrefix(upper, "EKG"):
		return KindECG
	case strings.HasPrefix(upper, "STI"), strings.HasPrefix(upper, "TRIG"), strings.HasPrefix(upper, "STATUS"):
		return KindOther
	default:
		return KindEEG
	}
}

// EEGIndices returns the indices of channels classified as EEG.
func (b *Buffer) EEGIndices() []int {
	var out []int
	for i, name := range b.ChannelNames {
		if Kind(name) == KindEEG {
			out = append(out, i)
		}
	}
	return out
}

// MarkBad adds names to the bad-channel list, keeping it duplicate-free.
func (b *Buffer) MarkBad(names ...string) {
	seen := make(map[string]bool, len(b.Bads))
	for _, n := range b.Bads {
		seen[n] = true
	}
	for _, n := range names {
		if !seen[n] {
			b.Bads = append(b.Bads, n)
			seen[n] = true
		}
	}
}

// Clone returns a deep copy of the buffer.
func (b *Buffer) Clone() *Buffer {
	data := make([][]float64, len(b.Data))
	for i, ch := range b.Data {
		data[i] = append([]float64(nil), ch...)
	}
	out := &Buffer{
		Data:         data,
		ChannelNames: append([]string(nil), b.ChannelNames...),
		SampleRate:   b.SampleRate,
		Bads:         append([]string(nil), b.Bads...),
	}
	if b.Montage != nil {
		out.Montage = make(Montage, len(b.Montage))
		for k, v := range b.Montage {
			out.Montage[k] = v
		}
	}
	return out
}

func (b *Buffer) validate() error {
	if len(b.Data) != len(b.ChannelNames) {
		return fmt.Errorf("channel count %d does not match name count %d", len(b.Data), len(b.ChannelNames))
	}
	for i, ch := range b.Data {
		if len(ch) != b.NSamples() {
			return fmt.Errorf("channel %d has ragged length %d", i, len(ch))
		}
	}
	return nil
}
