// SPDX-License-Identifier: MIT

package sigio

import (
	"math"
	"strings"
)

// Position is a scalp electrode location on the unit sphere (head-centered,
// x right, y front, z up).
type Position struct {
	X, Y, Z float64
}

// Montage maps canonical channel labels to scalp positions.
type Montage map[string]Position

// Distance returns the Euclidean distance between two positions.
func (p Position) Distance(q Position) float64 {
	dx, dy, dz := p.X-q.X, p.Y-q.Y, p.Z-q.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// canonical1020 is the canonical 10-20 label set recognized by channel-name
// normalization.
var canonical1020 = []string{
	"Fp1", "Fp2", "F7", "F3", "Fz", "F4", "F8",
	"T7", "C3", "Cz", "C4", "T8",
	"P7", "P3", "Pz", "P4", "P8",
	"O1", "Oz", "O2",
	"FC1", "FC2", "FC5", "FC6",
	"CP1", "CP2", "CP5", "CP6",
	"AF3", "AF4", "AF7", "AF8",
	"PO3", "PO4", "PO7", "PO8",
}

// besa holds spherical coordinates (azimuth theta, orbit phi, degrees) for
// the canonical set. Only relative geometry matters for neighbour
// interpolation; absolute head size is normalized away.
var besa = map[string][2]float64{
	"Fp1": {-92, -72}, "Fp2": {92, 72},
	"AF7": {-92, -54}, "AF3": {-74, -65}, "AF4": {74, 65}, "AF8": {92, 54},
	"F7": {-92, -36}, "F3": {-60, -51}, "Fz": {46, 90}, "F4": {60, 51}, "F8": {92, 36},
	"FC5": {-72, -21}, "FC1": {-32, -45}, "FC2": {32, 45}, "FC6": {72, 21},
	"T7": {-92, 0}, "C3": {-46, 0}, "Cz": {0, 0}, "C4": {46, 0}, "T8": {92, 0},
	"CP5": {-72, 21}, "CP1": {-32, 45}, "CP2": {32, -45}, "CP6": {72, -21},
	"P7": {-92, 36}, "P3": {-60, 51}, "Pz": {46, -90}, "P4": {60, -51}, "P8": {92, -36},
	"PO7": {-92, 54}, "PO3": {-74, 65}, "PO4": {74, -65}, "PO8": {92, -54},
	"O1": {-92, 72}, "Oz": {92, -90}, "O2": {92, -72},
}

// Standard1020 returns the built-in standard 10-20 montage.
func Standard1020() Montage {
	m := make(Montage, len(besa))
	for label, tp := range besa {
		theta := tp[0] * math.Pi / 180
		phi := tp[1] * math.Pi / 180
		// BESA convention: theta rotates from Cz toward the right ear,
		// phi rotates the meridian around the vertical axis.
		m[label] = Position{
			X: math.Sin(theta) * math.Cos(phi),
			Y: math.Sin(theta) * math.Sin(phi),
			Z: math.Cos(theta),
		}
	}
	return m
}

var canonicalByFolded = buildFoldedIndex()

func buildFoldedIndex() map[string]string {
	idx := make(map[string]string, len(canonical1020))
	for _, name := range canonical1020 {
		idx[foldChannelName(name)] = name
	}
	return idx
}

func foldChannelName(name string) string {
	replacer := strings.NewReplacer("-", "", " ", "", "_", "")
	return strings.ToUpper(replacer.Replace(name))
}

// NormalizeChannelName maps any casing/punctuation variant of a canonical
// 10-20 label to its canonical form (e.g. "FP1", "fp-1" -> "Fp1"). Unmapped
// names are returned unchanged.
func NormalizeChannelName(name string) string {
	if canonical, ok := canonicalByFolded[foldChannelName(name)]; ok {
		return canonical
	}
	return name
}

// NormalizeChannels rewrites the buffer's channel names in place and attaches
// the standard montage positions for every recognized label. A buffer without
// any recognized labels keeps a nil montage, which is non-fatal downstream.
func NormalizeChannels(b *Buffer) {
	matched := 0
	for i, name := range b.ChannelNames {
		canonical := NormalizeChannelName(name)
		b.ChannelNames[i] = canonical
		if _, ok := besa[canonical]; ok {
			matched++
		}
	}
	if matched == 0 {
		return
	}
	std := Standard1020()
	b.Montage = make(Montage, matched)
	for _, name := range b.ChannelNames {
		if pos, ok := std[name]; ok {
			b.Montage[name] = pos
		}
	}
}
