// SPDX-License-Identifier: MIT

package sigio

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/neurolab/neurolab/internal/errdefs"
)

// EDF/BDF decoding. EDF stores 16-bit samples, BDF (BioSemi) 24-bit; the
// header layout is shared. Annotation and status channels are dropped from
// the decoded buffer. Samples are converted to physical units and scaled to
// volts.

const edfHeaderSize = 256

type edfSignal struct {
	label        string
	dimension    string
	physMin      float64
	physMax      float64
	digMin       float64
	digMax       float64
	samplesPerRec int
}

func (s edfSignal) isAnnotation() bool {
	l := strings.ToUpper(s.label)
	return strings.Contains(l, "ANNOTATION") || l == "STATUS"
}

func (s edfSignal) gain() float64 {
	den := s.digMax - s.digMin
	if den == 0 {
		return 1
	}
	return (s.physMax - s.physMin) / den
}

func (s edfSignal) offset() float64 {
	return s.physMin - s.gain()*s.digMin
}

// unitScale converts a physical dimension string to a multiplier into volts.
// EDF EEG data is conventionally in microvolts; unknown units fall back to
// that convention.
func unitScale(dim string) float64 {
	switch strings.TrimSpace(dim) {
	case "V":
		return 1
	case "mV":
		return 1e-3
	case "uV", "µV", "":
		return 1e-6
	default:
		return 1e-6
	}
}

func edfField(data []byte, offset, length int) string {
	return strings.TrimSpace(string(data[offset : offset+length]))
}

func edfFloat(data []byte, offset, length int) (float64, error) {
	return strconv.ParseFloat(edfField(data, offset, length), 64)
}

func edfInt(data []byte, offset, length int) (int, error) {
	return strconv.Atoi(edfField(data, offset, length))
}

// DecodeEDF decodes EDF (16-bit) or BDF (24-bit) data.
func DecodeEDF(data []byte, bdf bool) (*Buffer, error) {
	format := "edf"
	if bdf {
		format = "bdf"
	}
	fail := func(err error) (*Buffer, error) {
		return nil, &errdefs.FormatError{Format: format, Err: err}
	}

	if len(data) < edfHeaderSize {
		return fail(fmt.Errorf("truncated header: %d bytes", len(data)))
	}

	nRecords, err := edfInt(data, 236, 8)
	if err != nil {
		return fail(fmt.Errorf("record count: %w", err))
	}
	recDuration, err := edfFloat(data, 244, 8)
	if err != nil {
		return fail(fmt.Errorf("record duration: %w", err))
	}
	ns, err := edfInt(data, 252, 4)
	if err != nil || ns <= 0 {
		return fail(fmt.Errorf("signal count: %q", edfField(data, 252, 4)))
	}

	headerSize := edfHeaderSize + ns*256
	if len(data) < headerSize {
		return fail(fmt.Errorf("truncated signal headers: have %d want %d", len(data), headerSize))
	}

	signals := make([]edfSignal, ns)
	for i := 0; i < ns; i++ {
		sig := edfSignal{
			label:     edfField(data, edfHeaderSize+i*16, 16),
			dimension: edfField(data, edfHeaderSize+ns*(16+80)+i*8, 8),
		}
		base := edfHeaderSize + ns*(16+80+8)
		if sig.physMin, err = edfFloat(data, base+i*8, 8); err != nil {
			return fail(fmt.Errorf("signal %d physical min: %w", i, err))
		}
		if sig.physMax, err = edfFloat(data, base+ns*8+i*8, 8); err != nil {
			return fail(fmt.Errorf("signal %d physical max: %w", i, err))
		}
		if sig.digMin, err = edfFloat(data, base+ns*16+i*8, 8); err != nil {
			return fail(fmt.Errorf("signal %d digital min: %w", i, err))
		}
		if sig.digMax, err = edfFloat(data, base+ns*24+i*8, 8); err != nil {
			return fail(fmt.Errorf("signal %d digital max: %w", i, err))
		}
		sprBase := edfHeaderSize + ns*(16+80+8+8+8+8+8+80)
		if sig.samplesPerRec, err = edfInt(data, sprBase+i*8, 8); err != nil || sig.samplesPerRec <= 0 {
			return fail(fmt.Errorf("signal %d samples per record", i))
		}
		signals[i] = sig
	}

	bytesPerSample := 2
	if bdf {
		bytesPerSample = 3
	}
	recordBytes := 0
	for _, s := range signals {
		recordBytes += s.samplesPerRec * bytesPerSample
	}
	if nRecords < 0 {
		// Unknown record count: infer from payload size.
		if recordBytes == 0 {
			return fail(fmt.Errorf("empty record layout"))
		}
		nRecords = (len(data) - headerSize) / recordBytes
	}
	if len(data) < headerSize+nRecords*recordBytes {
		return fail(fmt.Errorf("truncated payload: have %d want %d", len(data)-headerSize, nRecords*recordBytes))
	}
	if recDuration <= 0 {
		recDuration = 1
	}

	var kept []int
	var sfreq float64
	for i, s := range signals {
		if s.isAnnotation() {
			continue
		}
		f := float64(s.samplesPerRec) / recDuration
		if sfreq == 0 {
			sfreq = f
		} else if f != sfreq {
			return fail(fmt.Errorf("mixed sample rates %g and %g are not supported", sfreq, f))
		}
		kept = append(kept, i)
	}
	if len(kept) == 0 {
		return fail(fmt.Errorf("no data channels"))
	}

	buf := &Buffer{
		ChannelNames: make([]string, len(kept)),
		Data:         make([][]float64, len(kept)),
		SampleRate:   sfreq,
	}
	for k, i := range kept {
		buf.ChannelNames[k] = signals[i].label
		buf.Data[k] = make([]float64, 0, nRecords*signals[i].samplesPerRec)
	}

	pos := headerSize
	for rec := 0; rec < nRecords; rec++ {
		for i, sig := range signals {
			n := sig.samplesPerRec * bytesPerSample
			chunk := data[pos : pos+n]
			pos += n

			k := indexOf(kept, i)
			if k < 0 {
				continue
			}
			scale := unitScale(sig.dimension)
			gain, off := sig.gain(), sig.offset()
			for s := 0; s < sig.samplesPerRec; s++ {
				var raw int32
				if bdf {
					b0 := chunk[s*3]
					b1 := chunk[s*3+1]
					b2 := chunk[s*3+2]
					raw = int32(uint32(b0) | uint32(b1)<<8 | uint32(b2)<<16)
					if raw&0x800000 != 0 {
						raw -= 1 << 24
					}
				} else {
					raw = int32(int16(uint16(chunk[s*2]) | uint16(chunk[s*2+1])<<8))
				}
				buf.Data[k] = append(buf.Data[k], (float64(raw)*gain+off)*scale)
			}
		}
	}

	NormalizeChannels(buf)
	if err := buf.validate(); err != nil {
		return fail(err)
	}
	return buf, nil
}

func indexOf(xs []int, v int) int {
	for i, x := range xs {
		if x == v {
			return i
		}
	}
	return -1
}
