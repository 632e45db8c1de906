// SPDX-License-Identifier: MIT

package sigio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/neurolab/neurolab/internal/errdefs"
)

// EEGLAB .set decoding. A .set file is a MAT 5 container holding an EEG
// struct; this reader handles the uncompressed subset EEGLAB writes and pulls
// out the fields the pipeline needs: data, srate and chanlocs labels. EEGLAB
// stores amplitudes in microvolts, so samples are scaled to volts.

const (
	miInt8       = 1
	miUint8      = 2
	miInt16      = 3
	miUint16     = 4
	miInt32      = 5
	miUint32     = 6
	miSingle     = 7
	miDouble     = 9
	miMatrix     = 14
	miCompressed = 15
	miUTF8       = 16

	mxChar   = 4
	mxStruct = 2
)

type matElement struct {
	name   string
	class  uint8
	dims   []int
	num    []float64
	str    string
	fields []map[string]*matElement
}

func setErr(format string, args ...any) error {
	return &errdefs.FormatError{Format: "set", Err: fmt.Errorf(format, args...)}
}

// DecodeSET decodes an EEGLAB dataset.
func DecodeSET(data []byte) (*Buffer, error) {
	if len(data) < 128 {
		return nil, setErr("truncated MAT header: %d bytes", len(data))
	}
	if string(data[126:128]) != "IM" {
		// "MI" would indicate big-endian, which EEGLAB does not produce.
		return nil, setErr("unsupported byte order indicator %q", data[126:128])
	}

	eeg, err := findEEGVar(data[128:])
	if err != nil {
		return nil, err
	}
	return bufferFromEEG(eeg)
}

func findEEGVar(body []byte) (*matElement, error) {
	r := bytes.NewReader(body)
	var firstStruct *matElement
	for r.Len() > 0 {
		elType, payload, err := readTag(r)
		if err != nil {
			return nil, setErr("top-level element: %v", err)
		}
		switch elType {
		case miCompressed:
			return nil, setErr("compressed MAT elements are not supported")
		case miMatrix:
			el, err := parseMatrix(payload)
			if err != nil {
				return nil, err
			}
			if strings.EqualFold(el.name, "EEG") {
				return el, nil
			}
			if firstStruct == nil && el.class == mxStruct {
				firstStruct = el
			}
		}
	}
	if firstStruct != nil {
		return firstStruct, nil
	}
	return nil, setErr("no EEG struct found")
}

func bufferFromEEG(eeg *matElement) (*Buffer, error) {
	if eeg.class != mxStruct || len(eeg.fields) == 0 {
		return nil, setErr("EEG variable is not a struct")
	}
	f := eeg.fields[0]

	srate := f["srate"]
	if srate == nil || len(srate.num) == 0 {
		return nil, setErr("missing srate")
	}
	dataEl := f["data"]
	if dataEl == nil {
		return nil, setErr("missing data")
	}
	if dataEl.class == mxChar {
		return nil, setErr("externally stored data (%s) is not supported", dataEl.str)
	}
	if len(dataEl.dims) != 2 {
		return nil, setErr("data has %d dimensions, want 2", len(dataEl.dims))
	}
	nCh, nSamp := dataEl.dims[0], dataEl.dims[1]
	if len(dataEl.num) != nCh*nSamp {
		return nil, setErr("data length %d does not match %dx%d", len(dataEl.num), nCh, nSamp)
	}

	buf := &Buffer{
		SampleRate:   srate.num[0],
		Data:         make([][]float64, nCh),
		ChannelNames: make([]string, nCh),
	}
	// MAT matrices are column-major: element (ch, s) lives at s*nCh+ch.
	for ch := 0; ch < nCh; ch++ {
		row := make([]float64, nSamp)
		for s := 0; s < nSamp; s++ {
			row[s] = dataEl.num[s*nCh+ch] * 1e-6
		}
		buf.Data[ch] = row
	}

	if locs := f["chanlocs"]; locs != nil && locs.class == mxStruct {
		for i := 0; i < nCh && i < len(locs.fields); i++ {
			if lbl := locs.fields[i]["labels"]; lbl != nil {
				buf.ChannelNames[i] = lbl.str
			}
		}
	}
	for i, name := range buf.ChannelNames {
		if name == "" {
			buf.ChannelNames[i] = fmt.Sprintf("Ch%d", i+1)
		}
	}

	NormalizeChannels(buf)
	if err := buf.validate(); err != nil {
		return nil, &errdefs.FormatError{Format: "set", Err: err}
	}
	return buf, nil
}

// readTag reads one data element, handling both the regular 8-byte tag and
// the packed small-element format, and returns its type with the payload.
func readTag(r *bytes.Reader) (uint32, []byte, error) {
	var raw uint32
	if err := binary.Read(r, binary.LittleEndian, &raw); err != nil {
		return 0, nil, err
	}
	if raw>>16 != 0 {
		// Small element: size in the upper 16 bits, data in the next 4 bytes.
		size := raw >> 16
		elType := raw & 0xFFFF
		var word [4]byte
		if _, err := io.ReadFull(r, word[:]); err != nil {
			return 0, nil, err
		}
		return elType, word[:size], nil
	}
	var size uint32
	if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
		return 0, nil, err
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	// Payloads are padded to 8-byte boundaries.
	if pad := (8 - size%8) % 8; pad > 0 {
		if _, err := r.Seek(int64(pad), io.SeekCurrent); err != nil {
			return 0, nil, err
		}
	}
	return raw, payload, nil
}

func parseMatrix(payload []byte) (*matElement, error) {
	r := bytes.NewReader(payload)

	flagType, flags, err := readTag(r)
	if err != nil || flagType != miUint32 || len(flags) < 8 {
		return nil, setErr("array flags")
	}
	el := &matElement{class: flags[0]}

	dimType, dimRaw, err := readTag(r)
	if err != nil || dimType != miInt32 {
		return nil, setErr("dimensions")
	}
	for i := 0; i+4 <= len(dimRaw); i += 4 {
		el.dims = append(el.dims, int(int32(binary.LittleEndian.Uint32(dimRaw[i:]))))
	}

	_, nameRaw, err := readTag(r)
	if err != nil {
		return nil, setErr("array name: %v", err)
	}
	el.name = string(nameRaw)

	switch el.class {
	case mxStruct:
		return parseStruct(el, r)
	case mxChar:
		elType, raw, err := readTag(r)
		if err != nil {
			return nil, setErr("char data: %v", err)
		}
		el.str = decodeMatChars(elType, raw)
		return el, nil
	default:
		elType, raw, err := readTag(r)
		if err != nil {
			return nil, setErr("numeric data: %v", err)
		}
		el.num, err = decodeMatNumbers(elType, raw)
		if err != nil {
			return nil, err
		}
		return el, nil
	}
}

func parseStruct(el *matElement, r *bytes.Reader) (*matElement, error) {
	_, lenRaw, err := readTag(r)
	if err != nil || len(lenRaw) < 4 {
		return nil, setErr("struct field name length")
	}
	fieldLen := int(int32(binary.LittleEndian.Uint32(lenRaw)))

	_, namesRaw, err := readTag(r)
	if err != nil || fieldLen <= 0 {
		return nil, setErr("struct field names")
	}
	nFields := len(namesRaw) / fieldLen
	names := make([]string, nFields)
	for i := range names {
		names[i] = strings.TrimRight(string(namesRaw[i*fieldLen:(i+1)*fieldLen]), "\x00")
	}

	count := 1
	for _, d := range el.dims {
		count *= d
	}
	el.fields = make([]map[string]*matElement, count)
	for i := 0; i < count; i++ {
		el.fields[i] = make(map[string]*matElement, nFields)
		for _, name := range names {
			fType, fPayload, err := readTag(r)
			if err != nil {
				return nil, setErr("struct field %q: %v", name, err)
			}
			if fType != miMatrix {
				// Empty fields are written as zero-length elements.
				el.fields[i][name] = &matElement{}
				continue
			}
			child, err := parseMatrix(fPayload)
			if err != nil {
				return nil, err
			}
			el.fields[i][name] = child
		}
	}
	return el, nil
}

func decodeMatChars(elType uint32, raw []byte) string {
	switch elType {
	case miUint16, miInt16:
		runes := make([]rune, 0, len(raw)/2)
		for i := 0; i+2 <= len(raw); i += 2 {
			runes = append(runes, rune(binary.LittleEndian.Uint16(raw[i:])))
		}
		return string(runes)
	default: // miInt8, miUint8, miUTF8
		return string(raw)
	}
}

func decodeMatNumbers(elType uint32, raw []byte) ([]float64, error) {
	le := binary.LittleEndian
	switch elType {
	case miDouble:
		out := make([]float64, len(raw)/8)
		for i := range out {
			out[i] = math.Float64frombits(le.Uint64(raw[i*8:]))
		}
		return out, nil
	case miSingle:
		out := make([]float64, len(raw)/4)
		for i := range out {
			out[i] = float64(math.Float32frombits(le.Uint32(raw[i*4:])))
		}
		return out, nil
	case miInt32:
		out := make([]float64, len(raw)/4)
		for i := range out {
			out[i] = float64(int32(le.Uint32(raw[i*4:])))
		}
		return out, nil
	case miUint32:
		out := make([]float64, len(raw)/4)
		for i := range out {
			out[i] = float64(le.Uint32(raw[i*4:]))
		}
		return out, nil
	case miInt16:
		out := make([]float64, len(raw)/2)
		for i := range out {
			out[i] = float64(int16(le.Uint16(raw[i*2:])))
		}
		return out, nil
	case miUint16:
		out := make([]float64, len(raw)/2)
		for i := range out {
			out[i] = float64(le.Uint16(raw[i*2:]))
		}
		return out, nil
	case miInt8:
		out := make([]float64, len(raw))
		for i := range out {
			out[i] = float64(int8(raw[i]))
		}
		return out, nil
	case miUint8:
		out := make([]float64, len(raw))
		for i := range out {
			out[i] = float64(raw[i])
		}
		return out, nil
	default:
		return nil, setErr("unsupported numeric element type %d", elType)
	}
}
