// SPDX-License-Identifier: MIT

package sigio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neurolab/neurolab/internal/errdefs"
)

func TestNormalizeChannelName(t *testing.T) {
	cases := map[string]string{
		"FP1":  "Fp1",
		"fp1":  "Fp1",
		"Fp-1": "Fp1",
		"CZ":   "Cz",
		"c z":  "Cz",
		"o_2":  "O2",
		"EOG1": "EOG1", // not a 10-20 label, left alone
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeChannelName(in), "input %q", in)
	}
}

func TestNormalizeChannelsAttachesMontage(t *testing.T) {
	b := &Buffer{
		Data:         [][]float64{{0}, {0}, {0}},
		ChannelNames: []string{"FZ", "pz", "EOG1"},
		SampleRate:   100,
	}
	NormalizeChannels(b)

	assert.Equal(t, []string{"Fz", "Pz", "EOG1"}, b.ChannelNames)
	require.NotNil(t, b.Montage)
	assert.Contains(t, b.Montage, "Fz")
	assert.Contains(t, b.Montage, "Pz")
	assert.NotContains(t, b.Montage, "EOG1")
}

func TestStandard1020Geometry(t *testing.T) {
	m := Standard1020()

	// Cz sits at the vertex; homologous pairs are mirrored so their
	// distances to the vertex match.
	cz := m["Cz"]
	assert.InDelta(t, 1.0, cz.Z, 1e-9)
	assert.InDelta(t, m["C3"].Distance(cz), m["C4"].Distance(cz), 1e-9)
	assert.Less(t, m["C3"].Distance(m["C4"]), m["Fp1"].Distance(m["O2"]))
}

func TestChannelKind(t *testing.T) {
	assert.Equal(t, KindEEG, Kind("Fp1"))
	assert.Equal(t, KindEOG, Kind("EOG1"))
	assert.Equal(t, KindEOG, Kind("VEOG"))
	assert.Equal(t, KindECG, Kind("ECG"))
	assert.Equal(t, KindECG, Kind("EKG1"))
	assert.Equal(t, KindOther, Kind("STI 014"))
}

func TestMarkBadDeduplicates(t *testing.T) {
	b := &Buffer{}
	b.MarkBad("Fz", "Pz")
	b.MarkBad("Pz", "Cz")
	assert.Equal(t, []string{"Fz", "Pz", "Cz"}, b.Bads)
}

// edfPad writes an ASCII field padded to width with spaces.
func edfPad(buf *bytes.Buffer, s string, width int) {
	if len(s) > width {
		s = s[:width]
	}
	buf.WriteString(s)
	for i := len(s); i < width; i++ {
		buf.WriteByte(' ')
	}
}

// buildEDF constructs a two-record EDF file with the given channels. samples
// holds digital values per channel, split evenly across records.
func buildEDF(t *testing.T, labels []string, sfreq int, samples [][]int16) []byte {
	t.Helper()
	ns := len(labels)
	const records = 2
	spr := len(samples[0]) / records

	var buf bytes.Buffer
	edfPad(&buf, "0", 8)
	edfPad(&buf, "test patient", 80)
	edfPad(&buf, "test recording", 80)
	edfPad(&buf, "01.01.24", 8)
	edfPad(&buf, "00.00.00", 8)
	edfPad(&buf, fmt.Sprint(256+ns*256), 8)
	edfPad(&buf, "", 44)
	edfPad(&buf, fmt.Sprint(records), 8)
	edfPad(&buf, fmt.Sprintf("%g", float64(spr)/float64(sfreq)), 8)
	edfPad(&buf, fmt.Sprint(ns), 4)

	for _, l := range labels {
		edfPad(&buf, l, 16)
	}
	for range labels {
		edfPad(&buf, "AgAgCl electrode", 80)
	}
	for range labels {
		edfPad(&buf, "uV", 8)
	}
	for range labels {
		edfPad(&buf, "-1000", 8)
	}
	for range labels {
		edfPad(&buf, "1000", 8)
	}
	for range labels {
		edfPad(&buf, "-32768", 8)
	}
	for range labels {
		edfPad(&buf, "32767", 8)
	}
	for range labels {
		edfPad(&buf, "HP:0.1Hz", 80)
	}
	for range labels {
		edfPad(&buf, fmt.Sprint(spr), 8)
	}
	for range labels {
		edfPad(&buf, "", 32)
	}

	for rec := 0; rec < records; rec++ {
		for ch := range labels {
			for s := 0; s < spr; s++ {
				binary.Write(&buf, binary.LittleEndian, samples[ch][rec*spr+s])
			}
		}
	}
	return buf.Bytes()
}

func TestDecodeEDF(t *testing.T) {
	samples := [][]int16{
		{0, 16384, -16384, 32767},
		{100, 200, 300, 400},
	}
	raw := buildEDF(t, []string{"FP1", "cz"}, 2, samples)

	b, err := DecodeEDF(raw, false)
	require.NoError(t, err)

	assert.Equal(t, []string{"Fp1", "Cz"}, b.ChannelNames)
	assert.Equal(t, 2.0, b.SampleRate)
	assert.Equal(t, 4, b.NSamples())
	assert.Equal(t, 2.0, b.Duration())

	// Digital 16384 over [-32768, 32767] -> [-1000, 1000] uV, in volts.
	gain := 2000.0 / 65535.0
	wantPhys := (16384.0*gain + (-1000.0 - gain*(-32768.0))) * 1e-6
	assert.InDelta(t, wantPhys, b.Data[0][1], 1e-12)
}

func TestDecodeEDFDropsAnnotations(t *testing.T) {
	samples := [][]int16{
		{1, 2, 3, 4},
		{0, 0, 0, 0},
	}
	raw := buildEDF(t, []string{"Pz", "EDF Annotations"}, 2, samples)

	b, err := DecodeEDF(raw, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"Pz"}, b.ChannelNames)
}

func TestDecodeEDFTruncated(t *testing.T) {
	_, err := DecodeEDF([]byte("too short"), false)
	var fe *errdefs.FormatError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "edf", fe.Format)
}

func TestDecodeBDF24Bit(t *testing.T) {
	// One channel, one record, hand-built 24-bit payload.
	var buf bytes.Buffer
	edfPad(&buf, "\xffBIOSEMI", 8)
	edfPad(&buf, "", 80)
	edfPad(&buf, "", 80)
	edfPad(&buf, "01.01.24", 8)
	edfPad(&buf, "00.00.00", 8)
	edfPad(&buf, fmt.Sprint(256+256), 8)
	edfPad(&buf, "24BIT", 44)
	edfPad(&buf, "1", 8)
	edfPad(&buf, "1", 8)
	edfPad(&buf, "1", 4)

	edfPad(&buf, "C3", 16)
	edfPad(&buf, "", 80)
	edfPad(&buf, "uV", 8)
	edfPad(&buf, "-8388608", 8)
	edfPad(&buf, "8388607", 8)
	edfPad(&buf, "-8388608", 8)
	edfPad(&buf, "8388607", 8)
	edfPad(&buf, "", 80)
	edfPad(&buf, "2", 8)
	edfPad(&buf, "", 32)

	// +1 and -1 as little-endian 24-bit two's complement.
	buf.Write([]byte{0x01, 0x00, 0x00})
	buf.Write([]byte{0xFF, 0xFF, 0xFF})

	b, err := DecodeEDF(buf.Bytes(), true)
	require.NoError(t, err)
	require.Equal(t, 2, b.NSamples())
	assert.InDelta(t, 1e-6, b.Data[0][0], 1e-15)
	assert.InDelta(t, -1e-6, b.Data[0][1], 1e-15)
}

func TestFIFRoundTripBitExact(t *testing.T) {
	src := &Buffer{
		Data: [][]float64{
			{0.5, -1.25, math.Pi, 1e-300},
			{math.SmallestNonzeroFloat64, 0, -0.0, 42},
		},
		ChannelNames: []string{"Fz", "Pz"},
		SampleRate:   256.5,
		Bads:         []string{"Pz"},
	}
	NormalizeChannels(src)

	raw, err := EncodeFIF(src)
	require.NoError(t, err)

	got, err := DecodeFIF(raw)
	require.NoError(t, err)

	assert.Equal(t, src.ChannelNames, got.ChannelNames)
	assert.Equal(t, src.Bads, got.Bads)
	assert.Equal(t, src.SampleRate, got.SampleRate)
	require.Equal(t, src.NChannels(), got.NChannels())
	for ch := range src.Data {
		for s := range src.Data[ch] {
			assert.Equal(t,
				math.Float64bits(src.Data[ch][s]),
				math.Float64bits(got.Data[ch][s]),
				"channel %d sample %d", ch, s)
		}
	}
	assert.Equal(t, src.Montage, got.Montage)

	// Deterministic encoding.
	raw2, err := EncodeFIF(src)
	require.NoError(t, err)
	assert.Equal(t, raw, raw2)
}

func TestDecodeFIFBadMagic(t *testing.T) {
	_, err := DecodeFIF([]byte("XXXX garbage"))
	var fe *errdefs.FormatError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "fif", fe.Format)
}

func TestDecodeDispatch(t *testing.T) {
	_, err := Decode("rec.xyz", nil)
	var fe *errdefs.FormatError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "xyz", fe.Format)

	src := &Buffer{Data: [][]float64{{1, 2}}, ChannelNames: []string{"Cz"}, SampleRate: 100}
	raw, err := EncodeFIF(src)
	require.NoError(t, err)
	b, err := Decode("cleaned_raw.fif", raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"Cz"}, b.ChannelNames)
}

// matTag writes a full 8-byte tag plus payload padded to 8 bytes.
func matTag(buf *bytes.Buffer, elType uint32, payload []byte) {
	binary.Write(buf, binary.LittleEndian, elType)
	binary.Write(buf, binary.LittleEndian, uint32(len(payload)))
	buf.Write(payload)
	for pad := (8 - len(payload)%8) % 8; pad > 0; pad-- {
		buf.WriteByte(0)
	}
}

func matNumeric(class uint8, name string, dims []int32, values []float64) []byte {
	var body bytes.Buffer
	flags := make([]byte, 8)
	flags[0] = class
	matTag(&body, miUint32, flags)

	var dimRaw bytes.Buffer
	for _, d := range dims {
		binary.Write(&dimRaw, binary.LittleEndian, d)
	}
	matTag(&body, miInt32, dimRaw.Bytes())
	matTag(&body, miInt8, []byte(name))

	var data bytes.Buffer
	for _, v := range values {
		binary.Write(&data, binary.LittleEndian, math.Float64bits(v))
	}
	matTag(&body, miDouble, data.Bytes())
	return body.Bytes()
}

func matChar(name, value string) []byte {
	var body bytes.Buffer
	flags := make([]byte, 8)
	flags[0] = mxChar
	matTag(&body, miUint32, flags)

	var dimRaw bytes.Buffer
	binary.Write(&dimRaw, binary.LittleEndian, int32(1))
	binary.Write(&dimRaw, binary.LittleEndian, int32(len(value)))
	matTag(&body, miInt32, dimRaw.Bytes())
	matTag(&body, miInt8, []byte(name))
	matTag(&body, miUTF8, []byte(value))
	return body.Bytes()
}

// matStruct builds a struct array; elements[i] maps field name to a fully
// encoded miMatrix body.
func matStruct(name string, dims []int32, fieldNames []string, elements []map[string][]byte) []byte {
	var body bytes.Buffer
	flags := make([]byte, 8)
	flags[0] = mxStruct
	matTag(&body, miUint32, flags)

	var dimRaw bytes.Buffer
	for _, d := range dims {
		binary.Write(&dimRaw, binary.LittleEndian, d)
	}
	matTag(&body, miInt32, dimRaw.Bytes())
	matTag(&body, miInt8, []byte(name))

	const fieldLen = 32
	var lenRaw bytes.Buffer
	binary.Write(&lenRaw, binary.LittleEndian, int32(fieldLen))
	matTag(&body, miInt32, lenRaw.Bytes())

	names := make([]byte, 0, fieldLen*len(fieldNames))
	for _, fn := range fieldNames {
		padded := make([]byte, fieldLen)
		copy(padded, fn)
		names = append(names, padded...)
	}
	matTag(&body, miInt8, names)

	for _, el := range elements {
		for _, fn := range fieldNames {
			matTag(&body, miMatrix, el[fn])
		}
	}
	return body.Bytes()
}

func buildSET(t *testing.T) []byte {
	t.Helper()
	// data is 2 channels x 3 samples, column-major, microvolts.
	data := matNumeric(6, "", []int32{2, 3}, []float64{
		1, 10, // sample 0: ch0, ch1
		2, 20,
		3, 30,
	})
	srate := matNumeric(6, "", []int32{1, 1}, []float64{128})
	chanlocs := matStruct("", []int32{1, 2}, []string{"labels"},
		[]map[string][]byte{
			{"labels": matChar("", "FZ")},
			{"labels": matChar("", "pz")},
		})
	eeg := matStruct("EEG", []int32{1, 1}, []string{"srate", "data", "chanlocs"},
		[]map[string][]byte{{
			"srate":    srate,
			"data":     data,
			"chanlocs": chanlocs,
		}})

	var out bytes.Buffer
	header := make([]byte, 128)
	copy(header, "MATLAB 5.0 MAT-file")
	header[124], header[125] = 0x00, 0x01
	header[126], header[127] = 'I', 'M'
	out.Write(header)
	matTag(&out, miMatrix, eeg)
	return out.Bytes()
}

func TestDecodeSET(t *testing.T) {
	b, err := DecodeSET(buildSET(t))
	require.NoError(t, err)

	assert.Equal(t, 128.0, b.SampleRate)
	assert.Equal(t, []string{"Fz", "Pz"}, b.ChannelNames)
	require.Equal(t, 2, b.NChannels())
	require.Equal(t, 3, b.NSamples())
	assert.InDelta(t, 1e-6, b.Data[0][0], 1e-15)
	assert.InDelta(t, 3e-6, b.Data[0][2], 1e-15)
	assert.InDelta(t, 30e-6, b.Data[1][2], 1e-15)
	assert.Contains(t, b.Montage, "Fz")
}

func TestDecodeSETRejectsCompressed(t *testing.T) {
	var out bytes.Buffer
	header := make([]byte, 128)
	header[126], header[127] = 'I', 'M'
	out.Write(header)
	matTag(&out, miCompressed, []byte{0x78, 0x9c})

	_, err := DecodeSET(out.Bytes())
	var fe *errdefs.FormatError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "set", fe.Format)
}

func TestBufferClone(t *testing.T) {
	src := &Buffer{
		Data:         [][]float64{{1, 2}},
		ChannelNames: []string{"Cz"},
		SampleRate:   100,
		Bads:         []string{"Cz"},
		Montage:      Montage{"Cz": {Z: 1}},
	}
	dup := src.Clone()
	dup.Data[0][0] = 99
	dup.ChannelNames[0] = "X"
	dup.Montage["Cz"] = Position{}

	assert.Equal(t, 1.0, src.Data[0][0])
	assert.Equal(t, "Cz", src.ChannelNames[0])
	assert.Equal(t, 1.0, src.Montage["Cz"].Z)
}
