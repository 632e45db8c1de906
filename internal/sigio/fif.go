// SPDX-License-Identifier: MIT

package sigio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/neurolab/neurolab/internal/errdefs"
)

// Cleaned recordings are persisted in a tagged little-endian container so a
// preprocessed buffer survives a write/read cycle bit-exact. Layout: a 4-byte
// magic, a format version, then length-prefixed sections for sample rate,
// channel names, bad-channel names, montage positions and the channel-major
// float64 payload.

var fifMagic = [4]byte{'N', 'L', 'F', '1'}

const fifVersion uint16 = 1

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", err
	}
	if n > 1<<20 {
		return "", fmt.Errorf("string length %d exceeds limit", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// EncodeFIF serializes the buffer into the cleaned-recording container.
func EncodeFIF(b *Buffer) ([]byte, error) {
	if err := b.validate(); err != nil {
		return nil, &errdefs.FormatError{Format: "fif", Err: err}
	}

	var out bytes.Buffer
	out.Write(fifMagic[:])
	binary.Write(&out, binary.LittleEndian, fifVersion)
	binary.Write(&out, binary.LittleEndian, math.Float64bits(b.SampleRate))

	binary.Write(&out, binary.LittleEndian, uint32(len(b.ChannelNames)))
	for _, name := range b.ChannelNames {
		if err := writeString(&out, name); err != nil {
			return nil, &errdefs.FormatError{Format: "fif", Err: err}
		}
	}

	binary.Write(&out, binary.LittleEndian, uint32(len(b.Bads)))
	for _, name := range b.Bads {
		if err := writeString(&out, name); err != nil {
			return nil, &errdefs.FormatError{Format: "fif", Err: err}
		}
	}

	binary.Write(&out, binary.LittleEndian, uint32(len(b.Montage)))
	// Montage entries are written in channel order so encoding is
	// deterministic for identical buffers.
	for _, name := range b.ChannelNames {
		pos, ok := b.Montage[name]
		if !ok {
			continue
		}
		if err := writeString(&out, name); err != nil {
			return nil, &errdefs.FormatError{Format: "fif", Err: err}
		}
		binary.Write(&out, binary.LittleEndian, math.Float64bits(pos.X))
		binary.Write(&out, binary.LittleEndian, math.Float64bits(pos.Y))
		binary.Write(&out, binary.LittleEndian, math.Float64bits(pos.Z))
	}

	binary.Write(&out, binary.LittleEndian, uint64(b.NSamples()))
	for _, ch := range b.Data {
		for _, v := range ch {
			binary.Write(&out, binary.LittleEndian, math.Float64bits(v))
		}
	}
	return out.Bytes(), nil
}

// DecodeFIF reads a container produced by EncodeFIF.
func DecodeFIF(data []byte) (*Buffer, error) {
	fail := func(err error) (*Buffer, error) {
		return nil, &errdefs.FormatError{Format: "fif", Err: err}
	}
	r := bytes.NewReader(data)

	var magic [4]byte
	if _, err := io.ReadFull(r, magic[:]); err != nil {
		return fail(fmt.Errorf("magic: %w", err))
	}
	if magic != fifMagic {
		return fail(fmt.Errorf("bad magic %q", magic[:]))
	}
	var version uint16
	if err := binary.Read(r, binary.LittleEndian, &version); err != nil {
		return fail(err)
	}
	if version != fifVersion {
		return fail(fmt.Errorf("unsupported container version %d", version))
	}

	var rateBits uint64
	if err := binary.Read(r, binary.LittleEndian, &rateBits); err != nil {
		return fail(err)
	}
	buf := &Buffer{SampleRate: math.Float64frombits(rateBits)}

	var nCh uint32
	if err := binary.Read(r, binary.LittleEndian, &nCh); err != nil {
		return fail(err)
	}
	buf.ChannelNames = make([]string, nCh)
	for i := range buf.ChannelNames {
		name, err := readString(r)
		if err != nil {
			return fail(fmt.Errorf("channel name %d: %w", i, err))
		}
		buf.ChannelNames[i] = name
	}

	var nBads uint32
	if err := binary.Read(r, binary.LittleEndian, &nBads); err != nil {
		return fail(err)
	}
	for i := uint32(0); i < nBads; i++ {
		name, err := readString(r)
		if err != nil {
			return fail(fmt.Errorf("bad channel %d: %w", i, err))
		}
		buf.Bads = append(buf.Bads, name)
	}

	var nPos uint32
	if err := binary.Read(r, binary.LittleEndian, &nPos); err != nil {
		return fail(err)
	}
	if nPos > 0 {
		buf.Montage = make(Montage, nPos)
	}
	for i := uint32(0); i < nPos; i++ {
		name, err := readString(r)
		if err != nil {
			return fail(fmt.Errorf("montage entry %d: %w", i, err))
		}
		var xb, yb, zb uint64
		if err := binary.Read(r, binary.LittleEndian, &xb); err != nil {
			return fail(err)
		}
		if err := binary.Read(r, binary.LittleEndian, &yb); err != nil {
			return fail(err)
		}
		if err := binary.Read(r, binary.LittleEndian, &zb); err != nil {
			return fail(err)
		}
		buf.Montage[name] = Position{
			X: math.Float64frombits(xb),
			Y: math.Float64frombits(yb),
			Z: math.Float64frombits(zb),
		}
	}

	var nSamp uint64
	if err := binary.Read(r, binary.LittleEndian, &nSamp); err != nil {
		return fail(err)
	}
	if want := uint64(nCh) * nSamp * 8; uint64(r.Len()) < want {
		return fail(fmt.Errorf("truncated payload: have %d want %d", r.Len(), want))
	}
	buf.Data = make([][]float64, nCh)
	for c := range buf.Data {
		ch := make([]float64, nSamp)
		for s := range ch {
			var bits uint64
			if err := binary.Read(r, binary.LittleEndian, &bits); err != nil {
				return fail(err)
			}
			ch[s] = math.Float64frombits(bits)
		}
		buf.Data[c] = ch
	}

	if err := buf.validate(); err != nil {
		return fail(err)
	}
	return buf, nil
}
