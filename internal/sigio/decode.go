// SPDX-License-Identifier: MIT

package sigio

import (
	"fmt"
	"path"
	"strings"

	"github.com/neurolab/neurolab/internal/errdefs"
)

// SupportedExtensions lists the recording formats the decoder dispatches on.
var SupportedExtensions = []string{".edf", ".bdf", ".fif", ".set"}

// Decode dispatches on the file extension of name and decodes data into a
// buffer with normalized channel names. Unknown extensions yield a
// FormatError.
func Decode(name string, data []byte) (*Buffer, error) {
	switch strings.ToLower(path.Ext(name)) {
	case ".edf":
		return DecodeEDF(data, false)
	case ".bdf":
		return DecodeEDF(data, true)
	case ".fif":
		return DecodeFIF(data)
	case ".set":
		return DecodeSET(data)
	default:
		return nil, &errdefs.FormatError{
			Format: strings.TrimPrefix(strings.ToLower(path.Ext(name)), "."),
			Err:    fmt.Errorf("unsupported recording format %q", path.Ext(name)),
		}
	}
}
