// SPDX-License-Identifier: MIT

package feature

import (
	"bytes"
	"fmt"

	"github.com/parquet-go/parquet-go"
)

// Feature tables are stored as parquet files in the object store. The row
// structs' parquet tags define the schema.

// EncodeParquet serializes rows into an in-memory parquet file.
func EncodeParquet[T any](rows []T) ([]byte, error) {
	var buf bytes.Buffer
	w := parquet.NewGenericWriter[T](&buf)
	if _, err := w.Write(rows); err != nil {
		return nil, fmt.Errorf("feature: write parquet: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("feature: close parquet: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeParquet reads back a parquet file produced by EncodeParquet (or any
// file with a compatible schema).
func DecodeParquet[T any](data []byte) ([]T, error) {
	rows, err := parquet.Read[T](bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("feature: read parquet: %w", err)
	}
	return rows, nil
}
