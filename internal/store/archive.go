package store

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Archiver compresses committed curve snapshots for history. A dense
// ten-year curve is ~3650 near-identical JSON rows; zstd shrinks it by
// an order of magnitude.
type Archiver struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewArchiver creates a zstd archiver.
func NewArchiver() (*Archiver, error) {
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create archive encoder: %w", err)
	}
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("create archive decoder: %w", err)
	}
	return &Archiver{encoder: encoder, decoder: decoder}, nil
}

// Compress serializes curve rows to compressed JSON.
func (a *Archiver) Compress(rows []curveRow) ([]byte, error) {
	data, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("marshal archive: %w", err)
	}
	return a.encoder.EncodeAll(data, nil), nil
}

// Decompress restores curve rows from an archive blob.
func (a *Archiver) Decompress(blob []byte) ([]curveRow, error) {
	data, err := a.decoder.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress archive: %w", err)
	}
	var rows []curveRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("unmarshal archive: %w", err)
	}
	return rows, nil
}
