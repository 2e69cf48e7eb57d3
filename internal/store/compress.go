package store

import (
	"bytes"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Snapshots are zstd-compressed at rest. Rows written before compression was
// introduced are detected by the zstd frame magic and passed through raw.

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

var (
	zstdEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	zstdDecoder, _ = zstd.NewReader(nil)
)

func compressSnapshot(raw []byte) []byte {
	return zstdEncoder.EncodeAll(raw, make([]byte, 0, len(raw)/2))
}

func decompressSnapshot(stored []byte) ([]byte, error) {
	if !bytes.HasPrefix(stored, zstdMagic) {
		// Legacy uncompressed row.
		return stored, nil
	}
	raw, err := zstdDecoder.DecodeAll(stored, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress snapshot: %w", err)
	}
	return raw, nil
}
