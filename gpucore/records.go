package gpucore

import (
	"encoding/binary"
	"fmt"
	"math"

	"golang.org/x/image/math/f32"
)

// RecordSize is the size of one encoded record in bytes.
const RecordSize = 16

// EncodeRecords packs records into their little-endian wire form.
func EncodeRecords(recs []f32.Vec4) []byte {
	buf := make([]byte, len(recs)*RecordSize)
	for i, r := range recs {
		off := i * RecordSize
		for c := range 4 {
			binary.LittleEndian.PutUint32(buf[off+c*4:], math.Float32bits(r[c]))
		}
	}
	return buf
}

// DecodeRecords unpacks records from their wire form into dst, which must hold
// len(data)/RecordSize records.
func DecodeRecords(dst []f32.Vec4, data []byte) error {
	if len(data)%RecordSize != 0 {
		return fmt.Errorf("gpucore: record data length %d is not a multiple of %d", len(data), RecordSize)
	}
	n := len(data) / RecordSize
	if len(dst) < n {
		return fmt.Errorf("gpucore: destination holds %d records, need %d", len(dst), n)
	}
	for i := range n {
		off := i * RecordSize
		for c := range 4 {
			dst[i][c] = math.Float32frombits(binary.LittleEndian.Uint32(data[off+c*4:]))
		}
	}
	return nil
}

// EncodeParams packs a parameter block.
func EncodeParams(p Params) []byte {
	buf := make([]byte, ParamsSize)
	binary.LittleEndian.PutUint32(buf[0:], p.Level)
	binary.LittleEndian.PutUint32(buf[4:], p.LevelMask)
	binary.LittleEndian.PutUint32(buf[8:], p.Width)
	binary.LittleEndian.PutUint32(buf[12:], p.Height)
	return buf
}
