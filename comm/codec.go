package comm

import (
	"encoding/binary"
	"fmt"
	"math"
)

// encodeFrame packs buf as little-endian IEEE-754 doubles.
func encodeFrame(buf []float64) []byte {
	frame := make([]byte, 8*len(buf))
	for i, v := range buf {
		binary.LittleEndian.PutUint64(frame[8*i:], math.Float64bits(v))
	}
	return frame
}

func decodeFrame(frame []byte, buf []float64) error {
	if len(frame) != 8*len(buf) {
		return fmt.Errorf("%w: frame of %d bytes, expected %d", ErrTransport, len(frame), 8*len(buf))
	}
	for i := range buf {
		buf[i] = math.Float64frombits(binary.LittleEndian.Uint64(frame[8*i:]))
	}
	return nil
}
