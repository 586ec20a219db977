package comm

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameCodec(t *testing.T) {
	values := []float64{0, -1.5, math.Pi, math.MaxFloat64, math.SmallestNonzeroFloat64, math.Inf(-1)}
	frame := encodeFrame(values)
	require.Len(t, frame, 8*len(values))
	// 1.0 is 0x3FF0000000000000, low byte first.
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0xf0, 0x3f}, encodeFrame([]float64{1}))

	decoded := make([]float64, len(values))
	require.NoError(t, decodeFrame(frame, decoded))
	assert.Equal(t, values, decoded)

	assert.ErrorIs(t, decodeFrame(frame[:7], make([]float64, 1)), ErrTransport)
}
