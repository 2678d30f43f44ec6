package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
)

// DefaultMockDimensions matches the vector size of the hosted model the
// mock stands in for during development runs.
const DefaultMockDimensions = 1536

// Mock derives deterministic vectors from a hash of the text. The same text
// always yields the same vector; nothing is downloaded.
type Mock struct {
	dimensions int
}

func NewMock(dimensions int) *Mock {
	if dimensions <= 0 {
		dimensions = DefaultMockDimensions
	}
	return &Mock{dimensions: dimensions}
}

// MockLoader returns a Loader producing a Mock of the given size.
func MockLoader(dimensions int) Loader {
	return func(context.Context, Spec) (Model, error) {
		return NewMock(dimensions), nil
	}
}

func (m *Mock) Reentrant() bool { return true }

func (m *Mock) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = m.vector(text)
	}
	return out, nil
}

func (m *Mock) vector(text string) []float32 {
	v := make([]float32, m.dimensions)
	seed := sha256.Sum256([]byte(text))
	block := seed
	for i := range v {
		off := (i * 4) % len(block)
		if off == 0 && i > 0 {
			block = sha256.Sum256(block[:])
		}
		bits := binary.LittleEndian.Uint32(block[off:])
		// Center on zero in [-0.5, 0.5).
		v[i] = float32(bits)/float32(1<<32) - 0.5
	}
	return v
}
