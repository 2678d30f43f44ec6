package embedding

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// fakeModel returns a vector derived from each text's bytes and records the
// inputs it saw.
type fakeModel struct {
	dim       int
	delay     time.Duration
	reentrant bool
	err       error

	mu       sync.Mutex
	calls    [][]string
	inFlight atomic.Int32
	overlap  atomic.Bool
}

func (f *fakeModel) Reentrant() bool { return f.reentrant }

func (f *fakeModel) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if f.inFlight.Add(1) > 1 {
		f.overlap.Store(true)
	}
	defer f.inFlight.Add(-1)

	f.mu.Lock()
	f.calls = append(f.calls, append([]string(nil), texts...))
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = fakeVector(t, f.dim)
	}
	return out, nil
}

func (f *fakeModel) seen() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.calls...)
}

func fakeVector(text string, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(len(text) + i)
		if i < len(text) {
			v[i] += float32(text[i])
		}
	}
	return v
}

func staticLoader(m Model) Loader {
	return func(context.Context, Spec) (Model, error) { return m, nil }
}
