package embedding

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderLoadsOnceUnderConcurrency(t *testing.T) {
	model := &fakeModel{dim: 4, reentrant: true}
	var calls atomic.Int32
	loader := func(ctx context.Context, spec Spec) (Model, error) {
		calls.Add(1)
		time.Sleep(20 * time.Millisecond)
		return model, nil
	}
	p := NewProvider(Spec{ID: "fake"}, loader)
	assert.False(t, p.Loaded())

	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for range 32 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.EmbedOne(context.Background(), "hello")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int64(1), p.Loads())
	assert.True(t, p.Loaded())
	assert.Equal(t, 4, p.Dimensions())
}

func TestProviderFailedLoadIsRetried(t *testing.T) {
	var calls atomic.Int32
	loader := func(ctx context.Context, spec Spec) (Model, error) {
		if calls.Add(1) == 1 {
			return nil, errors.New("weights missing")
		}
		return &fakeModel{dim: 3}, nil
	}
	p := NewProvider(Spec{ID: "flaky"}, loader)

	_, err := p.Acquire(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrModelUnavailable)
	var mu *ModelUnavailableError
	require.ErrorAs(t, err, &mu)
	assert.Equal(t, "flaky", mu.Model)
	assert.Contains(t, err.Error(), "weights missing")
	assert.False(t, p.Loaded())
	assert.Equal(t, int64(0), p.Loads())

	h, err := p.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "flaky", h.Spec.ID)
	assert.True(t, p.Loaded())
	assert.Equal(t, int64(1), p.Loads())
	assert.Equal(t, int32(2), calls.Load())
}

func TestProviderNilModelIsUnavailable(t *testing.T) {
	p := NewProvider(Spec{ID: "nil"}, func(context.Context, Spec) (Model, error) { return nil, nil })
	_, err := p.EmbedOne(context.Background(), "x")
	assert.ErrorIs(t, err, ErrModelUnavailable)
}

func TestEmbedManyPreservesOrder(t *testing.T) {
	model := &fakeModel{dim: 6}
	p := NewProvider(Spec{ID: "fake"}, staticLoader(model))
	ctx := context.Background()

	texts := []string{"alpha", "b", "gamma ray", "", "delta"}
	vecs, err := p.EmbedMany(ctx, texts)
	require.NoError(t, err)
	require.Len(t, vecs, len(texts))

	for i, text := range texts {
		one, err := p.EmbedOne(ctx, text)
		require.NoError(t, err)
		assert.Equal(t, one, vecs[i], "text %d", i)
		assert.Equal(t, fakeVector(text, 6), vecs[i])
	}
}

func TestEmbedManyEmptyDoesNotLoad(t *testing.T) {
	var calls atomic.Int32
	p := NewProvider(Spec{ID: "fake"}, func(context.Context, Spec) (Model, error) {
		calls.Add(1)
		return &fakeModel{dim: 2}, nil
	})

	vecs, err := p.EmbedMany(context.Background(), nil)
	require.NoError(t, err)
	assert.NotNil(t, vecs)
	assert.Empty(t, vecs)
	assert.False(t, p.Loaded())
	assert.Equal(t, int32(0), calls.Load())
}

func TestEmbedManyChunks(t *testing.T) {
	model := &fakeModel{dim: 3}
	p := NewProvider(Spec{ID: "fake"}, staticLoader(model), WithChunkSize(2))

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	vecs, err := p.EmbedMany(context.Background(), texts)
	require.NoError(t, err)

	assert.Equal(t, [][]string{{"a", "bb"}, {"ccc", "dddd"}, {"eeeee"}}, model.seen())
	for i, text := range texts {
		assert.Equal(t, fakeVector(text, 3), vecs[i])
	}
}

func TestEmbedAppliesRolePrefix(t *testing.T) {
	tests := []struct {
		name string
		spec Spec
		want string
	}{
		{
			name: "passage",
			spec: Spec{ID: "m", Role: RolePassage, QueryInstruction: "query: ", PassagePrefix: "passage: "},
			want: "passage: hello",
		},
		{
			name: "query",
			spec: Spec{ID: "m", Role: RoleQuery, QueryInstruction: "query: ", PassagePrefix: "passage: "},
			want: "query: hello",
		},
		{
			name: "no prefix",
			spec: Spec{ID: "m", Role: RolePassage},
			want: "hello",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			model := &fakeModel{dim: 2}
			p := NewProvider(tt.spec, staticLoader(model))

			_, err := p.EmbedOne(context.Background(), "hello")
			require.NoError(t, err)
			assert.Equal(t, [][]string{{tt.want}}, model.seen())
		})
	}
}

func TestEncodeFailureIsEncodeError(t *testing.T) {
	model := &fakeModel{dim: 2, err: errors.New("out of memory")}
	p := NewProvider(Spec{ID: "fake"}, staticLoader(model))

	_, err := p.EmbedMany(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEncode)
	assert.NotErrorIs(t, err, ErrModelUnavailable)
	assert.Contains(t, err.Error(), "out of memory")

	// The model stays loaded after an encode failure.
	assert.True(t, p.Loaded())
}

type shortModel struct{}

func (shortModel) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	return [][]float32{{1, 2}}, nil
}

func TestEncodeCountMismatch(t *testing.T) {
	p := NewProvider(Spec{ID: "short"}, staticLoader(shortModel{}))

	_, err := p.EmbedMany(context.Background(), []string{"a", "b", "c"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEncode)
	assert.Contains(t, err.Error(), "1 vectors for 3 texts")
}

type growingModel struct{ n atomic.Int32 }

func (g *growingModel) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	dim := int(g.n.Add(1)) + 1
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, dim)
	}
	return out, nil
}

func TestEncodeDimensionIsFixed(t *testing.T) {
	p := NewProvider(Spec{ID: "grow"}, staticLoader(&growingModel{}))
	ctx := context.Background()

	v, err := p.EmbedOne(ctx, "first")
	require.NoError(t, err)
	assert.Len(t, v, 2)
	assert.Equal(t, 2, p.Dimensions())

	_, err = p.EmbedOne(ctx, "second")
	assert.ErrorIs(t, err, ErrEncode)
	assert.Equal(t, 2, p.Dimensions())
}

func TestEncodeSerializedForNonReentrantModels(t *testing.T) {
	model := &fakeModel{dim: 2, delay: 2 * time.Millisecond}
	p := NewProvider(Spec{ID: "fake"}, staticLoader(model))

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.EmbedOne(context.Background(), "x")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.False(t, model.overlap.Load(), "encode calls overlapped")
	assert.Len(t, model.seen(), 16)
}

type recordingObserver struct {
	mu      sync.Mutex
	loads   []error
	encodes []int
}

func (r *recordingObserver) ObserveLoad(model string, d time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loads = append(r.loads, err)
}

func (r *recordingObserver) ObserveEncode(model string, texts int, d time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.encodes = append(r.encodes, texts)
}

func TestProviderReportsToObserver(t *testing.T) {
	obs := &recordingObserver{}
	p := NewProvider(Spec{ID: "fake"}, staticLoader(&fakeModel{dim: 2}), WithObserver(obs), WithChunkSize(2))

	_, err := p.EmbedMany(context.Background(), []string{"a", "b", "c"})
	require.NoError(t, err)

	assert.Equal(t, []error{nil}, obs.loads)
	assert.Equal(t, []int{2, 1}, obs.encodes)
}
