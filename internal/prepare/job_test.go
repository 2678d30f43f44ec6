package prepare

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"vectorize/internal/corpus"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedEmbedder fails the calls listed in failOn (1-based) and otherwise
// returns [len(text), 1] for each text.
type scriptedEmbedder struct {
	mu     sync.Mutex
	calls  int
	failOn map[int]bool
	sizes  []int
}

func (e *scriptedEmbedder) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	call := e.calls
	e.sizes = append(e.sizes, len(texts))
	e.mu.Unlock()

	if e.failOn[call] {
		return nil, errors.New("cuda out of memory")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t)), 1}
	}
	return out, nil
}

const phrases = `[
  {"id": 1, "text": "a"},
  {"id": 2, "text": "bb", "trans": "two"},
  {"id": "three", "text": "ccc", "tags": ["x"]},
  {"id": 4, "text": "dddd"},
  {"id": 5, "text": "eeeee"}
]`

func setup(t *testing.T, input string) (in, out string) {
	t.Helper()
	dir := t.TempDir()
	in = filepath.Join(dir, "phrases.json")
	out = filepath.Join(dir, "vectors.json")
	require.NoError(t, os.WriteFile(in, []byte(input), 0o644))
	return in, out
}

func fastRetry() RetryPolicy {
	return RetryPolicy{MaxAttempts: 2, Delay: time.Millisecond}
}

func TestRunWritesAllVectors(t *testing.T) {
	in, out := setup(t, phrases)
	emb := &scriptedEmbedder{}
	job := NewJob(emb, corpus.NewStore(), Options{Input: in, Output: out, BatchSize: 2, Normalize: false, Retry: fastRetry()})

	report, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 5, report.Items)
	assert.Equal(t, 3, report.Chunks)
	assert.Equal(t, 0, report.Retries)
	assert.Equal(t, 2, report.Dimensions)
	assert.Equal(t, []int{2, 2, 1}, emb.sizes)

	vectors, err := corpus.NewStore().ReadVectors(context.Background(), out)
	require.NoError(t, err)
	require.Len(t, vectors, 5)
	assert.Equal(t, corpus.StringID("three"), vectors[2].ID)
	assert.Equal(t, []string{"x"}, vectors[2].Tags)
	assert.Equal(t, "two", *vectors[1].Trans)
	for i, v := range vectors {
		assert.Equal(t, float32(i+1), v.Vector[0])
	}
	for _, s := range job.States() {
		assert.Equal(t, Done, s)
	}
}

func TestRunRetriesOnce(t *testing.T) {
	in, out := setup(t, phrases)
	emb := &scriptedEmbedder{failOn: map[int]bool{2: true}}
	job := NewJob(emb, corpus.NewStore(), Options{Input: in, Output: out, BatchSize: 2, Retry: fastRetry()})

	report, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Retries)
	// Chunk 2 was sent twice.
	assert.Equal(t, []int{2, 2, 2, 1}, emb.sizes)

	vectors, err := corpus.NewStore().ReadVectors(context.Background(), out)
	require.NoError(t, err)
	require.Len(t, vectors, 5, "each item appears exactly once")
	ids := make([]string, len(vectors))
	for i, v := range vectors {
		ids[i] = v.ID.String()
	}
	assert.Equal(t, []string{"1", "2", "three", "4", "5"}, ids)
}

func TestRunAbortsAfterSecondFailure(t *testing.T) {
	in, out := setup(t, phrases)
	previous := `[{"id": 1, "text": "old", "vector": [1]}]`
	require.NoError(t, os.WriteFile(out, []byte(previous), 0o644))

	emb := &scriptedEmbedder{failOn: map[int]bool{2: true, 3: true}}
	job := NewJob(emb, corpus.NewStore(), Options{Input: in, Output: out, BatchSize: 2, Retry: fastRetry()})

	report, err := job.Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, report)
	assert.ErrorIs(t, err, ErrAborted)
	assert.Contains(t, err.Error(), "cuda out of memory")
	assert.Contains(t, err.Error(), "chunk 2 of 3")

	raw, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, previous, string(raw), "previous output is left untouched")

	assert.Equal(t, []State{Done, Done, Failed, Failed, Pending}, job.States())
	assert.Equal(t, 3, emb.calls, "no chunk after the failed one is attempted")
}

func TestRunAbortLeavesNoNewFile(t *testing.T) {
	in, out := setup(t, phrases)
	emb := &scriptedEmbedder{failOn: map[int]bool{1: true, 2: true}}
	job := NewJob(emb, corpus.NewStore(), Options{Input: in, Output: out, BatchSize: 32, Retry: fastRetry()})

	_, err := job.Run(context.Background())
	require.ErrorIs(t, err, ErrAborted)
	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
}

func TestChunkSizeDoesNotChangeOutput(t *testing.T) {
	var outputs []string
	for _, size := range []int{1, 2, 3, 32} {
		in, out := setup(t, phrases)
		job := NewJob(&scriptedEmbedder{}, corpus.NewStore(), Options{Input: in, Output: out, BatchSize: size, Normalize: true, Retry: fastRetry()})
		_, err := job.Run(context.Background())
		require.NoError(t, err, "batch size %d", size)

		raw, err := os.ReadFile(out)
		require.NoError(t, err)
		outputs = append(outputs, string(raw))
	}
	for _, o := range outputs[1:] {
		assert.Equal(t, outputs[0], o)
	}
}

func TestRunNormalizes(t *testing.T) {
	in, out := setup(t, `[{"id": 1, "text": "abc"}]`)
	job := NewJob(&scriptedEmbedder{}, corpus.NewStore(), Options{Input: in, Output: out, Normalize: true, Retry: fastRetry()})
	_, err := job.Run(context.Background())
	require.NoError(t, err)

	vectors, err := corpus.NewStore().ReadVectors(context.Background(), out)
	require.NoError(t, err)
	v := vectors[0].Vector
	assert.InDelta(t, 1.0, float64(v[0]*v[0]+v[1]*v[1]), 1e-5)
}

func TestRunRejectsBadInput(t *testing.T) {
	t.Run("empty corpus", func(t *testing.T) {
		in, out := setup(t, `[]`)
		_, err := NewJob(&scriptedEmbedder{}, corpus.NewStore(), Options{Input: in, Output: out}).Run(context.Background())
		assert.ErrorContains(t, err, "no phrases found")
	})
	t.Run("blank text", func(t *testing.T) {
		in, out := setup(t, `[{"id": 1, "text": "ok"}, {"id": 2, "text": "  "}]`)
		emb := &scriptedEmbedder{}
		_, err := NewJob(emb, corpus.NewStore(), Options{Input: in, Output: out}).Run(context.Background())
		assert.ErrorIs(t, err, ErrAborted)
		assert.Equal(t, 0, emb.calls)
	})
	t.Run("missing input", func(t *testing.T) {
		dir := t.TempDir()
		_, err := NewJob(&scriptedEmbedder{}, corpus.NewStore(), Options{
			Input:  filepath.Join(dir, "missing.json"),
			Output: filepath.Join(dir, "out.json"),
		}).Run(context.Background())
		assert.Error(t, err)
	})
}

func TestRunCountsDuplicates(t *testing.T) {
	in, out := setup(t, `[{"id": 1, "text": "a"}, {"id": "1", "text": "b"}, {"id": 2, "text": "c"}]`)
	report, err := NewJob(&scriptedEmbedder{}, corpus.NewStore(), Options{Input: in, Output: out, Retry: fastRetry()}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, report.Duplicates)
}

func TestRetryPolicy(t *testing.T) {
	ctx := context.Background()

	calls := 0
	var notified []error
	v, err := Do(ctx, RetryPolicy{MaxAttempts: 3, Delay: time.Millisecond}, func() (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("transient")
		}
		return "ok", nil
	}, func(err error, _ time.Duration) { notified = append(notified, err) })
	require.NoError(t, err)
	assert.Equal(t, "ok", v)
	assert.Equal(t, 3, calls)
	assert.Len(t, notified, 2)

	calls = 0
	_, err = Do(ctx, RetryPolicy{MaxAttempts: 2, Delay: time.Millisecond}, func() (int, error) {
		calls++
		return 0, errors.New("still broken")
	}, nil)
	assert.EqualError(t, err, "still broken")
	assert.Equal(t, 2, calls)
}

func TestRetryPolicyWaits(t *testing.T) {
	start := time.Now()
	calls := 0
	_, _ = Do(context.Background(), RetryPolicy{MaxAttempts: 2, Delay: 50 * time.Millisecond}, func() (bool, error) {
		calls++
		return false, errors.New("fail")
	}, nil)
	assert.Equal(t, 2, calls)
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestStateString(t *testing.T) {
	names := make([]string, 0, 4)
	for _, s := range []State{Pending, Encoding, Done, Failed} {
		names = append(names, s.String())
	}
	assert.Equal(t, "pending encoding done failed", strings.Join(names, " "))
}
