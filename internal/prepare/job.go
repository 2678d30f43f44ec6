// Package prepare turns a phrase corpus into a vector corpus.
package prepare

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"vectorize/internal/corpus"
	"vectorize/internal/embedding"

	"github.com/cenkalti/backoff/v5"
)

// ErrAborted marks a run that stopped before writing output.
var ErrAborted = errors.New("preparation aborted")

// State is the progress of a single corpus item.
type State int

const (
	Pending State = iota
	Encoding
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Encoding:
		return "encoding"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Embedder encodes a batch of texts, one vector per text in order.
type Embedder interface {
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
}

type Options struct {
	Input     string
	Output    string
	BatchSize int
	// Normalize L2-normalizes every vector before it is written.
	Normalize bool
	Retry     RetryPolicy
}

// Report summarizes a finished run.
type Report struct {
	Items      int
	Chunks     int
	Retries    int
	Duplicates int
	Dimensions int
	Duration   time.Duration
}

// Job runs one corpus through an Embedder. Items are processed sequentially
// in fixed-size chunks and the output is written once, at the end.
type Job struct {
	embedder Embedder
	store    *corpus.Store
	opts     Options

	mu     sync.Mutex
	states []State
}

func NewJob(embedder Embedder, store *corpus.Store, opts Options) *Job {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 32
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = DefaultRetryPolicy()
	}
	return &Job{embedder: embedder, store: store, opts: opts}
}

// States returns a snapshot of every item's state, in input order.
func (j *Job) States() []State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]State(nil), j.states...)
}

func (j *Job) setStates(from, to int, s State) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i := from; i < to; i++ {
		j.states[i] = s
	}
}

func (j *Job) Run(ctx context.Context) (*Report, error) {
	start := time.Now()

	phrases, err := j.store.ReadPhrases(ctx, j.opts.Input)
	if err != nil {
		return nil, err
	}
	if len(phrases) == 0 {
		return nil, fmt.Errorf("no phrases found in %s", j.opts.Input)
	}
	slog.Info("loaded phrases", "input", j.opts.Input, "count", len(phrases))

	j.mu.Lock()
	j.states = make([]State, len(phrases))
	j.mu.Unlock()

	report := &Report{Items: len(phrases), Duplicates: countDuplicates(phrases)}
	if err := validate(phrases); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAborted, err)
	}

	size := j.opts.BatchSize
	chunks := (len(phrases) + size - 1) / size
	report.Chunks = chunks

	out := make([]corpus.Vector, 0, len(phrases))
	for c := 0; c < chunks; c++ {
		from := c * size
		to := min(from+size, len(phrases))
		batch := phrases[from:to]

		texts := make([]string, len(batch))
		for i, p := range batch {
			texts[i] = p.Text
		}

		j.setStates(from, to, Encoding)
		slog.Info("encoding chunk", "chunk", c+1, "of", chunks, "items", len(batch))

		vecs, err := Do(ctx, j.opts.Retry, func() ([][]float32, error) {
			vecs, err := j.embedder.EmbedMany(ctx, texts)
			if err != nil {
				return nil, err
			}
			if len(vecs) != len(texts) {
				return nil, backoff.Permanent(fmt.Errorf("got %d vectors for %d texts", len(vecs), len(texts)))
			}
			return vecs, nil
		}, func(err error, wait time.Duration) {
			report.Retries++
			slog.Warn("chunk failed, retrying", "chunk", c+1, "first_id", batch[0].ID.String(), "retry_in", wait, "error", err)
		})
		if err != nil {
			j.setStates(from, to, Failed)
			slog.Error("chunk failed, aborting", "chunk", c+1, "first_id", batch[0].ID.String(), "error", err)
			return nil, fmt.Errorf("%w: chunk %d of %d (items %d-%d): %w", ErrAborted, c+1, chunks, from, to-1, err)
		}

		for i, v := range embedding.NormalizeAll(vecs, j.opts.Normalize) {
			out = append(out, corpus.Vector{Phrase: batch[i], Vector: v})
		}
		if report.Dimensions == 0 && len(vecs) > 0 {
			report.Dimensions = len(vecs[0])
		}
		j.setStates(from, to, Done)
	}

	if err := j.store.WriteVectors(ctx, j.opts.Output, out); err != nil {
		return nil, err
	}
	report.Duration = time.Since(start)
	slog.Info("wrote vectors",
		"output", j.opts.Output,
		"count", len(out),
		"dim", report.Dimensions,
		"retries", report.Retries,
		"duration", report.Duration,
	)
	return report, nil
}

// validate rejects records that can never encode, before any work starts.
func validate(phrases []corpus.Phrase) error {
	for i, p := range phrases {
		if strings.TrimSpace(p.Text) == "" {
			return fmt.Errorf("record %d (id %q) has no text", i, p.ID.String())
		}
	}
	return nil
}

// countDuplicates warns about ids seen more than once. Output records are
// keyed by id, so downstream consumers keep only one of them.
func countDuplicates(phrases []corpus.Phrase) int {
	seen := make(map[string]int, len(phrases))
	dups := 0
	for i, p := range phrases {
		if p.ID.IsZero() {
			continue
		}
		key := p.ID.String()
		if first, ok := seen[key]; ok {
			dups++
			slog.Warn("duplicate phrase id", "id", key, "first", first, "index", i)
			continue
		}
		seen[key] = i
	}
	return dups
}
