package embedding

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"vectorize/internal/trace"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"
)

// Observer receives load and encode outcomes, e.g. for metrics.
type Observer interface {
	ObserveLoad(model string, d time.Duration, err error)
	ObserveEncode(model string, texts int, d time.Duration, err error)
}

// Handle is the loaded model owned by a Provider. It is never unloaded.
type Handle struct {
	Spec     Spec
	LoadedAt time.Time

	model Model
	dims  atomic.Int64
}

// Dimensions reports the vector size, or 0 until the first encode.
func (h *Handle) Dimensions() int { return int(h.dims.Load()) }

// checkOutput verifies one vector per input and a fixed dimensionality.
func (h *Handle) checkOutput(n int, vecs [][]float32) error {
	if len(vecs) != n {
		return fmt.Errorf("model returned %d vectors for %d texts", len(vecs), n)
	}
	for i, v := range vecs {
		if len(v) == 0 {
			return fmt.Errorf("model returned an empty vector at index %d", i)
		}
		dim := int64(len(v))
		if h.dims.CompareAndSwap(0, dim) {
			continue
		}
		if got := h.dims.Load(); got != dim {
			return fmt.Errorf("model returned %d dimensions at index %d, expected %d", dim, i, got)
		}
	}
	return nil
}

type Option func(*Provider)

// WithObserver reports loads and encodes to o.
func WithObserver(o Observer) Option {
	return func(p *Provider) { p.observer = o }
}

// WithChunkSize splits EmbedMany inputs into encode calls of at most n texts.
func WithChunkSize(n int) Option {
	return func(p *Provider) { p.chunkSize = n }
}

// Provider lazily loads a single model and serves encode requests against it.
// Concurrent first calls share one in-flight load; a failed load is not
// remembered, so the next call tries again.
type Provider struct {
	spec      Spec
	loader    Loader
	observer  Observer
	chunkSize int

	handle   atomic.Pointer[Handle]
	group    singleflight.Group
	encodeMu sync.Mutex
	loads    atomic.Int64
}

func NewProvider(spec Spec, loader Loader, opts ...Option) *Provider {
	p := &Provider{spec: spec, loader: loader}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) ModelID() string { return p.spec.ID }

func (p *Provider) Spec() Spec { return p.spec }

// Loaded reports whether a model handle exists. It never triggers a load.
func (p *Provider) Loaded() bool { return p.handle.Load() != nil }

// Loads returns how many times a model was successfully instantiated.
func (p *Provider) Loads() int64 { return p.loads.Load() }

// Dimensions reports the loaded model's vector size, or 0 if unknown yet.
func (p *Provider) Dimensions() int {
	if h := p.handle.Load(); h != nil {
		return h.Dimensions()
	}
	return 0
}

// Acquire returns the model handle, loading it on first use.
func (p *Provider) Acquire(ctx context.Context) (*Handle, error) {
	if h := p.handle.Load(); h != nil {
		return h, nil
	}
	// The load is shared, so one caller going away must not cancel it for
	// the others.
	loadCtx := context.WithoutCancel(ctx)
	v, err, _ := p.group.Do("acquire", func() (any, error) {
		if h := p.handle.Load(); h != nil {
			return h, nil
		}
		return p.load(loadCtx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Handle), nil
}

func (p *Provider) load(ctx context.Context) (*Handle, error) {
	ctx, span := trace.Tracer().Start(ctx, "embedding.load",
		oteltrace.WithAttributes(
			attribute.String("embedding.model", p.spec.ID),
			attribute.Bool("embedding.fp16", p.spec.FP16),
		),
	)
	defer span.End()

	slog.Info("loading embedding model", "model", p.spec.ID, "fp16", p.spec.FP16, "role", p.spec.Role)
	start := time.Now()

	m, err := p.loader(ctx, p.spec)
	if err == nil && m == nil {
		err = errors.New("loader returned no model")
	}
	if p.observer != nil {
		p.observer.ObserveLoad(p.spec.ID, time.Since(start), err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.Error("embedding model load failed", "model", p.spec.ID, "error", err)
		var mu *ModelUnavailableError
		if errors.As(err, &mu) {
			return nil, mu
		}
		return nil, &ModelUnavailableError{Model: p.spec.ID, Err: err}
	}

	h := &Handle{Spec: p.spec, LoadedAt: time.Now(), model: m}
	p.handle.Store(h)
	p.loads.Add(1)
	slog.Info("embedding model loaded", "model", p.spec.ID, "duration", time.Since(start))
	return h, nil
}

// EmbedOne encodes a single text.
func (p *Provider) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := p.EmbedMany(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedMany encodes texts and returns one vector per text in input order.
// Any failure discards the whole batch.
func (p *Provider) EmbedMany(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	h, err := p.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	inputs := texts
	if prefix := p.spec.Prefix(); prefix != "" {
		inputs = make([]string, len(texts))
		for i, t := range texts {
			inputs[i] = prefix + t
		}
	}

	size := p.chunkSize
	if size <= 0 || size > len(inputs) {
		size = len(inputs)
	}
	out := make([][]float32, 0, len(inputs))
	for start := 0; start < len(inputs); start += size {
		end := min(start+size, len(inputs))
		vecs, err := p.encode(ctx, h, inputs[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (p *Provider) encode(ctx context.Context, h *Handle, texts []string) ([][]float32, error) {
	ctx, span := trace.Tracer().Start(ctx, "embedding.encode",
		oteltrace.WithAttributes(
			attribute.String("embedding.model", h.Spec.ID),
			attribute.Int("embedding.batch_size", len(texts)),
		),
	)
	defer span.End()

	if r, ok := h.model.(Reentrant); !ok || !r.Reentrant() {
		p.encodeMu.Lock()
		defer p.encodeMu.Unlock()
	}

	start := time.Now()
	vecs, err := h.model.Encode(ctx, texts)
	if err == nil {
		err = h.checkOutput(len(texts), vecs)
	}
	if p.observer != nil {
		p.observer.ObserveEncode(h.Spec.ID, len(texts), time.Since(start), err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var ee *EncodeError
		if errors.As(err, &ee) {
			return nil, ee
		}
		return nil, &EncodeError{Model: h.Spec.ID, Err: err}
	}

	span.SetAttributes(attribute.Int("embedding.dim", h.Dimensions()))
	return vecs, nil
}
