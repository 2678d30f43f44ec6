package embedding

import (
	"context"
	"fmt"
	"net/http"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// OpenAI implements Model using the OpenAI-compatible embeddings endpoint.
type OpenAI struct {
	client     *openai.Client
	model      string
	dimensions int
}

func NewOpenAI(baseURL, apiKey, model string, dimensions int) *OpenAI {
	var opts []option.RequestOption
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	opts = append(opts, option.WithHTTPClient(&http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}))
	client := openai.NewClient(opts...)
	return &OpenAI{client: &client, model: model, dimensions: dimensions}
}

// OpenAILoader returns a Loader that builds an OpenAI client for the spec's
// model and calls it once, so bad credentials surface as a load failure.
func OpenAILoader(baseURL, apiKey string, dimensions int) Loader {
	return func(ctx context.Context, spec Spec) (Model, error) {
		m := NewOpenAI(baseURL, apiKey, spec.ID, dimensions)
		if _, err := m.Encode(ctx, []string{"ping"}); err != nil {
			return nil, fmt.Errorf("probing openai endpoint: %w", err)
		}
		return m, nil
	}
}

func (o *OpenAI) Reentrant() bool { return true }

func (o *OpenAI) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	params := openai.EmbeddingNewParams{
		Model: o.model,
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
	}
	if o.dimensions > 0 {
		params.Dimensions = param.NewOpt(int64(o.dimensions))
	}

	resp, err := o.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai embedding: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai embedding: got %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	result := make([][]float32, len(resp.Data))
	for _, emb := range resp.Data {
		if emb.Index < 0 || int(emb.Index) >= len(result) {
			return nil, fmt.Errorf("openai embedding: index %d out of range", emb.Index)
		}
		vec := make([]float32, len(emb.Embedding))
		for j, v := range emb.Embedding {
			vec[j] = float32(v)
		}
		result[emb.Index] = vec
	}
	return result, nil
}
