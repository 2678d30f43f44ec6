package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"
)

const onnxFP16File = "model_fp16.onnx"

// Hugot runs a sentence-transformer ONNX model in process.
type Hugot struct {
	session  *hugot.Session
	pipeline *pipelines.FeatureExtractionPipeline
}

// HugotLoader returns a Loader that resolves the spec's model under cacheDir,
// downloading it from the Hugging Face hub when it isn't there yet. A spec ID
// naming an existing directory is used as is.
func HugotLoader(cacheDir string) Loader {
	return func(ctx context.Context, spec Spec) (Model, error) {
		modelPath, err := resolveModelPath(spec.ID, cacheDir)
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		session, err := hugot.NewGoSession()
		if err != nil {
			return nil, fmt.Errorf("creating hugot session: %w", err)
		}
		pipeline, err := hugot.NewPipeline(session, hugot.FeatureExtractionConfig{
			ModelPath:    modelPath,
			Name:         "embedding",
			OnnxFilename: onnxFile(modelPath, spec.FP16),
		})
		if err != nil {
			session.Destroy()
			return nil, fmt.Errorf("creating feature extraction pipeline: %w", err)
		}
		return &Hugot{session: session, pipeline: pipeline}, nil
	}
}

func (h *Hugot) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out, err := h.pipeline.RunPipeline(texts)
	if err != nil {
		return nil, err
	}
	return out.Embeddings, nil
}

func resolveModelPath(id, cacheDir string) (string, error) {
	if fi, err := os.Stat(id); err == nil && fi.IsDir() {
		return id, nil
	}
	if cacheDir == "" {
		return "", fmt.Errorf("model %q is not a local directory and no model cache dir is configured", id)
	}
	local := filepath.Join(cacheDir, strings.ReplaceAll(id, "/", "_"))
	if fi, err := os.Stat(local); err == nil && fi.IsDir() {
		return local, nil
	}
	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return "", err
	}
	slog.Info("downloading model", "model", id, "dir", cacheDir)
	path, err := hugot.DownloadModel(id, cacheDir, hugot.NewDownloadOptions())
	if err != nil {
		return "", fmt.Errorf("downloading %s: %w", id, err)
	}
	return path, nil
}

// onnxFile picks the half-precision export when requested and present. An
// empty name lets hugot pick the model's single ONNX file.
func onnxFile(modelPath string, fp16 bool) string {
	if !fp16 {
		return ""
	}
	if _, err := os.Stat(filepath.Join(modelPath, onnxFP16File)); err == nil {
		return onnxFP16File
	}
	slog.Warn("fp16 weights not found, using full precision", "path", modelPath)
	return ""
}
