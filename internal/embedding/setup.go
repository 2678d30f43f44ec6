package embedding

import (
	"fmt"
	"log/slog"

	"vectorize/internal/config"
	"vectorize/internal/db"
)

// SpecFromConfig maps the model section of the configuration to a Spec.
func SpecFromConfig(m config.ModelConfig) Spec {
	return Spec{
		ID:               m.ID,
		FP16:             m.UseFP16(),
		QueryInstruction: m.QueryInstructionValue(),
		PassagePrefix:    m.PassagePrefixValue(),
		Role:             Role(m.Role),
	}
}

// Setup builds the Provider described by cfg. backend overrides the
// configured backend when non-empty. The returned cleanup closes the cache
// database, if one was opened.
func Setup(cfg *config.Config, backend string, opts ...Option) (*Provider, func() error, error) {
	if backend == "" {
		backend = cfg.Model.Backend
	}
	loader, err := NewLoader(BackendConfig{
		Name:       backend,
		CacheDir:   cfg.Model.CacheDir,
		BaseURL:    cfg.Model.BaseURL,
		APIKey:     cfg.Model.APIKey,
		Dimensions: cfg.Model.Dimensions,
	})
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() error { return nil }
	if cfg.Cache.Enabled {
		database, err := db.Open(cfg.Cache.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("opening embedding cache: %w", err)
		}
		if err := database.Migrate(); err != nil {
			database.Close()
			return nil, nil, fmt.Errorf("migrating embedding cache: %w", err)
		}
		loader = WithCache(loader, database, cfg.Cache.Size)
		cleanup = database.Close
		slog.Info("embedding cache enabled", "path", cfg.Cache.Path, "size", cfg.Cache.Size)
	}

	spec := SpecFromConfig(cfg.Model)
	slog.Debug("embedding provider configured", "backend", backend, "model", spec.ID, "role", spec.Role, "prefix", spec.Prefix())
	return NewProvider(spec, loader, opts...), cleanup, nil
}
