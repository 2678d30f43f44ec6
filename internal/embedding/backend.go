package embedding

import "fmt"

// Backend names accepted by NewLoader.
const (
	BackendHugot  = "hugot"
	BackendOllama = "ollama"
	BackendOpenAI = "openai"
	BackendMock   = "mock"
)

// BackendConfig carries the settings any of the backends may need.
type BackendConfig struct {
	Name       string
	CacheDir   string
	BaseURL    string
	APIKey     string
	Dimensions int
}

// NewLoader returns the Loader for the named backend.
func NewLoader(cfg BackendConfig) (Loader, error) {
	switch cfg.Name {
	case BackendHugot, "":
		return HugotLoader(cfg.CacheDir), nil
	case BackendOllama:
		return OllamaLoader(cfg.BaseURL), nil
	case BackendOpenAI:
		return OpenAILoader(cfg.BaseURL, cfg.APIKey, cfg.Dimensions), nil
	case BackendMock:
		return MockLoader(cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("unknown embedding backend %q", cfg.Name)
	}
}
