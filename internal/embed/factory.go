package embed

import (
	"context"
	"fmt"
	"log/slog"
)

// Provider names accepted by NewFromConfig.
const (
	ProviderStatic = "static"
	ProviderOllama = "ollama"
)

// Config selects and configures an embedding backend.
type Config struct {
	// Provider is "static" (default, offline) or "ollama".
	Provider string

	// Ollama holds Ollama-specific settings; ignored for static.
	Ollama OllamaConfig
}

// NewFromConfig builds the configured embedder. The Ollama backend
// falls back to the static embedder when the endpoint is unreachable,
// so an index can always be built offline.
func NewFromConfig(ctx context.Context, cfg Config) (Embedder, error) {
	switch cfg.Provider {
	case "", ProviderStatic:
		return NewStaticEmbedder(), nil

	case ProviderOllama:
		e, err := NewOllamaEmbedder(ctx, cfg.Ollama)
		if err != nil {
			slog.Warn("ollama unavailable, falling back to static embedder",
				slog.String("host", cfg.Ollama.Host),
				slog.String("error", err.Error()))
			return NewStaticEmbedder(), nil
		}
		return e, nil

	default:
		return nil, fmt.Errorf("unknown embedding provider: %q", cfg.Provider)
	}
}
