package ai

import (
	"fmt"
	"strings"

	"github.com/xxxsen/ragchat/internal/config"
)

// Build resolves the configured providers and returns the embedder and
// completer groups the rest of the server talks to.
func Build(cfg config.AIConfig) (IEmbedder, ICompleter, error) {
	specs := make(map[string]config.AIProviderConfig, len(cfg.Providers))
	for _, p := range cfg.Providers {
		specs[strings.TrimSpace(p.Name)] = p
	}
	embedders := make([]EmbedderEntry, 0, len(cfg.Embedder))
	for _, ref := range cfg.Embedder {
		spec, ok := specs[ref.Provider]
		if !ok {
			return nil, nil, fmt.Errorf("unknown ai provider: %s", ref.Provider)
		}
		p, err := NewEmbedProvider(spec.Type, spec.Data)
		if err != nil {
			return nil, nil, fmt.Errorf("init embed provider %s: %w", ref.Provider, err)
		}
		embedders = append(embedders, EmbedderEntry{
			Name:     ref.Provider + "/" + ref.Model,
			Embedder: NewEmbedder(p, ref.Model),
		})
	}
	completers := make([]CompleterEntry, 0, len(cfg.Completer))
	for _, ref := range cfg.Completer {
		spec, ok := specs[ref.Provider]
		if !ok {
			return nil, nil, fmt.Errorf("unknown ai provider: %s", ref.Provider)
		}
		p, err := NewChatProvider(spec.Type, spec.Data)
		if err != nil {
			return nil, nil, fmt.Errorf("init chat provider %s: %w", ref.Provider, err)
		}
		completers = append(completers, CompleterEntry{
			Name:      ref.Provider + "/" + ref.Model,
			Completer: NewCompleter(p, ref.Model),
		})
	}
	emb := NewGroupEmbedder(embedders)
	comp := NewGroupCompleter(completers)
	if emb == nil || comp == nil {
		return nil, nil, fmt.Errorf("ai embedder and completer are required")
	}
	return emb, comp, nil
}
