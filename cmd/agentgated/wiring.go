package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/haasonsaas/agentgate/internal/agent"
	"github.com/haasonsaas/agentgate/internal/approval"
	"github.com/haasonsaas/agentgate/internal/config"
	"github.com/haasonsaas/agentgate/internal/providers"
	"github.com/haasonsaas/agentgate/internal/safety"
)

// buildSafetyConfig translates the config file's three-mode safety dial
// into the Safety Gate's category map. "permissive" turns the gate off
// entirely; "standard" asks for confirmation only on shell commands, the
// category most likely to do something irreversible; "strict" asks for
// every gated category.
func buildSafetyConfig(cfg config.SafetyConfig) safety.Config {
	switch cfg.Mode {
	case "permissive":
		return safety.Config{Enabled: false}
	case "strict":
		return safety.Config{
			Enabled: true,
			ConfirmationRequired: map[safety.Category]bool{
				safety.CategoryFileWrite:    true,
				safety.CategoryGitOps:       true,
				safety.CategorySystemCmd:    true,
				safety.CategoryNotification: true,
			},
		}
	default: // "standard"
		return safety.Config{
			Enabled: true,
			ConfirmationRequired: map[safety.Category]bool{
				safety.CategorySystemCmd: true,
			},
		}
	}
}

// buildProviderClients constructs one agent.ModelClient per configured
// provider entry, keyed by the name used in models.providers and referenced
// from models.routing.*'s "provider/model" strings.
func buildProviderClients(cfg config.ModelsConfig) (map[string]agent.ModelClient, error) {
	clients := make(map[string]agent.ModelClient, len(cfg.Providers))
	for name, pc := range cfg.Providers {
		kind := pc.Kind
		if kind == "" {
			kind = name
		}
		switch kind {
		case "anthropic":
			clients[name] = providers.NewAnthropicClient(providers.AnthropicConfig{
				APIKey:       pc.APIKey,
				BaseURL:      pc.BaseURL,
				DefaultModel: pc.DefaultModel,
			})
		case "openai":
			clients[name] = providers.NewOpenAIClient(providers.OpenAIConfig{
				APIKey:       pc.APIKey,
				BaseURL:      pc.BaseURL,
				DefaultModel: pc.DefaultModel,
			})
		default:
			return nil, fmt.Errorf("model provider %q: unsupported kind %q", name, kind)
		}
	}
	return clients, nil
}

// buildModelCandidates resolves an ordered "provider/model" fallback chain
// (one of models.routing.low/standard/high) against already-built provider
// clients into the fallback chain the Run Engine walks.
func buildModelCandidates(clients map[string]agent.ModelClient, entries []string) ([]agent.ModelCandidate, error) {
	candidates := make([]agent.ModelCandidate, 0, len(entries))
	for _, entry := range entries {
		providerName, model, ok := strings.Cut(entry, "/")
		if !ok {
			return nil, fmt.Errorf("invalid model routing entry %q: want \"provider/model\"", entry)
		}
		client, ok := clients[providerName]
		if !ok {
			return nil, fmt.Errorf("model routing entry %q: no provider named %q is configured", entry, providerName)
		}
		candidates = append(candidates, agent.ModelCandidate{Name: model, Client: client})
	}
	return candidates, nil
}

// buildApprovalStore opens the Approval Store backend named by
// approvals.backend. The sqlite backend is reserved for a future
// approval.SQLiteStore; no such implementation exists yet, so it errors
// rather than silently falling back to a different backend.
func buildApprovalStore(cfg config.ApprovalsConfig, logger *slog.Logger) (approval.Store, error) {
	switch cfg.Backend {
	case "file":
		return approval.NewFileStore(cfg.Path, logger)
	case "sqlite":
		return nil, fmt.Errorf("approvals.backend \"sqlite\" is not yet implemented; use \"file\"")
	default:
		return nil, fmt.Errorf("approvals.backend %q is not recognized", cfg.Backend)
	}
}
