package provider

import (
	"database/sql"

	"go.uber.org/zap"

	"github.com/roostlabs/roost/ai/openrouter"
	"github.com/roostlabs/roost/am"
)

// Both backends satisfy the client interfaces; only the local server
// streams.
var (
	_ AIClient          = (*openrouter.Client)(nil)
	_ AIClient          = (*LocalClient)(nil)
	_ StreamingAIClient = (*LocalClient)(nil)
)

// ClientConfig carries the cross-cutting wiring a backend needs beyond the
// roost config: the usage ledger DB and attribution for recorded calls.
type ClientConfig struct {
	DB            *sql.DB
	Logger        *zap.SugaredLogger
	OperationType string
	EntityType    string
	EntityID      string
}

// NewAIClient selects a backend automatically: the local inference server
// when enabled, OpenRouter otherwise.
func NewAIClient(cfg *am.Config, db *sql.DB, operationType, entityType, entityID string) AIClient {
	return NewAIClientWithProvider(cfg, ProviderAuto, ClientConfig{
		DB:            db,
		OperationType: operationType,
		EntityType:    entityType,
		EntityID:      entityID,
	})
}

// NewAIClientWithProvider builds a client for an explicit provider choice.
func NewAIClientWithProvider(cfg *am.Config, p Provider, clientCfg ClientConfig) AIClient {
	switch p {
	case ProviderLocal:
		return newLocalClient(cfg, clientCfg)
	case ProviderOpenRouter:
		return newOpenRouterClient(cfg, clientCfg)
	default:
		if cfg.LocalInference.Enabled {
			return newLocalClient(cfg, clientCfg)
		}
		return newOpenRouterClient(cfg, clientCfg)
	}
}

func newLocalClient(cfg *am.Config, clientCfg ClientConfig) *LocalClient {
	return NewLocalClient(&cfg.LocalInference, clientCfg.Logger)
}

func newOpenRouterClient(cfg *am.Config, clientCfg ClientConfig) *openrouter.Client {
	return openrouter.NewClient(openrouter.Config{
		APIKey:        cfg.OpenRouter.APIKey,
		Model:         cfg.OpenRouter.Model,
		Temperature:   cfg.OpenRouter.Temperature,
		MaxTokens:     cfg.OpenRouter.MaxTokens,
		Logger:        clientCfg.Logger,
		DB:            clientCfg.DB,
		OperationType: clientCfg.OperationType,
		EntityType:    clientCfg.EntityType,
		EntityID:      clientCfg.EntityID,
	})
}

// GetAvailableProviders reports which backends the config can reach.
func GetAvailableProviders(cfg *am.Config) []Provider {
	var available []Provider
	if cfg.LocalInference.Enabled {
		available = append(available, ProviderLocal)
	}
	if cfg.OpenRouter.APIKey != "" {
		available = append(available, ProviderOpenRouter)
	}
	return available
}
