package backend

import (
	"context"
	"fmt"
	"log/slog"

	"snapspend/internal/cloud/firestore"
	"snapspend/internal/cloud/memory"
)

// Factory creates cloud gateways based on configuration
type Factory struct {
	logger *slog.Logger
}

// NewFactory creates a new gateway factory
func NewFactory(logger *slog.Logger) *Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Factory{
		logger: logger,
	}
}

// CreateGateway validates config and opens the gateway it names.
func (f *Factory) CreateGateway(ctx context.Context, config Config) (*GatewayResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	switch config.Type {
	case FirestoreBackend:
		return f.createFirestoreGateway(ctx, config)
	case MemoryBackend:
		return f.createMemoryGateway()
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
}

func (f *Factory) createFirestoreGateway(ctx context.Context, config Config) (*GatewayResult, error) {
	gw, err := firestore.New(ctx, firestore.Options{
		ProjectID:       config.FirestoreProjectID,
		CredentialsFile: config.FirestoreCredentialsFile,
		CredentialsJSON: config.FirestoreCredentialsJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Firestore gateway: %w", err)
	}

	f.logger.Info("Initialized Firestore gateway", "project_id", config.FirestoreProjectID)

	return &GatewayResult{
		Gateway: gw,
		Cleanup: gw.Close,
	}, nil
}

func (f *Factory) createMemoryGateway() (*GatewayResult, error) {
	f.logger.Warn("Using in-memory cloud gateway; shared data lives only in this process")

	return &GatewayResult{
		Gateway: memory.New(),
		Cleanup: nil, // No cleanup needed for memory gateway
	}, nil
}
