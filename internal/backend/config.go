package backend

import (
	"fmt"
	"strings"

	"snapspend/internal/config"
)

// FromAppConfig converts the application config to backend config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	backendType := BackendType(appConfig.CloudBackend)
	if !backendType.IsValid() {
		return Config{}, fmt.Errorf("invalid backend type in config: %q, want one of %s",
			appConfig.CloudBackend, backendTypeList())
	}

	return Config{
		Type:                     backendType,
		FirestoreProjectID:       appConfig.FirestoreProjectID,
		FirestoreCredentialsFile: appConfig.FirestoreCredentialsFile,
		FirestoreCredentialsJSON: appConfig.FirestoreCredentialsJSON,
	}, nil
}

// Validate validates the backend configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid backend type: %q, want one of %s", c.Type, backendTypeList())
	}

	switch c.Type {
	case FirestoreBackend:
		if c.FirestoreProjectID == "" {
			return fmt.Errorf("Firestore project ID is required for firestore backend")
		}
	case MemoryBackend:
		// Memory backend doesn't require additional validation
	}

	return nil
}

func backendTypeList() string {
	names := make([]string, len(backendTypes))
	for i, t := range backendTypes {
		names[i] = t.String()
	}
	return strings.Join(names, ", ")
}
