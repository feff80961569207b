package backend

import (
	"slices"

	"snapspend/internal/cloud"
)

// CleanupFunc releases resources held by a gateway
type CleanupFunc func() error

// GatewayResult contains the gateway instance and optional cleanup function
type GatewayResult struct {
	Gateway cloud.Gateway
	Cleanup CleanupFunc
}

// Config holds configuration for gateway creation
type Config struct {
	Type BackendType

	// Firestore specific
	FirestoreProjectID       string
	FirestoreCredentialsFile string
	FirestoreCredentialsJSON string
}

// BackendType represents the cloud replica implementation
type BackendType string

const (
	MemoryBackend    BackendType = "memory"
	FirestoreBackend BackendType = "firestore"
)

var backendTypes = []BackendType{MemoryBackend, FirestoreBackend}

// String implements fmt.Stringer
func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	return slices.Contains(backendTypes, bt)
}
