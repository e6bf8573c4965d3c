// Package loom identifies the service for logging and health reporting
package loom

const (
	// Name is the service name reported in logs and health responses
	Name = "loom-engine"

	// Version is the engine release version
	Version = "0.1.0"
)
