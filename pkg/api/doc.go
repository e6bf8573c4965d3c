// Package api defines the core data types for the execution engine
//
// This package contains all the shared types used across the engine,
// including flow and orchestration definitions, execution records, error
// kinds, lifecycle events, and HTTP messages
package api
