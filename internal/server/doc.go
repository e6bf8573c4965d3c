// Package server implements the HTTP API server for the engine
//
// This package provides REST endpoints for submitting and observing
// executions, registering definitions, health checks, and WebSocket
// event streaming
package server
