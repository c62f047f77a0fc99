// Package server implements the HTTP API server for the pipeline service
//
// This package provides REST endpoints for uploads, pipeline composition,
// workflow management, run execution with SSE event streaming, artifact
// downloads, and WebSocket event mirroring
package server
