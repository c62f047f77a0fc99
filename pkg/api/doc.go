// Package api defines the core data types for the pipeline engine
//
// This package contains all the shared types used across the service,
// including workflow graphs, run records, run events, validation reports,
// and HTTP messages
package api
