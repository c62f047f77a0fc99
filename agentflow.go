// Package agentflow is a declarative data pipeline service. Uploaded
// documents and tables are composed into an executable workflow graph
// whose runs pause for human approval before exporting results.
package agentflow

const (
	// Name identifies the service in logs and health responses
	Name = "agentflow"

	// Version is the release version of the service
	Version = "0.1.0"
)
