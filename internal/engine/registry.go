package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/nOOne-is-hier/AgentFlow/pkg/api"
)

type (
	// StepRequest carries everything a step implementation may consult:
	// the node being executed, its run, and a snapshot of the outputs
	// accumulated so far. Steps never see the live output map
	StepRequest struct {
		Inputs map[string]any
		Node   *api.Node
		RunID  api.RunID
	}

	// StepResult is what a step hands back to the engine. Out is merged
	// into the run's output map; Obs becomes the payload of the node's
	// observation event
	StepResult struct {
		Out        map[string]any
		Obs        api.Detail
		ObsMessage string
	}

	// StepFunc executes one node
	StepFunc func(context.Context, *StepRequest) (*StepResult, error)

	// Registry maps node types to their implementations. The set of
	// types is closed; dispatch never falls through to anything dynamic
	Registry struct {
		steps map[api.NodeType]StepFunc
	}
)

// ErrUnknownNodeType is returned when a workflow names a node type with
// no registered implementation. This is fatal to the run, not retryable
var ErrUnknownNodeType = errors.New("unknown node type")

func NewRegistry() *Registry {
	return &Registry{
		steps: map[api.NodeType]StepFunc{},
	}
}

func (r *Registry) Register(t api.NodeType, fn StepFunc) {
	r.steps[t] = fn
}

// Lookup resolves a node type to its implementation
func (r *Registry) Lookup(t api.NodeType) (StepFunc, error) {
	fn, ok := r.steps[t]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNodeType, t)
	}
	return fn, nil
}

// Types returns the registered node types, for diagnostics
func (r *Registry) Types() []api.NodeType {
	res := make([]api.NodeType, 0, len(r.steps))
	for t := range r.steps {
		res = append(res, t)
	}
	return res
}
