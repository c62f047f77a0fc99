package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/nOOne-is-hier/AgentFlow/pkg/api"
	"github.com/nOOne-is-hier/AgentFlow/pkg/log"
)

type (
	// Traversal selects how the executor orders nodes: the declared
	// workflow order, or edge-following graph order with checkpoint and
	// approval handling
	Traversal int

	// Executor runs workflows and streams their events. One executor is
	// shared by all runs; per-run state lives in the Execution
	Executor struct {
		Registry *Registry
		Logger   *slog.Logger
		Buffer   int
	}

	// Result is the terminal outcome of one engine pass
	Result struct {
		Outputs    *Outputs
		Checkpoint *api.Checkpoint
		Deferred   *api.Node
		Err        error
	}

	// Execution is a live run. Events is a bounded stream closed when
	// the pass finishes; Wait blocks for the Result
	Execution struct {
		Events <-chan *api.RunEvent
		done   chan struct{}
		res    Result
	}
)

const (
	TraverseDeclared Traversal = iota
	TraverseGraph
)

// Wait blocks until the engine pass finishes. The caller must drain
// Events; Wait alone does not consume them
func (x *Execution) Wait() *Result {
	<-x.done
	return &x.res
}

// Execute starts a workflow pass. Events are produced by a single
// goroutine into a bounded channel; a cancelled context stops the pass
// at the next emission
func (e *Executor) Execute(
	ctx context.Context, runID api.RunID, wf *api.Workflow, t Traversal,
) *Execution {
	buffer := e.Buffer
	if buffer <= 0 {
		buffer = 64
	}
	events := make(chan *api.RunEvent, buffer)
	x := &Execution{
		Events: events,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(x.done)
		defer close(events)
		x.res = e.run(ctx, runID, wf, t, events)
	}()
	return x
}

type emitter struct {
	ctx    context.Context
	events chan<- *api.RunEvent
	seq    int64
}

// emit delivers one event, blocking on the bounded channel. Returns
// false when the context is cancelled
func (m *emitter) emit(
	t api.EventType, nodeID api.NodeID, msg string, detail api.Detail,
) bool {
	if m.ctx.Err() != nil {
		return false
	}
	ev := api.NewEvent(t, nodeID, msg, detail)
	m.seq++
	ev.Seq = m.seq
	select {
	case m.events <- ev:
		return true
	case <-m.ctx.Done():
		return false
	}
}

func (e *Executor) run(
	ctx context.Context, runID api.RunID, wf *api.Workflow, t Traversal,
	events chan<- *api.RunEvent,
) Result {
	m := &emitter{ctx: ctx, events: events}
	outputs := NewOutputs()
	logger := e.Logger.With(log.RunID(runID), log.WorkflowID(wf.ID))

	order, err := e.order(wf, t)
	if err != nil {
		m.emit(api.EventSummary, api.NodeRuntime,
			"run failed: "+err.Error(), api.Detail{"error": err.Error()})
		return Result{Outputs: outputs, Err: err}
	}

	ids := make([]string, len(order))
	for i, n := range order {
		ids[i] = string(n.ID)
	}
	if !m.emit(api.EventPlan, api.NodePlan, "plan created", api.Detail{
		"total": len(order),
		"nodes": ids,
	}) {
		return Result{Outputs: outputs, Err: ctx.Err()}
	}

	// checkpoint handling only applies when an approval gate can guard
	// a downstream export
	gated := t == TraverseGraph &&
		wf.NodeOfType(api.NodeValidateDoc) != nil &&
		wf.NodeOfType(api.NodeExportTable) != nil

	res := Result{Outputs: outputs}
	for _, node := range order {
		if gated && node.Type == api.NodeExportTable {
			if !e.deferExport(m, node, &res) {
				res.Err = ctx.Err()
			}
			continue
		}
		if err := e.runNode(ctx, m, runID, node, outputs); err != nil {
			res.Err = err
			return res
		}
		if gated && node.Type == api.NodeValidateDoc {
			if !e.checkpoint(m, node, outputs, &res) {
				res.Err = ctx.Err()
				return res
			}
		}
	}

	detail := api.Detail{}
	if v, ok := outputs.Get("artifact_id"); ok {
		detail["artifactId"] = v
	}
	if !m.emit(api.EventSummary, api.NodeRuntime, "run complete", detail) {
		res.Err = ctx.Err()
		return res
	}
	logger.Info("workflow pass finished",
		slog.Int("nodes", len(order)), slog.Int64("events", m.seq))
	return res
}

// runNode executes one node: a start action, the registered step, an
// observation with step metrics, and a closing summary. Any step error
// is surfaced as a failure summary and aborts the pass
func (e *Executor) runNode(
	ctx context.Context, m *emitter, runID api.RunID, node *api.Node,
	outputs *Outputs,
) error {
	if !m.emit(api.EventAction, node.ID, "started", api.Detail{
		"type": string(node.Type),
	}) {
		return ctx.Err()
	}
	fn, err := e.Registry.Lookup(node.Type)
	if err != nil {
		m.emit(api.EventSummary, node.ID, "failed: "+err.Error(),
			api.Detail{"error": err.Error()})
		return err
	}
	res, err := fn(ctx, &StepRequest{
		Inputs: outputs.Snapshot(),
		Node:   node,
		RunID:  runID,
	})
	if err != nil {
		err = fmt.Errorf("node %s: %w", node.ID, err)
		m.emit(api.EventSummary, node.ID, "failed: "+err.Error(),
			api.Detail{"error": err.Error()})
		return err
	}
	outputs.Merge(node.ID, res.Out)

	if !m.emit(api.EventObs, node.ID, res.ObsMessage, res.Obs) {
		return ctx.Err()
	}
	keys := make([]string, 0, len(res.Out))
	for k := range res.Out {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if !m.emit(api.EventSummary, node.ID, "completed", api.Detail{
		"keys": keys,
	}) {
		return ctx.Err()
	}
	return nil
}

// checkpoint emits the resume contract after validation: a state
// snapshot observation carrying the merged table path and the report,
// then the approval signal
func (e *Executor) checkpoint(
	m *emitter, node *api.Node, outputs *Outputs, res *Result,
) bool {
	cp := &api.Checkpoint{}
	if v, ok := outputs.Get("merged_path"); ok {
		cp.MergedPath, _ = v.(string)
	}
	if v, ok := outputs.Get("validation_report"); ok {
		cp.Report, _ = v.(*api.ValidationReport)
	}
	res.Checkpoint = cp

	state := api.Detail{
		"merged_path": cp.MergedPath,
	}
	if cp.Report != nil {
		state["validation_report"] = cp.Report
	}
	if !m.emit(api.EventObs, node.ID, api.MsgStateCheckpoint, api.Detail{
		"state": state,
	}) {
		return false
	}
	return m.emit(api.EventObs, api.NodeHITL, api.MsgHITLSignal, api.Detail{
		"reason": "approval required before export",
	})
}

// deferExport short-circuits the export node; the run controller
// executes it after approval using the checkpoint
func (e *Executor) deferExport(
	m *emitter, node *api.Node, res *Result,
) bool {
	res.Deferred = node
	return m.emit(api.EventObs, node.ID, api.MsgExportDeferred, api.Detail{
		"reason": "awaiting approval",
	})
}

// order resolves the execution order for a traversal policy. Graph
// order follows edges from the first declared node; declared order is
// used to break ties so the result is deterministic
func (e *Executor) order(
	wf *api.Workflow, t Traversal,
) ([]*api.Node, error) {
	if len(wf.Nodes) == 0 {
		return nil, fmt.Errorf("workflow %s has no nodes", wf.ID)
	}
	if t == TraverseDeclared || len(wf.Edges) == 0 {
		return wf.Nodes, nil
	}

	reachable := map[api.NodeID]bool{}
	queue := []api.NodeID{wf.Nodes[0].ID}
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if reachable[id] {
			continue
		}
		reachable[id] = true
		for _, edge := range wf.Edges {
			if edge.From == id {
				queue = append(queue, edge.To)
			}
		}
	}

	preds := map[api.NodeID]int{}
	for _, edge := range wf.Edges {
		if reachable[edge.From] && reachable[edge.To] {
			preds[edge.To]++
		}
	}

	var order []*api.Node
	done := map[api.NodeID]bool{}
	for len(order) < len(reachable) {
		progressed := false
		for _, n := range wf.Nodes {
			if !reachable[n.ID] || done[n.ID] || preds[n.ID] > 0 {
				continue
			}
			order = append(order, n)
			done[n.ID] = true
			for _, edge := range wf.Edges {
				if edge.From == n.ID && reachable[edge.To] {
					preds[edge.To]--
				}
			}
			progressed = true
		}
		if !progressed {
			return nil, fmt.Errorf("workflow %s has a cycle", wf.ID)
		}
	}
	return order, nil
}
