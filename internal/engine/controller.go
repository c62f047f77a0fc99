package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nOOne-is-hier/AgentFlow/internal/runstore"
	"github.com/nOOne-is-hier/AgentFlow/pkg/api"
	"github.com/nOOne-is-hier/AgentFlow/pkg/events"
	"github.com/nOOne-is-hier/AgentFlow/pkg/log"
)

type (
	// Replier produces the closing natural-language summary for a
	// finished run. Implementations may call out to a completion
	// service; the controller falls back to a local summary when the
	// replier is absent or fails
	Replier interface {
		Reply(ctx context.Context, prompt string) (string, error)
	}

	// EventSink receives every persisted event, for live mirroring
	EventSink interface {
		Publish(id api.RunID, ev *api.RunEvent)
	}

	// Controller owns the run lifecycle: it creates records, drives the
	// executor, persists and compacts the event stream, and arbitrates
	// the approval gate
	Controller struct {
		Runs         *runstore.Store
		Steps        *Steps
		Executor     *Executor
		Assistant    Replier
		Sink         EventSink
		Logger       *slog.Logger
		PollInterval time.Duration

		mu          sync.Mutex
		started     map[api.RunID]bool
		cancels     map[api.RunID]context.CancelFunc
		wg          sync.WaitGroup
		compactor   *events.Compactor
		compactOnce sync.Once
	}
)

const (
	summarySampleItems  = 3
	summarySnippetChars = 120
	defaultPollInterval = 250 * time.Millisecond
)

func (c *Controller) compact(ev *api.RunEvent) *api.RunEvent {
	c.compactOnce.Do(func() {
		c.compactor = events.NewCompactor()
	})
	return c.compactor.Compact(ev)
}

// StartRun validates and registers a new run in the planning state.
// Execution does not begin until the first stream attaches
func (c *Controller) StartRun(
	ctx context.Context, wf *api.Workflow,
) (*api.RunRecord, error) {
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	RepairEdges(wf)

	run := &api.RunRecord{
		RunID:     api.RunID(uuid.NewString()),
		Status:    api.RunPlanning,
		StartedAt: time.Now().UTC(),
		Workflow:  wf,
	}
	if err := c.Runs.Create(ctx, run); err != nil {
		return nil, err
	}
	c.Logger.Info("run created",
		log.RunID(run.RunID), log.WorkflowID(wf.ID))
	return run, nil
}

// EnsureStarted moves a planning run to running and launches its
// execution exactly once. Safe to call from every stream attach
func (c *Controller) EnsureStarted(
	ctx context.Context, id api.RunID,
) (*api.RunRecord, error) {
	run, err := c.Runs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if run.Status != api.RunPlanning {
		return run, nil
	}
	run, err = c.Runs.Transition(ctx, id, api.RunRunning)
	if err != nil {
		// another attach won the transition
		return c.Runs.Get(ctx, id)
	}

	c.mu.Lock()
	if !c.started[id] {
		if c.started == nil {
			c.started = map[api.RunID]bool{}
			c.cancels = map[api.RunID]context.CancelFunc{}
		}
		runCtx, cancel := context.WithCancel(context.Background())
		c.started[id] = true
		c.cancels[id] = cancel
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			defer c.release(id)
			c.execute(runCtx, run)
		}()
	}
	c.mu.Unlock()
	return run, nil
}

func (c *Controller) release(id api.RunID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cancel := c.cancels[id]; cancel != nil {
		cancel()
		delete(c.cancels, id)
	}
}

// Close cancels every in-flight run goroutine and waits for them to
// exit. A run parked at the approval gate keeps its persisted waiting
// state for a later decision
func (c *Controller) Close() {
	c.mu.Lock()
	for _, cancel := range c.cancels {
		cancel()
	}
	c.mu.Unlock()
	c.wg.Wait()
}

// Continue resolves the approval gate. Outside the waiting state this
// is a no-op that reports the current status
func (c *Controller) Continue(
	ctx context.Context, id api.RunID, approve bool, comment string,
) (*api.RunRecord, error) {
	run, err := c.Runs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if run.Status != api.RunWaitingHITL {
		return run, nil
	}
	to := api.RunRunning
	msg := "approval received"
	if !approve {
		to = api.RunCancelled
		msg = "rejected by reviewer"
	}
	run, err = c.Runs.Transition(ctx, id, to)
	if err != nil {
		// lost the race; report whatever the run became
		return c.Runs.Get(ctx, id)
	}
	detail := api.Detail{"approve": approve}
	if comment != "" {
		detail["comment"] = comment
	}
	c.append(context.WithoutCancel(ctx), id,
		api.NewEvent(api.EventObs, api.NodeHITL, msg, detail))
	c.Logger.Info("approval resolved",
		log.RunID(id), log.Status(run.Status),
		slog.Bool("approve", approve))
	return run, nil
}

// execute drives one run to a terminal state. It owns the event log:
// every event is compacted, persisted, and mirrored before the next
// one is produced. Cancelling ctx stops event production and the
// approval wait
func (c *Controller) execute(ctx context.Context, run *api.RunRecord) {
	logger := c.Logger.With(log.RunID(run.RunID))

	traversal := TraverseDeclared
	if len(run.Workflow.Edges) > 0 {
		traversal = TraverseGraph
	}
	x := c.Executor.Execute(ctx, run.RunID, run.Workflow, traversal)
	for ev := range x.Events {
		c.append(ctx, run.RunID, ev)
	}
	res := x.Wait()

	switch {
	case ctx.Err() != nil:
		logger.Info("run interrupted")
		return
	case res.Err != nil:
		c.fail(ctx, run.RunID, res.Err)
	case res.Checkpoint != nil && res.Deferred != nil:
		c.waitForApproval(ctx, run.RunID, res)
	default:
		c.finish(ctx, run.RunID, res.Outputs.Snapshot())
	}
	logger.Info("run settled")
}

// waitForApproval persists the checkpoint, parks the run in the waiting
// state, and polls the record until a reviewer resolves the gate
func (c *Controller) waitForApproval(
	ctx context.Context, id api.RunID, res *Result,
) {
	_, err := c.Runs.Mutate(ctx, id, func(run *api.RunRecord) error {
		run.Checkpoint = res.Checkpoint
		return nil
	})
	if err == nil {
		_, err = c.Runs.Transition(ctx, id, api.RunWaitingHITL)
	}
	if err != nil {
		c.fail(ctx, id, err)
		return
	}

	interval := c.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		run, err := c.Runs.Get(ctx, id)
		if err != nil {
			c.Logger.Error("poll failed", log.RunID(id), log.Error(err))
			return
		}
		switch run.Status {
		case api.RunWaitingHITL:
			continue
		case api.RunRunning:
			c.resume(ctx, id, run, res)
			return
		default:
			// cancelled or otherwise settled by someone else
			c.append(ctx, id, api.NewEvent(api.EventSummary,
				api.NodeRuntime,
				"run "+strings.ToLower(string(run.Status)), nil))
			return
		}
	}
}

// resume executes the deferred export from the checkpoint, then closes
// out the run
func (c *Controller) resume(
	ctx context.Context, id api.RunID, run *api.RunRecord, res *Result,
) {
	node := res.Deferred
	c.append(ctx, id, api.NewEvent(api.EventAction, node.ID, "started",
		api.Detail{
			"type":    string(node.Type),
			"resumed": true,
		}))
	out, err := c.Steps.ExportTable(ctx, &StepRequest{
		Inputs: map[string]any{
			"merged_path": run.Checkpoint.MergedPath,
		},
		Node:  node,
		RunID: id,
	})
	if err != nil {
		c.append(ctx, id, api.NewEvent(api.EventSummary, node.ID,
			"failed: "+err.Error(), api.Detail{"error": err.Error()}))
		c.fail(ctx, id, err)
		return
	}
	c.append(ctx, id,
		api.NewEvent(api.EventObs, node.ID, out.ObsMessage, out.Obs))
	c.append(ctx, id,
		api.NewEvent(api.EventSummary, node.ID, "completed", nil))

	snapshot := res.Outputs.Snapshot()
	for k, v := range out.Out {
		snapshot[k] = v
	}
	c.finish(ctx, id, snapshot)
}

// finish records the artifact, emits the closing assistant summary, and
// lands the run in the succeeded state
func (c *Controller) finish(
	ctx context.Context, id api.RunID, outputs map[string]any,
) {
	artifactID, _ := outputs["artifact_id"].(string)
	if artifactID == "" {
		// best effort: the export step names artifacts by run prefix
		if found, ok, err := c.Steps.Store.FindByRun(ctx, id); err == nil && ok {
			artifactID = string(found)
		}
	}
	if artifactID != "" {
		_, err := c.Runs.Mutate(ctx, id, func(run *api.RunRecord) error {
			run.ArtifactID = api.ArtifactID(artifactID)
			return nil
		})
		if err != nil {
			c.Logger.Error("record artifact failed",
				log.RunID(id), log.Error(err))
		}
	}

	reply := c.summarize(ctx, outputs, artifactID)
	c.append(ctx, id,
		api.NewEvent(api.EventSummary, api.NodeAssistant, reply, nil))

	if _, err := c.Runs.Transition(ctx, id, api.RunSucceeded); err != nil {
		c.Logger.Error("close run failed", log.RunID(id), log.Error(err))
	}
}

func (c *Controller) fail(ctx context.Context, id api.RunID, cause error) {
	_, err := c.Runs.Mutate(ctx, id, func(run *api.RunRecord) error {
		if !run.Status.CanTransition(api.RunFailed) {
			return fmt.Errorf("%w: %s -> %s",
				api.ErrStatusConflict, run.Status, api.RunFailed)
		}
		run.End(api.RunFailed)
		run.Error = cause.Error()
		return nil
	})
	if err != nil {
		c.Logger.Error("record failure failed",
			log.RunID(id), log.Error(err))
	}
	c.Logger.Warn("run failed", log.RunID(id), log.Error(cause))
}

// summarize builds the closing reply: validation counts plus a few
// sample findings with short evidence snippets. The completion service
// gets a chance to phrase it; otherwise the local phrasing stands
func (c *Controller) summarize(
	ctx context.Context, outputs map[string]any, artifactID string,
) string {
	var sb strings.Builder
	report, _ := outputs["validation_report"].(*api.ValidationReport)
	if report != nil {
		fmt.Fprintf(&sb,
			"Validation finished: %d ok, %d warn, %d fail.",
			report.Summary.OK, report.Summary.Warn, report.Summary.Fail)
		shown := 0
		for _, item := range report.Items {
			if item.Status == api.ItemOK || shown >= summarySampleItems {
				continue
			}
			shown++
			fmt.Fprintf(&sb, " [%s/%s %s", item.Dept, item.Policy,
				item.Status)
			if item.Status == api.ItemDiff {
				fmt.Fprintf(&sb, " expected %d found %d",
					item.Expected, item.Found)
			}
			if len(item.Evidence) > 0 {
				fmt.Fprintf(&sb, " %q",
					clip(item.Evidence[0].Snippet, summarySnippetChars))
			}
			sb.WriteString("]")
		}
	} else {
		sb.WriteString("Run finished.")
	}
	if artifactID != "" {
		fmt.Fprintf(&sb, " Artifact %s is ready for download.", artifactID)
	}
	local := sb.String()

	if c.Assistant == nil {
		return local
	}
	reply, err := c.Assistant.Reply(ctx,
		"Summarize this pipeline result for the user: "+local)
	if err != nil || strings.TrimSpace(reply) == "" {
		return local
	}
	return reply
}

func clip(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}

// append compacts, persists, and mirrors one event
func (c *Controller) append(
	ctx context.Context, id api.RunID, ev *api.RunEvent,
) {
	stored, err := c.Runs.AppendEvent(ctx, id, c.compact(ev))
	if err != nil {
		c.Logger.Error("append event failed",
			log.RunID(id), log.Error(err))
		return
	}
	if c.Sink != nil {
		c.Sink.Publish(id, stored)
	}
}
