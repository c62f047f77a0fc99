package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nOOne-is-hier/AgentFlow/internal/engine"
	"github.com/nOOne-is-hier/AgentFlow/internal/runstore"
	"github.com/nOOne-is-hier/AgentFlow/pkg/api"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeReplier struct {
	reply string
	err   error
}

func (f *fakeReplier) Reply(context.Context, string) (string, error) {
	return f.reply, f.err
}

func testController(t *testing.T) *engine.Controller {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	steps, _ := pipelineSteps(t)
	return &engine.Controller{
		Runs:  runstore.New(client, "test"),
		Steps: steps,
		Executor: &engine.Executor{
			Registry: steps.Registry(),
			Logger:   testLogger(),
		},
		Logger:       testLogger(),
		PollInterval: 10 * time.Millisecond,
	}
}

func waitForStatus(
	t *testing.T, c *engine.Controller, id api.RunID, want api.RunStatus,
) *api.RunRecord {
	t.Helper()
	var run *api.RunRecord
	require.Eventually(t, func() bool {
		var err error
		run, err = c.Runs.Get(context.Background(), id)
		return err == nil && run.Status == want
	}, 5*time.Second, 10*time.Millisecond, "waiting for %s", want)
	return run
}

func TestRunLifecycleWithApproval(t *testing.T) {
	c := testController(t)
	ctx := context.Background()

	run, err := c.StartRun(ctx, pipelineWorkflow())
	require.NoError(t, err)
	assert.Equal(t, api.RunPlanning, run.Status)

	started, err := c.EnsureStarted(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, api.RunRunning, started.Status)

	waitForStatus(t, c, run.RunID, api.RunWaitingHITL)

	// checkpoint persisted before the wait
	rec, err := c.Runs.Get(ctx, run.RunID)
	require.NoError(t, err)
	require.NotNil(t, rec.Checkpoint)
	assert.NotEmpty(t, rec.Checkpoint.MergedPath)
	require.NotNil(t, rec.Checkpoint.Report)

	rec, err = c.Continue(ctx, run.RunID, true, "looks good")
	require.NoError(t, err)
	assert.Equal(t, api.RunRunning, rec.Status)

	final := waitForStatus(t, c, run.RunID, api.RunSucceeded)
	assert.NotEmpty(t, final.ArtifactID)
	require.NotNil(t, final.EndedAt)

	_, _, err = c.Steps.Store.LoadArtifact(ctx, final.ArtifactID)
	require.NoError(t, err)

	evs, err := c.Runs.Events(ctx, run.RunID, 0)
	require.NoError(t, err)
	require.NotEmpty(t, evs)

	var prev int64
	msgs := map[string]bool{}
	for _, ev := range evs {
		require.Greater(t, ev.Seq, prev)
		prev = ev.Seq
		msgs[ev.Message] = true
	}
	assert.True(t, msgs[api.MsgStateCheckpoint])
	assert.True(t, msgs[api.MsgHITLSignal])
	assert.True(t, msgs["approval received"])

	last := evs[len(evs)-1]
	assert.Equal(t, api.NodeAssistant, last.NodeID)
	assert.Contains(t, last.Message, "Validation finished")
	assert.Contains(t, last.Message, "Artifact art-")
}

func TestRunRejection(t *testing.T) {
	c := testController(t)
	ctx := context.Background()

	run, err := c.StartRun(ctx, pipelineWorkflow())
	require.NoError(t, err)
	_, err = c.EnsureStarted(ctx, run.RunID)
	require.NoError(t, err)
	waitForStatus(t, c, run.RunID, api.RunWaitingHITL)

	rec, err := c.Continue(ctx, run.RunID, false, "numbers are off")
	require.NoError(t, err)
	assert.Equal(t, api.RunCancelled, rec.Status)

	final := waitForStatus(t, c, run.RunID, api.RunCancelled)
	assert.Empty(t, final.ArtifactID)

	// no artifact was produced
	_, ok, err := c.Steps.Store.FindByRun(ctx, run.RunID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestContinueIsNoOpOutsideWait(t *testing.T) {
	c := testController(t)
	ctx := context.Background()

	run, err := c.StartRun(ctx, pipelineWorkflow())
	require.NoError(t, err)

	// still planning: nothing changes
	rec, err := c.Continue(ctx, run.RunID, true, "")
	require.NoError(t, err)
	assert.Equal(t, api.RunPlanning, rec.Status)

	_, err = c.Continue(ctx, "no-such-run", true, "")
	assert.ErrorIs(t, err, api.ErrRunNotFound)
}

func TestRunFailureRecordsError(t *testing.T) {
	c := testController(t)
	ctx := context.Background()

	wf := &api.Workflow{
		ID: "wf-broken",
		Nodes: []*api.Node{
			{ID: "p1", Type: api.NodeParseDoc,
				Config: api.Config{"file_id": "absent.txt"}},
		},
	}
	run, err := c.StartRun(ctx, wf)
	require.NoError(t, err)
	_, err = c.EnsureStarted(ctx, run.RunID)
	require.NoError(t, err)

	final := waitForStatus(t, c, run.RunID, api.RunFailed)
	assert.Contains(t, final.Error, "absent.txt")
	require.NotNil(t, final.EndedAt)

	evs, err := c.Runs.Events(ctx, run.RunID, 0)
	require.NoError(t, err)
	last := evs[len(evs)-1]
	assert.Equal(t, api.EventSummary, last.Type)
	assert.Contains(t, last.Message, "failed")
}

func TestStartRunRejectsInvalidWorkflow(t *testing.T) {
	c := testController(t)
	_, err := c.StartRun(context.Background(), &api.Workflow{
		ID:    "wf-bad",
		Nodes: []*api.Node{{ID: "", Type: api.NodeParseDoc}},
	})
	assert.ErrorIs(t, err, api.ErrNodeIDEmpty)
}

func TestAssistantReplyOverridesLocalSummary(t *testing.T) {
	c := testController(t)
	c.Assistant = &fakeReplier{reply: "All clear, download when ready."}
	ctx := context.Background()

	run, err := c.StartRun(ctx, pipelineWorkflow())
	require.NoError(t, err)
	_, err = c.EnsureStarted(ctx, run.RunID)
	require.NoError(t, err)
	waitForStatus(t, c, run.RunID, api.RunWaitingHITL)
	_, err = c.Continue(ctx, run.RunID, true, "")
	require.NoError(t, err)
	waitForStatus(t, c, run.RunID, api.RunSucceeded)

	evs, err := c.Runs.Events(ctx, run.RunID, 0)
	require.NoError(t, err)
	last := evs[len(evs)-1]
	assert.Equal(t, api.NodeAssistant, last.NodeID)
	assert.Equal(t, "All clear, download when ready.", last.Message)
}

func TestCloseStopsWaitingRun(t *testing.T) {
	c := testController(t)
	ctx := context.Background()

	run, err := c.StartRun(ctx, pipelineWorkflow())
	require.NoError(t, err)
	_, err = c.EnsureStarted(ctx, run.RunID)
	require.NoError(t, err)
	waitForStatus(t, c, run.RunID, api.RunWaitingHITL)

	done := make(chan struct{})
	go func() {
		c.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("close did not stop the waiting run goroutine")
	}

	// the record keeps its waiting state for a later decision
	rec, err := c.Runs.Get(ctx, run.RunID)
	require.NoError(t, err)
	assert.Equal(t, api.RunWaitingHITL, rec.Status)
}

func TestCloseInterruptsRunningPass(t *testing.T) {
	c := testController(t)
	ctx := context.Background()

	run, err := c.StartRun(ctx, pipelineWorkflow())
	require.NoError(t, err)
	_, err = c.EnsureStarted(ctx, run.RunID)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		c.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("close did not stop the execution goroutine")
	}
}

func TestRepairEdges(t *testing.T) {
	wf := &api.Workflow{
		ID: "wf-repair",
		Nodes: []*api.Node{
			{ID: "v", Type: api.NodeValidateDoc},
			{ID: "x", Type: api.NodeExportTable},
			{ID: "m", Type: api.NodeMergeTables},
		},
		Edges: []*api.Edge{{From: "m", To: "v"}},
	}
	added := engine.RepairEdges(wf)
	assert.Equal(t, 1, added)
	assert.True(t, wf.HasEdge("v", "x"))
	// the existing edge is left alone, not duplicated
	assert.Len(t, wf.Edges, 2)

	// nothing to do on a complete graph
	assert.Zero(t, engine.RepairEdges(wf))
}
