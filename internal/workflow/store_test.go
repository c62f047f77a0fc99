package workflow_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nOOne-is-hier/AgentFlow/internal/workflow"
	"github.com/nOOne-is-hier/AgentFlow/pkg/api"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *workflow.Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return workflow.New(client, "test")
}

func sampleWorkflow(id api.WorkflowID) *api.Workflow {
	return &api.Workflow{
		ID:   id,
		Name: "sample",
		Nodes: []*api.Node{
			{ID: "v", Type: api.NodeValidateDoc},
		},
	}
}

func TestSaveAndGet(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	wf := sampleWorkflow("wf-1")
	require.NoError(t, s.Save(ctx, wf))
	assert.False(t, wf.CreatedAt.IsZero())
	assert.False(t, wf.UpdatedAt.IsZero())

	got, err := s.Get(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "sample", got.Name)
	require.Len(t, got.Nodes, 1)

	_, err = s.Get(ctx, "wf-2")
	assert.ErrorIs(t, err, workflow.ErrNotFound)
}

func TestSaveRejectsInvalid(t *testing.T) {
	s := testStore(t)
	err := s.Save(context.Background(), &api.Workflow{ID: ""})
	assert.ErrorIs(t, err, api.ErrWorkflowIDEmpty)
}

func TestListNewestFirst(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	first := sampleWorkflow("wf-a")
	first.UpdatedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, s.Save(ctx, first))
	require.NoError(t, s.Save(ctx, sampleWorkflow("wf-b")))

	// saving stamps UpdatedAt, so wf-b is newest
	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, api.WorkflowID("wf-b"), all[0].ID)
	assert.True(t,
		!all[0].UpdatedAt.Before(all[1].UpdatedAt))
}

func TestFileIndex(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddFile(ctx, &api.FileInfo{
		ID:         "file-1",
		Name:       "report.txt",
		Type:       "text/plain",
		Key:        "uploads/file-1",
		Size:       42,
		UploadedAt: time.Now().UTC().Add(-time.Minute),
	}))
	require.NoError(t, s.AddFile(ctx, &api.FileInfo{
		ID:         "file-2",
		Name:       "q3.csv",
		Type:       "text/csv",
		Size:       10,
		UploadedAt: time.Now().UTC(),
	}))

	got, err := s.GetFile(ctx, "file-1")
	require.NoError(t, err)
	assert.Equal(t, "report.txt", got.Name)

	all, err := s.Files(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "file-2", all[0].ID)

	_, err = s.GetFile(ctx, "file-9")
	assert.ErrorIs(t, err, workflow.ErrFileNotFound)
}
