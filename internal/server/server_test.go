package server_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob/memblob"

	"github.com/nOOne-is-hier/AgentFlow/internal/artifact"
	"github.com/nOOne-is-hier/AgentFlow/internal/engine"
	"github.com/nOOne-is-hier/AgentFlow/internal/runstore"
	"github.com/nOOne-is-hier/AgentFlow/internal/searchindex"
	"github.com/nOOne-is-hier/AgentFlow/internal/server"
	"github.com/nOOne-is-hier/AgentFlow/internal/stream"
	"github.com/nOOne-is-hier/AgentFlow/internal/workflow"
	"github.com/nOOne-is-hier/AgentFlow/pkg/api"
)

const reportText = `Engineering budget total 4200 for Q3.

Marketing budget total 1900 approved in review.`

const budgetCSV = `dept,amount
Engineering,1200
Engineering,3000
Marketing,1800
`

type env struct {
	ts    *httptest.Server
	store *artifact.Store
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := artifact.NewStore(memblob.OpenBucket(nil))
	t.Cleanup(func() { _ = store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	steps := &engine.Steps{
		Store:  store,
		Index:  searchindex.NewLocal(),
		Parser: engine.NewTextParser(),
	}
	hub := stream.NewHub()
	t.Cleanup(hub.Close)
	controller := &engine.Controller{
		Runs:  runstore.New(client, "test"),
		Steps: steps,
		Executor: &engine.Executor{
			Registry: steps.Registry(),
			Logger:   logger,
		},
		Sink:         hub,
		Logger:       logger,
		PollInterval: 10 * time.Millisecond,
	}
	t.Cleanup(controller.Close)
	srv := server.NewServer(controller,
		workflow.New(client, "test"), store, hub, logger,
		10*time.Millisecond)

	ts := httptest.NewServer(srv.SetupRoutes())
	t.Cleanup(ts.Close)
	return &env{ts: ts, store: store}
}

func (e *env) postJSON(
	t *testing.T, path string, body any,
) (*http.Response, []byte) {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(
		e.ts.URL+path, "application/json", bytes.NewReader(raw))
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()
	return resp, data
}

func (e *env) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(e.ts.URL + path)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()
	return resp, data
}

func (e *env) upload(t *testing.T, name, content string) *api.FileInfo {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	resp, err := http.Post(
		e.ts.URL+"/files/upload", w.FormDataContentType(), &buf)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(data))

	var info api.FileInfo
	require.NoError(t, json.Unmarshal(data, &info))
	return &info
}

func (e *env) runStatus(t *testing.T, id string) api.RunStatus {
	t.Helper()
	resp, data := e.get(t, "/runs/"+id)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var run api.RunRecord
	require.NoError(t, json.Unmarshal(data, &run))
	return run.Status
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	resp, data := e.get(t, "/health")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health api.HealthResponse
	require.NoError(t, json.Unmarshal(data, &health))
	assert.Equal(t, "ok", health.Status)
	assert.Equal(t, "agentflow", health.Service)
}

func TestUploadValidation(t *testing.T) {
	e := newEnv(t)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", "image.png")
	require.NoError(t, err)
	_, _ = fw.Write([]byte("png-bytes"))
	require.NoError(t, w.Close())

	resp, err := http.Post(
		e.ts.URL+"/files/upload", w.FormDataContentType(), &buf)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUploadAndList(t *testing.T) {
	e := newEnv(t)
	info := e.upload(t, "report.txt", reportText)
	assert.NotEmpty(t, info.ID)
	assert.Equal(t, "report.txt", info.Name)
	assert.EqualValues(t, len(reportText), info.Size)

	resp, data := e.get(t, "/files")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var files api.FilesResponse
	require.NoError(t, json.Unmarshal(data, &files))
	require.Len(t, files.Files, 1)
	assert.Equal(t, info.ID, files.Files[0].ID)
}

func TestChatTurnComposesPipeline(t *testing.T) {
	e := newEnv(t)
	doc := e.upload(t, "report.txt", reportText)
	table := e.upload(t, "q3.csv", budgetCSV)

	resp, data := e.postJSON(t, "/chat/turn", api.ChatTurnRequest{
		Message: "validate the budget",
		FileIDs: []string{doc.ID, table.ID},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))

	var turn api.ChatTurnResponse
	require.NoError(t, json.Unmarshal(data, &turn))
	assert.Len(t, turn.Patch.AddNodes, 5)
	assert.NotEmpty(t, turn.Assistant)
	assert.EqualValues(t, 2, turn.ToT["files"])
}

func TestChatTurnNoUsableFiles(t *testing.T) {
	e := newEnv(t)
	resp, _ := e.postJSON(t, "/chat/turn", api.ChatTurnRequest{
		Message: "anything",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSaveWorkflowValidation(t *testing.T) {
	e := newEnv(t)
	resp, _ := e.postJSON(t, "/workflows", &api.Workflow{
		ID:    "wf-1",
		Nodes: []*api.Node{{ID: "a"}, {ID: "a"}},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = e.postJSON(t, "/workflows", &api.Workflow{
		ID:    "wf-1",
		Nodes: []*api.Node{{ID: "a", Type: api.NodeValidateDoc}},
	})
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, data := e.get(t, "/workflows/wf-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var wf api.Workflow
	require.NoError(t, json.Unmarshal(data, &wf))
	assert.Len(t, wf.Nodes, 1)

	resp, _ = e.get(t, "/workflows/wf-9")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExecuteUnknownWorkflow(t *testing.T) {
	e := newEnv(t)
	resp, _ := e.postJSON(t, "/pipeline/execute", api.ExecuteRequest{
		WorkflowID: "wf-missing",
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRunNotFound(t *testing.T) {
	e := newEnv(t)
	resp, _ := e.get(t, "/runs/no-such-run")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = e.postJSON(t, "/runs/no-such-run/continue",
		api.ContinueRequest{Approve: true})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestArtifactNotFound(t *testing.T) {
	e := newEnv(t)
	resp, _ := e.get(t, "/artifacts/art-missing1")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestContinueBeforeWaitIsNoOp(t *testing.T) {
	e := newEnv(t)
	e.upload(t, "report.txt", reportText)
	e.upload(t, "q3.csv", budgetCSV)

	resp, data := e.postJSON(t, "/workflows/quickstart", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var qs api.QuickstartResponse
	require.NoError(t, json.Unmarshal(data, &qs))

	resp, data = e.postJSON(t, "/pipeline/execute",
		api.ExecuteRequest{WorkflowID: qs.ID})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var exec api.ExecuteResponse
	require.NoError(t, json.Unmarshal(data, &exec))

	// still planning: the decision is a no-op
	resp, data = e.postJSON(t,
		fmt.Sprintf("/runs/%s/continue", exec.RunID),
		api.ContinueRequest{Approve: true})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var cont api.ContinueResponse
	require.NoError(t, json.Unmarshal(data, &cont))
	assert.Equal(t, api.RunPlanning, cont.Status)
}

func TestPipelineOverHTTP(t *testing.T) {
	e := newEnv(t)
	e.upload(t, "report.txt", reportText)
	e.upload(t, "q3.csv", budgetCSV)

	resp, data := e.postJSON(t, "/workflows/quickstart", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(data))
	var qs api.QuickstartResponse
	require.NoError(t, json.Unmarshal(data, &qs))
	assert.Equal(t, 5, qs.Nodes)

	resp, data = e.postJSON(t, "/pipeline/execute",
		api.ExecuteRequest{WorkflowID: qs.ID})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var exec api.ExecuteResponse
	require.NoError(t, json.Unmarshal(data, &exec))
	runID := string(exec.RunID)

	// approve once the run reaches the gate
	go func() {
		deadline := time.Now().Add(10 * time.Second)
		for time.Now().Before(deadline) {
			resp, err := http.Get(e.ts.URL + "/runs/" + runID)
			if err != nil {
				return
			}
			var run api.RunRecord
			_ = json.NewDecoder(resp.Body).Decode(&run)
			_ = resp.Body.Close()
			if run.Status == api.RunWaitingHITL {
				raw, _ := json.Marshal(api.ContinueRequest{
					Approve: true, Comment: "ship it",
				})
				r2, err := http.Post(
					e.ts.URL+"/runs/"+runID+"/continue",
					"application/json", bytes.NewReader(raw))
				if err == nil {
					_ = r2.Body.Close()
				}
				return
			}
			time.Sleep(20 * time.Millisecond)
		}
	}()

	// the stream attaches, starts execution, and closes at terminal
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		e.ts.URL+"/runs/"+runID+"/events", nil)
	require.NoError(t, err)
	sresp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = sresp.Body.Close() }()
	require.Equal(t, http.StatusOK, sresp.StatusCode)
	assert.Contains(t,
		sresp.Header.Get("Content-Type"), "text/event-stream")

	var ids, eventNames, datas []string
	scanner := bufio.NewScanner(sresp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "id:"):
			ids = append(ids, strings.TrimSpace(line[3:]))
		case strings.HasPrefix(line, "event:"):
			eventNames = append(eventNames, strings.TrimSpace(line[6:]))
		case strings.HasPrefix(line, "data:"):
			datas = append(datas, strings.TrimSpace(line[5:]))
		}
	}
	require.NoError(t, scanner.Err())
	require.NotEmpty(t, eventNames)
	assert.Equal(t, string(api.EventPlan), eventNames[0])
	assert.Contains(t, eventNames, string(api.EventObs))
	assert.Len(t, ids, len(eventNames))
	assert.Len(t, datas, len(eventNames))

	var sawSignal bool
	for _, d := range datas {
		var ev api.RunEvent
		require.NoError(t, json.Unmarshal([]byte(d), &ev))
		if ev.Message == api.MsgHITLSignal {
			sawSignal = true
		}
	}
	assert.True(t, sawSignal)

	assert.Equal(t, api.RunSucceeded, e.runStatus(t, runID))

	resp, data = e.get(t, "/runs/"+runID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var run api.RunRecord
	require.NoError(t, json.Unmarshal(data, &run))
	require.NotEmpty(t, run.ArtifactID)

	aresp, adata := e.get(t, "/artifacts/"+string(run.ArtifactID))
	require.Equal(t, http.StatusOK, aresp.StatusCode)
	assert.NotEmpty(t, adata)
	assert.Contains(t,
		aresp.Header.Get("Content-Disposition"), "merged_report.xlsx")
}
