package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nOOne-is-hier/AgentFlow/internal/workflow"
	"github.com/nOOne-is-hier/AgentFlow/pkg/api"
)

func (s *Server) listWorkflows(c *gin.Context) {
	all, err := s.workflows.List(c.Request.Context())
	if err != nil {
		errResponse(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, all)
}

func (s *Server) getWorkflow(c *gin.Context) {
	id := api.WorkflowID(c.Param("workflowID"))
	wf, err := s.workflows.Get(c.Request.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, workflow.ErrNotFound) {
			status = http.StatusNotFound
		}
		errResponse(c, status, err)
		return
	}
	c.JSON(http.StatusOK, wf)
}

func (s *Server) saveWorkflow(c *gin.Context) {
	var wf api.Workflow
	if err := c.ShouldBindJSON(&wf); err != nil {
		errResponse(c, http.StatusBadRequest, err)
		return
	}
	if err := s.workflows.Save(c.Request.Context(), &wf); err != nil {
		errResponse(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusOK, api.WorkflowSavedResponse{
		ID: wf.ID,
	})
}

// quickstart composes a ready-to-run validation pipeline over every
// stored upload and persists it
func (s *Server) quickstart(c *gin.Context) {
	ctx := c.Request.Context()
	files, err := s.workflows.Files(ctx)
	if err != nil {
		errResponse(c, http.StatusInternalServerError, err)
		return
	}
	wf, err := workflow.BuildPipeline("quickstart", files)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, workflow.ErrNoUsableFiles) {
			status = http.StatusBadRequest
		}
		errResponse(c, status, err)
		return
	}
	if err := s.workflows.Save(ctx, wf); err != nil {
		errResponse(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, api.QuickstartResponse{
		ID:    wf.ID,
		Nodes: len(wf.Nodes),
		Edges: len(wf.Edges),
	})
}

// chatTurn composes a pipeline graph patch from the referenced uploads
// and phrases what it will do
func (s *Server) chatTurn(c *gin.Context) {
	var req api.ChatTurnRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errResponse(c, http.StatusBadRequest, err)
		return
	}
	ctx := c.Request.Context()

	var files []*api.FileInfo
	if len(req.FileIDs) == 0 {
		all, err := s.workflows.Files(ctx)
		if err != nil {
			errResponse(c, http.StatusInternalServerError, err)
			return
		}
		files = all
	} else {
		for _, id := range req.FileIDs {
			info, err := s.workflows.GetFile(ctx, id)
			if err != nil {
				status := http.StatusInternalServerError
				if errors.Is(err, workflow.ErrFileNotFound) {
					status = http.StatusNotFound
				}
				errResponse(c, status, err)
				return
			}
			files = append(files, info)
		}
	}

	patch, err := workflow.Compose(files)
	if err != nil {
		errResponse(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusOK, api.ChatTurnResponse{
		ToT: map[string]any{
			"files":    len(files),
			"addNodes": len(patch.AddNodes),
			"addEdges": len(patch.AddEdges),
		},
		Assistant: workflow.Describe(patch),
		Patch:     *patch,
	})
}
