package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	"github.com/nOOne-is-hier/AgentFlow/internal/workflow"
	"github.com/nOOne-is-hier/AgentFlow/pkg/api"
	"github.com/nOOne-is-hier/AgentFlow/pkg/log"
)

// executePipeline creates a run of a persisted workflow. The run stays
// in the planning state until the first event stream attaches
func (s *Server) executePipeline(c *gin.Context) {
	var req api.ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errResponse(c, http.StatusBadRequest, err)
		return
	}
	wf, err := s.workflows.Get(c.Request.Context(), req.WorkflowID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, workflow.ErrNotFound) {
			status = http.StatusNotFound
		}
		errResponse(c, status, err)
		return
	}
	run, err := s.controller.StartRun(c.Request.Context(), wf)
	if err != nil {
		errResponse(c, http.StatusBadRequest, err)
		return
	}
	c.JSON(http.StatusCreated, api.ExecuteResponse{
		RunID: run.RunID,
	})
}

func (s *Server) getRun(c *gin.Context) {
	id := api.RunID(c.Param("runID"))
	run, err := s.controller.Runs.Get(c.Request.Context(), id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, api.ErrRunNotFound) {
			status = http.StatusNotFound
		}
		errResponse(c, status, err)
		return
	}
	c.JSON(http.StatusOK, run)
}

// continueRun applies the reviewer's decision to a waiting run. Outside
// the waiting state the call reports the current status unchanged
func (s *Server) continueRun(c *gin.Context) {
	id := api.RunID(c.Param("runID"))
	var req api.ContinueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errResponse(c, http.StatusBadRequest, err)
		return
	}
	run, err := s.controller.Continue(
		c.Request.Context(), id, req.Approve, req.Comment,
	)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, api.ErrRunNotFound) {
			status = http.StatusNotFound
		}
		errResponse(c, status, err)
		return
	}
	c.JSON(http.StatusOK, api.ContinueResponse{
		Status: run.Status,
	})
}

// streamEvents serves the run's event log over SSE. The first attach
// starts execution; the stream replays logged events, follows live
// ones, and closes once the run settles
func (s *Server) streamEvents(c *gin.Context) {
	id := api.RunID(c.Param("runID"))
	ctx := c.Request.Context()

	run, err := s.controller.EnsureStarted(ctx, id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, api.ErrRunNotFound) {
			status = http.StatusNotFound
		}
		errResponse(c, status, err)
		return
	}

	c.Writer.Header().Set("Content-Type", sse.ContentType)
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	var afterSeq int64
	settled := run.Status.IsTerminal()
	ticker := time.NewTicker(s.poll)
	defer ticker.Stop()
	for {
		evs, err := s.controller.Runs.Events(ctx, id, afterSeq)
		if err != nil {
			s.logger.Error("event replay failed",
				log.RunID(id), log.Error(err))
			return
		}
		for _, ev := range evs {
			afterSeq = ev.Seq
			if err := sse.Encode(c.Writer, sse.Event{
				Id:    strconv.FormatInt(ev.Seq, 10),
				Event: string(ev.Type),
				Data:  ev,
			}); err != nil {
				return
			}
		}
		if len(evs) > 0 {
			c.Writer.Flush()
		}
		if settled && len(evs) == 0 {
			return
		}

		run, err = s.controller.Runs.Get(ctx, id)
		if err != nil {
			return
		}
		settled = run.Status.IsTerminal()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
