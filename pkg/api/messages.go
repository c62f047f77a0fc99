package api

import "time"

type (
	// ErrorResponse is the standard error payload for HTTP handlers
	ErrorResponse struct {
		Error  string `json:"error"`
		Status int    `json:"status"`
	}

	// MessageResponse is a simple informational payload
	MessageResponse struct {
		Message string `json:"message"`
	}

	// ExecuteRequest asks for a new run of a persisted workflow
	ExecuteRequest struct {
		WorkflowID WorkflowID `json:"workflowId"`
	}

	// ExecuteResponse returns the identifier of the created run
	ExecuteResponse struct {
		RunID RunID `json:"runId"`
	}

	// ContinueRequest carries the human approval decision for a run that
	// is waiting at the HITL pause point
	ContinueRequest struct {
		Comment string `json:"comment,omitempty"`
		Approve bool   `json:"approve"`
	}

	// ContinueResponse reports the run status after the decision was
	// applied (or the unchanged status when the call was a no-op)
	ContinueResponse struct {
		Status RunStatus `json:"status"`
	}

	// FileInfo describes one stored upload
	FileInfo struct {
		UploadedAt time.Time `json:"uploadedAt"`
		ID         string    `json:"id"`
		Name       string    `json:"name"`
		Type       string    `json:"type"`
		Key        string    `json:"key"`
		Size       int64     `json:"size"`
	}

	// FilesResponse lists stored uploads
	FilesResponse struct {
		Files []*FileInfo `json:"files"`
	}

	// ChatTurnRequest asks the composition step to build a pipeline from
	// uploaded files
	ChatTurnRequest struct {
		Message string   `json:"message"`
		FileIDs []string `json:"fileIds"`
	}

	// ChatTurnResponse carries the assistant text and the graph patch
	// that realizes the requested pipeline
	ChatTurnResponse struct {
		ToT       map[string]any `json:"tot"`
		Assistant string         `json:"assistant"`
		Patch     GraphPatch     `json:"graphPatch"`
	}

	// WorkflowSavedResponse is returned when a workflow is persisted
	WorkflowSavedResponse struct {
		ID WorkflowID `json:"id"`
	}

	// QuickstartResponse summarizes a freshly composed workflow
	QuickstartResponse struct {
		ID    WorkflowID `json:"id"`
		Nodes int        `json:"nodes"`
		Edges int        `json:"edges"`
	}

	// HealthResponse provides service health information
	HealthResponse struct {
		Service string `json:"service"`
		Status  string `json:"status"`
	}
)
