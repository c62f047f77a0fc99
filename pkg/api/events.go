package api

import "time"

type (
	// EventType classifies a run event
	EventType string

	// Detail holds arbitrary structured payload attached to an event
	Detail map[string]any

	// RunEvent is one entry of a run's append-only event log. Seq is
	// assigned at the transport boundary, not by the engine
	RunEvent struct {
		Detail    Detail    `json:"detail,omitempty"`
		Compact   *Compact  `json:"__compact__,omitempty"`
		Timestamp time.Time `json:"ts"`
		NodeID    NodeID    `json:"nodeId"`
		Message   string    `json:"message"`
		Type      EventType `json:"type"`
		Seq       int64     `json:"seq,omitempty"`
	}

	// Compact records which compaction rules fired for an event. It is
	// attached only when at least one rule actually fired
	Compact struct {
		Notes   []string `json:"notes"`
		Applied bool     `json:"applied"`
	}

	// ListMeta describes a truncated list field after compaction
	ListMeta struct {
		Total     int  `json:"total"`
		Shown     int  `json:"shown"`
		Truncated bool `json:"truncated"`
	}
)

const (
	EventPlan    EventType = "PLAN"
	EventAction  EventType = "ACTION"
	EventObs     EventType = "OBS"
	EventSummary EventType = "SUMMARY"
)

// Synthetic node IDs used for events not attributable to a workflow node
const (
	NodePlan      NodeID = "plan"
	NodeHITL      NodeID = "hitl"
	NodeExport    NodeID = "export"
	NodeRuntime   NodeID = "runtime"
	NodeAssistant NodeID = "assistant"
)

// Messages used as machine-readable markers inside OBS events. The HITL
// protocol between the graph engine and the run controller is carried by
// these two, in order: a checkpoint with resume state, then the wait
// signal
const (
	MsgStateCheckpoint = "STATE_CHECKPOINT"
	MsgHITLSignal      = "HITL_SIGNAL"
	MsgExportDeferred  = "EXPORT_DEFERRED"
)

// NewEvent creates a run event stamped with the current time
func NewEvent(
	t EventType, nodeID NodeID, msg string, detail Detail,
) *RunEvent {
	if detail == nil {
		detail = Detail{}
	}
	return &RunEvent{
		Type:      t,
		NodeID:    nodeID,
		Message:   msg,
		Detail:    detail,
		Timestamp: time.Now().UTC(),
	}
}
