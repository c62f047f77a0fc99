package api

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

type (
	// WorkflowID is a unique identifier for a workflow
	WorkflowID string

	// NodeID is a unique identifier for a node within a workflow
	NodeID string

	// NodeType names a registered step kind
	NodeType string

	// Config holds arbitrary per-node configuration values
	Config map[string]any

	// Node is a single typed unit of work in a workflow graph
	Node struct {
		Config Config   `json:"config"`
		ID     NodeID   `json:"id"`
		Type   NodeType `json:"type"`
		Label  string   `json:"label"`
		In     []string `json:"in"`
		Out    []string `json:"out"`
	}

	// Edge is a directed connection between two nodes. Edges drive the
	// graph traversal policy and structural repair; the declared-order
	// policy ignores them
	Edge struct {
		From NodeID `json:"from"`
		To   NodeID `json:"to"`
	}

	// Workflow is the declarative representation of a pipeline
	Workflow struct {
		ID        WorkflowID `json:"id"`
		Name      string     `json:"name"`
		Nodes     []*Node    `json:"nodes"`
		Edges     []*Edge    `json:"edges"`
		CreatedAt time.Time  `json:"createdAt"`
		UpdatedAt time.Time  `json:"updatedAt"`
	}

	// GraphPatch describes incremental changes to a workflow graph, as
	// produced by the pipeline composition endpoint
	GraphPatch struct {
		AddNodes     []*Node             `json:"addNodes,omitempty"`
		AddEdges     []Edge              `json:"addEdges,omitempty"`
		UpdateLabels []map[string]string `json:"updateLabels,omitempty"`
		RemoveNodes  []NodeID            `json:"removeNodes,omitempty"`
		RemoveEdges  []Edge              `json:"removeEdges,omitempty"`
	}
)

const (
	NodeParseDoc    NodeType = "parse_doc"
	NodeIndexDoc    NodeType = "index_doc"
	NodeMergeTables NodeType = "merge_tables"
	NodeValidateDoc NodeType = "validate_doc"
	NodeExportTable NodeType = "export_table"
)

var (
	ErrWorkflowIDEmpty = errors.New("workflow ID empty")
	ErrNodeIDEmpty     = errors.New("node ID empty")
	ErrDuplicateNodeID = errors.New("duplicate node ID")
	ErrEdgeUnknownNode = errors.New("edge references unknown node")
)

// InvalidIDChars matches characters not permitted in workflow and run IDs.
// Valid characters are: letters, digits, underscore, dot, hyphen, plus,
// space
var InvalidIDChars = regexp.MustCompile(`[^a-zA-Z0-9_.\-+ ]`)

// SanitizeID lowercases an ID, removes invalid characters, replaces spaces
// with hyphens, and trims leading and trailing hyphens
func SanitizeID[T ~string](id T) T {
	lower := strings.ToLower(string(id))
	sanitized := InvalidIDChars.ReplaceAllString(lower, "")
	sanitized = strings.ReplaceAll(sanitized, " ", "-")
	return T(strings.Trim(sanitized, "-"))
}

// Validate checks the structural invariants of a workflow: a non-empty ID,
// unique non-empty node IDs, and edges that reference declared nodes. Node
// types are deliberately not checked here; unknown types surface at
// execution time because workflow content is data, not code
func (w *Workflow) Validate() error {
	if w.ID == "" {
		return ErrWorkflowIDEmpty
	}

	seen := make(map[NodeID]struct{}, len(w.Nodes))
	for _, n := range w.Nodes {
		if n.ID == "" {
			return ErrNodeIDEmpty
		}
		if _, ok := seen[n.ID]; ok {
			return fmt.Errorf("%w: %s", ErrDuplicateNodeID, n.ID)
		}
		seen[n.ID] = struct{}{}
	}

	for _, e := range w.Edges {
		if _, ok := seen[e.From]; !ok {
			return fmt.Errorf("%w: %s", ErrEdgeUnknownNode, e.From)
		}
		if _, ok := seen[e.To]; !ok {
			return fmt.Errorf("%w: %s", ErrEdgeUnknownNode, e.To)
		}
	}
	return nil
}

// Node returns the node with the given ID, or nil if absent
func (w *Workflow) Node(id NodeID) *Node {
	for _, n := range w.Nodes {
		if n.ID == id {
			return n
		}
	}
	return nil
}

// NodeOfType returns the first node with the given type, or nil if absent
func (w *Workflow) NodeOfType(t NodeType) *Node {
	for _, n := range w.Nodes {
		if n.Type == t {
			return n
		}
	}
	return nil
}

// HasEdge reports whether the workflow declares an edge from one node to
// another
func (w *Workflow) HasEdge(from, to NodeID) bool {
	for _, e := range w.Edges {
		if e.From == from && e.To == to {
			return true
		}
	}
	return false
}

// GetString retrieves a string config value, returning defaultValue if not
// found or wrong type
func (c Config) GetString(key, defaultValue string) string {
	val, ok := c[key]
	if !ok {
		return defaultValue
	}
	str, ok := val.(string)
	if !ok {
		return defaultValue
	}
	return str
}

// GetInt retrieves an integer config value, returning defaultValue if not
// found or wrong type. Supports both int and float64 (converting from
// JSON numbers)
func (c Config) GetInt(key string, defaultValue int) int {
	val, ok := c[key]
	if !ok {
		return defaultValue
	}
	if i, ok := val.(int); ok {
		return i
	}
	if f, ok := val.(float64); ok {
		return int(f)
	}
	return defaultValue
}

// GetFloat retrieves a float config value, returning defaultValue if not
// found or wrong type
func (c Config) GetFloat(key string, defaultValue float64) float64 {
	val, ok := c[key]
	if !ok {
		return defaultValue
	}
	if f, ok := val.(float64); ok {
		return f
	}
	if i, ok := val.(int); ok {
		return float64(i)
	}
	return defaultValue
}

// GetStrings retrieves a string slice config value. JSON decoding yields
// []any, so both representations are accepted
func (c Config) GetStrings(key string) []string {
	val, ok := c[key]
	if !ok {
		return nil
	}
	if ss, ok := val.([]string); ok {
		return ss
	}
	raw, ok := val.([]any)
	if !ok {
		return nil
	}
	res := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			res = append(res, s)
		}
	}
	return res
}
