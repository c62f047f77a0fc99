package workflow

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/nOOne-is-hier/AgentFlow/pkg/api"
)

// ErrNoUsableFiles is returned when composition is asked to build a
// pipeline from files it cannot place in any node
var ErrNoUsableFiles = errors.New("no usable files for a pipeline")

var docExts = map[string]bool{
	".pdf": true,
	".txt": true,
}

var tableExts = map[string]bool{
	".csv":  true,
	".xlsx": true,
}

// Compose builds the graph patch for a validation pipeline over the
// given uploads: parse and index nodes per document, one merge node
// over the tabular files, then validation and export
func Compose(files []*api.FileInfo) (*api.GraphPatch, error) {
	var docs, tables []*api.FileInfo
	for _, f := range files {
		ext := strings.ToLower(path.Ext(f.Name))
		switch {
		case docExts[ext]:
			docs = append(docs, f)
		case tableExts[ext]:
			tables = append(tables, f)
		}
	}
	if len(docs) == 0 && len(tables) == 0 {
		return nil, ErrNoUsableFiles
	}

	patch := &api.GraphPatch{}
	addEdge := func(from, to api.NodeID) {
		patch.AddEdges = append(patch.AddEdges, api.Edge{From: from, To: to})
	}

	var lastIndex api.NodeID
	for i, doc := range docs {
		parseID := api.NodeID(fmt.Sprintf("parse%d", i+1))
		indexID := api.NodeID(fmt.Sprintf("index%d", i+1))
		patch.AddNodes = append(patch.AddNodes,
			&api.Node{
				ID:     parseID,
				Type:   api.NodeParseDoc,
				Label:  "Parse " + doc.Name,
				Config: api.Config{"file_id": doc.ID},
			},
			&api.Node{
				ID:    indexID,
				Type:  api.NodeIndexDoc,
				Label: "Index " + doc.Name,
			})
		addEdge(parseID, indexID)
		if lastIndex != "" {
			addEdge(lastIndex, parseID)
		}
		lastIndex = indexID
	}

	if len(tables) == 0 {
		return patch, nil
	}

	fileIDs := make([]any, len(tables))
	names := make([]string, len(tables))
	for i, f := range tables {
		fileIDs[i] = f.ID
		names[i] = f.Name
	}
	patch.AddNodes = append(patch.AddNodes,
		&api.Node{
			ID:     "merge1",
			Type:   api.NodeMergeTables,
			Label:  "Merge " + strings.Join(names, ", "),
			Config: api.Config{"file_ids": fileIDs},
		},
		&api.Node{
			ID:    "validate1",
			Type:  api.NodeValidateDoc,
			Label: "Cross-validate",
		},
		&api.Node{
			ID:     "export1",
			Type:   api.NodeExportTable,
			Label:  "Export report",
			Config: api.Config{"filename": "merged_report.xlsx"},
		})
	if lastIndex != "" {
		addEdge(lastIndex, "merge1")
	}
	addEdge("merge1", "validate1")
	addEdge("validate1", "export1")
	return patch, nil
}

// Apply folds a graph patch into a workflow
func Apply(wf *api.Workflow, patch *api.GraphPatch) {
	for _, id := range patch.RemoveNodes {
		for i, n := range wf.Nodes {
			if n.ID == id {
				wf.Nodes = append(wf.Nodes[:i], wf.Nodes[i+1:]...)
				break
			}
		}
	}
	for _, rm := range patch.RemoveEdges {
		for i, e := range wf.Edges {
			if e.From == rm.From && e.To == rm.To {
				wf.Edges = append(wf.Edges[:i], wf.Edges[i+1:]...)
				break
			}
		}
	}
	wf.Nodes = append(wf.Nodes, patch.AddNodes...)
	for _, e := range patch.AddEdges {
		edge := e
		wf.Edges = append(wf.Edges, &edge)
	}
	for _, labels := range patch.UpdateLabels {
		for id, label := range labels {
			if n := wf.Node(api.NodeID(id)); n != nil {
				n.Label = label
			}
		}
	}
}

// BuildPipeline composes a complete, ready-to-run workflow from the
// given uploads
func BuildPipeline(name string, files []*api.FileInfo) (*api.Workflow, error) {
	patch, err := Compose(files)
	if err != nil {
		return nil, err
	}
	wf := &api.Workflow{
		ID:   api.WorkflowID(uuid.NewString()),
		Name: name,
	}
	Apply(wf, patch)
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	return wf, nil
}

// Describe phrases what a composed patch will do, for the chat reply
func Describe(patch *api.GraphPatch) string {
	var parts []string
	for _, n := range patch.AddNodes {
		switch n.Type {
		case api.NodeParseDoc:
			parts = append(parts, "parse the document")
		case api.NodeMergeTables:
			parts = append(parts, "merge the tables")
		case api.NodeValidateDoc:
			parts = append(parts, "cross-validate the totals")
		case api.NodeExportTable:
			parts = append(parts, "export the report")
		}
	}
	if len(parts) == 0 {
		return "No pipeline steps were composed."
	}
	return "I will " + strings.Join(parts, ", then ") + "."
}
