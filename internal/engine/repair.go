package engine

import "github.com/nOOne-is-hier/AgentFlow/pkg/api"

// mandatoryEdges are the node-type successions a well-formed validation
// pipeline must wire. Hand-built graphs tend to drop one of these
var mandatoryEdges = [][2]api.NodeType{
	{api.NodeParseDoc, api.NodeIndexDoc},
	{api.NodeIndexDoc, api.NodeMergeTables},
	{api.NodeMergeTables, api.NodeValidateDoc},
	{api.NodeValidateDoc, api.NodeExportTable},
}

// RepairEdges inserts any missing mandatory edge between node types
// that are both present in the workflow. Existing edges between the
// types, in any instance pairing, satisfy the requirement
func RepairEdges(wf *api.Workflow) int {
	added := 0
	for _, pair := range mandatoryEdges {
		from := wf.NodeOfType(pair[0])
		to := wf.NodeOfType(pair[1])
		if from == nil || to == nil {
			continue
		}
		if hasTypeEdge(wf, pair[0], pair[1]) {
			continue
		}
		wf.Edges = append(wf.Edges, &api.Edge{From: from.ID, To: to.ID})
		added++
	}
	return added
}

func hasTypeEdge(wf *api.Workflow, from, to api.NodeType) bool {
	for _, edge := range wf.Edges {
		a := wf.Node(edge.From)
		b := wf.Node(edge.To)
		if a != nil && b != nil && a.Type == from && b.Type == to {
			return true
		}
	}
	return false
}
