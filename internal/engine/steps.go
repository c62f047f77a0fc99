package engine

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/nOOne-is-hier/AgentFlow/internal/artifact"
	"github.com/nOOne-is-hier/AgentFlow/internal/searchindex"
	"github.com/nOOne-is-hier/AgentFlow/pkg/api"
)

type (
	// Steps bundles the collaborators the built-in node implementations
	// need and exposes them as a registry
	Steps struct {
		Store  *artifact.Store
		Index  searchindex.Index
		Parser DocumentParser
	}
)

const (
	// DefaultArtifactName is the display filename for exported
	// spreadsheets when the export node's config does not name one
	DefaultArtifactName = "merged_report.xlsx"

	evidenceTopK = 3
)

var numberPattern = regexp.MustCompile(`-?\d[\d,]*\.?\d*`)

// Registry returns the closed set of built-in node implementations
func (s *Steps) Registry() *Registry {
	r := NewRegistry()
	r.Register(api.NodeParseDoc, s.ParseDoc)
	r.Register(api.NodeIndexDoc, s.IndexDoc)
	r.Register(api.NodeMergeTables, s.MergeTables)
	r.Register(api.NodeValidateDoc, s.ValidateDoc)
	r.Register(api.NodeExportTable, s.ExportTable)
	return r
}

// ParseDoc loads an uploaded file and chunks it for retrieval
func (s *Steps) ParseDoc(
	ctx context.Context, req *StepRequest,
) (*StepResult, error) {
	fileID := req.Node.Config.GetString("file_id", "")
	if fileID == "" {
		if v, ok := lookupInput(req.Inputs, "file_id"); ok {
			fileID, _ = v.(string)
		}
	}
	if fileID == "" {
		return nil, fmt.Errorf("node %s: no file_id configured", req.Node.ID)
	}
	data, err := s.Store.LoadUpload(ctx, fileID)
	if err != nil {
		return nil, err
	}
	chunks, err := s.Parser.Parse(ctx, fileID, data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", fileID, err)
	}
	pages := 0
	for _, c := range chunks {
		if c.Page > pages {
			pages = c.Page
		}
	}
	return &StepResult{
		Out: map[string]any{
			"doc_id": fileID,
			"chunks": chunks,
			"pages":  pages,
		},
		Obs: api.Detail{
			"chunks": len(chunks),
			"pages":  pages,
		},
		ObsMessage: "document parsed",
	}, nil
}

// IndexDoc upserts previously parsed chunks into the search index
func (s *Steps) IndexDoc(
	ctx context.Context, req *StepRequest,
) (*StepResult, error) {
	v, ok := lookupInput(req.Inputs, req.Node.Config.GetString(
		"chunks_key", "chunks",
	))
	if !ok {
		return nil, fmt.Errorf("node %s: no chunks to index", req.Node.ID)
	}
	chunks, ok := v.([]Chunk)
	if !ok {
		return nil, fmt.Errorf("node %s: unexpected chunk payload",
			req.Node.ID)
	}
	docID := "doc"
	if d, ok := lookupInput(req.Inputs, "doc_id"); ok {
		if str, ok := d.(string); ok && str != "" {
			docID = str
		}
	}
	docs := make([]searchindex.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = searchindex.Document{
			ID:   fmt.Sprintf("%s#%d", docID, i),
			Text: c.Text,
			Meta: map[string]any{
				"doc_id": docID,
				"page":   c.Page,
			},
		}
	}
	if err := s.Index.Upsert(ctx, docs); err != nil {
		return nil, fmt.Errorf("index %s: %w", docID, err)
	}
	return &StepResult{
		Out: map[string]any{
			"indexed": len(docs),
		},
		Obs: api.Detail{
			"indexed": len(docs),
		},
		ObsMessage: "chunks indexed",
	}, nil
}

// MergeTables reads every configured tabular file, merges all rows and
// sheets into one table with provenance columns, and persists it as CSV
func (s *Steps) MergeTables(
	ctx context.Context, req *StepRequest,
) (*StepResult, error) {
	fileIDs := req.Node.Config.GetStrings("file_ids")
	if len(fileIDs) == 0 {
		if v, ok := lookupInput(req.Inputs, "file_ids"); ok {
			fileIDs = toStrings(v)
		}
	}
	if len(fileIDs) == 0 {
		return nil, fmt.Errorf("node %s: no file_ids configured",
			req.Node.ID)
	}

	merged := &Table{}
	for _, fileID := range fileIDs {
		data, err := s.Store.LoadUpload(ctx, fileID)
		if err != nil {
			return nil, err
		}
		t, err := ReadTable(fileID, data)
		if err != nil {
			return nil, err
		}
		merged.Append(t, fileID)
	}

	raw, err := merged.CSV()
	if err != nil {
		return nil, fmt.Errorf("render merged table: %w", err)
	}
	mergedPath := fmt.Sprintf("merged/%s.csv", req.RunID)
	if err := s.Store.SaveObject(
		ctx, mergedPath, raw, "text/csv",
	); err != nil {
		return nil, err
	}
	return &StepResult{
		Out: map[string]any{
			"table":       merged,
			"merged_path": mergedPath,
			"merged_rows": len(merged.Rows),
			"columns":     merged.Columns,
		},
		Obs: api.Detail{
			"rows":        len(merged.Rows),
			"columns":     len(merged.Columns),
			"merged_path": mergedPath,
		},
		ObsMessage: "tables merged",
	}, nil
}

// ValidateDoc groups the merged table by department, sums the amount
// column, and checks each group against indexed document evidence
func (s *Steps) ValidateDoc(
	ctx context.Context, req *StepRequest,
) (*StepResult, error) {
	report := &api.ValidationReport{}

	table := tableInput(req.Inputs)
	deptCol, amountCol := "", ""
	if table != nil {
		deptCol = req.Node.Config.GetString("dept_column", "")
		if deptCol == "" {
			deptCol = detectDeptColumn(table)
		}
		amountCol = req.Node.Config.GetString("amount_column", "")
		if amountCol == "" {
			amountCol = detectAmountColumn(table)
		}
	}
	if table == nil || len(table.Rows) == 0 || deptCol == "" {
		// nothing to check is a finding, not a crash
		report.Add(&api.ValidationItem{
			Policy: api.PolicyExists,
			Dept:   "",
			Status: api.ItemMiss,
		})
		return validateResult(report), nil
	}

	sums := map[string]float64{}
	var depts []string
	for _, row := range table.Rows {
		dept := strings.TrimSpace(cellString(row[deptCol]))
		if dept == "" {
			continue
		}
		if _, seen := sums[dept]; !seen {
			depts = append(depts, dept)
		}
		if amountCol == "" {
			continue
		}
		if n, ok := parseNumber(row[amountCol]); ok {
			sums[dept] += n
		}
	}
	sort.Strings(depts)

	for _, dept := range depts {
		hits, err := s.Index.Query(ctx, dept, evidenceTopK)
		if err != nil {
			return nil, fmt.Errorf("query evidence for %s: %w", dept, err)
		}
		if len(hits) == 0 {
			report.Add(&api.ValidationItem{
				Policy: api.PolicyExists,
				Dept:   dept,
				Status: api.ItemMiss,
			})
			continue
		}
		ev := evidenceFor(hits[0])
		report.Add(&api.ValidationItem{
			Policy:   api.PolicyExists,
			Dept:     dept,
			Status:   api.ItemOK,
			Evidence: ev,
		})
		if amountCol == "" {
			continue
		}
		expected := int64(math.Round(sums[dept]))
		found, ok := nearestNumber(hits, float64(expected))
		item := api.ValidationItem{
			Policy:   api.PolicySumCheck,
			Dept:     dept,
			Expected: expected,
			Evidence: ev,
		}
		switch {
		case !ok:
			item.Status = api.ItemMiss
		case found == expected:
			item.Status = api.ItemOK
			item.Found = found
		default:
			item.Status = api.ItemDiff
			item.Found = found
			item.Delta = found - expected
		}
		report.Add(&item)
	}
	return validateResult(report), nil
}

func validateResult(report *api.ValidationReport) *StepResult {
	return &StepResult{
		Out: map[string]any{
			"validation_report": report,
		},
		Obs: api.Detail{
			"ok":   report.Summary.OK,
			"warn": report.Summary.Warn,
			"fail": report.Summary.Fail,
		},
		ObsMessage: "validation complete",
	}
}

// ExportTable writes the merged table as a spreadsheet artifact named
// after the run
func (s *Steps) ExportTable(
	ctx context.Context, req *StepRequest,
) (*StepResult, error) {
	table := tableInput(req.Inputs)
	if table == nil {
		if v, ok := lookupInput(req.Inputs, "merged_path"); ok {
			path, _ := v.(string)
			data, err := s.Store.LoadObject(ctx, path)
			if err != nil {
				return nil, fmt.Errorf("load merged table: %w", err)
			}
			if table, err = ReadTable("merged.csv", data); err != nil {
				return nil, err
			}
		}
	}
	if table == nil {
		return nil, fmt.Errorf("node %s: no table to export", req.Node.ID)
	}
	data, err := table.XLSX()
	if err != nil {
		return nil, fmt.Errorf("render spreadsheet: %w", err)
	}
	id := artifact.IDForRun(req.RunID)
	name := req.Node.Config.GetString("filename", DefaultArtifactName)
	if err := s.Store.SaveArtifact(
		ctx, id, req.RunID, data, name, artifact.XLSXContentType,
	); err != nil {
		return nil, err
	}
	return &StepResult{
		Out: map[string]any{
			"artifact_id": string(id),
		},
		Obs: api.Detail{
			"artifactId": string(id),
			"rows":       len(table.Rows),
		},
		ObsMessage: "artifact exported",
	}, nil
}

// lookupInput resolves a reference against an output snapshot: exact key
// first, then the final dot segment
func lookupInput(inputs map[string]any, key string) (any, bool) {
	if v, ok := inputs[key]; ok {
		return v, true
	}
	if i := strings.LastIndexByte(key, '.'); i >= 0 {
		if v, ok := inputs[key[i+1:]]; ok {
			return v, true
		}
	}
	return nil, false
}

func tableInput(inputs map[string]any) *Table {
	v, ok := lookupInput(inputs, "table")
	if !ok {
		return nil
	}
	t, _ := v.(*Table)
	return t
}

func toStrings(v any) []string {
	switch v := v.(type) {
	case []string:
		return v
	case []any:
		res := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				res = append(res, s)
			}
		}
		return res
	default:
		return nil
	}
}

// parseNumber coerces a cell value to a float. Strings may carry digit
// grouping commas and currency symbols
func parseNumber(v any) (float64, bool) {
	switch v := v.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		s := strings.TrimSpace(v)
		s = strings.ReplaceAll(s, ",", "")
		s = strings.TrimFunc(s, func(r rune) bool {
			return r != '-' && r != '.' && (r < '0' || r > '9')
		})
		if s == "" {
			return 0, false
		}
		n, err := strconv.ParseFloat(s, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// detectDeptColumn prefers a header naming a department, then falls back
// to the first mostly non-numeric column
func detectDeptColumn(t *Table) string {
	for _, c := range t.Columns {
		if isProvenance(c) {
			continue
		}
		if strings.Contains(c, "dept") || strings.Contains(c, "team") ||
			strings.Contains(c, "부서") {
			return c
		}
	}
	for _, c := range t.Columns {
		if isProvenance(c) {
			continue
		}
		if !mostlyNumeric(t, c) {
			return c
		}
	}
	return ""
}

// detectAmountColumn prefers a header naming an amount, then falls back
// to the first mostly numeric column
func detectAmountColumn(t *Table) string {
	for _, c := range t.Columns {
		if isProvenance(c) {
			continue
		}
		if strings.Contains(c, "amount") || strings.Contains(c, "total") ||
			strings.Contains(c, "sum") || strings.Contains(c, "금액") {
			return c
		}
	}
	for _, c := range t.Columns {
		if isProvenance(c) {
			continue
		}
		if mostlyNumeric(t, c) {
			return c
		}
	}
	return ""
}

func isProvenance(c string) bool {
	return c == ColSourceFile || c == ColSourceSheet
}

func mostlyNumeric(t *Table, col string) bool {
	numeric, total := 0, 0
	for _, row := range t.Rows {
		v, ok := row[col]
		if !ok || cellString(v) == "" {
			continue
		}
		total++
		if _, ok := parseNumber(v); ok {
			numeric++
		}
	}
	return total > 0 && numeric*2 > total
}

func evidenceFor(hit searchindex.Hit) []*api.Evidence {
	page := 0
	if p, ok := hit.Doc.Meta["page"]; ok {
		switch p := p.(type) {
		case int:
			page = p
		case float64:
			page = int(p)
		}
	}
	return []*api.Evidence{{
		Snippet: hit.Doc.Text,
		Page:    page,
	}}
}

// nearestNumber scans evidence text for the numeric literal closest to
// the expected value
func nearestNumber(hits []searchindex.Hit, expected float64) (int64, bool) {
	best, found := 0.0, false
	for _, h := range hits {
		for _, m := range numberPattern.FindAllString(h.Doc.Text, -1) {
			n, ok := parseNumber(m)
			if !ok {
				continue
			}
			if !found || math.Abs(n-expected) < math.Abs(best-expected) {
				best, found = n, true
			}
		}
	}
	if !found {
		return 0, false
	}
	return int64(math.Round(best)), true
}
