package api

type (
	// Policy names a validation policy applied per department
	Policy string

	// ItemStatus is the outcome of one validation item
	ItemStatus string

	// Evidence is a located snippet of source-document text supporting a
	// validation item
	Evidence struct {
		Snippet string `json:"snippet"`
		Page    int    `json:"page"`
	}

	// ValidationItem records the outcome of one policy for one department
	ValidationItem struct {
		Policy   Policy      `json:"policy"`
		Dept     string      `json:"dept"`
		Status   ItemStatus  `json:"status"`
		Evidence []*Evidence `json:"evidence,omitempty"`
		Expected int64       `json:"expected,omitempty"`
		Found    int64       `json:"found,omitempty"`
		Delta    int64       `json:"delta,omitempty"`
	}

	// ValidationSummary tallies item outcomes
	ValidationSummary struct {
		OK   int `json:"ok"`
		Warn int `json:"warn"`
		Fail int `json:"fail"`
	}

	// ValidationReport is the full result of cross-validating the merged
	// table against the indexed source document. Partial-data conditions
	// are recorded as warn/miss/diff items and never abort a run
	ValidationReport struct {
		Items   []*ValidationItem `json:"items"`
		Summary ValidationSummary `json:"summary"`
	}
)

const (
	PolicyExists   Policy = "exists"
	PolicySumCheck Policy = "sum_check"

	ItemOK   ItemStatus = "ok"
	ItemMiss ItemStatus = "miss"
	ItemDiff ItemStatus = "diff"
)

// Add appends an item and updates the summary tallies. Exists misses count
// as failures; sum mismatches count as warnings
func (r *ValidationReport) Add(item *ValidationItem) {
	r.Items = append(r.Items, item)
	switch {
	case item.Status == ItemOK:
		r.Summary.OK++
	case item.Policy == PolicyExists:
		r.Summary.Fail++
	default:
		r.Summary.Warn++
	}
}
