// Package events implements the outbound event compaction layer. The
// compactor bounds the serialized size of any single run event before it
// is placed on the wire, without touching the authoritative run record or
// output map
package events

import (
	"encoding/json"
	"fmt"

	"github.com/nOOne-is-hier/AgentFlow/pkg/api"
)

type (
	// Compactor applies size-bounding rules to outbound run events. All
	// rules keep deterministic prefixes; nothing is sampled
	Compactor struct {
		MaxTextChars    int
		MaxSnippetChars int
		MaxListItems    int
		MaxStateBytes   int
	}
)

const (
	DefaultMaxTextChars    = 800
	DefaultMaxSnippetChars = 180
	DefaultMaxListItems    = 6
	DefaultMaxStateBytes   = 32_000

	truncMarker = "…"
)

// stateKeepKeys are the checkpoint fields that must survive state
// truncation so a paused run can always resume
var stateKeepKeys = []string{
	"merged_path",
	"validation_report",
	"artifact_id",
}

// NewCompactor creates a compactor with the default limits
func NewCompactor() *Compactor {
	return &Compactor{
		MaxTextChars:    DefaultMaxTextChars,
		MaxSnippetChars: DefaultMaxSnippetChars,
		MaxListItems:    DefaultMaxListItems,
		MaxStateBytes:   DefaultMaxStateBytes,
	}
}

// Compact returns a wire-safe copy of the event. The input event is never
// mutated; when no rule fires the returned event is content-equivalent to
// the original and carries no compaction metadata
func (c *Compactor) Compact(ev *api.RunEvent) *api.RunEvent {
	res := *ev
	meta := &api.Compact{}

	res.Message = c.shortenText(ev.Message, c.MaxTextChars, meta, "message")

	if len(ev.Detail) > 0 {
		detail, ok := normalizeDetail(ev.Detail)
		if ok {
			c.compactState(detail, meta)
			res.Detail = c.walkMap(detail, meta, "detail")
		}
	}

	if meta.Applied {
		res.Compact = meta
	}
	return &res
}

// compactState reduces an oversized nested state snapshot to the keys
// needed for resume. The resume keys are never dropped, even when
// everything else is
func (c *Compactor) compactState(detail map[string]any, meta *api.Compact) {
	st, ok := detail["state"].(map[string]any)
	if !ok {
		return
	}
	if sizeOf(st) <= c.MaxStateBytes {
		return
	}

	kept := map[string]any{}
	for _, k := range stateKeepKeys {
		if v, ok := st[k]; ok {
			kept[k] = v
		}
	}
	kept["__state_truncated__"] = true
	detail["state"] = kept
	note(meta, "state size limit -> kept resume keys")
}

func (c *Compactor) walkMap(
	m map[string]any, meta *api.Compact, path string,
) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		kp := path + "." + k
		switch val := v.(type) {
		case string:
			out[k] = c.shortenText(val, c.MaxTextChars, meta, kp)
		case []any:
			lst, lm := c.compactList(val, meta, kp)
			out[k] = lst
			if lm != nil {
				out["__"+k+"_meta__"] = lm
			}
		case map[string]any:
			out[k] = c.walkMap(val, meta, kp)
		default:
			out[k] = v
		}
	}
	return out
}

// compactList keeps the first N elements and shortens text inside each
// kept element. Returns truncation metadata only when the list was cut
func (c *Compactor) compactList(
	lst []any, meta *api.Compact, path string,
) ([]any, *api.ListMeta) {
	total := len(lst)
	keep := lst
	if total > c.MaxListItems {
		keep = lst[:c.MaxListItems]
	}

	out := make([]any, 0, len(keep))
	for i, it := range keep {
		ip := fmt.Sprintf("%s[%d]", path, i)
		switch val := it.(type) {
		case string:
			out = append(out, c.shortenText(
				val, c.MaxSnippetChars, meta, ip))
		case map[string]any:
			out = append(out, c.walkItem(val, meta, ip))
		default:
			out = append(out, it)
		}
	}

	if total <= c.MaxListItems {
		return out, nil
	}
	note(meta, fmt.Sprintf("%s list truncated: %d -> %d",
		path, total, len(out)))
	return out, &api.ListMeta{
		Total:     total,
		Shown:     len(out),
		Truncated: true,
	}
}

// walkItem shortens text fields inside a kept list element using the
// snippet limit rather than the general text limit
func (c *Compactor) walkItem(
	m map[string]any, meta *api.Compact, path string,
) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		kp := path + "." + k
		switch val := v.(type) {
		case string:
			out[k] = c.shortenText(val, c.MaxSnippetChars, meta, kp)
		case []any:
			lst, lm := c.compactList(val, meta, kp)
			out[k] = lst
			if lm != nil {
				out["__"+k+"_meta__"] = lm
			}
		case map[string]any:
			out[k] = c.walkItem(val, meta, kp)
		default:
			out[k] = v
		}
	}
	return out
}

func (c *Compactor) shortenText(
	s string, limit int, meta *api.Compact, path string,
) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	note(meta, path+" text truncated")
	return string(runes[:limit-1]) + truncMarker
}

// normalizeDetail round-trips the detail through JSON so typed payloads
// (reports, checkpoints) become the generic form the walk operates on.
// This matches what serialization would produce on the wire anyway
func normalizeDetail(d api.Detail) (map[string]any, bool) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, false
	}
	return m, true
}

func sizeOf(obj any) int {
	data, err := json.Marshal(obj)
	if err != nil {
		return 0
	}
	return len(data)
}

func note(m *api.Compact, s string) {
	m.Applied = true
	m.Notes = append(m.Notes, s)
}
