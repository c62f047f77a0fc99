package searchindex

import (
	"context"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// Local is an in-process lexical index. Scoring is token overlap between
// the query and each document, normalized by query length, which is
// deterministic and good enough for evidence retrieval over small corpora
type Local struct {
	sync.RWMutex
	docs map[string]Document
}

func NewLocal() *Local {
	return &Local{
		docs: map[string]Document{},
	}
}

func (l *Local) Upsert(_ context.Context, docs []Document) error {
	l.Lock()
	defer l.Unlock()
	for _, d := range docs {
		l.docs[d.ID] = d
	}
	return nil
}

func (l *Local) Query(
	_ context.Context, q string, topK int,
) ([]Hit, error) {
	qt := tokenize(q)
	if len(qt) == 0 || topK <= 0 {
		return nil, nil
	}
	l.RLock()
	defer l.RUnlock()

	hits := make([]Hit, 0, len(l.docs))
	for _, d := range l.docs {
		if s := overlap(qt, tokenize(d.Text)); s > 0 {
			hits = append(hits, Hit{Doc: d, Score: s})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].Doc.ID < hits[j].Doc.ID
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

func (l *Local) Count(_ context.Context) (int, error) {
	l.RLock()
	defer l.RUnlock()
	return len(l.docs), nil
}

func (l *Local) Reset(_ context.Context) error {
	l.Lock()
	defer l.Unlock()
	l.docs = map[string]Document{}
	return nil
}

func tokenize(s string) map[string]bool {
	res := map[string]bool{}
	for _, t := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		res[t] = true
	}
	return res
}

func overlap(query, doc map[string]bool) float64 {
	matched := 0
	for t := range query {
		if doc[t] {
			matched++
		}
	}
	return float64(matched) / float64(len(query))
}
