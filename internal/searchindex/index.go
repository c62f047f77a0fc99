package searchindex

import "context"

type (
	// Document is a chunk of parsed source text held by an index
	Document struct {
		Meta map[string]any `json:"meta,omitempty"`
		ID   string         `json:"id"`
		Text string         `json:"text"`
	}

	// Hit is a scored query match
	Hit struct {
		Doc   Document `json:"doc"`
		Score float64  `json:"score"`
	}

	// Index is the retrieval surface the validation steps query. The
	// local lexical implementation is the default; remote vector stores
	// can sit behind the same interface
	Index interface {
		Upsert(ctx context.Context, docs []Document) error
		Query(ctx context.Context, q string, topK int) ([]Hit, error)
		Count(ctx context.Context) (int, error)
		Reset(ctx context.Context) error
	}
)
