package engine

import (
	"context"
	"strings"
)

type (
	// Chunk is one retrievable unit of parsed document text
	Chunk struct {
		Text string `json:"text"`
		Page int    `json:"page"`
	}

	// DocumentParser turns raw file bytes into ordered chunks. The local
	// text parser is the default; OCR or PDF backends sit behind the
	// same interface
	DocumentParser interface {
		Parse(ctx context.Context, name string, data []byte) ([]Chunk, error)
	}

	// TextParser chunks plain text. Pages are blank-line separated
	// sections; sections longer than MaxChunkChars are split with an
	// Overlap-sized carryover so no boundary sentence is lost
	TextParser struct {
		MaxChunkChars int
		Overlap       int
	}
)

const (
	DefaultMaxChunkChars = 1200
	DefaultChunkOverlap  = 120
)

func NewTextParser() *TextParser {
	return &TextParser{
		MaxChunkChars: DefaultMaxChunkChars,
		Overlap:       DefaultChunkOverlap,
	}
}

func (p *TextParser) Parse(
	_ context.Context, _ string, data []byte,
) ([]Chunk, error) {
	var res []Chunk
	pages := strings.Split(
		strings.ReplaceAll(string(data), "\r\n", "\n"), "\n\n",
	)
	page := 0
	for _, section := range pages {
		section = strings.TrimSpace(section)
		if section == "" {
			continue
		}
		page++
		for _, text := range p.split(section) {
			res = append(res, Chunk{
				Page: page,
				Text: text,
			})
		}
	}
	return res, nil
}

func (p *TextParser) split(s string) []string {
	limit := p.MaxChunkChars
	if limit <= 0 {
		limit = DefaultMaxChunkChars
	}
	runes := []rune(s)
	if len(runes) <= limit {
		return []string{s}
	}
	overlap := p.Overlap
	if overlap < 0 || overlap >= limit {
		overlap = 0
	}
	var res []string
	for start := 0; start < len(runes); {
		end := start + limit
		if end >= len(runes) {
			res = append(res, string(runes[start:]))
			break
		}
		res = append(res, string(runes[start:end]))
		start = end - overlap
	}
	return res
}
