package knowledge

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

// Memory is an in-process Retriever ranking passages by how many distinct
// query terms they contain. It backs local runs and tests; deployments inject
// a vector store instead.
type Memory struct {
	docs  []Document
	terms []map[string]struct{}
}

// NewMemory indexes docs.
func NewMemory(docs []Document) *Memory {
	m := &Memory{docs: slices.Clone(docs), terms: make([]map[string]struct{}, len(docs))}
	for i, d := range m.docs {
		set := make(map[string]struct{})
		for _, t := range tokenize(d.Title + " " + d.Text) {
			set[t] = struct{}{}
		}
		m.terms[i] = set
	}
	return m
}

// LoadYAML indexes a YAML list of documents.
func LoadYAML(data []byte) (*Memory, error) {
	var docs []Document
	if err := yaml.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("parse knowledge documents: %w", err)
	}
	for i, d := range docs {
		if d.ID == "" {
			return nil, fmt.Errorf("knowledge document %d: id is required", i)
		}
	}
	return NewMemory(docs), nil
}

// Retrieve implements Retriever. Ties keep document order.
func (m *Memory) Retrieve(_ context.Context, query string, k int, itemIDs []string) ([]Document, error) {
	type hit struct {
		idx   int
		score int
	}
	var allowed map[string]bool
	if itemIDs != nil {
		allowed = make(map[string]bool, len(itemIDs))
		for _, id := range itemIDs {
			allowed[id] = true
		}
	}
	q := tokenize(query)
	slices.Sort(q)
	q = slices.Compact(q)

	var hits []hit
	for i, d := range m.docs {
		if allowed != nil && !allowed[d.ID] {
			continue
		}
		score := 0
		for _, t := range q {
			if _, ok := m.terms[i][t]; ok {
				score++
			}
		}
		if score > 0 {
			hits = append(hits, hit{idx: i, score: score})
		}
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].score > hits[b].score })
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}
	out := make([]Document, len(hits))
	for i, h := range hits {
		out[i] = m.docs[h.idx]
	}
	return out, nil
}

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "for": true, "in": true, "is": true,
	"of": true, "on": true, "or": true, "the": true, "to": true, "what": true, "with": true,
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len(f) > 1 && !stopwords[f] {
			out = append(out, f)
		}
	}
	return out
}
