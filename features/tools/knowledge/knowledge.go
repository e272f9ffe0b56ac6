// Package knowledge implements the knowledge_retrieval tool over an injected
// Retriever. The tool only ever sees the knowledge items its caller approved.
package knowledge

import (
	"context"
	"encoding/json"

	"github.com/tripgraph/tripgraph/runtime/itinerary"
	"github.com/tripgraph/tripgraph/runtime/toolerrors"
	"github.com/tripgraph/tripgraph/runtime/tools"
	"github.com/tripgraph/tripgraph/runtime/tools/catalog"
)

const (
	// DefaultTopK is the number of passages retrieved when the call does not
	// say.
	DefaultTopK = 5

	noResults     = "I found no relevant information in the knowledge base"
	untitledTitle = "Untitled Document"
)

type (
	// Document is a retrieved passage.
	Document struct {
		// ID is the knowledge item the passage belongs to.
		ID     string `yaml:"id"`
		Title  string `yaml:"title"`
		Source string `yaml:"source"`
		Text   string `yaml:"text"`
	}

	// Retriever returns up to k passages relevant to query. When itemIDs is
	// non-nil only passages of those items may be returned.
	Retriever interface {
		Retrieve(ctx context.Context, query string, k int, itemIDs []string) ([]Document, error)
	}

	// Tool is the knowledge_retrieval handler.
	Tool struct {
		retriever Retriever
		itemIDs   []string
	}
)

// New returns a tool scoped to itemIDs. A nil itemIDs leaves the retriever
// unscoped; an empty non-nil slice approves nothing.
func New(r Retriever, itemIDs []string) *Tool {
	return &Tool{retriever: r, itemIDs: itemIDs}
}

// Register adds t to r.
func Register(r *tools.Registry, t *Tool) error {
	return r.Register(catalog.MustSpec(tools.KnowledgeRetrieval), t)
}

// Call implements tools.Handler.
func (t *Tool) Call(ctx context.Context, raw json.RawMessage) (json.RawMessage, error) {
	var args catalog.KnowledgeArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, toolerrors.Errorf("invalid arguments: %v", err)
	}
	res, err := t.Retrieve(ctx, args)
	if err != nil {
		return nil, err
	}
	return json.Marshal(res)
}

// Retrieve runs the query against the approved items.
func (t *Tool) Retrieve(ctx context.Context, args catalog.KnowledgeArgs) (catalog.KnowledgeResult, error) {
	k := args.TopK
	if k <= 0 {
		k = DefaultTopK
	}
	var docs []Document
	if t.itemIDs == nil || len(t.itemIDs) > 0 {
		var err error
		if docs, err = t.retriever.Retrieve(ctx, args.Query, k, t.itemIDs); err != nil {
			return catalog.KnowledgeResult{}, err
		}
	}
	if len(docs) == 0 {
		return catalog.KnowledgeResult{Results: []string{noResults}, Citations: []itinerary.Citation{}}, nil
	}
	out := catalog.KnowledgeResult{
		Results:   make([]string, 0, len(docs)),
		Citations: make([]itinerary.Citation, 0, len(docs)),
	}
	for _, d := range docs {
		out.Results = append(out.Results, d.Text)
		out.Citations = append(out.Citations, citation(d))
	}
	return out, nil
}

func citation(d Document) itinerary.Citation {
	c := itinerary.Citation{Title: d.Title, Source: d.Source, Ref: d.ID}
	if c.Title == "" {
		c.Title = untitledTitle
	}
	if c.Source == "" {
		c.Source = itinerary.SourceKnowledgeBase
	}
	return c
}
