package memory

import (
	"errors"
	"os"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/samber/oops"
)

const (
	kindChunk  = "chunk"
	kindEntity = "entity"
)

type indexDoc struct {
	Kind    string `json:"kind"`
	Session string `json:"session"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

type indexHit struct {
	ID    string
	Score float64
}

type searchIndex struct {
	index bleve.Index
}

func openIndex(path string) (*searchIndex, error) {
	index, err := bleve.Open(path)
	if errors.Is(err, bleve.ErrorIndexPathDoesNotExist) || os.IsNotExist(err) {
		index, err = bleve.New(path, buildIndexMapping())
	}
	if err != nil {
		return nil, oops.In("memory").With("path", path).Errorf("failed to open search index: %w", err)
	}

	return &searchIndex{index: index}, nil
}

func buildIndexMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()

	docMapping := bleve.NewDocumentMapping()

	keyword := bleve.NewKeywordFieldMapping()

	text := bleve.NewTextFieldMapping()
	text.Store = false

	docMapping.AddFieldMappingsAt("kind", keyword)
	docMapping.AddFieldMappingsAt("session", keyword)
	docMapping.AddFieldMappingsAt("name", text)
	docMapping.AddFieldMappingsAt("content", text)

	indexMapping.DefaultMapping = docMapping

	return indexMapping
}

func (i *searchIndex) put(batch *bleve.Batch, id string, doc indexDoc) error {
	if err := batch.Index(id, doc); err != nil {
		return oops.In("memory").With("id", id).Errorf("failed to index document: %w", err)
	}
	return nil
}

func (i *searchIndex) commit(batch *bleve.Batch) error {
	if err := i.index.Batch(batch); err != nil {
		return oops.In("memory").Errorf("failed to commit index batch: %w", err)
	}
	return nil
}

// search runs a match query over name and content restricted to kind, and to
// session when it is not empty.
func (i *searchIndex) search(text, kind, session string, limit int) ([]indexHit, error) {
	contentQuery := bleve.NewMatchQuery(text)
	contentQuery.SetField("content")

	nameQuery := bleve.NewMatchQuery(text)
	nameQuery.SetField("name")

	kindQuery := bleve.NewTermQuery(kind)
	kindQuery.SetField("kind")

	must := []query.Query{bleve.NewDisjunctionQuery(contentQuery, nameQuery), kindQuery}

	if session != "" {
		sessionQuery := bleve.NewTermQuery(session)
		sessionQuery.SetField("session")
		must = append(must, sessionQuery)
	}

	req := bleve.NewSearchRequest(bleve.NewConjunctionQuery(must...))
	req.Size = limit

	result, err := i.index.Search(req)
	if err != nil {
		return nil, oops.In("memory").With("query", text).Errorf("search failed: %w", err)
	}

	hits := make([]indexHit, 0, len(result.Hits))
	for _, hit := range result.Hits {
		hits = append(hits, indexHit{ID: hit.ID, Score: hit.Score})
	}

	return hits, nil
}

func (i *searchIndex) close() error {
	return i.index.Close()
}
