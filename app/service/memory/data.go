package memory

import (
	"fmt"
	"strings"
	"time"
)

type Document struct {
	ID        string    `json:"id"`
	Session   string    `json:"session"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

type Chunk struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Index      int       `json:"index"`
	Session    string    `json:"session"`
	Content    string    `json:"content"`
	Embedding  []float32 `json:"-"`
}

type Entity struct {
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Observations []string `json:"observations"`
}

type Relation struct {
	From string `json:"from"`
	To   string `json:"to"`
	Type string `json:"type"`
}

type KnowledgeGraph struct {
	Entities  []*Entity   `json:"entities"`
	Relations []*Relation `json:"relations"`
}

type Stats struct {
	Documents int `json:"documents"`
	Chunks    int `json:"chunks"`
	Entities  int `json:"entities"`
	Relations int `json:"relations"`
}

type AddResult struct {
	DocumentID string `json:"document_id"`
	Chunks     int    `json:"chunks"`
	Entities   int    `json:"entities"`
	Relations  int    `json:"relations"`
}

func (r *AddResult) String() string {
	return fmt.Sprintf("document %s (%d chunks, %d entities, %d relations)",
		r.DocumentID, r.Chunks, r.Entities, r.Relations)
}

type ChunkHit struct {
	Chunk *Chunk  `json:"chunk"`
	Score float64 `json:"score"`
}

type SearchResult struct {
	Query     string      `json:"query"`
	Answer    string      `json:"answer"`
	Chunks    []*ChunkHit `json:"chunks"`
	Entities  []*Entity   `json:"entities"`
	Relations []*Relation `json:"relations"`
}

func (r *SearchResult) Empty() bool {
	return len(r.Chunks) == 0 && len(r.Entities) == 0 && len(r.Relations) == 0
}

func (r *SearchResult) String() string {
	return r.Answer
}

// extraction is the JSON shape the model is asked to produce for a chunk.
type extraction struct {
	Entities  []extractedEntity   `json:"entities"`
	Relations []extractedRelation `json:"relations"`
}

type extractedEntity struct {
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Observations []string `json:"observations"`
}

type extractedRelation struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
}

func entityKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
