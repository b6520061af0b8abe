package memory

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dinindunz/strands-agent-cli/app/util/tokenizer"
	"github.com/elliotchance/pie/v2"
	"github.com/google/uuid"
	"github.com/samber/oops"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/viterin/vek/vek32"
)

// rank constant for reciprocal rank fusion of text and vector hits
const fusionK = 60

type Options struct {
	// Directory that holds databases/
	Root string
	// Model used for graph extraction and answer completion, optional
	Model llms.Model
	// Embedder for chunk vectors, optional
	Embedder embeddings.Embedder
	// Resolver and model name used to pick the chunking encoding
	Tokenizer      *tokenizer.Resolver
	EmbeddingModel string
	// Encoder overrides the resolved encoding
	Encoder tokenizer.Encoder

	ChunkTokens    int
	ChunkOverlap   int
	SearchLimit    int
	ExtractGraph   bool
	CompleteSearch bool
	SessionScoped  bool
}

type Service struct {
	opts    Options
	store   *Store
	index   *searchIndex
	encoder tokenizer.Encoder

	mu sync.RWMutex
}

func New(ctx context.Context, opts Options) (*Service, error) {
	if opts.Root == "" {
		return nil, oops.In("memory").Errorf("root directory is required")
	}
	if opts.ChunkTokens <= 0 {
		opts.ChunkTokens = 512
	}
	if opts.ChunkOverlap < 0 || opts.ChunkOverlap >= opts.ChunkTokens {
		opts.ChunkOverlap = 0
	}
	if opts.SearchLimit <= 0 {
		opts.SearchLimit = 5
	}

	encoder := opts.Encoder
	if encoder == nil {
		resolver := opts.Tokenizer
		if resolver == nil {
			resolver = tokenizer.NewResolver(tokenizer.DefaultAliases())
		}

		var err error
		encoder, err = resolver.EncoderFor(opts.EmbeddingModel)
		if err != nil {
			return nil, err
		}
	}

	store, err := OpenStore(ctx, opts.Root)
	if err != nil {
		return nil, err
	}

	index, err := openIndex(filepath.Join(opts.Root, databasesDir, searchIdxFile))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	slog.Debug("Knowledge base opened",
		slog.String("root", opts.Root),
		slog.Bool("embeddings", opts.Embedder != nil),
		slog.Bool("extraction", opts.ExtractGraph && opts.Model != nil),
	)

	return &Service{
		opts:    opts,
		store:   store,
		index:   index,
		encoder: encoder,
	}, nil
}

// Add stores text, splits it into chunks, embeds them and extracts the
// entity graph from each chunk.
func (s *Service) Add(ctx context.Context, session, text string) (*AddResult, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, oops.In("memory").Errorf("nothing to add: text is empty")
	}

	doc := &Document{
		ID:        uuid.NewString(),
		Session:   session,
		Content:   text,
		CreatedAt: time.Now(),
	}

	pieces := splitChunks(s.encoder, text, s.opts.ChunkTokens, s.opts.ChunkOverlap)

	chunks := make([]*Chunk, len(pieces))
	for i, piece := range pieces {
		chunks[i] = &Chunk{
			ID:         uuid.NewString(),
			DocumentID: doc.ID,
			Index:      i,
			Session:    session,
			Content:    piece,
		}
	}

	if s.opts.Embedder != nil {
		vectors, err := s.opts.Embedder.EmbedDocuments(ctx, pieces)
		if err != nil {
			return nil, oops.In("memory").With("document", doc.ID).Errorf("failed to embed chunks: %w", err)
		}
		if len(vectors) != len(chunks) {
			return nil, oops.In("memory").
				With("chunks", len(chunks)).
				With("vectors", len(vectors)).
				Errorf("embedder returned unexpected number of vectors")
		}
		for i := range chunks {
			chunks[i].Embedding = vectors[i]
		}
	}

	chunkEntities := make([][]*Entity, len(chunks))
	chunkRelations := make([][]*Relation, len(chunks))

	if s.opts.ExtractGraph && s.opts.Model != nil {
		for i, chunk := range chunks {
			extracted, err := extractGraph(ctx, s.opts.Model, chunk.Content)
			if err != nil {
				// chunk stays searchable as text
				slog.Warn("Graph extraction failed",
					slog.String("chunk", chunk.ID),
					slog.Any("error", err),
				)
				continue
			}
			chunkEntities[i], chunkRelations[i] = extracted.normalize()
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	result, indexed, err := s.persist(ctx, doc, chunks, chunkEntities, chunkRelations)
	if err != nil {
		return nil, err
	}

	// the store is the source of truth once committed; a failed index update
	// only degrades text search for this document
	if err = s.indexAdded(session, chunks, indexed); err != nil {
		slog.Error("Failed to index document",
			slog.String("session", session),
			slog.String("document", result.DocumentID),
			slog.Any("error", err),
		)
	}

	slog.Info("Added to knowledge base",
		slog.String("session", session),
		slog.String("document", result.DocumentID),
		slog.Int("chunks", result.Chunks),
		slog.Int("entities", result.Entities),
		slog.Int("relations", result.Relations),
	)

	return result, nil
}

func (s *Service) indexAdded(session string, chunks []*Chunk, entities []*Entity) error {
	batch := s.index.index.NewBatch()
	for _, chunk := range chunks {
		if err := s.index.put(batch, chunk.ID, indexDoc{
			Kind:    kindChunk,
			Session: session,
			Content: chunk.Content,
		}); err != nil {
			return err
		}
	}
	for _, entity := range entities {
		if err := s.index.put(batch, kindEntity+":"+entityKey(entity.Name), indexDoc{
			Kind:    kindEntity,
			Session: session,
			Name:    entity.Name,
			Content: entity.Type + " " + strings.Join(entity.Observations, " "),
		}); err != nil {
			return err
		}
	}

	return s.index.commit(batch)
}

func (s *Service) persist(
	ctx context.Context,
	doc *Document,
	chunks []*Chunk,
	chunkEntities [][]*Entity,
	chunkRelations [][]*Relation,
) (*AddResult, []*Entity, error) {
	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, oops.In("memory").Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err = s.store.insertDocument(ctx, tx, doc); err != nil {
		return nil, nil, err
	}

	result := &AddResult{
		DocumentID: doc.ID,
		Chunks:     len(chunks),
	}

	merged := make(map[string]*Entity)
	var order []string

	for i, chunk := range chunks {
		if err = s.store.insertChunk(ctx, tx, chunk); err != nil {
			return nil, nil, err
		}

		for _, entity := range chunkEntities[i] {
			stored, err := s.store.upsertEntity(ctx, tx, entity)
			if err != nil {
				return nil, nil, err
			}

			key := entityKey(stored.Name)
			if _, ok := merged[key]; !ok {
				order = append(order, key)
			}
			merged[key] = stored

			if err = s.store.linkChunkEntity(ctx, tx, chunk.ID, stored.Name); err != nil {
				return nil, nil, err
			}
		}

		for _, rel := range chunkRelations[i] {
			inserted, err := s.store.insertRelation(ctx, tx, rel)
			if err != nil {
				return nil, nil, err
			}
			if inserted {
				result.Relations++
			}
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, nil, oops.In("memory").Errorf("failed to commit transaction: %w", err)
	}

	result.Entities = len(order)

	return result, pie.Map(order, func(key string) *Entity { return merged[key] }), nil
}

// Search answers query from the knowledge graph: text and vector hits over
// chunks, the entities they mention and the relations around those entities.
func (s *Service) Search(ctx context.Context, session, query string) (*SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, oops.In("memory").Errorf("search query is empty")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	scope := ""
	if s.opts.SessionScoped {
		scope = session
	}

	limit := s.opts.SearchLimit

	textHits, err := s.index.search(query, kindChunk, scope, limit)
	if err != nil {
		return nil, err
	}

	entityHits, err := s.index.search(query, kindEntity, "", limit)
	if err != nil {
		return nil, err
	}

	vectorHits, err := s.vectorSearch(ctx, query, scope, limit)
	if err != nil {
		return nil, err
	}

	ranked := fuseRanks(limit, textHits, vectorHits)

	chunkIDs := pie.Map(ranked, func(h indexHit) string { return h.ID })
	chunksByID, err := s.store.Chunks(ctx, chunkIDs)
	if err != nil {
		return nil, err
	}

	result := &SearchResult{
		Query:  query,
		Chunks: make([]*ChunkHit, 0, len(ranked)),
	}
	for _, hit := range ranked {
		if chunk, ok := chunksByID[hit.ID]; ok {
			result.Chunks = append(result.Chunks, &ChunkHit{Chunk: chunk, Score: hit.Score})
		}
	}

	linked, err := s.store.ChunkEntityNames(ctx, chunkIDs)
	if err != nil {
		return nil, err
	}

	mentioned, err := s.store.MentionedEntityNames(ctx, query)
	if err != nil {
		return nil, err
	}

	keys := pie.Map(entityHits, func(h indexHit) string {
		return strings.TrimPrefix(h.ID, kindEntity+":")
	})
	keys = append(keys, linked...)
	keys = append(keys, mentioned...)
	keys = pie.Unique(keys)

	if result.Entities, err = s.store.Entities(ctx, keys); err != nil {
		return nil, err
	}
	if result.Relations, err = s.store.RelationsTouching(ctx, keys); err != nil {
		return nil, err
	}

	slog.Debug("Knowledge base search",
		slog.String("query", query),
		slog.Int("chunks", len(result.Chunks)),
		slog.Int("entities", len(result.Entities)),
		slog.Int("relations", len(result.Relations)),
	)

	if result.Empty() {
		result.Answer = fmt.Sprintf("No relevant information found in the knowledge base for %q.", query)
		return result, nil
	}

	knowledge := formatContext(result)

	if !s.opts.CompleteSearch || s.opts.Model == nil {
		result.Answer = knowledge
		return result, nil
	}

	if result.Answer, err = completeAnswer(ctx, s.opts.Model, query, knowledge); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Service) vectorSearch(ctx context.Context, query, session string, limit int) ([]indexHit, error) {
	if s.opts.Embedder == nil {
		return nil, nil
	}

	queryVec, err := s.opts.Embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, oops.In("memory").With("query", query).Errorf("failed to embed query: %w", err)
	}

	stored, err := s.store.Embeddings(ctx, session)
	if err != nil {
		return nil, err
	}

	hits := make([]indexHit, 0, len(stored))
	for id, vec := range stored {
		if len(vec) != len(queryVec) {
			continue
		}
		if score := vek32.CosineSimilarity(queryVec, vec); score > 0 {
			hits = append(hits, indexHit{ID: id, Score: float64(score)})
		}
	}

	slices.SortFunc(hits, func(a, b indexHit) int {
		return cmp.Compare(b.Score, a.Score)
	})

	if len(hits) > limit {
		hits = hits[:limit]
	}

	return hits, nil
}

// fuseRanks merges ranked hit lists by reciprocal rank.
func fuseRanks(limit int, lists ...[]indexHit) []indexHit {
	scores := make(map[string]float64)
	var order []string

	for _, list := range lists {
		for rank, hit := range list {
			if _, ok := scores[hit.ID]; !ok {
				order = append(order, hit.ID)
			}
			scores[hit.ID] += 1 / float64(fusionK+rank+1)
		}
	}

	fused := pie.Map(order, func(id string) indexHit {
		return indexHit{ID: id, Score: scores[id]}
	})

	slices.SortStableFunc(fused, func(a, b indexHit) int {
		return cmp.Compare(b.Score, a.Score)
	})

	if len(fused) > limit {
		fused = fused[:limit]
	}

	return fused
}

func formatContext(r *SearchResult) string {
	var sb strings.Builder

	if len(r.Chunks) > 0 {
		sb.WriteString("Relevant passages:\n")
		for i, hit := range r.Chunks {
			fmt.Fprintf(&sb, "%d. %s\n", i+1, hit.Chunk.Content)
		}
	}

	if len(r.Entities) > 0 {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("Entities:\n")
		for _, e := range r.Entities {
			fmt.Fprintf(&sb, "- %s [%s]", e.Name, e.Type)
			if len(e.Observations) > 0 {
				fmt.Fprintf(&sb, ": %s", strings.Join(e.Observations, "; "))
			}
			sb.WriteString("\n")
		}
	}

	if len(r.Relations) > 0 {
		if sb.Len() > 0 {
			sb.WriteString("\n")
		}
		sb.WriteString("Relations:\n")
		for _, rel := range r.Relations {
			fmt.Fprintf(&sb, "- %s --%s--> %s\n", rel.From, rel.Type, rel.To)
		}
	}

	return strings.TrimSpace(sb.String())
}

func (s *Service) Graph(ctx context.Context) (*KnowledgeGraph, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.store.Graph(ctx)
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.store.Stats(ctx)
}

// Root is the directory the knowledge base lives in.
func (s *Service) Root() string {
	return s.opts.Root
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return errors.Join(s.index.close(), s.store.Close())
}
