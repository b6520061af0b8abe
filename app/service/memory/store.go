package memory

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/elliotchance/pie/v2"
	"github.com/samber/oops"
	_ "modernc.org/sqlite"
)

const (
	databasesDir  = "databases"
	graphDBFile   = "graph.db"
	searchIdxFile = "search.bleve"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	session TEXT NOT NULL,
	content TEXT NOT NULL,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS chunks (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id),
	idx INTEGER NOT NULL,
	session TEXT NOT NULL,
	content TEXT NOT NULL,
	embedding BLOB
);

CREATE INDEX IF NOT EXISTS idx_chunks_session ON chunks(session);

CREATE TABLE IF NOT EXISTS entities (
	name_key TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	type TEXT NOT NULL,
	observations TEXT NOT NULL DEFAULT '[]',
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS relations (
	source_key TEXT NOT NULL REFERENCES entities(name_key),
	target_key TEXT NOT NULL REFERENCES entities(name_key),
	type TEXT NOT NULL,
	PRIMARY KEY (source_key, target_key, type)
);

CREATE TABLE IF NOT EXISTS chunk_entities (
	chunk_id TEXT NOT NULL REFERENCES chunks(id),
	name_key TEXT NOT NULL REFERENCES entities(name_key),
	PRIMARY KEY (chunk_id, name_key)
);
`

// Store is the relational side of the knowledge base: documents, chunks and
// the entity graph, kept in <root>/databases/graph.db.
type Store struct {
	db   *sql.DB
	path string
}

// OpenStore opens the graph database without touching the search index.
func OpenStore(ctx context.Context, root string) (*Store, error) {
	dir := filepath.Join(root, databasesDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, oops.In("memory").With("dir", dir).Errorf("failed to create databases directory: %w", err)
	}

	path := filepath.Join(dir, graphDBFile)

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, oops.In("memory").With("path", path).Errorf("failed to open graph database: %w", err)
	}

	// single connection, so pragmas apply to every statement
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err = db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, oops.In("memory").With("pragma", pragma).Errorf("failed to configure graph database: %w", err)
		}
	}

	if _, err = db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, oops.In("memory").Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db, path: path}, nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) insertDocument(ctx context.Context, tx *sql.Tx, doc *Document) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO documents (id, session, content, created_at) VALUES (?, ?, ?, ?)`,
		doc.ID, doc.Session, doc.Content, doc.CreatedAt.Unix(),
	)
	if err != nil {
		return oops.In("memory").With("document", doc.ID).Errorf("failed to insert document: %w", err)
	}
	return nil
}

func (s *Store) insertChunk(ctx context.Context, tx *sql.Tx, chunk *Chunk) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO chunks (id, document_id, idx, session, content, embedding) VALUES (?, ?, ?, ?, ?, ?)`,
		chunk.ID, chunk.DocumentID, chunk.Index, chunk.Session, chunk.Content, encodeEmbedding(chunk.Embedding),
	)
	if err != nil {
		return oops.In("memory").With("chunk", chunk.ID).Errorf("failed to insert chunk: %w", err)
	}
	return nil
}

// upsertEntity merges observations into an existing entity, keeping order and
// skipping ones already recorded. A known type is never replaced by "unknown".
func (s *Store) upsertEntity(ctx context.Context, tx *sql.Tx, entity *Entity) (*Entity, error) {
	key := entityKey(entity.Name)

	var (
		name        string
		entityType  string
		rawObserved string
	)

	err := tx.QueryRowContext(ctx,
		`SELECT name, type, observations FROM entities WHERE name_key = ?`, key,
	).Scan(&name, &entityType, &rawObserved)

	merged := &Entity{
		Name:         strings.TrimSpace(entity.Name),
		Type:         entity.Type,
		Observations: []string{},
	}

	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return nil, oops.In("memory").With("entity", entity.Name).Errorf("failed to load entity: %w", err)
	default:
		merged.Name = name
		if err = json.Unmarshal([]byte(rawObserved), &merged.Observations); err != nil {
			return nil, oops.In("memory").With("entity", entity.Name).Errorf("failed to parse observations: %w", err)
		}
		if merged.Type == "" || merged.Type == unknownType {
			merged.Type = entityType
		}
	}

	if merged.Type == "" {
		merged.Type = unknownType
	}

	for _, obs := range entity.Observations {
		obs = strings.TrimSpace(obs)
		if obs == "" || pie.Contains(merged.Observations, obs) {
			continue
		}
		merged.Observations = append(merged.Observations, obs)
	}

	observed, err := json.Marshal(merged.Observations)
	if err != nil {
		return nil, oops.In("memory").Errorf("failed to marshal observations: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO entities (name_key, name, type, observations, updated_at) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name_key) DO UPDATE SET
			type = excluded.type,
			observations = excluded.observations,
			updated_at = excluded.updated_at`,
		key, merged.Name, merged.Type, string(observed), time.Now().Unix(),
	)
	if err != nil {
		return nil, oops.In("memory").With("entity", entity.Name).Errorf("failed to upsert entity: %w", err)
	}

	return merged, nil
}

func (s *Store) insertRelation(ctx context.Context, tx *sql.Tx, rel *Relation) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO relations (source_key, target_key, type) VALUES (?, ?, ?)`,
		entityKey(rel.From), entityKey(rel.To), rel.Type,
	)
	if err != nil {
		return false, oops.In("memory").With("relation", rel).Errorf("failed to insert relation: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, oops.In("memory").Errorf("failed to count inserted relations: %w", err)
	}

	return n > 0, nil
}

func (s *Store) linkChunkEntity(ctx context.Context, tx *sql.Tx, chunkID, name string) error {
	_, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO chunk_entities (chunk_id, name_key) VALUES (?, ?)`,
		chunkID, entityKey(name),
	)
	if err != nil {
		return oops.In("memory").With("chunk", chunkID).Errorf("failed to link chunk entity: %w", err)
	}
	return nil
}

func (s *Store) Chunks(ctx context.Context, ids []string) (map[string]*Chunk, error) {
	result := make(map[string]*Chunk, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, document_id, idx, session, content FROM chunks WHERE id IN (`+placeholders(len(ids))+`)`,
		toArgs(ids)...,
	)
	if err != nil {
		return nil, oops.In("memory").Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var c Chunk
		if err = rows.Scan(&c.ID, &c.DocumentID, &c.Index, &c.Session, &c.Content); err != nil {
			return nil, oops.In("memory").Errorf("failed to scan chunk: %w", err)
		}
		result[c.ID] = &c
	}

	if err = rows.Err(); err != nil {
		return nil, oops.In("memory").Errorf("failed to read chunks: %w", err)
	}

	return result, nil
}

// Embeddings returns chunk id -> embedding, optionally for one session only.
func (s *Store) Embeddings(ctx context.Context, session string) (map[string][]float32, error) {
	q := `SELECT id, embedding FROM chunks WHERE embedding IS NOT NULL`
	var args []any
	if session != "" {
		q += ` AND session = ?`
		args = append(args, session)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, oops.In("memory").Errorf("failed to query embeddings: %w", err)
	}
	defer rows.Close()

	result := make(map[string][]float32)
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err = rows.Scan(&id, &raw); err != nil {
			return nil, oops.In("memory").Errorf("failed to scan embedding: %w", err)
		}
		if vec := decodeEmbedding(raw); len(vec) > 0 {
			result[id] = vec
		}
	}

	if err = rows.Err(); err != nil {
		return nil, oops.In("memory").Errorf("failed to read embeddings: %w", err)
	}

	return result, nil
}

func (s *Store) ChunkEntityNames(ctx context.Context, chunkIDs []string) ([]string, error) {
	if len(chunkIDs) == 0 {
		return nil, nil
	}

	return s.queryStrings(ctx,
		`SELECT DISTINCT name_key FROM chunk_entities WHERE chunk_id IN (`+placeholders(len(chunkIDs))+`)`,
		toArgs(chunkIDs)...,
	)
}

// MentionedEntityNames returns keys of entities whose name occurs in text.
func (s *Store) MentionedEntityNames(ctx context.Context, text string) ([]string, error) {
	return s.queryStrings(ctx,
		`SELECT name_key FROM entities WHERE length(name_key) >= 3 AND instr(?, name_key) > 0`,
		strings.ToLower(text),
	)
}

func (s *Store) Entities(ctx context.Context, keys []string) ([]*Entity, error) {
	if len(keys) == 0 {
		return []*Entity{}, nil
	}

	return s.queryEntities(ctx,
		`SELECT name, type, observations FROM entities WHERE name_key IN (`+placeholders(len(keys))+`) ORDER BY name`,
		toArgs(keys)...,
	)
}

// RelationsTouching returns relations with either end in keys.
func (s *Store) RelationsTouching(ctx context.Context, keys []string) ([]*Relation, error) {
	if len(keys) == 0 {
		return []*Relation{}, nil
	}

	in := placeholders(len(keys))
	args := append(toArgs(keys), toArgs(keys)...)

	return s.queryRelations(ctx, `
		SELECT s.name, t.name, r.type FROM relations r
		JOIN entities s ON s.name_key = r.source_key
		JOIN entities t ON t.name_key = r.target_key
		WHERE r.source_key IN (`+in+`) OR r.target_key IN (`+in+`)
		ORDER BY s.name, r.type, t.name`,
		args...,
	)
}

func (s *Store) Graph(ctx context.Context) (*KnowledgeGraph, error) {
	entities, err := s.queryEntities(ctx, `SELECT name, type, observations FROM entities ORDER BY name`)
	if err != nil {
		return nil, err
	}

	relations, err := s.queryRelations(ctx, `
		SELECT s.name, t.name, r.type FROM relations r
		JOIN entities s ON s.name_key = r.source_key
		JOIN entities t ON t.name_key = r.target_key
		ORDER BY s.name, r.type, t.name`)
	if err != nil {
		return nil, err
	}

	return &KnowledgeGraph{
		Entities:  entities,
		Relations: relations,
	}, nil
}

func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	var st Stats

	err := s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM documents),
			(SELECT COUNT(*) FROM chunks),
			(SELECT COUNT(*) FROM entities),
			(SELECT COUNT(*) FROM relations)`,
	).Scan(&st.Documents, &st.Chunks, &st.Entities, &st.Relations)
	if err != nil {
		return nil, oops.In("memory").Errorf("failed to count graph: %w", err)
	}

	return &st, nil
}

func (s *Store) queryStrings(ctx context.Context, q string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, oops.In("memory").Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var result []string
	for rows.Next() {
		var v string
		if err = rows.Scan(&v); err != nil {
			return nil, oops.In("memory").Errorf("failed to scan: %w", err)
		}
		result = append(result, v)
	}

	return result, rows.Err()
}

func (s *Store) queryEntities(ctx context.Context, q string, args ...any) ([]*Entity, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, oops.In("memory").Errorf("failed to query entities: %w", err)
	}
	defer rows.Close()

	result := make([]*Entity, 0)
	for rows.Next() {
		var (
			e   Entity
			raw string
		)
		if err = rows.Scan(&e.Name, &e.Type, &raw); err != nil {
			return nil, oops.In("memory").Errorf("failed to scan entity: %w", err)
		}
		if err = json.Unmarshal([]byte(raw), &e.Observations); err != nil {
			return nil, oops.In("memory").With("entity", e.Name).Errorf("failed to parse observations: %w", err)
		}
		result = append(result, &e)
	}

	if err = rows.Err(); err != nil {
		return nil, oops.In("memory").Errorf("failed to read entities: %w", err)
	}

	return result, nil
}

func (s *Store) queryRelations(ctx context.Context, q string, args ...any) ([]*Relation, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, oops.In("memory").Errorf("failed to query relations: %w", err)
	}
	defer rows.Close()

	result := make([]*Relation, 0)
	for rows.Next() {
		var r Relation
		if err = rows.Scan(&r.From, &r.To, &r.Type); err != nil {
			return nil, oops.In("memory").Errorf("failed to scan relation: %w", err)
		}
		result = append(result, &r)
	}

	if err = rows.Err(); err != nil {
		return nil, oops.In("memory").Errorf("failed to read relations: %w", err)
	}

	return result, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func toArgs(values []string) []any {
	return pie.Map(values, func(v string) any { return v })
}

func encodeEmbedding(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}

	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}

	return buf
}

func decodeEmbedding(buf []byte) []float32 {
	if len(buf)%4 != 0 {
		return nil
	}

	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}

	return vec
}
