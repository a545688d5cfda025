package memory

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS memories (
	id         TEXT PRIMARY KEY,
	collection TEXT NOT NULL,
	content    TEXT NOT NULL,
	source     TEXT NOT NULL DEFAULT '',
	when_unix  INTEGER NOT NULL DEFAULT 0,
	metadata   TEXT NOT NULL DEFAULT '{}',
	embedding  BLOB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_memories_collection ON memories(collection);
`

// SQLiteStore keeps the three recall collections in one sqlite table and
// scores candidates by cosine similarity in process.
type SQLiteStore struct {
	db *sql.DB
}

var (
	_ Recaller = (*SQLiteStore)(nil)
	_ Writer   = (*SQLiteStore)(nil)
)

// OpenSQLite opens (or creates) the store at path. ":memory:" is accepted.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create memory dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init memory schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Remember stores s in class. An empty ID gets a fresh one; an existing ID is replaced.
func (s *SQLiteStore) Remember(ctx context.Context, class Class, sn Snippet, embedding []float32) error {
	if len(embedding) == 0 {
		return fmt.Errorf("remember %s: empty embedding", class)
	}
	if sn.ID == "" {
		sn.ID = uuid.NewString()
	}
	meta, err := json.Marshal(sn.Metadata)
	if err != nil {
		return fmt.Errorf("remember %s: %w", class, err)
	}
	var when int64
	if !sn.Metadata.When.IsZero() {
		when = sn.Metadata.When.Unix()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO memories (id, collection, content, source, when_unix, metadata, embedding)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sn.ID, string(class), sn.Content, sn.Metadata.Source, when, string(meta), encodeVector(embedding))
	if err != nil {
		return fmt.Errorf("remember %s: %w", class, err)
	}
	return nil
}

// Recall returns at most cfg.K snippets of class scoring at least cfg.Threshold,
// best first.
func (s *SQLiteStore) Recall(ctx context.Context, class Class, cfg RecallConfig) ([]Snippet, error) {
	if len(cfg.Embedding) == 0 || cfg.K <= 0 {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, metadata, embedding FROM memories WHERE collection = ?`, string(class))
	if err != nil {
		return nil, fmt.Errorf("recall %s: %w", class, err)
	}
	defer rows.Close()

	var results []Snippet
	for rows.Next() {
		var (
			id, content, meta string
			blob              []byte
		)
		if err := rows.Scan(&id, &content, &meta, &blob); err != nil {
			return nil, fmt.Errorf("recall %s: %w", class, err)
		}
		if !matchConditions(meta, cfg.Conditions) {
			continue
		}
		score := cosine(cfg.Embedding, decodeVector(blob))
		if score < cfg.Threshold {
			continue
		}
		sn := Snippet{ID: id, Content: content, Score: score}
		if err := json.Unmarshal([]byte(meta), &sn.Metadata); err != nil {
			return nil, fmt.Errorf("recall %s: bad metadata for %s: %w", class, id, err)
		}
		results = append(results, sn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("recall %s: %w", class, err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > cfg.K {
		results = results[:cfg.K]
	}
	return results, nil
}

// DeleteCollection removes every snippet of class.
func (s *SQLiteStore) DeleteCollection(ctx context.Context, class Class) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM memories WHERE collection = ?`, string(class))
	return err
}

// DeleteBefore drops snippets of class stored before t.
func (s *SQLiteStore) DeleteBefore(ctx context.Context, class Class, t time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM memories WHERE collection = ? AND when_unix > 0 AND when_unix < ?`, string(class), t.Unix())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Count returns the number of snippets in class.
func (s *SQLiteStore) Count(ctx context.Context, class Class) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE collection = ?`, string(class)).Scan(&n)
	return n, err
}

// matchConditions checks each condition against the metadata JSON. Keys
// are looked up first at the top level ("source"), then under "extra".
func matchConditions(meta string, conds map[string]string) bool {
	for k, want := range conds {
		v := gjson.Get(meta, gjson.Escape(k))
		if !v.Exists() {
			v = gjson.Get(meta, "extra."+gjson.Escape(k))
		}
		if v.String() != want {
			return false
		}
	}
	return true
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return dot / denom
}
