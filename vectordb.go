package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryRecord is one embedded incident summary. Owned by VectorIndex;
// append-only, never mutated.
type MemoryRecord struct {
	ID         string
	Vector     []float32
	Summary    string
	InsertedAt time.Time
}

// SearchHit pairs a record with its similarity to the probe vector.
type SearchHit struct {
	Record     MemoryRecord
	Similarity float64
}

// VectorIndex is a flat cosine-similarity index over memory records.
// Insert and Persist take the write lock; Query runs under the read lock, so
// readers see either the pre- or post-insert state, never a partial one.
type VectorIndex struct {
	mu      sync.RWMutex
	dim     int
	records []MemoryRecord
	byID    map[string]int
}

func NewVectorIndex(dim int) *VectorIndex {
	return &VectorIndex{dim: dim, byID: make(map[string]int)}
}

func (x *VectorIndex) Dim() int { return x.dim }

func (x *VectorIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.records)
}

// Insert adds a record. Re-inserting an id already present is an idempotent
// no-op, not an error.
func (x *VectorIndex) Insert(rec MemoryRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("insert: empty record id")
	}
	if len(rec.Vector) != x.dim {
		return fmt.Errorf("insert: vector dim %d, index dim %d", len(rec.Vector), x.dim)
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if _, exists := x.byID[rec.ID]; exists {
		return nil
	}
	if rec.InsertedAt.IsZero() {
		rec.InsertedAt = time.Now()
	}
	x.byID[rec.ID] = len(x.records)
	x.records = append(x.records, rec)
	return nil
}

// Query returns up to k records ordered by non-increasing cosine similarity.
// Ties keep insertion order, earliest first.
func (x *VectorIndex) Query(vec []float32, k int) []SearchHit {
	if k <= 0 || len(vec) != x.dim {
		return nil
	}

	x.mu.RLock()
	hits := make([]SearchHit, 0, len(x.records))
	for _, rec := range x.records {
		hits = append(hits, SearchHit{Record: rec, Similarity: cosine(vec, rec.Vector)})
	}
	x.mu.RUnlock()

	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Similarity > hits[j].Similarity
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Persist writes the full snapshot in one transaction, replacing any prior
// snapshot. Mutually exclusive with Insert and with other Persist calls.
func (x *VectorIndex) Persist(db *sql.DB) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM memory_records`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO memory_records (id, vector, summary, inserted_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rec := range x.records {
		vecJSON, err := json.Marshal(rec.Vector)
		if err != nil {
			return err
		}
		if _, err := stmt.Exec(rec.ID, string(vecJSON), rec.Summary, rec.InsertedAt.UnixNano()); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	log.Printf("vector index persisted records=%d", len(x.records))
	return nil
}

// LoadIndex rebuilds an index from the persisted snapshot. On a corrupt
// snapshot it returns a fresh empty index together with ErrIndexCorrupt so
// the caller can warn and carry on.
func LoadIndex(db *sql.DB, dim int) (*VectorIndex, error) {
	x := NewVectorIndex(dim)

	rows, err := db.Query(`SELECT id, vector, summary, inserted_at FROM memory_records ORDER BY inserted_at, id`)
	if err != nil {
		return NewVectorIndex(dim), fmt.Errorf("%w: %v", ErrIndexCorrupt, err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec MemoryRecord
		var vecJSON string
		var insertedAt int64
		if err := rows.Scan(&rec.ID, &vecJSON, &rec.Summary, &insertedAt); err != nil {
			return NewVectorIndex(dim), fmt.Errorf("%w: %v", ErrIndexCorrupt, err)
		}
		if err := json.Unmarshal([]byte(vecJSON), &rec.Vector); err != nil {
			return NewVectorIndex(dim), fmt.Errorf("%w: record %s: %v", ErrIndexCorrupt, rec.ID, err)
		}
		if len(rec.Vector) != dim {
			return NewVectorIndex(dim), fmt.Errorf("%w: record %s has dim %d, want %d", ErrIndexCorrupt, rec.ID, len(rec.Vector), dim)
		}
		rec.InsertedAt = time.Unix(0, insertedAt)
		x.byID[rec.ID] = len(x.records)
		x.records = append(x.records, rec)
	}
	if err := rows.Err(); err != nil {
		return NewVectorIndex(dim), fmt.Errorf("%w: %v", ErrIndexCorrupt, err)
	}
	log.Printf("vector index loaded records=%d", len(x.records))
	return x, nil
}

// RecordFromResult builds the memory record for a finalized result: a compact
// textual summary plus its embedding.
func RecordFromResult(ctx context.Context, result AnalysisResult, embedder Embedder) (MemoryRecord, error) {
	summary := SummarizeResult(result)
	vec, err := embedder.Embed(ctx, summary)
	if err != nil {
		return MemoryRecord{}, fmt.Errorf("embed summary: %w", err)
	}
	return MemoryRecord{
		ID:      result.Log.SourceID(),
		Vector:  vec,
		Summary: summary,
	}, nil
}

// SummarizeResult renders the retrievable text for an analyzed incident.
func SummarizeResult(result AnalysisResult) string {
	reasoning := result.Reasoning
	if len(reasoning) > 240 {
		reasoning = reasoning[:240] + "..."
	}
	sensitive := "none"
	if len(result.DetectedSensitive) > 0 {
		sensitive = strings.Join(result.DetectedSensitive, ", ")
	}
	return fmt.Sprintf("User: %s\nDepartment: %s\nURL: %s\nRisk: %s (Score: %d)\nReasoning: %s\nDetected sensitive data: %s",
		result.Log.UserID, result.Log.Department, result.Log.RequestURL,
		result.Category, result.Score, reasoning, sensitive)
}
