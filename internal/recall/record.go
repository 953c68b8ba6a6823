// Package recall implements multi-path retrieval over learned
// question/answer records and indexed code fragments.
package recall

import (
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"

	"skb/internal/skberr"
	"skb/internal/storage"
)

// LearningRecord is one remembered question/answer pair. Records are
// immutable once written; corrections are new records.
type LearningRecord struct {
	ID          string
	ProjectKey  string
	Domain      string
	Question    string
	Answer      string
	Confidence  float64
	SourceFiles []string
	Vector      []float32
	CreatedAt   time.Time
}

// Repository persists learning records in SQLite
type Repository struct {
	db *storage.DB
}

// NewRepository creates a record repository
func NewRepository(db *storage.DB) *Repository {
	return &Repository{db: db}
}

// Insert stores a record, assigning an id when the caller left it empty
func (r *Repository) Insert(rec LearningRecord) (LearningRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	files, err := json.Marshal(rec.SourceFiles)
	if err != nil {
		return rec, skberr.Wrap(skberr.Internal, "failed to marshal source files", err)
	}

	_, err = r.db.Exec(
		`INSERT INTO learning_records (id, project_key, domain, question, answer, confidence, source_files, vector, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ProjectKey, rec.Domain, rec.Question, rec.Answer,
		rec.Confidence, string(files), encodeRecordVector(rec.Vector), rec.CreatedAt.Unix())
	if err != nil {
		return rec, skberr.Wrap(skberr.StoreIO, "failed to insert learning record", err)
	}
	return rec, nil
}

// SearchKeyword finds records whose question or answer contains the
// query substring, newest first
func (r *Repository) SearchKeyword(projectKey, query string, limit int) ([]LearningRecord, error) {
	pattern := "%" + escapeLike(query) + "%"
	rows, err := r.db.Query(
		`SELECT id, project_key, domain, question, answer, confidence, source_files, vector, created_at
		 FROM learning_records
		 WHERE project_key = ? AND (question LIKE ? ESCAPE '\' OR answer LIKE ? ESCAPE '\')
		 ORDER BY created_at DESC LIMIT ?`,
		projectKey, pattern, pattern, limit)
	if err != nil {
		return nil, skberr.Wrap(skberr.StoreIO, "keyword search failed", err)
	}
	return scanRecords(rows)
}

// ListByProject returns all records of a project, used for vector scans
func (r *Repository) ListByProject(projectKey string) ([]LearningRecord, error) {
	rows, err := r.db.Query(
		`SELECT id, project_key, domain, question, answer, confidence, source_files, vector, created_at
		 FROM learning_records WHERE project_key = ?`, projectKey)
	if err != nil {
		return nil, skberr.Wrap(skberr.StoreIO, "failed to list learning records", err)
	}
	return scanRecords(rows)
}

// Count returns the number of records of a project
func (r *Repository) Count(projectKey string) (int, error) {
	var n int
	err := r.db.QueryRow(
		"SELECT COUNT(*) FROM learning_records WHERE project_key = ?", projectKey).Scan(&n)
	if err != nil {
		return 0, skberr.Wrap(skberr.StoreIO, "failed to count learning records", err)
	}
	return n, nil
}

func scanRecords(rows *sql.Rows) ([]LearningRecord, error) {
	defer func() { _ = rows.Close() }()

	var records []LearningRecord
	for rows.Next() {
		var (
			rec       LearningRecord
			files     string
			vector    []byte
			createdAt int64
		)
		if err := rows.Scan(&rec.ID, &rec.ProjectKey, &rec.Domain, &rec.Question, &rec.Answer,
			&rec.Confidence, &files, &vector, &createdAt); err != nil {
			return nil, skberr.Wrap(skberr.StoreIO, "failed to scan learning record", err)
		}
		if err := json.Unmarshal([]byte(files), &rec.SourceFiles); err != nil {
			return nil, skberr.Wrap(skberr.StoreIO, fmt.Sprintf("record %s has invalid source files", rec.ID), err)
		}
		rec.Vector = decodeRecordVector(vector)
		rec.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, skberr.Wrap(skberr.StoreIO, "failed to iterate learning records", err)
	}
	return records, nil
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	return strings.ReplaceAll(s, "_", `\_`)
}

func encodeRecordVector(v []float32) []byte {
	if len(v) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeRecordVector(buf []byte) []float32 {
	if len(buf) < 4 {
		return nil
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}
