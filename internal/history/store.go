// Package history keeps a small local record of past runs so intervention
// rates can be compared as guardrail definitions change.
package history

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/gzhole/guardrailwatch/internal/runner"
)

var runsBucket = []byte("runs")

// Record is the persisted form of one run.
type Record struct {
	ID            string         `json:"id"`
	StartedAt     time.Time      `json:"started_at"`
	FinishedAt    time.Time      `json:"finished_at"`
	ModelID       string         `json:"model_id"`
	Fixture       string         `json:"fixture"`
	Total         int            `json:"total"`
	Interventions int            `json:"interventions"`
	Failed        int            `json:"failed"`
	Skipped       []string       `json:"skipped,omitempty"`
	Policies      []PolicyRecord `json:"policies"`
}

type PolicyRecord struct {
	Name          string `json:"name"`
	ID            string `json:"id"`
	Total         int    `json:"total"`
	Interventions int    `json:"interventions"`
	Failed        int    `json:"failed"`
}

// NewRecord converts a finished run into a Record. An empty id gets a fresh
// UUID.
func NewRecord(id string, s *runner.Summary, modelID, fixture string) Record {
	if id == "" {
		id = uuid.NewString()
	}
	rec := Record{
		ID:            id,
		StartedAt:     s.StartedAt.UTC(),
		FinishedAt:    s.FinishedAt.UTC(),
		ModelID:       modelID,
		Fixture:       fixture,
		Total:         s.Total,
		Interventions: s.Interventions,
		Failed:        s.Failed,
		Skipped:       s.Skipped,
	}
	for _, ps := range s.Policies {
		rec.Policies = append(rec.Policies, PolicyRecord{
			Name:          ps.Name,
			ID:            ps.ID,
			Total:         ps.Total(),
			Interventions: ps.Interventions,
			Failed:        ps.Failed,
		})
	}
	return rec
}

type Store struct {
	db *bolt.DB
}

func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(runsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init history bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// key sorts records chronologically; the id suffix keeps runs that finish
// in the same nanosecond apart.
func key(rec Record) []byte {
	return []byte(rec.FinishedAt.UTC().Format("20060102T150405.000000000Z") + "/" + rec.ID)
}

func (s *Store) Add(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(runsBucket).Put(key(rec), data)
	})
}

// List returns up to limit records, newest first. A limit of zero or less
// returns everything.
func (s *Store) List(limit int) ([]Record, error) {
	var recs []Record
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(runsBucket).Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			if limit > 0 && len(recs) >= limit {
				break
			}
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decode run %s: %w", k, err)
			}
			recs = append(recs, rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return recs, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
