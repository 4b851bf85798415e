// Package audit keeps the evidence trail of grading runs. Each run gets an
// append-only record of per-stage events; once sealed a record never changes,
// so a reviewer can replay exactly what the pipeline saw and decided.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// Pipeline stages recorded in the trail.
const (
	StageRegister = "register"
	StageMapGrid  = "map_grid"
	StageExtract  = "extract"
	StageResolve  = "resolve"
	StageScore    = "score"
)

// Run outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
)

// Event is one recorded pipeline step.
type Event struct {
	Seq     int            `json:"seq"`
	Stage   string         `json:"stage"`
	At      time.Time      `json:"at"`
	Message string         `json:"message"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// Record is the audit trail of one grading run.
type Record struct {
	mu sync.Mutex

	RunID      string    `json:"run_id"`
	SheetID    string    `json:"sheet_id,omitempty"`
	Template   string    `json:"template"`
	KeyVersion string    `json:"key_version"`
	Started    time.Time `json:"started"`
	Finished   time.Time `json:"finished"`
	Outcome    string    `json:"outcome,omitempty"`
	Error      string    `json:"error,omitempty"`
	Events     []Event   `json:"events"`

	sealed bool
}

// NewRecord starts an audit record for a run.
func NewRecord(runID, sheetID, templateName, keyVersion string) *Record {
	return &Record{
		RunID:      runID,
		SheetID:    sheetID,
		Template:   templateName,
		KeyVersion: keyVersion,
		Started:    time.Now().UTC(),
		Events:     make([]Event, 0, 8),
	}
}

// Append adds one event to the trail. Appending to a sealed record fails.
func (r *Record) Append(stage, message string, fields map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("audit record %s is sealed", r.RunID)
	}

	r.Events = append(r.Events, Event{
		Seq:     len(r.Events) + 1,
		Stage:   stage,
		At:      time.Now().UTC(),
		Message: message,
		Fields:  fields,
	})
	return nil
}

// Seal finalizes the record with an outcome. A nil err seals as completed,
// otherwise as failed with the error text. Sealing twice is a no-op.
func (r *Record) Seal(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return
	}
	r.sealed = true
	r.Finished = time.Now().UTC()
	if err != nil {
		r.Outcome = OutcomeFailed
		r.Error = err.Error()
	} else {
		r.Outcome = OutcomeCompleted
	}
}

// Sealed reports whether the record is finalized.
func (r *Record) Sealed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sealed
}

// EventCount returns the number of recorded events.
func (r *Record) EventCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Events)
}

// ExportJSON serializes the record.
func (r *Record) ExportJSON() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return json.MarshalIndent(r, "", "  ")
}

// SaveToFile writes the record as JSON.
func (r *Record) SaveToFile(path string) error {
	data, err := r.ExportJSON()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Store holds recent audit records in memory, keyed by run ID. When the
// capacity is exceeded the oldest records are dropped.
type Store struct {
	mu       sync.RWMutex
	records  map[string]*Record
	order    []string
	capacity int
}

// NewStore creates a store keeping up to capacity records.
func NewStore(capacity int) *Store {
	if capacity < 1 {
		capacity = 1
	}
	return &Store{
		records:  make(map[string]*Record),
		capacity: capacity,
	}
}

// Put registers a record, evicting the oldest beyond capacity.
func (s *Store) Put(r *Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.records[r.RunID]; !exists {
		s.order = append(s.order, r.RunID)
	}
	s.records[r.RunID] = r

	for len(s.order) > s.capacity {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.records, oldest)
	}
}

// Get returns the record for a run ID.
func (s *Store) Get(runID string) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[runID]
	return r, ok
}

// FindBySheet returns all retained records for a sheet, oldest first.
// Failed runs produce no grade result, so this is how a sheet's history
// is recovered.
func (s *Store) FindBySheet(sheetID string) []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []*Record
	for _, runID := range s.order {
		if r := s.records[runID]; r != nil && r.SheetID == sheetID {
			matches = append(matches, r)
		}
	}
	return matches
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
