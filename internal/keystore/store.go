// Package keystore keeps imported keys and their latest validation outcome.
package keystore

import (
	"sync"
	"time"

	"keyprobe/internal/core/validator"
)

// Status is where a key is in its query lifecycle.
type Status string

const (
	StatusNew      Status = "new"      // imported, never queried
	StatusWaiting  Status = "waiting"  // submitted to a batch, not admitted yet
	StatusQuerying Status = "querying" // admitted, validation running
	StatusDone     Status = "done"     // Outcome holds the latest result
)

// Record is one key and its latest outcome.
type Record struct {
	Key     string             `json:"key" yaml:"key"`
	Seq     int                `json:"seq" yaml:"-"`
	Status  Status             `json:"status" yaml:"status"`
	AddedAt time.Time          `json:"added_at" yaml:"added_at"`
	Outcome *validator.Outcome `json:"outcome,omitempty" yaml:"outcome,omitempty"`
}

// Store is the in-memory key table backed by a Storage.
type Store struct {
	storage Storage
	mu      sync.RWMutex
	records map[string]*Record
	nextSeq int
	now     func() time.Time
}

// New creates an empty store. Call Load to read persisted records.
func New(storage Storage) *Store {
	return &Store{
		storage: storage,
		records: make(map[string]*Record),
		now:     time.Now,
	}
}

// Load replaces the in-memory table with the persisted one. Records that were
// waiting or querying when saved are reset to their pre-batch state.
func (s *Store) Load() error {
	records, err := s.storage.Load()
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = records
	s.nextSeq = 0
	for _, r := range records {
		if r.Seq >= s.nextSeq {
			s.nextSeq = r.Seq + 1
		}
		if r.Status == StatusWaiting || r.Status == StatusQuerying {
			r.Status = settledStatus(r)
		}
	}
	return nil
}

// Save persists the current table.
func (s *Store) Save() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.storage.Save(s.records)
}

// Add merges keys into the store and returns how many were new.
func (s *Store) Add(keys []string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	added := 0
	for _, k := range keys {
		if _, exists := s.records[k]; exists {
			continue
		}
		s.records[k] = &Record{Key: k, Seq: s.nextSeq, Status: StatusNew, AddedAt: s.now()}
		s.nextSeq++
		added++
	}
	return added
}

// Len returns the number of stored keys.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// SelectForQuery returns the keys to submit to a batch, in import order. With
// skipSucceeded, keys whose latest query phase succeeded are left out so that
// only inconclusive or never-queried keys are resubmitted.
func (s *Store) SelectForQuery(skipSucceeded bool) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.sortedLocked()
	keys := make([]string, 0, len(list))
	for _, r := range list {
		if skipSucceeded && r.Outcome.Succeeded() {
			continue
		}
		keys = append(keys, r.Key)
	}
	return keys
}

// MarkWaiting flags keys as submitted to a batch.
func (s *Store) MarkWaiting(keys []string) {
	s.setStatus(keys, StatusWaiting)
}

// MarkQuerying flags a key as admitted.
func (s *Store) MarkQuerying(key string) {
	s.setStatus([]string{key}, StatusQuerying)
}

// SetOutcome stores the latest outcome of a key. Outcomes for unknown keys
// add the key.
func (s *Store) SetOutcome(out *validator.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[out.Key]
	if !ok {
		r = &Record{Key: out.Key, Seq: s.nextSeq, AddedAt: s.now()}
		s.nextSeq++
		s.records[out.Key] = r
	}
	r.Outcome = out
	r.Status = StatusDone
}

// Settle resets keys still waiting or querying, used after a stopped batch.
func (s *Store) Settle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.records {
		if r.Status == StatusWaiting || r.Status == StatusQuerying {
			r.Status = settledStatus(r)
		}
	}
}

// Records returns copies of all records in import order.
func (s *Store) Records() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.sortedLocked()
	out := make([]Record, len(list))
	for i, r := range list {
		out[i] = *r
	}
	return out
}

// Get returns a copy of one record.
func (s *Store) Get(key string) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[key]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

func (s *Store) setStatus(keys []string, status Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		if r, ok := s.records[k]; ok {
			r.Status = status
		}
	}
}

func (s *Store) sortedLocked() []*Record {
	list := make([]*Record, 0, len(s.records))
	for _, r := range s.records {
		list = append(list, r)
	}
	sortRecords(list)
	return list
}

func settledStatus(r *Record) Status {
	if r.Outcome != nil {
		return StatusDone
	}
	return StatusNew
}
