package metrics

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

var (
	// ErrAlreadyWritten is returned when a key is written a second time in a run.
	ErrAlreadyWritten = errors.New("metric already written")

	// ErrFrozen is returned when writing to a store that has been handed off.
	ErrFrozen = errors.New("metric store is frozen")
)

// WriteError reports which key a rejected write targeted.
type WriteError struct {
	Key Key
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write %s: %v", e.Key, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Entry is one (name, value) pair in insertion order.
type Entry struct {
	Key   Key
	Value decimal.Decimal
}

// =============================================================================
// STORE - write-once map of metric values for one client run
// =============================================================================

// Store holds the metric values of a single computation run. Every key is
// written at most once; after Freeze the store is read-only.
type Store struct {
	mu     sync.RWMutex
	values map[Key]decimal.Decimal
	order  []Key
	frozen bool
}

func NewStore() *Store {
	return &Store{values: make(map[Key]decimal.Decimal)}
}

// Put writes a value. Writing an existing key or writing after Freeze fails.
func (s *Store) Put(k Key, v decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.frozen {
		return &WriteError{Key: k, Err: ErrFrozen}
	}
	if _, ok := s.values[k]; ok {
		return &WriteError{Key: k, Err: ErrAlreadyWritten}
	}
	s.values[k] = v
	s.order = append(s.order, k)
	return nil
}

// Get returns the value and whether the key is present.
func (s *Store) Get(k Key) (decimal.Decimal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[k]
	return v, ok
}

// Value returns the value of k, or zero when k was never written.
func (s *Store) Value(k Key) decimal.Decimal {
	v, _ := s.Get(k)
	return v
}

func (s *Store) Has(k Key) bool {
	_, ok := s.Get(k)
	return ok
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}

// Freeze makes the store read-only. Freezing twice is a no-op.
func (s *Store) Freeze() {
	s.mu.Lock()
	s.frozen = true
	s.mu.Unlock()
}

func (s *Store) Frozen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frozen
}

// Entries returns every value in the order it was written.
func (s *Store) Entries() []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Entry, 0, len(s.order))
	for _, k := range s.order {
		out = append(out, Entry{Key: k, Value: s.values[k]})
	}
	return out
}

// Sorted returns every value ordered by key name.
func (s *Store) Sorted() []Entry {
	out := s.Entries()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
