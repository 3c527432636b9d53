// Package safetest provides an in-memory safe store for tests.
package safetest

import (
	"context"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fuelops/stationledger/internal/safe"
)

// Store is an in-memory safe.Repository. Transactions run concurrently and are
// buffered so a failing callback leaves no trace. A commit fails with
// ErrSerialization when another writer changed a safe the transaction read,
// the way a repeatable-read transaction would in Postgres.
type Store struct {
	mu sync.Mutex

	safes    map[int64]safe.Safe
	versions map[int64]int64
	entries  map[int64][]safe.SafeTransaction

	// FailInsert, when set, is returned by the next InsertTransaction call.
	FailInsert error
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		safes:    make(map[int64]safe.Safe),
		versions: make(map[int64]int64),
		entries:  make(map[int64][]safe.SafeTransaction),
	}
}

// WithTx runs fn in a buffered transaction committed only when fn succeeds.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, safe.TxRepository) error) error {
	tx := &Tx{store: s, safes: make(map[int64]safe.Safe), read: make(map[int64]int64)}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, version := range tx.read {
		if s.versions[id] != version {
			return ErrSerialization
		}
	}
	for id, head := range tx.safes {
		s.safes[id] = head
		s.versions[id]++
	}
	for _, e := range tx.inserted {
		s.entries[e.StationID] = append(s.entries[e.StationID], e)
	}
	return nil
}

// GetSafe implements safe.Repository.
func (s *Store) GetSafe(_ context.Context, stationID int64) (safe.Safe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	head, ok := s.safes[stationID]
	if !ok {
		return safe.Safe{}, safe.ErrSafeNotFound
	}
	return head, nil
}

// ListTransactions implements safe.Repository.
func (s *Store) ListTransactions(_ context.Context, stationID int64, filter safe.ListFilter) ([]safe.SafeTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	types := make(map[safe.TransactionType]bool, len(filter.Types))
	for _, t := range filter.Types {
		types[t] = true
	}
	var out []safe.SafeTransaction
	for _, e := range s.entries[stationID] {
		if !filter.From.IsZero() && e.Timestamp.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && !e.Timestamp.Before(filter.To) {
			continue
		}
		if len(types) > 0 && !types[e.Type] {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq > out[j].Seq })
	return out, nil
}

// ChainEntries implements safe.Repository.
func (s *Store) ChainEntries(_ context.Context, stationID int64) ([]safe.SafeTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]safe.SafeTransaction(nil), s.entries[stationID]...)
	return out, nil
}

// Halt implements safe.Repository.
func (s *Store) Halt(_ context.Context, stationID int64, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	head := s.safes[stationID]
	head.StationID = stationID
	if !head.Halted {
		head.Halted = true
		head.HaltReason = reason
	}
	s.safes[stationID] = head
	s.versions[stationID]++
	return nil
}

// Stations implements safe.Repository.
func (s *Store) Stations(context.Context) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]int64, 0, len(s.safes))
	for id := range s.safes {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Entries returns a copy of the committed entries for a station.
func (s *Store) Entries(stationID int64) []safe.SafeTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]safe.SafeTransaction(nil), s.entries[stationID]...)
}

// Tamper rewrites a committed entry in place.
func (s *Store) Tamper(stationID, seq int64, fn func(*safe.SafeTransaction)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.entries[stationID] {
		if s.entries[stationID][i].Seq == seq {
			fn(&s.entries[stationID][i])
		}
	}
}

// Tx is a buffered store transaction.
type Tx struct {
	store    *Store
	safes    map[int64]safe.Safe
	read     map[int64]int64
	inserted []safe.SafeTransaction
}

// LockSafe snapshots the head without blocking other transactions.
func (t *Tx) LockSafe(_ context.Context, stationID int64) (safe.Safe, error) {
	if head, ok := t.safes[stationID]; ok {
		return head, nil
	}
	t.store.mu.Lock()
	head, ok := t.store.safes[stationID]
	t.read[stationID] = t.store.versions[stationID]
	t.store.mu.Unlock()
	if !ok {
		head = safe.Safe{StationID: stationID}
	}
	t.safes[stationID] = head
	// Widen the window in which unsynchronised writers would interleave.
	runtime.Gosched()
	return head, nil
}

func (t *Tx) LastTransaction(_ context.Context, stationID int64) (safe.SafeTransaction, error) {
	all := t.all(stationID)
	if len(all) == 0 {
		return safe.SafeTransaction{}, safe.ErrTransactionNotFound
	}
	return all[len(all)-1], nil
}

func (t *Tx) GetTransaction(_ context.Context, stationID int64, id uuid.UUID) (safe.SafeTransaction, error) {
	for _, e := range t.all(stationID) {
		if e.ID == id {
			return e, nil
		}
	}
	return safe.SafeTransaction{}, safe.ErrTransactionNotFound
}

func (t *Tx) IsCorrected(_ context.Context, stationID int64, id uuid.UUID) (bool, error) {
	for _, e := range t.all(stationID) {
		if e.Links.CorrectsID != nil && *e.Links.CorrectsID == id {
			return true, nil
		}
	}
	return false, nil
}

func (t *Tx) CountBetween(_ context.Context, stationID int64, from, to time.Time) (int, error) {
	count := 0
	for _, e := range t.all(stationID) {
		if !e.Timestamp.Before(from) && e.Timestamp.Before(to) {
			count++
		}
	}
	return count, nil
}

func (t *Tx) InsertTransaction(_ context.Context, txn safe.SafeTransaction) error {
	if err := t.store.FailInsert; err != nil {
		t.store.FailInsert = nil
		return err
	}
	for _, e := range t.all(txn.StationID) {
		if e.Seq == txn.Seq {
			return errDuplicateSeq
		}
	}
	t.inserted = append(t.inserted, txn)
	return nil
}

func (t *Tx) UpdateHead(_ context.Context, head safe.Safe) error {
	t.safes[head.StationID] = head
	return nil
}

func (t *Tx) all(stationID int64) []safe.SafeTransaction {
	t.store.mu.Lock()
	out := append([]safe.SafeTransaction(nil), t.store.entries[stationID]...)
	t.store.mu.Unlock()
	for _, e := range t.inserted {
		if e.StationID == stationID {
			out = append(out, e)
		}
	}
	return out
}

type storeError string

func (e storeError) Error() string { return string(e) }

const (
	errDuplicateSeq = storeError("safetest: duplicate seq")

	// ErrSerialization reports a commit that lost a race on a safe head.
	ErrSerialization = storeError("safetest: could not serialize access")
)
