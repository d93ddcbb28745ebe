// Package history is the append-only audit trail of swap attempts, backed by
// a write-ahead log.
package history

import (
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"github.com/vadiminshakov/gowal"
	"github.com/vadiminshakov/obmen/internal/domain"
)

const (
	DefaultDir = "./wal/history"

	segmentLimit = 1000
	maxSegments  = 100

	recordKeyPrefix = "swap_record_"
)

// WALStore persists swap records in a WAL and serves per-user queries from
// in-memory indexes rebuilt on start. Records are never updated or deleted.
type WALStore struct {
	wal    *gowal.Wal
	mu     sync.RWMutex
	byUser map[string][]*domain.SwapRecord
	byKey  map[string]*domain.SwapRecord
}

// NewWALStore opens (or creates) the history WAL under dir and replays it to
// rebuild the query indexes.
func NewWALStore(dir string) (*WALStore, error) {
	if dir == "" {
		dir = DefaultDir
	}

	cfg := gowal.Config{
		Dir:              dir,
		Prefix:           "history_",
		SegmentThreshold: segmentLimit,
		MaxSegments:      maxSegments,
		IsInSyncDiskMode: true,
	}

	wal, err := gowal.NewWAL(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "init history WAL")
	}

	s := &WALStore{
		wal:    wal,
		byUser: make(map[string][]*domain.SwapRecord),
		byKey:  make(map[string]*domain.SwapRecord),
	}
	if err := s.replay(); err != nil {
		return nil, err
	}
	return s, nil
}

// Append writes the record to the WAL. It is idempotent on the idempotency
// key: appending a duplicate for a key whose stored outcome is settled
// (succeeded or terminally failed) is a no-op returning the original record.
// A record for a key whose previous attempt failed with a retryable reason
// supersedes it as the key's current record; both attempts stay in history.
func (s *WALStore) Append(record domain.SwapRecord) (domain.SwapRecord, error) {
	if s == nil || s.wal == nil {
		return domain.SwapRecord{}, errors.New("history store is not initialized")
	}
	if record.UserID == "" {
		return domain.SwapRecord{}, errors.New("swap record user id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if record.IdempotencyKey != "" {
		if existing, ok := s.byKey[indexKey(record.UserID, record.IdempotencyKey)]; ok {
			if settled(existing) {
				return *existing, nil
			}
		}
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return domain.SwapRecord{}, errors.Wrap(err, "marshal swap record")
	}

	nextIndex := s.wal.CurrentIndex() + 1
	if err := s.wal.Write(nextIndex, recordKeyPrefix+record.UserID, payload); err != nil {
		return domain.SwapRecord{}, errors.Wrap(err, "write swap record")
	}

	s.index(record)
	return record, nil
}

// FindByKey returns the current record for the user's idempotency key.
func (s *WALStore) FindByKey(userID, idempotencyKey string) (domain.SwapRecord, bool) {
	if idempotencyKey == "" {
		return domain.SwapRecord{}, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.byKey[indexKey(userID, idempotencyKey)]
	if !ok {
		return domain.SwapRecord{}, false
	}
	return *record, true
}

// ListFor returns the user's swap records in reverse chronological order.
// A non-positive limit returns everything.
func (s *WALStore) ListFor(userID string, limit int) []domain.SwapRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.byUser[userID]
	if limit <= 0 || limit > len(records) {
		limit = len(records)
	}

	out := make([]domain.SwapRecord, 0, limit)
	for i := len(records) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, *records[i])
	}
	return out
}

// Close closes the underlying WAL.
func (s *WALStore) Close() error {
	if s == nil || s.wal == nil {
		return errors.New("history store is not initialized")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.wal.Close()
}

// replay rebuilds the in-memory indexes from the WAL contents.
func (s *WALStore) replay() error {
	current := s.wal.CurrentIndex()
	for idx := uint64(1); idx <= current; idx++ {
		_, payload, err := s.wal.Get(idx)
		if err != nil {
			continue
		}

		var record domain.SwapRecord
		if err := json.Unmarshal(payload, &record); err != nil {
			return errors.Wrapf(err, "decode swap record at index %d", idx)
		}
		s.index(record)
	}
	return nil
}

// index registers the record in the query indexes. Callers must hold mu.
func (s *WALStore) index(record domain.SwapRecord) {
	stored := record
	s.byUser[record.UserID] = append(s.byUser[record.UserID], &stored)
	if record.IdempotencyKey != "" {
		s.byKey[indexKey(record.UserID, record.IdempotencyKey)] = &stored
	}
}

// settled reports whether the record's outcome is final for its idempotency
// key: a success or a failure the engine will not re-execute.
func settled(record *domain.SwapRecord) bool {
	return record.Succeeded() || !record.Reason.Retryable()
}

func indexKey(userID, idempotencyKey string) string {
	return userID + "|" + idempotencyKey
}
