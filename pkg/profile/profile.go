// Package profile persists how often each basic block ran, so a later run can
// promote hot blocks to compiled code without warming up again.
package profile

import (
	"encoding/binary"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
)

// Keys are prefixed so the store can later hold other per-block records.
const visitsPrefix = 'v'

// Store keeps block visit counts keyed by block fingerprint in a Pebble
// database. Records are buffered until Flush.
type Store struct {
	db      *pebble.DB
	mu      sync.Mutex
	pending map[[32]byte]uint64
}

// Open opens (or creates) the profile database at path.
func Open(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "opening profile at %s", path)
	}
	return &Store{
		db:      db,
		pending: make(map[[32]byte]uint64),
	}, nil
}

func visitsKey(fp [32]byte) []byte {
	key := make([]byte, 0, 1+len(fp))
	key = append(key, visitsPrefix)
	return append(key, fp[:]...)
}

// Lookup returns the stored visit count of the block with fingerprint fp,
// or 0 if the block was never recorded.
func (s *Store) Lookup(fp [32]byte) (uint64, error) {
	s.mu.Lock()
	if n, ok := s.pending[fp]; ok {
		s.mu.Unlock()
		return n, nil
	}
	s.mu.Unlock()

	value, closer, err := s.db.Get(visitsKey(fp))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrap(err, "reading block profile")
	}
	defer closer.Close()
	if len(value) != 8 {
		return 0, errors.Newf("corrupt profile record for %x: %d bytes", fp[:8], len(value))
	}
	return binary.LittleEndian.Uint64(value), nil
}

// Record sets the visit count of a block. It is persisted by the next Flush.
func (s *Store) Record(fp [32]byte, visits uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[fp] = visits
}

// Flush writes all pending records in one synced batch.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		return nil
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	var value [8]byte
	for fp, n := range s.pending {
		binary.LittleEndian.PutUint64(value[:], n)
		if err := batch.Set(visitsKey(fp), value[:], nil); err != nil {
			return errors.Wrap(err, "staging profile record")
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return errors.Wrap(err, "committing profile")
	}
	clear(s.pending)
	return nil
}

// Entries returns every persisted record.
func (s *Store) Entries() (map[[32]byte]uint64, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte{visitsPrefix},
		UpperBound: []byte{visitsPrefix + 1},
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	out := make(map[[32]byte]uint64)
	for iter.First(); iter.Valid(); iter.Next() {
		key, value := iter.Key(), iter.Value()
		if len(key) != 33 || len(value) != 8 {
			continue
		}
		var fp [32]byte
		copy(fp[:], key[1:])
		out[fp] = binary.LittleEndian.Uint64(value)
	}
	return out, iter.Error()
}

// Close flushes pending records and closes the database.
func (s *Store) Close() error {
	flushErr := s.Flush()
	closeErr := s.db.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}
