// Package badgerstore is a checkpoint.Store on an embedded Badger database,
// for single-host deployments that run without PostgreSQL.
package badgerstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/ripkitten-co/prowl"
	"github.com/ripkitten-co/prowl/checkpoint"
	"github.com/ripkitten-co/prowl/internal/codecs"
)

const (
	keyPrefix = "prowl:projection:"

	// conflicting read-modify-write transactions are retried this often
	maxAttempts = 5
)

type record struct {
	Status      checkpoint.Status `json:"status"`
	Position    map[string]int64  `json:"position"`
	State       []byte            `json:"state,omitempty"`
	LockedUntil *time.Time        `json:"locked_until,omitempty"`
}

// Store keeps one JSON record per projection under keyPrefix.
type Store struct {
	db    *badger.DB
	codec codecs.Codec
}

// Open opens or creates a Badger database in dir.
func Open(dir string) (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("badgerstore: open %s: %w", dir, err)
	}
	return New(db), nil
}

// OpenInMemory opens a Badger database that lives only in memory.
func OpenInMemory() (*Store, error) {
	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("badgerstore: open in memory: %w", err)
	}
	return New(db), nil
}

// New wraps an open database. The caller keeps ownership of db unless it
// calls Close.
func New(db *badger.DB) *Store {
	return &Store{db: db, codec: codecs.NewJSONIter()}
}

func (s *Store) Close() error { return s.db.Close() }

func key(name string) []byte { return []byte(keyPrefix + name) }

func (s *Store) read(txn *badger.Txn, name string) (*record, error) {
	item, err := txn.Get(key(name))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec record
	if err := item.Value(func(val []byte) error {
		return s.codec.Unmarshal(val, &rec)
	}); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) write(txn *badger.Txn, name string, rec *record) error {
	buf, err := s.codec.Marshal(rec)
	if err != nil {
		return err
	}
	return txn.Set(key(name), buf)
}

func (s *Store) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	var err error
	for range maxAttempts {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", prowl.ErrConcurrencyConflict, err)
}

func (s *Store) Get(ctx context.Context, name string) (*checkpoint.Descriptor, error) {
	var rec *record
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = s.read(txn, name)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("checkpoint %s: get: %w", name, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("checkpoint %s: get: %w", name, prowl.ErrProjectionNotFound)
	}
	return rec.descriptor(name), nil
}

func (s *Store) CreateIfAbsent(ctx context.Context, d checkpoint.Descriptor) (bool, error) {
	var created bool
	err := s.update(ctx, func(txn *badger.Txn) error {
		created = false
		existing, err := s.read(txn, d.Name)
		if err != nil || existing != nil {
			return err
		}
		rec := fromDescriptor(d)
		if rec.Status == "" {
			rec.Status = checkpoint.StatusIdle
		}
		created = true
		return s.write(txn, d.Name, rec)
	})
	if err != nil {
		return false, fmt.Errorf("checkpoint %s: create: %w", d.Name, err)
	}
	return created, nil
}

func (s *Store) ConditionalUpdate(ctx context.Context, name string, pred checkpoint.Predicate, patch checkpoint.Patch) (int64, error) {
	var n int64
	err := s.update(ctx, func(txn *badger.Txn) error {
		n = 0
		rec, err := s.read(txn, name)
		if err != nil || rec == nil {
			return err
		}
		d := rec.descriptor(name)
		if !pred.Holds(*d) {
			return nil
		}
		patch.Apply(d)
		n = 1
		return s.write(txn, name, fromDescriptor(*d))
	})
	if err != nil {
		return 0, fmt.Errorf("checkpoint %s: conditional update: %w", name, err)
	}
	return n, nil
}

func (s *Store) Update(ctx context.Context, name string, patch checkpoint.Patch) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		rec, err := s.read(txn, name)
		if err != nil {
			return err
		}
		if rec == nil {
			return prowl.ErrProjectionNotFound
		}
		d := rec.descriptor(name)
		patch.Apply(d)
		return s.write(txn, name, fromDescriptor(*d))
	})
	if err != nil {
		return fmt.Errorf("checkpoint %s: update: %w", name, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, name string) error {
	err := s.update(ctx, func(txn *badger.Txn) error {
		return txn.Delete(key(name))
	})
	if err != nil {
		return fmt.Errorf("checkpoint %s: delete: %w", name, err)
	}
	return nil
}

func (s *Store) Names(ctx context.Context, prefix string) ([]string, error) {
	var out []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = key(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			out = append(out, string(it.Item().Key()[len(keyPrefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("checkpoint names: %w", err)
	}
	return out, nil
}

func (r *record) descriptor(name string) *checkpoint.Descriptor {
	d := &checkpoint.Descriptor{
		Name:        name,
		Status:      r.Status,
		Position:    r.Position,
		State:       r.State,
		LockedUntil: r.LockedUntil,
	}
	if d.Position == nil {
		d.Position = map[string]int64{}
	}
	return d
}

func fromDescriptor(d checkpoint.Descriptor) *record {
	d = d.Clone()
	if d.Position == nil {
		d.Position = map[string]int64{}
	}
	return &record{
		Status:      d.Status,
		Position:    d.Position,
		State:       d.State,
		LockedUntil: d.LockedUntil,
	}
}

var _ checkpoint.Store = (*Store)(nil)
