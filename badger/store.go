package badger

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"

	"github.com/velmie/beacon"
)

const dirPerm = 0o750

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("beacon badger: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("beacon badger: CBOR decoder initialization failed: " + err.Error())
	}
}

// record is the stored value. The ID lives in the key.
type record struct {
	Items     string `cbor:"1,keyasint"`
	CreatedAt int64  `cbor:"2,keyasint"`
	Attempt   int    `cbor:"3,keyasint"`
}

// Store implements beacon.Store on BadgerDB.
type Store struct {
	cfg    Config
	prefix []byte

	mu     sync.RWMutex
	db     *badger.DB
	owned  bool
	gc     *GCRunner
	closed bool
}

var _ beacon.Store = (*Store)(nil)

// New returns a store that opens its own database in Open.
func New(cfg Config) (*Store, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &Store{cfg: cfg, prefix: []byte(cfg.Table + "/"), owned: true}, nil
}

// NewWithDB returns a store over an already open database. Close leaves
// the database open.
func NewWithDB(db *badger.DB, cfg Config) (*Store, error) {
	if db == nil {
		return nil, ErrNotOpen
	}
	cfg.InMemory = true
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &Store{cfg: cfg, prefix: []byte(cfg.Table + "/"), db: db}, nil
}

// Open implements beacon.Store.
func (s *Store) Open(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrNotOpen
	}
	if s.db != nil {
		return nil
	}

	var opts badger.Options
	if s.cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(s.cfg.Path, dirPerm); err != nil {
			return fmt.Errorf("beacon badger: create directory %s: %w", s.cfg.Path, err)
		}
		opts = badger.DefaultOptions(s.cfg.Path)
	}
	opts = opts.WithSyncWrites(s.cfg.SyncWrites).
		WithNumVersionsToKeep(1).
		WithLogger(badgerLogger{logger: s.cfg.Logger})

	db, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("beacon badger: open: %w", err)
	}
	s.db = db

	if s.cfg.GCInterval > 0 && !s.cfg.InMemory {
		runner, err := NewGCRunner(db, s.cfg.GCInterval, s.cfg.GCDiscardRatio, s.cfg.Logger)
		if err != nil {
			return errors.Join(err, s.closeLocked())
		}
		s.gc = runner
		runner.Start()
	}

	return nil
}

// Append implements beacon.Store.
func (s *Store) Append(ctx context.Context, rec beacon.StoredRecord) (beacon.ID, error) {
	id := rec.ID
	if id.IsZero() {
		var err error
		id, err = s.cfg.IDs.NewID()
		if err != nil {
			return beacon.ID{}, fmt.Errorf("beacon badger: generate id: %w", err)
		}
	}

	value, err := encMode.Marshal(toRecord(rec))
	if err != nil {
		return beacon.ID{}, fmt.Errorf("beacon badger: encode record: %w", err)
	}

	err = s.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(s.key(id), value)
	})
	if err != nil {
		return beacon.ID{}, fmt.Errorf("beacon badger: append: %w", err)
	}

	return id, nil
}

// ReadAll implements beacon.Store.
func (s *Store) ReadAll(ctx context.Context) ([]beacon.StoredRecord, error) {
	var records []beacon.StoredRecord

	err := s.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = s.prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			id, err := s.idFromKey(item.Key())
			if err != nil {
				return err
			}
			rec, err := decodeItem(id, item)
			if err != nil {
				return err
			}
			records = append(records, rec)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("beacon badger: read all: %w", err)
	}

	return records, nil
}

// ReadByID implements beacon.Store.
func (s *Store) ReadByID(ctx context.Context, id beacon.ID) (beacon.StoredRecord, bool, error) {
	var (
		rec   beacon.StoredRecord
		found bool
	)

	err := s.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(s.key(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		rec, err = decodeItem(id, item)
		found = err == nil

		return err
	})
	if err != nil {
		return beacon.StoredRecord{}, false, fmt.Errorf("beacon badger: read %s: %w", id, err)
	}

	return rec, found, nil
}

// Update implements beacon.Store.
func (s *Store) Update(ctx context.Context, id beacon.ID, patch beacon.RecordPatch) error {
	err := s.WithTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get(s.key(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return beacon.ErrRecordNotFound
		}
		if err != nil {
			return err
		}
		rec, err := decodeItem(id, item)
		if err != nil {
			return err
		}
		if patch.Attempt != nil {
			rec.Attempt = *patch.Attempt
		}
		if patch.Items != nil {
			rec.Items = *patch.Items
		}

		value, err := encMode.Marshal(toRecord(rec))
		if err != nil {
			return err
		}

		return txn.Set(s.key(id), value)
	})
	if err != nil {
		return fmt.Errorf("beacon badger: update %s: %w", id, err)
	}

	return nil
}

// Remove implements beacon.Store.
func (s *Store) Remove(ctx context.Context, id beacon.ID) error {
	err := s.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Delete(s.key(id))
	})
	if err != nil {
		return fmt.Errorf("beacon badger: remove %s: %w", id, err)
	}

	return nil
}

// Clear implements beacon.Store.
func (s *Store) Clear(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	db, err := s.handle()
	if err != nil {
		return err
	}
	if err := db.DropPrefix(s.prefix); err != nil {
		return fmt.Errorf("beacon badger: clear: %w", err)
	}

	return nil
}

// Count implements beacon.Store.
func (s *Store) Count(ctx context.Context) (int, error) {
	count := 0

	err := s.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = s.prefix
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}

		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("beacon badger: count: %w", err)
	}

	return count, nil
}

// Close implements beacon.Store. It is safe to call more than once.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	return s.closeLocked()
}

// GC returns the value-log GC runner, or nil when GC is disabled.
func (s *Store) GC() *GCRunner {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.gc
}

// WithTxn runs fn in a read-write transaction and commits when it returns nil.
func (s *Store) WithTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	db, err := s.handle()
	if err != nil {
		return err
	}

	txn := db.NewTransaction(true)
	defer txn.Discard()

	if err := fn(txn); err != nil {
		return err
	}

	return txn.Commit()
}

// WithReadTxn runs fn in a read-only transaction.
func (s *Store) WithReadTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	db, err := s.handle()
	if err != nil {
		return err
	}

	txn := db.NewTransaction(false)
	defer txn.Discard()

	return fn(txn)
}

func (s *Store) handle() (*badger.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil || s.closed {
		return nil, ErrNotOpen
	}

	return s.db, nil
}

func (s *Store) closeLocked() error {
	if s.gc != nil {
		s.gc.Stop()
		s.gc = nil
	}
	db := s.db
	s.db = nil
	if db == nil || !s.owned {
		return nil
	}
	if err := db.Close(); err != nil {
		return fmt.Errorf("beacon badger: close: %w", err)
	}

	return nil
}

func (s *Store) key(id beacon.ID) []byte {
	key := make([]byte, 0, len(s.prefix)+len(id))
	key = append(key, s.prefix...)

	return append(key, id[:]...)
}

func (s *Store) idFromKey(key []byte) (beacon.ID, error) {
	var id beacon.ID
	if len(key) != len(s.prefix)+len(id) {
		return beacon.ID{}, fmt.Errorf("%w: key length %d", beacon.ErrInvalidID, len(key))
	}
	copy(id[:], key[len(s.prefix):])

	return id, nil
}

func toRecord(rec beacon.StoredRecord) record {
	out := record{Items: rec.Items, Attempt: rec.Attempt}
	if !rec.CreatedAt.IsZero() {
		out.CreatedAt = rec.CreatedAt.UnixNano()
	}

	return out
}

func decodeItem(id beacon.ID, item *badger.Item) (beacon.StoredRecord, error) {
	var rec record
	err := item.Value(func(val []byte) error {
		return decMode.Unmarshal(val, &rec)
	})
	if err != nil {
		return beacon.StoredRecord{}, fmt.Errorf("decode record %s: %w", id, err)
	}

	out := beacon.StoredRecord{ID: id, Items: rec.Items, Attempt: rec.Attempt}
	if rec.CreatedAt != 0 {
		out.CreatedAt = time.Unix(0, rec.CreatedAt).UTC()
	}

	return out, nil
}
