// Package progdb provides the BadgerDB-backed program registry.
//
// Programs are content-addressed: the key of a program is its blake3 ID, so
// storing the same program twice is a no-op and retrieval can never return a
// different image than was stored.
package progdb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dgraph-io/badger/v4"

	"github.com/fortiblox/intnet/internal/types"
	"github.com/fortiblox/intnet/pkg/intcode"
)

// Registry errors.
var (
	// ErrProgramNotFound is returned when a program ID is not in the registry.
	ErrProgramNotFound = errors.New("program not found")

	// ErrClosed is returned when operating on a closed registry.
	ErrClosed = errors.New("program registry closed")
)

// Key prefixes for BadgerDB storage.
var (
	// prefixProgram is the prefix for program images.
	// Key format: prefixProgram + program ID (32 bytes)
	prefixProgram = []byte{0x01}

	// prefixMeta is the prefix for registry metadata.
	prefixMeta = []byte{0x02}

	// metaCount is the key for the stored program count.
	metaCount = append(prefixMeta, []byte("count")...)
)

// Config contains configuration for the registry database.
type Config struct {
	// Path is the directory path for the database.
	Path string

	// InMemory runs the database in memory (for testing).
	InMemory bool

	// SyncWrites ensures writes are synced to disk.
	SyncWrites bool

	// Logger is an optional badger logger. Nil disables database logging.
	Logger badger.Logger
}

// DefaultConfig returns the default registry configuration.
func DefaultConfig(path string) Config {
	return Config{
		Path:       path,
		InMemory:   false,
		SyncWrites: false,
		Logger:     nil,
	}
}

// DB is a BadgerDB-backed program registry.
type DB struct {
	db *badger.DB

	// mu serializes writers: the persisted count is read-modify-written
	// inside each write transaction, and serial writers keep that free of
	// badger transaction conflicts.
	mu sync.Mutex

	// count is cached in memory for fast stats.
	count atomic.Uint64

	closed atomic.Bool
}

// Open creates or opens a program registry.
func Open(cfg Config) (*DB, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true).WithDir("").WithValueDir("")
	}
	opts = opts.
		WithSyncWrites(cfg.SyncWrites).
		WithLogger(cfg.Logger)

	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	db := &DB{db: bdb}
	if err := db.loadMetadata(); err != nil {
		bdb.Close()
		return nil, fmt.Errorf("load metadata: %w", err)
	}
	return db, nil
}

// loadMetadata loads the cached count from disk.
func (d *DB) loadMetadata() error {
	return d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaCount)
		if err == badger.ErrKeyNotFound {
			d.count.Store(0)
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) >= 8 {
				d.count.Store(binary.LittleEndian.Uint64(val))
			}
			return nil
		})
	})
}

// programKey returns the BadgerDB key for a program ID.
func programKey(id types.ProgramID) []byte {
	key := make([]byte, 1+types.ProgramIDSize)
	key[0] = prefixProgram[0]
	copy(key[1:], id[:])
	return key
}

// encodeImage serializes a memory image as fixed-width little-endian cells.
func encodeImage(image []types.Word) []byte {
	buf := make([]byte, 8*len(image))
	for i, w := range image {
		binary.LittleEndian.PutUint64(buf[i*8:], uint64(w))
	}
	return buf
}

// decodeImage deserializes a memory image.
func decodeImage(buf []byte) ([]types.Word, error) {
	if len(buf)%8 != 0 {
		return nil, fmt.Errorf("corrupt program image: %d bytes", len(buf))
	}
	image := make([]types.Word, len(buf)/8)
	for i := range image {
		image[i] = types.Word(binary.LittleEndian.Uint64(buf[i*8:]))
	}
	return image, nil
}

// readCount reads the persisted program count within a transaction.
func readCount(txn *badger.Txn) (uint64, error) {
	item, err := txn.Get(metaCount)
	if err == badger.ErrKeyNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var n uint64
	err = item.Value(func(val []byte) error {
		if len(val) >= 8 {
			n = binary.LittleEndian.Uint64(val)
		}
		return nil
	})
	return n, err
}

// Put stores a program under its content address and returns the ID.
// Storing an already-present program is a no-op.
func (d *DB) Put(prog *intcode.Program) (types.ProgramID, error) {
	id := prog.ID()
	if d.closed.Load() {
		return id, ErrClosed
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var count uint64
	err := d.db.Update(func(txn *badger.Txn) error {
		var err error
		count, err = readCount(txn)
		if err != nil {
			return err
		}

		key := programKey(id)
		if _, err := txn.Get(key); err == nil {
			return nil
		} else if err != badger.ErrKeyNotFound {
			return err
		}

		if err := txn.Set(key, encodeImage(prog.Image())); err != nil {
			return err
		}
		count++

		var cnt [8]byte
		binary.LittleEndian.PutUint64(cnt[:], count)
		return txn.Set(metaCount, cnt[:])
	})
	if err != nil {
		return id, fmt.Errorf("put program: %w", err)
	}
	d.count.Store(count)
	return id, nil
}

// Get retrieves a program by ID.
func (d *DB) Get(id types.ProgramID) (*intcode.Program, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}

	var image []types.Word
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(programKey(id))
		if err == badger.ErrKeyNotFound {
			return ErrProgramNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			image, err = decodeImage(val)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return intcode.FromImage(image)
}

// Has reports whether a program is in the registry.
func (d *DB) Has(id types.ProgramID) bool {
	if d.closed.Load() {
		return false
	}
	found := false
	d.db.View(func(txn *badger.Txn) error {
		if _, err := txn.Get(programKey(id)); err == nil {
			found = true
		}
		return nil
	})
	return found
}

// Delete removes a program from the registry.
func (d *DB) Delete(id types.ProgramID) error {
	if d.closed.Load() {
		return ErrClosed
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var count uint64
	err := d.db.Update(func(txn *badger.Txn) error {
		var err error
		count, err = readCount(txn)
		if err != nil {
			return err
		}

		key := programKey(id)
		if _, err := txn.Get(key); err == badger.ErrKeyNotFound {
			return nil
		} else if err != nil {
			return err
		}
		if err := txn.Delete(key); err != nil {
			return err
		}
		count--

		var cnt [8]byte
		binary.LittleEndian.PutUint64(cnt[:], count)
		return txn.Set(metaCount, cnt[:])
	})
	if err != nil {
		return fmt.Errorf("delete program: %w", err)
	}
	d.count.Store(count)
	return nil
}

// List returns the IDs of all stored programs.
func (d *DB) List() ([]types.ProgramID, error) {
	if d.closed.Load() {
		return nil, ErrClosed
	}

	var ids []types.ProgramID
	err := d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefixProgram
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()
			id, err := types.ProgramIDFromBytes(key[1:])
			if err != nil {
				continue // skip corrupted keys
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Count returns the number of stored programs.
func (d *DB) Count() uint64 {
	return d.count.Load()
}

// Close shuts down the registry.
func (d *DB) Close() error {
	if d.closed.Swap(true) {
		return nil
	}
	return d.db.Close()
}
