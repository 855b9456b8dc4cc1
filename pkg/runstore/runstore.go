// Package runstore provides persistent storage for completed run records.
//
// Every finished VM or network run can be recorded: which program ran, what
// it produced, and (for network runs) the two NAT observations. Records are
// sequence-numbered and indexed by program ID.
package runstore

import (
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/fortiblox/intnet/internal/types"
)

// Store errors.
var (
	// ErrRecordNotFound is returned when a run record doesn't exist.
	ErrRecordNotFound = errors.New("run record not found")

	// ErrClosed is returned when operating on a closed store.
	ErrClosed = errors.New("run store closed")
)

// Bucket names for BoltDB.
var (
	// bucketRuns stores run records keyed by sequence number.
	bucketRuns = []byte("runs")

	// bucketByProgram indexes run sequence numbers by program ID.
	bucketByProgram = []byte("by_program")

	// bucketMetadata stores store metadata.
	bucketMetadata = []byte("metadata")
)

// Metadata keys.
var (
	keyLastSeq  = []byte("last_seq")
	keyRunCount = []byte("run_count")
)

// Kind identifies what sort of run a record describes.
type Kind string

// Run kinds.
const (
	KindRun     Kind = "run"     // single machine, run to halt
	KindNetwork Kind = "network" // packet network with NAT termination
	KindRing    Kind = "ring"    // feedback-loop pipeline
)

// Record describes one completed run.
type Record struct {
	// Seq is the store-assigned sequence number.
	Seq uint64

	// Program is the content address of the program that ran.
	Program types.ProgramID

	// Kind is the run topology.
	Kind Kind

	// Machines is the machine count for network and ring runs, 1 otherwise.
	Machines int

	// Outputs holds the collected output values of a single-machine run.
	Outputs []types.Word

	// FirstNATY is the Y of the first packet the NAT saw (network runs).
	FirstNATY *types.Word

	// FinalY is the Y that fired termination (network runs), or the final
	// pipeline value (ring runs).
	FinalY *types.Word

	// StartedAt and FinishedAt bound the run's wall-clock duration.
	StartedAt  time.Time
	FinishedAt time.Time
}

// Config holds run store configuration options.
type Config struct {
	// Path is the file path for the store database.
	Path string

	// NoSync disables fsync after each write.
	NoSync bool

	// ReadOnly opens the database in read-only mode.
	ReadOnly bool
}

// DefaultConfig returns the default run store configuration.
func DefaultConfig(path string) Config {
	return Config{Path: path}
}

// Store is a bbolt-backed run record store.
type Store struct {
	db     *bolt.DB
	config Config

	mu       sync.RWMutex
	lastSeq  uint64
	runCount uint64
	closed   bool
}

// Open creates or opens a run store at the configured path.
func Open(config Config) (*Store, error) {
	dir := filepath.Dir(config.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	opts := &bolt.Options{
		Timeout:  5 * time.Second,
		NoSync:   config.NoSync,
		ReadOnly: config.ReadOnly,
	}
	db, err := bolt.Open(config.Path, 0600, opts)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, config: config}

	if !config.ReadOnly {
		if err := s.initBuckets(); err != nil {
			db.Close()
			return nil, fmt.Errorf("init buckets: %w", err)
		}
	}
	if err := s.loadCachedValues(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load cached values: %w", err)
	}
	return s, nil
}

// initBuckets creates all required buckets.
func (s *Store) initBuckets() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketRuns, bucketByProgram, bucketMetadata} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

// loadCachedValues loads frequently-accessed values into memory.
func (s *Store) loadCachedValues() error {
	return s.db.View(func(tx *bolt.Tx) error {
		meta := tx.Bucket(bucketMetadata)
		if meta == nil {
			return nil // empty database
		}
		if v := meta.Get(keyLastSeq); v != nil {
			s.lastSeq = decodeSeqKey(v)
		}
		if v := meta.Get(keyRunCount); v != nil {
			s.runCount = decodeSeqKey(v)
		}
		return nil
	})
}

// encodeSeqKey encodes a sequence number as a big-endian sortable key.
func encodeSeqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

// decodeSeqKey decodes a big-endian sequence key.
func decodeSeqKey(key []byte) uint64 {
	return binary.BigEndian.Uint64(key)
}

// programSeqKey builds the by-program index key: program ID + sequence.
func programSeqKey(id types.ProgramID, seq uint64) []byte {
	key := make([]byte, types.ProgramIDSize+8)
	copy(key, id[:])
	binary.BigEndian.PutUint64(key[types.ProgramIDSize:], seq)
	return key
}

// Put stores a record, assigning and returning its sequence number.
func (s *Store) Put(rec *Record) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}

	seq := s.lastSeq + 1
	rec.Seq = seq

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return 0, fmt.Errorf("encode record: %w", err)
	}

	err := s.db.Update(func(tx *bolt.Tx) error {
		seqKey := encodeSeqKey(seq)
		if err := tx.Bucket(bucketRuns).Put(seqKey, buf.Bytes()); err != nil {
			return err
		}
		if err := tx.Bucket(bucketByProgram).Put(programSeqKey(rec.Program, seq), seqKey); err != nil {
			return err
		}
		meta := tx.Bucket(bucketMetadata)
		if err := meta.Put(keyLastSeq, encodeSeqKey(seq)); err != nil {
			return err
		}
		return meta.Put(keyRunCount, encodeSeqKey(s.runCount+1))
	})
	if err != nil {
		return 0, err
	}

	s.lastSeq = seq
	s.runCount++
	return seq, nil
}

// Get retrieves a record by sequence number.
func (s *Store) Get(seq uint64) (*Record, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrClosed
	}
	s.mu.RUnlock()

	var rec Record
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRuns)
		if b == nil {
			return ErrRecordNotFound
		}
		data := b.Get(encodeSeqKey(seq))
		if data == nil {
			return ErrRecordNotFound
		}
		return gob.NewDecoder(bytes.NewReader(data)).Decode(&rec)
	})
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// ListByProgram returns up to limit records for a program, newest first.
// limit <= 0 means no limit.
func (s *Store) ListByProgram(id types.ProgramID, limit int) ([]*Record, error) {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrClosed
	}
	s.mu.RUnlock()

	var records []*Record
	err := s.db.View(func(tx *bolt.Tx) error {
		idx := tx.Bucket(bucketByProgram)
		runs := tx.Bucket(bucketRuns)
		if idx == nil || runs == nil {
			return nil
		}

		c := idx.Cursor()
		prefix := id[:]

		// Position past the last key for this program, then walk backwards.
		seekKey := programSeqKey(id, ^uint64(0))
		k, v := c.Seek(seekKey)
		if k == nil || !bytes.HasPrefix(k, prefix) {
			k, v = c.Prev()
		}

		for ; k != nil && bytes.HasPrefix(k, prefix); k, v = c.Prev() {
			data := runs.Get(v)
			if data == nil {
				continue
			}
			var rec Record
			if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err != nil {
				continue // skip corrupted entries
			}
			records = append(records, &rec)
			if limit > 0 && len(records) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// LastSeq returns the most recently assigned sequence number.
func (s *Store) LastSeq() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSeq
}

// Count returns the number of stored records.
func (s *Store) Count() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runCount
}

// Sync forces a sync of the database to disk.
func (s *Store) Sync() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return s.db.Sync()
}

// Close shuts down the store.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
