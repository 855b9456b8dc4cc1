package progdb

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"

	"github.com/fortiblox/intnet/internal/types"
	"github.com/fortiblox/intnet/pkg/intcode"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	cfg := DefaultConfig("")
	cfg.InMemory = true
	db, err := Open(cfg)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func mustProgram(t *testing.T, src string) *intcode.Program {
	t.Helper()
	p, err := intcode.Parse(src)
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	return p
}

func TestPutGet(t *testing.T) {
	db := newTestDB(t)
	prog := mustProgram(t, "1,0,0,0,99")

	id, err := db.Put(prog)
	if err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if id != prog.ID() {
		t.Errorf("Put() id = %s, want %s", id, prog.ID())
	}

	got, err := db.Get(id)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if !reflect.DeepEqual(got.Image(), prog.Image()) {
		t.Errorf("Get() image = %v, want %v", got.Image(), prog.Image())
	}
	if !db.Has(id) {
		t.Error("Has() = false for stored program")
	}
}

func TestPutIdempotent(t *testing.T) {
	db := newTestDB(t)
	prog := mustProgram(t, "2,3,0,3,99")

	if _, err := db.Put(prog); err != nil {
		t.Fatalf("first Put() error: %v", err)
	}
	if _, err := db.Put(prog); err != nil {
		t.Fatalf("second Put() error: %v", err)
	}
	if db.Count() != 1 {
		t.Errorf("Count() = %d after duplicate put, want 1", db.Count())
	}
}

// TestPutConcurrent tests that parallel writers leave an exact persisted
// count: the count is read-modify-written inside each transaction, so no
// writer can publish a stale value over another's increment.
func TestPutConcurrent(t *testing.T) {
	db := newTestDB(t)
	const writers = 8

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			prog, err := intcode.Parse(fmt.Sprintf("1101,%d,0,0,99", i))
			if err != nil {
				t.Errorf("Parse() error: %v", err)
				return
			}
			if _, err := db.Put(prog); err != nil {
				t.Errorf("Put() error: %v", err)
			}
		}()
	}
	wg.Wait()

	if db.Count() != writers {
		t.Errorf("Count() = %d, want %d", db.Count(), writers)
	}
	ids, err := db.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(ids) != writers {
		t.Errorf("List() returned %d ids, want %d", len(ids), writers)
	}
}

func TestGetMissing(t *testing.T) {
	db := newTestDB(t)
	var id types.ProgramID
	id[0] = 0xff

	if _, err := db.Get(id); !errors.Is(err, ErrProgramNotFound) {
		t.Errorf("Get() error = %v, want ErrProgramNotFound", err)
	}
	if db.Has(id) {
		t.Error("Has() = true for missing program")
	}
}

func TestDelete(t *testing.T) {
	db := newTestDB(t)
	prog := mustProgram(t, "99")

	id, err := db.Put(prog)
	if err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if err := db.Delete(id); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if db.Has(id) {
		t.Error("Has() = true after delete")
	}
	if db.Count() != 0 {
		t.Errorf("Count() = %d after delete, want 0", db.Count())
	}

	// Deleting a missing program is a no-op.
	if err := db.Delete(id); err != nil {
		t.Errorf("Delete() of missing program error: %v", err)
	}
}

func TestList(t *testing.T) {
	db := newTestDB(t)
	want := map[types.ProgramID]bool{}
	for _, src := range []string{"99", "1,0,0,0,99", "2,0,0,0,99"} {
		id, err := db.Put(mustProgram(t, src))
		if err != nil {
			t.Fatalf("Put(%q) error: %v", src, err)
		}
		want[id] = true
	}

	ids, err := db.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(ids) != len(want) {
		t.Fatalf("List() returned %d ids, want %d", len(ids), len(want))
	}
	for _, id := range ids {
		if !want[id] {
			t.Errorf("List() returned unexpected id %s", id)
		}
	}
}

func TestClosed(t *testing.T) {
	db := newTestDB(t)
	if err := db.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	// Close is idempotent.
	if err := db.Close(); err != nil {
		t.Fatalf("second Close() error: %v", err)
	}

	prog := mustProgram(t, "99")
	if _, err := db.Put(prog); !errors.Is(err, ErrClosed) {
		t.Errorf("Put() error = %v, want ErrClosed", err)
	}
	if _, err := db.Get(prog.ID()); !errors.Is(err, ErrClosed) {
		t.Errorf("Get() error = %v, want ErrClosed", err)
	}
	if _, err := db.List(); !errors.Is(err, ErrClosed) {
		t.Errorf("List() error = %v, want ErrClosed", err)
	}
}

func TestPersistence(t *testing.T) {
	dir := t.TempDir()
	prog := mustProgram(t, "1101,5,6,0,99")

	db, err := Open(DefaultConfig(dir))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	id, err := db.Put(prog)
	if err != nil {
		t.Fatalf("Put() error: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	db, err = Open(DefaultConfig(dir))
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer db.Close()

	if db.Count() != 1 {
		t.Errorf("Count() = %d after reopen, want 1", db.Count())
	}
	got, err := db.Get(id)
	if err != nil {
		t.Fatalf("Get() after reopen error: %v", err)
	}
	if !reflect.DeepEqual(got.Image(), prog.Image()) {
		t.Errorf("Get() image = %v, want %v", got.Image(), prog.Image())
	}
}
