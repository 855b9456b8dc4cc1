package intcode

import (
	"errors"
	"testing"

	"github.com/fortiblox/intnet/internal/types"
)

// TestMemoryAutoExtend tests the auto-extension invariant: reads beyond the
// extent return 0 without growing, writes beyond the extent grow zero-filled.
func TestMemoryAutoExtend(t *testing.T) {
	m := NewMemory([]types.Word{1, 2, 3})

	// Reads beyond the extent return 0 and do not grow.
	if v, err := m.Read(100); err != nil || v != 0 {
		t.Errorf("Read(100) = %d, %v, want 0, nil", v, err)
	}
	if m.Len() != 3 {
		t.Errorf("Len() = %d after out-of-extent read, want 3", m.Len())
	}

	// A write elsewhere must not disturb the invariant.
	if err := m.Write(1, 9); err != nil {
		t.Fatalf("Write(1, 9) failed: %v", err)
	}
	if v, _ := m.Read(100); v != 0 {
		t.Errorf("Read(100) = %d after unrelated write, want 0", v)
	}

	// Writing beyond the extent grows, zero-filling the gap.
	if err := m.Write(10, 42); err != nil {
		t.Fatalf("Write(10, 42) failed: %v", err)
	}
	if m.Len() != 11 {
		t.Errorf("Len() = %d, want 11", m.Len())
	}
	for addr := types.Word(3); addr < 10; addr++ {
		if v, _ := m.Read(addr); v != 0 {
			t.Errorf("Read(%d) = %d in zero-filled gap, want 0", addr, v)
		}
	}
	if v, _ := m.Read(10); v != 42 {
		t.Errorf("Read(10) = %d, want 42", v)
	}
}

// TestMemoryNegativeAddress tests the domain fault on negative addresses.
func TestMemoryNegativeAddress(t *testing.T) {
	m := NewMemory([]types.Word{1})

	if _, err := m.Read(-1); !errors.Is(err, ErrNegativeAddress) {
		t.Errorf("Read(-1) = %v, want ErrNegativeAddress", err)
	}
	if err := m.Write(-5, 1); !errors.Is(err, ErrNegativeAddress) {
		t.Errorf("Write(-5) = %v, want ErrNegativeAddress", err)
	}
}

// TestMemoryIsolation tests that a Memory does not alias its source image.
func TestMemoryIsolation(t *testing.T) {
	image := []types.Word{1, 2, 3}
	m := NewMemory(image)

	if err := m.Write(0, 99); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if image[0] != 1 {
		t.Errorf("source image mutated: %v", image)
	}

	snap := m.Snapshot()
	snap[1] = 77
	if v, _ := m.Read(1); v != 2 {
		t.Errorf("Read(1) = %d after snapshot mutation, want 2", v)
	}
}
