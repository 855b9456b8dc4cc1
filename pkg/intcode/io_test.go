package intcode

import (
	"bytes"
	"reflect"
	"strings"
	"testing"

	"github.com/fortiblox/intnet/internal/types"
)

// TestQueueFIFO tests strict FIFO ordering.
func TestQueueFIFO(t *testing.T) {
	q := NewQueue(1, 2)
	q.Push(3)
	q.Write(4)

	var got []types.Word
	for {
		v, ok := q.Read()
		if !ok {
			break
		}
		got = append(got, v)
	}
	want := []types.Word{1, 2, 3, 4}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("drained %v, want %v", got, want)
	}

	if _, ok := q.Read(); ok {
		t.Error("Read() on empty queue returned ok")
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d, want 0", q.Len())
	}
}

// TestQueueDrain tests bulk removal.
func TestQueueDrain(t *testing.T) {
	q := NewQueue(5, 6, 7)
	got := q.Drain()
	if !reflect.DeepEqual(got, []types.Word{5, 6, 7}) {
		t.Errorf("Drain() = %v, want [5 6 7]", got)
	}
	if q.Len() != 0 {
		t.Errorf("Len() = %d after drain, want 0", q.Len())
	}
}

// TestQueueAsPipe tests that one queue can connect two machines: the first
// machine's outputs become the second machine's inputs.
func TestQueueAsPipe(t *testing.T) {
	// Emits 10 then 20.
	producer := New(mustParse(t, "104,10,104,20,99"))
	// Doubles each of its two inputs, using scratch cells past the image so
	// the stores cannot clobber instruction operands.
	consumer := New(mustParse(t, "3,20,3,21,102,2,20,22,1002,21,2,23,4,22,4,23,99"))

	pipe := NewQueue()
	producer.SetOutput(pipe)
	consumer.SetInput(pipe)
	out := NewQueue()
	consumer.SetOutput(out)

	if res, err := producer.Run(); err != nil || res != Halted {
		t.Fatalf("producer Run() = %v, %v", res, err)
	}
	if res, err := consumer.Run(); err != nil || res != Halted {
		t.Fatalf("consumer Run() = %v, %v", res, err)
	}

	got := out.Drain()
	want := []types.Word{20, 40}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("piped output = %v, want %v", got, want)
	}
}

// TestConsole tests the interactive provider: bytes in, ASCII out.
func TestConsole(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(strings.NewReader("A"), &buf)

	v, ok := c.Read()
	if !ok || v != 'A' {
		t.Errorf("Read() = %d, %v, want 65, true", v, ok)
	}
	if _, ok := c.Read(); ok {
		t.Error("Read() past EOF returned ok")
	}

	c.Write('h')
	c.Write('i')
	c.Write(1000)
	if got := buf.String(); got != "hi1000\n" {
		t.Errorf("console output = %q, want %q", got, "hi1000\n")
	}
}
