package snapshot_test

import (
	"testing"

	"github.com/sarchlab/oooriscsim/snapshot"
)

func TestRecordAndCurrent(t *testing.T) {
	tl := snapshot.New[int]()
	if _, ok := tl.Current(); ok {
		t.Fatalf("empty timeline should have no current entry")
	}

	tl.Record(1)
	tl.Record(2)
	tl.Record(3)

	v, ok := tl.Current()
	if !ok || v != 3 {
		t.Fatalf("Current() = %d, %v, want 3, true", v, ok)
	}
	if tl.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", tl.Len())
	}
}

func TestRewindSteps(t *testing.T) {
	tl := snapshot.New[int]()
	tl.Record(1)
	tl.Record(2)
	tl.Record(3)

	v, ok := tl.Rewind(1)
	if !ok || v != 2 {
		t.Fatalf("Rewind(1) = %d, %v, want 2, true", v, ok)
	}

	v, ok = tl.Rewind(1)
	if !ok || v != 1 {
		t.Fatalf("Rewind(1) = %d, %v, want 1, true", v, ok)
	}

	if _, ok := tl.Rewind(1); ok {
		t.Fatalf("rewinding past the start should fail")
	}
}

func TestRecordAfterRewindTruncatesFuture(t *testing.T) {
	tl := snapshot.New[int]()
	tl.Record(1)
	tl.Record(2)
	tl.Record(3)

	if _, ok := tl.Rewind(2); !ok {
		t.Fatalf("Rewind(2) should succeed")
	}

	tl.Record(99)
	if tl.Len() != 2 {
		t.Fatalf("Len() = %d, want 2 (1, 99)", tl.Len())
	}
	v, ok := tl.Current()
	if !ok || v != 99 {
		t.Fatalf("Current() = %d, %v, want 99, true", v, ok)
	}

	if _, ok := tl.Rewind(1); !ok {
		t.Fatalf("Rewind(1) should land on the surviving first entry")
	}
}
