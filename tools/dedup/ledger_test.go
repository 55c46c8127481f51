package dedup

import (
	"fmt"
	"testing"
)

func TestLedgerSeenOnce(t *testing.T) {
	l := NewLedger(10)
	if l.SeenOnce("a") {
		t.Fatalf("first delivery of a reported as seen")
	}
	if !l.SeenOnce("a") {
		t.Fatalf("second delivery of a not reported as seen")
	}
	if !l.Seen("a") {
		t.Fatalf("Seen(a) = false after record")
	}
	if l.Seen("b") {
		t.Fatalf("Seen(b) = true, never recorded")
	}
}

func TestLedgerEvictsOldest(t *testing.T) {
	l := NewLedger(3)
	for i := 0; i < 4; i++ {
		l.Record(fmt.Sprintf("id-%d", i))
	}
	if l.Len() != 3 {
		t.Fatalf("Len = %d, want 3", l.Len())
	}
	if l.Seen("id-0") {
		t.Errorf("oldest entry id-0 still present after eviction")
	}
	if !l.Seen("id-3") {
		t.Errorf("newest entry id-3 missing")
	}
}

func TestLedgerRecordIdempotent(t *testing.T) {
	l := NewLedger(3)
	l.Record("x")
	l.Record("x")
	l.Record("x")
	if l.Len() != 1 {
		t.Fatalf("Len = %d after recording same id thrice, want 1", l.Len())
	}
}

func TestLedgerReset(t *testing.T) {
	l := NewLedger(5)
	l.Record("x")
	l.Reset()
	if l.Seen("x") || l.Len() != 0 {
		t.Fatalf("ledger not empty after Reset")
	}
}

func TestCompositeKeyStable(t *testing.T) {
	a := CompositeKey("u1", 1000, []byte("hello"))
	b := CompositeKey("u1", 1000, []byte("hello"))
	c := CompositeKey("u2", 1000, []byte("hello"))
	if a != b {
		t.Fatalf("same inputs produced different keys: %s vs %s", a, b)
	}
	if a == c {
		t.Fatalf("different senders produced identical keys")
	}
}
