package ids

import "testing"

func TestNextIsStrictlyIncreasing(t *testing.T) {
	prev := Next()
	for i := 0; i < 5000; i++ {
		cur := Next()
		if !Newer(cur, prev) {
			t.Fatalf("stamp %d not newer: %s <= %s", i, cur, prev)
		}
		prev = cur
	}
}

func TestZeroStampIsOldest(t *testing.T) {
	var zero Stamp
	if !Newer(Next(), zero) {
		t.Fatalf("expected issued stamp to sort after zero stamp")
	}
	if Newer(zero, zero) {
		t.Fatalf("zero stamp must not be newer than itself")
	}
}
