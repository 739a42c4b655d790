package ids

import (
	"testing"

	"github.com/oklog/ulid/v2"
)

func TestCreateULID_ParsesAndIsMonotonic(t *testing.T) {
	prev := CreateULID()
	if _, err := ulid.ParseStrict(prev); err != nil {
		t.Fatalf("invalid ulid %q: %v", prev, err)
	}

	for i := 0; i < 100; i++ {
		next := CreateULID()
		if next <= prev {
			t.Fatalf("ulids not increasing: %s <= %s", next, prev)
		}
		prev = next
	}
}
