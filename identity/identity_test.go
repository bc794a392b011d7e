package identity

import (
	"strings"
	"testing"
)

func TestNew_LengthAndAlphabet(t *testing.T) {
	for _, n := range []int{1, 8, 14, 15, 40} {
		s, err := New(n)
		if err != nil {
			t.Fatalf("New(%d) error: %v", n, err)
		}
		if len(s) != n {
			t.Errorf("New(%d) length = %d", n, len(s))
		}
		for _, c := range s.String() {
			if !strings.ContainsRune(alphabet, c) {
				t.Errorf("New(%d) produced %q outside alphabet", n, c)
			}
		}
	}
}

func TestNew_DefaultLength(t *testing.T) {
	s, err := New(0)
	if err != nil {
		t.Fatalf("New(0) error: %v", err)
	}
	if len(s) != DefaultLength {
		t.Errorf("length = %d, want %d", len(s), DefaultLength)
	}
}

func TestNew_Distinct(t *testing.T) {
	seen := make(map[Session]bool)
	for i := 0; i < 1000; i++ {
		s := MustNew()
		if seen[s] {
			t.Fatalf("duplicate session id %q after %d draws", s, i)
		}
		seen[s] = true
	}
}
