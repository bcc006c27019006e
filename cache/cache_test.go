package cache

import "testing"

func TestLineSizeIsPowerOfTwo(t *testing.T) {
	line := LineSize()
	if line <= 0 || line&(line-1) != 0 {
		t.Fatalf("LineSize() = %d, want a positive power of two", line)
	}
}

func TestLineSizeMemoized(t *testing.T) {
	a := LineSize()
	b := LineSize()
	if a != b {
		t.Fatalf("LineSize() not stable across calls: %d != %d", a, b)
	}
}

func TestAlign(t *testing.T) {
	line := LineSize()

	cases := []struct {
		in, want int
	}{
		{0, 0},
		{1, line},
		{line, line},
		{line + 1, 2 * line},
		{2 * line, 2 * line},
	}

	for _, c := range cases {
		if got := Align(c.in); got != c.want {
			t.Errorf("Align(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}
