package logger

import "testing"

func TestRatioSamplerAllow(t *testing.T) {
	s := newRatioSampler(1, 3)
	passed := 0
	for i := 0; i < 9; i++ {
		if s.Allow() {
			passed++
		}
	}
	if passed != 3 {
		t.Fatalf("passed %d of 9, want 3", passed)
	}

	// Disabled sampler passes everything.
	s.Set(0, 0)
	for i := 0; i < 5; i++ {
		if !s.Allow() {
			t.Fatal("disabled sampler dropped a record")
		}
	}
}

func TestParseRatioSpec(t *testing.T) {
	cases := []struct {
		spec     string
		num, den int
	}{
		{"", 0, 0},
		{"3", 1, 3},
		{"2/5", 2, 5},
		{" 1 / 4 ", 1, 4},
		{"0", 0, 0},
		{"junk", 0, 0},
	}
	for _, c := range cases {
		num, den := parseRatioSpec(c.spec)
		if num != c.num || den != c.den {
			t.Fatalf("parseRatioSpec(%q) = %d/%d, want %d/%d", c.spec, num, den, c.num, c.den)
		}
	}
}
