package domain

import (
	"testing"
	"time"
)

func mustClock(t *testing.T, s string) Clock {
	t.Helper()
	c, err := ParseClock(s)
	if err != nil {
		t.Fatalf("ParseClock(%q): %v", s, err)
	}
	return c
}

func TestParseClock(t *testing.T) {
	cases := []struct {
		in   string
		want Clock
		ok   bool
	}{
		{"00:00", 0, true},
		{"06:00", 360, true},
		{"23:59", 1439, true},
		{" 09:30 ", 570, true},
		{"24:00", 0, false},
		{"12:60", 0, false},
		{"1200", 0, false},
		{"ab:cd", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseClock(tc.in)
		if tc.ok != (err == nil) {
			t.Fatalf("ParseClock(%q) err=%v, want ok=%v", tc.in, err, tc.ok)
		}
		if tc.ok && got != tc.want {
			t.Fatalf("ParseClock(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestInWindowNormal(t *testing.T) {
	start := mustClock(t, "06:00")
	end := mustClock(t, "22:00")

	cases := []struct {
		now  string
		want bool
	}{
		{"06:00", true}, // inclusive start
		{"22:00", true}, // inclusive end
		{"10:00", true},
		{"05:59", false},
		{"22:01", false},
		{"02:00", false},
	}
	for _, tc := range cases {
		if got := InWindow(mustClock(t, tc.now), start, end); got != tc.want {
			t.Errorf("InWindow(%s, 06:00, 22:00) = %v, want %v", tc.now, got, tc.want)
		}
	}
}

func TestInWindowWrapsMidnight(t *testing.T) {
	start := mustClock(t, "22:00")
	end := mustClock(t, "02:00")

	cases := []struct {
		now  string
		want bool
	}{
		{"22:00", true}, // inclusive start
		{"02:00", true}, // inclusive end
		{"23:30", true},
		{"00:00", true},
		{"01:15", true},
		{"02:01", false},
		{"12:00", false},
		{"21:59", false},
	}
	for _, tc := range cases {
		if got := InWindow(mustClock(t, tc.now), start, end); got != tc.want {
			t.Errorf("InWindow(%s, 22:00, 02:00) = %v, want %v", tc.now, got, tc.want)
		}
	}
}

func TestInWindowDegenerate(t *testing.T) {
	// start == end: only that exact minute is allowed.
	c := mustClock(t, "12:00")
	if !InWindow(c, c, c) {
		t.Fatal("expected the boundary minute itself to be allowed")
	}
	if InWindow(c+1, c, c) {
		t.Fatal("expected the next minute to be outside")
	}
}

func TestClockOf(t *testing.T) {
	loc := time.FixedZone("UTC+7", 7*3600)
	at := time.Date(2024, 3, 1, 10, 42, 59, 0, loc)
	if got := ClockOf(at); got != Clock(10*60+42) {
		t.Fatalf("ClockOf = %d, want %d", got, 10*60+42)
	}
	if got := ClockOf(at).String(); got != "10:42" {
		t.Fatalf("String = %q, want %q", got, "10:42")
	}
}
