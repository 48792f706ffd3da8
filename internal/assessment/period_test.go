package assessment

import (
	"errors"
	"testing"
	"time"
)

func TestParsePeriodEnd(t *testing.T) {
	got, err := ParsePeriodEnd("31 March 2026 11:59pm")
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2026, time.March, 31, 23, 59, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestParsePeriodEndMalformed(t *testing.T) {
	for _, raw := range []string{"", "   ", "2026-03-31", "31st March 2026", "31 March 2026"} {
		if _, err := ParsePeriodEnd(raw); !errors.Is(err, ErrMalformedDate) {
			t.Fatalf("%q: expected ErrMalformedDate, got %v", raw, err)
		}
	}
}
