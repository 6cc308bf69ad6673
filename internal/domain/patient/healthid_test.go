package patient

import (
	"bytes"
	"regexp"
	"testing"
	"time"
)

func TestHealthIDGenerator_Format(t *testing.T) {
	g := NewHealthIDGenerator("")
	id, err := g.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if !regexp.MustCompile(`^ASHA-\d+-[0-9A-Z]{4}$`).MatchString(id) {
		t.Errorf("unexpected id format %q", id)
	}
}

func TestHealthIDGenerator_Deterministic(t *testing.T) {
	g := &HealthIDGenerator{
		Prefix: "ASHA",
		Now:    func() time.Time { return time.UnixMilli(1700000000000) },
		Rand:   bytes.NewReader([]byte{0, 10, 35, 36}),
	}
	id, err := g.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if id != "ASHA-1700000000000-0AZ0" {
		t.Errorf("got %q", id)
	}
}

func TestHealthIDGenerator_RandomFailure(t *testing.T) {
	g := &HealthIDGenerator{Prefix: "ASHA", Now: time.Now, Rand: bytes.NewReader(nil)}
	if _, err := g.Next(); err == nil {
		t.Fatal("expected error when randomness is exhausted")
	}
}
