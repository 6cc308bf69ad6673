package cache

import (
	"context"
	"testing"
)

func TestConnect_RejectsBadURL(t *testing.T) {
	if _, err := Connect(context.Background(), "http://not-redis"); err == nil {
		t.Fatal("expected parse error for a non-redis scheme")
	}
}

func TestPing_NilClient(t *testing.T) {
	if err := Ping(context.Background(), nil); err != nil {
		t.Fatalf("nil client should be treated as disabled, got %v", err)
	}
}
