package patient

import (
	"crypto/rand"
	"fmt"
	"io"
	"strconv"
	"time"
)

const (
	DefaultHealthIDPrefix = "ASHA"
	healthIDSuffixLen     = 4
	base36                = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// HealthIDGenerator produces ids of the form PREFIX-<unix millis>-XXXX where
// XXXX is four upper-case base-36 characters. Uniqueness is enforced by the
// store; callers regenerate on conflict.
type HealthIDGenerator struct {
	Prefix string
	Now    func() time.Time
	Rand   io.Reader
}

// NewHealthIDGenerator returns a generator using the wall clock and crypto/rand.
func NewHealthIDGenerator(prefix string) *HealthIDGenerator {
	if prefix == "" {
		prefix = DefaultHealthIDPrefix
	}
	return &HealthIDGenerator{Prefix: prefix, Now: time.Now, Rand: rand.Reader}
}

// Next returns a fresh health id.
func (g *HealthIDGenerator) Next() (string, error) {
	buf := make([]byte, healthIDSuffixLen)
	if _, err := io.ReadFull(g.Rand, buf); err != nil {
		return "", fmt.Errorf("read random suffix: %w", err)
	}
	suffix := make([]byte, healthIDSuffixLen)
	for i, b := range buf {
		suffix[i] = base36[int(b)%len(base36)]
	}
	millis := strconv.FormatInt(g.Now().UnixMilli(), 10)
	return g.Prefix + "-" + millis + "-" + string(suffix), nil
}
