// Package id hands out ULIDs for trade records.
//
// ULIDs sort lexicographically by creation time, so trade history ordered
// by ID matches the order fills were booked.
package id

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

// Generator produces unique, time-sortable identifiers.
type Generator interface {
	New() string
}

// ULIDGenerator is a Generator backed by a monotonic ULID entropy source.
// Safe for concurrent use.
type ULIDGenerator struct {
	mu    sync.Mutex
	mono  io.Reader
	clock func() time.Time
}

// NewULID returns a generator seeded from crypto/rand.
func NewULID() *ULIDGenerator {
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return NewSeeded(seed, nil)
}

// NewSeeded returns a generator with a fixed seed and clock. With a fixed
// clock the sequence of IDs is fully reproducible.
func NewSeeded(seed int64, clock func() time.Time) *ULIDGenerator {
	if clock == nil {
		clock = time.Now
	}
	return &ULIDGenerator{
		mono:  ulid.Monotonic(rand.New(rand.NewSource(seed)), 0),
		clock: clock,
	}
}

// New returns the next ULID string.
func (g *ULIDGenerator) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	id, err := ulid.New(ulid.Timestamp(g.clock().UTC()), g.mono)
	if err != nil {
		// Only possible if entropy overflows within one millisecond.
		panic(err)
	}
	return id.String()
}

var defaultGen = NewULID()

// New returns a ULID from the package-level generator.
func New() string {
	return defaultGen.New()
}
