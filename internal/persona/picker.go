package persona

import (
	"math/rand/v2"
	"sync"
)

// Picker chooses an index in [0, n). Implementations must be safe for
// concurrent use.
type Picker interface {
	Pick(n int) int
}

// RandPicker is the production [Picker]. It also supplies the
// probability draws used by the scheduler.
type RandPicker struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandPicker returns a RandPicker seeded from the runtime's entropy
// source.
func NewRandPicker() *RandPicker {
	return &RandPicker{rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
}

// NewSeededPicker returns a reproducible RandPicker.
func NewSeededPicker(seed1, seed2 uint64) *RandPicker {
	return &RandPicker{rng: rand.New(rand.NewPCG(seed1, seed2))}
}

// Pick returns a uniform index in [0, n). n must be positive.
func (p *RandPicker) Pick(n int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.IntN(n)
}

// Float64 returns a uniform value in [0, 1).
func (p *RandPicker) Float64() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rng.Float64()
}
