// Package diversify keeps the top of a ranked list stable while varying the rest
// across repeated searches.
package diversify

import (
	"math/rand/v2"

	"github.com/lucasfdcampos/cnae-search/internal/domain"
)

// Defaults for Diversify.
const (
	DefaultTopFixed       = 3
	DefaultRandomizeCount = 7
	DefaultTotalReturn    = 10
)

// LCG is the linear congruential generator used by the seeded path. Its constants
// are pinned so that a seed reproduces the same ordering on every platform.
type LCG struct{ state uint32 }

// NewLCG seeds a generator; only the low 32 bits of seed are used.
func NewLCG(seed int64) *LCG { return &LCG{state: uint32(seed)} }

// Float64 advances the state and returns a value in [0, 1).
func (g *LCG) Float64() float64 {
	g.state = g.state*1664525 + 1013904223
	return float64(g.state) / (1 << 32)
}

// Options controls Diversify.
type Options struct {
	TopFixed       int
	RandomizeCount int
	TotalReturn    int
	Seed           int64
}

// DefaultOptions returns topFixed=3, randomizeCount=7, totalReturn=10 with the given seed.
func DefaultOptions(seed int64) Options {
	return Options{
		TopFixed:       DefaultTopFixed,
		RandomizeCount: DefaultRandomizeCount,
		TotalReturn:    DefaultTotalReturn,
		Seed:           seed,
	}
}

// Diversify keeps results[:TopFixed] verbatim and fills the rest with a weighted draw,
// without replacement, from the next 2*RandomizeCount results. The output is a new
// slice; a fixed seed always yields the same output.
func Diversify(results []domain.ScoredResult, opts Options) []domain.ScoredResult {
	if len(results) <= opts.TopFixed {
		return results
	}

	top := results[:opts.TopFixed]
	end := min(len(results), opts.TopFixed+2*opts.RandomizeCount)
	pool := results[opts.TopFixed:end]

	out := make([]domain.ScoredResult, 0, opts.TopFixed+min(len(pool), opts.RandomizeCount))
	out = append(out, top...)
	out = append(out, draw(pool, opts.RandomizeCount, NewLCG(opts.Seed))...)

	if opts.TotalReturn > 0 && len(out) > opts.TotalReturn {
		out = out[:opts.TotalReturn]
	}
	return out
}

func draw(pool []domain.ScoredResult, n int, rng *LCG) []domain.ScoredResult {
	if len(pool) <= n {
		return pool
	}

	type item struct {
		r      domain.ScoredResult
		weight float64
	}
	remaining := make([]item, len(pool))
	for i, r := range pool {
		w := r.Score
		if w <= 0 {
			w = float64(len(pool) - i)
		}
		remaining[i] = item{r: r, weight: w}
	}

	drawn := make([]domain.ScoredResult, 0, n)
	for len(drawn) < n && len(remaining) > 0 {
		total := 0.0
		for _, it := range remaining {
			total += it.weight
		}
		target := rng.Float64() * total

		// Rounding can leave target past the last cumulative bound.
		pick := len(remaining) - 1
		acc := 0.0
		for i, it := range remaining {
			acc += it.weight
			if target < acc {
				pick = i
				break
			}
		}
		drawn = append(drawn, remaining[pick].r)
		remaining = append(remaining[:pick], remaining[pick+1:]...)
	}
	return drawn
}

// ShuffleKeepingTop returns a copy of list with everything after keepTop shuffled.
// It uses the process random source and is deliberately not reproducible.
func ShuffleKeepingTop[T any](list []T, keepTop int) []T {
	out := append([]T(nil), list...)
	if keepTop < 0 {
		keepTop = 0
	}
	if keepTop >= len(out) {
		return out
	}
	tail := out[keepTop:]
	for i := len(tail) - 1; i > 0; i-- {
		j := rand.IntN(i + 1)
		tail[i], tail[j] = tail[j], tail[i]
	}
	return out
}
