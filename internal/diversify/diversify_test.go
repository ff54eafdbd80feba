package diversify

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasfdcampos/cnae-search/internal/cache"
	"github.com/lucasfdcampos/cnae-search/internal/domain"
)

func ranked(scores ...float64) []domain.ScoredResult {
	out := make([]domain.ScoredResult, len(scores))
	for i, s := range scores {
		out[i] = domain.ScoredResult{
			Candidate: domain.Candidate{ClassificationEntry: domain.ClassificationEntry{
				Code: fmt.Sprintf("%07d", i+1), Description: fmt.Sprintf("entry %d", i+1),
			}},
			Score: s,
		}
	}
	return out
}

func codes(rs []domain.ScoredResult) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Code
	}
	return out
}

func descending(n int) []domain.ScoredResult {
	scores := make([]float64, n)
	for i := range scores {
		scores[i] = 1 - float64(i)/float64(n+1)
	}
	return ranked(scores...)
}

func TestLCG(t *testing.T) {
	g := NewLCG(0)
	assert.Equal(t, 1013904223.0/(1<<32), g.Float64())
	assert.Equal(t, 1196435762.0/(1<<32), g.Float64())
	assert.Equal(t, 3519870697.0/(1<<32), g.Float64())

	a, b := NewLCG(1<<32+5), NewLCG(5)
	assert.Equal(t, b.Float64(), a.Float64(), "seed truncated to 32 bits")

	g = NewLCG(42)
	for range 1000 {
		v := g.Float64()
		require.GreaterOrEqual(t, v, 0.0)
		require.Less(t, v, 1.0)
	}
}

func TestDiversify_SmallSetBypass(t *testing.T) {
	in := ranked(0.9, 0.8)
	assert.Equal(t, in, Diversify(in, DefaultOptions(7)))
	assert.Empty(t, Diversify(nil, DefaultOptions(7)))
}

func TestDiversify_TopStable(t *testing.T) {
	in := descending(30)
	for seed := range int64(50) {
		out := Diversify(in, DefaultOptions(seed*7919))
		require.Len(t, out, DefaultTotalReturn)
		assert.Equal(t, in[:3], out[:3], "seed %d", seed)
	}
}

func TestDiversify_Deterministic(t *testing.T) {
	in := descending(30)
	opts := DefaultOptions(1_760_000_000_000)
	assert.Equal(t, Diversify(in, opts), Diversify(in, opts))
}

func TestDiversify_DrawsFromPoolWithoutReplacement(t *testing.T) {
	in := descending(30)
	out := Diversify(in, DefaultOptions(99))

	pool := map[string]bool{}
	for _, r := range in[3:17] {
		pool[r.Code] = true
	}
	seen := map[string]bool{}
	for _, r := range out[3:] {
		assert.True(t, pool[r.Code], "%s outside the pool", r.Code)
		assert.False(t, seen[r.Code], "%s drawn twice", r.Code)
		seen[r.Code] = true
	}
}

func TestDiversify_WeightedDraw(t *testing.T) {
	// pool = [0.1 0.2 0.3 0.4]; draws 0.236 and 0.279 of the remaining weight.
	in := ranked(0.1, 0.2, 0.3, 0.4, 0.9)
	out := Diversify(in, Options{TopFixed: 0, RandomizeCount: 2, TotalReturn: 10, Seed: 0})
	assert.Equal(t, []string{"0000002", "0000003"}, codes(out))
}

func TestDiversify_RankWeightsWithoutScores(t *testing.T) {
	// weights [2 1]; 0.236*3 falls in the first bucket.
	in := ranked(0, 0, 0)
	out := Diversify(in, Options{TopFixed: 0, RandomizeCount: 1, TotalReturn: 10, Seed: 0})
	assert.Equal(t, []string{"0000001"}, codes(out))
}

func TestDiversify_SmallPoolKeptInOrder(t *testing.T) {
	in := descending(6)
	out := Diversify(in, DefaultOptions(3))
	assert.Equal(t, in, out)
}

func TestDiversify_TotalReturn(t *testing.T) {
	in := descending(30)
	out := Diversify(in, Options{TopFixed: 3, RandomizeCount: 7, TotalReturn: 5, Seed: 1})
	assert.Len(t, out, 5)
}

func TestShuffleKeepingTop(t *testing.T) {
	in := make([]int, 50)
	for i := range in {
		in[i] = i
	}
	orig := append([]int(nil), in...)

	out := ShuffleKeepingTop(in, 5)
	require.Len(t, out, len(in))
	assert.Equal(t, in[:5], out[:5])
	assert.ElementsMatch(t, in, out)
	assert.Equal(t, orig, in, "input must not be modified")

	assert.Equal(t, []int{1, 2}, ShuffleKeepingTop([]int{1, 2}, 5))
	assert.Empty(t, ShuffleKeepingTop([]int(nil), 0))
}

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func TestVariantCache_Rotation(t *testing.T) {
	ctx := context.Background()
	clk := &fakeClock{t: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)}
	vc := NewVariantCache(cache.NewMemory(), WithClock(clk.now))
	in := descending(30)

	base := clk.t.UnixMilli()
	want := make([][]domain.ScoredResult, VariantCount)
	for i := range want {
		want[i] = Diversify(in, DefaultOptions(base+int64(i)*1000))
	}

	assert.Equal(t, want[0], vc.Next(ctx, "padaria", in))
	clk.t = clk.t.Add(time.Minute)
	assert.Equal(t, want[1], vc.Next(ctx, "padaria", in))
	assert.Equal(t, want[2], vc.Next(ctx, "Padaria", in), "key is case-folded")
	assert.Equal(t, want[0], vc.Next(ctx, "padaria", in))
}

func TestVariantCache_ExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	clk := &fakeClock{t: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)}
	vc := NewVariantCache(cache.NewMemory(), WithClock(clk.now))
	in := descending(30)

	vc.Next(ctx, "padaria", in)
	vc.Next(ctx, "padaria", in)

	clk.t = clk.t.Add(DefaultTTL)
	got := vc.Next(ctx, "padaria", in)
	assert.Equal(t, Diversify(in, DefaultOptions(clk.t.UnixMilli())), got, "regenerated set starts at variant 0")
}

func TestVariantCache_KeysAreIndependent(t *testing.T) {
	ctx := context.Background()
	clk := &fakeClock{t: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)}
	vc := NewVariantCache(cache.NewMemory(), WithClock(clk.now))
	in := descending(30)
	first := Diversify(in, DefaultOptions(clk.t.UnixMilli()))

	assert.Equal(t, first, vc.Next(ctx, "padaria", in))
	assert.Equal(t, first, vc.Next(ctx, "dentista", in))
	assert.NotEqual(t, Key("padaria"), Key("dentista"))
}

func TestVariantCache_ClearAll(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemory()
	require.NoError(t, store.Set(ctx, "cnae:catalog:v1", []byte("{}"), 0))
	vc := NewVariantCache(store)
	in := descending(30)

	vc.Next(ctx, "padaria", in)
	vc.Next(ctx, "dentista", in)

	n, err := vc.ClearAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, store.Len())
}

func TestVariantCache_CorruptEntryRebuilt(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemory()
	clk := &fakeClock{t: time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC)}
	require.NoError(t, store.Set(ctx, Key("padaria"), []byte("nope"), 0))

	vc := NewVariantCache(store, WithClock(clk.now))
	in := descending(30)
	assert.Equal(t, Diversify(in, DefaultOptions(clk.t.UnixMilli())), vc.Next(ctx, "padaria", in))
}
