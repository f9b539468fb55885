package markov

import (
	"strings"
	"testing"
)

func TestGenerate_Deterministic(t *testing.T) {
	k := newTestKnowledge(t, 3)
	mustAdd(t, k, nil, "hello", 1)
	mustAdd(t, k, []string{"hello", "hello", "hello"}, "goodbye", 1)

	g := NewGenerator(WithMaxChars(100), WithRamble(false), WithSpasm(0), WithSampler(NewSeededSampler(1)))
	for i := 0; i < 10; i++ {
		if got := g.Generate(k); got != "hello hello hello goodbye" {
			t.Fatalf("Generate() = %q, want %q", got, "hello hello hello goodbye")
		}
	}
}

func TestGenerate_StopsAtStopToken(t *testing.T) {
	k := newTestKnowledge(t, 2)
	Train(k, NewDefaultTokenizer(), []string{"the quick brown fox"})

	g := NewGenerator(WithMaxChars(140), WithSpasm(0), WithSampler(NewSeededSampler(1)))
	if got := g.Generate(k); got != "the quick brown fox" {
		t.Errorf("Generate() = %q, want the single trained document", got)
	}
}

func TestGenerate_EmptyStore(t *testing.T) {
	for _, ramble := range []bool{true, false} {
		for _, spasm := range []float64{0, 0.5, 1} {
			g := NewGenerator(WithRamble(ramble), WithSpasm(spasm), WithSampler(NewSeededSampler(1)))
			if got := g.Generate(newTestKnowledge(t, 2)); got != "" {
				t.Errorf("Generate() on an empty store = %q, want empty", got)
			}
		}
	}
}

func TestGenerate_ZeroBudget(t *testing.T) {
	g := NewGenerator(WithMaxChars(0), WithSampler(NewSeededSampler(1)))
	if got := g.Generate(trainedKnowledge(t, 2)); got != "" {
		t.Errorf("Generate() with no budget = %q, want empty", got)
	}
	if g := NewGenerator(WithMaxChars(-5)); g.MaxChars() != 0 {
		t.Errorf("MaxChars() = %d, want negative budgets clamped to 0", g.MaxChars())
	}
}

func TestGenerate_RespectsLengthBound(t *testing.T) {
	for _, order := range []int{1, 2, 3} {
		k := trainedKnowledge(t, order)
		for _, maxChars := range []int{1, 5, 12, 30, 140} {
			for _, ramble := range []bool{true, false} {
				for seed := uint64(0); seed < 50; seed++ {
					g := NewGenerator(
						WithMaxChars(maxChars),
						WithRamble(ramble),
						WithSpasm(0.2),
						WithSampler(NewSeededSampler(seed)),
					)
					got := g.Generate(k)
					if len(got) > maxChars {
						t.Fatalf("order %d seed %d: len(%q) = %d exceeds %d", order, seed, got, len(got), maxChars)
					}
					if strings.Contains(got, StopToken) {
						t.Fatalf("output %q contains the stop token", got)
					}
				}
			}
		}
	}
}

func TestGenerate_PrefersStopPoint(t *testing.T) {
	k := newTestKnowledge(t, 2)
	mustAdd(t, k, nil, "a b", 1)
	mustAdd(t, k, []string{"a", "b"}, StopToken, 1)

	// With spasm always firing, every step emits "a b" until the budget is
	// exceeded at "a b a b a b". The longest prefix ending in a stop context
	// is "a b a b"; dropping one token would give "a b a b a".
	g := NewGenerator(WithMaxChars(10), WithSpasm(1), WithSampler(NewSeededSampler(1)))
	if got := g.Generate(k); got != "a b a b" {
		t.Errorf("Generate() = %q, want %q", got, "a b a b")
	}
}

func TestGenerate_TruncatesWithoutStopPoint(t *testing.T) {
	k := newTestKnowledge(t, 1)
	mustAdd(t, k, nil, "x", 1)
	mustAdd(t, k, []string{"x"}, "x", 1)

	g := NewGenerator(WithMaxChars(10), WithSpasm(0), WithSampler(NewSeededSampler(1)))
	if got := g.Generate(k); got != "x x x x x" {
		t.Errorf("Generate() = %q, want %q", got, "x x x x x")
	}
}

func TestGenerate_TruncatesMultiTokenStart(t *testing.T) {
	k := newTestKnowledge(t, 3)
	mustAdd(t, k, nil, "aaa bbb ccc", 1)

	g := NewGenerator(WithMaxChars(5), WithSpasm(1), WithSampler(NewSeededSampler(1)))
	if got := g.Generate(k); got != "aaa" {
		t.Errorf("Generate() = %q, want %q", got, "aaa")
	}
}

func TestGenerate_DeadEndWithoutRamble(t *testing.T) {
	k := newTestKnowledge(t, 1)
	mustAdd(t, k, nil, "start", 1)

	g := NewGenerator(WithRamble(false), WithSpasm(0), WithSampler(NewSeededSampler(1)))
	if got := g.Generate(k); got != "start" {
		t.Errorf("Generate() = %q, want %q", got, "start")
	}

	// Rambling restarts from the start candidates until the budget runs out.
	g = NewGenerator(WithMaxChars(20), WithRamble(true), WithSpasm(0), WithSampler(NewSeededSampler(1)))
	if got := g.Generate(k); got != "start start start" {
		t.Errorf("Generate() = %q, want %q", got, "start start start")
	}
}

func TestGenerate_SameSeedSameOutput(t *testing.T) {
	k := trainedKnowledge(t, 2)
	a := NewGenerator(WithSampler(NewSeededSampler(99)))
	b := NewGenerator(WithSampler(NewSeededSampler(99)))
	for i := 0; i < 20; i++ {
		if ga, gb := a.Generate(k), b.Generate(k); ga != gb {
			t.Fatalf("generation %d differs: %q vs %q", i, ga, gb)
		}
	}
}

func TestGenerate_LongBudgetWithoutStopPoint(t *testing.T) {
	k := newTestKnowledge(t, 1)
	mustAdd(t, k, nil, "a", 1)
	mustAdd(t, k, []string{"a"}, "b", 1)
	mustAdd(t, k, []string{"b"}, "a", 1)

	g := NewGenerator(WithMaxChars(10_000), WithRamble(false), WithSpasm(0), WithSampler(NewSeededSampler(1)))
	got := g.Generate(k)
	// "a b a b ..." overshoots to 10001 characters at 5001 tokens and drops
	// the last one, leaving 5000 tokens that end in "b".
	if len(got) != 9_999 || !strings.HasPrefix(got, "a b a") || !strings.HasSuffix(got, "a b") {
		t.Errorf("Generate() returned %d characters ending in %q, want 9999 ending in %q", len(got), got[max(0, len(got)-3):], "a b")
	}
}

func BenchmarkGenerate_LongBudget(b *testing.B) {
	k := newTestKnowledge(b, 1)
	mustAdd(b, k, nil, "a", 1)
	mustAdd(b, k, []string{"a"}, "b", 1)
	mustAdd(b, k, []string{"b"}, "a", 1)
	g := NewGenerator(WithMaxChars(80_000), WithRamble(false), WithSpasm(0), WithSampler(NewSeededSampler(1)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		g.Generate(k)
	}
}

func BenchmarkGenerate(b *testing.B) {
	k := newTestKnowledge(b, 2)
	Train(k, NewDefaultTokenizer(), createBenchmarkCorpus())
	g := NewGenerator(WithSampler(NewSeededSampler(1)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		g.Generate(k)
	}
}
