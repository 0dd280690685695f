package challenge

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"testing"
)

func testRand() *rand.Rand {
	return rand.New(rand.NewPCG(1, 2))
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// stubOracle returns a canned completion or an error.
type stubOracle struct {
	response string
	err      error
	calls    int
}

func (s *stubOracle) Complete(ctx context.Context, site, systemPrompt, userPrompt string) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

func assertOptionInvariant(t *testing.T, ch Challenge) {
	t.Helper()
	if len(ch.Options) < 2 {
		t.Fatalf("challenge has %d options, want >= 2", len(ch.Options))
	}
	count := 0
	for _, o := range ch.Options {
		if o == ch.Answer {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("answer %q appears %d times in options %v, want exactly once", ch.Answer, count, ch.Options)
	}
}

func TestBank_DrawNeverFails(t *testing.T) {
	b := NewBank(testRand())
	for _, cat := range []Category{
		CategoryMath, CategoryWord, CategoryCommonSense, CategoryCounting,
		CategoryEmoji, CategoryPattern, CategoryLogic, CategorySequence,
		CategoryRiddle, CategoryTrick,
	} {
		ch := b.Draw(cat)
		if ch.Question == "" || ch.Answer == "" {
			t.Fatalf("bank draw for %s returned empty challenge", cat)
		}
		if ch.Category != cat {
			t.Fatalf("got category %s, want %s", ch.Category, cat)
		}
		assertOptionInvariant(t, ch)
	}
}

func TestBank_UnknownCategoryFallsBack(t *testing.T) {
	b := NewBank(testRand())
	ch := b.Draw(CategoryBehavioral)
	if ch.Category != defaultCategory {
		t.Fatalf("got category %s, want default %s", ch.Category, defaultCategory)
	}
	assertOptionInvariant(t, ch)
}

func TestCategories_TiersNest(t *testing.T) {
	simple := Categories(DifficultySimple)
	medium := Categories(DifficultyMedium)
	extreme := Categories(DifficultyExtreme)

	if len(simple) >= len(medium) || len(medium) >= len(extreme) {
		t.Fatalf("tiers should grow: simple=%d medium=%d extreme=%d",
			len(simple), len(medium), len(extreme))
	}

	in := func(cats []Category, c Category) bool {
		for _, x := range cats {
			if x == c {
				return true
			}
		}
		return false
	}
	for _, c := range simple {
		if !in(extreme, c) {
			t.Fatalf("extreme tier missing simple category %s", c)
		}
	}
	if in(medium, CategoryTrap) {
		t.Fatal("trap should be extreme-only")
	}
}

func TestGenerator_OracleDistractorsContainingAnswer(t *testing.T) {
	o := &stubOracle{response: `{"question":"What is 2+2?","answer":"4",` +
		`"distractors":["4","3","5"],"hint":"add","explanation":"basic sum"}`}
	g := NewGenerator(o, NewBank(testRand()), testLogger(), testRand())

	ch := g.Generate(context.Background(), DifficultyMedium, nil)
	if ch.Answer != "4" {
		t.Fatalf("unexpected challenge: %+v", ch)
	}
	assertOptionInvariant(t, ch)
	if len(ch.Options) < 3 {
		t.Fatalf("got %d options, want at least 3 after re-synthesis", len(ch.Options))
	}
}

func TestGenerator_OracleDuplicateDistractors(t *testing.T) {
	o := &stubOracle{response: `{"question":"Capital of France?","answer":"Paris",` +
		`"distractors":["Lyon","Lyon","Paris","Nice"]}`}
	g := NewGenerator(o, NewBank(testRand()), testLogger(), testRand())

	ch := g.Generate(context.Background(), DifficultySimple, nil)
	assertOptionInvariant(t, ch)
	seen := map[string]bool{}
	for _, opt := range ch.Options {
		if seen[opt] {
			t.Fatalf("duplicate option %q in %v", opt, ch.Options)
		}
		seen[opt] = true
	}
}

func TestGenerator_OracleChallenge(t *testing.T) {
	o := &stubOracle{response: `{"question":"What is 2+2?","answer":"4",` +
		`"distractors":["3","5","6"],"hint":"add","explanation":"basic sum","timeLimitSeconds":45}`}
	g := NewGenerator(o, NewBank(testRand()), testLogger(), testRand())

	ch := g.Generate(context.Background(), DifficultyMedium, nil)
	if ch.Question != "What is 2+2?" || ch.Answer != "4" {
		t.Fatalf("unexpected challenge: %+v", ch)
	}
	if len(ch.Options) != 4 {
		t.Fatalf("got %d options, want 4", len(ch.Options))
	}
	if ch.TimeLimit.Seconds() != 45 {
		t.Fatalf("got time limit %v, want 45s", ch.TimeLimit)
	}
	assertOptionInvariant(t, ch)
}

func TestGenerator_SynthesizesDistractors(t *testing.T) {
	o := &stubOracle{response: `{"question":"What is 3+3?","answer":"6","distractors":[]}`}
	g := NewGenerator(o, NewBank(testRand()), testLogger(), testRand())

	ch := g.Generate(context.Background(), DifficultyEasy, nil)
	if len(ch.Options) < 4 {
		t.Fatalf("got %d options, want 4 after synthesis", len(ch.Options))
	}
	assertOptionInvariant(t, ch)
}

func TestGenerator_FallsBackToBank(t *testing.T) {
	tests := []struct {
		name   string
		oracle *stubOracle
	}{
		{"oracle error", &stubOracle{err: errors.New("down")}},
		{"malformed json", &stubOracle{response: "not json"}},
		{"missing answer", &stubOracle{response: `{"question":"hm?","answer":""}`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGenerator(tt.oracle, NewBank(testRand()), testLogger(), testRand())
			ch := g.Generate(context.Background(), DifficultySimple, nil)
			if ch.Question == "" || ch.Answer == "" {
				t.Fatal("bank fallback returned empty challenge")
			}
			assertOptionInvariant(t, ch)
		})
	}
}

func TestGenerator_NilOracleUsesBank(t *testing.T) {
	g := NewGenerator(nil, NewBank(testRand()), testLogger(), testRand())
	ch := g.Generate(context.Background(), DifficultyHard, nil)
	if ch.Question == "" {
		t.Fatal("expected bank challenge")
	}
	if ch.Difficulty != DifficultyHard {
		t.Fatalf("got difficulty %s, want hard", ch.Difficulty)
	}
}

func TestGenerator_ExclusionRespected(t *testing.T) {
	g := NewGenerator(nil, NewBank(testRand()), testLogger(), testRand())

	tier := Categories(DifficultySimple)
	excluded := tier[:len(tier)-1]
	want := tier[len(tier)-1]

	for i := 0; i < 20; i++ {
		got := g.pickCategory(DifficultySimple, excluded)
		if got != want {
			t.Fatalf("pickCategory returned excluded %s, want %s", got, want)
		}
	}
}

func TestGenerator_FullExclusionIgnored(t *testing.T) {
	g := NewGenerator(nil, NewBank(testRand()), testLogger(), testRand())
	got := g.pickCategory(DifficultySimple, Categories(DifficultySimple))
	found := false
	for _, c := range Categories(DifficultySimple) {
		if c == got {
			found = true
		}
	}
	if !found {
		t.Fatalf("pickCategory returned %s outside the tier", got)
	}
}
