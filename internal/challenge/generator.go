package challenge

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"sync"
	"time"

	"github.com/whatisyournamepro123/nova-discord-bot-sub000/internal/idgen"
	"github.com/whatisyournamepro123/nova-discord-bot-sub000/internal/metrics"
	"github.com/whatisyournamepro123/nova-discord-bot-sub000/internal/oracle"
)

const generatorSystemPrompt = "You write verification challenges for a community moderation bot. " +
	"Respond with JSON only, no prose."

// genericFillers pad the option list when a non-numeric answer arrives
// with too few distractors.
var genericFillers = []string{"none of these", "not sure", "something else"}

// oracleChallenge is the JSON contract the oracle is asked to honor.
type oracleChallenge struct {
	Question         string   `json:"question"`
	Answer           string   `json:"answer"`
	Distractors      []string `json:"distractors"`
	Hint             string   `json:"hint"`
	Explanation      string   `json:"explanation"`
	TimeLimitSeconds int      `json:"timeLimitSeconds"`
}

// Generator produces challenges, preferring the oracle and falling back
// to the bank on any failure. It never returns an error.
type Generator struct {
	oracle oracle.TextOracle
	bank   *Bank
	logger *slog.Logger

	mu  sync.Mutex
	rng Rand
}

// NewGenerator builds a generator. The oracle may be nil, in which case
// every challenge comes from the bank.
func NewGenerator(o oracle.TextOracle, bank *Bank, logger *slog.Logger, rng Rand) *Generator {
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Generator{oracle: o, bank: bank, logger: logger, rng: rng}
}

// Generate produces one challenge at the given difficulty, avoiding
// excluded categories unless the exclusion would empty the tier.
func (g *Generator) Generate(ctx context.Context, difficulty Difficulty, excluded []Category) Challenge {
	category := g.pickCategory(difficulty, excluded)

	if g.oracle != nil {
		if ch, err := g.fromOracle(ctx, category, difficulty); err == nil {
			metrics.ChallengesGeneratedTotal.WithLabelValues("oracle").Inc()
			return ch
		} else {
			g.logger.Debug("oracle challenge generation failed, using bank",
				"category", category, "difficulty", difficulty, "error", err)
		}
	}

	ch := g.bank.Draw(category)
	ch.ID = idgen.WithPrefix("ch_")
	ch.Difficulty = difficulty
	metrics.ChallengesGeneratedTotal.WithLabelValues("bank").Inc()
	return ch
}

func (g *Generator) pickCategory(difficulty Difficulty, excluded []Category) Category {
	tier := Categories(difficulty)

	skip := make(map[Category]bool, len(excluded))
	for _, c := range excluded {
		skip[c] = true
	}

	candidates := make([]Category, 0, len(tier))
	for _, c := range tier {
		if !skip[c] {
			candidates = append(candidates, c)
		}
	}
	// Every category already used: ignore the exclusion rather than
	// blocking generation.
	if len(candidates) == 0 {
		candidates = tier
	}

	g.mu.Lock()
	c := candidates[g.rng.IntN(len(candidates))]
	g.mu.Unlock()
	return c
}

func (g *Generator) fromOracle(ctx context.Context, category Category, difficulty Difficulty) (Challenge, error) {
	prompt := fmt.Sprintf(
		"Create one %s verification challenge in the %q category. "+
			"Return JSON with fields: question, answer, distractors (array of at least 3 wrong options), "+
			"hint, explanation, timeLimitSeconds.",
		difficulty, category)

	raw, err := g.oracle.Complete(ctx, "challenge", generatorSystemPrompt, prompt)
	if err != nil {
		return Challenge{}, err
	}

	var parsed oracleChallenge
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return Challenge{}, fmt.Errorf("parsing oracle challenge: %w", err)
	}
	if parsed.Question == "" || parsed.Answer == "" {
		return Challenge{}, fmt.Errorf("oracle challenge missing question or answer")
	}

	// The oracle sometimes slips the answer (or a duplicate) into its
	// distractor list; sanitize before assembling options so the answer
	// appears exactly once.
	distractors := synthesizeDistractors(parsed.Answer, parsed.Distractors)

	options := append([]string{parsed.Answer}, distractors...)
	g.mu.Lock()
	g.rng.Shuffle(len(options), func(i, j int) {
		options[i], options[j] = options[j], options[i]
	})
	g.mu.Unlock()

	limit := time.Duration(parsed.TimeLimitSeconds) * time.Second
	if limit <= 0 {
		limit = bankTimeLimit
	}

	return Challenge{
		ID:          idgen.WithPrefix("ch_"),
		Question:    parsed.Question,
		Answer:      parsed.Answer,
		Options:     options,
		Hint:        parsed.Hint,
		Explanation: parsed.Explanation,
		Category:    category,
		Difficulty:  difficulty,
		TimeLimit:   limit,
	}, nil
}

// synthesizeDistractors drops empty entries, duplicates, and anything
// equal to the answer, then pads the list to three entries. Numeric
// answers get near-miss values; everything else gets fillers.
func synthesizeDistractors(answer string, existing []string) []string {
	out := make([]string, 0, 3)
	seen := map[string]bool{answer: true}
	for _, d := range existing {
		if d != "" && !seen[d] {
			out = append(out, d)
			seen[d] = true
		}
	}

	var candidates []string
	if v, err := strconv.ParseFloat(answer, 64); err == nil {
		candidates = []string{
			strconv.FormatFloat(v+1, 'f', -1, 64),
			strconv.FormatFloat(v-1, 'f', -1, 64),
			strconv.FormatFloat(v*2, 'f', -1, 64),
		}
	} else {
		candidates = genericFillers
	}

	for _, c := range candidates {
		if len(out) >= 3 {
			break
		}
		if !seen[c] {
			out = append(out, c)
			seen[c] = true
		}
	}
	return out
}
