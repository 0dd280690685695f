// Package verify decides whether a submitted answer matches a
// challenge's expected answer.
package verify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/whatisyournamepro123/nova-discord-bot-sub000/internal/challenge"
	"github.com/whatisyournamepro123/nova-discord-bot-sub000/internal/metrics"
	"github.com/whatisyournamepro123/nova-discord-bot-sub000/internal/oracle"
)

// Method names the tier that decided a verification.
type Method string

const (
	MethodExact      Method = "exact"
	MethodNumeric    Method = "numeric"
	MethodVariation  Method = "variation"
	MethodAIVerified Method = "ai_verified"
	MethodSimilarity Method = "similarity"
	MethodNoMatch    Method = "no_match"
)

// similarityThreshold is the minimum normalized edit-distance ratio the
// final local tier accepts.
const similarityThreshold = 0.85

// Result is one verification verdict.
type Result struct {
	Correct    bool   `json:"correct"`
	Confidence int    `json:"confidence"`
	Method     Method `json:"method"`
}

// variantSets group canonical answers with their informal equivalents.
var variantSets = [][]string{
	{"yes", "yeah", "yep", "yup", "y", "sure", "correct", "true"},
	{"no", "nope", "nah", "n", "false", "incorrect"},
}

// Verifier runs the matching tiers cheapest-first. The oracle may be
// nil; the edit-distance tier then stands in for semantic matching.
type Verifier struct {
	oracle oracle.TextOracle
	logger *slog.Logger
}

func NewVerifier(o oracle.TextOracle, logger *slog.Logger) *Verifier {
	return &Verifier{oracle: o, logger: logger}
}

// Verify checks submitted against the challenge's answer. Empty or
// garbage input is simply incorrect, never an error.
func (v *Verifier) Verify(ctx context.Context, ch challenge.Challenge, submitted string) Result {
	res := v.verify(ctx, ch, submitted)
	metrics.AnswerVerificationsTotal.
		WithLabelValues(string(res.Method), strconv.FormatBool(res.Correct)).Inc()
	return res
}

func (v *Verifier) verify(ctx context.Context, ch challenge.Challenge, submitted string) Result {
	expected := normalize(ch.Answer)
	got := normalize(submitted)

	if got != "" && got == expected {
		return Result{Correct: true, Confidence: 100, Method: MethodExact}
	}

	if ev, err1 := strconv.ParseFloat(expected, 64); err1 == nil {
		if gv, err2 := strconv.ParseFloat(got, 64); err2 == nil {
			if ev == gv {
				return Result{Correct: true, Confidence: 100, Method: MethodNumeric}
			}
			return Result{Correct: false, Confidence: 0, Method: MethodNumeric}
		}
	}

	if sameVariantSet(expected, got) {
		return Result{Correct: true, Confidence: 95, Method: MethodVariation}
	}

	if v.oracle != nil {
		if res, ok := v.askOracle(ctx, ch, submitted); ok {
			return res
		}
	}

	if got != "" {
		if ratio := similarity(expected, got); ratio >= similarityThreshold {
			return Result{Correct: true, Confidence: int(ratio * 100), Method: MethodSimilarity}
		}
	}

	return Result{Correct: false, Confidence: 0, Method: MethodNoMatch}
}

type oracleVerdict struct {
	Equivalent bool `json:"equivalent"`
	Confidence int  `json:"confidence"`
}

// askOracle runs the semantic tier. A false second return means the
// oracle was unusable and the caller should fall through.
func (v *Verifier) askOracle(ctx context.Context, ch challenge.Challenge, submitted string) (Result, bool) {
	prompt := fmt.Sprintf(
		"Question: %q. Expected answer: %q. Submitted answer: %q. "+
			"Are they equivalent (typos, synonyms, abbreviations count)? "+
			"Respond with JSON only: {\"equivalent\":bool,\"confidence\":0-100}",
		ch.Question, ch.Answer, submitted)

	raw, err := v.oracle.Complete(ctx, "verify",
		"You judge whether two answers to a question are equivalent. JSON only.", prompt)
	if err != nil {
		v.logger.Debug("semantic answer check skipped", "error", err)
		return Result{}, false
	}

	var verdict oracleVerdict
	if err := json.Unmarshal([]byte(raw), &verdict); err != nil {
		v.logger.Debug("semantic answer check unparseable", "error", err)
		return Result{}, false
	}

	conf := verdict.Confidence
	if conf < 0 {
		conf = 0
	} else if conf > 100 {
		conf = 100
	}
	return Result{Correct: verdict.Equivalent, Confidence: conf, Method: MethodAIVerified}, true
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func sameVariantSet(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	for _, set := range variantSets {
		hasA, hasB := false, false
		for _, v := range set {
			if v == a {
				hasA = true
			}
			if v == b {
				hasB = true
			}
		}
		if hasA && hasB {
			return true
		}
	}
	return false
}

// similarity is a normalized Levenshtein ratio in [0,1].
func similarity(a, b string) float64 {
	if a == b {
		return 1
	}
	ra, rb := []rune(a), []rune(b)
	longest := len(ra)
	if len(rb) > longest {
		longest = len(rb)
	}
	if longest == 0 {
		return 1
	}
	return 1 - float64(levenshtein(ra, rb))/float64(longest)
}

// levenshtein computes edit distance with a rolling single row.
func levenshtein(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}

	prev := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}

	for i := 1; i <= len(a); i++ {
		curr := prev[0]
		prev[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			next := min(prev[j]+1, prev[j-1]+1, curr+cost)
			curr = prev[j]
			prev[j] = next
		}
	}
	return prev[len(b)]
}
