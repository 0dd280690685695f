// Package behavior inspects response timing to catch automated
// responders that pass content checks.
package behavior

import "fmt"

// Response is the slice of the session's answer log this package needs.
type Response struct {
	Correct        bool
	ResponseTimeMs int64
}

// Result is a behavioral verdict for one completed session.
type Result struct {
	BotScore   int      `json:"botScore"`
	Suspicious []string `json:"suspicious"`
	IsBot      bool     `json:"isBot"`
}

// DefaultBotThreshold is the bot score at which a session fails.
const DefaultBotThreshold = 50

// Analyzer scores response timing. It runs only on sessions that
// answered every challenge correctly.
type Analyzer struct {
	threshold int
}

// NewAnalyzer builds an analyzer. A non-positive threshold selects
// DefaultBotThreshold.
func NewAnalyzer(threshold int) *Analyzer {
	if threshold <= 0 {
		threshold = DefaultBotThreshold
	}
	return &Analyzer{threshold: threshold}
}

// Analyze returns a bot-likelihood score for the response log. Fewer
// than one response yields a neutral result.
func (a *Analyzer) Analyze(responses []Response) Result {
	if len(responses) < 1 {
		return Result{Suspicious: []string{}}
	}

	mean := meanMs(responses)
	variance := varianceMs(responses, mean)

	score := 0
	suspicious := []string{}
	flag := func(s string) { suspicious = append(suspicious, s) }

	switch {
	case mean < 500:
		flag(fmt.Sprintf("mean response time %.0fms is faster than humanly possible", mean))
		score += 40
	case mean < 1500:
		flag(fmt.Sprintf("mean response time %.0fms is unusually fast", mean))
		score += 20
	}

	// Humans show timing jitter; scripts do not.
	if variance < 50000 && mean < 3000 {
		flag("suspiciously consistent timing")
		score += 25
	}

	if len(responses) >= 2 && allCorrect(responses) && mean < 2000 {
		flag("perfect answers at speed")
		score += 20
	}

	if score > 100 {
		score = 100
	}

	return Result{
		BotScore:   score,
		Suspicious: suspicious,
		IsBot:      score >= a.threshold,
	}
}

func meanMs(responses []Response) float64 {
	var sum int64
	for _, r := range responses {
		sum += r.ResponseTimeMs
	}
	return float64(sum) / float64(len(responses))
}

func varianceMs(responses []Response, mean float64) float64 {
	var sum float64
	for _, r := range responses {
		d := float64(r.ResponseTimeMs) - mean
		sum += d * d
	}
	return sum / float64(len(responses))
}

func allCorrect(responses []Response) bool {
	for _, r := range responses {
		if !r.Correct {
			return false
		}
	}
	return true
}
