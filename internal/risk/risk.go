// Package risk scores arriving accounts and derives the verification
// policy applied to them.
package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/whatisyournamepro123/nova-discord-bot-sub000/internal/challenge"
	"github.com/whatisyournamepro123/nova-discord-bot-sub000/internal/oracle"
	"github.com/whatisyournamepro123/nova-discord-bot-sub000/internal/traces"
)

// Level buckets a threat score into a verification tier.
type Level string

const (
	LevelMinimal  Level = "minimal"
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Account is the metadata available for a member at join time.
type Account struct {
	UserID         string
	GuildID        string
	Username       string
	DisplayName    string
	AvatarURL      string
	AvatarAnimated bool
	HasBanner      bool
	CreatedAt      time.Time
}

// Insights is the oracle's structured read on an account, kept only when
// it parses cleanly.
type Insights struct {
	BotProbability   float64 `json:"botProbability"`
	HumanProbability float64 `json:"humanProbability"`
	SpamProbability  float64 `json:"spamProbability"`
	Recommendation   string  `json:"recommendation"`
}

// Analysis is the immutable risk verdict for one account.
type Analysis struct {
	AccountAgeMinutes int                  `json:"accountAgeMinutes"`
	AccountAgeHours   int                  `json:"accountAgeHours"`
	AccountAgeDays    int                  `json:"accountAgeDays"`
	HasAvatar         bool                 `json:"hasAvatar"`
	HasBanner         bool                 `json:"hasBanner"`
	AnimatedAvatar    bool                 `json:"animatedAvatar"`
	ThreatScore       int                  `json:"threatScore"`
	Level             Level                `json:"riskLevel"`
	RedFlags          []string             `json:"redFlags"`
	ChallengeCount    int                  `json:"challengeCount"`
	Difficulty        challenge.Difficulty `json:"challengeDifficulty"`
	TimeLimit         time.Duration        `json:"-"`
	Insights          *Insights            `json:"aiInsights,omitempty"`
}

// oracleFloor bounds oracle spend to already-suspicious accounts.
const oracleFloor = 15

var (
	// Auto-generated-looking handles: short letters then a digit run,
	// or a long alphanumeric blob.
	autogenShortRe = regexp.MustCompile(`^[a-z]{1,4}\d{4,}$`)
	autogenBlobRe  = regexp.MustCompile(`^[a-z0-9]{12,}$`)

	spamKeywords = []string{
		"free", "nitro", "gift", "promo", "crypto",
		"airdrop", "porn", "onlyfans", "discord.gg", "http",
	}
	staffKeywords = []string{
		"admin", "mod", "moderator", "staff",
		"official", "support", "system", "bot",
	}
)

// Analyzer scores accounts. The oracle may be nil; scoring then runs on
// local signals only.
type Analyzer struct {
	oracle oracle.TextOracle
	logger *slog.Logger
	now    func() time.Time
}

func NewAnalyzer(o oracle.TextOracle, logger *slog.Logger) *Analyzer {
	return &Analyzer{oracle: o, logger: logger, now: time.Now}
}

// Analyze computes the threat score and verification policy for one
// account. Signals are additive; the total is clamped to [0,100] only at
// the end so a late bonus can offset an early penalty.
func (a *Analyzer) Analyze(ctx context.Context, acct Account) *Analysis {
	ctx, span := traces.StartSpan(ctx, "risk.analyze",
		traces.UserID(acct.UserID), traces.GuildID(acct.GuildID))
	defer span.End()

	age := a.now().Sub(acct.CreatedAt)
	an := &Analysis{
		AccountAgeMinutes: int(age.Minutes()),
		AccountAgeHours:   int(age.Hours()),
		AccountAgeDays:    int(age.Hours() / 24),
		HasAvatar:         acct.AvatarURL != "",
		HasBanner:         acct.HasBanner,
		AnimatedAvatar:    acct.AvatarAnimated,
		RedFlags:          []string{},
	}

	score := a.scoreAge(an, age)
	score += a.scoreAvatar(an, acct)
	score += a.scoreName(an, acct)

	if score > oracleFloor && a.oracle != nil {
		score += a.refine(ctx, an, acct)
	}

	an.ThreatScore = clamp(score)
	an.Level = LevelFor(an.ThreatScore)
	an.ChallengeCount, an.Difficulty, an.TimeLimit = PolicyFor(an.Level)

	span.SetAttributes(traces.ThreatScore(an.ThreatScore), traces.RiskLevel(string(an.Level)))
	return an
}

// scoreAge applies exactly one age bracket, narrowest first. Stacking
// the brackets would double-count a brand-new account.
func (a *Analyzer) scoreAge(an *Analysis, age time.Duration) int {
	flag := func(s string) { an.RedFlags = append(an.RedFlags, s) }

	switch {
	case age < 30*time.Minute:
		flag("account created less than 30 minutes ago")
		return 60
	case age < time.Hour:
		flag("account created less than 1 hour ago")
		return 45
	case age < 6*time.Hour:
		flag("account created less than 6 hours ago")
		return 35
	case age < 24*time.Hour:
		flag("account created less than 1 day ago")
		return 25
	case age < 3*24*time.Hour:
		flag("account created less than 3 days ago")
		return 15
	case age < 7*24*time.Hour:
		flag("account created less than 1 week ago")
		return 10
	case age < 30*24*time.Hour:
		flag("account created less than 1 month ago")
		return 5
	case age > 365*24*time.Hour:
		return -15
	case age > 90*24*time.Hour:
		return -10
	}
	return 0
}

func (a *Analyzer) scoreAvatar(an *Analysis, acct Account) int {
	score := 0
	if acct.AvatarURL == "" {
		an.RedFlags = append(an.RedFlags, "no custom avatar")
		score += 15
	}
	if acct.AvatarAnimated {
		score -= 10
	}
	return score
}

// scoreName runs the username pattern checks. Unlike age brackets these
// stack: a name can be both auto-generated and spammy.
func (a *Analyzer) scoreName(an *Analysis, acct Account) int {
	name := strings.ToLower(acct.Username)
	display := strings.ToLower(acct.DisplayName)
	score := 0
	flag := func(s string) { an.RedFlags = append(an.RedFlags, s) }

	if autogenShortRe.MatchString(name) || autogenBlobRe.MatchString(name) {
		flag("auto-generated username pattern")
		score += 20
	}

	for _, kw := range spamKeywords {
		if strings.Contains(name, kw) || strings.Contains(display, kw) {
			flag("spam keyword in name: " + kw)
			score += 25
			break
		}
	}

	for _, kw := range staffKeywords {
		if strings.Contains(name, kw) || strings.Contains(display, kw) {
			flag("staff impersonation keyword in name: " + kw)
			score += 15
			break
		}
	}

	if hasZalgo(acct.Username) || nonAlnumRatio(acct.Username) > 0.4 {
		flag("unusual characters in username")
		score += 20
	}

	if digitRatio(name) > 0.5 && len(name) >= 5 {
		flag("digit-dominant username")
		score += 10
	}

	return score
}

// refine consults the oracle on an already-suspicious account. Any
// failure or malformed output is skipped silently.
func (a *Analyzer) refine(ctx context.Context, an *Analysis, acct Account) int {
	prompt := fmt.Sprintf(
		"Assess this community member for bot or spam likelihood. "+
			"Username: %q, display name: %q, account age: %d minutes, has avatar: %t. "+
			"Respond with JSON only: {\"botProbability\":0-1,\"humanProbability\":0-1,"+
			"\"spamProbability\":0-1,\"recommendation\":\"...\"}",
		acct.Username, acct.DisplayName, an.AccountAgeMinutes, an.HasAvatar)

	raw, err := a.oracle.Complete(ctx, "risk",
		"You assess member accounts for automated or malicious behavior. JSON only.", prompt)
	if err != nil {
		a.logger.Debug("risk refinement skipped", "error", err)
		return 0
	}

	var ins Insights
	if err := json.Unmarshal([]byte(raw), &ins); err != nil {
		a.logger.Debug("risk refinement unparseable", "error", err)
		return 0
	}
	an.Insights = &ins

	score := 0
	if ins.BotProbability >= 0.7 {
		an.RedFlags = append(an.RedFlags, "oracle flagged likely bot")
		score += 15
	}
	if ins.SpamProbability >= 0.7 {
		an.RedFlags = append(an.RedFlags, "oracle flagged likely spammer")
		score += 10
	}
	if ins.HumanProbability >= 0.8 {
		score -= 10
	}
	return score
}

// LevelFor maps a clamped threat score to its risk level.
func LevelFor(score int) Level {
	switch {
	case score >= 70:
		return LevelCritical
	case score >= 50:
		return LevelHigh
	case score >= 30:
		return LevelMedium
	case score >= 15:
		return LevelLow
	default:
		return LevelMinimal
	}
}

// PolicyFor returns the challenge count, difficulty, and per-challenge
// time limit for a risk level. Deterministic by design.
func PolicyFor(level Level) (count int, difficulty challenge.Difficulty, timeLimit time.Duration) {
	switch level {
	case LevelCritical:
		return 4, challenge.DifficultyExtreme, 45 * time.Second
	case LevelHigh:
		return 3, challenge.DifficultyHard, 60 * time.Second
	case LevelMedium:
		return 2, challenge.DifficultyMedium, 90 * time.Second
	case LevelLow:
		return 1, challenge.DifficultyEasy, 120 * time.Second
	default:
		return 1, challenge.DifficultySimple, 120 * time.Second
	}
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

func hasZalgo(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Mn, r) {
			return true
		}
	}
	return false
}

func nonAlnumRatio(s string) float64 {
	if s == "" {
		return 0
	}
	n, total := 0, 0
	for _, r := range s {
		total++
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			n++
		}
	}
	return float64(n) / float64(total)
}

func digitRatio(s string) float64 {
	if s == "" {
		return 0
	}
	n, total := 0, 0
	for _, r := range s {
		total++
		if unicode.IsDigit(r) {
			n++
		}
	}
	return float64(n) / float64(total)
}
