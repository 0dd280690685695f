// Package session owns the verification session lifecycle: creation,
// answer intake, expiry, and final disposition.
package session

import (
	"errors"
	"time"

	"github.com/whatisyournamepro123/nova-discord-bot-sub000/internal/challenge"
	"github.com/whatisyournamepro123/nova-discord-bot-sub000/internal/risk"
)

var (
	// ErrSessionNotFound covers both unknown sessions and sessions
	// already in a terminal state. Duplicate or late submissions are an
	// expected race, not a fault.
	ErrSessionNotFound = errors.New("session not found or no longer pending")
	// ErrSessionExists rejects a join for a member already mid-verification.
	ErrSessionExists = errors.New("verification session already pending")
)

// Status is a session's lifecycle state. pending is the only
// non-terminal state; there is no resurrection from the other three.
type Status string

const (
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
	StatusFailed   Status = "failed"
	StatusTimeout  Status = "timeout"
)

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusVerified || s == StatusFailed || s == StatusTimeout
}

// Response is one entry in the append-only submission log.
type Response struct {
	ChallengeIndex int       `json:"challengeIndex"`
	AnswerGiven    string    `json:"answerGiven"`
	Correct        bool      `json:"correct"`
	ResponseTimeMs int64     `json:"responseTimeMs"`
	Timestamp      time.Time `json:"timestamp"`
}

// Session tracks one member's progress through their assigned
// challenges. The Manager exclusively owns mutation.
type Session struct {
	ID          string                `json:"id"`
	UserID      string                `json:"userId"`
	GuildID     string                `json:"guildId"`
	DisplayName string                `json:"displayName"`
	AvatarURL   string                `json:"avatarUrl,omitempty"`
	Analysis    *risk.Analysis        `json:"analysis"`
	Challenges  []challenge.Challenge `json:"challenges"`
	CurrentIdx  int                   `json:"currentIndex"`
	Attempts    int                   `json:"attempts"`
	MaxAttempts int                   `json:"maxAttempts"`
	Responses   []Response            `json:"responses"`
	Status      Status                `json:"status"`
	FailReason  string                `json:"failReason,omitempty"`
	StartedAt   time.Time             `json:"startedAt"`
	ExpiresAt   time.Time             `json:"expiresAt"`
	LastAskedAt time.Time             `json:"lastQuestionTime"`
}

// Guild lets event consumers filter sessions by guild without knowing
// the concrete type.
func (s *Session) Guild() string { return s.GuildID }

// Snapshot copies the session for readers outside the manager's per-key
// lock (event broadcasts, HTTP responses). Slices are copied; Analysis
// is never mutated after creation and is shared.
func (s *Session) Snapshot() *Session {
	c := *s
	c.Challenges = append([]challenge.Challenge(nil), s.Challenges...)
	c.Responses = append([]Response(nil), s.Responses...)
	return &c
}

// Current returns the challenge the member is facing, or false once
// every slot is answered.
func (s *Session) Current() (challenge.Challenge, bool) {
	if s.CurrentIdx < 0 || s.CurrentIdx >= len(s.Challenges) {
		return challenge.Challenge{}, false
	}
	return s.Challenges[s.CurrentIdx], true
}

// UsedCategories lists the categories of every challenge slot, used to
// steer replacements away from repeats.
func (s *Session) UsedCategories() []challenge.Category {
	cats := make([]challenge.Category, 0, len(s.Challenges))
	for _, ch := range s.Challenges {
		cats = append(cats, ch.Category)
	}
	return cats
}

// JoinEvent is the gateway's notification that a member arrived.
type JoinEvent struct {
	UserID         string    `json:"userId"`
	GuildID        string    `json:"guildId"`
	Username       string    `json:"username"`
	DisplayName    string    `json:"displayName"`
	AvatarURL      string    `json:"avatarUrl"`
	AvatarAnimated bool      `json:"avatarAnimated"`
	HasBanner      bool      `json:"hasBanner"`
	CreatedAt      time.Time `json:"createdAt"`
}
