package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/whatisyournamepro123/nova-discord-bot-sub000/internal/behavior"
	"github.com/whatisyournamepro123/nova-discord-bot-sub000/internal/challenge"
	"github.com/whatisyournamepro123/nova-discord-bot-sub000/internal/guild"
	"github.com/whatisyournamepro123/nova-discord-bot-sub000/internal/idgen"
	"github.com/whatisyournamepro123/nova-discord-bot-sub000/internal/logging"
	"github.com/whatisyournamepro123/nova-discord-bot-sub000/internal/metrics"
	"github.com/whatisyournamepro123/nova-discord-bot-sub000/internal/raid"
	"github.com/whatisyournamepro123/nova-discord-bot-sub000/internal/risk"
	"github.com/whatisyournamepro123/nova-discord-bot-sub000/internal/syncutil"
	"github.com/whatisyournamepro123/nova-discord-bot-sub000/internal/traces"
	"github.com/whatisyournamepro123/nova-discord-bot-sub000/internal/verify"
)

// Moderator applies platform actions when a session goes terminal.
// Implementations talk to the chat platform; the engine only decides.
type Moderator interface {
	OnVerified(ctx context.Context, s *Session, cfg guild.Config)
	OnFailed(ctx context.Context, s *Session, cfg guild.Config)
	OnTimeout(ctx context.Context, s *Session, cfg guild.Config)
}

// EventEmitter pushes engine events to the live dashboard.
type EventEmitter interface {
	Broadcast(eventType string, payload any)
}

const (
	reasonMaxAttempts = "max attempts exceeded"
	reasonBotBehavior = "bot behavior detected"
	reasonTimeout     = "verification timed out"
)

// defaultRetention is how long a terminal session stays readable before
// it is dropped from the store. The gateway and dashboard fetch the
// final state within seconds; anything older is dead weight.
const defaultRetention = 10 * time.Minute

// SubmitResult reports the outcome of one answer submission.
type SubmitResult struct {
	Session       *Session             `json:"session"`
	Verification  verify.Result        `json:"verification"`
	NextChallenge *challenge.Challenge `json:"nextChallenge,omitempty"`
	Done          bool                 `json:"done"`
}

// Stats is the engine's aggregate state for the dashboard.
type Stats struct {
	ActiveSessions int   `json:"activeSessions"`
	TotalCreated   int64 `json:"totalCreated"`
	TotalVerified  int64 `json:"totalVerified"`
	TotalFailed    int64 `json:"totalFailed"`
	TotalTimeout   int64 `json:"totalTimeout"`
}

// Manager drives the session state machine. All mutation of a session
// happens under its per-key lock; callers never touch sessions directly.
type Manager struct {
	store     Store
	risks     *risk.Analyzer
	generator *challenge.Generator
	verifier  *verify.Verifier
	behavior  *behavior.Analyzer
	raids     *raid.Detector
	guilds    *guild.Store
	moderator Moderator
	emitter   EventEmitter
	logger    *slog.Logger

	maxAttempts int
	retention   time.Duration
	locks       syncutil.ShardedMutex
	now         func() time.Time

	timerMu sync.Mutex
	timers  map[string]*time.Timer
	// afterFunc is swapped in tests to avoid wall-clock timers.
	afterFunc func(d time.Duration, f func()) *time.Timer

	created  atomic.Int64
	verified atomic.Int64
	failed   atomic.Int64
	timedOut atomic.Int64
}

// Deps bundles the manager's collaborators.
type Deps struct {
	Store       Store
	Risks       *risk.Analyzer
	Generator   *challenge.Generator
	Verifier    *verify.Verifier
	Behavior    *behavior.Analyzer
	Raids       *raid.Detector
	Guilds      *guild.Store
	Moderator   Moderator
	Emitter     EventEmitter
	Logger      *slog.Logger
	MaxAttempts int
	// Retention bounds how long terminal sessions stay in the store.
	// Zero means defaultRetention.
	Retention time.Duration
}

func NewManager(d Deps) *Manager {
	if d.MaxAttempts < 1 {
		d.MaxAttempts = 3
	}
	if d.Retention <= 0 {
		d.Retention = defaultRetention
	}
	return &Manager{
		store:       d.Store,
		risks:       d.Risks,
		generator:   d.Generator,
		verifier:    d.Verifier,
		behavior:    d.Behavior,
		raids:       d.Raids,
		guilds:      d.Guilds,
		moderator:   d.Moderator,
		emitter:     d.Emitter,
		logger:      d.Logger,
		maxAttempts: d.MaxAttempts,
		retention:   d.Retention,
		now:         time.Now,
		timers:      make(map[string]*time.Timer),
		afterFunc:   time.AfterFunc,
	}
}

// Create handles a join event end to end: raid check, risk analysis,
// challenge generation, storage, and expiry scheduling. The returned
// bool reports whether this join tripped the guild's raid threshold.
func (m *Manager) Create(ctx context.Context, ev JoinEvent) (*Session, bool, error) {
	ctx, span := traces.StartSpan(ctx, "session.create",
		traces.UserID(ev.UserID), traces.GuildID(ev.GuildID))
	defer span.End()

	cfg := m.guilds.Get(ev.GuildID)
	raidHit := m.raids.Check(ev.GuildID, cfg.RaidThreshold)
	if raidHit {
		m.logger.Warn("raid threshold tripped",
			"guild_id", ev.GuildID, "threshold", cfg.RaidThreshold)
		m.emitter.Broadcast("raid_alert", map[string]any{
			"guildId":   ev.GuildID,
			"threshold": cfg.RaidThreshold,
			"joins":     m.raids.WindowSize(ev.GuildID),
		})
	}

	unlock := m.locks.Lock(key(ev.UserID, ev.GuildID))
	defer unlock()

	if existing, err := m.store.Get(ctx, ev.UserID, ev.GuildID); err == nil && existing.Status == StatusPending {
		return nil, raidHit, ErrSessionExists
	}

	analysis := m.risks.Analyze(ctx, risk.Account{
		UserID:         ev.UserID,
		GuildID:        ev.GuildID,
		Username:       ev.Username,
		DisplayName:    ev.DisplayName,
		AvatarURL:      ev.AvatarURL,
		AvatarAnimated: ev.AvatarAnimated,
		HasBanner:      ev.HasBanner,
		CreatedAt:      ev.CreatedAt,
	})

	challenges := make([]challenge.Challenge, 0, analysis.ChallengeCount)
	var used []challenge.Category
	for i := 0; i < analysis.ChallengeCount; i++ {
		ch := m.generator.Generate(ctx, analysis.Difficulty, used)
		ch.TimeLimit = analysis.TimeLimit
		challenges = append(challenges, ch)
		used = append(used, ch.Category)
	}

	now := m.now()
	sess := &Session{
		ID:          idgen.WithPrefix("vs_"),
		UserID:      ev.UserID,
		GuildID:     ev.GuildID,
		DisplayName: ev.DisplayName,
		AvatarURL:   ev.AvatarURL,
		Analysis:    analysis,
		Challenges:  challenges,
		MaxAttempts: m.maxAttempts,
		Responses:   []Response{},
		Status:      StatusPending,
		StartedAt:   now,
		ExpiresAt:   now.Add(analysis.TimeLimit),
		LastAskedAt: now,
	}

	if err := m.store.Put(ctx, sess); err != nil {
		return nil, raidHit, fmt.Errorf("storing session: %w", err)
	}

	m.created.Add(1)
	metrics.SessionsCreatedTotal.WithLabelValues(string(analysis.Level)).Inc()
	metrics.ActiveSessions.Inc()
	m.scheduleExpiry(sess)

	logging.Session(ctx, ev.UserID, ev.GuildID).Info("verification session created",
		"session_id", sess.ID,
		"risk_level", analysis.Level,
		"threat_score", analysis.ThreatScore,
		"challenges", len(challenges))

	// The hub serializes events on its own goroutine and handlers read
	// returned sessions after the lock is released, so everything that
	// leaves this method is a snapshot, never the live session.
	m.emitter.Broadcast("session_started", sess.Snapshot())
	m.emitter.Broadcast("challenge_issued", map[string]any{
		"sessionId": sess.ID,
		"guildId":   sess.GuildID,
		"index":     0,
	})
	return sess.Snapshot(), raidHit, nil
}

// SubmitAnswer runs one answer through the state machine. Submissions
// against unknown or terminal sessions return ErrSessionNotFound, which
// callers treat as an expected no-op.
func (m *Manager) SubmitAnswer(ctx context.Context, userID, guildID, answer string) (*SubmitResult, error) {
	ctx, span := traces.StartSpan(ctx, "session.submit_answer",
		traces.UserID(userID), traces.GuildID(guildID))
	defer span.End()

	unlock := m.locks.Lock(key(userID, guildID))
	defer unlock()

	sess, err := m.store.Get(ctx, userID, guildID)
	if err != nil {
		return nil, ErrSessionNotFound
	}
	if sess.Status != StatusPending {
		return nil, ErrSessionNotFound
	}

	current, ok := sess.Current()
	if !ok {
		// currentIndex past the challenge list means a caller-ordering
		// bug, not a user error.
		panic(fmt.Sprintf("session %s: currentIndex %d out of range", sess.ID, sess.CurrentIdx))
	}

	now := m.now()
	result := m.verifier.Verify(ctx, current, answer)
	sess.Responses = append(sess.Responses, Response{
		ChallengeIndex: sess.CurrentIdx,
		AnswerGiven:    answer,
		Correct:        result.Correct,
		ResponseTimeMs: now.Sub(sess.LastAskedAt).Milliseconds(),
		Timestamp:      now,
	})

	log := logging.Session(ctx, userID, guildID)

	if result.Correct {
		if sess.CurrentIdx+1 < len(sess.Challenges) {
			sess.CurrentIdx++
			sess.LastAskedAt = now
			sess.ExpiresAt = now.Add(sess.Analysis.TimeLimit)
			m.scheduleExpiry(sess)

			next := sess.Challenges[sess.CurrentIdx]
			log.Info("answer correct, advancing",
				"session_id", sess.ID, "index", sess.CurrentIdx, "method", result.Method)
			m.emitter.Broadcast("challenge_issued", map[string]any{
				"sessionId": sess.ID,
				"guildId":   sess.GuildID,
				"index":     sess.CurrentIdx,
			})
			return &SubmitResult{Session: sess.Snapshot(), Verification: result, NextChallenge: &next}, nil
		}

		sess.CurrentIdx++
		gate := m.behavior.Analyze(behaviorLog(sess.Responses))
		if gate.IsBot {
			metrics.BotBehaviorDetectedTotal.Inc()
			log.Warn("behavioral gate failed",
				"session_id", sess.ID, "bot_score", gate.BotScore, "signals", gate.Suspicious)
			m.finalize(ctx, sess, StatusFailed, reasonBotBehavior)
		} else {
			log.Info("session verified",
				"session_id", sess.ID, "bot_score", gate.BotScore)
			m.finalize(ctx, sess, StatusVerified, "")
		}
		return &SubmitResult{Session: sess.Snapshot(), Verification: result, Done: true}, nil
	}

	sess.Attempts++
	if sess.Attempts < sess.MaxAttempts {
		// Replace the failed challenge in place, steering away from
		// categories the session has already seen.
		replacement := m.generator.Generate(ctx, sess.Analysis.Difficulty, sess.UsedCategories())
		replacement.TimeLimit = sess.Analysis.TimeLimit
		sess.Challenges[sess.CurrentIdx] = replacement
		sess.LastAskedAt = now
		sess.ExpiresAt = now.Add(sess.Analysis.TimeLimit)
		m.scheduleExpiry(sess)

		log.Info("answer wrong, challenge replaced",
			"session_id", sess.ID, "attempts", sess.Attempts, "max_attempts", sess.MaxAttempts)
		return &SubmitResult{Session: sess.Snapshot(), Verification: result, NextChallenge: &replacement}, nil
	}

	log.Warn("max attempts exhausted", "session_id", sess.ID)
	m.finalize(ctx, sess, StatusFailed, reasonMaxAttempts)
	return &SubmitResult{Session: sess.Snapshot(), Verification: result, Done: true}, nil
}

// Expire attempts the pending→timeout transition. It is idempotent: a
// session already terminal, unknown, or not yet past its deadline is a
// no-op. The expiry timer and late answers race; the loser lands here.
func (m *Manager) Expire(ctx context.Context, userID, guildID string) error {
	unlock := m.locks.Lock(key(userID, guildID))
	defer unlock()

	sess, err := m.store.Get(ctx, userID, guildID)
	if err != nil {
		return nil
	}
	if sess.Status != StatusPending {
		return nil
	}
	if m.now().Before(sess.ExpiresAt) {
		return nil
	}

	logging.Session(ctx, userID, guildID).Info("session timed out", "session_id", sess.ID)
	m.finalize(ctx, sess, StatusTimeout, reasonTimeout)
	return nil
}

// Get returns a snapshot of the session for a member, pending or
// terminal. The copy is taken under the per-key lock so readers never
// observe a half-applied transition.
func (m *Manager) Get(ctx context.Context, userID, guildID string) (*Session, error) {
	unlock := m.locks.Lock(key(userID, guildID))
	defer unlock()

	sess, err := m.store.Get(ctx, userID, guildID)
	if err != nil {
		return nil, err
	}
	return sess.Snapshot(), nil
}

// Stats snapshots the engine counters for the dashboard.
func (m *Manager) Stats(ctx context.Context) Stats {
	active, _ := m.store.CountPending(ctx)
	return Stats{
		ActiveSessions: active,
		TotalCreated:   m.created.Load(),
		TotalVerified:  m.verified.Load(),
		TotalFailed:    m.failed.Load(),
		TotalTimeout:   m.timedOut.Load(),
	}
}

// finalize moves a pending session into a terminal state and runs the
// side effects exactly once. Callers hold the session's key lock.
func (m *Manager) finalize(ctx context.Context, sess *Session, status Status, reason string) {
	sess.Status = status
	sess.FailReason = reason
	m.cancelExpiry(sess)
	m.scheduleEviction(sess)

	metrics.SessionsCompletedTotal.WithLabelValues(string(status)).Inc()
	metrics.ActiveSessions.Dec()

	cfg := m.guilds.Get(sess.GuildID)
	snap := sess.Snapshot()
	switch status {
	case StatusVerified:
		m.verified.Add(1)
		m.emitter.Broadcast("session_verified", snap)
		m.moderator.OnVerified(ctx, snap, cfg)
	case StatusFailed:
		m.failed.Add(1)
		m.emitter.Broadcast("session_failed", snap)
		m.moderator.OnFailed(ctx, snap, cfg)
	case StatusTimeout:
		m.timedOut.Add(1)
		m.emitter.Broadcast("session_timeout", snap)
		m.moderator.OnTimeout(ctx, snap, cfg)
	}
}

// scheduleExpiry arms a one-shot timer at the session's deadline,
// replacing any previous timer. A stale timer firing early is harmless:
// Expire re-checks the deadline under the lock.
func (m *Manager) scheduleExpiry(sess *Session) {
	k := key(sess.UserID, sess.GuildID)
	d := sess.ExpiresAt.Sub(m.now())

	m.timerMu.Lock()
	defer m.timerMu.Unlock()

	if t, ok := m.timers[k]; ok {
		t.Stop()
	}
	userID, guildID := sess.UserID, sess.GuildID
	m.timers[k] = m.afterFunc(d, func() {
		_ = m.Expire(context.Background(), userID, guildID)
	})
}

// scheduleEviction arms a one-shot timer that drops a terminal session
// from the store after the retention window. Without it the store grows
// without bound, one entry per member ever verified.
func (m *Manager) scheduleEviction(sess *Session) {
	sessionID, userID, guildID := sess.ID, sess.UserID, sess.GuildID
	m.afterFunc(m.retention, func() {
		m.evict(context.Background(), sessionID, userID, guildID)
	})
}

// evict removes a terminal session once its retention window is up. The
// session ID check keeps a stale timer from deleting a newer session
// created by a rejoin in the same slot.
func (m *Manager) evict(ctx context.Context, sessionID, userID, guildID string) {
	unlock := m.locks.Lock(key(userID, guildID))
	defer unlock()

	sess, err := m.store.Get(ctx, userID, guildID)
	if err != nil {
		return
	}
	if sess.ID != sessionID || !sess.Status.Terminal() {
		return
	}
	if err := m.store.Delete(ctx, userID, guildID); err != nil {
		m.logger.Error("evicting terminal session", "session_id", sessionID, "error", err)
	}
}

func (m *Manager) cancelExpiry(sess *Session) {
	k := key(sess.UserID, sess.GuildID)
	m.timerMu.Lock()
	if t, ok := m.timers[k]; ok {
		t.Stop()
		delete(m.timers, k)
	}
	m.timerMu.Unlock()
}

func behaviorLog(responses []Response) []behavior.Response {
	out := make([]behavior.Response, len(responses))
	for i, r := range responses {
		out[i] = behavior.Response{Correct: r.Correct, ResponseTimeMs: r.ResponseTimeMs}
	}
	return out
}
