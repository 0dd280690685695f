package session

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/whatisyournamepro123/nova-discord-bot-sub000/internal/behavior"
	"github.com/whatisyournamepro123/nova-discord-bot-sub000/internal/challenge"
	"github.com/whatisyournamepro123/nova-discord-bot-sub000/internal/guild"
	"github.com/whatisyournamepro123/nova-discord-bot-sub000/internal/raid"
	"github.com/whatisyournamepro123/nova-discord-bot-sub000/internal/risk"
	"github.com/whatisyournamepro123/nova-discord-bot-sub000/internal/verify"
)

type stubModerator struct {
	mu       sync.Mutex
	verified int
	failed   int
	timedOut int
}

func (s *stubModerator) OnVerified(ctx context.Context, sess *Session, cfg guild.Config) {
	s.mu.Lock()
	s.verified++
	s.mu.Unlock()
}

func (s *stubModerator) OnFailed(ctx context.Context, sess *Session, cfg guild.Config) {
	s.mu.Lock()
	s.failed++
	s.mu.Unlock()
}

func (s *stubModerator) OnTimeout(ctx context.Context, sess *Session, cfg guild.Config) {
	s.mu.Lock()
	s.timedOut++
	s.mu.Unlock()
}

type stubEmitter struct {
	mu       sync.Mutex
	events   []string
	payloads map[string]any
}

func (s *stubEmitter) Broadcast(eventType string, payload any) {
	s.mu.Lock()
	s.events = append(s.events, eventType)
	if s.payloads == nil {
		s.payloads = make(map[string]any)
	}
	s.payloads[eventType] = payload
	s.mu.Unlock()
}

func (s *stubEmitter) payload(eventType string) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.payloads[eventType]
}

func (s *stubEmitter) has(eventType string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.events {
		if e == eventType {
			return true
		}
	}
	return false
}

type fixture struct {
	m     *Manager
	mod   *stubModerator
	emit  *stubEmitter
	clock time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	rng := rand.New(rand.NewPCG(7, 7))

	f := &fixture{
		mod:   &stubModerator{},
		emit:  &stubEmitter{},
		clock: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
	f.m = NewManager(Deps{
		Store:       NewMemoryStore(),
		Risks:       risk.NewAnalyzer(nil, logger),
		Generator:   challenge.NewGenerator(nil, challenge.NewBank(rng), logger, rng),
		Verifier:    verify.NewVerifier(nil, logger),
		Behavior:    behavior.NewAnalyzer(0),
		Raids:       raid.NewDetector(),
		Guilds:      guild.NewStore(0),
		Moderator:   f.mod,
		Emitter:     f.emit,
		Logger:      logger,
		MaxAttempts: 3,
	})
	f.m.now = func() time.Time { return f.clock }
	// Keep expiry under test control instead of wall-clock timers.
	f.m.afterFunc = func(d time.Duration, fn func()) *time.Timer {
		return time.AfterFunc(24*time.Hour, func() {})
	}
	return f
}

func (f *fixture) advance(d time.Duration) {
	f.clock = f.clock.Add(d)
}

// lowRiskJoin yields a minimal-risk account: one simple challenge.
func lowRiskJoin() JoinEvent {
	return JoinEvent{
		UserID:    "111111111111111111",
		GuildID:   "222222222222222222",
		Username:  "gardenfox",
		AvatarURL: "https://cdn.example.com/a.png",
		CreatedAt: time.Now().Add(-2 * 365 * 24 * time.Hour),
	}
}

// highRiskJoin yields a critical-risk account: four extreme challenges.
func highRiskJoin() JoinEvent {
	return JoinEvent{
		UserID:    "333333333333333333",
		GuildID:   "222222222222222222",
		Username:  "xk7829471",
		CreatedAt: time.Now().Add(-10 * time.Minute),
	}
}

// answerCorrectly submits the current challenge's own answer.
func (f *fixture) answerCorrectly(t *testing.T, userID, guildID string) *SubmitResult {
	t.Helper()
	sess, err := f.m.Get(context.Background(), userID, guildID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	current, ok := sess.Current()
	if !ok {
		t.Fatal("no current challenge")
	}
	res, err := f.m.SubmitAnswer(context.Background(), userID, guildID, current.Answer)
	if err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}
	return res
}

func TestCreate_LowRisk(t *testing.T) {
	f := newFixture(t)
	ev := lowRiskJoin()

	sess, raidHit, err := f.m.Create(context.Background(), ev)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if raidHit {
		t.Fatal("single join should not trip raid detection")
	}
	if sess.Status != StatusPending {
		t.Fatalf("status %s, want pending", sess.Status)
	}
	if len(sess.Challenges) != 1 {
		t.Fatalf("got %d challenges for minimal risk, want 1", len(sess.Challenges))
	}
	if sess.Analysis.Level != risk.LevelMinimal {
		t.Fatalf("risk level %s, want minimal", sess.Analysis.Level)
	}
	if !f.emit.has("session_started") || !f.emit.has("challenge_issued") {
		t.Fatalf("missing events: %v", f.emit.events)
	}
}

func TestCreate_HighRiskGetsFourChallenges(t *testing.T) {
	f := newFixture(t)

	sess, _, err := f.m.Create(context.Background(), highRiskJoin())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sess.Analysis.Level != risk.LevelCritical {
		t.Fatalf("risk level %s, want critical", sess.Analysis.Level)
	}
	if len(sess.Challenges) != 4 {
		t.Fatalf("got %d challenges, want 4", len(sess.Challenges))
	}
	for _, ch := range sess.Challenges {
		if ch.Difficulty != challenge.DifficultyExtreme {
			t.Fatalf("challenge difficulty %s, want extreme", ch.Difficulty)
		}
	}
}

func TestCreate_DuplicatePendingRejected(t *testing.T) {
	f := newFixture(t)
	ev := lowRiskJoin()

	if _, _, err := f.m.Create(context.Background(), ev); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	_, _, err := f.m.Create(context.Background(), ev)
	if !errors.Is(err, ErrSessionExists) {
		t.Fatalf("second Create err = %v, want ErrSessionExists", err)
	}
}

func TestSubmitAnswer_HumanPacedVerifies(t *testing.T) {
	f := newFixture(t)
	ev := highRiskJoin()
	f.m.Create(context.Background(), ev)

	var last *SubmitResult
	for i := 0; i < 4; i++ {
		f.advance(5 * time.Second)
		f.advance(time.Duration(i) * 800 * time.Millisecond)
		last = f.answerCorrectly(t, ev.UserID, ev.GuildID)
	}

	if !last.Done {
		t.Fatal("final submission should complete the session")
	}
	if last.Session.Status != StatusVerified {
		t.Fatalf("status %s (%s), want verified", last.Session.Status, last.Session.FailReason)
	}
	if f.mod.verified != 1 {
		t.Fatalf("moderator OnVerified called %d times, want 1", f.mod.verified)
	}
	if !f.emit.has("session_verified") {
		t.Fatalf("missing session_verified event: %v", f.emit.events)
	}
	if len(last.Session.Responses) != 4 {
		t.Fatalf("response log has %d entries, want 4", len(last.Session.Responses))
	}
}

func TestSubmitAnswer_InstantAnswersFailBehavioralGate(t *testing.T) {
	f := newFixture(t)
	ev := highRiskJoin()
	f.m.Create(context.Background(), ev)

	var last *SubmitResult
	for i := 0; i < 4; i++ {
		f.advance(300 * time.Millisecond)
		last = f.answerCorrectly(t, ev.UserID, ev.GuildID)
	}

	if last.Session.Status != StatusFailed {
		t.Fatalf("status %s, want failed", last.Session.Status)
	}
	if last.Session.FailReason != reasonBotBehavior {
		t.Fatalf("fail reason %q, want %q", last.Session.FailReason, reasonBotBehavior)
	}
	if f.mod.failed != 1 {
		t.Fatalf("moderator OnFailed called %d times, want 1", f.mod.failed)
	}
}

func TestSubmitAnswer_WrongAnswerReplacesChallenge(t *testing.T) {
	f := newFixture(t)
	ev := lowRiskJoin()
	sess, _, _ := f.m.Create(context.Background(), ev)
	original := sess.Challenges[0]

	f.advance(5 * time.Second)
	res, err := f.m.SubmitAnswer(context.Background(), ev.UserID, ev.GuildID, "definitely wrong zzz")
	if err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}

	if res.Session.Status != StatusPending {
		t.Fatalf("status %s, want pending", res.Session.Status)
	}
	if res.Session.Attempts != 1 {
		t.Fatalf("attempts %d, want 1", res.Session.Attempts)
	}
	if len(res.Session.Challenges) != 1 {
		t.Fatalf("challenge list length changed to %d", len(res.Session.Challenges))
	}
	if res.Session.CurrentIdx != 0 {
		t.Fatalf("currentIndex %d, want 0 (replacement in place)", res.Session.CurrentIdx)
	}
	if res.NextChallenge == nil {
		t.Fatal("expected replacement challenge")
	}
	if res.Session.Challenges[0].Question == original.Question &&
		res.Session.Challenges[0].Category == original.Category {
		t.Log("replacement drew the same bank entry; category steering still applies")
	}
}

func TestSubmitAnswer_MaxAttemptsFails(t *testing.T) {
	f := newFixture(t)
	ev := lowRiskJoin()
	f.m.Create(context.Background(), ev)

	var res *SubmitResult
	var err error
	for i := 0; i < 3; i++ {
		f.advance(5 * time.Second)
		res, err = f.m.SubmitAnswer(context.Background(), ev.UserID, ev.GuildID, "definitely wrong zzz")
		if err != nil {
			t.Fatalf("SubmitAnswer %d: %v", i, err)
		}
	}

	if res.Session.Status != StatusFailed {
		t.Fatalf("status %s, want failed", res.Session.Status)
	}
	if res.Session.FailReason != reasonMaxAttempts {
		t.Fatalf("fail reason %q, want %q", res.Session.FailReason, reasonMaxAttempts)
	}
	if res.Session.Attempts != 3 {
		t.Fatalf("attempts %d, want 3", res.Session.Attempts)
	}
}

func TestSubmitAnswer_TerminalSessionIsNoOp(t *testing.T) {
	f := newFixture(t)
	ev := lowRiskJoin()
	f.m.Create(context.Background(), ev)

	f.advance(5 * time.Second)
	f.answerCorrectly(t, ev.UserID, ev.GuildID)

	sess, _ := f.m.Get(context.Background(), ev.UserID, ev.GuildID)
	if !sess.Status.Terminal() {
		t.Fatalf("status %s, want terminal", sess.Status)
	}
	logLen := len(sess.Responses)

	_, err := f.m.SubmitAnswer(context.Background(), ev.UserID, ev.GuildID, "4")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
	after, _ := f.m.Get(context.Background(), ev.UserID, ev.GuildID)
	if len(after.Responses) != logLen {
		t.Fatal("terminal session's response log was mutated")
	}
}

func TestBroadcastsReceiveSnapshots(t *testing.T) {
	f := newFixture(t)
	ev := lowRiskJoin()
	f.m.Create(context.Background(), ev)

	started, ok := f.emit.payload("session_started").(*Session)
	if !ok {
		t.Fatal("session_started payload is not a *Session")
	}

	// The emitter serializes on another goroutine; mutating the live
	// session after the broadcast must not show through.
	f.advance(5 * time.Second)
	if _, err := f.m.SubmitAnswer(context.Background(), ev.UserID, ev.GuildID, "definitely wrong zzz"); err != nil {
		t.Fatalf("SubmitAnswer: %v", err)
	}

	if len(started.Responses) != 0 {
		t.Fatalf("broadcast payload gained %d responses after the fact", len(started.Responses))
	}
	if started.Attempts != 0 {
		t.Fatalf("broadcast payload attempts = %d, want 0", started.Attempts)
	}

	live, _ := f.m.Get(context.Background(), ev.UserID, ev.GuildID)
	if live.Attempts != 1 || len(live.Responses) != 1 {
		t.Fatalf("live session not updated: attempts=%d responses=%d", live.Attempts, len(live.Responses))
	}
}

func TestTerminalSessionEvictedAfterRetention(t *testing.T) {
	f := newFixture(t)

	var (
		timerMu   sync.Mutex
		scheduled []func()
	)
	f.m.afterFunc = func(d time.Duration, fn func()) *time.Timer {
		timerMu.Lock()
		scheduled = append(scheduled, fn)
		timerMu.Unlock()
		return time.AfterFunc(24*time.Hour, func() {})
	}

	ev := lowRiskJoin()
	if _, _, err := f.m.Create(context.Background(), ev); err != nil {
		t.Fatalf("Create: %v", err)
	}

	for i := 0; i < 3; i++ {
		f.advance(5 * time.Second)
		if _, err := f.m.SubmitAnswer(context.Background(), ev.UserID, ev.GuildID, "definitely wrong zzz"); err != nil {
			t.Fatalf("SubmitAnswer: %v", err)
		}
	}

	// Terminal sessions stay readable until the retention timer fires.
	sess, err := f.m.Get(context.Background(), ev.UserID, ev.GuildID)
	if err != nil {
		t.Fatalf("Get before retention: %v", err)
	}
	if sess.Status != StatusFailed {
		t.Fatalf("status %s, want failed", sess.Status)
	}

	// Fire every armed timer: expiry callbacks no-op against a terminal
	// session, the eviction callback drops it from the store.
	timerMu.Lock()
	fns := scheduled
	timerMu.Unlock()
	for _, fn := range fns {
		fn()
	}

	if _, err := f.m.Get(context.Background(), ev.UserID, ev.GuildID); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Get after retention: want ErrSessionNotFound, got %v", err)
	}

	// The freed slot accepts a fresh join.
	if _, _, err := f.m.Create(context.Background(), ev); err != nil {
		t.Fatalf("Create after eviction: %v", err)
	}
}

func TestGetReturnsIsolatedCopy(t *testing.T) {
	f := newFixture(t)
	ev := lowRiskJoin()
	f.m.Create(context.Background(), ev)

	first, err := f.m.Get(context.Background(), ev.UserID, ev.GuildID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	first.Status = StatusFailed
	first.Responses = append(first.Responses, Response{AnswerGiven: "tampered"})
	first.Challenges[0].Answer = "tampered"

	second, err := f.m.Get(context.Background(), ev.UserID, ev.GuildID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if second.Status != StatusPending {
		t.Fatalf("status %s, want pending", second.Status)
	}
	if len(second.Responses) != 0 {
		t.Fatal("caller mutation leaked into the stored session")
	}
	if second.Challenges[0].Answer == "tampered" {
		t.Fatal("caller mutation of challenges leaked into the stored session")
	}
}

func TestSubmitAnswer_UnknownSession(t *testing.T) {
	f := newFixture(t)
	_, err := f.m.SubmitAnswer(context.Background(), "999999999999999999", "222222222222222222", "4")
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("err = %v, want ErrSessionNotFound", err)
	}
}

func TestExpire_PastDeadline(t *testing.T) {
	f := newFixture(t)
	ev := lowRiskJoin()
	sess, _, _ := f.m.Create(context.Background(), ev)

	f.advance(sess.Analysis.TimeLimit + time.Second)
	if err := f.m.Expire(context.Background(), ev.UserID, ev.GuildID); err != nil {
		t.Fatalf("Expire: %v", err)
	}

	got, _ := f.m.Get(context.Background(), ev.UserID, ev.GuildID)
	if got.Status != StatusTimeout {
		t.Fatalf("status %s, want timeout", got.Status)
	}
	if f.mod.timedOut != 1 {
		t.Fatalf("moderator OnTimeout called %d times, want 1", f.mod.timedOut)
	}
}

func TestExpire_BeforeDeadlineIsNoOp(t *testing.T) {
	f := newFixture(t)
	ev := lowRiskJoin()
	f.m.Create(context.Background(), ev)

	f.advance(time.Second)
	f.m.Expire(context.Background(), ev.UserID, ev.GuildID)

	got, _ := f.m.Get(context.Background(), ev.UserID, ev.GuildID)
	if got.Status != StatusPending {
		t.Fatalf("status %s, want still pending", got.Status)
	}
}

func TestExpire_Idempotent(t *testing.T) {
	f := newFixture(t)
	ev := lowRiskJoin()
	sess, _, _ := f.m.Create(context.Background(), ev)

	f.advance(sess.Analysis.TimeLimit + time.Second)
	f.m.Expire(context.Background(), ev.UserID, ev.GuildID)
	f.m.Expire(context.Background(), ev.UserID, ev.GuildID)
	f.m.Expire(context.Background(), ev.UserID, ev.GuildID)

	if f.mod.timedOut != 1 {
		t.Fatalf("moderator OnTimeout called %d times, want exactly 1", f.mod.timedOut)
	}
}

func TestExpire_LosesRaceToFinalAnswer(t *testing.T) {
	f := newFixture(t)
	ev := lowRiskJoin()
	f.m.Create(context.Background(), ev)

	f.advance(5 * time.Second)
	f.answerCorrectly(t, ev.UserID, ev.GuildID)

	// The timer fires late; the session is already verified.
	f.advance(5 * time.Minute)
	f.m.Expire(context.Background(), ev.UserID, ev.GuildID)

	got, _ := f.m.Get(context.Background(), ev.UserID, ev.GuildID)
	if got.Status != StatusVerified {
		t.Fatalf("status %s, want verified to stick", got.Status)
	}
	if f.mod.timedOut != 0 {
		t.Fatal("timeout side effects must not run after a terminal state")
	}
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	ev := lowRiskJoin()
	f.m.Create(context.Background(), ev)

	stats := f.m.Stats(context.Background())
	if stats.ActiveSessions != 1 || stats.TotalCreated != 1 {
		t.Fatalf("stats %+v, want 1 active / 1 created", stats)
	}

	f.advance(5 * time.Second)
	f.answerCorrectly(t, ev.UserID, ev.GuildID)

	stats = f.m.Stats(context.Background())
	if stats.ActiveSessions != 0 || stats.TotalVerified != 1 {
		t.Fatalf("stats %+v, want 0 active / 1 verified", stats)
	}
}

func TestCreate_RaidThresholdTrips(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < guild.DefaultRaidThreshold; i++ {
		ev := lowRiskJoin()
		ev.UserID = "10000000000000000" + string(rune('0'+i))
		_, raidHit, err := f.m.Create(context.Background(), ev)
		if err != nil {
			t.Fatalf("Create %d: %v", i, err)
		}
		if i < guild.DefaultRaidThreshold-1 && raidHit {
			t.Fatalf("join %d tripped raid early", i+1)
		}
		if i == guild.DefaultRaidThreshold-1 && !raidHit {
			t.Fatal("threshold-th join should trip raid detection")
		}
	}
	if !f.emit.has("raid_alert") {
		t.Fatalf("missing raid_alert event: %v", f.emit.events)
	}
}
