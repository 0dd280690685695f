package server

import (
	"context"
	"log/slog"

	"github.com/whatisyournamepro123/nova-discord-bot-sub000/internal/guild"
	"github.com/whatisyournamepro123/nova-discord-bot-sub000/internal/risk"
	"github.com/whatisyournamepro123/nova-discord-bot-sub000/internal/session"
)

// logModerator is the default platform collaborator. The engine runs
// behind a gateway process that owns the bot token, so this side only
// records the action the gateway should take. The gateway reads it from
// the terminal session event.
type logModerator struct {
	logger *slog.Logger
}

func (m *logModerator) OnVerified(ctx context.Context, s *session.Session, cfg guild.Config) {
	m.logger.Info("member verified",
		"user_id", s.UserID,
		"guild_id", s.GuildID,
		"threat_score", s.Analysis.ThreatScore,
		"risk_level", s.Analysis.Level,
		"assign_role", cfg.VerifiedRoleID,
		"remove_role", cfg.UnverifiedRoleID,
	)
}

func (m *logModerator) OnFailed(ctx context.Context, s *session.Session, cfg guild.Config) {
	action := "none"
	switch {
	case cfg.BanHighRisk && highRisk(s.Analysis):
		action = "ban"
	case cfg.KickOnFail:
		action = "kick"
	}
	m.logger.Warn("member failed verification",
		"user_id", s.UserID,
		"guild_id", s.GuildID,
		"reason", s.FailReason,
		"threat_score", s.Analysis.ThreatScore,
		"risk_level", s.Analysis.Level,
		"action", action,
	)
}

func (m *logModerator) OnTimeout(ctx context.Context, s *session.Session, cfg guild.Config) {
	action := "none"
	if cfg.KickOnFail {
		action = "kick"
	}
	m.logger.Warn("member verification timed out",
		"user_id", s.UserID,
		"guild_id", s.GuildID,
		"risk_level", s.Analysis.Level,
		"action", action,
	)
}

func highRisk(a *risk.Analysis) bool {
	return a.Level == risk.LevelHigh || a.Level == risk.LevelCritical
}
