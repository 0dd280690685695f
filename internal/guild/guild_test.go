package guild

import "testing"

func TestStore_DefaultsForUnknownGuild(t *testing.T) {
	s := NewStore(0)
	cfg := s.Get("guild-1")
	if cfg.GuildID != "guild-1" {
		t.Fatalf("guild id %q, want guild-1", cfg.GuildID)
	}
	if cfg.RaidThreshold != DefaultRaidThreshold {
		t.Fatalf("raid threshold %d, want default %d", cfg.RaidThreshold, DefaultRaidThreshold)
	}
	if cfg.KickOnFail || cfg.BanHighRisk {
		t.Fatal("moderation actions should default off")
	}
}

func TestStore_PutGet(t *testing.T) {
	s := NewStore(0)
	s.Put(Config{
		GuildID:        "guild-1",
		KickOnFail:     true,
		VerifiedRoleID: "role-9",
		RaidThreshold:  25,
	})

	cfg := s.Get("guild-1")
	if !cfg.KickOnFail || cfg.VerifiedRoleID != "role-9" || cfg.RaidThreshold != 25 {
		t.Fatalf("stored config not returned: %+v", cfg)
	}
}

func TestStore_ZeroThresholdFallsBack(t *testing.T) {
	s := NewStore(0)
	s.Put(Config{GuildID: "guild-1", RaidThreshold: 0})
	if got := s.Get("guild-1").RaidThreshold; got != DefaultRaidThreshold {
		t.Fatalf("raid threshold %d, want default", got)
	}
}
