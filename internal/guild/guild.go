// Package guild holds per-guild moderation settings consulted when a
// verification session reaches a terminal state.
package guild

import "sync"

// Config is one guild's moderation policy.
type Config struct {
	GuildID          string `json:"guildId"`
	KickOnFail       bool   `json:"kickOnFail"`
	BanHighRisk      bool   `json:"banHighRisk"`
	VerifiedRoleID   string `json:"verifiedRoleId,omitempty"`
	UnverifiedRoleID string `json:"unverifiedRoleId,omitempty"`
	RaidThreshold    int    `json:"raidThreshold"`
}

// DefaultRaidThreshold applies to guilds that never set their own.
const DefaultRaidThreshold = 10

// Store is an in-memory guild config store. Guilds without explicit
// config get defaults.
type Store struct {
	mu               sync.RWMutex
	configs          map[string]Config
	defaultThreshold int
}

// NewStore builds a store. A non-positive defaultThreshold selects
// DefaultRaidThreshold for guilds that never set their own.
func NewStore(defaultThreshold int) *Store {
	if defaultThreshold <= 0 {
		defaultThreshold = DefaultRaidThreshold
	}
	return &Store{
		configs:          make(map[string]Config),
		defaultThreshold: defaultThreshold,
	}
}

// Get returns the guild's config, or defaults when none was set.
func (s *Store) Get(guildID string) Config {
	s.mu.RLock()
	cfg, ok := s.configs[guildID]
	s.mu.RUnlock()
	if !ok {
		return Config{GuildID: guildID, RaidThreshold: s.defaultThreshold}
	}
	return cfg
}

// Put stores the guild's config. A non-positive raid threshold falls
// back to the store default.
func (s *Store) Put(cfg Config) {
	if cfg.RaidThreshold <= 0 {
		cfg.RaidThreshold = s.defaultThreshold
	}
	s.mu.Lock()
	s.configs[cfg.GuildID] = cfg
	s.mu.Unlock()
}
