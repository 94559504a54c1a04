package models

import "time"

// ServerToken is a beacon credential issued by the admin tooling. The daemon
// only ever reads it, except for the debounced last_used_at touch.
type ServerToken struct {
	ID                    int64
	TokenHash             string
	TokenPrefix           string
	Name                  string
	EncryptedRconPassword string
	Game                  string
	CreatedAt             time.Time
	ExpiresAt             *time.Time
	RevokedAt             *time.Time
	LastUsedAt            *time.Time
}

// Revoked reports whether the token has been deactivated.
func (t *ServerToken) Revoked() bool { return t.RevokedAt != nil }

// Expired reports whether the token's expiry has passed at the given instant.
func (t *ServerToken) Expired(now time.Time) bool {
	return t.ExpiresAt != nil && t.ExpiresAt.Before(now)
}

// Server is a registered game server. Identity is (AuthTokenID, Port), never
// the address: containerized servers keep their row across IP churn and the
// address is rewritten in place.
type Server struct {
	ID           int64
	Name         string
	Address      string
	Port         int
	Game         string
	AuthTokenID  int64
	RconPassword string
}

// ActionDefinition is a row of the action catalog, keyed (game, code, team)
// with the empty team as fallback.
type ActionDefinition struct {
	ID                     int64
	Game                   string
	Code                   string
	Team                   string
	RewardPlayer           int
	RewardTeam             int
	ForPlayerActions       bool
	ForPlayerPlayerActions bool
	ForTeamActions         bool
	ForWorldActions        bool
}

// Player is the downstream identity an action event resolves to.
type Player struct {
	ID      int64
	Name    string
	Game    string
	SteamID string
	Skill   int
}
