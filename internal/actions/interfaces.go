// Package actions resolves parsed action events against the action catalog
// and distributes rewards to players and teams.
package actions

import (
	"context"

	"github.com/hlstatsnext/ingress/internal/models"
)

// Catalog looks up action definitions keyed (game, code, team), preferring
// an exact team match and falling back to the empty-team row.
type Catalog interface {
	FindByCode(ctx context.Context, game, code, team string) (*models.ActionDefinition, bool, error)
}

// PlayerRef is the unresolved identity a parser emits.
type PlayerRef struct {
	SteamID string
	Name    string
	Game    string
}

// PlayerService resolves in-game identities to internal players. Resolution
// may create a player downstream; both calls batch where they can.
type PlayerService interface {
	Resolve(ctx context.Context, ref PlayerRef) (*models.Player, error)
	ResolvePair(ctx context.Context, a, b PlayerRef) (*models.Player, *models.Player, error)
	Skill(ctx context.Context, playerID int64) (int, error)
}

// MatchService enumerates the live roster of a server-side team.
type MatchService interface {
	TeamMembers(ctx context.Context, serverID int64, team string) ([]int64, error)
}

// ServerInfo resolves server attributes the event does not carry.
type ServerInfo interface {
	GameFor(ctx context.Context, serverID int64) (string, error)
}

// PlayerActionRow is one append-only log row for a single-player action.
type PlayerActionRow struct {
	EventID  string
	ServerID int64
	PlayerID int64
	ActionID int64
	Map      string
	Bonus    int
}

// PlayerPlayerActionRow logs an actor/victim pair action.
type PlayerPlayerActionRow struct {
	EventID  string
	ServerID int64
	PlayerID int64
	VictimID int64
	ActionID int64
	Map      string
	Bonus    int
}

// TeamActionRow is one member's share of a team bonus.
type TeamActionRow struct {
	EventID  string
	ServerID int64
	PlayerID int64
	ActionID int64
	Map      string
	Bonus    int
}

// WorldActionRow logs a server-scoped action with no recipient.
type WorldActionRow struct {
	EventID  string
	ServerID int64
	ActionID int64
	Map      string
	Bonus    int
}

// SkillDelta is one row of a batched skill update.
type SkillDelta struct {
	PlayerID   int64
	SkillDelta int
}

// Store writes action log rows and skill updates. Batch calls are single
// database statements; the team log insert skips duplicate (event, player)
// pairs so retries are idempotent.
type Store interface {
	LogPlayerAction(ctx context.Context, row PlayerActionRow) error
	LogPlayerPlayerAction(ctx context.Context, row PlayerPlayerActionRow) error
	LogTeamActionBatch(ctx context.Context, rows []TeamActionRow) error
	LogWorldAction(ctx context.Context, row WorldActionRow) error
	UpdatePlayerSkill(ctx context.Context, playerID int64, delta int) error
	UpdatePlayerStatsBatch(ctx context.Context, deltas []SkillDelta) error
}

// RewardNotification is the optional in-game feedback for a reward.
type RewardNotification struct {
	ServerID    int64
	PlayerID    int64
	PlayerName  string
	ActionCode  string
	Points      int
	PlayerSkill int
}

// Notifier delivers reward notifications. Failures are never propagated.
type Notifier interface {
	NotifyReward(ctx context.Context, n RewardNotification) error
}
