package actions

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgExec is the write surface the store needs from pgxpool.
type PgExec interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgStore writes the append-only action log tables and player skill updates.
// Team batches are single statements so an N-member roster costs one round
// trip, not N.
type PgStore struct {
	pg PgExec
}

func NewPgStore(pg PgExec) *PgStore {
	return &PgStore{pg: pg}
}

func (s *PgStore) LogPlayerAction(ctx context.Context, row PlayerActionRow) error {
	_, err := s.pg.Exec(ctx, `
		INSERT INTO event_player_actions (event_id, server_id, player_id, action_id, map, bonus)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id, player_id) DO NOTHING
	`, row.EventID, row.ServerID, row.PlayerID, row.ActionID, row.Map, row.Bonus)
	return err
}

func (s *PgStore) LogPlayerPlayerAction(ctx context.Context, row PlayerPlayerActionRow) error {
	_, err := s.pg.Exec(ctx, `
		INSERT INTO event_player_player_actions (event_id, server_id, player_id, victim_id, action_id, map, bonus)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (event_id, player_id) DO NOTHING
	`, row.EventID, row.ServerID, row.PlayerID, row.VictimID, row.ActionID, row.Map, row.Bonus)
	return err
}

// LogTeamActionBatch inserts all rows in one statement, skipping duplicate
// (event_id, player_id) pairs so a retried event is idempotent.
func (s *PgStore) LogTeamActionBatch(ctx context.Context, rows []TeamActionRow) error {
	if len(rows) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO event_team_bonuses (event_id, server_id, player_id, action_id, map, bonus) VALUES ")
	vals := make([]interface{}, 0, len(rows)*6)
	for i, row := range rows {
		n := i * 6
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "($%d, $%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6)
		vals = append(vals, row.EventID, row.ServerID, row.PlayerID, row.ActionID, row.Map, row.Bonus)
	}
	sb.WriteString(" ON CONFLICT (event_id, player_id) DO NOTHING")

	if _, err := s.pg.Exec(ctx, sb.String(), vals...); err != nil {
		return fmt.Errorf("bulk insert team bonuses (%d rows): %w", len(rows), err)
	}
	return nil
}

func (s *PgStore) LogWorldAction(ctx context.Context, row WorldActionRow) error {
	_, err := s.pg.Exec(ctx, `
		INSERT INTO event_world_actions (event_id, server_id, action_id, map, bonus)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id) DO NOTHING
	`, row.EventID, row.ServerID, row.ActionID, row.Map, row.Bonus)
	return err
}

func (s *PgStore) UpdatePlayerSkill(ctx context.Context, playerID int64, delta int) error {
	_, err := s.pg.Exec(ctx,
		`UPDATE players SET skill = skill + $1 WHERE id = $2`, delta, playerID)
	return err
}

// UpdatePlayerStatsBatch applies all skill deltas in one statement.
func (s *PgStore) UpdatePlayerStatsBatch(ctx context.Context, deltas []SkillDelta) error {
	if len(deltas) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString("UPDATE players SET skill = skill + v.delta FROM (VALUES ")
	vals := make([]interface{}, 0, len(deltas)*2)
	for i, d := range deltas {
		n := i * 2
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "($%d::bigint, $%d::int)", n+1, n+2)
		vals = append(vals, d.PlayerID, d.SkillDelta)
	}
	sb.WriteString(") AS v(id, delta) WHERE players.id = v.id")

	if _, err := s.pg.Exec(ctx, sb.String(), vals...); err != nil {
		return fmt.Errorf("batch skill update (%d rows): %w", len(deltas), err)
	}
	return nil
}
