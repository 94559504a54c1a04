package actions

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/hlstatsnext/ingress/internal/models"
)

// PgQuerier is the read/write surface the player adapter needs.
type PgQuerier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgPlayerService resolves steam identities against the players table,
// creating unseen players on first contact. Bots resolve by name instead of
// steam id.
type PgPlayerService struct {
	pg PgQuerier
}

func NewPgPlayerService(pg PgQuerier) *PgPlayerService {
	return &PgPlayerService{pg: pg}
}

func (s *PgPlayerService) Resolve(ctx context.Context, ref PlayerRef) (*models.Player, error) {
	if ref.SteamID == "" {
		return nil, fmt.Errorf("player ref missing steam id")
	}

	// Every bot reports the steam id "BOT", so bots are keyed on their name.
	key := ref.SteamID
	if key == "BOT" {
		key = "BOT:" + ref.Name
	}

	var p models.Player
	err := s.pg.QueryRow(ctx, `
		INSERT INTO players (steam_id, name, game, skill)
		VALUES ($1, $2, $3, 1000)
		ON CONFLICT (steam_id, game) DO UPDATE SET name = EXCLUDED.name
		RETURNING id, name, game, steam_id, skill
	`, key, ref.Name, ref.Game).Scan(&p.ID, &p.Name, &p.Game, &p.SteamID, &p.Skill)
	if err != nil {
		return nil, fmt.Errorf("resolve player %s: %w", ref.SteamID, err)
	}
	return &p, nil
}

// ResolvePair fetches both participants in one query; a participant not yet
// in the table is created through Resolve.
func (s *PgPlayerService) ResolvePair(ctx context.Context, a, b PlayerRef) (*models.Player, *models.Player, error) {
	rows, err := s.pg.Query(ctx, `
		SELECT id, name, game, steam_id, skill
		FROM players
		WHERE game = $1 AND steam_id = ANY($2)
	`, a.Game, []string{a.SteamID, b.SteamID})
	if err != nil {
		return nil, nil, fmt.Errorf("resolve player pair: %w", err)
	}
	defer rows.Close()

	bySteam := make(map[string]*models.Player, 2)
	for rows.Next() {
		var p models.Player
		if err := rows.Scan(&p.ID, &p.Name, &p.Game, &p.SteamID, &p.Skill); err != nil {
			return nil, nil, fmt.Errorf("scan player pair: %w", err)
		}
		bySteam[p.SteamID] = &p
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	actor, victim := bySteam[a.SteamID], bySteam[b.SteamID]

	// First contact for either participant falls back to per-player upsert.
	if actor == nil {
		if actor, err = s.Resolve(ctx, a); err != nil {
			return nil, nil, err
		}
	}
	if victim == nil {
		if victim, err = s.Resolve(ctx, b); err != nil {
			return nil, nil, err
		}
	}
	return actor, victim, nil
}

func (s *PgPlayerService) Skill(ctx context.Context, playerID int64) (int, error) {
	var skill int
	err := s.pg.QueryRow(ctx, `SELECT skill FROM players WHERE id = $1`, playerID).Scan(&skill)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("player %d not found", playerID)
		}
		return 0, fmt.Errorf("fetch skill for player %d: %w", playerID, err)
	}
	return skill, nil
}
