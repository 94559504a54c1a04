package actions

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hlstatsnext/ingress/internal/models"
)

// PgRow is the single-row query surface the catalog needs from pgxpool.
type PgRow interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgCatalog reads the actions table. Definitions change rarely, so lookups
// are cached with a short TTL; a miss on (game, code, team) falls back to
// the empty-team row.
type PgCatalog struct {
	pg  PgRow
	ttl time.Duration

	mu    sync.Mutex
	cache map[string]catalogEntry
	now   func() time.Time
}

type catalogEntry struct {
	def      *models.ActionDefinition
	found    bool
	cachedAt time.Time
}

func NewPgCatalog(pg PgRow, ttl time.Duration) *PgCatalog {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &PgCatalog{pg: pg, ttl: ttl, cache: make(map[string]catalogEntry), now: time.Now}
}

func (c *PgCatalog) FindByCode(ctx context.Context, game, code, team string) (*models.ActionDefinition, bool, error) {
	key := game + "\x00" + code + "\x00" + team

	c.mu.Lock()
	if e, ok := c.cache[key]; ok && c.now().Sub(e.cachedAt) < c.ttl {
		c.mu.Unlock()
		return e.def, e.found, nil
	}
	c.mu.Unlock()

	def, found, err := c.query(ctx, game, code, team)
	if err != nil {
		return nil, false, err
	}
	if !found && team != "" {
		def, found, err = c.query(ctx, game, code, "")
		if err != nil {
			return nil, false, err
		}
	}

	c.mu.Lock()
	c.cache[key] = catalogEntry{def: def, found: found, cachedAt: c.now()}
	c.mu.Unlock()
	return def, found, nil
}

func (c *PgCatalog) query(ctx context.Context, game, code, team string) (*models.ActionDefinition, bool, error) {
	var d models.ActionDefinition
	err := c.pg.QueryRow(ctx, `
		SELECT id, game, code, team, reward_player, reward_team,
		       for_player_actions, for_player_player_actions, for_team_actions, for_world_actions
		FROM actions
		WHERE game = $1 AND code = $2 AND team = $3
	`, game, code, team).Scan(&d.ID, &d.Game, &d.Code, &d.Team,
		&d.RewardPlayer, &d.RewardTeam,
		&d.ForPlayerActions, &d.ForPlayerPlayerActions, &d.ForTeamActions, &d.ForWorldActions)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("action lookup (%s, %s, %s): %w", game, code, team, err)
	}
	return &d, true, nil
}
