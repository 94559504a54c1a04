package ingress

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
)

// RowQuerier is the single-row query surface needed from pgxpool.
type RowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgGameResolver maps serverIds to game codes from the servers table. A
// server's game never changes, so hits are cached forever.
type PgGameResolver struct {
	pg RowQuerier

	mu    sync.Mutex
	games map[int64]string
}

func NewPgGameResolver(pg RowQuerier) *PgGameResolver {
	return &PgGameResolver{pg: pg, games: make(map[int64]string)}
}

func (r *PgGameResolver) GameFor(ctx context.Context, serverID int64) (string, error) {
	r.mu.Lock()
	if game, ok := r.games[serverID]; ok {
		r.mu.Unlock()
		return game, nil
	}
	r.mu.Unlock()

	var game string
	err := r.pg.QueryRow(ctx, `SELECT game FROM servers WHERE id = $1`, serverID).Scan(&game)
	if err != nil {
		return "", fmt.Errorf("resolve game for server %d: %w", serverID, err)
	}

	r.mu.Lock()
	r.games[serverID] = game
	r.mu.Unlock()
	return game, nil
}
