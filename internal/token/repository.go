// Package token looks up beacon credentials in Postgres and keeps the
// debounced last_used_at bookkeeping.
package token

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/hlstatsnext/ingress/internal/models"
)

// PgPool is the subset of pgxpool.Pool the repository needs.
type PgPool interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Status discriminates the outcome of a token lookup.
type Status int

const (
	StatusValid Status = iota
	StatusNotFound
	StatusRevoked
	StatusExpired
)

// Result is the discriminated outcome of FindByHash. Prefix is the
// non-secret display prefix, set for revoked/expired outcomes so callers can
// log which credential misbehaved without holding the token.
type Result struct {
	Status Status
	Token  *models.ServerToken
	Prefix string
}

// HashToken returns the SHA-256 hex digest used as the lookup key.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Repository reads server_tokens and debounces last_used_at writes. The
// debounce state is in-memory only; a restart may issue one extra write.
type Repository struct {
	pg       PgPool
	logger   *zap.SugaredLogger
	debounce time.Duration

	mu        sync.Mutex
	lastTouch map[int64]time.Time
	now       func() time.Time
}

func NewRepository(pg PgPool, debounce time.Duration, logger *zap.Logger) *Repository {
	return &Repository{
		pg:        pg,
		logger:    logger.Sugar(),
		debounce:  debounce,
		lastTouch: make(map[int64]time.Time),
		now:       time.Now,
	}
}

const tokenColumns = `id, token_hash, token_prefix, name, encrypted_rcon_password, game,
       created_at, expires_at, revoked_at, last_used_at`

func scanToken(row pgx.Row) (*models.ServerToken, error) {
	var t models.ServerToken
	err := row.Scan(&t.ID, &t.TokenHash, &t.TokenPrefix, &t.Name,
		&t.EncryptedRconPassword, &t.Game,
		&t.CreatedAt, &t.ExpiresAt, &t.RevokedAt, &t.LastUsedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// FindByHash resolves a token hash to a discriminated result. Database
// errors are surfaced; not-found/revoked/expired are data, not errors.
func (r *Repository) FindByHash(ctx context.Context, hash string) (Result, error) {
	row := r.pg.QueryRow(ctx,
		`SELECT `+tokenColumns+` FROM server_tokens WHERE token_hash = $1`, hash)
	t, err := scanToken(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Result{Status: StatusNotFound}, nil
		}
		return Result{}, fmt.Errorf("token lookup: %w", err)
	}
	if t.Revoked() {
		return Result{Status: StatusRevoked, Prefix: t.TokenPrefix}, nil
	}
	if t.Expired(r.now()) {
		return Result{Status: StatusExpired, Prefix: t.TokenPrefix}, nil
	}
	return Result{Status: StatusValid, Token: t}, nil
}

// FindByID fetches a token record by primary key.
func (r *Repository) FindByID(ctx context.Context, id int64) (*models.ServerToken, error) {
	row := r.pg.QueryRow(ctx,
		`SELECT `+tokenColumns+` FROM server_tokens WHERE id = $1`, id)
	t, err := scanToken(row)
	if err != nil {
		return nil, fmt.Errorf("token lookup by id: %w", err)
	}
	return t, nil
}

// UpdateLastUsed records credential use. Writes are debounced per id and a
// failed write is logged and swallowed; beacon handling never fails on it.
func (r *Repository) UpdateLastUsed(ctx context.Context, id int64) {
	now := r.now()

	r.mu.Lock()
	if last, ok := r.lastTouch[id]; ok && now.Sub(last) < r.debounce {
		r.mu.Unlock()
		return
	}
	r.lastTouch[id] = now
	r.mu.Unlock()

	_, err := r.pg.Exec(ctx,
		`UPDATE server_tokens SET last_used_at = $1 WHERE id = $2`, now, id)
	if err != nil {
		r.logger.Warnw("Failed to update token last_used_at", "tokenId", id, "error", err)
	}
}
