package auth

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hlstatsnext/ingress/internal/models"
)

// PgRegistry is the Postgres-backed ServerRegistry. Server identity is
// (auth_token_id, port); the address column is rewritten on IP churn and is
// never part of the key.
type PgRegistry struct {
	pg *pgxpool.Pool
}

func NewPgRegistry(pg *pgxpool.Pool) *PgRegistry {
	return &PgRegistry{pg: pg}
}

func (r *PgRegistry) Resolve(ctx context.Context, tok *models.ServerToken, gamePort int, sourceAddr string) (*models.Server, bool, error) {
	tx, err := r.pg.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin server resolution: %w", err)
	}
	defer tx.Rollback(ctx)

	var srv models.Server
	err = tx.QueryRow(ctx, `
		SELECT id, name, address, port, game, auth_token_id, rcon_password
		FROM servers
		WHERE auth_token_id = $1 AND port = $2
		FOR UPDATE
	`, tok.ID, gamePort).Scan(&srv.ID, &srv.Name, &srv.Address, &srv.Port,
		&srv.Game, &srv.AuthTokenID, &srv.RconPassword)

	switch {
	case err == nil:
		if srv.Address != sourceAddr {
			if _, err := tx.Exec(ctx,
				`UPDATE servers SET address = $1 WHERE id = $2`, sourceAddr, srv.ID); err != nil {
				return nil, false, fmt.Errorf("update server address: %w", err)
			}
			srv.Address = sourceAddr
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, false, fmt.Errorf("commit server resolution: %w", err)
		}
		return &srv, false, nil

	case errors.Is(err, pgx.ErrNoRows):
		srv = models.Server{
			Name:         fmt.Sprintf("%s:%d", sourceAddr, gamePort),
			Address:      sourceAddr,
			Port:         gamePort,
			Game:         tok.Game,
			AuthTokenID:  tok.ID,
			RconPassword: tok.EncryptedRconPassword,
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO servers (name, address, port, game, auth_token_id, rcon_password)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING id
		`, srv.Name, srv.Address, srv.Port, srv.Game, srv.AuthTokenID, srv.RconPassword).Scan(&srv.ID)
		if err != nil {
			return nil, false, fmt.Errorf("insert server: %w", err)
		}

		// Copy admin-provisioned defaults in the same transaction so a new
		// server never exists without its config rows.
		if _, err := tx.Exec(ctx, `
			INSERT INTO server_configs (server_id, parameter, value)
			SELECT $1, parameter, value FROM server_config_defaults
		`, srv.ID); err != nil {
			return nil, false, fmt.Errorf("copy server config defaults: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return nil, false, fmt.Errorf("commit server registration: %w", err)
		}
		return &srv, true, nil

	default:
		return nil, false, fmt.Errorf("find server: %w", err)
	}
}
