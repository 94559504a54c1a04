// Command legacy-import copies the action catalog from a legacy HLStatsX
// MySQL database into the Postgres actions table.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log"
	"os"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "print actions without writing")
	flag.Parse()

	mysqlDSN := os.Getenv("LEGACY_MYSQL_DSN")
	pgDSN := os.Getenv("POSTGRES_URL")
	if mysqlDSN == "" || pgDSN == "" {
		log.Fatal("LEGACY_MYSQL_DSN and POSTGRES_URL are required")
	}

	ctx := context.Background()

	legacy, err := sql.Open("mysql", mysqlDSN)
	if err != nil {
		log.Fatalf("open legacy mysql: %v", err)
	}
	defer legacy.Close()
	if err := legacy.PingContext(ctx); err != nil {
		log.Fatalf("ping legacy mysql: %v", err)
	}

	var pgConn *pgx.Conn
	if !*dryRun {
		pgConn, err = pgx.Connect(ctx, pgDSN)
		if err != nil {
			log.Fatalf("connect postgres: %v", err)
		}
		defer pgConn.Close(ctx)
	}

	// HLStatsX stores capabilities as enum('0','1') columns.
	rows, err := legacy.QueryContext(ctx, `
		SELECT game, code, COALESCE(team, ''), reward_player, reward_team,
		       for_PlayerActions = '1', for_PlayerPlayerActions = '1',
		       for_TeamActions = '1', for_WorldActions = '1'
		FROM hlstats_Actions
	`)
	if err != nil {
		log.Fatalf("read legacy actions: %v", err)
	}
	defer rows.Close()

	imported := 0
	for rows.Next() {
		var (
			game, code, team           string
			rewardPlayer, rewardTeam   int
			forPlayer, forPair         bool
			forTeam, forWorld          bool
		)
		if err := rows.Scan(&game, &code, &team, &rewardPlayer, &rewardTeam,
			&forPlayer, &forPair, &forTeam, &forWorld); err != nil {
			log.Fatalf("scan legacy action: %v", err)
		}

		if *dryRun {
			fmt.Printf("%s/%s/%s player=%d team=%d\n", game, code, team, rewardPlayer, rewardTeam)
			imported++
			continue
		}

		_, err := pgConn.Exec(ctx, `
			INSERT INTO actions (game, code, team, reward_player, reward_team,
			                     for_player_actions, for_player_player_actions, for_team_actions, for_world_actions)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (game, code, team) DO UPDATE SET
				reward_player = EXCLUDED.reward_player,
				reward_team = EXCLUDED.reward_team,
				for_player_actions = EXCLUDED.for_player_actions,
				for_player_player_actions = EXCLUDED.for_player_player_actions,
				for_team_actions = EXCLUDED.for_team_actions,
				for_world_actions = EXCLUDED.for_world_actions
		`, game, code, team, rewardPlayer, rewardTeam, forPlayer, forPair, forTeam, forWorld)
		if err != nil {
			log.Fatalf("upsert action %s/%s: %v", game, code, err)
		}
		imported++
	}
	if err := rows.Err(); err != nil {
		log.Fatalf("iterate legacy actions: %v", err)
	}

	fmt.Printf("actions imported: %d\n", imported)
}
