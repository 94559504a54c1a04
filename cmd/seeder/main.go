// Command seeder provisions a development database: one beacon token and
// the stock Counter-Strike action catalog. The raw token is printed once and
// never stored.
package main

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
)

type actionSeed struct {
	code         string
	team         string
	rewardPlayer int
	rewardTeam   int
	forPlayer    bool
	forPair      bool
	forTeam      bool
	forWorld     bool
}

// Stock CS 1.6 objective actions.
var csActions = []actionSeed{
	{code: "Planted_The_Bomb", team: "TERRORIST", rewardPlayer: 10, forPlayer: true},
	{code: "Defused_The_Bomb", team: "CT", rewardPlayer: 10, forPlayer: true},
	{code: "Begin_Bomb_Defuse_With_Kit", team: "CT", rewardPlayer: 2, forPlayer: true},
	{code: "Begin_Bomb_Defuse_Without_Kit", team: "CT", rewardPlayer: 3, forPlayer: true},
	{code: "Dropped_The_Bomb", team: "TERRORIST", rewardPlayer: -2, forPlayer: true},
	{code: "Got_The_Bomb", team: "TERRORIST", rewardPlayer: 1, forPlayer: true},
	{code: "Rescued_A_Hostage", team: "CT", rewardPlayer: 5, forPlayer: true},
	{code: "Touched_A_Hostage", team: "CT", rewardPlayer: 1, forPlayer: true},
	{code: "Killed_A_Hostage", rewardPlayer: -20, forPair: true, forPlayer: true},
	{code: "Target_Bombed", team: "TERRORIST", rewardTeam: 5, forTeam: true},
	{code: "All_Hostages_Rescued", team: "CT", rewardTeam: 5, forTeam: true},
	{code: "Target_Saved", team: "CT", rewardTeam: 3, forTeam: true},
	{code: "Hostages_Not_Rescued", team: "TERRORIST", rewardTeam: 3, forTeam: true},
	{code: "Terrorists_Escaped", team: "TERRORIST", rewardTeam: 5, forTeam: true},
	{code: "CTs_PreventEscape", team: "CT", rewardTeam: 5, forTeam: true},
	{code: "VIP_Escaped", team: "CT", rewardTeam: 5, forTeam: true, rewardPlayer: 10, forPlayer: true},
	{code: "VIP_Assassinated", team: "TERRORIST", rewardTeam: 5, forTeam: true},
	{code: "Game_Commencing", forWorld: true},
	{code: "Round_Draw", forWorld: true, forTeam: true},
}

func main() {
	var (
		name = flag.String("name", "dev server", "token display name")
		game = flag.String("game", "cstrike", "game code")
	)
	flag.Parse()

	dsn := os.Getenv("POSTGRES_URL")
	if dsn == "" {
		log.Fatal("POSTGRES_URL is required")
	}

	ctx := context.Background()
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer conn.Close(ctx)

	rawToken, err := generateToken()
	if err != nil {
		log.Fatalf("generate token: %v", err)
	}
	sum := sha256.Sum256([]byte(rawToken))

	var tokenID int64
	err = conn.QueryRow(ctx, `
		INSERT INTO server_tokens (token_hash, token_prefix, name, encrypted_rcon_password, game, created_at)
		VALUES ($1, $2, $3, '', $4, $5)
		RETURNING id
	`, hex.EncodeToString(sum[:]), rawToken[:12], *name, *game, time.Now()).Scan(&tokenID)
	if err != nil {
		log.Fatalf("insert token: %v", err)
	}

	seeded := 0
	for _, a := range csActions {
		_, err := conn.Exec(ctx, `
			INSERT INTO actions (game, code, team, reward_player, reward_team,
			                     for_player_actions, for_player_player_actions, for_team_actions, for_world_actions)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT (game, code, team) DO NOTHING
		`, *game, a.code, a.team, a.rewardPlayer, a.rewardTeam, a.forPlayer, a.forPair, a.forTeam, a.forWorld)
		if err != nil {
			log.Fatalf("insert action %s: %v", a.code, err)
		}
		seeded++
	}

	fmt.Printf("token id: %d\nraw token (save it now): %s\nactions seeded: %d\n", tokenID, rawToken, seeded)
}

// generateToken mints an hlxn_ token with 32 bytes of entropy.
func generateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return "hlxn_" + base64.RawURLEncoding.EncodeToString(buf), nil
}
