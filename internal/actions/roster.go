package actions

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/hlstatsnext/ingress/internal/models"
)

// Roster tracks which resolved players currently sit on which team of each
// server, fed by the event stream. It backs TeamMembers for team bonus
// fan-out.
type Roster struct {
	players PlayerService
	servers ServerInfo
	logger  *zap.SugaredLogger

	mu    sync.Mutex
	teams map[int64]map[string]map[int64]bool // serverID -> team -> playerID set
	seats map[int64]map[string]int64          // serverID -> steamID -> playerID
}

func NewRoster(players PlayerService, servers ServerInfo, logger *zap.Logger) *Roster {
	return &Roster{
		players: players,
		servers: servers,
		logger:  logger.Sugar(),
		teams:   make(map[int64]map[string]map[int64]bool),
		seats:   make(map[int64]map[string]int64),
	}
}

// TeamMembers returns the resolved player ids currently on a team.
func (r *Roster) TeamMembers(_ context.Context, serverID int64, team string) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []int64
	for id := range r.teams[serverID][team] {
		ids = append(ids, id)
	}
	return ids, nil
}

// ObserveEvent keeps the roster current. Only team joins, disconnects, and
// map changes matter; everything else passes through.
func (r *Roster) ObserveEvent(ctx context.Context, ev *models.ParsedEvent) error {
	switch ev.EventType {
	case models.EventChangeTeam:
		data, ok := ev.Data.(models.ChangeTeamData)
		if !ok || ev.Meta == nil || ev.Meta.SteamID == "" {
			return nil
		}
		r.joinTeam(ctx, ev.ServerID, ev.Meta, data.NewTeam)

	case models.EventPlayerDisconnect:
		if ev.Meta == nil || ev.Meta.SteamID == "" {
			return nil
		}
		r.leave(ev.ServerID, ev.Meta.SteamID)

	case models.EventMapChange:
		// Engine drops everyone to unassigned across a map change.
		r.mu.Lock()
		delete(r.teams, ev.ServerID)
		delete(r.seats, ev.ServerID)
		r.mu.Unlock()
	}
	return nil
}

func (r *Roster) joinTeam(ctx context.Context, serverID int64, meta *models.PlayerMeta, team string) {
	game := ""
	if r.servers != nil {
		if g, err := r.servers.GameFor(ctx, serverID); err == nil {
			game = g
		}
	}
	player, err := r.players.Resolve(ctx, PlayerRef{SteamID: meta.SteamID, Name: meta.PlayerName, Game: game})
	if err != nil || player == nil {
		r.logger.Debugw("Roster could not resolve joining player",
			"steamId", meta.SteamID, "error", err)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.seats[serverID] == nil {
		r.seats[serverID] = make(map[string]int64)
	}
	if prev, ok := r.seats[serverID][meta.SteamID]; ok {
		for _, members := range r.teams[serverID] {
			delete(members, prev)
		}
	}
	r.seats[serverID][meta.SteamID] = player.ID

	if r.teams[serverID] == nil {
		r.teams[serverID] = make(map[string]map[int64]bool)
	}
	if r.teams[serverID][team] == nil {
		r.teams[serverID][team] = make(map[int64]bool)
	}
	r.teams[serverID][team][player.ID] = true
}

func (r *Roster) leave(serverID int64, steamID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.seats[serverID][steamID]
	if !ok {
		return
	}
	delete(r.seats[serverID], steamID)
	for _, members := range r.teams[serverID] {
		delete(members, id)
	}
}
