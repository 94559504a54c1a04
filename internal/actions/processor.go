package actions

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/hlstatsnext/ingress/internal/logging"
	"github.com/hlstatsnext/ingress/internal/models"
)

var (
	actionRowsWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hlx_action_rows_written_total",
		Help: "Total number of action log rows written by kind",
	}, []string{"kind"})

	unknownActions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hlx_unknown_actions_total",
		Help: "Total number of action events with no catalog definition",
	})

	skippedActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hlx_actions_skipped_total",
		Help: "Total number of action events skipped without side effects",
	}, []string{"reason"})
)

// Config wires a Processor.
type Config struct {
	Catalog     Catalog
	Players     PlayerService
	Matches     MatchService
	Servers     ServerInfo
	Store       Store
	Maps        *MapResolver
	Notifier    Notifier
	Logger      *zap.Logger
	LogCooldown time.Duration
	// BaselineSkill is reported when a player's skill cannot be fetched for
	// a notification.
	BaselineSkill int
}

// Processor turns ACTION_* events into log rows and reward updates. Missing
// definitions and unresolvable players are skipped without error; database write
// failures surface.
type Processor struct {
	catalog  Catalog
	players  PlayerService
	matches  MatchService
	servers  ServerInfo
	store    Store
	maps     *MapResolver
	notifier Notifier
	logger   *zap.SugaredLogger
	warnGate *logging.Cooldown
	baseline int
}

func New(cfg Config) *Processor {
	cooldown := cfg.LogCooldown
	if cooldown <= 0 {
		cooldown = 5 * time.Minute
	}
	baseline := cfg.BaselineSkill
	if baseline <= 0 {
		baseline = 1000
	}
	return &Processor{
		catalog:  cfg.Catalog,
		players:  cfg.Players,
		matches:  cfg.Matches,
		servers:  cfg.Servers,
		store:    cfg.Store,
		maps:     cfg.Maps,
		notifier: cfg.Notifier,
		logger:   cfg.Logger.Sugar(),
		warnGate: logging.NewCooldown(cooldown),
		baseline: baseline,
	}
}

// ProcessEvent handles one parsed event. Non-action events pass through
// untouched.
func (p *Processor) ProcessEvent(ctx context.Context, ev *models.ParsedEvent) error {
	switch ev.EventType {
	case models.EventActionPlayer:
		data, ok := ev.Data.(models.ActionPlayerData)
		if !ok {
			return fmt.Errorf("event %s carries %T, want ActionPlayerData", ev.EventID, ev.Data)
		}
		return p.processPlayerAction(ctx, ev, data)
	case models.EventActionPlayerPair:
		data, ok := ev.Data.(models.ActionPlayerPlayerData)
		if !ok {
			return fmt.Errorf("event %s carries %T, want ActionPlayerPlayerData", ev.EventID, ev.Data)
		}
		return p.processPairAction(ctx, ev, data)
	case models.EventActionTeam:
		data, ok := ev.Data.(models.ActionTeamData)
		if !ok {
			return fmt.Errorf("event %s carries %T, want ActionTeamData", ev.EventID, ev.Data)
		}
		return p.processTeamAction(ctx, ev, data)
	case models.EventActionWorld:
		data, ok := ev.Data.(models.ActionWorldData)
		if !ok {
			return fmt.Errorf("event %s carries %T, want ActionWorldData", ev.EventID, ev.Data)
		}
		return p.processWorldAction(ctx, ev, data)
	}
	return nil
}

// definition resolves the catalog row and checks the capability bit for the
// event kind. A nil return means skip-without-effect (unknown codes are
// already logged; capability mismatches only count in the skip metric).
func (p *Processor) definition(ctx context.Context, ev *models.ParsedEvent, code, team string, capable func(*models.ActionDefinition) bool) (*models.ActionDefinition, string, error) {
	game, err := p.servers.GameFor(ctx, ev.ServerID)
	if err != nil {
		return nil, "", fmt.Errorf("resolve game for server %d: %w", ev.ServerID, err)
	}

	def, found, err := p.catalog.FindByCode(ctx, game, code, team)
	if err != nil {
		return nil, "", fmt.Errorf("action lookup %s/%s: %w", game, code, err)
	}
	if !found {
		unknownActions.Inc()
		skippedActions.WithLabelValues("unknown_code").Inc()
		if p.warnGate.Allow("action:" + game + ":" + code) {
			p.logger.Warnw("Unknown action code", "game", game, "code", code, "team", team)
		}
		return nil, game, nil
	}
	if !capable(def) {
		skippedActions.WithLabelValues("not_capable").Inc()
		return nil, game, nil
	}
	return def, game, nil
}

func (p *Processor) processPlayerAction(ctx context.Context, ev *models.ParsedEvent, data models.ActionPlayerData) error {
	def, game, err := p.definition(ctx, ev, data.ActionCode, data.Team,
		func(d *models.ActionDefinition) bool { return d.ForPlayerActions })
	if err != nil || def == nil {
		return err
	}

	player := p.resolvePlayer(ctx, ev.Meta, game)
	if player == nil {
		return nil
	}

	currentMap := p.maps.CurrentMap(ctx, ev.ServerID)
	if err := p.store.LogPlayerAction(ctx, PlayerActionRow{
		EventID:  ev.EventID,
		ServerID: ev.ServerID,
		PlayerID: player.ID,
		ActionID: def.ID,
		Map:      currentMap,
		Bonus:    def.RewardPlayer + data.Bonus,
	}); err != nil {
		return fmt.Errorf("log player action: %w", err)
	}
	actionRowsWritten.WithLabelValues("player").Inc()

	total := def.RewardPlayer + data.Bonus
	if total != 0 {
		if err := p.store.UpdatePlayerSkill(ctx, player.ID, total); err != nil {
			return fmt.Errorf("update player skill: %w", err)
		}
	}

	p.notify(ctx, ev.ServerID, player, data.ActionCode, total)
	return nil
}

func (p *Processor) processPairAction(ctx context.Context, ev *models.ParsedEvent, data models.ActionPlayerPlayerData) error {
	def, game, err := p.definition(ctx, ev, data.ActionCode, data.Team,
		func(d *models.ActionDefinition) bool { return d.ForPlayerPlayerActions })
	if err != nil || def == nil {
		return err
	}

	if ev.Meta == nil || data.VictimMeta == nil {
		skippedActions.WithLabelValues("missing_player").Inc()
		return nil
	}

	// One batched lookup for both participants.
	actor, victim, err := p.players.ResolvePair(ctx,
		PlayerRef{SteamID: ev.Meta.SteamID, Name: ev.Meta.PlayerName, Game: game},
		PlayerRef{SteamID: data.VictimMeta.SteamID, Name: data.VictimMeta.PlayerName, Game: game})
	if err != nil || actor == nil || victim == nil {
		skippedActions.WithLabelValues("missing_player").Inc()
		if p.warnGate.Allow("pair:" + ev.Meta.SteamID) {
			p.logger.Warnw("Pair action participant missing",
				"actor", ev.Meta.SteamID, "victim", data.VictimMeta.SteamID, "error", err)
		}
		return nil
	}

	currentMap := p.maps.CurrentMap(ctx, ev.ServerID)
	if err := p.store.LogPlayerPlayerAction(ctx, PlayerPlayerActionRow{
		EventID:  ev.EventID,
		ServerID: ev.ServerID,
		PlayerID: actor.ID,
		VictimID: victim.ID,
		ActionID: def.ID,
		Map:      currentMap,
		Bonus:    def.RewardPlayer + data.Bonus,
	}); err != nil {
		return fmt.Errorf("log pair action: %w", err)
	}
	actionRowsWritten.WithLabelValues("player_player").Inc()

	total := def.RewardPlayer + data.Bonus
	if total != 0 {
		if err := p.store.UpdatePlayerSkill(ctx, actor.ID, total); err != nil {
			return fmt.Errorf("update attacker skill: %w", err)
		}
	}

	p.notify(ctx, ev.ServerID, actor, data.ActionCode, total)
	return nil
}

func (p *Processor) processTeamAction(ctx context.Context, ev *models.ParsedEvent, data models.ActionTeamData) error {
	def, _, err := p.definition(ctx, ev, data.ActionCode, data.Team,
		func(d *models.ActionDefinition) bool { return d.ForTeamActions })
	if err != nil || def == nil {
		return err
	}

	members, err := p.matches.TeamMembers(ctx, ev.ServerID, data.Team)
	if err != nil {
		return fmt.Errorf("enumerate team %s on server %d: %w", data.Team, ev.ServerID, err)
	}
	valid := members[:0:0]
	for _, id := range members {
		if id > 0 {
			valid = append(valid, id)
		}
	}
	if len(valid) == 0 {
		skippedActions.WithLabelValues("empty_team").Inc()
		return nil
	}

	reward := def.RewardTeam + data.Bonus
	currentMap := p.maps.CurrentMap(ctx, ev.ServerID)

	// One batch per concern: the log insert and the skill update are each a
	// single database call regardless of roster size.
	rows := make([]TeamActionRow, 0, len(valid))
	for _, id := range valid {
		rows = append(rows, TeamActionRow{
			EventID:  ev.EventID,
			ServerID: ev.ServerID,
			PlayerID: id,
			ActionID: def.ID,
			Map:      currentMap,
			Bonus:    reward,
		})
	}
	if err := p.store.LogTeamActionBatch(ctx, rows); err != nil {
		return fmt.Errorf("log team action batch: %w", err)
	}
	actionRowsWritten.WithLabelValues("team").Add(float64(len(rows)))

	if def.RewardTeam != 0 {
		deltas := make([]SkillDelta, 0, len(valid))
		for _, id := range valid {
			deltas = append(deltas, SkillDelta{PlayerID: id, SkillDelta: reward})
		}
		if err := p.store.UpdatePlayerStatsBatch(ctx, deltas); err != nil {
			return fmt.Errorf("update team skills: %w", err)
		}
	}
	return nil
}

func (p *Processor) processWorldAction(ctx context.Context, ev *models.ParsedEvent, data models.ActionWorldData) error {
	def, _, err := p.definition(ctx, ev, data.ActionCode, "",
		func(d *models.ActionDefinition) bool { return d.ForWorldActions })
	if err != nil || def == nil {
		return err
	}

	if err := p.store.LogWorldAction(ctx, WorldActionRow{
		EventID:  ev.EventID,
		ServerID: ev.ServerID,
		ActionID: def.ID,
		Map:      p.maps.CurrentMap(ctx, ev.ServerID),
		Bonus:    def.RewardTeam + data.Bonus,
	}); err != nil {
		return fmt.Errorf("log world action: %w", err)
	}
	actionRowsWritten.WithLabelValues("world").Inc()
	return nil
}

// resolvePlayer maps event meta to an internal player, warning (throttled)
// when resolution fails.
func (p *Processor) resolvePlayer(ctx context.Context, meta *models.PlayerMeta, game string) *models.Player {
	if meta == nil {
		skippedActions.WithLabelValues("missing_player").Inc()
		return nil
	}
	player, err := p.players.Resolve(ctx, PlayerRef{SteamID: meta.SteamID, Name: meta.PlayerName, Game: game})
	if err != nil || player == nil {
		skippedActions.WithLabelValues("missing_player").Inc()
		if p.warnGate.Allow("player:" + meta.SteamID) {
			p.logger.Warnw("Failed to resolve action player",
				"steamId", meta.SteamID, "name", meta.PlayerName, "error", err)
		}
		return nil
	}
	return player
}

// notify sends the optional reward notification; failures never propagate.
func (p *Processor) notify(ctx context.Context, serverID int64, player *models.Player, code string, points int) {
	if p.notifier == nil || points == 0 {
		return
	}
	skill, err := p.players.Skill(ctx, player.ID)
	if err != nil {
		skill = p.baseline
	}
	err = p.notifier.NotifyReward(ctx, RewardNotification{
		ServerID:    serverID,
		PlayerID:    player.ID,
		PlayerName:  player.Name,
		ActionCode:  code,
		Points:      points,
		PlayerSkill: skill,
	})
	if err != nil {
		p.logger.Warnw("Reward notification failed", "playerId", player.ID, "error", err)
	}
}
