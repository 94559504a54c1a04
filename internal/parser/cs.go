package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/hlstatsnext/ingress/internal/events"
	"github.com/hlstatsnext/ingress/internal/models"
	"github.com/hlstatsnext/ingress/internal/state"
)

// engineTimestamp mirrors the classifier's prefix strip; the parser re-strips
// because log lines reach it unmodified.
var engineTimestamp = regexp.MustCompile(`^L \d{2}/\d{2}/\d{4} - \d{2}:\d{2}:\d{2}:\s*`)

// player is a decoded "Name<slot><steamid><team>" token.
type player struct {
	Name    string
	Slot    int
	SteamID string
	Team    string
}

func (p player) meta() *models.PlayerMeta {
	return &models.PlayerMeta{
		SteamID:    p.SteamID,
		PlayerName: p.Name,
		IsBot:      p.SteamID == "BOT",
	}
}

// playerToken captures the engine's quoted player shape. Slot may be -1 for
// legacy fakeclients; steam id may be empty on teardown lines.
const playerToken = `"(.*?)<(-?\d+)><([^<>]*)><([^<>]*)>"`

// csPatterns holds the compiled expressions for the Counter-Strike family.
type csPatterns struct {
	Kill             *regexp.Regexp
	DamageStrict     *regexp.Regexp
	DamageTolerant   *regexp.Regexp
	Suicide          *regexp.Regexp
	KilledSelf       *regexp.Regexp
	Connect          *regexp.Regexp
	Entry            *regexp.Regexp
	DisconnectReason *regexp.Regexp
	Disconnect       *regexp.Regexp
	JoinTeam         *regexp.Regexp
	ChangeRole       *regexp.Regexp
	ChangeName       *regexp.Regexp
	Chat             *regexp.Regexp
	MapChange        *regexp.Regexp
	StartedMap       *regexp.Regexp
	ChangeLevel      *regexp.Regexp
	TeamTrigger      *regexp.Regexp
	PlayerTriggerVs  *regexp.Regexp
	PlayerTrigger    *regexp.Regexp
	WorldTrigger     *regexp.Regexp
}

func newCSPatterns() *csPatterns {
	return &csPatterns{
		Kill: regexp.MustCompile(`^` + playerToken + ` killed ` + playerToken + ` with "([^"]+)"( \(headshot\))?`),

		// Damage comes in a strict single-space form and a tolerant variant
		// for plugins that re-emit it with loose spacing.
		DamageStrict:   regexp.MustCompile(`^` + playerToken + ` attacked ` + playerToken + ` with "([^"]+)" \(damage "(\d+)"\) \(damage_armor "(\d+)"\) \(health "(-?\d+)"\) \(armor "(-?\d+)"\)(?: \(hitgroup "([^"]+)"\))?`),
		DamageTolerant: regexp.MustCompile(`^` + playerToken + `\s+attacked\s+` + playerToken + `\s+with\s+"([^"]+)"\s*\(damage\s*"(\d+)"\)\s*\(damage_armor\s*"(\d+)"\)\s*\(health\s*"(-?\d+)"\)\s*\(armor\s*"(-?\d+)"\)\s*(?:\(hitgroup\s*"([^"]+)"\))?`),

		Suicide:    regexp.MustCompile(`^` + playerToken + ` committed suicide with "([^"]+)"`),
		KilledSelf: regexp.MustCompile(`^` + playerToken + ` killed self with "([^"]+)"`),

		Connect:          regexp.MustCompile(`^` + playerToken + ` connected, address "([^"]*)"`),
		Entry:            regexp.MustCompile(`^` + playerToken + ` entered the game`),
		DisconnectReason: regexp.MustCompile(`^` + playerToken + ` disconnected \(reason "([^"]*)"\)`),
		Disconnect:       regexp.MustCompile(`^` + playerToken + ` disconnected`),

		JoinTeam:   regexp.MustCompile(`^` + playerToken + ` (?:joined team|changed team to) "([^"]+)"`),
		ChangeRole: regexp.MustCompile(`^` + playerToken + ` changed role to "([^"]+)"`),
		ChangeName: regexp.MustCompile(`^` + playerToken + ` changed name to "(.*)"`),

		Chat: regexp.MustCompile(`^` + playerToken + ` say(_team)? "(.*)"`),

		MapChange:   regexp.MustCompile(`Mapchange to (\S+?)\s*-*$`),
		StartedMap:  regexp.MustCompile(`Started map "([^"]+)"`),
		ChangeLevel: regexp.MustCompile(`changelevel: *(\S+)`),

		TeamTrigger:     regexp.MustCompile(`^Team "([^"]+)" triggered "([^"]+)"`),
		PlayerTriggerVs: regexp.MustCompile(`^` + playerToken + ` triggered "([^"]+)" against ` + playerToken),
		PlayerTrigger:   regexp.MustCompile(`^` + playerToken + ` triggered "([^"]+)"`),
		WorldTrigger:    regexp.MustCompile(`^World triggered "([^"]+)"`),
	}
}

// csParser parses the Counter-Strike / GoldSrc log dialect.
type csParser struct {
	patterns *csPatterns
	states   *state.Manager
	ids      events.IDService
	logger   *zap.SugaredLogger
	now      func() time.Time
}

func newCSParser(states *state.Manager, ids events.IDService, logger *zap.Logger) *csParser {
	return &csParser{
		patterns: newCSPatterns(),
		states:   states,
		ids:      ids,
		logger:   logger.Sugar(),
		now:      time.Now,
	}
}

// ParseLine classifies one log line into at most one event. Lines matching
// no trigger are successful non-events; a trigger that fails its regex is an
// error with a truncated excerpt.
func (p *csParser) ParseLine(line string, serverID int64) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			parseErrors.Inc()
			res = Result{Success: false, Error: fmt.Sprintf("parser panic: %v", r)}
		}
	}()

	clean := engineTimestamp.ReplaceAllString(strings.TrimSpace(line), "")
	if clean == "" {
		return Result{Success: true}
	}

	// RCON echoes and admin-chat triggers quote entire log lines inside
	// themselves; dispatch on them would misfire the kill handler.
	if isNoise(clean) {
		return Result{Success: true}
	}

	switch {
	case strings.Contains(clean, " killed ") && !strings.Contains(clean, " killed self"):
		return p.parseKill(clean, line, serverID)
	case strings.Contains(clean, " attacked "):
		return p.parseDamage(clean, line, serverID)
	case strings.Contains(clean, " committed suicide with ") || strings.Contains(clean, " killed self"):
		return p.parseSuicide(clean, line, serverID)
	case strings.Contains(clean, " connected, address "):
		return p.parseConnect(clean, line, serverID)
	case strings.Contains(clean, " entered the game"):
		return p.parseEntry(clean, line, serverID)
	case strings.Contains(clean, " disconnected (reason "):
		return p.parseDisconnect(clean, line, serverID, true)
	case strings.Contains(clean, " disconnected"):
		return p.parseDisconnect(clean, line, serverID, false)
	case strings.Contains(clean, " joined team ") || strings.Contains(clean, " changed team to "):
		return p.parseJoinTeam(clean, line, serverID)
	case strings.Contains(clean, " changed role "):
		return p.parseChangeRole(clean, line, serverID)
	case strings.Contains(clean, " changed name to "):
		return p.parseChangeName(clean, line, serverID)
	case strings.Contains(clean, " say ") || strings.Contains(clean, " say_team "):
		return p.parseChat(clean, line, serverID)
	case strings.Contains(clean, "Mapchange to ") || strings.Contains(clean, `Started map "`) || strings.Contains(clean, "changelevel:"):
		return p.parseMapChange(clean, line, serverID)
	case strings.Contains(clean, `World triggered "Round_Start"`):
		return p.parseRoundStart(clean, line, serverID)
	case strings.Contains(clean, `triggered "Terrorists_Win"`) || strings.Contains(clean, `triggered "CTs_Win"`):
		return p.parseTeamWin(clean, line, serverID)
	case strings.Contains(clean, `World triggered "Round_End"`):
		return p.parseRoundEnd(clean, line, serverID)
	case strings.Contains(clean, `triggered "`):
		return p.parseTrigger(clean, line, serverID)
	}

	return Result{Success: true}
}

// isNoise filters RCON echoes and admin-chat trigger lines before dispatch.
func isNoise(clean string) bool {
	if strings.HasPrefix(clean, "Rcon: ") || strings.HasPrefix(clean, "Bad Rcon: ") {
		return true
	}
	if strings.Contains(clean, `triggered "amx_`) {
		return true
	}
	// Server-actor chat trigger shape: "Admin<-1><><>" triggered "say" ...
	if strings.Contains(clean, `> triggered "say"`) || strings.Contains(clean, `>" triggered "say"`) {
		return true
	}
	return false
}

func decodePlayer(m []string, i int) player {
	slot, _ := strconv.Atoi(m[i+1])
	return player{Name: m[i], Slot: slot, SteamID: m[i+2], Team: m[i+3]}
}

func (p *csParser) event(t models.EventType, serverID int64, raw string, data interface{}, meta *models.PlayerMeta) Result {
	eventsParsed.WithLabelValues(string(t)).Inc()
	return Result{
		Success: true,
		Event: &models.ParsedEvent{
			EventID:       p.ids.EventID(),
			CorrelationID: p.ids.CorrelationID(),
			EventType:     t,
			ServerID:      serverID,
			Timestamp:     p.now(),
			Raw:           raw,
			Data:          data,
			Meta:          meta,
		},
	}
}

func (p *csParser) fail(trigger, line string) Result {
	parseErrors.Inc()
	excerpt := line
	if len(excerpt) > 100 {
		excerpt = excerpt[:100]
	}
	p.logger.Warnw("Log line matched trigger but failed to parse",
		"trigger", trigger, "line", excerpt)
	return Result{Success: false, Error: fmt.Sprintf("unparseable %s line: %s", trigger, excerpt)}
}

func (p *csParser) parseKill(clean, raw string, serverID int64) Result {
	m := p.patterns.Kill.FindStringSubmatch(clean)
	if m == nil {
		return p.fail("kill", clean)
	}
	killer := decodePlayer(m, 1)
	victim := decodePlayer(m, 5)
	return p.event(models.EventPlayerKill, serverID, raw, models.PlayerKillData{
		KillerSlot: killer.Slot,
		VictimSlot: victim.Slot,
		KillerTeam: killer.Team,
		VictimTeam: victim.Team,
		Weapon:     m[9],
		Headshot:   m[10] != "",
		VictimMeta: victim.meta(),
	}, killer.meta())
}

func (p *csParser) parseDamage(clean, raw string, serverID int64) Result {
	m := p.patterns.DamageStrict.FindStringSubmatch(clean)
	if m == nil {
		m = p.patterns.DamageTolerant.FindStringSubmatch(clean)
	}
	if m == nil {
		return p.fail("damage", clean)
	}
	attacker := decodePlayer(m, 1)
	victim := decodePlayer(m, 5)
	damage, _ := strconv.Atoi(m[10])
	damageArmor, _ := strconv.Atoi(m[11])
	health, _ := strconv.Atoi(m[12])
	armor, _ := strconv.Atoi(m[13])
	hitgroup := m[14]
	if hitgroup == "" {
		hitgroup = "generic"
	}
	return p.event(models.EventPlayerDamage, serverID, raw, models.PlayerDamageData{
		AttackerSlot: attacker.Slot,
		VictimSlot:   victim.Slot,
		AttackerTeam: attacker.Team,
		VictimTeam:   victim.Team,
		Weapon:       m[9],
		Damage:       damage,
		DamageArmor:  damageArmor,
		Health:       health,
		Armor:        armor,
		Hitgroup:     hitgroup,
	}, attacker.meta())
}

func (p *csParser) parseSuicide(clean, raw string, serverID int64) Result {
	m := p.patterns.Suicide.FindStringSubmatch(clean)
	if m == nil {
		m = p.patterns.KilledSelf.FindStringSubmatch(clean)
	}
	if m == nil {
		return p.fail("suicide", clean)
	}
	pl := decodePlayer(m, 1)
	return p.event(models.EventPlayerSuicide, serverID, raw, models.PlayerSuicideData{
		Slot:   pl.Slot,
		Team:   pl.Team,
		Weapon: m[5],
	}, pl.meta())
}

func (p *csParser) parseConnect(clean, raw string, serverID int64) Result {
	m := p.patterns.Connect.FindStringSubmatch(clean)
	if m == nil {
		return p.fail("connect", clean)
	}
	pl := decodePlayer(m, 1)
	return p.event(models.EventPlayerConnect, serverID, raw, models.PlayerConnectData{
		Slot:    pl.Slot,
		Address: m[5],
	}, pl.meta())
}

func (p *csParser) parseEntry(clean, raw string, serverID int64) Result {
	m := p.patterns.Entry.FindStringSubmatch(clean)
	if m == nil {
		return p.fail("entry", clean)
	}
	pl := decodePlayer(m, 1)
	return p.event(models.EventPlayerEntry, serverID, raw, models.PlayerEntryData{Slot: pl.Slot}, pl.meta())
}

func (p *csParser) parseDisconnect(clean, raw string, serverID int64, withReason bool) Result {
	var reason string
	var m []string
	if withReason {
		m = p.patterns.DisconnectReason.FindStringSubmatch(clean)
		if m != nil {
			reason = m[5]
		}
	}
	if m == nil {
		// Legacy form: supports slot -1 and an empty steam id.
		m = p.patterns.Disconnect.FindStringSubmatch(clean)
	}
	if m == nil {
		return p.fail("disconnect", clean)
	}
	pl := decodePlayer(m, 1)
	return p.event(models.EventPlayerDisconnect, serverID, raw, models.PlayerDisconnectData{
		Slot:   pl.Slot,
		Reason: reason,
	}, pl.meta())
}

func (p *csParser) parseJoinTeam(clean, raw string, serverID int64) Result {
	m := p.patterns.JoinTeam.FindStringSubmatch(clean)
	if m == nil {
		return p.fail("team change", clean)
	}
	pl := decodePlayer(m, 1)
	return p.event(models.EventChangeTeam, serverID, raw, models.ChangeTeamData{
		Slot:    pl.Slot,
		NewTeam: m[5],
	}, pl.meta())
}

func (p *csParser) parseChangeRole(clean, raw string, serverID int64) Result {
	m := p.patterns.ChangeRole.FindStringSubmatch(clean)
	if m == nil {
		return p.fail("role change", clean)
	}
	pl := decodePlayer(m, 1)
	return p.event(models.EventChangeRole, serverID, raw, models.ChangeRoleData{
		Slot: pl.Slot,
		Role: m[5],
	}, pl.meta())
}

func (p *csParser) parseChangeName(clean, raw string, serverID int64) Result {
	m := p.patterns.ChangeName.FindStringSubmatch(clean)
	if m == nil {
		return p.fail("name change", clean)
	}
	pl := decodePlayer(m, 1)
	return p.event(models.EventChangeName, serverID, raw, models.ChangeNameData{
		Slot:    pl.Slot,
		NewName: m[5],
	}, pl.meta())
}

func (p *csParser) parseChat(clean, raw string, serverID int64) Result {
	m := p.patterns.Chat.FindStringSubmatch(clean)
	if m == nil {
		return p.fail("chat", clean)
	}
	pl := decodePlayer(m, 1)
	return p.event(models.EventChatMessage, serverID, raw, models.ChatMessageData{
		Slot:     pl.Slot,
		Team:     pl.Team,
		Message:  m[6],
		TeamChat: m[5] == "_team",
	}, pl.meta())
}

func (p *csParser) parseMapChange(clean, raw string, serverID int64) Result {
	var name string
	if m := p.patterns.MapChange.FindStringSubmatch(clean); m != nil {
		name = m[1]
	} else if m := p.patterns.StartedMap.FindStringSubmatch(clean); m != nil {
		name = m[1]
	} else if m := p.patterns.ChangeLevel.FindStringSubmatch(clean); m != nil {
		name = m[1]
	}
	if name == "" {
		return p.fail("map change", clean)
	}
	_, previous := p.states.UpdateMap(serverID, name)
	return p.event(models.EventMapChange, serverID, raw, models.MapChangeData{
		PreviousMap: previous,
		NewMap:      name,
	}, nil)
}

func (p *csParser) parseRoundStart(_, raw string, serverID int64) Result {
	round := p.states.StartRound(serverID)
	return p.event(models.EventRoundStart, serverID, raw, models.RoundStartData{
		Map:         p.states.GetState(serverID).CurrentMap,
		RoundNumber: round,
	}, nil)
}

func (p *csParser) parseTeamWin(clean, raw string, serverID int64) Result {
	team := "TERRORIST"
	if strings.Contains(clean, `"CTs_Win"`) {
		team = "CT"
	}
	p.states.SetWinningTeam(serverID, team)
	return p.event(models.EventTeamWin, serverID, raw, models.TeamWinData{Team: team}, nil)
}

func (p *csParser) parseRoundEnd(_, raw string, serverID int64) Result {
	round, winner := p.states.EndRound(serverID)
	return p.event(models.EventRoundEnd, serverID, raw, models.RoundEndData{
		RoundNumber: round,
		WinningTeam: winner,
	}, nil)
}

// parseTrigger handles the generic action shapes: player-vs-player, single
// player, team, and world, in that order.
func (p *csParser) parseTrigger(clean, raw string, serverID int64) Result {
	if m := p.patterns.PlayerTriggerVs.FindStringSubmatch(clean); m != nil {
		actor := decodePlayer(m, 1)
		victim := decodePlayer(m, 6)
		return p.event(models.EventActionPlayerPair, serverID, raw, models.ActionPlayerPlayerData{
			Slot:       actor.Slot,
			Team:       actor.Team,
			VictimSlot: victim.Slot,
			ActionCode: m[5],
			VictimMeta: victim.meta(),
		}, actor.meta())
	}

	if m := p.patterns.PlayerTrigger.FindStringSubmatch(clean); m != nil {
		actor := decodePlayer(m, 1)
		return p.event(models.EventActionPlayer, serverID, raw, models.ActionPlayerData{
			Slot:       actor.Slot,
			Team:       actor.Team,
			ActionCode: m[5],
		}, actor.meta())
	}

	if m := p.patterns.TeamTrigger.FindStringSubmatch(clean); m != nil {
		return p.event(models.EventActionTeam, serverID, raw, models.ActionTeamData{
			Team:       m[1],
			ActionCode: m[2],
		}, nil)
	}

	if m := p.patterns.WorldTrigger.FindStringSubmatch(clean); m != nil {
		return p.event(models.EventActionWorld, serverID, raw, models.ActionWorldData{
			ActionCode: m[1],
		}, nil)
	}

	return Result{Success: true}
}
