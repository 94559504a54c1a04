package parser

import (
	"testing"

	"go.uber.org/zap"

	"github.com/hlstatsnext/ingress/internal/events"
	"github.com/hlstatsnext/ingress/internal/models"
	"github.com/hlstatsnext/ingress/internal/state"
)

func newTestParser() (*csParser, *state.Manager) {
	states := state.NewManager()
	return newCSParser(states, events.NewIDService(), zap.NewNop()), states
}

const killLine = `L 02/22/2026 - 09:48:10: "Player1<2><STEAM_0:1:12345><CT>" killed "Player2<3><STEAM_0:1:67890><TERRORIST>" with "ak47" (headshot)`

func TestParseKill(t *testing.T) {
	p, _ := newTestParser()

	res := p.ParseLine(killLine, 42)
	if !res.Success || res.Event == nil {
		t.Fatalf("ParseLine = %+v", res)
	}
	ev := res.Event
	if ev.EventType != models.EventPlayerKill || ev.ServerID != 42 {
		t.Fatalf("event = %s server %d", ev.EventType, ev.ServerID)
	}
	if ev.Raw != killLine {
		t.Fatalf("Raw = %q, want the input line", ev.Raw)
	}
	data := ev.Data.(models.PlayerKillData)
	want := models.PlayerKillData{
		KillerSlot: 2, VictimSlot: 3,
		KillerTeam: "CT", VictimTeam: "TERRORIST",
		Weapon: "ak47", Headshot: true,
		VictimMeta: data.VictimMeta,
	}
	if data != want {
		t.Fatalf("data = %+v, want %+v", data, want)
	}
	if ev.Meta == nil || ev.Meta.SteamID != "STEAM_0:1:12345" || ev.Meta.PlayerName != "Player1" {
		t.Fatalf("meta = %+v", ev.Meta)
	}
	if data.VictimMeta.SteamID != "STEAM_0:1:67890" {
		t.Fatalf("victim meta = %+v", data.VictimMeta)
	}
	if ev.EventID == "" || ev.CorrelationID == "" {
		t.Fatal("event ids not assigned")
	}
}

func TestParseKillNoHeadshot(t *testing.T) {
	p, _ := newTestParser()
	res := p.ParseLine(`"A<1><STEAM_0:0:1><CT>" killed "B<2><BOT><TERRORIST>" with "m4a1"`, 1)
	data := res.Event.Data.(models.PlayerKillData)
	if data.Headshot {
		t.Fatal("headshot = true, want false")
	}
	if !data.VictimMeta.IsBot {
		t.Fatal("bot victim not flagged")
	}
}

func TestParseDamageStrictAndTolerant(t *testing.T) {
	p, _ := newTestParser()

	tests := []struct {
		name string
		line string
	}{
		{
			name: "strict",
			line: `"A<1><STEAM_0:0:1><CT>" attacked "B<2><STEAM_0:0:2><TERRORIST>" with "glock" (damage "20") (damage_armor "5") (health "80") (armor "95") (hitgroup "head")`,
		},
		{
			name: "tolerant spacing",
			line: `"A<1><STEAM_0:0:1><CT>"  attacked  "B<2><STEAM_0:0:2><TERRORIST>"  with  "glock" (damage  "20")(damage_armor "5") (health "80")  (armor "95") (hitgroup "head")`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := p.ParseLine(tt.line, 1)
			if !res.Success || res.Event == nil {
				t.Fatalf("ParseLine = %+v", res)
			}
			data := res.Event.Data.(models.PlayerDamageData)
			if data.Damage != 20 || data.DamageArmor != 5 || data.Health != 80 || data.Armor != 95 || data.Hitgroup != "head" {
				t.Fatalf("data = %+v", data)
			}
		})
	}
}

func TestParseDamageDefaultHitgroup(t *testing.T) {
	p, _ := newTestParser()
	res := p.ParseLine(`"A<1><STEAM_0:0:1><CT>" attacked "B<2><STEAM_0:0:2><TERRORIST>" with "hegrenade" (damage "47") (damage_armor "12") (health "33") (armor "80")`, 1)
	if data := res.Event.Data.(models.PlayerDamageData); data.Hitgroup != "generic" {
		t.Fatalf("hitgroup = %q, want generic", data.Hitgroup)
	}
}

func TestParseSuicideForms(t *testing.T) {
	p, _ := newTestParser()
	for _, line := range []string{
		`"A<1><STEAM_0:0:1><CT>" committed suicide with "worldspawn"`,
		`"A<1><STEAM_0:0:1><CT>" killed self with "grenade"`,
	} {
		res := p.ParseLine(line, 1)
		if res.Event == nil || res.Event.EventType != models.EventPlayerSuicide {
			t.Fatalf("ParseLine(%q) = %+v", line, res)
		}
	}
}

func TestParseConnectEntryDisconnect(t *testing.T) {
	p, _ := newTestParser()

	res := p.ParseLine(`"A<2><STEAM_0:0:1><>" connected, address "10.1.2.3:27005"`, 1)
	if data := res.Event.Data.(models.PlayerConnectData); data.Address != "10.1.2.3:27005" || data.Slot != 2 {
		t.Fatalf("connect data = %+v", data)
	}

	res = p.ParseLine(`"A<2><STEAM_0:0:1><>" entered the game`, 1)
	if res.Event.EventType != models.EventPlayerEntry {
		t.Fatalf("entry = %+v", res.Event)
	}

	res = p.ParseLine(`"A<2><STEAM_0:0:1><CT>" disconnected (reason "Client left game")`, 1)
	if data := res.Event.Data.(models.PlayerDisconnectData); data.Reason != "Client left game" {
		t.Fatalf("disconnect data = %+v", data)
	}

	// Legacy fakeclient teardown: slot -1, empty steam id.
	res = p.ParseLine(`"Bot<-1><><TERRORIST>" disconnected`, 1)
	data := res.Event.Data.(models.PlayerDisconnectData)
	if data.Slot != -1 || data.Reason != "" {
		t.Fatalf("legacy disconnect data = %+v", data)
	}
}

func TestParseTeamRoleNameChat(t *testing.T) {
	p, _ := newTestParser()

	res := p.ParseLine(`"A<2><STEAM_0:0:1><>" joined team "CT"`, 1)
	if data := res.Event.Data.(models.ChangeTeamData); data.NewTeam != "CT" {
		t.Fatalf("team data = %+v", data)
	}

	res = p.ParseLine(`"A<2><STEAM_0:0:1><CT>" changed role to "Sniper"`, 1)
	if data := res.Event.Data.(models.ChangeRoleData); data.Role != "Sniper" {
		t.Fatalf("role data = %+v", data)
	}

	res = p.ParseLine(`"A<2><STEAM_0:0:1><CT>" changed name to "B"`, 1)
	if data := res.Event.Data.(models.ChangeNameData); data.NewName != "B" {
		t.Fatalf("name data = %+v", data)
	}

	res = p.ParseLine(`"A<2><STEAM_0:0:1><CT>" say "rush b"`, 1)
	chat := res.Event.Data.(models.ChatMessageData)
	if chat.Message != "rush b" || chat.TeamChat {
		t.Fatalf("chat data = %+v", chat)
	}

	res = p.ParseLine(`"A<2><STEAM_0:0:1><CT>" say_team "rotate"`, 1)
	if chat := res.Event.Data.(models.ChatMessageData); !chat.TeamChat {
		t.Fatalf("say_team data = %+v", chat)
	}
}

// Map change feeds the following round start (scenario: Mapchange then
// Round_Start carries the new map).
func TestMapRoundCorrelation(t *testing.T) {
	p, _ := newTestParser()

	res := p.ParseLine(`-------- Mapchange to cs_havana --------`, 7)
	mc := res.Event.Data.(models.MapChangeData)
	if mc.NewMap != "cs_havana" || mc.PreviousMap != "" {
		t.Fatalf("map change data = %+v", mc)
	}

	res = p.ParseLine(`L 02/22/2026 - 09:50:00: World triggered "Round_Start"`, 7)
	rs := res.Event.Data.(models.RoundStartData)
	if rs.Map != "cs_havana" || rs.RoundNumber != 1 {
		t.Fatalf("round start data = %+v", rs)
	}

	// Second map change reports the previous map.
	res = p.ParseLine(`Started map "de_dust2" (CRC "12345")`, 7)
	mc = res.Event.Data.(models.MapChangeData)
	if mc.PreviousMap != "cs_havana" || mc.NewMap != "de_dust2" {
		t.Fatalf("map change data = %+v", mc)
	}
}

func TestMapChangeForms(t *testing.T) {
	p, _ := newTestParser()
	for i, line := range []string{
		`-------- Mapchange to cs_havana --------`,
		`Started map "cs_havana" (CRC "-123")`,
		`changelevel: cs_havana`,
	} {
		res := p.ParseLine(line, int64(100+i))
		if res.Event == nil || res.Event.EventType != models.EventMapChange {
			t.Fatalf("ParseLine(%q) = %+v", line, res)
		}
		if data := res.Event.Data.(models.MapChangeData); data.NewMap != "cs_havana" {
			t.Fatalf("ParseLine(%q) map = %q", line, data.NewMap)
		}
	}
}

// Team win latches the winner; the following round end consumes it exactly
// once.
func TestTeamWinRoundEndLatch(t *testing.T) {
	p, _ := newTestParser()

	p.ParseLine(`World triggered "Round_Start"`, 9)
	res := p.ParseLine(`Team "TERRORIST" triggered "Terrorists_Win" (CT "3") (T "5")`, 9)
	if data := res.Event.Data.(models.TeamWinData); data.Team != "TERRORIST" {
		t.Fatalf("team win data = %+v", data)
	}

	res = p.ParseLine(`World triggered "Round_End"`, 9)
	re := res.Event.Data.(models.RoundEndData)
	if re.WinningTeam != "TERRORIST" || re.RoundNumber != 1 {
		t.Fatalf("round end data = %+v", re)
	}

	res = p.ParseLine(`World triggered "Round_End"`, 9)
	if re := res.Event.Data.(models.RoundEndData); re.WinningTeam != "" {
		t.Fatalf("second round end winner = %q, want empty", re.WinningTeam)
	}
}

func TestParseActions(t *testing.T) {
	p, _ := newTestParser()

	res := p.ParseLine(`"A<2><STEAM_0:1:1><TERRORIST>" triggered "Planted_The_Bomb"`, 1)
	ap := res.Event.Data.(models.ActionPlayerData)
	if res.Event.EventType != models.EventActionPlayer || ap.ActionCode != "Planted_The_Bomb" || ap.Team != "TERRORIST" {
		t.Fatalf("player action = %+v", res.Event)
	}

	res = p.ParseLine(`"A<2><STEAM_0:1:1><CT>" triggered "Killed_A_Hostage" against "B<3><STEAM_0:1:2><CT>"`, 1)
	pp := res.Event.Data.(models.ActionPlayerPlayerData)
	if res.Event.EventType != models.EventActionPlayerPair || pp.VictimSlot != 3 {
		t.Fatalf("pair action = %+v", res.Event)
	}

	res = p.ParseLine(`Team "CT" triggered "All_Hostages_Rescued" (CT "2") (T "1")`, 1)
	ta := res.Event.Data.(models.ActionTeamData)
	if res.Event.EventType != models.EventActionTeam || ta.Team != "CT" || ta.ActionCode != "All_Hostages_Rescued" {
		t.Fatalf("team action = %+v", res.Event)
	}

	res = p.ParseLine(`World triggered "Game_Commencing"`, 1)
	if res.Event.EventType != models.EventActionWorld {
		t.Fatalf("world action = %+v", res.Event)
	}
}

// RCON echoes and admin-chat triggers must not misfire the kill or action
// handlers even when they contain trigger substrings.
func TestNoiseFiltered(t *testing.T) {
	p, _ := newTestParser()

	lines := []string{
		`Rcon: "rcon 12345 "pass" say Player1 killed Player2" from "10.0.0.1:27015"`,
		`"admin<1><STEAM_0:0:1><CT>" triggered "amx_say" (text "you killed him")`,
		`"Console<0><Console><Console>" triggered "say" (text " attacked ")`,
	}
	for _, line := range lines {
		res := p.ParseLine(line, 1)
		if !res.Success {
			t.Errorf("ParseLine(%q) failed: %s", line, res.Error)
		}
		if res.Event != nil {
			t.Errorf("ParseLine(%q) emitted %s, want no event", line, res.Event.EventType)
		}
	}
}

func TestUnmatchedLineIsSuccessNoEvent(t *testing.T) {
	p, _ := newTestParser()
	res := p.ParseLine(`Server cvar "mp_timelimit" = "25"`, 1)
	if !res.Success || res.Event != nil {
		t.Fatalf("ParseLine = %+v", res)
	}
}

func TestMalformedKillLineFails(t *testing.T) {
	p, _ := newTestParser()
	res := p.ParseLine(`something killed something else`, 1)
	if res.Success || res.Error == "" {
		t.Fatalf("ParseLine = %+v, want failure", res)
	}
}

func TestFactoryAliases(t *testing.T) {
	f := &Factory{States: state.NewManager(), IDs: events.NewIDService(), Logger: zap.NewNop()}

	for _, game := range []string{"cstrike", "CS", "cs16", "Counter-Strike"} {
		if _, ok := f.New(game).(*csParser); !ok {
			t.Errorf("New(%q) is not the CS parser", game)
		}
	}
	if _, ok := f.New("dod").(noopParser); !ok {
		t.Error("unknown game should get the no-op parser")
	}

	// No-op parser accepts anything silently.
	res := f.New("unknown").ParseLine(killLine, 1)
	if !res.Success || res.Event != nil {
		t.Fatalf("noop ParseLine = %+v", res)
	}
}
