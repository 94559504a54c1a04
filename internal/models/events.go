package models

import "time"

// EventType identifies a parsed game event.
type EventType string

const (
	EventPlayerKill       EventType = "PLAYER_KILL"
	EventPlayerDamage     EventType = "PLAYER_DAMAGE"
	EventPlayerSuicide    EventType = "PLAYER_SUICIDE"
	EventPlayerConnect    EventType = "PLAYER_CONNECT"
	EventPlayerEntry      EventType = "PLAYER_ENTRY"
	EventPlayerDisconnect EventType = "PLAYER_DISCONNECT"
	EventChangeTeam       EventType = "PLAYER_CHANGE_TEAM"
	EventChangeRole       EventType = "PLAYER_CHANGE_ROLE"
	EventChangeName       EventType = "PLAYER_CHANGE_NAME"
	EventChatMessage      EventType = "CHAT_MESSAGE"
	EventActionPlayer     EventType = "ACTION_PLAYER"
	EventActionPlayerPair EventType = "ACTION_PLAYER_PLAYER"
	EventActionTeam       EventType = "ACTION_TEAM"
	EventActionWorld      EventType = "ACTION_WORLD"
	EventRoundStart       EventType = "ROUND_START"
	EventRoundEnd         EventType = "ROUND_END"
	EventTeamWin          EventType = "TEAM_WIN"
	EventMapChange        EventType = "MAP_CHANGE"
	EventServerAuth       EventType = "SERVER_AUTHENTICATED"
)

// PlayerMeta carries unresolved in-game identity alongside an event. Mapping
// a steam id to an internal player id happens downstream.
type PlayerMeta struct {
	SteamID    string `json:"steam_id,omitempty"`
	PlayerName string `json:"player_name,omitempty"`
	IsBot      bool   `json:"is_bot,omitempty"`
}

// ParsedEvent is the queue envelope for everything the pipeline emits.
// Data holds the event-specific payload struct below.
type ParsedEvent struct {
	EventID       string      `json:"event_id"`
	CorrelationID string      `json:"correlation_id"`
	EventType     EventType   `json:"event_type"`
	ServerID      int64       `json:"server_id"`
	Timestamp     time.Time   `json:"timestamp"`
	Raw           string      `json:"raw,omitempty"`
	Data          interface{} `json:"data,omitempty"`
	Meta          *PlayerMeta `json:"meta,omitempty"`
}

type PlayerKillData struct {
	KillerSlot int         `json:"killer_slot"`
	VictimSlot int         `json:"victim_slot"`
	KillerTeam string      `json:"killer_team"`
	VictimTeam string      `json:"victim_team"`
	Weapon     string      `json:"weapon"`
	Headshot   bool        `json:"headshot"`
	VictimMeta *PlayerMeta `json:"victim_meta,omitempty"`
}

type PlayerDamageData struct {
	AttackerSlot int    `json:"attacker_slot"`
	VictimSlot   int    `json:"victim_slot"`
	AttackerTeam string `json:"attacker_team"`
	VictimTeam   string `json:"victim_team"`
	Weapon       string `json:"weapon"`
	Damage       int    `json:"damage"`
	DamageArmor  int    `json:"damage_armor"`
	Health       int    `json:"health"`
	Armor        int    `json:"armor"`
	Hitgroup     string `json:"hitgroup"`
}

type PlayerSuicideData struct {
	Slot   int    `json:"slot"`
	Team   string `json:"team"`
	Weapon string `json:"weapon"`
}

type PlayerConnectData struct {
	Slot    int    `json:"slot"`
	Address string `json:"address"`
}

type PlayerEntryData struct {
	Slot int `json:"slot"`
}

type PlayerDisconnectData struct {
	Slot   int    `json:"slot"`
	Reason string `json:"reason,omitempty"`
}

type ChangeTeamData struct {
	Slot    int    `json:"slot"`
	NewTeam string `json:"new_team"`
}

type ChangeRoleData struct {
	Slot int    `json:"slot"`
	Role string `json:"role"`
}

type ChangeNameData struct {
	Slot    int    `json:"slot"`
	NewName string `json:"new_name"`
}

type ChatMessageData struct {
	Slot     int    `json:"slot"`
	Team     string `json:"team"`
	Message  string `json:"message"`
	TeamChat bool   `json:"team_chat"`
}

type ActionPlayerData struct {
	Slot       int    `json:"slot"`
	Team       string `json:"team"`
	ActionCode string `json:"action_code"`
	Bonus      int    `json:"bonus"`
}

type ActionPlayerPlayerData struct {
	Slot       int         `json:"slot"`
	Team       string      `json:"team"`
	VictimSlot int         `json:"victim_slot"`
	ActionCode string      `json:"action_code"`
	Bonus      int         `json:"bonus"`
	VictimMeta *PlayerMeta `json:"victim_meta,omitempty"`
}

type ActionTeamData struct {
	Team       string `json:"team"`
	ActionCode string `json:"action_code"`
	Bonus      int    `json:"bonus"`
}

type ActionWorldData struct {
	ActionCode string `json:"action_code"`
	Bonus      int    `json:"bonus"`
}

type RoundStartData struct {
	Map         string `json:"map"`
	RoundNumber int    `json:"round_number"`
}

type RoundEndData struct {
	RoundNumber int    `json:"round_number"`
	WinningTeam string `json:"winning_team,omitempty"`
}

type TeamWinData struct {
	Team string `json:"team"`
}

type MapChangeData struct {
	PreviousMap string `json:"previous_map"`
	NewMap      string `json:"new_map"`
}

type ServerAuthData struct {
	TokenID        int64  `json:"token_id"`
	Address        string `json:"address"`
	Port           int    `json:"port"`
	Game           string `json:"game"`
	AutoRegistered bool   `json:"auto_registered"`
}
