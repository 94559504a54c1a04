package actions

import (
	"context"

	"github.com/hlstatsnext/ingress/internal/state"
)

// MapReporter reports the live map as seen over RCON. The client itself is
// an external collaborator.
type MapReporter interface {
	ReportedMap(ctx context.Context, serverID int64) (string, error)
}

// MapResolver picks the best available map name for log rows: the live
// RCON-reported value when present, the match state otherwise, else empty.
type MapResolver struct {
	rcon   MapReporter
	states *state.Manager
}

func NewMapResolver(rcon MapReporter, states *state.Manager) *MapResolver {
	return &MapResolver{rcon: rcon, states: states}
}

func (r *MapResolver) CurrentMap(ctx context.Context, serverID int64) string {
	if r.rcon != nil {
		if name, err := r.rcon.ReportedMap(ctx, serverID); err == nil && name != "" {
			return name
		}
	}
	if r.states != nil {
		return r.states.GetState(serverID).CurrentMap
	}
	return ""
}
