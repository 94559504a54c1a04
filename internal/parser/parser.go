// Package parser turns engine log lines into typed events. One parser
// instance exists per server; cross-line correlation (map, round, team-win
// latch) lives in the shared state manager, not in the instance.
package parser

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/hlstatsnext/ingress/internal/events"
	"github.com/hlstatsnext/ingress/internal/models"
	"github.com/hlstatsnext/ingress/internal/state"
)

var (
	eventsParsed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hlx_events_parsed_total",
		Help: "Total number of parsed events by type",
	}, []string{"event_type"})

	parseErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hlx_parse_errors_total",
		Help: "Total number of log lines that matched a trigger but failed to parse",
	})
)

// Result is the discriminated outcome of ParseLine. A line that matches no
// trigger is Success with a nil Event.
type Result struct {
	Event   *models.ParsedEvent
	Success bool
	Error   string
}

// Parser consumes one log line at a time for a fixed server.
type Parser interface {
	ParseLine(line string, serverID int64) Result
}

// Factory builds game-specific parsers. Unknown game codes get a no-op
// parser that accepts everything and emits nothing.
type Factory struct {
	States *state.Manager
	IDs    events.IDService
	Logger *zap.Logger
}

// csAliases are the game codes served by the Counter-Strike parser.
var csAliases = map[string]bool{
	"cstrike":        true,
	"cs":             true,
	"cs16":           true,
	"counter-strike": true,
	"czero":          true,
}

// New returns the parser for a game code, normalized lowercase.
func (f *Factory) New(game string) Parser {
	if csAliases[strings.ToLower(strings.TrimSpace(game))] {
		return newCSParser(f.States, f.IDs, f.Logger)
	}
	return noopParser{}
}

// noopParser accepts every line and emits nothing.
type noopParser struct{}

func (noopParser) ParseLine(string, int64) Result {
	return Result{Success: true}
}
