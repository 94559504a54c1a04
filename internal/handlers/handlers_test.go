package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"

	"github.com/hlstatsnext/ingress/internal/state"
)

type staticSessions struct {
	ids []int64
}

func (s staticSessions) AuthenticatedServerIDs() []int64 { return s.ids }

func okPinger() Pinger   { return PingerFunc(func(context.Context) error { return nil }) }
func downPinger() Pinger { return PingerFunc(func(context.Context) error { return errors.New("down") }) }

func newTestHandler(redis Pinger, ids ...int64) (*Handler, *state.Manager) {
	states := state.NewManager()
	h := New(Config{
		Postgres:   okPinger(),
		ClickHouse: okPinger(),
		Redis:      redis,
		Sessions:   staticSessions{ids: ids},
		States:     states,
		Logger:     zap.NewNop(),
	})
	return h, states
}

func TestHealth(t *testing.T) {
	h, _ := newTestHandler(okPinger())

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	h.Health(w, req)

	if w.Result().StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Result().StatusCode)
	}
}

func TestReady(t *testing.T) {
	tests := []struct {
		name       string
		redis      Pinger
		wantStatus int
		wantReady  bool
	}{
		{"all healthy", okPinger(), http.StatusOK, true},
		{"redis down", downPinger(), http.StatusServiceUnavailable, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestHandler(tt.redis)

			req := httptest.NewRequest("GET", "/readyz", nil)
			w := httptest.NewRecorder()
			h.Ready(w, req)

			if w.Result().StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Result().StatusCode, tt.wantStatus)
			}
			var body map[string]interface{}
			if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
				t.Fatalf("decode body: %v", err)
			}
			if body["ready"] != tt.wantReady {
				t.Fatalf("ready = %v, want %v", body["ready"], tt.wantReady)
			}
		})
	}
}

func TestServersSnapshot(t *testing.T) {
	h, states := newTestHandler(okPinger(), 42)
	states.UpdateMap(42, "de_dust2")
	states.StartRound(42)
	states.StartRound(42)

	req := httptest.NewRequest("GET", "/api/v1/servers", nil)
	w := httptest.NewRecorder()
	h.Servers(w, req)

	var snapshots []ServerSnapshot
	if err := json.NewDecoder(w.Body).Decode(&snapshots); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if len(snapshots) != 1 {
		t.Fatalf("snapshots = %d, want 1", len(snapshots))
	}
	s := snapshots[0]
	if s.ServerID != 42 || s.CurrentMap != "de_dust2" || s.CurrentRound != 2 || s.MatchState != "live" {
		t.Fatalf("snapshot = %+v", s)
	}
}

func TestRouterServesMetrics(t *testing.T) {
	h, _ := newTestHandler(okPinger())
	srv := httptest.NewServer(h.Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}
