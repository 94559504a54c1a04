package queue

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/hlstatsnext/ingress/internal/models"
)

type mockStream struct {
	XAddFunc func(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
	calls    []*redis.XAddArgs
}

func (m *mockStream) XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd {
	m.calls = append(m.calls, a)
	return m.XAddFunc(ctx, a)
}

func okCmd() *redis.StringCmd {
	cmd := redis.NewStringCmd(context.Background())
	cmd.SetVal("1-1")
	return cmd
}

func errCmd(err error) *redis.StringCmd {
	cmd := redis.NewStringCmd(context.Background())
	cmd.SetErr(err)
	return cmd
}

func testEvent() *models.ParsedEvent {
	return &models.ParsedEvent{
		EventID:       "msg_abc_0123456789abcdef",
		CorrelationID: "corr_abc_0123456789ab",
		EventType:     models.EventPlayerKill,
		ServerID:      42,
		Timestamp:     time.Date(2026, 2, 22, 9, 48, 10, 0, time.UTC),
		Raw:           "raw line",
		Data:          models.PlayerKillData{KillerSlot: 2, VictimSlot: 3, Weapon: "ak47"},
	}
}

func TestPublishEnvelope(t *testing.T) {
	stream := &mockStream{XAddFunc: func(context.Context, *redis.XAddArgs) *redis.StringCmd { return okCmd() }}
	p := NewPublisher(stream, "hlx:events", 1000, zap.NewNop())

	if err := p.Publish(context.Background(), testEvent()); err != nil {
		t.Fatalf("Publish error: %v", err)
	}

	if len(stream.calls) != 1 {
		t.Fatalf("XAdd calls = %d, want 1", len(stream.calls))
	}
	args := stream.calls[0]
	if args.Stream != "hlx:events" || args.MaxLen != 1000 || !args.Approx {
		t.Fatalf("args = %+v", args)
	}
	values := args.Values.(map[string]interface{})
	if values["event_type"] != "PLAYER_KILL" || values["event_id"] != "msg_abc_0123456789abcdef" {
		t.Fatalf("values = %+v", values)
	}

	var env models.ParsedEvent
	if err := json.Unmarshal(values["payload"].([]byte), &env); err != nil {
		t.Fatalf("payload not valid JSON: %v", err)
	}
	if env.ServerID != 42 || env.EventType != models.EventPlayerKill {
		t.Fatalf("payload envelope = %+v", env)
	}
}

func TestPublishRetriesTransientFailure(t *testing.T) {
	failures := 2
	stream := &mockStream{}
	stream.XAddFunc = func(context.Context, *redis.XAddArgs) *redis.StringCmd {
		if len(stream.calls) <= failures {
			return errCmd(errors.New("connection reset"))
		}
		return okCmd()
	}
	p := NewPublisher(stream, "hlx:events", 1000, zap.NewNop())

	if err := p.Publish(context.Background(), testEvent()); err != nil {
		t.Fatalf("Publish error after retries: %v", err)
	}
	if len(stream.calls) != failures+1 {
		t.Fatalf("XAdd calls = %d, want %d", len(stream.calls), failures+1)
	}
}

func TestPublishSurfacesPersistentFailure(t *testing.T) {
	stream := &mockStream{XAddFunc: func(context.Context, *redis.XAddArgs) *redis.StringCmd {
		return errCmd(errors.New("stream down"))
	}}
	p := NewPublisher(stream, "hlx:events", 1000, zap.NewNop())

	if err := p.Publish(context.Background(), testEvent()); err == nil {
		t.Fatal("Publish should surface persistent failures")
	}
}
