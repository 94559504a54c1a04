package archive

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/hlstatsnext/ingress/internal/models"
)

type mockBatch struct {
	driver.Batch
	mu       sync.Mutex
	appended [][]interface{}
	sent     bool
	onSend   func()
}

func (m *mockBatch) Append(v ...interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appended = append(m.appended, v)
	return nil
}

func (m *mockBatch) Send() error {
	m.mu.Lock()
	m.sent = true
	m.mu.Unlock()
	if m.onSend != nil {
		m.onSend()
	}
	return nil
}

type mockConn struct {
	driver.Conn
	mu      sync.Mutex
	batches []*mockBatch
	onSend  func()
}

func (m *mockConn) PrepareBatch(ctx context.Context, query string, opts ...driver.PrepareBatchOption) (driver.Batch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := &mockBatch{onSend: m.onSend}
	m.batches = append(m.batches, b)
	return b, nil
}

func testEvent(id string) *models.ParsedEvent {
	return &models.ParsedEvent{
		EventID:   id,
		EventType: models.EventPlayerKill,
		ServerID:  42,
		Timestamp: time.Date(2026, 2, 22, 9, 48, 10, 0, time.UTC),
		Meta:      &models.PlayerMeta{SteamID: "STEAM_0:1:12345", PlayerName: "Player1"},
		Data:      models.PlayerKillData{Weapon: "ak47"},
	}
}

func TestWriterFlushesOnStop(t *testing.T) {
	conn := &mockConn{}
	w := NewWriter(Config{
		ClickHouse:    conn,
		Logger:        zap.NewNop(),
		QueueSize:     16,
		BatchSize:     100,
		FlushInterval: time.Hour, // never fires; Stop must flush
	})
	w.Start(context.Background())

	for i := 0; i < 3; i++ {
		if !w.Enqueue(testEvent("msg_a_000000000000000" + string(rune('0'+i)))) {
			t.Fatal("Enqueue shed an event with room in the queue")
		}
	}
	w.Stop()

	conn.mu.Lock()
	defer conn.mu.Unlock()
	if len(conn.batches) != 1 {
		t.Fatalf("batches = %d, want 1", len(conn.batches))
	}
	b := conn.batches[0]
	if !b.sent || len(b.appended) != 3 {
		t.Fatalf("batch sent=%v rows=%d, want sent with 3 rows", b.sent, len(b.appended))
	}
	// Row shape: id, corr, type, server, ts, steam, name, bot, raw, payload.
	row := b.appended[0]
	if row[2] != "PLAYER_KILL" || row[3] != uint64(42) || row[5] != "STEAM_0:1:12345" {
		t.Fatalf("row = %v", row)
	}
}

func TestWriterFlushesAtBatchSize(t *testing.T) {
	sent := make(chan struct{}, 1)
	conn := &mockConn{onSend: func() {
		select {
		case sent <- struct{}{}:
		default:
		}
	}}
	w := NewWriter(Config{
		ClickHouse:    conn,
		Logger:        zap.NewNop(),
		QueueSize:     16,
		BatchSize:     2,
		FlushInterval: time.Hour,
	})
	w.Start(context.Background())
	defer w.Stop()

	w.Enqueue(testEvent("msg_a_1"))
	w.Enqueue(testEvent("msg_a_2"))

	select {
	case <-sent:
	case <-time.After(2 * time.Second):
		t.Fatal("batch was not flushed at batch size")
	}
}

func TestEnqueueShedsWhenFull(t *testing.T) {
	conn := &mockConn{}
	w := NewWriter(Config{
		ClickHouse:    conn,
		Logger:        zap.NewNop(),
		QueueSize:     1,
		BatchSize:     100,
		FlushInterval: time.Hour,
	})
	// Not started: nothing drains the queue.
	if !w.Enqueue(testEvent("msg_a_1")) {
		t.Fatal("first enqueue should fit")
	}
	if w.Enqueue(testEvent("msg_a_2")) {
		t.Fatal("second enqueue should shed")
	}
	if w.QueueDepth() != 1 {
		t.Fatalf("QueueDepth = %d, want 1", w.QueueDepth())
	}
}
