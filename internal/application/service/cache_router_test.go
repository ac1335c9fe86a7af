package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"bridgesync/internal/application/port"
	"bridgesync/internal/domain"
)

type fakeCache struct {
	entries map[port.Topic]any
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[port.Topic]any)}
}

func (c *fakeCache) Get(topic port.Topic) (any, bool) {
	v, ok := c.entries[topic]
	return v, ok
}

func (c *fakeCache) Set(topic port.Topic, value any) {
	c.entries[topic] = value
}

type recordingRepo struct {
	signalIDs []string
	trades    []string
}

func (r *recordingRepo) InsertSignal(ctx context.Context, ts int64, id, payload string) error {
	r.signalIDs = append(r.signalIDs, id)
	return nil
}

func (r *recordingRepo) InsertTrade(ctx context.Context, ts int64, payload string) error {
	r.trades = append(r.trades, payload)
	return nil
}

func (r *recordingRepo) Close() error { return nil }

func signalFrame(t *testing.T, id string, extra string) *domain.Frame {
	t.Helper()
	data := fmt.Sprintf(`{"id":%q%s}`, id, extra)
	f, err := domain.DecodeFrame([]byte(fmt.Sprintf(`{"type":"signal","data":%s}`, data)))
	if err != nil {
		t.Fatalf("build signal frame: %v", err)
	}
	return f
}

func frame(t *testing.T, raw string) *domain.Frame {
	t.Helper()
	f, err := domain.DecodeFrame([]byte(raw))
	if err != nil {
		t.Fatalf("build frame: %v", err)
	}
	return f
}

func cachedSignals(t *testing.T, c *fakeCache) []domain.Signal {
	t.Helper()
	v, ok := c.Get(port.TopicSignals)
	if !ok {
		t.Fatalf("signals topic not written")
	}
	list, ok := v.([]domain.Signal)
	if !ok {
		t.Fatalf("signals topic holds %T", v)
	}
	return list
}

func TestSignalUpsertKeepsListPosition(t *testing.T) {
	cache := newFakeCache()
	router := NewCacheRouter(cache, nil)
	ctx := context.Background()

	router.Handle(ctx, signalFrame(t, "1", `,"v":1`))
	router.Handle(ctx, signalFrame(t, "2", `,"v":1`))
	router.Handle(ctx, signalFrame(t, "3", `,"v":1`))

	// update the middle entry; it must stay at its position
	router.Handle(ctx, signalFrame(t, "2", `,"v":2`))

	list := cachedSignals(t, cache)
	if len(list) != 3 {
		t.Fatalf("expected 3 signals, got %d", len(list))
	}
	wantOrder := []string{"3", "2", "1"}
	for i, want := range wantOrder {
		if list[i].ID != want {
			t.Errorf("position %d: expected id %s, got %s", i, want, list[i].ID)
		}
	}

	var updated struct {
		V int `json:"v"`
	}
	if err := json.Unmarshal(list[1].Payload, &updated); err != nil {
		t.Fatalf("unmarshal updated payload: %v", err)
	}
	if updated.V != 2 {
		t.Errorf("expected updated payload v=2, got %d", updated.V)
	}
}

func TestSignalListTruncatedAtFifty(t *testing.T) {
	cache := newFakeCache()
	router := NewCacheRouter(cache, nil)
	ctx := context.Background()

	for i := 1; i <= 55; i++ {
		router.Handle(ctx, signalFrame(t, fmt.Sprintf("%d", i), ""))
	}

	list := cachedSignals(t, cache)
	if len(list) != 50 {
		t.Fatalf("expected 50 signals, got %d", len(list))
	}
	if list[0].ID != "55" {
		t.Errorf("expected newest first, got id %s", list[0].ID)
	}
	if list[49].ID != "6" {
		t.Errorf("expected oldest kept id 6, got %s", list[49].ID)
	}
}

func TestTradeListPrependAndTruncate(t *testing.T) {
	cache := newFakeCache()
	router := NewCacheRouter(cache, nil)
	ctx := context.Background()

	for i := 1; i <= 52; i++ {
		router.Handle(ctx, frame(t, fmt.Sprintf(`{"type":"trade","data":{"n":%d}}`, i)))
	}

	v, _ := cache.Get(port.TopicTrades)
	list, ok := v.([]json.RawMessage)
	if !ok {
		t.Fatalf("trades topic holds %T", v)
	}
	if len(list) != 50 {
		t.Fatalf("expected 50 trades, got %d", len(list))
	}
	if string(list[0]) != `{"n":52}` {
		t.Errorf("expected newest trade first, got %s", list[0])
	}
}

func TestConnectionStatusMergesIntoStats(t *testing.T) {
	cache := newFakeCache()
	router := NewCacheRouter(cache, nil)
	ctx := context.Background()

	router.Handle(ctx, frame(t, `{"type":"stats","data":{"pendingSignals":2,"executedTrades":10,"successRate":83.3,"isConnected":true}}`))
	router.Handle(ctx, frame(t, `{"type":"connection_status","data":{"isConnected":false}}`))

	v, _ := cache.Get(port.TopicStats)
	stats, ok := v.(map[string]any)
	if !ok {
		t.Fatalf("stats topic holds %T", v)
	}
	if stats["pendingSignals"] != float64(2) ||
		stats["executedTrades"] != float64(10) ||
		stats["successRate"] != 83.3 {
		t.Errorf("stats fields not preserved: %v", stats)
	}
	if stats["isConnected"] != false {
		t.Errorf("expected isConnected false, got %v", stats["isConnected"])
	}
}

func TestConnectionStatusWithoutPriorStats(t *testing.T) {
	cache := newFakeCache()
	router := NewCacheRouter(cache, nil)

	router.Handle(context.Background(), frame(t, `{"type":"connection_status","data":{"isConnected":true}}`))

	v, _ := cache.Get(port.TopicStats)
	stats := v.(map[string]any)
	if len(stats) != 1 || stats["isConnected"] != true {
		t.Errorf("expected bare isConnected snapshot, got %v", stats)
	}
}

func TestSnapshotTopicsReplacedWholesale(t *testing.T) {
	cache := newFakeCache()
	router := NewCacheRouter(cache, nil)
	ctx := context.Background()

	router.Handle(ctx, frame(t, `{"type":"account_info","data":{"balance":1000}}`))
	router.Handle(ctx, frame(t, `{"type":"account_info","data":{"balance":900}}`))
	v, _ := cache.Get(port.TopicAccount)
	if string(v.(json.RawMessage)) != `{"balance":900}` {
		t.Errorf("account snapshot not replaced: %s", v)
	}

	router.Handle(ctx, frame(t, `{"type":"position_list","data":[{"ticket":"1"}]}`))
	router.Handle(ctx, frame(t, `{"type":"position_list","data":[]}`))
	v, _ = cache.Get(port.TopicPositions)
	if string(v.(json.RawMessage)) != `[]` {
		t.Errorf("positions snapshot not replaced: %s", v)
	}
}

func TestPingHasNoCacheEffect(t *testing.T) {
	cache := newFakeCache()
	router := NewCacheRouter(cache, nil)

	router.Handle(context.Background(), frame(t, `{"type":"ping","timestamp":1}`))

	if len(cache.entries) != 0 {
		t.Errorf("ping must not touch the cache, got %v", cache.entries)
	}
}

func TestRouterJournalsSignalsAndTrades(t *testing.T) {
	cache := newFakeCache()
	repo := &recordingRepo{}
	router := NewCacheRouter(cache, repo)
	ctx := context.Background()

	router.Handle(ctx, signalFrame(t, "s-9", ""))
	router.Handle(ctx, frame(t, `{"type":"trade","data":{"n":1}}`))

	if len(repo.signalIDs) != 1 || repo.signalIDs[0] != "s-9" {
		t.Errorf("signal not journaled: %v", repo.signalIDs)
	}
	if len(repo.trades) != 1 || repo.trades[0] != `{"n":1}` {
		t.Errorf("trade not journaled: %v", repo.trades)
	}
}
