package engine

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"silofy/internal/config"
	"silofy/internal/model"
	"silofy/internal/trend"
	"silofy/internal/validation"
)

type recordingStore struct {
	mu        sync.Mutex
	readings  []model.Reading
	snapshots []model.Evaluation
	acks      []model.Acknowledgement
	trend     []model.TrendPoint
	failSave  bool
}

func (s *recordingStore) Init(context.Context) error { return nil }
func (s *recordingStore) Close() error               { return nil }

func (s *recordingStore) SaveReading(_ context.Context, r model.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.readings = append(s.readings, r)
	return nil
}

func (s *recordingStore) SaveSnapshot(_ context.Context, ev model.Evaluation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failSave {
		return errors.New("disk full")
	}
	s.snapshots = append(s.snapshots, ev)
	return nil
}

func (s *recordingStore) SaveAcknowledgement(_ context.Context, ack model.Acknowledgement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.acks = append(s.acks, ack)
	return nil
}

func (s *recordingStore) LoadTrend(context.Context, string, int) ([]model.TrendPoint, error) {
	return s.trend, nil
}

type recordingPublisher struct {
	keys []string
}

func (p *recordingPublisher) Publish(_ context.Context, key string, _ model.Evaluation) error {
	p.keys = append(p.keys, key)
	return nil
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Evaluation.Interval = 0
	cfg.Evaluation.DedupeWindow = time.Minute
	cfg.Evaluation.AlertLogCooldown = 0
	return cfg
}

func readingAt(bag model.Bag, ts time.Time) model.Reading {
	return model.Reading{Bag: bag, Timestamp: ts, Source: "test"}
}

func newEngineForTest(cfg *config.Config, store *recordingStore, pub *recordingPublisher) *Engine {
	opts := Options{}
	if store != nil {
		opts.Store = store
	}
	if pub != nil {
		opts.Publisher = pub
	}
	return NewEngine(cfg, nil, opts)
}

func loadScenario(t *testing.T, eng *Engine, ts time.Time) {
	t.Helper()
	for _, b := range scenarioBags() {
		if err := eng.ProcessReading(context.Background(), readingAt(b, ts)); err != nil {
			t.Fatalf("process %s: %v", b.ID, err)
		}
	}
}

func TestEngineEvaluateScenario(t *testing.T) {
	store := &recordingStore{}
	pub := &recordingPublisher{}
	eng := newEngineForTest(testConfig(), store, pub)
	loadScenario(t, eng, time.Now().Add(-time.Hour))

	ev := eng.Evaluate(context.Background(), model.Filter{Crop: "Maize"})
	if ev.KPIs.TotalBags != 2 || ev.KPIs.OpenAlertCount != 1 || len(ev.Alerts) != 1 {
		t.Fatalf("unexpected evaluation: %+v", ev.KPIs)
	}
	if ev.EvaluatedAt.IsZero() {
		t.Fatalf("evaluated_at not stamped")
	}
	if len(store.readings) != 2 || len(store.snapshots) != 1 {
		t.Fatalf("storage writes: %d readings %d snapshots", len(store.readings), len(store.snapshots))
	}
	if len(pub.keys) != 1 || pub.keys[0] != ev.Filter.Key() {
		t.Fatalf("published keys: %v", pub.keys)
	}
	if snap, ok := eng.Snapshots().Get(model.Filter{Crop: "Maize"}); !ok || snap.Evaluation.KPIs != ev.KPIs {
		t.Fatalf("snapshot not stored")
	}
}

func TestEngineUsesDefaultCampaign(t *testing.T) {
	cfg := testConfig()
	cfg.Evaluation.DefaultCampaign = "2025/26"
	eng := newEngineForTest(cfg, nil, nil)
	loadScenario(t, eng, time.Now())

	all := eng.Evaluate(context.Background(), model.Filter{})
	if all.Filter.Campaign != "2025/26" {
		t.Fatalf("campaign: %q", all.Filter.Campaign)
	}
	other := eng.Evaluate(context.Background(), model.Filter{Campaign: "2024/25"})
	if other.KPIs != all.KPIs {
		t.Fatalf("campaign must not narrow the result")
	}
}

func TestEngineStorageErrorDoesNotFailEvaluation(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	store := &recordingStore{failSave: true}
	eng := NewEngine(testConfig(), logger, Options{Store: store})
	loadScenario(t, eng, time.Now())

	ev := eng.Evaluate(context.Background(), model.Filter{})
	if ev.KPIs.TotalBags != 2 {
		t.Fatalf("evaluation failed: %+v", ev.KPIs)
	}
	if !strings.Contains(buf.String(), "save snapshot failed") {
		t.Fatalf("storage error not logged: %s", buf.String())
	}
}

func TestEngineAlertLogCooldown(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	cfg := testConfig()
	cfg.Evaluation.AlertLogCooldown = time.Hour
	eng := NewEngine(cfg, logger, Options{})
	loadScenario(t, eng, time.Now())

	eng.Evaluate(context.Background(), model.Filter{})
	eng.Evaluate(context.Background(), model.Filter{})
	if n := strings.Count(buf.String(), `"msg":"bag alert"`); n != 1 {
		t.Fatalf("expected one alert log line, got %d", n)
	}
}

func TestEngineRejectsInvalidReadings(t *testing.T) {
	eng := newEngineForTest(testConfig(), nil, nil)
	err := eng.ProcessReading(context.Background(), readingAt(model.Bag{Tons: 10}, time.Now()))
	if !validation.Is(err) {
		t.Fatalf("missing id: %v", err)
	}
	err = eng.ProcessReading(context.Background(), readingAt(model.Bag{ID: "SB-1", Tons: 0}, time.Now()))
	if !validation.Is(err) {
		t.Fatalf("zero tons: %v", err)
	}
	if eng.Inventory().Len() != 0 {
		t.Fatalf("invalid readings stored")
	}
}

func TestEngineOutOfRangeRiskIsRejectedAtEvaluation(t *testing.T) {
	eng := newEngineForTest(testConfig(), nil, nil)
	loadScenario(t, eng, time.Now())
	bad := model.Bag{ID: "SB-BAD", Crop: "Maize", Farm: "A", Tons: 10, Risk: 1.2}
	if err := eng.ProcessReading(context.Background(), readingAt(bad, time.Now())); err != nil {
		t.Fatalf("risk is not checked at ingestion: %v", err)
	}
	ev := eng.Evaluate(context.Background(), model.Filter{})
	if len(ev.Rejected) != 1 || ev.KPIs.TotalBags != 2 {
		t.Fatalf("unexpected evaluation: rejected=%+v kpis=%+v", ev.Rejected, ev.KPIs)
	}
}

func TestEngineDedupeAndStaleReadings(t *testing.T) {
	store := &recordingStore{}
	eng := newEngineForTest(testConfig(), store, nil)
	ts := time.Now().Add(-time.Minute)
	bag := scenarioBags()[0]

	_ = eng.ProcessReading(context.Background(), readingAt(bag, ts))
	_ = eng.ProcessReading(context.Background(), readingAt(bag, ts))
	if len(store.readings) != 1 {
		t.Fatalf("duplicate reading persisted: %d", len(store.readings))
	}

	older := bag
	older.Risk = 0.9
	_ = eng.ProcessReading(context.Background(), readingAt(older, ts.Add(-time.Hour)))
	got, _ := eng.Inventory().Get(bag.ID)
	if got.Risk != bag.Risk {
		t.Fatalf("stale reading replaced current state: %+v", got)
	}
}

func TestEngineFutureTimestampClamped(t *testing.T) {
	store := &recordingStore{}
	eng := newEngineForTest(testConfig(), store, nil)
	future := time.Now().Add(48 * time.Hour)
	_ = eng.ProcessReading(context.Background(), readingAt(scenarioBags()[0], future))
	if len(store.readings) != 1 || !store.readings[0].Timestamp.Before(future) {
		t.Fatalf("future timestamp not clamped: %+v", store.readings)
	}
}

func TestEngineAcknowledge(t *testing.T) {
	store := &recordingStore{}
	eng := newEngineForTest(testConfig(), store, nil)
	loadScenario(t, eng, time.Now())
	before := eng.Evaluate(context.Background(), model.Filter{})

	ack, err := eng.Acknowledge(context.Background(), "SB-002", "vented")
	if err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if ack.ID == "" || ack.Type != model.AlertOperational || ack.Note != "vented" {
		t.Fatalf("unexpected ack: %+v", ack)
	}
	if len(eng.Acks().ForBag("SB-002")) != 1 || len(store.acks) != 1 {
		t.Fatalf("ack not recorded")
	}
	after := eng.Evaluate(context.Background(), model.Filter{})
	if len(after.Alerts) != len(before.Alerts) {
		t.Fatalf("acknowledge changed the active alerts")
	}

	if _, err := eng.Acknowledge(context.Background(), "SB-001", ""); !errors.Is(err, ErrNoActiveAlert) {
		t.Fatalf("ok bag: %v", err)
	}
	if _, err := eng.Acknowledge(context.Background(), "SB-404", ""); !errors.Is(err, ErrUnknownBag) {
		t.Fatalf("unknown bag: %v", err)
	}
}

func TestEngineTrend(t *testing.T) {
	eng := newEngineForTest(testConfig(), nil, nil)
	day := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 20; i++ {
		bag := scenarioBags()[0]
		bag.Temperature = float64(20 + i)
		_ = eng.ProcessReading(context.Background(), readingAt(bag, day.AddDate(0, 0, i)))
	}
	series, err := eng.Trend(context.Background(), "SB-001")
	if err != nil {
		t.Fatalf("trend: %v", err)
	}
	if len(series) != trend.DefaultWindow || series[len(series)-1].Temperature != 39 {
		t.Fatalf("unexpected series: %d points", len(series))
	}
	fleet, err := eng.Trend(context.Background(), "")
	if err != nil || len(fleet) != trend.DefaultWindow {
		t.Fatalf("fleet series: %d %v", len(fleet), err)
	}
	if _, err := eng.Trend(context.Background(), "SB-404"); !errors.Is(err, ErrUnknownBag) {
		t.Fatalf("unknown bag: %v", err)
	}
}

func TestEngineTrendFallsBackToStorage(t *testing.T) {
	store := &recordingStore{trend: []model.TrendPoint{{Day: 1, Temperature: 20}}}
	eng := newEngineForTest(testConfig(), store, nil)
	series, err := eng.Trend(context.Background(), "SB-777")
	if err != nil || len(series) != 1 {
		t.Fatalf("fallback: %+v %v", series, err)
	}
}

func TestEngineStartProcessesChannel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	eng := newEngineForTest(testConfig(), nil, nil)
	in := make(chan model.Reading, 2)
	eng.Start(ctx, in)
	for _, b := range scenarioBags() {
		in <- readingAt(b, time.Now())
	}
	deadline := time.Now().Add(2 * time.Second)
	for eng.Inventory().Len() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("readings not consumed")
		}
		time.Sleep(10 * time.Millisecond)
	}
	crops, sites := eng.Filters()
	if len(crops) != 1 || crops[0] != "Maize" || len(sites) != 1 || sites[0] != "A" {
		t.Fatalf("filters: %v %v", crops, sites)
	}
}

func TestEngineReset(t *testing.T) {
	eng := newEngineForTest(testConfig(), nil, nil)
	loadScenario(t, eng, time.Now())
	eng.Evaluate(context.Background(), model.Filter{})
	eng.Reset()
	if eng.Inventory().Len() != 0 || len(eng.Snapshots().List()) != 0 {
		t.Fatalf("reset left state behind")
	}
	loadScenario(t, eng, time.Now())
	if eng.Inventory().Len() != 2 {
		t.Fatalf("dedupe cache not cleared on reset")
	}
}

func TestCooldownAllowKey(t *testing.T) {
	c := NewCooldown()
	now := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	if !c.AllowKey("k", time.Minute) || c.AllowKey("k", time.Minute) {
		t.Fatalf("second call within cooldown must be blocked")
	}
	now = now.Add(2 * time.Minute)
	if !c.AllowKey("k", time.Minute) {
		t.Fatalf("cooldown did not expire")
	}
	if !c.AllowKey("k", 0) {
		t.Fatalf("zero cooldown must always allow")
	}
}

func TestDedupeCacheCompacts(t *testing.T) {
	d := NewDedupeCache(2)
	now := time.Now()
	d.Seen("a", now, time.Second)
	d.Seen("b", now, time.Second)
	later := now.Add(time.Minute)
	d.Seen("c", later, time.Second)
	if len(d.items) != 1 {
		t.Fatalf("expired keys not compacted: %d", len(d.items))
	}
	if !d.Seen("c", later, time.Second) {
		t.Fatalf("recent key should be seen")
	}
}

func TestEngineFleetTrendStaysOrdered(t *testing.T) {
	eng := newEngineForTest(testConfig(), nil, nil)
	now := time.Now().UTC()
	a := model.Bag{ID: "SB-A", Crop: "Maize", Farm: "A", Tons: 100, Temperature: 20, Humidity: 12, CO2: 1, Risk: 0.1}
	b := model.Bag{ID: "SB-B", Crop: "Maize", Farm: "A", Tons: 100, Temperature: 40, Humidity: 18, CO2: 2.5, Risk: 0.1}
	if err := eng.ProcessReading(context.Background(), readingAt(a, now.Add(-time.Hour))); err != nil {
		t.Fatalf("bag A: %v", err)
	}
	if err := eng.ProcessReading(context.Background(), readingAt(b, now.AddDate(0, 0, -5))); err != nil {
		t.Fatalf("bag B: %v", err)
	}

	fleet, err := eng.Trend(context.Background(), "")
	if err != nil {
		t.Fatalf("fleet trend: %v", err)
	}
	for i := 1; i < len(fleet); i++ {
		if fleet[i].Day <= fleet[i-1].Day {
			t.Fatalf("fleet series not ordered by day: %+v", fleet)
		}
	}
	if len(fleet) != 1 || fleet[0].Temperature != 20 {
		t.Fatalf("old reading relabelled current inventory: %+v", fleet)
	}
	bagSeries, _ := eng.Trend(context.Background(), "SB-B")
	if len(bagSeries) != 1 || bagSeries[0].Temperature != 40 {
		t.Fatalf("bag series of B: %+v", bagSeries)
	}
}

func TestEngineQueryHasNoSideEffects(t *testing.T) {
	store := &recordingStore{}
	pub := &recordingPublisher{}
	eng := newEngineForTest(testConfig(), store, pub)
	loadScenario(t, eng, time.Now())

	var ev model.Evaluation
	for i := 0; i < 5; i++ {
		ev = eng.Query(model.Filter{Crop: "Maize"})
	}
	if ev.KPIs.TotalBags != 2 || ev.EvaluatedAt.IsZero() {
		t.Fatalf("unexpected query result: %+v", ev.KPIs)
	}
	if len(store.snapshots) != 0 || len(pub.keys) != 0 || len(eng.Snapshots().List()) != 0 {
		t.Fatalf("query wrote %d snapshots, %d messages", len(store.snapshots), len(pub.keys))
	}
}
