package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"silofy/internal/acks"
	"silofy/internal/config"
	"silofy/internal/inventory"
	"silofy/internal/model"
	"silofy/internal/snapshots"
	"silofy/internal/storage"
	"silofy/internal/trend"
	"silofy/internal/validation"
)

var (
	ErrUnknownBag    = errors.New("unknown bag")
	ErrNoActiveAlert = errors.New("bag has no active alert")
)

// Publisher receives every evaluation the engine produces.
type Publisher interface {
	Publish(ctx context.Context, key string, ev model.Evaluation) error
}

// Engine is the stateful shell around the evaluation pipeline. It keeps the
// latest reading of every bag and evaluates them on demand or on a ticker.
type Engine struct {
	logger    *slog.Logger
	inventory *inventory.Store
	history   *trend.History
	snapshots *snapshots.Store
	acks      *acks.Store
	store     storage.Store
	publisher Publisher
	cfg       atomic.Value
	started   time.Time

	mu       sync.Mutex
	cooldown *Cooldown
	deDupe   *DedupeCache

	now func() time.Time
}

type Options struct {
	Inventory *inventory.Store
	History   *trend.History
	Snapshots *snapshots.Store
	Acks      *acks.Store
	Store     storage.Store
	Publisher Publisher
}

// NewEngine fills any store left nil in opts with one sized from cfg.
// Store and Publisher may stay nil.
func NewEngine(cfg *config.Config, logger *slog.Logger, opts Options) *Engine {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if opts.Inventory == nil {
		opts.Inventory = inventory.NewStore(cfg.Inventory.Limit)
	}
	if opts.History == nil {
		opts.History = trend.NewHistory(cfg.Evaluation.TrendWindow)
	}
	if opts.Snapshots == nil {
		opts.Snapshots = snapshots.NewStore(cfg.Snapshots.StoreLimit)
	}
	if opts.Acks == nil {
		opts.Acks = acks.NewStore(cfg.Acks.StoreLimit)
	}
	e := &Engine{
		logger:    logger,
		inventory: opts.Inventory,
		history:   opts.History,
		snapshots: opts.Snapshots,
		acks:      opts.Acks,
		store:     opts.Store,
		publisher: opts.Publisher,
		started:   time.Now().UTC(),
		cooldown:  NewCooldown(),
		deDupe:    NewDedupeCache(cfg.Inventory.Limit),
		now:       func() time.Time { return time.Now().UTC() },
	}
	e.cfg.Store(cfg)
	return e
}

func (e *Engine) UpdateConfig(cfg *config.Config) {
	e.cfg.Store(cfg)
	e.history.SetWindow(cfg.Evaluation.TrendWindow)
}

func (e *Engine) config() *config.Config {
	if v := e.cfg.Load(); v != nil {
		return v.(*config.Config)
	}
	return config.DefaultConfig()
}

func (e *Engine) Inventory() *inventory.Store { return e.inventory }
func (e *Engine) Snapshots() *snapshots.Store { return e.snapshots }
func (e *Engine) Acks() *acks.Store           { return e.acks }
func (e *Engine) StartedAt() time.Time        { return e.started }

// Start consumes readings until ctx is done. With a positive
// evaluation.interval the default filter is evaluated on every tick.
func (e *Engine) Start(ctx context.Context, in <-chan model.Reading) {
	go func() {
		interval := e.config().Evaluation.Interval
		var tick <-chan time.Time
		var ticker *time.Ticker
		if interval > 0 {
			ticker = time.NewTicker(interval)
			defer ticker.Stop()
			tick = ticker.C
		}
		for {
			select {
			case r := <-in:
				if err := e.ProcessReading(ctx, r); err != nil && e.logger != nil {
					e.logger.Warn("reading rejected", "bag_id", r.Bag.ID, "source", r.Source, "err", err)
				}
			case <-tick:
				e.Evaluate(ctx, model.Filter{})
				if d := e.config().Evaluation.Interval; d > 0 && d != interval {
					interval = d
					ticker.Reset(d)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// ProcessReading folds one reading into the inventory and trend history and
// writes it through to storage. Duplicates within the dedupe window and
// readings older than the stored one are dropped without error.
func (e *Engine) ProcessReading(ctx context.Context, r model.Reading) error {
	if r.Bag.ID == "" {
		return validation.Missing("id")
	}
	if r.Bag.Tons <= 0 {
		return validation.New("tons", r.Bag.Tons, "must be positive")
	}
	cfg := e.config()
	now := e.now()
	r.Timestamp = clampTimestamp(r.Timestamp, now, cfg.Evaluation.MaxFutureSkew)

	if e.isDuplicate(r, now, cfg.Evaluation.DedupeWindow) {
		return nil
	}
	if !e.inventory.Upsert(r) {
		if e.logger != nil {
			e.logger.Debug("stale reading ignored", "bag_id", r.Bag.ID, "timestamp", r.Timestamp)
		}
		return nil
	}

	point := trend.FromReading(r)
	e.history.Record(r.Bag.ID, point)
	// The fleet point averages the current inventory, so it is only valid
	// for the newest fleet day.
	if last, ok := e.history.LastDay(trend.FleetKey); !ok || point.Day >= last {
		e.history.Record(trend.FleetKey, trend.FleetPoint(point.Day, e.inventory.Snapshot()))
	}

	if e.store != nil {
		if err := e.store.SaveReading(ctx, r); err != nil && e.logger != nil {
			e.logger.Warn("save reading failed", "bag_id", r.Bag.ID, "err", err)
		}
	}
	return nil
}

// Query evaluates filter over the current inventory without logging,
// storing or publishing anything. An empty campaign falls back to
// evaluation.default_campaign.
func (e *Engine) Query(filter model.Filter) model.Evaluation {
	if filter.Campaign == "" {
		filter.Campaign = e.config().Evaluation.DefaultCampaign
	}
	ev := Evaluate(e.inventory.Snapshot(), filter)
	ev.EvaluatedAt = e.now()
	return ev
}

// Evaluate runs one evaluation cycle: Query plus alert logging, the
// snapshot store, storage and the publisher.
func (e *Engine) Evaluate(ctx context.Context, filter model.Filter) model.Evaluation {
	cfg := e.config()
	ev := e.Query(filter)

	if e.logger != nil {
		for _, a := range ev.Alerts {
			if !e.cooldownFor().AllowKey(a.BagID+"|"+string(a.Type), cfg.Evaluation.AlertLogCooldown) {
				continue
			}
			e.logger.Warn("bag alert",
				"bag_id", a.BagID,
				"type", a.Type,
				"severity", a.Severity,
				"detail", a.Detail,
				"campaign", ev.Filter.Campaign,
			)
		}
		for _, rej := range ev.Rejected {
			e.logger.Warn("bag excluded from evaluation", "bag_id", rej.BagID, "err", rej.Error)
		}
	}

	e.snapshots.Update(ev)
	if e.store != nil {
		if err := e.store.SaveSnapshot(ctx, ev); err != nil && e.logger != nil {
			e.logger.Warn("save snapshot failed", "filter", ev.Filter.Key(), "err", err)
		}
	}
	if e.publisher != nil {
		if err := e.publisher.Publish(ctx, ev.Filter.Key(), ev); err != nil && e.logger != nil {
			e.logger.Warn("publish evaluation failed", "filter", ev.Filter.Key(), "err", err)
		}
	}
	return ev
}

// Acknowledge records that an operator has seen the active alert of bagID.
// The alert itself stays active until the bag's readings change.
func (e *Engine) Acknowledge(ctx context.Context, bagID, note string) (model.Acknowledgement, error) {
	bag, ok := e.inventory.Get(bagID)
	if !ok {
		return model.Acknowledgement{}, ErrUnknownBag
	}
	alerts, err := ActiveAlerts([]model.Bag{bag})
	if err != nil {
		return model.Acknowledgement{}, err
	}
	_, alert, found := Acknowledge(alerts, bagID)
	if !found {
		return model.Acknowledgement{}, ErrNoActiveAlert
	}
	ack := model.Acknowledgement{
		ID:             uuid.NewString(),
		BagID:          bagID,
		Type:           alert.Type,
		Severity:       alert.Severity,
		Note:           note,
		AcknowledgedAt: e.now(),
	}
	e.acks.Add(ack)
	if e.logger != nil {
		e.logger.Info("alert acknowledged", "bag_id", bagID, "type", alert.Type, "ack_id", ack.ID)
	}
	if e.store != nil {
		if err := e.store.SaveAcknowledgement(ctx, ack); err != nil && e.logger != nil {
			e.logger.Warn("save acknowledgement failed", "ack_id", ack.ID, "err", err)
		}
	}
	return ack, nil
}

// Trend returns the daily series of bagID, or of the fleet when bagID is
// empty. Storage is consulted only when nothing is held in memory.
func (e *Engine) Trend(ctx context.Context, bagID string) ([]model.TrendPoint, error) {
	key := bagID
	if key == "" {
		key = trend.FleetKey
	}
	series := e.history.Series(key)
	if len(series) > 0 {
		return series, nil
	}
	if e.store != nil {
		points, err := e.store.LoadTrend(ctx, bagID, e.config().Evaluation.TrendWindow)
		if err != nil {
			return nil, err
		}
		if len(points) > 0 {
			return points, nil
		}
	}
	if bagID != "" {
		if _, ok := e.inventory.Get(bagID); !ok {
			return nil, ErrUnknownBag
		}
	}
	return []model.TrendPoint{}, nil
}

// Filters lists the crop and site values currently known.
func (e *Engine) Filters() (crops, sites []string) {
	return e.inventory.Crops(), e.inventory.Sites()
}

// Reset drops all in-memory state. Persisted data is kept.
func (e *Engine) Reset() {
	e.inventory.Clear()
	e.history.Clear()
	e.snapshots.Clear()
	e.acks.Clear()
	e.mu.Lock()
	e.cooldown = NewCooldown()
	e.deDupe = NewDedupeCache(e.config().Inventory.Limit)
	e.mu.Unlock()
}

func (e *Engine) cooldownFor() *Cooldown {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cooldown
}

func (e *Engine) isDuplicate(r model.Reading, now time.Time, window time.Duration) bool {
	if window <= 0 {
		return false
	}
	e.mu.Lock()
	d := e.deDupe
	e.mu.Unlock()
	return d.Seen(r.Bag.ID+"|"+r.Timestamp.UTC().Format(time.RFC3339Nano), now, window)
}

func clampTimestamp(ts, now time.Time, maxFuture time.Duration) time.Time {
	if ts.IsZero() {
		return now
	}
	if maxFuture > 0 && ts.Sub(now) > maxFuture {
		return now
	}
	return ts
}
