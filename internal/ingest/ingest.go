// Package ingest receives bag readings from the configured sources, parses
// and validates them and hands them to the engine over a channel.
package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"silofy/internal/config"
	"silofy/internal/model"
	"silofy/internal/normalize"
)

var ErrDropped = errors.New("reading dropped: channel full")

func SendNonBlocking(ctx context.Context, out chan<- model.Reading, r model.Reading, logger *slog.Logger) bool {
	select {
	case out <- r:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("reading channel full, dropping reading", "bag_id", r.Bag.ID, "timestamp", r.Timestamp)
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// emit validates fields and forwards the reading. Invalid readings are
// logged and returned as errors and never reach the engine. A reading the
// channel cannot take returns ErrDropped.
func emit(ctx context.Context, cfg *config.Manager, fields normalize.ReadingFields, source string, out chan<- model.Reading, logger *slog.Logger) error {
	r, err := normalize.Normalize(fields, cfg.Get())
	if err != nil {
		if logger != nil {
			logger.Warn("reading rejected", "source", source, "bag_id", fields.BagID, "err", err)
		}
		return err
	}
	r.Source = source
	if !SendNonBlocking(ctx, out, r, logger) {
		return ErrDropped
	}
	return nil
}

func emitLine(ctx context.Context, cfg *config.Manager, parser *Parser, line, source string, out chan<- model.Reading, logger *slog.Logger) {
	fields, err := parser.ParseLine(line)
	if err != nil || fields == nil {
		return
	}
	_ = emit(ctx, cfg, *fields, source, out, logger)
}
