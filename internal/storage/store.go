// Package storage persists readings, evaluation snapshots and
// acknowledgements to SQLite or Postgres. Persistence is optional: the
// engine works from memory and only writes through.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"silofy/internal/config"
	"silofy/internal/model"
	"silofy/internal/trend"
)

type Store interface {
	Init(ctx context.Context) error
	Close() error
	SaveReading(ctx context.Context, r model.Reading) error
	SaveSnapshot(ctx context.Context, ev model.Evaluation) error
	SaveAcknowledgement(ctx context.Context, ack model.Acknowledgement) error
	// LoadTrend returns up to limit daily points, oldest first. An empty
	// bagID selects the fleet series weighted by tons.
	LoadTrend(ctx context.Context, bagID string, limit int) ([]model.TrendPoint, error)
}

var ErrUnsupportedDriver = errors.New("unsupported storage driver")

func NewStore(cfg config.StorageConfig) (Store, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, ErrUnsupportedDriver
	}
}

type dialect struct {
	name   string
	schema []string
	// numbered placeholders ($1, $2...) instead of ?
	numbered bool
}

func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

type sqlStore struct {
	db *sql.DB
	d  dialect
}

func (s *sqlStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *sqlStore) Init(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	for _, stmt := range s.d.schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *sqlStore) SaveReading(ctx context.Context, r model.Reading) error {
	if s.db == nil || r.Bag.ID == "" {
		return nil
	}
	b := r.Bag
	_, err := s.db.ExecContext(ctx, s.d.rebind(
		`INSERT INTO readings (ts, day, bag_id, farm, crop, tons, lat, lng, temperature, humidity, co2, risk, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		r.Timestamp.UTC(),
		trend.DayOrdinal(r.Timestamp),
		b.ID,
		b.Farm,
		b.Crop,
		b.Tons,
		b.Location.Lat,
		b.Location.Lng,
		b.Temperature,
		b.Humidity,
		b.CO2,
		b.Risk,
		r.Source,
	)
	return err
}

func (s *sqlStore) SaveSnapshot(ctx context.Context, ev model.Evaluation) error {
	if s.db == nil {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, s.d.rebind(
		`INSERT INTO snapshots (ts, filter_key, total_bags, total_tons, at_risk_tons, open_alerts, severity, payload_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		ev.EvaluatedAt.UTC(),
		ev.Filter.Key(),
		ev.KPIs.TotalBags,
		ev.KPIs.TotalTons,
		ev.KPIs.AtRiskTons,
		ev.KPIs.OpenAlertCount,
		string(ev.AtRiskSeverity),
		string(payload),
	)
	return err
}

func (s *sqlStore) SaveAcknowledgement(ctx context.Context, ack model.Acknowledgement) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, s.d.rebind(
		`INSERT INTO acknowledgements (id, ts, bag_id, alert_type, severity, note)
		VALUES (?, ?, ?, ?, ?, ?)`),
		ack.ID,
		ack.AcknowledgedAt.UTC(),
		ack.BagID,
		string(ack.Type),
		string(ack.Severity),
		ack.Note,
	)
	return err
}

func (s *sqlStore) LoadTrend(ctx context.Context, bagID string, limit int) ([]model.TrendPoint, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = trend.DefaultWindow
	}
	var (
		rows *sql.Rows
		err  error
	)
	if bagID == "" {
		rows, err = s.db.QueryContext(ctx, s.d.rebind(
			`SELECT day,
				SUM(temperature * tons) / SUM(tons),
				SUM(humidity * tons) / SUM(tons),
				SUM(co2 * tons) / SUM(tons)
			FROM readings WHERE tons > 0
			GROUP BY day ORDER BY day DESC LIMIT ?`), limit)
	} else {
		rows, err = s.db.QueryContext(ctx, s.d.rebind(
			`SELECT day, AVG(temperature), AVG(humidity), AVG(co2)
			FROM readings WHERE bag_id = ?
			GROUP BY day ORDER BY day DESC LIMIT ?`), bagID, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []model.TrendPoint
	for rows.Next() {
		var p model.TrendPoint
		if err := rows.Scan(&p.Day, &p.Temperature, &p.Humidity, &p.CO2); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
		points[i], points[j] = points[j], points[i]
	}
	return points, nil
}
