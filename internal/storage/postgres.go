package storage

import (
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

var postgresDialect = dialect{
	name:     "postgres",
	numbered: true,
	schema: []string{
		`CREATE TABLE IF NOT EXISTS readings (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			day INTEGER NOT NULL,
			bag_id TEXT NOT NULL,
			farm TEXT NOT NULL,
			crop TEXT NOT NULL,
			tons DOUBLE PRECISION NOT NULL,
			lat DOUBLE PRECISION,
			lng DOUBLE PRECISION,
			temperature DOUBLE PRECISION NOT NULL,
			humidity DOUBLE PRECISION NOT NULL,
			co2 DOUBLE PRECISION NOT NULL,
			risk DOUBLE PRECISION NOT NULL,
			source TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_readings_bag_day ON readings(bag_id, day)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			filter_key TEXT NOT NULL,
			total_bags INTEGER NOT NULL,
			total_tons DOUBLE PRECISION NOT NULL,
			at_risk_tons DOUBLE PRECISION NOT NULL,
			open_alerts INTEGER NOT NULL,
			severity TEXT NOT NULL,
			payload_json JSONB NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_key_ts ON snapshots(filter_key, ts)`,
		`CREATE TABLE IF NOT EXISTS acknowledgements (
			id UUID PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL,
			bag_id TEXT NOT NULL,
			alert_type TEXT NOT NULL,
			severity TEXT NOT NULL,
			note TEXT
		)`,
	},
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/silofy?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return newPostgresFromDB(db), nil
}

func newPostgresFromDB(db *sql.DB) Store {
	return &sqlStore{db: db, d: postgresDialect}
}
