package postgres

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib"

	"bridgesync/internal/application/port"
)

type Repo struct {
	db *sql.DB
}

func New(dsn string) (*Repo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	r := &Repo{db: db}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS signals (
  id BIGSERIAL PRIMARY KEY,
  signal_id TEXT NOT NULL,
  ts_ms BIGINT NOT NULL,
  payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_signals_ts ON signals(ts_ms);

CREATE TABLE IF NOT EXISTS trades (
  id BIGSERIAL PRIMARY KEY,
  ts_ms BIGINT NOT NULL,
  payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_ts ON trades(ts_ms);
`)
	return err
}

func (r *Repo) InsertSignal(ctx context.Context, ts int64, id, payload string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO signals(signal_id, ts_ms, payload) VALUES($1, $2, $3)`, id, ts, payload)
	return err
}

func (r *Repo) InsertTrade(ctx context.Context, ts int64, payload string) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO trades(ts_ms, payload) VALUES($1, $2)`, ts, payload)
	return err
}

var _ port.Repository = (*Repo)(nil)
