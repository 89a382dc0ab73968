// Package database uploads engine telemetry to PostgreSQL.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/gwac/camannex/asciiproto"
	"github.com/gwac/camannex/logger"
)

// StatusOK is the upload status of a stored record.
const StatusOK = "ok"

const (
	insertCooler = `INSERT INTO cooler_telemetry
	(group_id, unit_id, cam_id, voltage, current, hot_end, cool_get, cool_set, recorded_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	insertVacuum = `INSERT INTO vacuum_telemetry
	(group_id, unit_id, cam_id, voltage, current, pressure, recorded_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7)`

	timeLayout = "2006-01-02T15:04:05"
)

var ErrEmptyDSN = errors.New("database: empty dsn")

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Postgres implements controller.Database. It is safe for concurrent use.
type Postgres struct {
	db     *sql.DB
	exec   execer
	logger logger.Logger
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string, l logger.Logger) (*Postgres, error) {
	if dsn == "" {
		return nil, ErrEmptyDSN
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("database: failed to open: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("database: failed to ping: %w", err)
	}

	p := newPostgres(db, l)
	p.db = db

	return p, nil
}

func newPostgres(ex execer, l logger.Logger) *Postgres {
	if l == nil {
		l = logger.GetLogger()
	}
	return &Postgres{exec: ex, logger: l.With("component", "database")}
}

// DB returns the underlying pool, nil for a Postgres not made by Open.
func (p *Postgres) DB() *sql.DB {
	return p.db
}

func (p *Postgres) Close() error {
	if p.db == nil {
		return nil
	}
	return p.db.Close()
}

// UploadCooler stores one cooler record.
func (p *Postgres) UploadCooler(ctx context.Context, rec *asciiproto.Cooler) (string, error) {
	ts, err := recordedAt(rec.UTC)
	if err != nil {
		return "invalid time", err
	}

	_, err = p.exec.ExecContext(ctx, insertCooler,
		rec.GroupID, rec.UnitID, rec.CamID,
		rec.Voltage, rec.Current, rec.HotEnd, rec.CoolGet, rec.CoolSet, ts,
	)
	return p.result("cooler", rec.CamID, err)
}

// UploadVacuum stores one vacuum record.
func (p *Postgres) UploadVacuum(ctx context.Context, rec *asciiproto.Vacuum) (string, error) {
	ts, err := recordedAt(rec.UTC)
	if err != nil {
		return "invalid time", err
	}

	_, err = p.exec.ExecContext(ctx, insertVacuum,
		rec.GroupID, rec.UnitID, rec.CamID,
		rec.Voltage, rec.Current, rec.Pressure, ts,
	)
	return p.result("vacuum", rec.CamID, err)
}

func (p *Postgres) result(table, camID string, err error) (string, error) {
	if err == nil {
		return StatusOK, nil
	}

	status := err.Error()
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		status = fmt.Sprintf("%s (%s)", pqErr.Code.Name(), pqErr.Code)
	}
	p.logger.Debug("insert failed", "table", table, "cam_id", camID, "status", status)

	return status, fmt.Errorf("database: failed to insert %s record: %w", table, err)
}

// recordedAt parses the record timestamp; an empty one means now.
func recordedAt(utc string) (time.Time, error) {
	if utc == "" {
		return time.Now().UTC().Truncate(time.Second), nil
	}
	ts, err := time.Parse(timeLayout, utc)
	if err != nil {
		return time.Time{}, fmt.Errorf("database: invalid record time %q: %w", utc, err)
	}
	return ts, nil
}
