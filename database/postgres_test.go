package database

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"io/fs"
	"strings"
	"testing"
	"time"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gwac/camannex/asciiproto"
	"github.com/gwac/camannex/logger"
)

type fakeExec struct {
	query string
	args  []any
	err   error
}

func (f *fakeExec) ExecContext(_ context.Context, query string, args ...any) (sql.Result, error) {
	f.query, f.args = query, args
	if f.err != nil {
		return nil, f.err
	}
	return driverResult(1), nil
}

type driverResult int64

func (r driverResult) LastInsertId() (int64, error) { return 0, nil }
func (r driverResult) RowsAffected() (int64, error) { return int64(r), nil }

func newTestPostgres(ex execer) *Postgres {
	return newPostgres(ex, logger.NewSlog(logger.ErrorLevel, false, io.Discard))
}

func TestPostgres_UploadCooler(t *testing.T) {
	require := require.New(t)

	ex := &fakeExec{}
	p := newTestPostgres(ex)
	rec := &asciiproto.Cooler{
		Base:    asciiproto.Base{UTC: "2024-03-01T12:30:00", GroupID: "001", UnitID: "001", CamID: "012"},
		Voltage: 12.1,
		Current: 1.5,
		HotEnd:  25.0,
		CoolGet: -40.2,
		CoolSet: -40.0,
	}

	status, err := p.UploadCooler(context.Background(), rec)
	require.NoError(err)
	require.Equal(StatusOK, status)
	require.True(strings.HasPrefix(ex.query, "INSERT INTO cooler_telemetry"))
	require.Equal([]any{"001", "001", "012", 12.1, 1.5, 25.0, -40.2, -40.0,
		time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)}, ex.args)
}

func TestPostgres_UploadVacuum(t *testing.T) {
	ex := &fakeExec{}
	p := newTestPostgres(ex)
	rec := &asciiproto.Vacuum{
		Base:     asciiproto.Base{UTC: "2024-03-01T12:30:00", GroupID: "001", UnitID: "000", CamID: "003"},
		Voltage:  24.0,
		Current:  0.3,
		Pressure: "5.0E-5",
	}

	status, err := p.UploadVacuum(context.Background(), rec)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, status)
	assert.True(t, strings.HasPrefix(ex.query, "INSERT INTO vacuum_telemetry"))
	assert.Equal(t, "5.0E-5", ex.args[5])
}

func TestPostgres_UploadFailureStatus(t *testing.T) {
	ex := &fakeExec{err: &pq.Error{Code: "42P01", Message: "relation does not exist"}}
	p := newTestPostgres(ex)

	status, err := p.UploadCooler(context.Background(), &asciiproto.Cooler{})
	require.Error(t, err)
	assert.Equal(t, "undefined_table (42P01)", status)

	var pqErr *pq.Error
	assert.True(t, errors.As(err, &pqErr))

	ex.err = errors.New("connection refused")
	status, err = p.UploadVacuum(context.Background(), &asciiproto.Vacuum{})
	require.Error(t, err)
	assert.Equal(t, "connection refused", status)
}

func TestPostgres_InvalidTime(t *testing.T) {
	ex := &fakeExec{}
	p := newTestPostgres(ex)

	_, err := p.UploadCooler(context.Background(), &asciiproto.Cooler{Base: asciiproto.Base{UTC: "yesterday"}})
	require.Error(t, err)
	assert.Empty(t, ex.query)
}

func TestOpen_EmptyDSN(t *testing.T) {
	_, err := Open(context.Background(), "", nil)
	assert.ErrorIs(t, err, ErrEmptyDSN)
}

func TestMigrate_NilDB(t *testing.T) {
	assert.Error(t, Migrate(nil, logger.GetLogger()))
}

func TestMigrations_Embedded(t *testing.T) {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"migrations/000001_telemetry.up.sql",
		"migrations/000001_telemetry.down.sql",
	}, names)

	up, err := fs.ReadFile(migrations, "migrations/000001_telemetry.up.sql")
	require.NoError(t, err)
	assert.Contains(t, string(up), "cooler_telemetry")
	assert.Contains(t, string(up), "vacuum_telemetry")
}
