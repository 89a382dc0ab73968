package controller

import (
	"context"
	"errors"
	"time"

	"github.com/gwac/camannex/asciiproto"
)

// flush publishes the telemetry table: log, then database, then network.
func (e *Engine) flush(ctx context.Context) {
	e.metrics.FlushCount.Add(1)
	e.family.FlushLog(e.log())

	e.netMu.RLock()
	db, session, groupID := e.db, e.session, e.groupID
	e.netMu.RUnlock()

	if db != nil {
		e.flushDatabase(ctx, db, groupID)
	}
	if session != nil && session.IsOpen() {
		e.flushNetwork(session, groupID)
	}
}

func (e *Engine) flushDatabase(ctx context.Context, db Database, groupID string) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.uploadTimeout)
	defer cancel()

	now := time.Now().UTC().Format("2006-01-02T15:04:05")
	for _, rec := range e.family.Records(groupID) {
		rec.Header().UTC = now

		var status string
		var err error
		switch r := rec.(type) {
		case *asciiproto.Cooler:
			status, err = db.UploadCooler(ctx, r)
		case *asciiproto.Vacuum:
			status, err = db.UploadVacuum(ctx, r)
		default:
			continue
		}
		if err != nil {
			e.log().Warn("failed to upload to database", "cam_id", rec.Header().CamID, "status", status, "error", err)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
		}
	}
}

func (e *Engine) flushNetwork(session NetworkSession, groupID string) {
	for _, rec := range e.family.Records(groupID) {
		line := e.proto.Compact(rec)
		if line == nil {
			continue
		}
		if err := session.Write(line); err != nil {
			e.log().Warn("failed to send telemetry", "cam_id", rec.Header().CamID, "error", err)
			return
		}
	}
}
