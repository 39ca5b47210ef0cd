// Package ledger implements DeliveryLedger (spec §4.7): the append-only,
// unique-per-(subscriber, filter, tender) record that enforces at-most-once
// delivery across cycles, backed by Postgres via jackc/pgx and jmoiron/sqlx.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/dataparency-dev/tenderwatch/internal/model"
	"github.com/dataparency-dev/tenderwatch/internal/pipelineerr"
)

// Outcome is the result of a reserve attempt.
type Outcome int

const (
	Reserved Outcome = iota
	AlreadyDelivered
)

// Cause records why a tentative reservation was abandoned, for diagnostics only.
type Cause string

const (
	CauseQuietHours Cause = "quiet"
	CauseQuota      Cause = "quota"
	CauseSinkError  Cause = "sink_transient"
)

// Ledger is the Postgres-backed DeliveryLedger.
type Ledger struct {
	db    *sqlx.DB
	clock func() time.Time
}

// New builds a Ledger over db.
func New(db *sqlx.DB) *Ledger {
	return &Ledger{db: db, clock: time.Now}
}

func (l *Ledger) now() time.Time {
	if l.clock != nil {
		return l.clock()
	}
	return time.Now()
}

// Reserve implements reserve (spec §4.7): atomic insert-if-absent. Honors
// the subscriber's blocked flag first — while blocked, every reservation for
// that subscriber reads as AlreadyDelivered regardless of the triple.
func (l *Ledger) Reserve(ctx context.Context, sub model.Subscriber, filterID, tenderID string) (Outcome, error) {
	if sub.DeliveryBlocked {
		return AlreadyDelivered, nil
	}

	var state string
	err := l.db.QueryRowxContext(ctx,
		`INSERT INTO delivery (subscriber_id, filter_id, tender_id, state, reserved_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (subscriber_id, filter_id, tender_id) DO NOTHING
		 RETURNING state`,
		sub.ID, filterID, tenderID, model.DeliveryTentative, l.now(),
	).Scan(&state)

	switch {
	case err == nil:
		return Reserved, nil
	case isNoRows(err):
		return AlreadyDelivered, nil
	default:
		return AlreadyDelivered, pipelineerr.Fatal("ledger.reserve", fmt.Errorf("reserve delivery row: %w", err))
	}
}

// Confirm marks a reserved triple as delivered (spec §4.7 confirm).
func (l *Ledger) Confirm(ctx context.Context, subscriberID, filterID, tenderID string) error {
	now := l.now()
	_, err := l.db.ExecContext(ctx,
		`UPDATE delivery SET state = $1, sent_at = $2
		 WHERE subscriber_id = $3 AND filter_id = $4 AND tender_id = $5`,
		model.DeliveryConfirmed, now, subscriberID, filterID, tenderID,
	)
	if err != nil {
		return pipelineerr.Fatal("ledger.confirm", fmt.Errorf("confirm delivery row: %w", err))
	}
	return nil
}

// Abandon discards a tentative record so the triple may be retried in a
// later cycle (spec §4.7 abandon — transient sink failures, quiet-hours
// defer, and quota exhaustion all route through here).
func (l *Ledger) Abandon(ctx context.Context, subscriberID, filterID, tenderID string, cause Cause) error {
	_, err := l.db.ExecContext(ctx,
		`DELETE FROM delivery
		 WHERE subscriber_id = $1 AND filter_id = $2 AND tender_id = $3 AND state = $4`,
		subscriberID, filterID, tenderID, model.DeliveryTentative,
	)
	if err != nil {
		return pipelineerr.Fatal("ledger.abandon", fmt.Errorf("abandon delivery row (cause=%s): %w", cause, err))
	}
	return nil
}

// MarkBlocked sets the subscriber's delivery_blocked flag (spec §4.7/§4.8:
// a Permanent sink outcome blocks every future reservation for that
// subscriber until a liveness signal clears it).
func (l *Ledger) MarkBlocked(ctx context.Context, subscriberID string) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE subscriber SET delivery_blocked = true WHERE id = $1`, subscriberID,
	)
	if err != nil {
		return pipelineerr.Fatal("ledger.mark_blocked", fmt.Errorf("mark subscriber blocked: %w", err))
	}
	return nil
}

// ClearBlocked clears the flag on a subscriber liveness signal.
func (l *Ledger) ClearBlocked(ctx context.Context, subscriberID string) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE subscriber SET delivery_blocked = false WHERE id = $1`, subscriberID,
	)
	if err != nil {
		return pipelineerr.Fatal("ledger.clear_blocked", fmt.Errorf("clear subscriber blocked: %w", err))
	}
	return nil
}

// SweepExpiredReservations removes tentative rows older than maxAge,
// implementing the spec §7 option to expire stale reservations left by a
// crash between reserve and send so the triple becomes retryable again.
func (l *Ledger) SweepExpiredReservations(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := l.now().Add(-maxAge)
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM delivery WHERE state = $1 AND reserved_at < $2`,
		model.DeliveryTentative, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("sweep expired reservations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count swept reservations: %w", err)
	}
	return n, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
