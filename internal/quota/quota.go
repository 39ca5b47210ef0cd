// Package quota implements QuotaGate (spec §4.6): per-subscriber daily
// counters for notifications and oracle calls, reset exactly once at the
// subscriber's local-day boundary, enforced in Postgres transactions that
// lock the counter row (SELECT ... FOR UPDATE) via jackc/pgx and jmoiron/sqlx
// so the critical section never spans an external call (spec §5 "Ordering
// guarantees").
package quota

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

// Resource is one of the two countable resources a subscriber consumes per day.
type Resource string

const (
	ResourceNotifications Resource = "notifications"
	ResourceOracleCalls   Resource = "oracle_calls"
)

// TierCaps gives the daily cap for each resource, per tier.
type TierCaps struct {
	Notifications int
	OracleCalls   int
}

// Gate enforces the per-subscriber daily quotas of spec §4.6.
type Gate struct {
	db    *sqlx.DB
	caps  map[model.Tier]TierCaps
	clock func() time.Time
}

// New builds a Gate backed by db, with the per-tier caps from configuration.
func New(db *sqlx.DB, caps map[model.Tier]TierCaps) *Gate {
	return &Gate{db: db, caps: caps, clock: time.Now}
}

func (g *Gate) now() time.Time {
	if g.clock != nil {
		return g.clock()
	}
	return time.Now()
}

func (g *Gate) capFor(tier model.Tier, resource Resource) int {
	c := g.caps[tier]
	if resource == ResourceOracleCalls {
		return c.OracleCalls
	}
	return c.Notifications
}

// localDate returns the subscriber's current local calendar date as a
// timezone-aware value, never a fixed UTC+3 offset (spec §5 DST handling,
// §9 "Quiet-hours without DST" source defect).
func localDate(now time.Time, loc *time.Location) time.Time {
	local := now.In(loc)
	y, m, d := local.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// TryConsume attempts to consume n units of resource for subscriber, resetting
// the counter first if the local-day boundary has passed (spec invariant 5,
// testable property 9). Returns true and commits the increment iff the
// resulting count does not exceed the subscriber's tier cap; the whole
// operation is one transaction at the default isolation level that locks an
// existing counter row with SELECT ... FOR UPDATE, matching spec §5's "Shared
// resource policy" — no external call happens inside this critical section.
func (g *Gate) TryConsume(ctx context.Context, sub model.Subscriber, resource Resource, n int) (bool, error) {
	cap := g.capFor(sub.Tier, resource)
	today := localDate(g.now(), sub.Location())

	tx, err := g.db.BeginTxx(ctx, nil)
	if err != nil {
		return false, pipelineerr.Fatal("quota.try_consume", fmt.Errorf("begin quota tx: %w", err))
	}
	defer tx.Rollback() //nolint:errcheck // no-op once committed

	var count int
	var resetOn time.Time
	err = tx.QueryRowxContext(ctx,
		`SELECT count, reset_on_local_date FROM quota
		 WHERE subscriber_id = $1 AND resource = $2 FOR UPDATE`,
		sub.ID, string(resource),
	).Scan(&count, &resetOn)

	switch {
	case err == nil:
		if resetOn.Before(today) {
			count = 0
			resetOn = today
		}
	case isNoRows(err):
		count = 0
		resetOn = today
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO quota (subscriber_id, resource, count, reset_on_local_date)
			 VALUES ($1, $2, 0, $3)`,
			sub.ID, string(resource), today,
		); err != nil {
			return false, pipelineerr.Fatal("quota.try_consume", fmt.Errorf("seed quota row: %w", err))
		}
	default:
		return false, pipelineerr.Fatal("quota.try_consume", fmt.Errorf("read quota row: %w", err))
	}

	if count+n > cap {
		if err := tx.Commit(); err != nil {
			return false, pipelineerr.Fatal("quota.try_consume", fmt.Errorf("commit quota read-only reset: %w", err))
		}
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE quota SET count = $1, reset_on_local_date = $2
		 WHERE subscriber_id = $3 AND resource = $4`,
		count+n, resetOn, sub.ID, string(resource),
	); err != nil {
		return false, pipelineerr.Fatal("quota.try_consume", fmt.Errorf("update quota row: %w", err))
	}

	if err := tx.Commit(); err != nil {
		return false, pipelineerr.Fatal("quota.try_consume", fmt.Errorf("commit quota consume: %w", err))
	}
	return true, nil
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
