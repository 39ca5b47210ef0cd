package pipeline

import (
	"context"
	"database/sql"
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataparency-dev/tenderwatch/internal/feed"
	"github.com/dataparency-dev/tenderwatch/internal/ledger"
	"github.com/dataparency-dev/tenderwatch/internal/matcher"
	"github.com/dataparency-dev/tenderwatch/internal/model"
	"github.com/dataparency-dev/tenderwatch/internal/notify"
	"github.com/dataparency-dev/tenderwatch/internal/oracle"
	"github.com/dataparency-dev/tenderwatch/internal/quota"
)

func TestInQuietHoursSameDayWindow(t *testing.T) {
	sub := model.Subscriber{TZ: "Europe/Moscow", QuietStart: "13:00", QuietEnd: "15:00"}
	loc, _ := time.LoadLocation("Europe/Moscow")

	inside := time.Date(2026, 7, 30, 14, 0, 0, 0, loc)
	outside := time.Date(2026, 7, 30, 16, 0, 0, 0, loc)

	assert.True(t, inQuietHours(sub, inside))
	assert.False(t, inQuietHours(sub, outside))
}

func TestInQuietHoursWrapsPastMidnight(t *testing.T) {
	sub := model.Subscriber{TZ: "Europe/Moscow", QuietStart: "22:00", QuietEnd: "09:00"}
	loc, _ := time.LoadLocation("Europe/Moscow")

	lateNight := time.Date(2026, 7, 30, 23, 30, 0, 0, loc)
	earlyMorning := time.Date(2026, 7, 30, 6, 0, 0, 0, loc)
	midday := time.Date(2026, 7, 30, 12, 0, 0, 0, loc)

	assert.True(t, inQuietHours(sub, lateNight))
	assert.True(t, inQuietHours(sub, earlyMorning))
	assert.False(t, inQuietHours(sub, midday))
}

func TestInQuietHoursUsesSubscriberLocalZoneNotUTC(t *testing.T) {
	// 23:00 Moscow (UTC+3) is 20:00 UTC; a UTC+3-naive implementation would
	// misjudge this as outside the 22:00-09:00 window.
	sub := model.Subscriber{TZ: "Europe/Moscow", QuietStart: "22:00", QuietEnd: "09:00"}
	utcMoment := time.Date(2026, 7, 30, 20, 0, 0, 0, time.UTC) // == 23:00 Moscow

	assert.True(t, inQuietHours(sub, utcMoment))
}

func TestInQuietHoursNoWindowConfigured(t *testing.T) {
	sub := model.Subscriber{TZ: "Europe/Moscow"}
	assert.False(t, inQuietHours(sub, time.Now()))
}

// ─── processTender orchestration (reserve → quiet → quota → send → confirm/abandon) ───

var orchestrationCaps = map[model.Tier]quota.TierCaps{
	model.TierBasic: {Notifications: 5, OracleCalls: 5},
}

// stubSource never polls in these tests — processTender only calls Enrich,
// and the fixtures already carry their enrichment, so Enrich is the identity.
type stubSource struct{}

func (stubSource) Poll(ctx context.Context, q feed.Query) *feed.Cursor { return feed.NewCursor(nil) }
func (stubSource) Enrich(ctx context.Context, raw model.Tender) model.Tender { return raw }

// stubOracle always reports UNKNOWN so boost is zero and the S1 fixture's
// keyword/price/region score alone must clear MinScoreForNotification.
type stubOracle struct{}

func (stubOracle) Assess(ctx context.Context, tn model.Tender, f model.Filter) oracle.Assessment {
	return oracle.Assessment{Decision: oracle.DecisionUnknown}
}

type recordingSink struct {
	outcome notify.Outcome
	calls   int
}

func (s *recordingSink) Send(ctx context.Context, sub model.Subscriber, tn model.Tender, report model.ScoreReport) notify.Outcome {
	s.calls++
	return s.outcome
}

func newMockDB(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(mockDB, "sqlmock"), mock
}

// scoreFixture is the known-good S1 scenario from matcher_test.go's
// TestScoreFullMatchAccepts: keyword "ноутбук" in both Keywords and
// PrimaryKeywords, region "Москва", price band 500000-2000000, goods/44-FZ —
// composite score 80, comfortably clear of every pipeline threshold.
func scoreFixture(now time.Time) (model.Filter, model.Tender) {
	f := model.Filter{
		ID:              "F1",
		Keywords:        []string{"ноутбук"},
		PrimaryKeywords: []string{"ноутбук"},
		Regions:         []string{"Москва"},
		PriceMin:        int64Ptr(500000),
		PriceMax:        int64Ptr(2000000),
		TenderTypes:     []model.TenderType{model.TenderGoods},
		LawType:         model.Law44FZ,
		MinDeadlineDays: 5,
	}
	deadline := now.AddDate(0, 0, 10)
	region := "Москва"
	tn := model.Tender{
		ID:              "0372-1",
		Title:           "Поставка ноутбук HP",
		CustomerName:    "ГБУ г. Москва",
		DeclaredPrice:   1200000,
		ProcurementType: model.TenderGoods,
		LawType:         model.Law44FZ,
		PublishedAt:     now.AddDate(0, 0, -2),
		Enriched: &model.EnrichedFields{
			CustomerRegion:     &region,
			SubmissionDeadline: &deadline,
		},
	}
	return f, tn
}

func int64Ptr(v int64) *int64 { return &v }

func testEngine(t *testing.T, quotaDB *sqlx.DB, ledgerDB *sqlx.DB, sink notify.Sink) *Engine {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)
	return New(nil, stubSource{}, stubOracle{}, quota.New(quotaDB, orchestrationCaps), ledger.New(ledgerDB), sink, log,
		Config{
			PreNotifyScore:          30,
			MinScoreForNotification: 35,
			NullRegionPolicy:        model.NullRegionPenalise,
			BreakerFailureThreshold: 5,
			BreakerCooldown:         30 * time.Minute,
		})
}

func expectQuotaUnderCap(mock sqlmock.Sqlmock, subID string, resource quota.Resource, count int) {
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT count, reset_on_local_date FROM quota`).
		WithArgs(subID, string(resource)).
		WillReturnRows(sqlmock.NewRows([]string{"count", "reset_on_local_date"}).AddRow(count, time.Now()))
	mock.ExpectExec(`UPDATE quota SET count`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
}

func expectQuotaOverCap(mock sqlmock.Sqlmock, subID string, resource quota.Resource, count int) {
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT count, reset_on_local_date FROM quota`).
		WithArgs(subID, string(resource)).
		WillReturnRows(sqlmock.NewRows([]string{"count", "reset_on_local_date"}).AddRow(count, time.Now()))
	mock.ExpectCommit()
}

func expectReserveSucceeds(mock sqlmock.Sqlmock, subID, filterID, tenderID string) {
	mock.ExpectQuery(`INSERT INTO delivery`).
		WithArgs(subID, filterID, tenderID, model.DeliveryTentative, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"state"}).AddRow(model.DeliveryTentative))
}

func expectReserveAlreadyDelivered(mock sqlmock.Sqlmock, subID, filterID, tenderID string) {
	mock.ExpectQuery(`INSERT INTO delivery`).
		WithArgs(subID, filterID, tenderID, model.DeliveryTentative, sqlmock.AnyArg()).
		WillReturnError(sql.ErrNoRows)
}

func expectConfirm(mock sqlmock.Sqlmock, subID, filterID, tenderID string) {
	mock.ExpectExec(`UPDATE delivery SET state`).
		WithArgs(model.DeliveryConfirmed, sqlmock.AnyArg(), subID, filterID, tenderID).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

func expectAbandon(mock sqlmock.Sqlmock, subID, filterID, tenderID string) {
	mock.ExpectExec(`DELETE FROM delivery`).
		WithArgs(subID, filterID, tenderID, model.DeliveryTentative).
		WillReturnResult(sqlmock.NewResult(0, 1))
}

// S1 — match & send: quotas clear, breaker closed, sink reports Sent, the
// reservation is confirmed.
func TestProcessTenderMatchAndSend(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	f, tn := scoreFixture(now)
	sub := model.Subscriber{ID: "sub-1", ChatID: "chat-1", Tier: model.TierBasic, TZ: "Europe/Moscow"}

	quotaDB, qMock := newMockDB(t)
	ledgerDB, lMock := newMockDB(t)
	sink := &recordingSink{outcome: notify.Sent}
	e := testEngine(t, quotaDB, ledgerDB, sink)

	expectQuotaUnderCap(qMock, sub.ID, quota.ResourceOracleCalls, 0)
	expectReserveSucceeds(lMock, sub.ID, f.ID, tn.ID)
	expectQuotaUnderCap(qMock, sub.ID, quota.ResourceNotifications, 0)
	expectConfirm(lMock, sub.ID, f.ID, tn.ID)

	mcfg := matcher.Config{NullRegionPolicy: model.NullRegionPenalise, Now: func() time.Time { return now }}
	e.processTender(context.Background(), FilterGroup{Subscriber: sub, Filter: f}, tn, mcfg, logrus.New(), 1)

	assert.Equal(t, 1, sink.calls)
	require.NoError(t, qMock.ExpectationsWereMet())
	require.NoError(t, lMock.ExpectationsWereMet())
}

// S2 — dedup across cycles: the ledger already holds this (subscriber,
// filter, tender) triple, so Reserve reports AlreadyDelivered and the tender
// is never re-sent, never re-charged against the notification quota.
func TestProcessTenderDedupesAlreadyDelivered(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	f, tn := scoreFixture(now)
	sub := model.Subscriber{ID: "sub-2", ChatID: "chat-2", Tier: model.TierBasic, TZ: "Europe/Moscow"}

	quotaDB, qMock := newMockDB(t)
	ledgerDB, lMock := newMockDB(t)
	sink := &recordingSink{outcome: notify.Sent}
	e := testEngine(t, quotaDB, ledgerDB, sink)

	expectQuotaUnderCap(qMock, sub.ID, quota.ResourceOracleCalls, 0)
	expectReserveAlreadyDelivered(lMock, sub.ID, f.ID, tn.ID)

	mcfg := matcher.Config{NullRegionPolicy: model.NullRegionPenalise, Now: func() time.Time { return now }}
	e.processTender(context.Background(), FilterGroup{Subscriber: sub, Filter: f}, tn, mcfg, logrus.New(), 1)

	assert.Equal(t, 0, sink.calls)
	require.NoError(t, qMock.ExpectationsWereMet())
	require.NoError(t, lMock.ExpectationsWereMet())
}

// S5 — quota exhaustion ordering: the reservation succeeds, but the
// notification quota is already exhausted, so the reservation is abandoned
// (retryable next cycle) without ever reaching the breaker or the sink.
func TestProcessTenderAbandonsOnQuotaExhaustion(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	f, tn := scoreFixture(now)
	sub := model.Subscriber{ID: "sub-5", ChatID: "chat-5", Tier: model.TierBasic, TZ: "Europe/Moscow"}

	quotaDB, qMock := newMockDB(t)
	ledgerDB, lMock := newMockDB(t)
	sink := &recordingSink{outcome: notify.Sent}
	e := testEngine(t, quotaDB, ledgerDB, sink)

	expectQuotaUnderCap(qMock, sub.ID, quota.ResourceOracleCalls, 0)
	expectReserveSucceeds(lMock, sub.ID, f.ID, tn.ID)
	expectQuotaOverCap(qMock, sub.ID, quota.ResourceNotifications, orchestrationCaps[model.TierBasic].Notifications)
	expectAbandon(lMock, sub.ID, f.ID, tn.ID)

	mcfg := matcher.Config{NullRegionPolicy: model.NullRegionPenalise, Now: func() time.Time { return now }}
	e.processTender(context.Background(), FilterGroup{Subscriber: sub, Filter: f}, tn, mcfg, logrus.New(), 1)

	assert.Equal(t, 0, sink.calls)
	require.NoError(t, qMock.ExpectationsWereMet())
	require.NoError(t, lMock.ExpectationsWereMet())
}

// S6 — blocked recipient: DeliveryBlocked short-circuits Reserve to
// AlreadyDelivered inside the ledger itself, without any delivery-table
// query, so the sink is never invoked.
func TestProcessTenderBlockedRecipientShortCircuits(t *testing.T) {
	now := time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC)
	f, tn := scoreFixture(now)
	sub := model.Subscriber{ID: "sub-6", ChatID: "chat-6", Tier: model.TierBasic, TZ: "Europe/Moscow", DeliveryBlocked: true}

	quotaDB, qMock := newMockDB(t)
	ledgerDB, lMock := newMockDB(t)
	sink := &recordingSink{outcome: notify.Sent}
	e := testEngine(t, quotaDB, ledgerDB, sink)

	expectQuotaUnderCap(qMock, sub.ID, quota.ResourceOracleCalls, 0)

	mcfg := matcher.Config{NullRegionPolicy: model.NullRegionPenalise, Now: func() time.Time { return now }}
	e.processTender(context.Background(), FilterGroup{Subscriber: sub, Filter: f}, tn, mcfg, logrus.New(), 1)

	assert.Equal(t, 0, sink.calls)
	require.NoError(t, qMock.ExpectationsWereMet())
	require.NoError(t, lMock.ExpectationsWereMet()) // no delivery-table query at all
}
