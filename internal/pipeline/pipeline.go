// Package pipeline implements PipelineEngine (spec §4.9): the single
// coordinator that drives one poll cycle across every active filter,
// dispatching I/O-bound work onto bounded worker pools.
package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dataparency-dev/tenderwatch/internal/boundedpool"
	"github.com/dataparency-dev/tenderwatch/internal/breaker"
	"github.com/dataparency-dev/tenderwatch/internal/feed"
	"github.com/dataparency-dev/tenderwatch/internal/ledger"
	"github.com/dataparency-dev/tenderwatch/internal/matcher"
	"github.com/dataparency-dev/tenderwatch/internal/model"
	"github.com/dataparency-dev/tenderwatch/internal/notify"
	"github.com/dataparency-dev/tenderwatch/internal/obslog"
	"github.com/dataparency-dev/tenderwatch/internal/oracle"
	"github.com/dataparency-dev/tenderwatch/internal/pipelineerr"
	"github.com/dataparency-dev/tenderwatch/internal/quota"
)

// State is one of the engine's lifecycle states (spec §4.9).
type State int32

const (
	StateIdle State = iota
	StatePolling
	StateDraining
	StateStopping
)

func (s State) String() string {
	switch s {
	case StatePolling:
		return "polling"
	case StateDraining:
		return "draining"
	case StateStopping:
		return "stopping"
	default:
		return "idle"
	}
}

// FilterGroup pairs a filter with its owning subscriber, the unit the engine
// enumerates and dispatches per cycle.
type FilterGroup struct {
	Subscriber model.Subscriber
	Filter     model.Filter
}

// Directory supplies the set of active filters for a cycle (spec §4.9 step 1:
// "enumerate all active filters (not soft-deleted)"). Implemented by whatever
// owns the subscriber/filter tables; this package does not prescribe storage.
type Directory interface {
	ActiveFilterGroups(ctx context.Context) ([]FilterGroup, error)
}

// Config holds the tunables of spec §4.9/§5 that the engine itself consults.
type Config struct {
	PollInterval            time.Duration
	FiltersInFlight         int
	EnrichmentsPerFilter    int
	EnrichmentsGlobal       int
	MaxCandidatesPerFilter  int
	PreScoreThreshold       int
	PreNotifyScore          int
	MinScoreForNotification int
	ArchiveGuardDays        int
	ReservationMaxAge       time.Duration
	NullRegionPolicy        model.NullRegionPolicy

	// BreakerFailureThreshold is the count of consecutive send failures
	// (Transient or Permanent) for one subscriber before the pipeline stops
	// attempting further sends to them until BreakerCooldown elapses.
	BreakerFailureThreshold int
	BreakerCooldown         time.Duration
}

// Engine is the PipelineEngine orchestrator.
type Engine struct {
	dir     Directory
	feed    feed.Source
	oracle  oracle.Oracle
	quota   *quota.Gate
	ledger  *ledger.Ledger
	sink    notify.Sink
	breaker *breaker.Registry
	log     logrus.FieldLogger
	cfg     Config
	filterQuery func(model.Filter) feed.Query

	// globalEnrich caps concurrent enrichment fetches across every filter in
	// a cycle (spec §5's "16 enrichments globally"), independent of and
	// tighter than the per-filter EnrichmentsPerFilter pools.
	globalEnrich chan struct{}

	state   atomic.Int32
	cycleSeq atomic.Int64
	now     func() time.Time
}

// New builds an Engine wiring every collaborator.
func New(dir Directory, fs feed.Source, orc oracle.Oracle, qg *quota.Gate, dl *ledger.Ledger, sink notify.Sink, log logrus.FieldLogger, cfg Config) *Engine {
	threshold := cfg.BreakerFailureThreshold
	if threshold <= 0 {
		threshold = 5
	}
	cooldown := cfg.BreakerCooldown
	if cooldown <= 0 {
		cooldown = 30 * time.Minute
	}
	globalEnrich := cfg.EnrichmentsGlobal
	if globalEnrich <= 0 {
		globalEnrich = 16
	}
	if cfg.ReservationMaxAge <= 0 {
		cfg.ReservationMaxAge = cfg.PollInterval
	}
	e := &Engine{
		dir: dir, feed: fs, oracle: orc, quota: qg, ledger: dl, sink: sink,
		breaker:      breaker.New(threshold, cooldown),
		globalEnrich: make(chan struct{}, globalEnrich),
		log: log, cfg: cfg, now: time.Now,
	}
	e.filterQuery = func(f model.Filter) feed.Query {
		var hint model.TenderType
		if len(f.TenderTypes) == 1 {
			hint = f.TenderTypes[0]
		}
		return feed.Query{
			Keywords: f.Keywords,
			PriceMin: f.PriceMin,
			PriceMax: f.PriceMax,
			LawType:  f.LawType,
			TypeHint: hint,
		}
	}
	e.state.Store(int32(StateIdle))
	return e
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() State { return State(e.state.Load()) }

// Stop requests the engine transition to Stopping from any state; Run
// observes this between cycles and at filter-group boundaries within one.
func (e *Engine) Stop() { e.state.Store(int32(StateStopping)) }

func (e *Engine) stopping() bool { return e.State() == StateStopping }

// Run drives cycles until ctx is cancelled or Stop is called. Cycle cadence
// is measured end-to-start (spec §4.9 "never start-to-start"): the sleep
// timer starts only once Draining completes.
func (e *Engine) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil || e.stopping() {
			e.state.Store(int32(StateStopping))
			return
		}
		e.runCycle(ctx)
		if e.stopping() {
			return
		}
		e.state.Store(int32(StateIdle))

		select {
		case <-ctx.Done():
			return
		case <-time.After(e.cfg.PollInterval):
		}
	}
}

// RunOnce drives exactly one cycle and returns, for the --once CLI mode.
func (e *Engine) RunOnce(ctx context.Context) {
	e.runCycle(ctx)
	e.state.Store(int32(StateIdle))
}

func (e *Engine) runCycle(ctx context.Context) {
	seq := e.cycleSeq.Add(1)
	log := obslog.WithCycle(e.log, seq)

	e.state.Store(int32(StatePolling))
	groups, err := e.dir.ActiveFilterGroups(ctx)
	if err != nil {
		log.WithError(err).Error("failed to enumerate active filters, skipping cycle")
		return
	}

	pool := boundedpool.New(maxInt(e.cfg.FiltersInFlight, 1))
	var wg sync.WaitGroup
	for _, g := range groups {
		g := g
		wg.Add(1)
		err := pool.Go(ctx, func() {
			defer wg.Done()
			e.processFilter(ctx, g, log, seq)
		})
		if err != nil {
			wg.Done()
			break
		}
		if e.stopping() {
			break
		}
	}
	wg.Wait()

	e.state.Store(int32(StateDraining))
	e.sweepExpiredReservations(ctx, log)
}

// sweepExpiredReservations implements spec §7's "Tentative-row expiry"
// maintenance task: reservations left in state=tentative by a crash strictly
// between reserve and send are swept so the triple becomes retryable again,
// instead of permanently suppressing that tender.
func (e *Engine) sweepExpiredReservations(ctx context.Context, log logrus.FieldLogger) {
	n, err := e.ledger.SweepExpiredReservations(ctx, e.cfg.ReservationMaxAge)
	if err != nil {
		log.WithError(err).Warn("tentative reservation sweep failed")
		return
	}
	if n > 0 {
		log.WithField("swept", n).Info("swept expired tentative reservations")
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// processFilter implements spec §4.9 steps 2a-2i for one (subscriber,
// filter) pair. Candidates are pre-scored in feed order, but those that pass
// run processTender concurrently, up to EnrichmentsPerFilter at a time, so
// notifications within one filter are not guaranteed to follow feed order.
func (e *Engine) processFilter(ctx context.Context, g FilterGroup, log logrus.FieldLogger, seq int64) {
	flog := obslog.WithFilter(log, g.Filter.ID, g.Subscriber.ID)

	cur := e.feed.Poll(ctx, e.filterQuery(g.Filter))
	archiveCutoff := e.now().AddDate(0, 0, -e.cfg.ArchiveGuardDays)

	enrichPool := boundedpool.New(maxInt(e.cfg.EnrichmentsPerFilter, 1))
	var wg sync.WaitGroup
	processed := 0

	for cur.Next() {
		if e.stopping() || ctx.Err() != nil {
			break
		}
		if e.cfg.MaxCandidatesPerFilter > 0 && processed >= e.cfg.MaxCandidatesPerFilter {
			break
		}
		processed++
		tn := cur.Tender()

		if tn.PublishedAt.Before(archiveCutoff) {
			continue
		}

		mcfg := matcher.Config{NullRegionPolicy: e.cfg.NullRegionPolicy, Now: e.now}
		pre := matcher.Score(tn, g.Filter, matcher.StagePre, mcfg)
		if pre.Classification == model.ClassReject || pre.Score < e.cfg.PreScoreThreshold {
			continue
		}

		wg.Add(1)
		tn := tn
		_ = enrichPool.Go(ctx, func() {
			defer wg.Done()
			e.processTender(ctx, g, tn, mcfg, obslog.WithTender(flog, tn.ID), seq)
		})
	}
	wg.Wait()
	if err := cur.Err(); err != nil {
		if pipelineerr.Is(err, pipelineerr.KindTransientExternal) {
			flog.WithError(err).Warn("feed poll ended with a transient error, retrying next cycle")
		} else {
			flog.WithError(err).Error("feed poll ended with an unclassified error, retrying next cycle")
		}
	}
}

// processTender runs the remainder of spec §4.9's per-tender sequence:
// enrich → full-score → oracle → composite → reserve → quiet-hours →
// notification quota → send → confirm.
func (e *Engine) processTender(ctx context.Context, g FilterGroup, tn model.Tender, mcfg matcher.Config, tlog logrus.FieldLogger, seq int64) {
	select {
	case e.globalEnrich <- struct{}{}:
	case <-ctx.Done():
		return
	}
	enriched := e.feed.Enrich(ctx, tn)
	<-e.globalEnrich

	full := matcher.Score(enriched, g.Filter, matcher.StageFull, mcfg)
	if full.Classification == model.ClassReject || full.Score < e.cfg.PreNotifyScore {
		return
	}

	boost := 0
	oracleOK, err := e.quota.TryConsume(ctx, g.Subscriber, quota.ResourceOracleCalls, 1)
	if err != nil {
		tlog.WithError(err).Warn("oracle quota check failed, treating as exhausted for this tender")
		e.escalateIfFatal(err, tlog)
	} else if oracleOK {
		assessment := e.oracle.Assess(ctx, enriched, g.Filter)
		boost = assessment.Boost()
		if assessment.Confidence != nil {
			c := *assessment.Confidence
			full.OracleConfidence = &c
		}
	}

	composite := full.Score + boost
	if composite > 100 {
		composite = 100
	}
	full.Score = composite
	if composite < e.cfg.MinScoreForNotification {
		return
	}

	outcome, err := e.ledger.Reserve(ctx, g.Subscriber, g.Filter.ID, enriched.ID)
	if err != nil {
		tlog.WithError(err).Error("reservation failed")
		e.escalateIfFatal(err, tlog)
		return
	}
	if outcome == ledger.AlreadyDelivered {
		return
	}

	if inQuietHours(g.Subscriber, e.now()) {
		if err := e.ledger.Abandon(ctx, g.Subscriber.ID, g.Filter.ID, enriched.ID, ledger.CauseQuietHours); err != nil {
			tlog.WithError(err).Warn("failed to abandon reservation deferred for quiet hours")
			e.escalateIfFatal(err, tlog)
		}
		return
	}

	// Notification quota is charged here, before the breaker/send attempt
	// below — spec §4.9's step ordering puts quota ahead of delivery, so a
	// subsequent breaker-open or Transient outcome abandons the reservation
	// without refunding the unit already consumed.
	notifyOK, err := e.quota.TryConsume(ctx, g.Subscriber, quota.ResourceNotifications, 1)
	if err != nil {
		tlog.WithError(err).Warn("notification quota check failed")
		e.escalateIfFatal(err, tlog)
	}
	if err != nil || !notifyOK {
		if err := e.ledger.Abandon(ctx, g.Subscriber.ID, g.Filter.ID, enriched.ID, ledger.CauseQuota); err != nil {
			tlog.WithError(err).Warn("failed to abandon reservation deferred for quota")
			e.escalateIfFatal(err, tlog)
		}
		return
	}

	if !e.breaker.Allow(g.Subscriber.ID) {
		if err := e.ledger.Abandon(ctx, g.Subscriber.ID, g.Filter.ID, enriched.ID, ledger.CauseSinkError); err != nil {
			tlog.WithError(err).Warn("failed to abandon reservation while breaker open")
			e.escalateIfFatal(err, tlog)
		}
		return
	}

	switch e.sink.Send(ctx, g.Subscriber, enriched, full) {
	case notify.Sent:
		e.breaker.RecordSuccess(g.Subscriber.ID)
		if err := e.ledger.Confirm(ctx, g.Subscriber.ID, g.Filter.ID, enriched.ID); err != nil {
			tlog.WithError(err).Error("confirm failed after successful send")
			e.escalateIfFatal(err, tlog)
		}
	case notify.Transient:
		if e.breaker.RecordFailure(g.Subscriber.ID) {
			tlog.Warn("delivery breaker tripped after repeated transient failures")
		}
		if err := e.ledger.Abandon(ctx, g.Subscriber.ID, g.Filter.ID, enriched.ID, ledger.CauseSinkError); err != nil {
			tlog.WithError(err).Warn("failed to abandon reservation after transient sink failure")
			e.escalateIfFatal(err, tlog)
		}
	case notify.Permanent:
		e.breaker.RecordFailure(g.Subscriber.ID)
		if err := e.ledger.MarkBlocked(ctx, g.Subscriber.ID); err != nil {
			tlog.WithError(err).Error("failed to mark subscriber blocked after permanent sink failure")
			e.escalateIfFatal(err, tlog)
		}
	}
}

// escalateIfFatal implements spec §7's propagation policy for the Fatal
// kind: loss of the persistent backend stops the engine instead of limping
// along re-attempting writes every tender for the rest of the cycle.
func (e *Engine) escalateIfFatal(err error, log logrus.FieldLogger) {
	if pipelineerr.Is(err, pipelineerr.KindFatal) {
		log.Error("fatal persistent-backend error, stopping engine")
		e.Stop()
	}
}

// inQuietHours evaluates the subscriber's quiet-hours window in their own
// IANA zone (spec §5), including the common wrap-around case (e.g. 22:00-09:00).
func inQuietHours(sub model.Subscriber, now time.Time) bool {
	if sub.QuietStart == "" || sub.QuietEnd == "" {
		return false
	}
	start, ok1 := parseClock(sub.QuietStart)
	end, ok2 := parseClock(sub.QuietEnd)
	if !ok1 || !ok2 {
		return false
	}

	local := now.In(sub.Location())
	cur := local.Hour()*60 + local.Minute()

	if start <= end {
		return cur >= start && cur < end
	}
	// Window wraps past midnight.
	return cur >= start || cur < end
}

func parseClock(hhmm string) (minutes int, ok bool) {
	if len(hhmm) != 5 || hhmm[2] != ':' {
		return 0, false
	}
	h := int(hhmm[0]-'0')*10 + int(hhmm[1]-'0')
	m := int(hhmm[3]-'0')*10 + int(hhmm[4]-'0')
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}
