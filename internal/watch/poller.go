// Package watch drives the incremental poll loop. It turns the vendor's
// paginated, rate-limited query API into an ordered, duplicate-free
// stream of alert events: list new ids since the watermark, fetch, sort
// by creation time, filter, then deliver to the sink and the local
// store before advancing the watermark.
package watch

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/Mercury0/talon/internal/domain"
	"github.com/Mercury0/talon/internal/falcon"
	"github.com/Mercury0/talon/internal/metrics"
	"github.com/Mercury0/talon/internal/sink"
	"github.com/Mercury0/talon/internal/store"
)

const (
	defaultPollInterval = 30 * time.Second
	defaultLookback     = 60 * time.Minute

	// backoffInterval is how long the poller pauses after a transport
	// failure before resuming polling.
	backoffInterval = 5 * time.Second
)

// AlertSource is the slice of the vendor client the poller depends on.
type AlertSource interface {
	// QueryNewAlertIDs returns the full ids of alerts created strictly
	// after since, ascending by creation time.
	QueryNewAlertIDs(ctx context.Context, since string) ([]string, error)

	// FetchAlerts returns the full records for the given ids. Order is
	// not guaranteed to match the input.
	FetchAlerts(ctx context.Context, ids []string) ([]domain.Alert, error)
}

// Summary reports what a finished watch session delivered.
type Summary struct {
	// NewAlerts is the number of records accepted during the session.
	NewAlerts int

	// Since is the final watermark.
	Since string

	// Duration is how long the session ran.
	Duration time.Duration
}

// Poller runs the watch loop for one session. It is driven by a single
// goroutine; all mutable session state stays inside Run.
type Poller struct {
	source     AlertSource
	alertStore store.AlertStore
	out        sink.Sink
	filter     *domain.AlertFilter
	stats      *domain.AlertStats
	interval   time.Duration
	lookback   time.Duration
	logger     *slog.Logger

	// Injectable clock and sleeper for tests.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPoller creates a poller. A nil filter accepts every record.
func NewPoller(
	source AlertSource,
	alertStore store.AlertStore,
	out sink.Sink,
	filter *domain.AlertFilter,
	stats *domain.AlertStats,
	interval time.Duration,
	lookback time.Duration,
	logger *slog.Logger,
) *Poller {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if lookback <= 0 {
		lookback = defaultLookback
	}
	if stats == nil {
		stats = domain.NewAlertStats()
	}
	return &Poller{
		source:     source,
		alertStore: alertStore,
		out:        out,
		filter:     filter,
		stats:      stats,
		interval:   interval,
		lookback:   lookback,
		logger:     logger,
		now:        time.Now,
		sleep:      sleepCtx,
	}
}

// Run drives the poll loop until ctx is cancelled, then returns the
// session summary. Transport failures back off and resume; credential
// failures end the session with the error.
func (p *Poller) Run(ctx context.Context) (Summary, error) {
	started := p.now()
	session := NewSession(domain.FQLTime(started.Add(-p.lookback)), started)

	p.logger.Info("watch session starting",
		"since", session.Since,
		"pollInterval", p.interval.String(),
		"lookback", p.lookback.String(),
	)

	var runErr error
	for ctx.Err() == nil {
		accepted, err := p.iterate(ctx, session)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			metrics.PollErrorsTotal.Inc()

			var authErr *falcon.AuthError
			if errors.As(err, &authErr) {
				p.logger.Error("credentials rejected, stopping watch", "error", err)
				runErr = err
				break
			}

			p.logger.Error("poll iteration failed, backing off",
				"error", err,
				"backoff", backoffInterval.String(),
			)
			if p.sleep(ctx, backoffInterval) != nil {
				break
			}
			continue
		}

		if accepted > 0 {
			p.logger.Info("poll iteration delivered alerts",
				"accepted", accepted,
				"since", session.Since,
			)
		} else {
			p.logger.Debug("poll iteration found nothing new", "since", session.Since)
		}

		if p.sleep(ctx, p.interval) != nil {
			break
		}
	}

	summary := Summary{
		NewAlerts: session.NewCount,
		Since:     session.Since,
		Duration:  p.now().Sub(session.Started),
	}
	p.logger.Info("watch session stopped",
		"newAlerts", summary.NewAlerts,
		"since", summary.Since,
		"duration", summary.Duration.String(),
	)
	return summary, runErr
}

// iterate runs one polling step: list, dedup, fetch, re-sort, deliver,
// advance the watermark.
func (p *Poller) iterate(ctx context.Context, session *Session) (int, error) {
	start := time.Now()
	metrics.PollIterationsTotal.Inc()
	defer func() {
		metrics.PollLatency.Observe(time.Since(start).Seconds())
	}()

	ids, err := p.source.QueryNewAlertIDs(ctx, session.Since)
	if err != nil {
		return 0, err
	}

	// First dedup layer: drop ids already delivered. Pagination
	// boundaries and retries can re-list an id; the query filter alone
	// does not protect against that.
	fresh := make([]string, 0, len(ids))
	for _, id := range ids {
		if session.HasSeen(domain.DisplayID(id)) {
			metrics.AlertsDedupedTotal.Inc()
			continue
		}
		fresh = append(fresh, id)
	}
	if len(fresh) == 0 {
		return 0, nil
	}

	records, err := p.source.FetchAlerts(ctx, fresh)
	if err != nil {
		return 0, err
	}

	// Fetch order is not guaranteed to match query order. The watermark
	// depends on ascending creation order, so re-sort before delivery.
	sort.SliceStable(records, func(i, j int) bool {
		return records[i].BestCreated() < records[j].BestCreated()
	})

	accepted := 0
	var highWater string
	for _, rec := range records {
		displayID := rec.DisplayID()

		// Second dedup layer.
		if session.HasSeen(displayID) {
			metrics.AlertsDedupedTotal.Inc()
			continue
		}

		// Rejected records are not marked seen.
		if !p.filter.Matches(rec) {
			metrics.AlertsFilteredTotal.Inc()
			continue
		}

		p.stats.Add(rec)

		if err := p.out.Emit(ctx, rec, displayID); err != nil {
			p.logger.Warn("sink emit failed",
				"displayID", displayID,
				"error", err,
			)
		}

		// A failed cache write must not cost live visibility: log it
		// and keep the record in the stream.
		wasNew, err := p.alertStore.Upsert(ctx, rec, displayID, rec.ID())
		if err != nil {
			p.logger.Error("failed to cache alert",
				"displayID", displayID,
				"error", err,
			)
		} else {
			p.logger.Debug("cached alert", "displayID", displayID, "new", wasNew)
		}

		session.MarkSeen(displayID)
		session.NewCount++
		accepted++

		product := rec.Product()
		if product == "" {
			product = "unknown"
		}
		metrics.AlertsAcceptedTotal.WithLabelValues(product).Inc()

		if created := rec.BestCreated(); created > highWater {
			highWater = created
		}
	}

	// The watermark advances only from accepted records and never moves
	// backward, even when a record's best timestamp predates it.
	if highWater > session.Since {
		session.Since = highWater
		if t, perr := domain.ParseFQLTime(highWater); perr == nil {
			metrics.WatermarkSeconds.Set(float64(t.Unix()))
		}
	}

	return accepted, nil
}

// sleepCtx sleeps for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
