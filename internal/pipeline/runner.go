// Package pipeline drives the capture-enrich-deliver cycle: a single control
// loop ticks on a fixed cadence, runs the stages in order, and isolates each
// stage's failures so no external dependency can take the session down.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/qetzal/snapcourier/internal/archive"
	"github.com/qetzal/snapcourier/internal/capture"
	"github.com/qetzal/snapcourier/internal/deliver"
	"github.com/qetzal/snapcourier/internal/enrich"
	"github.com/qetzal/snapcourier/internal/session"
)

// Capturer produces one frame per call.
type Capturer interface {
	Grab() (*capture.Record, error)
}

// Enricher attaches location and system metadata. Location never fails; it
// degrades to the unresolved sentinel.
type Enricher interface {
	Location(ctx context.Context) enrich.LocationInfo
	System() enrich.SystemInfo
}

// Archiver persists one capture locally.
type Archiver interface {
	Put(rec *capture.Record) (archive.Entry, error)
}

// Deliverer transmits one enriched capture, handling its own retries.
type Deliverer interface {
	Deliver(ctx context.Context, rec *capture.Record, loc enrich.LocationInfo, sys enrich.SystemInfo) (deliver.Result, error)
}

// Runner composes the pipeline stages. Components are owned by the runner
// for the duration of the run; only the Tracker is read concurrently (by the
// status endpoint), and it synchronizes itself.
type Runner struct {
	Capturer  Capturer
	Enricher  Enricher
	Archiver  Archiver // nil disables local archiving
	Deliverer Deliverer
	Tracker   *session.Tracker

	Interval    time.Duration
	StartDelay  time.Duration
	MaxCaptures int // 0 = unbounded

	Logger *slog.Logger
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

// Run executes the session until MaxCaptures is reached or ctx is cancelled.
// Cancellation is observed at scheduling boundaries only, never mid-capture.
// Ticks are spaced Interval apart measured from each tick's start, so
// pipeline latency does not accumulate drift; a tick that overruns the
// interval makes the next one fire immediately (no double-fire). The final
// session state is flushed exactly once semantically (Flush is idempotent).
func (r *Runner) Run(ctx context.Context) (session.State, error) {
	log := r.logger()

	if r.StartDelay > 0 {
		log.Info("waiting before first capture", "delay", r.StartDelay)
		select {
		case <-ctx.Done():
			return r.Tracker.Flush()
		case <-time.After(r.StartDelay):
		}
	}

	for {
		tickStart := time.Now()
		r.RunTick(ctx)

		if r.MaxCaptures > 0 && r.Tracker.Snapshot().Attempted >= r.MaxCaptures {
			log.Info("reached maximum captures, stopping", "max", r.MaxCaptures)
			break
		}

		wait := r.Interval - time.Since(tickStart)
		if wait < 0 {
			log.Debug("tick overran interval", "overrun", -wait)
			wait = 0
		}

		select {
		case <-ctx.Done():
			log.Info("stop requested, flushing session")
			return r.Tracker.Flush()
		case <-time.After(wait):
		}
	}

	return r.Tracker.Flush()
}

// RunTick executes one capture-enrich-deliver cycle. Stage failures are
// contained: a capture failure skips the rest of the tick (there is nothing
// to act on); enrichment degrades to unresolved; archive and delivery each
// fail independently. Archive and delivery run in parallel and both
// complete before the tick is accounted.
func (r *Runner) RunTick(ctx context.Context) session.Outcome {
	log := r.logger()

	rec, err := r.Capturer.Grab()
	if err != nil {
		log.Error("capture failed, skipping tick", "error", err)
		out := session.Outcome{}
		r.Tracker.Record(out)
		return out
	}
	log.Debug("captured frame", "seq", rec.Seq, "bytes", rec.Size, "took", rec.Duration)

	loc := r.Enricher.Location(ctx)
	if loc.Resolved {
		log.Debug("location resolved", "city", loc.City, "country", loc.Country, "provider", loc.Provider)
	}
	sys := r.Enricher.System()

	var archived, delivered bool
	g, gctx := errgroup.WithContext(ctx)
	if r.Archiver != nil {
		g.Go(func() error {
			entry, err := r.Archiver.Put(rec)
			if err != nil {
				log.Error("archive failed", "seq", rec.Seq, "error", err)
				return nil
			}
			archived = true
			log.Debug("archived capture", "path", entry.Path)
			return nil
		})
	}
	g.Go(func() error {
		res, err := r.Deliverer.Deliver(gctx, rec, loc, sys)
		if err != nil {
			log.Error("delivery failed", "seq", rec.Seq, "attempts", res.Attempts, "error", err)
			return nil
		}
		delivered = res.Delivered()
		log.Info("delivered capture", "seq", rec.Seq, "attempts", res.Attempts)
		return nil
	})
	g.Wait()

	out := session.Outcome{Captured: true, Archived: archived, Delivered: delivered}
	r.Tracker.Record(out)

	if st := r.Tracker.Snapshot(); st.Attempted%10 == 0 {
		log.Info("progress",
			"attempted", st.Attempted,
			"delivered", st.Delivered,
			"failed", st.Failed,
			"archived", st.Archived,
		)
	}
	return out
}
