package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/qetzal/snapcourier/internal/archive"
	"github.com/qetzal/snapcourier/internal/capture"
	"github.com/qetzal/snapcourier/internal/deliver"
	"github.com/qetzal/snapcourier/internal/enrich"
	"github.com/qetzal/snapcourier/internal/session"
)

// --- mocks ---

type mockCapturer struct {
	mu    sync.Mutex
	seq   int
	grabs []time.Time
	fail  func(seq int) bool // next grab (1-based) fails when true
}

func (m *mockCapturer) Grab() (*capture.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	next := len(m.grabs) + 1
	m.grabs = append(m.grabs, time.Now())
	if m.fail != nil && m.fail(next) {
		return nil, capture.ErrNoDisplay
	}
	m.seq++
	return &capture.Record{Seq: m.seq, Timestamp: time.Now(), Data: []byte("x"), Size: 1}, nil
}

func (m *mockCapturer) grabTimes() []time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]time.Time(nil), m.grabs...)
}

type mockEnricher struct {
	loc enrich.LocationInfo
}

func (m *mockEnricher) Location(ctx context.Context) enrich.LocationInfo { return m.loc }
func (m *mockEnricher) System() enrich.SystemInfo                        { return enrich.SystemInfo{OS: "linux"} }

type mockArchiver struct {
	mu    sync.Mutex
	puts  int
	err   error
}

func (m *mockArchiver) Put(rec *capture.Record) (archive.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	if m.err != nil {
		return archive.Entry{}, m.err
	}
	return archive.Entry{Path: "p", Seq: rec.Seq}, nil
}

func (m *mockArchiver) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}

type mockDeliverer struct {
	mu       sync.Mutex
	calls    int
	lastLoc  enrich.LocationInfo
	delay    time.Duration
	failWith error
}

func (m *mockDeliverer) Deliver(ctx context.Context, rec *capture.Record, loc enrich.LocationInfo, sys enrich.SystemInfo) (deliver.Result, error) {
	m.mu.Lock()
	m.calls++
	m.lastLoc = loc
	m.mu.Unlock()
	if m.delay > 0 {
		select {
		case <-ctx.Done():
		case <-time.After(m.delay):
		}
	}
	if m.failWith != nil {
		return deliver.Result{State: deliver.StateAbandoned, Attempts: 1}, m.failWith
	}
	return deliver.Result{State: deliver.StateSucceeded, Attempts: 1}, nil
}

func (m *mockDeliverer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func newRunner(c *mockCapturer, a *mockArchiver, d *mockDeliverer, interval time.Duration, maxCaptures int) *Runner {
	r := &Runner{
		Capturer:    c,
		Enricher:    &mockEnricher{loc: enrich.LocationInfo{Resolved: true, City: "Lisbon"}},
		Deliverer:   d,
		Tracker:     session.NewTracker(nil),
		Interval:    interval,
		MaxCaptures: maxCaptures,
	}
	if a != nil {
		r.Archiver = a
	}
	return r
}

// --- tests ---

func TestRunStopsAtMaxCaptures(t *testing.T) {
	c := &mockCapturer{}
	a := &mockArchiver{}
	d := &mockDeliverer{}
	r := newRunner(c, a, d, 5*time.Millisecond, 3)

	st, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if got := len(c.grabTimes()); got != 3 {
		t.Errorf("capture attempts = %d, want exactly 3", got)
	}
	if st.Attempted != 3 || st.Delivered != 3 || st.Failed != 0 || st.Archived != 3 {
		t.Errorf("final state = %+v", st)
	}
	if st.EndedAt.IsZero() {
		t.Error("session not flushed")
	}
}

func TestRunTickSpacingNoDrift(t *testing.T) {
	const interval = 60 * time.Millisecond
	c := &mockCapturer{}
	d := &mockDeliverer{delay: 20 * time.Millisecond} // processing < interval
	r := newRunner(c, nil, d, interval, 4)

	start := time.Now()
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	elapsed := time.Since(start)

	// Interval is measured from tick start: total ≈ (N-1) × interval even
	// though each tick burns 20ms of processing.
	min := 3 * interval
	max := 3*interval + 100*time.Millisecond
	if elapsed < min || elapsed > max {
		t.Errorf("elapsed = %v, want within [%v, %v]", elapsed, min, max)
	}

	times := c.grabTimes()
	for i := 1; i < len(times); i++ {
		gap := times[i].Sub(times[i-1])
		if gap < interval-5*time.Millisecond {
			t.Errorf("tick %d fired after %v, before the interval elapsed", i+1, gap)
		}
	}
}

func TestRunOverrunFiresNextTickImmediately(t *testing.T) {
	const interval = 10 * time.Millisecond
	c := &mockCapturer{}
	d := &mockDeliverer{delay: 50 * time.Millisecond} // processing > interval
	r := newRunner(c, nil, d, interval, 3)

	start := time.Now()
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	elapsed := time.Since(start)

	// No interval sleeps should be added on top of the overrunning ticks.
	if elapsed > 3*50*time.Millisecond+40*time.Millisecond {
		t.Errorf("elapsed = %v, overrun ticks appear to wait the full interval anyway", elapsed)
	}
	if got := len(c.grabTimes()); got != 3 {
		t.Errorf("ticks = %d, want exactly 3 (no double-fire)", got)
	}
}

func TestRunHonorsStartDelay(t *testing.T) {
	c := &mockCapturer{}
	d := &mockDeliverer{}
	r := newRunner(c, nil, d, time.Millisecond, 1)
	r.StartDelay = 50 * time.Millisecond

	start := time.Now()
	if _, err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	times := c.grabTimes()
	if len(times) != 1 {
		t.Fatalf("ticks = %d, want 1", len(times))
	}
	if d := times[0].Sub(start); d < 50*time.Millisecond {
		t.Errorf("first tick after %v, want >= start delay", d)
	}
}

func TestCaptureFailureSkipsTickButNotSession(t *testing.T) {
	c := &mockCapturer{fail: func(n int) bool { return n == 2 }}
	a := &mockArchiver{}
	d := &mockDeliverer{}
	r := newRunner(c, a, d, time.Millisecond, 3)

	st, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if st.Attempted != 3 {
		t.Errorf("Attempted = %d, want 3", st.Attempted)
	}
	if st.Delivered != 2 || st.Archived != 2 {
		t.Errorf("Delivered/Archived = %d/%d, want 2/2 (failed tick skipped both)", st.Delivered, st.Archived)
	}
	if d.count() != 2 || a.count() != 2 {
		t.Errorf("deliver/archive calls = %d/%d, want 2/2", d.count(), a.count())
	}
	if st.Failed != 0 {
		t.Errorf("Failed = %d, want 0 (capture failure is not a delivery failure)", st.Failed)
	}
}

func TestDeliveryFailureCountsFailedAndContinues(t *testing.T) {
	c := &mockCapturer{}
	a := &mockArchiver{}
	d := &mockDeliverer{failWith: errors.New("exhausted")}
	r := newRunner(c, a, d, time.Millisecond, 2)

	st, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if st.Attempted != 2 || st.Failed != 2 || st.Delivered != 0 {
		t.Errorf("state = %+v, want 2 attempted, 2 failed", st)
	}
	// Archive is independent of delivery failure.
	if st.Archived != 2 {
		t.Errorf("Archived = %d, want 2", st.Archived)
	}
}

func TestArchiveFailureDoesNotBlockDelivery(t *testing.T) {
	c := &mockCapturer{}
	a := &mockArchiver{err: errors.New("disk full")}
	d := &mockDeliverer{}
	r := newRunner(c, a, d, time.Millisecond, 2)

	st, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.Delivered != 2 || st.Archived != 0 {
		t.Errorf("state = %+v, want deliveries despite archive failures", st)
	}
}

func TestUnresolvedLocationStillDelivers(t *testing.T) {
	c := &mockCapturer{}
	d := &mockDeliverer{}
	r := newRunner(c, nil, d, time.Millisecond, 1)
	r.Enricher = &mockEnricher{loc: enrich.Unresolved("all providers timed out")}

	st, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.Delivered != 1 {
		t.Errorf("Delivered = %d, want 1", st.Delivered)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.lastLoc.Resolved {
		t.Error("deliverer received a resolved location")
	}
	if d.lastLoc.FailReason == "" {
		t.Error("unresolved sentinel lost its failure reason")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	c := &mockCapturer{}
	d := &mockDeliverer{}
	r := newRunner(c, nil, d, time.Hour, 0) // unbounded, long interval

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan session.State, 1)
	go func() {
		st, _ := r.Run(ctx)
		done <- st
	}()

	// Let the first tick complete, then cancel during the inter-tick wait.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case st := <-done:
		if st.Attempted != 1 {
			t.Errorf("Attempted = %d, want 1 before cancel", st.Attempted)
		}
		if st.EndedAt.IsZero() {
			t.Error("session not flushed on cancel")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRunZeroMaxRunsUntilStopped(t *testing.T) {
	c := &mockCapturer{}
	d := &mockDeliverer{}
	r := newRunner(c, nil, d, time.Millisecond, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	st, err := r.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if st.Attempted < 5 {
		t.Errorf("Attempted = %d, expected many ticks before external stop", st.Attempted)
	}
}
