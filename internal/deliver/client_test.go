package deliver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/qetzal/snapcourier/internal/capture"
	"github.com/qetzal/snapcourier/internal/enrich"
)

func testRecord() *capture.Record {
	return &capture.Record{
		Seq:       2,
		Timestamp: time.Date(2026, 8, 29, 10, 5, 0, 0, time.UTC),
		Data:      []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10},
		Size:      6,
	}
}

func testLocation() enrich.LocationInfo {
	return enrich.LocationInfo{
		Resolved: true,
		City:     "Lisbon", Country: "Portugal",
		Latitude: 38.7223, Longitude: -9.1393,
		ISP: "MEO", IP: "188.81.1.1",
	}
}

func fastSchedule(maxAttempts int) Schedule {
	return Schedule{Base: time.Millisecond, Cap: 10 * time.Millisecond, MaxAttempts: maxAttempts}
}

func TestDeliverSuccessBuildsMultipartMessage(t *testing.T) {
	var (
		mu          sync.Mutex
		gotFilename string
		gotFileType string
		gotFile     []byte
		gotPayload  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parsing multipart: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		mu.Lock()
		defer mu.Unlock()
		f, hdr, err := r.FormFile("file")
		if err != nil {
			t.Errorf("file part missing: %v", err)
		} else {
			gotFilename = hdr.Filename
			gotFileType = hdr.Header.Get("Content-Type")
			gotFile, _ = io.ReadAll(f)
			f.Close()
		}
		gotPayload = r.FormValue("payload_json")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "20260829_100000", 15158332, fastSchedule(3))
	res, err := c.Deliver(context.Background(), testRecord(), testLocation(), enrich.SystemInfo{Hostname: "box", OS: "linux", Arch: "amd64"})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if !res.Delivered() || res.Attempts != 1 {
		t.Fatalf("res = %+v, want delivered in 1 attempt", res)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotFilename != "auto_20260829_100000_000002.jpg" {
		t.Errorf("attachment filename = %q", gotFilename)
	}
	if gotFileType != "image/jpeg" {
		t.Errorf("attachment content type = %q", gotFileType)
	}
	if len(gotFile) != 6 {
		t.Errorf("attachment bytes = %d, want 6", len(gotFile))
	}

	var body payload
	if err := json.Unmarshal([]byte(gotPayload), &body); err != nil {
		t.Fatalf("payload_json invalid: %v", err)
	}
	if len(body.Embeds) != 1 {
		t.Fatalf("embeds = %d, want 1", len(body.Embeds))
	}
	e := body.Embeds[0]
	if e.Color != 15158332 {
		t.Errorf("embed color = %d", e.Color)
	}
	if !strings.Contains(e.Footer.Text, "Capture #2") {
		t.Errorf("footer = %q", e.Footer.Text)
	}
	var locField string
	for _, f := range e.Fields {
		if f.Name == "Location" {
			locField = f.Value
		}
	}
	if !strings.Contains(locField, "Lisbon, Portugal") ||
		!strings.Contains(locField, "||188.81.1.1||") ||
		!strings.Contains(locField, "maps.google.com") {
		t.Errorf("location field = %q", locField)
	}
}

func TestDeliverRetriesTransientThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sess", 0, fastSchedule(5))
	res, err := c.Deliver(context.Background(), testRecord(), enrich.Unresolved("x"), enrich.SystemInfo{})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if res.State != StateSucceeded || res.Attempts != 3 {
		t.Errorf("res = %+v, want success on attempt 3", res)
	}
}

func TestDeliverHonorsRetryAfter(t *testing.T) {
	var (
		mu    sync.Mutex
		times []time.Time
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		times = append(times, time.Now())
		n := len(times)
		mu.Unlock()
		if n == 1 {
			w.Header().Set("Retry-After", "0.2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	// Exponential base is tiny so an observed 200ms gap can only come from
	// the endpoint-provided Retry-After.
	c := NewClient(srv.URL, "sess", 0, fastSchedule(3))
	res, err := c.Deliver(context.Background(), testRecord(), enrich.Unresolved("x"), enrich.SystemInfo{})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if res.State != StateSucceeded {
		t.Fatalf("res = %+v, want delivered after rate limit", res)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(times) != 2 {
		t.Fatalf("webhook called %d times, want 2", len(times))
	}
	if gap := times[1].Sub(times[0]); gap < 200*time.Millisecond {
		t.Errorf("retry gap = %v, want >= 200ms from Retry-After", gap)
	}
}

func TestDeliverAbandonsNonTransientImmediately(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sess", 0, fastSchedule(5))
	res, err := c.Deliver(context.Background(), testRecord(), enrich.Unresolved("x"), enrich.SystemInfo{})
	if err == nil {
		t.Fatal("expected error for non-transient rejection")
	}
	if res.State != StateAbandoned || res.Attempts != 1 {
		t.Errorf("res = %+v, want abandoned after 1 attempt", res)
	}
	if calls.Load() != 1 {
		t.Errorf("webhook called %d times, want 1", calls.Load())
	}
}

func TestDeliverExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "sess", 0, fastSchedule(3))
	res, err := c.Deliver(context.Background(), testRecord(), enrich.Unresolved("x"), enrich.SystemInfo{})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if res.State != StateAbandoned || res.Attempts != 3 {
		t.Errorf("res = %+v, want abandoned after 3 attempts", res)
	}
	if calls.Load() != 3 {
		t.Errorf("webhook called %d times, want 3", calls.Load())
	}
}

func TestDeliverStopsOnContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient(srv.URL, "sess", 0, Schedule{Base: time.Minute, Cap: time.Minute, MaxAttempts: 5})
	start := time.Now()
	res, err := c.Deliver(ctx, testRecord(), enrich.Unresolved("x"), enrich.SystemInfo{})
	if err == nil {
		t.Fatal("expected error on cancelled context")
	}
	if res.State != StateAbandoned {
		t.Errorf("State = %v, want abandoned", res.State)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("cancelled delivery did not return promptly")
	}
}

func TestUnresolvedLocationRendersUnknown(t *testing.T) {
	field := locationField(enrich.Unresolved("all providers timed out"))
	if !strings.Contains(field, "Unknown") || !strings.Contains(field, "all providers timed out") {
		t.Errorf("locationField = %q", field)
	}
}
