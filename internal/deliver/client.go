// Package deliver transmits enriched captures to the webhook endpoint with
// bounded retry, exponential backoff, and rate-limit respect.
package deliver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"time"

	"github.com/qetzal/snapcourier/internal/capture"
	"github.com/qetzal/snapcourier/internal/enrich"
)

const requestTimeout = 30 * time.Second

// DefaultSchedule bounds retry behavior when the caller doesn't configure it.
var DefaultSchedule = Schedule{Base: 2 * time.Second, Cap: 60 * time.Second, MaxAttempts: 5}

// Client posts one multipart message (image attachment + structured embed)
// per delivery attempt. All failure handling is internal: the pipeline only
// sees a terminal Result.
type Client struct {
	url        string
	sessionID  string
	embedColor int
	schedule   Schedule
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a delivery client for the given webhook URL.
func NewClient(url, sessionID string, embedColor int, schedule Schedule) *Client {
	if schedule.MaxAttempts < 1 {
		schedule = DefaultSchedule
	}
	return &Client{
		url:        url,
		sessionID:  sessionID,
		embedColor: embedColor,
		schedule:   schedule,
		httpClient: &http.Client{Timeout: requestTimeout},
		logger:     slog.Default(),
	}
}

// Deliver runs the retry state machine for one record:
//
//	Pending -> Succeeded                  on 2xx
//	Pending -> Retrying(k, delay)         on 5xx/network error (exponential)
//	                                      or 429 (endpoint Retry-After verbatim)
//	Retrying -> ...                       until MaxAttempts
//	Pending|Retrying -> Abandoned         on other 4xx, ctx cancel, exhaustion
//
// The error return is non-nil only for abandoned deliveries; the pipeline
// records it and moves on.
func (c *Client) Deliver(ctx context.Context, rec *capture.Record, loc enrich.LocationInfo, sys enrich.SystemInfo) (Result, error) {
	att := Attempt{Seq: rec.Seq, State: StatePending}

	for att.Attempts < c.schedule.MaxAttempts {
		att.Attempts++

		status, header, err := c.post(ctx, rec, loc, sys)
		att.LastStatus = status
		att.LastErr = err

		var class Class
		switch {
		case err != nil:
			class = ClassTransient
		default:
			class = classifyStatus(status)
		}

		switch class {
		case ClassSuccess:
			att.State = StateSucceeded
			return Result{State: StateSucceeded, Attempts: att.Attempts, Status: status}, nil

		case ClassNonTransient:
			att.State = StateAbandoned
			return Result{State: StateAbandoned, Attempts: att.Attempts, Status: status},
				fmt.Errorf("webhook rejected delivery of capture %d: HTTP %d", rec.Seq, status)

		case ClassRateLimited:
			att.NextDelay = retryAfter(header, time.Now())
			if att.NextDelay <= 0 {
				att.NextDelay = c.schedule.Wait(att.Attempts)
			}

		case ClassTransient:
			att.NextDelay = c.schedule.Wait(att.Attempts)
		}

		if att.Attempts >= c.schedule.MaxAttempts {
			break
		}

		att.State = StateRetrying
		c.logger.Warn("delivery attempt failed, backing off",
			"seq", rec.Seq,
			"attempt", att.Attempts,
			"status", status,
			"error", err,
			"wait", att.NextDelay,
		)

		select {
		case <-ctx.Done():
			att.State = StateAbandoned
			return Result{State: StateAbandoned, Attempts: att.Attempts, Status: status}, ctx.Err()
		case <-time.After(att.NextDelay):
		}
	}

	att.State = StateAbandoned
	return Result{State: StateAbandoned, Attempts: att.Attempts, Status: att.LastStatus},
		fmt.Errorf("delivery of capture %d exhausted %d attempts: status=%d err=%v",
			rec.Seq, att.Attempts, att.LastStatus, att.LastErr)
}

func (c *Client) post(ctx context.Context, rec *capture.Record, loc enrich.LocationInfo, sys enrich.SystemInfo) (int, http.Header, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	header := textproto.MIMEHeader{}
	header.Set("Content-Disposition",
		fmt.Sprintf(`form-data; name="file"; filename="%s"`, rec.Filename(c.sessionID)))
	header.Set("Content-Type", "image/jpeg")
	part, err := w.CreatePart(header)
	if err != nil {
		return 0, nil, fmt.Errorf("building attachment part: %w", err)
	}
	if _, err := part.Write(rec.Data); err != nil {
		return 0, nil, fmt.Errorf("writing attachment: %w", err)
	}

	body := buildPayload(rec, loc, sys, c.sessionID, c.embedColor)
	payloadJSON, err := json.Marshal(body)
	if err != nil {
		return 0, nil, fmt.Errorf("marshaling payload: %w", err)
	}
	if err := w.WriteField("payload_json", string(payloadJSON)); err != nil {
		return 0, nil, fmt.Errorf("writing payload_json: %w", err)
	}
	if err := w.Close(); err != nil {
		return 0, nil, fmt.Errorf("finalizing multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, &buf)
	if err != nil {
		return 0, nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	return resp.StatusCode, resp.Header, nil
}
