package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Doer is the part of *http.Client the fetcher needs.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// FetchState is a state of the retry machine.
type FetchState int

const (
	StateAttempting FetchState = iota
	StateBackingOff
	StateSucceeded
	StateExhausted
)

func (s FetchState) String() string {
	switch s {
	case StateAttempting:
		return "attempting"
	case StateBackingOff:
		return "backing_off"
	case StateSucceeded:
		return "succeeded"
	case StateExhausted:
		return "exhausted"
	default:
		return "unknown"
	}
}

// FailureReason classifies a failed attempt. Each reason has its own delay.
type FailureReason string

const (
	ReasonTransport FailureReason = "transport"
	ReasonBlocked   FailureReason = "blocked"
	ReasonMalformed FailureReason = "malformed"
)

// Transition is reported to the observer every time the machine moves.
type Transition struct {
	State      FetchState
	Attempt    int
	Reason     FailureReason
	Delay      time.Duration
	StatusCode int
	Err        error
}

// ExhaustedError is returned when every attempt failed.
type ExhaustedError struct {
	URL        string
	Attempts   int
	LastReason FailureReason
	LastStatus int
	LastErr    error
}

func (e *ExhaustedError) Error() string {
	msg := fmt.Sprintf("fetch %s: exhausted after %d attempts (last: %s", e.URL, e.Attempts, e.LastReason)
	if e.LastStatus != 0 {
		msg += fmt.Sprintf(", status %d", e.LastStatus)
	}
	if e.LastErr != nil {
		msg += ": " + e.LastErr.Error()
	}
	return msg + ")"
}

func (e *ExhaustedError) Unwrap() error { return e.LastErr }

// IsExhausted reports whether err carries an *ExhaustedError.
func IsExhausted(err error) bool {
	var ex *ExhaustedError
	return errors.As(err, &ex)
}

type FetcherConfig struct {
	MaxAttempts       int
	AttemptTimeout    time.Duration
	TransportDelay    time.Duration
	BlockedDelayMin   time.Duration
	BlockedDelayMax   time.Duration
	MalformedDelayMin time.Duration
	MalformedDelayMax time.Duration
}

func DefaultFetcherConfig() FetcherConfig {
	return FetcherConfig{
		MaxAttempts:       10,
		AttemptTimeout:    60 * time.Second,
		TransportDelay:    5 * time.Second,
		BlockedDelayMin:   60 * time.Second,
		BlockedDelayMax:   600 * time.Second,
		MalformedDelayMin: 30 * time.Second,
		MalformedDelayMax: 60 * time.Second,
	}
}

// Fetcher performs one logical GET with bounded, reason-specific retries.
type Fetcher struct {
	client Doer
	cfg    FetcherConfig
	logger *zap.Logger

	// Observer, if set, sees every state transition.
	Observer func(Transition)

	sleep     func(ctx context.Context, d time.Duration) error
	randFloat func() float64
}

func NewFetcher(client Doer, cfg FetcherConfig, logger *zap.Logger) *Fetcher {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 10
	}
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		client:    client,
		cfg:       cfg,
		logger:    logger,
		sleep:     sleepCtx,
		randFloat: rand.Float64,
	}
}

// Fetch GETs url until it answers 200 with a well-formed JSON body, or the
// attempts run out. header is added to every attempt and may be nil.
func (f *Fetcher) Fetch(ctx context.Context, url string, header http.Header) ([]byte, error) {
	var (
		lastReason FailureReason
		lastStatus int
		lastErr    error
	)

	for attempt := 1; attempt <= f.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f.emit(Transition{State: StateAttempting, Attempt: attempt})

		body, status, err := f.attempt(ctx, url, header)
		if err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var reason FailureReason
		var delay time.Duration
		switch {
		case err != nil:
			reason = ReasonTransport
			delay = f.cfg.TransportDelay
			f.logger.Warn("request failed", zap.String("url", url), zap.Int("attempt", attempt), zap.Error(err))
		case status != http.StatusOK:
			reason = ReasonBlocked
			delay = f.uniform(f.cfg.BlockedDelayMin, f.cfg.BlockedDelayMax)
			err = eris.Errorf("unexpected status %d", status)
			f.logger.Warn("non-200 response", zap.String("url", url), zap.Int("attempt", attempt), zap.Int("status", status))
		case !json.Valid(body):
			reason = ReasonMalformed
			delay = f.uniform(f.cfg.MalformedDelayMin, f.cfg.MalformedDelayMax)
			err = eris.New("response body is not JSON")
			f.logger.Warn("200 response without JSON body",
				zap.String("url", url),
				zap.Int("attempt", attempt),
				zap.String("head", prefix(body, 100)),
			)
		default:
			f.logger.Debug("json received", zap.String("url", url), zap.Int("attempt", attempt))
			f.emit(Transition{State: StateSucceeded, Attempt: attempt, StatusCode: status})
			return body, nil
		}

		lastReason, lastStatus, lastErr = reason, status, err

		if attempt == f.cfg.MaxAttempts {
			break
		}

		f.emit(Transition{State: StateBackingOff, Attempt: attempt, Reason: reason, Delay: delay, StatusCode: status, Err: err})
		if err := f.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	exhausted := &ExhaustedError{
		URL:        url,
		Attempts:   f.cfg.MaxAttempts,
		LastReason: lastReason,
		LastStatus: lastStatus,
		LastErr:    lastErr,
	}
	f.emit(Transition{State: StateExhausted, Attempt: f.cfg.MaxAttempts, Reason: lastReason, StatusCode: lastStatus, Err: lastErr})
	f.logger.Error("fetch exhausted", zap.String("url", url), zap.Int("attempts", f.cfg.MaxAttempts), zap.String("reason", string(lastReason)))
	return nil, exhausted
}

func (f *Fetcher) attempt(ctx context.Context, url string, header http.Header) ([]byte, int, error) {
	ctx, cancel := context.WithTimeout(ctx, f.cfg.AttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, eris.Wrap(err, "build request")
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, eris.Wrap(err, "read body")
	}
	f.logger.Debug("response received", zap.Int("status", resp.StatusCode), zap.Int("bytes", len(body)))
	return body, resp.StatusCode, nil
}

func (f *Fetcher) uniform(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(f.randFloat()*float64(hi-lo))
}

func (f *Fetcher) emit(t Transition) {
	if f.Observer != nil {
		f.Observer(t)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func prefix(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
