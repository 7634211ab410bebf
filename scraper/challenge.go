package scraper

import (
	"context"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// ErrAnchorMissing is returned when a rendered page never exposed its data
// anchor, typically because an anti-bot challenge was not cleared in time.
var ErrAnchorMissing = eris.New("data anchor not found in rendered page")

type GateResult int

const (
	GateResolved GateResult = iota
	GateTimedOut
)

func (r GateResult) String() string {
	if r == GateResolved {
		return "resolved"
	}
	return "timed_out"
}

// Probe reports whether the awaited condition holds. Errors are logged and
// treated as "not yet".
type Probe func(ctx context.Context) (bool, error)

// ChallengeGate waits for an external party (a human, a solver) to clear a
// challenge. It never interacts with the challenge itself.
type ChallengeGate struct {
	timeout time.Duration
	poll    time.Duration
	logger  *zap.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewChallengeGate(timeout, poll time.Duration, logger *zap.Logger) *ChallengeGate {
	if poll <= 0 {
		poll = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChallengeGate{
		timeout: timeout,
		poll:    poll,
		logger:  logger,
		now:     time.Now,
		sleep:   sleepCtx,
	}
}

// Wait polls probe every poll interval until it succeeds or the timeout
// elapses. The only error returned is the context's.
func (g *ChallengeGate) Wait(ctx context.Context, probe Probe) (GateResult, error) {
	deadline := g.now().Add(g.timeout)
	announced := false

	for {
		ok, err := probe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return GateTimedOut, ctx.Err()
			}
			g.logger.Debug("challenge probe failed", zap.Error(err))
		}
		if ok {
			if announced {
				g.logger.Info("challenge cleared")
			}
			return GateResolved, nil
		}

		if !g.now().Before(deadline) {
			g.logger.Warn("challenge wait timed out", zap.Duration("timeout", g.timeout))
			return GateTimedOut, nil
		}
		if !announced {
			g.logger.Warn("waiting for challenge to be cleared",
				zap.Duration("timeout", g.timeout),
				zap.Duration("poll", g.poll),
			)
			announced = true
		}

		if err := g.sleep(ctx, g.poll); err != nil {
			return GateTimedOut, err
		}
	}
}

// ExtractAnchor returns the text of <script id="anchorID"> from html.
func ExtractAnchor(html, anchorID string) (string, bool) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", false
	}
	sel := doc.Find("script#" + anchorID).First()
	if sel.Length() == 0 {
		return "", false
	}
	text := strings.TrimSpace(sel.Text())
	return text, text != ""
}

// DetectChallenge returns the marker that identifies html as a bot
// challenge page, or "".
func DetectChallenge(html string) string {
	triggers := []string{
		"Are you for real",
		"shieldsquare",
		"captcha",
		"Request unsuccessful. Incapsula",
		"Access Denied",
		"This request was blocked",
	}
	lower := strings.ToLower(html)
	for _, t := range triggers {
		if strings.Contains(lower, strings.ToLower(t)) {
			return t
		}
	}
	return ""
}

// waitForAnchor renders the tab content until the anchor appears. On timeout
// it probes once more before giving up with ErrAnchorMissing.
func waitForAnchor(ctx context.Context, gate *ChallengeGate, tab Tab, anchorID string, logger *zap.Logger) (string, error) {
	var anchor string
	probe := func(ctx context.Context) (bool, error) {
		html, err := tab.Content()
		if err != nil {
			return false, err
		}
		if text, ok := ExtractAnchor(html, anchorID); ok {
			anchor = text
			return true, nil
		}
		if trigger := DetectChallenge(html); trigger != "" {
			logger.Debug("challenge page detected", zap.String("trigger", trigger))
		}
		return false, nil
	}

	result, err := gate.Wait(ctx, probe)
	if err != nil {
		return "", err
	}
	if result == GateTimedOut {
		if ok, _ := probe(ctx); !ok {
			return "", ErrAnchorMissing
		}
	}
	return anchor, nil
}
