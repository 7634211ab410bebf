package scraper

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/playwright-community/playwright-go"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Browser renders pages in a real browser.
type Browser interface {
	Open(ctx context.Context, url string) (Tab, error)
	Close() error
}

// Tab is one rendered page.
type Tab interface {
	Content() (string, error)
	Close() error
}

// PlaywrightBrowser drives a persistent Chromium profile. It is started
// lazily on the first Open.
type PlaywrightBrowser struct {
	headless    bool
	userDataDir string
	logger      *zap.Logger

	mu          sync.Mutex
	pw          *playwright.Playwright
	context     playwright.BrowserContext
	initialized bool
}

func NewPlaywrightBrowser(headless bool, userDataDir string, logger *zap.Logger) *PlaywrightBrowser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PlaywrightBrowser{
		headless:    headless,
		userDataDir: userDataDir,
		logger:      logger,
	}
}

func (b *PlaywrightBrowser) ensureBrowser() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.initialized {
		return nil
	}

	var err error
	b.pw, err = playwright.Run()
	if err != nil {
		return eris.Wrap(err, "failed to start playwright")
	}

	dir := b.userDataDir
	if !filepath.IsAbs(dir) {
		cwd, _ := os.Getwd()
		dir = filepath.Join(cwd, dir)
	}
	b.context, err = b.pw.Chromium.LaunchPersistentContext(dir, playwright.BrowserTypeLaunchPersistentContextOptions{
		Headless: playwright.Bool(b.headless),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		b.pw.Stop()
		return eris.Wrap(err, "failed to launch browser")
	}

	b.initialized = true
	return nil
}

func (b *PlaywrightBrowser) Open(ctx context.Context, url string) (Tab, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := b.ensureBrowser(); err != nil {
		return nil, err
	}

	page, err := b.context.NewPage()
	if err != nil {
		return nil, eris.Wrap(err, "failed to create page")
	}

	b.logger.Debug("navigating", zap.String("url", url))
	_, err = page.Goto(url, playwright.PageGotoOptions{
		Timeout:   playwright.Float(60000),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	})
	if err != nil {
		// A challenge interstitial often breaks navigation; the gate decides.
		b.logger.Warn("navigation error (continuing)", zap.String("url", url), zap.Error(err))
	}

	return &playwrightTab{page: page}, nil
}

func (b *PlaywrightBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.initialized {
		return nil
	}
	var errs []error
	if b.context != nil {
		if err := b.context.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if b.pw != nil {
		if err := b.pw.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	b.initialized = false
	if len(errs) > 0 {
		return eris.Wrapf(errs[0], "close browser")
	}
	return nil
}

type playwrightTab struct {
	page playwright.Page
}

func (t *playwrightTab) Content() (string, error) {
	return t.page.Content()
}

func (t *playwrightTab) Close() error {
	return t.page.Close()
}
