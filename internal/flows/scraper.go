// Package flows extracts review-flow names from the shared design file
// using headless Chrome. The scraper is optional: without a Chrome binary
// agenda items simply keep their ticket titles.
package flows

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

var ErrChromeMissing = errors.New("chromium not installed")

type Scraper struct {
	fileURL string
	timeout time.Duration
}

func NewScraper(fileURL string) *Scraper {
	return &Scraper{fileURL: fileURL, timeout: 45 * time.Second}
}

// FlowNames loads the design file and collects the flow names rendered in
// its prototype panel. Names come back in document order, deduplicated.
func (s *Scraper) FlowNames(ctx context.Context) ([]string, error) {
	taskCtx, cancel, err := s.newTaskContext(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	var names []string
	err = chromedp.Run(taskCtx,
		chromedp.Navigate(s.fileURL),
		chromedp.WaitReady("body"),
		chromedp.Evaluate(`Array.from(document.querySelectorAll('[data-flow-name], [data-testid="flow-row"] span'))
			.map(el => (el.getAttribute('data-flow-name') || el.textContent || '').trim())
			.filter(name => name.length > 0)`, &names),
	)
	if err != nil {
		return nil, fmt.Errorf("scrape flow names: %w", err)
	}

	seen := make(map[string]struct{}, len(names))
	var unique []string
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		unique = append(unique, name)
	}
	return unique, nil
}

// Snapshot captures a full-page screenshot of the design file, attached to
// the closing minutes.
func (s *Scraper) Snapshot(ctx context.Context) ([]byte, error) {
	taskCtx, cancel, err := s.newTaskContext(ctx)
	if err != nil {
		return nil, err
	}
	defer cancel()

	var shot []byte
	err = chromedp.Run(taskCtx,
		chromedp.Navigate(s.fileURL),
		chromedp.WaitReady("body"),
		chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			shot, err = page.CaptureScreenshot().
				WithFormat(page.CaptureScreenshotFormatPng).
				WithCaptureBeyondViewport(true).
				Do(ctx)
			return err
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("capture design snapshot: %w", err)
	}
	return shot, nil
}

func (s *Scraper) newTaskContext(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if _, err := exec.LookPath("chromium-browser"); err != nil {
		if _, fallbackErr := exec.LookPath("chromium"); fallbackErr != nil {
			return nil, nil, ErrChromeMissing
		}
	}

	ctx, cancelTimeout := context.WithTimeout(ctx, s.timeout)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	taskCtx, cancelTask := chromedp.NewContext(allocCtx)

	cancel := func() {
		cancelTask()
		cancelAlloc()
		cancelTimeout()
	}
	return taskCtx, cancel, nil
}
