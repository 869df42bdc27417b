package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	kb "github.com/chromedp/chromedp/kb"
)

// Navigate loads url in this session's tab and waits for the document body
// to be ready.
func (s *Session) Navigate(ctx context.Context, url string) error {
	if err := chromedp.Run(ctx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return fmt.Errorf("navigate: %w", err)
	}
	return nil
}

// Click clicks the element matching selector.
func (s *Session) Click(ctx context.Context, selector string) error {
	if err := chromedp.Run(ctx, chromedp.Click(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("click %s: %w", selector, err)
	}
	return nil
}

// Fill clears and types value into the element matching selector.
func (s *Session) Fill(ctx context.Context, selector, value string) error {
	if err := chromedp.Run(ctx,
		chromedp.WaitReady(selector, chromedp.ByQuery),
		chromedp.SetValue(selector, "", chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("fill %s: %w", selector, err)
	}
	return nil
}

// Submit submits the form matching selector by sending Enter, avoiding a
// dependency on a submit button existing within the selector.
func (s *Session) Submit(ctx context.Context, selector string) error {
	if err := chromedp.Run(ctx, chromedp.SendKeys(selector, kb.Enter, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("submit %s: %w", selector, err)
	}
	return nil
}

// CheckVisible reports whether the element matching selector is visible.
func (s *Session) CheckVisible(ctx context.Context, selector string) (bool, error) {
	var visible bool
	err := chromedp.Run(ctx, chromedp.EvaluateAsDevTools(fmt.Sprintf(
		`(() => { const el = document.querySelector(%q); if (!el) return false; const r = el.getBoundingClientRect(); const st = getComputedStyle(el); return r.width > 0 && r.height > 0 && st.visibility !== "hidden" && st.display !== "none"; })()`,
		selector), &visible))
	if err != nil {
		return false, fmt.Errorf("check visible %s: %w", selector, err)
	}
	return visible, nil
}

// WaitForNetworkIdle waits up to budget for no new HTTP responses to arrive,
// sampling the session's count of all received responses as a proxy for
// activity since chromedp exposes no direct "idle" primitive.
func (s *Session) WaitForNetworkIdle(ctx context.Context, budget time.Duration) error {
	deadline := time.Now().Add(budget)
	const quiet = 500 * time.Millisecond
	lastCount := s.responseCount()
	lastChange := time.Now()
	for time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
		n := s.responseCount()
		if n != lastCount {
			lastCount = n
			lastChange = time.Now()
			continue
		}
		if time.Since(lastChange) >= quiet {
			return nil
		}
	}
	return nil
}

func (s *Session) responseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalResponses
}
