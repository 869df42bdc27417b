// Package browser owns headless-Chrome Browser Sessions: one per run,
// exposing atomic actions, DOM snapshots, screenshot/video capture, and
// accumulated console/network logs.
package browser

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog/log"

	"noema/internal/domain"
)

// NetworkError records one HTTP response with status >= 400.
type NetworkError struct {
	URL       string    `json:"url"`
	Status    int64     `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Session owns a single headless Chrome tab for the duration of one run.
// Lifecycle: Initialize -> (actions) -> Close. Close writes the video
// manifest and then cancels the browser under a fixed 5s timeout, so the
// browser shutdown never hangs.
type Session struct {
	RunID string

	allocCtx      context.Context
	cancelAlloc   context.CancelFunc
	browserCtx    context.Context
	cancelBrowser context.CancelFunc

	evidenceDir string
	shotCounter int

	mu             sync.Mutex
	consoleLogs    []string
	pageErrors     []string
	networkErrors  []NetworkError
	totalResponses int
	closed         bool
	videoPath      string
	frames         []videoFrame
}

// videoFrame is one recorded screenshot, in capture order, used to assemble
// the session's video manifest at Close time. A run's "video" is a JSON
// manifest of its frame screenshots in sequence rather than an encoded media
// file; a consumer that wants to play it back walks the frame list in order.
type videoFrame struct {
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
}

// Manager holds one Session per run id, reused across the run's lifetime.
type Manager struct {
	evidenceDir string
	mu          sync.Mutex
	sessions    map[string]*Session
}

// NewManager constructs a Manager that writes evidence under evidenceDir.
func NewManager(evidenceDir string) *Manager {
	return &Manager{evidenceDir: evidenceDir, sessions: map[string]*Session{}}
}

// Get returns the existing session for runID, or nil if none exists.
func (m *Manager) Get(runID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[runID]
	return s, ok
}

// Initialize creates and stores a new Session for runID.
func (m *Manager) Initialize(ctx context.Context, runID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[runID]; ok {
		return s, nil
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
	)
	if p := os.Getenv("CHROME_PATH"); p != "" {
		opts = append(opts, chromedp.ExecPath(p))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	evidenceDir := filepath.Join(m.evidenceDir, runID)
	if err := os.MkdirAll(filepath.Join(evidenceDir, "screenshots"), 0o755); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("create evidence dir: %w", err)
	}
	if err := os.MkdirAll(filepath.Join(evidenceDir, "videos"), 0o755); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("create evidence dir: %w", err)
	}

	s := &Session{
		RunID:         runID,
		allocCtx:      allocCtx,
		cancelAlloc:   cancelAlloc,
		browserCtx:    browserCtx,
		cancelBrowser: cancelBrowser,
		evidenceDir:   evidenceDir,
	}

	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("start browser: %w", err)
	}

	s.listen()
	m.sessions[runID] = s
	return s, nil
}

// Close finalises runID's session (closing the browser, within a 5s hard
// timeout) and removes it from the manager.
func (m *Manager) Close(runID string) {
	m.mu.Lock()
	s, ok := m.sessions[runID]
	if ok {
		delete(m.sessions, runID)
	}
	m.mu.Unlock()
	if ok {
		s.Close()
	}
}

func (s *Session) listen() {
	chromedp.ListenTarget(s.browserCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *runtime.EventConsoleAPICalled:
			var parts []string
			for _, arg := range e.Args {
				if arg.Value != nil {
					parts = append(parts, string(arg.Value))
				} else if arg.Description != "" {
					parts = append(parts, arg.Description)
				}
			}
			msg := strings.Join(parts, " ")
			s.mu.Lock()
			s.consoleLogs = append(s.consoleLogs, fmt.Sprintf("[%s] %s", e.Type, msg))
			s.mu.Unlock()
		case *runtime.EventExceptionThrown:
			s.mu.Lock()
			s.pageErrors = append(s.pageErrors, e.ExceptionDetails.Text)
			s.mu.Unlock()
		case *page.EventJavascriptDialogOpening:
			s.mu.Lock()
			s.pageErrors = append(s.pageErrors, e.Message)
			s.mu.Unlock()
		case *network.EventResponseReceived:
			s.mu.Lock()
			s.totalResponses++
			if e.Response.Status >= 400 {
				s.networkErrors = append(s.networkErrors, NetworkError{
					URL:       e.Response.URL,
					Status:    e.Response.Status,
					Timestamp: time.Now().UTC(),
				})
			}
			s.mu.Unlock()
		}
	})
}

// GetPage returns the browser-scoped context used to run chromedp actions
// against this session's tab.
func (s *Session) GetPage() context.Context { return s.browserCtx }

// Close shuts the browser down, with a hard 5s timeout so it never hangs.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.finalizeVideo()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = chromedp.Cancel(s.browserCtx)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		log.Warn().Str("run_id", s.RunID).Msg("browser session: close timed out, forcing cancellation")
	}
	s.cancelBrowser()
	s.cancelAlloc()
}

// GetConsoleLogs returns accumulated console messages, optionally clearing
// the accumulator.
func (s *Session) GetConsoleLogs(clear bool) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]string(nil), s.consoleLogs...)
	if clear {
		s.consoleLogs = nil
	}
	return out
}

// GetNetworkErrors returns accumulated HTTP responses with status >= 400,
// optionally clearing the accumulator.
func (s *Session) GetNetworkErrors(clear bool) []NetworkError {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]NetworkError(nil), s.networkErrors...)
	if clear {
		s.networkErrors = nil
	}
	return out
}

// GetPageErrors returns accumulated JS exceptions and dialog messages,
// optionally clearing the accumulator.
func (s *Session) GetPageErrors(clear bool) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := append([]string(nil), s.pageErrors...)
	if clear {
		s.pageErrors = nil
	}
	return out
}

// NetworkErrorStrings renders NetworkError entries as "STATUS URL" for
// embedding in domain.ActionArtifacts.NetworkErrors.
func NetworkErrorStrings(errs []NetworkError) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, fmt.Sprintf("%d %s", e.Status, e.URL))
	}
	return out
}

// TakeScreenshot captures a PNG, writing it under the session's evidence
// directory with a monotonic per-run filename, and returns the file path.
func (s *Session) TakeScreenshot(ctx context.Context, fullPage bool, selector string) (string, error) {
	var buf []byte
	var err error
	if selector != "" {
		err = chromedp.Run(ctx, chromedp.Screenshot(selector, &buf, chromedp.ByQuery))
	} else if fullPage {
		err = chromedp.Run(ctx, chromedp.FullScreenshot(&buf, 90))
	} else {
		err = chromedp.Run(ctx, chromedp.CaptureScreenshot(&buf))
	}
	if err != nil {
		return "", fmt.Errorf("screenshot: %w", err)
	}

	s.mu.Lock()
	s.shotCounter++
	n := s.shotCounter
	s.mu.Unlock()

	name := fmt.Sprintf("shot-%04d.png", n)
	path := filepath.Join(s.evidenceDir, "screenshots", name)
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		return "", fmt.Errorf("write screenshot: %w", err)
	}

	s.mu.Lock()
	s.frames = append(s.frames, videoFrame{Path: path, Timestamp: time.Now().UTC()})
	s.mu.Unlock()

	return path, nil
}

// GetVideoPath returns the path to the session's video manifest, valid only
// after Close has finalised it.
func (s *Session) GetVideoPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.videoPath
}

// finalizeVideo writes the frame manifest under evidenceDir/videos and
// records its path on the session. Called from Close before the browser is
// cancelled; it does only a marshal and one file write, outside the 5s
// cancellation timeout.
func (s *Session) finalizeVideo() {
	s.mu.Lock()
	frames := append([]videoFrame(nil), s.frames...)
	s.mu.Unlock()

	path := filepath.Join(s.evidenceDir, "videos", "session.json")
	data, err := json.MarshalIndent(struct {
		RunID  string       `json:"run_id"`
		Frames []videoFrame `json:"frames"`
	}{RunID: s.RunID, Frames: frames}, "", "  ")
	if err != nil {
		log.Warn().Err(err).Str("run_id", s.RunID).Msg("browser session: failed to marshal video manifest")
		return
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		log.Warn().Err(err).Str("run_id", s.RunID).Msg("browser session: failed to write video manifest")
		return
	}

	s.mu.Lock()
	s.videoPath = path
	s.mu.Unlock()
}

// ExtractPageDOM runs a bundled JS snapshot script and returns a bounded
// structured view of the page.
func (s *Session) ExtractPageDOM(ctx context.Context) (*domain.DOMSnapshot, error) {
	var raw map[string]any
	if err := chromedp.Run(ctx, chromedp.Evaluate(domSnapshotScript, &raw)); err != nil {
		return nil, fmt.Errorf("extract dom: %w", err)
	}
	return parseDOMSnapshot(raw), nil
}
