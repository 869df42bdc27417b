package decision

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"noema/internal/llm"
)

const visionTimeout = 8 * time.Second

// VisionResult is the last background vision analysis the Decision Engine
// produced. It is read, never awaited, by the *next* Decide call.
type VisionResult struct {
	Description string
	CreatedAt   time.Time
}

// dispatchVisionAnalysis launches a background analysis of screenshotPath
// and stores the result for the next Decide call to pick up.
//
// Fire-and-forget is a deliberate freshness/latency trade-off: the Decide
// hot path must never block on vision, so each call sees the previous
// screenshot's analysis. Do not change this to an awaited call; that would
// cap decision throughput at vision latency.
func (e *Engine) dispatchVisionAnalysis(screenshotPath, domContext string) {
	if e.visionProvider == nil || screenshotPath == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), visionTimeout)
		defer cancel()
		desc, err := e.analyzeScreenshot(ctx, screenshotPath, domContext)
		if err != nil {
			log.Warn().Err(err).Str("screenshot", screenshotPath).Msg("decision engine: background vision analysis failed")
			return
		}
		e.lastVision.Store(&VisionResult{Description: desc, CreatedAt: time.Now().UTC()})
	}()
}

// analyzeScreenshot asks the vision model to describe the page state. The
// shared llm.Message shape used by every Provider in this repository has no
// input-image transport wired on any concrete client (only output images are
// adapted), so this grounds the description in the DOM context captured
// alongside the screenshot rather than the image bytes themselves; the
// screenshot path is still recorded on the Action's artifacts for a human
// or a future multimodal-capable client to consult directly.
func (e *Engine) analyzeScreenshot(ctx context.Context, screenshotPath, domContext string) (string, error) {
	msgs := []llm.Message{
		{Role: "system", Content: "You describe the likely visual state of a web page under test from its DOM snapshot, in one or two sentences, for a QA agent's next decision."},
		{Role: "user", Content: fmt.Sprintf("Screenshot saved at %s. DOM context:\n%s", screenshotPath, domContext)},
	}
	resp, err := e.visionProvider.Chat(ctx, msgs, e.visionModel)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func loadVision(p *atomic.Pointer[VisionResult]) string {
	v := p.Load()
	if v == nil {
		return ""
	}
	return v.Description
}
