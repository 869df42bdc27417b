package decision

import (
	"context"
	"fmt"
	"sync"
	"time"

	"noema/internal/browser"
	"noema/internal/domain"
)

// ExecResult captures the artifacts produced while executing one Action,
// before an outcome's success/duration are attached by the caller.
type ExecResult struct {
	Screenshots   []string
	NetworkErrors []string
	Visible       bool
}

// Executor runs one atomic action type against a Browser Session.
type Executor func(ctx context.Context, session *browser.Session, action domain.Action) (ExecResult, error)

// Registry is a thread-safe executor map keyed by the atomic action types.
type Registry struct {
	mu        sync.RWMutex
	executors map[domain.ActionType]Executor
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{executors: map[domain.ActionType]Executor{}}
}

// Register installs fn as the executor for actionType, overwriting any
// previous registration.
func (r *Registry) Register(actionType domain.ActionType, fn Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[actionType] = fn
}

// Get returns the executor registered for actionType.
func (r *Registry) Get(actionType domain.ActionType) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.executors[actionType]
	return fn, ok
}

// DefaultRegistry wires the eight atomic action types onto a browser.Session.
// All are deterministic and reversible.
func DefaultRegistry() *Registry {
	r := NewRegistry()

	r.Register(domain.ActionNoOp, func(ctx context.Context, session *browser.Session, action domain.Action) (ExecResult, error) {
		return ExecResult{}, nil
	})

	r.Register(domain.ActionNavigateToURL, func(ctx context.Context, session *browser.Session, action domain.Action) (ExecResult, error) {
		if err := session.Navigate(ctx, action.Value.Raw); err != nil {
			return ExecResult{}, err
		}
		return ExecResult{}, nil
	})

	r.Register(domain.ActionClickElement, func(ctx context.Context, session *browser.Session, action domain.Action) (ExecResult, error) {
		if err := session.Click(ctx, action.Selector); err != nil {
			return ExecResult{}, err
		}
		return ExecResult{}, nil
	})

	r.Register(domain.ActionFillInput, func(ctx context.Context, session *browser.Session, action domain.Action) (ExecResult, error) {
		if err := session.Fill(ctx, action.Selector, action.Value.Raw); err != nil {
			return ExecResult{}, err
		}
		return ExecResult{}, nil
	})

	r.Register(domain.ActionSubmitForm, func(ctx context.Context, session *browser.Session, action domain.Action) (ExecResult, error) {
		if err := session.Submit(ctx, action.Selector); err != nil {
			return ExecResult{}, err
		}
		return ExecResult{}, nil
	})

	r.Register(domain.ActionCheckElementVisible, func(ctx context.Context, session *browser.Session, action domain.Action) (ExecResult, error) {
		visible, err := session.CheckVisible(ctx, action.Selector)
		if err != nil {
			return ExecResult{}, err
		}
		if !visible {
			return ExecResult{Visible: false}, fmt.Errorf("element not visible: %s", action.Selector)
		}
		return ExecResult{Visible: true}, nil
	})

	r.Register(domain.ActionCaptureScreenshot, func(ctx context.Context, session *browser.Session, action domain.Action) (ExecResult, error) {
		path, err := session.TakeScreenshot(ctx, true, action.Selector)
		if err != nil {
			return ExecResult{}, err
		}
		return ExecResult{Screenshots: []string{path}}, nil
	})

	r.Register(domain.ActionWaitForNetworkIdle, func(ctx context.Context, session *browser.Session, action domain.Action) (ExecResult, error) {
		if err := session.WaitForNetworkIdle(ctx, 5*time.Second); err != nil {
			return ExecResult{}, err
		}
		return ExecResult{}, nil
	})

	return r
}
