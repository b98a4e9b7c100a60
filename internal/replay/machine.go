package replay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"webpilot/backend/internal/locator"
	"webpilot/backend/internal/models"
	"webpilot/backend/internal/selector"
)

// State of the machine while driving an automation through a tab.
type State string

const (
	StateIdle              State = "idle"
	StateRunning           State = "running"
	StateWaitingForElement State = "waiting_for_element"
	StateScrolling         State = "scrolling"
	StateExecuting         State = "executing"
	StateCompleted         State = "completed"
	StateFailed            State = "failed"
)

// ErrCancelled is the failure cause when a replay is stopped externally.
var ErrCancelled = errors.New("replay cancelled")

// Page is everything the state machine needs from a browser tab.
type Page interface {
	selector.Page
	locator.Page
	Viewport() (models.Rect, error)
	ScrollIntoView(ctx context.Context, el selector.Element) error
	ScrollTo(ctx context.Context, x, y float64) error
	Click(ctx context.Context, el selector.Element) error
	DoubleClick(ctx context.Context, el selector.Element) error
	MouseDown(ctx context.Context, el selector.Element) error
	MouseUp(ctx context.Context, el selector.Element) error
	SetValue(ctx context.Context, el selector.Element, value string) error
	SendKey(ctx context.Context, el selector.Element, key string, down bool) error
	Focus(ctx context.Context, el selector.Element) error
	Blur(ctx context.Context, el selector.Element) error
	Submit(ctx context.Context, el selector.Element) error
	Navigate(ctx context.Context, url string) error
}

// ProgressFunc is invoked after every completed event.
type ProgressFunc func(eventsCompleted, total int)

// Options tune a machine. Zero values pick the production defaults.
type Options struct {
	Vision        *locator.Client // nil disables AI-assisted location
	Resolver      *selector.Resolver
	Progress      ProgressFunc
	ScrollSettle  time.Duration // pause after scrolling an element into view
	ActionSettle  time.Duration // pause between events
	InterKeyDelay time.Duration // pause between key events
}

const (
	defaultScrollSettle  = 200 * time.Millisecond
	defaultActionSettle  = 100 * time.Millisecond
	defaultInterKeyDelay = 30 * time.Millisecond
)

// Machine replays one automation in one tab. A machine is single-use: create
// a fresh one per run.
type Machine struct {
	page     Page
	resolver *selector.Resolver
	opts     Options

	mu        sync.Mutex
	state     State
	completed int
	total     int
	cancel    context.CancelFunc
	stopped   bool
}

func NewMachine(page Page, opts Options) *Machine {
	if opts.Resolver == nil {
		opts.Resolver = selector.NewResolver(page)
	}
	if opts.ScrollSettle == 0 {
		opts.ScrollSettle = defaultScrollSettle
	}
	if opts.ActionSettle == 0 {
		opts.ActionSettle = defaultActionSettle
	}
	if opts.InterKeyDelay == 0 {
		opts.InterKeyDelay = defaultInterKeyDelay
	}
	return &Machine{
		page:     page,
		resolver: opts.Resolver,
		opts:     opts,
		state:    StateIdle,
	}
}

func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Progress returns how many events have completed out of the total.
func (m *Machine) Progress() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.completed, m.total
}

// Stop cancels the run. It takes effect at the next event boundary;
// in-flight element waits are abandoned via context cancellation.
func (m *Machine) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopped = true
	if m.cancel != nil {
		m.cancel()
	}
}

func (m *Machine) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

func (m *Machine) isStopped() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopped
}

// Run drives every event of the automation in order. On failure the
// already-completed count is preserved and retrievable via Progress.
func (m *Machine) Run(ctx context.Context, events []models.RecordedEvent) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	m.mu.Lock()
	if m.state != StateIdle {
		m.mu.Unlock()
		return fmt.Errorf("replay machine already used (state %s)", m.state)
	}
	m.state = StateRunning
	m.total = len(events)
	m.cancel = cancel
	m.mu.Unlock()

	m.reportProgress()

	for i := range events {
		if err := m.checkCancelled(ctx); err != nil {
			m.setState(StateFailed)
			return err
		}

		if err := m.runEvent(ctx, &events[i]); err != nil {
			m.setState(StateFailed)
			if errors.Is(err, context.Canceled) {
				return ErrCancelled
			}
			return fmt.Errorf("event %d/%d (%s): %w", i+1, len(events), events[i].Type, err)
		}

		m.mu.Lock()
		m.completed++
		m.mu.Unlock()
		m.reportProgress()

		if err := m.settle(ctx, m.opts.ActionSettle); err != nil {
			m.setState(StateFailed)
			return ErrCancelled
		}
	}

	m.setState(StateCompleted)
	return nil
}

func (m *Machine) checkCancelled(ctx context.Context) error {
	if m.isStopped() {
		return ErrCancelled
	}
	select {
	case <-ctx.Done():
		return ErrCancelled
	default:
		return nil
	}
}

func (m *Machine) runEvent(ctx context.Context, ev *models.RecordedEvent) error {
	var el selector.Element

	if ev.Type.NeedsElement() {
		m.setState(StateWaitingForElement)
		found, err := m.resolveTarget(ctx, ev)
		if err != nil {
			return fmt.Errorf("could not locate element: %w", err)
		}
		el = found

		if outside, err := m.outsideViewport(el); err == nil && outside {
			m.setState(StateScrolling)
			if err := m.page.ScrollIntoView(ctx, el); err != nil {
				return fmt.Errorf("scroll into view: %w", err)
			}
			if err := m.settle(ctx, m.opts.ScrollSettle); err != nil {
				return err
			}
		}
	}

	m.setState(StateExecuting)
	return m.dispatch(ctx, ev, el)
}

// resolveTarget tries the AI locator first when it is enabled and the event
// carries visual context, then falls through to the selector chain.
func (m *Machine) resolveTarget(ctx context.Context, ev *models.RecordedEvent) (selector.Element, error) {
	if m.opts.Vision.Enabled() {
		if el := locator.Locate(ctx, m.opts.Vision, m.page, ev); el != nil {
			return el, nil
		}
	}
	return m.resolver.Resolve(ctx, selector.Descriptor{
		Primary:     ev.Selector,
		Fallbacks:   ev.FallbackSelectors,
		TagName:     ev.TagName,
		TextContent: ev.TextContent,
	})
}

func (m *Machine) outsideViewport(el selector.Element) (bool, error) {
	view, err := m.page.Viewport()
	if err != nil {
		return false, err
	}
	r := el.Rect()
	return r.Y+r.Height < 0 || r.Y > view.Height || r.X+r.Width < 0 || r.X > view.Width, nil
}

func (m *Machine) dispatch(ctx context.Context, ev *models.RecordedEvent, el selector.Element) error {
	switch ev.Type {
	case models.EventClick:
		return m.page.Click(ctx, el)
	case models.EventDoubleClick:
		return m.page.DoubleClick(ctx, el)
	case models.EventMouseDown:
		return m.page.MouseDown(ctx, el)
	case models.EventMouseUp:
		return m.page.MouseUp(ctx, el)
	case models.EventMouseMove:
		// Standalone move events carry no action; the recorded path is
		// cosmetic and consumed by the on-page cursor overlay.
		return nil
	case models.EventInput, models.EventChange:
		return m.page.SetValue(ctx, el, ev.Value)
	case models.EventKeyDown:
		if err := m.page.SendKey(ctx, el, ev.Key, true); err != nil {
			return err
		}
		return m.settle(ctx, m.opts.InterKeyDelay)
	case models.EventKeyUp:
		if err := m.page.SendKey(ctx, el, ev.Key, false); err != nil {
			return err
		}
		return m.settle(ctx, m.opts.InterKeyDelay)
	case models.EventFocus:
		return m.page.Focus(ctx, el)
	case models.EventBlur:
		return m.page.Blur(ctx, el)
	case models.EventSubmit:
		return m.page.Submit(ctx, el)
	case models.EventScroll:
		return m.page.ScrollTo(ctx, ev.ScrollX, ev.ScrollY)
	case models.EventNavigate:
		return m.page.Navigate(ctx, ev.URL)
	default:
		return fmt.Errorf("unsupported event type %q", ev.Type)
	}
}

func (m *Machine) settle(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return context.Canceled
	case <-timer.C:
		return nil
	}
}

func (m *Machine) reportProgress() {
	if m.opts.Progress == nil {
		return
	}
	m.mu.Lock()
	completed, total := m.completed, m.total
	m.mu.Unlock()
	m.opts.Progress(completed, total)
}

// RunDocument is a convenience wrapper that unpacks an automation document
// and replays its events.
func (m *Machine) RunDocument(ctx context.Context, doc *models.AutomationDocument) error {
	log.Printf("replay: starting %q with %d events", doc.Name, len(doc.Events))
	return m.Run(ctx, doc.Events)
}
