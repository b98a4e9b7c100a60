// Package session hosts the coordinator: a single actor goroutine that owns
// the one-and-only recording session slot and the set of in-flight replays.
// All mutation goes through its command channel, so session state never
// needs a lock and a second writer is structurally impossible.
package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"webpilot/backend/internal/locator"
	"webpilot/backend/internal/models"
	"webpilot/backend/internal/protocol"
	"webpilot/backend/internal/recorder"
	"webpilot/backend/internal/replay"
	"webpilot/backend/internal/store"
)

var (
	// ErrSessionActive rejects a second concurrent recording.
	ErrSessionActive = errors.New("a recording session is already active")
	// ErrNoSession rejects session commands when nothing is recording.
	ErrNoSession = errors.New("no recording session is active")
	// ErrSessionMismatch rejects commands naming a stale session id.
	ErrSessionMismatch = errors.New("session id does not match the active session")
	// ErrRestrictedURL rejects recording on browser-internal pages.
	ErrRestrictedURL = errors.New("recording is not allowed on this page")
	// ErrRunNotFound rejects stop requests for unknown replays.
	ErrRunNotFound = errors.New("no such run in flight")
	// ErrStopped rejects commands after shutdown.
	ErrStopped = errors.New("session coordinator stopped")
)

// restrictedPrefixes are URL schemes recording must never touch.
var restrictedPrefixes = []string{
	"chrome://",
	"chrome-extension://",
	"devtools://",
	"view-source:",
	"about:",
	"edge://",
}

// ValidateStartURL enforces the restricted-page rules for new recordings.
func ValidateStartURL(url string) error {
	trimmed := strings.TrimSpace(strings.ToLower(url))
	if trimmed == "" {
		return fmt.Errorf("%w: empty url", ErrRestrictedURL)
	}
	for _, prefix := range restrictedPrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return fmt.Errorf("%w: %s", ErrRestrictedURL, url)
		}
	}
	return nil
}

// Browser opens pages for replay. The returned closer tears the tab down.
type Browser interface {
	OpenPage(ctx context.Context, url string) (replay.Page, func(), error)
}

// Capture opens a tab at url with the page-side capture context installed
// for the session. The installer re-arms itself on every navigation inside
// the tab; the returned closer tears the tab down.
type Capture interface {
	OpenRecordingPage(ctx context.Context, sessionID, url string) (func(), error)
}

// Sharer publishes an automation document and returns its public URL.
type Sharer interface {
	Share(ctx context.Context, doc *models.AutomationDocument) (string, error)
}

// NotifyFunc pushes a page-bound message over the websocket relay.
// Best-effort: nobody may be listening.
type NotifyFunc func(msg protocol.Message)

// Config wires a coordinator.
type Config struct {
	Automations store.AutomationStore
	Runs        store.RunStore
	Snapshots   store.SnapshotStore
	Browser     Browser
	Capture     Capture
	Vision      *locator.Client
	Sharer      Sharer
	Notify      NotifyFunc
	// Replay overrides the machine pacing; zero values keep defaults.
	Replay replay.Options
	Now    func() time.Time
}

// Status is the externally visible recording state.
type Status struct {
	Active     bool   `json:"active"`
	SessionID  string `json:"session_id,omitempty"`
	TabID      int    `json:"tab_id,omitempty"`
	StartURL   string `json:"start_url,omitempty"`
	EventCount int    `json:"event_count"`
	Paused     bool   `json:"paused"`
	DurationMs int64  `json:"duration_ms"`
}

// StopResult is what ending a recording with a name produces.
type StopResult struct {
	Automation *models.Automation `json:"automation"`
	ShareURL   string             `json:"share_url,omitempty"`
}

type activeRun struct {
	runID        string
	automationID uint
	machine      *replay.Machine
	closePage    func()
}

// Coordinator is the actor owning the session slot and in-flight replays.
type Coordinator struct {
	cfg  Config
	cmds chan func()
	quit chan struct{}
	done chan struct{}

	// Actor-owned state; touched only from the run loop.
	session      *models.RecordingSession
	recorder     *recorder.Recorder
	captureClose func()
	runs         map[string]*activeRun
}

func NewCoordinator(cfg Config) *Coordinator {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Notify == nil {
		cfg.Notify = func(protocol.Message) {}
	}
	c := &Coordinator{
		cfg:  cfg,
		cmds: make(chan func()),
		quit: make(chan struct{}),
		done: make(chan struct{}),
		runs: make(map[string]*activeRun),
	}
	go c.loop()
	return c
}

func (c *Coordinator) loop() {
	defer close(c.done)
	c.rehydrate()
	for {
		select {
		case fn := <-c.cmds:
			fn()
		case <-c.quit:
			for _, run := range c.runs {
				run.machine.Stop()
			}
			if c.captureClose != nil {
				c.captureClose()
			}
			return
		}
	}
}

// rehydrate picks up a session that survived a process restart.
func (c *Coordinator) rehydrate() {
	if c.cfg.Snapshots == nil {
		return
	}
	session, err := c.cfg.Snapshots.LoadLive()
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Printf("session: could not rehydrate snapshot: %v", err)
		}
		return
	}
	c.session = session
	c.recorder = recorder.New(session, recorder.Options{Describe: c.describeFunc()})

	// The recording tab died with the old process; reattach best-effort so
	// capture keeps flowing.
	if c.cfg.Capture != nil {
		closeCapture, err := c.cfg.Capture.OpenRecordingPage(context.Background(), session.SessionID, session.StartURL)
		if err != nil {
			log.Printf("session: could not reattach capture for %s: %v", session.SessionID, err)
		} else {
			c.captureClose = closeCapture
		}
	}
	log.Printf("session: rehydrated session %s with %d events", session.SessionID, len(session.Events))
}

// Stop shuts the actor down and cancels in-flight replays.
func (c *Coordinator) Stop() {
	close(c.quit)
	<-c.done
}

// do runs fn on the actor goroutine and waits for it.
func (c *Coordinator) do(ctx context.Context, fn func()) error {
	wrapped := make(chan struct{})
	select {
	case c.cmds <- func() { fn(); close(wrapped) }:
	case <-c.quit:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-wrapped:
		return nil
	case <-c.quit:
		return ErrStopped
	}
}

func (c *Coordinator) describeFunc() recorder.DescribeFunc {
	if !c.cfg.Vision.Enabled() {
		return nil
	}
	return func(ctx context.Context, ev *models.RecordedEvent) (string, error) {
		req := locator.DescribeRequest{
			TagName:     ev.TagName,
			TextContent: ev.TextContent,
			Attributes:  ev.Attributes,
		}
		if ev.AIContext != nil {
			req.Screenshot = ev.AIContext.Screenshot
			req.ElementCrop = ev.AIContext.ElementCrop
		}
		return c.cfg.Vision.DescribeAction(ctx, req)
	}
}

// StartRecording opens a new session and attaches the page-side capture
// context to a recording tab. A second concurrent session is rejected,
// never queued.
func (c *Coordinator) StartRecording(ctx context.Context, tabID int, url string) (string, error) {
	if err := ValidateStartURL(url); err != nil {
		return "", err
	}

	// Open the recording tab before entering the actor so a slow browser
	// launch never stalls other commands.
	sessionID := uuid.NewString()
	var closeCapture func()
	if c.cfg.Capture != nil {
		var err error
		closeCapture, err = c.cfg.Capture.OpenRecordingPage(ctx, sessionID, url)
		if err != nil {
			return "", fmt.Errorf("open recording page: %w", err)
		}
	}

	var cmdErr error
	err := c.do(ctx, func() {
		if c.session != nil {
			cmdErr = ErrSessionActive
			return
		}
		session := &models.RecordingSession{
			SessionID: sessionID,
			TabID:     tabID,
			StartURL:  url,
			StartedAt: c.cfg.Now(),
		}
		c.session = session
		c.recorder = recorder.New(session, recorder.Options{Describe: c.describeFunc()})
		c.captureClose = closeCapture
		c.persistSnapshot()
		log.Printf("session: recording started, session %s on tab %d", sessionID, tabID)
	})
	if err != nil || cmdErr != nil {
		if closeCapture != nil {
			closeCapture()
		}
		if err != nil {
			return "", err
		}
		return "", cmdErr
	}
	return sessionID, nil
}

// Pause suspends event intake without ending the session.
func (c *Coordinator) Pause(ctx context.Context, sessionID string) error {
	return c.withSession(ctx, sessionID, func() error {
		c.recorder.Pause()
		c.persistSnapshot()
		return nil
	})
}

// Resume lifts a pause.
func (c *Coordinator) Resume(ctx context.Context, sessionID string) error {
	return c.withSession(ctx, sessionID, func() error {
		c.recorder.Resume()
		c.persistSnapshot()
		return nil
	})
}

// Cancel discards the session and everything it recorded.
func (c *Coordinator) Cancel(ctx context.Context, sessionID string) error {
	return c.withSession(ctx, sessionID, func() error {
		c.clearSession()
		log.Printf("session: recording %s cancelled", sessionID)
		return nil
	})
}

// Ingest feeds one raw capture payload into the active session.
func (c *Coordinator) Ingest(ctx context.Context, sessionID string, raw recorder.RawEvent) (bool, error) {
	var recorded bool
	err := c.withSession(ctx, sessionID, func() error {
		ok, err := c.recorder.Ingest(raw)
		if err != nil {
			return err
		}
		recorded = ok
		if ok {
			c.persistSnapshot()
		}
		return nil
	})
	return recorded, err
}

// HandleNavigation is called when the recorded tab commits a navigation. The
// session survives: its snapshot is persisted and a restore message carrying
// the same identity and counters is pushed at the fresh page context.
func (c *Coordinator) HandleNavigation(ctx context.Context, sessionID, newURL string) (*protocol.RestoreRecordingState, error) {
	var restore *protocol.RestoreRecordingState
	err := c.withSession(ctx, sessionID, func() error {
		c.persistSnapshot()
		restore = &protocol.RestoreRecordingState{
			SessionID:  c.session.SessionID,
			EventCount: c.recorder.EventCount(),
			DurationMs: c.session.Elapsed(c.cfg.Now()),
			Paused:     c.session.Paused,
		}
		c.cfg.Notify(*restore)
		log.Printf("session: %s navigated to %s, restoring at %d events", sessionID, newURL, restore.EventCount)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return restore, nil
}

// StopWithName ends the session and saves it as a named automation,
// optionally publishing it to the sharing service.
func (c *Coordinator) StopWithName(ctx context.Context, sessionID, name string, share bool) (*StopResult, error) {
	if strings.TrimSpace(name) == "" {
		return nil, errors.New("automation name is required")
	}

	var result *StopResult
	err := c.withSession(ctx, sessionID, func() error {
		automation, err := c.buildAutomation(name)
		if err != nil {
			return err
		}
		if c.cfg.Automations != nil {
			if err := c.cfg.Automations.Create(automation); err != nil {
				return err
			}
		}
		result = &StopResult{Automation: automation}

		if share && c.cfg.Sharer != nil {
			doc, err := automation.Document()
			if err == nil {
				url, shareErr := c.cfg.Sharer.Share(ctx, doc)
				if shareErr != nil {
					// Sharing is best-effort: the automation is already saved.
					log.Printf("session: share failed for %q: %v", name, shareErr)
				} else {
					result.ShareURL = url
				}
			}
		}

		c.clearSession()
		log.Printf("session: recording %s saved as automation %q (%d events)",
			sessionID, name, automation.EventCount)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (c *Coordinator) buildAutomation(name string) (*models.Automation, error) {
	session := c.recorder.Session()
	automation := &models.Automation{
		Name:     name,
		StartURL: session.StartURL,
		Duration: session.Elapsed(c.cfg.Now()),
	}
	if err := automation.SetEvents(session.Events); err != nil {
		return nil, fmt.Errorf("encode events: %w", err)
	}
	if err := automation.SetMouseTrail(session.MouseTrail); err != nil {
		return nil, fmt.Errorf("encode mouse trail: %w", err)
	}
	automation.IsEnabled = true
	return automation, nil
}

// Status reports the externally visible recording state.
func (c *Coordinator) Status(ctx context.Context) (*Status, error) {
	var status Status
	err := c.do(ctx, func() {
		if c.session == nil {
			return
		}
		status = Status{
			Active:     true,
			SessionID:  c.session.SessionID,
			TabID:      c.session.TabID,
			StartURL:   c.session.StartURL,
			EventCount: c.recorder.EventCount(),
			Paused:     c.session.Paused,
			DurationMs: c.session.Elapsed(c.cfg.Now()),
		}
	})
	if err != nil {
		return nil, err
	}
	return &status, nil
}

// RunAutomation starts a replay of the stored automation in a fresh tab.
// The replay runs on its own goroutine; progress and completion stream into
// the run history and out over the notify channel.
func (c *Coordinator) RunAutomation(ctx context.Context, automationID uint) (string, error) {
	automation, err := c.cfg.Automations.Get(automationID)
	if err != nil {
		return "", err
	}
	events, err := automation.GetEvents()
	if err != nil {
		return "", fmt.Errorf("decode events of automation %d: %w", automationID, err)
	}

	run := &models.RunHistory{
		RunID:          uuid.NewString(),
		AutomationID:   automation.ID,
		AutomationName: automation.Name,
		Status:         models.RunStatusRunning,
		StartTime:      c.cfg.Now(),
		TotalEvents:    len(events),
	}
	if err := c.cfg.Runs.Create(run); err != nil {
		return "", err
	}

	page, closePage, err := c.cfg.Browser.OpenPage(context.Background(), automation.StartURL)
	if err != nil {
		_ = c.cfg.Runs.Finish(run.RunID, models.RunStatusFailed, 0, fmt.Sprintf("open page: %v", err))
		return "", fmt.Errorf("open page for automation %d: %w", automationID, err)
	}

	opts := c.cfg.Replay
	opts.Vision = c.cfg.Vision
	opts.Progress = func(completed, total int) {
		if err := c.cfg.Runs.UpdateProgress(run.RunID, completed); err != nil {
			log.Printf("session: progress update for run %s: %v", run.RunID, err)
		}
		c.cfg.Notify(protocol.AutomationProgress{
			RunID:           run.RunID,
			EventsCompleted: completed,
			TotalEvents:     total,
		})
	}
	machine := replay.NewMachine(page, opts)

	active := &activeRun{
		runID:        run.RunID,
		automationID: automation.ID,
		machine:      machine,
		closePage:    closePage,
	}
	if err := c.do(ctx, func() { c.runs[run.RunID] = active }); err != nil {
		closePage()
		return "", err
	}

	go c.drive(active, events)
	return run.RunID, nil
}

// drive owns one replay from start to finish.
func (c *Coordinator) drive(run *activeRun, events []models.RecordedEvent) {
	defer run.closePage()

	runErr := run.machine.Run(context.Background(), events)
	completed, _ := run.machine.Progress()

	status := models.RunStatusSuccess
	message := ""
	if runErr != nil {
		status = models.RunStatusFailed
		message = runErr.Error()
	}
	if err := c.cfg.Runs.Finish(run.runID, status, completed, message); err != nil {
		log.Printf("session: finish run %s: %v", run.runID, err)
	}
	c.cfg.Notify(protocol.AutomationComplete{
		RunID:   run.runID,
		Success: runErr == nil,
		Error:   message,
	})

	// Deregister; tolerate shutdown racing us.
	_ = c.do(context.Background(), func() { delete(c.runs, run.runID) })
	log.Printf("session: run %s finished with status %s (%d events)", run.runID, status, completed)
}

// StopAutomation cancels an in-flight replay at its next event boundary.
func (c *Coordinator) StopAutomation(ctx context.Context, runID string) error {
	var cmdErr error
	err := c.do(ctx, func() {
		run, ok := c.runs[runID]
		if !ok {
			cmdErr = ErrRunNotFound
			return
		}
		run.machine.Stop()
	})
	if err != nil {
		return err
	}
	return cmdErr
}

// OnScheduledFire is the alarm callback: replay the automation unless it has
// been disabled since the alarm was armed.
func (c *Coordinator) OnScheduledFire(automationID uint) {
	automation, err := c.cfg.Automations.Get(automationID)
	if err != nil {
		log.Printf("session: scheduled fire for unknown automation %d: %v", automationID, err)
		return
	}
	if !automation.IsEnabled {
		log.Printf("session: scheduled fire skipped, automation %d disabled", automationID)
		return
	}
	if _, err := c.RunAutomation(context.Background(), automationID); err != nil {
		log.Printf("session: scheduled run of automation %d failed to start: %v", automationID, err)
	}
}

// withSession runs fn on the actor after checking the session id matches.
func (c *Coordinator) withSession(ctx context.Context, sessionID string, fn func() error) error {
	var cmdErr error
	err := c.do(ctx, func() {
		switch {
		case c.session == nil:
			cmdErr = ErrNoSession
		case sessionID != "" && sessionID != c.session.SessionID:
			cmdErr = ErrSessionMismatch
		default:
			cmdErr = fn()
		}
	})
	if err != nil {
		return err
	}
	return cmdErr
}

func (c *Coordinator) persistSnapshot() {
	if c.cfg.Snapshots == nil || c.session == nil {
		return
	}
	if err := c.cfg.Snapshots.Save(c.recorder.Session()); err != nil {
		log.Printf("session: persist snapshot %s: %v", c.session.SessionID, err)
	}
}

func (c *Coordinator) clearSession() {
	if c.cfg.Snapshots != nil && c.session != nil {
		if err := c.cfg.Snapshots.Clear(c.session.SessionID); err != nil {
			log.Printf("session: clear snapshot %s: %v", c.session.SessionID, err)
		}
	}
	if c.captureClose != nil {
		c.captureClose()
		c.captureClose = nil
	}
	c.session = nil
	c.recorder = nil
}
