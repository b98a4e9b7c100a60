package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"webpilot/backend/internal/models"
	"webpilot/backend/internal/protocol"
	"webpilot/backend/internal/recorder"
	"webpilot/backend/internal/replay"
	"webpilot/backend/internal/selector/seltest"
	"webpilot/backend/internal/session"
	"webpilot/backend/internal/store"
)

// -- in-memory store fakes --

type memAutomations struct {
	mu     sync.Mutex
	nextID uint
	items  map[uint]*models.Automation
}

func newMemAutomations() *memAutomations {
	return &memAutomations{items: make(map[uint]*models.Automation)}
}

func (m *memAutomations) Create(a *models.Automation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	a.ID = m.nextID
	copied := *a
	m.items[a.ID] = &copied
	return nil
}

func (m *memAutomations) Get(id uint) (*models.Automation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *a
	return &copied, nil
}

func (m *memAutomations) List(page, pageSize int) ([]models.Automation, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Automation
	for _, a := range m.items {
		out = append(out, *a)
	}
	return out, int64(len(out)), nil
}

func (m *memAutomations) Update(a *models.Automation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *a
	m.items[a.ID] = &copied
	return nil
}

func (m *memAutomations) Delete(id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, id)
	return nil
}

func (m *memAutomations) ListScheduled() ([]models.Automation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Automation
	for _, a := range m.items {
		if a.IsEnabled && a.CronExpression != "" {
			out = append(out, *a)
		}
	}
	return out, nil
}

type memRuns struct {
	mu    sync.Mutex
	items map[string]*models.RunHistory
}

func newMemRuns() *memRuns {
	return &memRuns{items: make(map[string]*models.RunHistory)}
}

func (m *memRuns) Create(run *models.RunHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := *run
	m.items[run.RunID] = &copied
	return nil
}

func (m *memRuns) GetByRunID(runID string) (*models.RunHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.items[runID]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *run
	return &copied, nil
}

func (m *memRuns) List(automationID uint, page, pageSize int) ([]models.RunHistory, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.RunHistory
	for _, run := range m.items {
		if automationID == 0 || run.AutomationID == automationID {
			out = append(out, *run)
		}
	}
	return out, int64(len(out)), nil
}

func (m *memRuns) UpdateProgress(runID string, eventsCompleted int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if run, ok := m.items[runID]; ok {
		run.EventsCompleted = eventsCompleted
	}
	return nil
}

func (m *memRuns) Finish(runID, status string, eventsCompleted int, errorMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.items[runID]
	if !ok {
		return store.ErrNotFound
	}
	now := time.Now()
	run.Status = status
	run.EventsCompleted = eventsCompleted
	run.ErrorMessage = errorMessage
	run.EndTime = &now
	return nil
}

func (m *memRuns) FailStale(cutoff time.Time, message string) (int64, error) {
	return 0, nil
}

func (m *memRuns) Delete(runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, runID)
	return nil
}

type memSnapshots struct {
	mu       sync.Mutex
	sessions map[string]string
}

func newMemSnapshots() *memSnapshots {
	return &memSnapshots{sessions: make(map[string]string)}
}

func (m *memSnapshots) Save(session *models.RecordingSession) error {
	snapshot, err := models.EncodeSnapshot(session)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.SessionID] = snapshot.Payload
	return nil
}

func (m *memSnapshots) Load(sessionID string) (*models.RecordingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	payload, ok := m.sessions[sessionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	snapshot := models.SessionSnapshot{SessionID: sessionID, Payload: payload}
	return snapshot.Decode()
}

func (m *memSnapshots) LoadLive() (*models.RecordingSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, payload := range m.sessions {
		snapshot := models.SessionSnapshot{SessionID: id, Payload: payload}
		return snapshot.Decode()
	}
	return nil, store.ErrNotFound
}

func (m *memSnapshots) Clear(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
	return nil
}

// -- browser and sharer fakes --

type fakeBrowser struct {
	mu    sync.Mutex
	pages []*seltest.Page
}

func (b *fakeBrowser) OpenPage(ctx context.Context, url string) (replay.Page, func(), error) {
	page := seltest.NewPage()
	form := page.Root.Append(seltest.NewNode("form", map[string]string{"id": "login"}))
	form.Append(seltest.NewNode("input", map[string]string{"id": "email"}))
	form.Append(seltest.NewNode("button", map[string]string{"id": "submit"}))
	b.mu.Lock()
	b.pages = append(b.pages, page)
	b.mu.Unlock()
	return page, func() {}, nil
}

type fakeCapture struct {
	mu       sync.Mutex
	sessions []string
	urls     []string
	closed   int
	err      error
}

func (c *fakeCapture) OpenRecordingPage(ctx context.Context, sessionID, url string) (func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return nil, c.err
	}
	c.sessions = append(c.sessions, sessionID)
	c.urls = append(c.urls, url)
	return func() {
		c.mu.Lock()
		c.closed++
		c.mu.Unlock()
	}, nil
}

func (c *fakeCapture) stats() (opened, closed int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions), c.closed
}

type fakeSharer struct {
	url string
	err error
}

func (s *fakeSharer) Share(ctx context.Context, doc *models.AutomationDocument) (string, error) {
	return s.url, s.err
}

type notifyLog struct {
	mu   sync.Mutex
	msgs []protocol.Message
}

func (n *notifyLog) record(msg protocol.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
}

func (n *notifyLog) all() []protocol.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]protocol.Message(nil), n.msgs...)
}

type fixture struct {
	coord       *session.Coordinator
	automations *memAutomations
	runs        *memRuns
	snapshots   *memSnapshots
	browser     *fakeBrowser
	capture     *fakeCapture
	notify      *notifyLog
}

func newFixture(t *testing.T, mutate func(*session.Config)) *fixture {
	t.Helper()
	f := &fixture{
		automations: newMemAutomations(),
		runs:        newMemRuns(),
		snapshots:   newMemSnapshots(),
		browser:     &fakeBrowser{},
		capture:     &fakeCapture{},
		notify:      &notifyLog{},
	}
	cfg := session.Config{
		Automations: f.automations,
		Runs:        f.runs,
		Snapshots:   f.snapshots,
		Browser:     f.browser,
		Capture:     f.capture,
		Sharer:      &fakeSharer{url: "https://share.example/a/1"},
		Notify:      f.notify.record,
		Replay: replay.Options{
			ScrollSettle:  -1,
			ActionSettle:  -1,
			InterKeyDelay: -1,
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	f.coord = session.NewCoordinator(cfg)
	t.Cleanup(f.coord.Stop)
	return f
}

func clickRaw(sel string) recorder.RawEvent {
	return recorder.RawEvent{Type: "click", Selector: sel, TagName: "button"}
}

func TestStartRecordingRejectsSecondSession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first, err := f.coord.StartRecording(ctx, 1, "https://example.com")
	if err != nil {
		t.Fatalf("first StartRecording: %v", err)
	}
	if first == "" {
		t.Fatal("empty session id")
	}

	_, err = f.coord.StartRecording(ctx, 2, "https://example.org")
	if !errors.Is(err, session.ErrSessionActive) {
		t.Fatalf("second StartRecording error = %v, want ErrSessionActive", err)
	}

	// The first session is untouched by the rejection.
	status, err := f.coord.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Active || status.SessionID != first {
		t.Errorf("status = %+v, want active session %s", status, first)
	}
}

func TestStartRecordingRejectsRestrictedURLs(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	for _, url := range []string{
		"chrome://settings",
		"about:blank",
		"devtools://devtools/bundled/inspector.html",
		"view-source:https://example.com",
		"",
	} {
		if _, err := f.coord.StartRecording(ctx, 1, url); !errors.Is(err, session.ErrRestrictedURL) {
			t.Errorf("StartRecording(%q) error = %v, want ErrRestrictedURL", url, err)
		}
	}
}

func TestStartRecordingInstallsCaptureTab(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	id, err := f.coord.StartRecording(ctx, 1, "https://example.com/shop")
	if err != nil {
		t.Fatalf("StartRecording: %v", err)
	}

	f.capture.mu.Lock()
	sessions, urls := f.capture.sessions, f.capture.urls
	f.capture.mu.Unlock()
	if len(sessions) != 1 || sessions[0] != id {
		t.Fatalf("capture sessions = %v, want [%s]", sessions, id)
	}
	if urls[0] != "https://example.com/shop" {
		t.Errorf("capture url = %q, want the start url", urls[0])
	}

	// A rejected second session must not leak its freshly opened tab.
	if _, err := f.coord.StartRecording(ctx, 2, "https://example.org"); !errors.Is(err, session.ErrSessionActive) {
		t.Fatalf("second StartRecording error = %v, want ErrSessionActive", err)
	}
	if opened, closed := f.capture.stats(); opened != 2 || closed != 1 {
		t.Errorf("capture tabs = %d opened, %d closed; want 2, 1", opened, closed)
	}

	// Ending the session tears its tab down too.
	if err := f.coord.Cancel(ctx, id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if _, closed := f.capture.stats(); closed != 2 {
		t.Errorf("capture tabs closed = %d, want 2", closed)
	}
}

func TestStartRecordingFailsWhenCaptureCannotOpen(t *testing.T) {
	f := newFixture(t, nil)
	f.capture.err = errors.New("browser gone")
	ctx := context.Background()

	if _, err := f.coord.StartRecording(ctx, 1, "https://example.com"); err == nil {
		t.Fatal("StartRecording succeeded without a capture tab")
	}
	status, _ := f.coord.Status(ctx)
	if status.Active {
		t.Error("session active despite capture failure")
	}
}

func TestNavigationRestoreKeepsSessionAndNumbering(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	id, err := f.coord.StartRecording(ctx, 1, "https://example.com/step1")
	if err != nil {
		t.Fatalf("StartRecording: %v", err)
	}

	for i := 0; i < 3; i++ {
		if _, err := f.coord.Ingest(ctx, id, clickRaw("#next")); err != nil {
			t.Fatalf("Ingest %d: %v", i+1, err)
		}
	}

	restore, err := f.coord.HandleNavigation(ctx, id, "https://example.com/step2")
	if err != nil {
		t.Fatalf("HandleNavigation: %v", err)
	}
	if restore.SessionID != id {
		t.Errorf("restore session = %s, want %s", restore.SessionID, id)
	}
	if restore.EventCount != 3 {
		t.Errorf("restore event count = %d, want 3", restore.EventCount)
	}

	// Recording continues on the new page: the next event is the fourth.
	if _, err := f.coord.Ingest(ctx, id, clickRaw("#submit")); err != nil {
		t.Fatalf("post-navigation Ingest: %v", err)
	}
	status, _ := f.coord.Status(ctx)
	if status.EventCount != 4 {
		t.Errorf("event count after navigation = %d, want 4", status.EventCount)
	}

	// The snapshot survived too.
	saved, err := f.snapshots.Load(id)
	if err != nil {
		t.Fatalf("snapshot Load: %v", err)
	}
	if len(saved.Events) != 4 {
		t.Errorf("snapshot holds %d events, want 4", len(saved.Events))
	}
}

func TestPauseGatesIngest(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	id, err := f.coord.StartRecording(ctx, 1, "https://example.com")
	if err != nil {
		t.Fatalf("StartRecording: %v", err)
	}

	if err := f.coord.Pause(ctx, id); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if ok, err := f.coord.Ingest(ctx, id, clickRaw("#a")); err != nil || ok {
		t.Fatalf("paused Ingest = %v, %v; want false, nil", ok, err)
	}

	if err := f.coord.Resume(ctx, id); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if ok, err := f.coord.Ingest(ctx, id, clickRaw("#a")); err != nil || !ok {
		t.Fatalf("resumed Ingest = %v, %v; want true, nil", ok, err)
	}
}

func TestStopWithNameSavesAndShares(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	id, err := f.coord.StartRecording(ctx, 1, "https://example.com/login")
	if err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if _, err := f.coord.Ingest(ctx, id, clickRaw("#submit")); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	result, err := f.coord.StopWithName(ctx, id, "Login flow", true)
	if err != nil {
		t.Fatalf("StopWithName: %v", err)
	}
	if result.Automation.Name != "Login flow" || result.Automation.EventCount != 1 {
		t.Errorf("saved automation = %+v", result.Automation)
	}
	if result.Automation.StartURL != "https://example.com/login" {
		t.Errorf("start url = %q", result.Automation.StartURL)
	}
	if result.ShareURL != "https://share.example/a/1" {
		t.Errorf("share url = %q", result.ShareURL)
	}

	// The slot is free and the snapshot gone.
	status, _ := f.coord.Status(ctx)
	if status.Active {
		t.Error("session still active after stop")
	}
	if _, err := f.snapshots.Load(id); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("snapshot not cleared: %v", err)
	}
}

func TestStopWithNameSurvivesShareFailure(t *testing.T) {
	f := newFixture(t, func(cfg *session.Config) {
		cfg.Sharer = &fakeSharer{err: errors.New("share service down")}
	})
	ctx := context.Background()

	id, err := f.coord.StartRecording(ctx, 1, "https://example.com")
	if err != nil {
		t.Fatalf("StartRecording: %v", err)
	}

	result, err := f.coord.StopWithName(ctx, id, "Flow", true)
	if err != nil {
		t.Fatalf("StopWithName: %v", err)
	}
	if result.ShareURL != "" {
		t.Errorf("share url = %q, want empty on failure", result.ShareURL)
	}
	if _, err := f.automations.Get(result.Automation.ID); err != nil {
		t.Errorf("automation not saved despite share failure: %v", err)
	}
}

func savedAutomation(t *testing.T, f *fixture) *models.Automation {
	t.Helper()
	a := &models.Automation{
		Name:      "Login flow",
		StartURL:  "https://example.com/login",
		IsEnabled: true,
	}
	err := a.SetEvents([]models.RecordedEvent{
		{ID: "e1", Type: models.EventClick, Selector: "#email", TagName: "input"},
		{ID: "e2", Type: models.EventInput, Selector: "#email", TagName: "input", Value: "a@b.test"},
		{ID: "e3", Type: models.EventClick, Selector: "#submit", TagName: "button"},
	})
	if err != nil {
		t.Fatalf("SetEvents: %v", err)
	}
	if err := f.automations.Create(a); err != nil {
		t.Fatalf("Create: %v", err)
	}
	return a
}

func waitForRun(t *testing.T, f *fixture, runID string) *models.RunHistory {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for {
		run, err := f.runs.GetByRunID(runID)
		if err == nil && run.Status != models.RunStatusRunning {
			return run
		}
		if time.Now().After(deadline) {
			t.Fatalf("run %s never finished", runID)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRunAutomationDrivesReplayToSuccess(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a := savedAutomation(t, f)

	runID, err := f.coord.RunAutomation(ctx, a.ID)
	if err != nil {
		t.Fatalf("RunAutomation: %v", err)
	}

	run := waitForRun(t, f, runID)
	if run.Status != models.RunStatusSuccess {
		t.Fatalf("run status = %s (%s), want success", run.Status, run.ErrorMessage)
	}
	if run.EventsCompleted != 3 || run.TotalEvents != 3 {
		t.Errorf("run progress = %d/%d, want 3/3", run.EventsCompleted, run.TotalEvents)
	}

	var progress []int
	var completes int
	for _, msg := range f.notify.all() {
		switch m := msg.(type) {
		case protocol.AutomationProgress:
			progress = append(progress, m.EventsCompleted)
		case protocol.AutomationComplete:
			completes++
			if !m.Success {
				t.Errorf("completion reported failure: %s", m.Error)
			}
		}
	}
	if len(progress) == 0 || progress[len(progress)-1] != 3 {
		t.Errorf("progress notifications = %v, want ending at 3", progress)
	}
	if completes != 1 {
		t.Errorf("completion notifications = %d, want 1", completes)
	}
}

func TestRunAutomationUnknownID(t *testing.T) {
	f := newFixture(t, nil)
	if _, err := f.coord.RunAutomation(context.Background(), 999); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("RunAutomation(999) error = %v, want ErrNotFound", err)
	}
}

func TestStopAutomationUnknownRun(t *testing.T) {
	f := newFixture(t, nil)
	err := f.coord.StopAutomation(context.Background(), "no-such-run")
	if !errors.Is(err, session.ErrRunNotFound) {
		t.Errorf("StopAutomation error = %v, want ErrRunNotFound", err)
	}
}

func TestOnScheduledFireSkipsDisabledAutomation(t *testing.T) {
	f := newFixture(t, nil)
	a := savedAutomation(t, f)
	a.IsEnabled = false
	if err := f.automations.Update(a); err != nil {
		t.Fatalf("Update: %v", err)
	}

	f.coord.OnScheduledFire(a.ID)

	// Give a wrongly started run a moment to appear.
	time.Sleep(20 * time.Millisecond)
	if _, total, _ := f.runs.List(a.ID, 1, 10); total != 0 {
		t.Errorf("disabled automation produced %d runs, want 0", total)
	}
}

func TestCoordinatorRehydratesSnapshot(t *testing.T) {
	snapshots := newMemSnapshots()
	err := snapshots.Save(&models.RecordingSession{
		SessionID: "survivor",
		TabID:     4,
		StartURL:  "https://example.com",
		StartedAt: time.Now().Add(-time.Minute),
		Events: []models.RecordedEvent{
			{ID: "e1", Type: models.EventClick, Selector: "#a"},
		},
	})
	if err != nil {
		t.Fatalf("seed snapshot: %v", err)
	}

	f := newFixture(t, func(cfg *session.Config) { cfg.Snapshots = snapshots })

	status, err := f.coord.Status(context.Background())
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !status.Active || status.SessionID != "survivor" || status.EventCount != 1 {
		t.Errorf("rehydrated status = %+v, want active survivor with 1 event", status)
	}

	// The capture context was reattached for the surviving session.
	f.capture.mu.Lock()
	sessions := f.capture.sessions
	f.capture.mu.Unlock()
	if len(sessions) != 1 || sessions[0] != "survivor" {
		t.Errorf("capture sessions = %v, want [survivor]", sessions)
	}
}
