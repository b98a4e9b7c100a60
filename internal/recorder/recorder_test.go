package recorder_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"webpilot/backend/internal/models"
	"webpilot/backend/internal/recorder"
)

var sessionStart = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

func newSession() *models.RecordingSession {
	return &models.RecordingSession{
		SessionID: "s-1",
		TabID:     7,
		StartURL:  "https://example.com",
		StartedAt: sessionStart,
	}
}

func epochMs(offset time.Duration) int64 {
	return sessionStart.Add(offset).UnixMilli()
}

func clickAt(offset time.Duration) recorder.RawEvent {
	return recorder.RawEvent{
		Type:        "click",
		TimestampMs: epochMs(offset),
		Selector:    "#submit",
		TagName:     "button",
	}
}

func moveAt(offset time.Duration, x, y float64) recorder.RawEvent {
	return recorder.RawEvent{
		Type:        "mousemove",
		TimestampMs: epochMs(offset),
		Coordinates: &models.Coordinates{PageX: x, PageY: y},
	}
}

func TestIngestRebasesTimestamps(t *testing.T) {
	r := recorder.New(newSession(), recorder.Options{})

	if ok, err := r.Ingest(clickAt(1500 * time.Millisecond)); err != nil || !ok {
		t.Fatalf("Ingest = %v, %v", ok, err)
	}
	if ok, err := r.Ingest(clickAt(4 * time.Second)); err != nil || !ok {
		t.Fatalf("Ingest = %v, %v", ok, err)
	}

	events := r.Events()
	if len(events) != 2 {
		t.Fatalf("recorded %d events, want 2", len(events))
	}
	if events[0].Timestamp != 1500 || events[1].Timestamp != 4000 {
		t.Errorf("timestamps = %d, %d; want 1500, 4000", events[0].Timestamp, events[1].Timestamp)
	}
	if events[0].ID == "" || events[0].ID == events[1].ID {
		t.Error("events did not get distinct generated ids")
	}
}

func TestIngestRejectsUnknownType(t *testing.T) {
	r := recorder.New(newSession(), recorder.Options{})

	if _, err := r.Ingest(recorder.RawEvent{Type: "hover"}); err == nil {
		t.Error("Ingest accepted an unknown event type")
	}
	if r.EventCount() != 0 {
		t.Errorf("event count = %d, want 0", r.EventCount())
	}
}

func TestPauseDropsEventsUntilResume(t *testing.T) {
	r := recorder.New(newSession(), recorder.Options{})

	r.Pause()
	if ok, err := r.Ingest(clickAt(time.Second)); err != nil || ok {
		t.Fatalf("paused Ingest = %v, %v; want false, nil", ok, err)
	}
	if r.EventCount() != 0 {
		t.Errorf("event recorded while paused")
	}

	r.Resume()
	if ok, err := r.Ingest(clickAt(2 * time.Second)); err != nil || !ok {
		t.Fatalf("resumed Ingest = %v, %v", ok, err)
	}
	if r.EventCount() != 1 {
		t.Errorf("event count after resume = %d, want 1", r.EventCount())
	}
}

func TestMouseMovesAreThrottledAndAttached(t *testing.T) {
	r := recorder.New(newSession(), recorder.Options{})

	// Samples every 10ms for 100ms: only those >=50ms apart survive.
	for i := 0; i <= 10; i++ {
		offset := time.Duration(i) * 10 * time.Millisecond
		if ok, err := r.Ingest(moveAt(offset, float64(i), 0)); err != nil || ok {
			t.Fatalf("move Ingest = %v, %v; want false, nil", ok, err)
		}
	}

	if ok, err := r.Ingest(clickAt(200 * time.Millisecond)); err != nil || !ok {
		t.Fatalf("click Ingest = %v, %v", ok, err)
	}

	events := r.Events()
	if len(events) != 1 {
		t.Fatalf("recorded %d events, want 1", len(events))
	}
	path := events[0].MousePath
	if len(path) != 3 { // t=0, t=50, t=100
		t.Fatalf("path has %d points, want 3: %+v", len(path), path)
	}
	for i, wantT := range []int64{0, 50, 100} {
		if path[i].T != wantT {
			t.Errorf("path[%d].T = %d, want %d", i, path[i].T, wantT)
		}
	}

	// The trail buffer was consumed: the next event carries no path.
	if ok, _ := r.Ingest(clickAt(300 * time.Millisecond)); !ok {
		t.Fatal("second click not recorded")
	}
	if events = r.Events(); len(events[1].MousePath) != 0 {
		t.Errorf("second event inherited a stale mouse path: %+v", events[1].MousePath)
	}
}

func TestSelectorlessEventsGetSynthesizedSelector(t *testing.T) {
	r := recorder.New(newSession(), recorder.Options{})

	named := recorder.RawEvent{
		Type:        "input",
		TimestampMs: epochMs(time.Second),
		TagName:     "input",
		Attributes:  map[string]string{"name": "q", "type": "search"},
	}
	if ok, err := r.Ingest(named); err != nil || !ok {
		t.Fatalf("Ingest = %v, %v", ok, err)
	}

	bare := recorder.RawEvent{
		Type:        "click",
		TimestampMs: epochMs(2 * time.Second),
		TagName:     "body",
	}
	if ok, err := r.Ingest(bare); err != nil || !ok {
		t.Fatalf("Ingest = %v, %v", ok, err)
	}

	events := r.Events()
	if got := events[0].Selector; got != `input[name="q"]` {
		t.Errorf("synthesized selector = %q, want input[name=\"q\"]", got)
	}
	if got := events[1].Selector; got != "body" {
		t.Errorf("synthesized selector = %q, want body", got)
	}
	for i, ev := range events {
		if !ev.HasSelector() {
			t.Errorf("event %d stored without any selector", i)
		}
	}

	// Events that already carry one keep it.
	if ok, _ := r.Ingest(clickAt(3 * time.Second)); !ok {
		t.Fatal("third Ingest not recorded")
	}
	if got := r.Events()[2].Selector; got != "#submit" {
		t.Errorf("captured selector replaced with %q", got)
	}
}

func TestTextContentIsTruncated(t *testing.T) {
	r := recorder.New(newSession(), recorder.Options{})

	raw := clickAt(time.Second)
	raw.TextContent = strings.Repeat("x", 300)
	if ok, err := r.Ingest(raw); err != nil || !ok {
		t.Fatalf("Ingest = %v, %v", ok, err)
	}

	if got := len(r.Events()[0].TextContent); got != 100 {
		t.Errorf("text content length = %d, want 100", got)
	}
}

func TestEnrichmentAttachesDescriptionAsync(t *testing.T) {
	done := make(chan struct{})
	var once sync.Once
	describe := func(ctx context.Context, ev *models.RecordedEvent) (string, error) {
		defer once.Do(func() { close(done) })
		return "clicks the submit button", nil
	}
	r := recorder.New(newSession(), recorder.Options{Describe: describe})

	raw := clickAt(time.Second)
	raw.ID = "e-1"
	raw.AIContext = &models.AIContext{Screenshot: "cmVm"}
	if ok, err := r.Ingest(raw); err != nil || !ok {
		t.Fatalf("Ingest = %v, %v", ok, err)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("describe callback never ran")
	}

	// The goroutine attaches after the callback returns; poll briefly.
	deadline := time.Now().Add(2 * time.Second)
	for {
		ev := r.Events()[0]
		if ev.AIContext != nil && ev.AIContext.Description == "clicks the submit button" {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("description never attached: %+v", ev.AIContext)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAttachDescriptionForGoneEventIsNoop(t *testing.T) {
	r := recorder.New(newSession(), recorder.Options{})
	r.AttachDescription("missing", "whatever") // must not panic
}
