// Package recorder normalizes raw capture payloads arriving from the
// injected page script into the event model, owning the per-session
// bookkeeping: relative timestamps, mouse-trail throttling, pause gating
// and asynchronous AI enrichment.
package recorder

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"webpilot/backend/internal/models"
)

// moveMinGap throttles pointer-trail samples to roughly 20Hz.
const moveMinGap = 50 * time.Millisecond

// maxTextContent caps captured element text.
const maxTextContent = 100

// RawEvent is the payload the capture script ships for one DOM interaction.
// Timestamps are epoch milliseconds from the page clock; everything else
// mirrors the stored event shape.
type RawEvent struct {
	ID                string              `json:"id,omitempty"`
	Type              string              `json:"type"`
	TimestampMs       int64               `json:"timestamp_ms"`
	Coordinates       *models.Coordinates `json:"coordinates,omitempty"`
	Selector          string              `json:"selector,omitempty"`
	FallbackSelectors []string            `json:"fallback_selectors,omitempty"`
	TagName           string              `json:"tag_name,omitempty"`
	TextContent       string              `json:"text_content,omitempty"`
	Attributes        map[string]string   `json:"attributes,omitempty"`
	Rect              *models.Rect        `json:"rect,omitempty"`
	Value             string              `json:"value,omitempty"`
	Key               string              `json:"key,omitempty"`
	ScrollX           float64             `json:"scroll_x,omitempty"`
	ScrollY           float64             `json:"scroll_y,omitempty"`
	URL               string              `json:"url,omitempty"`
	AIContext         *models.AIContext   `json:"ai_context,omitempty"`
}

// DescribeFunc asks the vision collaborator for a description of a captured
// action. It runs on its own goroutine and must tolerate being slow.
type DescribeFunc func(ctx context.Context, ev *models.RecordedEvent) (string, error)

// Options tune a recorder.
type Options struct {
	Describe DescribeFunc     // nil disables AI enrichment
	Now      func() time.Time // test hook
}

// Recorder owns one recording session's event intake.
type Recorder struct {
	mu          sync.Mutex
	session     *models.RecordingSession
	pendingPath []models.MousePoint
	lastMoveAt  int64 // relative ms of the last kept trail sample, -1 when none
	describe    DescribeFunc
	now         func() time.Time
}

// New wraps an in-progress session. The session may already carry events
// when the recorder is rebuilt after a navigation or process restart.
func New(session *models.RecordingSession, opts Options) *Recorder {
	r := &Recorder{
		session:    session,
		lastMoveAt: -1,
		describe:   opts.Describe,
		now:        opts.Now,
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

func (r *Recorder) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.session.Paused = true
}

func (r *Recorder) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.session.Paused = false
}

func (r *Recorder) Paused() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.session.Paused
}

// EventCount returns how many discrete events have been recorded so far.
// Trail samples do not count.
func (r *Recorder) EventCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.session.Events)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []models.RecordedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.RecordedEvent(nil), r.session.Events...)
}

// Session returns a deep-enough copy of the session for persistence.
func (r *Recorder) Session() *models.RecordingSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *r.session
	copied.Events = append([]models.RecordedEvent(nil), r.session.Events...)
	copied.MouseTrail = append([]models.MousePoint(nil), r.session.MouseTrail...)
	return &copied
}

// Ingest normalizes one raw payload. The returned flag reports whether the
// payload produced a discrete recorded event; throttled trail samples and
// anything arriving while paused do not.
func (r *Recorder) Ingest(raw RawEvent) (bool, error) {
	eventType := models.EventType(raw.Type)
	if !eventType.Valid() {
		return false, fmt.Errorf("recorder: unknown event type %q", raw.Type)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.session.Paused {
		return false, nil
	}

	rel := r.relativeMs(raw.TimestampMs)

	if eventType == models.EventMouseMove {
		r.ingestMoveLocked(raw, rel)
		return false, nil
	}

	ev := models.RecordedEvent{
		ID:                raw.ID,
		Type:              eventType,
		Timestamp:         rel,
		Coordinates:       raw.Coordinates,
		Selector:          raw.Selector,
		FallbackSelectors: raw.FallbackSelectors,
		TagName:           raw.TagName,
		TextContent:       truncate(raw.TextContent, maxTextContent),
		Attributes:        raw.Attributes,
		Rect:              raw.Rect,
		Value:             raw.Value,
		Key:               raw.Key,
		ScrollX:           raw.ScrollX,
		ScrollY:           raw.ScrollY,
		URL:               raw.URL,
		AIContext:         raw.AIContext,
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if eventType.NeedsSelector() && !ev.HasSelector() {
		ev.Selector = fallbackSelector(&ev)
		log.Printf("recorder: %s event %s captured without selectors, synthesized %q", ev.Type, ev.ID, ev.Selector)
	}

	// Attach the pointer trail accumulated since the previous discrete event.
	if len(r.pendingPath) > 0 {
		ev.MousePath = r.pendingPath
		r.pendingPath = nil
	}

	r.session.Events = append(r.session.Events, ev)

	if r.shouldEnrichLocked(&ev) {
		go r.enrich(ev.ID, ev)
	}
	return true, nil
}

func (r *Recorder) ingestMoveLocked(raw RawEvent, rel int64) {
	if r.lastMoveAt >= 0 && rel-r.lastMoveAt < moveMinGap.Milliseconds() {
		return
	}
	r.lastMoveAt = rel

	point := models.MousePoint{T: rel}
	if raw.Coordinates != nil {
		point.X = raw.Coordinates.PageX
		point.Y = raw.Coordinates.PageY
	}
	r.pendingPath = append(r.pendingPath, point)
	r.session.MouseTrail = append(r.session.MouseTrail, point)
}

// relativeMs rebases a page-clock timestamp onto the session start. Payloads
// without a timestamp fall back to the server clock.
func (r *Recorder) relativeMs(epochMs int64) int64 {
	if epochMs <= 0 {
		return r.now().Sub(r.session.StartedAt).Milliseconds()
	}
	rel := epochMs - r.session.StartedAt.UnixMilli()
	if rel < 0 {
		rel = 0
	}
	return rel
}

func (r *Recorder) shouldEnrichLocked(ev *models.RecordedEvent) bool {
	return r.describe != nil &&
		ev.AIContext != nil &&
		ev.AIContext.Screenshot != "" &&
		ev.AIContext.Description == ""
}

// enrich asks the vision collaborator for a description and attaches it to
// the stored event. Recording never waits on this.
func (r *Recorder) enrich(id string, ev models.RecordedEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	desc, err := r.describe(ctx, &ev)
	if err != nil {
		log.Printf("recorder: describe failed for event %s: %v", id, err)
		return
	}
	if desc == "" {
		return
	}
	r.AttachDescription(id, desc)
}

// AttachDescription sets the AI description on the event with the given id,
// if it is still part of the session.
func (r *Recorder) AttachDescription(id, description string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.session.Events {
		if r.session.Events[i].ID != id {
			continue
		}
		if r.session.Events[i].AIContext == nil {
			r.session.Events[i].AIContext = &models.AIContext{}
		}
		r.session.Events[i].AIContext.Description = description
		return
	}
}

// fallbackSelector builds a last-resort selector for events the capture
// script shipped without one, so pointer and form events are never stored
// selector-less.
func fallbackSelector(ev *models.RecordedEvent) string {
	tag := ev.TagName
	if tag == "" {
		tag = "body"
	}
	for _, attr := range []string{"name", "data-id", "aria-label", "placeholder", "type", "role"} {
		if v := ev.Attributes[attr]; v != "" {
			return fmt.Sprintf(`%s[%s="%s"]`, tag, attr, v)
		}
	}
	return tag
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
