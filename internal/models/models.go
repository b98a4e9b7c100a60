package models

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

type BaseModel struct {
	ID        uint           `json:"id" gorm:"primarykey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// EventType is the fixed vocabulary of interactions the recorder captures.
type EventType string

const (
	EventClick       EventType = "click"
	EventDoubleClick EventType = "dblclick"
	EventInput       EventType = "input"
	EventChange      EventType = "change"
	EventScroll      EventType = "scroll"
	EventKeyDown     EventType = "keydown"
	EventKeyUp       EventType = "keyup"
	EventMouseDown   EventType = "mousedown"
	EventMouseUp     EventType = "mouseup"
	EventMouseMove   EventType = "mousemove"
	EventFocus       EventType = "focus"
	EventBlur        EventType = "blur"
	EventSubmit      EventType = "submit"
	EventNavigate    EventType = "navigate"
)

func (t EventType) Valid() bool {
	switch t {
	case EventClick, EventDoubleClick, EventInput, EventChange, EventScroll,
		EventKeyDown, EventKeyUp, EventMouseDown, EventMouseUp, EventMouseMove,
		EventFocus, EventBlur, EventSubmit, EventNavigate:
		return true
	}
	return false
}

// NeedsElement reports whether replaying this event type requires a resolved
// target element. Scrolls replay against the window and navigations against
// the tab itself.
func (t EventType) NeedsElement() bool {
	switch t {
	case EventScroll, EventNavigate:
		return false
	}
	return true
}

// NeedsSelector reports whether an event of this type must carry at least one
// selector by the time recording finishes.
func (t EventType) NeedsSelector() bool {
	switch t {
	case EventClick, EventDoubleClick, EventInput, EventChange,
		EventMouseDown, EventMouseUp, EventFocus, EventBlur, EventSubmit:
		return true
	}
	return false
}

// Rect is a bounding rectangle in page coordinates.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// MousePoint is one sample of the pointer trail, with a timestamp in
// milliseconds relative to recording start.
type MousePoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	T int64   `json:"t"`
}

// Coordinates holds viewport and page positions of a pointer event.
type Coordinates struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	PageX float64 `json:"page_x"`
	PageY float64 `json:"page_y"`
}

// AIContext is the optional visual enrichment attached to an event when AI
// capture is enabled. It is best-effort and never required for an event to
// be valid.
type AIContext struct {
	Screenshot       string `json:"screenshot,omitempty"`        // compressed page screenshot, base64
	ElementCrop      string `json:"element_crop,omitempty"`      // cropped image of the target, base64
	Description      string `json:"description,omitempty"`       // natural-language description of the action
	PreparationSteps string `json:"preparation_steps,omitempty"` // free-form steps needed before acting
}

// RecordedEvent is one captured interaction with enough descriptors to be
// re-located at replay time.
type RecordedEvent struct {
	ID                string            `json:"id"`
	Type              EventType         `json:"type"`
	Timestamp         int64             `json:"timestamp"` // ms since recording start
	Coordinates       *Coordinates      `json:"coordinates,omitempty"`
	Selector          string            `json:"selector,omitempty"`
	FallbackSelectors []string          `json:"fallback_selectors,omitempty"`
	TagName           string            `json:"tag_name,omitempty"`
	TextContent       string            `json:"text_content,omitempty"` // trimmed, <=100 chars
	Attributes        map[string]string `json:"attributes,omitempty"`
	Rect              *Rect             `json:"rect,omitempty"` // bounding box at capture time
	Value             string            `json:"value,omitempty"`
	Key               string            `json:"key,omitempty"`
	ScrollX           float64           `json:"scroll_x,omitempty"`
	ScrollY           float64           `json:"scroll_y,omitempty"`
	URL               string            `json:"url,omitempty"` // navigate events
	MousePath         []MousePoint      `json:"mouse_path,omitempty"`
	AIContext         *AIContext        `json:"ai_context,omitempty"`
}

// HasSelector reports whether the event carries at least one way to re-find
// its target element.
func (e *RecordedEvent) HasSelector() bool {
	return e.Selector != "" || len(e.FallbackSelectors) > 0
}

// Automation is a named, ordered script of recorded events. Events and the
// mouse trail are stored as JSON columns; insertion order is execution order.
type Automation struct {
	BaseModel
	Name           string `json:"name" gorm:"size:200;not null"`
	Description    string `json:"description" gorm:"size:1000"`
	Events         string `json:"-" gorm:"type:longtext"` // JSON RecordedEvent array
	CronExpression string `json:"cron_expression" gorm:"size:100"`
	IsEnabled      bool   `json:"is_enabled" gorm:"default:true"`
	StartURL       string `json:"start_url" gorm:"size:500;not null"`
	MouseTrail     string `json:"-" gorm:"type:longtext"` // JSON MousePoint array
	Duration       int64  `json:"duration"`               // total recording duration, ms
	EventCount     int    `json:"event_count"`
}

func (a *Automation) GetEvents() ([]RecordedEvent, error) {
	var events []RecordedEvent
	if a.Events == "" {
		return events, nil
	}
	err := json.Unmarshal([]byte(a.Events), &events)
	return events, err
}

func (a *Automation) SetEvents(events []RecordedEvent) error {
	data, err := json.Marshal(events)
	if err != nil {
		return err
	}
	a.Events = string(data)
	a.EventCount = len(events)
	return nil
}

func (a *Automation) GetMouseTrail() ([]MousePoint, error) {
	var trail []MousePoint
	if a.MouseTrail == "" {
		return trail, nil
	}
	err := json.Unmarshal([]byte(a.MouseTrail), &trail)
	return trail, err
}

func (a *Automation) SetMouseTrail(trail []MousePoint) error {
	data, err := json.Marshal(trail)
	if err != nil {
		return err
	}
	a.MouseTrail = string(data)
	return nil
}

// AutomationDocument is the wire format exchanged with the sharing service.
// It must round-trip exactly.
type AutomationDocument struct {
	ID             uint            `json:"id"`
	Name           string          `json:"name"`
	Description    string          `json:"description,omitempty"`
	Events         []RecordedEvent `json:"events"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
	CronExpression string          `json:"cron,omitempty"`
	IsEnabled      bool            `json:"isEnabled"`
	StartURL       string          `json:"startUrl"`
	MouseMovements []MousePoint    `json:"mouseMovements,omitempty"`
	Duration       int64           `json:"duration"`
}

// Document expands the JSON columns into the shareable wire format.
func (a *Automation) Document() (*AutomationDocument, error) {
	events, err := a.GetEvents()
	if err != nil {
		return nil, err
	}
	trail, err := a.GetMouseTrail()
	if err != nil {
		return nil, err
	}
	if events == nil {
		events = make([]RecordedEvent, 0)
	}
	return &AutomationDocument{
		ID:             a.ID,
		Name:           a.Name,
		Description:    a.Description,
		Events:         events,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
		CronExpression: a.CronExpression,
		IsEnabled:      a.IsEnabled,
		StartURL:       a.StartURL,
		MouseMovements: trail,
		Duration:       a.Duration,
	}, nil
}

// FromDocument folds a wire document back into a storable automation. The
// document's id and timestamps are discarded; imports are new rows.
func FromDocument(doc *AutomationDocument) (*Automation, error) {
	a := &Automation{
		Name:           doc.Name,
		Description:    doc.Description,
		CronExpression: doc.CronExpression,
		IsEnabled:      doc.IsEnabled,
		StartURL:       doc.StartURL,
		Duration:       doc.Duration,
	}
	if err := a.SetEvents(doc.Events); err != nil {
		return nil, err
	}
	if err := a.SetMouseTrail(doc.MouseMovements); err != nil {
		return nil, err
	}
	return a, nil
}

// Run history statuses.
const (
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusFailed  = "failed"
	RunStatusPaused  = "paused"
)

// StalenessWindow is how long a run may stay "running" before the cleanup
// pass forcibly marks it failed.
const StalenessWindow = 5 * time.Minute

// RunHistory is one replay attempt of an automation.
type RunHistory struct {
	BaseModel
	RunID           string     `json:"run_id" gorm:"uniqueIndex;size:36;not null"`
	AutomationID    uint       `json:"automation_id" gorm:"not null;index"`
	AutomationName  string     `json:"automation_name" gorm:"size:200"`
	Status          string     `json:"status" gorm:"size:20;not null;index"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time"`
	EventsCompleted int        `json:"events_completed"`
	TotalEvents     int        `json:"total_events"`
	ErrorMessage    string     `json:"error_message" gorm:"type:text"`
}

// RecordingSession is the ephemeral state of the single in-progress
// recording. It lives in the coordinator and is persisted as a snapshot so
// it survives tab navigation and process restarts.
type RecordingSession struct {
	SessionID  string          `json:"session_id"`
	TabID      int             `json:"tab_id"`
	Events     []RecordedEvent `json:"events"`
	MouseTrail []MousePoint    `json:"mouse_trail,omitempty"`
	StartURL   string          `json:"start_url"`
	StartedAt  time.Time       `json:"started_at"`
	Paused     bool            `json:"paused"`
}

// Elapsed is the recording duration so far in milliseconds.
func (s *RecordingSession) Elapsed(now time.Time) int64 {
	return now.Sub(s.StartedAt).Milliseconds()
}

// SessionSnapshot is the persisted form of the active RecordingSession.
// At most one row is live at a time.
type SessionSnapshot struct {
	BaseModel
	SessionID string `json:"session_id" gorm:"uniqueIndex;size:36;not null"`
	Payload   string `json:"-" gorm:"type:longtext"` // JSON RecordingSession
}

func (s *SessionSnapshot) Decode() (*RecordingSession, error) {
	var session RecordingSession
	if err := json.Unmarshal([]byte(s.Payload), &session); err != nil {
		return nil, err
	}
	return &session, nil
}

func EncodeSnapshot(session *RecordingSession) (*SessionSnapshot, error) {
	payload, err := json.Marshal(session)
	if err != nil {
		return nil, err
	}
	return &SessionSnapshot{SessionID: session.SessionID, Payload: string(payload)}, nil
}

// AlarmPrefix keys scheduler timers so a firing can be mapped back to the
// owning automation.
const AlarmPrefix = "automation-run-"
