// Package protocol defines the message vocabulary exchanged with the
// in-page capture context over the websocket relay. Every message kind is a
// distinct struct behind the sealed Message interface; the envelope codec is
// the single place a kind is registered, so an unhandled kind fails loudly
// at decode time instead of being silently dropped.
package protocol

import (
	"encoding/json"
	"fmt"

	"webpilot/backend/internal/models"
	"webpilot/backend/internal/recorder"
)

// Message is implemented only by the structs in this package.
type Message interface {
	Kind() string
	isMessage()
}

// Background-bound commands.

// StartRecording asks for a new recording session in the given tab.
type StartRecording struct {
	TabID int    `json:"tabId"`
	URL   string `json:"url"`
}

// PauseRecording suspends event intake without ending the session.
type PauseRecording struct {
	SessionID string `json:"sessionId"`
}

// ResumeRecording lifts a pause.
type ResumeRecording struct {
	SessionID string `json:"sessionId"`
}

// StopRecording ends the session and discards it.
type StopRecording struct {
	SessionID string `json:"sessionId"`
}

// StopRecordingWithName ends the session and saves it as a named automation.
type StopRecordingWithName struct {
	SessionID string `json:"sessionId"`
	Name      string `json:"name"`
	Share     bool   `json:"share,omitempty"`
}

// RecordedDOMEvent carries one captured event from the page context, still
// in its raw capture shape.
type RecordedDOMEvent struct {
	SessionID string            `json:"sessionId"`
	Event     recorder.RawEvent `json:"event"`
}

// RunAutomation starts a replay of a stored automation.
type RunAutomation struct {
	AutomationID uint `json:"automationId"`
	TabID        int  `json:"tabId,omitempty"`
}

// StopAutomation cancels a replay in flight.
type StopAutomation struct {
	RunID string `json:"runId"`
}

// AIFindElement proxies a vision locate request from the page context.
type AIFindElement struct {
	SessionID   string       `json:"sessionId"`
	Screenshot  string       `json:"screenshot"`
	Description string       `json:"description"`
	Rect        *models.Rect `json:"rect,omitempty"`
}

// AIDescribeAction proxies a vision describe request from the page context.
type AIDescribeAction struct {
	SessionID   string            `json:"sessionId"`
	Screenshot  string            `json:"screenshot"`
	TagName     string            `json:"tagName,omitempty"`
	TextContent string            `json:"textContent,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// Page-bound notifications.

// RestoreRecordingState re-arms capture in a freshly navigated page with the
// surviving session identity and counters.
type RestoreRecordingState struct {
	SessionID  string `json:"sessionId"`
	EventCount int    `json:"eventCount"`
	DurationMs int64  `json:"durationMs"`
	Paused     bool   `json:"paused"`
}

// AutomationProgress reports replay progress after each completed event.
type AutomationProgress struct {
	RunID           string `json:"runId"`
	EventsCompleted int    `json:"eventsCompleted"`
	TotalEvents     int    `json:"totalEvents"`
}

// AutomationComplete reports the final outcome of a replay.
type AutomationComplete struct {
	RunID   string `json:"runId"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (StartRecording) Kind() string        { return "START_RECORDING" }
func (PauseRecording) Kind() string        { return "PAUSE_RECORDING" }
func (ResumeRecording) Kind() string       { return "RESUME_RECORDING" }
func (StopRecording) Kind() string         { return "STOP_RECORDING" }
func (StopRecordingWithName) Kind() string { return "STOP_RECORDING_WITH_NAME" }
func (RestoreRecordingState) Kind() string { return "RESTORE_RECORDING_STATE" }
func (RecordedDOMEvent) Kind() string      { return "RECORDED_DOM_EVENT" }
func (RunAutomation) Kind() string         { return "RUN_AUTOMATION" }
func (StopAutomation) Kind() string        { return "STOP_AUTOMATION" }
func (AutomationProgress) Kind() string    { return "AUTOMATION_PROGRESS" }
func (AutomationComplete) Kind() string    { return "AUTOMATION_COMPLETE" }
func (AIFindElement) Kind() string         { return "AI_FIND_ELEMENT" }
func (AIDescribeAction) Kind() string      { return "AI_DESCRIBE_ACTION" }

func (StartRecording) isMessage()        {}
func (PauseRecording) isMessage()        {}
func (ResumeRecording) isMessage()       {}
func (StopRecording) isMessage()         {}
func (StopRecordingWithName) isMessage() {}
func (RestoreRecordingState) isMessage() {}
func (RecordedDOMEvent) isMessage()      {}
func (RunAutomation) isMessage()         {}
func (StopAutomation) isMessage()        {}
func (AutomationProgress) isMessage()    {}
func (AutomationComplete) isMessage()    {}
func (AIFindElement) isMessage()         {}
func (AIDescribeAction) isMessage()      {}

// decoders maps wire kind to a constructor; one entry per message kind.
var decoders = map[string]func() Message{
	StartRecording{}.Kind():        func() Message { return &StartRecording{} },
	PauseRecording{}.Kind():        func() Message { return &PauseRecording{} },
	ResumeRecording{}.Kind():       func() Message { return &ResumeRecording{} },
	StopRecording{}.Kind():         func() Message { return &StopRecording{} },
	StopRecordingWithName{}.Kind(): func() Message { return &StopRecordingWithName{} },
	RestoreRecordingState{}.Kind(): func() Message { return &RestoreRecordingState{} },
	RecordedDOMEvent{}.Kind():      func() Message { return &RecordedDOMEvent{} },
	RunAutomation{}.Kind():         func() Message { return &RunAutomation{} },
	StopAutomation{}.Kind():        func() Message { return &StopAutomation{} },
	AutomationProgress{}.Kind():    func() Message { return &AutomationProgress{} },
	AutomationComplete{}.Kind():    func() Message { return &AutomationComplete{} },
	AIFindElement{}.Kind():         func() Message { return &AIFindElement{} },
	AIDescribeAction{}.Kind():      func() Message { return &AIDescribeAction{} },
}

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode wraps a message in the {type, payload} wire envelope.
func Encode(msg Message) ([]byte, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", msg.Kind(), err)
	}
	return json.Marshal(envelope{Type: msg.Kind(), Payload: payload})
}

// Decode parses a wire envelope into the concrete message struct. Unknown
// types are an error, never a silent drop.
func Decode(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("decode envelope: missing type")
	}
	newMsg, ok := decoders[env.Type]
	if !ok {
		return nil, fmt.Errorf("decode envelope: unknown message type %q", env.Type)
	}
	msg := newMsg()
	if len(env.Payload) > 0 {
		if err := json.Unmarshal(env.Payload, msg); err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", env.Type, err)
		}
	}
	return msg, nil
}

// Response is the uniform reply shape for every command: success plus either
// a payload or an error string, never both.
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func OK(data interface{}) Response { return Response{Success: true, Data: data} }
func Fail(err error) Response      { return Response{Success: false, Error: err.Error()} }
func Failf(msg string) Response    { return Response{Success: false, Error: msg} }
