package handlers

import (
	"errors"
	"log"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"webpilot/backend/internal/locator"
	"webpilot/backend/internal/protocol"
	"webpilot/backend/internal/session"
	"webpilot/backend/pkg/response"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// relay fans page-bound messages out to every connected capture context.
type relay struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

var wsRelay = &relay{conns: make(map[*websocket.Conn]struct{})}

func (r *relay) add(conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[conn] = struct{}{}
}

func (r *relay) remove(conn *websocket.Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, conn)
}

// Broadcast pushes a message at every connected page context. Best-effort:
// a dead connection is dropped, not retried.
func Broadcast(msg protocol.Message) {
	data, err := protocol.Encode(msg)
	if err != nil {
		log.Printf("ws: encode %s: %v", msg.Kind(), err)
		return
	}

	wsRelay.mu.Lock()
	defer wsRelay.mu.Unlock()
	for conn := range wsRelay.conns {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			conn.Close()
			delete(wsRelay.conns, conn)
		}
	}
}

func StartRecording(c *gin.Context) {
	var req struct {
		TabID int    `json:"tab_id"`
		URL   string `json:"url" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	sessionID, err := coordinator.StartRecording(c.Request.Context(), req.TabID, req.URL)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrSessionActive):
			response.Conflict(c, err.Error())
		case errors.Is(err, session.ErrRestrictedURL):
			response.BadRequest(c, err.Error())
		default:
			response.InternalServerError(c, "failed to start recording: "+err.Error())
		}
		return
	}

	response.SuccessWithMessage(c, "recording started", gin.H{
		"session_id": sessionID,
	})
}

func sessionCommand(c *gin.Context, run func(sessionID string) error) {
	var req struct {
		SessionID string `json:"session_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := run(req.SessionID); err != nil {
		switch {
		case errors.Is(err, session.ErrNoSession), errors.Is(err, session.ErrSessionMismatch):
			response.NotFound(c, err.Error())
		default:
			response.InternalServerError(c, err.Error())
		}
		return
	}
	response.Success(c, nil)
}

func PauseRecording(c *gin.Context) {
	sessionCommand(c, func(id string) error {
		return coordinator.Pause(c.Request.Context(), id)
	})
}

func ResumeRecording(c *gin.Context) {
	sessionCommand(c, func(id string) error {
		return coordinator.Resume(c.Request.Context(), id)
	})
}

func CancelRecording(c *gin.Context) {
	sessionCommand(c, func(id string) error {
		return coordinator.Cancel(c.Request.Context(), id)
	})
}

func StopRecording(c *gin.Context) {
	var req struct {
		SessionID string `json:"session_id" binding:"required"`
		Name      string `json:"name" binding:"required"`
		Share     bool   `json:"share"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := coordinator.StopWithName(c.Request.Context(), req.SessionID, req.Name, req.Share)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrNoSession), errors.Is(err, session.ErrSessionMismatch):
			response.NotFound(c, err.Error())
		default:
			response.InternalServerError(c, "failed to save recording: "+err.Error())
		}
		return
	}

	// A freshly saved automation with a cron expression gets its alarm now.
	if alarms != nil && result.Automation.CronExpression != "" && result.Automation.IsEnabled {
		if err := alarms.Schedule(result.Automation.ID, result.Automation.CronExpression); err != nil {
			log.Printf("recording: could not schedule automation %d: %v", result.Automation.ID, err)
		}
	}

	response.SuccessWithMessage(c, "recording saved", result)
}

func GetRecordingStatus(c *gin.Context) {
	status, err := coordinator.Status(c.Request.Context())
	if err != nil {
		response.InternalServerError(c, err.Error())
		return
	}
	response.Success(c, status)
}

// RecordingWebSocket is the relay between page capture contexts and the
// coordinator: inbound frames are protocol envelopes, outbound frames are
// restore/progress/completion notifications.
func RecordingWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("ws: upgrade failed: %v", err)
		return
	}
	wsRelay.add(conn)
	defer func() {
		wsRelay.remove(conn)
		conn.Close()
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		msg, err := protocol.Decode(data)
		if err != nil {
			writeResponse(conn, protocol.Fail(err))
			continue
		}
		writeResponse(conn, handleWSMessage(c, msg))
	}
}

func handleWSMessage(c *gin.Context, msg protocol.Message) protocol.Response {
	ctx := c.Request.Context()

	switch m := msg.(type) {
	case *protocol.RecordedDOMEvent:
		recorded, err := coordinator.Ingest(ctx, m.SessionID, m.Event)
		if err != nil {
			return protocol.Fail(err)
		}
		return protocol.OK(gin.H{"recorded": recorded})

	case *protocol.StartRecording:
		sessionID, err := coordinator.StartRecording(ctx, m.TabID, m.URL)
		if err != nil {
			return protocol.Fail(err)
		}
		return protocol.OK(gin.H{"session_id": sessionID})

	case *protocol.PauseRecording:
		if err := coordinator.Pause(ctx, m.SessionID); err != nil {
			return protocol.Fail(err)
		}
		return protocol.OK(nil)

	case *protocol.ResumeRecording:
		if err := coordinator.Resume(ctx, m.SessionID); err != nil {
			return protocol.Fail(err)
		}
		return protocol.OK(nil)

	case *protocol.StopRecording:
		if err := coordinator.Cancel(ctx, m.SessionID); err != nil {
			return protocol.Fail(err)
		}
		return protocol.OK(nil)

	case *protocol.StopRecordingWithName:
		result, err := coordinator.StopWithName(ctx, m.SessionID, m.Name, m.Share)
		if err != nil {
			return protocol.Fail(err)
		}
		return protocol.OK(result)

	case *protocol.RunAutomation:
		runID, err := coordinator.RunAutomation(ctx, m.AutomationID)
		if err != nil {
			return protocol.Fail(err)
		}
		return protocol.OK(gin.H{"run_id": runID})

	case *protocol.StopAutomation:
		if err := coordinator.StopAutomation(ctx, m.RunID); err != nil {
			return protocol.Fail(err)
		}
		return protocol.OK(nil)

	case *protocol.AIFindElement:
		if !vision.Enabled() {
			return protocol.Failf("vision service is not configured")
		}
		result, err := vision.FindElement(ctx, locator.LocateRequest{
			Screenshot:   m.Screenshot,
			Description:  m.Description,
			RecordedRect: m.Rect,
		})
		if err != nil {
			return protocol.Fail(err)
		}
		return protocol.OK(result)

	case *protocol.AIDescribeAction:
		if !vision.Enabled() {
			return protocol.Failf("vision service is not configured")
		}
		desc, err := vision.DescribeAction(ctx, locator.DescribeRequest{
			Screenshot:  m.Screenshot,
			TagName:     m.TagName,
			TextContent: m.TextContent,
			Attributes:  m.Attributes,
		})
		if err != nil {
			return protocol.Fail(err)
		}
		return protocol.OK(gin.H{"description": desc})

	default:
		return protocol.Failf("message type " + msg.Kind() + " is not accepted on this channel")
	}
}

func writeResponse(conn *websocket.Conn, resp protocol.Response) {
	if err := conn.WriteJSON(resp); err != nil {
		log.Printf("ws: write response: %v", err)
	}
}

// HandleNavigation is invoked by the capture context when its tab commits a
// navigation mid-recording.
func HandleNavigation(c *gin.Context) {
	var req struct {
		SessionID string `json:"session_id" binding:"required"`
		URL       string `json:"url" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	restore, err := coordinator.HandleNavigation(c.Request.Context(), req.SessionID, req.URL)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrNoSession), errors.Is(err, session.ErrSessionMismatch):
			response.NotFound(c, err.Error())
		default:
			response.InternalServerError(c, err.Error())
		}
		return
	}
	response.Success(c, restore)
}
