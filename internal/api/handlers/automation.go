package handlers

import (
	"errors"
	"log"
	"strconv"

	"github.com/gin-gonic/gin"

	"webpilot/backend/internal/models"
	"webpilot/backend/internal/scheduler"
	"webpilot/backend/internal/store"
	"webpilot/backend/pkg/response"
)

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		response.BadRequest(c, "invalid id")
		return 0, false
	}
	return uint(id), true
}

func GetAutomations(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))

	automations, total, err := stores.Automations.List(page, pageSize)
	if err != nil {
		response.InternalServerError(c, err.Error())
		return
	}
	response.Page(c, automations, total, page, pageSize)
}

func GetAutomation(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	automation, err := stores.Automations.Get(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			response.NotFound(c, "automation not found")
		} else {
			response.InternalServerError(c, err.Error())
		}
		return
	}

	doc, err := automation.Document()
	if err != nil {
		response.InternalServerError(c, "corrupt automation payload: "+err.Error())
		return
	}
	response.Success(c, doc)
}

// CreateAutomation stores an automation posted as a full wire document, the
// same shape the sharing service exchanges.
func CreateAutomation(c *gin.Context) {
	var doc models.AutomationDocument
	if err := c.ShouldBindJSON(&doc); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	saveDocument(c, &doc)
}

// ImportAutomation fetches a shared automation by its code and stores a
// local copy.
func ImportAutomation(c *gin.Context) {
	var req struct {
		Code string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if sharer == nil || !sharer.Enabled() {
		response.BadRequest(c, "sharing service is not configured")
		return
	}

	doc, err := sharer.Fetch(c.Request.Context(), req.Code)
	if err != nil {
		response.InternalServerError(c, "fetch shared automation: "+err.Error())
		return
	}
	saveDocument(c, doc)
}

func saveDocument(c *gin.Context, doc *models.AutomationDocument) {
	if doc.Name == "" || doc.StartURL == "" {
		response.BadRequest(c, "name and startUrl are required")
		return
	}
	if doc.CronExpression != "" {
		if _, err := scheduler.ParseExpression(doc.CronExpression); err != nil {
			response.BadRequest(c, "invalid cron expression: "+err.Error())
			return
		}
	}
	for _, ev := range doc.Events {
		if !ev.Type.Valid() {
			response.BadRequest(c, "unknown event type: "+string(ev.Type))
			return
		}
	}

	automation, err := models.FromDocument(doc)
	if err != nil {
		response.BadRequest(c, "invalid automation document: "+err.Error())
		return
	}
	if err := stores.Automations.Create(automation); err != nil {
		response.InternalServerError(c, err.Error())
		return
	}

	syncAlarm(automation)
	response.SuccessWithMessage(c, "automation saved", automation)
}

type automationUpdate struct {
	Name           *string `json:"name"`
	Description    *string `json:"description"`
	CronExpression *string `json:"cron_expression"`
	IsEnabled      *bool   `json:"is_enabled"`
	StartURL       *string `json:"start_url"`
}

func UpdateAutomation(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var req automationUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if req.CronExpression != nil && *req.CronExpression != "" {
		if _, err := scheduler.ParseExpression(*req.CronExpression); err != nil {
			response.BadRequest(c, "invalid cron expression: "+err.Error())
			return
		}
	}

	automation, err := stores.Automations.Get(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			response.NotFound(c, "automation not found")
		} else {
			response.InternalServerError(c, err.Error())
		}
		return
	}

	if req.Name != nil {
		automation.Name = *req.Name
	}
	if req.Description != nil {
		automation.Description = *req.Description
	}
	if req.CronExpression != nil {
		automation.CronExpression = *req.CronExpression
	}
	if req.IsEnabled != nil {
		automation.IsEnabled = *req.IsEnabled
	}
	if req.StartURL != nil {
		automation.StartURL = *req.StartURL
	}

	if err := stores.Automations.Update(automation); err != nil {
		response.InternalServerError(c, err.Error())
		return
	}

	syncAlarm(automation)
	response.Success(c, automation)
}

// syncAlarm re-arms or clears the schedule after any automation change.
func syncAlarm(automation *models.Automation) {
	if alarms == nil {
		return
	}
	if automation.IsEnabled && automation.CronExpression != "" {
		if err := alarms.Schedule(automation.ID, automation.CronExpression); err != nil {
			log.Printf("automation %d left unscheduled: %v", automation.ID, err)
		}
		return
	}
	alarms.Clear(automation.ID)
}

func DeleteAutomation(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := stores.Automations.Delete(id); err != nil {
		response.InternalServerError(c, err.Error())
		return
	}
	if alarms != nil {
		alarms.Clear(id)
	}
	response.Success(c, nil)
}

func RunAutomation(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	runID, err := coordinator.RunAutomation(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			response.NotFound(c, "automation not found")
		} else {
			response.InternalServerError(c, "failed to start run: "+err.Error())
		}
		return
	}
	response.SuccessWithMessage(c, "run started", gin.H{"run_id": runID})
}

func StopAutomation(c *gin.Context) {
	var req struct {
		RunID string `json:"run_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := coordinator.StopAutomation(c.Request.Context(), req.RunID); err != nil {
		response.NotFound(c, err.Error())
		return
	}
	response.Success(c, nil)
}
