// Package handlers is the HTTP surface. Handlers are package-level gin
// functions over dependencies wired once at startup via Setup.
package handlers

import (
	"webpilot/backend/internal/locator"
	"webpilot/backend/internal/scheduler"
	"webpilot/backend/internal/session"
	"webpilot/backend/internal/share"
	"webpilot/backend/internal/store"

	"github.com/gin-gonic/gin"

	"webpilot/backend/pkg/response"
)

var (
	coordinator *session.Coordinator
	stores      *store.Stores
	vision      *locator.Client
	sharer      *share.Client
	alarms      *scheduler.AlarmManager
)

// Setup wires the handler package. Must run before routes are served.
func Setup(c *session.Coordinator, s *store.Stores, v *locator.Client, sh *share.Client, a *scheduler.AlarmManager) {
	coordinator = c
	stores = s
	vision = v
	sharer = sh
	alarms = a
}

func HealthCheck(c *gin.Context) {
	response.Success(c, gin.H{"status": "ok"})
}
