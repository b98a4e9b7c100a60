package handlers

import (
	"github.com/gin-gonic/gin"

	"webpilot/backend/internal/locator"
	"webpilot/backend/pkg/response"
)

// FindElement proxies a vision locate request from the capture context.
func FindElement(c *gin.Context) {
	if !vision.Enabled() {
		response.BadRequest(c, "vision service is not configured")
		return
	}

	var req locator.LocateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := vision.FindElement(c.Request.Context(), req)
	if err != nil {
		response.InternalServerError(c, err.Error())
		return
	}
	response.Success(c, result)
}

// DescribeAction proxies a vision describe request from the capture context.
func DescribeAction(c *gin.Context) {
	if !vision.Enabled() {
		response.BadRequest(c, "vision service is not configured")
		return
	}

	var req locator.DescribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	description, err := vision.DescribeAction(c.Request.Context(), req)
	if err != nil {
		response.InternalServerError(c, err.Error())
		return
	}
	response.Success(c, gin.H{"description": description})
}
