package handlers

import (
	"errors"
	"strconv"

	"github.com/gin-gonic/gin"

	"webpilot/backend/internal/store"
	"webpilot/backend/pkg/response"
)

func GetRuns(c *gin.Context) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "20"))
	automationID, _ := strconv.ParseUint(c.DefaultQuery("automation_id", "0"), 10, 32)

	runs, total, err := stores.Runs.List(uint(automationID), page, pageSize)
	if err != nil {
		response.InternalServerError(c, err.Error())
		return
	}
	response.Page(c, runs, total, page, pageSize)
}

func GetRun(c *gin.Context) {
	run, err := stores.Runs.GetByRunID(c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			response.NotFound(c, "run not found")
		} else {
			response.InternalServerError(c, err.Error())
		}
		return
	}
	response.Success(c, run)
}

func DeleteRun(c *gin.Context) {
	if err := stores.Runs.Delete(c.Param("id")); err != nil {
		response.InternalServerError(c, err.Error())
		return
	}
	response.Success(c, nil)
}
