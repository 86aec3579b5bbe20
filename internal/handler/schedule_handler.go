package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/campus-registrar-api/internal/service"
	appErrors "github.com/noah-isme/campus-registrar-api/pkg/errors"
	"github.com/noah-isme/campus-registrar-api/pkg/response"
)

// ScheduleHandler exposes schedule assignment and conflict endpoints.
type ScheduleHandler struct {
	schedules *service.ScheduleService
}

// NewScheduleHandler constructs ScheduleHandler.
func NewScheduleHandler(schedules *service.ScheduleService) *ScheduleHandler {
	return &ScheduleHandler{schedules: schedules}
}

// CreateAssignment godoc
// @Summary Place a section into a room and time slot
// @Tags Schedules
// @Accept json
// @Produce json
// @Param id path string true "Section ID"
// @Param payload body service.CreateAssignmentRequest true "Assignment payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /sections/{id}/schedule [post]
func (h *ScheduleHandler) CreateAssignment(c *gin.Context) {
	var req service.CreateAssignmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	assignment, err := h.schedules.CreateAssignment(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, assignment)
}

// CancelAssignment godoc
// @Summary Cancel a schedule assignment
// @Tags Schedules
// @Produce json
// @Param id path string true "Assignment ID"
// @Success 204 "No Content"
// @Router /schedule-assignments/{id} [delete]
func (h *ScheduleHandler) CancelAssignment(c *gin.Context) {
	if err := h.schedules.CancelAssignment(c.Request.Context(), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// CheckConflict godoc
// @Summary Check a candidate slot for room and instructor conflicts
// @Tags Schedules
// @Accept json
// @Produce json
// @Param payload body service.CheckConflictRequest true "Candidate payload"
// @Success 200 {object} response.Envelope
// @Router /sections/check-conflict [post]
func (h *ScheduleHandler) CheckConflict(c *gin.Context) {
	var req service.CheckConflictRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.schedules.CheckConflict(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// Timetable godoc
// @Summary Get the unified meeting list for a section
// @Tags Schedules
// @Produce json
// @Param id path string true "Section ID"
// @Success 200 {object} response.Envelope
// @Router /sections/{id}/schedule [get]
func (h *ScheduleHandler) Timetable(c *gin.Context) {
	meetings, err := h.schedules.SectionTimetable(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, meetings, nil)
}
