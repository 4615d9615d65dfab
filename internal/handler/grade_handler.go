package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/gradebook-api/internal/service"
	appErrors "github.com/noah-isme/gradebook-api/pkg/errors"
	"github.com/noah-isme/gradebook-api/pkg/response"
)

// GradeHandler exposes raw score endpoints.
type GradeHandler struct {
	grades        *service.GradeService
	importMaxRows int
}

// NewGradeHandler constructs handler.
func NewGradeHandler(grades *service.GradeService, importMaxRows int) *GradeHandler {
	return &GradeHandler{grades: grades, importMaxRows: importMaxRows}
}

func actorID(c *gin.Context) string {
	if claims := claimsFromContext(c); claims != nil {
		return claims.UserID
	}
	return ""
}

// Upsert godoc
// @Summary Record or correct a raw score
// @Tags Grades
// @Accept json
// @Produce json
// @Param payload body service.UpsertScoreRequest true "Score payload"
// @Success 200 {object} response.Envelope
// @Router /grades [post]
func (h *GradeHandler) Upsert(c *gin.Context) {
	var req service.UpsertScoreRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	rec, err := h.grades.UpsertScore(c.Request.Context(), actorID(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rec, nil)
}

// Bulk godoc
// @Summary Record many scores for a course
// @Tags Grades
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Param payload body service.BulkScoresRequest true "Bulk payload"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/grades/bulk [post]
func (h *GradeHandler) Bulk(c *gin.Context) {
	var req service.BulkScoresRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	result, err := h.grades.BulkUpsertScores(c.Request.Context(), actorID(c), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// ListByStudent godoc
// @Summary List a student's raw scores in a course
// @Tags Grades
// @Produce json
// @Param id path string true "Course ID"
// @Param studentId path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/students/{studentId}/grades [get]
func (h *GradeHandler) ListByStudent(c *gin.Context) {
	records, err := h.grades.ListByStudent(c.Request.Context(), c.Param("studentId"), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, nil)
}

// Delete godoc
// @Summary Delete a recorded score
// @Tags Grades
// @Param studentId path string true "Student ID"
// @Param assignmentId path string true "Assignment ID"
// @Success 204 {object} response.Envelope
// @Router /grades/{studentId}/{assignmentId} [delete]
func (h *GradeHandler) Delete(c *gin.Context) {
	if err := h.grades.DeleteScore(c.Request.Context(), actorID(c), c.Param("studentId"), c.Param("assignmentId")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Import godoc
// @Summary Import a grade sheet from CSV
// @Tags Grades
// @Accept mpfd
// @Produce json
// @Param id path string true "Course ID"
// @Param file formData file true "CSV with student_id,assignment_title,score"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/grades/import [post]
func (h *GradeHandler) Import(c *gin.Context) {
	file, _, err := c.Request.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "multipart file field 'file' required"))
		return
	}
	defer file.Close()

	result, err := h.grades.ImportScoresCSV(c.Request.Context(), actorID(c), c.Param("id"), file, h.importMaxRows)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
