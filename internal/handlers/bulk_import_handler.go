package handlers

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"catalog-service/internal/middleware"
	"catalog-service/internal/models"
	"catalog-service/internal/services"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/xuri/excelize/v2"
)

// BulkImportService is the import pipeline as seen by the HTTP layer
type BulkImportService interface {
	CreateImport(ctx context.Context, input services.CreateImportInput) (*models.ImportSession, error)
	GetImport(ctx context.Context, storeID string, sessionID uuid.UUID) (*models.ImportSummary, error)
	ListDrafts(ctx context.Context, storeID string, sessionID uuid.UUID) ([]models.DraftProduct, error)
	ListCreationLogs(ctx context.Context, storeID string, sessionID uuid.UUID) ([]models.ProductCreationLog, error)
	IngestUpload(ctx context.Context, storeID string, sessionID uuid.UUID, files []services.UploadFile) (*models.UploadResult, error)
	UpdateDraft(ctx context.Context, storeID string, draftID uuid.UUID, fields map[string]json.RawMessage) (*models.DraftProduct, error)
	SplitGroup(ctx context.Context, storeID string, draftID uuid.UUID, imageIDs []uuid.UUID) (*models.DraftProduct, error)
	MergeGroups(ctx context.Context, storeID string, targetID, sourceID uuid.UUID) error
	ChangePrimaryImage(ctx context.Context, storeID string, draftID, imageID uuid.UUID) error
	ApplyBatchDefaults(ctx context.Context, storeID string, sessionID uuid.UUID, defaults models.DraftDefaults) (int64, error)
	DeleteDraft(ctx context.Context, storeID string, draftID uuid.UUID) error
	ValidateSession(ctx context.Context, storeID string, sessionID uuid.UUID) (*models.ValidationReport, error)
	PromoteSession(ctx context.Context, storeID string, sessionID uuid.UUID) (*models.PromotionResult, error)
	CleanupTempFiles(ctx context.Context, sessionID uuid.UUID)
	BuildReport(ctx context.Context, storeID string, sessionID uuid.UUID) ([]models.ImportReportRow, error)
}

type BulkImportHandler struct {
	service BulkImportService
	logger  *logrus.Logger
	// async runs background work such as temp file cleanup
	async func(fn func())
}

func NewBulkImportHandler(service BulkImportService, logger *logrus.Logger) *BulkImportHandler {
	return &BulkImportHandler{
		service: service,
		logger:  logger,
		async:   func(fn func()) { go fn() },
	}
}

// RegisterRoutes mounts the bulk import endpoints on group. read guards the
// read-only routes and write the mutating ones.
func (h *BulkImportHandler) RegisterRoutes(group *gin.RouterGroup, read, write gin.HandlerFunc) {
	group.POST("", write, h.CreateImport)
	group.GET("/:id", read, h.GetImport)
	group.POST("/:id/upload", write, h.UploadFiles)
	group.GET("/:id/drafts", read, h.ListDrafts)
	group.GET("/:id/logs", read, h.ListCreationLogs)
	group.GET("/:id/report", read, h.GetReport)
	group.POST("/:id/apply-defaults", write, h.ApplyDefaults)
	group.POST("/:id/validate", write, h.Validate)
	group.POST("/:id/promote", write, h.Promote)

	drafts := group.Group("/drafts")
	{
		drafts.PUT("/:draftId", write, h.UpdateDraft)
		drafts.DELETE("/:draftId", write, h.DeleteDraft)
		drafts.POST("/:draftId/split", write, h.SplitDraft)
		drafts.POST("/:draftId/merge", write, h.MergeDraft)
		drafts.POST("/:draftId/primary-image", write, h.SetPrimaryImage)
	}
}

func errorResponse(c *gin.Context, status int, code, message string) {
	c.JSON(status, models.ErrorResponse{
		Success: false,
		Error: models.Error{
			Code:    code,
			Message: message,
		},
	})
}

// handleServiceError maps service errors to HTTP responses
func (h *BulkImportHandler) handleServiceError(c *gin.Context, err error, action string) {
	switch {
	case errors.Is(err, services.ErrAlreadyPromoted):
		errorResponse(c, http.StatusConflict, "ALREADY_PROMOTED", err.Error())
	case errors.Is(err, services.ErrInvalidInput):
		errorResponse(c, http.StatusBadRequest, "VALIDATION_ERROR", err.Error())
	case errors.Is(err, services.ErrNotFound):
		errorResponse(c, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, services.ErrInvalidReference):
		errorResponse(c, http.StatusUnprocessableEntity, "INVALID_REFERENCE", err.Error())
	default:
		h.logger.WithError(err).WithField("path", c.FullPath()).Error("Failed to " + action)
		errorResponse(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to "+action)
	}
}

func parseIDParam(c *gin.Context, name, label string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		errorResponse(c, http.StatusBadRequest, "INVALID_ID", "Invalid "+label+" ID format")
		return uuid.Nil, false
	}
	return id, true
}

// CreateImport opens a new bulk import session
// @Summary Create bulk import
// @Description Start a bulk image import session, optionally with default draft settings
// @Tags Bulk Imports
// @Accept json
// @Produce json
// @Param request body models.CreateImportRequest false "Default settings"
// @Success 201 {object} models.SuccessResponse
// @Failure 400 {object} models.ErrorResponse
// @Router /bulk-imports [post]
func (h *BulkImportHandler) CreateImport(c *gin.Context) {
	var req models.CreateImportRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
			errorResponse(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
			return
		}
	}

	session, err := h.service.CreateImport(c.Request.Context(), services.CreateImportInput{
		StoreID:  middleware.GetStoreID(c),
		UserID:   middleware.GetUserID(c),
		Defaults: req.DefaultSettings,
	})
	if err != nil {
		h.handleServiceError(c, err, "create import session")
		return
	}

	c.JSON(http.StatusCreated, models.SuccessResponse{
		Success: true,
		Data:    session,
	})
}

// GetImport returns a session with draft counts per status
// GET /api/v1/bulk-imports/:id
func (h *BulkImportHandler) GetImport(c *gin.Context) {
	sessionID, ok := parseIDParam(c, "id", "import session")
	if !ok {
		return
	}

	summary, err := h.service.GetImport(c.Request.Context(), middleware.GetStoreID(c), sessionID)
	if err != nil {
		h.handleServiceError(c, err, "get import session")
		return
	}

	c.JSON(http.StatusOK, models.SuccessResponse{
		Success: true,
		Data:    summary,
	})
}

// UploadFiles stores a batch of images and groups them into drafts
// @Summary Upload images
// @Description Upload product images; files are grouped into drafts by filename
// @Tags Bulk Imports
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Import session ID"
// @Param files formData file true "Image files"
// @Success 200 {object} models.SuccessResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /bulk-imports/{id}/upload [post]
func (h *BulkImportHandler) UploadFiles(c *gin.Context) {
	sessionID, ok := parseIDParam(c, "id", "import session")
	if !ok {
		return
	}

	form, err := c.MultipartForm()
	if err != nil || len(form.File["files"]) == 0 {
		errorResponse(c, http.StatusBadRequest, "FILE_REQUIRED", "Please upload at least one image in the files field")
		return
	}

	headers := form.File["files"]
	files := make([]services.UploadFile, 0, len(headers))
	for _, fh := range headers {
		files = append(files, services.UploadFile{
			Filename:    fh.Filename,
			ContentType: fh.Header.Get("Content-Type"),
			Size:        fh.Size,
			Open: func() (io.ReadCloser, error) {
				return fh.Open()
			},
		})
	}

	result, err := h.service.IngestUpload(c.Request.Context(), middleware.GetStoreID(c), sessionID, files)
	if err != nil {
		h.handleServiceError(c, err, "upload files")
		return
	}

	c.JSON(http.StatusOK, models.SuccessResponse{
		Success: true,
		Data:    result,
	})
}

// ListDrafts returns the drafts of a session in display order
// GET /api/v1/bulk-imports/:id/drafts
func (h *BulkImportHandler) ListDrafts(c *gin.Context) {
	sessionID, ok := parseIDParam(c, "id", "import session")
	if !ok {
		return
	}

	drafts, err := h.service.ListDrafts(c.Request.Context(), middleware.GetStoreID(c), sessionID)
	if err != nil {
		h.handleServiceError(c, err, "list drafts")
		return
	}

	c.JSON(http.StatusOK, models.SuccessResponse{
		Success: true,
		Data:    drafts,
	})
}

// ListCreationLogs returns the promotion log of a session
// GET /api/v1/bulk-imports/:id/logs
func (h *BulkImportHandler) ListCreationLogs(c *gin.Context) {
	sessionID, ok := parseIDParam(c, "id", "import session")
	if !ok {
		return
	}

	logs, err := h.service.ListCreationLogs(c.Request.Context(), middleware.GetStoreID(c), sessionID)
	if err != nil {
		h.handleServiceError(c, err, "list creation logs")
		return
	}

	c.JSON(http.StatusOK, models.SuccessResponse{
		Success: true,
		Data:    logs,
	})
}

// ApplyDefaults sets the given fields on every draft still in draft status
// POST /api/v1/bulk-imports/:id/apply-defaults
func (h *BulkImportHandler) ApplyDefaults(c *gin.Context) {
	sessionID, ok := parseIDParam(c, "id", "import session")
	if !ok {
		return
	}

	var defaults models.DraftDefaults
	if err := c.ShouldBindJSON(&defaults); err != nil {
		errorResponse(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	updated, err := h.service.ApplyBatchDefaults(c.Request.Context(), middleware.GetStoreID(c), sessionID, defaults)
	if err != nil {
		h.handleServiceError(c, err, "apply defaults")
		return
	}

	c.JSON(http.StatusOK, models.SuccessResponse{
		Success: true,
		Data:    gin.H{"updated": updated},
	})
}

// Validate checks every draft of the session and reports the failures
// @Summary Validate drafts
// @Tags Bulk Imports
// @Produce json
// @Param id path string true "Import session ID"
// @Success 200 {object} models.ValidationReport
// @Failure 404 {object} models.ErrorResponse
// @Router /bulk-imports/{id}/validate [post]
func (h *BulkImportHandler) Validate(c *gin.Context) {
	sessionID, ok := parseIDParam(c, "id", "import session")
	if !ok {
		return
	}

	report, err := h.service.ValidateSession(c.Request.Context(), middleware.GetStoreID(c), sessionID)
	if err != nil {
		h.handleServiceError(c, err, "validate drafts")
		return
	}

	c.JSON(http.StatusOK, models.SuccessResponse{
		Success: true,
		Data:    report,
	})
}

// Promote creates catalog products from every ready draft, then removes the
// temporary files in the background.
// @Summary Promote drafts
// @Tags Bulk Imports
// @Produce json
// @Param id path string true "Import session ID"
// @Success 200 {object} models.PromotionResult
// @Failure 404 {object} models.ErrorResponse
// @Router /bulk-imports/{id}/promote [post]
func (h *BulkImportHandler) Promote(c *gin.Context) {
	sessionID, ok := parseIDParam(c, "id", "import session")
	if !ok {
		return
	}

	result, err := h.service.PromoteSession(c.Request.Context(), middleware.GetStoreID(c), sessionID)
	if err != nil {
		h.handleServiceError(c, err, "promote drafts")
		return
	}

	cleanupCtx := context.WithoutCancel(c.Request.Context())
	h.async(func() {
		h.service.CleanupTempFiles(cleanupCtx, sessionID)
	})

	c.JSON(http.StatusOK, models.SuccessResponse{
		Success: true,
		Data:    result,
	})
}

// UpdateDraft applies a partial update to a draft
// PUT /api/v1/bulk-imports/drafts/:draftId
func (h *BulkImportHandler) UpdateDraft(c *gin.Context) {
	draftID, ok := parseIDParam(c, "draftId", "draft")
	if !ok {
		return
	}

	var fields map[string]json.RawMessage
	if err := c.ShouldBindJSON(&fields); err != nil {
		errorResponse(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	draft, err := h.service.UpdateDraft(c.Request.Context(), middleware.GetStoreID(c), draftID, fields)
	if err != nil {
		h.handleServiceError(c, err, "update draft")
		return
	}

	c.JSON(http.StatusOK, models.SuccessResponse{
		Success: true,
		Data:    draft,
	})
}

// DeleteDraft removes a draft and its images
// DELETE /api/v1/bulk-imports/drafts/:draftId
func (h *BulkImportHandler) DeleteDraft(c *gin.Context) {
	draftID, ok := parseIDParam(c, "draftId", "draft")
	if !ok {
		return
	}

	if err := h.service.DeleteDraft(c.Request.Context(), middleware.GetStoreID(c), draftID); err != nil {
		h.handleServiceError(c, err, "delete draft")
		return
	}

	message := "Draft deleted successfully"
	c.JSON(http.StatusOK, models.SuccessResponse{
		Success: true,
		Message: &message,
	})
}

// SplitDraft moves the selected images into a new draft
// POST /api/v1/bulk-imports/drafts/:draftId/split
func (h *BulkImportHandler) SplitDraft(c *gin.Context) {
	draftID, ok := parseIDParam(c, "draftId", "draft")
	if !ok {
		return
	}

	var req models.SplitDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	draft, err := h.service.SplitGroup(c.Request.Context(), middleware.GetStoreID(c), draftID, req.ImageIDs)
	if err != nil {
		h.handleServiceError(c, err, "split draft")
		return
	}

	c.JSON(http.StatusCreated, models.SuccessResponse{
		Success: true,
		Data:    draft,
	})
}

// MergeDraft moves every image of the source draft into this draft
// POST /api/v1/bulk-imports/drafts/:draftId/merge
func (h *BulkImportHandler) MergeDraft(c *gin.Context) {
	draftID, ok := parseIDParam(c, "draftId", "draft")
	if !ok {
		return
	}

	var req models.MergeDraftsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	if err := h.service.MergeGroups(c.Request.Context(), middleware.GetStoreID(c), draftID, req.SourceDraftID); err != nil {
		h.handleServiceError(c, err, "merge drafts")
		return
	}

	message := "Drafts merged successfully"
	c.JSON(http.StatusOK, models.SuccessResponse{
		Success: true,
		Message: &message,
	})
}

// SetPrimaryImage changes the primary image of a draft
// POST /api/v1/bulk-imports/drafts/:draftId/primary-image
func (h *BulkImportHandler) SetPrimaryImage(c *gin.Context) {
	draftID, ok := parseIDParam(c, "draftId", "draft")
	if !ok {
		return
	}

	var req models.ChangePrimaryImageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errorResponse(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	if err := h.service.ChangePrimaryImage(c.Request.Context(), middleware.GetStoreID(c), draftID, req.ImageID); err != nil {
		h.handleServiceError(c, err, "change primary image")
		return
	}

	message := "Primary image updated"
	c.JSON(http.StatusOK, models.SuccessResponse{
		Success: true,
		Message: &message,
	})
}

// GetReport returns the per-draft outcome of a session as JSON, CSV or Excel
// GET /api/v1/bulk-imports/:id/report?format=csv|xlsx
func (h *BulkImportHandler) GetReport(c *gin.Context) {
	sessionID, ok := parseIDParam(c, "id", "import session")
	if !ok {
		return
	}

	format := models.ReportFormat(c.DefaultQuery("format", "json"))
	if format != "json" && format != models.ReportFormatCSV && format != models.ReportFormatXLSX {
		errorResponse(c, http.StatusBadRequest, "INVALID_FORMAT", "Only csv and xlsx reports are supported")
		return
	}

	rows, err := h.service.BuildReport(c.Request.Context(), middleware.GetStoreID(c), sessionID)
	if err != nil {
		h.handleServiceError(c, err, "build import report")
		return
	}

	filename := fmt.Sprintf("bulk_import_%s", sessionID.String()[:8])
	switch format {
	case models.ReportFormatCSV:
		h.writeCSVReport(c, filename+".csv", rows)
	case models.ReportFormatXLSX:
		h.writeXLSXReport(c, filename+".xlsx", rows)
	default:
		c.JSON(http.StatusOK, models.SuccessResponse{
			Success: true,
			Data:    rows,
		})
	}
}

func reportRecord(row models.ImportReportRow) []string {
	return []string{
		row.DraftID.String(),
		row.Name,
		string(row.Status),
		strconv.Itoa(row.ImageCount),
		row.ProductID,
		row.Message,
	}
}

func (h *BulkImportHandler) writeCSVReport(c *gin.Context, filename string, rows []models.ImportReportRow) {
	c.Header("Content-Type", "text/csv")
	c.Header("Content-Disposition", "attachment; filename="+filename)

	writer := csv.NewWriter(c.Writer)
	defer writer.Flush()

	writer.Write(models.ImportReportColumns())
	for _, row := range rows {
		writer.Write(reportRecord(row))
	}
}

func (h *BulkImportHandler) writeXLSXReport(c *gin.Context, filename string, rows []models.ImportReportRow) {
	f := excelize.NewFile()
	defer f.Close()

	sheetName := "Report"
	f.SetSheetName("Sheet1", sheetName)

	headerStyle, _ := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
		Border: []excelize.Border{
			{Type: "bottom", Color: "000000", Style: 1},
		},
	})

	for i, col := range models.ImportReportColumns() {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheetName, cell, col)
		f.SetCellStyle(sheetName, cell, cell, headerStyle)

		colName, _ := excelize.ColumnNumberToName(i + 1)
		f.SetColWidth(sheetName, colName, colName, 24)
	}

	for r, row := range rows {
		for i, value := range reportRecord(row) {
			cell, _ := excelize.CoordinatesToCellName(i+1, r+2)
			if i == 3 {
				f.SetCellValue(sheetName, cell, row.ImageCount)
				continue
			}
			f.SetCellValue(sheetName, cell, value)
		}
	}

	c.Header("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	c.Header("Content-Disposition", "attachment; filename="+filename)

	if err := f.Write(c.Writer); err != nil {
		h.logger.WithError(err).Error("Failed to write xlsx report")
	}
}
