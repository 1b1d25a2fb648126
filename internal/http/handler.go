package http

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"schedule-reconciler/internal/domain/anpr"
	"schedule-reconciler/internal/domain/schedule"
	"schedule-reconciler/internal/service"
)

type Handler struct {
	svc     *service.ReconciliationService
	archive *service.ArchiveService
	log     zerolog.Logger
}

func NewHandler(svc *service.ReconciliationService, log zerolog.Logger) *Handler {
	return &Handler{
		svc: svc,
		log: log,
	}
}

// WithArchive enables the archive query endpoint.
func (h *Handler) WithArchive(archive *service.ArchiveService) *Handler {
	h.archive = archive
	return h
}

func (h *Handler) Register(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	r.GET("/healthz", h.health)

	public := r.Group("/api/v1")
	{
		public.POST("/detections/camera", h.createCameraDetection)
		public.GET("/schedule", h.getState)
		public.GET("/schedule/rows/:seq", h.getRow)
		public.GET("/log", h.listLog)
		public.GET("/log/stream", h.streamLog)
		public.GET("/gates/:gate/auto-detect", h.getAutoDetect)
		public.GET("/archive/detections", h.listArchivedDetections)
	}

	protected := r.Group("/api/v1")
	protected.Use(authMiddleware)
	{
		protected.POST("/schedule/import", h.importSchedule)
		protected.PATCH("/schedule/rows/:seq", h.editRow)
		protected.POST("/schedule/rows/:seq/override", h.overrideRow)
		protected.POST("/detections/manual", h.createManualDetection)
		protected.PUT("/gates/:gate/auto-detect", h.setAutoDetect)
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type importRequest struct {
	Rows []schedule.RawRow `json:"rows"`
}

func (h *Handler) importSchedule(c *gin.Context) {
	var req importRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	gen, err := h.svc.ImportSchedule(req.Rows)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, successResponse(gen))
}

func (h *Handler) getState(c *gin.Context) {
	c.JSON(http.StatusOK, successResponse(h.svc.GetState()))
}

func (h *Handler) getRow(c *gin.Context) {
	seq, ok := sequenceParam(c)
	if !ok {
		return
	}
	row, err := h.svc.GetRow(seq)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(row))
}

func (h *Handler) editRow(c *gin.Context) {
	seq, ok := sequenceParam(c)
	if !ok {
		return
	}
	var patch schedule.RowPatch
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	row, err := h.svc.EditRow(seq, patch)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(row))
}

type overrideRequest struct {
	MovementStatus    *schedule.MovementStatus   `json:"movement_status"`
	VerificationState schedule.VerificationState `json:"verification_state"`
	Note              string                     `json:"note"`
}

func (h *Handler) overrideRow(c *gin.Context) {
	seq, ok := sequenceParam(c)
	if !ok {
		return
	}
	var req overrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	if req.MovementStatus == nil {
		c.JSON(http.StatusBadRequest, errorResponse("movement_status is required"))
		return
	}

	note := req.Note
	if operator := c.GetString(operatorKey); operator != "" {
		note = strings.TrimSpace(fmt.Sprintf("[%s] %s", operator, note))
	}
	row, err := h.svc.OverrideMovement(seq, *req.MovementStatus, req.VerificationState, note)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(row))
}

func (h *Handler) createCameraDetection(c *gin.Context) {
	h.createDetection(c, schedule.SourceAuto)
}

func (h *Handler) createManualDetection(c *gin.Context) {
	h.createDetection(c, schedule.SourceManual)
}

func (h *Handler) createDetection(c *gin.Context, source schedule.Source) {
	var payload anpr.EventPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	ev, err := payload.Detection(source)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}

	if c.Query("async") == "true" {
		if !h.svc.FeedDetection(ev) {
			c.JSON(http.StatusAccepted, gin.H{"status": "ignored"})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
		return
	}

	out, err := h.svc.SubmitDetection(c.Request.Context(), ev)
	if err != nil {
		h.handleError(c, err)
		return
	}
	if !out.Accepted {
		c.JSON(http.StatusAccepted, gin.H{"status": "ignored", "reason": "auto-detect disabled"})
		return
	}
	c.JSON(http.StatusCreated, successResponse(out))
}

func (h *Handler) listLog(c *gin.Context) {
	if s := c.Query("since"); s != "" {
		since, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, errorResponse("since must be a non-negative integer"))
			return
		}
		c.JSON(http.StatusOK, successResponse(h.svc.LogEntries(since)))
		return
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	if limit > 500 {
		limit = 500
	}
	c.JSON(http.StatusOK, successResponse(h.svc.LatestLog(limit)))
}

func (h *Handler) getAutoDetect(c *gin.Context) {
	gate := c.Param("gate")
	c.JSON(http.StatusOK, successResponse(gin.H{"gate_id": gate, "enabled": h.svc.AutoDetect(gate)}))
}

type autoDetectRequest struct {
	Enabled *bool `json:"enabled"`
}

func (h *Handler) setAutoDetect(c *gin.Context) {
	var req autoDetectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
		return
	}
	if req.Enabled == nil {
		c.JSON(http.StatusBadRequest, errorResponse("enabled is required"))
		return
	}

	gate := c.Param("gate")
	if err := h.svc.SetAutoDetect(gate, *req.Enabled); err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(gin.H{"gate_id": gate, "enabled": h.svc.AutoDetect(gate)}))
}

func (h *Handler) listArchivedDetections(c *gin.Context) {
	if h.archive == nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse("archive is disabled"))
		return
	}

	var plateQuery *string
	if p := c.Query("plate"); p != "" {
		plateQuery = &p
	}
	var from, to *string
	if f := c.Query("from"); f != "" {
		from = &f
	}
	if t := c.Query("to"); t != "" {
		to = &t
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	events, err := h.archive.FindDetections(c.Request.Context(), plateQuery, from, to, limit, offset)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, successResponse(events))
}

func (h *Handler) handleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidInput), errors.Is(err, service.ErrMalformedImport):
		c.JSON(http.StatusBadRequest, errorResponse(err.Error()))
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, errorResponse(err.Error()))
	case errors.Is(err, service.ErrInvalidLifecycle):
		c.JSON(http.StatusConflict, errorResponse(err.Error()))
	case errors.Is(err, service.ErrClosed):
		c.JSON(http.StatusServiceUnavailable, errorResponse(err.Error()))
	default:
		h.log.Error().Err(err).Str("path", c.FullPath()).Msg("handler error")
		c.JSON(http.StatusInternalServerError, errorResponse("internal error"))
	}
}

func sequenceParam(c *gin.Context) (int, bool) {
	seq, err := strconv.Atoi(c.Param("seq"))
	if err != nil || seq <= 0 {
		c.JSON(http.StatusBadRequest, errorResponse("seq must be a positive integer"))
		return 0, false
	}
	return seq, true
}

func successResponse(data interface{}) gin.H {
	return gin.H{
		"data": data,
	}
}

func errorResponse(message string) gin.H {
	return gin.H{
		"error": message,
	}
}
