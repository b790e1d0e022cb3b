package handlers

import (
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/pdf-alttext/internal/progress"
	"github.com/feichai0017/pdf-alttext/internal/service/pipeline"
	"github.com/feichai0017/pdf-alttext/pkg/logger"
)

type AltTextHandler struct {
	base
}

// GenerateRequest 生成 alt 文本请求
type GenerateRequest struct {
	SessionID string   `json:"session_id" binding:"required"`
	Images    []string `json:"images"`
	Lang      string   `json:"lang"`
}

func NewAltTextHandler(service pipeline.Service, logger logger.Logger) *AltTextHandler {
	return &AltTextHandler{base{service: service, logger: logger}}
}

func (h *AltTextHandler) Generate(c *gin.Context) {
	var req GenerateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.handleError(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	taskID, err := h.service.ScheduleAltText(c.Request.Context(), req.SessionID, req.Images, req.Lang)
	if err != nil {
		h.fail(c, "Failed to start alt text generation", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":     "started",
		"session_id": req.SessionID,
		"task_id":    taskID,
	})
}

// Progress streams "percent|done|total" until the run ends.
func (h *AltTextHandler) Progress(c *gin.Context) {
	events, err := h.service.AltTextEvents(c.Request.Context(), c.Param("sid"))
	if err != nil {
		h.fail(c, "Invalid session", err)
		return
	}

	stream(c, events, func(a progress.Alt) {
		c.SSEvent("", a.String())
	})
}

func (h *AltTextHandler) Document(c *gin.Context) {
	p, ok := h.artifact(c, pipeline.ArtifactDocument)
	if !ok {
		return
	}
	c.FileAttachment(p, filepath.Base(p))
}

func (h *AltTextHandler) Results(c *gin.Context) {
	p, ok := h.artifact(c, pipeline.ArtifactResults)
	if !ok {
		return
	}
	c.File(p)
}

func (h *AltTextHandler) CopyPanel(c *gin.Context) {
	p, ok := h.artifact(c, pipeline.ArtifactPanel)
	if !ok {
		return
	}
	c.File(p)
}

func (h *AltTextHandler) artifact(c *gin.Context, kind pipeline.ArtifactKind) (string, bool) {
	p, err := h.service.Artifact(c.Request.Context(), c.Param("sid"), c.Param("lang"), kind)
	if err != nil {
		h.fail(c, "Artifact not ready", err)
		return "", false
	}
	return p, true
}
