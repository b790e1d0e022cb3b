package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/pdf-alttext/internal/service/pipeline"
	"github.com/feichai0017/pdf-alttext/pkg/logger"
)

const uploadField = "pdf_file"

type SessionHandler struct {
	base
}

// UploadResponse 上传响应
type UploadResponse struct {
	SessionID string `json:"session_id"`
	TaskID    string `json:"task_id"`
	Filename  string `json:"filename"`
	FileSize  int64  `json:"fileSize"`
	CreatedAt string `json:"createdAt"`
}

type FlipRequest struct {
	Direction string `json:"direction" binding:"required"`
}

func NewSessionHandler(service pipeline.Service, logger logger.Logger) *SessionHandler {
	return &SessionHandler{base{service: service, logger: logger}}
}

// Upload 上传 PDF 并开始提取
func (h *SessionHandler) Upload(c *gin.Context) {
	file, header, err := c.Request.FormFile(uploadField)
	if err != nil {
		h.handleError(c, http.StatusBadRequest, "Invalid file upload", err)
		return
	}
	defer file.Close()

	ctx := c.Request.Context()
	sess, err := h.service.CreateSession(ctx, header.Filename, header.Size, file)
	if err != nil {
		h.fail(c, "Failed to create session", err)
		return
	}

	taskID, err := h.service.ScheduleExtraction(ctx, sess.ID)
	if err != nil {
		h.fail(c, "Failed to schedule extraction", err)
		return
	}

	c.JSON(http.StatusOK, UploadResponse{
		SessionID: sess.ID,
		TaskID:    taskID,
		Filename:  sess.Filename,
		FileSize:  sess.FileSize,
		CreatedAt: sess.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}

// Progress streams extraction progress as server-sent events.
func (h *SessionHandler) Progress(c *gin.Context) {
	events, err := h.service.ExtractionEvents(c.Request.Context(), c.Param("sid"))
	if err != nil {
		h.fail(c, "Invalid session", err)
		return
	}

	lastStatus := ""
	stream(c, events, func(ev pipeline.ProgressEvent) {
		if ev.Status != "" && ev.Status != lastStatus {
			c.SSEvent("status", ev.Status)
			lastStatus = ev.Status
		}
		c.SSEvent("", ev.Percent)
		if ev.Percent < 0 {
			c.SSEvent("error", ev.Error)
		}
	})
}

func (h *SessionHandler) ListImages(c *gin.Context) {
	images, err := h.service.ListImages(c.Param("sid"))
	if err != nil {
		h.fail(c, "Failed to list images", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"images": images})
}

func (h *SessionHandler) Image(c *gin.Context) {
	p, err := h.service.ImagePath(c.Param("sid"), c.Param("name"))
	if err != nil {
		h.fail(c, "Image not found", err)
		return
	}
	c.File(p)
}

func (h *SessionHandler) Flip(c *gin.Context) {
	var req FlipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.handleError(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	sid, name := c.Param("sid"), c.Param("name")
	if err := h.service.FlipImage(sid, name, req.Direction); err != nil {
		h.fail(c, fmt.Sprintf("Failed to flip %s", name), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Delete 显式清理会话
func (h *SessionHandler) Delete(c *gin.Context) {
	sid := c.Param("sid")
	if err := h.service.Remove(c.Request.Context(), sid); err != nil {
		h.fail(c, "Failed to remove session", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Session removed", "session_id": sid})
}

// JobStatus 获取后台任务状态
func (h *SessionHandler) JobStatus(c *gin.Context) {
	status, err := h.service.JobStatus(c.Request.Context(), c.Param("taskId"))
	if err != nil {
		h.fail(c, "Failed to get status", err)
		return
	}
	c.JSON(http.StatusOK, status)
}
