package handlers

import (
	"errors"
	"io/fs"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/pdf-alttext/internal/models"
	"github.com/feichai0017/pdf-alttext/internal/service/pipeline"
	"github.com/feichai0017/pdf-alttext/internal/utils/validator"
	"github.com/feichai0017/pdf-alttext/pkg/logger"
	"github.com/feichai0017/pdf-alttext/pkg/queue"
)

type Handlers struct {
	Session *SessionHandler
	AltText *AltTextHandler
}

func NewHandlers(service pipeline.Service, logger logger.Logger) *Handlers {
	log := logger.Named("api")
	return &Handlers{
		Session: NewSessionHandler(service, log),
		AltText: NewAltTextHandler(service, log),
	}
}

// Health 存活检查
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ErrorResponse 定义错误响应结构
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type base struct {
	service pipeline.Service
	logger  logger.Logger
}

// statusFor maps service errors onto HTTP codes.
func statusFor(err error) int {
	var verr *validator.ValidationError
	switch {
	case errors.As(err, &verr) && verr.Code == "FILE_TOO_LARGE":
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, models.ErrInvalidSession),
		errors.Is(err, models.ErrArtifactNotReady),
		errors.Is(err, queue.ErrTaskNotFound),
		errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidPath),
		errors.Is(err, models.ErrInvalidRequest),
		errors.Is(err, validator.ErrInvalidUpload):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// handleError 统一错误处理
func (h *base) handleError(c *gin.Context, status int, message string, err error) {
	fields := []logger.Field{
		logger.String("path", c.Request.URL.Path),
		logger.Int("status", status),
		logger.Error(err),
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error(message, fields...)
	} else {
		h.logger.Warn(message, fields...)
	}

	response := ErrorResponse{
		Message: message,
	}
	if err != nil {
		response.Error = err.Error()
	}

	c.AbortWithStatusJSON(status, response)
}

// fail is handleError with the status derived from err.
func (h *base) fail(c *gin.Context, message string, err error) {
	h.handleError(c, statusFor(err), message, err)
}

// stream writes one server-sent event batch per value until events closes or
// the client goes away.
func stream[T any](c *gin.Context, events <-chan T, emit func(T)) {
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			emit(ev)
			c.Writer.Flush()
		}
	}
}
