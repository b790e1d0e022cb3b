package validator

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/feichai0017/pdf-alttext/pkg/logger"
)

var pdfMagic = []byte("%PDF")

// ErrInvalidUpload 上传文件校验失败
var ErrInvalidUpload = errors.New("invalid upload")

// ValidatorConfig 验证器配置
type ValidatorConfig struct {
	MaxFileSize  int64    // 最大文件大小（字节）
	AllowedTypes []string // 允许的扩展名
}

// ValidationError 验证错误
type ValidationError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

func (e *ValidationError) Error() string {
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidUpload
}

// DocumentValidator 文档验证器
type DocumentValidator struct {
	logger logger.Logger
	config *ValidatorConfig
}

// NewDocumentValidator 创建新的文档验证器
func NewDocumentValidator(log logger.Logger, config *ValidatorConfig) *DocumentValidator {
	if config == nil {
		config = &ValidatorConfig{
			MaxFileSize:  150 * 1024 * 1024, // 150MB
			AllowedTypes: []string{".pdf"},
		}
	}
	return &DocumentValidator{logger: log.Named("validator"), config: config}
}

// Validate checks the name and declared size, then sniffs the header of r.
// The returned reader yields the complete content, header included.
func (v *DocumentValidator) Validate(filename string, size int64, r io.Reader) (io.Reader, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !v.allowed(ext) {
		return nil, v.reject(filename, &ValidationError{
			Code:    "INVALID_FILE_TYPE",
			Message: fmt.Sprintf("File type %s is not allowed", ext),
			Field:   "extension",
		})
	}
	if v.config.MaxFileSize > 0 && size > v.config.MaxFileSize {
		return nil, v.reject(filename, tooLarge(v.config.MaxFileSize))
	}

	head := make([]byte, len(pdfMagic))
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to read upload header: %w", err)
	}
	if !bytes.Equal(head[:n], pdfMagic) {
		return nil, v.reject(filename, &ValidationError{
			Code:    "INVALID_MIME_TYPE",
			Message: "File content is not a PDF document",
			Field:   "content",
		})
	}

	body := io.MultiReader(bytes.NewReader(head[:n]), r)
	if v.config.MaxFileSize > 0 {
		body = &limitedReader{r: body, max: v.config.MaxFileSize, remaining: v.config.MaxFileSize}
	}
	return body, nil
}

func (v *DocumentValidator) allowed(ext string) bool {
	for _, t := range v.config.AllowedTypes {
		if t == ext {
			return true
		}
	}
	return false
}

func (v *DocumentValidator) reject(filename string, err *ValidationError) error {
	v.logger.Warn("Upload rejected",
		logger.String("filename", filename),
		logger.String("code", err.Code),
	)
	return err
}

func tooLarge(max int64) *ValidationError {
	return &ValidationError{
		Code:    "FILE_TOO_LARGE",
		Message: fmt.Sprintf("File size exceeds maximum limit of %d bytes", max),
		Field:   "size",
	}
}

// limitedReader fails once more than remaining bytes have been read, so a
// client that under-reports the size is still cut off.
type limitedReader struct {
	r         io.Reader
	max       int64
	remaining int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	n, err := l.r.Read(p)
	l.remaining -= int64(n)
	if l.remaining < 0 {
		return n, tooLarge(l.max)
	}
	return n, err
}
