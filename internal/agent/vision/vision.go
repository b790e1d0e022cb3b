package vision

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Describer 调用视觉模型为单张图片生成描述
type Describer interface {
	Describe(ctx context.Context, req Request) (string, error)
}

// Request is one vision call. ImageBase64 holds the encoded image bytes.
type Request struct {
	ImageBase64 string
	MimeType    string
	Prompt      string
	System      string
	Model       string
	MaxTokens   int
}

// permanentError marks failures that retrying cannot fix.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }

func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so IsPermanent reports true for it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// statusError builds a provider error for an HTTP status. Authentication
// failures and client errors other than 408 and 429 are permanent.
func statusError(provider string, code int, detail string) error {
	err := fmt.Errorf("%s: unexpected status code %d: %s", provider, code, detail)
	if permanentStatus(code) {
		return Permanent(err)
	}
	return err
}

func permanentStatus(code int) bool {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return false
	case code >= 400 && code < 500:
		return true
	}
	return false
}
