package models

import (
	"time"
)

// SessionState 会话生命周期
type SessionState string

const (
	StateCreated    SessionState = "created"
	StateExtracting SessionState = "extracting"
	StateExtracted  SessionState = "extracted"
	StateGenerating SessionState = "generating-alt-text"
	StateComplete   SessionState = "complete"
	StateFailed     SessionState = "failed"
)

// Session is one uploaded document and everything derived from it.
type Session struct {
	ID        string       `json:"id"`
	Root      string       `json:"root"`
	Filename  string       `json:"filename"`
	FileSize  int64        `json:"fileSize"`
	State     SessionState `json:"state"`
	CreatedAt time.Time    `json:"createdAt"`
	UpdatedAt time.Time    `json:"updatedAt"`
}

// ImageRecord 提取出的单张图片
type ImageRecord struct {
	Name string `json:"name"`
	Path string `json:"path"`
	Page int    `json:"page"`
}

// AltTextEntry 单张图片的 alt 文本结果
type AltTextEntry struct {
	Image   string `json:"image"`
	AltText string `json:"altText"`
	Page    int    `json:"page,omitempty"`
	Thumb   string `json:"thumb,omitempty"`
}

// PageIndex maps an extracted image file name to its 1-based source page.
type PageIndex map[string]int

// Names returns the image names of records in order.
func Names(records []ImageRecord) []string {
	names := make([]string, len(records))
	for i, r := range records {
		names[i] = r.Name
	}
	return names
}

// Index builds the page index for records.
func Index(records []ImageRecord) PageIndex {
	idx := make(PageIndex, len(records))
	for _, r := range records {
		idx[r.Name] = r.Page
	}
	return idx
}

// JobStatus 后台任务状态
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)
