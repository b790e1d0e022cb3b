package converters

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/feichai0017/pdf-alttext/internal/models"
)

// ResultsConverter 定义结果转换器接口
type ResultsConverter interface {
	Convert(meta ResultsMetadata, entries []models.AltTextEntry) (*AltTextResults, error)
}

// AltTextResults 定义 alt 文本结果文档结构
type AltTextResults struct {
	SessionID   string          `json:"sessionId"`
	Language    string          `json:"language"`
	Status      string          `json:"status"`
	Content     []ResultContent `json:"content"`
	Metadata    ResultsMetadata `json:"metadata"`
	ProcessedAt time.Time       `json:"processedAt"`
}

// ResultContent 定义单张图片的结果
type ResultContent struct {
	Position int    `json:"position"`
	Image    string `json:"image"`
	Page     int    `json:"page,omitempty"`
	AltText  string `json:"altText"`
	Thumb    string `json:"thumb,omitempty"`
	Failed   bool   `json:"failed"`
}

// ResultsMetadata 定义结果元数据
type ResultsMetadata struct {
	SessionID    string `json:"-"`
	Language     string `json:"-"`
	FileName     string `json:"fileName,omitempty"`
	ImageCount   int    `json:"imageCount"`
	FailedCount  int    `json:"failedCount"`
	PageCount    int    `json:"pageCount,omitempty"`
	ProcessingMs int64  `json:"processingMs"`
}

// JSONConverter 实现结果转换器
type JSONConverter struct {
	now func() time.Time
}

func NewJSONConverter() *JSONConverter {
	return &JSONConverter{now: time.Now}
}

func (c *JSONConverter) Convert(meta ResultsMetadata, entries []models.AltTextEntry) (*AltTextResults, error) {
	if meta.SessionID == "" {
		return nil, fmt.Errorf("missing session id")
	}

	doc := &AltTextResults{
		SessionID:   meta.SessionID,
		Language:    meta.Language,
		Status:      "completed",
		ProcessedAt: c.now(),
		Content:     make([]ResultContent, 0, len(entries)),
	}

	// 统计页数与失败条目
	pages := make(map[int]bool)
	failed := 0
	for i, e := range entries {
		content := ResultContent{
			Position: i + 1,
			Image:    e.Image,
			Page:     e.Page,
			AltText:  e.AltText,
			Thumb:    e.Thumb,
			Failed:   IsPlaceholder(e.AltText),
		}
		if content.Failed {
			failed++
		}
		if e.Page > 0 {
			pages[e.Page] = true
		}
		doc.Content = append(doc.Content, content)
	}

	doc.Metadata = meta
	doc.Metadata.ImageCount = len(entries)
	doc.Metadata.FailedCount = failed
	doc.Metadata.PageCount = len(pages)
	if failed > 0 {
		doc.Status = "partial"
	}
	return doc, nil
}

// Marshal 以缩进 JSON 输出
func (c *JSONConverter) Marshal(doc *AltTextResults) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal results: %w", err)
	}
	return data, nil
}

// IsPlaceholder reports whether alt is one of the bracketed failure markers.
func IsPlaceholder(alt string) bool {
	return alt == "[Error generating alt text]" ||
		alt == "[No alt text generated]" ||
		strings.HasPrefix(alt, "[Error: ")
}
