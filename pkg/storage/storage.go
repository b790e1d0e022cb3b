package storage

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"strings"
	"time"

	"github.com/feichai0017/pdf-alttext/config"
	"github.com/feichai0017/pdf-alttext/pkg/logger"
	"github.com/feichai0017/pdf-alttext/pkg/storage/minio"
	"github.com/feichai0017/pdf-alttext/pkg/storage/s3"
)

// Storage 接口定义
type Storage interface {
	// Store 存储文件, size 未知时传 -1
	Store(ctx context.Context, reader io.Reader, key string, size int64, contentType string) (string, error)
	// Get 获取文件
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete 删除文件
	Delete(ctx context.Context, key string) error
	// CleanupBefore 清理过期文件
	CleanupBefore(ctx context.Context, threshold time.Time) error
}

// NewStorage returns the mirror selected by cfg. An empty type disables
// mirroring and yields a nil Storage.
func NewStorage(ctx context.Context, cfg config.StorageConfig, log logger.Logger) (Storage, error) {
	switch cfg.Type {
	case config.StorageNone:
		return nil, nil
	case config.StorageS3:
		return s3.NewS3Storage(ctx, cfg.S3, log.Named("s3"))
	case config.StorageMinio:
		return minio.NewMinioStorage(ctx, cfg.Minio, log.Named("minio"))
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// Key is the object key of a session artifact.
func Key(sid, name string) string {
	return path.Join("sessions", sid, path.Base(name))
}

// artifact types the mime table of a slim container may not know
var contentTypes = map[string]string{
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".json": "application/json",
	".html": "text/html; charset=utf-8",
	".png":  "image/png",
	".pdf":  "application/pdf",
}

// ContentType guesses the media type of an artifact from its extension.
func ContentType(name string) string {
	ext := strings.ToLower(path.Ext(name))
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// PutFile uploads the file at localPath under Key(sid, base name).
func PutFile(ctx context.Context, s Storage, sid, localPath string) (string, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat %s: %w", localPath, err)
	}
	return s.Store(ctx, f, Key(sid, localPath), info.Size(), ContentType(localPath))
}
