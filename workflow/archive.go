package workflow

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/closing_backend/utils"
)

// ExtractFile is an uploaded settlement report as received.
type ExtractFile struct {
	Name        string
	ContentType string
	Content     []byte
}

// ExtractArchive keeps the raw report of every successful ingestion and returns its object key.
type ExtractArchive interface {
	Store(ctx context.Context, date time.Time, file ExtractFile, sha256 string) (string, error)
}

// NewExtractArchive archives to GCS when GCS_BUCKET is set. Nil means archiving is disabled.
func NewExtractArchive() ExtractArchive {
	if bucket := utils.GCSBucket(); bucket != "" {
		return &GCSArchive{Bucket: bucket}
	}
	return nil
}

type GCSArchive struct {
	Bucket string
}

func (a *GCSArchive) Store(ctx context.Context, date time.Time, file ExtractFile, sha256 string) (string, error) {
	key := archiveObjectKey(date, file.Name)
	contentType := file.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	metadata := map[string]string{
		"closing_date":   date.Format(utils.DateLayout),
		"sha256":         sha256,
		"correlation_id": utils.CorrelationIdFromContextOrNew(ctx),
	}
	if err := utils.UploadBytesToGCS(ctx, a.Bucket, key, contentType, file.Content, metadata); err != nil {
		return "", err
	}
	return key, nil
}

func archiveObjectKey(date time.Time, fileName string) string {
	base := path.Base(strings.ReplaceAll(strings.TrimSpace(fileName), "\\", "/"))
	if base == "." || base == "/" || base == "" {
		base = "extract"
	}
	return fmt.Sprintf("settlement-extracts/%s/%s-%s", date.Format(utils.DateLayout), uuid.NewString(), base)
}
