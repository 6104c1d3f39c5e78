package main

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/closing_backend/config"
	"github.com/mmdatafocus/closing_backend/models"
	"github.com/mmdatafocus/closing_backend/utils"
	"github.com/mmdatafocus/closing_backend/workflow"
	"github.com/sirupsen/logrus"
)

const (
	extractFormField  = "file"
	xlsxContentType   = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	defaultRawCsvName = "extract.csv"
	multipartOverhead = 64 << 10
)

var (
	errExtractTooLarge     = errors.New("settlement extract exceeds the upload limit")
	errUnsupportedFileType = errors.New("unsupported file type, expected .csv, .txt or .xlsx")
	errEmptyUpload         = errors.New("no settlement extract in request")
)

var allowedExtractExtensions = map[string]string{
	".csv":  "text/csv",
	".txt":  "text/plain",
	".xlsx": xlsxContentType,
}

// uploadExtractHandler accepts the network's daily report either as a multipart "file" field or as
// the raw request body and ingests it for the :date in the path.
func uploadExtractHandler(rec *workflow.Reconciler) gin.HandlerFunc {
	return func(c *gin.Context) {
		date, err := utils.ParseDate(c.Param("date"))
		if err != nil {
			writeError(c, err)
			return
		}

		file, err := readExtractFile(c, config.MaxExtractBytes())
		if err != nil {
			switch {
			case errors.Is(err, errExtractTooLarge):
				c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error(), "code": "EXTRACT_TOO_LARGE"})
			case errors.Is(err, errUnsupportedFileType):
				c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": err.Error(), "code": "UNSUPPORTED_FILE_TYPE"})
			case errors.Is(err, errEmptyUpload):
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": "MALFORMED_EXTRACT"})
			default:
				logUploadError(config.GetLogger(), err, c)
				c.JSON(http.StatusBadRequest, gin.H{"error": "could not read upload", "code": "BAD_REQUEST"})
			}
			return
		}

		result, err := rec.IngestFile(c.Request.Context(), date, *file)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, result)
	}
}

func readExtractFile(c *gin.Context, maxBytes int64) (*workflow.ExtractFile, error) {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		// room for the multipart envelope around the file itself
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes+multipartOverhead)
		header, err := c.FormFile(extractFormField)
		if err != nil {
			var tooLarge *http.MaxBytesError
			switch {
			case errors.As(err, &tooLarge):
				return nil, errExtractTooLarge
			case errors.Is(err, http.ErrMissingFile):
				return nil, errEmptyUpload
			}
			return nil, err
		}
		return readMultipartExtract(header, maxBytes)
	}

	content, err := readLimited(c.Request.Body, maxBytes)
	if err != nil {
		return nil, err
	}
	if len(content) == 0 {
		return nil, errEmptyUpload
	}
	name := strings.TrimSpace(c.Query("filename"))
	if name == "" {
		name = defaultRawCsvName
		if c.ContentType() == xlsxContentType {
			name = "extract.xlsx"
		}
	}
	if _, ok := allowedExtractExtensions[strings.ToLower(filepath.Ext(name))]; !ok {
		return nil, errUnsupportedFileType
	}
	return &workflow.ExtractFile{Name: filepath.Base(name), ContentType: c.ContentType(), Content: content}, nil
}

func readMultipartExtract(header *multipart.FileHeader, maxBytes int64) (*workflow.ExtractFile, error) {
	contentType, ok := allowedExtractExtensions[strings.ToLower(filepath.Ext(header.Filename))]
	if !ok {
		return nil, errUnsupportedFileType
	}
	if header.Size > maxBytes {
		return nil, errExtractTooLarge
	}
	f, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	content, err := readLimited(f, maxBytes)
	if err != nil {
		return nil, err
	}
	if len(content) == 0 {
		return nil, errEmptyUpload
	}
	return &workflow.ExtractFile{Name: filepath.Base(header.Filename), ContentType: contentType, Content: content}, nil
}

func readLimited(r io.Reader, maxBytes int64) ([]byte, error) {
	content, err := io.ReadAll(io.LimitReader(r, maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(content)) > maxBytes {
		return nil, errExtractTooLarge
	}
	return content, nil
}

// archivedExtractHandler streams back the raw report archived for :date.
func archivedExtractHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		date, err := utils.ParseDate(c.Param("date"))
		if err != nil {
			writeError(c, err)
			return
		}
		closing, err := models.FindDailyClosing(c.Request.Context(), date)
		if err != nil {
			writeError(c, err)
			return
		}
		bucket := utils.GCSBucket()
		if closing.ExtractArchiveKey == "" || bucket == "" {
			c.JSON(http.StatusNotFound, gin.H{"error": "no archived extract for this date", "code": "NOT_FOUND"})
			return
		}

		reader, closeFn, err := utils.OpenGCSObject(c.Request.Context(), bucket, closing.ExtractArchiveKey)
		if err != nil {
			if errors.Is(err, storage.ErrObjectNotExist) {
				c.JSON(http.StatusNotFound, gin.H{"error": "object not found", "code": "NOT_FOUND"})
				return
			}
			logUploadError(config.GetLogger(), err, c)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "storage client error"})
			return
		}
		defer closeFn()

		if reader.Attrs.ContentType != "" {
			c.Writer.Header().Set("Content-Type", reader.Attrs.ContentType)
		}
		if reader.Attrs.Size > 0 {
			c.Writer.Header().Set("Content-Length", fmt.Sprintf("%d", reader.Attrs.Size))
		}
		c.Writer.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filepath.Base(closing.ExtractArchiveKey)))
		c.Status(http.StatusOK)
		_, _ = io.Copy(c.Writer, reader)
	}
}

func logUploadError(logger *logrus.Logger, err error, c *gin.Context) {
	logger.WithFields(logrus.Fields{
		"error":          err.Error(),
		"path":           c.FullPath(),
		"correlation_id": utils.CorrelationIdFromContextOrNew(c.Request.Context()),
	}).Error("[upload.error]")
}
