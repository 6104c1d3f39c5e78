package utils

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// getGoogleClient initializes a Google Cloud Storage client
func getGoogleClient(ctx context.Context) (*storage.Client, error) {
	// Prefer ADC (Cloud Run service account / GOOGLE_APPLICATION_CREDENTIALS).
	// If you need to provide explicit JSON (e.g. locally), set GCS_CREDENTIALS_JSON.
	if credJSON := os.Getenv("GCS_CREDENTIALS_JSON"); strings.TrimSpace(credJSON) != "" {
		return storage.NewClient(ctx, option.WithCredentialsJSON([]byte(credJSON)))
	}
	return storage.NewClient(ctx)
}

// GCSBucket returns the configured bucket, empty when archiving is disabled.
func GCSBucket() string {
	return strings.TrimSpace(os.Getenv("GCS_BUCKET"))
}

// UploadBytesToGCS writes data to bucket/objectName with private ACL.
func UploadBytesToGCS(ctx context.Context, bucketName string, objectName string, contentType string, data []byte, metadata map[string]string) error {
	if bucketName == "" {
		return errors.New("GCS_BUCKET is required")
	}

	client, err := getGoogleClient(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	wc := client.Bucket(bucketName).Object(objectName).NewWriter(ctx)
	wc.ContentType = contentType
	wc.Metadata = metadata

	if _, err := wc.Write(data); err != nil {
		_ = wc.Close()
		return fmt.Errorf("write gcs object %q: %w", objectName, err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("close gcs object %q: %w", objectName, err)
	}
	return nil
}

// OpenGCSObject opens bucket/objectName for reading. The returned close func releases both the
// reader and the client.
func OpenGCSObject(ctx context.Context, bucketName string, objectName string) (*storage.Reader, func(), error) {
	if bucketName == "" {
		return nil, nil, errors.New("GCS_BUCKET is required")
	}
	client, err := getGoogleClient(ctx)
	if err != nil {
		return nil, nil, err
	}
	reader, err := client.Bucket(bucketName).Object(objectName).NewReader(ctx)
	if err != nil {
		_ = client.Close()
		return nil, nil, err
	}
	return reader, func() {
		_ = reader.Close()
		_ = client.Close()
	}, nil
}
