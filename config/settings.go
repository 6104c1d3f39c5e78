package config

import (
	"os"
	"strings"
	"time"
)

const (
	defaultIngestLockTTL   = 2 * time.Minute
	defaultMaxExtractBytes = 10 * 1024 * 1024
	defaultSalesTable      = "pos_sales"
	defaultTimezone        = "America/Sao_Paulo"
)

// IngestLockTTL bounds how long one extract ingestion may hold its per-date lock.
// Env: INGEST_LOCK_TTL_SECONDS
func IngestLockTTL() time.Duration {
	secs := intFromEnv("INGEST_LOCK_TTL_SECONDS", 0)
	if secs <= 0 {
		return defaultIngestLockTTL
	}
	return time.Duration(secs) * time.Second
}

// MaxExtractBytes limits the size of an uploaded settlement file.
// Env: MAX_EXTRACT_BYTES
func MaxExtractBytes() int64 {
	n := intFromEnv("MAX_EXTRACT_BYTES", 0)
	if n <= 0 {
		return defaultMaxExtractBytes
	}
	return int64(n)
}

// SalesTable is the table or view the point-of-sale subsystem exposes its sales through.
// Env: SALES_TABLE
func SalesTable() string {
	if v := strings.TrimSpace(os.Getenv("SALES_TABLE")); v != "" {
		return v
	}
	return defaultSalesTable
}

// Timezone is the business timezone used to interpret "today".
// Env: TIMEZONE
func Timezone() string {
	if v := strings.TrimSpace(os.Getenv("TIMEZONE")); v != "" {
		return v
	}
	return defaultTimezone
}

func IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production")
}
