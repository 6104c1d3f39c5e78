package utils

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

func (c contextKey) String() string { return string(c) }

const (
	ContextKeyUsername      = contextKey("Username")
	ContextKeyCorrelationId = contextKey("CorrelationId")
)

func getString(ctx context.Context, key contextKey) (string, bool) {
	v, ok := ctx.Value(key).(string)
	return v, ok
}

func GetUsernameFromContext(ctx context.Context) (string, bool) {
	return getString(ctx, ContextKeyUsername)
}

func GetCorrelationIdFromContext(ctx context.Context) (string, bool) {
	return getString(ctx, ContextKeyCorrelationId)
}

func SetUsernameInContext(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, ContextKeyUsername, username)
}

func SetCorrelationIdInContext(ctx context.Context, correlationId string) context.Context {
	return context.WithValue(ctx, ContextKeyCorrelationId, correlationId)
}

// CorrelationIdFromContextOrNew returns the request correlation id, or a fresh one.
func CorrelationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}
