package workflow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/mmdatafocus/closing_backend/config"
	"github.com/mmdatafocus/closing_backend/models"
	"github.com/mmdatafocus/closing_backend/utils"
	"github.com/sirupsen/logrus"
)

// DateLocker grants exclusive ingestion rights over one closing date. Obtain never waits:
// a date that is already held fails with models.ErrReconciliationInProgress.
type DateLocker interface {
	Obtain(ctx context.Context, date time.Time) (release func(), err error)
}

func dateLockKey(date time.Time) string {
	return "closing-ingest:" + utils.DateOnly(date).Format(utils.DateLayout)
}

// NewDateLocker uses Redis when a lock client is configured, so exclusion spans instances.
func NewDateLocker(logger *logrus.Logger) DateLocker {
	if client := config.GetRedisLock(); client != nil {
		return &RedisDateLocker{Client: client, TTL: config.IngestLockTTL(), Logger: logger}
	}
	return NewLocalDateLocker()
}

type RedisDateLocker struct {
	Client *redislock.Client
	TTL    time.Duration
	Logger *logrus.Logger
}

func (l *RedisDateLocker) Obtain(ctx context.Context, date time.Time) (func(), error) {
	key := dateLockKey(date)
	// nil options: a single attempt, no retry strategy
	lock, err := l.Client.Obtain(ctx, key, l.TTL, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, models.ErrReconciliationInProgress
	}
	if err != nil {
		return nil, err
	}
	return func() {
		if err := lock.Release(context.Background()); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			config.LogError(l.Logger, "dateLock.go", "RedisDateLocker.Release", "Release", key, err)
		}
	}, nil
}

// LocalDateLocker is the single-instance fallback used when Redis is not configured.
type LocalDateLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewLocalDateLocker() *LocalDateLocker {
	return &LocalDateLocker{held: map[string]struct{}{}}
}

func (l *LocalDateLocker) Obtain(_ context.Context, date time.Time) (func(), error) {
	key := dateLockKey(date)

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return nil, models.ErrReconciliationInProgress
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}
