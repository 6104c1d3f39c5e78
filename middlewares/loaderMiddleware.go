package middlewares

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/graph-gophers/dataloader/v7"
	"github.com/mmdatafocus/closing_backend/config"
	"github.com/mmdatafocus/closing_backend/models"
	"gorm.io/gorm"
)

type ctxKey string

const (
	loadersKey = ctxKey("dataloaders")
)

// Loaders batch the per-closing child reads of one request.
type Loaders struct {
	closingTransactionLoader *dataloader.Loader[int, []*models.NetworkTransaction]
	closingDivergenceLoader  *dataloader.Loader[int, []*models.Divergence]
	closingHistoryLoader     *dataloader.Loader[int, []*models.ClosingHistory]
}

func NewLoaders(db *gorm.DB) *Loaders {
	closingTransactionReader := &closingTransactionReader{db: db}
	closingDivergenceReader := &closingDivergenceReader{db: db}
	closingHistoryReader := &closingHistoryReader{db: db}

	return &Loaders{
		closingTransactionLoader: dataloader.NewBatchedLoader(closingTransactionReader.GetTransactions, dataloader.WithWait[int, []*models.NetworkTransaction](time.Millisecond)),
		closingDivergenceLoader:  dataloader.NewBatchedLoader(closingDivergenceReader.GetDivergences, dataloader.WithWait[int, []*models.Divergence](time.Millisecond)),
		closingHistoryLoader:     dataloader.NewBatchedLoader(closingHistoryReader.GetHistory, dataloader.WithWait[int, []*models.ClosingHistory](time.Millisecond)),
	}
}

func LoaderMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := WithLoaders(c.Request.Context(), NewLoaders(config.GetDB()))
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func WithLoaders(ctx context.Context, loaders *Loaders) context.Context {
	return context.WithValue(ctx, loadersKey, loaders)
}

// For returns the request's loaders. Outside LoaderMiddleware every call gets fresh, unshared loaders.
func For(ctx context.Context) *Loaders {
	if loaders, ok := ctx.Value(loadersKey).(*Loaders); ok {
		return loaders
	}
	return NewLoaders(config.GetDB())
}

// handleError creates array of result with the same error repeated for as many items requested
func handleError[T any](itemsLength int, err error) []*dataloader.Result[T] {
	result := make([]*dataloader.Result[T], itemsLength)
	for i := 0; i < itemsLength; i++ {
		result[i] = &dataloader.Result[T]{Error: err}
	}
	return result
}

// groupByClosing lays results out in ids order. Closings without children get an empty list.
func groupByClosing[T any](results []*T, ids []int, closingId func(*T) int) []*dataloader.Result[[]*T] {
	resultMap := make(map[int][]*T, len(ids))
	for _, result := range results {
		key := closingId(result)
		resultMap[key] = append(resultMap[key], result)
	}

	loaderResults := make([]*dataloader.Result[[]*T], 0, len(ids))
	for _, id := range ids {
		children, ok := resultMap[id]
		if !ok {
			children = []*T{}
		}
		loaderResults = append(loaderResults, &dataloader.Result[[]*T]{Data: children})
	}
	return loaderResults
}
