package middlewares

import (
	"context"

	"github.com/graph-gophers/dataloader/v7"
	"github.com/mmdatafocus/closing_backend/models"
	"gorm.io/gorm"
)

type closingTransactionReader struct {
	db *gorm.DB
}

func (r *closingTransactionReader) GetTransactions(ctx context.Context, ids []int) []*dataloader.Result[[]*models.NetworkTransaction] {
	var results []*models.NetworkTransaction
	err := r.db.WithContext(ctx).Where("daily_closing_id IN ?", ids).Order("sequence, id").Find(&results).Error
	if err != nil {
		return handleError[[]*models.NetworkTransaction](len(ids), err)
	}
	return groupByClosing(results, ids, func(t *models.NetworkTransaction) int { return t.DailyClosingId })
}

func GetClosingTransactions(ctx context.Context, closingId int) ([]*models.NetworkTransaction, error) {
	loaders := For(ctx)
	return loaders.closingTransactionLoader.Load(ctx, closingId)()
}

type closingDivergenceReader struct {
	db *gorm.DB
}

func (r *closingDivergenceReader) GetDivergences(ctx context.Context, ids []int) []*dataloader.Result[[]*models.Divergence] {
	var results []*models.Divergence
	err := r.db.WithContext(ctx).Where("daily_closing_id IN ?", ids).Order("id").Find(&results).Error
	if err != nil {
		return handleError[[]*models.Divergence](len(ids), err)
	}
	return groupByClosing(results, ids, func(d *models.Divergence) int { return d.DailyClosingId })
}

func GetClosingDivergences(ctx context.Context, closingId int) ([]*models.Divergence, error) {
	loaders := For(ctx)
	return loaders.closingDivergenceLoader.Load(ctx, closingId)()
}

type closingHistoryReader struct {
	db *gorm.DB
}

func (r *closingHistoryReader) GetHistory(ctx context.Context, ids []int) []*dataloader.Result[[]*models.ClosingHistory] {
	var results []*models.ClosingHistory
	err := r.db.WithContext(ctx).Where("daily_closing_id IN ?", ids).Order("id").Find(&results).Error
	if err != nil {
		return handleError[[]*models.ClosingHistory](len(ids), err)
	}
	return groupByClosing(results, ids, func(h *models.ClosingHistory) int { return h.DailyClosingId })
}

func GetClosingHistory(ctx context.Context, closingId int) ([]*models.ClosingHistory, error) {
	loaders := For(ctx)
	return loaders.closingHistoryLoader.Load(ctx, closingId)()
}

// PrimeClosingDetails seeds the request's loaders with children already read for one closing.
func PrimeClosingDetails(ctx context.Context, details *models.DailyClosingDetails) {
	loaders := For(ctx)
	loaders.closingTransactionLoader.Prime(ctx, details.Closing.ID, details.Transactions)
	loaders.closingDivergenceLoader.Prime(ctx, details.Closing.ID, details.Divergences)
}
