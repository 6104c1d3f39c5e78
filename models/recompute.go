package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/closing_backend/config"
	"github.com/mmdatafocus/closing_backend/utils"
	"gorm.io/gorm"
)

var errDryRunRollback = errors.New("dry run")

type ClosingStatusChange struct {
	ClosingId     int
	ClosingDate   time.Time
	StatusBefore  ClosingStatus
	StatusAfter   ClosingStatus
	PendingBefore int
	PendingAfter  int
}

type RecomputeResult struct {
	Scanned int
	Changes []ClosingStatusChange
}

// RecomputeClosings re-derives the pending count and status of every closing in [start, end] from
// its stored children, recording a Repair history row for each closing that changed. With dryRun
// the changes are computed and rolled back.
func RecomputeClosings(ctx context.Context, start time.Time, end time.Time, dryRun bool) (*RecomputeResult, error) {
	start = utils.DateOnly(start)
	end = utils.DateOnly(end)
	if end.Before(start) {
		return nil, ErrInvalidDateRange
	}

	result := &RecomputeResult{}
	err := config.GetDB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var closings []*DailyClosing
		if err := tx.Where("closing_date BETWEEN ? AND ?", start, end).Order("closing_date").Find(&closings).Error; err != nil {
			return err
		}
		result.Scanned = len(closings)

		ids := make([]int, 0, len(closings))
		for _, closing := range closings {
			ids = append(ids, closing.ID)
		}
		locked, err := LockDailyClosingsTx(tx, ids)
		if err != nil {
			return err
		}

		for _, closing := range closings {
			before := locked[closing.ID]
			after, _, err := RecomputeClosingStatus(tx, before.ID)
			if err != nil {
				return err
			}
			if after.Status == before.Status && after.PendingDivergenceCount == before.PendingDivergenceCount {
				continue
			}
			result.Changes = append(result.Changes, ClosingStatusChange{
				ClosingId:     before.ID,
				ClosingDate:   before.ClosingDate,
				StatusBefore:  before.Status,
				StatusAfter:   after.Status,
				PendingBefore: before.PendingDivergenceCount,
				PendingAfter:  after.PendingDivergenceCount,
			})
			description := fmt.Sprintf("Recomputed status %s -> %s, pending divergences %d -> %d",
				before.Status, after.Status, before.PendingDivergenceCount, after.PendingDivergenceCount)
			if err := CreateHistory(tx, before.ID, HistoryActionRepair, "DailyClosing", before.ID, before, after, description); err != nil {
				return err
			}
		}
		if dryRun {
			return errDryRunRollback
		}
		return nil
	})
	if err != nil && !errors.Is(err, errDryRunRollback) {
		return nil, err
	}
	return result, nil
}
