package workflow

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/mmdatafocus/closing_backend/config"
	"github.com/mmdatafocus/closing_backend/models"
	"github.com/mmdatafocus/closing_backend/utils"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"
)

// ResolveDivergence applies a reviewer decision to one divergence.
func (r *Reconciler) ResolveDivergence(ctx context.Context, id int, decision string, justification string) (*models.Divergence, error) {
	resolved, err := r.ResolveDivergences(ctx, []int{id}, decision, justification)
	if err != nil {
		return nil, err
	}
	return resolved[0], nil
}

// ResolveDivergences applies one decision and justification to every id, all or nothing.
//
// The justification is checked before anything is read. Any unknown id fails the batch with
// models.ErrNotFound and any id no longer pending with models.ErrAlreadyResolved. Pending status
// is re-verified by the update itself so a concurrent session resolving an overlapping set
// rolls this batch back. The owning closings are row-locked before the update, so sessions
// resolving disjoint sets of one closing run one after the other. Repeated ids count once.
func (r *Reconciler) ResolveDivergences(ctx context.Context, ids []int, decision string, justification string) (resolved []*models.Divergence, err error) {
	ctx, span := tracer.Start(ctx, "workflow.ResolveDivergences")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	justification, err = models.ValidateJustification(justification)
	if err != nil {
		return nil, err
	}
	status, err := models.ParseResolutionDecision(decision)
	if err != nil {
		return nil, err
	}
	resolver, ok := utils.GetUsernameFromContext(ctx)
	resolver = strings.TrimSpace(resolver)
	if !ok || resolver == "" {
		return nil, models.ErrResolverRequired
	}
	ids = uniqueIds(ids)
	if len(ids) == 0 {
		return nil, models.ErrEmptyBatch
	}
	span.SetAttributes(attribute.Int("divergence.count", len(ids)), attribute.String("divergence.decision", string(status)))

	var reconciled []*models.DailyClosing
	err = r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []*models.Divergence
		if err := tx.Where("id IN ?", ids).Order("id").Find(&rows).Error; err != nil {
			config.LogError(r.Logger, "resolutionWorkflow.go", "ResolveDivergences", "FindDivergences", ids, err)
			return err
		}
		if len(rows) != len(ids) {
			return fmt.Errorf("%w: divergences %v", models.ErrNotFound, missingIds(ids, rows))
		}
		for _, row := range rows {
			if !row.IsPending() {
				return fmt.Errorf("%w: divergence %d is %s", models.ErrAlreadyResolved, row.ID, row.ResolutionStatus)
			}
		}

		var closingIds []int
		for _, row := range rows {
			if !slices.Contains(closingIds, row.DailyClosingId) {
				closingIds = append(closingIds, row.DailyClosingId)
			}
		}
		// sessions resolving disjoint divergences of the same closing queue here
		locked, err := models.LockDailyClosingsTx(tx, closingIds)
		if err != nil {
			config.LogError(r.Logger, "resolutionWorkflow.go", "ResolveDivergences", "LockDailyClosingsTx", closingIds, err)
			return err
		}

		now := time.Now().UTC()
		res := tx.Model(&models.Divergence{}).
			Where("id IN ? AND resolution_status = ?", ids, models.ResolutionStatusPending).
			Updates(map[string]interface{}{
				"resolution_status": status,
				"justification":     justification,
				"resolved_by":       resolver,
				"resolved_at":       now,
			})
		if res.Error != nil {
			config.LogError(r.Logger, "resolutionWorkflow.go", "ResolveDivergences", "UpdateDivergences", ids, res.Error)
			return res.Error
		}
		if res.RowsAffected != int64(len(ids)) {
			// another session resolved part of the batch between our read and the update
			return models.ErrAlreadyResolved
		}

		for _, closingId := range closingIds {
			closing, _, err := models.RecomputeClosingStatus(tx, closingId)
			if err != nil {
				config.LogError(r.Logger, "resolutionWorkflow.go", "ResolveDivergences", "RecomputeClosingStatus", closingId, err)
				return err
			}
			if locked[closingId].Status != models.ClosingStatusReconciled && closing.Status == models.ClosingStatusReconciled {
				reconciled = append(reconciled, closing)
			}
		}

		resolved = make([]*models.Divergence, 0, len(rows))
		for _, row := range rows {
			before := *row
			row.ResolutionStatus = status
			row.Justification = justification
			row.ResolvedBy = resolver
			row.ResolvedAt = &now
			description := fmt.Sprintf("Divergence %d (%s, reference %s) marked %s by %s",
				row.ID, row.Kind, row.ExternalReference, status, resolver)
			if err := models.CreateHistory(tx, row.DailyClosingId, models.HistoryActionResolve, "Divergence", row.ID, before, row, description); err != nil {
				config.LogError(r.Logger, "resolutionWorkflow.go", "ResolveDivergences", "CreateHistory", row.ID, err)
				return err
			}
			resolved = append(resolved, row)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, closing := range reconciled {
		r.publish(ctx, EventClosingReconciled, closing)
	}
	return resolved, nil
}

func uniqueIds(ids []int) []int {
	out := make([]int, 0, len(ids))
	for _, id := range ids {
		if !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}

func missingIds(ids []int, rows []*models.Divergence) []int {
	found := make(map[int]bool, len(rows))
	for _, row := range rows {
		found[row.ID] = true
	}
	var missing []int
	for _, id := range ids {
		if !found[id] {
			missing = append(missing, id)
		}
	}
	return missing
}
