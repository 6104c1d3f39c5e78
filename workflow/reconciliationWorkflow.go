package workflow

import (
	"context"
	"fmt"
	"time"

	"github.com/mmdatafocus/closing_backend/config"
	"github.com/mmdatafocus/closing_backend/models"
	"github.com/mmdatafocus/closing_backend/settlement"
	"github.com/mmdatafocus/closing_backend/utils"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"gorm.io/gorm"
)

const insertBatchSize = 500

var tracer = otel.Tracer("github.com/mmdatafocus/closing_backend/workflow")

// Reconciler runs the write side of daily closings: extract ingestion, clearing and resolution.
type Reconciler struct {
	DB      *gorm.DB
	Logger  *logrus.Logger
	Sales   models.SalesIndex
	Locks   DateLocker
	Events  EventPublisher
	Archive ExtractArchive // optional
}

// NewReconciler wires a Reconciler from the process-wide configuration.
func NewReconciler() *Reconciler {
	db := config.GetDB()
	logger := config.GetLogger()
	return &Reconciler{
		DB:      db,
		Logger:  logger,
		Sales:   models.NewSalesIndex(db, config.SalesTable()),
		Locks:   NewDateLocker(logger),
		Events:  NewEventPublisher(),
		Archive: NewExtractArchive(),
	}
}

type UploadResult struct {
	ClosingId             int                  `json:"closing_id"`
	ClosingDate           string               `json:"closing_date"`
	Status                models.ClosingStatus `json:"status"`
	TransactionsProcessed int                  `json:"transactions_processed"`
	Matched               int                  `json:"matched"`
	Divergent             int                  `json:"divergent"`
	Unposted              int                  `json:"unposted"`
	GhostSales            int                  `json:"ghost_sales"`
	SkippedRows           int                  `json:"skipped_rows"`
	OtherDateRows         int                  `json:"other_date_rows"`
}

// IngestFile normalizes an uploaded report and ingests it. A malformed report aborts before
// any lock is taken or row is written.
func (r *Reconciler) IngestFile(ctx context.Context, date time.Time, file ExtractFile) (*UploadResult, error) {
	extract, err := settlement.NormalizeFile(file.Name, file.Content, date)
	if err != nil {
		return nil, err
	}
	return r.IngestExtract(ctx, extract, &file)
}

// IngestExtract classifies a normalized extract against the date's sales and persists the result
// in one transaction. A date is ingested at most once until it is cleared. file, when given, is
// archived after commit.
func (r *Reconciler) IngestExtract(ctx context.Context, extract *settlement.Extract, file *ExtractFile) (result *UploadResult, err error) {
	date := utils.DateOnly(extract.Date)
	ctx, span := tracer.Start(ctx, "workflow.IngestExtract")
	span.SetAttributes(
		attribute.String("closing.date", date.Format(utils.DateLayout)),
		attribute.Int("extract.rows", len(extract.Transactions)),
	)
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	release, err := r.Locks.Obtain(ctx, date)
	if err != nil {
		return nil, err
	}
	defer release()

	closing, err := models.GetOrCreateDailyClosingTx(r.DB.WithContext(ctx), date)
	if err != nil {
		config.LogError(r.Logger, "reconciliationWorkflow.go", "IngestExtract", "GetOrCreateDailyClosing", date, err)
		return nil, err
	}
	if closing.IngestedAt != nil {
		return nil, models.ErrAlreadyIngested
	}

	sales, err := r.Sales.SalesForDate(ctx, date)
	if err != nil {
		config.LogError(r.Logger, "reconciliationWorkflow.go", "IngestExtract", "SalesForDate", date, err)
		return nil, err
	}
	if unknown := UnknownPaymentMethods(sales); unknown != nil {
		r.Logger.WithFields(logrus.Fields{
			"closing_date":    date.Format(utils.DateLayout),
			"payment_methods": unknown,
			"correlation_id":  utils.CorrelationIdFromContextOrNew(ctx),
		}).Warn("sales with unknown payment methods are counted but never matched")
	}

	classification := Classify(sales, extract.Transactions)
	totals := classification.Totals
	pending := len(classification.Divergences)
	status := models.DeriveClosingStatus(pending, totals.TransactionCount)
	now := time.Now().UTC()
	before := *closing

	err = r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		updates := totals.Columns()
		updates["pending_divergence_count"] = pending
		updates["status"] = status
		updates["skipped_rows"] = extract.Skipped + extract.OtherDate
		updates["ingested_at"] = now
		updates["extract_sha256"] = extract.Sha256

		// the single-writer guarantee: whoever flips ingested_at first owns the date
		res := tx.Model(&models.DailyClosing{}).
			Where("id = ? AND ingested_at IS NULL", closing.ID).
			Updates(updates)
		if res.Error != nil {
			config.LogError(r.Logger, "reconciliationWorkflow.go", "IngestExtract", "UpdateDailyClosing", closing.ID, res.Error)
			return res.Error
		}
		if res.RowsAffected == 0 {
			return models.ErrAlreadyIngested
		}

		transactions := classification.Transactions
		for i := range transactions {
			transactions[i].DailyClosingId = closing.ID
		}
		if len(transactions) > 0 {
			if err := tx.CreateInBatches(&transactions, insertBatchSize).Error; err != nil {
				config.LogError(r.Logger, "reconciliationWorkflow.go", "IngestExtract", "CreateNetworkTransactions", len(transactions), err)
				return err
			}
		}

		divergences := make([]models.Divergence, 0, len(classification.Divergences))
		for _, cd := range classification.Divergences {
			d := cd.Divergence
			d.DailyClosingId = closing.ID
			if cd.NetworkIndex >= 0 {
				networkTransactionId := transactions[cd.NetworkIndex].ID
				d.NetworkTransactionId = &networkTransactionId
			}
			divergences = append(divergences, d)
		}
		if len(divergences) > 0 {
			if err := tx.CreateInBatches(&divergences, insertBatchSize).Error; err != nil {
				config.LogError(r.Logger, "reconciliationWorkflow.go", "IngestExtract", "CreateDivergences", len(divergences), err)
				return err
			}
		}

		closing.ClosingTotals = totals
		closing.PendingDivergenceCount = pending
		closing.Status = status
		closing.SkippedRows = extract.Skipped + extract.OtherDate
		closing.IngestedAt = &now
		closing.ExtractSha256 = extract.Sha256

		description := fmt.Sprintf("Ingested settlement extract: %d transactions, %d matched, %d divergent, %d unposted, %d ghost sales, %d rows skipped",
			totals.TransactionCount, totals.MatchedCount, totals.DivergentCount, totals.UnpostedCount, totals.GhostCount, closing.SkippedRows)
		return models.CreateHistory(tx, closing.ID, models.HistoryActionIngest, "DailyClosing", closing.ID, before, closing, description)
	})
	if err != nil {
		return nil, err
	}

	r.Logger.WithFields(logrus.Fields{
		"closing_date":   date.Format(utils.DateLayout),
		"transactions":   totals.TransactionCount,
		"divergences":    pending,
		"status":         status,
		"correlation_id": utils.CorrelationIdFromContextOrNew(ctx),
	}).Info("settlement extract ingested")

	if file != nil {
		r.archiveExtract(ctx, closing, *file)
	}
	r.publish(ctx, EventClosingIngested, closing)
	if status == models.ClosingStatusReconciled {
		r.publish(ctx, EventClosingReconciled, closing)
	}

	return &UploadResult{
		ClosingId:             closing.ID,
		ClosingDate:           date.Format(utils.DateLayout),
		Status:                status,
		TransactionsProcessed: totals.TransactionCount,
		Matched:               totals.MatchedCount,
		Divergent:             totals.DivergentCount,
		Unposted:              totals.UnpostedCount,
		GhostSales:            totals.GhostCount,
		SkippedRows:           extract.Skipped,
		OtherDateRows:         extract.OtherDate,
	}, nil
}

// ClearDay purges everything ingested for date and resets its closing to pending. Sales are
// untouched. Fails with models.ErrNotFound when the date has no closing.
func (r *Reconciler) ClearDay(ctx context.Context, date time.Time) (*models.DailyClosing, error) {
	date = utils.DateOnly(date)
	ctx, span := tracer.Start(ctx, "workflow.ClearDay")
	defer span.End()
	span.SetAttributes(attribute.String("closing.date", date.Format(utils.DateLayout)))

	release, err := r.Locks.Obtain(ctx, date)
	if err != nil {
		return nil, err
	}
	defer release()

	var closing *models.DailyClosing
	err = r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		closing, err = models.FindDailyClosingTx(tx, date)
		if err != nil {
			return err
		}
		before := *closing
		if err := models.ClearDailyClosingTx(tx, closing); err != nil {
			config.LogError(r.Logger, "reconciliationWorkflow.go", "ClearDay", "ClearDailyClosingTx", closing.ID, err)
			return err
		}
		description := fmt.Sprintf("Cleared daily closing: removed %d transactions and %d divergences",
			before.TransactionCount, before.DivergenceCount())
		return models.CreateHistory(tx, closing.ID, models.HistoryActionClear, "DailyClosing", closing.ID, before, closing, description)
	})
	if err != nil {
		return nil, err
	}
	r.publish(ctx, EventClosingCleared, closing)
	return closing, nil
}

func (r *Reconciler) archiveExtract(ctx context.Context, closing *models.DailyClosing, file ExtractFile) {
	if r.Archive == nil {
		return
	}
	key, err := r.Archive.Store(ctx, closing.ClosingDate, file, closing.ExtractSha256)
	if err != nil {
		config.LogError(r.Logger, "reconciliationWorkflow.go", "archiveExtract", "Store", file.Name, err)
		return
	}
	if err := r.DB.WithContext(ctx).Model(&models.DailyClosing{}).
		Where("id = ?", closing.ID).
		Update("extract_archive_key", key).Error; err != nil {
		config.LogError(r.Logger, "reconciliationWorkflow.go", "archiveExtract", "UpdateArchiveKey", key, err)
		return
	}
	closing.ExtractArchiveKey = key
}

// publish is best effort: the closing is already committed.
func (r *Reconciler) publish(ctx context.Context, eventType string, closing *models.DailyClosing) {
	if r.Events == nil {
		return
	}
	if err := r.Events.Publish(ctx, newClosingEvent(ctx, eventType, closing)); err != nil {
		config.LogError(r.Logger, "reconciliationWorkflow.go", "publish", eventType, closing.ID, err)
	}
}
