package models

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/mmdatafocus/closing_backend/config"
	"github.com/mmdatafocus/closing_backend/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const maxListRangeDays = 366

// DailyClosing is the per-date reconciliation aggregate. It owns the date's network
// transactions and divergences.
//
// Counts are historical: they describe how the extract was classified and never change
// on resolution. PendingDivergenceCount is the outstanding attention set and drives Status.
type DailyClosing struct {
	ID          int       `gorm:"primary_key" json:"id"`
	ClosingDate time.Time `gorm:"type:date;not null;uniqueIndex:uniq_closing_date" json:"closing_date"`

	ClosingTotals

	PendingDivergenceCount int           `gorm:"not null;default:0" json:"pending_divergence_count"`
	Status                 ClosingStatus `gorm:"size:20;not null;default:pending;index" json:"status"`
	SkippedRows            int           `gorm:"not null;default:0" json:"skipped_rows"`
	IngestedAt             *time.Time    `json:"ingested_at"`
	ExtractSha256          string        `gorm:"size:64" json:"extract_sha256"`
	ExtractArchiveKey      string        `gorm:"size:255" json:"extract_archive_key"`
	CreatedAt              time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

// ClosingTotals are the aggregate figures recomputed from a classified set. Amounts are minor units.
type ClosingTotals struct {
	CashTotal               int64 `gorm:"not null;default:0" json:"cash_total"`
	InstantTransferTotal    int64 `gorm:"not null;default:0" json:"instant_transfer_total"`
	DebitTotal              int64 `gorm:"not null;default:0" json:"debit_total"`
	CreditSingleTotal       int64 `gorm:"not null;default:0" json:"credit_single_total"`
	CreditInstallmentsTotal int64 `gorm:"not null;default:0" json:"credit_installments_total"`
	TotalSystem             int64 `gorm:"not null;default:0" json:"total_system"`
	TotalNetwork            int64 `gorm:"not null;default:0" json:"total_network"`
	TotalNetworkNet         int64 `gorm:"not null;default:0" json:"total_network_net"`
	TotalFees               int64 `gorm:"not null;default:0" json:"total_fees"`
	TransactionCount        int   `gorm:"not null;default:0" json:"transaction_count"`
	MatchedCount            int   `gorm:"not null;default:0" json:"matched_count"`
	DivergentCount          int   `gorm:"not null;default:0" json:"divergent_count"`
	GhostCount              int   `gorm:"not null;default:0" json:"ghost_count"`
	UnpostedCount           int   `gorm:"not null;default:0" json:"unposted_count"`
}

// DivergenceCount is the number of divergences the classification emitted.
func (t ClosingTotals) DivergenceCount() int {
	return t.DivergentCount + t.GhostCount + t.UnpostedCount
}

// Columns maps the totals onto their column names for map based updates, zero values included.
func (t ClosingTotals) Columns() map[string]interface{} {
	return map[string]interface{}{
		"cash_total":                t.CashTotal,
		"instant_transfer_total":    t.InstantTransferTotal,
		"debit_total":               t.DebitTotal,
		"credit_single_total":       t.CreditSingleTotal,
		"credit_installments_total": t.CreditInstallmentsTotal,
		"total_system":              t.TotalSystem,
		"total_network":             t.TotalNetwork,
		"total_network_net":         t.TotalNetworkNet,
		"total_fees":                t.TotalFees,
		"transaction_count":         t.TransactionCount,
		"matched_count":             t.MatchedCount,
		"divergent_count":           t.DivergentCount,
		"ghost_count":               t.GhostCount,
		"unposted_count":            t.UnpostedCount,
	}
}

// DeriveClosingStatus returns hasDivergence while anything is pending review, reconciled once the
// network reported at least one transaction and nothing is pending, pending otherwise.
func DeriveClosingStatus(pendingDivergences int, transactionCount int) ClosingStatus {
	if pendingDivergences > 0 {
		return ClosingStatusHasDivergence
	}
	if transactionCount > 0 {
		return ClosingStatusReconciled
	}
	return ClosingStatusPending
}

type DailyClosingDetails struct {
	Closing      *DailyClosing         `json:"closing"`
	Transactions []*NetworkTransaction `json:"transactions"`
	Divergences  []*Divergence         `json:"divergences"`
}

type DailyClosingSummary struct {
	ID                     int           `json:"id"`
	ClosingDate            time.Time     `json:"closing_date"`
	TotalSystem            int64         `json:"total_system"`
	TotalNetwork           int64         `json:"total_network"`
	MatchedCount           int           `json:"matched_count"`
	DivergentCount         int           `json:"divergent_count"`
	GhostCount             int           `json:"ghost_count"`
	UnpostedCount          int           `json:"unposted_count"`
	PendingDivergenceCount int           `json:"pending_divergence_count"`
	Status                 ClosingStatus `json:"status"`
	IngestedAt             *time.Time    `json:"ingested_at"`
}

// GetOrCreateDailyClosing returns the closing of date, creating an empty pending one when absent.
func GetOrCreateDailyClosing(ctx context.Context, date time.Time) (*DailyClosing, error) {
	db := config.GetDB()
	return GetOrCreateDailyClosingTx(db.WithContext(ctx), date)
}

func GetOrCreateDailyClosingTx(tx *gorm.DB, date time.Time) (*DailyClosing, error) {
	date = utils.DateOnly(date)

	closing, err := findDailyClosing(tx, date)
	if err == nil {
		return closing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	created := DailyClosing{ClosingDate: date, Status: ClosingStatusPending}
	if err := tx.Create(&created).Error; err != nil {
		if utils.IsDuplicateKeyErr(err) {
			// lost a race with another first read of the same date
			return findDailyClosing(tx, date)
		}
		return nil, err
	}
	return &created, nil
}

// FindDailyClosing returns ErrNotFound when date has never been queried or uploaded.
func FindDailyClosing(ctx context.Context, date time.Time) (*DailyClosing, error) {
	db := config.GetDB()
	return findDailyClosing(db.WithContext(ctx), utils.DateOnly(date))
}

// FindDailyClosingTx is FindDailyClosing on an open transaction. The row stays locked for
// update until the transaction ends.
func FindDailyClosingTx(tx *gorm.DB, date time.Time) (*DailyClosing, error) {
	return findDailyClosing(tx.Clauses(clause.Locking{Strength: "UPDATE"}), utils.DateOnly(date))
}

// LockDailyClosingsTx takes the row lock of every closing in closingIds, in ascending id order,
// and returns the locked rows by id. Callers that change a closing's children lock it first so
// concurrent sessions on the same closing serialize.
func LockDailyClosingsTx(tx *gorm.DB, closingIds []int) (map[int]*DailyClosing, error) {
	ids := slices.Clone(closingIds)
	slices.Sort(ids)
	ids = slices.Compact(ids)

	locked := make(map[int]*DailyClosing, len(ids))
	for _, id := range ids {
		closing, err := lockDailyClosing(tx, id)
		if err != nil {
			return nil, err
		}
		locked[id] = closing
	}
	return locked, nil
}

func lockDailyClosing(tx *gorm.DB, closingId int) (*DailyClosing, error) {
	var closing DailyClosing
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&closing, closingId).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &closing, nil
}

func findDailyClosing(tx *gorm.DB, date time.Time) (*DailyClosing, error) {
	var closing DailyClosing
	err := tx.Where("closing_date = ?", date).First(&closing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &closing, nil
}

// GetDailyClosingDetails returns the closing with its children in insertion order.
func GetDailyClosingDetails(ctx context.Context, date time.Time) (*DailyClosingDetails, error) {
	db := config.GetDB()

	closing, err := GetOrCreateDailyClosing(ctx, date)
	if err != nil {
		return nil, err
	}

	details := DailyClosingDetails{
		Closing:      closing,
		Transactions: []*NetworkTransaction{},
		Divergences:  []*Divergence{},
	}
	if err := db.WithContext(ctx).
		Where("daily_closing_id = ?", closing.ID).
		Order("sequence, id").
		Find(&details.Transactions).Error; err != nil {
		return nil, err
	}
	if err := db.WithContext(ctx).
		Where("daily_closing_id = ?", closing.ID).
		Order("id").
		Find(&details.Divergences).Error; err != nil {
		return nil, err
	}
	return &details, nil
}

// ListDailyClosings returns summaries of existing closings in [start, end], by date.
func ListDailyClosings(ctx context.Context, start time.Time, end time.Time) ([]*DailyClosingSummary, error) {
	start = utils.DateOnly(start)
	end = utils.DateOnly(end)
	if end.Before(start) || end.Sub(start) > maxListRangeDays*24*time.Hour {
		return nil, ErrInvalidDateRange
	}

	db := config.GetDB()
	results := []*DailyClosingSummary{}
	err := db.WithContext(ctx).
		Model(&DailyClosing{}).
		Where("closing_date BETWEEN ? AND ?", start, end).
		Order("closing_date").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}

// ClearDailyClosingTx deletes every ingested child of closing and resets it to an empty pending
// record. Sales owned by the point-of-sale subsystem are untouched.
func ClearDailyClosingTx(tx *gorm.DB, closing *DailyClosing) error {
	if err := tx.Where("daily_closing_id = ?", closing.ID).Delete(&Divergence{}).Error; err != nil {
		return err
	}
	if err := tx.Where("daily_closing_id = ?", closing.ID).Delete(&NetworkTransaction{}).Error; err != nil {
		return err
	}

	closing.ClosingTotals = ClosingTotals{}
	closing.PendingDivergenceCount = 0
	closing.Status = ClosingStatusPending
	closing.SkippedRows = 0
	closing.IngestedAt = nil
	closing.ExtractSha256 = ""
	closing.ExtractArchiveKey = ""
	return tx.Save(closing).Error
}

// RecomputeClosingStatus refreshes the pending-divergence count and status of a closing from
// its children. It returns the closing as stored afterwards and the status it had before.
//
// The closing row is locked for update and the children are counted with locking reads, so the
// counts include every committed change rather than the transaction's first snapshot.
func RecomputeClosingStatus(tx *gorm.DB, closingId int) (*DailyClosing, ClosingStatus, error) {
	closing, err := lockDailyClosing(tx, closingId)
	if err != nil {
		return nil, "", err
	}
	before := closing.Status

	var pending int64
	if err := tx.Clauses(clause.Locking{Strength: "SHARE"}).
		Model(&Divergence{}).
		Where("daily_closing_id = ? AND resolution_status = ?", closingId, ResolutionStatusPending).
		Count(&pending).Error; err != nil {
		return nil, "", err
	}
	var transactions int64
	if err := tx.Clauses(clause.Locking{Strength: "SHARE"}).
		Model(&NetworkTransaction{}).
		Where("daily_closing_id = ?", closingId).
		Count(&transactions).Error; err != nil {
		return nil, "", err
	}

	status := DeriveClosingStatus(int(pending), int(transactions))
	if err := tx.Model(closing).Updates(map[string]interface{}{
		"pending_divergence_count": int(pending),
		"status":                   status,
	}).Error; err != nil {
		return nil, "", err
	}
	closing.PendingDivergenceCount = int(pending)
	closing.Status = status
	return closing, before, nil
}
