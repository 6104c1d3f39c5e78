package models

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mmdatafocus/closing_backend/config"
	"gorm.io/gorm"
)

const MinJustificationLength = 10

// Divergence is one classified mismatch awaiting (or carrying) a reviewer decision.
// Justification, ResolvedBy and ResolvedAt are set exactly when ResolutionStatus leaves pending.
type Divergence struct {
	ID                   int              `gorm:"primary_key" json:"id"`
	DailyClosingId       int              `gorm:"index:idx_div_closing_status,priority:1;not null" json:"daily_closing_id"`
	NetworkTransactionId *int             `gorm:"index" json:"network_transaction_id"`
	SystemSaleId         *int             `gorm:"index" json:"system_sale_id"`
	Kind                 DivergenceKind   `gorm:"size:20;not null" json:"kind"`
	ExternalReference    string           `gorm:"size:100" json:"external_reference"`
	Description          string           `gorm:"type:text;not null" json:"description"`
	SystemAmount         *int64           `json:"system_amount"`
	NetworkAmount        *int64           `json:"network_amount"`
	Delta                *int64           `json:"delta"`
	ResolutionStatus     ResolutionStatus `gorm:"size:20;not null;default:pending;index:idx_div_closing_status,priority:2" json:"resolution_status"`
	Justification        string           `gorm:"type:text" json:"justification"`
	ResolvedBy           string           `gorm:"size:100" json:"resolved_by"`
	ResolvedAt           *time.Time       `json:"resolved_at"`
	CreatedAt            time.Time        `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time        `gorm:"autoUpdateTime" json:"updated_at"`
}

func (d Divergence) IsPending() bool {
	return d.ResolutionStatus == ResolutionStatusPending
}

// ValidateJustification enforces the minimum length counted in characters, ignoring surrounding blanks.
func ValidateJustification(justification string) (string, error) {
	trimmed := strings.TrimSpace(justification)
	if utf8.RuneCountInString(trimmed) < MinJustificationLength {
		return "", ErrInvalidJustification
	}
	return trimmed, nil
}

func GetDivergence(ctx context.Context, id int) (*Divergence, error) {
	db := config.GetDB()
	var divergence Divergence
	err := db.WithContext(ctx).First(&divergence, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &divergence, nil
}
