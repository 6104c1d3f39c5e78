package models

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mmdatafocus/closing_backend/config"
	"github.com/mmdatafocus/closing_backend/utils"
	"gorm.io/gorm"
)

const systemUserName = "System"

// ClosingHistory is the audit trail of every mutation applied to a daily closing.
type ClosingHistory struct {
	ID             int               `gorm:"primary_key" json:"id"`
	DailyClosingId int               `gorm:"index;not null" json:"daily_closing_id"`
	ActionType     HistoryActionType `gorm:"size:10;not null" json:"action_type"`
	ReferenceType  string            `gorm:"size:50" json:"reference_type"`
	ReferenceID    int               `gorm:"index" json:"reference_id"`
	Before         string            `gorm:"type:text" json:"before"`
	After          string            `gorm:"type:text" json:"after"`
	Description    string            `gorm:"type:text;not null" json:"description"`
	UserName       string            `gorm:"size:100" json:"user_name"`
	CorrelationId  string            `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt      time.Time         `gorm:"autoCreateTime" json:"created_at"`
}

// CreateHistory records one audit row; the acting user and correlation id come from tx's context.
func CreateHistory(tx *gorm.DB,
	closingId int,
	actionType HistoryActionType,
	referenceType string,
	referenceId int,
	before interface{},
	after interface{},
	description string) error {

	var b, a []byte
	if before != nil {
		b, _ = json.Marshal(before)
	}
	if after != nil {
		a, _ = json.Marshal(after)
	}

	ctx := tx.Statement.Context
	userName, ok := utils.GetUsernameFromContext(ctx)
	if !ok || userName == "" {
		userName = systemUserName
	}

	history := ClosingHistory{
		DailyClosingId: closingId,
		ActionType:     actionType,
		ReferenceType:  referenceType,
		ReferenceID:    referenceId,
		Before:         string(b),
		After:          string(a),
		Description:    description,
		UserName:       userName,
		CorrelationId:  utils.CorrelationIdFromContextOrNew(ctx),
	}
	return tx.Create(&history).Error
}

// GetClosingHistory lists the audit trail of a date, oldest first. Unknown dates yield an empty list.
func GetClosingHistory(ctx context.Context, date time.Time) ([]*ClosingHistory, error) {
	db := config.GetDB()
	results := []*ClosingHistory{}
	closingIds := db.WithContext(ctx).Model(&DailyClosing{}).Select("id").Where("closing_date = ?", utils.DateOnly(date))
	err := db.WithContext(ctx).
		Where("daily_closing_id IN (?)", closingIds).
		Order("id").
		Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
