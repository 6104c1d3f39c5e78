package models

import "time"

// NetworkTransaction is one settlement row reported by the card network for a closing date.
// ExternalReference is not unique: networks resubmit rows.
type NetworkTransaction struct {
	ID                int           `gorm:"primary_key" json:"id"`
	DailyClosingId    int           `gorm:"index:idx_nt_closing_seq,priority:1;not null" json:"daily_closing_id"`
	Sequence          int           `gorm:"index:idx_nt_closing_seq,priority:2;not null" json:"sequence"`
	ExternalReference string        `gorm:"size:100;index" json:"external_reference"`
	CardBrand         string        `gorm:"size:50" json:"card_brand"`
	Modality          PaymentMethod `gorm:"size:30" json:"modality"`
	Installments      int           `gorm:"not null;default:1" json:"installments"`
	GrossAmount       int64         `gorm:"not null" json:"gross_amount"`
	NetAmount         int64         `gorm:"not null" json:"net_amount"`
	MatchStatus       MatchStatus   `gorm:"size:20;not null;index" json:"match_status"`
	SystemSaleId      *int          `json:"system_sale_id"`
	SystemAmount      *int64        `json:"system_amount"`
	CreatedAt         time.Time     `gorm:"autoCreateTime" json:"created_at"`
}

// Fee is what the network withheld from the gross amount.
func (t NetworkTransaction) Fee() int64 {
	return t.GrossAmount - t.NetAmount
}
