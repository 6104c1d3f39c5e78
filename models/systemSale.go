package models

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/mmdatafocus/closing_backend/utils"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"
)

// SystemSale is a point-of-sale transaction as exposed by the sales subsystem.
// For card payments ExternalReference carries the network's transaction id.
type SystemSale struct {
	ID                int           `gorm:"primary_key" json:"id"`
	SaleDate          time.Time     `gorm:"type:date;index" json:"sale_date"`
	PaymentMethod     PaymentMethod `gorm:"size:30" json:"payment_method"`
	Amount            int64         `json:"amount"`
	ExternalReference string        `gorm:"size:100;index" json:"external_reference"`
}

// SalesIndex is the read-only view of sales recorded for a date.
type SalesIndex interface {
	SalesForDate(ctx context.Context, date time.Time) ([]SystemSale, error)
}

type dbSalesIndex struct {
	db    *gorm.DB
	table string
}

// NewSalesIndex reads sales from a table or view shared by the point-of-sale subsystem.
func NewSalesIndex(db *gorm.DB, table string) SalesIndex {
	return &dbSalesIndex{db: db, table: table}
}

func (s *dbSalesIndex) SalesForDate(ctx context.Context, date time.Time) ([]SystemSale, error) {
	var sales []SystemSale
	err := s.db.WithContext(ctx).
		Table(s.table).
		Where("sale_date = ?", utils.DateOnly(date)).
		Order("id").
		Find(&sales).Error
	if err != nil {
		return nil, err
	}
	for i := range sales {
		sales[i].PaymentMethod = NormalizePaymentMethod(string(sales[i].PaymentMethod))
		sales[i].ExternalReference = strings.TrimSpace(sales[i].ExternalReference)
	}
	return sales, nil
}

var paymentMethodLabels = map[string]PaymentMethod{
	"cash":     PaymentMethodCash,
	"dinheiro": PaymentMethodCash,
	"especie":  PaymentMethodCash,

	"instant_transfer": PaymentMethodInstantTransfer,
	"pix":              PaymentMethodInstantTransfer,

	"debit":            PaymentMethodDebit,
	"debito":           PaymentMethodDebit,
	"debit_card":       PaymentMethodDebit,
	"cartao_debito":    PaymentMethodDebit,
	"cartao_de_debito": PaymentMethodDebit,

	"credit_single":     PaymentMethodCreditSingle,
	"credit":            PaymentMethodCreditSingle,
	"credit_card":       PaymentMethodCreditSingle,
	"credito":           PaymentMethodCreditSingle,
	"credito_a_vista":   PaymentMethodCreditSingle,
	"credito_avista":    PaymentMethodCreditSingle,
	"cartao_credito":    PaymentMethodCreditSingle,
	"cartao_de_credito": PaymentMethodCreditSingle,

	"credit_installments":         PaymentMethodCreditInstallments,
	"credit_card_installments":    PaymentMethodCreditInstallments,
	"credito_parcelado":           PaymentMethodCreditInstallments,
	"cartao_credito_parcelado":    PaymentMethodCreditInstallments,
	"cartao_de_credito_parcelado": PaymentMethodCreditInstallments,
	"parcelado":                   PaymentMethodCreditInstallments,
}

// NormalizePaymentMethod maps the labels the point-of-sale subsystem uses onto PaymentMethod.
// Case, accents, spaces and hyphens are ignored. Unknown labels are kept folded; they count
// towards the system total but are never matched.
func NormalizePaymentMethod(raw string) PaymentMethod {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.NewReplacer("-", "_", " ", "_").Replace(key)
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	if folded, _, err := transform.String(t, key); err == nil {
		key = folded
	}
	if method, ok := paymentMethodLabels[key]; ok {
		return method
	}
	return PaymentMethod(key)
}
