package models

import (
	"errors"
	"strings"
)

type PaymentMethod string

const (
	PaymentMethodCash               PaymentMethod = "cash"
	PaymentMethodInstantTransfer    PaymentMethod = "instant_transfer"
	PaymentMethodDebit              PaymentMethod = "debit"
	PaymentMethodCreditSingle       PaymentMethod = "credit_single"
	PaymentMethodCreditInstallments PaymentMethod = "credit_installments"
)

// IsCard reports whether the method is settled by the card network and must be matched.
func (m PaymentMethod) IsCard() bool {
	switch m {
	case PaymentMethodDebit, PaymentMethodCreditSingle, PaymentMethodCreditInstallments:
		return true
	}
	return false
}

// IsKnown reports whether the method is one the point-of-sale labels normalize onto.
func (m PaymentMethod) IsKnown() bool {
	return m.IsCard() || m == PaymentMethodCash || m == PaymentMethodInstantTransfer
}

type ClosingStatus string

const (
	ClosingStatusPending       ClosingStatus = "pending"
	ClosingStatusReconciled    ClosingStatus = "reconciled"
	ClosingStatusHasDivergence ClosingStatus = "hasDivergence"
)

type MatchStatus string

const (
	MatchStatusOk             MatchStatus = "ok"
	MatchStatusValueDivergent MatchStatus = "valueDivergent"
	MatchStatusUnposted       MatchStatus = "unposted"
)

type DivergenceKind string

const (
	DivergenceKindValueDivergent DivergenceKind = "valueDivergent"
	DivergenceKindUnposted       DivergenceKind = "unposted"
	DivergenceKindGhostSale      DivergenceKind = "ghostSale"
)

type ResolutionStatus string

const (
	ResolutionStatusPending   ResolutionStatus = "pending"
	ResolutionStatusApproved  ResolutionStatus = "approved"
	ResolutionStatusCorrected ResolutionStatus = "corrected"
	ResolutionStatusIgnored   ResolutionStatus = "ignored"
)

var ErrInvalidDecision = errors.New("decision must be one of approved, corrected, ignored")

// ParseResolutionDecision accepts only the terminal states a reviewer may choose.
func ParseResolutionDecision(s string) (ResolutionStatus, error) {
	switch ResolutionStatus(strings.ToLower(strings.TrimSpace(s))) {
	case ResolutionStatusApproved:
		return ResolutionStatusApproved, nil
	case ResolutionStatusCorrected:
		return ResolutionStatusCorrected, nil
	case ResolutionStatusIgnored:
		return ResolutionStatusIgnored, nil
	}
	return "", ErrInvalidDecision
}

type HistoryActionType string

const (
	HistoryActionIngest  HistoryActionType = "Ingest"
	HistoryActionClear   HistoryActionType = "Clear"
	HistoryActionResolve HistoryActionType = "Resolve"
	HistoryActionRepair  HistoryActionType = "Repair"
)
