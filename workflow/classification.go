package workflow

import (
	"fmt"

	"github.com/mmdatafocus/closing_backend/models"
	"github.com/shopspring/decimal"
)

// ClassifiedDivergence is a divergence before persistence. NetworkIndex points into
// Classification.Transactions, -1 when the divergence has no network side.
type ClassifiedDivergence struct {
	models.Divergence
	NetworkIndex int
}

type Classification struct {
	Transactions []models.NetworkTransaction
	Divergences  []ClassifiedDivergence
	Totals       models.ClosingTotals
}

// Classify pairs the network transactions of one date with that date's system sales.
//
// Card sales are joined on external reference; the first sale carrying a reference is its join
// target and the first network row carrying it wins the match. Later rows with an already seen
// reference are unposted. Unconsumed card sales become ghost sales. Cash, instant transfer and
// unknown methods only feed the totals. Inputs are not modified.
func Classify(sales []models.SystemSale, network []models.NetworkTransaction) Classification {
	result := Classification{
		Transactions: make([]models.NetworkTransaction, 0, len(network)),
		Divergences:  []ClassifiedDivergence{},
	}
	totals := &result.Totals

	cardSaleByRef := map[string]int{}
	for i, sale := range sales {
		totals.TotalSystem += sale.Amount
		switch sale.PaymentMethod {
		case models.PaymentMethodCash:
			totals.CashTotal += sale.Amount
		case models.PaymentMethodInstantTransfer:
			totals.InstantTransferTotal += sale.Amount
		case models.PaymentMethodDebit:
			totals.DebitTotal += sale.Amount
		case models.PaymentMethodCreditSingle:
			totals.CreditSingleTotal += sale.Amount
		case models.PaymentMethodCreditInstallments:
			totals.CreditInstallmentsTotal += sale.Amount
		}
		if !sale.PaymentMethod.IsCard() || sale.ExternalReference == "" {
			continue
		}
		if _, exists := cardSaleByRef[sale.ExternalReference]; !exists {
			cardSaleByRef[sale.ExternalReference] = i
		}
	}

	consumed := make([]bool, len(sales))
	seenRefs := map[string]bool{}
	for _, candidate := range network {
		nt := candidate
		nt.SystemSaleId = nil
		nt.SystemAmount = nil
		idx := len(result.Transactions)

		totals.TransactionCount++
		totals.TotalNetwork += nt.GrossAmount
		totals.TotalNetworkNet += nt.NetAmount
		totals.TotalFees += nt.Fee()

		duplicate := seenRefs[nt.ExternalReference]
		seenRefs[nt.ExternalReference] = true

		saleIdx, found := cardSaleByRef[nt.ExternalReference]
		switch {
		case duplicate:
			nt.MatchStatus = models.MatchStatusUnposted
			totals.UnpostedCount++
			result.Divergences = append(result.Divergences, unpostedDivergence(nt, idx,
				fmt.Sprintf("Reference %s repeated in the settlement extract (row %d); only its first occurrence is matched",
					nt.ExternalReference, nt.Sequence)))
		case !found:
			nt.MatchStatus = models.MatchStatusUnposted
			totals.UnpostedCount++
			result.Divergences = append(result.Divergences, unpostedDivergence(nt, idx,
				fmt.Sprintf("Network transaction %s of %s has no matching sale in the system",
					nt.ExternalReference, formatAmount(nt.GrossAmount))))
		default:
			sale := sales[saleIdx]
			consumed[saleIdx] = true
			saleId := sale.ID
			systemAmount := sale.Amount
			nt.SystemSaleId = &saleId
			nt.SystemAmount = &systemAmount

			if sale.Amount == nt.GrossAmount {
				nt.MatchStatus = models.MatchStatusOk
				totals.MatchedCount++
				break
			}
			nt.MatchStatus = models.MatchStatusValueDivergent
			totals.DivergentCount++
			gross := nt.GrossAmount
			delta := sale.Amount - nt.GrossAmount
			result.Divergences = append(result.Divergences, ClassifiedDivergence{
				Divergence: models.Divergence{
					SystemSaleId:      &saleId,
					Kind:              models.DivergenceKindValueDivergent,
					ExternalReference: nt.ExternalReference,
					Description: fmt.Sprintf("Reference %s: system recorded %s, network settled %s (difference %s)",
						nt.ExternalReference, formatAmount(sale.Amount), formatAmount(nt.GrossAmount), formatAmount(delta)),
					SystemAmount:     &systemAmount,
					NetworkAmount:    &gross,
					Delta:            &delta,
					ResolutionStatus: models.ResolutionStatusPending,
				},
				NetworkIndex: idx,
			})
		}
		result.Transactions = append(result.Transactions, nt)
	}

	for i, sale := range sales {
		if !sale.PaymentMethod.IsCard() || consumed[i] {
			continue
		}
		totals.GhostCount++
		saleId := sale.ID
		amount := sale.Amount
		description := fmt.Sprintf("Sale %d of %s (%s, reference %s) has no settlement counterpart",
			sale.ID, formatAmount(sale.Amount), sale.PaymentMethod, sale.ExternalReference)
		if sale.ExternalReference == "" {
			description = fmt.Sprintf("Sale %d of %s (%s) has no external reference to match against the settlement",
				sale.ID, formatAmount(sale.Amount), sale.PaymentMethod)
		}
		result.Divergences = append(result.Divergences, ClassifiedDivergence{
			Divergence: models.Divergence{
				SystemSaleId:      &saleId,
				Kind:              models.DivergenceKindGhostSale,
				ExternalReference: sale.ExternalReference,
				Description:       description,
				SystemAmount:      &amount,
				ResolutionStatus:  models.ResolutionStatusPending,
			},
			NetworkIndex: -1,
		})
	}
	return result
}

func unpostedDivergence(nt models.NetworkTransaction, idx int, description string) ClassifiedDivergence {
	gross := nt.GrossAmount
	return ClassifiedDivergence{
		Divergence: models.Divergence{
			Kind:              models.DivergenceKindUnposted,
			ExternalReference: nt.ExternalReference,
			Description:       description,
			NetworkAmount:     &gross,
			ResolutionStatus:  models.ResolutionStatusPending,
		},
		NetworkIndex: idx,
	}
}

func formatAmount(minor int64) string {
	return "R$ " + decimal.New(minor, -2).StringFixed(2)
}

// UnknownPaymentMethods counts the sales whose method did not normalize onto a known label.
func UnknownPaymentMethods(sales []models.SystemSale) map[models.PaymentMethod]int {
	var unknown map[models.PaymentMethod]int
	for _, sale := range sales {
		if sale.PaymentMethod.IsKnown() {
			continue
		}
		if unknown == nil {
			unknown = map[models.PaymentMethod]int{}
		}
		unknown[sale.PaymentMethod]++
	}
	return unknown
}
