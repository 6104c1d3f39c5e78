package workflow

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/mmdatafocus/closing_backend/models"
)

func TestIngestExactMatchReconciles(t *testing.T) {
	db := setupTestDB(t)
	r, events := newTestReconciler(db)
	seedSales(t, db, models.SystemSale{PaymentMethod: models.PaymentMethodCreditSingle, Amount: 10000, ExternalReference: "X1"})

	result := mustIngest(t, r, extractOf(networkRow(1, "X1", 10000)))
	if result.TransactionsProcessed != 1 || result.Matched != 1 || result.Divergent != 0 {
		t.Fatalf("unexpected upload result %+v", result)
	}

	details := mustDetails(t)
	if details.Closing.Status != models.ClosingStatusReconciled {
		t.Fatalf("expected reconciled, got %s", details.Closing.Status)
	}
	if details.Closing.DivergentCount != 0 || len(details.Divergences) != 0 {
		t.Fatalf("expected no divergences, got %d", len(details.Divergences))
	}
	if len(details.Transactions) != 1 || details.Transactions[0].MatchStatus != models.MatchStatusOk {
		t.Fatalf("expected one ok transaction, got %+v", details.Transactions)
	}
	if details.Closing.IngestedAt == nil {
		t.Fatalf("expected ingested_at to be set")
	}
	if got := events.types(); !slices.Equal(got, []string{EventClosingIngested, EventClosingReconciled}) {
		t.Fatalf("unexpected events %v", got)
	}

	history, err := models.GetClosingHistory(context.Background(), testDate)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].ActionType != models.HistoryActionIngest || history[0].UserName != "operator" {
		t.Fatalf("unexpected history %+v", history)
	}
	if history[0].CorrelationId != "test-correlation" {
		t.Fatalf("expected correlation id from context, got %s", history[0].CorrelationId)
	}
}

func TestIngestValueDivergent(t *testing.T) {
	db := setupTestDB(t)
	r, _ := newTestReconciler(db)
	seedSales(t, db, models.SystemSale{PaymentMethod: models.PaymentMethodCreditSingle, Amount: 10000, ExternalReference: "X1"})

	mustIngest(t, r, extractOf(networkRow(1, "X1", 9900)))

	details := mustDetails(t)
	if details.Closing.Status != models.ClosingStatusHasDivergence {
		t.Fatalf("expected hasDivergence, got %s", details.Closing.Status)
	}
	if details.Transactions[0].MatchStatus != models.MatchStatusValueDivergent {
		t.Fatalf("expected valueDivergent, got %s", details.Transactions[0].MatchStatus)
	}
	if len(details.Divergences) != 1 {
		t.Fatalf("expected 1 divergence, got %d", len(details.Divergences))
	}
	d := details.Divergences[0]
	if d.Delta == nil || *d.Delta != 100 {
		t.Fatalf("expected delta 100, got %v", d.Delta)
	}
	if d.NetworkTransactionId == nil || *d.NetworkTransactionId != details.Transactions[0].ID {
		t.Fatalf("divergence must reference the persisted network transaction")
	}
	if details.Closing.PendingDivergenceCount != 1 {
		t.Fatalf("expected 1 pending divergence, got %d", details.Closing.PendingDivergenceCount)
	}
}

func TestIngestGhostAndUnposted(t *testing.T) {
	db := setupTestDB(t)
	r, _ := newTestReconciler(db)
	seedSales(t, db, models.SystemSale{PaymentMethod: models.PaymentMethodDebit, Amount: 5000, ExternalReference: "X2"})

	result := mustIngest(t, r, extractOf(networkRow(1, "X3", 7000)))
	if result.GhostSales != 1 || result.Unposted != 1 {
		t.Fatalf("unexpected upload result %+v", result)
	}

	details := mustDetails(t)
	byKind := map[models.DivergenceKind]int{}
	for _, d := range details.Divergences {
		byKind[d.Kind]++
	}
	if byKind[models.DivergenceKindGhostSale] != 1 || byKind[models.DivergenceKindUnposted] != 1 || len(details.Divergences) != 2 {
		t.Fatalf("expected exactly one ghostSale and one unposted, got %v", byKind)
	}
	if details.Closing.GhostCount != 1 || details.Closing.UnpostedCount != 1 {
		t.Fatalf("unexpected counts %+v", details.Closing.ClosingTotals)
	}
}

func TestIngestTotalSystemIsSumOfAllSales(t *testing.T) {
	db := setupTestDB(t)
	r, _ := newTestReconciler(db)
	seedSales(t, db,
		models.SystemSale{PaymentMethod: models.PaymentMethodCash, Amount: 1234},
		models.SystemSale{PaymentMethod: "pix", Amount: 4321},
		models.SystemSale{PaymentMethod: models.PaymentMethodCreditInstallments, Amount: 30000, ExternalReference: "P1"},
		models.SystemSale{PaymentMethod: models.PaymentMethodDebit, Amount: 999, ExternalReference: "Q1"},
	)

	mustIngest(t, r, extractOf(networkRow(1, "P1", 30000), networkRow(2, "ZZ", 1)))

	closing := mustDetails(t).Closing
	if closing.TotalSystem != 1234+4321+30000+999 {
		t.Fatalf("unexpected total system %d", closing.TotalSystem)
	}
	if closing.CashTotal != 1234 || closing.InstantTransferTotal != 4321 {
		t.Fatalf("cash and instant transfer must flow into totals, got %+v", closing.ClosingTotals)
	}
	if closing.TotalNetwork != 30001 || closing.TransactionCount != 2 {
		t.Fatalf("unexpected network totals %+v", closing.ClosingTotals)
	}
}

func TestIngestIgnoresSalesOfOtherDates(t *testing.T) {
	db := setupTestDB(t)
	r, _ := newTestReconciler(db)
	seedSales(t, db,
		models.SystemSale{PaymentMethod: models.PaymentMethodDebit, Amount: 100, ExternalReference: "A", SaleDate: testDate.AddDate(0, 0, -1)},
		models.SystemSale{PaymentMethod: models.PaymentMethodDebit, Amount: 200, ExternalReference: "B"},
	)
	mustIngest(t, r, extractOf(networkRow(1, "B", 200)))
	closing := mustDetails(t).Closing
	if closing.TotalSystem != 200 || closing.GhostCount != 0 {
		t.Fatalf("sales of another date leaked into the closing: %+v", closing.ClosingTotals)
	}
}

func TestReuploadWithoutClearIsRejected(t *testing.T) {
	db := setupTestDB(t)
	r, _ := newTestReconciler(db)
	seedSales(t, db, models.SystemSale{PaymentMethod: models.PaymentMethodCreditSingle, Amount: 10000, ExternalReference: "X1"})

	mustIngest(t, r, extractOf(networkRow(1, "X1", 10000)))
	_, err := r.IngestExtract(asUser("operator"), extractOf(networkRow(1, "X1", 10000)), nil)
	if !errors.Is(err, models.ErrAlreadyIngested) {
		t.Fatalf("expected ErrAlreadyIngested, got %v", err)
	}

	details := mustDetails(t)
	if len(details.Transactions) != 1 || details.Closing.TransactionCount != 1 || details.Closing.TotalNetwork != 10000 {
		t.Fatalf("second upload must not double count: %+v", details.Closing.ClosingTotals)
	}
}

func TestConcurrentIngestionIsRejected(t *testing.T) {
	db := setupTestDB(t)
	r, _ := newTestReconciler(db)

	release, err := r.Locks.Obtain(context.Background(), testDate)
	if err != nil {
		t.Fatalf("obtain: %v", err)
	}
	_, err = r.IngestExtract(asUser("operator"), extractOf(networkRow(1, "X1", 100)), nil)
	if !errors.Is(err, models.ErrReconciliationInProgress) {
		t.Fatalf("expected ErrReconciliationInProgress, got %v", err)
	}
	if _, err := models.FindDailyClosing(context.Background(), testDate); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("rejected upload must not persist anything, got %v", err)
	}

	release()
	mustIngest(t, r, extractOf(networkRow(1, "X1", 100)))
}

func TestMalformedUploadPersistsNothing(t *testing.T) {
	db := setupTestDB(t)
	r, _ := newTestReconciler(db)

	_, err := r.IngestFile(asUser("operator"), testDate, ExtractFile{Name: "extract.csv", Content: []byte("foo;bar\n1;2\n")})
	if !errors.Is(err, models.ErrMalformedExtract) {
		t.Fatalf("expected ErrMalformedExtract, got %v", err)
	}
	if _, err := models.FindDailyClosing(context.Background(), testDate); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected no closing, got %v", err)
	}
}

func TestIngestFileFromCsv(t *testing.T) {
	db := setupTestDB(t)
	r, _ := newTestReconciler(db)
	seedSales(t, db,
		models.SystemSale{PaymentMethod: "credito", Amount: 15000, ExternalReference: "778899"},
		models.SystemSale{PaymentMethod: "debito", Amount: 4990, ExternalReference: "112233"},
	)
	raw := "Extrato de vendas\n" +
		"Data da venda;NSU;Bandeira;Forma de pagamento;Valor bruto;Valor líquido\n" +
		"29/11/2024;778899;Visa;Crédito;150,00;146,25\n" +
		"29/11/2024;112233;Elo;Débito;49,90;49,15\n" +
		"29/11/2024;445566;Elo;Débito;;\n"

	result, err := r.IngestFile(asUser("operator"), testDate, ExtractFile{Name: "extract.csv", Content: []byte(raw)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Matched != 2 || result.SkippedRows != 1 || result.Status != models.ClosingStatusReconciled {
		t.Fatalf("unexpected result %+v", result)
	}
	closing := mustDetails(t).Closing
	if closing.TotalFees != (15000-14625)+(4990-4915) || closing.ExtractSha256 == "" || closing.SkippedRows != 1 {
		t.Fatalf("unexpected closing %+v", closing)
	}
}

func TestClearRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	r, events := newTestReconciler(db)
	seedSales(t, db, models.SystemSale{PaymentMethod: models.PaymentMethodDebit, Amount: 5000, ExternalReference: "X2"})
	mustIngest(t, r, extractOf(networkRow(1, "X2", 4000), networkRow(2, "X9", 10)))

	cleared, err := r.ClearDay(asUser("supervisor"), testDate)
	if err != nil {
		t.Fatalf("clear: %v", err)
	}
	if cleared.Status != models.ClosingStatusPending || cleared.IngestedAt != nil {
		t.Fatalf("expected a reset closing, got %+v", cleared)
	}

	details := mustDetails(t)
	if len(details.Transactions) != 0 || len(details.Divergences) != 0 {
		t.Fatalf("expected empty lists after clear, got %d/%d", len(details.Transactions), len(details.Divergences))
	}
	if details.Closing.Status != models.ClosingStatusPending || details.Closing.ClosingTotals != (models.ClosingTotals{}) {
		t.Fatalf("expected an empty pending closing, got %+v", details.Closing)
	}

	var sales int64
	db.Table(testSalesTable).Count(&sales)
	if sales != 1 {
		t.Fatalf("clear must not touch sales, found %d", sales)
	}
	if got := events.types(); got[len(got)-1] != EventClosingCleared {
		t.Fatalf("expected a cleared event, got %v", got)
	}

	history, _ := models.GetClosingHistory(context.Background(), testDate)
	if len(history) != 2 || history[1].ActionType != models.HistoryActionClear || history[1].UserName != "supervisor" {
		t.Fatalf("unexpected history %+v", history)
	}

	// a cleared date accepts a fresh upload
	result := mustIngest(t, r, extractOf(networkRow(1, "X2", 5000)))
	if result.Matched != 1 {
		t.Fatalf("expected re-upload to match, got %+v", result)
	}
}

func TestClearUnknownDate(t *testing.T) {
	db := setupTestDB(t)
	r, _ := newTestReconciler(db)
	if _, err := r.ClearDay(context.Background(), testDate); !errors.Is(err, models.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestClearWhileIngestingIsRejected(t *testing.T) {
	db := setupTestDB(t)
	r, _ := newTestReconciler(db)
	mustIngest(t, r, extractOf(networkRow(1, "X1", 100)))

	release, err := r.Locks.Obtain(context.Background(), testDate)
	if err != nil {
		t.Fatalf("obtain: %v", err)
	}
	defer release()
	if _, err := r.ClearDay(context.Background(), testDate); !errors.Is(err, models.ErrReconciliationInProgress) {
		t.Fatalf("expected ErrReconciliationInProgress, got %v", err)
	}
}

func TestGetOrCreateIsIdempotent(t *testing.T) {
	db := setupTestDB(t)

	first, err := models.GetOrCreateDailyClosing(context.Background(), testDate)
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := models.GetOrCreateDailyClosing(context.Background(), testDate)
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first.ID != second.ID || second.Status != models.ClosingStatusPending || second.ClosingTotals != first.ClosingTotals {
		t.Fatalf("expected equal pending records, got %+v and %+v", first, second)
	}
	var count int64
	db.Model(&models.DailyClosing{}).Count(&count)
	if count != 1 {
		t.Fatalf("expected exactly one closing, got %d", count)
	}
}

func TestListDailyClosings(t *testing.T) {
	setupTestDB(t)
	ctx := context.Background()
	for _, offset := range []int{2, 0, 1} {
		if _, err := models.GetOrCreateDailyClosing(ctx, testDate.AddDate(0, 0, offset)); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	list, err := models.ListDailyClosings(ctx, testDate, testDate.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 2 || !list[0].ClosingDate.Equal(testDate) || !list[1].ClosingDate.Equal(testDate.AddDate(0, 0, 1)) {
		t.Fatalf("unexpected list %+v", list)
	}

	if _, err := models.ListDailyClosings(ctx, testDate, testDate.AddDate(0, 0, -1)); !errors.Is(err, models.ErrInvalidDateRange) {
		t.Fatalf("expected ErrInvalidDateRange, got %v", err)
	}
	if _, err := models.ListDailyClosings(ctx, testDate, testDate.AddDate(2, 0, 0)); !errors.Is(err, models.ErrInvalidDateRange) {
		t.Fatalf("expected ErrInvalidDateRange for a range over a year, got %v", err)
	}
}
