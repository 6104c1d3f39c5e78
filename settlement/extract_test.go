package settlement

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/mmdatafocus/closing_backend/models"
)

var closingDate = time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

const acquirerReport = `Relatório de vendas
Estabelecimento: 123456
Data da venda;NSU;Bandeira;Produto;Parcelas;Valor bruto (R$);Valor líquido (R$)
15/03/2024;A1;Visa;Crédito à vista;1;100,00;97,50
15/03/2024;A2;Master;Débito;1;50,00;49,00
15/03/2024;A3;Elo;Crédito parcelado;3;1.200,00;1.150,00
16/03/2024;A4;Visa;Crédito;1;10,00;9,00
15/03/2024;;Visa;Crédito;1;10,00;9,00
15/03/2024;A5;Visa;Crédito;1;abc;9,00
;;;;;;
15/03/2024;A1;Visa;Crédito à vista;1;100,00;97,50
`

func TestNormalizeAcquirerReport(t *testing.T) {
	extract, err := Normalize([]byte(acquirerReport), closingDate.Add(13*time.Hour))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !extract.Date.Equal(closingDate) {
		t.Fatalf("expected date truncated to %s, got %s", closingDate, extract.Date)
	}
	if extract.Rows != 7 {
		t.Fatalf("expected 7 data rows, got %d", extract.Rows)
	}
	if extract.OtherDate != 1 {
		t.Fatalf("expected 1 row of another date, got %d", extract.OtherDate)
	}
	if extract.Skipped != 2 {
		t.Fatalf("expected 2 skipped rows, got %d", extract.Skipped)
	}
	if extract.Sha256 == "" {
		t.Fatalf("expected checksum to be set")
	}

	want := []struct {
		ref          string
		modality     models.PaymentMethod
		installments int
		gross, net   int64
	}{
		{"A1", models.PaymentMethodCreditSingle, 1, 10000, 9750},
		{"A2", models.PaymentMethodDebit, 1, 5000, 4900},
		{"A3", models.PaymentMethodCreditInstallments, 3, 120000, 115000},
		{"A1", models.PaymentMethodCreditSingle, 1, 10000, 9750},
	}
	if len(extract.Transactions) != len(want) {
		t.Fatalf("expected %d transactions, got %d", len(want), len(extract.Transactions))
	}
	for i, w := range want {
		got := extract.Transactions[i]
		if got.Sequence != i+1 {
			t.Fatalf("row %d: expected sequence %d, got %d", i, i+1, got.Sequence)
		}
		if got.ExternalReference != w.ref || got.Modality != w.modality || got.Installments != w.installments {
			t.Fatalf("row %d: got ref=%s modality=%s installments=%d", i, got.ExternalReference, got.Modality, got.Installments)
		}
		if got.GrossAmount != w.gross || got.NetAmount != w.net {
			t.Fatalf("row %d: expected %d/%d, got %d/%d", i, w.gross, w.net, got.GrossAmount, got.NetAmount)
		}
	}
	if fee := extract.Transactions[2].Fee(); fee != 5000 {
		t.Fatalf("expected fee 5000, got %d", fee)
	}
}

func TestNormalizeCommaDelimitedWithoutSaleDate(t *testing.T) {
	raw := "\ufeffExternal Reference,Gross Amount,Net Amount,Installments\n" +
		"X-1,10.50,10.00,2/6\n" +
		"X-2,\"1,234.56\",\"1,200.00\",\n"
	extract, err := Normalize([]byte(raw), closingDate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(extract.Transactions) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(extract.Transactions))
	}
	first := extract.Transactions[0]
	if first.GrossAmount != 1050 || first.NetAmount != 1000 {
		t.Fatalf("unexpected amounts %d/%d", first.GrossAmount, first.NetAmount)
	}
	if first.Installments != 6 || first.Modality != models.PaymentMethodCreditInstallments {
		t.Fatalf("expected 6 installments classified as installments, got %d %s", first.Installments, first.Modality)
	}
	if extract.Transactions[1].GrossAmount != 123456 {
		t.Fatalf("expected 123456, got %d", extract.Transactions[1].GrossAmount)
	}
}

func TestNormalizeTabDelimited(t *testing.T) {
	raw := "nsu\tvalor bruto\tvalor liquido\n" + "T1\t5,00\t4,90\n"
	extract, err := Normalize([]byte(raw), closingDate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(extract.Transactions) != 1 || extract.Transactions[0].GrossAmount != 500 {
		t.Fatalf("unexpected transactions: %+v", extract.Transactions)
	}
}

func TestNormalizeHeaderOnly(t *testing.T) {
	extract, err := Normalize([]byte("NSU;Valor bruto;Valor líquido\n"), closingDate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(extract.Transactions) != 0 || extract.Rows != 0 {
		t.Fatalf("expected an empty extract, got %+v", extract)
	}
}

func TestNormalizeMalformed(t *testing.T) {
	cases := map[string]string{
		"empty":          "",
		"blank":          "  \n \n",
		"bom only":       "\ufeff",
		"missing net":    "NSU;Valor bruto\nA1;10,00\n",
		"no header":      "A1;10,00;9,00\nA2;5,00;4,00\n",
		"random content": "lorem ipsum dolor sit amet",
	}
	for name, raw := range cases {
		_, err := Normalize([]byte(raw), closingDate)
		if !errors.Is(err, models.ErrMalformedExtract) {
			t.Fatalf("%s: expected ErrMalformedExtract, got %v", name, err)
		}
	}
}

func TestNormalizeHeaderBeyondPreambleLimit(t *testing.T) {
	raw := strings.Repeat("preamble\n", maxPreambleRows+1) + "NSU;Valor bruto;Valor líquido\nA1;1,00;0,90\n"
	if _, err := Normalize([]byte(raw), closingDate); !errors.Is(err, models.ErrMalformedExtract) {
		t.Fatalf("expected ErrMalformedExtract, got %v", err)
	}
}

func TestNormalizeHeaderFolding(t *testing.T) {
	cases := map[string]string{
		"Valor Líquido (R$)":  "valor liquido",
		"  NSU/DOC ":          "nsu/doc",
		"Código da Transação": "codigo da transacao",
		"Valor_Bruto":         "valor bruto",
	}
	for in, want := range cases {
		if got := normalizeHeader(in); got != want {
			t.Fatalf("normalizeHeader(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestParseSaleDate(t *testing.T) {
	for _, raw := range []string{"15/03/2024", "15/03/2024 18:42", "2024-03-15", "2024-03-15T23:10:00Z", "45366"} {
		got, ok := parseSaleDate(raw)
		if !ok {
			t.Fatalf("parseSaleDate(%q) failed", raw)
		}
		if !got.Equal(closingDate) {
			t.Fatalf("parseSaleDate(%q) = %s", raw, got)
		}
	}
	if _, ok := parseSaleDate("yesterday"); ok {
		t.Fatalf("expected unparseable date")
	}
}

func TestNormalizeSkipsThreeDecimalDotInDotDecimalReport(t *testing.T) {
	raw := "External Reference,Gross Amount,Net Amount\n" +
		"D-1,10.50,10.00\n" +
		"D-2,10.500,10.000\n" +
		"D-3,0.125,0.12\n" +
		"D-4,25,24\n"
	extract, err := Normalize([]byte(raw), closingDate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if extract.Skipped != 2 {
		t.Fatalf("expected 2 ambiguous rows skipped, got %d", extract.Skipped)
	}
	if len(extract.Transactions) != 2 || extract.Transactions[0].GrossAmount != 1050 || extract.Transactions[1].GrossAmount != 2500 {
		t.Fatalf("unexpected transactions: %+v", extract.Transactions)
	}
}

func TestNormalizeKeepsDotGroupingInCommaDecimalReport(t *testing.T) {
	raw := "nsu;valor bruto;valor liquido\n" +
		"G-1;1.500;1.450,50\n" +
		"G-2;0.125;0,12\n"
	extract, err := Normalize([]byte(raw), closingDate)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if extract.Skipped != 1 || len(extract.Transactions) != 1 {
		t.Fatalf("expected one row kept and one skipped, got %d/%d", len(extract.Transactions), extract.Skipped)
	}
	if got := extract.Transactions[0]; got.GrossAmount != 150000 || got.NetAmount != 145050 {
		t.Fatalf("expected 150000/145050, got %d/%d", got.GrossAmount, got.NetAmount)
	}
}
