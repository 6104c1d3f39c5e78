package graph_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/99designs/gqlgen/graphql/handler"
	"github.com/99designs/gqlgen/graphql/handler/transport"
	"github.com/mmdatafocus/closing_backend/config"
	"github.com/mmdatafocus/closing_backend/graph"
	"github.com/mmdatafocus/closing_backend/middlewares"
	"github.com/mmdatafocus/closing_backend/models"
	"github.com/mmdatafocus/closing_backend/workflow"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"gorm.io/gorm"
)

var day = time.Date(2024, 11, 29, 0, 0, 0, 0, time.UTC)

type gqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message    string                 `json:"message"`
		Path       []interface{}          `json:"path"`
		Extensions map[string]interface{} `json:"extensions"`
	} `json:"errors"`
}

func (r gqlResponse) code() string {
	if len(r.Errors) == 0 {
		return ""
	}
	code, _ := r.Errors[0].Extensions["code"].(string)
	return code
}

type testServer struct {
	db      *gorm.DB
	handler http.Handler
}

func setupServer(t *testing.T) *testServer {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := config.OpenDatabase(config.DriverSQLite, fmt.Sprintf("file:graph_%s?mode=memory&cache=shared&_foreign_keys=on", name))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := models.MigrateTableWithDB(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	config.SetDB(db)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	h := handler.New(graph.NewExecutableSchema(&graph.Resolver{Reconciler: &workflow.Reconciler{DB: db, Logger: config.GetLogger()}}))
	h.AddTransport(transport.POST{})
	h.SetErrorPresenter(graph.ErrorPresenter)
	withLoaders := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := middlewares.WithLoaders(r.Context(), middlewares.NewLoaders(db))
		h.ServeHTTP(w, r.WithContext(ctx))
	})
	return &testServer{db: db, handler: withLoaders}
}

func (s *testServer) query(t *testing.T, query string) gqlResponse {
	t.Helper()
	raw, _ := json.Marshal(map[string]interface{}{"query": query})
	req := httptest.NewRequest(http.MethodPost, "/query", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.handler.ServeHTTP(w, req)

	var resp gqlResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return resp
}

// seedClosing stores a closing for date with one debit transaction and one divergence of kind.
func (s *testServer) seedClosing(t *testing.T, date time.Time, reference string, kind models.DivergenceKind) *models.DailyClosing {
	t.Helper()
	closing := models.DailyClosing{ClosingDate: date, Status: models.ClosingStatusHasDivergence, PendingDivergenceCount: 1}
	closing.TotalNetwork = 1500
	if err := s.db.Create(&closing).Error; err != nil {
		t.Fatalf("seed closing: %v", err)
	}
	transaction := models.NetworkTransaction{
		DailyClosingId:    closing.ID,
		Sequence:          1,
		ExternalReference: reference,
		Modality:          models.PaymentMethodDebit,
		GrossAmount:       1000,
		NetAmount:         980,
		MatchStatus:       models.MatchStatusUnposted,
	}
	if err := s.db.Create(&transaction).Error; err != nil {
		t.Fatalf("seed transaction: %v", err)
	}
	divergence := models.Divergence{
		DailyClosingId:       closing.ID,
		NetworkTransactionId: &transaction.ID,
		Kind:                 kind,
		ExternalReference:    reference,
		Description:          "not registered in the point of sale",
		ResolutionStatus:     models.ResolutionStatusPending,
	}
	if err := s.db.Create(&divergence).Error; err != nil {
		t.Fatalf("seed divergence: %v", err)
	}
	return &closing
}

func TestQueryKeepsSelectionOrderAndAliases(t *testing.T) {
	s := setupServer(t)
	s.seedClosing(t, day, "U-1", models.DivergenceKindUnposted)

	resp := s.query(t, `{
		dailyClosing(date: "2024-11-29") {
			status
			__typename
			total: totalNetwork
			closingDate
			ingestedAt
			transactions { fee modality }
			pending: divergences(status: pending) { kind networkAmount }
			approved: divergences(status: approved) { id }
		}
	}`)
	if len(resp.Errors) != 0 {
		t.Fatalf("unexpected errors %+v", resp.Errors)
	}
	want := `{"dailyClosing":{"status":"hasDivergence","__typename":"DailyClosing","total":1500,"closingDate":"2024-11-29","ingestedAt":null,` +
		`"transactions":[{"fee":20,"modality":"debit"}],"pending":[{"kind":"unposted","networkAmount":null}],"approved":[]}}`
	if string(resp.Data) != want {
		t.Fatalf("got  %s\nwant %s", resp.Data, want)
	}

	if resp := s.query(t, `{ __typename }`); string(resp.Data) != `{"__typename":"Query"}` {
		t.Fatalf("unexpected root typename %s", resp.Data)
	}
}

func TestInvalidEnumNullsTheNonNullParent(t *testing.T) {
	s := setupServer(t)
	s.seedClosing(t, day, "U-1", models.DivergenceKind("bogus"))
	var divergence models.Divergence
	if err := s.db.First(&divergence).Error; err != nil {
		t.Fatalf("load divergence: %v", err)
	}

	resp := s.query(t, fmt.Sprintf(`{ divergence(id: %d) { id kind } }`, divergence.ID))
	if string(resp.Data) != "null" {
		t.Fatalf("expected data to be null, got %s", resp.Data)
	}
	if resp.code() != models.CodeInternal || resp.Errors[0].Message != "internal server error" {
		t.Fatalf("expected a masked internal error, got %+v", resp.Errors)
	}
	if path := fmt.Sprint(resp.Errors[0].Path); path != "[divergence kind]" {
		t.Fatalf("expected the error at divergence.kind, got %s", path)
	}
}

func TestIntrospectionIsRejected(t *testing.T) {
	s := setupServer(t)
	if resp := s.query(t, `{ __schema { queryType { name } } }`); resp.code() != models.CodeInvalidInput {
		t.Fatalf("expected INVALID_INPUT, got %+v", resp.Errors)
	}
}

func TestMutationsRequireAnIdentity(t *testing.T) {
	s := setupServer(t)
	closing := s.seedClosing(t, day, "U-1", models.DivergenceKindUnposted)
	var divergence models.Divergence
	if err := s.db.Where("daily_closing_id = ?", closing.ID).First(&divergence).Error; err != nil {
		t.Fatalf("load divergence: %v", err)
	}

	resp := s.query(t, fmt.Sprintf(`mutation { resolveDivergence(id: %d, decision: "approved", justification: "confirmed with the acquirer") { id } }`, divergence.ID))
	if resp.code() != models.CodeUnauthorized {
		t.Fatalf("expected UNAUTHORIZED, got %+v", resp.Errors)
	}
}

func TestDailyClosingsBatchesChildReads(t *testing.T) {
	s := setupServer(t)
	const closings = 6
	for i := 0; i < closings; i++ {
		s.seedClosing(t, day.AddDate(0, 0, i), fmt.Sprintf("U-%d", i), models.DivergenceKindUnposted)
	}

	var transactionQueries, divergenceQueries int64
	err := s.db.Callback().Query().Before("gorm:query").Register("test:count_children", func(tx *gorm.DB) {
		switch tx.Statement.Table {
		case "network_transactions":
			atomic.AddInt64(&transactionQueries, 1)
		case "divergences":
			atomic.AddInt64(&divergenceQueries, 1)
		}
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}

	resp := s.query(t, `{
		dailyClosings(start: "2024-11-29", end: "2024-12-31") {
			closingDate
			transactions { externalReference }
			divergences { externalReference }
		}
	}`)
	if len(resp.Errors) != 0 {
		t.Fatalf("unexpected errors %+v", resp.Errors)
	}
	var data struct {
		DailyClosings []struct {
			Transactions []struct {
				ExternalReference string `json:"externalReference"`
			} `json:"transactions"`
			Divergences []struct {
				ExternalReference string `json:"externalReference"`
			} `json:"divergences"`
		} `json:"dailyClosings"`
	}
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		t.Fatalf("decode data: %v", err)
	}
	if len(data.DailyClosings) != closings {
		t.Fatalf("expected %d closings, got %d", closings, len(data.DailyClosings))
	}
	for i, closing := range data.DailyClosings {
		want := fmt.Sprintf("U-%d", i)
		if len(closing.Transactions) != 1 || closing.Transactions[0].ExternalReference != want ||
			len(closing.Divergences) != 1 || closing.Divergences[0].ExternalReference != want {
			t.Fatalf("closing %d got children of another closing: %+v", i, closing)
		}
	}
	if transactionQueries >= closings || divergenceQueries >= closings {
		t.Fatalf("expected batched child reads, got %d transaction and %d divergence queries", transactionQueries, divergenceQueries)
	}
}

func TestErrorPresenterCodes(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		err  error
		code string
	}{
		{fmt.Errorf("resolve: %w", models.ErrNotFound), models.CodeNotFound},
		{models.ErrAlreadyResolved, models.CodeAlreadyResolved},
		{models.ErrInvalidJustification, models.CodeInvalidJustification},
		{models.ErrReconciliationInProgress, models.CodeReconciliationInProgress},
		{&gqlerror.Error{Message: "Cannot query field \"nope\" on type \"Query\"."}, models.CodeInvalidInput},
		{errors.New("connection reset"), models.CodeInternal},
	}
	for _, c := range cases {
		got := graph.ErrorPresenter(ctx, c.err)
		if got.Extensions["code"] != c.code {
			t.Fatalf("%v: expected %s, got %v", c.err, c.code, got.Extensions["code"])
		}
	}

	if got := graph.ErrorPresenter(ctx, models.ErrReconciliationInProgress); got.Extensions["retryAfterSeconds"] != 5 {
		t.Fatalf("expected retryAfterSeconds, got %v", got.Extensions)
	}
	if got := graph.ErrorPresenter(ctx, errors.New("dsn password=secret")); got.Message != "internal server error" {
		t.Fatalf("internal errors must be masked, got %q", got.Message)
	}
	kept := &gqlerror.Error{Message: "PersistedQueryNotFound", Extensions: map[string]interface{}{"code": "PERSISTED_QUERY_NOT_FOUND"}}
	if got := graph.ErrorPresenter(ctx, kept); got.Extensions["code"] != "PERSISTED_QUERY_NOT_FOUND" {
		t.Fatalf("expected an existing code to be kept, got %v", got.Extensions)
	}
}
