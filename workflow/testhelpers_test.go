package workflow

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mmdatafocus/closing_backend/config"
	"github.com/mmdatafocus/closing_backend/models"
	"github.com/mmdatafocus/closing_backend/settlement"
	"github.com/mmdatafocus/closing_backend/utils"
	"gorm.io/gorm"
)

const testSalesTable = "pos_sales"

var testDate = time.Date(2024, 11, 29, 0, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []ClosingEvent
}

func (p *recordingPublisher) Publish(_ context.Context, event ClosingEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

// setupTestDB opens a private in-memory sqlite database and installs it as the global connection.
func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := config.OpenDatabase(config.DriverSQLite, fmt.Sprintf("file:%s?mode=memory&cache=shared&_foreign_keys=on", name))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := models.MigrateTableWithDB(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := db.Table(testSalesTable).AutoMigrate(&models.SystemSale{}); err != nil {
		t.Fatalf("migrate sales view: %v", err)
	}
	config.SetDB(db)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func newTestReconciler(db *gorm.DB) (*Reconciler, *recordingPublisher) {
	events := &recordingPublisher{}
	return &Reconciler{
		DB:     db,
		Logger: config.GetLogger(),
		Sales:  models.NewSalesIndex(db, testSalesTable),
		Locks:  NewLocalDateLocker(),
		Events: events,
	}, events
}

func seedSales(t *testing.T, db *gorm.DB, sales ...models.SystemSale) {
	t.Helper()
	for i := range sales {
		if sales[i].SaleDate.IsZero() {
			sales[i].SaleDate = testDate
		}
	}
	if err := db.Table(testSalesTable).Create(&sales).Error; err != nil {
		t.Fatalf("seed sales: %v", err)
	}
}

func extractOf(rows ...models.NetworkTransaction) *settlement.Extract {
	return &settlement.Extract{Date: testDate, Transactions: rows}
}

func asUser(name string) context.Context {
	ctx := utils.SetUsernameInContext(context.Background(), name)
	return utils.SetCorrelationIdInContext(ctx, "test-correlation")
}

func mustIngest(t *testing.T, r *Reconciler, extract *settlement.Extract) *UploadResult {
	t.Helper()
	result, err := r.IngestExtract(asUser("operator"), extract, nil)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	return result
}

func mustDetails(t *testing.T) *models.DailyClosingDetails {
	t.Helper()
	details, err := models.GetDailyClosingDetails(context.Background(), testDate)
	if err != nil {
		t.Fatalf("details: %v", err)
	}
	return details
}

func pendingDivergenceIds(details *models.DailyClosingDetails) []int {
	var ids []int
	for _, d := range details.Divergences {
		if d.IsPending() {
			ids = append(ids, d.ID)
		}
	}
	return ids
}
