package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mmdatafocus/closing_backend/config"
	"github.com/mmdatafocus/closing_backend/models"
	"github.com/mmdatafocus/closing_backend/utils"
)

// Recomputes pending-divergence counts and statuses of daily closings from their stored
// divergences, for repairing aggregates after manual database fixes.
func main() {
	from := flag.String("from", "", "Start date (YYYY-MM-DD). Defaults to 30 days before -to.")
	to := flag.String("to", "", "End date (YYYY-MM-DD). Defaults to today in TIMEZONE.")
	dryRun := flag.Bool("dry-run", false, "Report the changes without writing them.")
	flag.Parse()

	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized (config.GetDB returned nil)")
		os.Exit(1)
	}
	models.MigrateTable()

	ctx := utils.SetUsernameInContext(context.Background(), "ClosingRecompute")
	ctx = utils.SetCorrelationIdInContext(ctx, utils.CorrelationIdFromContextOrNew(ctx))

	end, err := dateFlag(*to, func() (time.Time, error) { return utils.ConvertToDate(time.Now().UTC(), config.Timezone()) })
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -to: %v\n", err)
		os.Exit(1)
	}
	start, err := dateFlag(*from, func() (time.Time, error) { return end.AddDate(0, 0, -30), nil })
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -from: %v\n", err)
		os.Exit(1)
	}

	result, err := models.RecomputeClosings(ctx, start, end, *dryRun)
	if err != nil {
		fmt.Fprintf(os.Stderr, "recompute failed: %v\n", err)
		os.Exit(1)
	}

	for _, change := range result.Changes {
		fmt.Printf("%s: %s -> %s (pending %d -> %d)\n",
			change.ClosingDate.Format(utils.DateLayout), change.StatusBefore, change.StatusAfter, change.PendingBefore, change.PendingAfter)
	}
	mode := "applied"
	if *dryRun {
		mode = "dry run"
	}
	fmt.Printf("Recomputed %d closings from %s to %s: %d changed (%s)\n",
		result.Scanned, start.Format(utils.DateLayout), end.Format(utils.DateLayout), len(result.Changes), mode)
}

func dateFlag(value string, fallback func() (time.Time, error)) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return fallback()
	}
	return utils.ParseDate(value)
}
