// Command export dumps a journal table to CSV, or prints a PnL summary.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/your-org/ledger-sniper-bot/internal/config"
	"github.com/your-org/ledger-sniper-bot/internal/csvwriter"
	"github.com/your-org/ledger-sniper-bot/internal/report"
	"github.com/your-org/ledger-sniper-bot/pkg/logger"
)

// table describes an exportable journal table. timeColumn bounds the window.
type table struct {
	name       string
	timeColumn string
	columns    []string
}

var tables = map[string]table{
	"executions": {
		name:       "executions",
		timeColumn: "time",
		columns:    []string{"time", "attempt_id", "venue", "side", "mint", "amount", "status", "latency_ms", "tx_ref", "price", "error", "dry_run"},
	},
	"transitions": {
		name:       "trader_transitions",
		timeColumn: "time",
		columns:    []string{"time", "user_id", "mint", "from_state", "to_state", "price", "note"},
	},
	"decisions": {
		name:       "gate_decisions",
		timeColumn: "time",
		columns:    []string{"time", "mint", "mask", "mask_bits", "strong", "aux", "score", "accepted"},
	},
	"pnl": {
		name:       "trades_pnl",
		timeColumn: "created_at",
		columns:    []string{"created_at", "user_id", "mint", "tx_ref", "pnl", "cumulative_pnl"},
	},
}

var timeLayouts = []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"}

func main() {
	// --- Argument Parsing ---
	configPath := flag.String("config", "config/config.yaml", "Path to the configuration file")
	tableName := flag.String("table", "executions", "Table to export: "+strings.Join(tableNames(), ", "))
	startTimeStr := flag.String("start", "", "Start of the export window (RFC3339, YYYY-MM-DD HH:MM:SS or YYYY-MM-DD)")
	endTimeStr := flag.String("end", "", "End of the export window, exclusive")
	outPath := flag.String("out", "-", "Output file, - for stdout")
	summary := flag.Bool("summary", false, "Print a PnL summary as JSON instead of CSV")
	userID := flag.String("user", "", "Restrict the PnL summary to one user")
	flag.Parse()

	if *startTimeStr == "" || *endTimeStr == "" {
		logger.Fatal("Both --start and --end flags are required.")
	}
	start, err := parseTime(*startTimeStr)
	if err != nil {
		logger.Fatalf("Invalid --start: %v", err)
	}
	end, err := parseTime(*endTimeStr)
	if err != nil {
		logger.Fatalf("Invalid --end: %v", err)
	}

	// --- Config and Logger Setup ---
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatalf("Failed to load configuration to get DB settings: %v", err)
	}
	// Logs go to stderr so stdout stays clean CSV.
	logger.SetOutput(cfg.LogLevel, os.Stderr)

	// --- Database Connection ---
	ctx := context.Background()
	dbpool, err := pgxpool.New(ctx, cfg.Database.DSN())
	if err != nil {
		logger.Fatalf("Unable to connect to database: %v", err)
	}
	defer dbpool.Close()

	if *summary {
		if err := printSummary(ctx, report.NewService(dbpool), *userID, start, end); err != nil {
			logger.Fatalf("Failed to build PnL summary: %v", err)
		}
		return
	}

	t, ok := tables[*tableName]
	if !ok {
		logger.Fatalf("Unknown table %q, want one of %s", *tableName, strings.Join(tableNames(), ", "))
	}

	// --- CSV Writer Setup ---
	var w *csvwriter.Writer
	if *outPath == "-" {
		w = csvwriter.New(os.Stdout)
	} else if w, err = csvwriter.Create(*outPath); err != nil {
		logger.Fatalf("Failed to open output: %v", err)
	}

	logger.Infof("Exporting %s from %s to %s...", t.name, start.Format(time.RFC3339), end.Format(time.RFC3339))
	n, err := export(ctx, dbpool, t, start, end, w)
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		logger.Fatalf("Export failed: %v", err)
	}
	logger.Infof("Successfully exported %d rows.", n)
}

// Querier is the subset of pgxpool.Pool the exporter uses.
type Querier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// export writes the header and every row of t in [start, end).
func export(ctx context.Context, db Querier, t table, start, end time.Time, w *csvwriter.Writer) (int, error) {
	if err := w.Write(t.columns); err != nil {
		return 0, err
	}

	rows, err := db.Query(ctx, t.query(), start, end)
	if err != nil {
		return 0, fmt.Errorf("failed to query %s: %w", t.name, err)
	}
	defer rows.Close()

	record := make([]string, len(t.columns))
	dest := make([]any, len(t.columns))
	for i := range record {
		dest[i] = &record[i]
	}
	var rowCount int
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return rowCount, fmt.Errorf("failed to scan row: %w", err)
		}
		if err := w.Write(record); err != nil {
			return rowCount, err
		}
		rowCount++
	}
	if err := rows.Err(); err != nil {
		return rowCount, fmt.Errorf("error iterating over rows: %w", err)
	}
	return rowCount, nil
}

// query selects every column as text so NULLs and numerics render uniformly.
func (t table) query() string {
	cols := make([]string, len(t.columns))
	for i, c := range t.columns {
		cols[i] = fmt.Sprintf("COALESCE(%s::text, '')", c)
	}
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s >= $1 AND %s < $2 ORDER BY %s ASC",
		strings.Join(cols, ", "), t.name, t.timeColumn, t.timeColumn, t.timeColumn)
}

func printSummary(ctx context.Context, svc *report.Service, userID string, start, end time.Time) error {
	trades, err := svc.FetchTrades(ctx, userID, start, end)
	if err != nil {
		return err
	}
	rep, err := report.Analyze(trades)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rep)
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

func tableNames() []string {
	names := make([]string, 0, len(tables))
	for n := range tables {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
