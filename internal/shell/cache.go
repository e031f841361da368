package shell

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/Mercury0/talon/internal/store"
)

const defaultRecentLimit = 20

// cmdRecent lists the most recently created cached alerts.
func (s *Shell) cmdRecent(ctx context.Context, args []string) {
	limit := defaultRecentLimit
	if len(args) > 0 {
		n, err := strconv.Atoi(args[0])
		if err != nil || n < 0 {
			fmt.Fprintln(s.out, "usage: recent [n]")
			return
		}
		limit = n
	}

	rows, err := s.alertStore.ListRecent(ctx, limit)
	if err != nil {
		fmt.Fprintln(s.out, "failed to list alerts:", err)
		return
	}
	if len(rows) == 0 {
		fmt.Fprintln(s.out, "cache is empty")
		return
	}

	for _, row := range rows {
		fmt.Fprintf(s.out, "%-22s [%3d] %-10s %-30s %s\n",
			row.DisplayID, row.Severity, row.Product, truncate(row.Name, 30), row.Created)
	}
	fmt.Fprintf(s.out, "%d alert(s)\n", len(rows))
}

// cmdDetail shows one alert in full: the cached copy when present,
// otherwise a live vendor lookup when connected.
func (s *Shell) cmdDetail(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.out, "usage: detail <display_id>")
		return
	}
	id := args[0]

	stored, err := s.alertStore.GetByDisplayID(ctx, id)
	switch {
	case err == nil:
		fmt.Fprintf(s.out, "display id: %s\nfull id:    %s\nfirst seen: %s\n",
			stored.DisplayID, stored.FullID, stored.FirstSeen)
		s.printRecord(stored.Record)
		return
	case !errors.Is(err, store.ErrNotFound):
		fmt.Fprintln(s.out, "lookup failed:", err)
		return
	}

	if s.client == nil {
		fmt.Fprintf(s.out, "%s is not cached; connect first to query the vendor\n", id)
		return
	}
	rec, err := s.client.FetchAlertByID(ctx, id)
	if err != nil {
		fmt.Fprintln(s.out, "vendor lookup failed:", err)
		return
	}
	s.printRecord(rec)
}

func (s *Shell) printRecord(rec any) {
	pretty, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		fmt.Fprintln(s.out, "failed to render record:", err)
		return
	}
	fmt.Fprintln(s.out, string(pretty))
}

// cmdStats prints cache aggregates, restricted to one UTC day when a
// date argument is given.
func (s *Shell) cmdStats(ctx context.Context, args []string) {
	date := ""
	if len(args) > 0 {
		if _, err := time.Parse("2006-01-02", args[0]); err != nil {
			fmt.Fprintln(s.out, "usage: stats [YYYY-MM-DD]")
			return
		}
		date = args[0]
	}

	stats, err := s.alertStore.Stats(ctx, date)
	if err != nil {
		fmt.Fprintln(s.out, "failed to compute stats:", err)
		return
	}

	scope := "all time"
	if stats.Date != "" {
		scope = stats.Date
	}
	fmt.Fprintf(s.out, "cached alerts (%s): %d\n", scope, stats.Total)
	printBreakdown(s, "by severity", stats.BySeverity)
	printBreakdown(s, "by product", stats.ByProduct)

	if s.sessionStats.Total > 0 {
		fmt.Fprintf(s.out, "this session: %d accepted since %s\n",
			s.sessionStats.Total, s.sessionStats.LastReset.Format("15:04:05 UTC"))
	}
}

func printBreakdown(s *Shell, label string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fmt.Fprintf(s.out, "  %s:\n", label)
	for _, k := range keys {
		fmt.Fprintf(s.out, "    %-20s %d\n", k, counts[k])
	}
}

// cmdPurge deletes the whole cache after confirmation.
func (s *Shell) cmdPurge(ctx context.Context) {
	if !s.confirm("delete ALL cached alerts?") {
		fmt.Fprintln(s.out, "purge cancelled")
		return
	}
	deleted, err := s.alertStore.Purge(ctx)
	if err != nil {
		fmt.Fprintln(s.out, "purge failed:", err)
		return
	}
	s.logger.Info("cache purged", "deleted", deleted)
	fmt.Fprintf(s.out, "deleted %d alert(s)\n", deleted)
}

// cmdExport writes the cache to db.csv or db.json in the current
// working directory.
func (s *Shell) cmdExport(ctx context.Context, args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.out, "usage: export csv|json")
		return
	}

	var filename string
	switch args[0] {
	case "csv":
		filename = "db.csv"
	case "json":
		filename = "db.json"
	default:
		fmt.Fprintln(s.out, "usage: export csv|json")
		return
	}

	f, err := os.Create(filename)
	if err != nil {
		fmt.Fprintln(s.out, "export failed:", err)
		return
	}

	var count int
	if args[0] == "csv" {
		count, err = s.alertStore.ExportCSV(ctx, f)
	} else {
		count, err = s.alertStore.ExportJSON(ctx, f)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		fmt.Fprintln(s.out, "export failed:", err)
		return
	}

	s.logger.Info("cache exported", "file", filename, "alerts", count)
	fmt.Fprintf(s.out, "exported %d alert(s) to %s\n", count, filename)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
