package main

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ScanResult tracks separate counters for each skip reason.
type ScanResult struct {
	FilesSeen      int
	FilesAnalyzed  int
	AlreadyScanned int
	Errors         []string
}

// ScanDropDir analyzes every not-yet-seen JSON log file in the drop
// directory. Already-scanned files are deduplicated through the database so
// restarts do not re-analyze old batches.
func ScanDropDir(ctx context.Context, analyzer *Analyzer) (ScanResult, error) {
	var result ScanResult

	entries, err := os.ReadDir(analyzer.Cfg.ScanDir)
	if err != nil {
		return result, err
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(strings.ToLower(entry.Name()), ".json") {
			continue
		}
		result.FilesSeen++
		path := filepath.Join(analyzer.Cfg.ScanDir, entry.Name())

		seen, dbErr := FileScanned(analyzer.DB, path)
		if dbErr != nil {
			log.Printf("auto-scan dedup check failed path=%s err=%v", path, dbErr)
			result.Errors = append(result.Errors, dbErr.Error())
			continue
		}
		if seen {
			result.AlreadyScanned++
			continue
		}

		metrics, scanErr := analyzer.AnalyzeFile(ctx, path)
		if scanErr != nil {
			log.Printf("auto-scan failed path=%s err=%v", path, scanErr)
			result.Errors = append(result.Errors, scanErr.Error())
			continue
		}
		if err := MarkFileScanned(analyzer.DB, path); err != nil {
			log.Printf("auto-scan mark failed path=%s err=%v", path, err)
		}
		result.FilesAnalyzed++
		log.Printf("auto-scan complete path=%s %s", path, formatMetricsSummary(metrics))
	}

	return result, nil
}

// StartScanScheduler runs ScanDropDir on a cron schedule. The schedule is a
// standard 5-field cron expression (minute hour day-of-month month
// day-of-week). Examples: "*/5 * * * *" (every 5 minutes), "0 * * * *"
// (hourly).
func StartScanScheduler(ctx context.Context, analyzer *Analyzer) {
	schedule := strings.TrimSpace(analyzer.Cfg.ScanSchedule)
	if schedule == "" {
		log.Println("Auto-scan disabled (scan_schedule not set)")
		return
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(schedule)
	if err != nil {
		log.Printf("Invalid scan_schedule '%s': %v, auto-scan disabled", schedule, err)
		return
	}

	log.Printf("Auto-scan scheduled (cron: %s) dir=%s", schedule, analyzer.Cfg.ScanDir)

	go func() {
		for {
			now := time.Now()
			next := sched.Next(now)
			wait := next.Sub(now)
			log.Printf("Next auto-scan at %s (in %s)", next.Format("Mon Jan 2 15:04"), wait.Round(time.Minute))

			select {
			case <-ctx.Done():
				log.Println("Auto-scan stopped")
				return
			case <-time.After(wait):
			}

			result, scanErr := ScanDropDir(ctx, analyzer)
			if scanErr != nil {
				log.Printf("Auto-scan error: %v", scanErr)
				continue
			}
			log.Printf("Auto-scan pass complete files=%d analyzed=%d skipped=%d errors=%d",
				result.FilesSeen, result.FilesAnalyzed, result.AlreadyScanned, len(result.Errors))
		}
	}()
}
