package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"sync"
	"time"
)

// Analyzer ties the batch flow together: parse logs, run the pipeline,
// dispatch mitigations, write the incident memory, and report.
type Analyzer struct {
	Cfg      Config
	DB       *sql.DB
	Pipeline *Pipeline
	Router   *MitigationRouter
	Embedder Embedder
	Index    *VectorIndex
	Advisor  *Advisor

	// dispatches tracks fire-and-forget mitigation goroutines so the
	// process can drain them before exiting.
	dispatches sync.WaitGroup
}

// AnalyzeFile runs one batch from a JSON log file and returns its metrics.
func (a *Analyzer) AnalyzeFile(ctx context.Context, path string) (BatchMetrics, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return BatchMetrics{}, fmt.Errorf("read logs: %w", err)
	}
	logs, parseErrs, err := ParseRequestLogs(data)
	if err != nil {
		return BatchMetrics{}, err
	}
	for _, pe := range parseErrs {
		log.Printf("skipping malformed record file=%s %v", path, &pe)
	}
	return a.AnalyzeLogs(ctx, logs, len(parseErrs))
}

// AnalyzeLogs analyzes an already-parsed batch. Mitigation dispatch is
// fire-and-forget with respect to the pipeline; memory writes and the report
// happen after all results are finalized.
func (a *Analyzer) AnalyzeLogs(ctx context.Context, logs []RequestLog, skipped int) (BatchMetrics, error) {
	results := a.Pipeline.AnalyzeBatch(ctx, logs)
	metrics := ComputeMetrics(results, skipped)

	for _, result := range results {
		result := result
		a.dispatches.Add(1)
		go func() {
			defer a.dispatches.Done()
			a.Router.Route(context.Background(), result)
		}()
	}

	a.remember(ctx, results)

	if a.Advisor != nil {
		a.Advisor.SetLatestBatch(results, metrics)
	}

	if a.Cfg.ReportOutputDir != "" && len(results) > 0 {
		report := BuildBatchReport(metrics, results, time.Now())
		if path, err := WriteReportFile(report, a.Cfg.ReportOutputDir, time.Now()); err != nil {
			log.Printf("report write failed: %v", err)
		} else {
			log.Printf("report written path=%s", path)
		}
	}

	return metrics, nil
}

// remember embeds finalized results into the vector memory and persists the
// snapshot once per batch.
func (a *Analyzer) remember(ctx context.Context, results []AnalysisResult) {
	if a.Index == nil || a.Embedder == nil {
		return
	}
	inserted := 0
	for _, result := range results {
		rec, err := RecordFromResult(ctx, result, a.Embedder)
		if err != nil {
			log.Printf("memory embed failed user=%s err=%v", result.Log.UserID, err)
			continue
		}
		if err := a.Index.Insert(rec); err != nil {
			log.Printf("memory insert failed id=%s err=%v", rec.ID, err)
			continue
		}
		inserted++
	}
	if inserted > 0 && a.DB != nil {
		if err := a.Index.Persist(a.DB); err != nil {
			log.Printf("memory persist failed: %v", err)
		}
	}
}

// Drain waits for outstanding mitigation dispatches.
func (a *Analyzer) Drain() {
	a.dispatches.Wait()
}

func formatMetricsSummary(m BatchMetrics) string {
	return fmt.Sprintf("analyzed=%d skipped=%d avg_score=%.1f threats=%d approved=%d low=%d medium=%d high=%d critical=%d",
		m.Total, m.Skipped, m.AvgScore, m.Threats,
		m.ByCategory[CategoryApproved], m.ByCategory[CategoryLow], m.ByCategory[CategoryMedium],
		m.ByCategory[CategoryHigh], m.ByCategory[CategoryCritical])
}
