package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// BuildBatchReport renders the batch outcome as markdown: category
// distribution, department breakdown, sensitive-data exfiltration counts, and
// the incidents that need eyes.
func BuildBatchReport(metrics BatchMetrics, results []AnalysisResult, when time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# Shadow AI Analysis Report (%s)\n\n", when.Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "Analyzed %d requests (%d skipped as malformed). Average risk score: %.1f. Threats: %d.\n\n", metrics.Total, metrics.Skipped, metrics.AvgScore, metrics.Threats)

	b.WriteString("## Risk Distribution\n\n")
	for _, cat := range []RiskCategory{CategoryApproved, CategoryLow, CategoryMedium, CategoryHigh, CategoryCritical} {
		fmt.Fprintf(&b, "- %s: %d\n", cat, metrics.ByCategory[cat])
	}

	if len(metrics.DeptAvgScore) > 0 {
		b.WriteString("\n## Department Risk (average score)\n\n")
		depts := make([]string, 0, len(metrics.DeptAvgScore))
		for d := range metrics.DeptAvgScore {
			depts = append(depts, d)
		}
		sort.Strings(depts)
		for _, d := range depts {
			fmt.Fprintf(&b, "- %s: %.1f\n", d, metrics.DeptAvgScore[d])
		}
	}

	if len(metrics.SensitiveCounts) > 0 {
		b.WriteString("\n## Sensitive Data Exfiltration Attempts\n\n")
		types := make([]string, 0, len(metrics.SensitiveCounts))
		for t := range metrics.SensitiveCounts {
			types = append(types, t)
		}
		sort.Strings(types)
		for _, t := range types {
			fmt.Fprintf(&b, "- %s: %d\n", t, metrics.SensitiveCounts[t])
		}
	}

	var flagged []AnalysisResult
	for _, r := range results {
		if r.Category.Rank() >= CategoryHigh.Rank() {
			flagged = append(flagged, r)
		}
	}
	if len(flagged) > 0 {
		b.WriteString("\n## High-Risk Incidents\n\n")
		sort.SliceStable(flagged, func(i, j int) bool { return flagged[i].Score > flagged[j].Score })
		for _, r := range flagged {
			fmt.Fprintf(&b, "- **%s** (score %d, %s) %s to %s: %s\n", r.Category, r.Score, r.Provenance, r.Log.UserID, hostOf(r.Log.RequestURL), r.Reasoning)
		}
	}

	return b.String()
}

func WriteReportFile(content, outputDir string, reportDate time.Time) (string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", err
	}
	filename := fmt.Sprintf("shadow_ai_%s.md", reportDate.Format("20060102_150405"))
	path := filepath.Join(outputDir, filename)
	return path, os.WriteFile(path, []byte(content), 0644)
}
