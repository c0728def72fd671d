package main

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testLogBatch = `[
	{"timestamp":"2026-02-13T15:10:00Z","user_id":"a.kim","department":"Marketing","request_url":"https://internal-ai.company.local/v1/chat","method":"POST","payload_size_kb":2,"payload_snippet":"draft a newsletter intro","source_ip":"10.0.0.4"},
	{"timestamp":"2026-02-13T15:11:00Z","department":"HR","request_url":"https://chat.openai.com"},
	{"timestamp":"2026-02-13T15:12:00Z","user_id":"j.doe","department":"Fraud Detection","request_url":"https://chat.openai.com/backend/conversation","method":"POST","payload_size_kb":4,"payload_snippet":"check this IBAN DE44500105175407324931","source_ip":"10.1.2.3"}
]`

func newTestAnalyzer(t *testing.T, db *sql.DB, sink ActionSink, stub *stubReasoner) *Analyzer {
	t.Helper()
	policy := testPolicy(t, nil)
	embedder := NewLocalEmbedder(64)
	index := NewVectorIndex(embedder.Dim())
	return &Analyzer{
		Cfg: Config{
			ReportOutputDir: t.TempDir(),
			ScanDir:         t.TempDir(),
		},
		DB:       db,
		Pipeline: newTestPipeline(policy, stub),
		Router:   NewMitigationRouter(sink, "#security", db),
		Embedder: embedder,
		Index:    index,
	}
}

func writeLogFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestAnalyzeFileEndToEnd(t *testing.T) {
	db := testDB(t)
	sink := &fakeSink{}
	stub := &stubReasoner{assessment: Assessment{
		Category:          CategoryCritical,
		Score:             95,
		Reasoning:         "iban sent to external AI service",
		DetectedSensitive: []string{"iban"},
	}}
	analyzer := newTestAnalyzer(t, db, sink, stub)
	path := writeLogFile(t, t.TempDir(), "batch.json", testLogBatch)

	metrics, err := analyzer.AnalyzeFile(context.Background(), path)
	if err != nil {
		t.Fatalf("AnalyzeFile: %v", err)
	}
	analyzer.Drain()

	if metrics.Total != 2 || metrics.Skipped != 1 {
		t.Fatalf("metrics = total %d skipped %d, want 2 and 1", metrics.Total, metrics.Skipped)
	}
	if metrics.ByCategory[CategoryApproved] != 1 || metrics.ByCategory[CategoryCritical] != 1 {
		t.Fatalf("unexpected category counts: %v", metrics.ByCategory)
	}
	if stub.analyzeCalls() != 1 {
		t.Fatalf("only the non-fast-tracked record should reach reasoning, got %d calls", stub.analyzeCalls())
	}

	// Mitigation for the critical result: block, alert, incident.
	sink.mu.Lock()
	blocked, alerted := sink.blockedIPs, sink.channels
	sink.mu.Unlock()
	if len(blocked) != 1 || blocked[0] != "10.1.2.3" {
		t.Fatalf("expected block for the critical source ip, got %v", blocked)
	}
	if len(alerted) != 1 || alerted[0] != "#security" {
		t.Fatalf("expected one security alert, got %v", alerted)
	}
	var incidents int
	if err := db.QueryRow(`SELECT COUNT(*) FROM incidents`).Scan(&incidents); err != nil {
		t.Fatal(err)
	}
	if incidents != 1 {
		t.Fatalf("incident count = %d, want 1", incidents)
	}

	// Both finalized results are remembered and the snapshot persisted.
	if analyzer.Index.Len() != 2 {
		t.Fatalf("index holds %d records, want 2", analyzer.Index.Len())
	}
	var stored int
	if err := db.QueryRow(`SELECT COUNT(*) FROM memory_records`).Scan(&stored); err != nil {
		t.Fatal(err)
	}
	if stored != 2 {
		t.Fatalf("persisted %d memory records, want 2", stored)
	}

	// A report lands in the output directory.
	entries, err := os.ReadDir(analyzer.Cfg.ReportOutputDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || !strings.HasPrefix(entries[0].Name(), "shadow_ai_") {
		t.Fatalf("expected one report file, got %v", entries)
	}
	content, err := os.ReadFile(filepath.Join(analyzer.Cfg.ReportOutputDir, entries[0].Name()))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(content), "CRITICAL") || !strings.Contains(string(content), "j.doe") {
		t.Fatalf("report missing incident detail:\n%s", content)
	}
}

func TestAnalyzeFileMissing(t *testing.T) {
	analyzer := newTestAnalyzer(t, testDB(t), &fakeSink{}, &stubReasoner{})
	if _, err := analyzer.AnalyzeFile(context.Background(), filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestAnalyzeLogsRebatchIsIdempotentInMemory(t *testing.T) {
	db := testDB(t)
	stub := &stubReasoner{assessment: Assessment{Category: CategoryMedium, Score: 55}}
	analyzer := newTestAnalyzer(t, db, &fakeSink{}, stub)

	logs := []RequestLog{testRequestLog()}
	if _, err := analyzer.AnalyzeLogs(context.Background(), logs, 0); err != nil {
		t.Fatal(err)
	}
	if _, err := analyzer.AnalyzeLogs(context.Background(), logs, 0); err != nil {
		t.Fatal(err)
	}
	analyzer.Drain()

	if analyzer.Index.Len() != 1 {
		t.Fatalf("re-analyzing the same record must not duplicate memory, got %d", analyzer.Index.Len())
	}
}

func TestScanDropDirDeduplicates(t *testing.T) {
	db := testDB(t)
	stub := &stubReasoner{assessment: Assessment{Category: CategoryLow, Score: 25}}
	analyzer := newTestAnalyzer(t, db, &fakeSink{}, stub)

	writeLogFile(t, analyzer.Cfg.ScanDir, "a.json", testLogBatch)
	writeLogFile(t, analyzer.Cfg.ScanDir, "b.json", testLogBatch)
	writeLogFile(t, analyzer.Cfg.ScanDir, "notes.txt", "not a log file")

	first, err := ScanDropDir(context.Background(), analyzer)
	if err != nil {
		t.Fatalf("ScanDropDir: %v", err)
	}
	if first.FilesSeen != 2 || first.FilesAnalyzed != 2 || first.AlreadyScanned != 0 {
		t.Fatalf("first pass: %+v", first)
	}

	second, err := ScanDropDir(context.Background(), analyzer)
	if err != nil {
		t.Fatalf("ScanDropDir: %v", err)
	}
	if second.FilesSeen != 2 || second.FilesAnalyzed != 0 || second.AlreadyScanned != 2 {
		t.Fatalf("second pass must skip scanned files: %+v", second)
	}
	analyzer.Drain()
}

func TestBuildBatchReportSections(t *testing.T) {
	results := []AnalysisResult{
		{Log: RequestLog{UserID: "j.doe", Department: "Fraud Detection", RequestURL: "https://chat.openai.com"}, Category: CategoryCritical, Score: 100, Provenance: ProvenanceOverridden, Reasoning: "malicious destination", DetectedSensitive: []string{"iban"}},
		{Log: RequestLog{UserID: "a.kim", Department: "Marketing"}, Category: CategoryApproved, Score: 5, Provenance: ProvenanceFastPath},
	}
	metrics := ComputeMetrics(results, 1)

	report := BuildBatchReport(metrics, results, time.Date(2026, 2, 13, 16, 0, 0, 0, time.UTC))

	for _, want := range []string{
		"# Shadow AI Analysis Report",
		"## Risk Distribution",
		"## Department Risk",
		"## Sensitive Data Exfiltration Attempts",
		"## High-Risk Incidents",
		"- iban: 1",
		"**CRITICAL** (score 100, overridden) j.doe to chat.openai.com",
		"1 skipped as malformed",
	} {
		if !strings.Contains(report, want) {
			t.Fatalf("report missing %q:\n%s", want, report)
		}
	}
	if strings.Contains(report, "a.kim to") {
		t.Fatal("approved results must not appear as high-risk incidents")
	}
}

func TestWriteReportFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "reports")
	path, err := WriteReportFile("# test report\n", dir, time.Date(2026, 2, 13, 16, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("WriteReportFile: %v", err)
	}
	if filepath.Base(path) != "shadow_ai_20260213_160000.md" {
		t.Fatalf("unexpected report name: %s", path)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(content) != "# test report\n" {
		t.Fatalf("unexpected content: %q", content)
	}
}
