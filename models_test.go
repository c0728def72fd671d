package main

import (
	"testing"
	"time"
)

func TestParseRequestLogsSkipsMalformed(t *testing.T) {
	data := []byte(`[
		{"timestamp":"2026-02-13T15:10:00Z","user_id":"j.doe","department":"HR","request_url":"https://chat.openai.com","method":"POST","payload_size_kb":2,"payload_snippet":"hi","source_ip":"10.0.0.1"},
		{"timestamp":"2026-02-13T15:11:00Z","department":"HR","request_url":"https://chat.openai.com"},
		{"timestamp":"not-a-time","user_id":"a.smith","request_url":"https://x.example"},
		{"timestamp":"2026-02-13T15:12:00Z","user_id":"a.smith","request_url":"https://x.example","payload_size_kb":-3},
		{"timestamp":"2026-02-13T15:13:00Z","user_id":"b.jones","request_url":"https://y.example"}
	]`)

	logs, bad, err := ParseRequestLogs(data)
	if err != nil {
		t.Fatalf("ParseRequestLogs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("expected 2 valid records, got %d", len(logs))
	}
	if len(bad) != 3 {
		t.Fatalf("expected 3 skipped records, got %d", len(bad))
	}
	if bad[0].Index != 1 || bad[1].Index != 2 || bad[2].Index != 3 {
		t.Fatalf("unexpected skip indexes: %d %d %d", bad[0].Index, bad[1].Index, bad[2].Index)
	}
	if logs[0].UserID != "j.doe" || logs[1].UserID != "b.jones" {
		t.Fatalf("unexpected surviving records: %s, %s", logs[0].UserID, logs[1].UserID)
	}
}

func TestParseRequestLogsBadCollection(t *testing.T) {
	if _, _, err := ParseRequestLogs([]byte(`{"not":"an array"}`)); err == nil {
		t.Fatal("expected error for non-array input")
	}
}

func TestSourceIDStable(t *testing.T) {
	a := testRequestLog()
	b := testRequestLog()
	if a.SourceID() != b.SourceID() {
		t.Fatal("identical logs must derive identical source ids")
	}
	b.Timestamp = b.Timestamp.Add(time.Second)
	if a.SourceID() == b.SourceID() {
		t.Fatal("different timestamps must derive different source ids")
	}
}

func TestComputeMetrics(t *testing.T) {
	results := []AnalysisResult{
		{Log: RequestLog{Department: "HR"}, Category: CategoryApproved, Score: 5},
		{Log: RequestLog{Department: "HR"}, Category: CategoryMedium, Score: 55, DetectedSensitive: []string{"email"}},
		{Log: RequestLog{Department: "Fraud Detection"}, Category: CategoryCritical, Score: 100, DetectedSensitive: []string{"iban", "email"}},
	}

	m := ComputeMetrics(results, 2)

	if m.Total != 3 {
		t.Fatalf("total = %d", m.Total)
	}
	if m.Skipped != 2 {
		t.Fatalf("skipped = %d", m.Skipped)
	}
	if m.ByCategory[CategoryCritical] != 1 || m.ByCategory[CategoryMedium] != 1 || m.ByCategory[CategoryApproved] != 1 {
		t.Fatalf("unexpected category counts: %v", m.ByCategory)
	}
	if m.DeptAvgScore["HR"] != 30 {
		t.Fatalf("HR avg = %v, want 30", m.DeptAvgScore["HR"])
	}
	if m.DeptAvgScore["Fraud Detection"] != 100 {
		t.Fatalf("Fraud Detection avg = %v", m.DeptAvgScore["Fraud Detection"])
	}
	if m.SensitiveCounts["email"] != 2 || m.SensitiveCounts["iban"] != 1 {
		t.Fatalf("unexpected sensitive counts: %v", m.SensitiveCounts)
	}
	if m.Threats != 2 {
		t.Fatalf("threats = %d, want 2", m.Threats)
	}
}

func TestCategoryRankUnknownFailsClosed(t *testing.T) {
	if RiskCategory("GIBBERISH").Rank() != CategoryCritical.Rank() {
		t.Fatal("unknown category must rank as CRITICAL")
	}
}
