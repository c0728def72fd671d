package main

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// RequestLog is one captured network request. Immutable once ingested.
type RequestLog struct {
	Timestamp      time.Time `json:"timestamp"`
	UserID         string    `json:"user_id"`
	Department     string    `json:"department"`
	RequestURL     string    `json:"request_url"`
	Method         string    `json:"method"`
	PayloadSizeKB  float64   `json:"payload_size_kb"`
	PayloadSnippet string    `json:"payload_snippet"`
	UserAgent      string    `json:"user_agent"`
	SourceIP       string    `json:"source_ip"`
}

// SourceID derives a stable identifier for the log. Memory records use it to
// make re-insertion of the same request a no-op.
func (l RequestLog) SourceID() string {
	h := sha1.Sum([]byte(l.UserID + "|" + l.RequestURL + "|" + l.Timestamp.UTC().Format(time.RFC3339Nano)))
	return hex.EncodeToString(h[:])[:16]
}

type RiskCategory string

const (
	CategoryApproved RiskCategory = "APPROVED"
	CategoryLow      RiskCategory = "LOW_RISK"
	CategoryMedium   RiskCategory = "MEDIUM_RISK"
	CategoryHigh     RiskCategory = "HIGH_RISK"
	CategoryCritical RiskCategory = "CRITICAL"
)

var categoryRank = map[RiskCategory]int{
	CategoryApproved: 0,
	CategoryLow:      1,
	CategoryMedium:   2,
	CategoryHigh:     3,
	CategoryCritical: 4,
}

// Rank orders categories from APPROVED (0) to CRITICAL (4). Unknown values
// rank as CRITICAL so a bad external category can never soften a verdict.
func (c RiskCategory) Rank() int {
	if r, ok := categoryRank[c]; ok {
		return r
	}
	return categoryRank[CategoryCritical]
}

// Provenance of a finalized verdict.
const (
	ProvenanceFastPath   = "fast-path"
	ProvenanceReasoned   = "reasoned"
	ProvenanceOverridden = "overridden"
	ProvenanceFallback   = "fallback"
)

// PreScreenVerdict is the fast local screening outcome. Derived, transient.
type PreScreenVerdict struct {
	FastTrack        bool
	Malicious        bool
	SensitiveMatches []string
	HighSeverity     bool
}

// Assessment is the structured risk assessment returned by the reasoning
// collaborator. Policy thresholds remain authoritative for the category.
type Assessment struct {
	Category          RiskCategory `json:"risk_category"`
	Score             int          `json:"risk_score"`
	Reasoning         string       `json:"reasoning"`
	DetectedSensitive []string     `json:"detected_sensitive_data"`
	RecommendedAction string       `json:"recommended_action"`
	UserMessage       string       `json:"user_message"`
}

// AnalysisResult is the finalized verdict for one request log. Immutable
// after the pipeline finalizes it.
type AnalysisResult struct {
	Log               RequestLog
	Category          RiskCategory
	Score             int
	Reasoning         string
	DetectedSensitive []string
	RecommendedAction string
	UserMessage       string
	Provenance        string
	LowConfidence     bool
	AnalyzedAt        time.Time
}

// Turn is one conversation exchange half.
type Turn struct {
	Speaker string // "user" or "assistant"
	Text    string
}

// ConversationSession holds one advisor conversation. A session is mutated by
// exactly one advisor interaction at a time.
type ConversationSession struct {
	ID    string
	Turns []Turn
}

// ParseRequestLogs decodes a JSON array of request logs. Malformed entries
// are skipped and reported per record; only an unreadable collection is an
// error for the whole input.
func ParseRequestLogs(data []byte) ([]RequestLog, []RecordParseError, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, nil, fmt.Errorf("parse log collection: %w", err)
	}

	var logs []RequestLog
	var bad []RecordParseError
	for i, msg := range raw {
		var entry RequestLog
		if err := json.Unmarshal(msg, &entry); err != nil {
			bad = append(bad, RecordParseError{Index: i, Err: err})
			continue
		}
		if err := validateRequestLog(entry); err != nil {
			bad = append(bad, RecordParseError{Index: i, Err: err})
			continue
		}
		logs = append(logs, entry)
	}
	return logs, bad, nil
}

func validateRequestLog(l RequestLog) error {
	if strings.TrimSpace(l.UserID) == "" {
		return fmt.Errorf("missing user_id")
	}
	if strings.TrimSpace(l.RequestURL) == "" {
		return fmt.Errorf("missing request_url")
	}
	if l.Timestamp.IsZero() {
		return fmt.Errorf("missing timestamp")
	}
	if l.PayloadSizeKB < 0 {
		return fmt.Errorf("negative payload_size_kb")
	}
	return nil
}

// BatchMetrics aggregates a batch of finalized results.
type BatchMetrics struct {
	Total           int
	ByCategory      map[RiskCategory]int
	DeptAvgScore    map[string]float64
	SensitiveCounts map[string]int
	Threats         int // results scoring above the monitoring band
	AvgScore        float64
	Skipped         int
}

const threatScoreFloor = 40

// ComputeMetrics aggregates results the way the dashboard consumed them:
// category distribution, average score per department, and a breakdown of
// which sensitive data types were seen leaving.
func ComputeMetrics(results []AnalysisResult, skipped int) BatchMetrics {
	m := BatchMetrics{
		ByCategory:      make(map[RiskCategory]int),
		DeptAvgScore:    make(map[string]float64),
		SensitiveCounts: make(map[string]int),
		Skipped:         skipped,
	}
	if len(results) == 0 {
		return m
	}

	deptTotals := make(map[string]float64)
	deptCounts := make(map[string]int)
	scoreSum := 0
	for _, r := range results {
		m.Total++
		m.ByCategory[r.Category]++
		dept := r.Log.Department
		if dept == "" {
			dept = "Unknown"
		}
		deptTotals[dept] += float64(r.Score)
		deptCounts[dept]++
		for _, s := range r.DetectedSensitive {
			m.SensitiveCounts[s]++
		}
		if r.Score > threatScoreFloor {
			m.Threats++
		}
		scoreSum += r.Score
	}
	for dept, total := range deptTotals {
		m.DeptAvgScore[dept] = total / float64(deptCounts[dept])
	}
	m.AvgScore = float64(scoreSum) / float64(m.Total)
	return m
}
