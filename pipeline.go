package main

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
)

// pipelineState tracks where a single record is in the analysis flow. States
// exist for trace logging; transitions are the function calls below.
type pipelineState int

const (
	stateReceived pipelineState = iota
	statePrescreened
	stateFastApproved
	stateAwaitingReasoning
	stateScored
	stateFallback
	stateOverrideChecked
	stateFinalized
)

func (s pipelineState) String() string {
	switch s {
	case stateReceived:
		return "RECEIVED"
	case statePrescreened:
		return "PRESCREENED"
	case stateFastApproved:
		return "FAST_APPROVED"
	case stateAwaitingReasoning:
		return "AWAITING_REASONING"
	case stateScored:
		return "SCORED"
	case stateFallback:
		return "FALLBACK"
	case stateOverrideChecked:
		return "OVERRIDE_CHECKED"
	case stateFinalized:
		return "FINALIZED"
	}
	return "UNKNOWN"
}

const fastPathScore = 5

// Pipeline runs the multi-stage risk classification. It holds no per-record
// state, so independent Analyze calls may run concurrently against the same
// Pipeline value.
type Pipeline struct {
	Policy   *Policy
	Reasoner ReasoningClient
	Timeout  time.Duration
	Workers  int

	// Trace enables per-transition state logging.
	Trace bool
}

func NewPipeline(policy *Policy, reasoner ReasoningClient, cfg Config) *Pipeline {
	return &Pipeline{
		Policy:   policy,
		Reasoner: reasoner,
		Timeout:  time.Duration(cfg.ReasoningTimeoutSeconds) * time.Second,
		Workers:  cfg.AnalysisWorkers,
	}
}

func (p *Pipeline) trace(logEntry RequestLog, state pipelineState) {
	if p.Trace {
		log.Printf("pipeline user=%s url=%s state=%s", logEntry.UserID, logEntry.RequestURL, state)
	}
}

// Analyze takes one request log through the full state machine and always
// produces a finalized result: reasoning failures fall back to a conservative
// verdict rather than surfacing as errors.
func (p *Pipeline) Analyze(ctx context.Context, logEntry RequestLog) AnalysisResult {
	p.trace(logEntry, stateReceived)

	verdict := Screen(logEntry, p.Policy)
	p.trace(logEntry, statePrescreened)

	// Fast path: approved destination, clean payload, not on the malicious
	// list. The reasoning collaborator is never consulted.
	if verdict.FastTrack && !verdict.Malicious {
		p.trace(logEntry, stateFastApproved)
		return p.finalize(logEntry, AnalysisResult{
			Category:          CategoryApproved,
			Score:             fastPathScore,
			Reasoning:         "Request to approved internal AI platform with no sensitive data detected",
			RecommendedAction: "Allow",
			Provenance:        ProvenanceFastPath,
		}, verdict)
	}

	p.trace(logEntry, stateAwaitingReasoning)
	working, state := p.reason(ctx, logEntry, verdict)
	p.trace(logEntry, state)

	working = p.applyOverride(logEntry, verdict, working)
	p.trace(logEntry, stateOverrideChecked)

	return p.finalize(logEntry, working, verdict)
}

// reason calls the external collaborator and returns the working result plus
// the state reached (SCORED on success, FALLBACK on any failure).
func (p *Pipeline) reason(ctx context.Context, logEntry RequestLog, verdict PreScreenVerdict) (AnalysisResult, pipelineState) {
	callCtx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	assessment, err := p.Reasoner.Analyze(callCtx, logEntry, p.Policy, verdict)
	if err != nil {
		log.Printf("pipeline reasoning failed user=%s url=%s err=%v", logEntry.UserID, logEntry.RequestURL, err)
		return p.fallbackResult(verdict, err), stateFallback
	}

	// The external category is only a hint; policy thresholds decide.
	score := assessment.Score
	if score < 0 {
		score = 0
	}
	if score > maxRiskScore {
		score = maxRiskScore
	}
	return AnalysisResult{
		Category:          p.Policy.ThresholdFor(score),
		Score:             score,
		Reasoning:         assessment.Reasoning,
		DetectedSensitive: mergeSensitive(verdict.SensitiveMatches, assessment.DetectedSensitive),
		RecommendedAction: assessment.RecommendedAction,
		UserMessage:       assessment.UserMessage,
		Provenance:        ProvenanceReasoned,
	}, stateScored
}

// fallbackResult synthesizes a conservative verdict from pre-screening
// signals alone. MEDIUM_RISK is the floor.
func (p *Pipeline) fallbackResult(verdict PreScreenVerdict, cause error) AnalysisResult {
	score := 50
	if score <= p.Policy.MediumThreshold() {
		score = p.Policy.MediumThreshold() + 1
	}
	category := p.Policy.ThresholdFor(score)
	if category.Rank() < CategoryMedium.Rank() {
		category = CategoryMedium
	}
	return AnalysisResult{
		Category:          category,
		Score:             score,
		Reasoning:         fmt.Sprintf("Reasoning analysis failed (%v). Applying conservative risk assessment.", cause),
		DetectedSensitive: verdict.SensitiveMatches,
		RecommendedAction: "Manual review required",
		Provenance:        ProvenanceFallback,
		LowConfidence:     true,
	}
}

// applyOverride enforces the deterministic rule: a confirmed malicious
// domain, or high-severity sensitive data in an oversized payload, forces
// CRITICAL no matter what the reasoning step said.
func (p *Pipeline) applyOverride(logEntry RequestLog, verdict PreScreenVerdict, working AnalysisResult) AnalysisResult {
	oversized := verdict.HighSeverity && logEntry.PayloadSizeKB > p.Policy.OverridePayloadKB()
	if !verdict.Malicious && !oversized {
		return working
	}

	reason := "High-severity sensitive data in an oversized payload"
	if verdict.Malicious {
		reason = fmt.Sprintf("Domain %q is on the known malicious list", hostOf(logEntry.RequestURL))
	}
	working.Category = CategoryCritical
	working.Score = maxRiskScore
	working.Reasoning = fmt.Sprintf("[override] %s. %s", reason, working.Reasoning)
	working.RecommendedAction = "Immediate block and incident response"
	working.UserMessage = "ACCESS BLOCKED: this request violates data-protection policy."
	working.Provenance = ProvenanceOverridden
	working.LowConfidence = false
	return working
}

func (p *Pipeline) finalize(logEntry RequestLog, working AnalysisResult, verdict PreScreenVerdict) AnalysisResult {
	working.Log = logEntry
	if working.DetectedSensitive == nil {
		working.DetectedSensitive = verdict.SensitiveMatches
	}
	working.AnalyzedAt = time.Now()
	p.trace(logEntry, stateFinalized)
	log.Printf("analysis user=%s url=%s category=%s score=%d provenance=%s", logEntry.UserID, logEntry.RequestURL, working.Category, working.Score, working.Provenance)
	return working
}

func mergeSensitive(local, external []string) []string {
	seen := make(map[string]bool, len(local)+len(external))
	var merged []string
	for _, list := range [][]string{local, external} {
		for _, s := range list {
			key := strings.ToLower(strings.TrimSpace(s))
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, s)
		}
	}
	return merged
}

// AnalyzeBatch fans records out over a bounded worker pool. Cancellation is
// cooperative: it is checked before each record is handed to a worker, and an
// in-flight reasoning call runs to completion or times out on its own.
func (p *Pipeline) AnalyzeBatch(ctx context.Context, logs []RequestLog) []AnalysisResult {
	if len(logs) == 0 {
		return nil
	}
	workers := p.Workers
	if workers < 1 {
		workers = 1
	}

	results := make([]AnalysisResult, len(logs))
	done := make([]bool, len(logs))
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup

	for i, logEntry := range logs {
		if ctx.Err() != nil {
			log.Printf("batch cancelled after %d/%d records", i, len(logs))
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(idx int, entry RequestLog) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = p.Analyze(ctx, entry)
			done[idx] = true
		}(i, logEntry)
	}
	wg.Wait()

	finalized := make([]AnalysisResult, 0, len(logs))
	for i, ok := range done {
		if ok {
			finalized = append(finalized, results[i])
		}
	}
	return finalized
}
