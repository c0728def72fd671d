package main

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"
)

const advisorApology = "I apologize, but I encountered an error processing your request. Please try again."

// Advisor answers follow-up questions about analyzed incidents, augmenting
// each query with the most similar memory records and the latest batch
// snapshot. One session is mutated by exactly one interaction at a time.
type Advisor struct {
	Reasoner ReasoningClient
	Embedder Embedder
	Index    *VectorIndex
	Policy   *Policy
	TopK     int
	Timeout  time.Duration

	mu       sync.Mutex
	sessions map[string]*advisorSession
	snapshot *batchSnapshot
}

type advisorSession struct {
	mu      sync.Mutex
	session ConversationSession
}

type batchSnapshot struct {
	metrics    BatchMetrics
	highlights []string
	takenAt    time.Time
}

func NewAdvisor(reasoner ReasoningClient, embedder Embedder, index *VectorIndex, policy *Policy, cfg Config) *Advisor {
	return &Advisor{
		Reasoner: reasoner,
		Embedder: embedder,
		Index:    index,
		Policy:   policy,
		TopK:     cfg.AdvisorTopK,
		Timeout:  time.Duration(cfg.ReasoningTimeoutSeconds) * time.Second,
		sessions: make(map[string]*advisorSession),
	}
}

// SetLatestBatch captures the most recent analysis batch as conversational
// context: aggregate metrics plus the riskiest individual results.
func (a *Advisor) SetLatestBatch(results []AnalysisResult, metrics BatchMetrics) {
	sorted := make([]AnalysisResult, len(results))
	copy(sorted, results)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Score > sorted[j].Score })

	var highlights []string
	for i, r := range sorted {
		if i >= 10 {
			break
		}
		highlights = append(highlights, fmt.Sprintf("- User: %s, Risk: %s (score %d), Reason: %s", r.Log.UserID, r.Category, r.Score, r.Reasoning))
	}

	a.mu.Lock()
	a.snapshot = &batchSnapshot{metrics: metrics, highlights: highlights, takenAt: time.Now()}
	a.mu.Unlock()
}

// Query embeds the question, retrieves related incident memory, and asks the
// reasoning collaborator with the session history attached. Both turns are
// appended to the session on success; a reasoning failure returns an apology
// and leaves the session unchanged.
func (a *Advisor) Query(ctx context.Context, sessionID, userText string) string {
	sess := a.session(sessionID)
	sess.mu.Lock()
	defer sess.mu.Unlock()

	historical := a.retrieve(ctx, userText)
	system := a.systemPrompt(historical)

	turns := make([]Turn, 0, len(sess.session.Turns)+1)
	turns = append(turns, sess.session.Turns...)
	turns = append(turns, Turn{Speaker: "user", Text: userText})

	callCtx, cancel := context.WithTimeout(ctx, a.Timeout)
	defer cancel()
	answer, err := a.Reasoner.Chat(callCtx, system, turns)
	if err != nil {
		log.Printf("advisor chat failed session=%s err=%v", sessionID, err)
		return advisorApology
	}

	sess.session.Turns = append(sess.session.Turns,
		Turn{Speaker: "user", Text: userText},
		Turn{Speaker: "assistant", Text: answer},
	)
	return answer
}

// SessionTurns returns a copy of the session history, for display.
func (a *Advisor) SessionTurns(sessionID string) []Turn {
	sess := a.session(sessionID)
	sess.mu.Lock()
	defer sess.mu.Unlock()
	out := make([]Turn, len(sess.session.Turns))
	copy(out, sess.session.Turns)
	return out
}

func (a *Advisor) session(id string) *advisorSession {
	a.mu.Lock()
	defer a.mu.Unlock()
	if s, ok := a.sessions[id]; ok {
		return s
	}
	s := &advisorSession{session: ConversationSession{ID: id}}
	a.sessions[id] = s
	return s
}

func (a *Advisor) retrieve(ctx context.Context, query string) string {
	if a.Index == nil || a.Index.Len() == 0 {
		return "No historical security records available."
	}
	vec, err := a.Embedder.Embed(ctx, query)
	if err != nil {
		log.Printf("advisor embed failed: %v", err)
		return "No historical security records available."
	}
	hits := a.Index.Query(vec, a.TopK)
	if len(hits) == 0 {
		return "No relevant historical security records found."
	}
	parts := make([]string, 0, len(hits))
	for _, h := range hits {
		parts = append(parts, h.Record.Summary)
	}
	return strings.Join(parts, "\n---\n")
}

// systemPrompt composes the augmented context. Only derived policy rationale
// (domain lists, guidance) goes in; credentials and raw config never do.
func (a *Advisor) systemPrompt(historical string) string {
	a.mu.Lock()
	snap := a.snapshot
	a.mu.Unlock()

	current := "No active analysis data available for the current batch."
	if snap != nil {
		var b strings.Builder
		fmt.Fprintf(&b, "Analyzed %d requests (avg score %.1f, %d threats). Category counts:", snap.metrics.Total, snap.metrics.AvgScore, snap.metrics.Threats)
		for _, cat := range []RiskCategory{CategoryApproved, CategoryLow, CategoryMedium, CategoryHigh, CategoryCritical} {
			if n := snap.metrics.ByCategory[cat]; n > 0 {
				fmt.Fprintf(&b, " %s=%d", cat, n)
			}
		}
		if len(snap.highlights) > 0 {
			b.WriteString("\nHighest-risk results:\n")
			b.WriteString(strings.Join(snap.highlights, "\n"))
		}
		current = b.String()
	}

	return fmt.Sprintf(`You are the Security Advisor, a professional SOC analyst.
Your goal is to help users understand security threats, organizational policies, and risk metrics.

CONTEXT OF CURRENT ANALYSIS BATCH:
%s

HISTORICAL SECURITY MEMORY:
%s

POLICIES:
- Approved Internal Domains: %s
- External AI Services: %s
- Malicious Domains: %s

GUIDELINES:
1. Be professional, concise, and helpful.
2. If the user asks about specific threats in the context, use the data to explain the risk.
3. If the user asks about general security, provide best practices aligned with corporate policy.
4. If a request was blocked, explain WHY based on the detected sensitive data or domain reputation.
5. NEVER reveal internal API keys, credentials, or raw configuration.`,
		current, historical,
		strings.Join(a.Policy.ApprovedDomains(), ", "),
		strings.Join(a.Policy.ExternalServices(), ", "),
		strings.Join(a.Policy.MaliciousDomains(), ", "))
}
