package main

import (
	"errors"
	"strings"
	"testing"
)

func TestExtractJSONObjectFenced(t *testing.T) {
	text := "Here is my assessment:\n```json\n{\"risk_category\": \"LOW_RISK\", \"risk_score\": 30}\n```\nLet me know if you need more."
	obj, err := extractJSONObject(text)
	if err != nil {
		t.Fatalf("extractJSONObject: %v", err)
	}
	if !strings.HasPrefix(obj, "{") || !strings.HasSuffix(obj, "}") {
		t.Fatalf("unexpected extraction: %q", obj)
	}
}

func TestExtractJSONObjectBareFence(t *testing.T) {
	text := "```\n{\"risk_category\": \"LOW_RISK\"}\n```"
	obj, err := extractJSONObject(text)
	if err != nil {
		t.Fatalf("extractJSONObject: %v", err)
	}
	if obj != `{"risk_category": "LOW_RISK"}` {
		t.Fatalf("unexpected extraction: %q", obj)
	}
}

func TestExtractJSONObjectEmbeddedInProse(t *testing.T) {
	text := `Sure! {"risk_category": "HIGH_RISK", "risk_score": 80} Hope that helps.`
	obj, err := extractJSONObject(text)
	if err != nil {
		t.Fatalf("extractJSONObject: %v", err)
	}
	if !strings.Contains(obj, "HIGH_RISK") {
		t.Fatalf("unexpected extraction: %q", obj)
	}
}

func TestParseAssessment(t *testing.T) {
	text := `{"risk_category": "medium_risk", "risk_score": 55.0, "reasoning": "external AI with PII", "detected_sensitive_data": ["email"], "recommended_action": "Alert", "user_message": "careful"}`
	a, err := parseAssessment(text)
	if err != nil {
		t.Fatalf("parseAssessment: %v", err)
	}
	if a.Category != CategoryMedium {
		t.Fatalf("category = %s (case normalization)", a.Category)
	}
	if a.Score != 55 {
		t.Fatalf("score = %d", a.Score)
	}
	if len(a.DetectedSensitive) != 1 || a.DetectedSensitive[0] != "email" {
		t.Fatalf("sensitive = %v", a.DetectedSensitive)
	}
}

func TestParseAssessmentClampsScore(t *testing.T) {
	a, err := parseAssessment(`{"risk_category": "CRITICAL", "risk_score": 900}`)
	if err != nil {
		t.Fatalf("parseAssessment: %v", err)
	}
	if a.Score != 100 {
		t.Fatalf("score = %d, want clamped 100", a.Score)
	}
}

func TestParseAssessmentMalformed(t *testing.T) {
	cases := []string{
		"I can't help with that.",
		`{"risk_score": 50}`,
		"```json\nnot json at all\n```",
	}
	for _, text := range cases {
		_, err := parseAssessment(text)
		if !errors.Is(err, ErrMalformedResponse) {
			t.Fatalf("input %q: expected ErrMalformedResponse, got %v", text, err)
		}
	}
}

func TestDetectionSystemPromptIncludesPolicyLists(t *testing.T) {
	policy := testPolicy(t, nil)
	prompt := detectionSystemPrompt(policy)

	if !strings.Contains(prompt, "internal-ai.company.local") {
		t.Fatal("prompt missing approved domains")
	}
	if !strings.Contains(prompt, "chat.openai.com") {
		t.Fatal("prompt missing external services")
	}
	if !strings.Contains(prompt, "risk_category") {
		t.Fatal("prompt missing response schema")
	}
}

func TestBuildAnalysisContextCarriesPreScreenSignals(t *testing.T) {
	policy := testPolicy(t, nil)
	logEntry := testRequestLog()
	verdict := PreScreenVerdict{
		Malicious:        true,
		SensitiveMatches: []string{"iban", "email"},
		HighSeverity:     true,
	}

	ctx := buildAnalysisContext(logEntry, policy, verdict)

	if !strings.Contains(ctx, "malicious list") {
		t.Fatal("context missing malicious signal")
	}
	if !strings.Contains(ctx, "iban, email") {
		t.Fatal("context missing sensitive matches")
	}
	if !strings.Contains(ctx, "Fraud Detection") || !strings.Contains(ctx, "high_sensitivity") {
		t.Fatal("context missing department risk level")
	}
}

func TestNewReasoningClientProviderSwitch(t *testing.T) {
	cfg := Config{LLMProvider: "openai", OpenAIAPIKey: "sk-test"}
	if _, ok := NewReasoningClient(cfg).(*openAIReasoner); !ok {
		t.Fatal("expected OpenAI reasoner")
	}
	cfg = Config{LLMProvider: "anthropic", AnthropicAPIKey: "sk-ant"}
	if _, ok := NewReasoningClient(cfg).(*anthropicReasoner); !ok {
		t.Fatal("expected Anthropic reasoner")
	}
}
