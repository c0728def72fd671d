package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	openai "github.com/sashabaranov/go-openai"
)

const defaultAnthropicModel = "claude-sonnet-4-5-20250929"
const defaultOpenAIModel = "gpt-4o-mini"
const reasoningMaxTokens = 1024

// ReasoningClient is the external risk-assessment collaborator. Analyze
// returns a structured assessment for one request; Chat answers a free-form
// advisor conversation. Both may fail with ErrReasoningTimeout,
// ErrReasoningUnavailable, or ErrMalformedResponse.
type ReasoningClient interface {
	Analyze(ctx context.Context, logEntry RequestLog, policy *Policy, verdict PreScreenVerdict) (Assessment, error)
	Chat(ctx context.Context, system string, turns []Turn) (string, error)
}

// NewReasoningClient selects the provider configured in cfg.
func NewReasoningClient(cfg Config) ReasoningClient {
	switch cfg.LLMProvider {
	case "openai":
		model := cfg.LLMModel
		if model == "" {
			model = defaultOpenAIModel
		}
		return &openAIReasoner{client: openai.NewClient(cfg.OpenAIAPIKey), model: model}
	default:
		model := cfg.LLMModel
		if model == "" {
			model = defaultAnthropicModel
		}
		return &anthropicReasoner{apiKey: cfg.AnthropicAPIKey, model: model}
	}
}

// --- Prompts ---

func detectionSystemPrompt(policy *Policy) string {
	return fmt.Sprintf(`You are an AI security analyst for a leading financial institution.

Your task is to analyze network requests to AI services and assess their security risk level.

APPROVED AI PLATFORMS:
%s

EXTERNAL AI SERVICES (require scrutiny):
%s

RISK ASSESSMENT CRITERIA:
1. Is the endpoint approved by the organization?
2. Does the payload contain sensitive banking data (IBANs, account numbers, customer PII, financial amounts)?
3. What is the user's department sensitivity level?
4. Is the payload size unusually large (potential data dump)?

RESPONSE FORMAT (JSON):
{
  "risk_category": "APPROVED|LOW_RISK|MEDIUM_RISK|HIGH_RISK|CRITICAL",
  "risk_score": 0-100,
  "reasoning": "Brief explanation of the risk assessment",
  "detected_sensitive_data": ["list of sensitive data types found"],
  "recommended_action": "Action to take",
  "user_message": "Friendly message to educate the user (if applicable)"
}

Be strict but fair. The goal is to protect the organization's data while supporting legitimate AI use.`,
		strings.Join(policy.ApprovedDomains(), ", "),
		strings.Join(policy.ExternalServices(), ", "))
}

func buildAnalysisContext(logEntry RequestLog, policy *Policy, verdict PreScreenVerdict) string {
	sensitive := "None"
	if len(verdict.SensitiveMatches) > 0 {
		sensitive = strings.Join(verdict.SensitiveMatches, ", ")
	}
	var pre strings.Builder
	if verdict.Malicious {
		pre.WriteString("- LOCAL POLICY: Domain is on the known malicious list.\n")
	}
	if len(verdict.SensitiveMatches) > 0 {
		fmt.Fprintf(&pre, "- SENSITIVE DATA: Identified %s\n", sensitive)
	}
	preBlock := ""
	if pre.Len() > 0 {
		preBlock = "\nPRE-DETECTION METADATA:\n" + pre.String()
	}

	return fmt.Sprintf(`NETWORK REQUEST DETAILS:
- URL: %s
- Method: %s
- User: %s
- Department: %s (Risk Level: %s)
- Payload Size: %.1f KB
- Payload Content: %q
- User Agent: %s
- Source IP: %s
- Pre-detected Sensitive Data: %s
%s
Analyze this request and provide a risk assessment.`,
		logEntry.RequestURL, logEntry.Method, logEntry.UserID,
		logEntry.Department, policy.DepartmentWeight(logEntry.Department),
		logEntry.PayloadSizeKB, logEntry.PayloadSnippet,
		logEntry.UserAgent, logEntry.SourceIP, sensitive, preBlock)
}

// --- Response parsing ---

// extractJSONObject pulls a JSON object out of a model response, tolerating
// markdown fencing and surrounding prose.
func extractJSONObject(text string) (string, error) {
	s := strings.TrimSpace(text)
	if idx := strings.Index(s, "```json"); idx >= 0 {
		s = s[idx+len("```json"):]
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
	} else if idx := strings.Index(s, "```"); idx >= 0 {
		s = s[idx+3:]
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", fmt.Errorf("no JSON object in response")
	}
	return s[start : end+1], nil
}

func parseAssessment(text string) (Assessment, error) {
	obj, err := extractJSONObject(text)
	if err != nil {
		return Assessment{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	// Score arrives as a float from some models.
	var wire struct {
		Category          string   `json:"risk_category"`
		Score             float64  `json:"risk_score"`
		Reasoning         string   `json:"reasoning"`
		DetectedSensitive []string `json:"detected_sensitive_data"`
		RecommendedAction string   `json:"recommended_action"`
		UserMessage       string   `json:"user_message"`
	}
	if err := json.Unmarshal([]byte(obj), &wire); err != nil {
		return Assessment{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if wire.Category == "" {
		return Assessment{}, fmt.Errorf("%w: missing risk_category", ErrMalformedResponse)
	}

	score := int(wire.Score)
	if score < 0 {
		score = 0
	}
	if score > maxRiskScore {
		score = maxRiskScore
	}
	return Assessment{
		Category:          RiskCategory(strings.ToUpper(strings.TrimSpace(wire.Category))),
		Score:             score,
		Reasoning:         wire.Reasoning,
		DetectedSensitive: wire.DetectedSensitive,
		RecommendedAction: wire.RecommendedAction,
		UserMessage:       wire.UserMessage,
	}, nil
}

func mapReasoningErr(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrReasoningTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrReasoningUnavailable, err)
}

// --- Anthropic ---

type anthropicReasoner struct {
	apiKey string
	model  string
}

func (a *anthropicReasoner) Analyze(ctx context.Context, logEntry RequestLog, policy *Policy, verdict PreScreenVerdict) (Assessment, error) {
	text, err := a.complete(ctx, detectionSystemPrompt(policy), []Turn{
		{Speaker: "user", Text: buildAnalysisContext(logEntry, policy, verdict)},
	})
	if err != nil {
		return Assessment{}, err
	}
	return parseAssessment(text)
}

func (a *anthropicReasoner) Chat(ctx context.Context, system string, turns []Turn) (string, error) {
	return a.complete(ctx, system, turns)
}

func (a *anthropicReasoner) complete(ctx context.Context, system string, turns []Turn) (string, error) {
	client := anthropic.NewClient(option.WithAPIKey(a.apiKey))

	var messages []anthropic.MessageParam
	for _, t := range turns {
		if t.Speaker == "assistant" {
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(t.Text)))
		} else {
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(t.Text)))
		}
	}

	message, err := client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: reasoningMaxTokens,
		System: []anthropic.TextBlockParam{
			{Text: system, CacheControl: anthropic.NewCacheControlEphemeralParam()},
		},
		Messages: messages,
	})
	if err != nil {
		log.Printf("llm anthropic error: %v", err)
		return "", mapReasoningErr(ctx, err)
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			log.Printf("llm anthropic response size=%d tokens_in=%d tokens_out=%d", len(block.Text), message.Usage.InputTokens, message.Usage.OutputTokens)
			return block.Text, nil
		}
	}
	return "", fmt.Errorf("%w: no text content in Anthropic response", ErrMalformedResponse)
}

// --- OpenAI ---

type openAIReasoner struct {
	client *openai.Client
	model  string
}

func (o *openAIReasoner) Analyze(ctx context.Context, logEntry RequestLog, policy *Policy, verdict PreScreenVerdict) (Assessment, error) {
	req := openai.ChatCompletionRequest{
		Model: o.model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: detectionSystemPrompt(policy)},
			{Role: openai.ChatMessageRoleUser, Content: buildAnalysisContext(logEntry, policy, verdict)},
		},
		MaxTokens: reasoningMaxTokens,
	}
	text, err := o.send(ctx, req)
	if err != nil {
		return Assessment{}, err
	}
	return parseAssessment(text)
}

func (o *openAIReasoner) Chat(ctx context.Context, system string, turns []Turn) (string, error) {
	messages := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: system},
	}
	for _, t := range turns {
		role := openai.ChatMessageRoleUser
		if t.Speaker == "assistant" {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: t.Text})
	}
	return o.send(ctx, openai.ChatCompletionRequest{
		Model:     o.model,
		Messages:  messages,
		MaxTokens: reasoningMaxTokens,
	})
}

func (o *openAIReasoner) send(ctx context.Context, req openai.ChatCompletionRequest) (string, error) {
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		log.Printf("llm openai error: %v", err)
		return "", mapReasoningErr(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty OpenAI response", ErrMalformedResponse)
	}
	log.Printf("llm openai response size=%d tokens_in=%d tokens_out=%d", len(resp.Choices[0].Message.Content), resp.Usage.PromptTokens, resp.Usage.CompletionTokens)
	return resp.Choices[0].Message.Content, nil
}
