package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/slack-go/slack"
)

// ActionPlan is the static mapping from a risk category to mitigation steps.
type ActionPlan struct {
	Monitor  bool
	WarnUser bool
	Block    bool
	Alert    bool
	Incident bool
}

var actionTable = map[RiskCategory]ActionPlan{
	CategoryApproved: {},
	CategoryLow:      {Monitor: true},
	CategoryMedium:   {Monitor: true, WarnUser: true},
	CategoryHigh:     {Block: true, Alert: true},
	CategoryCritical: {Block: true, Alert: true, Incident: true},
}

// PlanFor returns the mitigation plan for a category. Unknown categories get
// the CRITICAL plan; mitigation fails closed.
func PlanFor(category RiskCategory) ActionPlan {
	if plan, ok := actionTable[category]; ok {
		return plan
	}
	return actionTable[CategoryCritical]
}

// Action records what the router did for one result. It never feeds back
// into the finalized AnalysisResult.
type Action struct {
	Category   RiskCategory
	Steps      []string
	IncidentID string
	Unresolved bool
}

// ActionSink delivers mitigation side effects to external systems.
type ActionSink interface {
	TriggerBlock(ctx context.Context, ip string) error
	BroadcastAlert(ctx context.Context, channel, message string) error
}

// MitigationRouter maps finalized results to dispatched actions. Dispatches
// are retried once; a second failure marks the action unresolved instead of
// being dropped.
type MitigationRouter struct {
	Sink         ActionSink
	AlertChannel string
	DB           *sql.DB // incident records; nil disables persistence
}

func NewMitigationRouter(sink ActionSink, alertChannel string, db *sql.DB) *MitigationRouter {
	return &MitigationRouter{Sink: sink, AlertChannel: alertChannel, DB: db}
}

func (r *MitigationRouter) Route(ctx context.Context, result AnalysisResult) Action {
	plan := PlanFor(result.Category)
	action := Action{Category: result.Category}

	if plan.Monitor {
		action.Steps = append(action.Steps, "monitor")
	}

	if plan.WarnUser {
		msg := result.UserMessage
		if msg == "" {
			msg = fmt.Sprintf("Your request to %s was flagged %s (%s). Please use an approved AI platform for sensitive work.", hostOf(result.Log.RequestURL), result.Category, result.Reasoning)
		}
		if err := dispatchWithRetry(func() error {
			return r.Sink.BroadcastAlert(ctx, result.Log.UserID, msg)
		}); err != nil {
			log.Printf("mitigation warn-user failed user=%s err=%v", result.Log.UserID, err)
			action.Unresolved = true
		} else {
			action.Steps = append(action.Steps, "warn-user")
		}
	}

	if plan.Block {
		if err := dispatchWithRetry(func() error {
			return r.Sink.TriggerBlock(ctx, result.Log.SourceIP)
		}); err != nil {
			log.Printf("mitigation block failed ip=%s err=%v", result.Log.SourceIP, err)
			action.Unresolved = true
		} else {
			action.Steps = append(action.Steps, fmt.Sprintf("block ip=%s", result.Log.SourceIP))
		}
	}

	if plan.Alert {
		if err := dispatchWithRetry(func() error {
			return r.Sink.BroadcastAlert(ctx, r.AlertChannel, formatAlert(result))
		}); err != nil {
			log.Printf("mitigation alert failed channel=%s err=%v", r.AlertChannel, err)
			action.Unresolved = true
		} else {
			action.Steps = append(action.Steps, "alert")
		}
	}

	if plan.Incident {
		id, err := r.openIncident(result, action.Unresolved)
		if err != nil {
			log.Printf("mitigation incident record failed user=%s err=%v", result.Log.UserID, err)
			action.Unresolved = true
		} else {
			action.IncidentID = id
			action.Steps = append(action.Steps, fmt.Sprintf("incident id=%s", id))
		}
	}

	if action.Unresolved {
		log.Printf("mitigation unresolved user=%s category=%s steps=%d", result.Log.UserID, result.Category, len(action.Steps))
	}
	return action
}

// dispatchWithRetry retries a transient failure exactly once.
func dispatchWithRetry(fn func() error) error {
	if err := fn(); err != nil {
		return fn()
	}
	return nil
}

func (r *MitigationRouter) openIncident(result AnalysisResult, unresolved bool) (string, error) {
	id := uuid.New().String()
	if r.DB == nil {
		log.Printf("incident (not persisted) id=%s user=%s category=%s", id, result.Log.UserID, result.Category)
		return id, nil
	}
	return id, InsertIncident(r.DB, Incident{
		ID:         id,
		UserID:     result.Log.UserID,
		Department: result.Log.Department,
		RequestURL: result.Log.RequestURL,
		SourceIP:   result.Log.SourceIP,
		Category:   string(result.Category),
		Score:      result.Score,
		Reasoning:  result.Reasoning,
		Unresolved: unresolved,
		OpenedAt:   time.Now(),
	})
}

func formatAlert(result AnalysisResult) string {
	emoji := ":large_orange_circle:"
	if result.Category == CategoryCritical {
		emoji = ":red_circle:"
	}
	return fmt.Sprintf("%s *AI SECURITY ALERT*\n*User:* %s\n*Department:* %s\n*URL:* %s\n*Risk:* %s (score %d)\n*Reasoning:* %s",
		emoji, result.Log.UserID, result.Log.Department, result.Log.RequestURL, result.Category, result.Score, result.Reasoning)
}

// --- Sinks ---

// SlackWebhookSink is the production sink: alerts go to Slack, block requests
// go to the firewall webhook.
type SlackWebhookSink struct {
	API        *slack.Client
	WebhookURL string
}

func (s *SlackWebhookSink) BroadcastAlert(ctx context.Context, channel, message string) error {
	if s.API == nil || channel == "" {
		log.Printf("alert (slack not configured) channel=%s: %s", channel, message)
		return nil
	}
	_, _, err := s.API.PostMessageContext(ctx, channel, slack.MsgOptionText(message, false))
	return err
}

func (s *SlackWebhookSink) TriggerBlock(ctx context.Context, ip string) error {
	if s.WebhookURL == "" {
		log.Printf("block (webhook not configured) ip=%s", ip)
		return nil
	}
	payload, err := json.Marshal(map[string]string{
		"event_type": "MITIGATION_TRIGGERED",
		"action":     "BLOCK_IP",
		"target":     ip,
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := externalHTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("block webhook returned %s", resp.Status)
	}
	return nil
}

// LogSink is the no-op sink used in tests and dry runs.
type LogSink struct{}

func (LogSink) TriggerBlock(ctx context.Context, ip string) error {
	log.Printf("dry-run block ip=%s", ip)
	return nil
}

func (LogSink) BroadcastAlert(ctx context.Context, channel, message string) error {
	log.Printf("dry-run alert channel=%s message=%q", channel, message)
	return nil
}
