package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/slack-go/slack"
)

func main() {
	logsPath := flag.String("logs", "", "analyze a JSON file of request logs and exit")
	ask := flag.String("ask", "", "ask the security advisor a question and exit")
	session := flag.String("session", "", "advisor session id (defaults to a fresh one)")
	watch := flag.Bool("watch", false, "run resident and scan the drop directory on a schedule")
	flag.Parse()

	cfg, err := LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	policy, err := LoadPolicy(cfg.PolicyPath)
	if err != nil {
		log.Fatalf("Failed to load policy: %v", err)
	}

	db, err := InitDB(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to init database: %v", err)
	}
	defer db.Close()

	embedder := NewEmbedder(cfg)
	index, err := LoadIndex(db, embedder.Dim())
	if err != nil {
		if errors.Is(err, ErrIndexCorrupt) {
			log.Printf("WARNING: %v. Starting with an empty index, prior memory lost", err)
		} else {
			log.Fatalf("Failed to load vector index: %v", err)
		}
	}

	reasoner := NewReasoningClient(cfg)
	pipeline := NewPipeline(policy, reasoner, cfg)

	var sink ActionSink = LogSink{}
	if cfg.SlackBotToken != "" || cfg.BlockWebhookURL != "" {
		var api *slack.Client
		if cfg.SlackBotToken != "" {
			api = slack.New(cfg.SlackBotToken)
		}
		sink = &SlackWebhookSink{API: api, WebhookURL: cfg.BlockWebhookURL}
	}
	router := NewMitigationRouter(sink, cfg.SecurityChannelID, db)

	advisor := NewAdvisor(reasoner, embedder, index, policy, cfg)

	analyzer := &Analyzer{
		Cfg:      cfg,
		DB:       db,
		Pipeline: pipeline,
		Router:   router,
		Embedder: embedder,
		Index:    index,
		Advisor:  advisor,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch {
	case *logsPath != "":
		metrics, err := analyzer.AnalyzeFile(ctx, *logsPath)
		if err != nil {
			log.Fatalf("Batch analysis failed: %v", err)
		}
		analyzer.Drain()
		fmt.Println(formatMetricsSummary(metrics))

	case *ask != "":
		id := *session
		if id == "" {
			id = uuid.New().String()
		}
		answer := advisor.Query(ctx, id, *ask)
		fmt.Println(answer)

	case *watch:
		log.Println("Starting Shadow AI Sentinel...")
		StartScanScheduler(ctx, analyzer)
		<-ctx.Done()
		analyzer.Drain()
		log.Println("Shutting down")

	default:
		flag.Usage()
		os.Exit(2)
	}
}
