package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/drillsergeant/coach/internal/config"
	"github.com/drillsergeant/coach/internal/llm"
	"github.com/drillsergeant/coach/internal/matcher"
	"github.com/drillsergeant/coach/internal/orchestrator"
	"github.com/drillsergeant/coach/internal/proof"
	"github.com/drillsergeant/coach/internal/session"
	"github.com/drillsergeant/coach/internal/store"
	"github.com/prometheus/client_golang/prometheus"
)

// app holds the wired components shared by serve and chat.
type app struct {
	cfg      *config.Config
	habits   *store.SQLiteStore
	sessions *session.Store
	coach    *orchestrator.Orchestrator
	registry *prometheus.Registry
}

func openStore(ctx context.Context, cfg *config.Config) (*store.SQLiteStore, error) {
	habits, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	if err := habits.Ping(ctx); err != nil {
		_ = habits.Close()
		return nil, fmt.Errorf("database health check: %w", err)
	}
	slog.Info("Database connected", "path", cfg.DBPath)
	return habits, nil
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if err := cfg.RequireLLM(); err != nil {
		return nil, err
	}

	habits, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	textClient, err := llm.NewGenAIClient(ctx, cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.Timeout)
	if err != nil {
		_ = habits.Close()
		return nil, fmt.Errorf("initialize model client: %w", err)
	}
	visionClient := textClient
	if cfg.LLM.VisionModel != cfg.LLM.Model {
		visionClient, err = llm.NewGenAIClient(ctx, cfg.LLM.APIKey, cfg.LLM.VisionModel, cfg.LLM.Timeout)
		if err != nil {
			_ = habits.Close()
			return nil, fmt.Errorf("initialize vision client: %w", err)
		}
	}

	sessions := session.NewStore(orchestrator.SystemPrompt,
		session.WithTTL(cfg.Session.TTL),
		session.WithMaxHistory(cfg.Session.MaxHistory),
	)

	registry := prometheus.NewRegistry()
	coach, err := orchestrator.New(orchestrator.Deps{
		Sessions: sessions,
		Habits:   habits,
		Router:   orchestrator.NewLLMRouter(textClient),
		Matcher:  matcher.New(textClient),
		Analyzer: proof.NewAnalyzer(visionClient),
		Metrics:  orchestrator.MustNewMetrics(registry),
	},
		orchestrator.WithLocation(cfg.Timezone),
		orchestrator.WithStageTimeout(cfg.LLM.Timeout),
		orchestrator.WithMaxImageBytes(cfg.Proof.MaxImageBytes),
	)
	if err != nil {
		_ = habits.Close()
		return nil, err
	}

	slog.Info("Coach initialized", "model", cfg.LLM.Model, "vision_model", cfg.LLM.VisionModel,
		"timezone", cfg.Timezone.String(), "session_ttl", cfg.Session.TTL)
	return &app{cfg: cfg, habits: habits, sessions: sessions, coach: coach, registry: registry}, nil
}

func (a *app) Close() {
	if err := a.habits.Close(); err != nil {
		slog.Error("Failed to close habit store", "error", err)
	}
}
