package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/drillsergeant/coach/internal/api"
	"github.com/drillsergeant/coach/internal/channel/whatsapp"
	"github.com/drillsergeant/coach/internal/identity"
	"github.com/drillsergeant/coach/internal/middleware"
	"github.com/drillsergeant/coach/internal/session"
	"github.com/drillsergeant/coach/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP, WebSocket and WhatsApp server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			setupLogging(false, cfg)
			if addr == "" {
				addr = ":" + cfg.Port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			return serve(ctx, a, addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default \":$PORT\")")
	return cmd
}

func serve(ctx context.Context, a *app, addr string) error {
	cfg := a.cfg
	slog.Info("Starting server", "addr", addr, "dev", cfg.IsDevelopment())

	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	handler := api.NewHandler(a.coach, a.habits, a.sessions, cfg)
	healthHandler := api.NewHealthHandler(a.habits, a.sessions)

	origins := middleware.Origins(cfg.FrontendURL)
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(origins))

	healthHandler.RegisterHealth(r)
	r.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(cfg.IsDevelopment()))
		handler.RegisterRoutes(r)
	})

	var channel *whatsapp.Channel
	if cfg.WhatsApp.Enabled() {
		channel = whatsapp.New(a.coach, whatsapp.NewTwilioClient(cfg.WhatsApp), whatsapp.Options{
			Workers:       cfg.WhatsApp.Workers,
			MaxImageBytes: cfg.Proof.MaxImageBytes,
		})
		channel.RegisterRoutes(r)
		slog.Info("WhatsApp channel enabled", "from", cfg.WhatsApp.FromNumber)
	} else {
		slog.Info("WhatsApp channel disabled (TWILIO_ACCOUNT_SID or TWILIO_AUTH_TOKEN not set)")
	}

	r.Handle("/*", web.Handler())

	// No WriteTimeout: chat sockets and vision calls are long-lived.
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	sweepDone := session.StartSweeper(gctx, a.sessions, cfg.Session.SweepInterval, nil)
	g.Go(func() error {
		<-sweepDone
		return nil
	})

	if channel != nil {
		g.Go(func() error { return channel.Run(gctx) })
	}

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("Server stopped successfully")
	return nil
}
