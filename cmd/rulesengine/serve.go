package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/noexlabs/rulesengine/internal/audit"
	"github.com/noexlabs/rulesengine/internal/config"
	"github.com/noexlabs/rulesengine/internal/dsl"
	"github.com/noexlabs/rulesengine/internal/services"
	"github.com/noexlabs/rulesengine/internal/transport/sse"
	"github.com/noexlabs/rulesengine/internal/transport/webhook"
	"github.com/noexlabs/rulesengine/internal/transport/ws"
	"github.com/noexlabs/rulesengine/internal/versionstore"
	"github.com/noexlabs/rulesengine/pkg/bus"
	"github.com/noexlabs/rulesengine/pkg/engine"
)

func newServeCommand(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Load the configured rules and serve SSE/webhook/websocket transports",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(flags)
		},
	}
}

func runServe(flags *rootFlags) error {
	logger := setupLogger(flags.LogFormat, flags.Verbose)
	slog.SetDefault(logger)

	cfg, errs := config.Load(flags.ConfigPath)
	if cfg == nil {
		return fmt.Errorf("loading config: %v", errs)
	}
	for _, e := range errs {
		logger.Warn("config validation issue", "error", e)
	}

	storageAdapter, err := buildStorage(cfg, logger)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer storageAdapter.Close()

	persisted, err := loadPersistedRules(storageAdapter)
	if err != nil {
		return fmt.Errorf("loading persisted rules: %w", err)
	}

	specsByID := make(map[string]dsl.RuleSpec, len(cfg.Rules)+len(persisted))
	for _, r := range cfg.Rules {
		specsByID[r.ID] = r
	}
	for id, spec := range persisted {
		specsByID[id] = spec
	}
	cfg.Rules = cfg.Rules[:0]
	for _, spec := range specsByID {
		cfg.Rules = append(cfg.Rules, spec)
	}

	registry := buildServices(cfg)
	metricsReg := prometheus.NewRegistry()
	eng, err := buildEngine(cfg, registry, metricsReg)
	if err != nil {
		return fmt.Errorf("constructing engine: %w", err)
	}

	regErrs := config.RegisterAll(eng, cfg, time.Now())
	for _, e := range regErrs {
		logger.Warn("rule registration issue", "error", e)
	}

	auditLog := audit.NewLog(storageAdapter)
	unsubAudit := audit.Subscribe(eng.Bus(), auditLog, func(evt bus.Event, err error) {
		logger.Warn("audit append failed", "topic", evt.Topic, "error", err)
	})
	defer unsubAudit()

	verStore := versionstore.NewStore(storageAdapter)
	unsubVersions := versionstore.Subscribe(eng.Bus(), verStore, func(id string) (dsl.RuleSpec, bool) {
		spec, ok := specsByID[id]
		return spec, ok
	})
	defer unsubVersions()

	eng.EnableTracing()

	broker := sse.NewBroker(eng.Bus(), "*")
	broker.Start()
	defer broker.Stop()

	wsServer := ws.NewServer(eng.GetTraceCollector())

	whManager, err := buildWebhookManager(cfg, logger)
	if err != nil {
		return fmt.Errorf("configuring webhooks: %w", err)
	}
	if whManager != nil {
		whManager.Subscribe(eng.Bus())
		defer whManager.Stop()
	}

	mux := http.NewServeMux()
	mux.Handle("/events", broker)
	mux.Handle("/ws/trace", wsServer)

	httpServer := &http.Server{
		Addr:    cfg.Server.ListenAddr,
		Handler: mux,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("listening", "addr", cfg.Server.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server exited", "error", err)
		}
	}()

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown error", "error", err)
	}
	if err := eng.Stop(shutdownCtx); err != nil {
		logger.Warn("engine shutdown error", "error", err)
	}
	return nil
}

// buildServices registers every configured external service as an
// HTTPService, falling back to the engine's lookupTimeout knob as the
// per-call default when a service declares none of its own.
func buildServices(cfg *config.Config) *services.Registry {
	registry := services.NewRegistry()

	defaultTimeout := 10 * time.Second
	if cfg.Engine.LookupTimeout != "" {
		if d, err := time.ParseDuration(cfg.Engine.LookupTimeout); err == nil {
			defaultTimeout = d
		}
	}

	for _, svc := range cfg.Services {
		timeout := defaultTimeout
		if svc.Timeout != "" {
			if d, err := time.ParseDuration(svc.Timeout); err == nil {
				timeout = d
			}
		}
		registry.Register(svc.Name, services.NewHTTPService(svc.URL, services.WithTimeout(timeout)))
	}
	return registry
}

func buildEngine(cfg *config.Config, registry *services.Registry, metricsReg prometheus.Registerer) (*engine.Engine, error) {
	opts := []engine.Option{engine.WithServices(registry)}
	if metricsReg != nil {
		opts = append(opts, engine.WithMetricsRegisterer(metricsReg))
	}
	if cfg.Engine.TraceBuffer > 0 {
		opts = append(opts, engine.WithTraceCapacity(cfg.Engine.TraceBuffer))
	}
	if cfg.Engine.CacheSize > 0 {
		opts = append(opts, engine.WithCacheSize(cfg.Engine.CacheSize))
	}
	if cfg.Engine.MaxCausationDepth > 0 {
		opts = append(opts, engine.WithMaxCausationDepth(cfg.Engine.MaxCausationDepth))
	}
	durationOpts := []struct {
		field string
		raw   string
		apply func(time.Duration) engine.Option
	}{
		{"engine.stopGrace", cfg.Engine.StopGrace, engine.WithStopGrace},
		{"engine.sweepInterval", cfg.Engine.SweepInterval, engine.WithSweepInterval},
		{"engine.defaultTTL", cfg.Engine.DefaultTTL, engine.WithDefaultTTL},
	}
	for _, do := range durationOpts {
		if do.raw == "" {
			continue
		}
		d, err := time.ParseDuration(do.raw)
		if err != nil {
			return nil, fmt.Errorf("parsing %s %q: %w", do.field, do.raw, err)
		}
		opts = append(opts, do.apply(d))
	}
	return engine.New(opts...), nil
}

// buildWebhookManager converts the configured destinations into a
// webhook.Manager. It returns a nil Manager, not an error, when no
// destinations are configured.
func buildWebhookManager(cfg *config.Config, logger *slog.Logger) (*webhook.Manager, error) {
	if len(cfg.Webhooks) == 0 {
		return nil, nil
	}

	destinations := make([]webhook.Destination, 0, len(cfg.Webhooks))
	adapters := make(map[string]webhook.Adapter, len(cfg.Webhooks))
	for _, d := range cfg.Webhooks {
		dest := webhook.Destination{
			Name:          d.Name,
			URL:           d.URL,
			Topics:        d.Topics,
			EscalationURL: d.EscalationURL,
		}
		if d.SuppressionInterval != "" {
			interval, err := time.ParseDuration(d.SuppressionInterval)
			if err != nil {
				return nil, fmt.Errorf("webhook %q: suppressionInterval: %w", d.Name, err)
			}
			dest.SuppressionInterval = interval
		}
		if d.EscalateAfter != "" {
			after, err := time.ParseDuration(d.EscalateAfter)
			if err != nil {
				return nil, fmt.Errorf("webhook %q: escalateAfter: %w", d.Name, err)
			}
			dest.EscalateAfter = after
		}
		destinations = append(destinations, dest)
		adapters[d.Name] = webhook.NewHTTPAdapter(d.Name, d.URL)
		if d.EscalationURL != "" {
			adapters[d.Name+":escalation"] = webhook.NewHTTPAdapter(d.Name+":escalation", d.EscalationURL)
		}
	}

	matcher := webhook.NewMatcher(destinations)
	return webhook.NewManager(adapters, matcher, webhook.WithManagerLogger(logger)), nil
}
