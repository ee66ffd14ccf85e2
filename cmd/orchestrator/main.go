package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/GoCodeAlone/orchestrator"
	"github.com/GoCodeAlone/orchestrator/api"
	"github.com/GoCodeAlone/orchestrator/config"
	"github.com/GoCodeAlone/orchestrator/module"
	"github.com/GoCodeAlone/orchestrator/observability/tracing"
)

var (
	configFile = flag.String("config", "", "Path to orchestrator configuration YAML file")
	addr       = flag.String("addr", ":8080", "Admin HTTP listen address")
	watch      = flag.Bool("watch", false, "Reload workflow definitions when the config file changes")
	demo       = flag.Bool("demo", false, "Register the built-in order-processing demo services")
)

func main() {
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))

	var cfg *config.Config
	if *configFile != "" {
		var err error
		cfg, err = config.LoadFromFile(*configFile)
		if err != nil {
			log.Fatalf("Failed to load configuration: %v", err)
		}
	} else {
		cfg = &config.Config{}
		logger.Info("No config file specified, starting with empty configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Trace export is optional; without it spans go to the no-op global
	// provider.
	var provider *tracing.Provider
	if cfg.Tracing.Enabled {
		pcfg := tracing.DefaultProviderConfig()
		if cfg.Tracing.Endpoint != "" {
			pcfg.Endpoint = cfg.Tracing.Endpoint
		}
		if cfg.Tracing.SampleRate > 0 {
			pcfg.SampleRate = cfg.Tracing.SampleRate
		}

		var err error
		provider, err = tracing.NewProvider(ctx, pcfg, logger)
		if err != nil {
			log.Fatalf("Failed to initialize tracing: %v", err)
		}
	}

	opts := orchestrator.OptionsFromConfig(cfg, logger, nil)
	if provider != nil {
		opts.Tracer = provider.Tracer()
	}
	engine := orchestrator.NewEngine(opts)

	if *demo {
		if err := registerDemoServices(engine); err != nil {
			log.Fatalf("Failed to register demo services: %v", err)
		}
	}

	if err := engine.BuildFromConfig(cfg); err != nil {
		log.Fatalf("Failed to build engine: %v", err)
	}

	if err := engine.Start(ctx); err != nil {
		log.Fatalf("Failed to start engine: %v", err)
	}

	// Hot reload re-registers changed workflow definitions in place.
	var watcher *config.Watcher
	if *watch && *configFile != "" {
		reloader, err := config.NewReloader(cfg, engine, logger)
		if err != nil {
			log.Fatalf("Failed to create config reloader: %v", err)
		}
		watcher = config.NewWatcher(config.NewFileSource(*configFile), func(evt config.ChangeEvent) {
			if err := reloader.HandleChange(evt); err != nil {
				logger.Error("Config reload failed", "error", err)
			}
		}, config.WithWatchLogger(logger))
		if err := watcher.Start(); err != nil {
			log.Fatalf("Failed to watch config: %v", err)
		}
	}

	server := &http.Server{
		Addr:              *addr,
		Handler:           api.NewRouter(engine, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Admin server listening", "addr", *addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Admin server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("Shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if watcher != nil {
		_ = watcher.Stop()
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Admin server shutdown error: %v", err)
	}
	if err := engine.Shutdown(shutdownCtx); err != nil {
		log.Printf("Engine shutdown error: %v", err)
	}
	if provider != nil {
		if err := provider.Shutdown(shutdownCtx); err != nil {
			log.Printf("Tracing shutdown error: %v", err)
		}
	}
}

// registerDemoServices installs a small order-processing domain so the
// binary can run the bundled example workflows end to end. Handlers
// simulate latency and return business results.
func registerDemoServices(engine *orchestrator.Engine) error {
	services := []module.ServiceDescriptor{
		{
			Name:         "inventory",
			Capabilities: []string{"reserve", "release"},
			Instance: module.ActionMap{
				"reserve": simulate(func(params map[string]any) map[string]any {
					return map[string]any{
						"reservationId": fmt.Sprintf("rsv-%04d", rand.Intn(10000)),
						"sku":           params["sku"],
						"reservedUntil": time.Now().Add(15 * time.Minute).Format(time.RFC3339),
					}
				}),
				"release": simulate(func(params map[string]any) map[string]any {
					return map[string]any{"released": true, "reservation": params}
				}),
			},
		},
		{
			Name:         "payment",
			Capabilities: []string{"charge", "refund"},
			Dependencies: []string{"inventory"},
			Instance: module.ActionMap{
				"charge": simulate(func(params map[string]any) map[string]any {
					return map[string]any{
						"transactionId": fmt.Sprintf("txn-%04d", rand.Intn(10000)),
						"amount":        params["amount"],
						"status":        "captured",
					}
				}),
				"refund": simulate(func(params map[string]any) map[string]any {
					return map[string]any{"refunded": true, "original": params}
				}),
			},
		},
		{
			Name:         "shipping",
			Capabilities: []string{"schedule", "cancel"},
			Instance: module.ActionMap{
				"schedule": simulate(func(params map[string]any) map[string]any {
					return map[string]any{
						"shipmentId": fmt.Sprintf("shp-%04d", rand.Intn(10000)),
						"eta":        time.Now().Add(48 * time.Hour).Format(time.RFC3339),
					}
				}),
				"cancel": simulate(func(params map[string]any) map[string]any {
					return map[string]any{"cancelled": true, "shipment": params}
				}),
			},
		},
		{
			Name:         "notification",
			Capabilities: []string{"send"},
			Instance: module.ActionMap{
				"send": simulate(func(params map[string]any) map[string]any {
					return map[string]any{"delivered": true, "message": params["message"]}
				}),
			},
		},
	}

	for _, desc := range services {
		if err := engine.RegisterService(desc); err != nil {
			return err
		}
	}
	return nil
}

// simulate wraps a result builder with a short random delay and context
// cancellation.
func simulate(build func(params map[string]any) map[string]any) module.ActionHandler {
	return func(ctx context.Context, params any) (any, error) {
		delay := time.Duration(20+rand.Intn(80)) * time.Millisecond
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}

		m, _ := params.(map[string]any)
		if m == nil {
			m = map[string]any{}
		}
		return build(m), nil
	}
}
