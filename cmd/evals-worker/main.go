// Command evals-worker serves the evaluation activity and batch workflow on a
// Temporal task queue, with Prometheus metrics and a health check over HTTP.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.temporal.io/sdk/client"
	temporallog "go.temporal.io/sdk/log"
	sdkworker "go.temporal.io/sdk/worker"
	"golang.org/x/sync/errgroup"

	"github.com/ahrav/go-flowevals/internal/evaluation"
	"github.com/ahrav/go-flowevals/internal/llm"
	"github.com/ahrav/go-flowevals/internal/llm/configuration"
	"github.com/ahrav/go-flowevals/internal/worker"
	"github.com/ahrav/go-flowevals/pkg/evaluators"
	"github.com/ahrav/go-flowevals/pkg/events"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
)

func main() {
	var (
		cfgPath    = flag.String("config", "", "optional YAML pipeline config")
		hostPort   = flag.String("temporal", envOr("TEMPORAL_ADDRESS", client.DefaultHostPort), "Temporal frontend host:port")
		namespace  = flag.String("namespace", envOr("TEMPORAL_NAMESPACE", client.DefaultNamespace), "Temporal namespace")
		taskQueue  = flag.String("task-queue", worker.TaskQueue, "task queue to poll")
		listen     = flag.String("listen", ":9090", "address for /metrics and /healthz")
		deployment = flag.String("deployment", os.Getenv("AZURE_OPENAI_DEPLOYMENT"), "Azure OpenAI deployment for quality evaluators")
		sub        = flag.String("subscription", os.Getenv("AZURE_SUBSCRIPTION_ID"), "Azure subscription id for safety evaluators")
		rg         = flag.String("resource-group", os.Getenv("AZURE_RESOURCE_GROUP"), "resource group of the Azure AI project")
		project    = flag.String("project", os.Getenv("AZURE_AI_PROJECT"), "Azure AI project name")
		collection = flag.String("collection", "flowevals", "trace collection id for persisted spans")
	)
	flag.Parse()

	if err := run(options{
		cfgPath:    *cfgPath,
		hostPort:   *hostPort,
		namespace:  *namespace,
		taskQueue:  *taskQueue,
		listen:     *listen,
		deployment: *deployment,
		scope:      evaluators.ProjectScope{SubscriptionID: *sub, ResourceGroupName: *rg, ProjectName: *project},
		collection: *collection,
	}); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type options struct {
	cfgPath    string
	hostPort   string
	namespace  string
	taskQueue  string
	listen     string
	deployment string
	scope      evaluators.ProjectScope
	collection string
}

func run(opts options) error {
	cfg := configuration.DefaultConfig()
	if opts.cfgPath != "" {
		loaded, err := configuration.LoadFile(opts.cfgPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := cfg.NewLogger().With("service", worker.ServiceName)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Entra ID is needed for safety evaluators, the trace store and a model
	// endpoint configured without an API key.
	var cred azcore.TokenCredential
	provider := cfg.Providers[configuration.ProviderAzureOpenAI]
	model := worker.ModelConnection(provider)
	safetyEnabled := opts.scope.Validate() == nil
	if safetyEnabled || cfg.TraceStore.Enabled() || model.UseEntraID {
		c, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return fmt.Errorf("azure credential: %w", err)
		}
		cred = c
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	pipeline, err := worker.InitializePipeline(ctx, cfg, cred, llm.WithLogger(logger), llm.WithRegisterer(reg))
	if err != nil {
		return err
	}

	traces, err := worker.InitializeTraceWriter(cfg.TraceStore, cred, opts.collection, logger)
	if err != nil {
		return err
	}

	settings := evaluation.Settings{Deployment: opts.deployment, Credential: cred}
	if provider.Endpoint != "" && opts.deployment != "" {
		settings.Model = model
	}
	if safetyEnabled {
		settings.Scope = &opts.scope
	}
	evalOpts := []evaluators.Option{evaluators.WithHandler(pipeline), evaluators.WithLogger(logger)}
	if observe := worker.SpanObserver(traces, ""); observe != nil {
		evalOpts = append(evalOpts, evaluators.WithRunObserver(observe))
	}
	registry, err := evaluation.NewStandardRegistry(settings, evalOpts...)
	if err != nil {
		return fmt.Errorf("build evaluators: %w", err)
	}
	logger.Info("evaluators registered", "evaluators", registry.Names(), "recording_mode", pipeline.RecordingMode())

	tc, err := client.Dial(client.Options{
		HostPort:  opts.hostPort,
		Namespace: opts.namespace,
		Logger:    temporallog.NewStructuredLogger(logger),
	})
	if err != nil {
		return fmt.Errorf("temporal dial %s: %w", opts.hostPort, err)
	}
	defer tc.Close()

	w := sdkworker.New(tc, opts.taskQueue, sdkworker.Options{})
	worker.RegisterAll(w, registry, events.NewLogEventSink(logger))

	srv := &http.Server{
		Addr:              opts.listen,
		Handler:           router(reg, registry, pipeline),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http listening", "addr", opts.listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		if err := w.Start(); err != nil {
			return fmt.Errorf("start worker: %w", err)
		}
		logger.Info("worker started", "task_queue", opts.taskQueue, "namespace", opts.namespace)
		<-gctx.Done()
		w.Stop()
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func router(reg *prometheus.Registry, registry *evaluation.Registry, pipeline *llm.Pipeline) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":         "ok",
			"evaluators":     registry.Names(),
			"recording_mode": string(pipeline.RecordingMode()),
		})
	})
	return r
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
