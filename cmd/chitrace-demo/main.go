// Command chitrace-demo runs a small instrumented chi server, useful
// for pointing at a local collector (e.g. Jaeger via OTLP on :4317)
// and watching spans arrive.
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

	"github.com/go-chi/chi/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jimmitjoo/chitrace"
)

var requestsServed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "chitrace_demo_requests_total",
	Help: "Requests served by the demo, by route.",
}, []string{"route"})

func main() {
	var (
		addr        string
		serviceName string
		endpoint    string
		insecure    bool
	)

	root := &cobra.Command{
		Use:   "chitrace-demo",
		Short: "Run an instrumented demo HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), addr, serviceName, endpoint, insecure)
		},
	}

	root.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	root.Flags().StringVar(&serviceName, "service", "chitrace-demo", "service name reported on spans")
	root.Flags().StringVar(&endpoint, "endpoint", "localhost:4317", "OTLP collector endpoint")
	root.Flags().BoolVar(&insecure, "insecure", true, "disable TLS for the exporter connection")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, addr, serviceName, endpoint string, insecure bool) error {
	// Local overrides via .env, same convention the frameworks in this
	// shop use. Missing file is fine.
	_ = godotenv.Load()

	logger := slog.New(chitrace.NewLogHandler(slog.NewJSONHandler(os.Stdout, nil)))

	cfg := chitrace.ProviderConfig{
		ServiceName: serviceName,
		Endpoint:    endpoint,
		Insecure:    insecure,
	}
	if envCfg, err := chitrace.ProviderConfigFromEnv(); err == nil && envCfg.ServiceName != "" {
		cfg = envCfg
	}

	provider, err := chitrace.NewProvider(cfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.Error("provider shutdown", "error", err)
		}
	}()

	inst, err := chitrace.NewInstrumentor(
		chitrace.WithServerName(serviceName),
		chitrace.WithExcludedURLs(`^/healthz$`, `^/metrics$`),
	)
	if err != nil {
		return err
	}
	if err := inst.Activate(); err != nil {
		return err
	}
	defer inst.Deactivate()

	r := chi.NewRouter()
	uninstall, err := inst.Instrument(r)
	if err != nil {
		return err
	}
	defer uninstall()

	r.Get("/items/{id}", func(w http.ResponseWriter, req *http.Request) {
		requestsServed.WithLabelValues("/items/{id}").Inc()
		id := chi.URLParam(req, "id")
		logger.InfoContext(req.Context(), "serving item", "id", id)
		fmt.Fprintf(w, "item %s\n", id)
	})
	r.Get("/boom", func(w http.ResponseWriter, req *http.Request) {
		requestsServed.WithLabelValues("/boom").Inc()
		http.Error(w, "kaboom", http.StatusInternalServerError)
	})
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: r}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", "addr", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
