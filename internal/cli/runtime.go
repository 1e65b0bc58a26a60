package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/randalmurphal/ruleflow/pkg/ruleflow/config"
	"github.com/randalmurphal/ruleflow/pkg/ruleflow/observability"
	"github.com/randalmurphal/ruleflow/pkg/ruleflow/store"
)

// runtime is the ambient stack a command runs with.
type runtime struct {
	settings *config.Settings
	logger   *slog.Logger
	metrics  observability.MetricsRecorder
	spans    observability.SpanManager
	shutdown func(context.Context) error
}

func newRuntime(opts *RootOptions, errOut io.Writer) (*runtime, error) {
	settings, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "load settings", err)
	}

	level := settings.SlogLevel()
	if opts.Verbose {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(errOut, handlerOpts)
	if settings.Logging.Format == "json" {
		handler = slog.NewJSONHandler(errOut, handlerOpts)
	}

	rt := &runtime{
		settings: settings,
		logger:   slog.New(handler),
		metrics:  observability.NoopMetrics{},
		spans:    observability.NoopSpanManager{},
		shutdown: func(context.Context) error { return nil },
	}

	switch settings.Metrics.Backend {
	case "otel":
		rt.metrics = observability.NewMetricsRecorder()
	case "prometheus":
		rt.metrics = observability.NewPrometheusRecorder(prometheus.NewRegistry())
	}

	if settings.Tracing {
		shutdown, err := observability.InitStdoutTracer(errOut)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "init tracing", err)
		}
		rt.spans = observability.NewSpanManager()
		rt.shutdown = shutdown
	}
	return rt, nil
}

// openCatalog opens the SQLite catalog at path, or an in-memory one.
func openCatalog(path string) (store.Catalog, error) {
	if path == "" {
		return store.NewMemoryStore(), nil
	}
	s, err := store.NewSQLiteStore(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog %s: %w", path, err)
	}
	return s, nil
}
