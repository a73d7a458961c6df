package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sigforge/api"
	"sigforge/catalog"
	"sigforge/compiler"
	"sigforge/config"
	"sigforge/metrics"
	"sigforge/service"
	"sigforge/simulate"
	"sigforge/storage"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

// App wires a configured editing session and its supporting services.
type App struct {
	Config *config.Config
	Logger *zap.Logger
	Sugar  *zap.SugaredLogger

	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	Catalog  *catalog.Catalog
	Store    storage.Store
	Compiler *compiler.Compiler
	Engine   *simulate.Engine
	Session  *service.Session
}

// NewApp builds every component from cfg. logger may be nil, in which case
// one is created from the log section.
func NewApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		var err error
		if logger, _, err = InitLogger(cfg.Log.Level, cfg.Log.Format); err != nil {
			return nil, fmt.Errorf("failed to initialize logger: %w", err)
		}
	}
	app := &App{
		Config:   cfg,
		Logger:   logger,
		Sugar:    logger.Sugar(),
		Registry: prometheus.NewRegistry(),
	}
	app.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	app.Metrics = metrics.New(app.Registry)

	cat, err := InitCatalog(cfg.Catalog.Files, app.Sugar)
	if err != nil {
		return nil, err
	}
	app.Catalog = cat

	store, err := InitSIDStore(ctx, cfg.Storage, app.Sugar)
	if err != nil {
		return nil, err
	}
	app.Store = store

	if err := app.initCompiler(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}

	engineOpts := []simulate.Option{simulate.WithLogger(app.Sugar), simulate.WithMetrics(app.Metrics)}
	if cfg.SampleData != "" {
		engineOpts = append(engineOpts, simulate.WithDataSource(simulate.FileSource{Path: cfg.SampleData}))
	}
	app.Engine = simulate.New(cfg.Simulation, app.Compiler, engineOpts...)

	app.Session = service.NewSession(cat, app.Compiler, app.Engine,
		service.WithLogger(app.Sugar),
		service.WithMetrics(app.Metrics),
		service.WithRules(cfg.Validation),
	)

	app.Sugar.Infow("sigforge initialized",
		"components", cat.Len(),
		"storage", backendName(cfg.Storage.Backend),
		"cache_size", cfg.Compiler.CacheSize,
		"sample_data", cfg.SampleData)
	return app, nil
}

func (a *App) initCompiler(ctx context.Context) error {
	cc := a.Config.Compiler
	sidOpts := []compiler.SIDOption{
		compiler.WithSIDLogger(a.Sugar),
		compiler.WithSIDMetrics(a.Metrics),
	}
	if len(cc.SIDRanges) > 0 {
		sidOpts = append(sidOpts, compiler.WithSIDRanges(cc.SIDRangesByCategory()))
	}
	if cc.FallbackStart > 0 {
		sidOpts = append(sidOpts, compiler.WithFallbackStart(cc.FallbackStart))
	}
	alloc, err := compiler.NewSIDAllocator(ctx, a.Store, sidOpts...)
	if err != nil {
		return fmt.Errorf("failed to initialize SID allocator: %w", err)
	}

	opts := []compiler.Option{
		compiler.WithLogger(a.Sugar),
		compiler.WithMetrics(a.Metrics),
		compiler.WithSIDAllocator(alloc),
	}
	if cc.CacheSize > 0 {
		opts = append(opts, compiler.WithCacheSize(cc.CacheSize))
	}
	if cc.TimeBucket > 0 {
		opts = append(opts, compiler.WithTimeBucket(cc.TimeBucket))
	}
	c, err := compiler.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to initialize compiler: %w", err)
	}
	a.Compiler = c
	return nil
}

// InitCatalog returns the built-in catalog extended by files, in order.
func InitCatalog(files []string, sugar *zap.SugaredLogger) (*catalog.Catalog, error) {
	cat := catalog.Builtin()
	for _, f := range files {
		n, err := cat.LoadFile(f)
		if err != nil {
			return nil, fmt.Errorf("failed to load catalog %s: %w", f, err)
		}
		sugar.Infow("Catalog file loaded", "file", f, "components", n)
	}
	return cat, nil
}

// CompileDefaults are the compile options configured for the process.
func (a *App) CompileDefaults() compiler.Options {
	return compiler.Options{
		Action:   a.Config.Compiler.Action,
		Lookback: a.Config.Compiler.Lookback,
	}
}

// NewAPI builds the HTTP API over the session.
func (a *App) NewAPI() *api.API {
	return api.New(a.Session, a.Config.API, a.Registry, a.Sugar)
}

// Serve runs the API until ctx is cancelled or the server fails, then
// shuts it down gracefully.
func (a *App) Serve(ctx context.Context) error {
	server := a.NewAPI()
	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		_ = server.Stop(context.Background())
		if err != nil {
			return fmt.Errorf("API server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.Sugar.Info("Shutting down API server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Stop(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("API shutdown: %w", err)
	}
	return <-errCh
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// Close releases the session and the SID store and flushes logs.
func (a *App) Close() {
	if a.Session != nil {
		a.Session.Close()
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Sugar.Warnw("Failed to close SID store", "error", err)
		}
	}
	_ = a.Logger.Sync()
}
