// Package app wires the platform services into a runnable application.
package app

import (
	"net/http"

	"github.com/tessera-social/app_platform/internal/app/metrics"
	"github.com/tessera-social/app_platform/internal/app/services/bridge"
	"github.com/tessera-social/app_platform/internal/app/services/lifecycle"
	"github.com/tessera-social/app_platform/internal/app/services/usage"
	"github.com/tessera-social/app_platform/internal/app/storage"
	"github.com/tessera-social/app_platform/internal/app/storage/memory"
	"github.com/tessera-social/app_platform/internal/config"
	"github.com/tessera-social/app_platform/internal/platform/router"
	"github.com/tessera-social/app_platform/internal/platform/sandbox"
	"github.com/tessera-social/app_platform/internal/platform/script"
	"github.com/tessera-social/app_platform/pkg/logger"

	"github.com/tessera-social/app_platform/internal/app/httpapi"
)

// Stores bundles the persistence interfaces the application runs on.
type Stores struct {
	Revisions storage.RevisionStore
	Pointer   storage.PointerStore
	Audit     storage.AuditStore
	Documents storage.DocumentStore
	Blobs     storage.BlobStore
	Usage     storage.UsageStore
}

// MemoryStores returns a fully in-memory store set backed by one
// shared instance.
func MemoryStores() Stores {
	store := memory.New()
	return Stores{
		Revisions: store,
		Pointer:   store,
		Audit:     store,
		Documents: store,
		Blobs:     store,
		Usage:     store,
	}
}

// Options are the application's injectable collaborators. Zero-value
// fields get sensible defaults.
type Options struct {
	Config        *config.Config
	Stores        Stores
	Workspaces    lifecycle.WorkspaceSource
	WorkspaceRoot string
	ScriptStore   script.ObjectFetcher
	CoreServices  bridge.CoreServices
	AIProvider    bridge.AIProvider
	Fetcher       bridge.Fetcher
	Logger        *logger.Logger
}

// Application is the assembled platform.
type Application struct {
	Config    *config.Config
	Log       *logger.Logger
	Metrics   *metrics.Metrics
	Lifecycle *lifecycle.Service
	Usage     *usage.Service
	Bridge    *bridge.Service
	Sandbox   *sandbox.Sandbox
	Builder   *router.Builder
	Handler   http.Handler
}

// New assembles the application from its options.
func New(opts Options) *Application {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	log := opts.Logger
	if log == nil {
		log = logger.New(logger.LoggingConfig{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
			Output: cfg.Logging.Output,
		}).WithField("component", "app_platform")
	}

	stores := opts.Stores
	if stores.Revisions == nil {
		stores = MemoryStores()
	}

	usageSvc := usage.New(stores.Usage, log.WithField("component", "usage"))

	bridgeSvc := bridge.New(
		stores.Documents,
		stores.Blobs,
		usageSvc,
		bridge.NewCoreTable(opts.CoreServices),
		opts.AIProvider,
		opts.Fetcher,
		bridge.Config{
			Development:       cfg.IsDevelopment(),
			OutboundEnabled:   cfg.Apps.OutboundEnabled,
			OutboundPerMinute: cfg.Apps.OutboundPerMinute,
			ExternalNetwork:   cfg.Apps.ExternalNetwork,
		},
		log.WithField("component", "bridge"),
	)

	sb := sandbox.New(bridgeSvc, sandbox.Options{
		Timeout:     cfg.Apps.SandboxTimeout,
		Development: cfg.IsDevelopment(),
	}, log.WithField("component", "sandbox"))

	loader := script.NewLoader(opts.ScriptStore, opts.WorkspaceRoot)
	inspect := script.InspectOptions{
		AllowedImports: cfg.Apps.AllowedImports,
		AllowDangerous: cfg.Apps.AllowDangerous,
		Development:    cfg.IsDevelopment(),
	}

	builder := router.NewBuilder(loader, sb, inspect, log.WithField("component", "router"))

	lifecycleSvc := lifecycle.New(
		stores.Revisions,
		stores.Pointer,
		stores.Audit,
		opts.Workspaces,
		lifecycle.Versions{
			SchemaVersion: cfg.Apps.SupportedSchemaVersion,
			CoreVersion:   cfg.Apps.CoreVersion,
		},
		log.WithField("component", "lifecycle"),
	)

	m := metrics.New()

	handler := httpapi.New(lifecycleSvc, opts.Workspaces, builder, sb, loader, inspect, bridgeSvc, m, cfg, log.WithField("component", "httpapi"))

	return &Application{
		Config:    cfg,
		Log:       log,
		Metrics:   m,
		Lifecycle: lifecycleSvc,
		Usage:     usageSvc,
		Bridge:    bridgeSvc,
		Sandbox:   sb,
		Builder:   builder,
		Handler:   handler.Routes(),
	}
}

// Start launches background workers.
func (a *Application) Start() error {
	return a.Usage.StartPruner()
}

// Stop halts background workers.
func (a *Application) Stop() {
	a.Usage.StopPruner()
}
