package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tessera-social/app_platform/internal/app/domain/revision"
	platformerrors "github.com/tessera-social/app_platform/internal/errors"
	"github.com/tessera-social/app_platform/internal/platform/manifest"
	"github.com/tessera-social/app_platform/internal/platform/sandbox"
	"github.com/tessera-social/app_platform/internal/platform/script"
	"github.com/tessera-social/app_platform/pkg/logger"
)

// Built is a fully validated, request-ready router for one revision.
type Built struct {
	RevisionID string
	ScriptRef  string
	Manifest   *manifest.AppManifest
	Matcher    *Matcher
	Source     string
	Handlers   []string
	BuiltAt    time.Time
}

type cacheKey struct {
	revisionID string
	scriptRef  string
}

type inflight struct {
	done  chan struct{}
	built *Built
	err   error
}

// Builder turns a revision into a Built router and caches the result
// keyed by (revision id, script ref). Concurrent requests for the same
// key collapse into a single build; a build that completes after a
// reset is returned to its waiters but never installed in the cache.
type Builder struct {
	loader  *script.Loader
	sandbox *sandbox.Sandbox
	inspect script.InspectOptions
	log     *logger.Logger

	mu      sync.Mutex
	gen     uint64
	key     cacheKey
	latest  cacheKey
	cached  *Built
	pending map[cacheKey]*inflight
}

// NewBuilder constructs a router builder.
func NewBuilder(loader *script.Loader, sb *sandbox.Sandbox, inspect script.InspectOptions, log *logger.Logger) *Builder {
	if log == nil {
		log = logger.NewDefault("router")
	}
	return &Builder{
		loader:  loader,
		sandbox: sb,
		inspect: inspect,
		log:     log,
		pending: make(map[cacheKey]*inflight),
	}
}

// Get returns the router for a revision, building it on first use.
func (b *Builder) Get(ctx context.Context, rev revision.Revision) (*Built, error) {
	key := cacheKey{revisionID: rev.ID, scriptRef: rev.ScriptSnapshotRef}

	b.mu.Lock()
	b.latest = key
	if b.cached != nil && b.key == key {
		cached := b.cached
		b.mu.Unlock()
		return cached, nil
	}
	if call, ok := b.pending[key]; ok {
		b.mu.Unlock()
		select {
		case <-call.done:
			return call.built, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	call := &inflight{done: make(chan struct{})}
	b.pending[key] = call
	gen := b.gen
	b.mu.Unlock()

	built, err := b.build(ctx, rev)

	b.mu.Lock()
	delete(b.pending, key)
	call.built, call.err = built, err
	// Install only if no reset intervened and no request for a
	// different revision arrived meanwhile, so a slow stale build can
	// never overwrite the current revision's router.
	if err == nil && b.gen == gen && b.latest == key {
		b.key = key
		b.cached = built
	}
	b.mu.Unlock()
	close(call.done)

	return built, err
}

// Reset discards the cached router. Any build still in flight will be
// handed to its waiters but not cached. Called after apply and
// rollback so the next request rebuilds against the new revision.
func (b *Builder) Reset() {
	b.mu.Lock()
	b.gen++
	b.cached = nil
	b.key = cacheKey{}
	b.mu.Unlock()
}

// build validates the revision's manifest, resolves and inspects its
// script, evaluates the handler registry, and compiles the matcher. A
// failure at any step yields no router: the platform core keeps
// serving, the app simply has no routes.
func (b *Builder) build(ctx context.Context, rev revision.Revision) (*Built, error) {
	m, err := manifest.Normalize(rev.ManifestSnapshot)
	if err != nil {
		return nil, platformerrors.Validation(fmt.Sprintf("revision %s manifest: %v", rev.ID, err))
	}
	if issues := manifest.Validate(m); manifest.HasErrors(issues) {
		return nil, platformerrors.Validation(
			fmt.Sprintf("revision %s manifest invalid: %s", rev.ID, firstError(issues)))
	}

	source, err := b.loader.Resolve(ctx, rev.ScriptSnapshotRef)
	if err != nil {
		return nil, err
	}
	if issues := script.Inspect(source, b.inspect); manifest.HasErrors(issues) {
		return nil, platformerrors.Security(
			fmt.Sprintf("revision %s script rejected: %s", rev.ID, firstError(issues)))
	}

	handlers, err := b.sandbox.Evaluate(ctx, source)
	if err != nil {
		return nil, err
	}
	if issues := manifest.ValidateHandlers(m, handlerNames(handlers)); manifest.HasErrors(issues) {
		return nil, platformerrors.Validation(
			fmt.Sprintf("revision %s handlers unresolved: %s", rev.ID, firstError(issues)))
	}

	matcher, err := NewMatcher(m.Routes)
	if err != nil {
		return nil, platformerrors.Validation(fmt.Sprintf("revision %s routes: %v", rev.ID, err))
	}

	b.log.WithFields(map[string]interface{}{
		"revision_id": rev.ID,
		"routes":      len(m.Routes),
		"handlers":    len(handlers),
	}).Info("built app router")

	return &Built{
		RevisionID: rev.ID,
		ScriptRef:  rev.ScriptSnapshotRef,
		Manifest:   m,
		Matcher:    matcher,
		Source:     source,
		Handlers:   handlers,
		BuiltAt:    time.Now().UTC(),
	}, nil
}

type handlerNames []string

func (h handlerNames) Has(name string) bool {
	for _, n := range h {
		if n == name {
			return true
		}
	}
	return false
}

func firstError(issues []manifest.Issue) string {
	for _, issue := range issues {
		if issue.Severity == manifest.SeverityError {
			return issue.Message
		}
	}
	return "invalid"
}
