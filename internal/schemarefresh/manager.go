// Package schemarefresh keeps one GraphQL schema per workspace and rebuilds
// it when the workspace's object metadata changes.
package schemarefresh

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"crm-graphql/internal/logging"
	"crm-graphql/internal/metadata"
	"crm-graphql/internal/naming"
	"crm-graphql/internal/observability"
	"crm-graphql/internal/resolver"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/handler"
)

// Snapshot is the schema of one workspace at one metadata fingerprint.
type Snapshot struct {
	WorkspaceID string
	Schema      *graphql.Schema
	Handler     http.Handler
	Fingerprint string
	BuiltAt     time.Time

	lastUsed time.Time
}

// Config controls schema building and eviction.
type Config struct {
	Metadata    metadata.Provider
	Runner      resolver.Runner
	Naming      naming.Config
	UserID      resolver.UserIDFunc
	Logger      *logging.Logger
	Metrics     *observability.SchemaRefreshMetrics
	GraphiQL    bool
	IdleTimeout time.Duration
	// WorkspaceFromCtx returns the workspace of an authenticated request.
	WorkspaceFromCtx func(context.Context) (string, bool)
}

// Manager maintains per-workspace schema snapshots.
type Manager struct {
	metadata         metadata.Provider
	runner           resolver.Runner
	namingConfig     naming.Config
	userID           resolver.UserIDFunc
	logger           *logging.Logger
	metrics          *observability.SchemaRefreshMetrics
	graphiQL         bool
	idleTimeout      time.Duration
	workspaceFromCtx func(context.Context) (string, bool)
	now              func() time.Time

	mu        sync.Mutex
	snapshots map[string]*Snapshot
	wg        sync.WaitGroup
}

// NewManager returns a manager with no snapshots; they are built on first use.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Metadata == nil {
		return nil, fmt.Errorf("schema manager requires a metadata provider")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("schema manager requires a query runner")
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNop()
	}
	return &Manager{
		metadata:         cfg.Metadata,
		runner:           cfg.Runner,
		namingConfig:     cfg.Naming,
		userID:           cfg.UserID,
		logger:           cfg.Logger.WithFields(slog.String("component", "schema_refresh")),
		metrics:          cfg.Metrics,
		graphiQL:         cfg.GraphiQL,
		idleTimeout:      cfg.IdleTimeout,
		workspaceFromCtx: cfg.WorkspaceFromCtx,
		now:              time.Now,
		snapshots:        make(map[string]*Snapshot),
	}, nil
}

// ServeHTTP dispatches the request to the schema of the caller's workspace.
func (m *Manager) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if m.workspaceFromCtx == nil {
		http.Error(w, "workspace not resolved", http.StatusUnauthorized)
		return
	}
	workspaceID, ok := m.workspaceFromCtx(r.Context())
	if !ok || workspaceID == "" {
		http.Error(w, "workspace not resolved", http.StatusUnauthorized)
		return
	}
	snapshot, err := m.Snapshot(r.Context(), workspaceID)
	if err != nil {
		logging.FromContext(r.Context()).Error("failed to load workspace schema",
			slog.String("workspace_id", workspaceID),
			slog.String("error", err.Error()),
		)
		http.Error(w, "schema not ready", http.StatusServiceUnavailable)
		return
	}
	snapshot.Handler.ServeHTTP(w, r)
}

// Snapshot returns the schema of workspaceID, rebuilding it when the
// metadata fingerprint moved since the last build.
func (m *Manager) Snapshot(ctx context.Context, workspaceID string) (*Snapshot, error) {
	objects, err := m.metadata.ListObjectMetadata(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load object metadata: %w", err)
	}

	m.mu.Lock()
	current := m.snapshots[workspaceID]
	if current != nil && current.Fingerprint == objects.Fingerprint() {
		current.lastUsed = m.now()
		m.mu.Unlock()
		return current, nil
	}
	m.mu.Unlock()

	trigger := observability.TriggerFirstUse
	if current != nil {
		trigger = observability.TriggerMetadataChange
		m.logger.Info("object metadata changed, rebuilding schema",
			slog.String("workspace_id", workspaceID),
			slog.String("fingerprint", objects.Fingerprint()),
		)
	}

	start := m.now()
	snapshot, err := m.build(objects)
	m.recordRefresh(ctx, m.now().Sub(start), err == nil, trigger)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	// A concurrent build for the same fingerprint may have won; keep one.
	if existing := m.snapshots[workspaceID]; existing != nil && existing.Fingerprint == snapshot.Fingerprint {
		existing.lastUsed = m.now()
		return existing, nil
	}
	m.snapshots[workspaceID] = snapshot
	return snapshot, nil
}

func (m *Manager) build(objects *metadata.Set) (*Snapshot, error) {
	schema, err := BuildSchema(BuildSchemaConfig{
		Runner:  m.runner,
		Objects: objects,
		Naming:  m.namingConfig,
		UserID:  m.userID,
		Logger:  m.logger,
	})
	if err != nil {
		return nil, err
	}

	graphqlHandler := handler.New(&handler.Config{
		Schema:     &schema,
		Pretty:     true,
		GraphiQL:   m.graphiQL,
		Playground: false,
	})

	now := m.now()
	m.logger.Info("workspace schema built",
		slog.String("workspace_id", objects.WorkspaceID),
		slog.Int("objects", len(objects.Objects())),
	)
	return &Snapshot{
		WorkspaceID: objects.WorkspaceID,
		Schema:      &schema,
		Handler:     graphqlHandler,
		Fingerprint: objects.Fingerprint(),
		BuiltAt:     now,
		lastUsed:    now,
	}, nil
}

// Invalidate drops the snapshot of workspaceID.
func (m *Manager) Invalidate(workspaceID string) {
	m.mu.Lock()
	delete(m.snapshots, workspaceID)
	m.mu.Unlock()
}

// Len returns the number of cached snapshots.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.snapshots)
}

// Start begins the background eviction loop for idle workspaces.
func (m *Manager) Start(ctx context.Context) {
	if m.idleTimeout <= 0 {
		m.logger.Info("schema eviction disabled")
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.evictLoop(ctx)
	}()
}

// Wait blocks until the eviction loop exits or the context is canceled.
func (m *Manager) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) evictLoop(ctx context.Context) {
	ticker := time.NewTicker(m.idleTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("schema eviction stopped")
			return
		case <-ticker.C:
			if n := m.evictIdle(); n > 0 {
				m.logger.Debug("evicted idle workspace schemas", slog.Int("count", n))
				m.metrics.RecordEviction(ctx, n)
			}
		}
	}
}

func (m *Manager) evictIdle() int {
	cutoff := m.now().Add(-m.idleTimeout)
	m.mu.Lock()
	defer m.mu.Unlock()
	evicted := 0
	for id, snapshot := range m.snapshots {
		if snapshot.lastUsed.Before(cutoff) {
			delete(m.snapshots, id)
			evicted++
		}
	}
	return evicted
}

func (m *Manager) recordRefresh(ctx context.Context, duration time.Duration, success bool, trigger string) {
	m.metrics.RecordRefresh(ctx, duration, success, trigger)
}
