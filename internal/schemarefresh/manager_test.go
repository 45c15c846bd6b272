package schemarefresh

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"crm-graphql/internal/metadata"
	"crm-graphql/internal/naming"
	"crm-graphql/internal/queryrunner"
	"crm-graphql/internal/record"
	"crm-graphql/internal/resolver"
	"crm-graphql/internal/testutil/fixtures"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	mu   sync.Mutex
	sets map[string]*metadata.Set
	err  error
}

func (p *stubProvider) ListObjectMetadata(_ context.Context, workspaceID string) (*metadata.Set, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return nil, p.err
	}
	set, ok := p.sets[workspaceID]
	if !ok {
		return nil, errors.New("unknown workspace")
	}
	return set, nil
}

func (p *stubProvider) set(workspaceID string, set *metadata.Set) {
	p.mu.Lock()
	p.sets[workspaceID] = set
	p.mu.Unlock()
}

type countRunner struct {
	resolver.Runner
}

func (countRunner) FindMany(context.Context, record.FindManyArgs, queryrunner.Options) (*record.Connection, error) {
	return &record.Connection{TotalCount: 3}, nil
}

type workspaceKey struct{}

func workspaceFromCtx(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(workspaceKey{}).(string)
	return id, ok
}

func newManager(t *testing.T, provider *stubProvider) *Manager {
	t.Helper()
	manager, err := NewManager(Config{
		Metadata:         provider,
		Runner:           countRunner{},
		Naming:           naming.DefaultConfig(),
		WorkspaceFromCtx: workspaceFromCtx,
	})
	require.NoError(t, err)
	return manager
}

func TestNewManager_RequiresDependencies(t *testing.T) {
	_, err := NewManager(Config{Runner: countRunner{}})
	require.Error(t, err)
	_, err = NewManager(Config{Metadata: &stubProvider{}})
	require.Error(t, err)
}

func TestSnapshot_ReusedUntilFingerprintChanges(t *testing.T) {
	provider := &stubProvider{sets: map[string]*metadata.Set{fixtures.WorkspaceID: fixtures.Set()}}
	manager := newManager(t, provider)

	first, err := manager.Snapshot(t.Context(), fixtures.WorkspaceID)
	require.NoError(t, err)
	second, err := manager.Snapshot(t.Context(), fixtures.WorkspaceID)
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Contains(t, first.Schema.QueryType().Fields(), "pets")

	provider.set(fixtures.WorkspaceID, metadata.NewSet(fixtures.WorkspaceID, []metadata.ObjectMetadata{fixtures.Person()}))
	third, err := manager.Snapshot(t.Context(), fixtures.WorkspaceID)
	require.NoError(t, err)
	assert.NotSame(t, first, third)
	assert.NotEqual(t, first.Fingerprint, third.Fingerprint)
	assert.NotContains(t, third.Schema.QueryType().Fields(), "pets")
	assert.Equal(t, 1, manager.Len())
}

func TestSnapshot_MetadataError(t *testing.T) {
	manager := newManager(t, &stubProvider{err: errors.New("db down")})
	_, err := manager.Snapshot(t.Context(), fixtures.WorkspaceID)
	require.ErrorContains(t, err, "db down")
}

func TestInvalidateAndEvict(t *testing.T) {
	provider := &stubProvider{sets: map[string]*metadata.Set{fixtures.WorkspaceID: fixtures.Set()}}
	manager := newManager(t, provider)
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	manager.now = func() time.Time { return now }
	manager.idleTimeout = time.Minute

	_, err := manager.Snapshot(t.Context(), fixtures.WorkspaceID)
	require.NoError(t, err)
	assert.Equal(t, 0, manager.evictIdle())

	now = now.Add(2 * time.Minute)
	assert.Equal(t, 1, manager.evictIdle())
	assert.Equal(t, 0, manager.Len())

	_, err = manager.Snapshot(t.Context(), fixtures.WorkspaceID)
	require.NoError(t, err)
	manager.Invalidate(fixtures.WorkspaceID)
	assert.Equal(t, 0, manager.Len())
}

func TestServeHTTP(t *testing.T) {
	provider := &stubProvider{sets: map[string]*metadata.Set{fixtures.WorkspaceID: fixtures.Set()}}
	manager := newManager(t, provider)

	body := `{"query":"{ people { totalCount } }"}`

	t.Run("dispatches to workspace schema", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req = req.WithContext(context.WithValue(req.Context(), workspaceKey{}, fixtures.WorkspaceID))
		rec := httptest.NewRecorder()
		manager.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"totalCount": 3`)
	})

	t.Run("no workspace", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(body))
		rec := httptest.NewRecorder()
		manager.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("unknown workspace", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/graphql", strings.NewReader(body))
		req = req.WithContext(context.WithValue(req.Context(), workspaceKey{}, "other"))
		rec := httptest.NewRecorder()
		manager.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}
