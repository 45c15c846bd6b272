package queryrunner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"crm-graphql/internal/metadata"
)

// Getter rewrites the parsed payload of one object before it is returned.
type Getter interface {
	Apply(ctx context.Context, payload map[string]any) (map[string]any, error)
}

// GetterFunc adapts a function to Getter.
type GetterFunc func(ctx context.Context, payload map[string]any) (map[string]any, error)

// Apply calls f.
func (f GetterFunc) Apply(ctx context.Context, payload map[string]any) (map[string]any, error) {
	return f(ctx, payload)
}

var identityGetter = GetterFunc(func(_ context.Context, payload map[string]any) (map[string]any, error) {
	return payload, nil
})

// GetterRegistry maps object names to getters. Unregistered objects get
// the identity getter.
type GetterRegistry struct {
	mu      sync.RWMutex
	getters map[string]Getter
}

// NewGetterRegistry returns an empty registry.
func NewGetterRegistry() *GetterRegistry {
	return &GetterRegistry{getters: map[string]Getter{}}
}

// Register sets the getter of objectNameSingular.
func (g *GetterRegistry) Register(objectNameSingular string, getter Getter) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.getters[objectNameSingular] = getter
}

// For returns the getter of obj.
func (g *GetterRegistry) For(obj metadata.ObjectMetadata) Getter {
	if g == nil {
		return identityGetter
	}
	g.mu.RLock()
	defer g.mu.RUnlock()
	if getter, ok := g.getters[obj.NameSingular]; ok {
		return getter
	}
	return identityGetter
}

type workspaceIDKey struct{}

func withWorkspaceID(ctx context.Context, workspaceID string) context.Context {
	return context.WithValue(ctx, workspaceIDKey{}, workspaceID)
}

// WorkspaceIDFrom returns the workspace whose payload a getter is applied to.
func WorkspaceIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(workspaceIDKey{}).(string)
	return id
}

// Signer issues signed tokens for a claim set.
type Signer interface {
	EncodePayload(claims map[string]any) (string, error)
}

// AttachmentObject is the object whose fullPath values are signed.
const AttachmentObject = "attachment"

// expirationLayout matches JavaScript's Date.toISOString.
const expirationLayout = "2006-01-02T15:04:05.000Z07:00"

// AttachmentGetter turns the fullPath of every attachment node into a URL
// that expires after ttl.
type AttachmentGetter struct {
	signer Signer
	ttl    time.Duration
	now    func() time.Time
}

// NewAttachmentGetter creates the getter. ttl defaults to one minute.
func NewAttachmentGetter(signer Signer, ttl time.Duration) *AttachmentGetter {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &AttachmentGetter{signer: signer, ttl: ttl, now: time.Now}
}

// Apply signs the fullPath of every edge node. Nodes without fullPath are
// left untouched.
func (a *AttachmentGetter) Apply(ctx context.Context, payload map[string]any) (map[string]any, error) {
	edges, ok := payload["edges"].([]any)
	if !ok {
		return payload, nil
	}

	for _, item := range edges {
		edge, ok := item.(map[string]any)
		if !ok {
			continue
		}
		node, ok := edge["node"].(map[string]any)
		if !ok {
			continue
		}
		fullPath, ok := node["fullPath"].(string)
		if !ok || fullPath == "" {
			continue
		}

		expiration := a.now().Add(a.ttl).UTC().Format(expirationLayout)
		claims := map[string]any{"expiration_date": expiration}
		if workspaceID := WorkspaceIDFrom(ctx); workspaceID != "" {
			claims["workspace_id"] = workspaceID
		}
		token, err := a.signer.EncodePayload(claims)
		if err != nil {
			return nil, fmt.Errorf("failed to sign attachment path: %w", err)
		}
		node["fullPath"] = fullPath + "?expiration_date=" + expiration + "&token=" + token
	}
	return payload, nil
}

// DefaultGetters registers the getters of the standard objects.
func DefaultGetters(signer Signer, signedURLExpiration time.Duration) *GetterRegistry {
	registry := NewGetterRegistry()
	registry.Register(AttachmentObject, NewAttachmentGetter(signer, signedURLExpiration))
	return registry
}
