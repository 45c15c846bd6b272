// Package prequeryhook runs registered checks before the query runner touches
// the database. A hook returning an error vetoes the operation.
package prequeryhook

import (
	"context"
	"fmt"
	"sync"
)

// Hook inspects the arguments of an operation about to run.
type Hook interface {
	Execute(ctx context.Context, userID, workspaceID string, args any) error
}

// HookFunc adapts a function to Hook.
type HookFunc func(ctx context.Context, userID, workspaceID string, args any) error

// Execute calls f.
func (f HookFunc) Execute(ctx context.Context, userID, workspaceID string, args any) error {
	return f(ctx, userID, workspaceID, args)
}

// Key builds a registry key. Use "*" as objectName to match every object.
func Key(objectName, operation string) string {
	return objectName + "." + operation
}

// Registry holds hooks by "<object>.<operation>" key.
type Registry struct {
	mu    sync.RWMutex
	order []entry
}

type entry struct {
	key  string
	hook Hook
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds hook under key ("person.createMany", "*.deleteOne").
func (r *Registry) Register(key string, hook Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, entry{key: key, hook: hook})
}

// ExecutePreHooks runs every hook registered for objectName or "*" on
// operation, in registration order, and stops at the first error.
func (r *Registry) ExecutePreHooks(ctx context.Context, userID, workspaceID, objectName, operation string, args any) error {
	if r == nil {
		return nil
	}
	exact, wildcard := Key(objectName, operation), Key("*", operation)

	r.mu.RLock()
	var hooks []entry
	for _, e := range r.order {
		if e.key == exact || e.key == wildcard {
			hooks = append(hooks, e)
		}
	}
	r.mu.RUnlock()

	for _, e := range hooks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.hook.Execute(ctx, userID, workspaceID, args); err != nil {
			return fmt.Errorf("pre-query hook %s: %w", e.key, err)
		}
	}
	return nil
}
