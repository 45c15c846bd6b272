// Package eventemitter is a synchronous in-process event bus for record
// lifecycle events such as "person.created".
package eventemitter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Handler reacts to one event. Errors are logged and do not stop delivery
// to the remaining handlers.
type Handler func(ctx context.Context, name string, payload any) error

type subscription struct {
	pattern []string
	handler Handler
}

// Bus dispatches events to handlers registered for matching patterns.
type Bus struct {
	logger *slog.Logger

	mu   sync.RWMutex
	subs []subscription
}

// New creates an empty bus.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{logger: logger}
}

// On registers handler for events matching pattern. Patterns are dot
// separated; a "*" segment matches any single segment ("*.created").
func (b *Bus) On(pattern string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{pattern: strings.Split(pattern, "."), handler: handler})
}

// Emit calls every matching handler in registration order before returning.
func (b *Bus) Emit(ctx context.Context, name string, payload any) {
	segments := strings.Split(name, ".")

	b.mu.RLock()
	var matched []Handler
	for _, sub := range b.subs {
		if matchSegments(sub.pattern, segments) {
			matched = append(matched, sub.handler)
		}
	}
	b.mu.RUnlock()

	for _, h := range matched {
		if err := callHandler(ctx, h, name, payload); err != nil {
			b.logger.Error("event handler failed",
				slog.String("event", name),
				slog.String("error", err.Error()),
			)
		}
	}
}

func callHandler(ctx context.Context, h Handler, name string, payload any) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h(ctx, name, payload)
}

// Match reports whether an event name matches a pattern.
func Match(pattern, name string) bool {
	return matchSegments(strings.Split(pattern, "."), strings.Split(name, "."))
}

func matchSegments(pattern, name []string) bool {
	if len(pattern) != len(name) {
		return false
	}
	for i, p := range pattern {
		if p != "*" && p != name[i] {
			return false
		}
	}
	return true
}
