package resolver

import (
	"context"
	"sync"

	"github.com/graphql-go/graphql"
	gqlerr "github.com/graphql-go/graphql/gqlerrors"
)

// WebhookEnqueueFailedCode tags the error added to a response whose
// mutation committed but whose webhook jobs were not queued.
const WebhookEnqueueFailedCode = "WEBHOOK_ENQUEUE_FAILED"

type warningsKey struct{}

// warnings collects non-fatal errors raised by resolvers of one execution.
type warnings struct {
	mu   sync.Mutex
	errs []gqlerr.FormattedError
}

func (w *warnings) add(p graphql.ResolveParams, message string) {
	entry := gqlerr.FormattedError{
		Message:    message,
		Extensions: map[string]interface{}{"code": WebhookEnqueueFailedCode},
	}
	if p.Info.Path != nil {
		entry.Path = p.Info.Path.AsArray()
	}
	w.mu.Lock()
	w.errs = append(w.errs, entry)
	w.mu.Unlock()
}

func warningsFrom(ctx context.Context) *warnings {
	if ctx == nil {
		return nil
	}
	w, _ := ctx.Value(warningsKey{}).(*warnings)
	return w
}

// warningsExtension appends the collected warnings to the result errors
// while leaving the resolved data in place.
type warningsExtension struct{}

var _ graphql.Extension = warningsExtension{}

func (warningsExtension) Init(ctx context.Context, _ *graphql.Params) context.Context {
	return ctx
}

func (warningsExtension) Name() string { return "warnings" }

func (warningsExtension) ParseDidStart(ctx context.Context) (context.Context, graphql.ParseFinishFunc) {
	return ctx, func(error) {}
}

func (warningsExtension) ValidationDidStart(ctx context.Context) (context.Context, graphql.ValidationFinishFunc) {
	return ctx, func([]gqlerr.FormattedError) {}
}

func (warningsExtension) ExecutionDidStart(ctx context.Context) (context.Context, graphql.ExecutionFinishFunc) {
	w := &warnings{}
	return context.WithValue(ctx, warningsKey{}, w), func(result *graphql.Result) {
		if result == nil {
			return
		}
		w.mu.Lock()
		defer w.mu.Unlock()
		result.Errors = append(result.Errors, w.errs...)
	}
}

func (warningsExtension) ResolveFieldDidStart(ctx context.Context, _ *graphql.ResolveInfo) (context.Context, graphql.ResolveFieldFinishFunc) {
	return ctx, func(interface{}, error) {}
}

func (warningsExtension) HasResult() bool { return false }

func (warningsExtension) GetResult(context.Context) interface{} { return nil }
