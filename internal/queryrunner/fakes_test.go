package queryrunner

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"crm-graphql/internal/dbexec"
	"crm-graphql/internal/eventemitter"
	"crm-graphql/internal/logging"
	"crm-graphql/internal/messagequeue"
	"crm-graphql/internal/metadata"
	"crm-graphql/internal/record"
)

// scripted is one canned reply of the fake data source.
type scripted struct {
	body string
	err  error
}

// fakeDataSource replies to graphql.resolve calls in order and records
// every document it receives.
type fakeDataSource struct {
	mu         sync.Mutex
	replies    []scripted
	documents  []string
	workspaces []string
	closed     int
	connectErr error
}

func (f *fakeDataSource) reply(body string) *fakeDataSource {
	f.replies = append(f.replies, scripted{body: body})
	return f
}

func (f *fakeDataSource) fail(err error) *fakeDataSource {
	f.replies = append(f.replies, scripted{err: err})
	return f
}

func (f *fakeDataSource) Connect(_ context.Context, workspaceID string) (dbexec.Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	f.workspaces = append(f.workspaces, workspaceID)
	return &fakeConn{source: f}, nil
}

type fakeConn struct {
	source *fakeDataSource
}

func (c *fakeConn) QueryContext(_ context.Context, query string, args ...any) (dbexec.Rows, error) {
	f := c.source
	f.mu.Lock()
	defer f.mu.Unlock()
	if query != resolveSQL || len(args) != 1 {
		return nil, errors.New("unexpected statement: " + query)
	}
	doc, _ := args[0].(string)
	f.documents = append(f.documents, doc)
	if len(f.replies) == 0 {
		return nil, errors.New("no scripted reply left")
	}
	next := f.replies[0]
	f.replies = f.replies[1:]
	if next.err != nil {
		return nil, next.err
	}
	return &fakeRows{payloads: [][]byte{[]byte(next.body)}}, nil
}

func (c *fakeConn) ExecContext(context.Context, string, ...any) (sql.Result, error) {
	return nil, errors.New("exec not supported")
}

func (c *fakeConn) Close() error {
	c.source.mu.Lock()
	defer c.source.mu.Unlock()
	c.source.closed++
	return nil
}

type fakeRows struct {
	payloads [][]byte
	idx      int
}

func (r *fakeRows) Next() bool {
	if r.idx >= len(r.payloads) {
		return false
	}
	r.idx++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	if len(dest) != 1 {
		return errors.New("expected one destination")
	}
	target, ok := dest[0].(*[]byte)
	if !ok {
		return errors.New("expected *[]byte destination")
	}
	*target = r.payloads[r.idx-1]
	return nil
}

func (r *fakeRows) Err() error   { return nil }
func (r *fakeRows) Close() error { return nil }

// sideEffects records events and jobs in the order they happen.
type sideEffects struct {
	mu       sync.Mutex
	sequence []string
	events   []any
	jobs     []messagequeue.JobOptions
	jobData  []any
	addErr   error
}

func (s *sideEffects) Add(_ context.Context, name string, data any, opts messagequeue.JobOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.addErr != nil {
		return s.addErr
	}
	s.sequence = append(s.sequence, "job:"+name)
	s.jobs = append(s.jobs, opts)
	s.jobData = append(s.jobData, data)
	return nil
}

func (s *sideEffects) bus() *eventemitter.Bus {
	bus := eventemitter.New(logging.NewNop().Logger)
	bus.On("*.*", func(_ context.Context, name string, payload any) error {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.sequence = append(s.sequence, "event:"+name)
		s.events = append(s.events, payload)
		return nil
	})
	return bus
}

type hookCall struct {
	object    string
	operation string
}

type fakeHooks struct {
	calls []hookCall
	err   error
}

func (h *fakeHooks) ExecutePreHooks(_ context.Context, _, _, objectName, operation string, _ any) error {
	h.calls = append(h.calls, hookCall{object: objectName, operation: operation})
	return h.err
}

type fakeArgsFactory struct {
	calls int
}

func (f *fakeArgsFactory) Create(_ context.Context, _ string, _ metadata.ObjectMetadata, args record.CreateManyArgs) (record.CreateManyArgs, error) {
	f.calls++
	out := record.CreateManyArgs{}
	for i, rec := range args.Data {
		rec = rec.Clone()
		if rec["id"] == nil {
			rec["id"] = fmt.Sprintf("generated-%d", i+1)
		}
		out.Data = append(out.Data, rec)
	}
	return out, nil
}
