package queryrunner

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"crm-graphql/internal/config"
	"crm-graphql/internal/datasource"
	"crm-graphql/internal/dbexec"
	"crm-graphql/internal/eventemitter"
	"crm-graphql/internal/gqlerrors"
	"crm-graphql/internal/jobs"
	"crm-graphql/internal/messagequeue"
	"crm-graphql/internal/metadata"
	"crm-graphql/internal/naming"
	"crm-graphql/internal/record"
	"crm-graphql/internal/testutil/fixtures"
	"crm-graphql/internal/token"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envelope(key, payload string) string {
	return `{"data":{"` + key + `":` + payload + `}}`
}

func connectionOf(nodes ...string) string {
	edges := make([]string, len(nodes))
	for i, n := range nodes {
		edges[i] = fmt.Sprintf(`{"node":%s,"cursor":"c%d"}`, n, i+1)
	}
	return `{"edges":[` + strings.Join(edges, ",") + `],` +
		`"pageInfo":{"hasNextPage":false,"hasPreviousPage":false,"startCursor":"c1","endCursor":"c1"},` +
		fmt.Sprintf(`"totalCount":%d}`, len(nodes))
}

func mutationOf(nodes ...string) string {
	return fmt.Sprintf(`{"affectedCount":%d,"records":[%s]}`, len(nodes), strings.Join(nodes, ","))
}

type harness struct {
	runner  *Runner
	source  *fakeDataSource
	effects *sideEffects
	hooks   *fakeHooks
	args    *fakeArgsFactory
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		source:  &fakeDataSource{},
		effects: &sideEffects{},
		hooks:   &fakeHooks{},
		args:    &fakeArgsFactory{},
	}
	if cfg.WebhookRetryLimit == 0 {
		cfg.WebhookRetryLimit = 3
	}
	h.runner = New(Deps{
		DataSource:  h.source,
		ArgsFactory: h.args,
		Hooks:       h.hooks,
		Events:      h.effects.bus(),
		Queue:       h.effects,
	}, cfg)
	return h
}

func personOptions() Options {
	return Options{WorkspaceID: fixtures.WorkspaceID, UserID: "user-1", ObjectMetadata: fixtures.Person()}
}

const adaNode = `{"__typename":"Person","id":"p1","___name_firstName":"Ada","___name_lastName":"Lovelace",` +
	`"email":"ada@example.com","position":2,"companyId":null,"company":null,"attachments":{"edges":[]}}`

func TestFindMany_ParsesConnection(t *testing.T) {
	h := newHarness(t, Config{})
	h.source.reply(envelope("personCollection", connectionOf(adaNode)))

	conn, err := h.runner.FindMany(context.Background(), record.FindManyArgs{}, personOptions())
	require.NoError(t, err)
	require.NotNil(t, conn)

	require.Len(t, h.source.documents, 1)
	assert.Contains(t, h.source.documents[0], "personCollection")
	assert.Equal(t, []string{fixtures.WorkspaceID}, h.source.workspaces)
	assert.Equal(t, 1, h.source.closed)
	assert.Equal(t, []hookCall{{object: "person", operation: OpFindMany}}, h.hooks.calls)

	assert.Equal(t, 1, conn.TotalCount)
	require.Len(t, conn.Edges, 1)
	assert.Equal(t, "c1", conn.Edges[0].Cursor)
	require.NotNil(t, conn.PageInfo.EndCursor)
	assert.Equal(t, "c1", *conn.PageInfo.EndCursor)

	node := conn.Edges[0].Node
	assert.Equal(t, "p1", node.ID())
	assert.Equal(t, map[string]any{"firstName": "Ada", "lastName": "Lovelace"}, node["name"])
	assert.Equal(t, int64(2), node["position"])
	assert.Nil(t, node["companyId"])
	assert.Contains(t, node, "company")
	assert.Equal(t, map[string]any{"edges": []any{}}, node["attachments"])
	assert.Empty(t, h.effects.sequence)
}

func TestFindMany_CustomObject(t *testing.T) {
	h := newHarness(t, Config{})
	h.source.reply(envelope("_petCollection", connectionOf(`{"__typename":"_Pet","id":"pet-1","name":"Rex"}`)))

	opts := personOptions()
	opts.ObjectMetadata = fixtures.Pet()
	conn, err := h.runner.FindMany(context.Background(), record.FindManyArgs{}, opts)
	require.NoError(t, err)
	require.Len(t, conn.Edges, 1)
	assert.Equal(t, "Pet", conn.Edges[0].Node["__typename"])
	assert.Contains(t, h.source.documents[0], "_petCollection")
}

func TestFindMany_PreHookVetoSkipsDatabase(t *testing.T) {
	h := newHarness(t, Config{})
	h.hooks.err = gqlerrors.NewBadRequest("forbidden")

	_, err := h.runner.FindMany(context.Background(), record.FindManyArgs{}, personOptions())
	require.Error(t, err)
	assert.True(t, gqlerrors.IsBadRequest(err))
	assert.Empty(t, h.source.documents)
}

func TestFindMany_BuilderErrorSkipsDatabase(t *testing.T) {
	h := newHarness(t, Config{})
	first, last := 1, 1

	_, err := h.runner.FindMany(context.Background(), record.FindManyArgs{First: &first, Last: &last}, personOptions())
	require.Error(t, err)
	assert.True(t, gqlerrors.IsBadRequest(err))
	assert.Empty(t, h.source.documents)
}

func TestFindOne_MissingFilter(t *testing.T) {
	h := newHarness(t, Config{})

	for _, filter := range []record.Filter{nil, {}} {
		_, err := h.runner.FindOne(context.Background(), record.FindOneArgs{Filter: filter}, personOptions())
		require.Error(t, err)
		assert.True(t, gqlerrors.IsBadRequest(err))
		assert.Equal(t, "Missing filter argument", err.Error())
	}
	assert.Empty(t, h.source.documents)
	assert.Empty(t, h.source.workspaces)
	assert.Empty(t, h.hooks.calls)
}

func TestFindOne(t *testing.T) {
	h := newHarness(t, Config{})
	h.source.reply(envelope("personCollection", connectionOf(adaNode)))
	h.source.reply(envelope("personCollection", connectionOf()))

	filter := record.Filter{"email": map[string]any{"eq": "ada@example.com"}}
	rec, err := h.runner.FindOne(context.Background(), record.FindOneArgs{Filter: filter}, personOptions())
	require.NoError(t, err)
	assert.Equal(t, "p1", rec.ID())
	assert.Contains(t, h.source.documents[0], "first: 1")

	rec, err = h.runner.FindOne(context.Background(), record.FindOneArgs{Filter: filter}, personOptions())
	require.NoError(t, err)
	assert.Nil(t, rec)
}

func TestFindDuplicates_Validation(t *testing.T) {
	h := newHarness(t, Config{})
	empty := ""

	_, err := h.runner.FindDuplicates(context.Background(), record.FindDuplicatesArgs{}, personOptions())
	require.Error(t, err)
	assert.True(t, gqlerrors.IsBadRequest(err))
	assert.Equal(t, `You have to provide either "data" or "id" argument`, err.Error())

	_, err = h.runner.FindDuplicates(context.Background(), record.FindDuplicatesArgs{ID: &empty}, personOptions())
	require.Error(t, err)
	assert.True(t, gqlerrors.IsBadRequest(err))

	_, err = h.runner.FindDuplicates(context.Background(), record.FindDuplicatesArgs{Data: record.Record{}}, personOptions())
	require.Error(t, err)
	assert.True(t, gqlerrors.IsBadRequest(err))
	assert.Equal(t, `The "data" condition can not be empty when ID input not provided`, err.Error())

	assert.Empty(t, h.source.documents)
}

func TestFindDuplicates_UnknownID(t *testing.T) {
	h := newHarness(t, Config{})
	h.source.reply(envelope("personCollection", connectionOf()))
	id := "missing"

	_, err := h.runner.FindDuplicates(context.Background(), record.FindDuplicatesArgs{ID: &id}, personOptions())
	require.Error(t, err)
	assert.True(t, gqlerrors.IsNotFound(err))
	assert.Equal(t, "Object with id missing not found", err.Error())
	assert.Len(t, h.source.documents, 1)
}

func TestFindDuplicates_ByID(t *testing.T) {
	h := newHarness(t, Config{})
	h.source.reply(envelope("personCollection", connectionOf(adaNode)))
	h.source.reply(envelope("personCollection", connectionOf(`{"id":"p2","email":"ada@example.com"}`)))
	id := "p1"

	conn, err := h.runner.FindDuplicates(context.Background(), record.FindDuplicatesArgs{ID: &id}, personOptions())
	require.NoError(t, err)
	require.Len(t, conn.Edges, 1)
	assert.Equal(t, "p2", conn.Edges[0].Node.ID())

	require.Len(t, h.source.documents, 2)
	dup := h.source.documents[1]
	assert.Contains(t, dup, `neq: "p1"`)
	assert.Contains(t, dup, `"ada@example.com"`)
	assert.Equal(t, []hookCall{{object: "person", operation: OpFindDuplicates}}, h.hooks.calls)
}

func TestFindDuplicates_ByData(t *testing.T) {
	h := newHarness(t, Config{})
	h.source.reply(envelope("personCollection", connectionOf()))

	conn, err := h.runner.FindDuplicates(context.Background(),
		record.FindDuplicatesArgs{Data: record.Record{"email": "ada@example.com"}}, personOptions())
	require.NoError(t, err)
	assert.Empty(t, conn.Edges)
	require.Len(t, h.source.documents, 1)
	assert.NotContains(t, h.source.documents[0], "neq")
}

func TestCreateMany_EventsThenWebhooks(t *testing.T) {
	h := newHarness(t, Config{})
	h.source.reply(envelope("insertIntoPersonCollection", mutationOf(
		adaNode,
		`{"id":"p2","email":"grace@example.com","attachments":{"edges":[{"node":{"id":"a1"}}]}}`,
	)))

	records, err := h.runner.CreateMany(context.Background(), record.CreateManyArgs{Data: []record.Record{
		{"email": "ada@example.com"},
		{"id": "p2", "email": "grace@example.com"},
	}}, personOptions())
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 1, h.args.calls)
	assert.Contains(t, h.source.documents[0], "insertIntoPersonCollection")
	assert.Contains(t, h.source.documents[0], `"generated-1"`)

	assert.Equal(t, []string{
		"event:person.created",
		"event:person.created",
		"job:" + jobs.CallWebhookJobsJobName,
		"job:" + jobs.CallWebhookJobsJobName,
	}, h.effects.sequence)

	for i, payload := range h.effects.events {
		event, ok := payload.(eventemitter.ObjectRecordCreateEvent)
		require.True(t, ok)
		assert.Equal(t, fixtures.WorkspaceID, event.WorkspaceID)
		assert.Equal(t, "person", event.CreatedObjectMetadata.NameSingular)
		assert.Equal(t, records[i].ID(), event.CreatedRecord.ID())
		assert.NotContains(t, event.CreatedRecord, "attachments", "nested connections are stripped")
	}

	for i, data := range h.effects.jobData {
		assert.Equal(t, 3, h.effects.jobs[i].RetryLimit)
		job, ok := data.(jobs.CallWebhookJobsJobData)
		require.True(t, ok)
		assert.Equal(t, jobs.OperationCreate, job.Operation)
		assert.Equal(t, records[i].ID(), job.Record.ID())
		assert.Equal(t, "person", job.ObjectMetadata.NameSingular)
	}
	assert.Contains(t, records[1], "attachments", "returned records keep nested connections")
}

func TestCreateOne(t *testing.T) {
	h := newHarness(t, Config{})
	h.source.reply(envelope("insertIntoPersonCollection", mutationOf(adaNode)))

	rec, err := h.runner.CreateOne(context.Background(), record.CreateOneArgs{Data: record.Record{"email": "ada@example.com"}}, personOptions())
	require.NoError(t, err)
	assert.Equal(t, "p1", rec.ID())
	assert.Len(t, h.effects.events, 1)
	assert.Len(t, h.effects.jobs, 1)
}

func TestCreateMany_DatabaseErrorHasNoSideEffects(t *testing.T) {
	h := newHarness(t, Config{})
	h.source.reply(`{"data":null,"errors":[{"message":"duplicate key value violates unique constraint \"person_email_key\""}]}`)

	_, err := h.runner.CreateMany(context.Background(), record.CreateManyArgs{Data: []record.Record{{"email": "ada@example.com"}}}, personOptions())
	require.Error(t, err)
	assert.True(t, gqlerrors.IsBadRequest(err))
	assert.Equal(t, "Cannot insert person because it violates a uniqueness constraint.", err.Error())
	assert.Empty(t, h.effects.sequence)
}

func TestCreateMany_ExecutionFailure(t *testing.T) {
	h := newHarness(t, Config{})
	h.source.fail(errors.New("connection reset"))

	_, err := h.runner.CreateMany(context.Background(), record.CreateManyArgs{Data: []record.Record{{"email": "x@y.z"}}}, personOptions())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
	assert.Empty(t, h.effects.sequence)
}

func TestCreateMany_EnqueueFailureKeepsResults(t *testing.T) {
	h := newHarness(t, Config{})
	h.effects.addErr = messagequeue.ErrQueueFull
	h.source.reply(envelope("insertIntoPersonCollection", mutationOf(adaNode)))

	records, err := h.runner.CreateMany(context.Background(), record.CreateManyArgs{Data: []record.Record{{"email": "ada@example.com"}}}, personOptions())
	require.Error(t, err)
	var enqueueErr *WebhookEnqueueError
	require.ErrorAs(t, err, &enqueueErr)
	assert.ErrorIs(t, err, messagequeue.ErrQueueFull)
	require.Len(t, records, 1)
	assert.Len(t, h.effects.events, 1, "events fire before the enqueue attempt")
}

func TestUpdateOne(t *testing.T) {
	h := newHarness(t, Config{})
	h.source.reply(envelope("personCollection", connectionOf(adaNode)))
	h.source.reply(envelope("updatePersonCollection", mutationOf(
		`{"id":"p1","email":"ada@lovelace.dev","attachments":{"edges":[]}}`,
	)))

	rec, err := h.runner.UpdateOne(context.Background(), record.UpdateOneArgs{ID: "p1", Data: record.Record{"email": "ada@lovelace.dev"}}, personOptions())
	require.NoError(t, err)
	assert.Equal(t, "ada@lovelace.dev", rec["email"])

	require.Len(t, h.source.documents, 2)
	assert.Contains(t, h.source.documents[1], "updatePersonCollection")
	assert.Contains(t, h.source.documents[1], "atMost: 1")

	assert.Equal(t, []string{"event:person.updated", "job:" + jobs.CallWebhookJobsJobName}, h.effects.sequence)
	event := h.effects.events[0].(eventemitter.ObjectRecordUpdateEvent)
	assert.Equal(t, "ada@example.com", event.PreviousRecord["email"])
	assert.Equal(t, "ada@lovelace.dev", event.UpdatedRecord["email"])
	assert.NotContains(t, event.PreviousRecord, "attachments")
	assert.NotContains(t, event.UpdatedRecord, "attachments")
	assert.Equal(t, jobs.OperationUpdate, h.effects.jobData[0].(jobs.CallWebhookJobsJobData).Operation)
}

func TestUpdateOne_PreviousRecordIsBestEffort(t *testing.T) {
	h := newHarness(t, Config{})
	h.source.fail(errors.New("statement timeout"))
	h.source.reply(envelope("updatePersonCollection", mutationOf(`{"id":"p1","email":"new@example.com"}`)))

	rec, err := h.runner.UpdateOne(context.Background(), record.UpdateOneArgs{ID: "p1", Data: record.Record{"email": "new@example.com"}}, personOptions())
	require.NoError(t, err)
	assert.Equal(t, "p1", rec.ID())

	event := h.effects.events[0].(eventemitter.ObjectRecordUpdateEvent)
	assert.Nil(t, event.PreviousRecord)
	assert.Equal(t, "p1", event.UpdatedRecord.ID())
}

func TestUpdateOne_NoRowsAffected(t *testing.T) {
	h := newHarness(t, Config{})
	h.source.reply(envelope("personCollection", connectionOf()))
	h.source.reply(envelope("updatePersonCollection", `{"affectedCount":0,"records":[]}`))

	_, err := h.runner.UpdateOne(context.Background(), record.UpdateOneArgs{ID: "p1", Data: record.Record{"email": "x@y.z"}}, personOptions())
	require.Error(t, err)
	assert.True(t, gqlerrors.IsBadRequest(err))
	assert.Equal(t, "No rows were affected.", err.Error())
	assert.Empty(t, h.effects.sequence)
}

func TestUpdateOne_ErrorsWinOverAffectedCount(t *testing.T) {
	h := newHarness(t, Config{})
	h.source.reply(envelope("personCollection", connectionOf(adaNode)))
	h.source.reply(`{"data":{"updatePersonCollection":{"affectedCount":0,"records":[]}},` +
		`"errors":[{"message":"duplicate key value violates unique constraint \"person_email_key\""}]}`)

	_, err := h.runner.UpdateOne(context.Background(), record.UpdateOneArgs{ID: "p1", Data: record.Record{"email": "x@y.z"}}, personOptions())
	require.Error(t, err)
	assert.Equal(t, "Cannot update person because it violates a uniqueness constraint.", err.Error())
}

func TestUpdateMany_CapsAndSkipsEvents(t *testing.T) {
	h := newHarness(t, Config{MutationMaximumAffectedRecords: 25})
	h.source.reply(envelope("updatePersonCollection", mutationOf(`{"id":"p1"}`, `{"id":"p2"}`)))

	records, err := h.runner.UpdateMany(context.Background(), record.UpdateManyArgs{
		Filter: record.Filter{"email": map[string]any{"like": "%@example.com"}},
		Data:   record.Record{"phone": "+33"},
	}, personOptions())
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Contains(t, h.source.documents[0], "atMost: 25")
	assert.Empty(t, h.effects.events)
	assert.Equal(t, []string{"job:" + jobs.CallWebhookJobsJobName, "job:" + jobs.CallWebhookJobsJobName}, h.effects.sequence)
	assert.Equal(t, []hookCall{{object: "person", operation: OpUpdateMany}}, h.hooks.calls)
}

func TestUpdateMany_TooManyRecords(t *testing.T) {
	h := newHarness(t, Config{})
	h.source.reply(`{"data":null,"errors":[{"message":"update impacts too many records"}]}`)

	_, err := h.runner.UpdateMany(context.Background(), record.UpdateManyArgs{
		Filter: record.Filter{"email": map[string]any{"is": "NOT_NULL"}},
		Data:   record.Record{"phone": "+33"},
	}, personOptions())
	require.Error(t, err)
	assert.Equal(t, "Cannot update person because it impacts too many records.", err.Error())
	assert.Contains(t, h.source.documents[0], "atMost: 100")
}

func TestDeleteOne(t *testing.T) {
	h := newHarness(t, Config{})
	h.source.reply(envelope("deleteFromPersonCollection", mutationOf(adaNode)))

	rec, err := h.runner.DeleteOne(context.Background(), record.DeleteOneArgs{ID: "p1"}, personOptions())
	require.NoError(t, err)
	assert.Equal(t, "p1", rec.ID())
	assert.Contains(t, h.source.documents[0], "deleteFromPersonCollection")
	assert.Equal(t, []string{"event:person.deleted", "job:" + jobs.CallWebhookJobsJobName}, h.effects.sequence)

	event := h.effects.events[0].(eventemitter.ObjectRecordDeleteEvent)
	assert.Equal(t, "p1", event.DeletedRecord.ID())
	assert.Equal(t, jobs.OperationDelete, h.effects.jobData[0].(jobs.CallWebhookJobsJobData).Operation)
}

func TestDeleteOne_NoRowsAffected(t *testing.T) {
	h := newHarness(t, Config{})
	h.source.reply(envelope("deleteFromPersonCollection", `{"affectedCount":0,"records":[]}`))

	_, err := h.runner.DeleteOne(context.Background(), record.DeleteOneArgs{ID: "p1"}, personOptions())
	require.Error(t, err)
	assert.Equal(t, "No rows were affected.", err.Error())
	assert.Empty(t, h.effects.sequence)
}

func TestDeleteMany(t *testing.T) {
	h := newHarness(t, Config{})
	h.source.reply(envelope("deleteFromPersonCollection", mutationOf(`{"id":"p1"}`, `{"id":"p2"}`, `{"id":"p3"}`)))

	records, err := h.runner.DeleteMany(context.Background(), record.DeleteManyArgs{
		Filter: record.Filter{"id": map[string]any{"in": []any{"p1", "p2", "p3"}}},
	}, personOptions())
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Len(t, h.effects.events, 3)
	assert.Len(t, h.effects.jobs, 3)
	assert.Equal(t, "event:person.deleted", h.effects.sequence[0])
	assert.Equal(t, "job:"+jobs.CallWebhookJobsJobName, h.effects.sequence[3])

	for i, id := range []string{"p1", "p2", "p3"} {
		event, ok := h.effects.events[i].(eventemitter.ObjectRecordDeleteEvent)
		require.True(t, ok)
		assert.Equal(t, id, event.DeletedRecord.ID(), "one record per deleted event")
	}
}

func TestMissingResultPolicy(t *testing.T) {
	t.Run("ignore", func(t *testing.T) {
		h := newHarness(t, Config{})
		h.source.reply(`{"data":{}}`)

		conn, err := h.runner.FindMany(context.Background(), record.FindManyArgs{}, personOptions())
		require.NoError(t, err)
		assert.Nil(t, conn)
	})

	t.Run("error", func(t *testing.T) {
		h := newHarness(t, Config{MissingResultPolicy: config.MissingResultError})
		h.source.reply(`{"data":{"personCollection":null}}`)

		_, err := h.runner.FindMany(context.Background(), record.FindManyArgs{}, personOptions())
		require.Error(t, err)
		assert.True(t, gqlerrors.IsInternal(err))
		assert.Contains(t, err.Error(), "personCollection")
	})

	t.Run("ignored mutation has no side effects", func(t *testing.T) {
		h := newHarness(t, Config{})
		h.source.reply(`{"data":{}}`)

		records, err := h.runner.CreateMany(context.Background(), record.CreateManyArgs{Data: []record.Record{{"email": "x@y.z"}}}, personOptions())
		require.NoError(t, err)
		assert.Nil(t, records)
		assert.Empty(t, h.effects.sequence)
	})
}

func TestComputePgGraphQLError(t *testing.T) {
	tests := []struct {
		name     string
		command  string
		message  string
		want     string
		internal bool
	}{
		{name: "delete cap", command: "deleteFrom", message: "delete impacts too many records", want: "Cannot delete person because it impacts too many records."},
		{name: "update cap", command: "update", message: "update impacts too many records", want: "Cannot update person because it impacts too many records."},
		{name: "insert duplicate", command: "insertInto", message: "duplicate key value violates unique constraint \"x\"", want: "Cannot insert person because it violates a uniqueness constraint."},
		{name: "update duplicate", command: "update", message: "duplicate key value violates unique constraint \"x\"", want: "Cannot update person because it violates a uniqueness constraint."},
		{name: "other", command: "update", message: "boom", want: `GraphQL errors on updateperson: [{"message":"boom"}]`, internal: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := computePgGraphQLError(naming.Command(tt.command), "person", []PGGraphQLError{{Message: tt.message}})
			assert.Equal(t, tt.want, err.Error())
			if tt.internal {
				assert.True(t, gqlerrors.IsInternal(err))
			} else {
				assert.True(t, gqlerrors.IsBadRequest(err))
			}
		})
	}
}

func TestNormalizeMap(t *testing.T) {
	payload, err := decodePayload([]byte(`{"__typename":"__Custom","___amount_amountMicros":1500000,` +
		`"___amount_currencyCode":"EUR","ratio":0.25,"big":12345678901234,"tags":[1,"a"],"nested":{"___x_y":2}}`))
	require.NoError(t, err)

	got := normalizeMap(payload)
	assert.Equal(t, "Custom", got["__typename"])
	assert.Equal(t, map[string]any{"amountMicros": int64(1500000), "currencyCode": "EUR"}, got["amount"])
	assert.Equal(t, 0.25, got["ratio"])
	assert.Equal(t, int64(12345678901234), got["big"])
	assert.Equal(t, []any{int64(1), "a"}, got["tags"])
	assert.Equal(t, map[string]any{"x": map[string]any{"y": int64(2)}}, got["nested"])
}

func TestSanitize(t *testing.T) {
	rec := record.Record{
		"id":          "p1",
		"name":        map[string]any{"firstName": "Ada"},
		"attachments": map[string]any{"edges": []any{}},
		"company":     nil,
		"people":      record.Record{"edges": []any{map[string]any{"node": map[string]any{}}}},
	}
	got := sanitize(rec)
	assert.Equal(t, record.Record{
		"id":      "p1",
		"name":    map[string]any{"firstName": "Ada"},
		"company": nil,
	}, got)
	assert.Contains(t, rec, "attachments", "the input is not modified")
	assert.Nil(t, sanitize(nil))
}

func TestExecute_ConnectError(t *testing.T) {
	h := newHarness(t, Config{})
	h.source.connectErr = errors.New("pool exhausted")

	_, err := h.runner.Execute(context.Background(), "{ x }", fixtures.WorkspaceID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pool exhausted")
}

// tenantSource answers only once every expected workspace holds its own
// connection, so the calls overlap. Each connection replies with a record
// owned by its workspace.
type tenantSource struct {
	ready chan struct{}
	wg    sync.WaitGroup
}

func (s *tenantSource) Connect(_ context.Context, workspaceID string) (dbexec.Conn, error) {
	s.wg.Done()
	return &tenantConn{workspaceID: workspaceID, ready: s.ready}, nil
}

type tenantConn struct {
	workspaceID string
	ready       chan struct{}
}

func (c *tenantConn) QueryContext(ctx context.Context, _ string, _ ...any) (dbexec.Rows, error) {
	select {
	case <-c.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	body := envelope("personCollection", connectionOf(`{"id":"owner-`+c.workspaceID+`"}`))
	return &fakeRows{payloads: [][]byte{[]byte(body)}}, nil
}

func (c *tenantConn) ExecContext(context.Context, string, ...any) (sql.Result, error) {
	return nil, errors.New("exec not supported")
}

func (c *tenantConn) Close() error { return nil }

func TestFindMany_ConcurrentWorkspacesStayIsolated(t *testing.T) {
	workspaces := []string{fixtures.WorkspaceID, "30303030-1c25-4d02-bf25-6aeccf7ea419"}
	source := &tenantSource{ready: make(chan struct{})}
	source.wg.Add(len(workspaces))
	go func() {
		source.wg.Wait()
		close(source.ready)
	}()

	runner := New(Deps{DataSource: source}, Config{})

	results := make([]*record.Connection, len(workspaces))
	errs := make([]error, len(workspaces))
	var wg sync.WaitGroup
	for i, ws := range workspaces {
		wg.Add(1)
		go func(i int, ws string) {
			defer wg.Done()
			opts := personOptions()
			opts.WorkspaceID = ws
			results[i], errs[i] = runner.FindMany(context.Background(), record.FindManyArgs{}, opts)
		}(i, ws)
	}
	wg.Wait()

	for i, ws := range workspaces {
		require.NoError(t, errs[i])
		require.Len(t, results[i].Edges, 1)
		assert.Equal(t, "owner-"+ws, results[i].Edges[0].Node.ID())
	}
}

func TestGetterRegistry_DefaultsToIdentity(t *testing.T) {
	registry := NewGetterRegistry()
	payload := map[string]any{"edges": []any{}}

	got, err := registry.For(fixtures.Person()).Apply(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	var nilRegistry *GetterRegistry
	got, err = nilRegistry.For(metadata.ObjectMetadata{NameSingular: "attachment"}).Apply(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestExecute_ScopesSearchPath(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	schema, err := datasource.SchemaName(fixtures.WorkspaceID)
	require.NoError(t, err)
	document := "query { personCollection { totalCount } }"

	mock.ExpectExec(`SET search_path TO "` + schema + `"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(resolveSQL).
		WithArgs(document).
		WillReturnRows(sqlmock.NewRows([]string{"resolve"}).
			AddRow([]byte(`{"data":{"personCollection":{"totalCount":4}}}`)))
	mock.ExpectExec("SET search_path TO DEFAULT").WillReturnResult(sqlmock.NewResult(0, 0))

	runner := New(Deps{DataSource: datasource.NewService(db)}, Config{})
	payload, err := runner.ExecuteAndParse(context.Background(), document, fixtures.Person(), naming.CommandQuery, fixtures.WorkspaceID)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"totalCount": int64(4)}, payload)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecute_QueryErrorReleasesConnection(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	schema, err := datasource.SchemaName(fixtures.WorkspaceID)
	require.NoError(t, err)

	mock.ExpectExec(`SET search_path TO "` + schema + `"`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(resolveSQL).WillReturnError(errors.New("canceling statement"))
	mock.ExpectExec("SET search_path TO DEFAULT").WillReturnResult(sqlmock.NewResult(0, 0))

	runner := New(Deps{DataSource: datasource.NewService(db)}, Config{})
	_, err = runner.Execute(context.Background(), "{ x }", fixtures.WorkspaceID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "canceling statement")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttachmentGetter_SignsFullPath(t *testing.T) {
	signer := token.NewService("file-secret", "access-secret")
	getter := NewAttachmentGetter(signer, 0)
	fixed := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	getter.now = func() time.Time { return fixed }

	h := newHarness(t, Config{})
	registry := NewGetterRegistry()
	registry.Register(AttachmentObject, getter)
	h.runner.getters = registry
	h.source.reply(envelope("attachmentCollection", connectionOf(
		`{"id":"a1","fullPath":"attachment/a1.png"}`,
		`{"id":"a2","fullPath":""}`,
	)))

	opts := personOptions()
	opts.ObjectMetadata = fixtures.Attachment()
	conn, err := h.runner.FindMany(context.Background(), record.FindManyArgs{}, opts)
	require.NoError(t, err)
	require.Len(t, conn.Edges, 2)

	signed, _ := conn.Edges[0].Node["fullPath"].(string)
	prefix := "attachment/a1.png?expiration_date=2024-03-01T10:01:00.000Z&token="
	require.True(t, strings.HasPrefix(signed, prefix), signed)

	claims, err := signer.DecodePayload(strings.TrimPrefix(signed, prefix))
	require.NoError(t, err)
	assert.Equal(t, "2024-03-01T10:01:00.000Z", claims["expiration_date"])
	assert.Equal(t, fixtures.WorkspaceID, claims["workspace_id"])
	assert.Equal(t, "", conn.Edges[1].Node["fullPath"])
}

func TestAttachmentGetter_SignerFailure(t *testing.T) {
	getter := NewAttachmentGetter(token.NewService("", ""), time.Minute)
	_, err := getter.Apply(context.Background(), map[string]any{
		"edges": []any{map[string]any{"node": map[string]any{"fullPath": "a.png"}}},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, token.ErrNoSecret)
}
