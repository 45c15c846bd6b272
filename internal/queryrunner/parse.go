package queryrunner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"crm-graphql/internal/config"
	"crm-graphql/internal/gqlerrors"
	"crm-graphql/internal/metadata"
	"crm-graphql/internal/naming"
	"crm-graphql/internal/record"

	"github.com/mitchellh/mapstructure"
)

// Message prefixes raised by pg_graphql that map to client errors.
const (
	pgDeleteTooMany = "delete impacts too many records"
	pgUpdateTooMany = "update impacts too many records"
	pgDuplicateKey  = "duplicate key value violates unique constraint"
)

// parseResult extracts the payload under the entity key of (command, obj).
// Errors reported by pg_graphql win over every other check. A nil payload
// with a nil error means the key was absent and the policy is "ignore".
func (r *Runner) parseResult(ctx context.Context, raw PGGraphQLResult, obj metadata.ObjectMetadata, command naming.Command, workspaceID string) (map[string]any, error) {
	key := naming.EntityKey(command, obj)

	var resolve PGGraphQLResolve
	if len(raw) > 0 {
		resolve = raw[0].Resolve
	}
	if len(resolve.Errors) > 0 {
		return nil, computePgGraphQLError(command, obj.NameSingular, resolve.Errors)
	}

	payload, err := decodePayload(resolve.Data[key])
	if err != nil {
		return nil, gqlerrors.Wrap(gqlerrors.Internal, fmt.Sprintf("Malformed result for %s", key), err)
	}
	if payload == nil {
		envelope, _ := json.Marshal(raw)
		r.logger.Warn("no result found for entity key",
			slog.String("workspace_id", workspaceID),
			slog.String("entity_key", key),
			slog.String("envelope", string(envelope)),
		)
		if r.cfg.MissingResultPolicy == config.MissingResultError {
			return nil, gqlerrors.NewInternal(fmt.Sprintf("No result found for %s", key))
		}
		return nil, nil
	}

	if (command == naming.CommandUpdate || command == naming.CommandDeleteFrom) && affectedCount(payload) == 0 {
		return nil, gqlerrors.NewBadRequest("No rows were affected.")
	}

	payload, err = r.getters.For(obj).Apply(withWorkspaceID(ctx, workspaceID), payload)
	if err != nil {
		return nil, fmt.Errorf("failed to apply %s getters: %w", obj.NameSingular, err)
	}
	return normalizeMap(payload), nil
}

func (r *Runner) parseConnection(ctx context.Context, raw PGGraphQLResult, obj metadata.ObjectMetadata, workspaceID string) (*record.Connection, error) {
	payload, err := r.parseResult(ctx, raw, obj, naming.CommandQuery, workspaceID)
	if err != nil || payload == nil {
		return nil, err
	}
	var conn record.Connection
	if err := decodeInto(payload, &conn); err != nil {
		return nil, err
	}
	return &conn, nil
}

func (r *Runner) parseMutation(ctx context.Context, raw PGGraphQLResult, obj metadata.ObjectMetadata, command naming.Command, workspaceID string) ([]record.Record, error) {
	payload, err := r.parseResult(ctx, raw, obj, command, workspaceID)
	if err != nil || payload == nil {
		return nil, err
	}
	var result record.MutationResult
	if err := decodeInto(payload, &result); err != nil {
		return nil, err
	}
	return result.Records, nil
}

// computePgGraphQLError turns the errors of one resolve call into a single
// runner error. Only the first message is inspected.
func computePgGraphQLError(command naming.Command, objectName string, errs []PGGraphQLError) error {
	message := errs[0].Message
	switch {
	case strings.HasPrefix(message, pgDeleteTooMany):
		return gqlerrors.NewBadRequest(fmt.Sprintf("Cannot delete %s because it impacts too many records.", objectName))
	case strings.HasPrefix(message, pgUpdateTooMany):
		return gqlerrors.NewBadRequest(fmt.Sprintf("Cannot update %s because it impacts too many records.", objectName))
	case strings.HasPrefix(message, pgDuplicateKey):
		verb := "insert"
		if command == naming.CommandUpdate {
			verb = "update"
		}
		return gqlerrors.NewBadRequest(fmt.Sprintf("Cannot %s %s because it violates a uniqueness constraint.", verb, objectName))
	default:
		encoded, _ := json.Marshal(errs)
		return gqlerrors.NewInternal(fmt.Sprintf("GraphQL errors on %s%s: %s", command, objectName, encoded))
	}
}

func decodePayload(raw json.RawMessage) (map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func affectedCount(payload map[string]any) int64 {
	switch v := payload["affectedCount"].(type) {
	case json.Number:
		n, _ := v.Int64()
		return n
	case int64:
		return v
	case float64:
		return int64(v)
	default:
		return 0
	}
}

// normalizeMap coerces json.Number values, regroups composite sub-field
// aliases under their field and strips the leading underscores pg_graphql
// puts in front of custom object type names.
func normalizeMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if field, sub, ok := naming.ParseCompositeAlias(k); ok {
			group, _ := out[field].(map[string]any)
			if group == nil {
				group = map[string]any{}
				out[field] = group
			}
			group[sub] = normalizeValue(v)
			continue
		}
		if k == "__typename" {
			if s, ok := v.(string); ok {
				out[k] = strings.TrimLeft(s, "_")
				continue
			}
		}
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if f, err := val.Float64(); err == nil {
			return f
		}
		return val.String()
	case map[string]any:
		return normalizeMap(val)
	case record.Record:
		return normalizeMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalizeValue(item)
		}
		return out
	default:
		return v
	}
}

func decodeInto(payload map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:  out,
		TagName: "mapstructure",
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(payload); err != nil {
		return gqlerrors.Wrap(gqlerrors.Internal, "Unexpected pg_graphql result shape", err)
	}
	return nil
}
