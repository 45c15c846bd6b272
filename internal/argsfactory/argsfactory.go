// Package argsfactory completes create arguments before they are turned into
// an insert: missing ids are generated and symbolic positions resolved.
package argsfactory

import (
	"context"
	"database/sql"
	"fmt"

	"crm-graphql/internal/dbexec"
	"crm-graphql/internal/gqlerrors"
	"crm-graphql/internal/metadata"
	"crm-graphql/internal/naming"
	"crm-graphql/internal/record"
	"crm-graphql/internal/sqlutil"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

// Symbolic position values accepted on POSITION fields.
const (
	PositionFirst = "first"
	PositionLast  = "last"
)

// Store runs read queries inside a workspace schema.
type Store interface {
	ExecuteRawQuery(ctx context.Context, workspaceID, query string, args []any, scan func(dbexec.Rows) error) error
}

// Factory computes final create arguments.
type Factory struct {
	store Store
	newID func() string
}

// New creates a factory backed by store.
func New(store Store) *Factory {
	return &Factory{store: store, newID: uuid.NewString}
}

// Create returns a copy of args where every record has an id and every
// POSITION field holds a number or null. Consecutive "first" records are
// placed above each other, consecutive "last" records below each other.
func (f *Factory) Create(ctx context.Context, workspaceID string, obj metadata.ObjectMetadata, args record.CreateManyArgs) (record.CreateManyArgs, error) {
	if err := checkPositionTargets(obj, args.Data); err != nil {
		return record.CreateManyArgs{}, err
	}

	out := record.CreateManyArgs{Data: make([]record.Record, len(args.Data))}
	for i, rec := range args.Data {
		out.Data[i] = rec.Clone()
		if out.Data[i] == nil {
			out.Data[i] = record.Record{}
		}
		if id, ok := out.Data[i]["id"]; !ok || id == nil || id == "" {
			out.Data[i]["id"] = f.newID()
		}
	}

	for _, field := range obj.ActiveFields() {
		if field.Type != metadata.FieldTypePosition {
			continue
		}
		if err := f.resolvePositions(ctx, workspaceID, obj, field.Name, out.Data); err != nil {
			return record.CreateManyArgs{}, err
		}
	}
	return out, nil
}

// checkPositionTargets rejects "first" and "last" on keys that are not
// active fields of obj: nothing would resolve them before the insert.
func checkPositionTargets(obj metadata.ObjectMetadata, data []record.Record) error {
	for i, rec := range data {
		for key, value := range rec {
			if value != PositionFirst && value != PositionLast {
				continue
			}
			if field, ok := obj.Field(key); ok && field.IsActive {
				continue
			}
			return gqlerrors.NewBadRequest(fmt.Sprintf("Cannot resolve position %q on data[%d]: %s has no active %s field", value, i, obj.NameSingular, key))
		}
	}
	return nil
}

func (f *Factory) resolvePositions(ctx context.Context, workspaceID string, obj metadata.ObjectMetadata, field string, data []record.Record) error {
	var (
		bounds        map[string]float64
		firsts, lasts int
	)
	for i, rec := range data {
		value, ok := rec[field]
		if !ok || value == nil {
			continue
		}
		symbol, isString := value.(string)
		if !isString {
			continue
		}
		if symbol != PositionFirst && symbol != PositionLast {
			return gqlerrors.NewBadRequest(fmt.Sprintf("Invalid position value %q on data[%d]", symbol, i))
		}

		if bounds == nil {
			var err error
			if bounds, err = f.positionBounds(ctx, workspaceID, obj, field); err != nil {
				return err
			}
		}
		if symbol == PositionFirst {
			firsts++
			rec[field] = bounds[PositionFirst] - float64(firsts)
		} else {
			lasts++
			rec[field] = bounds[PositionLast] + float64(lasts)
		}
	}
	return nil
}

// positionBounds returns the current MIN and MAX of the column, 0 for an
// empty table.
func (f *Factory) positionBounds(ctx context.Context, workspaceID string, obj metadata.ObjectMetadata, field string) (map[string]float64, error) {
	column := sqlutil.QuoteIdentifier(field)
	query, args, err := sq.Select("MIN("+column+")", "MAX("+column+")").
		From(sqlutil.QuoteIdentifier(naming.TargetTable(obj))).
		PlaceholderFormat(sq.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build position query: %w", err)
	}

	var lo, hi sql.NullFloat64
	err = f.store.ExecuteRawQuery(ctx, workspaceID, query, args, func(rows dbexec.Rows) error {
		return rows.Scan(&lo, &hi)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read %s positions: %w", obj.NameSingular, err)
	}
	return map[string]float64{PositionFirst: lo.Float64, PositionLast: hi.Float64}, nil
}
