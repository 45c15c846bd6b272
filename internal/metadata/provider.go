package metadata

import (
	"context"
	"fmt"

	"crm-graphql/internal/dbexec"
	"crm-graphql/internal/sqlutil"

	sq "github.com/Masterminds/squirrel"
)

// Provider loads object metadata for a workspace.
type Provider interface {
	ListObjectMetadata(ctx context.Context, workspaceID string) (*Set, error)
}

// GetObjectMetadata resolves a single object through p.
func GetObjectMetadata(ctx context.Context, p Provider, workspaceID, nameSingular string) (ObjectMetadata, error) {
	set, err := p.ListObjectMetadata(ctx, workspaceID)
	if err != nil {
		return ObjectMetadata{}, err
	}
	return set.Get(nameSingular)
}

// PostgresProvider reads objectMetadata, fieldMetadata and relationMetadata
// from the metadata schema.
type PostgresProvider struct {
	executor dbexec.QueryExecutor
	schema   string
	builder  sq.StatementBuilderType
}

// NewPostgresProvider creates a provider reading from schema (usually "metadata").
func NewPostgresProvider(executor dbexec.QueryExecutor, schema string) *PostgresProvider {
	return &PostgresProvider{
		executor: executor,
		schema:   schema,
		builder:  sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

type relationRow struct {
	kind         RelationKind
	fromObjectID string
	toObjectID   string
	fromFieldID  string
	toFieldID    string
}

// ListObjectMetadata loads every active object with its fields.
func (p *PostgresProvider) ListObjectMetadata(ctx context.Context, workspaceID string) (*Set, error) {
	objects, err := p.loadObjects(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	fields, err := p.loadFields(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	relations, err := p.loadRelations(ctx, workspaceID)
	if err != nil {
		return nil, err
	}

	nameByID := make(map[string]string, len(objects))
	for _, obj := range objects {
		nameByID[obj.ID] = obj.NameSingular
	}
	relationByField := make(map[string]*RelationMetadata, len(relations)*2)
	for _, rel := range relations {
		if rel.kind != RelationOneToMany {
			continue
		}
		// The "from" side sees many targets; the "to" side holds the foreign key.
		relationByField[rel.fromFieldID] = &RelationMetadata{
			Kind:                     RelationOneToMany,
			TargetObjectNameSingular: nameByID[rel.toObjectID],
		}
		relationByField[rel.toFieldID] = &RelationMetadata{
			Kind:                     RelationManyToOne,
			TargetObjectNameSingular: nameByID[rel.fromObjectID],
		}
	}

	byObject := make(map[string][]FieldMetadata, len(objects))
	for objectID, list := range fields {
		for i := range list {
			if list[i].Type == FieldTypeRelation {
				list[i].Relation = relationByField[list[i].ID]
			}
		}
		byObject[objectID] = list
	}
	for i := range objects {
		objects[i].Fields = byObject[objects[i].ID]
	}

	return NewSet(workspaceID, objects), nil
}

func (p *PostgresProvider) table(name string) string {
	return sqlutil.QualifiedName(p.schema, name)
}

func (p *PostgresProvider) loadObjects(ctx context.Context, workspaceID string) ([]ObjectMetadata, error) {
	query, args, err := p.builder.
		Select(`"id"`, `"nameSingular"`, `"namePlural"`, `"labelSingular"`, `"isCustom"`, `"isActive"`).
		From(p.table("objectMetadata")).
		Where(sq.Eq{`"workspaceId"`: workspaceID, `"isActive"`: true}).
		OrderBy(`"nameSingular"`).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build object metadata query: %w", err)
	}

	var objects []ObjectMetadata
	err = dbexec.Each(ctx, p.executor, query, args, func(rows dbexec.Rows) error {
		obj := ObjectMetadata{WorkspaceID: workspaceID}
		if err := rows.Scan(&obj.ID, &obj.NameSingular, &obj.NamePlural, &obj.LabelSingular, &obj.IsCustom, &obj.IsActive); err != nil {
			return err
		}
		objects = append(objects, obj)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load object metadata: %w", err)
	}
	return objects, nil
}

func (p *PostgresProvider) loadFields(ctx context.Context, workspaceID string) (map[string][]FieldMetadata, error) {
	query, args, err := p.builder.
		Select(`"id"`, `"objectMetadataId"`, `"name"`, `"label"`, `"type"`, `"isCustom"`, `"isNullable"`, `"isActive"`).
		From(p.table("fieldMetadata")).
		Where(sq.Eq{`"workspaceId"`: workspaceID}).
		OrderBy(`"objectMetadataId"`, `"name"`).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build field metadata query: %w", err)
	}

	fields := make(map[string][]FieldMetadata)
	err = dbexec.Each(ctx, p.executor, query, args, func(rows dbexec.Rows) error {
		var (
			f        FieldMetadata
			objectID string
			typ      string
		)
		if err := rows.Scan(&f.ID, &objectID, &f.Name, &f.Label, &typ, &f.IsCustom, &f.IsNullable, &f.IsActive); err != nil {
			return err
		}
		f.Type = FieldType(typ)
		if !f.Type.Valid() {
			return fmt.Errorf("field %s has unknown type %q", f.Name, typ)
		}
		fields[objectID] = append(fields[objectID], f)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load field metadata: %w", err)
	}
	return fields, nil
}

func (p *PostgresProvider) loadRelations(ctx context.Context, workspaceID string) ([]relationRow, error) {
	query, args, err := p.builder.
		Select(`"relationType"`, `"fromObjectMetadataId"`, `"toObjectMetadataId"`, `"fromFieldMetadataId"`, `"toFieldMetadataId"`).
		From(p.table("relationMetadata")).
		Where(sq.Eq{`"workspaceId"`: workspaceID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build relation metadata query: %w", err)
	}

	var relations []relationRow
	err = dbexec.Each(ctx, p.executor, query, args, func(rows dbexec.Rows) error {
		var (
			rel  relationRow
			kind string
		)
		if err := rows.Scan(&kind, &rel.fromObjectID, &rel.toObjectID, &rel.fromFieldID, &rel.toFieldID); err != nil {
			return err
		}
		rel.kind = RelationKind(kind)
		relations = append(relations, rel)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load relation metadata: %w", err)
	}
	return relations, nil
}
