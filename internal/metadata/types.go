// Package metadata describes workspace objects and their fields, and loads
// those descriptions from the metadata schema.
package metadata

// FieldType is the storage/presentation type of a field.
type FieldType string

const (
	FieldTypeUUID        FieldType = "UUID"
	FieldTypeText        FieldType = "TEXT"
	FieldTypePhone       FieldType = "PHONE"
	FieldTypeEmail       FieldType = "EMAIL"
	FieldTypeDateTime    FieldType = "DATE_TIME"
	FieldTypeBoolean     FieldType = "BOOLEAN"
	FieldTypeNumber      FieldType = "NUMBER"
	FieldTypeNumeric     FieldType = "NUMERIC"
	FieldTypeProbability FieldType = "PROBABILITY"
	FieldTypeRating      FieldType = "RATING"
	FieldTypeSelect      FieldType = "SELECT"
	FieldTypeMultiSelect FieldType = "MULTI_SELECT"
	FieldTypePosition    FieldType = "POSITION"
	FieldTypeRelation    FieldType = "RELATION"
	FieldTypeLink        FieldType = "LINK"
	FieldTypeCurrency    FieldType = "CURRENCY"
	FieldTypeFullName    FieldType = "FULL_NAME"
)

// SubField is one stored column of a composite field.
type SubField struct {
	Name string
	Type FieldType
}

var compositeSubFields = map[FieldType][]SubField{
	FieldTypeLink: {
		{Name: "label", Type: FieldTypeText},
		{Name: "url", Type: FieldTypeText},
	},
	FieldTypeCurrency: {
		{Name: "amountMicros", Type: FieldTypeNumeric},
		{Name: "currencyCode", Type: FieldTypeText},
	},
	FieldTypeFullName: {
		{Name: "firstName", Type: FieldTypeText},
		{Name: "lastName", Type: FieldTypeText},
	},
}

// IsComposite reports whether values of t are stored across several columns.
func (t FieldType) IsComposite() bool {
	_, ok := compositeSubFields[t]
	return ok
}

// SubFields lists the stored sub-columns of a composite type, nil otherwise.
func (t FieldType) SubFields() []SubField {
	return compositeSubFields[t]
}

// Valid reports whether t is a known field type.
func (t FieldType) Valid() bool {
	switch t {
	case FieldTypeUUID, FieldTypeText, FieldTypePhone, FieldTypeEmail, FieldTypeDateTime,
		FieldTypeBoolean, FieldTypeNumber, FieldTypeNumeric, FieldTypeProbability,
		FieldTypeRating, FieldTypeSelect, FieldTypeMultiSelect, FieldTypePosition,
		FieldTypeRelation:
		return true
	}
	return t.IsComposite()
}

// RelationKind tells which side of a relation a field sits on.
type RelationKind string

const (
	// RelationOneToMany fields hold a collection of target records.
	RelationOneToMany RelationKind = "ONE_TO_MANY"
	// RelationManyToOne fields point to a single target record.
	RelationManyToOne RelationKind = "MANY_TO_ONE"
)

// RelationMetadata describes the target of a RELATION field.
type RelationMetadata struct {
	Kind                     RelationKind
	TargetObjectNameSingular string
}

// FieldMetadata describes one field of an object.
type FieldMetadata struct {
	ID         string
	Name       string
	Label      string
	Type       FieldType
	IsCustom   bool
	IsNullable bool
	IsActive   bool
	Relation   *RelationMetadata
}

// ObjectMetadata describes one object (table) of a workspace.
type ObjectMetadata struct {
	ID            string
	WorkspaceID   string
	NameSingular  string
	NamePlural    string
	LabelSingular string
	IsCustom      bool
	IsActive      bool
	Fields        []FieldMetadata
}

// Field looks up a field by name.
func (o ObjectMetadata) Field(name string) (FieldMetadata, bool) {
	for _, f := range o.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldMetadata{}, false
}

// HasFieldOfType reports whether the object has at least one active field of type t.
func (o ObjectMetadata) HasFieldOfType(t FieldType) bool {
	for _, f := range o.Fields {
		if f.Type == t && f.IsActive {
			return true
		}
	}
	return false
}

// ActiveFields returns the active fields in declaration order.
func (o ObjectMetadata) ActiveFields() []FieldMetadata {
	out := make([]FieldMetadata, 0, len(o.Fields))
	for _, f := range o.Fields {
		if f.IsActive {
			out = append(out, f)
		}
	}
	return out
}
