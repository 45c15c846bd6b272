// Package naming derives every name the runner and the GraphQL layer agree
// on: target tables, pg_graphql entity keys, composite column aliases and
// resolver field names.
package naming

import (
	"log/slog"
	"strings"

	"crm-graphql/internal/metadata"
)

// Command is the pg_graphql operation prefix of an entity key.
type Command string

const (
	CommandQuery      Command = ""
	CommandInsertInto Command = "insertInto"
	CommandUpdate     Command = "update"
	CommandDeleteFrom Command = "deleteFrom"
)

// CustomTablePrefix marks tables backing custom objects.
const CustomTablePrefix = "_"

// TargetTable returns the table an object is stored in.
func TargetTable(obj metadata.ObjectMetadata) string {
	if obj.IsCustom {
		return CustomTablePrefix + obj.NameSingular
	}
	return obj.NameSingular
}

// EntityKey is the pg_graphql field a document selects and the response
// nests its payload under: {command}{TargetTable}Collection. Query
// collections start lower-case; mutation commands capitalize the table.
func EntityKey(command Command, obj metadata.ObjectMetadata) string {
	table := TargetTable(obj)
	if command == CommandQuery {
		return LowerFirst(table) + "Collection"
	}
	return string(command) + UpperFirst(table) + "Collection"
}

// CompositeColumn is the stored column of a composite sub-field:
// ("name", "firstName") -> "nameFirstName".
func CompositeColumn(field, sub string) string {
	return field + UpperFirst(sub)
}

// compositeAliasPrefix marks aliased composite columns in a selection set so
// the parser can fold them back into an object.
const compositeAliasPrefix = "___"

// CompositeAlias is the selection alias of a composite sub-column:
// ("name", "firstName") -> "___name_firstName".
func CompositeAlias(field, sub string) string {
	return compositeAliasPrefix + field + "_" + sub
}

// ParseCompositeAlias reverses CompositeAlias.
func ParseCompositeAlias(alias string) (field, sub string, ok bool) {
	if !strings.HasPrefix(alias, compositeAliasPrefix) {
		return "", "", false
	}
	rest := alias[len(compositeAliasPrefix):]
	idx := strings.Index(rest, "_")
	if idx <= 0 || idx == len(rest)-1 {
		return "", "", false
	}
	return rest[:idx], rest[idx+1:], true
}

// ForeignKeyColumn is the column holding a many-to-one relation: "company" -> "companyId".
func ForeignKeyColumn(field string) string {
	return field + "Id"
}

// UpperFirst upper-cases the first byte of s.
func UpperFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// LowerFirst lower-cases the first byte of s.
func LowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

// Namer builds resolver-facing names for workspace objects. One Namer is
// used per schema build; names it hands out are unique within that build.
type Namer struct {
	config Config
	logger *slog.Logger
	types  *nameTable
	fields *nameTable
}

// New creates a Namer. A nil logger falls back to slog.Default.
func New(cfg Config, logger *slog.Logger) *Namer {
	if logger == nil {
		logger = slog.Default()
	}
	n := &Namer{config: cfg, logger: logger}
	n.Reset()
	return n
}

// Default returns a Namer with DefaultConfig.
func Default() *Namer {
	return New(DefaultConfig(), nil)
}

// Reset forgets every name handed out so far.
func (n *Namer) Reset() {
	n.types = newNameTable("type", n.logger)
	n.fields = newNameTable("field", n.logger)
}

// Plural returns the object's plural name, inflecting the singular one when
// metadata does not carry it.
func (n *Namer) Plural(obj metadata.ObjectMetadata) string {
	if obj.NamePlural != "" {
		return obj.NamePlural
	}
	return n.config.plural(obj.NameSingular)
}

// TypeName is the GraphQL object type of a workspace object: "person" -> "Person".
func (n *Namer) TypeName(obj metadata.ObjectMetadata) string {
	name := UpperFirst(obj.NameSingular)
	if typeNameTaken(name) {
		n.logger.Warn("GraphQL type name is reserved, auto-suffixed",
			slog.String("original", name),
			slog.String("renamed", name+"_"),
		)
		name += "_"
	}
	return n.types.claim(name, obj.NameSingular)
}

// ResolverNames are the root fields exposed for one object.
type ResolverNames struct {
	FindMany       string
	FindOne        string
	FindDuplicates string
	CreateMany     string
	CreateOne      string
	UpdateOne      string
	UpdateMany     string
	DeleteOne      string
	DeleteMany     string
}

// ResolverNames derives and registers the root field names of obj, e.g.
// people, person, personDuplicates, createPeople, createPerson.
func (n *Namer) ResolverNames(obj metadata.ObjectMetadata) ResolverNames {
	singular := UpperFirst(obj.NameSingular)
	plural := UpperFirst(n.Plural(obj))
	reg := func(name string) string {
		if fieldNameTaken(name) {
			name += "_"
		}
		return n.fields.claim(name, obj.NameSingular)
	}
	return ResolverNames{
		FindMany:       reg(LowerFirst(plural)),
		FindOne:        reg(LowerFirst(singular)),
		FindDuplicates: reg(LowerFirst(singular) + "Duplicates"),
		CreateMany:     reg("create" + plural),
		CreateOne:      reg("create" + singular),
		UpdateOne:      reg("update" + singular),
		UpdateMany:     reg("update" + plural),
		DeleteOne:      reg("delete" + singular),
		DeleteMany:     reg("delete" + plural),
	}
}
