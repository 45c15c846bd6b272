package naming

import (
	"log/slog"
	"strconv"
	"strings"

	"github.com/jinzhu/inflection"
)

// Config customizes the names a Namer derives.
type Config struct {
	// Irregular maps an object's singular name to the plural to use when the
	// object metadata carries no namePlural, e.g. {"status": "statuses"}.
	Irregular map[string]string `mapstructure:"irregular_plurals"`
}

// DefaultConfig has no irregular plurals.
func DefaultConfig() Config {
	return Config{Irregular: map[string]string{}}
}

func (c Config) plural(singular string) string {
	if p, ok := c.Irregular[singular]; ok && p != "" {
		return p
	}
	return inflection.Plural(singular)
}

// builtinTypes are GraphQL keywords and the types the schema defines itself.
// Compared lower-cased.
const builtinTypes = " query mutation subscription schema type scalar enum input interface union" +
	" fragment directive extend implements on int float string boolean id true false null" +
	" json datetime uuid pageinfo "

func typeNameTaken(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasPrefix(lower, "__") || strings.Contains(builtinTypes, " "+lower+" ")
}

func fieldNameTaken(name string) bool {
	return strings.HasPrefix(name, "__")
}

// nameTable hands out unique names within one GraphQL namespace. A second
// claim on a name gets the lowest free numeric suffix, starting at 2.
type nameTable struct {
	kind   string
	owners map[string]string
	logger *slog.Logger
}

func newNameTable(kind string, logger *slog.Logger) *nameTable {
	return &nameTable{kind: kind, owners: map[string]string{}, logger: logger}
}

func (t *nameTable) claim(name, object string) string {
	prev, taken := t.owners[name]
	if !taken {
		t.owners[name] = object
		return name
	}
	n := 2
	for ; ; n++ {
		if _, taken := t.owners[name+strconv.Itoa(n)]; !taken {
			break
		}
	}
	resolved := name + strconv.Itoa(n)
	t.owners[resolved] = object
	t.logger.Warn("naming collision detected, applying suffix",
		slog.String("kind", t.kind),
		slog.String("name", name),
		slog.String("resolved", resolved),
		slog.String("existing_object", prev),
		slog.String("object", object),
	)
	return resolved
}
