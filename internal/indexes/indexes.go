// Package indexes builds the DDL for JSONB indexes on document collections.
package indexes

import (
	"fmt"
	"regexp"

	"github.com/ripkitten-co/prowl/schema"
)

type Kind int

const (
	// Btree indexes the text value of one top level key.
	Btree Kind = iota
	// GIN indexes the whole document for containment queries.
	GIN
)

type Index struct {
	Field string
	Kind  Kind
}

var validField = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Validate rejects btree fields that cannot be embedded in DDL.
func (i Index) Validate() error {
	switch i.Kind {
	case GIN:
		return nil
	case Btree:
		if !validField.MatchString(i.Field) {
			return fmt.Errorf("indexes: invalid field %q", i.Field)
		}
		return nil
	}
	return fmt.Errorf("indexes: unknown kind %d", i.Kind)
}

func Name(collection string, i Index) string {
	if i.Kind == GIN {
		return fmt.Sprintf("idx_%s_data_gin", schema.CollectionTable(collection))
	}
	return fmt.Sprintf("idx_%s_%s", schema.CollectionTable(collection), i.Field)
}

// DDL returns the CREATE INDEX CONCURRENTLY statement for i.
func DDL(collection string, i Index) string {
	table := schema.CollectionTable(collection)
	if i.Kind == GIN {
		return fmt.Sprintf("CREATE INDEX CONCURRENTLY IF NOT EXISTS %s ON %s USING GIN (data)", Name(collection, i), table)
	}
	return fmt.Sprintf("CREATE INDEX CONCURRENTLY IF NOT EXISTS %s ON %s ((data->>'%s'))", Name(collection, i), table, i.Field)
}
