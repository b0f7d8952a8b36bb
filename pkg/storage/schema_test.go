package storage

import (
	"testing"

	"entgo.io/ent"
	entschema "entgo.io/ent/dialect/sql/schema"

	"assistant/pkg/storage/ent/schema"
)

// The migration tables are maintained by hand and must stay in step with
// the ent schema definitions.
func TestTablesMatchEntSchema(t *testing.T) {
	tests := []struct {
		name    string
		table   *entschema.Table
		fields  []ent.Field
		indexes int
	}{
		{"sessions", SessionsTable, schema.Session{}.Fields(), len(schema.Session{}.Indexes())},
		{"messages", MessagesTable, schema.Message{}.Fields(), len(schema.Message{}.Indexes())},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if len(tt.table.Columns) != len(tt.fields) {
				t.Fatalf("expected %d columns, got %d", len(tt.fields), len(tt.table.Columns))
			}
			for i, f := range tt.fields {
				desc := f.Descriptor()
				col := tt.table.Columns[i]
				if col.Name != desc.Name {
					t.Fatalf("column %d: expected %s, got %s", i, desc.Name, col.Name)
				}
				if col.Nullable != desc.Nillable {
					t.Fatalf("column %s: nullable mismatch", col.Name)
				}
			}
			if len(tt.table.Indexes) != tt.indexes {
				t.Fatalf("expected %d indexes, got %d", tt.indexes, len(tt.table.Indexes))
			}
		})
	}
}
