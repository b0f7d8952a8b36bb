package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Session holds one chat or automation conversation.
type Session struct {
	ent.Schema
}

// Fields of the Session.
func (Session) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").Immutable(),
		field.String("name").Default(""),
		field.String("type").Immutable(),
		field.String("state").Default("IDLE"),
		field.String("end_reason").Optional().Nillable(),
		field.Bool("require_validation").Default(false),
		field.String("automation_id").Default(""),
		field.Int64("scheduled_execution_ms").Optional().Nillable(),
		field.String("provider_id").Default(""),
		field.Int64("last_network_error_ms").Optional().Nillable(),
		field.Bool("is_active").Default(false),
		field.Int64("created_at_ms").Immutable(),
		field.Int64("last_activity_ms"),
	}
}

// Edges of the Session.
func (Session) Edges() []ent.Edge {
	return []ent.Edge{
		edge.To("messages", Message.Type),
	}
}

// Indexes of the Session.
func (Session) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("is_active"),
		index.Fields("type", "automation_id"),
		index.Fields("created_at_ms"),
	}
}
