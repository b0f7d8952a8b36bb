package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/schema/edge"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// Message is one entry in a session history. Structured payloads are
// stored as JSON text.
type Message struct {
	ent.Schema
}

// Fields of the Message.
func (Message) Fields() []ent.Field {
	return []ent.Field{
		field.String("id").Immutable(),
		field.String("session_id").Immutable(),
		field.String("sender").Immutable(),
		field.Int64("seq").Immutable(),
		field.Int64("timestamp_ms"),
		field.String("rich_content").Optional().Nillable(),
		field.String("text_content").Default(""),
		field.String("ai_message").Optional().Nillable(),
		field.String("ai_message_json").Default(""),
		field.String("system_message").Optional().Nillable(),
		field.Int("input_tokens").Default(0),
		field.Int("cache_write_tokens").Default(0),
		field.Int("cache_read_tokens").Default(0),
		field.Int("output_tokens").Default(0),
		field.Bool("exclude_from_prompt").Default(false),
	}
}

// Edges of the Message.
func (Message) Edges() []ent.Edge {
	return []ent.Edge{
		edge.From("session", Session.Type).
			Ref("messages").
			Field("session_id").
			Unique().
			Required().
			Immutable(),
	}
}

// Indexes of the Message.
func (Message) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("session_id", "seq").Unique(),
	}
}
