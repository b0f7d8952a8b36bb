package storage

import (
	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"
)

var (
	// SessionsColumns holds the columns for the "sessions" table.
	SessionsColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString},
		{Name: "name", Type: field.TypeString, Default: ""},
		{Name: "type", Type: field.TypeString},
		{Name: "state", Type: field.TypeString, Default: "IDLE"},
		{Name: "end_reason", Type: field.TypeString, Nullable: true},
		{Name: "require_validation", Type: field.TypeBool, Default: false},
		{Name: "automation_id", Type: field.TypeString, Default: ""},
		{Name: "scheduled_execution_ms", Type: field.TypeInt64, Nullable: true},
		{Name: "provider_id", Type: field.TypeString, Default: ""},
		{Name: "last_network_error_ms", Type: field.TypeInt64, Nullable: true},
		{Name: "is_active", Type: field.TypeBool, Default: false},
		{Name: "created_at_ms", Type: field.TypeInt64},
		{Name: "last_activity_ms", Type: field.TypeInt64},
	}
	// SessionsTable holds the schema information for the "sessions" table.
	SessionsTable = &schema.Table{
		Name:       "sessions",
		Columns:    SessionsColumns,
		PrimaryKey: []*schema.Column{SessionsColumns[0]},
		Indexes: []*schema.Index{
			{Name: "session_is_active", Columns: []*schema.Column{SessionsColumns[10]}},
			{Name: "session_type_automation_id", Columns: []*schema.Column{SessionsColumns[2], SessionsColumns[6]}},
			{Name: "session_created_at_ms", Columns: []*schema.Column{SessionsColumns[11]}},
		},
	}

	// MessagesColumns holds the columns for the "messages" table.
	MessagesColumns = []*schema.Column{
		{Name: "id", Type: field.TypeString},
		{Name: "session_id", Type: field.TypeString},
		{Name: "sender", Type: field.TypeString},
		{Name: "seq", Type: field.TypeInt64},
		{Name: "timestamp_ms", Type: field.TypeInt64},
		{Name: "rich_content", Type: field.TypeString, Nullable: true},
		{Name: "text_content", Type: field.TypeString, Default: ""},
		{Name: "ai_message", Type: field.TypeString, Nullable: true},
		{Name: "ai_message_json", Type: field.TypeString, Default: ""},
		{Name: "system_message", Type: field.TypeString, Nullable: true},
		{Name: "input_tokens", Type: field.TypeInt, Default: 0},
		{Name: "cache_write_tokens", Type: field.TypeInt, Default: 0},
		{Name: "cache_read_tokens", Type: field.TypeInt, Default: 0},
		{Name: "output_tokens", Type: field.TypeInt, Default: 0},
		{Name: "exclude_from_prompt", Type: field.TypeBool, Default: false},
	}
	// MessagesTable holds the schema information for the "messages" table.
	MessagesTable = &schema.Table{
		Name:       "messages",
		Columns:    MessagesColumns,
		PrimaryKey: []*schema.Column{MessagesColumns[0]},
		ForeignKeys: []*schema.ForeignKey{
			{
				Symbol:     "messages_sessions_messages",
				Columns:    []*schema.Column{MessagesColumns[1]},
				RefColumns: []*schema.Column{SessionsColumns[0]},
				OnDelete:   schema.Cascade,
			},
		},
		Indexes: []*schema.Index{
			{Name: "message_session_id_seq", Unique: true, Columns: []*schema.Column{MessagesColumns[1], MessagesColumns[3]}},
		},
	}

	// Tables holds all the tables in the schema.
	Tables = []*schema.Table{
		SessionsTable,
		MessagesTable,
	}
)

func init() {
	MessagesTable.ForeignKeys[0].RefTable = SessionsTable
}
