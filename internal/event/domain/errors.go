package domain

import (
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrEventNotFound = errors.New("event_not_found")
	ErrInvalidUUID   = errors.New("invalid_uuid")
)

// SchemaError rejects an append whose payload does not match the schema for
// its name. Field names the offending payload field, or "name"/"entity_id".
type SchemaError struct {
	Name   Name
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema_error: %s.%s: %s", e.Name, e.Field, e.Reason)
}

func (e *SchemaError) Kind() string { return "schema" }

// ListenerError reports a listener failure after the event was stored.
type ListenerError struct {
	EventID   snowflake.ID
	EventName Name
	Listener  string
	Err       error
}

func (e *ListenerError) Error() string {
	return fmt.Sprintf("listener %s failed for %s event %s: %v", e.Listener, e.EventName, e.EventID, e.Err)
}

func (e *ListenerError) Unwrap() error { return e.Err }
