// Package events carries password lifecycle events over Kafka: the gateway
// publishes them and the storage service ingests them into the audit log.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	TypeCreated    = "password.created"
	TypeUpdated    = "password.updated"
	TypeDeleted    = "password.deleted"
	TypeDeadLetter = "dlq.error"

	SchemaVersion = "1"
	DefaultTopic  = "passwords.v1.events"

	HeaderEventType     = "event-type"
	HeaderSchemaVersion = "schema-version"

	maxTypeLen = 100
)

// ErrMalformed marks a message that can never be ingested as an event.
var ErrMalformed = errors.New("malformed event")

// Event is the wire form of a password event.
type Event struct {
	EventID       string          `json:"eventId"`
	Type          string          `json:"type"`
	At            time.Time       `json:"at"`
	SchemaVersion string          `json:"schemaVersion"`
	Data          json.RawMessage `json:"data,omitempty"`
}

// EntryData is the non-secret part of an entry that travels with events.
type EntryData struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	Username string `json:"username"`
	URL      string `json:"url,omitempty"`
	Category string `json:"category"`
}

// NewEntryEvent stamps a fresh event id and time on data.
func NewEntryEvent(eventType string, data EntryData, at time.Time) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("encode event data: %w", err)
	}
	return Event{
		EventID:       uuid.NewString(),
		Type:          eventType,
		At:            at.UTC(),
		SchemaVersion: SchemaVersion,
		Data:          raw,
	}, nil
}

// Parse decodes value and checks the required fields. Every failure wraps
// ErrMalformed.
func Parse(value []byte) (*Event, error) {
	if len(value) == 0 {
		return nil, fmt.Errorf("%w: empty message value", ErrMalformed)
	}

	var raw struct {
		EventID       string          `json:"eventId"`
		Type          string          `json:"type"`
		At            string          `json:"at"`
		SchemaVersion string          `json:"schemaVersion"`
		Data          json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(value, &raw); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrMalformed, err)
	}

	var missing []string
	if strings.TrimSpace(raw.EventID) == "" {
		missing = append(missing, "eventId")
	}
	if strings.TrimSpace(raw.Type) == "" {
		missing = append(missing, "type")
	}
	if strings.TrimSpace(raw.At) == "" {
		missing = append(missing, "at")
	}
	if strings.TrimSpace(raw.SchemaVersion) == "" {
		missing = append(missing, "schemaVersion")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing required fields: %s", ErrMalformed, strings.Join(missing, ", "))
	}
	if len(raw.Type) > maxTypeLen {
		return nil, fmt.Errorf("%w: type longer than %d characters", ErrMalformed, maxTypeLen)
	}

	at, err := time.Parse(time.RFC3339Nano, raw.At)
	if err != nil {
		return nil, fmt.Errorf("%w: unparsable at %q", ErrMalformed, raw.At)
	}

	return &Event{
		EventID:       raw.EventID,
		Type:          raw.Type,
		At:            at,
		SchemaVersion: raw.SchemaVersion,
		Data:          raw.Data,
	}, nil
}
