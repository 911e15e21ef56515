package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a row does not exist.
var ErrNotFound = errors.New("not found")

// Repository groups data access by domain.
type Repository interface {
	Entries() EntryRepository
	Audit() AuditRepository

	Ping(ctx context.Context) error
}

// Entry is a stored credential row. The same shape travels between the
// gateway and the storage service.
type Entry struct {
	ID              int64     `json:"id"`
	Title           string    `json:"title"`
	Description     string    `json:"description"`
	Username        string    `json:"username"`
	EncryptedSecret string    `json:"encryptedPassword"`
	URL             string    `json:"url"`
	Category        string    `json:"category"`
	Notes           string    `json:"notes"`
	MasterKeyHash   string    `json:"masterKeyHash"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
	Version         int       `json:"version"`
}

// EntryInput carries the columns written on create.
type EntryInput struct {
	Title           string `json:"title" validate:"required,max=200"`
	Description     string `json:"description" validate:"max=500"`
	Username        string `json:"username" validate:"required,max=200"`
	EncryptedSecret string `json:"encryptedPassword" validate:"required"`
	URL             string `json:"url" validate:"max=500"`
	Category        string `json:"category" validate:"required,max=200"`
	Notes           string `json:"notes"`
	MasterKeyHash   string `json:"masterKeyHash" validate:"required,max=500"`
}

// EntryUpdate is a partial update; nil fields are left unchanged.
type EntryUpdate struct {
	Title           *string `json:"title,omitempty" validate:"omitempty,min=1,max=200"`
	Description     *string `json:"description,omitempty" validate:"omitempty,max=500"`
	Username        *string `json:"username,omitempty" validate:"omitempty,min=1,max=200"`
	EncryptedSecret *string `json:"encryptedPassword,omitempty" validate:"omitempty,min=1"`
	URL             *string `json:"url,omitempty" validate:"omitempty,max=500"`
	Category        *string `json:"category,omitempty" validate:"omitempty,min=1,max=200"`
	Notes           *string `json:"notes,omitempty"`
	MasterKeyHash   *string `json:"masterKeyHash,omitempty" validate:"omitempty,min=1,max=500"`
}

// Empty reports whether the update changes nothing.
func (u EntryUpdate) Empty() bool {
	return u.Title == nil && u.Description == nil && u.Username == nil &&
		u.EncryptedSecret == nil && u.URL == nil && u.Category == nil &&
		u.Notes == nil && u.MasterKeyHash == nil
}

type EntryRepository interface {
	List(ctx context.Context) ([]Entry, error)
	Get(ctx context.Context, id int64) (*Entry, error)
	Create(ctx context.Context, in EntryInput) (*Entry, error)
	Update(ctx context.Context, id int64, upd EntryUpdate) (*Entry, error)
	Delete(ctx context.Context, id int64) error
}

// AuditEvent is one ingested password event. ErrorDetail is set on
// dead-lettered rows.
type AuditEvent struct {
	ID          int64     `json:"id"`
	EventID     string    `json:"eventId"`
	Type        string    `json:"type"`
	OccurredAt  time.Time `json:"occurredAt"`
	Payload     string    `json:"payload"`
	ReceivedAt  time.Time `json:"receivedAt"`
	ErrorDetail *string   `json:"errorDetail,omitempty"`
}

type AuditFilter struct {
	Type  string
	Limit int
}

type TypeCount struct {
	Type  string `json:"type"`
	Count int64  `json:"count"`
}

type AuditStats struct {
	Total  int64       `json:"total"`
	Errors int64       `json:"errors"`
	ByType []TypeCount `json:"byType"`
}

type AuditRepository interface {
	// InsertIfAbsent stores ev unless a row with the same EventID exists.
	// It reports whether a row was written.
	InsertIfAbsent(ctx context.Context, ev AuditEvent) (bool, error)
	List(ctx context.Context, filter AuditFilter) ([]AuditEvent, error)
	GetByEventID(ctx context.Context, eventID string) (*AuditEvent, error)
	Stats(ctx context.Context) (*AuditStats, error)
}
