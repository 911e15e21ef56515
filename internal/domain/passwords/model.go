package passwords

import (
	"time"

	"github.com/Togather-Foundation/passvault/internal/storage"
)

// Entry is the stored form, including the ciphertext and master-key hash.
type Entry = storage.Entry

// View is what the gateway returns. It never carries secrets.
type View struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Username    string    `json:"username"`
	URL         string    `json:"url"`
	Category    string    `json:"category"`
	Notes       string    `json:"notes"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	Version     int       `json:"version"`
}

func NewView(e *Entry) View {
	return View{
		ID:          e.ID,
		Title:       e.Title,
		Description: e.Description,
		Username:    e.Username,
		URL:         e.URL,
		Category:    e.Category,
		Notes:       e.Notes,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
		Version:     e.Version,
	}
}

type CreateInput struct {
	Title       string `json:"title" validate:"required,max=200"`
	Description string `json:"description" validate:"max=500"`
	Username    string `json:"username" validate:"required,max=200"`
	Password    string `json:"password" validate:"required"`
	URL         string `json:"url" validate:"omitempty,max=500,weburl"`
	Category    string `json:"category" validate:"required,max=200"`
	Notes       string `json:"notes"`
	MasterKey   string `json:"masterKey" validate:"required,masterkey"`
}

// UpdateInput changes only the fields that are present. NewMasterKey rotates
// the master key and re-encrypts the stored secret under it.
type UpdateInput struct {
	Title        *string `json:"title" validate:"omitempty,min=1,max=200"`
	Description  *string `json:"description" validate:"omitempty,max=500"`
	Username     *string `json:"username" validate:"omitempty,min=1,max=200"`
	Password     *string `json:"password" validate:"omitempty,min=1"`
	URL          *string `json:"url" validate:"omitempty,max=500,weburl"`
	Category     *string `json:"category" validate:"omitempty,min=1,max=200"`
	Notes        *string `json:"notes"`
	MasterKey    string  `json:"masterKey" validate:"required,masterkey"`
	NewMasterKey *string `json:"newMasterKey" validate:"omitempty,masterkey"`
}

type DecryptInput struct {
	MasterKey string `json:"masterKey"`
}

type DeleteResult struct {
	ID      int64 `json:"id"`
	Deleted bool  `json:"deleted"`
}

type DecryptResult struct {
	ID                int64  `json:"id"`
	Title             string `json:"title"`
	Username          string `json:"username"`
	DecryptedPassword string `json:"decryptedPassword"`
}
