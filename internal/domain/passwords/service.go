// Package passwords implements the gateway's credential operations: it
// encrypts secrets under a caller-held master key, verifies that key before
// any mutation and delegates persistence to the storage service.
package passwords

import (
	"context"
	"errors"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/Togather-Foundation/passvault/internal/apperror"
	"github.com/Togather-Foundation/passvault/internal/cipher"
	"github.com/Togather-Foundation/passvault/internal/events"
	"github.com/Togather-Foundation/passvault/internal/storage"
	"github.com/Togather-Foundation/passvault/internal/validation"
)

// Store persists entries. *storageclient.Client satisfies it.
type Store interface {
	ListEntries(ctx context.Context) ([]storage.Entry, error)
	GetEntry(ctx context.Context, id int64) (*storage.Entry, error)
	CreateEntry(ctx context.Context, in storage.EntryInput) (*storage.Entry, error)
	UpdateEntry(ctx context.Context, id int64, upd storage.EntryUpdate) (*storage.Entry, error)
	DeleteEntry(ctx context.Context, id int64) error
}

// Publisher emits lifecycle events. Failures never fail the operation.
type Publisher interface {
	Publish(ctx context.Context, eventType string, data events.EntryData) error
}

type Service struct {
	store     Store
	box       *cipher.Box
	publisher Publisher
	validate  *validator.Validate
	logger    zerolog.Logger
}

func NewService(store Store, box *cipher.Box, publisher Publisher, logger zerolog.Logger) *Service {
	if publisher == nil {
		publisher = events.Discard{}
	}
	return &Service{
		store:     store,
		box:       box,
		publisher: publisher,
		validate:  validation.New(),
		logger:    logger.With().Str("component", "passwords").Logger(),
	}
}

func missingMasterKey() error {
	return apperror.New(apperror.KindValidation, apperror.CodeMissingMasterKey, "masterKey is required")
}

func invalidMasterKey() error {
	return apperror.New(apperror.KindAuth, apperror.CodeInvalidMasterKey, "invalid master key")
}

func (s *Service) Create(ctx context.Context, in CreateInput) (*View, error) {
	if in.MasterKey == "" {
		return nil, missingMasterKey()
	}
	if err := s.validate.StructCtx(ctx, in); err != nil {
		return nil, validation.Error(err)
	}

	ciphertext, err := s.box.Encrypt(in.Password, in.MasterKey)
	if err != nil {
		return nil, apperror.Internal(err, "could not encrypt password")
	}
	hash, err := s.box.Hash(in.MasterKey)
	if err != nil {
		return nil, apperror.Internal(err, "could not hash master key")
	}

	entry, err := s.store.CreateEntry(ctx, storage.EntryInput{
		Title:           in.Title,
		Description:     in.Description,
		Username:        in.Username,
		EncryptedSecret: ciphertext,
		URL:             in.URL,
		Category:        in.Category,
		Notes:           in.Notes,
		MasterKeyHash:   hash,
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.TypeCreated, entry)
	view := NewView(entry)
	return &view, nil
}

func (s *Service) List(ctx context.Context) ([]View, error) {
	entries, err := s.store.ListEntries(ctx)
	if err != nil {
		return nil, err
	}
	views := make([]View, 0, len(entries))
	for i := range entries {
		views = append(views, NewView(&entries[i]))
	}
	return views, nil
}

func (s *Service) Get(ctx context.Context, id int64) (*View, error) {
	entry, err := s.store.GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	view := NewView(entry)
	return &view, nil
}

// Update verifies the current master key, then applies the present fields.
// With NewMasterKey set the secret is re-encrypted and the hash replaced.
func (s *Service) Update(ctx context.Context, id int64, in UpdateInput) (*View, error) {
	if in.MasterKey == "" {
		return nil, missingMasterKey()
	}
	if err := s.validate.StructCtx(ctx, in); err != nil {
		return nil, validation.Error(err)
	}

	existing, err := s.verified(ctx, id, in.MasterKey)
	if err != nil {
		return nil, err
	}

	upd := storage.EntryUpdate{
		Title:       in.Title,
		Description: in.Description,
		Username:    in.Username,
		URL:         in.URL,
		Category:    in.Category,
		Notes:       in.Notes,
	}

	key := in.MasterKey
	secret := in.Password
	if in.NewMasterKey != nil && *in.NewMasterKey != in.MasterKey {
		key = *in.NewMasterKey
		hash, err := s.box.Hash(key)
		if err != nil {
			return nil, apperror.Internal(err, "could not hash master key")
		}
		upd.MasterKeyHash = &hash

		if secret == nil {
			plain := s.box.Decrypt(existing.EncryptedSecret, in.MasterKey)
			if plain == "" {
				return nil, apperror.Internal(errors.New("stored secret did not decrypt under the verified key"), "could not re-encrypt password")
			}
			secret = &plain
		}
	}
	if secret != nil {
		ciphertext, err := s.box.Encrypt(*secret, key)
		if err != nil {
			return nil, apperror.Internal(err, "could not encrypt password")
		}
		upd.EncryptedSecret = &ciphertext
	}

	if upd.Empty() {
		view := NewView(existing)
		return &view, nil
	}

	updated, err := s.store.UpdateEntry(ctx, id, upd)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.TypeUpdated, updated)
	view := NewView(updated)
	return &view, nil
}

// Delete requires the master key and rejects an empty one before touching
// storage.
func (s *Service) Delete(ctx context.Context, id int64, masterKey string) (*DeleteResult, error) {
	if masterKey == "" {
		return nil, missingMasterKey()
	}

	existing, err := s.verified(ctx, id, masterKey)
	if err != nil {
		return nil, err
	}
	if err := s.store.DeleteEntry(ctx, id); err != nil {
		return nil, err
	}

	s.publish(ctx, events.TypeDeleted, existing)
	return &DeleteResult{ID: id, Deleted: true}, nil
}

func (s *Service) Decrypt(ctx context.Context, id int64, masterKey string) (*DecryptResult, error) {
	if masterKey == "" {
		return nil, missingMasterKey()
	}

	entry, err := s.verified(ctx, id, masterKey)
	if err != nil {
		return nil, err
	}

	plain := s.box.Decrypt(entry.EncryptedSecret, masterKey)
	if plain == "" {
		return nil, apperror.Internal(errors.New("ciphertext did not decrypt under the verified key"), "could not decrypt password")
	}
	return &DecryptResult{
		ID:                entry.ID,
		Title:             entry.Title,
		Username:          entry.Username,
		DecryptedPassword: plain,
	}, nil
}

func (s *Service) verified(ctx context.Context, id int64, masterKey string) (*storage.Entry, error) {
	entry, err := s.store.GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if !s.box.Verify(masterKey, entry.MasterKeyHash) {
		return nil, invalidMasterKey()
	}
	return entry, nil
}

func (s *Service) publish(ctx context.Context, eventType string, e *storage.Entry) {
	data := events.EntryData{
		ID:       e.ID,
		Title:    e.Title,
		Username: e.Username,
		URL:      e.URL,
		Category: e.Category,
	}
	if err := s.publisher.Publish(ctx, eventType, data); err != nil {
		s.logger.Warn().Err(err).Str("type", eventType).Int64("entry_id", e.ID).Msg("event publish failed")
	}
}
