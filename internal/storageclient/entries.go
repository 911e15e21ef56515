package storageclient

import (
	"context"
	"net/http"
	"strconv"

	"github.com/Togather-Foundation/passvault/internal/storage"
)

// EntriesPath is the storage service's credential collection.
const EntriesPath = "/api/v1/storage/password_manager"

func entryPath(id int64) string {
	return EntriesPath + "/" + strconv.FormatInt(id, 10)
}

func (c *Client) ListEntries(ctx context.Context) ([]storage.Entry, error) {
	var entries []storage.Entry
	if err := c.Do(ctx, http.MethodGet, EntriesPath, nil, &entries); err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []storage.Entry{}
	}
	return entries, nil
}

func (c *Client) GetEntry(ctx context.Context, id int64) (*storage.Entry, error) {
	var entry storage.Entry
	if err := c.Do(ctx, http.MethodGet, entryPath(id), nil, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (c *Client) CreateEntry(ctx context.Context, in storage.EntryInput) (*storage.Entry, error) {
	var entry storage.Entry
	if err := c.Do(ctx, http.MethodPost, EntriesPath, in, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (c *Client) UpdateEntry(ctx context.Context, id int64, upd storage.EntryUpdate) (*storage.Entry, error) {
	var entry storage.Entry
	if err := c.Do(ctx, http.MethodPut, entryPath(id), upd, &entry); err != nil {
		return nil, err
	}
	return &entry, nil
}

func (c *Client) DeleteEntry(ctx context.Context, id int64) error {
	return c.Do(ctx, http.MethodDelete, entryPath(id), nil, nil)
}
