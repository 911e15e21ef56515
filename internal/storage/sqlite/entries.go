package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Togather-Foundation/passvault/internal/metrics"
	"github.com/Togather-Foundation/passvault/internal/storage"
)

var _ storage.EntryRepository = (*EntryRepository)(nil)

const entryColumns = `id, title, description, username, encrypted_password, url, category, notes,
       master_key_hash, version, created_at, updated_at`

type EntryRepository struct {
	db *DB
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*storage.Entry, error) {
	var (
		e                storage.Entry
		created, updated string
	)
	if err := row.Scan(
		&e.ID,
		&e.Title,
		&e.Description,
		&e.Username,
		&e.EncryptedSecret,
		&e.URL,
		&e.Category,
		&e.Notes,
		&e.MasterKeyHash,
		&e.Version,
		&created,
		&updated,
	); err != nil {
		return nil, err
	}

	var err error
	if e.CreatedAt, err = parseTime(created); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if e.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	return &e, nil
}

// List returns all entries ordered by id.
func (r *EntryRepository) List(ctx context.Context) (_ []storage.Entry, err error) {
	defer func(start time.Time) { metrics.RecordQuery("list_entries", start, err) }(time.Now())

	const query = `SELECT ` + entryColumns + ` FROM password_entries ORDER BY id ASC`
	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := make([]storage.Entry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return entries, nil
}

func (r *EntryRepository) Get(ctx context.Context, id int64) (_ *storage.Entry, err error) {
	defer func(start time.Time) { metrics.RecordQuery("get_entry", start, err) }(time.Now())

	const query = `SELECT ` + entryColumns + ` FROM password_entries WHERE id = ?`
	e, err := scanEntry(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get entry %d: %w", id, err)
	}
	return e, nil
}

// Create inserts a new entry at version 1.
func (r *EntryRepository) Create(ctx context.Context, in storage.EntryInput) (_ *storage.Entry, err error) {
	defer func(start time.Time) { metrics.RecordQuery("create_entry", start, err) }(time.Now())

	now := formatTime(time.Now())
	const query = `
INSERT INTO password_entries
       (title, description, username, encrypted_password, url, category, notes, master_key_hash, version, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
RETURNING ` + entryColumns

	e, err := scanEntry(r.db.Writer.QueryRowContext(ctx, query,
		in.Title,
		in.Description,
		in.Username,
		in.EncryptedSecret,
		in.URL,
		in.Category,
		in.Notes,
		in.MasterKeyHash,
		now,
		now,
	))
	if err != nil {
		return nil, fmt.Errorf("create entry: %w", err)
	}
	return e, nil
}

// Update applies the non-nil fields of upd, bumps version and updated_at.
func (r *EntryRepository) Update(ctx context.Context, id int64, upd storage.EntryUpdate) (_ *storage.Entry, err error) {
	defer func(start time.Time) { metrics.RecordQuery("update_entry", start, err) }(time.Now())

	const query = `
UPDATE password_entries
   SET title              = COALESCE(?, title),
       description        = COALESCE(?, description),
       username           = COALESCE(?, username),
       encrypted_password = COALESCE(?, encrypted_password),
       url                = COALESCE(?, url),
       category           = COALESCE(?, category),
       notes              = COALESCE(?, notes),
       master_key_hash    = COALESCE(?, master_key_hash),
       version            = version + 1,
       updated_at         = ?
 WHERE id = ?
RETURNING ` + entryColumns

	e, err := scanEntry(r.db.Writer.QueryRowContext(ctx, query,
		nullable(upd.Title),
		nullable(upd.Description),
		nullable(upd.Username),
		nullable(upd.EncryptedSecret),
		nullable(upd.URL),
		nullable(upd.Category),
		nullable(upd.Notes),
		nullable(upd.MasterKeyHash),
		formatTime(time.Now()),
		id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update entry %d: %w", id, err)
	}
	return e, nil
}

func (r *EntryRepository) Delete(ctx context.Context, id int64) (err error) {
	defer func(start time.Time) { metrics.RecordQuery("delete_entry", start, err) }(time.Now())

	const query = `DELETE FROM password_entries WHERE id = ?`
	res, err := r.db.Writer.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete entry %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete entry %d: rows affected: %w", id, err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
