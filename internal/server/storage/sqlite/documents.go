package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/startuppulse/pulsesync/internal/models"
	"github.com/startuppulse/pulsesync/internal/server/storage"
)

const documentColumns = `d.id, d.kind, d.owner_id, d.fields, d.version, d.updated_at, d.cursor, d.deleted, d.modified_at`

// ApplyMutation validates and applies a mutation in one transaction
func (s *Storage) ApplyMutation(ctx context.Context, m *storage.Mutation) (res *storage.MutationResult, err error) {
	if m.DocumentID == "" {
		return nil, fmt.Errorf("document id is required")
	}
	if !m.Type.Valid() {
		return nil, fmt.Errorf("unknown mutation type %q", m.Type)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if m.IdempotencyKey != "" {
		res, err = s.replay(ctx, tx, m)
		if err != nil {
			return nil, err
		}
		if res != nil {
			return res, tx.Commit()
		}
	}

	existing, err := getDocument(ctx, tx, m.DocumentID)
	if err != nil && !errors.Is(err, storage.ErrDocumentNotFound) {
		return nil, err
	}
	if existing != nil && existing.OwnerID != m.OwnerID {
		return nil, storage.ErrForbidden
	}

	now := s.now()
	var doc *storage.Document

	switch m.Type {
	case models.MutationCreate:
		if existing != nil {
			return nil, storage.ErrDocumentExists
		}
		doc = &storage.Document{
			ID:      m.DocumentID,
			Kind:    m.Kind,
			OwnerID: m.OwnerID,
			Fields:  m.Fields.Clone(),
			Version: 1,
		}
		if doc.Fields == nil {
			doc.Fields = models.Fields{}
		}

	case models.MutationUpdate:
		// документ, удаленный и вычищенный по retention, тоже считается удаленным
		if existing == nil || existing.Deleted {
			return nil, storage.ErrDocumentDeleted
		}
		if m.BaseVersion < existing.Version {
			return nil, storage.ErrVersionConflict
		}
		doc = existing
		if doc.Fields == nil {
			doc.Fields = models.Fields{}
		}
		for k, v := range m.Fields {
			doc.Fields[k] = v
		}
		doc.Version++

	case models.MutationDelete:
		if existing == nil {
			// удаление несуществующего документа подтверждается без изменения ленты
			res = &storage.MutationResult{ServerVersion: m.BaseVersion}
			if err := saveKey(ctx, tx, m, res, now); err != nil {
				return nil, err
			}
			return res, tx.Commit()
		}
		if existing.Deleted {
			res = &storage.MutationResult{Document: existing, ServerVersion: existing.Version, Cursor: existing.Cursor}
			if err := saveKey(ctx, tx, m, res, now); err != nil {
				return nil, err
			}
			return res, tx.Commit()
		}
		if m.BaseVersion < existing.Version {
			return nil, storage.ErrVersionConflict
		}
		doc = existing
		doc.Fields = nil
		doc.Deleted = true
		doc.Version++
	}

	doc.UpdatedAt = m.UpdatedAt
	doc.ModifiedAt = now
	if doc.Kind == "" {
		doc.Kind = m.Kind
	}

	if err := putDocument(ctx, tx, doc); err != nil {
		return nil, err
	}

	res = &storage.MutationResult{Document: doc, ServerVersion: doc.Version, Cursor: doc.Cursor}
	if err := saveKey(ctx, tx, m, res, now); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit mutation: %w", err)
	}
	return res, nil
}

// replay returns the stored result of an already applied idempotency key, nil if unknown
func (s *Storage) replay(ctx context.Context, tx *sql.Tx, m *storage.Mutation) (*storage.MutationResult, error) {
	var (
		ownerID, documentID string
		version, cursor     int64
	)
	err := tx.QueryRowContext(ctx,
		`SELECT owner_id, document_id, version, cursor FROM idempotency_keys WHERE key = ?`,
		m.IdempotencyKey,
	).Scan(&ownerID, &documentID, &version, &cursor)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get idempotency key: %w", err)
	}
	if ownerID != m.OwnerID || documentID != m.DocumentID {
		return nil, storage.ErrForbidden
	}

	res := &storage.MutationResult{ServerVersion: version, Cursor: cursor, Duplicate: true}
	doc, err := getDocument(ctx, tx, documentID)
	if err != nil && !errors.Is(err, storage.ErrDocumentNotFound) {
		return nil, err
	}
	res.Document = doc
	return res, nil
}

func saveKey(ctx context.Context, tx *sql.Tx, m *storage.Mutation, res *storage.MutationResult, now time.Time) error {
	if m.IdempotencyKey == "" {
		return nil
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO idempotency_keys (key, owner_id, document_id, version, cursor, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, m.IdempotencyKey, m.OwnerID, m.DocumentID, res.ServerVersion, res.Cursor, now.Unix())
	if err != nil {
		return fmt.Errorf("failed to save idempotency key: %w", err)
	}
	return nil
}

// putDocument upserts the document and moves it to the head of the change feed
func putDocument(ctx context.Context, tx *sql.Tx, doc *storage.Document) error {
	fields, err := marshalFields(doc.Fields)
	if err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (id, kind, owner_id, fields, version, updated_at, cursor, deleted, modified_at)
		VALUES (?, ?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			fields = excluded.fields,
			version = excluded.version,
			updated_at = excluded.updated_at,
			deleted = excluded.deleted,
			modified_at = excluded.modified_at
	`, doc.ID, doc.Kind, doc.OwnerID, fields, doc.Version, doc.UpdatedAt, boolToInt(doc.Deleted), doc.ModifiedAt.Unix())
	if err != nil {
		return fmt.Errorf("failed to save document: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM changes WHERE document_id = ?`, doc.ID); err != nil {
		return fmt.Errorf("failed to drop previous change: %w", err)
	}

	result, err := tx.ExecContext(ctx, `INSERT INTO changes (document_id) VALUES (?)`, doc.ID)
	if err != nil {
		return fmt.Errorf("failed to append change: %w", err)
	}
	cursor, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get change cursor: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE documents SET cursor = ? WHERE id = ?`, cursor, doc.ID); err != nil {
		return fmt.Errorf("failed to save document cursor: %w", err)
	}
	doc.Cursor = cursor
	return nil
}

// GetDocument retrieves a document, deleted documents included
func (s *Storage) GetDocument(ctx context.Context, id string) (*storage.Document, error) {
	return getDocument(ctx, s.db, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getDocument(ctx context.Context, q queryer, id string) (*storage.Document, error) {
	row := q.QueryRowContext(ctx, `SELECT `+documentColumns+` FROM documents d WHERE d.id = ?`, id)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrDocumentNotFound
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}
	return doc, nil
}

// ChangesAfter returns documents changed after the cursor in cursor order
func (s *Storage) ChangesAfter(ctx context.Context, after int64, kinds []string, limit int) (docs []*storage.Document, err error) {
	if after > 0 {
		var prunedThrough int64
		if err := s.db.QueryRowContext(ctx, `SELECT pruned_through FROM feed_state WHERE id = 1`).Scan(&prunedThrough); err != nil {
			return nil, fmt.Errorf("failed to get feed state: %w", err)
		}
		if after < prunedThrough {
			return nil, storage.ErrCursorExpired
		}
	}

	query := `SELECT ` + documentColumns + ` FROM changes c JOIN documents d ON d.id = c.document_id WHERE c.cursor > ?`
	args := []any{after}
	if len(kinds) > 0 {
		query += ` AND d.kind IN (?` + strings.Repeat(`, ?`, len(kinds)-1) + `)`
		for _, k := range kinds {
			args = append(args, k)
		}
	}
	query += ` ORDER BY c.cursor ASC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query changes: %w", err)
	}
	defer func() {
		if cerr := rows.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan change: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return docs, nil
}

// LatestCursor returns the cursor of the most recent change
func (s *Storage) LatestCursor(ctx context.Context) (int64, error) {
	var cursor sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT MAX(cursor) FROM changes`).Scan(&cursor); err != nil {
		return 0, fmt.Errorf("failed to get latest cursor: %w", err)
	}
	return cursor.Int64, nil
}

// PruneTombstones erases deleted documents and idempotency keys older than before.
// Cursors below the highest erased change can no longer be resumed.
func (s *Storage) PruneTombstones(ctx context.Context, before time.Time) (n int, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var maxCursor sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`SELECT MAX(cursor) FROM documents WHERE deleted = 1 AND modified_at < ?`, before.Unix(),
	).Scan(&maxCursor)
	if err != nil {
		return 0, fmt.Errorf("failed to find expired tombstones: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE deleted = 1 AND modified_at < ?`, before.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune tombstones: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if maxCursor.Valid {
		_, err = tx.ExecContext(ctx,
			`UPDATE feed_state SET pruned_through = MAX(pruned_through, ?) WHERE id = 1`, maxCursor.Int64)
		if err != nil {
			return 0, fmt.Errorf("failed to update feed state: %w", err)
		}
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE created_at < ?`, before.Unix()); err != nil {
		return 0, fmt.Errorf("failed to prune idempotency keys: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit prune: %w", err)
	}
	return int(rows), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (*storage.Document, error) {
	doc := &storage.Document{}
	var (
		fields     sql.NullString
		deleted    int
		modifiedAt int64
	)
	err := row.Scan(
		&doc.ID,
		&doc.Kind,
		&doc.OwnerID,
		&fields,
		&doc.Version,
		&doc.UpdatedAt,
		&doc.Cursor,
		&deleted,
		&modifiedAt,
	)
	if err != nil {
		return nil, err
	}

	if fields.Valid && fields.String != "" {
		if err := json.Unmarshal([]byte(fields.String), &doc.Fields); err != nil {
			return nil, fmt.Errorf("failed to decode fields of %s: %w", doc.ID, err)
		}
	}
	doc.Deleted = intToBool(deleted)
	doc.ModifiedAt = unixToTime(modifiedAt)
	return doc, nil
}

func marshalFields(f models.Fields) (sql.NullString, error) {
	if f == nil {
		return sql.NullString{}, nil
	}
	raw, err := json.Marshal(f)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to encode fields: %w", err)
	}
	return sql.NullString{String: string(raw), Valid: true}, nil
}

// Helper functions for bool/int conversion
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func intToBool(i int) bool {
	return i != 0
}

func unixToTime(timestamp int64) time.Time {
	return time.Unix(timestamp, 0)
}

var _ storage.DocumentStorage = (*Storage)(nil)
