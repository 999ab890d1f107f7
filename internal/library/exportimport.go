package library

import (
	"context"
	"encoding/json"
	"fmt"
)

// ExportEntities serializes a book's full entity set as indented JSON keyed
// by category then untranslated key.
func (s *Store) ExportEntities(ctx context.Context, bookID int64) ([]byte, error) {
	set, err := s.EntitiesForBook(ctx, bookID, 0)
	if err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(set, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode entities: %w", err)
	}
	return data, nil
}

// ImportEntities loads an exported entity set into a book. Existing entities
// with the same key are skipped unless force is set, so importing the same
// file twice produces the same store state. Returns the number of entities
// written.
func (s *Store) ImportEntities(ctx context.Context, bookID int64, data []byte, force bool) (int, error) {
	var set EntitySet
	if err := json.Unmarshal(data, &set); err != nil {
		return 0, fmt.Errorf("decode entities: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin import tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	written := 0
	for category, byKey := range set {
		if !ValidCategory(string(category)) {
			return 0, fmt.Errorf("unknown category %q in import", category)
		}
		for key, fields := range byKey {
			if fields.Translation == "" {
				return 0, fmt.Errorf("entity %s/%q: empty translation in import", category, key)
			}
			count := fields.Count
			if count <= 0 {
				count = 1
			}

			var exists int
			row := tx.QueryRowContext(
				ctx,
				`SELECT COUNT(1) FROM entities WHERE book_id = ? AND category = ? AND key = ?`,
				bookID, category, key,
			)
			if err := row.Scan(&exists); err != nil {
				return 0, fmt.Errorf("check entity %s/%q: %w", category, key, err)
			}
			if exists > 0 && !force {
				continue
			}

			if _, err := tx.ExecContext(
				ctx,
				`INSERT INTO entities (book_id, category, key, translation, gender, count, last_chapter, incorrect_translation)
                 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
                 ON CONFLICT(book_id, category, key) DO UPDATE SET
                     translation = excluded.translation,
                     gender = excluded.gender,
                     count = excluded.count,
                     last_chapter = excluded.last_chapter,
                     incorrect_translation = excluded.incorrect_translation`,
				bookID, category, key, fields.Translation,
				nullable(fields.Gender), count, fields.LastChapter,
				nullable(fields.IncorrectTranslation),
			); err != nil {
				return 0, fmt.Errorf("import entity %s/%q: %w", category, key, err)
			}
			written++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit import: %w", err)
	}
	return written, nil
}
