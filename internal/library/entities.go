package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// LookupEntity fetches one entity by book, category, and untranslated key.
func (s *Store) LookupEntity(ctx context.Context, bookID int64, category Category, key string) (*Entity, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+entityColumns+` FROM entities WHERE book_id = ? AND category = ? AND key = ?`,
		bookID, category, key,
	)
	entity, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup entity: %w", err)
	}
	return entity, nil
}

// AddEntity inserts a new entity. The same key may not already exist in a
// different category for the book.
func (s *Store) AddEntity(ctx context.Context, entity Entity) (*Entity, error) {
	if !ValidCategory(string(entity.Category)) {
		return nil, fmt.Errorf("unknown category %q", entity.Category)
	}
	if entity.Translation == "" {
		return nil, errors.New("entity translation is required")
	}

	var other string
	row := s.db.QueryRowContext(
		ctx,
		`SELECT category FROM entities WHERE book_id = ? AND key = ? AND category != ?`,
		entity.BookID, entity.Key, entity.Category,
	)
	if err := row.Scan(&other); err == nil {
		return nil, fmt.Errorf("entity %q already exists in category %q", entity.Key, other)
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("check entity category: %w", err)
	}

	if entity.Count <= 0 {
		entity.Count = 1
	}
	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO entities (book_id, category, key, translation, gender, count, last_chapter, incorrect_translation)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT(book_id, category, key) DO UPDATE SET
             translation = excluded.translation,
             gender = excluded.gender,
             incorrect_translation = excluded.incorrect_translation`,
		entity.BookID, entity.Category, entity.Key, entity.Translation,
		nullable(entity.Gender), entity.Count, entity.LastChapter,
		nullable(entity.IncorrectTranslation),
	)
	if err != nil {
		return nil, fmt.Errorf("insert entity: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil && id > 0 {
		entity.ID = id
	}
	return s.LookupEntity(ctx, entity.BookID, entity.Category, entity.Key)
}

// UpdateEntity persists field changes to an existing entity.
func (s *Store) UpdateEntity(ctx context.Context, entity *Entity) error {
	if entity == nil {
		return errors.New("entity is nil")
	}
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE entities
         SET translation = ?, gender = ?, count = ?, last_chapter = ?, incorrect_translation = ?
         WHERE book_id = ? AND category = ? AND key = ?`,
		entity.Translation, nullable(entity.Gender), entity.Count,
		entity.LastChapter, nullable(entity.IncorrectTranslation),
		entity.BookID, entity.Category, entity.Key,
	)
	if err != nil {
		return fmt.Errorf("update entity: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("entity %s/%q: %w", entity.Category, entity.Key, ErrNotFound)
	}
	return nil
}

// DeleteEntity removes one entity.
func (s *Store) DeleteEntity(ctx context.Context, bookID int64, category Category, key string) error {
	res, err := s.db.ExecContext(
		ctx,
		`DELETE FROM entities WHERE book_id = ? AND category = ? AND key = ?`,
		bookID, category, key,
	)
	if err != nil {
		return fmt.Errorf("delete entity: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("entity %s/%q: %w", category, key, ErrNotFound)
	}
	return nil
}

// ChangeEntityCategory moves an entity between categories, refusing when the
// target category already holds the key.
func (s *Store) ChangeEntityCategory(ctx context.Context, bookID int64, key string, from, to Category) error {
	if !ValidCategory(string(to)) {
		return fmt.Errorf("unknown category %q", to)
	}
	if _, err := s.LookupEntity(ctx, bookID, to, key); err == nil {
		return fmt.Errorf("entity %q already exists in category %q", key, to)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}

	res, err := s.db.ExecContext(
		ctx,
		`UPDATE entities SET category = ? WHERE book_id = ? AND category = ? AND key = ?`,
		to, bookID, from, key,
	)
	if err != nil {
		return fmt.Errorf("change entity category: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("entity %s/%q: %w", from, key, ErrNotFound)
	}
	return nil
}

// EntitiesForBook loads a book's entity set. A positive window restricts the
// result to entities last seen within the most recent window chapters,
// bounding prompt size for long books.
func (s *Store) EntitiesForBook(ctx context.Context, bookID int64, window int) (EntitySet, error) {
	query := `SELECT ` + entityColumns + ` FROM entities WHERE book_id = ?`
	args := []any{bookID}
	if window > 0 {
		query += ` AND last_chapter >= (SELECT COALESCE(MAX(last_chapter), 0) FROM entities WHERE book_id = ?) - ?`
		args = append(args, bookID, window)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("load entities: %w", err)
	}
	defer rows.Close()

	set := NewEntitySet()
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		set[entity.Category][entity.Key] = EntityFields{
			Translation:          entity.Translation,
			Gender:               entity.Gender,
			Count:                entity.Count,
			LastChapter:          entity.LastChapter,
			IncorrectTranslation: entity.IncorrectTranslation,
		}
	}
	return set, rows.Err()
}

// ListEntities returns a book's entities, optionally restricted to one
// category, ordered for stable presentation.
func (s *Store) ListEntities(ctx context.Context, bookID int64, category Category) ([]Entity, error) {
	query := `SELECT ` + entityColumns + ` FROM entities WHERE book_id = ?`
	args := []any{bookID}
	if category != "" {
		query += ` AND category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY category, key`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()

	var entities []Entity
	for rows.Next() {
		entity, err := scanEntity(rows)
		if err != nil {
			return nil, err
		}
		entities = append(entities, *entity)
	}
	return entities, rows.Err()
}

const entityColumns = "id, book_id, category, key, translation, gender, count, last_chapter, incorrect_translation"

func scanEntity(scanner interface{ Scan(dest ...any) error }) (*Entity, error) {
	var (
		entity    Entity
		gender    sql.NullString
		incorrect sql.NullString
	)
	if err := scanner.Scan(
		&entity.ID,
		&entity.BookID,
		&entity.Category,
		&entity.Key,
		&entity.Translation,
		&gender,
		&entity.Count,
		&entity.LastChapter,
		&incorrect,
	); err != nil {
		return nil, err
	}
	entity.Gender = gender.String
	entity.IncorrectTranslation = incorrect.String
	return &entity, nil
}
