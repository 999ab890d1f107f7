package library

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SaveChapter inserts or replaces a chapter by (book, number) and bumps the
// book's modified time. Prefer CommitChapter for pipeline output so entity
// deltas land in the same transaction.
func (s *Store) SaveChapter(ctx context.Context, chapter *Chapter) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin chapter tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	id, err := saveChapterTx(ctx, tx, chapter)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit chapter: %w", err)
	}
	return id, nil
}

func saveChapterTx(ctx context.Context, tx *sql.Tx, chapter *Chapter) (int64, error) {
	if chapter == nil {
		return 0, errors.New("chapter is nil")
	}
	sourceJSON, err := json.Marshal(chapter.SourceContent)
	if err != nil {
		return 0, fmt.Errorf("marshal source content: %w", err)
	}
	contentJSON, err := json.Marshal(chapter.Content)
	if err != nil {
		return 0, fmt.Errorf("marshal content: %w", err)
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	var existingID int64
	row := tx.QueryRowContext(
		ctx,
		`SELECT id FROM chapters WHERE book_id = ? AND chapter_number = ?`,
		chapter.BookID, chapter.Number,
	)
	err = row.Scan(&existingID)
	switch {
	case err == nil:
		_, err = tx.ExecContext(
			ctx,
			`UPDATE chapters
             SET title = ?, source_content = ?, content = ?, summary = ?, model = ?, translated_at = ?
             WHERE id = ?`,
			chapter.Title, string(sourceJSON), string(contentJSON),
			nullable(chapter.Summary), nullable(chapter.Model), now, existingID,
		)
		if err != nil {
			return 0, fmt.Errorf("update chapter: %w", err)
		}
		chapter.ID = existingID
	case errors.Is(err, sql.ErrNoRows):
		res, err := tx.ExecContext(
			ctx,
			`INSERT INTO chapters (book_id, chapter_number, title, source_content, content, summary, model, translated_at)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			chapter.BookID, chapter.Number, chapter.Title, string(sourceJSON), string(contentJSON),
			nullable(chapter.Summary), nullable(chapter.Model), now,
		)
		if err != nil {
			return 0, fmt.Errorf("insert chapter: %w", err)
		}
		chapter.ID, err = res.LastInsertId()
		if err != nil {
			return 0, fmt.Errorf("last insert id: %w", err)
		}
	default:
		return 0, fmt.Errorf("find chapter: %w", err)
	}

	if _, err := tx.ExecContext(
		ctx,
		`UPDATE books SET modified_at = ? WHERE id = ?`,
		now, chapter.BookID,
	); err != nil {
		return 0, fmt.Errorf("touch book: %w", err)
	}
	return chapter.ID, nil
}

// GetChapter fetches a chapter by book and chapter number.
func (s *Store) GetChapter(ctx context.Context, bookID int64, number int) (*Chapter, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT id, book_id, chapter_number, title, source_content, content, summary, model, translated_at
         FROM chapters WHERE book_id = ? AND chapter_number = ?`,
		bookID, number,
	)
	return scanChapter(row)
}

// ListChapters returns chapter metadata for a book ordered by number. Content
// columns are loaded; callers listing many chapters can ignore them.
func (s *Store) ListChapters(ctx context.Context, bookID int64) ([]*Chapter, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, book_id, chapter_number, title, source_content, content, summary, model, translated_at
         FROM chapters WHERE book_id = ? ORDER BY chapter_number`,
		bookID,
	)
	if err != nil {
		return nil, fmt.Errorf("list chapters: %w", err)
	}
	defer rows.Close()

	var chapters []*Chapter
	for rows.Next() {
		chapter, err := scanChapter(rows)
		if err != nil {
			return nil, err
		}
		chapters = append(chapters, chapter)
	}
	return chapters, rows.Err()
}

// DeleteChapter removes a chapter by book and number.
func (s *Store) DeleteChapter(ctx context.Context, bookID int64, number int) error {
	res, err := s.db.ExecContext(
		ctx,
		`DELETE FROM chapters WHERE book_id = ? AND chapter_number = ?`,
		bookID, number,
	)
	if err != nil {
		return fmt.Errorf("delete chapter: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("chapter %d of book %d: %w", number, bookID, ErrNotFound)
	}
	return nil
}

// NextChapterNumber returns one past the highest committed chapter number for
// a book, starting at 1 for an empty book.
func (s *Store) NextChapterNumber(ctx context.Context, bookID int64) (int, error) {
	var max sql.NullInt64
	row := s.db.QueryRowContext(ctx, `SELECT MAX(chapter_number) FROM chapters WHERE book_id = ?`, bookID)
	if err := row.Scan(&max); err != nil {
		return 0, fmt.Errorf("max chapter number: %w", err)
	}
	return int(max.Int64) + 1, nil
}

func scanChapter(scanner interface{ Scan(dest ...any) error }) (*Chapter, error) {
	var (
		chapter       Chapter
		sourceRaw     string
		contentRaw    string
		summary       sql.NullString
		model         sql.NullString
		translatedRaw sql.NullString
	)
	err := scanner.Scan(
		&chapter.ID,
		&chapter.BookID,
		&chapter.Number,
		&chapter.Title,
		&sourceRaw,
		&contentRaw,
		&summary,
		&model,
		&translatedRaw,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan chapter: %w", err)
	}
	if err := json.Unmarshal([]byte(sourceRaw), &chapter.SourceContent); err != nil {
		return nil, fmt.Errorf("decode source content: %w", err)
	}
	if err := json.Unmarshal([]byte(contentRaw), &chapter.Content); err != nil {
		return nil, fmt.Errorf("decode content: %w", err)
	}
	chapter.Summary = summary.String
	chapter.Model = model.String
	if translatedRaw.Valid {
		if t, err := time.Parse(time.RFC3339Nano, translatedRaw.String); err == nil {
			chapter.TranslatedAt = t
		}
	}
	return &chapter, nil
}
