package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// CommitChapter persists a chapter record and its resolved entity deltas as a
// single transaction. If any part fails, nothing is durably visible.
//
// Replaying a delta for a chapter the entity has already seen is a no-op, so
// re-running a committed chapter never double-increments counts.
func (s *Store) CommitChapter(ctx context.Context, chapter *Chapter, deltas []EntityDelta) error {
	if chapter == nil {
		return errors.New("chapter is nil")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := saveChapterTx(ctx, tx, chapter); err != nil {
		return err
	}

	for _, delta := range deltas {
		if err := applyDeltaTx(ctx, tx, chapter.BookID, chapter.Number, delta); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit chapter: %w", err)
	}
	return nil
}

func applyDeltaTx(ctx context.Context, tx *sql.Tx, bookID int64, chapterNumber int, delta EntityDelta) error {
	if !ValidCategory(string(delta.Category)) {
		return fmt.Errorf("unknown category %q", delta.Category)
	}
	if delta.Translation == "" {
		return fmt.Errorf("entity %s/%q: empty translation", delta.Category, delta.Key)
	}
	occurrences := delta.Occurrences
	if occurrences <= 0 {
		occurrences = 1
	}

	var (
		count       int
		lastChapter int
	)
	row := tx.QueryRowContext(
		ctx,
		`SELECT count, last_chapter FROM entities WHERE book_id = ? AND category = ? AND key = ?`,
		bookID, delta.Category, delta.Key,
	)
	err := row.Scan(&count, &lastChapter)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err := tx.ExecContext(
			ctx,
			`INSERT INTO entities (book_id, category, key, translation, gender, count, last_chapter, incorrect_translation)
             VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			bookID, delta.Category, delta.Key, delta.Translation,
			nullable(delta.Gender), occurrences, chapterNumber,
			nullable(delta.IncorrectTranslation),
		)
		if err != nil {
			return fmt.Errorf("insert entity %s/%q: %w", delta.Category, delta.Key, err)
		}
	case err != nil:
		return fmt.Errorf("find entity %s/%q: %w", delta.Category, delta.Key, err)
	case lastChapter >= chapterNumber:
		// Already applied for this chapter; replay after a crash or re-commit.
		return nil
	default:
		args := []any{delta.Translation, count + occurrences, chapterNumber}
		query := `UPDATE entities SET translation = ?, count = ?, last_chapter = ?`
		if delta.Gender != "" {
			query += `, gender = ?`
			args = append(args, delta.Gender)
		}
		if delta.IncorrectTranslation != "" {
			query += `, incorrect_translation = ?`
			args = append(args, delta.IncorrectTranslation)
		}
		query += ` WHERE book_id = ? AND category = ? AND key = ?`
		args = append(args, bookID, delta.Category, delta.Key)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("update entity %s/%q: %w", delta.Category, delta.Key, err)
		}
	}
	return nil
}
