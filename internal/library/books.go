package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotFound is returned when a requested book, chapter, or entity does not exist.
var ErrNotFound = errors.New("not found")

// CreateBook inserts a new book, or returns the existing one when a book with
// the same title is already present.
func (s *Store) CreateBook(ctx context.Context, book Book) (*Book, error) {
	title := strings.TrimSpace(book.Title)
	if title == "" {
		return nil, errors.New("book title is required")
	}

	if existing, err := s.GetBookByTitle(ctx, title); err == nil {
		return existing, nil
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	now := time.Now().UTC()
	if book.SourceLanguage == "" {
		book.SourceLanguage = "zh"
	}
	if book.TargetLanguage == "" {
		book.TargetLanguage = "en"
	}

	res, err := s.db.ExecContext(
		ctx,
		`INSERT INTO books (title, author, description, source_language, target_language, prompt_template, created_at, modified_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		title,
		nullable(book.Author),
		nullable(book.Description),
		book.SourceLanguage,
		book.TargetLanguage,
		nullable(book.PromptTemplate),
		now.Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert book: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetBook(ctx, id)
}

// GetBook fetches a book by identifier.
func (s *Store) GetBook(ctx context.Context, id int64) (*Book, error) {
	row := s.db.QueryRowContext(ctx, bookQuery+` WHERE b.id = ?`, id)
	return scanBook(row)
}

// GetBookByTitle fetches a book by exact title.
func (s *Store) GetBookByTitle(ctx context.Context, title string) (*Book, error) {
	row := s.db.QueryRowContext(ctx, bookQuery+` WHERE b.title = ?`, title)
	return scanBook(row)
}

// ListBooks returns all books ordered by title, with chapter counts.
func (s *Store) ListBooks(ctx context.Context) ([]*Book, error) {
	rows, err := s.db.QueryContext(ctx, bookQuery+` ORDER BY b.title`)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	defer rows.Close()

	var books []*Book
	for rows.Next() {
		book, err := scanBook(rows)
		if err != nil {
			return nil, err
		}
		books = append(books, book)
	}
	return books, rows.Err()
}

// UpdateBook persists metadata changes to a book.
func (s *Store) UpdateBook(ctx context.Context, book *Book) error {
	if book == nil {
		return errors.New("book is nil")
	}
	book.ModifiedAt = time.Now().UTC()
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE books
         SET title = ?, author = ?, description = ?, source_language = ?,
             target_language = ?, prompt_template = ?, modified_at = ?
         WHERE id = ?`,
		book.Title,
		nullable(book.Author),
		nullable(book.Description),
		book.SourceLanguage,
		book.TargetLanguage,
		nullable(book.PromptTemplate),
		book.ModifiedAt.Format(time.RFC3339Nano),
		book.ID,
	)
	if err != nil {
		return fmt.Errorf("update book: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("book %d: %w", book.ID, ErrNotFound)
	}
	return nil
}

// SetPromptTemplate stores a book-specific system prompt override. An empty
// template clears the override.
func (s *Store) SetPromptTemplate(ctx context.Context, bookID int64, template string) error {
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE books SET prompt_template = ?, modified_at = ? WHERE id = ?`,
		nullable(template),
		time.Now().UTC().Format(time.RFC3339Nano),
		bookID,
	)
	if err != nil {
		return fmt.Errorf("set prompt template: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("book %d: %w", bookID, ErrNotFound)
	}
	return nil
}

// DeleteBook removes a book with its chapters and entities.
func (s *Store) DeleteBook(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM books WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("book %d: %w", id, ErrNotFound)
	}
	return nil
}

const bookQuery = `SELECT b.id, b.title, b.author, b.description, b.source_language, b.target_language,
    b.prompt_template, b.created_at, b.modified_at,
    (SELECT COUNT(1) FROM chapters c WHERE c.book_id = b.id) AS chapter_count
FROM books b`

func scanBook(scanner interface{ Scan(dest ...any) error }) (*Book, error) {
	var (
		book        Book
		author      sql.NullString
		description sql.NullString
		template    sql.NullString
		createdRaw  string
		modifiedRaw string
	)
	err := scanner.Scan(
		&book.ID,
		&book.Title,
		&author,
		&description,
		&book.SourceLanguage,
		&book.TargetLanguage,
		&template,
		&createdRaw,
		&modifiedRaw,
		&book.ChapterCount,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan book: %w", err)
	}
	book.Author = author.String
	book.Description = description.String
	book.PromptTemplate = template.String
	if t, err := time.Parse(time.RFC3339Nano, createdRaw); err == nil {
		book.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339Nano, modifiedRaw); err == nil {
		book.ModifiedAt = t
	}
	return &book, nil
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}
