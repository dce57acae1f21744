package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/dukerupert/smartnotes/internal/model"
)

// NoteStore gives per-owner access to notes. Every method takes the owner id
// and scopes its query with it; a note owned by someone else is reported as
// ErrNotFound, exactly like a missing one.
type NoteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewNoteStore(db *sql.DB) *NoteStore {
	return &NoteStore{db: db, now: time.Now}
}

// NoteInput carries the writable fields of a note.
type NoteInput struct {
	Title   string
	Content string
	Tags    []string
}

// NoteFilter narrows List results. Both filters apply on top of the
// ownership filter, never instead of it.
type NoteFilter struct {
	// Query matches notes whose title or content contains any of its
	// whitespace-separated terms, ignoring ASCII case.
	Query string
	// Tag matches notes carrying this tag exactly, ignoring case.
	Tag string
}

var noteCols = []string{"id", "owner_id", "title", "content", "created_at", "updated_at"}

func scanNote(scanner interface{ Scan(...any) error }) (*model.Note, error) {
	var n model.Note
	var createdAt, updatedAt string
	err := scanner.Scan(&n.ID, &n.OwnerID, &n.Title, &n.Content, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	if n.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if n.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parse updated_at: %w", err)
	}
	n.Tags = []string{}
	return &n, nil
}

// List returns the owner's notes, most recently updated first.
func (s *NoteStore) List(ctx context.Context, ownerID string, f NoteFilter) ([]model.Note, error) {
	q := sq.Select(noteCols...).
		From("notes").
		Where(sq.Eq{"owner_id": ownerID})

	if terms := strings.Fields(f.Query); len(terms) > 0 {
		matchAny := sq.Or{}
		for _, term := range terms {
			pattern := "%" + escapeLike(term) + "%"
			matchAny = append(matchAny, sq.Expr(`(title LIKE ? ESCAPE '\' OR content LIKE ? ESCAPE '\')`, pattern, pattern))
		}
		q = q.Where(matchAny)
	}

	if tag := strings.TrimSpace(f.Tag); tag != "" {
		q = q.Where(sq.Expr(
			`EXISTS (SELECT 1 FROM note_tags t WHERE t.note_id = notes.id AND t.tag = ? COLLATE NOCASE)`, tag,
		))
	}

	query, args, err := q.OrderBy("updated_at DESC", "rowid DESC").
		PlaceholderFormat(sq.Question).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}

	notes := []model.Note{}
	for rows.Next() {
		n, err := scanNote(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan note: %w", err)
		}
		notes = append(notes, *n)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("list notes: %w", err)
	}
	rows.Close()

	if err := s.attachTags(ctx, notes); err != nil {
		return nil, err
	}
	return notes, nil
}

// Get returns one of the owner's notes.
func (s *NoteStore) Get(ctx context.Context, ownerID, id string) (*model.Note, error) {
	query, args, err := sq.Select(noteCols...).
		From("notes").
		Where(sq.Eq{"id": id, "owner_id": ownerID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build get query: %w", err)
	}

	n, err := scanNote(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get note: %w", err)
	}

	notes := []model.Note{*n}
	if err := s.attachTags(ctx, notes); err != nil {
		return nil, err
	}
	return &notes[0], nil
}

func (s *NoteStore) Create(ctx context.Context, ownerID string, in NoteInput) (*model.Note, error) {
	id := uuid.NewString()
	now := formatTime(s.now())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO notes (id, owner_id, title, content, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, ownerID, in.Title, in.Content, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert note: %w", err)
	}
	if err := insertTags(ctx, tx, id, in.Tags); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.Get(ctx, ownerID, id)
}

// Update replaces title, content and tags. Concurrent updates are last-write-wins.
func (s *NoteStore) Update(ctx context.Context, ownerID, id string, in NoteInput) (*model.Note, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE notes SET title = ?, content = ?, updated_at = ? WHERE id = ? AND owner_id = ?`,
		in.Title, in.Content, formatTime(s.now()), id, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("update note: %w", err)
	}
	if err := requireAffected(result); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM note_tags WHERE note_id = ?`, id); err != nil {
		return nil, fmt.Errorf("clear tags: %w", err)
	}
	if err := insertTags(ctx, tx, id, in.Tags); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return s.Get(ctx, ownerID, id)
}

func (s *NoteStore) Delete(ctx context.Context, ownerID, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`DELETE FROM note_tags WHERE note_id IN (SELECT id FROM notes WHERE id = ? AND owner_id = ?)`,
		id, ownerID,
	)
	if err != nil {
		return fmt.Errorf("delete tags: %w", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM notes WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete note: %w", err)
	}
	if err := requireAffected(result); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *NoteStore) attachTags(ctx context.Context, notes []model.Note) error {
	if len(notes) == 0 {
		return nil
	}
	ids := make([]string, len(notes))
	index := make(map[string]int, len(notes))
	for i, n := range notes {
		ids[i] = n.ID
		index[n.ID] = i
	}

	query, args, err := sq.Select("note_id", "tag").
		From("note_tags").
		Where(sq.Eq{"note_id": ids}).
		OrderBy("note_id", "position").
		ToSql()
	if err != nil {
		return fmt.Errorf("build tags query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("list tags: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var noteID, tag string
		if err := rows.Scan(&noteID, &tag); err != nil {
			return fmt.Errorf("scan tag: %w", err)
		}
		if i, ok := index[noteID]; ok {
			notes[i].Tags = append(notes[i].Tags, tag)
		}
	}
	return rows.Err()
}

func insertTags(ctx context.Context, tx *sql.Tx, noteID string, tags []string) error {
	for i, tag := range NormalizeTags(tags) {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO note_tags (note_id, tag, position) VALUES (?, ?, ?)`,
			noteID, tag, i,
		)
		if err != nil {
			return fmt.Errorf("insert tag: %w", err)
		}
	}
	return nil
}

// NormalizeTags trims tags, drops empty ones and removes duplicates while
// keeping first-seen order.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func requireAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
