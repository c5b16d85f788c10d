package taxonomy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// SetupSchema creates the term and relationship tables. It is idempotent
// and safe to call on an already-initialized database.
func SetupSchema(db *sql.DB) error {

	const (
		schemaTerms = `
CREATE TABLE IF NOT EXISTS taxonomy_terms (
    term_id INTEGER PRIMARY KEY,
    taxonomy TEXT NOT NULL,
    name TEXT NOT NULL,
    slug TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    UNIQUE (taxonomy, slug)
);
`
		schemaRelationships = `
CREATE TABLE IF NOT EXISTS taxonomy_relationships (
    item_id INTEGER NOT NULL,
    term_id INTEGER NOT NULL,
    term_order INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (item_id, term_id)
);
`
		indexRelationships = `CREATE INDEX IF NOT EXISTS idx_taxonomy_relationships_term ON taxonomy_relationships (term_id);`
	)

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	if _, err = tx.Exec(schemaTerms); err != nil {
		return fmt.Errorf("could not create terms schema: %w", err)
	}
	if _, err = tx.Exec(schemaRelationships); err != nil {
		return fmt.Errorf("could not create relationships schema: %w", err)
	}
	if _, err = tx.Exec(indexRelationships); err != nil {
		return fmt.Errorf("could not create relationships index: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}
	return nil
}

const termColumns = `t.term_id, t.taxonomy, t.name, t.slug, t.description,
    (SELECT COUNT(*) FROM taxonomy_relationships c WHERE c.term_id = t.term_id)`

// Store is a sqlite-backed term store. It holds prepared statements for
// every query it runs; call Close when done.
type Store struct {
	db               *sql.DB
	stmtInsertTerm   *sql.Stmt
	stmtGetTerm      *sql.Stmt
	stmtGetTermSlug  *sql.Stmt
	stmtListTerms    *sql.Stmt
	stmtRemoveTerm   *sql.Stmt
	stmtRemoveRels   *sql.Stmt
	stmtAssign       *sql.Stmt
	stmtUnassign     *sql.Stmt
	stmtNextOrder    *sql.Stmt
	stmtTermsForItem *sql.Stmt
	logger           *slog.Logger
}

// NewStore prepares the store's statements against db. SetupSchema must
// have been run first.
func NewStore(db *sql.DB) (*Store, error) {
	s := &Store{
		db:     db,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	prepared := []struct {
		dst   **sql.Stmt
		query string
	}{
		{&s.stmtInsertTerm, `INSERT INTO taxonomy_terms (taxonomy, name, slug, description) VALUES (?, ?, ?, ?) RETURNING term_id;`},
		{&s.stmtGetTerm, `SELECT ` + termColumns + ` FROM taxonomy_terms t WHERE t.term_id = ?;`},
		{&s.stmtGetTermSlug, `SELECT ` + termColumns + ` FROM taxonomy_terms t WHERE t.taxonomy = ? AND t.slug = ?;`},
		{&s.stmtListTerms, `SELECT ` + termColumns + ` FROM taxonomy_terms t WHERE t.taxonomy = ? ORDER BY t.name, t.term_id;`},
		{&s.stmtRemoveTerm, `DELETE FROM taxonomy_terms WHERE term_id = ?;`},
		{&s.stmtRemoveRels, `DELETE FROM taxonomy_relationships WHERE term_id = ?;`},
		{&s.stmtAssign, `INSERT INTO taxonomy_relationships (item_id, term_id, term_order) VALUES (?, ?, ?) ON CONFLICT(item_id, term_id) DO NOTHING;`},
		{&s.stmtUnassign, `DELETE FROM taxonomy_relationships WHERE item_id = ? AND term_id = ?;`},
		{&s.stmtNextOrder, `SELECT coalesce(MAX(term_order) + 1, 0) FROM taxonomy_relationships WHERE item_id = ?;`},
		{&s.stmtTermsForItem, `SELECT ` + termColumns + ` FROM taxonomy_relationships r
    JOIN taxonomy_terms t ON t.term_id = r.term_id
    WHERE r.item_id = ? AND t.taxonomy = ?
    ORDER BY r.term_order, t.term_id;`},
	}

	for _, p := range prepared {
		stmt, err := db.Prepare(p.query)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("could not prepare statement: %w", err)
		}
		*p.dst = stmt
	}
	return s, nil
}

// Close releases the prepared statements. The database itself is left open.
func (s *Store) Close() {
	for _, stmt := range []*sql.Stmt{
		s.stmtInsertTerm, s.stmtGetTerm, s.stmtGetTermSlug, s.stmtListTerms,
		s.stmtRemoveTerm, s.stmtRemoveRels, s.stmtAssign, s.stmtUnassign,
		s.stmtNextOrder, s.stmtTermsForItem,
	} {
		if stmt != nil {
			_ = stmt.Close()
		}
	}
}

// SetLogger sets the logger for the Store. By default, all logs are discarded.
func (s *Store) SetLogger(logger *slog.Logger) {
	if logger != nil {
		s.logger = logger
	}
}

// InsertTerm adds a term and returns it with its new ID. An empty slug is
// derived from the name.
func (s *Store) InsertTerm(ctx context.Context, t Term) (Term, error) {
	t.Name = strings.TrimSpace(t.Name)
	if t.Name == "" {
		return Term{}, errors.New("term name cannot be empty")
	}
	if t.Taxonomy == "" {
		t.Taxonomy = TaxonomyTag
	}
	if t.Slug == "" {
		t.Slug = Slugify(t.Name)
	}
	if t.Slug == "" {
		return Term{}, fmt.Errorf("term name '%s' produces an empty slug", t.Name)
	}

	if err := s.stmtInsertTerm.QueryRowContext(ctx, t.Taxonomy, t.Name, t.Slug, t.Description).Scan(&t.ID); err != nil {
		return Term{}, fmt.Errorf("failed to insert term '%s': %w", t.Name, err)
	}
	t.Count = 0
	s.logger.DebugContext(ctx, "Inserted term", "id", t.ID, "taxonomy", t.Taxonomy, "slug", t.Slug)
	return t, nil
}

// GetTerm returns the term with the given ID.
func (s *Store) GetTerm(ctx context.Context, id int64) (Term, error) {
	t, err := scanTerm(s.stmtGetTerm.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Term{}, fmt.Errorf("term %d: %w", id, ErrTermNotFound)
	}
	return t, err
}

// GetTermBySlug returns the term of a taxonomy with the given slug.
func (s *Store) GetTermBySlug(ctx context.Context, taxonomy, slug string) (Term, error) {
	t, err := scanTerm(s.stmtGetTermSlug.QueryRowContext(ctx, taxonomy, slug))
	if errors.Is(err, sql.ErrNoRows) {
		return Term{}, fmt.Errorf("term '%s/%s': %w", taxonomy, slug, ErrTermNotFound)
	}
	return t, err
}

// ListTerms returns every term of a taxonomy, sorted by name.
func (s *Store) ListTerms(ctx context.Context, taxonomy string) ([]Term, error) {
	rows, err := s.stmtListTerms.QueryContext(ctx, taxonomy)
	if err != nil {
		return nil, err
	}
	return collectTerms(rows)
}

// RemoveTerm deletes a term and all of its assignments.
func (s *Store) RemoveTerm(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	res, err := tx.StmtContext(ctx, s.stmtRemoveTerm).ExecContext(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to remove term %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("term %d: %w", id, ErrTermNotFound)
	}
	if _, err = tx.StmtContext(ctx, s.stmtRemoveRels).ExecContext(ctx, id); err != nil {
		return fmt.Errorf("failed to remove assignments of term %d: %w", id, err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}
	s.logger.DebugContext(ctx, "Removed term", "id", id)
	return nil
}

// Assign attaches terms to an item, after any terms it already has.
// Terms already attached keep their position.
func (s *Store) Assign(ctx context.Context, itemID int64, termIDs ...int64) error {
	if itemID == 0 {
		return ErrNoItem
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	var order int
	if err = tx.StmtContext(ctx, s.stmtNextOrder).QueryRowContext(ctx, itemID).Scan(&order); err != nil {
		return fmt.Errorf("failed to read term order for item %d: %w", itemID, err)
	}

	getTerm := tx.StmtContext(ctx, s.stmtGetTerm)
	assign := tx.StmtContext(ctx, s.stmtAssign)
	for _, termID := range termIDs {
		if _, err = scanTerm(getTerm.QueryRowContext(ctx, termID)); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("term %d: %w", termID, ErrTermNotFound)
			}
			return err
		}
		res, err := assign.ExecContext(ctx, itemID, termID, order)
		if err != nil {
			return fmt.Errorf("failed to assign term %d to item %d: %w", termID, itemID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			order++
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("could not commit transaction: %w", err)
	}
	s.logger.DebugContext(ctx, "Assigned terms", "item", itemID, "count", len(termIDs))
	return nil
}

// Unassign detaches a term from an item. Detaching a term the item does
// not carry is not an error.
func (s *Store) Unassign(ctx context.Context, itemID, termID int64) error {
	if _, err := s.stmtUnassign.ExecContext(ctx, itemID, termID); err != nil {
		return fmt.Errorf("failed to unassign term %d from item %d: %w", termID, itemID, err)
	}
	return nil
}

// TermsFor returns the terms of one taxonomy attached to an item, in
// assignment order. An item with no terms yields an empty slice.
func (s *Store) TermsFor(ctx context.Context, itemID int64, taxonomy string) ([]Term, error) {
	rows, err := s.stmtTermsForItem.QueryContext(ctx, itemID, taxonomy)
	if err != nil {
		return nil, err
	}
	return collectTerms(rows)
}

func scanTerm(row interface{ Scan(...any) error }) (Term, error) {
	var t Term
	err := row.Scan(&t.ID, &t.Taxonomy, &t.Name, &t.Slug, &t.Description, &t.Count)
	return t, err
}

func collectTerms(rows *sql.Rows) ([]Term, error) {
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rows)

	terms := make([]Term, 0)
	for rows.Next() {
		t, err := scanTerm(rows)
		if err != nil {
			return nil, err
		}
		terms = append(terms, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return terms, nil
}
