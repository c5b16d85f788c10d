package taxonomy

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB creates a new SQLite database in a temp dir and a Store for testing.
// It uses t.Cleanup to ensure resources are released.
func setupTestDB(t *testing.T) (*sql.DB, *Store) {
	t.Helper()
	dbFile := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite3", dbFile+"?_journal_mode=WAL&_synchronous=NORMAL")
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := SetupSchema(db); err != nil {
		t.Fatalf("failed to set up schema: %v", err)
	}

	s, err := NewStore(db)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	t.Cleanup(s.Close)

	return db, s
}

// setupTestDBWithTerms inserts three tags and assigns them to item 7 in the
// order news, go, release.
func setupTestDBWithTerms(t *testing.T) (context.Context, *Store, []Term) {
	t.Helper()
	_, s := setupTestDB(t)
	ctx := context.Background()

	var terms []Term
	for _, name := range []string{"News", "Go", "Release Notes"} {
		term, err := s.InsertTerm(ctx, Term{Taxonomy: TaxonomyTag, Name: name})
		if err != nil {
			t.Fatalf("setup: InsertTerm(%q) failed: %v", name, err)
		}
		terms = append(terms, term)
	}
	if err := s.Assign(ctx, 7, terms[0].ID, terms[1].ID, terms[2].ID); err != nil {
		t.Fatalf("setup: Assign() failed: %v", err)
	}
	return ctx, s, terms
}

// staticSource is a Source backed by a map, for formatter tests that do not
// need a database.
type staticSource map[int64][]Term

func (s staticSource) TermsFor(_ context.Context, itemID int64, taxonomy string) ([]Term, error) {
	var out []Term
	for _, t := range s[itemID] {
		if t.Taxonomy == taxonomy {
			out = append(out, t)
		}
	}
	return out, nil
}
