package taxonomy

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Export is the serializable form of a store's terms and assignments,
// used for JSON-based import and export.
type Export struct {
	Terms         []Term               `json:"terms"`
	Relationships []ExportRelationship `json:"relationships"`
}

// ExportRelationship is a single term assignment within an Export.
type ExportRelationship struct {
	ItemID int64 `json:"item_id"`
	TermID int64 `json:"term_id"`
	Order  int   `json:"order"`
}

// Export writes every term and assignment as JSON. An empty taxonomy
// exports all taxonomies.
func (s *Store) Export(ctx context.Context, taxonomy string, w io.Writer) error {
	termQuery := `SELECT ` + termColumns + ` FROM taxonomy_terms t WHERE (? = '' OR t.taxonomy = ?) ORDER BY t.term_id;`
	rows, err := s.db.QueryContext(ctx, termQuery, taxonomy, taxonomy)
	if err != nil {
		return fmt.Errorf("could not query terms for export: %w", err)
	}
	terms, err := collectTerms(rows)
	if err != nil {
		return fmt.Errorf("could not read terms for export: %w", err)
	}

	relQuery := `SELECT r.item_id, r.term_id, r.term_order FROM taxonomy_relationships r
    JOIN taxonomy_terms t ON t.term_id = r.term_id
    WHERE (? = '' OR t.taxonomy = ?)
    ORDER BY r.item_id, r.term_order;`
	rRows, err := s.db.QueryContext(ctx, relQuery, taxonomy, taxonomy)
	if err != nil {
		return fmt.Errorf("could not query relationships for export: %w", err)
	}
	defer func(rows *sql.Rows) {
		_ = rows.Close()
	}(rRows)

	rels := make([]ExportRelationship, 0)
	for rRows.Next() {
		var rel ExportRelationship
		if err := rRows.Scan(&rel.ItemID, &rel.TermID, &rel.Order); err != nil {
			return err
		}
		rels = append(rels, rel)
	}
	if err := rRows.Err(); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "Exporting terms", "taxonomy", taxonomy, "terms", len(terms), "relationships", len(rels))
	return json.NewEncoder(w).Encode(Export{Terms: terms, Relationships: rels})
}

// Import reads an Export and merges it into the store inside a single
// transaction. Terms are matched by taxonomy and slug; exported IDs are
// remapped onto the IDs of this store.
func (s *Store) Import(ctx context.Context, r io.Reader) error {
	var imported Export
	if err := json.NewDecoder(r).Decode(&imported); err != nil {
		return fmt.Errorf("failed to decode json terms: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not begin transaction for import: %w", err)
	}
	defer func(tx *sql.Tx) {
		_ = tx.Rollback()
	}(tx)

	getBySlug := tx.StmtContext(ctx, s.stmtGetTermSlug)
	insert := tx.StmtContext(ctx, s.stmtInsertTerm)
	assign := tx.StmtContext(ctx, s.stmtAssign)

	termIDMap := make(map[int64]int64, len(imported.Terms)) // old_id -> new_id
	for _, t := range imported.Terms {
		if t.Taxonomy == "" {
			t.Taxonomy = TaxonomyTag
		}
		if t.Slug == "" {
			t.Slug = Slugify(t.Name)
		}
		existing, err := scanTerm(getBySlug.QueryRowContext(ctx, t.Taxonomy, t.Slug))
		switch {
		case err == nil:
			termIDMap[t.ID] = existing.ID
		case errors.Is(err, sql.ErrNoRows):
			var newID int64
			if err := insert.QueryRowContext(ctx, t.Taxonomy, t.Name, t.Slug, t.Description).Scan(&newID); err != nil {
				return fmt.Errorf("failed to insert term '%s': %w", t.Name, err)
			}
			termIDMap[t.ID] = newID
		default:
			return fmt.Errorf("failed to query for term '%s': %w", t.Slug, err)
		}
	}

	for _, rel := range imported.Relationships {
		newID, ok := termIDMap[rel.TermID]
		if !ok {
			return fmt.Errorf("consistency error: term id %d in relationships not found in terms", rel.TermID)
		}
		if _, err := assign.ExecContext(ctx, rel.ItemID, newID, rel.Order); err != nil {
			return fmt.Errorf("failed to assign term %d to item %d: %w", newID, rel.ItemID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("could not commit import transaction: %w", err)
	}
	s.logger.InfoContext(ctx, "Imported terms", "terms", len(imported.Terms), "relationships", len(imported.Relationships))
	return nil
}
