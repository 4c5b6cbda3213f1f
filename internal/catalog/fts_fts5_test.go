//go:build sqlite_fts5

package catalog

import "testing"

func TestFTS5_TableExists(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM specters_fts`).Scan(&count); err != nil {
		t.Fatalf("specters_fts table missing: %v", err)
	}
}

func TestFTS5_SearchWithSnippet(t *testing.T) {
	db := testDB(t)
	r := row("f-1", 1, "text")
	r.Title = "FTS Clip"
	if err := db.UpsertSpecter(r, "The ring keeps every derived clipping searchable.", nil); err != nil {
		t.Fatalf("UpsertSpecter: %v", err)
	}

	results, err := db.Search("derived", 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if results[0].ID != "f-1" {
		t.Errorf("id = %q", results[0].ID)
	}
	if results[0].Snippet == "" {
		t.Error("expected non-empty snippet")
	}
}

func TestFTS5_DeleteRemovesFromFTS(t *testing.T) {
	db := testDB(t)
	_ = db.UpsertSpecter(row("g-1", 1, "text"), "vanishing content", nil)
	_ = db.DeleteSpecter("g-1")

	results, _ := db.Search("vanishing", 10)
	for _, r := range results {
		if r.ID == "g-1" {
			t.Error("deleted specter still in FTS index")
		}
	}
}

func TestFTS5_UpsertReplacesContent(t *testing.T) {
	db := testDB(t)
	old := row("e-1", 1, "text")
	old.Title = "Old"
	_ = db.UpsertSpecter(old, "original text", nil)
	updated := old
	updated.Title = "New"
	_ = db.UpsertSpecter(updated, "replacement text", nil)

	results, _ := db.Search("original", 10)
	if len(results) != 0 {
		t.Error("old FTS content should be gone")
	}
	results, _ = db.Search("replacement", 10)
	if len(results) != 1 || results[0].Title != "New" {
		t.Errorf("FTS not updated: %+v", results)
	}
}
