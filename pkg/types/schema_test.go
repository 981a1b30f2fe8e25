package types

import (
	"errors"
	"testing"
)

func testSchema() *Schema {
	return &Schema{
		Table:        "orders",
		WithoutRowID: true,
		Columns: []ColumnDef{
			{Name: "tenant", DeclaredType: "TEXT", Affinity: AffinityText, PrimaryKey: 1},
			{Name: "id", DeclaredType: "INTEGER", Affinity: AffinityInteger, PrimaryKey: 2},
			{Name: "total", DeclaredType: "REAL", Affinity: AffinityReal, Indexed: true},
			{Name: "note", DeclaredType: "", Affinity: AffinityBlob},
		},
		Indexes: []IndexDef{
			{Name: "idx_total", Columns: []string{"total"}},
			{Name: "idx_note_total", Columns: []string{"note", "total"}},
		},
	}
}

func TestSchema_Validate(t *testing.T) {
	s := testSchema()
	if err := s.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	s.Columns = append(s.Columns, ColumnDef{Name: "id"})
	if err := s.Validate(); !errors.Is(err, ErrDuplicateColumn) {
		t.Errorf("expected ErrDuplicateColumn, got %v", err)
	}

	s = testSchema()
	s.Indexes = append(s.Indexes, IndexDef{Name: "bad", Columns: []string{"missing"}})
	if err := s.Validate(); !errors.Is(err, ErrUnknownColumn) {
		t.Errorf("expected ErrUnknownColumn, got %v", err)
	}

	s = testSchema()
	s.Indexes[1].Collations = []string{"NOCASE"}
	if err := s.Validate(); !errors.Is(err, ErrMalformedIndex) {
		t.Errorf("expected ErrMalformedIndex, got %v", err)
	}
	s.Indexes[1].Collations = []string{"NOCASE", ""}
	s.Indexes[1].Descending = []bool{false, true}
	if err := s.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if s.Indexes[1].Collation(0) != "NOCASE" || !s.Indexes[1].Desc(1) || s.Indexes[0].Desc(0) {
		t.Errorf("unexpected key options %+v", s.Indexes[1])
	}
}

func TestSchema_PrimaryKeyColumns(t *testing.T) {
	s := testSchema()
	s.Columns[0].PrimaryKey, s.Columns[1].PrimaryKey = 2, 1
	got := s.PrimaryKeyColumns()
	if len(got) != 2 || got[0] != "id" || got[1] != "tenant" {
		t.Errorf("PrimaryKeyColumns() = %v, want [id tenant]", got)
	}
}

func TestSchema_Project(t *testing.T) {
	s := testSchema()

	all, err := s.Project(nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(all.Columns) != 4 || len(all.Indexes) != 2 || !all.WithoutRowID {
		t.Errorf("empty projection should keep everything, got %+v", all)
	}

	// Order follows the declaration, not the request.
	p, err := s.Project([]string{"total", "tenant", "id"})
	if err != nil {
		t.Fatal(err)
	}
	if got := p.ColumnNames(); len(got) != 3 || got[0] != "tenant" || got[2] != "total" {
		t.Errorf("unexpected column order %v", got)
	}
	if len(p.Indexes) != 1 || p.Indexes[0].Name != "idx_total" {
		t.Errorf("expected only idx_total to survive, got %v", p.Indexes)
	}
	if len(p.PrimaryKeyColumns()) != 2 {
		t.Error("primary key should survive when all its columns are kept")
	}

	p, err = s.Project([]string{"id", "total"})
	if err != nil {
		t.Fatal(err)
	}
	if len(p.PrimaryKeyColumns()) != 0 || p.WithoutRowID {
		t.Error("partial primary key should be dropped along with WITHOUT ROWID")
	}

	if _, err := s.Project([]string{"nope"}); !errors.Is(err, ErrUnknownColumn) {
		t.Errorf("expected ErrUnknownColumn, got %v", err)
	}
}
