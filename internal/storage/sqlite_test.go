package storage

import (
	"context"
	"strings"
	"testing"
	"testing/fstest"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestReopenKeepsSchema(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	first, err := s1.AppliedMigrations(ctx)
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer s2.Close()
	second, err := s2.AppliedMigrations(ctx)
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(first) != len(second) {
		t.Fatalf("migration count changed: %d -> %d", len(first), len(second))
	}
	for i := range first {
		if !first[i].AppliedAt.Equal(second[i].AppliedAt) {
			t.Errorf("%s re-applied on reopen", first[i].Name)
		}
	}
}

func TestSchemaVersion(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	applied, err := s.AppliedMigrations(ctx)
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	if len(applied) == 0 {
		t.Fatal("no migrations applied")
	}
	if applied[0].Name != "001_runs.sql" {
		t.Errorf("first migration = %q", applied[0].Name)
	}

	v, err := s.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if v != applied[len(applied)-1].Version {
		t.Errorf("SchemaVersion = %d, want %d", v, applied[len(applied)-1].Version)
	}
}

func TestLoadMigrations(t *testing.T) {
	fsys := fstest.MapFS{
		"m/010_late.sql":  {Data: []byte("SELECT 10;")},
		"m/002_mid.sql":   {Data: []byte("SELECT 2;")},
		"m/001_first.sql": {Data: []byte("SELECT 1;")},
		"m/README":        {Data: []byte("ignored")},
	}
	got, err := loadMigrations(fsys, "m")
	if err != nil {
		t.Fatalf("loadMigrations: %v", err)
	}
	var versions []int
	for _, m := range got {
		versions = append(versions, m.Version)
	}
	if len(versions) != 3 || versions[0] != 1 || versions[1] != 2 || versions[2] != 10 {
		t.Errorf("versions = %v, want [1 2 10]", versions)
	}
}

func TestLoadMigrations_Errors(t *testing.T) {
	tests := map[string]fstest.MapFS{
		"duplicate version": {
			"m/001_a.sql": {Data: []byte("SELECT 1;")},
			"m/001_b.sql": {Data: []byte("SELECT 1;")},
		},
		"no version": {
			"m/init.sql": {Data: []byte("SELECT 1;")},
		},
	}
	for name, fsys := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := loadMigrations(fsys, "m"); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestMigrate_FailureRollsBack(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	before, _ := s.SchemaVersion(ctx)

	bad := []Migration{{Version: 999, Name: "999_broken.sql", sql: "CREATE TABLE broken (;"}}
	err := s.migrate(ctx, bad)
	if err == nil || !strings.Contains(err.Error(), "999_broken.sql") {
		t.Fatalf("err = %v, want failure naming the migration", err)
	}
	if after, _ := s.SchemaVersion(ctx); after != before {
		t.Errorf("schema version moved from %d to %d", before, after)
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	for _, idx := range []string{"idx_runs_started", "idx_run_results_name"} {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %q not found", idx)
		}
	}
}
