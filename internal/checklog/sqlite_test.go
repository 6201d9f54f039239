package checklog_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/liutong011025-cloud/CwritevV7/internal/checklog"
)

func TestSQLiteStore(t *testing.T) {
	t.Parallel()

	for _, path := range []string{":memory:", filepath.Join(t.TempDir(), "db", "checks.db")} {
		t.Run(filepath.Base(path), func(t *testing.T) {
			s, err := checklog.OpenSQLite(path)
			if err != nil {
				t.Fatalf("OpenSQLite: %v", err)
			}
			t.Cleanup(func() { s.Close() })
			ctx := context.Background()

			if err := s.Ping(ctx); err != nil {
				t.Fatalf("Ping: %v", err)
			}

			base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
			for i, user := range []string{"old", "new"} {
				e := checklog.NewEntry(user, "letter", "Dear Sam")
				e.CreatedAt = base.Add(time.Duration(i) * time.Minute)
				e.ErrorCount = 3
				e.LocatedCount = 2
				e.Duration = 250 * time.Millisecond
				if err := s.Record(ctx, e); err != nil {
					t.Fatalf("Record: %v", err)
				}
			}

			got, err := s.Recent(ctx, 1)
			if err != nil {
				t.Fatalf("Recent: %v", err)
			}
			if len(got) != 1 {
				t.Fatalf("len = %d, want 1", len(got))
			}
			e := got[0]
			if e.User != "new" {
				t.Errorf("user = %q, want %q", e.User, "new")
			}
			if e.ErrorCount != 3 || e.LocatedCount != 2 || e.Duration != 250*time.Millisecond {
				t.Errorf("entry = %+v", e)
			}
			if !e.CreatedAt.Equal(base.Add(time.Minute)) {
				t.Errorf("created_at = %v, want %v", e.CreatedAt, base.Add(time.Minute))
			}
		})
	}
}

func TestSQLiteStore_DuplicateID(t *testing.T) {
	t.Parallel()

	s, err := checklog.OpenSQLite(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })

	e := checklog.NewEntry("u", "story", "x")
	if err := s.Record(context.Background(), e); err != nil {
		t.Fatal(err)
	}
	if err := s.Record(context.Background(), e); err == nil {
		t.Error("second insert with the same id succeeded")
	}
}
