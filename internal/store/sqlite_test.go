package store

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/me/wic/pkg/model"
)

func testStore(t *testing.T) *SQLiteStore {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelError}))
	st, err := NewSQLiteStore(":memory:", logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func sampleCompilation(id string, created time.Time) *model.Compilation {
	return &model.Compilation{
		ID:          id,
		Name:        "main",
		ContentHash: "hash-" + id,
		Status:      model.CompilationSucceeded,
		Documents:   2,
		Inlined:     1,
		Packed:      `{"$graph":[]}`,
		InputValues: "pdb: {class: File, path: a.pdb}\n",
		CreatedAt:   created.UTC().Truncate(time.Millisecond),
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	st := testStore(t)
	if err := st.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
}

func TestCreateAndGetCompilation(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	c := sampleCompilation("cmp_1", time.Now())
	if err := st.CreateCompilation(ctx, c); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := st.GetCompilation(ctx, "cmp_1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil {
		t.Fatal("expected compilation, got nil")
	}
	if got.Name != "main" || got.Documents != 2 || got.Inlined != 1 {
		t.Errorf("got %+v", got)
	}
	if got.Packed != c.Packed || got.InputValues != c.InputValues {
		t.Errorf("payload mismatch: %+v", got)
	}
	if !got.CreatedAt.Equal(c.CreatedAt) {
		t.Errorf("created_at = %v, want %v", got.CreatedAt, c.CreatedAt)
	}
}

func TestGetCompilation_NotFound(t *testing.T) {
	st := testStore(t)
	got, err := st.GetCompilation(context.Background(), "missing")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil, got %+v", got)
	}
}

func TestCompilation_Errors(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	c := sampleCompilation("cmp_err", time.Now())
	c.Status = model.CompilationFailed
	c.Errors = []model.FieldError{{Kind: "UnresolvedStepError", Field: "foo", Path: "main.yml#2", Message: "unresolved"}}
	if err := st.CreateCompilation(ctx, c); err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := st.GetCompilation(ctx, "cmp_err")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Errors) != 1 || got.Errors[0].Field != "foo" {
		t.Errorf("errors = %+v", got.Errors)
	}
	if got.Status != model.CompilationFailed {
		t.Errorf("status = %s", got.Status)
	}
}

func TestGetCompilationByHash(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	failed := sampleCompilation("cmp_a", time.Now())
	failed.ContentHash = "same"
	failed.Status = model.CompilationFailed
	ok := sampleCompilation("cmp_b", time.Now().Add(time.Second))
	ok.ContentHash = "same"
	for _, c := range []*model.Compilation{failed, ok} {
		if err := st.CreateCompilation(ctx, c); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	got, err := st.GetCompilationByHash(ctx, "same")
	if err != nil {
		t.Fatalf("by hash: %v", err)
	}
	if got == nil || got.ID != "cmp_b" {
		t.Errorf("got %+v, want cmp_b", got)
	}

	none, err := st.GetCompilationByHash(ctx, "other")
	if err != nil || none != nil {
		t.Errorf("unknown hash = %+v, %v", none, err)
	}
}

func TestListCompilations(t *testing.T) {
	st := testStore(t)
	ctx := context.Background()
	base := time.Now()
	for i := 0; i < 5; i++ {
		c := sampleCompilation(fmt.Sprintf("cmp_%d", i), base.Add(time.Duration(i)*time.Second))
		if i%2 == 1 {
			c.Status = model.CompilationFailed
		}
		if err := st.CreateCompilation(ctx, c); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	list, total, err := st.ListCompilations(ctx, model.ListOptions{Limit: 2})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(list) != 2 || list[0].ID != "cmp_4" {
		t.Errorf("first page = %v", list)
	}

	failed, total, err := st.ListCompilations(ctx, model.ListOptions{Limit: 10, Status: "failed"})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if total != 2 || len(failed) != 2 {
		t.Errorf("failed = %d of %d", len(failed), total)
	}
}
