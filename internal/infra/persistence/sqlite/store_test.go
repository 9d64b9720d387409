package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"paramflow/pkg/domain"
)

func TestStorePersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "values.db")
	s, err := NewStore(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.Save(ctx, "demo", domain.Values{"width": 20.0, "label": "box"}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Save(ctx, "demo", domain.Values{"width": 25.0, "label": "box"}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	if err := s.Save(ctx, "gone", domain.Values{"x": true}); err != nil {
		t.Fatalf("save gone: %v", err)
	}
	if existed, err := s.Delete(ctx, "gone"); err != nil || !existed {
		t.Fatalf("delete: %v %v", existed, err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewStore(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	got, ok, err := reopened.Load(ctx, "demo")
	if err != nil || !ok {
		t.Fatalf("load: %v %v", ok, err)
	}
	if !got.Equal(domain.Values{"width": 25, "label": "box"}) {
		t.Fatalf("unexpected values %v", got)
	}
	if _, ok, _ := reopened.Load(ctx, "gone"); ok {
		t.Fatalf("deleted session should not be reloaded")
	}
	if reopened.Path() != path || reopened.DB() == nil {
		t.Fatalf("accessors not wired")
	}
}

func TestStoreRejectsCorruptPayload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "values.db")
	s, err := NewStore(ctx, path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if _, err := s.DB().ExecContext(ctx, `INSERT INTO session_values(session_id,payload) VALUES(?,?)`, "bad", []byte("{not json")); err != nil {
		t.Fatalf("seed: %v", err)
	}
	_ = s.Close()
	if _, err := NewStore(ctx, path); err == nil {
		t.Fatalf("expected decode error")
	}
}
