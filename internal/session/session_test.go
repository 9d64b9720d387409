package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"paramflow/internal/infra/persistence/memory"
	"paramflow/pkg/domain"
)

func defs() []domain.ParameterDefinition {
	return []domain.ParameterDefinition{
		{ID: "width", Name: "width", Type: domain.TypeInt, DefaultValue: 10},
		{ID: "label", Name: "label", Type: domain.TypeString, DefaultValue: "a"},
	}
}

func TestNewStartsFromPersistedValues(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	if err := store.Save(ctx, "s1", domain.Values{"width": 30.0, "label": 5}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	s, err := New(ctx, "s1", defs(), store)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	got := s.Committed()
	if got["width"] != 30.0 {
		t.Fatalf("persisted width ignored: %v", got)
	}
	if got["label"] != "a" {
		t.Fatalf("invalid persisted value should fall back to the default: %v", got)
	}
}

func TestCustomizePersists(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	s, err := New(ctx, "s1", defs(), store)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	width := s.Parameters()[0]
	if err := width.Set("nope"); err == nil {
		t.Fatalf("expected validation error")
	}
	var verr domain.ValidationError
	if err := width.Set(2.5); !errors.As(err, &verr) || verr.ParameterID != "width" {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if err := width.Set(42); err != nil {
		t.Fatalf("set: %v", err)
	}
	if s.Committed()["width"] != 10 {
		t.Fatalf("set must not commit on its own")
	}
	if err := s.Customize(ctx); err != nil {
		t.Fatalf("customize: %v", err)
	}
	saved, ok, err := store.Load(ctx, "s1")
	if err != nil || !ok || saved["width"] != 42 {
		t.Fatalf("values not persisted: %v %v %v", saved, ok, err)
	}
}

func TestBulkRequestRendersExports(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, "s1", defs(), memory.NewStore(), WithExport(domain.ExportDefinition{ID: "state"}, nil))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s.Parameters()[1].Set("b"); err != nil {
		t.Fatalf("set: %v", err)
	}
	artifacts, err := s.BulkRequest(ctx, []string{"state"}, nil)
	if err != nil {
		t.Fatalf("bulk: %v", err)
	}
	artifact := artifacts["state"]
	var decoded map[string]any
	if err := json.Unmarshal(artifact.Content, &decoded); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded["label"] != "b" || artifact.ContentType != "application/json" || artifact.Version == "" {
		t.Fatalf("unexpected artifact: %+v", artifact)
	}
	if _, err := s.BulkRequest(ctx, []string{"missing"}, nil); err == nil {
		t.Fatalf("expected error for unknown export")
	}
}

func TestBulkRequestRenderFailureKeepsStore(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	errRender := errors.New("render failed")
	failing := func(context.Context, domain.ExportDefinition, domain.Values) (domain.Artifact, error) {
		return domain.Artifact{}, errRender
	}
	s, err := New(ctx, "s1", defs(), store,
		WithExport(domain.ExportDefinition{ID: "state"}, nil),
		WithExport(domain.ExportDefinition{ID: "mesh"}, failing),
	)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := s.Customize(ctx); err != nil {
		t.Fatalf("customize: %v", err)
	}
	if err := s.Parameters()[0].Set(20); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := s.BulkRequest(ctx, []string{"state", "mesh"}, nil); !errors.Is(err, errRender) {
		t.Fatalf("expected render error, got %v", err)
	}
	if got := s.Committed()["width"]; got != 10 {
		t.Fatalf("committed values changed on a failed render: %v", got)
	}
	saved, ok, err := store.Load(ctx, "s1")
	if err != nil || !ok || saved["width"] != 10 {
		t.Fatalf("store changed on a failed render: %v %v %v", saved, ok, err)
	}
}

func TestExportRequestRequiresToken(t *testing.T) {
	ctx := context.Background()
	s, err := New(ctx, "s1", defs(), memory.NewStore(),
		WithExport(domain.ExportDefinition{ID: "state"}, nil),
		WithRequiredToken("secret"))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	e := s.Exports()[0]
	if _, err := e.Request(ctx, nil); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	authed := domain.WithAuthToken(ctx, "secret")
	artifact, err := e.Request(authed, domain.Values{"width": 12})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(artifact.Content, &decoded); err != nil || decoded["width"] != float64(12) {
		t.Fatalf("override not applied: %s %v", artifact.Content, err)
	}
	if s.Committed()["width"] != 10 {
		t.Fatalf("overrides must not persist")
	}
	if _, err := e.Request(authed, domain.Values{"zzz": 1}); err == nil {
		t.Fatalf("expected error for unknown override")
	}
}

func TestNewValidation(t *testing.T) {
	ctx := context.Background()
	if _, err := New(ctx, "", defs(), memory.NewStore()); err == nil {
		t.Fatalf("expected error for empty id")
	}
	if _, err := New(ctx, "s", defs(), nil); err == nil {
		t.Fatalf("expected error for nil store")
	}
	dup := append(defs(), defs()[0])
	if _, err := New(ctx, "s", dup, memory.NewStore()); err == nil {
		t.Fatalf("expected error for duplicate parameter")
	}
}
