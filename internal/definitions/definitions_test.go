package definitions

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"paramflow/pkg/domain"
)

const sample = `
namespace: shelf
mode: immediate
accept_reject: [material]
parameters:
  - id: width
    name: width
    display_name: Width (mm)
    type: float
    min: 10
    max: 500
    decimals: 1
    default: 120
  - id: material
    name: material
    type: stringlist
    choices: [oak, pine]
    default: oak
  - id: shelves
    name: shelves
    type: even
    default: 4
exports:
  - id: preview
    name: Preview
default_exports: [preview]
`

func TestParseSample(t *testing.T) {
	doc, err := Parse([]byte(sample))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if doc.Namespace != "shelf" || len(doc.Parameters) != 3 || len(doc.Exports) != 1 {
		t.Fatalf("unexpected document: %+v", doc)
	}
	width := doc.Parameters[0]
	if width.Type != domain.TypeFloat || *width.Min != 10 || *width.Max != 500 || width.DisplayName != "Width (mm)" {
		t.Fatalf("width decoded wrongly: %+v", width)
	}
	if v, _ := domain.AsFloat(width.DefaultValue); v != 120 {
		t.Fatalf("default not decoded: %v", width.DefaultValue)
	}
	sel := doc.AcceptRejectSelector()
	if !sel(doc.Parameters[1]) || sel(doc.Parameters[0]) {
		t.Fatalf("selector should only pick material")
	}
}

func TestParseErrors(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want string
	}{
		{"missing namespace", "parameters: [{id: a, type: string, default: x}]", "namespace"},
		{"unknown key", "namespace: n\nbogus: 1\nparameters: [{id: a, type: string, default: x}]", "bogus"},
		{"bad mode", "namespace: n\nmode: later\nparameters: [{id: a, type: string, default: x}]", "mode"},
		{"no parameters", "namespace: n", "non-empty"},
		{"duplicate id", "namespace: n\nparameters: [{id: a, type: string, default: x}, {id: a, type: string, default: y}]", "duplicated"},
		{"bad default", "namespace: n\nparameters: [{id: a, type: odd, default: 2}]", "default"},
		{"min over max", "namespace: n\nparameters: [{id: a, type: int, min: 5, max: 1, default: 3}]", "min exceeds max"},
		{"unknown default export", "namespace: n\nparameters: [{id: a, type: string, default: x}]\ndefault_exports: [zip]", "zip"},
		{"unknown accept_reject", "namespace: n\nparameters: [{id: a, type: string, default: x}]\naccept_reject: [b]", "unknown parameter"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shelf.yaml")
	if err := os.WriteFile(path, []byte(sample), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	doc, err := Load(path)
	if err != nil || doc.Namespace != "shelf" {
		t.Fatalf("load: %+v %v", doc, err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
