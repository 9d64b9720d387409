// Package definitions loads parameter and export declarations from YAML.
package definitions

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"paramflow/pkg/domain"
)

const (
	ModeImmediate    = "immediate"
	ModeAcceptReject = "accept_reject"
)

// Document declares one namespace.
type Document struct {
	Namespace      string                       `yaml:"namespace"`
	Mode           string                       `yaml:"mode,omitempty"`
	AcceptReject   []string                     `yaml:"accept_reject,omitempty"`
	Parameters     []domain.ParameterDefinition `yaml:"parameters"`
	Exports        []domain.ExportDefinition    `yaml:"exports,omitempty"`
	DefaultExports []string                     `yaml:"default_exports,omitempty"`
}

// Load reads and validates the document at path.
func Load(path string) (Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("read definitions: %w", err)
	}
	doc, err := Parse(raw)
	if err != nil {
		return Document{}, fmt.Errorf("%s: %w", path, err)
	}
	return doc, nil
}

// Parse decodes and validates a document. Unknown keys are errors.
func Parse(input []byte) (Document, error) {
	dec := yaml.NewDecoder(bytes.NewReader(input))
	dec.KnownFields(true)
	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return Document{}, fmt.Errorf("decode definitions: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return Document{}, err
	}
	return doc, nil
}

// Validate checks ids, types, defaults and export references.
func (d Document) Validate() error {
	if strings.TrimSpace(d.Namespace) == "" {
		return errors.New("namespace must be set")
	}
	switch d.Mode {
	case "", ModeImmediate, ModeAcceptReject:
	default:
		return fmt.Errorf("mode %q unsupported", d.Mode)
	}
	if len(d.Parameters) == 0 {
		return errors.New("parameters must be non-empty")
	}
	var errs []error
	seen := make(map[string]struct{}, len(d.Parameters))
	for i, p := range d.Parameters {
		id := strings.TrimSpace(p.ID)
		if id == "" {
			errs = append(errs, fmt.Errorf("parameters[%d].id must be set", i))
			continue
		}
		if _, dup := seen[id]; dup {
			errs = append(errs, fmt.Errorf("parameters[%d].id %q duplicated", i, id))
		}
		seen[id] = struct{}{}
		if p.Min != nil && p.Max != nil && *p.Min > *p.Max {
			errs = append(errs, fmt.Errorf("parameter %s: min exceeds max", id))
		}
		if !domain.ValidateValue(p, p.DefaultValue) {
			errs = append(errs, fmt.Errorf("parameter %s: default %v is not a valid %s", id, p.DefaultValue, p.Type))
		}
	}
	for _, id := range d.AcceptReject {
		if _, ok := seen[id]; !ok {
			errs = append(errs, fmt.Errorf("accept_reject names unknown parameter %q", id))
		}
	}
	exports := make([]string, 0, len(d.Exports))
	for i, e := range d.Exports {
		if strings.TrimSpace(e.ID) == "" {
			errs = append(errs, fmt.Errorf("exports[%d].id must be set", i))
			continue
		}
		if slices.Contains(exports, e.ID) {
			errs = append(errs, fmt.Errorf("exports[%d].id %q duplicated", i, e.ID))
		}
		exports = append(exports, e.ID)
	}
	for _, id := range d.DefaultExports {
		if !slices.Contains(exports, id) {
			errs = append(errs, fmt.Errorf("default_exports names unknown export %q", id))
		}
	}
	return errors.Join(errs...)
}

// AcceptRejectSelector reports, per parameter, whether it waits for an
// explicit accept: every parameter in accept_reject mode, otherwise only
// those listed under accept_reject.
func (d Document) AcceptRejectSelector() func(domain.ParameterDefinition) bool {
	all := d.Mode == ModeAcceptReject
	listed := slices.Clone(d.AcceptReject)
	return func(def domain.ParameterDefinition) bool {
		return all || slices.Contains(listed, def.ID)
	}
}
