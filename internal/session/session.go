// Package session implements a backend session whose committed parameter
// values live in a domain.ValueStore and whose exports are rendered locally.
package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"paramflow/pkg/domain"
)

// Renderer computes an export from committed values.
type Renderer func(ctx context.Context, def domain.ExportDefinition, values domain.Values) (domain.Artifact, error)

// JSONRenderer renders the values as a JSON document.
func JSONRenderer(_ context.Context, def domain.ExportDefinition, values domain.Values) (domain.Artifact, error) {
	raw, err := json.Marshal(values)
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("render %s: %w", def.ID, err)
	}
	sum := sha256.Sum256(raw)
	return domain.Artifact{
		ExportID:    def.ID,
		Filename:    def.ID + ".json",
		ContentType: "application/json",
		Version:     hex.EncodeToString(sum[:6]),
		Content:     raw,
	}, nil
}

// Option configures a Session.
type Option func(*Session)

// WithExport adds an export rendered by render (JSONRenderer when nil).
func WithExport(def domain.ExportDefinition, render Renderer) Option {
	return func(s *Session) {
		if render == nil {
			render = JSONRenderer
		}
		s.exports = append(s.exports, &export{session: s, def: def, render: render})
	}
}

// WithRequiredToken makes export requests require token.
func WithRequiredToken(token string) Option {
	return func(s *Session) { s.token = token }
}

// Session is a store-backed domain.Session.
type Session struct {
	id    string
	store domain.ValueStore
	token string

	params  []*parameter
	byID    map[string]*parameter
	exports []*export

	mu        sync.Mutex
	committed domain.Values
}

var _ domain.Session = (*Session)(nil)

// New builds a session over defs, starting from the values persisted for id
// in store and falling back to definition defaults.
func New(ctx context.Context, id string, defs []domain.ParameterDefinition, store domain.ValueStore, opts ...Option) (*Session, error) {
	if id == "" {
		return nil, errors.New("session id must be set")
	}
	if store == nil {
		return nil, errors.New("session store must be set")
	}
	persisted, _, err := store.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	s := &Session{id: id, store: store, byID: make(map[string]*parameter, len(defs)), committed: make(domain.Values, len(defs))}
	for _, def := range defs {
		if _, dup := s.byID[def.ID]; dup {
			return nil, fmt.Errorf("session %s: duplicate parameter %s", id, def.ID)
		}
		value := def.DefaultValue
		if v, ok := persisted[def.ID]; ok && domain.ValidateValue(def, v) {
			value = v
		}
		p := &parameter{def: def, value: value}
		s.params = append(s.params, p)
		s.byID[def.ID] = p
		s.committed[def.ID] = value
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ID implements domain.Session.
func (s *Session) ID() string { return s.id }

// Parameters implements domain.Session.
func (s *Session) Parameters() []domain.Parameter {
	out := make([]domain.Parameter, len(s.params))
	for i, p := range s.params {
		out[i] = p
	}
	return out
}

// Exports implements domain.Session.
func (s *Session) Exports() []domain.Export {
	out := make([]domain.Export, len(s.exports))
	for i, e := range s.exports {
		out[i] = e
	}
	return out
}

// Committed returns the values last saved by Customize.
func (s *Session) Committed() domain.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.committed.Clone()
}

// Customize persists the staged parameter values.
func (s *Session) Customize(ctx context.Context) error {
	return s.persist(ctx, s.staged())
}

// BulkRequest renders the given exports from the staged values and persists
// those values only once every export rendered. outputIDs is accepted for
// interface parity and ignored.
func (s *Session) BulkRequest(ctx context.Context, exportIDs, _ []string) (map[string]domain.Artifact, error) {
	targets := make([]*export, 0, len(exportIDs))
	for _, id := range exportIDs {
		e := s.export(id)
		if e == nil {
			return nil, fmt.Errorf("session %s: unknown export %s", s.id, id)
		}
		targets = append(targets, e)
	}
	values := s.staged()
	out := make(map[string]domain.Artifact, len(targets))
	for _, e := range targets {
		artifact, err := e.render(ctx, e.def, values.Clone())
		if err != nil {
			return nil, fmt.Errorf("render %s: %w", e.def.ID, err)
		}
		out[e.def.ID] = artifact
	}
	if err := s.persist(ctx, values); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Session) staged() domain.Values {
	values := make(domain.Values, len(s.params))
	for _, p := range s.params {
		values[p.def.ID] = p.Value()
	}
	return values
}

func (s *Session) persist(ctx context.Context, values domain.Values) error {
	if err := s.store.Save(ctx, s.id, values); err != nil {
		return fmt.Errorf("save session %s: %w", s.id, err)
	}
	s.mu.Lock()
	s.committed = values.Clone()
	s.mu.Unlock()
	return nil
}

func (s *Session) export(id string) *export {
	for _, e := range s.exports {
		if e.def.ID == id {
			return e
		}
	}
	return nil
}

type parameter struct {
	def domain.ParameterDefinition

	mu    sync.Mutex
	value any
}

func (p *parameter) Definition() domain.ParameterDefinition { return p.def }
func (p *parameter) Validate(v any) bool                     { return domain.ValidateValue(p.def, v) }
func (p *parameter) Stringify(v any) string                  { return domain.StringifyValue(p.def, v) }

func (p *parameter) Value() any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.value
}

func (p *parameter) Set(v any) error {
	if !p.Validate(v) {
		return domain.ValidationError{ParameterID: p.def.ID, Value: v}
	}
	p.mu.Lock()
	p.value = v
	p.mu.Unlock()
	return nil
}

type export struct {
	session *Session
	def     domain.ExportDefinition
	render  Renderer
}

func (e *export) Definition() domain.ExportDefinition { return e.def }

// Request renders the export from the committed values with overrides
// applied on top. Overrides are validated but never persisted.
func (e *export) Request(ctx context.Context, overrides domain.Values) (domain.Artifact, error) {
	if e.session.token != "" {
		if token, _ := domain.AuthTokenFrom(ctx); token != e.session.token {
			return domain.Artifact{}, fmt.Errorf("request %s: %w", e.def.ID, domain.ErrUnauthorized)
		}
	}
	values := e.session.Committed()
	for id, v := range overrides {
		p, ok := e.session.byID[id]
		if !ok {
			return domain.Artifact{}, fmt.Errorf("request %s: unknown parameter %s", e.def.ID, id)
		}
		if !p.Validate(v) {
			return domain.Artifact{}, domain.ValidationError{ParameterID: id, Value: v}
		}
		values[id] = v
	}
	return e.render(ctx, e.def, values)
}
