package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"paramflow/pkg/domain"
)

// Executor commits a namespace's amended values.
type Executor interface {
	Execute(ctx context.Context, values domain.Values) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, values domain.Values) error

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, values domain.Values) error { return f(ctx, values) }

// SessionExecutor commits values to a live backend session.
type SessionExecutor struct {
	namespace string
	session   domain.Session
	params    map[string]domain.Parameter
	defaults  *DefaultExportRegistry
}

// NewSessionExecutor binds an executor to session. defaults may be nil.
func NewSessionExecutor(namespace string, session domain.Session, defaults *DefaultExportRegistry) *SessionExecutor {
	params := make(map[string]domain.Parameter)
	for _, p := range session.Parameters() {
		params[p.Definition().ID] = p
	}
	return &SessionExecutor{namespace: namespace, session: session, params: params, defaults: defaults}
}

type touchedParameter struct {
	param domain.Parameter
	old   any
}

// Execute stages every value on its session parameter, then commits them in
// one round trip, computing the namespace's default exports alongside. Any
// failure restores the touched parameters to their previous values.
func (e *SessionExecutor) Execute(ctx context.Context, values domain.Values) (err error) {
	var touched []touchedParameter
	defer func() {
		if err == nil {
			return
		}
		for i := len(touched) - 1; i >= 0; i-- {
			if rbErr := touched[i].param.Set(touched[i].old); rbErr != nil {
				err = errors.Join(err, fmt.Errorf("roll back %s: %w", touched[i].param.Definition().ID, rbErr))
			}
		}
		err = &domain.CommitError{Namespace: e.namespace, Err: err}
	}()

	for _, id := range values.Keys() {
		p, ok := e.params[id]
		if !ok {
			return fmt.Errorf("parameter %s is not part of session %s", id, e.session.ID())
		}
		old := p.Value()
		if err := p.Set(values[id]); err != nil {
			return fmt.Errorf("set %s: %w", id, err)
		}
		touched = append(touched, touchedParameter{param: p, old: old})
	}

	var exportIDs []string
	if e.defaults != nil {
		exportIDs = e.defaults.IDs(e.namespace)
	}
	if len(exportIDs) == 0 {
		return e.session.Customize(ctx)
	}
	artifacts, err := e.session.BulkRequest(ctx, exportIDs, nil)
	if err != nil {
		return err
	}
	if storeErr := e.defaults.Store(ctx, e.namespace, artifacts); storeErr != nil {
		e.defaults.logger.Warn("caching default exports failed", "namespace", e.namespace, "error", storeErr)
	}
	return nil
}

// BridgeExecutor forwards a generic namespace's values into a single
// parameter owned by another namespace.
type BridgeExecutor struct {
	directory   *Directory
	namespace   string
	parameterID string
	encode      func(domain.Values) (any, error)
}

// NewBridgeExecutor builds a bridge into namespace/parameterID. A nil
// encoder serializes the values as a JSON object string.
func NewBridgeExecutor(dir *Directory, namespace, parameterID string, encode func(domain.Values) (any, error)) *BridgeExecutor {
	if encode == nil {
		encode = func(values domain.Values) (any, error) {
			raw, err := json.Marshal(values)
			return string(raw), err
		}
	}
	return &BridgeExecutor{directory: dir, namespace: namespace, parameterID: parameterID, encode: encode}
}

// Execute encodes values and commits them to the target parameter without
// recording history; the surrounding commit records the combined snapshot.
func (b *BridgeExecutor) Execute(ctx context.Context, values domain.Values) error {
	cell, err := b.directory.FindParameter(b.namespace, b.parameterID)
	if err != nil {
		return err
	}
	payload, err := b.encode(values)
	if err != nil {
		return fmt.Errorf("encode bridge payload: %w", err)
	}
	if !cell.IsValid(payload) {
		return domain.ValidationError{ParameterID: b.parameterID, Value: payload}
	}
	cell.stageNow(payload)
	_, err = cell.Execute(ctx, true, true)
	return err
}
