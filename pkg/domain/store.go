package domain

import "context"

// ValueStore persists the committed parameter values of backend sessions,
// keyed by session id.
type ValueStore interface {
	Load(ctx context.Context, sessionID string) (Values, bool, error)
	Save(ctx context.Context, sessionID string, values Values) error
	Delete(ctx context.Context, sessionID string) (bool, error)
	Close() error
}
