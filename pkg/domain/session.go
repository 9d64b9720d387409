package domain

import "context"

// Parameter is a remote parameter exposed by a live session.
type Parameter interface {
	Definition() ParameterDefinition
	Validate(value any) bool
	Stringify(value any) string
	// Value returns the value currently staged on the session.
	Value() any
	// Set stages a value; it reaches the backend on the next Customize or
	// BulkRequest.
	Set(value any) error
}

// Export is a remote export exposed by a live session.
type Export interface {
	Definition() ExportDefinition
	Request(ctx context.Context, overrides Values) (Artifact, error)
}

// Session is a live backend connection owning parameters and exports.
type Session interface {
	ID() string
	Parameters() []Parameter
	Exports() []Export
	// Customize commits the staged parameter values.
	Customize(ctx context.Context) error
	// BulkRequest commits the staged values and computes the given exports
	// in the same round trip.
	BulkRequest(ctx context.Context, exportIDs, outputIDs []string) (map[string]Artifact, error)
}

// Artifact is the computed result of an export request.
type Artifact struct {
	ExportID    string `json:"export_id"`
	Filename    string `json:"filename,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Version     string `json:"version,omitempty"`
	Content     []byte `json:"content,omitempty"`
}

type authTokenKey struct{}

// WithAuthToken attaches an opaque bearer token to ctx.
func WithAuthToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, authTokenKey{}, token)
}

// AuthTokenFrom extracts the token attached by WithAuthToken.
func AuthTokenFrom(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(authTokenKey{}).(string)
	return token, ok && token != ""
}
