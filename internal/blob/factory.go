package blob

import (
	"context"
	"fmt"

	"paramflow/internal/config"
	s3store "paramflow/internal/infra/blob/s3"
)

// Open selects a Store implementation from configuration.
func Open(ctx context.Context, cfg config.Blob) (Store, error) {
	switch Driver(cfg.Driver) {
	case DriverFilesystem, "":
		return NewFilesystem(cfg.FSRoot, cfg.BaseURL)
	case DriverS3:
		st, err := s3store.New(ctx, s3store.Config{
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			Endpoint:  cfg.S3Endpoint,
			PathStyle: cfg.S3PathStyle,
		})
		if err != nil {
			return nil, err
		}
		return st, nil
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", cfg.Driver)
	}
}

// NewS3Mock returns an S3 Store served by an in-process fake endpoint.
func NewS3Mock() Store { return s3store.NewMockForTests() }
