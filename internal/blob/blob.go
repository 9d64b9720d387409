// Package blob is the only entry point to the blob drivers. Callers depend on
// the Store interface re-exported here and obtain implementations through
// Open or the New* constructors.
package blob

import (
	"paramflow/internal/blob/core"
	fsstore "paramflow/internal/infra/blob/fs"
	memorystore "paramflow/internal/infra/blob/memory"
)

type (
	// Driver identifies a blob backend driver.
	Driver = core.Driver
	// PutOptions configures a blob write.
	PutOptions = core.PutOptions
	// Info describes stored blob metadata.
	Info = core.Info
	// Store is the interface for blob storage backends.
	Store = core.Store
)

const (
	// DriverFilesystem is the local filesystem driver.
	DriverFilesystem = core.DriverFilesystem
	// DriverS3 is the S3-compatible driver.
	DriverS3 = core.DriverS3
	// DriverMemory is the in-memory driver.
	DriverMemory = core.DriverMemory
)

var (
	// ErrNotFound indicates a missing key.
	ErrNotFound = core.ErrNotFound
	// ErrUnsupported indicates an operation isn't supported by a driver.
	ErrUnsupported = core.ErrUnsupported
)

// NewMemory returns an in-memory Store.
func NewMemory() Store { return memorystore.New() }

// NewFilesystem returns a Store rooted at root.
func NewFilesystem(root, baseURL string) (Store, error) {
	st, err := fsstore.New(root, baseURL)
	if err != nil {
		return nil, err
	}
	return st, nil
}
