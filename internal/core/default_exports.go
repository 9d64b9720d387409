package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"paramflow/internal/blob"
	"paramflow/pkg/domain"
)

const artifactPrefix = "artifacts/"

// ArtifactCache stores export responses in a blob store under
// artifacts/<namespace>/<exportID>.
type ArtifactCache struct {
	store blob.Store
}

// NewArtifactCache wraps store; a nil store falls back to process memory.
func NewArtifactCache(store blob.Store) *ArtifactCache {
	if store == nil {
		store = blob.NewMemory()
	}
	return &ArtifactCache{store: store}
}

func artifactKey(namespace, exportID string) string {
	return artifactPrefix + namespace + "/" + exportID
}

// Put replaces the cached artifact.
func (c *ArtifactCache) Put(ctx context.Context, namespace string, artifact domain.Artifact) error {
	_, err := c.store.Put(ctx, artifactKey(namespace, artifact.ExportID), bytes.NewReader(artifact.Content), blob.PutOptions{
		ContentType: artifact.ContentType,
		Metadata: map[string]string{
			"export":   artifact.ExportID,
			"filename": artifact.Filename,
			"version":  artifact.Version,
		},
	})
	if err != nil {
		return fmt.Errorf("cache artifact %s/%s: %w", namespace, artifact.ExportID, err)
	}
	return nil
}

// Get returns the cached artifact; ok is false when nothing is cached.
func (c *ArtifactCache) Get(ctx context.Context, namespace, exportID string) (domain.Artifact, bool, error) {
	info, rc, err := c.store.Get(ctx, artifactKey(namespace, exportID))
	if errors.Is(err, blob.ErrNotFound) {
		return domain.Artifact{}, false, nil
	}
	if err != nil {
		return domain.Artifact{}, false, err
	}
	defer func() { _ = rc.Close() }()
	content, err := io.ReadAll(rc)
	if err != nil {
		return domain.Artifact{}, false, err
	}
	return domain.Artifact{
		ExportID:    exportID,
		Filename:    info.Metadata["filename"],
		ContentType: info.ContentType,
		Version:     info.Metadata["version"],
		Content:     content,
	}, true, nil
}

// URL returns a download link for the cached artifact when the store has one.
func (c *ArtifactCache) URL(ctx context.Context, namespace, exportID string, expiry time.Duration) (string, error) {
	return c.store.URL(ctx, artifactKey(namespace, exportID), expiry)
}

// Prune drops the cached artifact.
func (c *ArtifactCache) Prune(ctx context.Context, namespace, exportID string) error {
	_, err := c.store.Delete(ctx, artifactKey(namespace, exportID))
	return err
}

// List returns the export ids cached for namespace.
func (c *ArtifactCache) List(ctx context.Context, namespace string) ([]string, error) {
	prefix := artifactKey(namespace, "")
	infos, err := c.store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(infos))
	for _, info := range infos {
		ids = append(ids, info.Key[len(prefix):])
	}
	return ids, nil
}

// DefaultExportRegistry tracks, per namespace, the exports to compute on
// every commit and caches their latest responses.
type DefaultExportRegistry struct {
	mu     sync.RWMutex
	ids    map[string][]string
	cache  *ArtifactCache
	logger Logger
}

// NewDefaultExportRegistry constructs a registry caching into cache.
func NewDefaultExportRegistry(cache *ArtifactCache, logger Logger) *DefaultExportRegistry {
	if cache == nil {
		cache = NewArtifactCache(nil)
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &DefaultExportRegistry{ids: make(map[string][]string), cache: cache, logger: logger}
}

// Register adds export ids for namespace, ignoring duplicates.
func (r *DefaultExportRegistry) Register(namespace string, exportIDs ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	current := r.ids[namespace]
	for _, id := range exportIDs {
		if id == "" || slices.Contains(current, id) {
			continue
		}
		current = append(current, id)
	}
	slices.Sort(current)
	r.ids[namespace] = current
}

// Deregister removes export ids and prunes their cached responses.
func (r *DefaultExportRegistry) Deregister(ctx context.Context, namespace string, exportIDs ...string) error {
	r.mu.Lock()
	current := slices.DeleteFunc(r.ids[namespace], func(id string) bool {
		return slices.Contains(exportIDs, id)
	})
	if len(current) == 0 {
		delete(r.ids, namespace)
	} else {
		r.ids[namespace] = current
	}
	r.mu.Unlock()

	var errs []error
	for _, id := range exportIDs {
		if err := r.cache.Prune(ctx, namespace, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// IDs returns the namespace's registered export ids in sorted order.
func (r *DefaultExportRegistry) IDs(namespace string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.ids[namespace])
}

// Store caches responses for registered ids; unregistered ids are skipped.
func (r *DefaultExportRegistry) Store(ctx context.Context, namespace string, artifacts map[string]domain.Artifact) error {
	registered := r.IDs(namespace)
	var errs []error
	for id, artifact := range artifacts {
		if !slices.Contains(registered, id) {
			r.logger.Debug("skipping unregistered export response", "namespace", namespace, "export", id)
			continue
		}
		if artifact.ExportID == "" {
			artifact.ExportID = id
		}
		if err := r.cache.Put(ctx, namespace, artifact); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Response returns the latest cached response for a default export.
func (r *DefaultExportRegistry) Response(ctx context.Context, namespace, exportID string) (domain.Artifact, bool, error) {
	return r.cache.Get(ctx, namespace, exportID)
}

// Cache exposes the underlying artifact cache.
func (r *DefaultExportRegistry) Cache() *ArtifactCache { return r.cache }
