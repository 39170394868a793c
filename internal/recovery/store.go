package recovery

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	fabricconfig "github.com/kernelfabric/fabric/internal/config"
	"github.com/kernelfabric/fabric/pkg/fabricerr"
	"github.com/kernelfabric/fabric/pkg/pathutil"
)

// pointExt and badExt name the on-disk suffixes for a recovery point and
// a quarantined (corrupted) one.
const (
	pointExt = ".json"
	badExt   = ".bad"
)

// RecoveryStore persists and retrieves the raw bytes of a recovery point
// record, keyed by point id. Implementations serialize writes per id and
// must make Write atomic — a reader must never observe a partial record.
type RecoveryStore interface {
	Write(ctx context.Context, id string, data []byte) error
	Read(ctx context.Context, id string) ([]byte, error)
	Remove(ctx context.Context, id string) error
	Quarantine(ctx context.Context, id string) error
	List(ctx context.Context) ([]string, error)
}

// localStore is the filesystem RecoveryStore, grounded on the teacher's
// PersistentCache.saveIndex/loadIndex atomic write-tmp-then-rename pattern
// and its within-directory path validation.
type localStore struct {
	dir string
	mu  sync.Mutex
}

// newLocalStore creates a localStore rooted at dir, creating it if absent.
func newLocalStore(dir string) (*localStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fabricerr.New(fabricerr.IoFailure, "failed to create recovery directory").
			WithComponent("recovery.store").WithCause(err)
	}
	return &localStore{dir: dir}, nil
}

func (s *localStore) pathFor(id, ext string) (string, error) {
	if err := pathutil.Validate(id+ext, false); err != nil {
		return "", fabricerr.New(fabricerr.ConfigInvalid, "invalid recovery point id").
			WithComponent("recovery.store").WithCause(err)
	}
	return pathutil.SecureJoin(s.dir, id+ext)
}

// Write atomically writes data under {dir}/{id}.json — file-system
// operations are serialized per id via s.mu, and directory creation is
// idempotent, matching the concurrency model's requirement for the
// recovery store.
func (s *localStore) Write(ctx context.Context, id string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	finalPath, err := s.pathFor(id, pointExt)
	if err != nil {
		return err
	}
	tmpPath := finalPath + ".tmp"

	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fabricerr.New(fabricerr.IoFailure, "failed to write recovery point").
			WithComponent("recovery.store").WithContext("id", id).WithCause(err)
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return fabricerr.New(fabricerr.IoFailure, "failed to commit recovery point").
			WithComponent("recovery.store").WithContext("id", id).WithCause(err)
	}
	return nil
}

// Read returns the raw bytes of the recovery point record.
func (s *localStore) Read(ctx context.Context, id string) ([]byte, error) {
	path, err := s.pathFor(id, pointExt)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fabricerr.Newf(fabricerr.NotFound, "recovery point %s not found", id).
				WithComponent("recovery.store")
		}
		return nil, fabricerr.New(fabricerr.IoFailure, "failed to read recovery point").
			WithComponent("recovery.store").WithContext("id", id).WithCause(err)
	}
	return data, nil
}

// Remove deletes a recovery point's record, ignoring a missing file.
func (s *localStore) Remove(ctx context.Context, id string) error {
	path, err := s.pathFor(id, pointExt)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fabricerr.New(fabricerr.IoFailure, "failed to remove recovery point").
			WithComponent("recovery.store").WithContext("id", id).WithCause(err)
	}
	return nil
}

// Quarantine renames a corrupted record to {id}.json.bad so it never
// interferes with future List/Read calls, without destroying the evidence.
func (s *localStore) Quarantine(ctx context.Context, id string) error {
	src, err := s.pathFor(id, pointExt)
	if err != nil {
		return err
	}
	dst := src + badExt

	if err := os.Rename(src, dst); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fabricerr.New(fabricerr.IoFailure, "failed to quarantine recovery point").
			WithComponent("recovery.store").WithContext("id", id).WithCause(err)
	}
	return nil
}

// List returns every non-quarantined point id currently stored, sorted
// by filename. Ids are random hex, so this order says nothing about age.
func (s *localStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fabricerr.New(fabricerr.IoFailure, "failed to list recovery points").
			WithComponent("recovery.store").WithCause(err)
	}

	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, pointExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, pointExt))
	}
	sort.Strings(ids)
	return ids, nil
}

var _ RecoveryStore = (*localStore)(nil)

func newStoreForPath(rc fabricconfig.RecoveryConfig) (RecoveryStore, error) {
	if strings.HasPrefix(rc.StoragePath, "s3://") {
		return newS3StoreFromURI(context.Background(), rc.StoragePath, rc)
	}
	if abs, err := filepath.Abs(rc.StoragePath); err == nil {
		return newLocalStore(abs)
	}
	return newLocalStore(rc.StoragePath)
}
