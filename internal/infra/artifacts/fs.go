// Package artifacts persists stage reports as immutable blobs keyed by
// (run, stage). The filesystem backend is the default; minio serves
// deployments with shared object storage.
package artifacts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ritwikmohanty/aegis-audit-sub001/internal/domain"
)

type FSStore struct {
	root string
}

func NewFSStore(root string) (*FSStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("artifact root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) Put(ctx context.Context, runID, stage string, body []byte) (domain.ArtifactRef, error) {
	if err := validateKey(runID, stage); err != nil {
		return domain.ArtifactRef{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.ArtifactRef{}, fmt.Errorf("artifact write: %w", err)
	}

	dir := filepath.Join(s.root, runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.ArtifactRef{}, fmt.Errorf("create run dir: %w", err)
	}
	final := filepath.Join(dir, stage+".json")

	tmp, err := os.CreateTemp(dir, stage+".*.tmp")
	if err != nil {
		return domain.ArtifactRef{}, fmt.Errorf("create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(body); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return domain.ArtifactRef{}, fmt.Errorf("write artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return domain.ArtifactRef{}, fmt.Errorf("close artifact: %w", err)
	}
	if err := os.Rename(tmpName, final); err != nil {
		os.Remove(tmpName)
		return domain.ArtifactRef{}, fmt.Errorf("publish artifact: %w", err)
	}

	return domain.ArtifactRef{
		RunID:     runID,
		Stage:     stage,
		Location:  final,
		SHA256:    hashHex(body),
		SizeBytes: int64(len(body)),
	}, nil
}

func (s *FSStore) Get(ctx context.Context, runID, stage string) ([]byte, error) {
	if err := validateKey(runID, stage); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("artifact read: %w", err)
	}
	body, err := os.ReadFile(filepath.Join(s.root, runID, stage+".json"))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("artifact %s/%s: %w", runID, stage, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	return body, nil
}

func validateKey(runID, stage string) error {
	for _, part := range []string{runID, stage} {
		if strings.TrimSpace(part) == "" {
			return fmt.Errorf("%w: empty artifact key part", domain.ErrInvalidInput)
		}
		if strings.ContainsAny(part, `/\`) || strings.Contains(part, "..") {
			return fmt.Errorf("%w: artifact key part %q", domain.ErrInvalidInput, part)
		}
	}
	return nil
}

func hashHex(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}
